// Package flood throttles requests per client and route over a sliding one-minute window.
package flood

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	window      = time.Minute
	forgetEvery = 10 * time.Minute
	// forgetAfter is how long a client may stay silent before its history is dropped.
	forgetAfter = 10 * time.Minute
)

// key identifies one client on one route.
type key struct {
	route  string
	client string
}

// history holds the admitted request times of one key, oldest first.
type history struct {
	admitted []time.Time
	lastSeen time.Time
}

// prune drops admissions that left the window ending at now.
func (h *history) prune(now time.Time) {
	start := now.Add(-window)
	n := 0
	for n < len(h.admitted) && !h.admitted[n].After(start) {
		n++
	}
	if n > 0 {
		h.admitted = append(h.admitted[:0], h.admitted[n:]...)
	}
}

// inWindow counts admissions still inside the window ending at now.
func (h *history) inWindow(now time.Time) int {
	start := now.Add(-window)
	count := 0
	for _, ts := range h.admitted {
		if ts.After(start) {
			count++
		}
	}
	return count
}

// Floodgate admits at most a fixed number of requests per client and route per minute.
type Floodgate struct {
	limit    int
	now      func() time.Time
	rejected atomic.Uint64

	mu      sync.Mutex
	clients map[key]*history

	done     chan struct{}
	stopOnce sync.Once
}

// Stats is a point-in-time view of the gate.
type Stats struct {
	// TrackedClients counts client and route pairs with a live history.
	TrackedClients int `json:"tracked_clients"`
	// LimitedClients counts pairs that are at their limit right now.
	LimitedClients int    `json:"limited_clients"`
	Rejected       uint64 `json:"rejected"`
	LimitPerMinute int    `json:"limit_per_minute"`
}

// New creates a gate admitting limitPerMinute requests per client and route. A limit of
// zero or less disables throttling.
func New(limitPerMinute int) *Floodgate {
	if limitPerMinute < 0 {
		limitPerMinute = 0
	}
	g := &Floodgate{
		limit:   limitPerMinute,
		now:     time.Now,
		clients: make(map[key]*history),
		done:    make(chan struct{}),
	}
	go g.run()
	return g
}

// Stop ends the background pruning. It is safe to call more than once.
func (g *Floodgate) Stop() {
	g.stopOnce.Do(func() {
		close(g.done)
	})
}

// Enabled reports whether the gate throttles at all.
func (g *Floodgate) Enabled() bool {
	return g.limit > 0
}

// Allow records a request from client on route and reports whether it may proceed.
func (g *Floodgate) Allow(route, client string) bool {
	if !g.Enabled() {
		return true
	}

	now := g.now()
	k := key{route: route, client: client}

	g.mu.Lock()
	defer g.mu.Unlock()

	h, ok := g.clients[k]
	if !ok {
		h = &history{admitted: make([]time.Time, 0, g.limit)}
		g.clients[k] = h
	}
	h.lastSeen = now
	h.prune(now)

	if len(h.admitted) >= g.limit {
		g.rejected.Add(1)
		return false
	}
	h.admitted = append(h.admitted, now)
	return true
}

// RetryAfter returns how long client has to wait until route admits another request.
func (g *Floodgate) RetryAfter(route, client string) time.Duration {
	if !g.Enabled() {
		return 0
	}

	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	h, ok := g.clients[key{route: route, client: client}]
	if !ok {
		return 0
	}
	h.prune(now)
	if len(h.admitted) < g.limit {
		return 0
	}
	return h.admitted[0].Add(window).Sub(now)
}

// Snapshot returns the current counters of the gate.
func (g *Floodgate) Snapshot() Stats {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	stats := Stats{
		TrackedClients: len(g.clients),
		Rejected:       g.rejected.Load(),
		LimitPerMinute: g.limit,
	}
	if g.Enabled() {
		for _, h := range g.clients {
			if h.inWindow(now) >= g.limit {
				stats.LimitedClients++
			}
		}
	}
	return stats
}

func (g *Floodgate) run() {
	ticker := time.NewTicker(forgetEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			g.forgetIdle()
		case <-g.done:
			return
		}
	}
}

// forgetIdle drops the histories of clients silent for longer than forgetAfter.
func (g *Floodgate) forgetIdle() int {
	cutoff := g.now().Add(-forgetAfter)

	g.mu.Lock()
	defer g.mu.Unlock()

	dropped := 0
	for k, h := range g.clients {
		if h.lastSeen.Before(cutoff) {
			delete(g.clients, k)
			dropped++
		}
	}
	return dropped
}
