package streamlink

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// SourceCache is the Resolution source of a cache hit.
const SourceCache = "cache"

// Resolution is the outcome of one run of the chain.
type Resolution struct {
	ID       MediaID
	URL      string
	Source   string
	Cached   bool
	Failure  *Failure
	Duration time.Duration
}

// OK reports whether the resolution produced a URL.
func (r *Resolution) OK() bool {
	return r.Failure == nil
}

// Observer receives chain outcomes, typically to export metrics.
type Observer interface {
	// ObserveAttempt is called once per executed strategy. kind is empty on success.
	ObserveAttempt(strategy string, kind Kind)

	// ObserveResolution is called once per finished resolution.
	ObserveResolution(res *Resolution)

	// ObserveSweep is called with the number of entries an opportunistic sweep removed.
	ObserveSweep(removed int)
}

// ChainOption customizes a Chain.
type ChainOption func(*Chain)

// WithObserver attaches an observer to the chain.
func WithObserver(observer Observer) ChainOption {
	return func(c *Chain) {
		c.observer = observer
	}
}

// Chain walks the cache and then an ordered list of strategies until one resolves.
type Chain struct {
	cache      ArtifactCache
	strategies []Strategy
	logger     *zap.Logger
	observer   Observer
}

// NewChain creates a chain. cache may be nil, in which case every resolution goes to
// the strategies.
func NewChain(cache ArtifactCache, strategies []Strategy, logger *zap.Logger, opts ...ChainOption) *Chain {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Chain{
		cache:      cache,
		strategies: append([]Strategy(nil), strategies...),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Strategies returns the names of the configured strategies in order.
func (c *Chain) Strategies() []string {
	names := make([]string, 0, len(c.strategies))
	for _, s := range c.strategies {
		names = append(names, s.Name())
	}
	return names
}

// Resolve runs the chain for req.
func (c *Chain) Resolve(ctx context.Context, req *Request) *Resolution {
	start := time.Now()
	res := c.resolve(ctx, req)
	res.Duration = time.Since(start)

	if c.observer != nil {
		c.observer.ObserveResolution(res)
	}

	if res.OK() {
		c.logger.Info("Resolved media",
			zap.String("id", req.ID.String()),
			zap.String("source", res.Source),
			zap.Bool("cached", res.Cached),
			zap.Duration("duration", res.Duration))
	} else {
		c.logger.Warn("Resolution failed",
			zap.String("id", req.ID.String()),
			zap.Int("attempts", len(res.Failure.Attempts)),
			zap.Int("leaves", res.Failure.Leaves()),
			zap.Duration("duration", res.Duration))
	}

	return res
}

func (c *Chain) resolve(ctx context.Context, req *Request) *Resolution {
	if c.cache != nil {
		removed := c.cache.Sweep(ctx)
		if removed > 0 {
			c.logger.Debug("Swept expired artifacts", zap.Int("removed", removed))
		}
		if c.observer != nil {
			c.observer.ObserveSweep(removed)
		}

		if ref, ok := c.cache.Lookup(ctx, req.ID); ok {
			return &Resolution{ID: req.ID, URL: ref, Source: SourceCache, Cached: true}
		}
	}

	attempts := make([]*Failure, 0, len(c.strategies))
	for _, strategy := range c.strategies {
		if err := ctx.Err(); err != nil {
			c.logger.Debug("Chain stopped by caller",
				zap.String("id", req.ID.String()),
				zap.Error(err))
			break
		}

		res := c.attempt(ctx, strategy, req)
		if res.OK() {
			if c.observer != nil {
				c.observer.ObserveAttempt(strategy.Name(), "")
			}
			return &Resolution{ID: req.ID, URL: res.URL(), Source: strategy.Name()}
		}

		failure := res.Failure()
		if c.observer != nil {
			c.observer.ObserveAttempt(strategy.Name(), failure.Kind)
		}
		c.logger.Warn("Strategy failed",
			zap.String("strategy", strategy.Name()),
			zap.String("id", req.ID.String()),
			zap.String("kind", string(failure.Kind)),
			zap.String("detail", failure.Detail))
		attempts = append(attempts, failure)
	}

	return &Resolution{
		ID: req.ID,
		Failure: &Failure{
			Kind:     KindAllStrategiesExhausted,
			Detail:   fmt.Sprintf("%d of %d strategies failed", len(attempts), len(c.strategies)),
			Attempts: attempts,
		},
	}
}

// attempt runs one strategy, converting a panic into a failure.
func (c *Chain) attempt(ctx context.Context, strategy Strategy, req *Request) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Strategy panicked",
				zap.String("strategy", strategy.Name()),
				zap.Any("panic", r))
			res = Failedf(KindToolExecution, "panic: %v", r).from(strategy.Name())
		}
	}()

	// The pool stamps instance sources itself; single adapters get the strategy name.
	return strategy.Attempt(ctx, req).from(strategy.Name())
}
