// Package store keeps downloaded audio artifacts on disk with an age-based expiry, backed
// by a SQLite index, an LRU hot set and a Bloom filter for fast negative lookups.
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"zenify/pkg/streamlink"
)

const (
	// ReferencePrefix is the URL path under which artifacts are served.
	ReferencePrefix = "/downloads/"
	// DefaultTTL is how long an artifact stays fresh.
	DefaultTTL = 600 * time.Second
	// DefaultExtension is the artifact file extension (the requested audio format).
	DefaultExtension = "mp3"
	// DefaultHotEntries is the size of the in-memory hot set.
	DefaultHotEntries = 1024
	// DefaultFilterCapacity is the expected number of artifacts the Bloom filter is sized for.
	DefaultFilterCapacity = 10000
	// DefaultFalsePositiveRate is the Bloom filter's target false positive rate.
	DefaultFalsePositiveRate = 0.01

	indexFileName = ".index.db"
	locksDirName  = ".locks"
	partialPrefix = ".partial-"

	// orphanScanInterval bounds how often a sweep walks the directory for untracked files.
	orphanScanInterval = time.Minute
)

// Options configures an ArtifactCache.
type Options struct {
	Dir               string
	TTL               time.Duration
	Extension         string
	HotEntries        int
	FilterCapacity    int
	FalsePositiveRate float64
	Logger            *zap.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// ArtifactCache stores one audio file per MediaID and serves it until it expires.
type ArtifactCache struct {
	dir       string
	ttl       time.Duration
	ext       string
	now       func() time.Time
	logger    *zap.Logger
	index     *index
	locker    *locker
	hot       *lru.Cache[streamlink.MediaID, Entry]
	filterCap uint
	fpRate    float64

	mutex          sync.RWMutex
	filter         *bloom.BloomFilter
	lastOrphanScan time.Time
}

// Open prepares the cache directory, opens the index and drops entries whose files
// disappeared while the process was not running.
func Open(ctx context.Context, opts Options) (*ArtifactCache, error) {
	if opts.Dir == "" {
		return nil, errors.New("cache directory is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Extension == "" {
		opts.Extension = DefaultExtension
	}
	if opts.HotEntries <= 0 {
		opts.HotEntries = DefaultHotEntries
	}
	if opts.FilterCapacity <= 0 {
		opts.FilterCapacity = DefaultFilterCapacity
	}
	if opts.FalsePositiveRate <= 0 || opts.FalsePositiveRate >= 1 {
		opts.FalsePositiveRate = DefaultFalsePositiveRate
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("resolve cache directory: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	lk, err := newLocker(filepath.Join(dir, locksDirName))
	if err != nil {
		return nil, err
	}

	hot, err := lru.New[streamlink.MediaID, Entry](opts.HotEntries)
	if err != nil {
		return nil, fmt.Errorf("create hot set: %w", err)
	}

	idx, err := openIndex(ctx, filepath.Join(dir, indexFileName))
	if err != nil {
		return nil, err
	}

	c := &ArtifactCache{
		dir:       dir,
		ttl:       opts.TTL,
		ext:       strings.TrimPrefix(opts.Extension, "."),
		now:       opts.Now,
		logger:    opts.Logger,
		index:     idx,
		locker:    lk,
		hot:       hot,
		filterCap: uint(opts.FilterCapacity),
		fpRate:    opts.FalsePositiveRate,
	}

	if err := c.reconcile(ctx); err != nil {
		_ = idx.close()
		return nil, err
	}

	return c, nil
}

// Close releases the index.
func (c *ArtifactCache) Close() error {
	return c.index.close()
}

// Dir returns the absolute cache directory.
func (c *ArtifactCache) Dir() string {
	return c.dir
}

// TTL returns the artifact lifetime.
func (c *ArtifactCache) TTL() time.Duration {
	return c.ttl
}

// Lookup returns the reference of a fresh artifact for id.
func (c *ArtifactCache) Lookup(ctx context.Context, id streamlink.MediaID) (string, bool) {
	c.mutex.RLock()
	maybe := c.filter.TestString(id.String())
	c.mutex.RUnlock()
	if !maybe {
		return "", false
	}

	entry, ok := c.hot.Get(id)
	if !ok {
		var err error
		entry, ok, err = c.index.get(ctx, id)
		if err != nil {
			c.logger.Warn("Artifact index lookup failed", zap.String("id", id.String()), zap.Error(err))
			return "", false
		}
		if !ok {
			return "", false
		}
		c.hot.Add(id, entry)
	}

	if c.now().Sub(entry.CreatedAt) > c.ttl {
		return "", false
	}

	if _, err := os.Stat(entry.Path); err != nil {
		c.logger.Debug("Artifact file vanished", zap.String("id", id.String()), zap.Error(err))
		c.forget(ctx, entry)
		return "", false
	}

	return c.reference(id), true
}

// Store runs produce into a temporary file in the cache directory, then moves it into
// place as the artifact of id and records it. Concurrent stores of the same id are not
// deduplicated; the last one wins.
func (c *ArtifactCache) Store(ctx context.Context, id streamlink.MediaID, produce streamlink.ProduceFunc) (string, error) {
	tmp := filepath.Join(c.dir, partialPrefix+uuid.NewString()+"."+c.ext)
	defer func() {
		_ = os.Remove(tmp)
	}()

	if err := produce(ctx, tmp); err != nil {
		return "", err
	}

	unlock, err := c.locker.lock(ctx, id)
	if err != nil {
		return "", fmt.Errorf("lock artifact %s: %w", id, err)
	}
	defer func() {
		_ = unlock()
	}()

	final := c.path(id)
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("move artifact %s into place: %w", id, err)
	}

	entry := Entry{ID: id, Path: final, CreatedAt: c.now()}
	if err := c.index.put(ctx, entry); err != nil {
		return "", err
	}

	c.mutex.Lock()
	c.filter.AddString(id.String())
	c.mutex.Unlock()
	c.hot.Add(id, entry)

	c.logger.Info("Stored artifact", zap.String("id", id.String()), zap.String("path", final))

	return c.reference(id), nil
}

// Sweep removes every entry older than the TTL and returns how many were removed.
// Entries locked by a concurrent store are skipped and picked up by a later sweep.
func (c *ArtifactCache) Sweep(ctx context.Context) int {
	now := c.now()
	cutoff := now.Add(-c.ttl)

	expired, err := c.index.olderThan(ctx, cutoff)
	if err != nil {
		c.logger.Warn("Artifact sweep failed", zap.Error(err))
		return 0
	}

	removed := 0
	for _, entry := range expired {
		if c.evict(ctx, entry) {
			removed++
		}
	}

	if c.orphanScanDue(now) {
		c.removeOrphans(ctx, cutoff)
	}

	if removed > 0 {
		c.rebuildFilter(ctx)
		c.logger.Info("Swept expired artifacts", zap.Int("removed", removed))
	}

	return removed
}

// File maps a served file name back to its path. Only "<id>.<ext>" names of existing
// artifacts are accepted.
func (c *ArtifactCache) File(name string) (string, bool) {
	base, ext, found := strings.Cut(name, ".")
	if !found || ext != c.ext {
		return "", false
	}
	id, err := streamlink.ParseMediaID(base)
	if err != nil || id.String() != base {
		return "", false
	}

	path := c.path(id)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return path, true
}

// Entries lists the indexed artifacts.
func (c *ArtifactCache) Entries(ctx context.Context) ([]Entry, error) {
	return c.index.all(ctx)
}

func (c *ArtifactCache) evict(ctx context.Context, entry Entry) bool {
	unlock, ok := c.locker.tryLock(entry.ID)
	if !ok {
		c.logger.Debug("Skipping locked artifact", zap.String("id", entry.ID.String()))
		return false
	}
	defer func() {
		_ = unlock()
	}()

	// A store may have replaced the artifact since the sweep listed it.
	current, ok, err := c.index.get(ctx, entry.ID)
	if err != nil {
		c.logger.Warn("Failed to recheck artifact entry", zap.String("id", entry.ID.String()), zap.Error(err))
		return false
	}
	if !ok || !current.CreatedAt.Equal(entry.CreatedAt) {
		c.logger.Debug("Skipping replaced artifact", zap.String("id", entry.ID.String()))
		return false
	}

	if err := os.Remove(entry.Path); err != nil && !os.IsNotExist(err) {
		c.logger.Debug("Failed to remove artifact file", zap.String("path", entry.Path), zap.Error(err))
	}

	if err := c.index.remove(ctx, entry); err != nil {
		c.logger.Warn("Failed to remove artifact entry", zap.String("id", entry.ID.String()), zap.Error(err))
		return false
	}
	c.hot.Remove(entry.ID)

	return true
}

// forget drops a stale entry whose file is gone.
func (c *ArtifactCache) forget(ctx context.Context, entry Entry) {
	c.hot.Remove(entry.ID)
	if err := c.index.remove(ctx, entry); err != nil {
		c.logger.Debug("Failed to drop stale artifact entry", zap.String("id", entry.ID.String()), zap.Error(err))
	}
}

func (c *ArtifactCache) orphanScanDue(now time.Time) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if now.Sub(c.lastOrphanScan) < orphanScanInterval {
		return false
	}
	c.lastOrphanScan = now
	return true
}

// removeOrphans deletes abandoned temporary files and artifact files without an index
// row once they are older than cutoff.
func (c *ArtifactCache) removeOrphans(ctx context.Context, cutoff time.Time) {
	entries, err := c.index.all(ctx)
	if err != nil {
		c.logger.Warn("Orphan scan failed", zap.Error(err))
		return
	}
	tracked := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		tracked[filepath.Base(entry.Path)] = struct{}{}
	}

	files, err := os.ReadDir(c.dir)
	if err != nil {
		c.logger.Warn("Orphan scan failed", zap.Error(err))
		return
	}

	for _, f := range files {
		name := f.Name()
		if f.IsDir() || strings.HasPrefix(name, indexFileName) {
			continue
		}
		if _, ok := tracked[name]; ok {
			continue
		}
		isPartial := strings.HasPrefix(name, partialPrefix)
		if !isPartial && filepath.Ext(name) != "."+c.ext {
			continue
		}

		info, err := f.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, name)); err == nil {
			c.logger.Debug("Removed orphaned file", zap.String("name", name))
		}
	}
}

// reconcile drops rows whose files vanished and seeds the filter from the index.
func (c *ArtifactCache) reconcile(ctx context.Context) error {
	entries, err := c.index.all(ctx)
	if err != nil {
		return err
	}

	dropped := 0
	for _, entry := range entries {
		if _, err := os.Stat(entry.Path); err == nil {
			continue
		}
		if err := c.index.remove(ctx, entry); err != nil {
			return err
		}
		dropped++
	}
	if dropped > 0 {
		c.logger.Info("Dropped artifact entries without files", zap.Int("count", dropped))
	}

	c.rebuildFilter(ctx)
	return nil
}

// rebuildFilter recreates the Bloom filter from the index. Bloom filters cannot forget
// ids, so this is the only way evicted ids become definite misses again. The lock is
// held across the query so that a concurrent Store cannot slip between read and swap.
func (c *ArtifactCache) rebuildFilter(ctx context.Context) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entries, err := c.index.all(ctx)
	if err != nil {
		// The previous filter is still a superset of the index.
		c.logger.Warn("Failed to rebuild artifact filter", zap.Error(err))
		if c.filter == nil {
			c.filter = bloom.NewWithEstimates(c.filterCap, c.fpRate)
		}
		return
	}

	filter := bloom.NewWithEstimates(c.filterCap, c.fpRate)
	for _, entry := range entries {
		filter.AddString(entry.ID.String())
	}
	c.filter = filter
}

func (c *ArtifactCache) path(id streamlink.MediaID) string {
	return filepath.Join(c.dir, id.String()+"."+c.ext)
}

func (c *ArtifactCache) reference(id streamlink.MediaID) string {
	return ReferencePrefix + id.String() + "." + c.ext
}

var (
	_ streamlink.ArtifactCache = (*ArtifactCache)(nil)
	_ streamlink.ArtifactStore = (*ArtifactCache)(nil)
)
