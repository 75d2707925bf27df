package core

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"zenify/internal/credentials"
	"zenify/internal/store"
	"zenify/pkg/streamlink"
)

// credentialsDirName is where the normalized cookie bundle is written inside the cache directory.
const credentialsDirName = ".credentials"

// Resolver owns the artifact cache, the credential bundle and the resolution chain built
// from configuration.
type Resolver struct {
	cfg         ResolverConfig
	cache       *store.ArtifactCache
	credentials streamlink.CredentialBundle
	chain       *streamlink.Chain
	observer    streamlink.Observer
	logger      *zap.Logger
}

// NewResolver opens the artifact cache, loads the credential bundle and builds the chain.
func NewResolver(ctx context.Context, cfg *Config, observer streamlink.Observer, logger *zap.Logger) (*Resolver, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cache, err := store.Open(ctx, store.Options{
		Dir:               cfg.Cache.Dir,
		TTL:               cfg.Cache.TTL,
		Extension:         cfg.Resolver.AudioFormat,
		HotEntries:        cfg.Cache.HotEntries,
		FilterCapacity:    cfg.Cache.FilterCapacity,
		FalsePositiveRate: cfg.Cache.FalsePositiveRate,
		Logger:            logger.Named("cache"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open artifact cache: %w", err)
	}

	r := &Resolver{
		cfg:      cfg.Resolver,
		cache:    cache,
		observer: observer,
		logger:   logger,
	}

	if cfg.Resolver.CookieFile != "" {
		bundle, err := credentials.Load(cfg.Resolver.CookieFile, filepath.Join(cache.Dir(), credentialsDirName))
		if err != nil {
			_ = cache.Close()
			return nil, fmt.Errorf("failed to load credential bundle: %w", err)
		}
		r.credentials = bundle
		logger.Info("Loaded credential bundle", zap.Int("cookies", bundle.Len()))
	}

	strategies, err := BuildStrategies(cfg.Resolver, cache, logger)
	if err != nil {
		_ = cache.Close()
		return nil, err
	}

	var opts []streamlink.ChainOption
	if observer != nil {
		opts = append(opts, streamlink.WithObserver(observer))
	}
	r.chain = streamlink.NewChain(cache, strategies, logger.Named("chain"), opts...)

	logger.Info("Resolver ready",
		zap.Strings("strategies", r.chain.Strategies()),
		zap.String("cache_dir", cache.Dir()),
		zap.Duration("cache_ttl", cache.TTL()),
		zap.Bool("credentials", r.credentials != nil))

	return r, nil
}

// BuildStrategies turns the configured strategy names into strategies, in order.
func BuildStrategies(cfg ResolverConfig, artifacts streamlink.ArtifactStore, logger *zap.Logger) ([]streamlink.Strategy, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	strategies := make([]streamlink.Strategy, 0, len(cfg.Strategies))
	for _, name := range cfg.Strategies {
		switch name {
		case StrategyCobalt:
			strategies = append(strategies, streamlink.NewPool(name,
				streamlink.NewInstanceList(cfg.CobaltInstances...),
				streamlink.CobaltPool(cfg.CobaltInsecureTLS, cfg.NetworkTimeout),
				logger.Named(name)))
		case StrategyPiped:
			strategies = append(strategies, streamlink.NewPool(name,
				streamlink.NewInstanceList(cfg.PipedInstances...),
				streamlink.PipedPool(cfg.NetworkTimeout),
				logger.Named(name)))
		case StrategyExtract:
			strategies = append(strategies, streamlink.NewExtractAdapter(cfg.ExtractTimeout))
		case StrategyDownload:
			strategies = append(strategies, streamlink.NewDownloadAdapter(streamlink.DownloadConfig{
				BinaryPath: cfg.DownloaderPath,
				FFmpegPath: cfg.FFmpegPath,
				Timeout:    cfg.DownloadTimeout,
			}, artifacts))
		default:
			return nil, fmt.Errorf("%w %q", ErrUnknownStrategy, name)
		}
	}

	return strategies, nil
}

// NewRequest builds the request for id with the configured formats, identity and credentials.
func (r *Resolver) NewRequest(id streamlink.MediaID) *streamlink.Request {
	opts := []streamlink.RequestOption{
		streamlink.WithAudioFormat(r.cfg.AudioFormat),
		streamlink.WithPreferredEncoding(r.cfg.PreferredEncoding),
	}
	if r.cfg.UserAgent != "" {
		opts = append(opts, streamlink.WithHeader("User-Agent", r.cfg.UserAgent))
	}
	if r.credentials != nil {
		opts = append(opts, streamlink.WithCredentials(r.credentials))
	}
	return streamlink.NewRequest(id, opts...)
}

// Resolve runs the chain for id.
func (r *Resolver) Resolve(ctx context.Context, id streamlink.MediaID) *streamlink.Resolution {
	return r.chain.Resolve(ctx, r.NewRequest(id))
}

// Cache returns the artifact cache.
func (r *Resolver) Cache() *store.ArtifactCache {
	return r.cache
}

// RunSweeper evicts expired artifacts every interval until ctx ends.
func (r *Resolver) RunSweeper(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			removed := r.cache.Sweep(ctx)
			if r.observer != nil {
				r.observer.ObserveSweep(removed)
			}
		}
	}
}

// Close releases the artifact cache.
func (r *Resolver) Close() error {
	return r.cache.Close()
}
