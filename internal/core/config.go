package core

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"zenify/internal/catalog"
	"zenify/internal/store"
	"zenify/pkg/streamlink"
)

// Strategy names accepted in ResolverConfig.Strategies.
const (
	StrategyCobalt   = "cobalt"
	StrategyPiped    = "piped"
	StrategyExtract  = streamlink.ExtractName
	StrategyDownload = streamlink.DownloadName
)

// Default configuration values.
const (
	DefaultServerHost           = "0.0.0.0"
	DefaultServerPort           = 5000
	DefaultReadTimeout          = 10 * time.Second
	DefaultWriteTimeout         = 5 * time.Minute
	DefaultCacheDir             = "./downloads"
	DefaultSweepInterval        = time.Minute
	DefaultStreamLimitPerMinute = 30
	DefaultLogMaxSizeMB         = 100
	DefaultLogMaxBackups        = 3
	DefaultLogMaxAgeDays        = 28
)

var (
	// DefaultStrategies is the resolution order, cheapest first and local download last.
	DefaultStrategies = []string{StrategyCobalt, StrategyPiped, StrategyExtract, StrategyDownload}

	// DefaultCobaltInstances are community cobalt instances with publicly trusted
	// certificates. Self-signed instances need --cobalt-insecure-tls.
	DefaultCobaltInstances = []string{
		"https://api.cobalt.koyeb.app",
		"https://cobalt.ducks.party",
		"https://cobalt.synced.ly",
	}

	// DefaultPipedInstances are community Piped API instances.
	DefaultPipedInstances = []string{
		"https://pipedapi.kavin.rocks",
		"https://api-piped.mha.fi",
		"https://pipedapi.drgns.space",
	}

	audioFormatRegex = regexp.MustCompile(`^[a-z0-9]{1,8}$`)

	// ErrUnknownStrategy is returned for a strategy name that has no implementation.
	ErrUnknownStrategy = errors.New("unknown strategy")
)

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	Resolver ResolverConfig
	Cache    CacheConfig
	Catalog  CatalogConfig
	App      AppConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	// PublicURL, when set, turns relative artifact references into absolute URLs.
	PublicURL   string
	CORSOrigins []string
}

type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

type ResolverConfig struct {
	Strategies        []string
	CobaltInstances   []string
	PipedInstances    []string
	CobaltInsecureTLS bool
	NetworkTimeout    time.Duration
	ExtractTimeout    time.Duration
	DownloadTimeout   time.Duration
	DownloaderPath    string
	FFmpegPath        string
	AudioFormat       string
	PreferredEncoding string
	UserAgent         string
	CookieFile        string
}

type CacheConfig struct {
	Dir               string
	TTL               time.Duration
	SweepInterval     time.Duration
	HotEntries        int
	FilterCapacity    int
	FalsePositiveRate float64
}

type CatalogConfig struct {
	Instances []string
	Timeout   time.Duration
	Limit     int
}

type AppConfig struct {
	StreamLimitPerMinute int
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         DefaultServerHost,
			Port:         DefaultServerPort,
			ReadTimeout:  DefaultReadTimeout,
			WriteTimeout: DefaultWriteTimeout,
			CORSOrigins:  []string{"*"},
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "json",
			MaxSizeMB:  DefaultLogMaxSizeMB,
			MaxBackups: DefaultLogMaxBackups,
			MaxAgeDays: DefaultLogMaxAgeDays,
		},
		Resolver: ResolverConfig{
			Strategies:        append([]string(nil), DefaultStrategies...),
			CobaltInstances:   append([]string(nil), DefaultCobaltInstances...),
			PipedInstances:    append([]string(nil), DefaultPipedInstances...),
			NetworkTimeout:    streamlink.DefaultNetworkTimeout,
			ExtractTimeout:    streamlink.DefaultExtractTimeout,
			DownloadTimeout:   streamlink.DefaultDownloadTimeout,
			DownloaderPath:    streamlink.DefaultDownloaderPath,
			AudioFormat:       streamlink.DefaultAudioFormat,
			PreferredEncoding: streamlink.DefaultPreferredEncoding,
		},
		Cache: CacheConfig{
			Dir:               DefaultCacheDir,
			TTL:               store.DefaultTTL,
			SweepInterval:     DefaultSweepInterval,
			HotEntries:        store.DefaultHotEntries,
			FilterCapacity:    store.DefaultFilterCapacity,
			FalsePositiveRate: store.DefaultFalsePositiveRate,
		},
		Catalog: CatalogConfig{
			Instances: append([]string(nil), DefaultPipedInstances...),
			Timeout:   catalog.DefaultTimeout,
			Limit:     catalog.DefaultLimit,
		},
		App: AppConfig{
			StreamLimitPerMinute: DefaultStreamLimitPerMinute,
		},
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Server.PublicURL != "" {
		if err := validateBaseURL(c.Server.PublicURL); err != nil {
			return fmt.Errorf("invalid public url: %w", err)
		}
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}

	if err := c.Resolver.validate(); err != nil {
		return err
	}

	if c.Cache.Dir == "" {
		return errors.New("cache directory is required")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache ttl must be positive, got %s", c.Cache.TTL)
	}

	for _, endpoint := range c.Catalog.Instances {
		if err := validateBaseURL(endpoint); err != nil {
			return fmt.Errorf("invalid catalog instance %q: %w", endpoint, err)
		}
	}

	if c.App.StreamLimitPerMinute < 0 {
		return fmt.Errorf("stream limit must not be negative, got %d", c.App.StreamLimitPerMinute)
	}

	return nil
}

func (r *ResolverConfig) validate() error {
	if len(r.Strategies) == 0 {
		return errors.New("at least one strategy is required")
	}
	seen := make(map[string]bool, len(r.Strategies))
	for _, name := range r.Strategies {
		switch name {
		case StrategyCobalt, StrategyPiped, StrategyExtract, StrategyDownload:
		default:
			return fmt.Errorf("%w %q", ErrUnknownStrategy, name)
		}
		if seen[name] {
			return fmt.Errorf("strategy %q listed twice", name)
		}
		seen[name] = true
	}

	for _, endpoint := range append(append([]string(nil), r.CobaltInstances...), r.PipedInstances...) {
		if err := validateBaseURL(endpoint); err != nil {
			return fmt.Errorf("invalid instance %q: %w", endpoint, err)
		}
	}

	if !audioFormatRegex.MatchString(r.AudioFormat) {
		return fmt.Errorf("invalid audio format %q", r.AudioFormat)
	}
	if seen[StrategyDownload] && r.DownloaderPath == "" {
		return errors.New("downloader path is required for the download strategy")
	}

	return nil
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("missing host")
	}
	return nil
}
