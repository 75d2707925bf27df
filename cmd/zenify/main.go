// Package main provides the Zenify CLI application entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"zenify/internal/catalog"
	"zenify/internal/core"
	"zenify/internal/flood"
	httpserver "zenify/internal/http"
	"zenify/pkg/streamlink"
)

const envPrefix = "ZENIFY"

var (
	cfgFile string
	config  *core.Config
	logger  *zap.Logger

	errExhausted = errors.New("all strategies exhausted")
)

var rootCmd = &cobra.Command{
	Use:   "zenify",
	Short: "Zenify - stream resolver proxy",
	Long: `Zenify resolves music catalog ids to playable audio URLs by walking an ordered chain of
cobalt and Piped instances, local extraction and a local yt-dlp download with a TTL cache.`,
	RunE:         runServe,
	SilenceUsage: true,
}

var serveCmd = &cobra.Command{
	Use:          "serve",
	Short:        "Run the HTTP server and the cache sweeper",
	RunE:         runServe,
	SilenceUsage: true,
}

var resolveCmd = &cobra.Command{
	Use:          "resolve <id-or-link>",
	Short:        "Resolve one media id and print the outcome as JSON",
	Args:         cobra.ExactArgs(1),
	RunE:         runResolve,
	SilenceUsage: true,
}

var searchCmd = &cobra.Command{
	Use:          "search <query>",
	Short:        "Search the catalog and print the songs as JSON",
	Args:         cobra.MinimumNArgs(1),
	RunE:         runSearch,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	defaults := core.DefaultConfig()
	flags := rootCmd.PersistentFlags()

	flags.StringVar(&cfgFile, "config", "", "config file (default is .env)")
	flags.String("log-level", defaults.Log.Level, "log level (debug, info, warn, error)")
	flags.String("log-format", defaults.Log.Format, "log format (json, console)")
	flags.String("log-file", "", "also write JSON logs to this file, rotated")
	flags.Int("log-max-size-mb", defaults.Log.MaxSizeMB, "log file size before rotation in megabytes")
	flags.Int("log-max-backups", defaults.Log.MaxBackups, "rotated log files to keep")
	flags.Int("log-max-age-days", defaults.Log.MaxAgeDays, "days to keep rotated log files")

	flags.String("server-host", defaults.Server.Host, "HTTP server host")
	flags.Int("server-port", defaults.Server.Port, "HTTP server port")
	flags.Duration("server-read-timeout", defaults.Server.ReadTimeout, "HTTP read timeout")
	flags.Duration("server-write-timeout", defaults.Server.WriteTimeout, "HTTP write timeout, must cover a full resolution")
	flags.String("public-url", "", "base URL used to make cached artifact references absolute")
	flags.StringSlice("cors-origins", defaults.Server.CORSOrigins, "allowed CORS origins (* for any)")

	flags.StringSlice("strategies", defaults.Resolver.Strategies, "resolution strategies in order (cobalt, piped, extract, download)")
	flags.StringSlice("cobalt-instances", defaults.Resolver.CobaltInstances, "cobalt instance base URLs in order")
	flags.StringSlice("piped-instances", defaults.Resolver.PipedInstances, "Piped API instance base URLs in order")
	flags.Bool("cobalt-insecure-tls", false, "skip TLS verification for cobalt instances (needed for self-signed instances, which otherwise fail as network errors)")
	flags.Duration("network-timeout", defaults.Resolver.NetworkTimeout, "timeout per provider instance request")
	flags.Duration("extract-timeout", defaults.Resolver.ExtractTimeout, "timeout of the local extraction strategy")
	flags.Duration("download-timeout", defaults.Resolver.DownloadTimeout, "timeout of the local download strategy")
	flags.String("downloader-path", defaults.Resolver.DownloaderPath, "yt-dlp executable")
	flags.String("ffmpeg-path", "", "ffmpeg location passed to yt-dlp")
	flags.String("audio-format", defaults.Resolver.AudioFormat, "audio format requested from providers and the downloader")
	flags.String("preferred-encoding", defaults.Resolver.PreferredEncoding, "stream encoding preferred when providers list variants")
	flags.String("user-agent", "", "User-Agent sent to providers")
	flags.String("cookie-file", "", "Netscape cookie file used by the local strategies")

	flags.String("cache-dir", defaults.Cache.Dir, "directory for downloaded artifacts")
	flags.Duration("cache-ttl", defaults.Cache.TTL, "lifetime of a downloaded artifact")
	flags.Duration("sweep-interval", defaults.Cache.SweepInterval, "interval of the periodic cache sweep (0 disables)")
	flags.Int("cache-hot-entries", defaults.Cache.HotEntries, "artifact entries kept in memory")
	flags.Int("cache-filter-capacity", defaults.Cache.FilterCapacity, "expected artifact count for the lookup filter")
	flags.Float64("cache-false-positive-rate", defaults.Cache.FalsePositiveRate, "false positive rate of the lookup filter")

	flags.StringSlice("catalog-instances", defaults.Catalog.Instances, "Piped API instances used for catalog search")
	flags.Duration("catalog-timeout", defaults.Catalog.Timeout, "timeout per catalog instance request")
	flags.Int("search-limit", defaults.Catalog.Limit, "maximum number of search results")

	flags.Int("stream-limit-per-minute", defaults.App.StreamLimitPerMinute, "maximum /stream requests per client per minute (0 disables)")
	flags.Bool("generate-env-example", false, "Generate .env.example file from current configuration and exit")

	if err := viper.BindPFlags(flags); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bind flags: %v\n", err)
		os.Exit(1)
	}

	rootCmd.AddCommand(serveCmd, resolveCmd, searchCmd)
}

func initConfig() {
	// Load .env file explicitly using gotenv
	envFile := ".env"
	if cfgFile != "" {
		envFile = cfgFile
	}

	if err := gotenv.Load(envFile); err != nil {
		// Don't exit if .env file doesn't exist, just warn
		if !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading .env file: %v\n", err)
		}
	}

	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	config = buildConfig()
	logger = buildLogger(config.Log)
}

func buildConfig() *core.Config {
	cfg := core.DefaultConfig()

	configureLog(cfg)
	configureServer(cfg)
	configureResolver(cfg)
	configureCache(cfg)
	configureCatalog(cfg)
	configureApp(cfg)

	return cfg
}

func configureLog(cfg *core.Config) {
	cfg.Log.Level = viper.GetString("log-level")
	cfg.Log.Format = viper.GetString("log-format")
	cfg.Log.File = viper.GetString("log-file")
	cfg.Log.MaxSizeMB = viper.GetInt("log-max-size-mb")
	cfg.Log.MaxBackups = viper.GetInt("log-max-backups")
	cfg.Log.MaxAgeDays = viper.GetInt("log-max-age-days")
}

func configureServer(cfg *core.Config) {
	cfg.Server.Host = viper.GetString("server-host")
	if cfg.Server.Host == "" {
		cfg.Server.Host = core.DefaultServerHost
	}
	cfg.Server.Port = viper.GetInt("server-port")
	cfg.Server.ReadTimeout = viper.GetDuration("server-read-timeout")
	cfg.Server.WriteTimeout = viper.GetDuration("server-write-timeout")
	cfg.Server.PublicURL = viper.GetString("public-url")
	cfg.Server.CORSOrigins = getList("cors-origins")
}

func configureResolver(cfg *core.Config) {
	cfg.Resolver.Strategies = getList("strategies")
	cfg.Resolver.CobaltInstances = getList("cobalt-instances")
	cfg.Resolver.PipedInstances = getList("piped-instances")
	cfg.Resolver.CobaltInsecureTLS = viper.GetBool("cobalt-insecure-tls")
	cfg.Resolver.NetworkTimeout = viper.GetDuration("network-timeout")
	cfg.Resolver.ExtractTimeout = viper.GetDuration("extract-timeout")
	cfg.Resolver.DownloadTimeout = viper.GetDuration("download-timeout")
	cfg.Resolver.DownloaderPath = viper.GetString("downloader-path")
	cfg.Resolver.FFmpegPath = viper.GetString("ffmpeg-path")
	cfg.Resolver.AudioFormat = strings.ToLower(viper.GetString("audio-format"))
	cfg.Resolver.PreferredEncoding = viper.GetString("preferred-encoding")
	cfg.Resolver.UserAgent = viper.GetString("user-agent")
	cfg.Resolver.CookieFile = viper.GetString("cookie-file")
}

func configureCache(cfg *core.Config) {
	cfg.Cache.Dir = viper.GetString("cache-dir")
	cfg.Cache.TTL = viper.GetDuration("cache-ttl")
	cfg.Cache.SweepInterval = viper.GetDuration("sweep-interval")
	cfg.Cache.HotEntries = viper.GetInt("cache-hot-entries")
	cfg.Cache.FilterCapacity = viper.GetInt("cache-filter-capacity")
	cfg.Cache.FalsePositiveRate = viper.GetFloat64("cache-false-positive-rate")
}

func configureCatalog(cfg *core.Config) {
	cfg.Catalog.Instances = getList("catalog-instances")
	cfg.Catalog.Timeout = viper.GetDuration("catalog-timeout")
	cfg.Catalog.Limit = viper.GetInt("search-limit")
}

func configureApp(cfg *core.Config) {
	cfg.App.StreamLimitPerMinute = viper.GetInt("stream-limit-per-minute")
}

// getList reads a list setting. Environment values are comma separated.
func getList(key string) []string {
	var out []string
	for _, item := range viper.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Handle generate-env-example flag
	if viper.GetBool("generate-env-example") {
		return generateEnvExample(cmd)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("Starting Zenify",
		zap.Strings("strategies", config.Resolver.Strategies),
		zap.String("cache_dir", config.Cache.Dir),
		zap.Duration("cache_ttl", config.Cache.TTL),
		zap.Int("stream_limit_per_minute", config.App.StreamLimitPerMinute))

	if err := config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	svcs, err := initializeServices(ctx)
	if err != nil {
		return err
	}
	defer svcs.close()

	return runServices(ctx, svcs)
}

type services struct {
	resolver   *core.Resolver
	catalog    *catalog.Client
	gate       *flood.Floodgate
	httpServer *httpserver.Server
}

func initializeServices(ctx context.Context) (*services, error) {
	metrics := httpserver.NewMetrics()

	resolver, err := core.NewResolver(ctx, config, metrics, logger.Named("resolver"))
	if err != nil {
		return nil, err
	}

	catalogClient := newCatalogClient()
	gate := flood.New(config.App.StreamLimitPerMinute)

	httpServer := httpserver.NewServer(&config.Server, httpserver.Deps{
		Resolver:    resolver,
		Searcher:    catalogClient,
		Files:       resolver.Cache(),
		Gate:        gate,
		SearchLimit: config.Catalog.Limit,
	}, metrics, logger.Named("http"))

	return &services{
		resolver:   resolver,
		catalog:    catalogClient,
		gate:       gate,
		httpServer: httpServer,
	}, nil
}

func (s *services) close() {
	s.gate.Stop()
	s.catalog.Close()
	if err := s.resolver.Close(); err != nil {
		logger.Debug("Failed to close artifact cache", zap.Error(err))
	}
}

func runServices(ctx context.Context, svcs *services) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return svcs.httpServer.Start(gCtx)
	})

	g.Go(func() error {
		return svcs.resolver.RunSweeper(gCtx, config.Cache.SweepInterval)
	})

	logger.Info("Zenify started successfully",
		zap.String("http_addr", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)))

	if err := g.Wait(); err != nil {
		logger.Error("Zenify stopped with error", zap.Error(err))
		return err
	}

	logger.Info("Zenify stopped gracefully")
	return nil
}

func newCatalogClient() *catalog.Client {
	return catalog.NewClient(streamlink.NewInstanceList(config.Catalog.Instances...),
		config.Catalog.Timeout, logger.Named("catalog"))
}

func runResolve(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	id, err := streamlink.ParseMediaRef(args[0])
	if err != nil {
		return fmt.Errorf("%q: %w", args[0], err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	resolver, err := core.NewResolver(ctx, config, nil, logger.Named("resolver"))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := resolver.Close(); closeErr != nil {
			logger.Debug("Failed to close artifact cache", zap.Error(closeErr))
		}
	}()

	res := resolver.Resolve(ctx, id)
	_, body := httpserver.NewStreamResponse(res, config.Server.PublicURL)
	if err := printJSON(cmd, body); err != nil {
		return err
	}

	if !res.OK() {
		return fmt.Errorf("%s: %w", id, errExhausted)
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	client := newCatalogClient()
	defer client.Close()

	songs, err := client.Search(ctx, strings.Join(args, " "), config.Catalog.Limit)
	if err != nil {
		return err
	}
	if songs == nil {
		songs = []catalog.Song{}
	}
	return printJSON(cmd, songs)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}
