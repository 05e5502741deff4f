package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/meridian-geo/meridian/internal/api"
	"github.com/meridian-geo/meridian/internal/config"
	"github.com/meridian-geo/meridian/internal/fallback"
	"github.com/meridian-geo/meridian/internal/geocode"
	"github.com/meridian-geo/meridian/internal/geoip"
	"github.com/meridian-geo/meridian/internal/locate"
	"github.com/meridian-geo/meridian/internal/metrics"
	"github.com/meridian-geo/meridian/internal/ratelimit"
	"github.com/meridian-geo/meridian/internal/storage"
	"github.com/meridian-geo/meridian/internal/storage/postgres"
	"github.com/meridian-geo/meridian/internal/telemetry"
)

var (
	// Server flags (override config/env)
	serverHost string
	serverPort int
)

// keyCacheTTL bounds how stale an API key row may get before the next
// request rereads it from the database.
const keyCacheTTL = 5 * time.Minute

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the positioning HTTP server",
	Long: `Start the positioning HTTP server and begin accepting API requests.

The server will:
- Load configuration from environment variables
- Load the region boundary dataset and the GeoIP database
- Start the HTTP server with the geolocate and country endpoints
- Reload the GeoIP database on SIGHUP
- Handle graceful shutdown on SIGINT/SIGTERM

Examples:
  # Start with default configuration (from env vars)
  meridian serve

  # Start on a specific host and port
  meridian serve --host 127.0.0.1 --port 9090

  # Start with debug logging
  meridian serve --log-level debug`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	// Server-specific flags
	serveCmd.Flags().StringVar(&serverHost, "host", "", "server host address (default: 0.0.0.0)")
	serveCmd.Flags().IntVar(&serverPort, "port", 0, "server port (default: 8000)")
}

func runServer() error {
	// Load configuration
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	// Override config with flags if provided
	if serverHost != "" {
		cfg.Server.Host = serverHost
	}
	if serverPort != 0 {
		cfg.Server.Port = serverPort
	}

	// Create logger
	logger := config.NewLogger(cfg.Logging)
	logger.Info().Msg("starting meridian")

	// Initialize Prometheus metrics with version information
	metrics.Init(Version, GitCommit)

	// Initialize distributed tracing
	tracingCtx, tracingCancel := context.WithTimeout(context.Background(), 10*time.Second)
	shutdownTracing, err := telemetry.InitTracing(tracingCtx, cfg.Tracing, Version)
	tracingCancel()
	if err != nil {
		return fmt.Errorf("tracing init failed: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Error().Err(err).Msg("tracing shutdown error")
		}
	}()

	// Load the region boundary dataset
	geocoder, err := geocode.New(cfg.Regions.Path)
	if err != nil {
		return fmt.Errorf("region dataset failed: %w", err)
	}
	logger.Info().Int("regions", len(geocoder.ValidRegions())).Msg("region dataset loaded")

	// Open the GeoIP database. Without one the service still answers,
	// it just cannot produce IP based estimates.
	geodb, err := openGeoIP(cfg, geocoder, logger)
	if err != nil {
		return fmt.Errorf("geoip open failed: %w", err)
	}
	defer geodb.Close()
	metrics.GeoIPAgeDays.Set(float64(geodb.AgeInDays()))

	// Create database connection pool
	poolCtx, poolCancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := pgxpool.New(poolCtx, cfg.Database.URL)
	poolCancel()
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer pool.Close()

	repo, err := postgres.NewRepository(pool)
	if err != nil {
		return fmt.Errorf("repository init failed: %w", err)
	}

	// Pool statistics are read at scrape time, no sampling loop needed.
	metrics.Registry.MustRegister(metrics.NewPoolStatsCollector(pool))

	// Create Redis client for quotas and the fallback cache
	redisOpts, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("redis url invalid: %w", err)
	}
	rdb := redis.NewClient(redisOpts)
	defer rdb.Close()

	svc := buildServices(cfg, repo, rdb, geodb, geocoder)

	// Create HTTP server
	server := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           api.NewRouter(cfg, logger, svc),
		ReadTimeout:       10 * time.Second, // Total time to read request
		WriteTimeout:      30 * time.Second, // Total time to write response
		ReadHeaderTimeout: 5 * time.Second,  // Time to read headers
		MaxHeaderBytes:    1 << 20,          // 1 MB max header size
	}

	// Start server in background
	go func() {
		logger.Info().Str("addr", server.Addr).Msg("listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("http server error")
		}
	}()

	// Reload the GeoIP database on SIGHUP so ops can rotate the file
	// under a running server.
	go watchReload(geodb, logger)

	// Wait for shutdown signal
	return gracefulShutdown(server, logger)
}

// buildServices assembles the source cascades and shared backends the
// router needs. Position queries try internal station data first, then
// the external provider, then GeoIP; region queries skip the provider.
func buildServices(cfg config.Config, repo *postgres.Repository, rdb *redis.Client, geodb geoip.Database, geocoder *geocode.Geocoder) api.Services {
	keys := storage.NewCachedKeyStore(repo.Keys(), keyCacheTTL)
	limiter := ratelimit.New(rdb)

	positionSources := []locate.Source{
		locate.NewInternalPositionSource(repo.Stations(), cfg.Locate.MaxWifiClusterKM),
	}
	if cfg.Fallback.URL != "" {
		client := fallback.NewClient(cfg.Fallback.URL,
			fallback.WithRateLimit(cfg.Fallback.RateLimit),
			fallback.WithUserAgent("meridian/"+Version),
		)
		cache := fallback.NewCache(rdb, cfg.Fallback.CacheTTL)
		positionSources = append(positionSources, fallback.NewSource(client, cache))
	}
	positionSources = append(positionSources, locate.NewGeoIPPositionSource())

	regionSources := []locate.Source{
		locate.NewInternalRegionSource(repo.Stations(), geocoder),
		locate.NewGeoIPRegionSource(),
	}

	return api.Services{
		Keys:     keys,
		Limiter:  limiter,
		GeoIP:    geodb,
		Position: locate.NewSearcher(locate.KindPosition, positionSources...),
		Region:   locate.NewSearcher(locate.KindRegion, regionSources...),
		DB:       repo,
		Redis:    redisPinger{rdb},
		Version:  Version,
		Commit:   GitCommit,
		Tag:      BuildTag,
	}
}

// redisPinger adapts the Redis client to the monitor endpoint.
type redisPinger struct {
	rdb *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.rdb.Ping(ctx).Err()
}

// openGeoIP opens the configured MaxMind database, or the null
// database when none is configured.
func openGeoIP(cfg config.Config, geocoder *geocode.Geocoder, logger zerolog.Logger) (geoip.Database, error) {
	if cfg.GeoIP.Path == "" {
		logger.Warn().Msg("no GEOIP_PATH configured, IP estimates disabled")
		return geoip.Null{}, nil
	}
	geodb, err := geoip.Open(cfg.GeoIP.Path, geocoder)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("path", cfg.GeoIP.Path).Int("age_days", geodb.AgeInDays()).Msg("geoip database loaded")
	return geodb, nil
}

// watchReload swaps in a fresh GeoIP database whenever SIGHUP arrives.
// Only the MaxMind reader supports reloading; the null database
// ignores the signal.
func watchReload(geodb geoip.Database, logger zerolog.Logger) {
	reloader, ok := geodb.(*geoip.Reader)
	if !ok {
		return
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	for range hup {
		if err := reloader.Reload(); err != nil {
			logger.Error().Err(err).Msg("geoip reload failed")
			continue
		}
		metrics.GeoIPAgeDays.Set(float64(reloader.AgeInDays()))
		logger.Info().Int("age_days", reloader.AgeInDays()).Msg("geoip database reloaded")
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return config.Config{}, err
	}

	// Override logging from flags if provided
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if logFormat != "" {
		cfg.Logging.Format = logFormat
	}

	return cfg, nil
}

func gracefulShutdown(server *http.Server, logger zerolog.Logger) error {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("shutdown error")
		return err
	}

	logger.Info().Msg("server stopped")
	return nil
}
