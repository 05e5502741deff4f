// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	GeoIP       GeoIPConfig
	Regions     RegionsConfig
	Fallback    FallbackConfig
	RateLimit   RateLimitConfig
	Locate      LocateConfig
	Logging     LoggingConfig
	Tracing     TracingConfig
	Environment string
}

type ServerConfig struct {
	Host string
	Port int
}

type DatabaseConfig struct {
	URL            string
	MaxConnections int
	MinConnections int
}

type RedisConfig struct {
	URL string
}

// GeoIPConfig points at a MaxMind City database. An empty path runs
// the service without GeoIP: queries still work, IP estimates don't.
type GeoIPConfig struct {
	Path string
}

// RegionsConfig overrides the embedded region boundary dataset.
type RegionsConfig struct {
	Path string
}

// FallbackConfig wires the external location service. An empty URL
// disables forwarding entirely.
type FallbackConfig struct {
	URL       string
	RateLimit float64
	CacheTTL  time.Duration
}

// RateLimitConfig shapes the per-client request limiter. The trusted
// proxy list names CIDR ranges whose X-Forwarded-For header we accept.
type RateLimitConfig struct {
	PerSecond      float64
	Burst          int
	TrustedProxies []string
}

type LocateConfig struct {
	// MaxWifiClusterKM bounds how far apart Wi-Fi networks may sit
	// and still count as one observation cluster.
	MaxWifiClusterKM float64
}

type LoggingConfig struct {
	Level  string
	Format string
}

type TracingConfig struct {
	Enabled      bool
	Exporter     string
	ServiceName  string
	OTLPEndpoint string
	SampleRate   float64
}

func Load() (Config, error) {
	cfg := Config{
		Server: ServerConfig{
			Host: getEnv("SERVER_HOST", "0.0.0.0"),
			Port: getEnvInt("SERVER_PORT", 8000),
		},
		Database: DatabaseConfig{
			URL:            getEnv("DATABASE_URL", ""),
			MaxConnections: getEnvInt("DATABASE_MAX_CONNECTIONS", 25),
			MinConnections: getEnvInt("DATABASE_MIN_CONNECTIONS", 2),
		},
		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},
		GeoIP: GeoIPConfig{
			Path: getEnv("GEOIP_PATH", ""),
		},
		Regions: RegionsConfig{
			Path: getEnv("REGIONS_PATH", ""),
		},
		Fallback: FallbackConfig{
			URL:       getEnv("FALLBACK_URL", ""),
			RateLimit: getEnvFloat("FALLBACK_RATE_LIMIT", 10),
			CacheTTL:  time.Duration(getEnvInt("FALLBACK_CACHE_TTL", 3600)) * time.Second,
		},
		RateLimit: RateLimitConfig{
			PerSecond:      getEnvFloat("RATE_LIMIT_PER_SECOND", 50),
			Burst:          getEnvInt("RATE_LIMIT_BURST", 100),
			TrustedProxies: getEnvList("TRUSTED_PROXIES"),
		},
		Locate: LocateConfig{
			MaxWifiClusterKM: getEnvFloat("MAX_WIFI_CLUSTER_KM", 0.5),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Tracing: TracingConfig{
			Enabled:      getEnvBool("TRACING_ENABLED", false),
			Exporter:     getEnv("TRACING_EXPORTER", "none"),
			ServiceName:  getEnv("TRACING_SERVICE_NAME", "meridian"),
			OTLPEndpoint: getEnv("TRACING_OTLP_ENDPOINT", "localhost:4317"),
			SampleRate:   getEnvFloat("TRACING_SAMPLE_RATE", 1.0),
		},
		Environment: getEnv("ENVIRONMENT", "development"),
	}

	if cfg.Database.URL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.Redis.URL == "" {
		return Config{}, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return Config{}, fmt.Errorf("SERVER_PORT %d out of range", cfg.Server.Port)
	}
	if cfg.Fallback.URL != "" && cfg.Fallback.RateLimit <= 0 {
		return Config{}, fmt.Errorf("FALLBACK_RATE_LIMIT must be positive")
	}
	if cfg.Locate.MaxWifiClusterKM <= 0 {
		return Config{}, fmt.Errorf("MAX_WIFI_CLUSTER_KM must be positive")
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvFloat(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}
