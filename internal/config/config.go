package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Gateway backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendREST     = "rest"
)

// Config holds service configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerPort      string
	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
	RateLimitRPS    int
	RateLimitBurst  int

	GatewayBackend string // "memory", "postgres" or "rest"

	DatabaseURL      string
	DatabaseMaxConns int32
	EnsureSchema     bool

	GatewayURL     string
	GatewayAPIKey  string
	GatewayTimeout time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerTimeout          time.Duration

	RefreshTimeout       time.Duration
	PollInterval         time.Duration // 0 disables reconcile polling
	FallbackPollInterval time.Duration
	// FullResyncCron schedules a refresh of every store; empty disables it.
	FullResyncCron string

	GeneratorEnabled   bool
	GeneratorInterval  time.Duration
	GeneratorSeed      int64 // 0 seeds from the clock
	GeneratorClampTide bool

	SeedStations []SeedStation

	CacheBackend          string // "in_memory" or "memcached"
	CacheTTL              time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	DegradedWindow     time.Duration
	DegradedErrorPct   int
	DegradedMinSamples int
}

// SeedStation is a station inserted into the memory backend at startup.
type SeedStation struct {
	Name        string  `yaml:"name"`
	Latitude    float64 `yaml:"latitude"`
	Longitude   float64 `yaml:"longitude"`
	StationType string  `yaml:"station_type"`
	Status      string  `yaml:"status"`
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Gateway struct {
		Backend  string `yaml:"backend"`
		Postgres struct {
			URL          string `yaml:"url"`
			MaxConns     int32  `yaml:"max_conns"`
			EnsureSchema *bool  `yaml:"ensure_schema"`
		} `yaml:"postgres"`
		REST struct {
			URL     string `yaml:"url"`
			Timeout string `yaml:"timeout"`
		} `yaml:"rest"`
		SeedStations []SeedStation `yaml:"seed_stations"`
	} `yaml:"gateway"`

	Sync struct {
		RefreshTimeout       string `yaml:"refresh_timeout"`
		PollInterval         string `yaml:"poll_interval"`
		FallbackPollInterval string `yaml:"fallback_poll_interval"`
		FullResync           string `yaml:"full_resync"`
	} `yaml:"sync"`

	Generator struct {
		Enabled   *bool  `yaml:"enabled"`
		Interval  string `yaml:"interval"`
		Seed      int64  `yaml:"seed"`
		ClampTide bool   `yaml:"clamp_tide"`
	} `yaml:"generator"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts        int    `yaml:"retry_max_attempts"`
		RetryBaseDelay          string `yaml:"retry_base_delay"`
		RetryMaxDelay           string `yaml:"retry_max_delay"`
		RateLimitRPS            int    `yaml:"rate_limit_rps"`
		RateLimitBurst          int    `yaml:"rate_limit_burst"`
		BreakerFailureThreshold int    `yaml:"breaker_failure_threshold"`
		BreakerSuccessThreshold int    `yaml:"breaker_success_threshold"`
		BreakerTimeout          string `yaml:"breaker_timeout"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"shutdown"`

	Health struct {
		DegradedWindow     string `yaml:"degraded_window"`
		DegradedErrorPct   int    `yaml:"degraded_error_pct"`
		DegradedMinSamples int    `yaml:"degraded_min_samples"`
	} `yaml:"health"`
}

type secretsFile struct {
	GatewayAPIKey string `yaml:"gateway_api_key"`
	DatabaseURL   string `yaml:"database_url"`
}

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// A .env file in the working directory is loaded first without overriding variables already set.
// Environment variables override file values. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	if err := godotenv.Load(filepath.Join(cwd, ".env")); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	sec, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	cfg.ServerPort = firstNonEmpty(os.Getenv("SERVER_PORT"), fc.Server.Port, "8080")
	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)
	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)

	cfg.GatewayBackend = strings.ToLower(firstNonEmpty(os.Getenv("GATEWAY_BACKEND"), fc.Gateway.Backend, BackendMemory))
	cfg.DatabaseURL = firstNonEmpty(os.Getenv("DATABASE_URL"), sec.DatabaseURL, fc.Gateway.Postgres.URL)
	cfg.DatabaseMaxConns = fc.Gateway.Postgres.MaxConns
	if cfg.DatabaseMaxConns <= 0 {
		cfg.DatabaseMaxConns = 8
	}
	cfg.EnsureSchema = true
	if fc.Gateway.Postgres.EnsureSchema != nil {
		cfg.EnsureSchema = *fc.Gateway.Postgres.EnsureSchema
	}
	cfg.GatewayURL = firstNonEmpty(os.Getenv("GATEWAY_URL"), fc.Gateway.REST.URL)
	cfg.GatewayAPIKey = firstNonEmpty(os.Getenv("GATEWAY_API_KEY"), sec.GatewayAPIKey)
	cfg.GatewayTimeout = parseDurationOrZero(fc.Gateway.REST.Timeout, 2*time.Second)
	cfg.SeedStations = fc.Gateway.SeedStations

	cfg.RetryAttempts = fc.Reliability.RetryMaxAttempts
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 3
	}
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = fc.Reliability.RateLimitRPS
	if cfg.RateLimitRPS <= 0 {
		cfg.RateLimitRPS = 100
	}
	cfg.RateLimitBurst = fc.Reliability.RateLimitBurst
	if cfg.RateLimitBurst <= 0 {
		cfg.RateLimitBurst = 250
	}
	cfg.BreakerFailureThreshold = fc.Reliability.BreakerFailureThreshold
	if cfg.BreakerFailureThreshold <= 0 {
		cfg.BreakerFailureThreshold = 5
	}
	cfg.BreakerSuccessThreshold = fc.Reliability.BreakerSuccessThreshold
	if cfg.BreakerSuccessThreshold <= 0 {
		cfg.BreakerSuccessThreshold = 2
	}
	cfg.BreakerTimeout = parseDuration(fc.Reliability.BreakerTimeout, 30*time.Second)

	cfg.RefreshTimeout = parseDuration(fc.Sync.RefreshTimeout, 10*time.Second)
	cfg.PollInterval = parseDurationOrZero(fc.Sync.PollInterval, 0)
	if cfg.PollInterval < 0 {
		cfg.PollInterval = 0
	}
	cfg.FallbackPollInterval = parseDuration(fc.Sync.FallbackPollInterval, 30*time.Second)
	cfg.FullResyncCron = strings.TrimSpace(fc.Sync.FullResync)

	cfg.GeneratorEnabled = cfg.GatewayBackend == BackendMemory
	if fc.Generator.Enabled != nil {
		cfg.GeneratorEnabled = *fc.Generator.Enabled
	}
	cfg.GeneratorInterval = parseDuration(fc.Generator.Interval, 30*time.Second)
	cfg.GeneratorSeed = fc.Generator.Seed
	cfg.GeneratorClampTide = fc.Generator.ClampTide

	cfg.CacheBackend = strings.ToLower(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, "in_memory"))
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 5*time.Minute)
	cfg.MemcachedAddrs = firstNonEmpty(os.Getenv("MEMCACHED_ADDRS"), fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct <= 0 {
		cfg.DegradedErrorPct = 50
	}
	cfg.DegradedMinSamples = fc.Health.DegradedMinSamples
	if cfg.DegradedMinSamples <= 0 {
		cfg.DegradedMinSamples = 3
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Zero or negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate checks enumerations and backend requirements. RequestTimeout is raised above
// GatewayTimeout when needed so a request can outlive one upstream call.
func validate(cfg *Config) error {
	switch cfg.GatewayBackend {
	case BackendMemory:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL required for gateway.backend postgres (set env, config/secrets.yaml database_url or gateway.postgres.url)")
		}
	case BackendREST:
		if cfg.GatewayURL == "" {
			return fmt.Errorf("GATEWAY_URL required for gateway.backend rest")
		}
		if cfg.GatewayAPIKey == "" {
			return fmt.Errorf("GATEWAY_API_KEY required for gateway.backend rest (set env or config/secrets.yaml gateway_api_key)")
		}
		if cfg.GatewayTimeout <= 0 {
			return fmt.Errorf("GATEWAY_TIMEOUT must be positive")
		}
	default:
		return fmt.Errorf("gateway.backend must be memory, postgres or rest, got %q", cfg.GatewayBackend)
	}
	if cfg.GatewayTimeout > 0 && cfg.RequestTimeout <= cfg.GatewayTimeout {
		cfg.RequestTimeout = cfg.GatewayTimeout + time.Second
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	if cfg.FullResyncCron != "" {
		if _, err := cron.ParseStandard(cfg.FullResyncCron); err != nil {
			return fmt.Errorf("sync.full_resync: %w", err)
		}
	}
	for i, st := range cfg.SeedStations {
		if strings.TrimSpace(st.Name) == "" {
			return fmt.Errorf("gateway.seed_stations[%d]: name required", i)
		}
		if st.Latitude < -90 || st.Latitude > 90 || st.Longitude < -180 || st.Longitude > 180 {
			return fmt.Errorf("gateway.seed_stations[%d]: coordinates out of range", i)
		}
	}
	return nil
}
