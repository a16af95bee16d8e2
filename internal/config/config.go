package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/Clark-Hu/movie-reviews/internal/omdb"
	"github.com/Clark-Hu/movie-reviews/internal/resilience"
)

// Config captures all runtime configuration. Every key can be set as an
// environment variable of the same name or in the optional YAML file.
type Config struct {
	Port                string
	DBURL               string
	OMDBURL             string
	OMDBAPIKey          string
	OMDBTimeoutSecs     int
	OMDBMaxAttempts     int
	OMDBBackoffMillis   int
	OMDBRequestsPerSec  float64
	OMDBBurst           int
	OMDBCacheTTLSecs    int
	BreakerFailureRatio float64
	BreakerMinRequests  int
	BreakerWindowSecs   int
	BreakerOpenSecs     int
	ReadTimeoutSecs     int
	WriteTimeoutSecs    int
	IdleTimeoutSecs     int
	ShutdownTimeoutSecs int
	DBMaxConns          int
	DBMinConns          int
	DBMaxIdleSecs       int
	DBMaxLifeSecs       int
	DBConnTimeoutSecs   int
	DBStatementCache    int
	LogLevel            string
	LogFormat           string
}

var defaults = map[string]any{
	"PORT":                        "8080",
	"OMDB_TIMEOUT_SECS":           5,
	"OMDB_MAX_ATTEMPTS":           4,
	"OMDB_BACKOFF_MS":             2000,
	"OMDB_REQUESTS_PER_SEC":       10.0,
	"OMDB_BURST":                  5,
	"OMDB_CACHE_TTL_SECS":         600,
	"BREAKER_FAILURE_RATIO":       0.5,
	"BREAKER_MIN_REQUESTS":        7,
	"BREAKER_WINDOW_SECS":         60,
	"BREAKER_OPEN_SECS":           30,
	"SERVER_READ_TIMEOUT":         15,
	"SERVER_WRITE_TIMEOUT":        60,
	"SERVER_IDLE_TIMEOUT":         60,
	"SERVER_SHUTDOWN_TIMEOUT":     10,
	"DB_MAX_CONNS":                20,
	"DB_MIN_CONNS":                2,
	"DB_MAX_CONN_IDLE_SECS":       300,
	"DB_MAX_CONN_LIFETIME_SECS":   3600,
	"DB_CONN_TIMEOUT_SECS":        10,
	"DB_STATEMENT_CACHE_CAPACITY": 256,
	"LOG_LEVEL":                   "info",
	"LOG_FORMAT":                  "human",
}

// Load reads configuration from environment variables and, when file is not
// empty, a YAML file. Environment variables win over the file.
func Load(file string) (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	for _, key := range []string{"DB_URL", "OMDB_URL", "OMDB_API_KEY"} {
		if err := v.BindEnv(key); err != nil {
			return Config{}, fmt.Errorf("bind %s: %w", key, err)
		}
	}
	v.AutomaticEnv()

	if file != "" {
		v.SetConfigFile(file)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	cfg := Config{
		Port:                v.GetString("PORT"),
		DBURL:               strings.TrimSpace(v.GetString("DB_URL")),
		OMDBURL:             strings.TrimSpace(v.GetString("OMDB_URL")),
		OMDBAPIKey:          strings.TrimSpace(v.GetString("OMDB_API_KEY")),
		OMDBTimeoutSecs:     v.GetInt("OMDB_TIMEOUT_SECS"),
		OMDBMaxAttempts:     v.GetInt("OMDB_MAX_ATTEMPTS"),
		OMDBBackoffMillis:   v.GetInt("OMDB_BACKOFF_MS"),
		OMDBRequestsPerSec:  v.GetFloat64("OMDB_REQUESTS_PER_SEC"),
		OMDBBurst:           v.GetInt("OMDB_BURST"),
		OMDBCacheTTLSecs:    v.GetInt("OMDB_CACHE_TTL_SECS"),
		BreakerFailureRatio: v.GetFloat64("BREAKER_FAILURE_RATIO"),
		BreakerMinRequests:  v.GetInt("BREAKER_MIN_REQUESTS"),
		BreakerWindowSecs:   v.GetInt("BREAKER_WINDOW_SECS"),
		BreakerOpenSecs:     v.GetInt("BREAKER_OPEN_SECS"),
		ReadTimeoutSecs:     v.GetInt("SERVER_READ_TIMEOUT"),
		WriteTimeoutSecs:    v.GetInt("SERVER_WRITE_TIMEOUT"),
		IdleTimeoutSecs:     v.GetInt("SERVER_IDLE_TIMEOUT"),
		ShutdownTimeoutSecs: v.GetInt("SERVER_SHUTDOWN_TIMEOUT"),
		DBMaxConns:          v.GetInt("DB_MAX_CONNS"),
		DBMinConns:          v.GetInt("DB_MIN_CONNS"),
		DBMaxIdleSecs:       v.GetInt("DB_MAX_CONN_IDLE_SECS"),
		DBMaxLifeSecs:       v.GetInt("DB_MAX_CONN_LIFETIME_SECS"),
		DBConnTimeoutSecs:   v.GetInt("DB_CONN_TIMEOUT_SECS"),
		DBStatementCache:    v.GetInt("DB_STATEMENT_CACHE_CAPACITY"),
		LogLevel:            v.GetString("LOG_LEVEL"),
		LogFormat:           v.GetString("LOG_FORMAT"),
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (cfg Config) validate() error {
	if cfg.DBURL == "" {
		return fmt.Errorf("DB_URL is required")
	}
	if cfg.OMDBURL == "" {
		return fmt.Errorf("OMDB_URL is required")
	}
	if cfg.OMDBAPIKey == "" {
		return fmt.Errorf("OMDB_API_KEY is required")
	}
	if cfg.OMDBTimeoutSecs <= 0 {
		return fmt.Errorf("OMDB_TIMEOUT_SECS must be positive")
	}
	if cfg.OMDBMaxAttempts <= 0 {
		return fmt.Errorf("OMDB_MAX_ATTEMPTS must be positive")
	}
	if cfg.OMDBBackoffMillis <= 0 {
		return fmt.Errorf("OMDB_BACKOFF_MS must be positive")
	}
	if cfg.OMDBRequestsPerSec < 0 {
		return fmt.Errorf("OMDB_REQUESTS_PER_SEC must be non-negative")
	}
	if cfg.OMDBCacheTTLSecs < 0 {
		return fmt.Errorf("OMDB_CACHE_TTL_SECS must be non-negative")
	}
	if cfg.BreakerFailureRatio <= 0 || cfg.BreakerFailureRatio > 1 {
		return fmt.Errorf("BREAKER_FAILURE_RATIO must be in (0, 1]")
	}
	if cfg.BreakerMinRequests <= 0 {
		return fmt.Errorf("BREAKER_MIN_REQUESTS must be positive")
	}
	if cfg.BreakerWindowSecs <= 0 {
		return fmt.Errorf("BREAKER_WINDOW_SECS must be positive")
	}
	if cfg.BreakerOpenSecs <= 0 {
		return fmt.Errorf("BREAKER_OPEN_SECS must be positive")
	}
	if cfg.DBMaxConns <= 0 {
		return fmt.Errorf("DB_MAX_CONNS must be positive")
	}
	if cfg.DBMinConns < 0 {
		return fmt.Errorf("DB_MIN_CONNS must be non-negative")
	}
	if cfg.DBMaxConns > 0 && cfg.DBMinConns > cfg.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS cannot exceed DB_MAX_CONNS")
	}
	if cfg.DBStatementCache < 0 {
		return fmt.Errorf("DB_STATEMENT_CACHE_CAPACITY must be non-negative")
	}
	return nil
}

// ResiliencePolicy returns the retry and breaker policy for provider calls.
func (cfg Config) ResiliencePolicy() resilience.Policy {
	return resilience.Policy{
		MaxAttempts:      cfg.OMDBMaxAttempts,
		InitialBackoff:   time.Duration(cfg.OMDBBackoffMillis) * time.Millisecond,
		AttemptTimeout:   time.Duration(cfg.OMDBTimeoutSecs) * time.Second,
		FailureRatio:     cfg.BreakerFailureRatio,
		MinRequests:      uint32(cfg.BreakerMinRequests),
		SamplingWindow:   time.Duration(cfg.BreakerWindowSecs) * time.Second,
		OpenDuration:     time.Duration(cfg.BreakerOpenSecs) * time.Second,
		HalfOpenRequests: 1,
	}
}

// CacheConfig returns the provider response cache settings.
func (cfg Config) CacheConfig() omdb.CacheConfig {
	c := omdb.DefaultCacheConfig()
	c.TTL = time.Duration(cfg.OMDBCacheTTLSecs) * time.Second
	return c
}
