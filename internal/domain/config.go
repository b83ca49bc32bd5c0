package domain

import "time"

// Config is the full engine configuration, loaded by internal/config.
type Config struct {
	Environment string         `mapstructure:"environment"`
	Server      ServerConfig   `mapstructure:"server"`
	Database    DatabaseConfig `mapstructure:"database"`
	Cache       CacheConfig    `mapstructure:"cache"`
	Pipeline    PipelineConfig `mapstructure:"pipeline"`
	Engine      EngineConfig   `mapstructure:"engine"`
	Review      ReviewConfig   `mapstructure:"review"`
	Logging     LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig configures the PostgreSQL policy/case store.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `mapstructure:"max_conn_idle_time"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// CacheConfig configures diff and evaluation memoization.
type CacheConfig struct {
	RedisURL      string        `mapstructure:"redis_url"`
	DiffTTL       time.Duration `mapstructure:"diff_ttl"`
	PoolSize      int           `mapstructure:"pool_size"`
	PoolTimeout   time.Duration `mapstructure:"pool_timeout"`
	MaxRetries    int           `mapstructure:"max_retries"`
	EvalCacheSize int           `mapstructure:"eval_cache_size"`
}

// PipelineConfig configures the client for the policy-digitization pipeline.
type PipelineConfig struct {
	BaseURL    string        `mapstructure:"base_url"`
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  float64       `mapstructure:"rate_limit"`
	RateBurst  int           `mapstructure:"rate_burst"`
	MaxRetries int           `mapstructure:"max_retries"`
}

// EngineConfig tunes the evaluation core's concurrency.
type EngineConfig struct {
	ImpactWorkers int           `mapstructure:"impact_workers"`
	ImpactTimeout time.Duration `mapstructure:"impact_timeout"`
}

// ReviewConfig configures the analyst-feedback store.
type ReviewConfig struct {
	Backend    string `mapstructure:"backend"` // "sqlite" or "postgres"
	SQLitePath string `mapstructure:"sqlite_path"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
	Output string `mapstructure:"output"`
}
