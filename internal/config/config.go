package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Postgres  PostgresConfig  `yaml:"postgres"`
	Redis     RedisConfig     `yaml:"redis"`
	Kafka     KafkaConfig     `yaml:"kafka"`
	Sync      SyncConfig      `yaml:"sync"`
	Platforms PlatformsConfig `yaml:"platforms"`
	Crypto    CryptoConfig    `yaml:"crypto"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxConnections  int           `yaml:"max_connections"`
	MinConnections  int           `yaml:"min_connections"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime time.Duration `yaml:"max_conn_idle_time"`
}

// ConnectionString returns the PostgreSQL connection string
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, sslMode,
	)
}

// RedisConfig holds Redis connection configuration. Redis is optional;
// without it the service falls back to database reads and in-process
// request pacing.
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	StatsTTL     time.Duration `yaml:"stats_ttl"`
	LookupTTL    time.Duration `yaml:"lookup_ttl"`
}

// KafkaConfig holds the sync-request consumer configuration
type KafkaConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Brokers      []string      `yaml:"brokers"`
	Topic        string        `yaml:"topic"`
	GroupID      string        `yaml:"group_id"`
	BatchSize    int           `yaml:"batch_size"`
	BatchTimeout time.Duration `yaml:"batch_timeout"`
}

// SyncConfig holds batch sync and throttling configuration
type SyncConfig struct {
	Enabled bool `yaml:"enabled"`
	// Interval between scheduled batch runs
	Interval time.Duration `yaml:"interval"`
	// ThrottleWindow is the minimum age of last_synced_at before direct
	// event fetching is attempted again
	ThrottleWindow time.Duration `yaml:"throttle_window"`
	// RunTimeout bounds one whole batch run; remaining connections are
	// aborted when it expires
	RunTimeout time.Duration `yaml:"run_timeout"`
	// BatchSize is the page size used when walking the roster
	BatchSize int `yaml:"batch_size"`
}

// PlatformConfig holds per-platform client configuration
type PlatformConfig struct {
	BaseURL string `yaml:"base_url"`
	// Token optionally authenticates requests; platforms grant higher
	// rate limits to authenticated clients
	Token string `yaml:"token"`
	// RequestSpacing is the minimum interval between requests to this
	// platform, shared across all students in a run
	RequestSpacing time.Duration `yaml:"request_spacing"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// PlatformsConfig holds configuration for all external platforms
type PlatformsConfig struct {
	ChessCom PlatformConfig `yaml:"chesscom"`
	Lichess  PlatformConfig `yaml:"lichess"`
	// MaxItems7d caps event pages for 7d queries; one 7d fetch serves
	// both rolling windows
	MaxItems7d int `yaml:"max_items_7d"`
}

// CryptoConfig holds the token-encryption key. The key must decode to
// exactly 32 bytes (AES-256).
type CryptoConfig struct {
	TokenKey string `yaml:"token_key"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables (secrets arrive this way)
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// Server defaults
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 5 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 30 * time.Second
	}
	if c.Server.IdleTimeout == 0 {
		c.Server.IdleTimeout = 120 * time.Second
	}

	// PostgreSQL defaults
	if c.Postgres.Host == "" {
		c.Postgres.Host = "localhost"
	}
	if c.Postgres.Port == 0 {
		c.Postgres.Port = 5432
	}
	if c.Postgres.MaxConnections == 0 {
		c.Postgres.MaxConnections = 20
	}
	if c.Postgres.MinConnections == 0 {
		c.Postgres.MinConnections = 2
	}
	if c.Postgres.MaxConnLifetime == 0 {
		c.Postgres.MaxConnLifetime = 1 * time.Hour
	}
	if c.Postgres.MaxConnIdleTime == 0 {
		c.Postgres.MaxConnIdleTime = 30 * time.Minute
	}

	// Redis defaults
	if c.Redis.Addr == "" {
		c.Redis.Addr = "localhost:6379"
	}
	if c.Redis.PoolSize == 0 {
		c.Redis.PoolSize = 20
	}
	if c.Redis.DialTimeout == 0 {
		c.Redis.DialTimeout = 5 * time.Second
	}
	if c.Redis.ReadTimeout == 0 {
		c.Redis.ReadTimeout = 3 * time.Second
	}
	if c.Redis.WriteTimeout == 0 {
		c.Redis.WriteTimeout = 3 * time.Second
	}
	if c.Redis.StatsTTL == 0 {
		c.Redis.StatsTTL = 5 * time.Minute
	}
	if c.Redis.LookupTTL == 0 {
		c.Redis.LookupTTL = 10 * time.Minute
	}

	// Kafka defaults
	if len(c.Kafka.Brokers) == 0 {
		c.Kafka.Brokers = []string{"localhost:9092"}
	}
	if c.Kafka.Topic == "" {
		c.Kafka.Topic = "sync-requests"
	}
	if c.Kafka.GroupID == "" {
		c.Kafka.GroupID = "activity-sync"
	}
	if c.Kafka.BatchSize == 0 {
		c.Kafka.BatchSize = 50
	}
	if c.Kafka.BatchTimeout == 0 {
		c.Kafka.BatchTimeout = 1 * time.Second
	}

	// Sync defaults
	if c.Sync.Interval == 0 {
		c.Sync.Interval = 30 * time.Minute
	}
	if c.Sync.ThrottleWindow == 0 {
		c.Sync.ThrottleWindow = 6 * time.Hour
	}
	if c.Sync.RunTimeout == 0 {
		c.Sync.RunTimeout = 10 * time.Minute
	}
	if c.Sync.BatchSize == 0 {
		c.Sync.BatchSize = 100
	}

	// Platform defaults
	if c.Platforms.ChessCom.BaseURL == "" {
		c.Platforms.ChessCom.BaseURL = "https://api.chess.com"
	}
	if c.Platforms.ChessCom.RequestSpacing == 0 {
		c.Platforms.ChessCom.RequestSpacing = 1200 * time.Millisecond
	}
	if c.Platforms.ChessCom.RequestTimeout == 0 {
		c.Platforms.ChessCom.RequestTimeout = 10 * time.Second
	}
	if c.Platforms.Lichess.BaseURL == "" {
		c.Platforms.Lichess.BaseURL = "https://lichess.org"
	}
	if c.Platforms.Lichess.RequestSpacing == 0 {
		c.Platforms.Lichess.RequestSpacing = 1 * time.Second
	}
	if c.Platforms.Lichess.RequestTimeout == 0 {
		c.Platforms.Lichess.RequestTimeout = 10 * time.Second
	}
	if c.Platforms.MaxItems7d == 0 {
		c.Platforms.MaxItems7d = 400
	}
}

// DefaultConfig returns a configuration with all defaults
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.Sync.Enabled = true
	return cfg
}
