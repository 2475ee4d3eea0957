package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration as read from YAML.
type Config struct {
	Server struct {
		Host         string        `yaml:"host"`
		Port         string        `yaml:"port"`
		Prefork      bool          `yaml:"prefork"`
		ReadTimeout  time.Duration `yaml:"read_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
		IdleTimeout  time.Duration `yaml:"idle_timeout"`
	} `yaml:"server"`

	Limits struct {
		MaxSourceBytes int `yaml:"max_source_bytes"`
		MaxHTMLBytes   int `yaml:"max_html_bytes"`
	} `yaml:"limits"`

	Render RenderConfig `yaml:"render"`

	Logger struct {
		File       string `yaml:"file"`
		Level      string `yaml:"level"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logger"`

	Cache struct {
		RenderCacheEnabled bool          `yaml:"render_cache_enabled"`
		RenderCacheTTL     time.Duration `yaml:"render_cache_ttl"`
		RedisHost          string        `yaml:"redis_host"`
		RateLimitDB        int           `yaml:"redis_rate_db"`
		RenderCacheDB      int           `yaml:"redis_render_db"`
	} `yaml:"cache"`

	Auth struct {
		Postgres       PostgresConfig `yaml:"postgres"`
		ReloadInterval time.Duration  `yaml:"reload_interval"`
	} `yaml:"auth"`

	RateLimiter struct {
		Interval           time.Duration `yaml:"interval"`
		EnableTokenLimiter bool          `yaml:"enable_token_limiter"`
		EnableUserLimiter  bool          `yaml:"enable_user_limiter"`
		UserLimit          int           `yaml:"user_limit"`
	} `yaml:"rate_limiter"`
}

// RenderConfig controls the Asciidoc backend.
type RenderConfig struct {
	Backend       string            `yaml:"backend"`
	Standalone    bool              `yaml:"standalone"`
	AllowIncludes bool              `yaml:"allow_includes"`
	Attributes    map[string]string `yaml:"attributes"`
	// LastUpdated is the stamp in standalone footers. Zero means the Unix epoch.
	LastUpdated time.Time `yaml:"last_updated"`
}

// PostgresConfig describes the optional token database. An empty Host
// disables API keys entirely.
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Database string `yaml:"database"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"sslmode"`
}

// Enabled reports whether a token database is configured.
func (p PostgresConfig) Enabled() bool { return p.Host != "" }

const defaultPath = "config.yaml"

// Default returns the configuration used when no file is present.
func Default() Config {
	var cfg Config
	cfg.Server.Port = ":8080"
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 30 * time.Second
	cfg.Server.IdleTimeout = 60 * time.Second
	cfg.Limits.MaxSourceBytes = 1 << 20
	cfg.Limits.MaxHTMLBytes = 8 << 20
	cfg.Render.Backend = "html5"
	cfg.Render.Standalone = true
	cfg.Logger.Level = "info"
	cfg.Logger.MaxSizeMB = 10
	cfg.Logger.MaxBackups = 3
	cfg.Logger.MaxAgeDays = 7
	cfg.Cache.RenderCacheTTL = 24 * time.Hour
	cfg.Auth.ReloadInterval = time.Minute
	cfg.RateLimiter.Interval = time.Minute
	cfg.RateLimiter.EnableTokenLimiter = true
	return cfg
}

// Load reads the file named by CONFIG_PATH, or config.yaml when unset.
func Load() Config {
	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultPath
	}
	return LoadFrom(path)
}

// LoadFrom reads and validates the YAML file at path. A missing file yields
// the defaults. Invalid content panics: the process must not start with a
// half-read configuration.
func LoadFrom(path string) Config {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg
		}
		panic(fmt.Sprintf("config: read %s: %v", path, err))
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		panic(fmt.Sprintf("config: parse %s: %v", path, err))
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("config: %s: %v", path, err))
	}
	return cfg
}

// Validate checks values that would otherwise fail at request time.
func (c Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("server.port is empty")
	}
	if c.Limits.MaxSourceBytes <= 0 {
		return errors.New("limits.max_source_bytes must be positive")
	}
	if c.Limits.MaxHTMLBytes <= 0 {
		return errors.New("limits.max_html_bytes must be positive")
	}
	switch c.Render.Backend {
	case "html5", "xhtml5":
	default:
		return fmt.Errorf("render.backend %q not supported", c.Render.Backend)
	}
	if c.Cache.RenderCacheEnabled && c.Cache.RedisHost == "" {
		return errors.New("cache.render_cache_enabled requires cache.redis_host")
	}
	if c.Auth.Postgres.Enabled() && c.Auth.ReloadInterval <= 0 {
		return errors.New("auth.reload_interval must be positive")
	}
	if c.RateLimiter.UserLimit < 0 {
		return errors.New("rate_limiter.user_limit must not be negative")
	}
	if c.RateLimiter.Interval <= 0 {
		return errors.New("rate_limiter.interval must be positive")
	}
	return nil
}
