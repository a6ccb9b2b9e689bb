// Package config loads application settings from a YAML file with
// environment overrides.
//
// Environment variables use the TRELLIS_ prefix and the names in the env
// struct tags, for example TRELLIS_DEBUG=true or TRELLIS_REQUEST_TIMEOUT=5s.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every env tag.
const EnvPrefix = "TRELLIS_"

var (
	ErrRead  = errors.New("config: failed to read file")
	ErrParse = errors.New("config: failed to parse")
)

// Config is the framework configuration surface.
type Config struct {
	Name    string `yaml:"name" env:"NAME"`
	Debug   bool   `yaml:"debug" env:"DEBUG"`
	Address string `yaml:"address" env:"ADDRESS"`
	Domain  string `yaml:"domain" env:"DOMAIN"`

	// RequestTimeout is the default route timeout. 0 disables it.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// RequestLengthKiB is the default route body limit in KiB.
	RequestLengthKiB int64 `yaml:"request_length_kib" env:"REQUEST_LENGTH_KIB"`
	// MaxConcurrentRequests caps in-flight requests; beyond it requests get 503. 0 disables.
	MaxConcurrentRequests int64 `yaml:"max_concurrent_requests" env:"MAX_CONCURRENT_REQUESTS"`
	AllowGzip             bool  `yaml:"allow_gzip" env:"ALLOW_GZIP"`

	AllowWebSocket        bool          `yaml:"allow_websocket" env:"ALLOW_WEBSOCKET"`
	WebSocketMaxLengthKiB int64         `yaml:"websocket_max_length_kib" env:"WEBSOCKET_MAX_LENGTH_KIB"`
	WebSocketEncodeDecode bool          `yaml:"websocket_encode_decode" env:"WEBSOCKET_ENCODE_DECODE"`
	PingInterval          time.Duration `yaml:"ping_interval" env:"PING_INTERVAL"`

	CacheSweepInterval time.Duration `yaml:"cache_sweep_interval" env:"CACHE_SWEEP_INTERVAL"`
	CacheSnapshot      string        `yaml:"cache_snapshot" env:"CACHE_SNAPSHOT"`

	PublicDir string `yaml:"public_dir" env:"PUBLIC_DIR"`
	TempDir   string `yaml:"temp_dir" env:"TEMP_DIR"`

	LogLevel  string `yaml:"log_level" env:"LOG_LEVEL"`
	LogFormat string `yaml:"log_format" env:"LOG_FORMAT"`
	SentryDSN string `yaml:"sentry_dsn" env:"SENTRY_DSN"`

	RedisURL    string `yaml:"redis_url" env:"REDIS_URL"`
	NATSURL     string `yaml:"nats_url" env:"NATS_URL"`
	NATSSubject string `yaml:"nats_subject" env:"NATS_SUBJECT"`
	MetricsPath string `yaml:"metrics_path" env:"METRICS_PATH"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Name:                  "trellis",
		Address:               ":8000",
		RequestTimeout:        3 * time.Second,
		RequestLengthKiB:      10 * 1024,
		AllowGzip:             true,
		AllowWebSocket:        true,
		WebSocketMaxLengthKiB: 2 * 1024,
		PingInterval:          3 * time.Minute,
		CacheSweepInterval:    time.Minute,
		TempDir:               os.TempDir(),
		LogLevel:              "info",
		LogFormat:             "json",
		NATSSubject:           "trellis.process",
		ShutdownTimeout:       30 * time.Second,
	}
}

// Load reads path (skipped when empty) over the defaults, then applies env.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Join(ErrRead, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Join(ErrParse, fmt.Errorf("%s: %w", path, err))
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: EnvPrefix}); err != nil {
		return cfg, errors.Join(ErrParse, err)
	}
	return cfg, nil
}

// RequestLength is the default body limit in bytes.
func (c Config) RequestLength() int64 {
	return c.RequestLengthKiB * 1024
}

// WebSocketMaxLength is the WebSocket receive buffer limit in bytes.
func (c Config) WebSocketMaxLength() int {
	return int(c.WebSocketMaxLengthKiB * 1024)
}
