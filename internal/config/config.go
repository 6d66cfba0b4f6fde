package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// DefaultMediaMaxBytes is the media cache ceiling used when none is configured.
const DefaultMediaMaxBytes int64 = 300 << 20

// DefaultFetchTimeout bounds a single media download.
const DefaultFetchTimeout = 15 * time.Second

// Config represents the global ~/.vczap/config.toml.
type Config struct {
	DefaultProfile string  `toml:"default_profile"`
	Media          Media   `toml:"media"`
	Remote         Remote  `toml:"remote"`
	Crypto         Crypto  `toml:"crypto"`
	Metrics        Metrics `toml:"metrics"`
	Log            Log     `toml:"log"`
}

// Media configures the on-disk media cache.
type Media struct {
	// Dir overrides the per-profile cache directory.
	Dir          string   `toml:"dir"`
	MaxBytes     int64    `toml:"max_bytes"`
	FetchTimeout Duration `toml:"fetch_timeout"`
	// FetchRate limits downloads per second; zero disables throttling.
	FetchRate  float64 `toml:"fetch_rate"`
	S3Region   string  `toml:"s3_region"`
	S3Endpoint string  `toml:"s3_endpoint"`
}

// Remote locates the document feed and profile API.
type Remote struct {
	FeedURL string `toml:"feed_url"`
	APIURL  string `toml:"api_url"`
	Token   string `toml:"token"`
	UserID  string `toml:"user_id"`
}

// Crypto holds the secret used to derive per-room content keys.
type Crypto struct {
	SharedSecret string `toml:"shared_secret"`
}

// Metrics configures the Prometheus endpoint. Empty disables it.
type Metrics struct {
	ListenAddr string `toml:"listen_addr"`
}

// Log configures the daemon logger.
type Log struct {
	Level string `toml:"level"`
}

// Duration is a time.Duration that decodes from TOML strings like "15s".
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns a config with every default filled in.
func Default() *Config {
	cfg := &Config{}
	cfg.WithDefaults()
	return cfg
}

// WithDefaults fills zero-valued fields with defaults and returns cfg.
func (cfg *Config) WithDefaults() *Config {
	if cfg.Media.MaxBytes <= 0 {
		cfg.Media.MaxBytes = DefaultMediaMaxBytes
	}
	if cfg.Media.FetchTimeout.Duration <= 0 {
		cfg.Media.FetchTimeout.Duration = DefaultFetchTimeout
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	return cfg
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return cfg.WithDefaults(), nil
}

// LoadOrDefault reads config from path, falling back to Default when the
// file does not exist. Parse errors are still returned.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
