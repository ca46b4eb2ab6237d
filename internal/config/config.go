package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Environment variables that override the service section.
const (
	EnvURL    = "DESKLINE_URL"
	EnvAPIKey = "DESKLINE_API_KEY"
)

// Duration is a time.Duration written as "5m" or "3s" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config represents the global ~/.deskline/config.toml.
type Config struct {
	DefaultProfile string  `toml:"default_profile"`
	Service        Service `toml:"service"`
	Cache          Cache   `toml:"cache"`
	Typing         Typing  `toml:"typing"`
	Daemon         Daemon  `toml:"daemon"`
}

// Service locates the data service clients talk to.
type Service struct {
	URL    string `toml:"url"`
	APIKey string `toml:"api_key"`
}

type Cache struct {
	CustomerTTL Duration `toml:"customer_ttl"`
}

type Typing struct {
	IdleTimeout Duration `toml:"idle_timeout"`
	StaleAfter  Duration `toml:"stale_after"`
}

// Daemon configures desklined. Listen and HTTPListen are TCP addresses;
// an empty Listen serves gRPC on the unix socket in DataDir only.
type Daemon struct {
	Listen     string   `toml:"listen"`
	HTTPListen string   `toml:"http_listen"`
	APIKeys    []string `toml:"api_keys"`
	RedisURL   string   `toml:"redis_url"`
	DataDir    string   `toml:"data_dir"`
	CORSOrigin []string `toml:"cors_origins"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		Cache:  Cache{CustomerTTL: Duration{5 * time.Minute}},
		Typing: Typing{IdleTimeout: Duration{3 * time.Second}, StaleAfter: Duration{30 * time.Second}},
		Daemon: Daemon{HTTPListen: "127.0.0.1:7071"},
	}
}

// Load reads config from the given path on top of the defaults.
// Returns nil and an error if the file is missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault reads config from path, falling back to the defaults when
// the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, nil
	}
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return nil, err
}

// ApplyEnv loads a .env file from the working directory if present and lets
// DESKLINE_URL / DESKLINE_API_KEY override the service section.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()
	if v := os.Getenv(EnvURL); v != "" {
		c.Service.URL = v
	}
	if v := os.Getenv(EnvAPIKey); v != "" {
		c.Service.APIKey = v
	}
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
