package config

import (
	"errors"
	"io/fs"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Store drivers for the device-local store.
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
	StoreMemory = "memory"
)

type Config struct {
	Server struct {
		Port           string   `yaml:"port"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"server"`
	Store struct {
		Driver string `yaml:"driver"`
		Path   string `yaml:"path"`
		Prefix string `yaml:"prefix"`
	} `yaml:"store"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`
	Postgres struct {
		URL           string `yaml:"url"`
		RemoteTimeout string `yaml:"remote_timeout"`
	} `yaml:"postgres"`
	Content struct {
		File string `yaml:"file"`
		TTL  string `yaml:"ttl"`
	} `yaml:"content"`
	Session struct {
		CompletionDelay string `yaml:"completion_delay"`
		TickInterval    string `yaml:"tick_interval"`
	} `yaml:"session"`
	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	cfg := Config{}
	cfg.Server.Port = "8080"
	cfg.Store.Driver = StoreSQLite
	cfg.Store.Path = "data/selfquiz.db"
	cfg.Log.Level = "info"
	return cfg
}

// Load reads YAML config from path over the defaults. A missing file is not an error.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}
