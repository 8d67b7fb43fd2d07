package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/vincentbai/browsetrace-collector/internal/observability"
	"github.com/vincentbai/browsetrace-collector/internal/store/backend"
)

const (
	// EnvPrefix namespaces every setting: BROWSETRACE_SERVER__PORT -> server.port.
	EnvPrefix = "BROWSETRACE_"
	// EnvConfigFile optionally points at a YAML file.
	EnvConfigFile = "BROWSETRACE_CONFIG"
)

type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Storage StorageConfig `koanf:"storage"`
	Log     LogConfig     `koanf:"log"`
	Tracing TracingConfig `koanf:"tracing"`
}

type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxy bool `koanf:"trust_proxy"`
}

// Address is the host:port to listen on.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type StorageConfig struct {
	URL            string        `koanf:"url"`
	Database       string        `koanf:"database"`
	ConnectTimeout time.Duration `koanf:"connect_timeout"`
}

// Backend converts the storage settings for backend.Opener.
func (s StorageConfig) Backend() backend.Config {
	return backend.Config{
		URL:            s.URL,
		Database:       s.Database,
		ConnectTimeout: s.ConnectTimeout,
	}
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Pretty bool   `koanf:"pretty"`
}

type TracingConfig struct {
	Enabled bool `koanf:"enabled"`
}

var defaults = map[string]any{
	"server.host":             "0.0.0.0",
	"server.port":             13100,
	"server.read_timeout":     5 * time.Second,
	"server.write_timeout":    10 * time.Second,
	"server.shutdown_timeout": 30 * time.Second,
	"server.trust_proxy":      false,
	"storage.url":             "file:///tmp",
	"storage.database":        "browsetrace",
	"storage.connect_timeout": 10 * time.Second,
	"log.level":               "info",
	"log.pretty":              false,
	"tracing.enabled":         false,
}

// Load layers defaults, the optional YAML file, the conventional PORT and
// STORAGE_URL variables, then BROWSETRACE_* variables (highest).
func Load() (*Config, error) {
	k := koanf.New(".")

	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, fmt.Errorf("failed to set default %s: %w", key, err)
		}
	}

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	// PORT and STORAGE_URL are what hosting platforms set
	if err := k.Load(env.ProviderWithValue("", ".", func(key, value string) (string, any) {
		switch key {
		case "PORT":
			return "server.port", value
		case "STORAGE_URL":
			return "storage.url", value
		}
		return "", nil
	}), nil); err != nil {
		return nil, err
	}

	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, any) {
		if key == EnvConfigFile {
			return "", nil
		}
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(key, EnvPrefix)), "__", "."), value
	}), nil); err != nil {
		return nil, err
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if strings.TrimSpace(c.Storage.URL) == "" {
		return fmt.Errorf("storage.url must not be empty")
	}
	if _, _, err := backend.Opener(c.Storage.Backend()); err != nil {
		return fmt.Errorf("storage.url: %w", err)
	}
	if _, err := observability.ParseLevel(c.Log.Level); err != nil {
		return err
	}
	return nil
}
