// Package config loads opal's YAML configuration.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

const (
	DefaultModel     = "anthropic:claude-sonnet-4-6"
	DefaultMaxTokens = 1024
	DefaultAddr      = ":8080"
)

type Config struct {
	Model         string         `yaml:"model" validate:"required"`
	MaxTokens     int            `yaml:"max_tokens" validate:"gt=0"`
	Temperature   *float64       `yaml:"temperature,omitempty" validate:"omitempty,gte=0,lte=2"`
	System        string         `yaml:"system,omitempty"`
	Log           LogConfig      `yaml:"log"`
	Server        ServerConfig   `yaml:"server"`
	Database      DatabaseConfig `yaml:"database"`
	CheckpointDir string         `yaml:"checkpoint_dir,omitempty"`
}

type LogConfig struct {
	Level  string `yaml:"level" validate:"oneofci=debug info warn error"`
	Format string `yaml:"format" validate:"oneofci=text json"`
}

type ServerConfig struct {
	Addr string `yaml:"addr" validate:"required"`
}

type DatabaseConfig struct {
	// URL is a postgres connection string. Empty selects the in-memory store.
	URL string `yaml:"url,omitempty"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Model:     DefaultModel,
		MaxTokens: DefaultMaxTokens,
		Log:       LogConfig{Level: "info", Format: "text"},
		Server:    ServerConfig{Addr: DefaultAddr},
	}
}

// Load reads path over the defaults, applies environment overrides and
// validates the result. An empty path or a missing file yields defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return cfg, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"OPAL_MODEL":      &c.Model,
		"OPAL_SYSTEM":     &c.System,
		"OPAL_LOG_LEVEL":  &c.Log.Level,
		"OPAL_LOG_FORMAT": &c.Log.Format,
		"OPAL_ADDR":       &c.Server.Addr,
		"DATABASE_URL":    &c.Database.URL,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	if v, ok := lookup("OPAL_MAX_TOKENS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("OPAL_MAX_TOKENS: %w", err)
		}
		c.MaxTokens = n
	}
	if v, ok := lookup("OPAL_TEMPERATURE"); ok && v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("OPAL_TEMPERATURE: %w", err)
		}
		c.Temperature = &f
	}
	return nil
}

var validate = validator.New()

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Save writes c to path as YAML.
func (c Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
