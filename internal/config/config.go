// Package config loads the opcall CLI configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aponysus/opcall/budget"
	"github.com/aponysus/opcall/circuit"
	"github.com/aponysus/opcall/classify"
	"github.com/aponysus/opcall/internal/logging"
	"github.com/aponysus/opcall/retry"
)

const (
	DefaultServerAddr = ":8080"
	DefaultTimeout    = 30 * time.Second
)

// Config is the root of the configuration file.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Client ClientConfig `yaml:"client"`
	Server ServerConfig `yaml:"server"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ClientConfig configures the client used by "opcall call".
type ClientConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`

	Retry retry.Config `yaml:"retry"`

	// Quota names a budget registry entry.
	Quota string `yaml:"quota"`

	// Classifier names a classify registry entry.
	Classifier string `yaml:"classifier"`

	Circuit circuit.Config `yaml:"circuit"`

	Tracing bool `yaml:"tracing"`
}

// ServerConfig configures "opcall serve".
type ServerConfig struct {
	Addr      string `yaml:"addr"`
	BodyLimit int64  `yaml:"body_limit"`
	Metrics   bool   `yaml:"metrics"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads configuration from a YAML file. Environment variables in the
// file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML document.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = logging.FormatText
	}

	d := retry.DefaultConfig()
	if c.Client.Retry.MaxAttempts == 0 {
		c.Client.Retry.MaxAttempts = d.MaxAttempts
	}
	if c.Client.Retry.InitialBackoff == 0 {
		c.Client.Retry.InitialBackoff = d.InitialBackoff
	}
	if c.Client.Retry.Base == 0 {
		c.Client.Retry.Base = d.Base
	}
	if c.Client.Retry.MaxBackoff == 0 {
		c.Client.Retry.MaxBackoff = d.MaxBackoff
	}
	if c.Client.Timeout == 0 {
		c.Client.Timeout = DefaultTimeout
	}
	if c.Client.Quota == "" {
		c.Client.Quota = budget.NameUnlimited
	}
	if c.Client.Classifier == "" {
		c.Client.Classifier = classify.NameHTTP
	}

	if c.Server.Addr == "" {
		c.Server.Addr = DefaultServerAddr
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Log.Format) {
	case logging.FormatText, logging.FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("log.format must be %q or %q, got %q", logging.FormatText, logging.FormatJSON, c.Log.Format))
	}

	if _, _, err := c.Client.Retry.Normalize(); err != nil {
		errs = append(errs, fmt.Errorf("client.retry: %w", err))
	}
	if c.Client.Timeout < 0 {
		errs = append(errs, fmt.Errorf("client.timeout must not be negative, got %s", c.Client.Timeout))
	}
	switch c.Client.Quota {
	case budget.NameUnlimited, budget.NameTokenBucket:
	default:
		errs = append(errs, fmt.Errorf("client.quota: unknown quota %q", c.Client.Quota))
	}
	switch c.Client.Classifier {
	case classify.NameStandard, classify.NameModeledOnly, classify.NameHTTP:
	default:
		errs = append(errs, fmt.Errorf("client.classifier: unknown classifier %q", c.Client.Classifier))
	}
	if c.Client.Circuit.Enabled && c.Client.Circuit.Threshold < 0 {
		errs = append(errs, fmt.Errorf("client.circuit.threshold must not be negative, got %d", c.Client.Circuit.Threshold))
	}

	if strings.TrimSpace(c.Server.Addr) == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if c.Server.BodyLimit < 0 {
		errs = append(errs, fmt.Errorf("server.body_limit must not be negative, got %d", c.Server.BodyLimit))
	}

	return errors.Join(errs...)
}
