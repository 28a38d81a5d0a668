package retry

import (
	"fmt"
	"math"
	"strconv"
	"time"
)

// Default retry configuration.
const (
	DefaultMaxAttempts    = 3
	DefaultInitialBackoff = 1 * time.Second
	DefaultBase           = 2.0
	DefaultMaxBackoff     = 20 * time.Second
)

// Config controls how many attempts a call makes and how long it waits
// between them.
//
// The wait before attempt n (n >= 2) is InitialBackoff * Base^(n-2), capped at
// MaxBackoff when MaxBackoff > 0. There is no jitter: the schedule is exact.
type Config struct {
	MaxAttempts    int           `yaml:"max_attempts"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`
	Base           float64       `yaml:"base"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`

	// AttemptTimeout bounds each attempt. Zero means no per-attempt bound.
	AttemptTimeout time.Duration `yaml:"attempt_timeout"`
	// OperationTimeout bounds the whole call, waits included.
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// Option mutates a Config.
type Option func(*Config)

// DefaultConfig returns 3 attempts, 1s initial backoff, base 2 and a 20s cap.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    DefaultMaxAttempts,
		InitialBackoff: DefaultInitialBackoff,
		Base:           DefaultBase,
		MaxBackoff:     DefaultMaxBackoff,
	}
}

// NewConfig applies opts on top of DefaultConfig.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}
	return cfg
}

func WithMaxAttempts(n int) Option {
	return func(c *Config) { c.MaxAttempts = n }
}

func WithInitialBackoff(d time.Duration) Option {
	return func(c *Config) { c.InitialBackoff = d }
}

func WithBase(b float64) Option {
	return func(c *Config) { c.Base = b }
}

// WithMaxBackoff sets the backoff cap. Zero disables the cap.
func WithMaxBackoff(d time.Duration) Option {
	return func(c *Config) { c.MaxBackoff = d }
}

func WithAttemptTimeout(d time.Duration) Option {
	return func(c *Config) { c.AttemptTimeout = d }
}

func WithOperationTimeout(d time.Duration) Option {
	return func(c *Config) { c.OperationTimeout = d }
}

// Disabled makes every call a single attempt.
func Disabled() Option {
	return func(c *Config) { c.MaxAttempts = 1 }
}

// ConfigError indicates a configuration that cannot be clamped into range.
type ConfigError struct {
	Field string
	Value string
}

func (e *ConfigError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return fmt.Sprintf("opcall: invalid retry config: %s=%q", e.Field, e.Value)
}

// Normalize clamps out-of-range fields and reports which fields changed.
//
// A zero MaxAttempts or Base takes the default. Negative durations become
// zero and a MaxBackoff below InitialBackoff is raised to it. A NaN or
// infinite Base is rejected.
func (c Config) Normalize() (Config, []string, error) {
	n := c
	var changed []string

	markChanged := func(field string) {
		for _, f := range changed {
			if f == field {
				return
			}
		}
		changed = append(changed, field)
	}

	if n.MaxAttempts == 0 {
		n.MaxAttempts = DefaultMaxAttempts
		markChanged("max_attempts")
	}
	if n.MaxAttempts < 1 {
		n.MaxAttempts = 1
		markChanged("max_attempts")
	}

	if math.IsNaN(n.Base) || math.IsInf(n.Base, 0) {
		return Config{}, nil, &ConfigError{Field: "base", Value: strconv.FormatFloat(n.Base, 'g', -1, 64)}
	}
	if n.Base == 0 {
		n.Base = DefaultBase
		markChanged("base")
	}
	if n.Base < 1 {
		n.Base = 1
		markChanged("base")
	}

	if n.InitialBackoff < 0 {
		n.InitialBackoff = 0
		markChanged("initial_backoff")
	}
	if n.MaxBackoff < 0 {
		n.MaxBackoff = 0
		markChanged("max_backoff")
	}
	if n.MaxBackoff > 0 && n.MaxBackoff < n.InitialBackoff {
		n.MaxBackoff = n.InitialBackoff
		markChanged("max_backoff")
	}

	if n.AttemptTimeout < 0 {
		n.AttemptTimeout = 0
		markChanged("attempt_timeout")
	}
	if n.OperationTimeout < 0 {
		n.OperationTimeout = 0
		markChanged("operation_timeout")
	}

	return n, changed, nil
}

// Backoff returns the wait before attempt. It is zero for the first attempt.
func (c Config) Backoff(attempt int) time.Duration {
	if attempt <= 1 || c.InitialBackoff <= 0 {
		return 0
	}
	base := c.Base
	if base < 1 || math.IsNaN(base) {
		base = 1
	}

	d := float64(c.InitialBackoff) * math.Pow(base, float64(attempt-2))
	return capBackoff(d, c.MaxBackoff)
}

func capBackoff(d float64, max time.Duration) time.Duration {
	if math.IsNaN(d) || d < 0 {
		return 0
	}
	if max > 0 && d > float64(max) {
		return max
	}
	if d >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(d)
}
