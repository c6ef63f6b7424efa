package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config is the complete sensorbus configuration.
type Config struct {
	Bus BusConfig `toml:"bus"`
	Log LogConfig `toml:"log"`
}

// BusConfig tunes the event bus and its delivery pool.
type BusConfig struct {
	// BufferCapacity is the per-subscriber event buffer size.
	BufferCapacity int `toml:"buffer_capacity"`

	// MaxWorkers caps the number of concurrent delivery workers.
	MaxWorkers int `toml:"max_workers"`

	// IdleTimeout is how long an idle worker lives before it is reaped.
	IdleTimeout Duration `toml:"idle_timeout"`

	// SaturationTimeout is how long scheduling waits for a free worker.
	SaturationTimeout Duration `toml:"saturation_timeout"`

	// GroupPendingCapacity bounds the items a subscriber group parks while
	// none of its members has demand.
	GroupPendingCapacity int `toml:"group_pending_capacity"`
}

// LogConfig selects the log level and output format.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

// Log formats.
const (
	FormatText = "text"
	FormatJSON = "json"
)

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Bus: BusConfig{
			BufferCapacity:       1024,
			MaxWorkers:           100,
			IdleTimeout:          Duration(10 * time.Second),
			SaturationTimeout:    Duration(5 * time.Second),
			GroupPendingCapacity: 1024,
		},
		Log: LogConfig{
			Level:  "info",
			Format: FormatText,
		},
	}
}

// Validate checks every setting and returns all failures joined. Each
// failure is a *ValidationError matching ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	add := func(field, msg string, value any) {
		errs = append(errs, &ValidationError{Field: field, Message: msg, Value: value})
	}

	if c.Bus.BufferCapacity <= 0 {
		add("bus.buffer_capacity", "must be positive", c.Bus.BufferCapacity)
	}
	if c.Bus.MaxWorkers <= 0 {
		add("bus.max_workers", "must be positive", c.Bus.MaxWorkers)
	}
	if c.Bus.IdleTimeout <= 0 {
		add("bus.idle_timeout", "must be positive", c.Bus.IdleTimeout)
	}
	if c.Bus.SaturationTimeout < 0 {
		add("bus.saturation_timeout", "must not be negative", c.Bus.SaturationTimeout)
	}
	if c.Bus.GroupPendingCapacity < 0 {
		add("bus.group_pending_capacity", "must not be negative", c.Bus.GroupPendingCapacity)
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		add("log.level", "unknown level", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case FormatText, FormatJSON:
	default:
		add("log.format", "must be text or json", c.Log.Format)
	}

	return errors.Join(errs...)
}

// Duration is a time.Duration read from and written as a Go duration
// string such as "250ms" or "10s".
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// String implements fmt.Stringer.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}
