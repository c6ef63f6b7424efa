package event

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/sensorbus/internal/config"
	"github.com/dshills/sensorbus/internal/event/dispatch"
)

// BusOption configures an event Bus.
type BusOption func(*busConfig)

// busConfig contains configuration for the event bus.
type busConfig struct {
	// bufferCapacity is the per-subscriber buffer size of every publisher.
	bufferCapacity int

	// maxWorkers caps the shared delivery pool.
	maxWorkers int

	// idleTimeout is how long an idle pool worker lives.
	idleTimeout time.Duration

	// saturationTimeout is how long a publish waits for a free worker.
	saturationTimeout time.Duration

	logger *logrus.Entry
}

// defaultBusConfig returns sensible default configuration.
func defaultBusConfig() busConfig {
	return busConfig{
		bufferCapacity:    DefaultBufferCapacity,
		maxWorkers:        dispatch.DefaultMaxWorkers,
		idleTimeout:       dispatch.DefaultIdleTimeout,
		saturationTimeout: dispatch.DefaultSaturationTimeout,
		logger:            logrus.NewEntry(logrus.StandardLogger()),
	}
}

// WithBufferCapacity sets the per-subscriber buffer size.
func WithBufferCapacity(n int) BusOption {
	return func(c *busConfig) {
		if n > 0 {
			c.bufferCapacity = n
		}
	}
}

// WithMaxWorkers caps the number of delivery goroutines.
func WithMaxWorkers(n int) BusOption {
	return func(c *busConfig) {
		if n > 0 {
			c.maxWorkers = n
		}
	}
}

// WithIdleTimeout sets how long an idle delivery goroutine lives.
func WithIdleTimeout(d time.Duration) BusOption {
	return func(c *busConfig) {
		if d > 0 {
			c.idleTimeout = d
		}
	}
}

// WithSaturationTimeout sets how long a publish waits for a free delivery
// goroutine before leaving events buffered.
func WithSaturationTimeout(d time.Duration) BusOption {
	return func(c *busConfig) {
		if d > 0 {
			c.saturationTimeout = d
		}
	}
}

// WithLogger sets the base logger.
func WithLogger(l *logrus.Entry) BusOption {
	return func(c *busConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithConfig applies the bus section of a loaded configuration.
func WithConfig(cfg config.BusConfig) BusOption {
	return func(c *busConfig) {
		WithBufferCapacity(cfg.BufferCapacity)(c)
		WithMaxWorkers(cfg.MaxWorkers)(c)
		WithIdleTimeout(cfg.IdleTimeout.Std())(c)
		WithSaturationTimeout(cfg.SaturationTimeout.Std())(c)
	}
}
