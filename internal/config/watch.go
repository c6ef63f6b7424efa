package config

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dshills/sensorbus/internal/config/watcher"
)

// DefaultReloadDebounce is how long a config file must be quiet before it
// is reloaded.
const DefaultReloadDebounce = 100 * time.Millisecond

// Watch returns a watcher that reloads the configuration at path whenever
// the file changes and passes the result to fn. A reload that fails to
// parse or validate is logged and skipped, keeping the previous settings.
//
// The caller runs the returned watcher:
//
//	w, err := config.Watch(path, apply, logger)
//	if err != nil { ... }
//	go w.Run(ctx)
func Watch(path string, fn func(*Config), logger *logrus.Entry) (*watcher.Watcher, error) {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	logger = logger.WithField("component", "config")

	w, err := watcher.New(path,
		watcher.WithDebounce(DefaultReloadDebounce),
		watcher.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	w.OnChange(func(ev watcher.Event) {
		if ev.Op == watcher.OpRemove {
			logger.Warn("Config file removed, keeping current settings")
			return
		}
		cfg, err := Load(path)
		if err != nil {
			logger.WithError(err).Warn("Ignoring invalid config reload")
			return
		}
		logger.WithField("op", ev.Op.String()).Info("Config reloaded")
		fn(cfg)
	})

	return w, nil
}
