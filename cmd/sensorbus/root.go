package main

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/dshills/sensorbus/internal/config"
	"github.com/dshills/sensorbus/internal/config/loader"
	"github.com/dshills/sensorbus/internal/event"
	"github.com/dshills/sensorbus/internal/logging"
)

// shutdownTimeout bounds how long the command waits for delivery workers.
const shutdownTimeout = 5 * time.Second

// cli holds state shared by all commands.
type cli struct {
	configPath string
	logLevel   string

	cfg *config.Config
	log *logrus.Logger
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "sensorbus",
		Short: "In-process event bus for sensor streams",
		Long: `sensorbus drives the in-process event bus from the command line.

simulate runs synthetic sensors through group publishers, a load-balanced
worker group and an aggregate lifecycle stream. replay publishes recorded
JSON-lines events and tails them back out, optionally through a Lua filter.`,
		Version:           fmt.Sprintf("%s (commit %s, built %s)", version, commit, date),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&c.configPath, "config", "c", loader.GetEnvOrDefault(config.EnvPrefix+"CONFIG", ""), "Path to configuration file")
	flags.StringVar(&c.logLevel, "log-level", "", "Log level override (trace, debug, info, warn, error)")

	root.AddCommand(newSimulateCmd(c), newReplayCmd(c))
	return root
}

// setup loads the configuration and builds the logger.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("--log-level: %w", err)
		}
	}

	log, err := logging.NewWithOutput(cfg.Log, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	c.cfg = cfg
	c.log = log
	return nil
}

// newBus creates a bus from the loaded configuration.
func (c *cli) newBus() *event.Bus {
	return event.NewBus(
		event.WithConfig(c.cfg.Bus),
		event.WithLogger(logging.Component(c.log, "bus")),
	)
}

// stopBus stops delivery and waits for the workers to exit.
func (c *cli) stopBus(bus *event.Bus) {
	bus.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := bus.Wait(ctx); err != nil {
		c.log.WithError(err).Warn("Delivery workers did not stop in time")
	}
}

// watchConfig reloads the log settings whenever the config file changes.
// The returned function stops the watcher.
func (c *cli) watchConfig(ctx context.Context) (func(), error) {
	if c.configPath == "" {
		return nil, fmt.Errorf("--watch requires --config")
	}

	w, err := config.Watch(c.configPath, func(cfg *config.Config) {
		logCfg := cfg.Log
		if c.logLevel != "" {
			logCfg.Level = c.logLevel
		}
		if err := logging.Apply(c.log, logCfg); err != nil {
			c.log.WithError(err).Warn("Could not apply reloaded log settings")
		}
	}, logrus.NewEntry(c.log))
	if err != nil {
		return nil, fmt.Errorf("watch config: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()

	return func() {
		cancel()
		<-done
	}, nil
}

// waitGroupDone waits for wait to return or ctx to end.
func waitGroupDone(ctx context.Context, wait func()) error {
	done := make(chan struct{})
	go func() {
		wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
