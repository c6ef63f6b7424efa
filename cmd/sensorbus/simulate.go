package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tidwall/sjson"

	"github.com/dshills/sensorbus/internal/codec"
	"github.com/dshills/sensorbus/internal/event"
	"github.com/dshills/sensorbus/internal/event/events"
	"github.com/dshills/sensorbus/internal/flow"
	"github.com/dshills/sensorbus/internal/logging"
	"github.com/dshills/sensorbus/internal/script"
)

// workerWindow is the demand each group worker keeps outstanding.
const workerWindow = 32

type simulateOptions struct {
	sensors  int
	count    int
	workers  int
	group    string
	interval time.Duration
	filter   string
	watch    bool
}

func newSimulateCmd(c *cli) *cobra.Command {
	opts := &simulateOptions{}

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run synthetic sensors through the bus",
		Long: `Run synthetic sensors through the bus.

Every sensor publishes its lifecycle on its own status topic and its
readings on a sub-topic of the group topic. Status events are merged into
one stream and printed as JSON lines. Readings are load balanced across a
group of workers. A summary line is printed when all sensors have stopped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.simulate(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.IntVar(&opts.sensors, "sensors", 4, "Number of sensors")
	f.IntVar(&opts.count, "count", 100, "Readings per sensor")
	f.IntVar(&opts.workers, "workers", 3, "Workers in the reading group")
	f.StringVar(&opts.group, "group", "plant", "Group topic for readings")
	f.DurationVar(&opts.interval, "interval", 0, "Delay between readings of one sensor")
	f.StringVar(&opts.filter, "filter", "", "Lua expression selecting readings for the workers")
	f.BoolVar(&opts.watch, "watch", false, "Reload log settings when the config file changes")
	return cmd
}

func (c *cli) simulate(cmd *cobra.Command, opts *simulateOptions) error {
	if opts.sensors <= 0 || opts.workers <= 0 || opts.count < 0 {
		return fmt.Errorf("--sensors and --workers must be positive and --count not negative")
	}
	ctx := cmd.Context()
	log := logging.Component(c.log, "simulate")

	if opts.watch {
		stop, err := c.watchConfig(ctx)
		if err != nil {
			return err
		}
		defer stop()
	}

	readings := event.FilterByType(event.TypeOf[events.DataEvent]())
	if opts.filter != "" {
		f, err := script.Compile(opts.filter, script.WithLogger(logging.Component(c.log, "script")))
		if err != nil {
			return err
		}
		defer f.Close()
		readings = event.FilterAnd(readings, f.Predicate())
	}

	bus := c.newBus()
	defer c.stopBus(bus)
	out := codec.NewWriter(cmd.OutOrStdout())

	sensorIDs := make([]string, opts.sensors)
	statusTopics := make([]string, opts.sensors)
	for i := range sensorIDs {
		sensorIDs[i] = fmt.Sprintf("sensor-%d", i+1)
		statusTopics[i] = "status." + sensorIDs[i]
	}

	// Lifecycle stream. Subscribed before the status publishers exist, so it
	// waits on placeholders and attaches when each sensor starts.
	listeners := event.NewListenerDispatcher(logging.Component(c.log, "status"))
	printStatus := event.ListenerFunc(func(e event.Event) {
		if err := out.Write(e, "status."+e.SourceID()); err != nil {
			log.WithError(err).Error("Failed to write status event")
		}
	})
	if err := listeners.RegisterListener(&printStatus); err != nil {
		return err
	}

	statusDone := make(chan struct{})
	var closeStatus sync.Once
	finishStatus := func() { closeStatus.Do(func() { close(statusDone) }) }
	event.NewSubscription[events.StatusEvent](bus).
		WithTopicIDs(statusTopics...).
		SubscribeAll(
			func(e events.StatusEvent) { listeners.Publish(e) },
			func(err error) {
				log.WithError(err).Error("Status stream failed")
				finishStatus()
			},
			finishStatus,
		)

	// Reading workers share one subscription on the group topic.
	group := flow.NewSubscriberGroup[event.Event](
		flow.WithPendingCapacity(c.cfg.Bus.GroupPendingCapacity),
		flow.WithGroupLogger(logging.Component(c.log, "group").WithField("group", opts.group)),
	)
	var workersDone sync.WaitGroup
	workers := make([]*readingWorker, opts.workers)
	for i := range workers {
		workersDone.Add(1)
		workers[i] = newReadingWorker(i+1, log, workersDone.Done)
		group.AddConsumer(workers[i])
	}
	if err := bus.SubscribeFiltered(opts.group, group, readings); err != nil {
		return err
	}

	var sensorsDone sync.WaitGroup
	for _, id := range sensorIDs {
		status, err := bus.GetPublisher("status." + id)
		if err != nil {
			return err
		}
		data, err := bus.GetGroupPublisher(opts.group, id)
		if err != nil {
			return err
		}

		s := &sensor{
			id:       id,
			status:   status,
			data:     data,
			count:    opts.count,
			interval: opts.interval,
			capacity: c.cfg.Bus.BufferCapacity,
			log:      log.WithField("sensor", id),
		}
		sensorsDone.Add(1)
		go func() {
			defer sensorsDone.Done()
			s.run(ctx)
		}()
	}

	sensorsDone.Wait()
	if err := waitClosed(ctx, statusDone); err != nil {
		return err
	}

	groupPub, err := bus.GetPublisher(opts.group)
	if err != nil {
		return err
	}
	groupPub.Close()
	if err := waitGroupDone(ctx, workersDone.Wait); err != nil {
		return err
	}

	for _, w := range workers {
		line, err := sjson.SetBytes([]byte("{}"), "worker", w.id)
		if err == nil {
			line, err = sjson.SetBytes(line, "readings", w.readings.Load())
		}
		if err != nil {
			return err
		}
		if err := out.WriteRaw(line); err != nil {
			return err
		}
	}

	summary, err := simulationSummary(opts.sensors, groupPub.Stats(), bus.PoolStats().Spawned)
	if err != nil {
		return err
	}
	return out.WriteRaw(summary)
}

func simulationSummary(sensors int, stats event.PublisherStats, spawned uint64) ([]byte, error) {
	fields := []struct {
		key   string
		value any
	}{
		{"sensors", sensors},
		{"published", stats.Published},
		{"delivered", stats.Delivered},
		{"dropped", stats.Dropped},
		{"poolWorkers", spawned},
	}

	out := []byte("{}")
	var err error
	for _, f := range fields {
		if out, err = sjson.SetBytes(out, f.key, f.value); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// sensor publishes a lifecycle and a series of readings.
type sensor struct {
	id       string
	status   *event.BufferedPublisher
	data     event.Publisher
	count    int
	interval time.Duration
	capacity int
	log      *logrus.Entry
}

func (s *sensor) run(ctx context.Context) {
	defer s.status.Close()
	s.status.Publish(events.NewStatusEvent(s.id, events.SensorStarted))

	for i := 0; i < s.count; i++ {
		if ctx.Err() != nil {
			s.log.Info("Interrupted")
			break
		}

		reading := events.NewDataEvent(s.id, "temperature", 18+float64(i%16)*0.5)
		lag := s.data.PublishWithDrop(reading, s.retryDrop)

		// Back off while the slowest consumer is half full.
		if lag >= s.capacity/2 {
			time.Sleep(time.Millisecond)
		}
		if s.interval > 0 {
			time.Sleep(s.interval)
		}
	}

	s.status.Publish(events.NewStatusEvent(s.id, events.SensorStopped))
}

// retryDrop waits briefly for the consumer to catch up and asks for one
// more attempt.
func (s *sensor) retryDrop(_ flow.Subscriber[event.Event], e event.Event) bool {
	s.log.WithField("ts", e.Timestamp()).Debug("Buffer full, retrying")
	time.Sleep(5 * time.Millisecond)
	return true
}

// readingWorker is one member of the reading group.
type readingWorker struct {
	id       int
	log      *logrus.Entry
	sub      flow.Subscription
	readings atomic.Int64
	done     sync.Once
	onDone   func()
}

func newReadingWorker(id int, log *logrus.Entry, onDone func()) *readingWorker {
	return &readingWorker{id: id, log: log.WithField("worker", id), onDone: onDone}
}

func (w *readingWorker) OnSubscribe(s flow.Subscription) {
	w.sub = s
	s.Request(workerWindow)
}

func (w *readingWorker) OnNext(_ event.Event) {
	w.readings.Add(1)
	w.sub.Request(1)
}

func (w *readingWorker) OnError(err error) {
	w.log.WithError(err).Error("Reading stream failed")
	w.done.Do(w.onDone)
}

func (w *readingWorker) OnComplete() {
	w.log.WithField("readings", w.readings.Load()).Debug("Reading stream complete")
	w.done.Do(w.onDone)
}

// waitClosed waits for ch to be closed or ctx to end.
func waitClosed(ctx context.Context, ch <-chan struct{}) error {
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
