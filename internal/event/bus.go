package event

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/dshills/sensorbus/internal/event/dispatch"
	"github.com/dshills/sensorbus/internal/flow"
)

// Bus is the topic registry. It creates publishers on demand and shares one
// delivery pool among them.
type Bus struct {
	config   busConfig
	pool     *dispatch.Pool
	registry *registry
	logger   *logrus.Entry
}

// NewBus creates a new event bus with the given options.
func NewBus(opts ...BusOption) *Bus {
	config := defaultBusConfig()
	for _, opt := range opts {
		opt(&config)
	}

	b := &Bus{
		config: config,
		logger: config.logger.WithField("component", "bus"),
	}
	b.pool = dispatch.NewPool(
		dispatch.WithMaxWorkers(config.maxWorkers),
		dispatch.WithIdleTimeout(config.idleTimeout),
		dispatch.WithSaturationTimeout(config.saturationTimeout),
		dispatch.WithPoolLogger(config.logger.WithField("component", "pool")),
	)
	b.registry = newRegistry(b.newPublisher)
	return b
}

func (b *Bus) newPublisher(id string) *BufferedPublisher {
	b.logger.WithField("topic", id).Debug("Creating publisher")
	return NewBufferedPublisher(id, b.pool,
		WithCapacity(b.config.bufferCapacity),
		WithPublisherLogger(b.config.logger.WithField("component", "publisher")),
	)
}

// GetPublisher returns the publisher of topicID, creating it on first use.
// Subscribers that arrived before the publisher existed are attached now.
func (b *Bus) GetPublisher(topicID string) (*BufferedPublisher, error) {
	if topicID == "" {
		return nil, &TopicError{Topic: topicID, Err: ErrInvalidTopic}
	}
	return b.registry.ensure(topicID)
}

// GetGroupPublisher returns the publisher for the sub-topic topicID of
// group groupID, creating it on first use. Events go to the group's
// publisher; subscribers of the sub-topic only see events whose source ID
// equals topicID. The sub-topic is registered under topicID, so
// subscribers that arrived for topicID before it existed are attached now.
func (b *Bus) GetGroupPublisher(groupID, topicID string) (Publisher, error) {
	if topicID == "" {
		return nil, &TopicError{Topic: topicID, Err: ErrInvalidTopic}
	}
	parent, err := b.GetPublisher(groupID)
	if err != nil {
		return nil, err
	}
	return b.registry.ensureDerived(groupID, topicID, parent)
}

// Subscribe attaches s to topicID. If the topic has no publisher yet, the
// subscription is deferred until one is created.
func (b *Bus) Subscribe(topicID string, s flow.Subscriber[Event]) error {
	return b.SubscribeFiltered(topicID, s, nil)
}

// SubscribeFiltered is like Subscribe with a predicate.
func (b *Bus) SubscribeFiltered(topicID string, s flow.Subscriber[Event], pred Predicate) error {
	if topicID == "" {
		return &TopicError{Topic: topicID, Err: ErrInvalidTopic}
	}
	if s == nil {
		return ErrNilSubscriber
	}
	b.registry.subscribe(topicID, s, pred)
	return nil
}

// NumSubscribers returns the subscribers of topicID, including those
// waiting for the publisher to be created. Unknown topics have none.
func (b *Bus) NumSubscribers(topicID string) int {
	return b.registry.numSubscribers(topicID)
}

// Topics returns the IDs of all created publishers.
func (b *Bus) Topics() []string {
	return b.registry.topics()
}

// Close completes every publisher. Subscribers receive OnComplete after
// their buffered events are delivered.
func (b *Bus) Close() {
	for _, p := range b.registry.all() {
		p.Close()
	}
}

// Shutdown stops the delivery pool immediately. Later deliveries fail and
// events still buffered are abandoned.
func (b *Bus) Shutdown() {
	b.pool.Shutdown()
}

// Wait blocks until every delivery goroutine has exited or ctx is done.
func (b *Bus) Wait(ctx context.Context) error {
	return b.pool.Wait(ctx)
}

// PoolStats returns delivery pool statistics.
func (b *Bus) PoolStats() dispatch.PoolStats {
	return b.pool.Stats()
}
