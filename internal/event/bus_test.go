package event

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sensorbus/internal/config"
	"github.com/dshills/sensorbus/internal/flow"
)

func TestBus_GetPublisher(t *testing.T) {
	bus := newTestBus(t)

	p1, err := bus.GetPublisher("sensor-1")
	require.NoError(t, err)
	p2, err := bus.GetPublisher("sensor-1")
	require.NoError(t, err)
	assert.Same(t, p1, p2, "GetPublisher is idempotent")
	assert.Equal(t, "sensor-1", p1.ID())

	_, err = bus.GetPublisher("")
	assert.ErrorIs(t, err, ErrInvalidTopic)
}

func TestBus_GetPublisher_Concurrent(t *testing.T) {
	bus := newTestBus(t)

	const n = 32
	pubs := make([]*BufferedPublisher, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			pubs[i], _ = bus.GetPublisher("shared")
		}(i)
	}
	wg.Wait()

	for _, p := range pubs[1:] {
		assert.Same(t, pubs[0], p)
	}
	assert.Equal(t, []string{"shared"}, bus.Topics())
}

func TestBus_PlaceholderTransfer(t *testing.T) {
	bus := newTestBus(t)

	c := newCollector(flow.Unbounded)
	require.NoError(t, bus.Subscribe("late-topic", c))
	assert.Nil(t, c.Subscription(), "no OnSubscribe before the publisher exists")
	assert.Equal(t, 1, bus.NumSubscribers("late-topic"))
	assert.Empty(t, bus.Topics(), "placeholders are not publishers")

	pub, err := bus.GetPublisher("late-topic")
	require.NoError(t, err)
	require.NotNil(t, c.Subscription(), "transferred on creation")
	assert.Equal(t, 1, pub.NumSubscribers())

	pub.Publish(newReading("late-topic", 7))
	require.Eventually(t, func() bool { return c.Len() == 1 }, waitFor, tick)
	assert.Equal(t, []int{7}, values(c.Events()))
}

func TestBus_GroupPublisher(t *testing.T) {
	bus := newTestBus(t)

	a, err := bus.GetGroupPublisher("group", "sensor-a")
	require.NoError(t, err)
	b, err := bus.GetGroupPublisher("group", "sensor-b")
	require.NoError(t, err)
	assert.Equal(t, "sensor-a", a.ID())

	onlyA := newCollector(flow.Unbounded)
	a.Subscribe(onlyA)
	bigA := newCollector(flow.Unbounded)
	a.SubscribeFiltered(bigA, func(e Event) bool { return e.(reading).value > 1 })
	whole := newCollector(flow.Unbounded)
	require.NoError(t, bus.Subscribe("group", whole))

	a.Publish(newReading("sensor-a", 1))
	b.Publish(newReading("sensor-b", 2))
	a.Publish(newReading("sensor-a", 3))

	require.Eventually(t, func() bool { return whole.Len() == 3 }, waitFor, tick)
	require.Eventually(t, func() bool { return onlyA.Len() == 2 }, waitFor, tick)
	require.Eventually(t, func() bool { return bigA.Len() == 1 }, waitFor, tick)

	assert.Equal(t, []int{1, 3}, values(onlyA.Events()))
	assert.Equal(t, []int{3}, values(bigA.Events()))
	assert.Equal(t, []int{1, 2, 3}, values(whole.Events()))
	assert.Equal(t, 3, a.NumSubscribers(), "sub-topics share the group publisher")

	_, err = bus.GetGroupPublisher("", "sensor-a")
	assert.ErrorIs(t, err, ErrInvalidTopic)
	_, err = bus.GetGroupPublisher("group", "")
	assert.ErrorIs(t, err, ErrInvalidTopic)
}

func TestBus_GroupPlaceholder(t *testing.T) {
	bus := newTestBus(t)

	c := newCollector(flow.Unbounded)
	future := NewSubscription[Event](bus).
		WithGroupID("group").
		WithTopicIDs("sensor-a").
		Subscribe(c)
	_, done := future.TryGet()
	assert.False(t, done)

	pub, err := bus.GetGroupPublisher("group", "sensor-a")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = future.Get(ctx)
	require.NoError(t, err)

	pub.Publish(newReading("sensor-a", 1))
	pub.Publish(newReading("sensor-z", 2))
	require.Eventually(t, func() bool { return c.Len() == 1 }, waitFor, tick)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, []int{1}, values(c.Events()))
}

func TestBus_GroupSubTopicByID(t *testing.T) {
	bus := newTestBus(t)

	early := newCollector(flow.Unbounded)
	earlyFuture := NewSubscription[Event](bus).WithTopicIDs("sensor-a").Subscribe(early)
	_, done := earlyFuture.TryGet()
	assert.False(t, done, "no publisher for sensor-a yet")

	a, err := bus.GetGroupPublisher("group", "sensor-a")
	require.NoError(t, err)
	again, err := bus.GetGroupPublisher("group", "sensor-a")
	require.NoError(t, err)
	assert.Same(t, a, again, "sub-topic publishers are reused")

	late := newCollector(flow.Unbounded)
	lateFuture := NewSubscription[Event](bus).WithTopicIDs("sensor-a").Subscribe(late)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = earlyFuture.Get(ctx)
	require.NoError(t, err, "placeholder moved onto the sub-topic")
	_, err = lateFuture.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"group", "sensor-a"}, bus.Topics())

	b, err := bus.GetGroupPublisher("group", "sensor-b")
	require.NoError(t, err)
	a.Publish(newReading("sensor-a", 1))
	b.Publish(newReading("sensor-b", 2))
	a.Publish(newReading("sensor-a", 3))

	require.Eventually(t, func() bool { return early.Len() == 2 && late.Len() == 2 }, waitFor, tick)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, []int{1, 3}, values(early.Events()))
	assert.Equal(t, []int{1, 3}, values(late.Events()))

	_, err = bus.GetPublisher("sensor-a")
	assert.ErrorIs(t, err, ErrTopicConflict)
	_, err = bus.GetGroupPublisher("other", "sensor-a")
	assert.ErrorIs(t, err, ErrTopicConflict)
}

func TestBus_NumSubscribers(t *testing.T) {
	bus := newTestBus(t)
	assert.Equal(t, 0, bus.NumSubscribers("unknown"))

	pub, err := bus.GetPublisher("t")
	require.NoError(t, err)
	pub.Subscribe(newCollector(0))
	pub.Subscribe(newCollector(0))
	assert.Equal(t, 2, bus.NumSubscribers("t"))
}

func TestBus_Subscribe_Errors(t *testing.T) {
	bus := newTestBus(t)
	assert.ErrorIs(t, bus.Subscribe("", newCollector(0)), ErrInvalidTopic)
	assert.ErrorIs(t, bus.Subscribe("t", nil), ErrNilSubscriber)
}

func TestBus_Close(t *testing.T) {
	bus := newTestBus(t)

	c1, c2 := newCollector(flow.Unbounded), newCollector(flow.Unbounded)
	p1, _ := bus.GetPublisher("one")
	p2, _ := bus.GetPublisher("two")
	p1.Subscribe(c1)
	p2.Subscribe(c2)
	p1.Publish(newReading("one", 1))

	bus.Close()

	require.Eventually(t, func() bool {
		return c1.Completes() == 1 && c2.Completes() == 1
	}, waitFor, tick)
	assert.Equal(t, []int{1}, values(c1.Events()))
}

func TestBus_Shutdown(t *testing.T) {
	bus := newTestBus(t, WithSaturationTimeout(10*time.Millisecond))

	pub, _ := bus.GetPublisher("t")
	c := newCollector(flow.Unbounded)
	pub.Subscribe(c)

	bus.Shutdown()
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, bus.Wait(ctx))

	assert.NotPanics(t, func() { pub.Publish(newReading("t", 1)) })
	time.Sleep(10 * time.Millisecond)
	assert.Zero(t, c.Len(), "no delivery after shutdown")
	assert.Zero(t, bus.PoolStats().Workers)
}

func TestBus_WithConfig(t *testing.T) {
	cfg := defaultBusConfig()
	WithConfig(config.BusConfig{
		BufferCapacity:    8,
		MaxWorkers:        2,
		IdleTimeout:       config.Duration(time.Second),
		SaturationTimeout: config.Duration(50 * time.Millisecond),
	})(&cfg)

	assert.Equal(t, 8, cfg.bufferCapacity)
	assert.Equal(t, 2, cfg.maxWorkers)
	assert.Equal(t, time.Second, cfg.idleTimeout)
	assert.Equal(t, 50*time.Millisecond, cfg.saturationTimeout)

	// zero values keep the defaults
	cfg = defaultBusConfig()
	WithConfig(config.BusConfig{})(&cfg)
	assert.Equal(t, DefaultBufferCapacity, cfg.bufferCapacity)

	cfg = defaultBusConfig()
	WithBufferCapacity(16)(&cfg)
	WithBufferCapacity(-1)(&cfg)
	assert.Equal(t, 16, cfg.bufferCapacity)
}

func TestBus_ConcurrentPublishers(t *testing.T) {
	bus := newTestBus(t, WithMaxWorkers(4))

	const topics, perTopic = 8, 200
	collectors := make([]*collector, topics)
	pubs := make([]*BufferedPublisher, topics)
	for i := range collectors {
		collectors[i] = newCollector(flow.Unbounded)
		id := string(rune('a' + i))
		pubs[i], _ = bus.GetPublisher(id)
		pubs[i].Subscribe(collectors[i])
	}

	var wg sync.WaitGroup
	for i := range pubs {
		wg.Add(1)
		go func(p *BufferedPublisher) {
			defer wg.Done()
			for j := 1; j <= perTopic; j++ {
				p.Publish(newReading(p.ID(), j))
			}
		}(pubs[i])
	}
	wg.Wait()

	for i, c := range collectors {
		require.Eventually(t, func() bool { return c.Len() == perTopic }, waitFor, tick, "topic %d", i)
		assert.Equal(t, sequence(1, perTopic), values(c.Events()), "per-topic order")
	}
	assert.LessOrEqual(t, bus.PoolStats().Workers, 4)
}
