package event

import (
	"fmt"
	"reflect"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dshills/sensorbus/internal/event/dispatch"
	"github.com/dshills/sensorbus/internal/flow"
)

// DefaultBufferCapacity is the per-subscriber buffer size.
const DefaultBufferCapacity = 1024

// Publisher is the producer-side API of a topic.
type Publisher interface {
	// ID returns the topic ID.
	ID() string

	// Publish offers e to every subscriber using the default drop policy and
	// returns the largest buffer occupancy across subscribers.
	Publish(e Event) int

	// PublishWithDrop is like Publish but calls onDrop when a subscriber's
	// buffer is full. If onDrop returns true the offer is retried once.
	PublishWithDrop(e Event, onDrop DropFunc) int

	// Subscribe attaches s. OnSubscribe is called before Subscribe returns,
	// unless the topic is still a placeholder.
	Subscribe(s flow.Subscriber[Event])

	// SubscribeFiltered attaches s behind a predicate.
	SubscribeFiltered(s flow.Subscriber[Event], pred Predicate)

	// NumSubscribers returns the number of live subscriptions.
	NumSubscribers() int
}

// DropFunc is called when an event does not fit in a subscriber's buffer.
// Returning true retries the offer once.
type DropFunc func(s flow.Subscriber[Event], e Event) bool

// PublisherStats contains counters for a BufferedPublisher.
type PublisherStats struct {
	// Published is the number of Publish calls.
	Published uint64

	// Delivered is the number of OnNext signals sent to subscribers.
	Delivered uint64

	// Dropped is the number of per-subscriber offers that were discarded.
	Dropped uint64
}

// PublisherOption configures a BufferedPublisher.
type PublisherOption func(*BufferedPublisher)

// WithCapacity sets the per-subscriber buffer size.
func WithCapacity(n int) PublisherOption {
	return func(p *BufferedPublisher) {
		if n > 0 {
			p.capacity = n
		}
	}
}

// WithPublisherLogger sets the logger. The topic field is added to it.
func WithPublisherLogger(l *logrus.Entry) PublisherOption {
	return func(p *BufferedPublisher) {
		if l != nil {
			p.logger = l
		}
	}
}

// BufferedPublisher broadcasts events to subscribers. Each subscriber has
// its own bounded buffer and demand counter, and is drained on a pool worker.
type BufferedPublisher struct {
	id       string
	pool     *dispatch.Pool
	capacity int
	logger   *logrus.Entry

	mu       sync.Mutex
	subs     []*bufferedSubscription
	closed   bool
	closeErr error

	published atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// NewBufferedPublisher creates a publisher for topic id whose drains run on pool.
func NewBufferedPublisher(id string, pool *dispatch.Pool, opts ...PublisherOption) *BufferedPublisher {
	p := &BufferedPublisher{
		id:       id,
		pool:     pool,
		capacity: DefaultBufferCapacity,
		logger:   logrus.StandardLogger().WithField("component", "publisher"),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.WithField("topic", id)
	return p
}

// ID implements Publisher.
func (p *BufferedPublisher) ID() string {
	return p.id
}

// Publish implements Publisher.
func (p *BufferedPublisher) Publish(e Event) int {
	return p.PublishWithDrop(e, nil)
}

// PublishWithDrop implements Publisher. A nil onDrop selects the default
// policy, which logs a warning and discards the event for that subscriber.
func (p *BufferedPublisher) PublishWithDrop(e Event, onDrop DropFunc) int {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0
	}
	subs := make([]*bufferedSubscription, len(p.subs))
	copy(subs, p.subs)
	p.mu.Unlock()

	p.published.Add(1)

	lag := 0
	for _, s := range subs {
		if s.canceled.Load() {
			continue
		}
		if !s.offer(e) {
			retry := false
			if onDrop != nil {
				retry = onDrop(s.key, e)
			} else {
				p.logDrop(s, e)
			}
			if !retry || !s.offer(e) {
				p.dropped.Add(1)
			}
		}
		if n := len(s.buf); n > lag {
			lag = n
		}
		s.schedule()
	}
	return lag
}

func (p *BufferedPublisher) logDrop(s *bufferedSubscription, e Event) {
	p.logger.WithFields(logrus.Fields{
		"event_type": typeName(e),
		"subscriber": typeName(s.key),
		"sub_id":     s.id,
	}).Warn("Subscriber buffer full, dropping event")
}

// Subscribe implements Publisher.
func (p *BufferedPublisher) Subscribe(s flow.Subscriber[Event]) {
	p.subscribe(s, s)
}

// SubscribeFiltered implements Publisher. Rejected events do not consume
// the subscriber's demand.
func (p *BufferedPublisher) SubscribeFiltered(s flow.Subscriber[Event], pred Predicate) {
	if pred == nil {
		p.subscribe(s, s)
		return
	}
	p.subscribe(s, flow.NewFilteredSubscriber[Event](s, pred))
}

func (p *BufferedPublisher) subscribe(key, target flow.Subscriber[Event]) {
	if key == nil {
		p.logger.Warn("Ignoring nil subscriber")
		return
	}

	p.mu.Lock()
	if p.isSubscribed(key) {
		p.mu.Unlock()
		target.OnSubscribe(noopSubscription{})
		target.OnError(&TopicError{Topic: p.id, Err: ErrAlreadySubscribed})
		return
	}

	s := &bufferedSubscription{
		id:     uuid.NewString(),
		pub:    p,
		key:    key,
		target: target,
		buf:    make(chan Event, p.capacity),
	}
	closed, closeErr := p.closed, p.closeErr
	if !closed {
		p.subs = append(p.subs, s)
	}
	p.mu.Unlock()

	target.OnSubscribe(s)
	s.ready.Store(true)

	switch {
	case !closed:
		s.schedule()
	case closeErr != nil:
		s.fail(closeErr)
	default:
		s.complete()
	}
}

// isSubscribed reports whether key already has a live subscription.
// Callers hold p.mu.
func (p *BufferedPublisher) isSubscribed(key flow.Subscriber[Event]) bool {
	if !reflect.TypeOf(key).Comparable() {
		return false
	}
	for _, s := range p.subs {
		if s.key == key {
			return true
		}
	}
	return false
}

func (p *BufferedPublisher) remove(s *bufferedSubscription) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, other := range p.subs {
		if other == s {
			p.subs = append(p.subs[:i], p.subs[i+1:]...)
			return
		}
	}
}

// Close completes every subscription once its buffer has drained.
// Subscribers arriving later are completed right after OnSubscribe.
func (p *BufferedPublisher) Close() {
	for _, s := range p.terminate(nil) {
		s.complete()
	}
}

// CloseWithError signals err to every subscription without waiting for
// buffered events, which are discarded.
func (p *BufferedPublisher) CloseWithError(err error) {
	for _, s := range p.terminate(err) {
		s.fail(err)
	}
}

func (p *BufferedPublisher) terminate(err error) []*bufferedSubscription {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.closeErr = err
	subs := p.subs
	p.subs = nil
	return subs
}

// IsClosed reports whether Close or CloseWithError was called.
func (p *BufferedPublisher) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// NumSubscribers implements Publisher.
func (p *BufferedPublisher) NumSubscribers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subs)
}

// Stats returns publisher counters.
func (p *BufferedPublisher) Stats() PublisherStats {
	return PublisherStats{
		Published: p.published.Load(),
		Delivered: p.delivered.Load(),
		Dropped:   p.dropped.Load(),
	}
}

// bufferedSubscription links one subscriber to a BufferedPublisher.
//
// Drains are serialised by wip: whoever moves it from 0 to 1 submits a
// drain to the pool, and later signals only bump the counter so that the
// running drain loops once more. Delivery is therefore FIFO and never
// concurrent for a given subscriber.
type bufferedSubscription struct {
	id     string
	pub    *BufferedPublisher
	key    flow.Subscriber[Event]
	target flow.Subscriber[Event]
	buf    chan Event
	demand flow.Demand

	wip       atomic.Int32
	ready     atomic.Bool // OnSubscribe has returned
	canceled  atomic.Bool
	completed atomic.Bool
	failure   atomic.Pointer[error]
	finished  atomic.Bool // terminal signal sent
}

// Request implements flow.Subscription.
func (s *bufferedSubscription) Request(n int64) {
	if n <= 0 {
		s.pub.logger.WithFields(logrus.Fields{
			"sub_id": s.id,
			"n":      n,
		}).Warn("Ignoring non-positive request")
		return
	}
	if s.canceled.Load() {
		return
	}
	s.demand.Add(n)
	s.schedule()
}

// Cancel implements flow.Subscription.
func (s *bufferedSubscription) Cancel() {
	if s.canceled.Swap(true) {
		return
	}
	s.pub.remove(s)
}

func (s *bufferedSubscription) offer(e Event) bool {
	select {
	case s.buf <- e:
		return true
	default:
		return false
	}
}

func (s *bufferedSubscription) complete() {
	s.completed.Store(true)
	s.schedule()
}

func (s *bufferedSubscription) fail(err error) {
	s.failure.CompareAndSwap(nil, &err)
	s.schedule()
}

func (s *bufferedSubscription) schedule() {
	if s.wip.Add(1) != 1 {
		return
	}
	if err := s.pub.pool.Submit(s.drain); err != nil {
		s.wip.Store(0)
		s.pub.logger.WithError(err).WithField("sub_id", s.id).
			Warn("Could not schedule delivery, events stay buffered")
	}
}

// drain runs on a pool worker. If the subscriber panics, the event in
// hand is lost, the drain is released and rescheduled so that later events
// and terminal signals still arrive, and the panic is passed on to the
// pool, which recovers and counts it.
func (s *bufferedSubscription) drain() {
	defer func() {
		if r := recover(); r != nil {
			s.wip.Store(0)
			s.pub.logger.WithFields(logrus.Fields{
				"sub_id": s.id,
				"panic":  fmt.Sprint(r),
			}).Warn("Subscriber panicked, event lost")
			s.schedule()
			panic(r)
		}
	}()

	missed := int32(1)
	for {
		s.drainOnce()
		missed = s.wip.Add(-missed)
		if missed == 0 {
			return
		}
	}
}

func (s *bufferedSubscription) drainOnce() {
	if !s.ready.Load() {
		return
	}
	for {
		if s.canceled.Load() || s.finished.Load() {
			return
		}
		if errp := s.failure.Load(); errp != nil {
			s.finished.Store(true)
			s.discard()
			s.target.OnError(*errp)
			return
		}
		if len(s.buf) == 0 {
			if s.completed.Load() {
				s.finished.Store(true)
				s.target.OnComplete()
			}
			return
		}
		if !s.demand.TryTake() {
			return
		}
		e := <-s.buf
		if s.canceled.Load() {
			return
		}
		s.target.OnNext(e)
		s.pub.delivered.Add(1)
	}
}

func (s *bufferedSubscription) discard() {
	for {
		select {
		case <-s.buf:
		default:
			return
		}
	}
}

// noopSubscription is handed to subscribers that are rejected before a
// real subscription exists.
type noopSubscription struct{}

func (noopSubscription) Request(int64) {}
func (noopSubscription) Cancel()       {}
