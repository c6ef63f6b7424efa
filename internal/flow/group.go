package flow

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// DefaultPendingCapacity is the default number of items a SubscriberGroup
// parks while no member has demand.
const DefaultPendingCapacity = 1024

// RejectHandler is called when a SubscriberGroup cannot deliver or park an item.
type RejectHandler func(item any, err error)

// GroupOption configures a SubscriberGroup.
type GroupOption func(*groupConfig)

type groupConfig struct {
	pendingCapacity int
	onReject        RejectHandler
	logger          *logrus.Entry
}

// WithPendingCapacity sets how many items are parked while no member has demand.
func WithPendingCapacity(n int) GroupOption {
	return func(c *groupConfig) {
		if n > 0 {
			c.pendingCapacity = n
		}
	}
}

// WithRejectHandler sets the handler for items that can be neither delivered
// nor parked. The default handler logs a warning.
func WithRejectHandler(h RejectHandler) GroupOption {
	return func(c *groupConfig) {
		if h != nil {
			c.onReject = h
		}
	}
}

// WithGroupLogger sets the logger used by the default reject handler.
func WithGroupLogger(l *logrus.Entry) GroupOption {
	return func(c *groupConfig) {
		if l != nil {
			c.logger = l
		}
	}
}

// SubscriberGroup shares one upstream subscription among several members.
//
// Each item goes to exactly one member. Members are visited round-robin and
// members without demand are skipped. Upstream demand is the sum of all
// member requests.
//
// When no member has demand, items are parked in a bounded FIFO queue and
// delivered as soon as a member requests more. Items that do not fit are
// passed to the reject handler; nothing is dropped silently and nothing spins.
type SubscriberGroup[T any] struct {
	config groupConfig

	membersMu sync.Mutex // serialises membership changes
	members   atomic.Pointer[[]*groupMember[T]]
	cursor    atomic.Int64

	upstreamMu sync.Mutex
	upstream   Subscription

	pendingMu sync.Mutex
	pending   []T
	completed bool
	failure   error
	finished  bool // terminal signal sent to members

	wip atomic.Int32
}

// NewSubscriberGroup creates an empty group.
func NewSubscriberGroup[T any](opts ...GroupOption) *SubscriberGroup[T] {
	cfg := groupConfig{
		pendingCapacity: DefaultPendingCapacity,
		logger:          logrus.StandardLogger().WithField("component", "subscriber-group"),
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.onReject == nil {
		logger := cfg.logger
		cfg.onReject = func(item any, err error) {
			logger.WithError(err).Warnf("Rejected %T item", item)
		}
	}

	g := &SubscriberGroup[T]{config: cfg}
	empty := make([]*groupMember[T], 0)
	g.members.Store(&empty)
	return g
}

// AddConsumer registers a member. If the upstream subscription already
// exists the member is subscribed immediately.
func (g *SubscriberGroup[T]) AddConsumer(s Subscriber[T]) {
	m := &groupMember[T]{id: uuid.NewString(), group: g, target: s}

	g.membersMu.Lock()
	cur := *g.members.Load()
	next := make([]*groupMember[T], len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, m)
	g.members.Store(&next)
	g.membersMu.Unlock()

	if g.currentUpstream() == nil || !m.subscribe() {
		return
	}
	g.signalLateTerminal(m)
}

// OnSubscribe stores the shared upstream subscription and subscribes every
// registered member.
func (g *SubscriberGroup[T]) OnSubscribe(s Subscription) {
	g.upstreamMu.Lock()
	if g.upstream != nil {
		g.upstreamMu.Unlock()
		s.Cancel()
		return
	}
	g.upstream = s
	g.upstreamMu.Unlock()

	for _, m := range *g.members.Load() {
		m.subscribe()
	}
}

// OnNext hands the item to the next member with demand, or parks it.
func (g *SubscriberGroup[T]) OnNext(item T) {
	g.pendingMu.Lock()
	if len(*g.members.Load()) == 0 {
		g.pendingMu.Unlock()
		g.config.onReject(item, ErrGroupEmpty)
		return
	}
	if len(g.pending) >= g.config.pendingCapacity {
		g.pendingMu.Unlock()
		g.config.onReject(item, ErrNoPendingCapacity)
		return
	}
	g.pending = append(g.pending, item)
	g.pendingMu.Unlock()

	g.drain()
}

// OnError forwards err to every member. Parked items are discarded.
func (g *SubscriberGroup[T]) OnError(err error) {
	g.pendingMu.Lock()
	if g.finished || g.completed {
		g.pendingMu.Unlock()
		return
	}
	g.failure = err
	g.finished = true
	g.pending = nil
	g.pendingMu.Unlock()

	for _, m := range *g.members.Load() {
		m.terminate(err)
	}
}

// OnComplete completes every member once the parked items are delivered.
func (g *SubscriberGroup[T]) OnComplete() {
	g.pendingMu.Lock()
	if g.finished || g.completed {
		g.pendingMu.Unlock()
		return
	}
	g.completed = true
	g.pendingMu.Unlock()

	g.drain()
}

// Members returns the number of registered members.
func (g *SubscriberGroup[T]) Members() int {
	return len(*g.members.Load())
}

// Pending returns the number of parked items.
func (g *SubscriberGroup[T]) Pending() int {
	g.pendingMu.Lock()
	defer g.pendingMu.Unlock()
	return len(g.pending)
}

// drain delivers parked items while members have demand. Only one goroutine
// drains at a time; concurrent callers hand their work to it.
func (g *SubscriberGroup[T]) drain() {
	if g.wip.Add(1) != 1 {
		return
	}
	missed := int32(1)
	for {
		g.drainPending()
		missed = g.wip.Add(-missed)
		if missed == 0 {
			return
		}
	}
}

func (g *SubscriberGroup[T]) drainPending() {
	for {
		g.pendingMu.Lock()
		if g.finished {
			g.pendingMu.Unlock()
			return
		}
		if len(g.pending) == 0 {
			complete := g.completed
			if complete {
				g.finished = true
			}
			g.pendingMu.Unlock()
			if complete {
				for _, m := range *g.members.Load() {
					m.terminate(nil)
				}
			}
			return
		}

		m := g.nextMember()
		if m == nil {
			g.pendingMu.Unlock()
			return
		}
		item := g.pending[0]
		var zero T
		g.pending[0] = zero
		g.pending = g.pending[1:]
		g.pendingMu.Unlock()

		m.target.OnNext(item)
	}
}

// nextMember advances the round-robin cursor until it finds a member with
// demand, consuming one unit of it. It visits each member at most once.
func (g *SubscriberGroup[T]) nextMember() *groupMember[T] {
	members := *g.members.Load()
	n := int64(len(members))
	if n == 0 {
		return nil
	}
	for i := int64(0); i < n; i++ {
		var idx int64
		for {
			cur := g.cursor.Load()
			idx = cur % n
			if g.cursor.CompareAndSwap(cur, (idx+1)%n) {
				break
			}
		}
		m := members[idx]
		if !m.canceled.Load() && m.demand.TryTake() {
			return m
		}
	}
	return nil
}

func (g *SubscriberGroup[T]) currentUpstream() Subscription {
	g.upstreamMu.Lock()
	defer g.upstreamMu.Unlock()
	return g.upstream
}

func (g *SubscriberGroup[T]) signalLateTerminal(m *groupMember[T]) {
	g.pendingMu.Lock()
	finished, failure := g.finished, g.failure
	g.pendingMu.Unlock()
	if finished {
		m.terminate(failure)
	}
}

func (g *SubscriberGroup[T]) remove(m *groupMember[T]) {
	g.membersMu.Lock()
	cur := *g.members.Load()
	next := make([]*groupMember[T], 0, len(cur))
	for _, other := range cur {
		if other != m {
			next = append(next, other)
		}
	}
	g.members.Store(&next)
	g.membersMu.Unlock()

	if len(next) == 0 {
		if up := g.currentUpstream(); up != nil {
			up.Cancel()
		}
	}
}

// groupMember is the Subscription handed to each member of a SubscriberGroup.
type groupMember[T any] struct {
	id       string
	group    *SubscriberGroup[T]
	target   Subscriber[T]
	demand   Demand
	canceled atomic.Bool

	// AddConsumer and the group's OnSubscribe may both reach a new member;
	// each signal is delivered once.
	subscribed atomic.Bool
	terminated atomic.Bool
}

func (m *groupMember[T]) subscribe() bool {
	if m.subscribed.Swap(true) {
		return false
	}
	m.target.OnSubscribe(m)
	return true
}

// terminate sends OnError, or OnComplete when err is nil.
func (m *groupMember[T]) terminate(err error) {
	if m.canceled.Load() || m.terminated.Swap(true) {
		return
	}
	if err != nil {
		m.target.OnError(err)
	} else {
		m.target.OnComplete()
	}
}

// Request adds n to the member's demand and forwards it upstream.
func (m *groupMember[T]) Request(n int64) {
	if n <= 0 || m.canceled.Load() {
		return
	}
	m.demand.Add(n)
	if up := m.group.currentUpstream(); up != nil {
		up.Request(n)
	}
	m.group.drain()
}

// Cancel removes the member from the group. The upstream is canceled when
// the last member leaves.
func (m *groupMember[T]) Cancel() {
	if m.canceled.Swap(true) {
		return
	}
	m.demand.Reset()
	m.group.remove(m)
}

// ID returns the member identifier.
func (m *groupMember[T]) ID() string {
	return m.id
}
