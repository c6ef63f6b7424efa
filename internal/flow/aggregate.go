package flow

import (
	"sync"
	"sync/atomic"
)

// AggregateState is the lifecycle state of an AggregateSubscription.
type AggregateState int32

const (
	// AggregateCollecting means fewer than N upstream subscriptions have arrived.
	AggregateCollecting AggregateState = iota

	// AggregateActive means all N upstreams subscribed and the downstream was notified.
	AggregateActive

	// AggregateCompleted means all N upstreams completed.
	AggregateCompleted

	// AggregateErrored means an upstream failed.
	AggregateErrored
)

// String returns a human-readable state name.
func (s AggregateState) String() string {
	switch s {
	case AggregateCollecting:
		return "collecting"
	case AggregateActive:
		return "active"
	case AggregateCompleted:
		return "completed"
	case AggregateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// AggregateSubscription merges N upstream subscriptions into one downstream
// subscriber.
//
// It is subscribed to each of the N upstream publishers as a Subscriber and
// handed to the downstream as its Subscription. The downstream receives
// OnSubscribe once all N upstreams have subscribed, and OnComplete once all N
// have completed. The first upstream error is forwarded and cancels every
// upstream.
//
// Items are forwarded in arrival order; no cross-source reordering is done.
// Signals to the downstream are serialised.
type AggregateSubscription[T any] struct {
	downstream Subscriber[T]
	expected   int

	mu        sync.Mutex // protects upstreams and detached
	upstreams []Subscription
	detached  bool // upstreams were canceled; late arrivals are canceled too

	signalMu  sync.Mutex // serialises downstream signals
	state     atomic.Int32
	completed atomic.Int32
	canceled  atomic.Bool
}

// NewAggregateSubscription creates an aggregate expecting n upstream
// subscriptions. n must be at least 1.
func NewAggregateSubscription[T any](downstream Subscriber[T], n int) *AggregateSubscription[T] {
	if n < 1 {
		n = 1
	}
	return &AggregateSubscription[T]{
		downstream: downstream,
		expected:   n,
		upstreams:  make([]Subscription, 0, n),
	}
}

// OnSubscribe records an upstream subscription. The downstream is notified
// exactly once, when the N-th upstream arrives.
func (a *AggregateSubscription[T]) OnSubscribe(s Subscription) {
	a.mu.Lock()
	if a.detached || a.canceled.Load() {
		a.mu.Unlock()
		s.Cancel()
		return
	}
	a.upstreams = append(a.upstreams, s)
	count := len(a.upstreams)
	a.mu.Unlock()

	if count != a.expected {
		return
	}

	a.signalMu.Lock()
	defer a.signalMu.Unlock()
	if a.state.CompareAndSwap(int32(AggregateCollecting), int32(AggregateActive)) {
		a.downstream.OnSubscribe(a)
	}
}

// OnNext forwards an item from any upstream.
func (a *AggregateSubscription[T]) OnNext(item T) {
	a.signalMu.Lock()
	defer a.signalMu.Unlock()

	if a.canceled.Load() || a.State() != AggregateActive {
		return
	}
	a.downstream.OnNext(item)
}

// OnComplete counts an upstream completion. The downstream completes once
// every upstream has completed.
func (a *AggregateSubscription[T]) OnComplete() {
	if int(a.completed.Add(1)) != a.expected {
		return
	}

	a.signalMu.Lock()
	defer a.signalMu.Unlock()
	if a.canceled.Load() {
		return
	}
	if a.state.CompareAndSwap(int32(AggregateActive), int32(AggregateCompleted)) {
		a.downstream.OnComplete()
	}
}

// OnError forwards the first upstream error and cancels every upstream,
// including those that subscribe later. An error before the barrier is
// reached hands the downstream its OnSubscribe first.
func (a *AggregateSubscription[T]) OnError(err error) {
	a.signalMu.Lock()
	forwarded := false
	if !a.canceled.Load() {
		for {
			cur := a.state.Load()
			if cur == int32(AggregateCompleted) || cur == int32(AggregateErrored) {
				break
			}
			if a.state.CompareAndSwap(cur, int32(AggregateErrored)) {
				if cur == int32(AggregateCollecting) {
					a.downstream.OnSubscribe(a)
				}
				a.downstream.OnError(err)
				forwarded = true
				break
			}
		}
	}
	a.signalMu.Unlock()

	if forwarded {
		a.cancelUpstreams()
	}
}

// Request broadcasts n to every upstream. Demand is not partitioned: each
// source may independently satisfy the request.
func (a *AggregateSubscription[T]) Request(n int64) {
	for _, s := range a.snapshot() {
		s.Request(n)
	}
}

// Cancel cancels every upstream, including completed ones.
func (a *AggregateSubscription[T]) Cancel() {
	if a.canceled.Swap(true) {
		return
	}
	a.cancelUpstreams()
}

// State returns the current lifecycle state.
func (a *AggregateSubscription[T]) State() AggregateState {
	return AggregateState(a.state.Load())
}

// IsCanceled reports whether Cancel was called.
func (a *AggregateSubscription[T]) IsCanceled() bool {
	return a.canceled.Load()
}

// Upstreams returns the number of upstream subscriptions received so far.
func (a *AggregateSubscription[T]) Upstreams() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.upstreams)
}

func (a *AggregateSubscription[T]) cancelUpstreams() {
	a.mu.Lock()
	if a.detached {
		a.mu.Unlock()
		return
	}
	a.detached = true
	subs := make([]Subscription, len(a.upstreams))
	copy(subs, a.upstreams)
	a.mu.Unlock()

	for _, s := range subs {
		s.Cancel()
	}
}

func (a *AggregateSubscription[T]) snapshot() []Subscription {
	a.mu.Lock()
	defer a.mu.Unlock()
	subs := make([]Subscription, len(a.upstreams))
	copy(subs, a.upstreams)
	return subs
}
