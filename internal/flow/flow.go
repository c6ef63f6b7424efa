package flow

import (
	"math"
	"sync/atomic"
)

// Unbounded is the demand value that effectively disables backpressure.
// Demand counters saturate at this value.
const Unbounded int64 = math.MaxInt64

// Subscription is the flow-control handle linking a Subscriber to a Publisher.
type Subscription interface {
	// Request adds n to the outstanding demand. n must be positive.
	// It may be called any number of times, before or after items start flowing.
	Request(n int64)

	// Cancel stops delivery. It is idempotent and safe under concurrent delivery.
	Cancel()
}

// Subscriber receives items from a Publisher.
//
// OnSubscribe is always the first signal. OnNext is called at most as many
// times as requested. OnError and OnComplete are terminal and mutually exclusive.
type Subscriber[T any] interface {
	OnSubscribe(s Subscription)
	OnNext(item T)
	OnError(err error)
	OnComplete()
}

// Publisher is a source of items delivered to subscribers on demand.
type Publisher[T any] interface {
	Subscribe(s Subscriber[T])
}

// Demand is a non-negative outstanding demand counter.
// All mutations go through compare-and-swap loops.
type Demand struct {
	v atomic.Int64
}

// Add increases the demand by n, saturating at Unbounded.
// It returns the demand before the addition. Non-positive n is ignored.
func (d *Demand) Add(n int64) int64 {
	if n <= 0 {
		return d.v.Load()
	}
	for {
		cur := d.v.Load()
		if cur == Unbounded {
			return cur
		}
		next := cur + n
		if next < 0 || next > Unbounded {
			next = Unbounded
		}
		if d.v.CompareAndSwap(cur, next) {
			return cur
		}
	}
}

// TryTake consumes one unit of demand if any is outstanding.
// Unbounded demand is never decremented.
func (d *Demand) TryTake() bool {
	for {
		cur := d.v.Load()
		if cur <= 0 {
			return false
		}
		if cur == Unbounded {
			return true
		}
		if d.v.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

// Load returns the current demand.
func (d *Demand) Load() int64 {
	return d.v.Load()
}

// Reset drops all outstanding demand.
func (d *Demand) Reset() {
	d.v.Store(0)
}
