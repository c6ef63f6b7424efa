package flow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilteredSubscriber_CompensatesDemand(t *testing.T) {
	items := []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}
	pub := &rangePublisher[int]{items: items}

	rec := &recorder[int]{}
	filtered := NewFilteredSubscriber[int](rec, func(v int) bool { return v%2 == 0 })
	pub.Subscribe(filtered)

	sub := rec.Subscription()
	require.NotNil(t, sub, "delegate should receive the upstream subscription")

	// A single request for 5 yields all 5 even values; odd values are free.
	sub.Request(5)

	assert.Equal(t, []int{2, 4, 6, 8, 10}, rec.Items())
	assert.Equal(t, 1, rec.completes)
}

func TestFilteredSubscriber_PartialDemand(t *testing.T) {
	pub := &rangePublisher[int]{items: []int{1, 2, 3, 4, 5, 6}}

	rec := &recorder[int]{}
	pub.Subscribe(NewFilteredSubscriber[int](rec, func(v int) bool { return v%3 == 0 }))

	rec.Subscription().Request(1)
	assert.Equal(t, []int{3}, rec.Items())

	rec.Subscription().Request(1)
	assert.Equal(t, []int{3, 6}, rec.Items())
}

func TestFilteredSubscriber_NilPredicate(t *testing.T) {
	pub := &rangePublisher[string]{items: []string{"a", "b"}}

	rec := &recorder[string]{}
	pub.Subscribe(NewFilteredSubscriber[string](rec, nil))
	rec.Subscription().Request(Unbounded)

	assert.Equal(t, []string{"a", "b"}, rec.Items())
}

func TestFilteredSubscriber_ForwardsSignals(t *testing.T) {
	rec := &recorder[int]{}
	f := NewFilteredSubscriber[int](rec, func(int) bool { return false })

	up := &recordingSubscription{}
	f.OnSubscribe(up)
	assert.Same(t, up, rec.Subscription(), "subscription is forwarded unchanged")

	f.OnNext(1)
	assert.Empty(t, rec.Items())
	assert.Equal(t, int64(1), up.requested.Load(), "rejected item is compensated")

	f.OnError(assert.AnError)
	assert.Equal(t, []error{assert.AnError}, rec.errs)

	f.OnComplete()
	assert.Equal(t, 1, rec.completes)
	assert.Same(t, rec, f.Delegate())
}
