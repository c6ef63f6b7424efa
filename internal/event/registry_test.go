package event

import (
	"errors"
	"sync"
	"testing"

	"github.com/dshills/sensorbus/internal/flow"
)

func newTestRegistry(t *testing.T) (*registry, *int) {
	t.Helper()
	bus := newTestBus(t)
	created := 0
	var mu sync.Mutex
	r := newRegistry(func(id string) *BufferedPublisher {
		mu.Lock()
		created++
		mu.Unlock()
		return NewBufferedPublisher(id, bus.pool, WithPublisherLogger(quietLogger()))
	})
	return r, &created
}

func mustEnsure(t *testing.T, r *registry, id string) *BufferedPublisher {
	t.Helper()
	pub, err := r.ensure(id)
	if err != nil {
		t.Fatalf("ensure(%q): %v", id, err)
	}
	return pub
}

func TestRegistry_Ensure(t *testing.T) {
	r, created := newTestRegistry(t)

	p1 := mustEnsure(t, r, "a")
	p2 := mustEnsure(t, r, "a")
	if p1 != p2 {
		t.Error("ensure should return the existing publisher")
	}
	if *created != 1 {
		t.Errorf("created = %d, want 1", *created)
	}

	mustEnsure(t, r, "c")
	mustEnsure(t, r, "b")
	topics := r.topics()
	want := []string{"a", "b", "c"}
	if len(topics) != len(want) {
		t.Fatalf("topics = %v, want %v", topics, want)
	}
	for i := range want {
		if topics[i] != want[i] {
			t.Errorf("topics[%d] = %s, want %s", i, topics[i], want[i])
		}
	}
	if len(r.all()) != 3 {
		t.Errorf("all() = %d publishers, want 3", len(r.all()))
	}
}

func TestRegistry_PlaceholderOrder(t *testing.T) {
	r, _ := newTestRegistry(t)

	var mu sync.Mutex
	var order []int
	for i := 0; i < 3; i++ {
		n := i
		r.subscribe("t", flow.NewSubscriberFuncs(flow.SubscriberCallbacks[Event]{
			OnSubscribe: func(flow.Subscription) {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
			},
		}, false), nil)
	}

	if got := r.numSubscribers("t"); got != 3 {
		t.Errorf("numSubscribers = %d, want 3", got)
	}
	if len(order) != 0 {
		t.Fatal("placeholder subscribers must not be subscribed yet")
	}

	pub := mustEnsure(t, r, "t")

	if len(order) != 3 || order[0] != 0 || order[1] != 1 || order[2] != 2 {
		t.Errorf("transfer order = %v, want [0 1 2]", order)
	}
	if pub.NumSubscribers() != 3 {
		t.Errorf("publisher has %d subscribers, want 3", pub.NumSubscribers())
	}
	if len(r.placeholders) != 0 {
		t.Error("placeholder should be discarded after transfer")
	}
}

func TestRegistry_ReentrantTransfer(t *testing.T) {
	r, _ := newTestRegistry(t)

	// A subscriber whose OnSubscribe touches the registry must not deadlock.
	r.subscribe("t", flow.NewSubscriberFuncs(flow.SubscriberCallbacks[Event]{
		OnSubscribe: func(flow.Subscription) {
			_, _ = r.ensure("other")
			_ = r.numSubscribers("t")
		},
	}, false), nil)

	mustEnsure(t, r, "t")
	if len(r.topics()) != 2 {
		t.Errorf("topics = %v, want [other t]", r.topics())
	}
}

func TestRegistry_EnsureDerived(t *testing.T) {
	r, _ := newTestRegistry(t)
	parent := mustEnsure(t, r, "group")

	waiting := 0
	r.subscribe("sensor-a", flow.NewSubscriberFuncs(flow.SubscriberCallbacks[Event]{
		OnSubscribe: func(flow.Subscription) { waiting++ },
	}, false), nil)

	d1, err := r.ensureDerived("group", "sensor-a", parent)
	if err != nil {
		t.Fatal(err)
	}
	if waiting != 1 {
		t.Errorf("placeholder subscriber subscribed %d times, want 1", waiting)
	}
	d2, err := r.ensureDerived("group", "sensor-a", parent)
	if err != nil {
		t.Fatal(err)
	}
	if d1 != d2 {
		t.Error("ensureDerived should return the existing sub-topic")
	}
	if len(r.all()) != 1 {
		t.Errorf("all() = %d publishers, want only the group", len(r.all()))
	}

	if _, err := r.ensure("sensor-a"); !errors.Is(err, ErrTopicConflict) {
		t.Errorf("ensure on a sub-topic: err = %v, want ErrTopicConflict", err)
	}
	if _, err := r.ensureDerived("other", "sensor-a", parent); !errors.Is(err, ErrTopicConflict) {
		t.Errorf("sub-topic of another group: err = %v, want ErrTopicConflict", err)
	}
	if _, err := r.ensureDerived("group", "group", parent); !errors.Is(err, ErrTopicConflict) {
		t.Errorf("sub-topic named like a plain topic: err = %v, want ErrTopicConflict", err)
	}
}
