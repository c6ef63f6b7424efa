package event

import (
	"sync"

	"github.com/dshills/sensorbus/internal/flow"
)

// placeholder records subscribers of a topic whose publisher does not
// exist yet. They are handed to the real publisher when it is created, and
// only then receive OnSubscribe.
type placeholder struct {
	id string

	mu      sync.Mutex
	pending []pendingSubscriber
}

type pendingSubscriber struct {
	subscriber flow.Subscriber[Event]
	predicate  Predicate
}

func newPlaceholder(id string) *placeholder {
	return &placeholder{id: id}
}

func (p *placeholder) add(s flow.Subscriber[Event], pred Predicate) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pending = append(p.pending, pendingSubscriber{subscriber: s, predicate: pred})
}

// transferTo subscribes every recorded subscriber to pub, in arrival order.
func (p *placeholder) transferTo(pub Publisher) {
	p.mu.Lock()
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	for _, ps := range pending {
		pub.SubscribeFiltered(ps.subscriber, ps.predicate)
	}
}

func (p *placeholder) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}
