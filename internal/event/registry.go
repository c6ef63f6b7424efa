package event

import (
	"sort"
	"sync"

	"github.com/dshills/sensorbus/internal/flow"
)

// registry maps topic IDs to publishers. A topic is served either by a
// BufferedPublisher or by a group sub-topic publisher derived from one.
// Topics that have subscribers but no publisher yet are held as
// placeholders. All mutations take one mutex.
type registry struct {
	mu           sync.Mutex
	publishers   map[string]Publisher
	placeholders map[string]*placeholder
	create       func(id string) *BufferedPublisher
}

func newRegistry(create func(id string) *BufferedPublisher) *registry {
	return &registry{
		publishers:   make(map[string]Publisher),
		placeholders: make(map[string]*placeholder),
		create:       create,
	}
}

// ensure returns the publisher of id, creating it if needed. Subscribers
// waiting in a placeholder are transferred after the registry lock is
// released, so their OnSubscribe may call back into the bus. It fails if
// id is already a group sub-topic.
func (r *registry) ensure(id string) (*BufferedPublisher, error) {
	r.mu.Lock()
	if existing, ok := r.publishers[id]; ok {
		r.mu.Unlock()
		pub, ok := existing.(*BufferedPublisher)
		if !ok {
			return nil, &TopicError{Topic: id, Err: ErrTopicConflict}
		}
		return pub, nil
	}
	pub := r.create(id)
	r.publishers[id] = pub
	ph := r.takePlaceholder(id)
	r.mu.Unlock()

	if ph != nil {
		ph.transferTo(pub)
	}
	return pub, nil
}

// ensureDerived returns the sub-topic publisher topicID of group groupID,
// creating it on parent if needed. Repeated calls return the same
// publisher; topicID may not already belong to another group or be a
// plain topic.
func (r *registry) ensureDerived(groupID, topicID string, parent *BufferedPublisher) (Publisher, error) {
	r.mu.Lock()
	if existing, ok := r.publishers[topicID]; ok {
		r.mu.Unlock()
		g, ok := existing.(*groupPublisher)
		if !ok || g.groupID != groupID {
			return nil, &TopicError{Topic: topicID, Err: ErrTopicConflict}
		}
		return g, nil
	}
	pub := newGroupPublisher(groupID, topicID, parent)
	r.publishers[topicID] = pub
	ph := r.takePlaceholder(topicID)
	r.mu.Unlock()

	if ph != nil {
		ph.transferTo(pub)
	}
	return pub, nil
}

// takePlaceholder removes and returns the placeholder of id. r.mu must be held.
func (r *registry) takePlaceholder(id string) *placeholder {
	ph := r.placeholders[id]
	delete(r.placeholders, id)
	return ph
}

// subscribe attaches s to the publisher of id, or records it in the
// topic's placeholder.
func (r *registry) subscribe(id string, s flow.Subscriber[Event], pred Predicate) {
	r.mu.Lock()
	pub, ok := r.publishers[id]
	if !ok {
		ph, exists := r.placeholders[id]
		if !exists {
			ph = newPlaceholder(id)
			r.placeholders[id] = ph
		}
		ph.add(s, pred)
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	pub.SubscribeFiltered(s, pred)
}

func (r *registry) numSubscribers(id string) int {
	r.mu.Lock()
	pub, ok := r.publishers[id]
	ph := r.placeholders[id]
	r.mu.Unlock()

	switch {
	case ok:
		return pub.NumSubscribers()
	case ph != nil:
		return ph.len()
	}
	return 0
}

// topics returns the IDs of all created publishers, sub-topics included,
// sorted.
func (r *registry) topics() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.publishers))
	for id := range r.publishers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// all returns the buffered publishers. Sub-topics are left out; they
// complete with their group.
func (r *registry) all() []*BufferedPublisher {
	r.mu.Lock()
	defer r.mu.Unlock()
	pubs := make([]*BufferedPublisher, 0, len(r.publishers))
	for _, p := range r.publishers {
		if bp, ok := p.(*BufferedPublisher); ok {
			pubs = append(pubs, bp)
		}
	}
	return pubs
}
