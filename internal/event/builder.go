package event

import (
	"reflect"

	"github.com/dshills/sensorbus/internal/flow"
)

// SubscriptionBuilder assembles a subscription to one or more topics for
// events of type E.
//
//	future := event.NewSubscription[Reading](bus).
//	    WithTopicIDs("sensor-1", "sensor-2").
//	    WithFilter(func(r Reading) bool { return r.Value > 10 }).
//	    Consume(handle)
//
// Terminal methods return a future completed with the subscription handle
// once the subscriber has received OnSubscribe. With several topics and no
// group, that happens when every topic has a publisher.
type SubscriptionBuilder[E Event] struct {
	bus      *Bus
	topicIDs []string
	groupID  string
	types    []EventType
	filter   func(E) bool
}

// NewSubscription starts a subscription builder on bus.
func NewSubscription[E Event](bus *Bus) *SubscriptionBuilder[E] {
	return &SubscriptionBuilder[E]{bus: bus}
}

// WithTopicIDs adds topics. Duplicates are ignored.
func (b *SubscriptionBuilder[E]) WithTopicIDs(ids ...string) *SubscriptionBuilder[E] {
	for _, id := range ids {
		if !contains(b.topicIDs, id) {
			b.topicIDs = append(b.topicIDs, id)
		}
	}
	return b
}

// WithSource adds the source ID of src as a topic.
func (b *SubscriptionBuilder[E]) WithSource(src EventSource) *SubscriptionBuilder[E] {
	if src == nil {
		return b
	}
	return b.WithTopicIDs(src.SourceID())
}

// WithGroupID subscribes through the group topic groupID. The topic IDs
// then select sub-topics of the group by source ID.
func (b *SubscriptionBuilder[E]) WithGroupID(groupID string) *SubscriptionBuilder[E] {
	b.groupID = groupID
	return b
}

// WithEventTypes narrows delivery to events of any of the given types.
func (b *SubscriptionBuilder[E]) WithEventTypes(types ...EventType) *SubscriptionBuilder[E] {
	b.types = append(b.types, types...)
	return b
}

// WithFilter adds a caller predicate, evaluated after the type check.
func (b *SubscriptionBuilder[E]) WithFilter(pred func(E) bool) *SubscriptionBuilder[E] {
	b.filter = pred
	return b
}

// Build validates the builder.
func (b *SubscriptionBuilder[E]) Build() error {
	if len(b.topicIDs) == 0 {
		return ErrNoTopics
	}
	for _, id := range b.topicIDs {
		if id == "" {
			return &TopicError{Topic: id, Err: ErrInvalidTopic}
		}
	}
	return nil
}

// Subscribe attaches s. Flow control is left to s.
func (b *SubscriptionBuilder[E]) Subscribe(s flow.Subscriber[E]) *flow.Future[flow.Subscription] {
	if s == nil {
		return flow.FailedFuture[flow.Subscription](ErrNilSubscriber)
	}
	if err := b.Build(); err != nil {
		return flow.FailedFuture[flow.Subscription](err)
	}

	future := flow.NewFuture[flow.Subscription]()
	target := flow.NewDelegate[Event](&typedSubscriber[E]{target: s}, func(sub flow.Subscription) {
		future.Complete(sub)
	})
	pred := b.predicate()

	switch {
	case b.groupID != "":
		// one subscription on the group topic, selecting sub-topics by source
		b.bus.registry.subscribe(b.groupID, target, FilterAnd(FilterBySources(b.topicIDs...), pred))
	case len(b.topicIDs) == 1:
		b.bus.registry.subscribe(b.topicIDs[0], target, pred)
	default:
		agg := flow.NewAggregateSubscription[Event](target, len(b.topicIDs))
		for _, id := range b.topicIDs {
			b.bus.registry.subscribe(id, agg, pred)
		}
	}
	return future
}

// SubscribeFunc delivers every event to onNext with unbounded demand.
func (b *SubscriptionBuilder[E]) SubscribeFunc(onNext func(E)) *flow.Future[flow.Subscription] {
	return b.SubscribeAll(onNext, nil, nil)
}

// SubscribeFuncs is SubscribeFunc with an error callback.
func (b *SubscriptionBuilder[E]) SubscribeFuncs(onNext func(E), onError func(error)) *flow.Future[flow.Subscription] {
	return b.SubscribeAll(onNext, onError, nil)
}

// SubscribeAll delivers every event to onNext with unbounded demand and
// reports terminal signals to onError and onComplete, which may be nil.
func (b *SubscriptionBuilder[E]) SubscribeAll(onNext func(E), onError func(error), onComplete func()) *flow.Future[flow.Subscription] {
	if onNext == nil {
		return flow.FailedFuture[flow.Subscription](ErrNilSubscriber)
	}
	return b.Subscribe(flow.NewSubscriberFuncs(flow.SubscriberCallbacks[E]{
		OnNext:     onNext,
		OnError:    onError,
		OnComplete: onComplete,
	}, true))
}

// Consume is a pure sink: every event goes to onNext and terminal signals
// are ignored.
func (b *SubscriptionBuilder[E]) Consume(onNext func(E)) *flow.Future[flow.Subscription] {
	return b.SubscribeAll(onNext, nil, nil)
}

// Listen consumes events into a legacy listener.
func (b *SubscriptionBuilder[E]) Listen(l Listener) *flow.Future[flow.Subscription] {
	if l == nil {
		return flow.FailedFuture[flow.Subscription](ErrNilSubscriber)
	}
	return b.Consume(func(e E) { l.HandleEvent(e) })
}

// predicate compiles the type and caller filters. A nil result accepts all.
func (b *SubscriptionBuilder[E]) predicate() Predicate {
	var filters []Predicate

	if reflect.TypeFor[E]() != reflect.TypeFor[Event]() {
		filters = append(filters, func(e Event) bool {
			_, ok := e.(E)
			return ok
		})
	}
	if len(b.types) > 0 {
		filters = append(filters, FilterByType(b.types...))
	}
	if b.filter != nil {
		filter := b.filter
		filters = append(filters, func(e Event) bool {
			return filter(e.(E))
		})
	}

	if len(filters) == 0 {
		return nil
	}
	return FilterAnd(filters...)
}

// typedSubscriber narrows a Subscriber[E] to the bus element type. The
// compiled predicate guarantees every delivered event is an E.
type typedSubscriber[E Event] struct {
	target flow.Subscriber[E]
}

func (t *typedSubscriber[E]) OnSubscribe(s flow.Subscription) { t.target.OnSubscribe(s) }
func (t *typedSubscriber[E]) OnNext(e Event)                  { t.target.OnNext(e.(E)) }
func (t *typedSubscriber[E]) OnError(err error)               { t.target.OnError(err) }
func (t *typedSubscriber[E]) OnComplete()                     { t.target.OnComplete() }

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
