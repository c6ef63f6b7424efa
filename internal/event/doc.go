// Package event provides the in-process event bus.
//
// Events are addressed by topic ID. The Bus creates one BufferedPublisher
// per topic on first use; every subscriber of a publisher gets its own
// bounded buffer and demand counter, and is drained on a shared elastic
// worker pool, so a slow subscriber never blocks the producer or its peers.
//
// # Publishing
//
//	pub, err := bus.GetPublisher("sensor-1")
//	if err != nil {
//	    return err
//	}
//	pub.Publish(reading)
//
// When a subscriber's buffer is full, Publish uses the default drop policy:
// it logs a warning and discards the event for that subscriber only.
// PublishWithDrop takes a custom policy that may ask for one retry.
//
// # Groups
//
// A group topic carries events of many sources. GetGroupPublisher returns a
// sub-topic view of it: publishing goes to the group, and subscribing only
// sees events whose SourceID is the sub-topic ID.
//
// # Subscribing
//
// NewSubscription returns a builder for typed subscriptions:
//
//	future := event.NewSubscription[Reading](bus).
//	    WithTopicIDs("sensor-1", "sensor-2").
//	    Consume(func(r Reading) { ... })
//	sub, err := future.Get(ctx)
//
// A single topic is subscribed directly. Several topics are merged by an
// aggregate subscription, and several sub-topics of one group share a single
// group subscription. Subscribing to a topic that has no publisher yet is
// allowed: the subscriber is attached, and receives OnSubscribe, once the
// publisher is created.
//
// # Listeners
//
// ListenerDispatcher is the synchronous, non-reactive path. It calls each
// Listener on the publishing goroutine, recovers and logs listener panics,
// and tolerates re-entrant registration and publishing.
package event
