// Package events defines the event payloads produced by sensors on the bus.
//
// Every payload embeds event.BaseEvent, so it carries the routing envelope
// (timestamp and source ID) and can be published on any topic:
//
//	pub, _ := bus.GetGroupPublisher("plant", "thermo-1")
//	pub.Publish(events.NewDataEvent("thermo-1", "temperature", 21.5))
//
// Consumers narrow subscriptions by payload type:
//
//	event.NewSubscription[events.DataEvent](bus).
//	    WithTopicIDs("thermo-1").
//	    Consume(handle)
package events
