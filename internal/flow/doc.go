// Package flow implements the reactive-streams protocol used by the event bus.
//
// The protocol has three roles. A Publisher produces items, a Subscriber
// consumes them, and a Subscription is the flow-control handle between the
// two. Subscribers pull items by calling Request(n). A publisher never
// delivers more items than have been requested.
//
// # Composition
//
// The package provides building blocks that sit between publishers and
// subscribers:
//
//   - FilteredSubscriber applies a predicate. It compensates demand for
//     rejected items, so the delegate only sees the items that match.
//   - AggregateSubscription fans N upstream subscriptions into one downstream
//     subscriber. It waits for all N before subscribing and before completing.
//   - SubscriberGroup fans one upstream subscription out to several member
//     subscribers. Items are balanced round-robin among members with demand.
//
// # Adapters
//
// SubscriberFuncs turns plain callbacks into a Subscriber. Delegate wraps
// an existing subscriber so callers can observe the subscription handshake.
// Future signals that a subscription has been established.
//
// # Usage
//
//	sub := flow.NewSubscriberFuncs[int](flow.SubscriberCallbacks[int]{
//	    OnNext: func(v int) { fmt.Println(v) },
//	}, true)
//	publisher.Subscribe(sub)
package flow
