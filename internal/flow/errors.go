package flow

import "errors"

// Sentinel errors for the flow package.
var (
	// ErrFutureCanceled is returned by Future.Get when the future is failed
	// because the subscription it was waiting for was abandoned.
	ErrFutureCanceled = errors.New("future canceled")

	// ErrNoPendingCapacity is passed to a group's reject handler when an item
	// arrives with no member demand and the pending queue is full.
	ErrNoPendingCapacity = errors.New("subscriber group has no demand and no pending capacity")

	// ErrGroupEmpty is passed to a group's reject handler when an item arrives
	// after every member has left.
	ErrGroupEmpty = errors.New("subscriber group has no members")
)
