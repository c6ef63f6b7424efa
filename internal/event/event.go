package event

import "time"

// Event is the routing envelope every event carries.
// Events are immutable once created.
type Event interface {
	// Timestamp is the creation time in milliseconds since the Unix epoch.
	Timestamp() int64

	// SourceID identifies the producer. Group-derived publishers route on it.
	SourceID() string

	// Source is an optional reference to the producing object. It may be nil.
	Source() any
}

// EventSource is anything that has a source ID, typically a producer
// that publishes events stamped with that ID.
type EventSource interface {
	SourceID() string
}

// BaseEvent implements Event. Domain events embed it.
type BaseEvent struct {
	timestamp int64
	sourceID  string
	source    any
}

// NewBaseEvent creates an envelope stamped with the current time.
func NewBaseEvent(sourceID string, source any) BaseEvent {
	return NewBaseEventAt(time.Now().UnixMilli(), sourceID, source)
}

// NewBaseEventAt creates an envelope with an explicit timestamp.
func NewBaseEventAt(timestamp int64, sourceID string, source any) BaseEvent {
	return BaseEvent{
		timestamp: timestamp,
		sourceID:  sourceID,
		source:    source,
	}
}

// Timestamp implements Event.
func (e BaseEvent) Timestamp() int64 { return e.timestamp }

// SourceID implements Event.
func (e BaseEvent) SourceID() string { return e.sourceID }

// Source implements Event.
func (e BaseEvent) Source() any { return e.source }

// Time returns the timestamp as a time.Time.
func (e BaseEvent) Time() time.Time {
	return time.UnixMilli(e.timestamp)
}
