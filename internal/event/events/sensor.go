package events

import (
	"github.com/dshills/sensorbus/internal/event"
)

// SensorState is a lifecycle state of a sensor.
type SensorState string

// Sensor lifecycle states.
const (
	SensorStarting SensorState = "starting"
	SensorStarted  SensorState = "started"
	SensorStopping SensorState = "stopping"
	SensorStopped  SensorState = "stopped"
)

// StatusEvent reports a sensor lifecycle change.
type StatusEvent struct {
	event.BaseEvent

	// State is the state the sensor entered.
	State SensorState
}

// NewStatusEvent creates a status event for sensorID.
func NewStatusEvent(sensorID string, state SensorState) StatusEvent {
	return StatusEvent{
		BaseEvent: event.NewBaseEvent(sensorID, nil),
		State:     state,
	}
}

// Attributes exposes the state to filters and encoders.
func (e StatusEvent) Attributes() map[string]any {
	return map[string]any{"state": string(e.State)}
}

// DataEvent carries one measurement produced by a sensor output.
type DataEvent struct {
	event.BaseEvent

	// Channel is the name of the sensor output that produced the value.
	Channel string

	// Value is the measured value.
	Value float64
}

// NewDataEvent creates a data event for sensorID.
func NewDataEvent(sensorID, channel string, value float64) DataEvent {
	return DataEvent{
		BaseEvent: event.NewBaseEvent(sensorID, nil),
		Channel:   channel,
		Value:     value,
	}
}

// Attributes exposes the measurement to filters and encoders.
func (e DataEvent) Attributes() map[string]any {
	return map[string]any{
		"channel": e.Channel,
		"value":   e.Value,
	}
}
