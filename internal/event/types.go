package event

import "reflect"

// EventType is a discriminator for concrete event types, used to narrow
// subscriptions. Build one with TypeOf.
type EventType struct {
	t reflect.Type
}

// TypeOf returns the EventType for E.
//
// If E is an interface type, Matches reports whether an event implements it.
// Otherwise the event's dynamic type must be E itself.
func TypeOf[E any]() EventType {
	return EventType{t: reflect.TypeFor[E]()}
}

// Matches reports whether e is of this type.
func (et EventType) Matches(e Event) bool {
	if e == nil || et.t == nil {
		return false
	}
	dyn := reflect.TypeOf(e)
	if et.t.Kind() == reflect.Interface {
		return dyn.Implements(et.t)
	}
	return dyn == et.t
}

// IsZero reports whether et was not built with TypeOf.
func (et EventType) IsZero() bool {
	return et.t == nil
}

// String returns the Go type name.
func (et EventType) String() string {
	if et.t == nil {
		return "<nil>"
	}
	return et.t.String()
}

// typeName returns a short type label for logging.
func typeName(v any) string {
	if v == nil {
		return "<nil>"
	}
	return reflect.TypeOf(v).String()
}
