package event

import "strings"

// Predicate decides whether an event is delivered to a subscriber.
type Predicate func(e Event) bool

// Common predicates for event subscription.

// FilterBySource creates a filter that only allows events from the specified source ID.
func FilterBySource(sourceID string) Predicate {
	return func(e Event) bool {
		return e.SourceID() == sourceID
	}
}

// FilterBySources creates a filter that only allows events from one of the specified source IDs.
func FilterBySources(sourceIDs ...string) Predicate {
	if len(sourceIDs) == 1 {
		return FilterBySource(sourceIDs[0])
	}
	sourceSet := make(map[string]struct{}, len(sourceIDs))
	for _, s := range sourceIDs {
		sourceSet[s] = struct{}{}
	}
	return func(e Event) bool {
		_, ok := sourceSet[e.SourceID()]
		return ok
	}
}

// FilterBySourcePrefix creates a filter that only allows events whose source ID starts with prefix.
func FilterBySourcePrefix(prefix string) Predicate {
	return func(e Event) bool {
		return strings.HasPrefix(e.SourceID(), prefix)
	}
}

// FilterExcludeSource creates a filter that excludes events from the specified source ID.
func FilterExcludeSource(sourceID string) Predicate {
	return func(e Event) bool {
		return e.SourceID() != sourceID
	}
}

// FilterByType creates a filter that allows events matching any of the types.
// With no types every event passes.
func FilterByType(types ...EventType) Predicate {
	switch len(types) {
	case 0:
		return FilterAll()
	case 1:
		return types[0].Matches
	}
	return func(e Event) bool {
		for _, t := range types {
			if t.Matches(e) {
				return true
			}
		}
		return false
	}
}

// FilterSince creates a filter that allows events stamped at or after ts (epoch millis).
func FilterSince(ts int64) Predicate {
	return func(e Event) bool {
		return e.Timestamp() >= ts
	}
}

// FilterAnd combines filters with AND logic. Nil filters are skipped.
func FilterAnd(filters ...Predicate) Predicate {
	filters = compact(filters)
	switch len(filters) {
	case 0:
		return FilterAll()
	case 1:
		return filters[0]
	}
	return func(e Event) bool {
		for _, f := range filters {
			if !f(e) {
				return false
			}
		}
		return true
	}
}

// FilterOr combines filters with OR logic. Nil filters are skipped.
func FilterOr(filters ...Predicate) Predicate {
	filters = compact(filters)
	if len(filters) == 1 {
		return filters[0]
	}
	return func(e Event) bool {
		for _, f := range filters {
			if f(e) {
				return true
			}
		}
		return false
	}
}

// FilterNot negates a filter.
func FilterNot(filter Predicate) Predicate {
	return func(e Event) bool {
		return !filter(e)
	}
}

// FilterAll returns a filter that allows all events.
func FilterAll() Predicate {
	return func(Event) bool { return true }
}

// FilterNone returns a filter that rejects all events.
func FilterNone() Predicate {
	return func(Event) bool { return false }
}

func compact(filters []Predicate) []Predicate {
	out := make([]Predicate, 0, len(filters))
	for _, f := range filters {
		if f != nil {
			out = append(out, f)
		}
	}
	return out
}
