package event

import "testing"

func TestFilters(t *testing.T) {
	a1 := NewBaseEventAt(100, "sensor-a1", nil)
	a2 := NewBaseEventAt(200, "sensor-a2", nil)
	b1 := NewBaseEventAt(300, "gauge-b1", nil)
	al := alarm{BaseEvent: NewBaseEventAt(400, "sensor-a1", nil), level: "low"}

	tests := []struct {
		name     string
		filter   Predicate
		event    Event
		expected bool
	}{
		{"by source match", FilterBySource("sensor-a1"), a1, true},
		{"by source mismatch", FilterBySource("sensor-a1"), a2, false},
		{"by sources single", FilterBySources("sensor-a2"), a2, true},
		{"by sources set", FilterBySources("sensor-a1", "gauge-b1"), b1, true},
		{"by sources miss", FilterBySources("sensor-a1", "gauge-b1"), a2, false},
		{"by prefix", FilterBySourcePrefix("sensor-"), a2, true},
		{"by prefix miss", FilterBySourcePrefix("sensor-"), b1, false},
		{"exclude", FilterExcludeSource("gauge-b1"), b1, false},
		{"exclude other", FilterExcludeSource("gauge-b1"), a1, true},
		{"by type none", FilterByType(), a1, true},
		{"by type single", FilterByType(TypeOf[alarm]()), al, true},
		{"by type single miss", FilterByType(TypeOf[alarm]()), a1, false},
		{"by type any", FilterByType(TypeOf[reading](), TypeOf[leveled]()), al, true},
		{"since", FilterSince(200), a2, true},
		{"since before", FilterSince(200), a1, false},
		{"and", FilterAnd(FilterBySourcePrefix("sensor-"), FilterSince(150)), a2, true},
		{"and short-circuit", FilterAnd(FilterBySourcePrefix("sensor-"), FilterSince(150)), a1, false},
		{"and skips nil", FilterAnd(nil, FilterBySource("sensor-a1")), a1, true},
		{"and empty", FilterAnd(), b1, true},
		{"or", FilterOr(FilterBySource("gauge-b1"), FilterBySource("sensor-a1")), a1, true},
		{"or miss", FilterOr(FilterBySource("gauge-b1"), FilterBySource("sensor-a1")), a2, false},
		{"or empty", FilterOr(), a1, false},
		{"not", FilterNot(FilterBySource("sensor-a1")), a1, false},
		{"all", FilterAll(), b1, true},
		{"none", FilterNone(), b1, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.filter(tt.event); got != tt.expected {
				t.Errorf("filter(%s) = %v, want %v", tt.event.SourceID(), got, tt.expected)
			}
		})
	}
}
