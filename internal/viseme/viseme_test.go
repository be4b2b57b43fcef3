package viseme

import (
	"math"
	"testing"
)

const epsilon = 1e-9

func TestMap_NegativeDuration(t *testing.T) {
	_, err := Map(nil, -1.0)
	if err == nil {
		t.Fatal("Expected MappingError for negative duration")
	}
	if _, ok := err.(*MappingError); !ok {
		t.Errorf("Expected *MappingError, got %T", err)
	}
}

func TestMap_EmptyPhonemes(t *testing.T) {
	intervals, err := Map(nil, 1.5)
	if err != nil {
		t.Fatalf("Map() failed: %v", err)
	}

	if len(intervals) != 1 {
		t.Fatalf("Expected 1 interval, got %d", len(intervals))
	}
	if intervals[0].State != Rest {
		t.Errorf("Expected Rest, got %v", intervals[0].State)
	}
	if intervals[0].Start != 0 || intervals[0].End != 1.5 {
		t.Errorf("Expected [0, 1.5], got [%v, %v]", intervals[0].Start, intervals[0].End)
	}
}

func TestMap_HiUtterance(t *testing.T) {
	events := []PhonemeEvent{
		{Symbol: "H", Start: 0.0, End: 0.3},
		{Symbol: "AY", Start: 0.3, End: 2.0},
	}

	intervals, err := Map(events, 2.0)
	if err != nil {
		t.Fatalf("Map() failed: %v", err)
	}

	expected := []Interval{
		{State: Closed, Start: 0.0, End: 0.3},
		{State: OpenWide, Start: 0.3, End: 2.0},
	}

	if len(intervals) != len(expected) {
		t.Fatalf("Expected %d intervals, got %d: %v", len(expected), len(intervals), intervals)
	}
	for i, want := range expected {
		got := intervals[i]
		if got.State != want.State || math.Abs(got.Start-want.Start) > epsilon || math.Abs(got.End-want.End) > epsilon {
			t.Errorf("interval %d: expected %+v, got %+v", i, want, got)
		}
	}
}

func TestMap_Partition(t *testing.T) {
	tests := []struct {
		name     string
		events   []PhonemeEvent
		duration float64
	}{
		{
			name: "gaps filled with rest",
			events: []PhonemeEvent{
				{Symbol: "B", Start: 0.2, End: 0.4},
				{Symbol: "OW", Start: 0.7, End: 1.1},
			},
			duration: 2.0,
		},
		{
			name: "event past duration clamped",
			events: []PhonemeEvent{
				{Symbol: "S", Start: 0.0, End: 5.0},
			},
			duration: 1.0,
		},
		{
			name: "dense sequence",
			events: []PhonemeEvent{
				{Symbol: "H", Start: 0.0, End: 0.1},
				{Symbol: "EH", Start: 0.1, End: 0.2},
				{Symbol: "L", Start: 0.2, End: 0.3},
				{Symbol: "OW", Start: 0.3, End: 0.5},
			},
			duration: 0.5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			intervals, err := Map(tt.events, tt.duration)
			if err != nil {
				t.Fatalf("Map() failed: %v", err)
			}

			// Partition: starts at 0, ends at duration, no gaps, no overlaps
			if math.Abs(intervals[0].Start) > epsilon {
				t.Errorf("Expected first interval to start at 0, got %v", intervals[0].Start)
			}
			last := intervals[len(intervals)-1]
			if math.Abs(last.End-tt.duration) > epsilon {
				t.Errorf("Expected last interval to end at %v, got %v", tt.duration, last.End)
			}
			for i := 1; i < len(intervals); i++ {
				if math.Abs(intervals[i].Start-intervals[i-1].End) > epsilon {
					t.Errorf("Gap or overlap between interval %d and %d: %v vs %v",
						i-1, i, intervals[i-1].End, intervals[i].Start)
				}
				// Adjacent intervals never share a state after merging
				if intervals[i].State == intervals[i-1].State {
					t.Errorf("Adjacent intervals %d and %d share state %v", i-1, i, intervals[i].State)
				}
			}
		})
	}
}

func TestMap_MergesAdjacentSameState(t *testing.T) {
	events := []PhonemeEvent{
		{Symbol: "B", Start: 0.0, End: 0.2},
		{Symbol: "P", Start: 0.2, End: 0.4}, // Also Closed, must merge
		{Symbol: "AA", Start: 0.4, End: 0.6},
	}

	intervals, err := Map(events, 0.6)
	if err != nil {
		t.Fatalf("Map() failed: %v", err)
	}

	if len(intervals) != 2 {
		t.Fatalf("Expected 2 intervals after merge, got %d: %v", len(intervals), intervals)
	}
	if intervals[0].State != Closed || intervals[0].End != 0.4 {
		t.Errorf("Expected merged Closed interval ending at 0.4, got %+v", intervals[0])
	}
}

func TestMap_UnknownSymbolFallsBackToRest(t *testing.T) {
	events := []PhonemeEvent{
		{Symbol: "XQ", Start: 0.0, End: 1.0},
	}

	intervals, err := Map(events, 1.0)
	if err != nil {
		t.Fatalf("Expected silent degradation for unknown symbol, got error: %v", err)
	}
	if intervals[0].State != Rest {
		t.Errorf("Expected Rest for unknown symbol, got %v", intervals[0].State)
	}
}

func TestStateFor(t *testing.T) {
	tests := []struct {
		symbol   string
		expected MouthState
	}{
		{"H", Closed},
		{"h", Closed},
		{"AY", OpenWide},
		{"AY1", OpenWide}, // Stress digit stripped
		{"UW", Round},
		{"S", OpenNarrow},
		{"", Rest},
		{"??", Rest},
	}

	for _, tt := range tests {
		if got := StateFor(tt.symbol); got != tt.expected {
			t.Errorf("StateFor(%q): expected %v, got %v", tt.symbol, tt.expected, got)
		}
	}
}

func TestTimeline_ForwardCursor(t *testing.T) {
	intervals := []Interval{
		{State: Closed, Start: 0.0, End: 0.3},
		{State: OpenWide, Start: 0.3, End: 2.0},
	}
	tl := NewTimeline(intervals)

	// 30 fps over 2 seconds, strictly increasing tick times
	for tick := 0; tick < 60; tick++ {
		elapsed := float64(tick) / 30.0
		state := tl.StateAt(elapsed)

		expected := OpenWide
		if elapsed < 0.3 {
			expected = Closed
		}
		if state != expected {
			t.Errorf("tick %d (t=%.3f): expected %v, got %v", tick, elapsed, expected, state)
		}
	}
}

func TestTimeline_PastEndReturnsRest(t *testing.T) {
	tl := NewTimeline([]Interval{{State: OpenWide, Start: 0, End: 1.0}})

	if got := tl.StateAt(1.0); got != OpenWide {
		t.Errorf("Expected closing instant to resolve to OpenWide, got %v", got)
	}
	if got := tl.StateAt(5.0); got != Rest {
		t.Errorf("Expected Rest past end, got %v", got)
	}
}

func TestMouthState_String(t *testing.T) {
	tests := []struct {
		state    MouthState
		expected string
	}{
		{Rest, "REST"},
		{Closed, "CLOSED"},
		{OpenNarrow, "OPEN_NARROW"},
		{OpenWide, "OPEN_WIDE"},
		{Round, "ROUND"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("Expected '%s', got '%s'", tt.expected, got)
		}
	}
}
