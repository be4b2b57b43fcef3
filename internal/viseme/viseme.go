package viseme

import (
	"fmt"
	"strings"
)

// MouthState is one of the five mouth shapes the fan can display.
type MouthState int

const (
	Rest MouthState = iota
	Closed
	OpenNarrow
	OpenWide
	Round
)

// String returns the mouth state name
func (m MouthState) String() string {
	switch m {
	case Closed:
		return "CLOSED"
	case OpenNarrow:
		return "OPEN_NARROW"
	case OpenWide:
		return "OPEN_WIDE"
	case Round:
		return "ROUND"
	default:
		return "REST"
	}
}

// PhonemeEvent is a single phoneme with its time interval, in seconds
// relative to utterance start. Events are non-overlapping and ordered
// by construction.
type PhonemeEvent struct {
	Symbol string
	Start  float64
	End    float64
}

// Interval is a mouth state held over [Start, End).
type Interval struct {
	State MouthState
	Start float64
	End   float64
}

// Contains reports whether t falls inside the interval. The final
// interval of a timeline is treated as closed on the right so the last
// instant of playback still resolves.
func (iv Interval) Contains(t float64) bool {
	return t >= iv.Start && t < iv.End
}

// MappingError indicates the mapper was given an unusable duration.
// Unknown phoneme symbols never produce an error; they degrade to Rest.
type MappingError struct {
	Duration float64
}

func (e *MappingError) Error() string {
	return fmt.Sprintf("viseme mapping: invalid total duration %.3fs", e.Duration)
}

// mouthStateTable maps phoneme symbols (ARPAbet-style, upper case) to
// mouth states. Symbols absent from the table map to Rest.
var mouthStateTable = map[string]MouthState{
	// Lips together
	"B": Closed, "P": Closed, "M": Closed, "H": Closed,

	// Wide open vowels and back consonants
	"AA": OpenWide, "AE": OpenWide, "AH": OpenWide, "AY": OpenWide,
	"AW": OpenWide, "K": OpenWide, "G": OpenWide, "NG": OpenWide,

	// Narrow openings
	"IY": OpenNarrow, "IH": OpenNarrow, "EH": OpenNarrow, "EY": OpenNarrow,
	"S": OpenNarrow, "Z": OpenNarrow, "T": OpenNarrow, "D": OpenNarrow,
	"N": OpenNarrow, "TH": OpenNarrow, "DH": OpenNarrow, "F": OpenNarrow,
	"V": OpenNarrow, "L": OpenNarrow, "Y": OpenNarrow,

	// Rounded lips
	"OW": Round, "UW": Round, "UH": Round, "AO": Round, "OY": Round,
	"W": Round, "R": Round, "SH": Round, "ZH": Round, "CH": Round, "JH": Round,
}

// StateFor looks up the mouth state for a phoneme symbol. Lookup is
// case-insensitive and ignores ARPAbet stress digits ("AY1" → "AY").
func StateFor(symbol string) MouthState {
	s := strings.ToUpper(strings.TrimSpace(symbol))
	s = strings.TrimRight(s, "012")
	if state, ok := mouthStateTable[s]; ok {
		return state
	}
	return Rest
}

// Map converts a timed phoneme sequence into a sequence of mouth-state
// intervals partitioning [0, totalDuration]: gaps are filled with Rest,
// adjacent intervals with the same state are merged, and events beyond
// totalDuration are clamped. An empty sequence yields a single Rest
// interval over the whole duration.
func Map(events []PhonemeEvent, totalDuration float64) ([]Interval, error) {
	if totalDuration < 0 {
		return nil, &MappingError{Duration: totalDuration}
	}

	if len(events) == 0 || totalDuration == 0 {
		return []Interval{{State: Rest, Start: 0, End: totalDuration}}, nil
	}

	var intervals []Interval
	cursor := 0.0

	push := func(state MouthState, start, end float64) {
		if end <= start {
			return
		}
		// Merge with the previous interval when the state repeats
		if n := len(intervals); n > 0 && intervals[n-1].State == state {
			intervals[n-1].End = end
			return
		}
		intervals = append(intervals, Interval{State: state, Start: start, End: end})
	}

	for _, ev := range events {
		start, end := ev.Start, ev.End
		if start < cursor {
			start = cursor
		}
		if end > totalDuration {
			end = totalDuration
		}
		if end <= start {
			continue
		}

		// Fill any gap before this phoneme with Rest
		push(Rest, cursor, start)
		push(StateFor(ev.Symbol), start, end)
		cursor = end
	}

	// Trailing silence
	push(Rest, cursor, totalDuration)

	if len(intervals) == 0 {
		intervals = []Interval{{State: Rest, Start: 0, End: totalDuration}}
	}

	return intervals, nil
}

// RestTimeline returns the single-interval timeline used when lip sync
// is disabled or phoneme extraction fails.
func RestTimeline(totalDuration float64) []Interval {
	return []Interval{{State: Rest, Start: 0, End: totalDuration}}
}

// Timeline walks a mapped interval sequence with a forward-only cursor.
// Lookups are amortized O(1) because playback time only moves forward;
// the cursor never re-scans from the start.
type Timeline struct {
	intervals []Interval
	cursor    int
}

// NewTimeline creates a timeline over a mapped interval sequence
func NewTimeline(intervals []Interval) *Timeline {
	return &Timeline{intervals: intervals}
}

// StateAt returns the mouth state whose interval contains t. Times
// before the first interval return its state; times at or past the end
// of the last interval return Rest.
func (tl *Timeline) StateAt(t float64) MouthState {
	if len(tl.intervals) == 0 {
		return Rest
	}

	for tl.cursor < len(tl.intervals)-1 && t >= tl.intervals[tl.cursor].End {
		tl.cursor++
	}

	iv := tl.intervals[tl.cursor]
	if iv.Contains(t) || (tl.cursor == len(tl.intervals)-1 && t <= iv.End) {
		return iv.State
	}
	if t < iv.Start {
		return iv.State
	}
	return Rest
}

// Intervals returns the underlying interval sequence
func (tl *Timeline) Intervals() []Interval {
	return tl.intervals
}
