// Package phoneme turns utterance text into a timed phoneme sequence
// for lip sync. Extraction quality is best-effort: callers fall back to
// a resting mouth for the whole utterance when extraction fails.
package phoneme

import (
	"context"
	"strings"
	"unicode"

	"github.com/holoview/fan-gateway/internal/viseme"
)

// Extractor produces an ordered, non-overlapping phoneme sequence
// spanning at most [0, duration] for the given text.
type Extractor interface {
	Extract(ctx context.Context, text string, duration float64) ([]viseme.PhonemeEvent, error)
}

// Distribute spreads symbols evenly across [0, duration]. Phoneme-level
// timing from the upstream synthesizer is not available, so uniform
// spacing is the documented approximation.
func Distribute(symbols []string, duration float64) []viseme.PhonemeEvent {
	if len(symbols) == 0 || duration <= 0 {
		return nil
	}

	step := duration / float64(len(symbols))
	events := make([]viseme.PhonemeEvent, 0, len(symbols))
	for i, sym := range symbols {
		events = append(events, viseme.PhonemeEvent{
			Symbol: sym,
			Start:  float64(i) * step,
			End:    float64(i+1) * step,
		})
	}
	// Pin the final boundary to the exact duration
	events[len(events)-1].End = duration
	return events
}

// RuleExtractor is a dependency-free grapheme-to-phoneme estimator.
// It is deliberately crude; it exists so lip sync still moves when no
// espeak binary is installed.
type RuleExtractor struct{}

// NewRuleExtractor creates a rule-based extractor
func NewRuleExtractor() *RuleExtractor {
	return &RuleExtractor{}
}

// digraphs maps two-letter groups to a single phoneme symbol. Checked
// before single letters during the scan.
var digraphs = map[string]string{
	"th": "TH", "sh": "SH", "ch": "CH", "ng": "NG",
	"ay": "AY", "ai": "AY", "ey": "EY", "ee": "IY",
	"oo": "UW", "ou": "AW", "ow": "OW", "oy": "OY",
}

// letters maps single letters to a phoneme symbol
var letters = map[rune]string{
	'a': "AE", 'e': "EH", 'i': "IH", 'o': "OW", 'u': "UW", 'y': "IY",
	'b': "B", 'c': "K", 'd': "D", 'f': "F", 'g': "G", 'h': "H",
	'j': "JH", 'k': "K", 'l': "L", 'm': "M", 'n': "N", 'p': "P",
	'q': "K", 'r': "R", 's': "S", 't': "T", 'v': "V", 'w': "W",
	'x': "S", 'z': "Z",
}

// Extract estimates phonemes from spelling and spreads them evenly
// over the duration.
func (e *RuleExtractor) Extract(_ context.Context, text string, duration float64) ([]viseme.PhonemeEvent, error) {
	symbols := graphemesToSymbols(text)
	return Distribute(symbols, duration), nil
}

func graphemesToSymbols(text string) []string {
	runes := []rune(strings.ToLower(text))
	var symbols []string

	for i := 0; i < len(runes); i++ {
		if i+1 < len(runes) {
			if sym, ok := digraphs[string(runes[i:i+2])]; ok {
				symbols = append(symbols, sym)
				i++
				continue
			}
		}
		r := runes[i]
		if sym, ok := letters[r]; ok {
			symbols = append(symbols, sym)
			continue
		}
		// Word boundaries become brief rests
		if unicode.IsSpace(r) {
			symbols = append(symbols, "")
		}
	}

	return symbols
}
