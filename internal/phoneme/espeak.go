package phoneme

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/holoview/fan-gateway/internal/viseme"
	"github.com/rs/zerolog"
)

// EspeakExtractor extracts phonemes by shelling out to espeak's IPA
// output, the same backend the phonemizer stack uses.
type EspeakExtractor struct {
	binary  string
	voice   string
	timeout time.Duration
	logger  zerolog.Logger
}

// NewEspeakExtractor creates an espeak-backed extractor
func NewEspeakExtractor(binary, voice string, timeout time.Duration, logger zerolog.Logger) *EspeakExtractor {
	if binary == "" {
		binary = "espeak"
	}
	if voice == "" {
		voice = "en-us"
	}
	return &EspeakExtractor{binary: binary, voice: voice, timeout: timeout, logger: logger}
}

// ipaTable maps individual IPA characters to ARPAbet-style symbols.
// Diphthongs arrive as two characters; mapping each half independently
// is close enough for a five-state mouth.
var ipaTable = map[rune]string{
	'ɑ': "AA", 'æ': "AE", 'ʌ': "AH", 'ə': "AH", 'ɚ': "AH", 'ɛ': "EH",
	'e': "EY", 'i': "IY", 'ɪ': "IH", 'o': "OW", 'ɔ': "AO", 'u': "UW",
	'ʊ': "UH", 'a': "AA",
	'b': "B", 'p': "P", 'm': "M", 'f': "F", 'v': "V",
	'θ': "TH", 'ð': "DH", 's': "S", 'z': "Z", 'ʃ': "SH", 'ʒ': "ZH",
	't': "T", 'd': "D", 'n': "N", 'l': "L", 'ɹ': "R", 'r': "R",
	'k': "K", 'ɡ': "G", 'g': "G", 'ŋ': "NG", 'w': "W", 'j': "Y", 'h': "H",
}

// Extract runs espeak and maps its IPA output to evenly spaced phoneme
// events over the duration.
func (e *EspeakExtractor) Extract(ctx context.Context, text string, duration float64) ([]viseme.PhonemeEvent, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, e.binary, "-q", "--ipa", "-v", e.voice, text)
	var out bytes.Buffer
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("espeak extraction failed: %w", err)
	}

	symbols := ipaToSymbols(out.String())
	if len(symbols) == 0 {
		return nil, fmt.Errorf("espeak produced no phonemes for %q", text)
	}

	e.logger.Debug().Int("phonemes", len(symbols)).Str("text", text).Msg("Extracted phonemes via espeak")
	return Distribute(symbols, duration), nil
}

func ipaToSymbols(ipa string) []string {
	var symbols []string
	for _, r := range ipa {
		if sym, ok := ipaTable[r]; ok {
			symbols = append(symbols, sym)
			continue
		}
		switch r {
		case ' ', '\n', '\t':
			symbols = append(symbols, "")
		}
		// Stress marks and length marks are dropped
	}
	return symbols
}
