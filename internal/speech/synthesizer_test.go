package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
)

// writeTestWAV writes a mono 16-bit WAV of the given duration.
func writeTestWAV(t *testing.T, path string, sampleRate int, duration time.Duration) []byte {
	t.Helper()

	numSamples := int(float64(sampleRate) * duration.Seconds())
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:           make([]int, numSamples),
		SourceBitDepth: 16,
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create test WAV: %v", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	if err := enc.Write(buf); err != nil {
		t.Fatalf("Failed to write test WAV: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("Failed to finalize test WAV: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read test WAV back: %v", err)
	}
	return data
}

func TestSynthesize(t *testing.T) {
	dir := t.TempDir()
	wavBytes := writeTestWAV(t, filepath.Join(dir, "fixture.wav"), 24000, 500*time.Millisecond)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("Expected path /audio/speech, got %s", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("Expected bearer auth, got '%s'", auth)
		}
		var req speechRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if req.Input != "Hello there" {
			t.Errorf("Expected input 'Hello there', got '%s'", req.Input)
		}
		if req.ResponseFormat != "wav" {
			t.Errorf("Expected response_format 'wav', got '%s'", req.ResponseFormat)
		}
		w.Write(wavBytes)
	}))
	defer server.Close()

	s := NewSynthesizer(server.URL, "test-key", "tts-1", "alloy", dir, zerolog.Nop())
	utt, err := s.Synthesize(context.Background(), "Hello there")
	if err != nil {
		t.Fatalf("Expected success, got error: %v", err)
	}

	if utt.Text != "Hello there" {
		t.Errorf("Expected utterance text preserved, got '%s'", utt.Text)
	}
	if filepath.Dir(utt.Path) != dir {
		t.Errorf("Expected file under %s, got %s", dir, utt.Path)
	}

	saved, err := os.ReadFile(utt.Path)
	if err != nil {
		t.Fatalf("Expected saved audio file: %v", err)
	}
	if !bytes.Equal(saved, wavBytes) {
		t.Error("Expected saved audio to match response body")
	}

	// Header-derived duration, not the word-count estimate
	if utt.Duration < 400*time.Millisecond || utt.Duration > 600*time.Millisecond {
		t.Errorf("Expected duration near 500ms, got %v", utt.Duration)
	}
}

func TestSynthesize_NumberedFiles(t *testing.T) {
	dir := t.TempDir()
	wavBytes := writeTestWAV(t, filepath.Join(dir, "fixture.wav"), 8000, 100*time.Millisecond)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(wavBytes)
	}))
	defer server.Close()

	s := NewSynthesizer(server.URL, "key", "tts-1", "alloy", dir, zerolog.Nop())

	first, err := s.Synthesize(context.Background(), "one")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	second, err := s.Synthesize(context.Background(), "two")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	if filepath.Base(first.Path) != "reply_001.wav" {
		t.Errorf("Expected reply_001.wav, got %s", filepath.Base(first.Path))
	}
	if filepath.Base(second.Path) != "reply_002.wav" {
		t.Errorf("Expected reply_002.wav, got %s", filepath.Base(second.Path))
	}
}

func TestSynthesize_EmptyText(t *testing.T) {
	s := NewSynthesizer("http://localhost:1", "key", "tts-1", "alloy", t.TempDir(), zerolog.Nop())
	if _, err := s.Synthesize(context.Background(), "   "); err == nil {
		t.Error("Expected error for empty text")
	}
}

func TestSynthesize_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer server.Close()

	s := NewSynthesizer(server.URL, "key", "tts-1", "alloy", t.TempDir(), zerolog.Nop())
	_, err := s.Synthesize(context.Background(), "hi")
	if err == nil {
		t.Fatal("Expected error for non-200 status")
	}
	var synthErr *SynthesisError
	if !errors.As(err, &synthErr) {
		t.Errorf("Expected SynthesisError, got %T", err)
	}
}

func TestSynthesize_MalformedAudioFallsBackToEstimate(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not a wav file"))
	}))
	defer server.Close()

	s := NewSynthesizer(server.URL, "key", "tts-1", "alloy", t.TempDir(), zerolog.Nop())
	utt, err := s.Synthesize(context.Background(), "three words here")
	if err != nil {
		t.Fatalf("Expected fallback, got error: %v", err)
	}

	expected := EstimateDuration("three words here")
	if utt.Duration != expected {
		t.Errorf("Expected estimated duration %v, got %v", expected, utt.Duration)
	}
}

func TestEstimateDuration(t *testing.T) {
	tests := []struct {
		text     string
		expected time.Duration
	}{
		{"", 0},
		{"hello", 400 * time.Millisecond},
		{"one two three four five", 2 * time.Second},
	}

	for _, tt := range tests {
		if got := EstimateDuration(tt.text); got != tt.expected {
			t.Errorf("EstimateDuration(%q): expected %v, got %v", tt.text, tt.expected, got)
		}
	}
}

func TestWAVDuration_MissingFile(t *testing.T) {
	if _, err := WAVDuration(filepath.Join(t.TempDir(), "missing.wav")); err == nil {
		t.Error("Expected error for missing file")
	}
}

func TestNopPlayer(t *testing.T) {
	var p Player = NopPlayer{}
	if err := p.Play(context.Background(), "anything.wav"); err != nil {
		t.Errorf("Expected nil from NopPlayer.Play, got %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Expected nil from NopPlayer.Close, got %v", err)
	}
}
