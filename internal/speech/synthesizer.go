package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
)

// Speaking-rate estimate used when the WAV header cannot be decoded.
const fallbackWordsPerMinute = 150.0

// SynthesisError reports a failed text-to-speech request.
type SynthesisError struct {
	Reason string
	Err    error
}

func (e *SynthesisError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("speech synthesis failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("speech synthesis failed: %s", e.Reason)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// Utterance is a synthesized audio clip saved to disk.
type Utterance struct {
	Text     string
	Path     string
	Duration time.Duration
}

// Synthesizer converts reply text to WAV audio via an OpenAI-compatible
// speech endpoint and saves each clip under the configured output directory.
type Synthesizer struct {
	apiURL     string
	apiKey     string
	model      string
	voice      string
	outputDir  string
	httpClient *http.Client
	logger     zerolog.Logger

	mu      sync.Mutex
	counter int
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// NewSynthesizer creates a speech client. The output directory must exist.
func NewSynthesizer(apiURL, apiKey, model, voice, outputDir string, logger zerolog.Logger) *Synthesizer {
	return &Synthesizer{
		apiURL:     strings.TrimRight(apiURL, "/"),
		apiKey:     apiKey,
		model:      model,
		voice:      voice,
		outputDir:  outputDir,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		logger:     logger.With().Str("component", "speech").Logger(),
	}
}

// Synthesize requests WAV audio for text and writes it to a numbered file.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (*Utterance, error) {
	if strings.TrimSpace(text) == "" {
		return nil, &SynthesisError{Reason: "empty text"}
	}

	jsonData, err := json.Marshal(speechRequest{
		Model:          s.model,
		Input:          text,
		Voice:          s.voice,
		ResponseFormat: "wav",
	})
	if err != nil {
		return nil, &SynthesisError{Reason: "failed to marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/audio/speech", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, &SynthesisError{Reason: "failed to create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	start := time.Now()
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, &SynthesisError{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &SynthesisError{Reason: fmt.Sprintf("API returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
	}

	audioData, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &SynthesisError{Reason: "failed to read audio response", Err: err}
	}
	if len(audioData) == 0 {
		return nil, &SynthesisError{Reason: "API returned empty audio"}
	}

	path := s.nextPath()
	if err := os.WriteFile(path, audioData, 0o644); err != nil {
		return nil, &SynthesisError{Reason: "failed to save audio", Err: err}
	}

	duration, err := WAVDuration(path)
	if err != nil {
		duration = EstimateDuration(text)
		s.logger.Warn().Err(err).Str("path", path).
			Dur("estimated", duration).Msg("Could not decode WAV header, using estimate")
	}

	s.logger.Info().
		Str("path", path).
		Dur("duration", duration).
		Dur("latency", time.Since(start)).
		Int("bytes", len(audioData)).
		Msg("Synthesized speech")

	return &Utterance{Text: text, Path: path, Duration: duration}, nil
}

func (s *Synthesizer) nextPath() string {
	s.mu.Lock()
	s.counter++
	n := s.counter
	s.mu.Unlock()
	return filepath.Join(s.outputDir, fmt.Sprintf("reply_%03d.wav", n))
}

// WAVDuration reads the duration of a WAV file from its header.
func WAVDuration(path string) (time.Duration, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open WAV file: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	duration, err := decoder.Duration()
	if err != nil {
		return 0, fmt.Errorf("failed to decode WAV duration: %w", err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("WAV file reports non-positive duration")
	}
	return duration, nil
}

// EstimateDuration approximates speaking time from word count.
func EstimateDuration(text string) time.Duration {
	words := len(strings.Fields(text))
	if words == 0 {
		return 0
	}
	seconds := float64(words) / fallbackWordsPerMinute * 60.0
	return time.Duration(seconds * float64(time.Second))
}
