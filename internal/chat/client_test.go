package chat

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"

	"github.com/holoview/fan-gateway/internal/resilience"
)

func completionHandler(t *testing.T, reply string, capture *[]Message) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("Expected path /chat/completions, got %s", r.URL.Path)
		}
		var req completionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("Failed to decode request: %v", err)
		}
		if capture != nil {
			*capture = req.Messages
		}
		json.NewEncoder(w).Encode(map[string]any{
			"model": req.Model,
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": reply}},
			},
			"usage": map[string]int{"total_tokens": 12},
		})
	}
}

func TestReply(t *testing.T) {
	var sent []Message
	server := httptest.NewServer(completionHandler(t, "Hi there!", &sent))
	defer server.Close()

	c := NewClient(server.URL, "key", "gpt-4", 150, 0.7, zerolog.Nop())
	reply, err := c.Reply(context.Background(), "Hello")
	if err != nil {
		t.Fatalf("Expected success, got error: %v", err)
	}
	if reply != "Hi there!" {
		t.Errorf("Expected 'Hi there!', got '%s'", reply)
	}

	if len(sent) != 2 {
		t.Fatalf("Expected system + user messages, got %d", len(sent))
	}
	if sent[0].Role != "system" {
		t.Errorf("Expected first message role 'system', got '%s'", sent[0].Role)
	}
	if sent[1].Role != "user" || sent[1].Content != "Hello" {
		t.Errorf("Expected user message 'Hello', got %+v", sent[1])
	}
}

func TestReply_HistoryCarriesForward(t *testing.T) {
	var sent []Message
	server := httptest.NewServer(completionHandler(t, "reply", &sent))
	defer server.Close()

	c := NewClient(server.URL, "key", "gpt-4", 150, 0.7, zerolog.Nop())
	if _, err := c.Reply(context.Background(), "first"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, err := c.Reply(context.Background(), "second"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	// system + first user + assistant + second user
	if len(sent) != 4 {
		t.Fatalf("Expected 4 messages in second request, got %d", len(sent))
	}
	if sent[1].Content != "first" || sent[2].Role != "assistant" || sent[3].Content != "second" {
		t.Errorf("Unexpected message order: %+v", sent)
	}

	history := c.History()
	if len(history) != 4 {
		t.Errorf("Expected 4 history messages, got %d", len(history))
	}
}

func TestReply_FailureNotRecorded(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	c := NewClient(server.URL, "key", "gpt-4", 150, 0.7, zerolog.Nop())
	_, err := c.Reply(context.Background(), "Hello")
	if err == nil {
		t.Fatal("Expected error for 503 response")
	}
	var upstreamErr *UpstreamError
	if !errors.As(err, &upstreamErr) {
		t.Fatalf("Expected UpstreamError, got %T", err)
	}
	if upstreamErr.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", upstreamErr.StatusCode)
	}
	if len(c.History()) != 0 {
		t.Error("Expected failed exchange to be excluded from history")
	}
}

func TestClearHistory(t *testing.T) {
	server := httptest.NewServer(completionHandler(t, "ok", nil))
	defer server.Close()

	c := NewClient(server.URL, "key", "gpt-4", 150, 0.7, zerolog.Nop())
	if _, err := c.Reply(context.Background(), "Hello"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	c.ClearHistory()
	if len(c.History()) != 0 {
		t.Error("Expected empty history after clear")
	}
}

func TestReply_CircuitOpensAfterRepeatedFailures(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	defer server.Close()

	c := NewClient(server.URL, "key", "gpt-4", 150, 0.7, zerolog.Nop())
	for i := 0; i < 5; i++ {
		if _, err := c.Reply(context.Background(), "hi"); err == nil {
			t.Fatal("Expected error while backend is down")
		}
	}

	if c.Healthy() {
		t.Error("Expected circuit to be open after repeated failures")
	}

	before := calls.Load()
	_, err := c.Reply(context.Background(), "hi")
	if !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
	if calls.Load() != before {
		t.Error("Expected open circuit to short-circuit the request")
	}
}

func TestReply_EmptyText(t *testing.T) {
	c := NewClient("http://localhost:1", "key", "gpt-4", 150, 0.7, zerolog.Nop())
	if _, err := c.Reply(context.Background(), "  "); err == nil {
		t.Error("Expected error for empty text")
	}
}

func TestSetSystemPrompt(t *testing.T) {
	var sent []Message
	server := httptest.NewServer(completionHandler(t, "ok", &sent))
	defer server.Close()

	c := NewClient(server.URL, "key", "gpt-4", 150, 0.7, zerolog.Nop())
	c.SetSystemPrompt("Answer in French.")
	if _, err := c.Reply(context.Background(), "Hello"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if sent[0].Content != "Answer in French." {
		t.Errorf("Expected custom system prompt, got '%s'", sent[0].Content)
	}
}
