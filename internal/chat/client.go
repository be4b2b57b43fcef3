package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/holoview/fan-gateway/internal/resilience"
)

// History is capped so long sessions don't grow the prompt without bound.
const maxHistoryMessages = 40

// DefaultSystemPrompt keeps replies short enough to render and speak in
// real time.
const DefaultSystemPrompt = "You are a friendly holographic assistant. " +
	"Keep every reply under three sentences and use plain conversational language."

// UpstreamError reports a failed chat completion request.
type UpstreamError struct {
	StatusCode int
	Reason     string
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("chat upstream error (status %d): %s", e.StatusCode, e.Reason)
	}
	if e.Err != nil {
		return fmt.Sprintf("chat upstream error: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("chat upstream error: %s", e.Reason)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Message is a single chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Client talks to an OpenAI-compatible chat completions endpoint and
// keeps the running conversation so replies stay in context.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	maxTokens   int
	temperature float64
	httpClient  *http.Client
	breaker     *resilience.CircuitBreaker
	logger      zerolog.Logger

	mu           sync.Mutex
	systemPrompt string
	history      []Message
}

// NewClient creates a chat client with the default system prompt.
func NewClient(baseURL, apiKey, model string, maxTokens int, temperature float64, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		apiKey:       apiKey,
		model:        model,
		maxTokens:    maxTokens,
		temperature:  temperature,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		breaker:      resilience.NewCircuitBreaker("chat", 5, 30*time.Second),
		logger:       logger.With().Str("component", "chat").Logger(),
		systemPrompt: DefaultSystemPrompt,
	}
}

// SetSystemPrompt replaces the system prompt for subsequent turns.
func (c *Client) SetSystemPrompt(prompt string) {
	c.mu.Lock()
	c.systemPrompt = prompt
	c.mu.Unlock()
}

// ClearHistory drops the conversation, keeping the system prompt.
func (c *Client) ClearHistory() {
	c.mu.Lock()
	c.history = nil
	c.mu.Unlock()
}

// History returns a copy of the conversation so far.
func (c *Client) History() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.history))
	copy(out, c.history)
	return out
}

// Reply sends the user's text plus conversation history and returns the
// assistant's reply. The exchange is recorded in history only on success.
func (c *Client) Reply(ctx context.Context, userText string) (string, error) {
	if strings.TrimSpace(userText) == "" {
		return "", &UpstreamError{Reason: "empty user text"}
	}

	c.mu.Lock()
	messages := make([]Message, 0, len(c.history)+2)
	messages = append(messages, Message{Role: "system", Content: c.systemPrompt})
	messages = append(messages, c.history...)
	messages = append(messages, Message{Role: "user", Content: userText})
	c.mu.Unlock()

	var reply string
	err := c.breaker.Call(func() error {
		var callErr error
		reply, callErr = c.complete(ctx, messages)
		return callErr
	})
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.history = append(c.history,
		Message{Role: "user", Content: userText},
		Message{Role: "assistant", Content: reply},
	)
	if len(c.history) > maxHistoryMessages {
		c.history = c.history[len(c.history)-maxHistoryMessages:]
	}
	c.mu.Unlock()

	return reply, nil
}

func (c *Client) complete(ctx context.Context, messages []Message) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   c.maxTokens,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", &UpstreamError{Reason: "failed to marshal request", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &UpstreamError{Reason: "failed to create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &UpstreamError{Reason: "request failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", &UpstreamError{StatusCode: resp.StatusCode, Reason: strings.TrimSpace(string(msg))}
	}

	var completion completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", &UpstreamError{Reason: "failed to decode response", Err: err}
	}
	if len(completion.Choices) == 0 {
		return "", &UpstreamError{Reason: "no choices in response"}
	}

	reply := strings.TrimSpace(completion.Choices[0].Message.Content)
	c.logger.Debug().
		Int("tokens", completion.Usage.TotalTokens).
		Dur("latency", time.Since(start)).
		Msg("Chat completion received")

	return reply, nil
}

// Healthy reports whether the circuit to the chat backend is closed.
func (c *Client) Healthy() bool {
	return c.breaker.GetState() != resilience.StateOpen
}
