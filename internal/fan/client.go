package fan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"time"

	"github.com/holoview/fan-gateway/internal/observability"
	"github.com/holoview/fan-gateway/internal/render"
	"github.com/holoview/fan-gateway/internal/resilience"
	"github.com/rs/zerolog"
)

// Status classifies the outcome of a frame delivery
type Status int

const (
	StatusOK Status = iota
	StatusRejected
	StatusTimeout
	StatusConnectionError
)

// String returns the status name
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusRejected:
		return "REJECTED"
	case StatusTimeout:
		return "TIMEOUT"
	default:
		return "CONNECTION_ERROR"
	}
}

// TransportResult reports how a frame delivery ended
type TransportResult struct {
	Status   Status
	Attempts int
}

// Sender delivers one converted frame to the display device
type Sender interface {
	Send(ctx context.Context, frame *render.Frame) TransportResult
}

// rejectedError marks a non-2xx device response. Never retried: the
// device saw the frame and refused it.
type rejectedError struct {
	code int
}

func (e *rejectedError) Error() string {
	return fmt.Sprintf("fan rejected frame with status %d", e.code)
}

// Client uploads frames to the fan's HTTP endpoint with bounded
// retries. Timeouts and connection errors are retried with a short
// fixed backoff; rejections are permanent per-frame failures.
type Client struct {
	uploadURL  string
	timeout    time.Duration
	retryCfg   *resilience.RetryConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a fan transport client.
// maxAttempts is the total number of tries per frame (first + retries).
func NewClient(uploadURL string, timeout time.Duration, maxAttempts int, backoff time.Duration, logger zerolog.Logger) *Client {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Client{
		uploadURL: uploadURL,
		timeout:   timeout,
		retryCfg:  resilience.FixedRetryConfig(maxAttempts, backoff),
		// Per-attempt deadlines come from the request context
		httpClient: &http.Client{},
		logger:     logger,
	}
}

// Send encodes the frame as PNG and uploads it, retrying per policy.
// The total block time is bounded by timeout times max attempts plus
// the fixed backoffs; the caller's context can cut that short.
func (c *Client) Send(ctx context.Context, frame *render.Frame) TransportResult {
	body, err := encodeMultipart(frame)
	if err != nil {
		c.logger.Error().Err(err).Msg("Failed to encode frame for upload")
		return TransportResult{Status: StatusRejected, Attempts: 0}
	}

	start := time.Now()
	var lastErr error

	attempts, err := resilience.Do(ctx, func() error {
		lastErr = c.attempt(ctx, body.bytes, body.contentType)
		return lastErr
	}, c.retryCfg, func(err error) bool {
		// Only timeouts and connection errors are worth retrying
		var rej *rejectedError
		return !errors.As(err, &rej)
	})

	observability.ObserveUploadLatency(time.Since(start))
	observability.RecordFrameRetries(attempts - 1)

	if err == nil {
		return TransportResult{Status: StatusOK, Attempts: attempts}
	}

	status := classify(err)
	c.logger.Warn().
		Err(lastErr).
		Int("attempts", attempts).
		Str("status", status.String()).
		Msg("Frame delivery failed")

	return TransportResult{Status: status, Attempts: attempts}
}

// attempt performs one upload with its own deadline
func (c *Client) attempt(ctx context.Context, payload []byte, contentType string) error {
	attemptCtx := ctx
	if c.timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, c.uploadURL, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &rejectedError{code: resp.StatusCode}
	}
	return nil
}

// TestConnection uploads a generated gradient frame to verify the fan
// is reachable and accepting frames.
func (c *Client) TestConnection(ctx context.Context) bool {
	result := c.Send(ctx, GradientTestFrame(64, 64))
	if result.Status != StatusOK {
		c.logger.Warn().Str("status", result.Status.String()).Msg("Fan connection test failed")
		return false
	}
	c.logger.Info().Msg("Fan connection test successful")
	return true
}

// GradientTestFrame builds a red vertical gradient test pattern
func GradientTestFrame(width, height int) *render.Frame {
	frame := render.NewFrame(width, height)
	for y := 0; y < height; y++ {
		red := byte(255 * y / height)
		for x := 0; x < width; x++ {
			i := (y*width + x) * 4
			frame.Pix[i] = red
			frame.Pix[i+3] = 255
		}
	}
	return frame
}

type multipartBody struct {
	bytes       []byte
	contentType string
}

// encodeMultipart wraps the frame's PNG bytes in a multipart form with
// field name "frame", the shape the fan firmware expects.
func encodeMultipart(frame *render.Frame) (*multipartBody, error) {
	pngBytes, err := frame.EncodePNG()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("frame", "frame.png")
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(pngBytes); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}

	return &multipartBody{bytes: buf.Bytes(), contentType: writer.FormDataContentType()}, nil
}

// classify maps a terminal transport error to a result status
func classify(err error) Status {
	var rej *rejectedError
	if errors.As(err, &rej) {
		return StatusRejected
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return StatusTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return StatusTimeout
	}

	return StatusConnectionError
}
