package playback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/holoview/fan-gateway/internal/fan"
	"github.com/holoview/fan-gateway/internal/observability"
	"github.com/holoview/fan-gateway/internal/render"
	"github.com/holoview/fan-gateway/internal/speech"
	"github.com/holoview/fan-gateway/internal/viseme"
)

// State is the synchronizer's lifecycle state for one playback session.
type State int

const (
	StateIdle State = iota
	StatePlaying
	StateCompleted
	StateCancelled
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StatePlaying:
		return "PLAYING"
	case StateCompleted:
		return "COMPLETED"
	case StateCancelled:
		return "CANCELLED"
	case StateFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}

// FrameRenderer produces a frame for one tick.
type FrameRenderer interface {
	Render(req render.Request) (*render.Frame, error)
}

// FrameConverter normalizes a frame to the device resolution.
type FrameConverter interface {
	Convert(frame *render.Frame) (*render.Frame, error)
}

// How long teardown waits for the audio task after the tick loop stops.
const audioJoinTimeout = 2 * time.Second

// Options configures one synchronizer.
type Options struct {
	Period         time.Duration // time between frame ticks
	AngularStep    float64       // degrees the figure rotates per tick
	LipSyncEnabled bool          // when false every tick renders the rest mouth
	StartAngle     float64
}

// Synchronizer drives the frame loop for one utterance: audio plays on a
// background task while the tick loop renders, converts, and sends one
// frame per cadence period, choosing the mouth state whose interval
// contains the wall-clock elapsed time.
//
// The renderer is only ever called from the tick loop; render backends
// are not re-entrant.
type Synchronizer struct {
	renderer  FrameRenderer
	converter FrameConverter
	sender    fan.Sender
	player    speech.Player
	opts      Options
	logger    zerolog.Logger
}

// NewSynchronizer wires the pipeline stages together.
func NewSynchronizer(renderer FrameRenderer, converter FrameConverter, sender fan.Sender, player speech.Player, opts Options, logger zerolog.Logger) (*Synchronizer, error) {
	if opts.Period <= 0 {
		return nil, fmt.Errorf("frame period must be positive, got %v", opts.Period)
	}
	if renderer == nil || converter == nil || sender == nil || player == nil {
		return nil, fmt.Errorf("all pipeline stages are required")
	}
	return &Synchronizer{
		renderer:  renderer,
		converter: converter,
		sender:    sender,
		player:    player,
		opts:      opts,
		logger:    logger.With().Str("component", "synchronizer").Logger(),
	}, nil
}

// Play runs one playback session to a terminal state. Frame delivery
// counters are recorded in stats. The returned error is non-nil only for
// the FAILED state; cancellation and completion return a nil error.
//
// Per-frame failures never abort the session. A frame whose display
// window has already passed is dropped without sending so that network
// slowness cannot accumulate audio/video drift.
func (s *Synchronizer) Play(ctx context.Context, utt *speech.Utterance, intervals []viseme.Interval, stats *SessionStats) (State, error) {
	if utt == nil {
		return StateIdle, fmt.Errorf("utterance is required")
	}
	if stats == nil {
		stats = NewSessionStats()
	}
	if !s.opts.LipSyncEnabled {
		intervals = viseme.RestTimeline(utt.Duration.Seconds())
	}
	timeline := viseme.NewTimeline(intervals)

	// Audio runs on its own task with its own cancellation handle so the
	// tick loop can stop first and still join the audio at teardown.
	audioCtx, audioCancel := context.WithCancel(context.Background())
	defer audioCancel()
	audioDone := make(chan error, 1)
	go func() {
		audioDone <- s.player.Play(audioCtx, utt.Path)
	}()

	s.logger.Info().
		Str("text", utt.Text).
		Dur("duration", utt.Duration).
		Int("intervals", len(intervals)).
		Msg("Playback started")

	state, err := s.tickLoop(ctx, utt, timeline, stats)

	if state != StateCompleted {
		audioCancel()
	}
	select {
	case audioErr := <-audioDone:
		if audioErr != nil && !errors.Is(audioErr, context.Canceled) {
			s.logger.Warn().Err(audioErr).Msg("Audio playback ended with error")
		}
	case <-time.After(audioJoinTimeout):
		audioCancel()
		s.logger.Warn().Msg("Audio task did not finish in time, abandoning")
	}

	snap := stats.Snapshot()
	s.logger.Info().
		Str("state", state.String()).
		Int64("frames_sent", snap.FramesSent).
		Int64("frames_failed", snap.FramesFailed).
		Int64("frames_stale", snap.FramesStale).
		Int64("retries", snap.TotalRetries).
		Msg("Playback finished")

	return state, err
}

func (s *Synchronizer) tickLoop(ctx context.Context, utt *speech.Utterance, timeline *viseme.Timeline, stats *SessionStats) (State, error) {
	period := s.opts.Period
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	t0 := time.Now()

	for {
		select {
		case <-ctx.Done():
			return StateCancelled, nil
		case <-ticker.C:
		}

		// Elapsed comes from the wall clock, never from summing sleeps,
		// so timer jitter cannot accumulate into lip-sync drift.
		elapsed := time.Since(t0)
		if elapsed > utt.Duration {
			return StateCompleted, nil
		}

		// The tick index is derived from elapsed time as well: the
		// ticker coalesces missed fires, so a per-fire counter would
		// lag the clock after one slow send and never catch up.
		tick := int(elapsed / period)

		mouthState := timeline.StateAt(elapsed.Seconds())
		angle := s.opts.StartAngle + float64(tick)*s.opts.AngularStep

		frame, err := s.renderer.Render(render.Request{
			Text:         utt.Text,
			AngleDegrees: angle,
			MouthState:   mouthState,
		})
		if err != nil {
			var renderErr *render.RenderError
			if errors.As(err, &renderErr) {
				s.logger.Error().Err(err).Msg("Renderer failure is fatal to the session")
				return StateFailed, err
			}
			stats.RecordFailed()
			observability.RecordFrameFailed()
			continue
		}

		converted, err := s.converter.Convert(frame)
		if err != nil {
			s.logger.Warn().Err(err).Int("tick", tick).Msg("Frame conversion failed, dropping frame")
			stats.RecordFailed()
			observability.RecordFrameFailed()
			continue
		}

		// The frame's display window closes at the next tick boundary.
		// windowEnd is strictly ahead of the elapsed reading above, so a
		// frame only goes stale when render or convert ate the window.
		windowEnd := t0.Add(time.Duration(tick+1) * period)
		if time.Now().After(windowEnd) {
			stats.RecordStale()
			observability.RecordFrameStale()
			continue
		}

		sendCtx, cancel := context.WithDeadline(ctx, windowEnd)
		result := s.sender.Send(sendCtx, converted)
		windowClosed := errors.Is(sendCtx.Err(), context.DeadlineExceeded)
		cancel()

		if result.Attempts > 1 {
			stats.AddRetries(result.Attempts - 1)
		}

		switch result.Status {
		case fan.StatusOK:
			stats.RecordSent()
			observability.RecordFrameSent()
		case fan.StatusTimeout, fan.StatusConnectionError:
			switch {
			case ctx.Err() != nil:
				// Abandoned by session cancellation: neither a delivery
				// failure nor a stale frame, so it is not counted.
			case windowClosed:
				stats.RecordStale()
				observability.RecordFrameStale()
			default:
				stats.RecordFailed()
				observability.RecordFrameFailed()
			}
		default:
			stats.RecordFailed()
			observability.RecordFrameFailed()
		}

		if ctx.Err() != nil {
			return StateCancelled, nil
		}
	}
}
