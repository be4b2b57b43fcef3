package speech

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"
)

// Player plays a synthesized utterance through the local audio device.
// Play blocks until the clip finishes, the context is cancelled, or an
// error occurs.
type Player interface {
	Play(ctx context.Context, path string) error
	Close() error
}

// MalgoPlayer plays WAV files through the default output device.
type MalgoPlayer struct {
	ctx    *malgo.AllocatedContext
	logger zerolog.Logger
}

// NewMalgoPlayer initializes the audio backend.
func NewMalgoPlayer(logger zerolog.Logger) (*MalgoPlayer, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}
	return &MalgoPlayer{
		ctx:    ctx,
		logger: logger.With().Str("component", "player").Logger(),
	}, nil
}

// Play decodes the WAV file and streams it to the output device.
func (p *MalgoPlayer) Play(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open audio file: %w", err)
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		return fmt.Errorf("failed to decode WAV data: %w", err)
	}

	// Pack samples as little-endian S16 for the device callback.
	pcm := make([]byte, len(buf.Data)*2)
	for i, sample := range buf.Data {
		pcm[i*2] = byte(sample)
		pcm[i*2+1] = byte(sample >> 8)
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = uint32(buf.Format.NumChannels)
	deviceConfig.SampleRate = uint32(buf.Format.SampleRate)

	var (
		mu     sync.Mutex
		offset int
	)
	done := make(chan struct{})
	var closeOnce sync.Once

	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, frameCount uint32) {
			mu.Lock()
			n := copy(output, pcm[offset:])
			offset += n
			finished := offset >= len(pcm)
			mu.Unlock()
			if finished {
				closeOnce.Do(func() { close(done) })
			}
		},
	}

	device, err := malgo.InitDevice(p.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}

	p.logger.Debug().Str("path", path).Int("bytes", len(pcm)).Msg("Playback started")

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		device.Stop()
		return ctx.Err()
	}
}

// Close releases the audio backend.
func (p *MalgoPlayer) Close() error {
	if err := p.ctx.Uninit(); err != nil {
		return err
	}
	p.ctx.Free()
	return nil
}

// NopPlayer discards playback requests. Used when audio is disabled.
type NopPlayer struct{}

func (NopPlayer) Play(ctx context.Context, path string) error { return nil }

func (NopPlayer) Close() error { return nil }
