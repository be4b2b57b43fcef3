package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/holoview/fan-gateway/internal/chat"
	"github.com/holoview/fan-gateway/internal/config"
	"github.com/holoview/fan-gateway/internal/fan"
	"github.com/holoview/fan-gateway/internal/observability"
	"github.com/holoview/fan-gateway/internal/phoneme"
	"github.com/holoview/fan-gateway/internal/playback"
	"github.com/holoview/fan-gateway/internal/render"
	"github.com/holoview/fan-gateway/internal/speech"
	"github.com/holoview/fan-gateway/internal/viseme"
)

// Degrees of hologram rotation per frame tick.
const angularStep = 2.0

func main() {
	selftest := flag.Bool("selftest", false, "render a test frame, probe the fan device, and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		// Use fmt for fatal errors before logger is initialized
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.LogLevel, cfg.LogPretty)
	logger := observability.GetLogger()

	if err := cfg.EnsureDirectories(); err != nil {
		logger.Fatal().Err(err).Msg("Failed to create output directories")
	}

	logger.Info().
		Str("fan_url", cfg.FanAPIURL).
		Int("frame_rate", cfg.FanFrameRate).
		Int("width", cfg.FanWidth).
		Int("height", cfg.FanHeight).
		Bool("audio", cfg.EnableAudio).
		Bool("lip_sync", cfg.EnableLipSync).
		Bool("fan_streaming", cfg.EnableFan).
		Msg("Holographic fan gateway starting")

	gw, err := newGateway(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize pipeline")
	}
	defer gw.Close()

	if *selftest {
		if !gw.SelfTest(context.Background()) {
			os.Exit(1)
		}
		return
	}

	if cfg.MetricsEnabled {
		go serveMetrics(cfg, gw, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gw.RunInteractive(ctx); err != nil {
		logger.Fatal().Err(err).Msg("Session ended with fatal error")
	}
	logger.Info().Msg("Goodbye")
}

// gateway owns the full turn pipeline: conversation, speech synthesis,
// phoneme extraction, and the playback synchronizer.
type gateway struct {
	cfg       *config.Config
	logger    zerolog.Logger
	chat      *chat.Client
	synth     *speech.Synthesizer
	extractor phoneme.Extractor
	fallback  phoneme.Extractor
	fanClient *fan.Client
	sync      *playback.Synchronizer
	player    speech.Player
	renderer  *render.Renderer
	converter *fan.Converter
	totals    *playback.SessionStats
}

func newGateway(cfg *config.Config, logger zerolog.Logger) (*gateway, error) {
	renderer, err := render.NewRenderer(cfg.FanWidth, cfg.FanHeight, logger)
	if err != nil {
		return nil, err
	}
	converter := fan.NewConverter(cfg.FanWidth, cfg.FanHeight, logger)
	fanClient := fan.NewClient(cfg.FanUploadURL(), cfg.FrameTimeoutDuration(), cfg.SendMaxAttempts, cfg.SendBackoffDuration(), logger)

	var sender fan.Sender = fanClient
	if !cfg.EnableFan {
		logger.Warn().Msg("Fan streaming disabled, frames will be discarded")
		sender = discardSender{}
	}

	var player speech.Player = speech.NopPlayer{}
	if cfg.EnableAudio {
		mp, err := speech.NewMalgoPlayer(logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Audio device unavailable, continuing without sound")
		} else {
			player = mp
		}
	}

	sync, err := playback.NewSynchronizer(renderer, converter.ForDisplay(), sender, player, playback.Options{
		Period:         cfg.FramePeriod(),
		AngularStep:    angularStep,
		LipSyncEnabled: cfg.EnableLipSync,
	}, logger)
	if err != nil {
		return nil, err
	}

	phonemeTimeout := time.Duration(cfg.PhonemeTimeout) * time.Millisecond
	return &gateway{
		cfg:       cfg,
		logger:    logger,
		chat:      chat.NewClient(cfg.ChatAPIURL, cfg.ChatAPIKey, cfg.ChatModel, cfg.ChatMaxTokens, cfg.ChatTemperature, logger),
		synth:     speech.NewSynthesizer(cfg.TTSAPIURL, cfg.TTSAPIKey, cfg.TTSModel, cfg.TTSVoice, cfg.AudioOutputDir, logger),
		extractor: phoneme.NewEspeakExtractor(cfg.EspeakPath, "en-us", phonemeTimeout, logger),
		fallback:  phoneme.NewRuleExtractor(),
		fanClient: fanClient,
		sync:      sync,
		player:    player,
		renderer:  renderer,
		converter: converter,
		totals:    playback.NewSessionStats(),
	}, nil
}

func (g *gateway) Close() {
	if err := g.player.Close(); err != nil {
		g.logger.Warn().Err(err).Msg("Failed to close audio player")
	}
}

// RunInteractive reads user turns from stdin until EOF, "quit", or the
// context is cancelled. A renderer failure aborts the session; every
// other error is reported and the loop continues.
func (g *gateway) RunInteractive(ctx context.Context) error {
	fmt.Println("Holographic chatbot ready. Type a message, or 'quit', 'clear', 'stats'.")

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		fmt.Print("> ")
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case line, ok = <-lines:
			if !ok {
				return nil
			}
		}

		switch strings.ToLower(strings.TrimSpace(line)) {
		case "":
			continue
		case "quit", "exit":
			return nil
		case "clear":
			g.chat.ClearHistory()
			fmt.Println("Conversation cleared.")
			continue
		case "stats":
			g.printStats()
			continue
		}

		if err := g.runTurn(ctx, strings.TrimSpace(line)); err != nil {
			var renderErr *render.RenderError
			if errors.As(err, &renderErr) {
				return err
			}
			fmt.Printf("Sorry, something went wrong: %v\n", err)
		}
	}
}

// runTurn executes one full chatbot turn: reply, synthesize, extract
// phonemes, and play back with lip-synced frames.
func (g *gateway) runTurn(ctx context.Context, userText string) error {
	turnID := observability.NewTurnID()
	logger := observability.WithTurnID(turnID)
	metrics := observability.NewTurnMetrics(turnID)

	metrics.RecordChatStart()
	reply, err := g.chat.Reply(ctx, userText)
	metrics.RecordChatEnd(err == nil)
	if err != nil {
		metrics.RecordError("upstream", "chat")
		return err
	}
	fmt.Printf("Bot: %s\n", reply)

	metrics.RecordTTSStart()
	utt, err := g.synth.Synthesize(ctx, reply)
	metrics.RecordTTSEnd(err == nil)
	if err != nil {
		// No audio for this turn; show a static frame so the device
		// still reflects the reply.
		metrics.RecordError("synthesis", "speech")
		logger.Warn().Err(err).Msg("Speech synthesis failed, showing static frame")
		return g.showStaticFrame(ctx, reply)
	}

	intervals, err := g.buildTimeline(ctx, reply, utt.Duration, logger)
	if err != nil {
		metrics.RecordError("mapping", "viseme")
		return err
	}

	stats := playback.NewSessionStats()
	metrics.RecordSessionStart()
	state, err := g.sync.Play(ctx, utt, intervals, stats)
	metrics.RecordSessionEnd(state.String())
	g.totals.Merge(stats.Snapshot())
	if err != nil {
		metrics.RecordError("render", "playback")
		return err
	}

	logger.Info().Str("state", state.String()).Msg("Turn complete")
	return nil
}

// buildTimeline extracts phoneme timing and maps it to mouth intervals.
// Extraction failures degrade to a silent rest timeline; only a negative
// duration is an error.
func (g *gateway) buildTimeline(ctx context.Context, text string, duration time.Duration, logger zerolog.Logger) ([]viseme.Interval, error) {
	seconds := duration.Seconds()

	events, err := g.extractor.Extract(ctx, text, seconds)
	if err != nil {
		logger.Debug().Err(err).Msg("Phoneme extraction failed, trying rule fallback")
		events, err = g.fallback.Extract(ctx, text, seconds)
	}
	if err != nil {
		logger.Warn().Err(err).Msg("No phoneme timing available, mouth stays at rest")
		return viseme.RestTimeline(seconds), nil
	}

	return viseme.Map(events, seconds)
}

// showStaticFrame sends a single rest-mouth frame for turns that could
// not be synthesized.
func (g *gateway) showStaticFrame(ctx context.Context, text string) error {
	frame, err := g.renderer.Render(render.Request{Text: text, MouthState: viseme.Rest})
	if err != nil {
		return err
	}
	converted, err := g.converter.OptimizeForDisplay(frame)
	if err != nil {
		return err
	}
	if result := g.sendFrame(ctx, converted); result.Status != fan.StatusOK {
		g.logger.Warn().Str("status", result.Status.String()).Msg("Static frame delivery failed")
	}
	return nil
}

func (g *gateway) sendFrame(ctx context.Context, frame *render.Frame) fan.TransportResult {
	if !g.cfg.EnableFan {
		return fan.TransportResult{Status: fan.StatusOK, Attempts: 1}
	}
	return g.fanClient.Send(ctx, frame)
}

func (g *gateway) printStats() {
	snap := g.totals.Snapshot()
	fmt.Printf("Frames sent: %d, failed: %d, stale: %d, retries: %d\n",
		snap.FramesSent, snap.FramesFailed, snap.FramesStale, snap.TotalRetries)
}

// SelfTest renders and converts a frame, then probes the fan device.
func (g *gateway) SelfTest(ctx context.Context) bool {
	ok := true

	frame, err := g.renderer.Render(render.Request{Text: "self test", MouthState: viseme.OpenWide})
	if err != nil {
		fmt.Printf("Renderer: FAIL (%v)\n", err)
		return false
	}
	fmt.Printf("Renderer: OK (%dx%d)\n", frame.Width, frame.Height)

	if _, err := g.converter.Convert(frame); err != nil {
		fmt.Printf("Converter: FAIL (%v)\n", err)
		ok = false
	} else {
		fmt.Println("Converter: OK")
	}

	if !g.cfg.EnableFan {
		fmt.Println("Fan device: SKIPPED (streaming disabled)")
		return ok
	}

	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if g.fanClient.TestConnection(probeCtx) {
		fmt.Println("Fan device: OK")
	} else {
		fmt.Println("Fan device: FAIL")
		ok = false
	}
	return ok
}

// discardSender swallows frames when fan streaming is disabled.
type discardSender struct{}

func (discardSender) Send(ctx context.Context, frame *render.Frame) fan.TransportResult {
	return fan.TransportResult{Status: fan.StatusOK, Attempts: 1}
}

func serveMetrics(cfg *config.Config, gw *gateway, logger zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", observability.HealthCheckHandler())
	mux.HandleFunc("/ready", observability.ReadinessHandler(map[string]observability.HealthCheckFunc{
		"fan": func(ctx context.Context) (bool, error) {
			if !cfg.EnableFan {
				return true, nil
			}
			if !gw.fanClient.TestConnection(ctx) {
				return false, fmt.Errorf("fan device unreachable")
			}
			return true, nil
		},
		"chat": func(ctx context.Context) (bool, error) {
			if !gw.chat.Healthy() {
				return false, fmt.Errorf("chat circuit is open")
			}
			return true, nil
		},
	}))

	server := &http.Server{
		Addr:         ":" + cfg.MetricsPort,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info().Str("port", cfg.MetricsPort).Msg("Metrics server listening")
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("Metrics server failed")
	}
}
