package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the fan gateway service
type Config struct {
	// Holographic fan device configuration
	FanAPIURL         string `envconfig:"FAN_API_URL" default:"http://192.168.1.100"`
	FanUploadEndpoint string `envconfig:"FAN_UPLOAD_ENDPOINT" default:"/upload_frame"`
	FanFrameRate      int    `envconfig:"FAN_FRAME_RATE" default:"30"`        // Target frame cadence (fps)
	FanWidth          int    `envconfig:"FAN_RESOLUTION_WIDTH" default:"256"` // Device frame width in pixels
	FanHeight         int    `envconfig:"FAN_RESOLUTION_HEIGHT" default:"256"`

	// Per-frame transport configuration
	FrameTimeout    int `envconfig:"FRAME_TIMEOUT_MS" default:"1000"` // Per-attempt upload timeout in milliseconds
	SendMaxAttempts int `envconfig:"SEND_MAX_ATTEMPTS" default:"3"`   // Total attempts per frame (1 + retries)
	SendBackoff     int `envconfig:"SEND_BACKOFF_MS" default:"50"`    // Fixed backoff between attempts in milliseconds

	// Conversation service (OpenAI-compatible chat completions)
	ChatAPIURL      string  `envconfig:"CHAT_API_URL" default:"https://api.openai.com/v1"`
	ChatAPIKey      string  `envconfig:"CHAT_API_KEY" required:"true"`
	ChatModel       string  `envconfig:"CHAT_MODEL" default:"gpt-4"`
	ChatMaxTokens   int     `envconfig:"CHAT_MAX_TOKENS" default:"150"`
	ChatTemperature float64 `envconfig:"CHAT_TEMPERATURE" default:"0.7"`

	// Speech synthesis service (OpenAI-compatible /audio/speech)
	TTSAPIURL string `envconfig:"TTS_API_URL" default:"https://api.openai.com/v1"`
	TTSAPIKey string `envconfig:"TTS_API_KEY" default:""` // Falls back to CHAT_API_KEY when empty
	TTSVoice  string `envconfig:"TTS_VOICE" default:"alloy"`
	TTSModel  string `envconfig:"TTS_MODEL" default:"tts-1"`

	// Phoneme extraction
	EspeakPath     string `envconfig:"ESPEAK_PATH" default:"espeak"` // espeak binary; rule fallback when unavailable
	PhonemeTimeout int    `envconfig:"PHONEME_TIMEOUT_MS" default:"2000"`

	// Output directories
	AudioOutputDir string `envconfig:"AUDIO_OUTPUT_DIR" default:"output/audio"`

	// Feature flags
	EnableAudio   bool `envconfig:"ENABLE_AUDIO" default:"true"`
	EnableLipSync bool `envconfig:"ENABLE_LIP_SYNC" default:"true"`
	EnableFan     bool `envconfig:"ENABLE_FAN_STREAMING" default:"true"`

	// Observability configuration
	LogLevel       string `envconfig:"LOG_LEVEL" default:"info"`       // Log level: debug, info, warn, error
	LogPretty      bool   `envconfig:"LOG_PRETTY" default:"false"`     // Pretty print logs (for development)
	MetricsEnabled bool   `envconfig:"METRICS_ENABLED" default:"true"` // Enable Prometheus metrics
	MetricsPort    string `envconfig:"METRICS_PORT" default:"9091"`    // Port for /metrics, /health, /ready
}

// Load reads configuration from environment variables
// It first attempts to load from .env file if it exists, then from environment
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	return LoadFromEnv()
}

// LoadFromEnv loads configuration directly from environment variables
// without attempting to load .env file (useful for containerized deployments)
func LoadFromEnv() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	if cfg.ChatAPIKey == "" {
		return nil, fmt.Errorf("CHAT_API_KEY is required")
	}
	if cfg.TTSAPIKey == "" {
		cfg.TTSAPIKey = cfg.ChatAPIKey
	}
	if cfg.FanFrameRate < 1 || cfg.FanFrameRate > 60 {
		return nil, fmt.Errorf("FAN_FRAME_RATE must be between 1 and 60, got %d", cfg.FanFrameRate)
	}
	if cfg.FanWidth < 1 || cfg.FanHeight < 1 {
		return nil, fmt.Errorf("fan resolution must be positive, got %dx%d", cfg.FanWidth, cfg.FanHeight)
	}
	if cfg.SendMaxAttempts < 1 {
		return nil, fmt.Errorf("SEND_MAX_ATTEMPTS must be at least 1, got %d", cfg.SendMaxAttempts)
	}

	return &cfg, nil
}

// FanUploadURL returns the complete URL for fan frame uploads
func (c *Config) FanUploadURL() string {
	return strings.TrimRight(c.FanAPIURL, "/") + c.FanUploadEndpoint
}

// FramePeriod returns the duration between frame ticks
func (c *Config) FramePeriod() time.Duration {
	return time.Second / time.Duration(c.FanFrameRate)
}

// FrameTimeoutDuration returns the per-attempt upload timeout
func (c *Config) FrameTimeoutDuration() time.Duration {
	return time.Duration(c.FrameTimeout) * time.Millisecond
}

// SendBackoffDuration returns the fixed backoff between upload attempts
func (c *Config) SendBackoffDuration() time.Duration {
	return time.Duration(c.SendBackoff) * time.Millisecond
}

// EnsureDirectories creates output directories if they don't exist
func (c *Config) EnsureDirectories() error {
	if err := os.MkdirAll(c.AudioOutputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create audio output dir: %w", err)
	}
	return nil
}
