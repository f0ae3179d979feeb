package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the bot
type Config struct {
	DiscordToken  string `env:"DISCORD_TOKEN,required,notEmpty"`
	CommandPrefix string `env:"COMMAND_PREFIX" envDefault:"!"`
	LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`

	// Track source executables
	YtdlpPath      string        `env:"YTDLP_PATH" envDefault:"yt-dlp"`
	FFmpegPath     string        `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	TerminateGrace time.Duration `env:"TERMINATE_GRACE" envDefault:"3s"`

	VoiceJoinTimeout   time.Duration `env:"VOICE_JOIN_TIMEOUT" envDefault:"15s"`
	VoiceCheckInterval time.Duration `env:"VOICE_CHECK_INTERVAL" envDefault:"20s"`

	// Per-guild command throttle (commands per second, burst)
	CommandRate  float64 `env:"COMMAND_RATE" envDefault:"2"`
	CommandBurst int     `env:"COMMAND_BURST" envDefault:"5"`

	// Prometheus listen address, empty disables the endpoint
	MetricsAddr string `env:"METRICS_ADDR"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (optional)
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	c.CommandPrefix = strings.TrimSpace(c.CommandPrefix)
	if c.CommandPrefix == "" {
		return fmt.Errorf("COMMAND_PREFIX must not be empty")
	}
	if c.TerminateGrace <= 0 {
		return fmt.Errorf("TERMINATE_GRACE must be positive, got %v", c.TerminateGrace)
	}
	if c.VoiceJoinTimeout <= 0 {
		return fmt.Errorf("VOICE_JOIN_TIMEOUT must be positive, got %v", c.VoiceJoinTimeout)
	}
	if c.VoiceCheckInterval <= 0 {
		return fmt.Errorf("VOICE_CHECK_INTERVAL must be positive, got %v", c.VoiceCheckInterval)
	}
	if c.CommandRate <= 0 || c.CommandBurst < 1 {
		return fmt.Errorf("invalid command throttle: rate=%v burst=%d", c.CommandRate, c.CommandBurst)
	}
	return nil
}
