package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "token", cfg.DiscordToken)
	assert.Equal(t, "!", cfg.CommandPrefix)
	assert.Equal(t, "yt-dlp", cfg.YtdlpPath)
	assert.Equal(t, "ffmpeg", cfg.FFmpegPath)
	assert.Equal(t, 3*time.Second, cfg.TerminateGrace)
	assert.Equal(t, 15*time.Second, cfg.VoiceJoinTimeout)
	assert.Equal(t, 20*time.Second, cfg.VoiceCheckInterval)
	assert.Empty(t, cfg.MetricsAddr)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "token")
	t.Setenv("COMMAND_PREFIX", " ?? ")
	t.Setenv("TERMINATE_GRACE", "500ms")
	t.Setenv("METRICS_ADDR", ":9100")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "??", cfg.CommandPrefix)
	assert.Equal(t, 500*time.Millisecond, cfg.TerminateGrace)
	assert.Equal(t, ":9100", cfg.MetricsAddr)
}

func TestLoad_MissingToken(t *testing.T) {
	t.Setenv("DISCORD_TOKEN", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"COMMAND_PREFIX":  "   ",
		"TERMINATE_GRACE": "0s",
		"COMMAND_BURST":   "0",
	}

	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv("DISCORD_TOKEN", "token")
			t.Setenv(key, value)

			_, err := Load()
			require.Error(t, err)
		})
	}
}
