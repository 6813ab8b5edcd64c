package bootstrap

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
	t.Setenv("JWT_SECRET", "secret")
}

func TestLoadConfig_Defaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "cs:", cfg.KeyPrefix)
	assert.Equal(t, 24*time.Hour, cfg.RoomExpiry)
	assert.Equal(t, time.UTC, cfg.RoomCodeTZ)
	assert.Equal(t, "@every 10m", cfg.SweepSchedule)
	assert.Equal(t, int64(1500), cfg.ReformatMaxTokens)
	assert.Equal(t, time.Second, cfg.RateLimitWindow)
	assert.Empty(t, cfg.AdminEmails)
}

func TestLoadConfig_Overrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("ADMIN_EMAILS", "a@example.com, b@example.com,,")
	t.Setenv("ROOM_EXPIRY_HOURS", "48")
	t.Setenv("ROOM_CODE_TZ", "Asia/Seoul")
	t.Setenv("RATE_LIMIT_WINDOW", "1m")
	t.Setenv("LOG_LEVEL", "loud")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, cfg.AdminEmails)
	assert.Equal(t, 48*time.Hour, cfg.RoomExpiry)
	assert.Equal(t, "Asia/Seoul", cfg.RoomCodeTZ.String())
	assert.Equal(t, time.Minute, cfg.RateLimitWindow)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Run("missing redis", func(t *testing.T) {
		t.Setenv("REDIS_ADDR", "")
		t.Setenv("JWT_SECRET", "secret")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
	t.Run("missing secret", func(t *testing.T) {
		t.Setenv("REDIS_ADDR", "127.0.0.1:6379")
		t.Setenv("JWT_SECRET", "")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
	t.Run("bad number", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("ROOM_EXPIRY_HOURS", "soon")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
	t.Run("bad timezone", func(t *testing.T) {
		setRequiredEnv(t)
		t.Setenv("ROOM_CODE_TZ", "Mars/Olympus")
		_, err := LoadConfig()
		assert.Error(t, err)
	})
}
