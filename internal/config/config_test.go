package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, 30*time.Second, cfg.PresenceTTL)
	assert.Equal(t, 10*time.Second, cfg.ReconnectGrace)
	assert.Equal(t, 60*time.Second, cfg.InviteTimeout)
	assert.Equal(t, 30*time.Second, cfg.ChatRetention)
	assert.Equal(t, 120*time.Minute, cfg.SessionSnapshotTTL)
	assert.Equal(t, time.Duration(0), cfg.RematchWindow)
	assert.Equal(t, []string{"http://localhost:5173"}, cfg.AllowedOrigins)
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("INVITE_TIMEOUT_SECONDS", "5")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example,")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.InviteTimeout)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
}

func TestLoadConfigRejectsBadValues(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CHAT_MAX_MESSAGES", "lots")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "CHAT_MAX_MESSAGES")
}

func TestValidate(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	cfg, err := LoadConfig()
	require.NoError(t, err)

	cfg.PresenceTTL = cfg.HeartbeatInterval
	assert.Error(t, cfg.Validate())

	cfg.PresenceTTL = 30 * time.Second
	cfg.JWTSecret = ""
	assert.ErrorContains(t, cfg.Validate(), "JWT_SECRET")
}
