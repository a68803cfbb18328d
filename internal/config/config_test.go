package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "sqlite://roomkit.db", cfg.DatabaseURL)
	assert.Equal(t, 2*time.Second, cfg.RedisTimeout)
	assert.Equal(t, 14*24*time.Hour, cfg.AccessTokenExpires)
	assert.Equal(t, 5*time.Second, cfg.PresenceGracePeriod)
	assert.True(t, cfg.AllowAllOrigins())
	assert.False(t, cfg.GoogleEnabled())
}

func TestLoad_RequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_DurationFormats(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("PRESENCE_GRACE_PERIOD", "3")
	t.Setenv("PONG_TIMEOUT", "45s")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, cfg.PresenceGracePeriod)
	assert.Equal(t, 45*time.Second, cfg.PongTimeout)

	t.Setenv("PONG_TIMEOUT", "soon")
	_, err = Load()
	assert.Error(t, err)
}

func TestLoad_OriginsList(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("BACKEND_BASE_URL", "https://api.example/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.False(t, cfg.AllowAllOrigins())
	assert.Equal(t, "https://api.example", cfg.BackendBaseURL)
}
