package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("OPTIMISTIC_WINDOW", "")
	t.Setenv("PRESENCE_TTL", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 60*time.Second, cfg.OptimisticWindow)
	assert.Equal(t, 10*time.Second, cfg.PresenceTTL)
	assert.Equal(t, "wainbox.events", cfg.AMQPExchange)
	assert.Empty(t, cfg.AMQPURL)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("OPTIMISTIC_WINDOW", "90")
	t.Setenv("PRESENCE_TTL", "15s")
	t.Setenv("MEDIA_PUBLIC_BASE_URL", "https://cdn.example.com/")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.OptimisticWindow)
	assert.Equal(t, 15*time.Second, cfg.PresenceTTL)
	assert.Equal(t, "https://cdn.example.com", cfg.MediaPublicBaseURL)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("GATEWAY_TIMEOUT", "soon")
	_, err = Load()
	assert.Error(t, err)
}
