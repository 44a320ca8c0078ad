package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEnviron_Defaults(t *testing.T) {
	cfg, err := LoadEnviron(nil)
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "9090", cfg.GRPCPort)
	assert.True(t, cfg.GRPCEnabled())
	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "./data/auryn.db", cfg.StorePath())
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "New Chat", cfg.DefaultConversationTitle)
	assert.False(t, cfg.TranscriptEnabled)
	assert.Equal(t, 1000, cfg.TranscriptQueueSize)
	assert.Equal(t, 5*time.Second, cfg.HealthCheckTimeout)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadEnviron_Overrides(t *testing.T) {
	cfg, err := LoadEnviron([]string{
		"PORT=9000",
		"GRPC_PORT=off",
		"STORE_DRIVER=Badger",
		"BADGER_DIR=/var/lib/auryn",
		"LOG_FORMAT=console",
		"LOG_LEVEL=DEBUG",
		"FRONTEND_URL=https://chat.example.com",
		"TRANSCRIPT_ENABLED=true",
		"TRANSCRIPT_QUEUE_SIZE=50",
		"HEALTH_CHECK_TIMEOUT=250ms",
	})
	require.NoError(t, err)

	assert.Equal(t, "9000", cfg.Port)
	assert.False(t, cfg.GRPCEnabled())
	assert.Equal(t, "badger", cfg.StoreDriver)
	assert.Equal(t, "/var/lib/auryn", cfg.StorePath())
	assert.Equal(t, "console", cfg.LogFormat)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.False(t, cfg.IsDevelopment())
	assert.True(t, cfg.TranscriptEnabled)
	assert.Equal(t, 50, cfg.TranscriptQueueSize)
	assert.Equal(t, 250*time.Millisecond, cfg.HealthCheckTimeout)
}

func TestLoadEnviron_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		environ []string
	}{
		{"non-numeric port", []string{"PORT=http"}},
		{"unknown driver", []string{"STORE_DRIVER=postgres"}},
		{"unknown log format", []string{"LOG_FORMAT=xml"}},
		{"unknown log level", []string{"LOG_LEVEL=trace"}},
		{"zero queue", []string{"TRANSCRIPT_QUEUE_SIZE=0"}},
		{"bad duration", []string{"HEALTH_CHECK_TIMEOUT=soon"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadEnviron(tt.environ)
			require.Error(t, err)
		})
	}
}
