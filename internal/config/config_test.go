package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, key := range []string{
		"CAMERAS", "TICK_INTERVAL", "ALERT_THRESHOLD_SECONDS", "PROXIMITY_ALERT_THRESHOLD_SECONDS",
		"PROXIMITY_THRESHOLD_DISTANCE", "ALERT_COOLDOWN_SECONDS", "ABSENCE_TIMEOUT_SECONDS", "GRACE_GAP",
		"REQUIRED_GEAR", "SUBSCRIBER_BUFFER", "STORE_BACKEND", "SQLITE_PATH", "POSTGRES_URL",
		"STORE_WRITE_ATTEMPTS", "STORE_WRITE_BACKOFF", "HTTP_PORT", "GRPC_PORT",
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := FromEnv()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"cam-1"}, cfg.Cameras)
	assert.Equal(t, 500*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 3*time.Second, cfg.Detection.AlertThreshold)
	assert.Equal(t, time.Duration(0), cfg.Detection.ProximityAlertThreshold)
	assert.Equal(t, 80.0, cfg.Detection.ProximityDistance)
	assert.Equal(t, 5*time.Second, cfg.Detection.Cooldown)
	assert.Equal(t, 10*time.Second, cfg.Detection.AbsenceTimeout)
	assert.Equal(t, time.Second, cfg.Detection.GraceGap)
	assert.Equal(t, []string{"helmet", "vest"}, cfg.Detection.RequiredGear)
	assert.Equal(t, BackendSQLite, cfg.Store.Backend)
	assert.Equal(t, 3*time.Second, cfg.ReconcileInterval)
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CAMERAS", "gate, crane ,,yard")
	t.Setenv("TICK_INTERVAL", "250ms")
	t.Setenv("ALERT_THRESHOLD_SECONDS", "1.5")
	t.Setenv("PROXIMITY_THRESHOLD_DISTANCE", "120")
	t.Setenv("REQUIRED_GEAR", "helmet")
	t.Setenv("STORE_BACKEND", "Redis")
	t.Setenv("STORE_WRITE_BACKOFF", "not-a-duration")

	cfg := FromEnv()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"gate", "crane", "yard"}, cfg.Cameras)
	assert.Equal(t, 250*time.Millisecond, cfg.TickInterval)
	assert.Equal(t, 1500*time.Millisecond, cfg.Detection.AlertThreshold)
	assert.Equal(t, 500*time.Millisecond, cfg.Detection.GraceGap, "grace gap follows the tick")
	assert.Equal(t, 120.0, cfg.Detection.ProximityDistance)
	assert.Equal(t, []string{"helmet"}, cfg.Detection.RequiredGear)
	assert.Equal(t, BackendRedis, cfg.Store.Backend)
	assert.Equal(t, 200*time.Millisecond, cfg.Store.WriteBackoff, "invalid values fall back to the default")
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "absence shorter than two ticks",
			mutate: func(c *Config) { c.Detection.AbsenceTimeout = 900 * time.Millisecond },
			errMsg: "ABSENCE_TIMEOUT_SECONDS",
		},
		{
			name:   "non-positive distance",
			mutate: func(c *Config) { c.Detection.ProximityDistance = 0 },
			errMsg: "PROXIMITY_THRESHOLD_DISTANCE",
		},
		{
			name:   "unknown backend",
			mutate: func(c *Config) { c.Store.Backend = "cassandra" },
			errMsg: "STORE_BACKEND",
		},
		{
			name:   "postgres without url",
			mutate: func(c *Config) { c.Store.Backend = BackendPostgres },
			errMsg: "POSTGRES_URL",
		},
		{
			name:   "no required gear",
			mutate: func(c *Config) { c.Detection.RequiredGear = nil },
			errMsg: "REQUIRED_GEAR",
		},
		{
			name:   "grace gap below tick",
			mutate: func(c *Config) { c.Detection.GraceGap = 100 * time.Millisecond },
			errMsg: "GRACE_GAP",
		},
		{
			name:   "zero subscriber buffer",
			mutate: func(c *Config) { c.SubscriberBuffer = 0 },
			errMsg: "SUBSCRIBER_BUFFER",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg := FromEnv()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}
