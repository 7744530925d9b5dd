package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadEngineDefaults(t *testing.T) {
	cfg, err := LoadEngine()
	require.NoError(t, err)

	assert.Equal(t, time.Minute, cfg.TickPeriod)
	assert.Equal(t, int64(20), cfg.CommissionPercent)
	assert.Equal(t, 45*time.Second, cfg.PresenceGrace)
	assert.Equal(t, 2*time.Second, cfg.DedupWindow)
	assert.Equal(t, 32, cfg.SendBuffer)
	assert.Equal(t, 4000, cfg.MaxMessageLen)
	assert.Empty(t, cfg.AllowedOrigins)
}

func TestLoadEngineFromEnv(t *testing.T) {
	t.Setenv("ENGINE_TICK_PERIOD", "30s")
	t.Setenv("ENGINE_COMMISSION_PERCENT", "15")
	t.Setenv("ENGINE_PRESENCE_GRACE", "90s")

	cfg, err := LoadEngine()
	require.NoError(t, err)

	assert.Equal(t, 30*time.Second, cfg.TickPeriod)
	assert.Equal(t, int64(15), cfg.CommissionPercent)
	assert.Equal(t, 90*time.Second, cfg.PresenceGrace)
}

func TestEngineAllowedOrigins(t *testing.T) {
	t.Setenv("ENGINE_ALLOWED_ORIGINS", "https://app.soulline.io, https://staging.soulline.io")

	cfg, err := LoadEngine()
	require.NoError(t, err)
	require.Equal(t, []string{"https://app.soulline.io", "https://staging.soulline.io"}, cfg.AllowedOrigins)

	assert.True(t, cfg.OriginAllowed("https://app.soulline.io"))
	assert.True(t, cfg.OriginAllowed("HTTPS://APP.SOULLINE.IO"))
	assert.False(t, cfg.OriginAllowed("https://evil.example"))
	assert.False(t, cfg.OriginAllowed(""))

	open := &EngineConfig{}
	assert.True(t, open.OriginAllowed("https://anything.example"))
	assert.True(t, open.OriginAllowed(""))
}

func TestEngineConfigValidate(t *testing.T) {
	valid := func() *EngineConfig {
		return &EngineConfig{
			TickPeriod:        time.Minute,
			CommissionPercent: 20,
			PresenceGrace:     45 * time.Second,
			DedupWindow:       2 * time.Second,
			SendBuffer:        32,
		}
	}
	require.NoError(t, valid().Validate())

	testCases := []struct {
		name   string
		mutate func(*EngineConfig)
	}{
		{name: "zero tick", mutate: func(c *EngineConfig) { c.TickPeriod = 0 }},
		{name: "negative commission", mutate: func(c *EngineConfig) { c.CommissionPercent = -1 }},
		{name: "commission above 100", mutate: func(c *EngineConfig) { c.CommissionPercent = 101 }},
		{name: "zero grace", mutate: func(c *EngineConfig) { c.PresenceGrace = 0 }},
		{name: "zero dedup window", mutate: func(c *EngineConfig) { c.DedupWindow = 0 }},
		{name: "zero send buffer", mutate: func(c *EngineConfig) { c.SendBuffer = 0 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadRateLimitDefaults(t *testing.T) {
	cfg := LoadRateLimit()

	assert.True(t, cfg.Enabled)
	assert.Equal(t, int64(30), cfg.Capacity)
	assert.Equal(t, int64(10), cfg.RefillTokens)
	assert.Equal(t, time.Second, cfg.RefillInterval)
	assert.Equal(t, 2*time.Minute, cfg.TTL)
}
