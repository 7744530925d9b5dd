package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EngineConfig holds the tunables of the real-time session engine. Values
// come from environment variables prefixed with ENGINE_ (ex:
// ENGINE_TICK_PERIOD=30s) with sane defaults for local development.
type EngineConfig struct {
	// Billing cadence; one tick deducts one PricePerMinute.
	TickPeriod time.Duration

	// Platform cut of each tick, in percent of the tick amount.
	CommissionPercent int64

	// How long a room tolerates presence below two parties while billing is
	// armed before force-ending the session. Bounded and deterministic.
	PresenceGrace time.Duration

	// Window within which an identical (sender, text) message is treated as
	// a redelivery and dropped.
	DedupWindow time.Duration

	// Deadline for the first join_session frame after the WS upgrade.
	JoinDeadline time.Duration

	// Per-connection socket deadlines.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Outbound event buffer per connection; a client that cannot drain this
	// many events is dropped.
	SendBuffer int

	// Maximum stored chat message length.
	MaxMessageLen int

	// Origins accepted by the websocket upgrade, comma separated. Empty
	// means any origin, which is only appropriate for local development.
	AllowedOrigins []string
}

// OriginAllowed reports whether the websocket upgrade should accept the
// given Origin header value.
func (c *EngineConfig) OriginAllowed(origin string) bool {
	if len(c.AllowedOrigins) == 0 {
		return true
	}
	for _, allowed := range c.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// RateLimitConfig drives the redis token bucket guarding polling endpoints.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int64
	RefillTokens   int64
	RefillInterval time.Duration
	TTL            time.Duration
}

func LoadEngine() (*EngineConfig, error) {
	v := viper.New()
	v.SetEnvPrefix("ENGINE")
	v.AutomaticEnv()

	v.SetDefault("tick_period", "60s")
	v.SetDefault("commission_percent", 20)
	v.SetDefault("presence_grace", "45s")
	v.SetDefault("dedup_window", "2s")
	v.SetDefault("join_deadline", "10s")
	v.SetDefault("read_timeout", "60s")
	v.SetDefault("write_timeout", "10s")
	v.SetDefault("send_buffer", 32)
	v.SetDefault("max_message_len", 4000)
	v.SetDefault("allowed_origins", "")

	cfg := &EngineConfig{
		TickPeriod:        v.GetDuration("tick_period"),
		CommissionPercent: v.GetInt64("commission_percent"),
		PresenceGrace:     v.GetDuration("presence_grace"),
		DedupWindow:       v.GetDuration("dedup_window"),
		JoinDeadline:      v.GetDuration("join_deadline"),
		ReadTimeout:       v.GetDuration("read_timeout"),
		WriteTimeout:      v.GetDuration("write_timeout"),
		SendBuffer:        v.GetInt("send_buffer"),
		MaxMessageLen:     v.GetInt("max_message_len"),
		AllowedOrigins:    splitOrigins(v.GetString("allowed_origins")),
	}
	return cfg, cfg.Validate()
}

func (c *EngineConfig) Validate() error {
	if c.TickPeriod <= 0 {
		return fmt.Errorf("engine: tick_period must be positive, got %s", c.TickPeriod)
	}
	if c.CommissionPercent < 0 || c.CommissionPercent > 100 {
		return fmt.Errorf("engine: commission_percent must be 0..100, got %d", c.CommissionPercent)
	}
	if c.PresenceGrace <= 0 {
		return fmt.Errorf("engine: presence_grace must be positive, got %s", c.PresenceGrace)
	}
	if c.DedupWindow <= 0 {
		return fmt.Errorf("engine: dedup_window must be positive, got %s", c.DedupWindow)
	}
	if c.SendBuffer <= 0 {
		return fmt.Errorf("engine: send_buffer must be positive, got %d", c.SendBuffer)
	}
	return nil
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			origins = append(origins, part)
		}
	}
	return origins
}

func LoadRateLimit() *RateLimitConfig {
	v := viper.New()
	v.SetEnvPrefix("RATELIMIT")
	v.AutomaticEnv()

	v.SetDefault("enabled", true)
	v.SetDefault("capacity", 30)
	v.SetDefault("refill_tokens", 10)
	v.SetDefault("refill_interval", "1s")
	v.SetDefault("ttl", "2m")

	return &RateLimitConfig{
		Enabled:        v.GetBool("enabled"),
		Capacity:       v.GetInt64("capacity"),
		RefillTokens:   v.GetInt64("refill_tokens"),
		RefillInterval: v.GetDuration("refill_interval"),
		TTL:            v.GetDuration("ttl"),
	}
}
