// Package config holds the runtime configuration for the realtime layer.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config stores the tunables of the collaboration core. Zero values are never
// used directly; construct via Default or Load.
type Config struct {
	RelayURL string // WebSocket URL of the signaling relay

	STUNServers []string

	CallRequestTimeout time.Duration // Requesting → Idle when nobody accepts
	ICEGatherTimeout   time.Duration // cap on ICE gathering before using what we have
	TransportGrace     time.Duration // transport loss tolerated before the call fails

	PresenceStaleAfter time.Duration // purge presence entries older than this
	PresenceRateLimit  float64       // max presence broadcasts per second per user
	TombstoneHorizon   time.Duration // compaction drops tombstones older than this
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		RelayURL: "ws://127.0.0.1:8090/ws",
		STUNServers: []string{
			"stun:stun.l.google.com:19302",
			"stun:stun1.l.google.com:19302",
		},
		CallRequestTimeout: 30 * time.Second,
		ICEGatherTimeout:   10 * time.Second,
		TransportGrace:     15 * time.Second,
		PresenceStaleAfter: 30 * time.Second,
		PresenceRateLimit:  10,
		TombstoneHorizon:   5 * time.Minute,
	}
}

// Load reads overrides from a .env file (if present) and the environment.
func Load() Config {
	_ = godotenv.Load() // missing .env is fine

	cfg := Default()

	if v := os.Getenv("INKWIRE_RELAY_URL"); v != "" {
		cfg.RelayURL = v
	}
	if v := os.Getenv("INKWIRE_STUN_SERVERS"); v != "" {
		cfg.STUNServers = splitList(v)
	}
	cfg.CallRequestTimeout = envDuration("INKWIRE_CALL_TIMEOUT", cfg.CallRequestTimeout)
	cfg.ICEGatherTimeout = envDuration("INKWIRE_ICE_GATHER_TIMEOUT", cfg.ICEGatherTimeout)
	cfg.TransportGrace = envDuration("INKWIRE_TRANSPORT_GRACE", cfg.TransportGrace)
	cfg.PresenceStaleAfter = envDuration("INKWIRE_PRESENCE_STALE", cfg.PresenceStaleAfter)
	cfg.TombstoneHorizon = envDuration("INKWIRE_TOMBSTONE_HORIZON", cfg.TombstoneHorizon)

	if v := os.Getenv("INKWIRE_PRESENCE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.PresenceRateLimit = f
		}
	}

	return cfg
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
