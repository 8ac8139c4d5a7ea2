package config

// loader.go - configuration loading from environment variables.
//
// Precedence order (highest wins):
//   1. CLI flags  (handled by cmd/root.go)
//   2. Environment variables  (this file)
//   3. Link-time stamped values  (cmd/stamp.go)
//   4. Defaults   (defaults.go)

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// ── Environment variable mapping ─────────────────────────────────────
//
// Every supported env var uses the STRIKER_ prefix.  Boolean values
// accept "1", "true", "yes" (case-insensitive).

// LoadFromEnv overlays environment variables onto cfg.  Only non-empty
// env vars override the existing value.  This should be called BEFORE
// CLI flag parsing so that flags take precedence.
func LoadFromEnv(cfg *Config) {
	// Server
	if v := os.Getenv("STRIKER_URL"); v != "" {
		cfg.BaseURL = v
	}
	if v := os.Getenv("STRIKER_KEY"); v != "" {
		cfg.AuthKey = v
	}
	if v := envInt("STRIKER_DELAY"); v > 0 {
		cfg.Delay = v
	}
	if v := os.Getenv("STRIKER_CODEC"); v != "" {
		cfg.Codec = strings.ToLower(v)
	}
	if envBool("STRIKER_INSECURE") {
		cfg.InsecureTLS = true
	}
	if v := os.Getenv("STRIKER_USER_AGENT"); v != "" {
		cfg.UserAgent = v
	}
	if v := envInt("STRIKER_HTTP_TIMEOUT"); v > 0 {
		cfg.HTTPTimeout = secondsDuration(v)
	}

	// Tasks
	if v := os.Getenv("STRIKER_WRITE_DIR"); v != "" {
		cfg.WriteDir = v
	}
	if v := envInt("STRIKER_MAX_TASKS"); v > 0 {
		cfg.MaxTasks = v
	}
	if v := envInt("STRIKER_MAX_CONTACT_FAILS"); v > 0 {
		cfg.MaxContactFails = v
	}
	if v := envInt("STRIKER_MAX_RESULT_SIZE"); v > 0 {
		cfg.MaxResultSize = v
	}
	if v := os.Getenv("STRIKER_PUBLIC_IP_URL"); v != "" {
		cfg.PublicIPURL = v
	}

	// Relays
	if v := envInt("STRIKER_DIAL_TIMEOUT"); v > 0 {
		cfg.DialTimeout = secondsDuration(v)
	}
	if v := envInt("STRIKER_BRIDGE_RETRY"); v > 0 {
		cfg.BridgeRetryDelay = secondsDuration(v)
	}

	// SSH gateway
	if v := os.Getenv("STRIKER_GATEWAY"); v != "" {
		cfg.Gateway = v
	}
	if v := os.Getenv("STRIKER_GATEWAY_KEY"); v != "" {
		cfg.GatewayKey = v
	}
	if envBool("STRIKER_GATEWAY_AGENT") {
		cfg.GatewayAgent = true
	}
	if envBool("STRIKER_STRICT_HOSTKEY") {
		cfg.StrictHostKey = true
	}
	if v := os.Getenv("STRIKER_KNOWN_HOSTS"); v != "" {
		cfg.GatewayKnownHosts = v
	}

	// Output
	if v := envInt("STRIKER_VERBOSE"); v > 0 {
		cfg.Verbose = v
	}
}

// ── helpers ──────────────────────────────────────────────────────────

func envInt(key string) int {
	v := os.Getenv(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func envBool(key string) bool {
	v := strings.ToLower(os.Getenv(key))
	return v == "1" || v == "true" || v == "yes"
}

func secondsDuration(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}
