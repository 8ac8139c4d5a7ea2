// Package config defines the runtime configuration for the striker agent
// and provides helpers for parsing and validating it.
package config

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	serrors "striker/internal/errors"
)

// Config holds every tuneable for a single agent run.
type Config struct {
	// ── Server ───────────────────────────────────────────────────────
	BaseURL     string // first server address; redirectors are learnt at check-in
	AuthKey     string
	Delay       int // callback delay in seconds
	ObfsKey     string
	Codec       string // "json" or "cbor"
	InsecureTLS bool
	UserAgent   string
	HTTPTimeout time.Duration

	// ── Tasks ────────────────────────────────────────────────────────
	WriteDir        string
	MaxTasks        int
	MaxContactFails int
	MaxResultSize   int
	MaxKeystrokes   int
	PublicIPURL     string

	// ── Relays ───────────────────────────────────────────────────────
	PollInterval     time.Duration
	AcceptPoll       time.Duration
	BridgeRetryDelay time.Duration
	DialTimeout      time.Duration
	BlockSize        int

	// ── SSH gateway ──────────────────────────────────────────────────
	Gateway           string // raw [user@]host[:port]
	GatewayEnabled    bool
	GatewayUser       string
	GatewayHost       string
	GatewayPort       int
	GatewayKey        string
	GatewayAgent      bool
	GatewayKnownHosts string
	StrictHostKey     bool

	// ── Output ───────────────────────────────────────────────────────
	Verbose int
}

// Defaults returns a Config populated from defaults.go.
func Defaults() *Config {
	return &Config{
		Delay:            DefaultDelay,
		Codec:            DefaultCodec,
		UserAgent:        DefaultUserAgent,
		HTTPTimeout:      DefaultHTTPTimeout,
		MaxTasks:         DefaultMaxTasks,
		MaxContactFails:  DefaultMaxContactFails,
		MaxResultSize:    DefaultMaxResultSize,
		MaxKeystrokes:    DefaultMaxKeystrokes,
		PublicIPURL:      DefaultPublicIPURL,
		PollInterval:     DefaultPollInterval,
		AcceptPoll:       DefaultAcceptPoll,
		BridgeRetryDelay: DefaultBridgeRetryDelay,
		DialTimeout:      DefaultDialTimeout,
		BlockSize:        DefaultBlockSize,
		GatewayPort:      DefaultSSHPort,
	}
}

// ── Gateway-spec parser ──────────────────────────────────────────────

// gatewayRe matches [user@]host[:port].
var gatewayRe = regexp.MustCompile(`^(?:([^@]+)@)?([^:@]+)(?::(\d+))?$`)

// ParseGatewaySpec extracts user, host, and port from a string such as
// "admin@bastion.example.com:2222".  Port defaults to 22.
func ParseGatewaySpec(spec string) (user, host string, port int, err error) {
	m := gatewayRe.FindStringSubmatch(spec)
	if m == nil {
		return "", "", 0, fmt.Errorf("invalid gateway spec %q: expected [user@]host[:port]", spec)
	}
	user = m[1]
	host = m[2]
	port = DefaultSSHPort
	if m[3] != "" {
		port, err = strconv.Atoi(m[3])
		if err != nil || port < 1 || port > 65535 {
			return "", "", 0, fmt.Errorf("invalid gateway port %q", m[3])
		}
	}
	return user, host, port, nil
}

// ApplyGateway parses Gateway into the Gateway* fields.  An empty spec
// disables the gateway.
func (c *Config) ApplyGateway() error {
	if c.Gateway == "" {
		c.GatewayEnabled = false
		return nil
	}
	user, host, port, err := ParseGatewaySpec(c.Gateway)
	if err != nil {
		return &serrors.ConfigError{
			Field:   "gateway",
			Value:   c.Gateway,
			Message: err.Error(),
			Hint:    "use --gateway user@host:22",
		}
	}
	c.GatewayEnabled = true
	c.GatewayUser = user
	c.GatewayHost = host
	c.GatewayPort = port
	return nil
}

// ── Validation ───────────────────────────────────────────────────────

// Validate checks that the configuration is usable.  Errors are
// *errors.ConfigError values carrying an operator hint.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return &serrors.ConfigError{
			Field:   "url",
			Message: "server address is required",
			Hint:    "pass --url https://host:port or set STRIKER_URL",
		}
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return &serrors.ConfigError{
			Field:   "url",
			Value:   c.BaseURL,
			Message: "not an http(s) URL",
			Hint:    "include the scheme, e.g. http://10.0.0.5:8443",
		}
	}
	if c.Delay < 1 {
		return &serrors.ConfigError{
			Field:   "delay",
			Value:   c.Delay,
			Message: "callback delay must be at least 1 second",
		}
	}
	switch strings.ToLower(c.Codec) {
	case "json", "cbor":
	default:
		return &serrors.ConfigError{
			Field:   "codec",
			Value:   c.Codec,
			Message: "unknown codec",
			Hint:    "use json or cbor",
		}
	}
	if c.MaxTasks < 1 {
		return &serrors.ConfigError{Field: "max-tasks", Value: c.MaxTasks, Message: "must be positive"}
	}
	if c.MaxContactFails < 1 {
		return &serrors.ConfigError{Field: "max-contact-fails", Value: c.MaxContactFails, Message: "must be positive"}
	}
	if c.MaxResultSize < 1 {
		return &serrors.ConfigError{Field: "max-result-size", Value: c.MaxResultSize, Message: "must be positive"}
	}
	if c.PollInterval <= 0 || c.AcceptPoll <= 0 {
		return &serrors.ConfigError{
			Field:   "poll-interval",
			Value:   c.PollInterval,
			Message: "relay poll intervals must be positive",
		}
	}
	if c.GatewayEnabled && c.GatewayHost == "" {
		return &serrors.ConfigError{
			Field:   "gateway",
			Value:   c.Gateway,
			Message: "gateway host is required",
			Hint:    "use --gateway user@host:22",
		}
	}
	if c.StrictHostKey && !c.GatewayEnabled {
		return &serrors.ConfigError{
			Field:   "strict-hostkey",
			Message: "only applies to an SSH gateway",
			Hint:    "add --gateway or drop --strict-hostkey",
		}
	}
	return nil
}
