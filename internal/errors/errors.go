// Package errors provides domain-specific error types for the agent.
//
// These types carry structured context (operation, address, URL, status)
// that lets the engine tell recoverable contact failures from the one
// fatal condition, a first check-in without an identity.
package errors

import (
	"errors"
	"fmt"
	"net"
)

// ── Sentinel errors ──────────────────────────────────────────────────

var (
	ErrIdentityMissing = errors.New("server assigned no agent id")
	ErrRegistryFull    = errors.New("task registry is full")
	ErrDuplicateTask   = errors.New("task id already registered")
	ErrCaptureBusy     = errors.New("keystroke capture already running")
	ErrUnsupported     = errors.New("capability not supported on this platform")
	ErrAuthFailed      = errors.New("authentication failed")
	ErrHostKeyMismatch = errors.New("host key mismatch")
)

// ── Structured error types ───────────────────────────────────────────

// TransportError is a failed exchange with the command server: either
// the request never completed or the server answered with a status
// other than 200.  Transport errors are always recoverable.
type TransportError struct {
	Op         string // HTTP method
	URL        string
	StatusCode int   // 0 when no response was received
	Err        error // underlying error (nil for a bad status)
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 && e.Err == nil {
		return fmt.Sprintf("%s %s: status %d", e.Op, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError is a response the agent could not make sense of:
// an undecodable body or a payload missing required fields.
type ProtocolError struct {
	Op  string // "config", "tasks", "results"
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// NetworkError represents a failure in a relay network operation.
type NetworkError struct {
	Op        string // operation: "dial", "listen", "accept", "write", "read"
	Addr      string // network address involved
	Err       error  // underlying error
	Retryable bool   // whether the caller should retry
}

func (e *NetworkError) Error() string {
	s := fmt.Sprintf("%s %s: %v", e.Op, e.Addr, e.Err)
	if e.Retryable {
		s += " (retryable)"
	}
	return s
}

func (e *NetworkError) Unwrap() error { return e.Err }

// SSHError represents an SSH-specific failure with gateway context.
type SSHError struct {
	Op   string // "handshake", "auth", "dial"
	Host string
	Port int
	Err  error
}

func (e *SSHError) Error() string {
	return fmt.Sprintf("ssh %s %s:%d: %v", e.Op, e.Host, e.Port, e.Err)
}

func (e *SSHError) Unwrap() error { return e.Err }

// ConfigError represents an invalid configuration value.
type ConfigError struct {
	Field   string      // config field name
	Value   interface{} // the invalid value (nil if missing)
	Message string      // human-readable explanation
	Hint    string      // suggestion for the operator (optional)
}

func (e *ConfigError) Error() string {
	msg := fmt.Sprintf("config: --%s", e.Field)
	if e.Value != nil {
		msg += fmt.Sprintf("=%v", e.Value)
	}
	msg += ": " + e.Message
	if e.Hint != "" {
		msg += "\n  hint: " + e.Hint
	}
	return msg
}

// ── Constructors ─────────────────────────────────────────────────────

// Wrap creates a NetworkError, automatically detecting retryability
// from the underlying error.
func Wrap(op, addr string, err error) *NetworkError {
	return &NetworkError{
		Op:        op,
		Addr:      addr,
		Err:       err,
		Retryable: classifyRetryable(err),
	}
}

// WrapSSH creates an SSHError.
func WrapSSH(op, host string, port int, err error) *SSHError {
	return &SSHError{Op: op, Host: host, Port: port, Err: err}
}

// Status creates a TransportError for a non-200 response.
func Status(op, url string, code int) *TransportError {
	return &TransportError{Op: op, URL: url, StatusCode: code}
}

// Protocol creates a ProtocolError.
func Protocol(op string, err error) *ProtocolError {
	return &ProtocolError{Op: op, Err: err}
}

// ── Classification helpers ───────────────────────────────────────────

// IsRetryable reports whether err is worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var te *TransportError
	if errors.As(err, &te) {
		return true
	}
	var ne *NetworkError
	if errors.As(err, &ne) {
		return ne.Retryable
	}
	return classifyRetryable(err)
}

// IsFatal reports whether err must end the session.  Only a missing or
// unreadable identity at the first check-in qualifies.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrIdentityMissing) {
		return true
	}
	var pe *ProtocolError
	return errors.As(err, &pe) && pe.Op == "config"
}

// classifyRetryable inspects standard library error types.
func classifyRetryable(err error) bool {
	if err == nil {
		return false
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return dnsErr.Temporary() //nolint:staticcheck
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return opErr.Temporary() || opErr.Op == "dial" //nolint:staticcheck // Temporary is deprecated but still useful
	}
	return false
}

// Is is [errors.Is], so callers matching sentinels need only this package.
func Is(err, target error) bool { return errors.Is(err, target) }
