package config

import "time"

// ── Default values ───────────────────────────────────────────────────
//
// All tuneable defaults live here so they are easy to audit and reuse
// across link-time stamping, environment variable loading and CLI
// flags.

const (
	// DefaultDelay is the callback delay in seconds.
	DefaultDelay = 10

	// DefaultCodec is the wire format of the control channel.
	DefaultCodec = "json"

	// DefaultUserAgent is sent with every server request.
	DefaultUserAgent = "Mozilla/5.0 (MSIE 10.0; Windows NT 6.1; Trident/5.0)"

	// DefaultHTTPTimeout bounds a single control-channel request.
	DefaultHTTPTimeout = 30 * time.Second

	// DefaultMaxTasks caps the pending task registry.
	DefaultMaxTasks = 100

	// DefaultMaxContactFails is the number of consecutive failed
	// exchanges before failing over to the next address.
	DefaultMaxContactFails = 3

	// DefaultMaxResultSize caps captured shell output.
	DefaultMaxResultSize = 100 * 1024

	// DefaultMaxKeystrokes caps the keystrokes kept per capture.
	DefaultMaxKeystrokes = 50000

	// DefaultPublicIPURL is queried by the ip task.
	DefaultPublicIPURL = "https://api.ipify.org"

	// DefaultBlockSize is the relay copy buffer size.
	DefaultBlockSize = 50 * 1024

	// DefaultPollInterval is the relay read deadline; a cancelled relay
	// stops within one interval.
	DefaultPollInterval = 50 * time.Millisecond

	// DefaultAcceptPoll is the tunnel listener accept deadline.
	DefaultAcceptPoll = time.Second

	// DefaultBridgeRetryDelay is the pause after a failed bridge dial.
	DefaultBridgeRetryDelay = 5 * time.Second

	// DefaultDialTimeout bounds relay dials.
	DefaultDialTimeout = 10 * time.Second

	// DefaultGracePeriod is how long termination waits for running tasks.
	DefaultGracePeriod = 5 * time.Second

	// DefaultSSHPort is the standard SSH port.
	DefaultSSHPort = 22
)
