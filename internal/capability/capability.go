// Package capability defines the host facilities a task can reach
// beyond the network: keystroke capture, screen capture, the clipboard
// and the command interpreter.  Each facility sits behind a narrow
// interface so the executor is testable with fakes and platforms that
// lack a facility report ErrUnsupported instead of failing to build.
package capability

import (
	"context"
	"time"

	serrors "striker/internal/errors"
)

// Keystroke is one captured key release.
type Keystroke struct {
	Code uint16    // platform key code
	Text string    // printable rendering ("a", "[ENTER]", ...)
	At   time.Time // capture time
}

// Keyboard captures keystrokes from an input device.
type Keyboard interface {
	// Start begins capturing from device (empty = platform default) for
	// at most d.  The returned channel is closed when capture ends, on
	// timeout, ctx cancellation or Stop.
	Start(ctx context.Context, device string, d time.Duration) (<-chan Keystroke, error)

	// Stop ends an active capture early.  It is a no-op when idle.
	Stop()
}

// Screen grabs the display.
type Screen interface {
	// Capture returns a PNG of the current screen.
	Capture(ctx context.Context) ([]byte, error)
}

// Clipboard reads and replaces the system clipboard text.
type Clipboard interface {
	Read(ctx context.Context) (string, error)
	Write(ctx context.Context, text string) error
}

// Set bundles the facilities handed to the executor.  A nil member
// behaves like [Unsupported].
type Set struct {
	Keyboard  Keyboard
	Screen    Screen
	Clipboard Clipboard
}

// WithDefaults returns a copy of s with every nil member replaced by
// [Unsupported].
func (s Set) WithDefaults() Set {
	if s.Keyboard == nil {
		s.Keyboard = Unsupported{}
	}
	if s.Screen == nil {
		s.Screen = Unsupported{}
	}
	if s.Clipboard == nil {
		s.Clipboard = Unsupported{}
	}
	return s
}

// Unsupported implements every facility by refusing.
type Unsupported struct{}

var (
	_ Keyboard  = Unsupported{}
	_ Screen    = Unsupported{}
	_ Clipboard = Unsupported{}
)

func (Unsupported) Start(context.Context, string, time.Duration) (<-chan Keystroke, error) {
	return nil, serrors.ErrUnsupported
}

func (Unsupported) Stop() {}

func (Unsupported) Capture(context.Context) ([]byte, error) {
	return nil, serrors.ErrUnsupported
}

func (Unsupported) Read(context.Context) (string, error) {
	return "", serrors.ErrUnsupported
}

func (Unsupported) Write(context.Context, string) error {
	return serrors.ErrUnsupported
}
