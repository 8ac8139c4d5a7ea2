package executor

import (
	"context"

	"striker/internal/session"
	"striker/internal/task"
	"striker/util"
)

// tunnel listens on lhost:lport and forwards to rhost:rport until the
// task is cancelled.  A tunnel that ran and was stopped is a success.
func (e *Executor) tunnel(ctx context.Context, _ *session.Session, t *task.Task) (string, bool) {
	lhost, ok1 := stringParam(t, "lhost")
	lport, ok2 := portParam(t, "lport")
	rhost, ok3 := stringParam(t, "rhost")
	rport, ok4 := portParam(t, "rport")
	if !ok1 || !ok2 || !ok3 || !ok4 || e.relay == nil {
		return "Error starting tunnel!", false
	}

	err := e.relay.Tunnel(ctx, util.FormatAddr(lhost, lport), util.FormatAddr(rhost, rport))
	if err != nil {
		return "Error starting tunnel: " + err.Error(), false
	}
	return "Tunnel closed!", true
}

// bridge joins host1:port1 and host2:port2 until the task is cancelled,
// redialling whenever the pair drops.
func (e *Executor) bridge(ctx context.Context, _ *session.Session, t *task.Task) (string, bool) {
	host1, ok1 := stringParam(t, "host1")
	port1, ok2 := portParam(t, "port1")
	host2, ok3 := stringParam(t, "host2")
	port2, ok4 := portParam(t, "port2")
	if !ok1 || !ok2 || !ok3 || !ok4 || e.relay == nil {
		return "Error starting bridge!", false
	}

	e.relay.Bridge(ctx, util.FormatAddr(host1, port1), util.FormatAddr(host2, port2)) //nolint:errcheck
	return "TCP bridge closed!", true
}
