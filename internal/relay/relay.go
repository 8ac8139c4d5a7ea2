// Package relay forwards raw TCP traffic on behalf of tunnel and bridge
// tasks.
//
// A tunnel listens locally and forwards each accepted connection to a
// fixed remote endpoint.  A bridge dials two endpoints and splices
// them, redialling the pair whenever either side drops.  Both are
// bounded by a context: cancellation is observed within one poll
// interval and every connection is closed before the call returns.
package relay

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"

	"striker/internal/clock"
	serrors "striker/internal/errors"
	"striker/internal/metrics"
	"striker/internal/retry"
	"striker/internal/transport"
	"striker/util"
)

// Defaults used when the corresponding Relay field is zero.
const (
	DefaultPollInterval = 50 * time.Millisecond
	DefaultAcceptPoll   = time.Second
	DefaultRetryDelay   = 5 * time.Second
	DefaultDialTimeout  = 10 * time.Second
)

// Relay carries the shared dependencies of tunnels and bridges.
type Relay struct {
	Dialer  transport.Dialer   // outbound connections (default plain TCP)
	Logger  *util.Logger       // required
	Metrics *metrics.Collector // optional
	Clock   clock.Clock        // bridge redial waits (default clock.Real())

	PollInterval time.Duration // read deadline per pump iteration
	AcceptPoll   time.Duration // accept deadline in the tunnel loop
	RetryDelay   time.Duration // wait before redialling a bridge
	DialTimeout  time.Duration // per-dial timeout
	BlockSize    int           // bytes per read (default util.BlockSize)
}

// ── Tunnel ───────────────────────────────────────────────────────────

// Tunnel listens on local and forwards every accepted connection to
// remote until ctx ends.  It returns an error only when the listener
// cannot be bound; after that it always returns nil.
func (r *Relay) Tunnel(ctx context.Context, local, remote string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", local)
	if err != nil {
		return serrors.Wrap("listen", local, err)
	}
	defer ln.Close()

	r.Logger.Info("tunnel %s -> %s listening", ln.Addr(), remote)

	routeCtx, cancelRoutes := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancelRoutes()
		wg.Wait()
		r.Logger.Info("tunnel %s -> %s closed", local, remote)
	}()

	poll := orDefault(r.AcceptPoll, DefaultAcceptPoll)
	type deadliner interface{ SetDeadline(time.Time) error }

	for ctx.Err() == nil {
		if d, ok := ln.(deadliner); ok {
			d.SetDeadline(time.Now().Add(poll)) //nolint:errcheck
		}
		conn, err := ln.Accept()
		if err != nil {
			if util.IsTimeout(err) {
				continue
			}
			if ctx.Err() == nil {
				r.Logger.Warn("tunnel %s: accept: %v", local, err)
				r.Metrics.RecordError("accept " + local + ": " + err.Error())
			}
			return nil
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			r.route(routeCtx, conn, remote)
		}()
	}
	return nil
}

// route forwards one accepted client to remote.  A failed dial closes
// the client.
func (r *Relay) route(ctx context.Context, client net.Conn, remote string) {
	id := routeID()
	log := r.Logger.Named("route " + id)

	server, err := r.dial(ctx, remote)
	if err != nil {
		log.Verbose("dial %s failed: %v", remote, err)
		r.Metrics.RecordError(err.Error())
		client.Close()
		return
	}

	log.Verbose("%s <-> %s", client.RemoteAddr(), remote)
	r.splice(ctx, log, client, server)
}

// ── Bridge ───────────────────────────────────────────────────────────

// Bridge connects a and b and relays between them until ctx ends.  If
// either dial fails, any connection already made is closed and the
// pair is redialled after RetryDelay.  When a relayed pair closes the
// bridge redials at once.  Bridge always returns nil once ctx ends.
func (r *Relay) Bridge(ctx context.Context, a, b string) error {
	backoff := retry.Fixed(orDefault(r.RetryDelay, DefaultRetryDelay))
	backoff.Clock = r.Clock
	backoff.OnRetry = func(attempt int, err error, wait time.Duration) {
		r.Metrics.BridgeRedial()
		r.Logger.Verbose("bridge %s <-> %s: %v (attempt %d, retry in %v)", a, b, err, attempt, wait)
	}

	r.Logger.Info("bridge %s <-> %s started", a, b)
	defer r.Logger.Info("bridge %s <-> %s closed", a, b)

	for ctx.Err() == nil {
		backoff.Do(ctx, func(int) error { //nolint:errcheck
			return r.bridgeOnce(ctx, a, b)
		})
	}
	return nil
}

// bridgeOnce dials both ends and relays until the pair closes.
func (r *Relay) bridgeOnce(ctx context.Context, a, b string) error {
	first, err := r.dial(ctx, a)
	if err != nil {
		return stopOnCancel(ctx, err)
	}
	second, err := r.dial(ctx, b)
	if err != nil {
		first.Close() //nolint:errcheck
		return stopOnCancel(ctx, err)
	}

	log := r.Logger.Named("bridge " + routeID())
	log.Verbose("%s <-> %s", a, b)
	r.splice(ctx, log, first, second)
	return nil
}

// ── shared ───────────────────────────────────────────────────────────

func (r *Relay) dial(ctx context.Context, addr string) (net.Conn, error) {
	d := r.Dialer
	if d == nil {
		d = &transport.TCPDialer{}
	}
	dctx, cancel := context.WithTimeout(ctx, orDefault(r.DialTimeout, DefaultDialTimeout))
	defer cancel()

	conn, err := d.Dial(dctx, "tcp", addr)
	if err != nil {
		return nil, serrors.Wrap("dial", addr, err)
	}
	return conn, nil
}

// splice pipes a and b with metrics accounting and closes both.
func (r *Relay) splice(ctx context.Context, log *util.Logger, a, b net.Conn) {
	start := time.Now()
	r.Metrics.RelayOpened()
	defer r.Metrics.RelayClosed()

	in, out := Pipe(ctx, a, b, orDefault(r.PollInterval, DefaultPollInterval), r.BlockSize)
	r.Metrics.BytesReceived(in)
	r.Metrics.BytesSent(out)

	log.Verbose("closed after %v (in=%d out=%d)", time.Since(start).Truncate(time.Millisecond), in, out)
}

// stopOnCancel keeps the backoff from sleeping once the bridge is
// being torn down.
func stopOnCancel(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return retry.Permanent(err)
	}
	return err
}

func routeID() string { return uuid.NewString()[:8] }

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}
