// Package clock provides an injectable time source for the control loop.
//
// The engine waits out the callback delay in one-second slices and the
// bridge waits between reconnect attempts.  Production code uses Real();
// tests use a Fake whose Sleep advances virtual time instantly, so a
// multi-minute session runs in milliseconds while still yielding to the
// task goroutines it spawned.
package clock

import (
	"context"
	"sync"
	"time"
)

// Clock abstracts the time operations the agent needs.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// Sleep pauses for d or until ctx is done, whichever comes first.
	// It returns ctx.Err() when interrupted and nil otherwise.
	Sleep(ctx context.Context, d time.Duration) error
}

// Real returns a Clock backed by the standard time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ── Fake ─────────────────────────────────────────────────────────────

// Fake is a deterministic Clock.  Sleep never blocks for the requested
// duration: it moves virtual time forward by d, runs the OnSleep hook
// and then pauses for Yield of real time so goroutines started by the
// caller get a chance to make progress.
//
// Fake is safe for concurrent use.
type Fake struct {
	mu      sync.Mutex
	current time.Time
	slept   time.Duration
	sleeps  int

	// Yield is the real pause taken on every Sleep (default 1ms).
	Yield time.Duration

	// OnSleep, if set, runs after virtual time has advanced, with the
	// 1-based sleep count.  Tests use it to inject events at a given
	// point in the schedule.
	OnSleep func(n int)
}

// NewFake returns a Fake starting at the given instant.
func NewFake(initial time.Time) *Fake {
	return &Fake{current: initial, Yield: time.Millisecond}
}

// Now returns the current virtual time.
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current
}

// Sleep advances virtual time by d.
func (f *Fake) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	if d > 0 {
		f.current = f.current.Add(d)
		f.slept += d
	}
	f.sleeps++
	n := f.sleeps
	hook := f.OnSleep
	yield := f.Yield
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if yield > 0 {
		t := time.NewTimer(yield)
		defer t.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return ctx.Err()
}

// Advance moves virtual time forward without counting a sleep.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.current = f.current.Add(d)
	f.mu.Unlock()
}

// Slept returns the total virtual time spent in Sleep.
func (f *Fake) Slept() time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.slept
}

// Sleeps returns the number of Sleep calls so far.
func (f *Fake) Sleeps() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sleeps
}
