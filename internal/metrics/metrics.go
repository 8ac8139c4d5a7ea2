// Package metrics provides lightweight, lock-free counters for tracking
// the agent's control channel, its tasks and its relays.
//
// All methods are safe for concurrent use.  A nil *Collector is a
// valid no-op receiver, so callers never need to nil-check.
package metrics

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"
)

// Collector tracks runtime metrics for one agent session.
// A nil Collector is safe to use; all methods become no-ops.
type Collector struct {
	checkIns        atomic.Int64
	contactFailures atomic.Int64
	failovers       atomic.Int64
	batchesSent     atomic.Int64

	tasksStarted   atomic.Int64
	tasksSucceeded atomic.Int64
	tasksFailed    atomic.Int64
	tasksRejected  atomic.Int64
	tasksDiscarded atomic.Int64

	relaysActive atomic.Int64
	relaysTotal  atomic.Int64
	bytesIn      atomic.Int64
	bytesOut     atomic.Int64
	bridgeRedial atomic.Int64

	mu           sync.RWMutex
	startTime    time.Time
	lastContact  time.Time
	lastError    time.Time
	lastErrorMsg string
}

// New creates a metrics collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Control channel ──────────────────────────────────────────────────

// CheckIn records a successful fresh check-in or resume probe.
func (c *Collector) CheckIn() {
	if c == nil {
		return
	}
	c.checkIns.Add(1)
	c.touch()
}

// Contact records a successful poll or submission.
func (c *Collector) Contact() {
	if c == nil {
		return
	}
	c.touch()
}

// ContactFailed records a failed exchange with the server.
func (c *Collector) ContactFailed(msg string) {
	if c == nil {
		return
	}
	c.contactFailures.Add(1)
	c.RecordError(msg)
}

// Failover records a rotation to the next server address.
func (c *Collector) Failover() {
	if c == nil {
		return
	}
	c.failovers.Add(1)
}

// BatchSent records an acknowledged result batch.
func (c *Collector) BatchSent() {
	if c == nil {
		return
	}
	c.batchesSent.Add(1)
}

// CheckIns returns the number of successful check-ins.
func (c *Collector) CheckIns() int64 {
	if c == nil {
		return 0
	}
	return c.checkIns.Load()
}

// ContactFailures returns the lifetime contact failure count.
func (c *Collector) ContactFailures() int64 {
	if c == nil {
		return 0
	}
	return c.contactFailures.Load()
}

// Failovers returns the number of address rotations.
func (c *Collector) Failovers() int64 {
	if c == nil {
		return 0
	}
	return c.failovers.Load()
}

func (c *Collector) touch() {
	c.mu.Lock()
	c.lastContact = time.Now()
	c.mu.Unlock()
}

// ── Tasks ────────────────────────────────────────────────────────────

// TaskStarted records a task handed to an executor goroutine.
func (c *Collector) TaskStarted() {
	if c == nil {
		return
	}
	c.tasksStarted.Add(1)
}

// TaskFinished records a task's outcome.
func (c *Collector) TaskFinished(ok bool) {
	if c == nil {
		return
	}
	if ok {
		c.tasksSucceeded.Add(1)
	} else {
		c.tasksFailed.Add(1)
	}
}

// TaskRejected records a task refused because the registry was full.
func (c *Collector) TaskRejected() {
	if c == nil {
		return
	}
	c.tasksRejected.Add(1)
}

// TasksDiscarded records n tasks dropped by a failover or shutdown.
func (c *Collector) TasksDiscarded(n int) {
	if c == nil {
		return
	}
	c.tasksDiscarded.Add(int64(n))
}

// TasksStarted returns the number of tasks started.
func (c *Collector) TasksStarted() int64 {
	if c == nil {
		return 0
	}
	return c.tasksStarted.Load()
}

// TasksRejected returns the number of tasks refused at fetch time.
func (c *Collector) TasksRejected() int64 {
	if c == nil {
		return 0
	}
	return c.tasksRejected.Load()
}

// TasksDiscardedTotal returns the number of tasks lost to failover.
func (c *Collector) TasksDiscardedTotal() int64 {
	if c == nil {
		return 0
	}
	return c.tasksDiscarded.Load()
}

// ── Relays ───────────────────────────────────────────────────────────

// RelayOpened increments both the active and total relay counters.
func (c *Collector) RelayOpened() {
	if c == nil {
		return
	}
	c.relaysActive.Add(1)
	c.relaysTotal.Add(1)
}

// RelayClosed decrements the active relay counter.
func (c *Collector) RelayClosed() {
	if c == nil {
		return
	}
	c.relaysActive.Add(-1)
}

// ActiveRelays returns the number of connection pairs being relayed.
func (c *Collector) ActiveRelays() int64 {
	if c == nil {
		return 0
	}
	return c.relaysActive.Load()
}

// TotalRelays returns the lifetime relay count.
func (c *Collector) TotalRelays() int64 {
	if c == nil {
		return 0
	}
	return c.relaysTotal.Load()
}

// BytesReceived records n bytes read from the first side of a pair.
func (c *Collector) BytesReceived(n int64) {
	if c == nil {
		return
	}
	c.bytesIn.Add(n)
}

// BytesSent records n bytes read from the second side of a pair.
func (c *Collector) BytesSent(n int64) {
	if c == nil {
		return
	}
	c.bytesOut.Add(n)
}

// TotalBytesIn returns total bytes received.
func (c *Collector) TotalBytesIn() int64 {
	if c == nil {
		return 0
	}
	return c.bytesIn.Load()
}

// TotalBytesOut returns total bytes sent.
func (c *Collector) TotalBytesOut() int64 {
	if c == nil {
		return 0
	}
	return c.bytesOut.Load()
}

// BridgeRedial records a bridge reconnect attempt.
func (c *Collector) BridgeRedial() {
	if c == nil {
		return
	}
	c.bridgeRedial.Add(1)
}

// BridgeRedials returns the total bridge reconnect count.
func (c *Collector) BridgeRedials() int64 {
	if c == nil {
		return 0
	}
	return c.bridgeRedial.Load()
}

// ── Errors ───────────────────────────────────────────────────────────

// RecordError stores the most recent error message.
func (c *Collector) RecordError(msg string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.lastError = time.Now()
	c.lastErrorMsg = msg
	c.mu.Unlock()
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time view of all metrics.
type Snapshot struct {
	Uptime           string `json:"uptime"`
	CheckIns         int64  `json:"check_ins"`
	ContactFailures  int64  `json:"contact_failures"`
	Failovers        int64  `json:"failovers"`
	BatchesSent      int64  `json:"batches_sent"`
	TasksStarted     int64  `json:"tasks_started"`
	TasksSucceeded   int64  `json:"tasks_succeeded"`
	TasksFailed      int64  `json:"tasks_failed"`
	TasksRejected    int64  `json:"tasks_rejected"`
	TasksDiscarded   int64  `json:"tasks_discarded"`
	RelaysActive     int64  `json:"relays_active"`
	RelaysTotal      int64  `json:"relays_total"`
	BytesIn          int64  `json:"bytes_in"`
	BytesOut         int64  `json:"bytes_out"`
	BridgeRedials    int64  `json:"bridge_redials"`
	LastContact      string `json:"last_contact,omitempty"`
	LastError        string `json:"last_error,omitempty"`
	LastErrorMessage string `json:"last_error_message,omitempty"`
}

// Snapshot returns a copy of all current metrics.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		Uptime:          time.Since(c.startTime).Truncate(time.Second).String(),
		CheckIns:        c.checkIns.Load(),
		ContactFailures: c.contactFailures.Load(),
		Failovers:       c.failovers.Load(),
		BatchesSent:     c.batchesSent.Load(),
		TasksStarted:    c.tasksStarted.Load(),
		TasksSucceeded:  c.tasksSucceeded.Load(),
		TasksFailed:     c.tasksFailed.Load(),
		TasksRejected:   c.tasksRejected.Load(),
		TasksDiscarded:  c.tasksDiscarded.Load(),
		RelaysActive:    c.relaysActive.Load(),
		RelaysTotal:     c.relaysTotal.Load(),
		BytesIn:         c.bytesIn.Load(),
		BytesOut:        c.bytesOut.Load(),
		BridgeRedials:   c.bridgeRedial.Load(),
	}
	if !c.lastContact.IsZero() {
		s.LastContact = c.lastContact.Format(time.RFC3339)
	}
	if !c.lastError.IsZero() {
		s.LastError = c.lastError.Format(time.RFC3339)
		s.LastErrorMessage = c.lastErrorMsg
	}
	return s
}

// JSON returns the snapshot as a compact JSON string suitable for a
// single log line.
func (c *Collector) JSON() string {
	s := c.Snapshot()
	data, _ := json.Marshal(s)
	return string(data)
}
