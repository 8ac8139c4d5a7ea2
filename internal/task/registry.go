package task

import (
	"sync"

	serrors "striker/internal/errors"
)

// DefaultCapacity is the most tasks the agent keeps in flight.
const DefaultCapacity = 100

// Registry owns every Task between fetch and acknowledged submission.
//
// A task is in exactly one of two sets: pending (registered, result not
// yet collected) or completed (result collected, awaiting a successful
// submission).  All moves happen under one mutex that is never held
// across I/O.
type Registry struct {
	capacity int

	mu        sync.Mutex
	pending   []*Task
	completed []*Task
}

// NewRegistry returns a registry admitting at most capacity pending
// tasks (DefaultCapacity when capacity ≤ 0).
func NewRegistry(capacity int) *Registry {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Registry{
		capacity:  capacity,
		pending:   make([]*Task, 0, capacity),
		completed: make([]*Task, 0, capacity),
	}
}

// Capacity returns the pending-set bound.
func (r *Registry) Capacity() int { return r.capacity }

// Add registers t as pending.  It fails with ErrDuplicateTask when a
// task with the same id is already held, and with ErrRegistryFull when
// the pending set is at capacity.
func (r *Registry) Add(t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lookupLocked(t.id) != nil {
		return serrors.ErrDuplicateTask
	}
	if len(r.pending) >= r.capacity {
		return serrors.ErrRegistryFull
	}
	r.pending = append(r.pending, t)
	return nil
}

// AddCompleted places an already completed task straight into the
// completed set.  The engine uses it for tasks refused at fetch time so
// the operator still receives a result for them.
func (r *Registry) AddCompleted(t *Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.lookupLocked(t.id) != nil {
		return serrors.ErrDuplicateTask
	}
	if len(r.completed) >= r.capacity {
		return serrors.ErrRegistryFull
	}
	r.completed = append(r.completed, t)
	return nil
}

// Lookup returns the task with the given id from either set.
func (r *Registry) Lookup(id string) *Task {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookupLocked(id)
}

// Cancel requests cancellation of a pending task.  It reports whether
// the task was found; the task may still be running when Cancel
// returns.
func (r *Registry) Cancel(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.pending {
		if t.id == id {
			t.RequestCancel()
			return true
		}
	}
	return false
}

// Collect moves completed pending tasks into the completed set and
// returns how many moved.  The completed set shares the pending bound;
// finished tasks that do not fit stay pending until an Ack frees room.
func (r *Registry) Collect() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	moved := 0
	kept := r.pending[:0]
	for _, t := range r.pending {
		if t.Completed() && len(r.completed) < r.capacity {
			r.completed = append(r.completed, t)
			moved++
		} else {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(r.pending); i++ {
		r.pending[i] = nil
	}
	r.pending = kept
	return moved
}

// Batch returns the results of the completed set.  The set itself is
// untouched until [Registry.Ack].
func (r *Registry) Batch() []Result {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.completed) == 0 {
		return nil
	}
	out := make([]Result, len(r.completed))
	for i, t := range r.completed {
		out[i] = t.Result()
	}
	return out
}

// Ack removes the tasks whose results were in a successfully submitted
// batch and releases them.  Tasks that completed after the batch was
// taken stay for the next submission.
func (r *Registry) Ack(batch []Result) int {
	if len(batch) == 0 {
		return 0
	}
	sent := make(map[string]struct{}, len(batch))
	for _, res := range batch {
		sent[res.UID] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	kept := r.completed[:0]
	for _, t := range r.completed {
		if _, ok := sent[t.id]; ok {
			t.release()
			removed++
		} else {
			kept = append(kept, t)
		}
	}
	for i := len(kept); i < len(r.completed); i++ {
		r.completed[i] = nil
	}
	r.completed = kept
	return removed
}

// Drain cancels and discards every task in both sets and returns how
// many were dropped.  Results not yet submitted are lost.
func (r *Registry) Drain() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := len(r.pending) + len(r.completed)
	for _, t := range r.pending {
		t.RequestCancel()
	}
	for _, t := range r.completed {
		t.release()
	}
	r.pending = make([]*Task, 0, r.capacity)
	r.completed = make([]*Task, 0, r.capacity)
	return n
}

// Len returns the sizes of the pending and completed sets.
func (r *Registry) Len() (pending, completed int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending), len(r.completed)
}

func (r *Registry) lookupLocked(id string) *Task {
	for _, t := range r.pending {
		if t.id == id {
			return t
		}
	}
	for _, t := range r.completed {
		if t.id == id {
			return t
		}
	}
	return nil
}
