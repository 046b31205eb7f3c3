// Package syncprim implements the cooperative synchronization primitives
// integrated with the scheduler's suspend/resume protocol: a FIFO-waiter
// Mutex, a bounded-backpressure Channel, and a counting Semaphore (§4.4).
// None of these block a goroutine directly — each TryX call reports
// whether the caller must suspend, leaving the actual park/wake handoff
// to the scheduler so suspension integrates with task state rather than
// OS threads.
package syncprim

import (
	"fmt"
	"sync"
	"sync/atomic"

	"raya/internal/taskid"
)

var nextMutexID uint64

// MutexID identifies a Mutex for snapshotting and for bytecode handles.
type MutexID uint64

// NewMutexID mints a fresh, process-unique mutex identity.
func NewMutexID() MutexID {
	return MutexID(atomic.AddUint64(&nextMutexID, 1))
}

// MutexError is returned by Unlock when the caller does not hold the
// lock (§7: synchronization errors, catchable by bytecode).
type MutexError struct {
	Op  string
	ID  MutexID
	Who taskid.ID
}

func (e *MutexError) Error() string {
	return fmt.Sprintf("mutex %d: %s: not owned by task %d", e.ID, e.Op, e.Who)
}

// Mutex is a FIFO-waiter lock: TryLock either acquires immediately or
// enqueues the caller; Unlock verifies ownership, then hands the lock to
// the longest-waiting enqueued task.
type Mutex struct {
	id      MutexID
	mu      sync.Mutex
	owner   taskid.ID
	waiters []taskid.ID
}

// NewMutex creates an unlocked mutex with the given identity.
func NewMutex(id MutexID) *Mutex {
	return &Mutex{id: id}
}

// ID returns the mutex's identity.
func (m *Mutex) ID() MutexID { return m.id }

// TryLock acquires the mutex immediately if unowned, setting owner to
// id and returning true. Otherwise it enqueues id on the FIFO wait list
// and returns false — the caller must request suspension with
// BlockReason MutexLock{mutex_id}.
//
// A task must never appear twice in the same waiter list; callers are
// expected to only retry TryLock after being woken by Unlock.
func (m *Mutex) TryLock(id taskid.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner == taskid.None {
		m.owner = id
		return true
	}
	m.waiters = append(m.waiters, id)
	return false
}

// Unlock verifies id owns the lock, then hands ownership to the next
// FIFO waiter (if any) and returns that waiter's ID so the caller can
// re-enqueue it on the ready queue. Returns taskid.None if no one was
// waiting.
func (m *Mutex) Unlock(id taskid.ID) (taskid.ID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner != id {
		return taskid.None, &MutexError{Op: "unlock", ID: m.id, Who: id}
	}
	if len(m.waiters) == 0 {
		m.owner = taskid.None
		return taskid.None, nil
	}
	next := m.waiters[0]
	m.waiters = m.waiters[1:]
	m.owner = next
	return next, nil
}

// IsLocked reports whether any task currently owns the mutex.
func (m *Mutex) IsLocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner != taskid.None
}

// IsLockedBy reports whether id currently owns the mutex.
func (m *Mutex) IsLockedBy(id taskid.ID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner == id
}

// Owner returns the current owner, or taskid.None if unlocked.
func (m *Mutex) Owner() taskid.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner
}

// WaitingCount returns the number of tasks queued behind the lock.
func (m *Mutex) WaitingCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.waiters)
}

// ForceRelease drops ownership unconditionally, used when a task holding
// the lock fails with an uncaught exception (§8: "a task that crashes
// with the lock held ... must have released the lock"). Returns the next
// owner, if any, exactly like Unlock.
func (m *Mutex) ForceRelease() taskid.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.waiters) == 0 {
		m.owner = taskid.None
		return taskid.None
	}
	next := m.waiters[0]
	m.waiters = m.waiters[1:]
	m.owner = next
	return next
}
