package syncprim

import (
	"sync"
	"sync/atomic"

	"raya/internal/taskid"
)

var nextSemaphoreID uint64

// SemaphoreID identifies a Semaphore for snapshotting and bytecode
// handles.
type SemaphoreID uint64

// NewSemaphoreID mints a fresh, process-unique semaphore identity.
func NewSemaphoreID() SemaphoreID {
	return SemaphoreID(atomic.AddUint64(&nextSemaphoreID, 1))
}

// Semaphore is a counting semaphore with a FIFO wait list, generalizing
// Mutex to a permit count greater than one.
type Semaphore struct {
	id      SemaphoreID
	mu      sync.Mutex
	permits int
	waiters []taskid.ID
}

// NewSemaphore creates a semaphore with the given initial permit count.
func NewSemaphore(id SemaphoreID, permits int) *Semaphore {
	return &Semaphore{id: id, permits: permits}
}

// ID returns the semaphore's identity.
func (s *Semaphore) ID() SemaphoreID { return s.id }

// TryAcquire takes a permit immediately if available, returning true.
// Otherwise it enqueues id on the FIFO wait list and returns false — the
// caller must suspend with BlockReason SemaphoreAcquire{semaphore_id}.
func (s *Semaphore) TryAcquire(id taskid.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.permits > 0 {
		s.permits--
		return true
	}
	s.waiters = append(s.waiters, id)
	return false
}

// Release returns one permit. If a task is waiting, the permit is
// handed directly to the longest-waiting one (returned, so the caller
// can re-enqueue it as Ready) instead of incrementing the visible
// count.
func (s *Semaphore) Release() taskid.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.waiters) > 0 {
		next := s.waiters[0]
		s.waiters = s.waiters[1:]
		return next
	}
	s.permits++
	return taskid.None
}

// Available reports the number of permits currently free.
func (s *Semaphore) Available() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.permits
}

// WaitingCount reports the number of tasks queued for a permit.
func (s *Semaphore) WaitingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.waiters)
}
