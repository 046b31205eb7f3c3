package syncprim

import "raya/internal/taskid"

// Guard is the RAII-style counterpart of the original's MutexGuard: it
// wraps a locked Mutex and unlocks exactly once, either explicitly via
// Unlock or implicitly when the caller's defer runs. Go has no
// destructors, so "auto-unlock on drop" becomes "auto-unlock on
// deferred Guard.Unlock()" — callers write
//
//	guard, blocked := mu.LockGuard(self)
//	if blocked { ... suspend ... }
//	defer guard.Unlock()
//
// the same way the teacher's code defers cleanup after acquiring a
// resource.
type Guard struct {
	mutex    *Mutex
	task     taskid.ID
	unlocked bool
}

// LockGuard acquires the mutex for task and wraps it in a Guard. The
// bool result is true when the lock was NOT acquired (the caller must
// suspend task with BlockReason MutexLock{mutex_id} and retry later);
// in that case the returned Guard is nil.
func (m *Mutex) LockGuard(task taskid.ID) (guard *Guard, blocked bool) {
	if !m.TryLock(task) {
		return nil, true
	}
	return &Guard{mutex: m, task: task}, false
}

// Unlock releases the mutex if this guard has not already done so,
// returning the next task to resume (taskid.None if no one was
// waiting). Safe to call more than once; only the first call has an
// effect, mirroring the original's unlocked flag.
func (g *Guard) Unlock() (taskid.ID, error) {
	if g.unlocked {
		return taskid.None, nil
	}
	g.unlocked = true
	return g.mutex.Unlock(g.task)
}

// Task returns the task the guard was created for.
func (g *Guard) Task() taskid.ID { return g.task }
