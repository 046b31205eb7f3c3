package syncprim

import (
	"testing"

	"raya/internal/taskid"
)

func TestSemaphoreAcquireRelease(t *testing.T) {
	s := NewSemaphore(NewSemaphoreID(), 2)
	t1, t2, t3 := taskid.Next(), taskid.Next(), taskid.Next()

	if !s.TryAcquire(t1) {
		t.Fatal("t1 should acquire immediately")
	}
	if !s.TryAcquire(t2) {
		t.Fatal("t2 should acquire immediately")
	}
	if s.TryAcquire(t3) {
		t.Fatal("t3 should block: no permits left")
	}
	if s.Available() != 0 {
		t.Errorf("Available() = %d, want 0", s.Available())
	}

	woken := s.Release()
	if woken != t3 {
		t.Errorf("Release should hand the permit directly to t3, got %v", woken)
	}
	if s.Available() != 0 {
		t.Errorf("Available() = %d, want 0 (handed directly, not counted)", s.Available())
	}
}

func TestSemaphoreReleaseWithNoWaitersIncrementsCount(t *testing.T) {
	s := NewSemaphore(NewSemaphoreID(), 0)
	if woken := s.Release(); woken != taskid.None {
		t.Errorf("Release with no waiters should return None, got %v", woken)
	}
	if s.Available() != 1 {
		t.Errorf("Available() = %d, want 1", s.Available())
	}
}

func TestSemaphoreFIFOWaiters(t *testing.T) {
	s := NewSemaphore(NewSemaphoreID(), 0)
	t1, t2 := taskid.Next(), taskid.Next()
	s.TryAcquire(t1)
	s.TryAcquire(t2)

	if got := s.Release(); got != t1 {
		t.Errorf("first release = %v, want t1", got)
	}
	if got := s.Release(); got != t2 {
		t.Errorf("second release = %v, want t2", got)
	}
}
