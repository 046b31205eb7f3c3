package scheduler

import (
	"testing"
	"time"

	"raya/internal/taskid"
)

func TestTimerWheelReadyOrdersByWakeTime(t *testing.T) {
	w := NewTimerWheel()
	base := time.Now()

	late := taskid.Next()
	early := taskid.Next()
	w.Schedule(late, base.Add(100*time.Millisecond))
	w.Schedule(early, base.Add(10*time.Millisecond))

	ready := w.Ready(base.Add(50 * time.Millisecond))
	if len(ready) != 1 || ready[0] != early {
		t.Fatalf("Ready() = %v, want only the earlier task", ready)
	}

	ready = w.Ready(base.Add(200 * time.Millisecond))
	if len(ready) != 1 || ready[0] != late {
		t.Fatalf("Ready() = %v, want the remaining later task", ready)
	}
}

func TestTimerWheelCancel(t *testing.T) {
	w := NewTimerWheel()
	task := taskid.Next()
	w.Schedule(task, time.Now().Add(10*time.Millisecond))
	w.Cancel(task)

	ready := w.Ready(time.Now().Add(time.Second))
	if len(ready) != 0 {
		t.Fatalf("Ready() after Cancel = %v, want empty", ready)
	}
}

func TestTimerWheelRescheduleReplaces(t *testing.T) {
	w := NewTimerWheel()
	task := taskid.Next()
	base := time.Now()
	w.Schedule(task, base.Add(time.Hour))
	w.Schedule(task, base.Add(time.Millisecond))

	next, ok := w.NextWake()
	if !ok {
		t.Fatal("expected a pending wake time")
	}
	if next.After(base.Add(time.Second)) {
		t.Fatalf("NextWake = %v, want the rescheduled earlier time", next)
	}

	ready := w.Ready(base.Add(time.Second))
	if len(ready) != 1 {
		t.Fatalf("Ready() = %v, want exactly one entry (no duplicate)", ready)
	}
}
