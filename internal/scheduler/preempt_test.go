package scheduler

import (
	"testing"
	"time"
)

func TestPreemptMonitorFlagsLongRunningTask(t *testing.T) {
	reg := NewRegistry()
	task := New(1, testPool(), 1000)
	task.SetState(Running)
	task.StartTime = time.Now().Add(-20 * time.Millisecond)
	reg.Register(task)

	mon := NewPreemptMonitor(reg, 5*time.Millisecond)
	mon.Start()
	defer mon.Stop()

	deadline := time.Now().Add(200 * time.Millisecond)
	for !task.IsPreemptRequested() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if !task.IsPreemptRequested() {
		t.Fatal("expected preemption to be requested for a long-running task")
	}
}

func TestPreemptMonitorIgnoresRecentTask(t *testing.T) {
	reg := NewRegistry()
	task := New(1, testPool(), 1000)
	task.SetState(Running)
	task.StartTime = time.Now()
	reg.Register(task)

	mon := NewPreemptMonitor(reg, DefaultPreemptThreshold)
	mon.Start()
	defer mon.Stop()

	time.Sleep(5 * time.Millisecond)
	if task.IsPreemptRequested() {
		t.Fatal("recently started task should not be preempted yet")
	}
}

func TestPreemptMonitorStartStop(t *testing.T) {
	mon := NewPreemptMonitor(NewRegistry(), DefaultPreemptThreshold)
	if mon.IsRunning() {
		t.Fatal("new monitor should not be running")
	}
	mon.Start()
	if !mon.IsRunning() {
		t.Fatal("expected monitor running after Start")
	}
	mon.Stop()
	if mon.IsRunning() {
		t.Fatal("expected monitor stopped after Stop")
	}
}
