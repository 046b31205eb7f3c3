package scheduler

import "testing"

func TestRegistryRegisterGetRemove(t *testing.T) {
	r := NewRegistry()
	task := New(1, testPool(), 1000)
	r.Register(task)

	if got := r.Get(task.ID()); got != task {
		t.Fatalf("Get returned %v, want %v", got, task)
	}

	r.Remove(task.ID())
	if got := r.Get(task.ID()); got != nil {
		t.Fatalf("Get after Remove = %v, want nil", got)
	}
}

func TestRegistryRunningFiltersByState(t *testing.T) {
	r := NewRegistry()
	running := New(1, testPool(), 1000)
	running.SetState(Running)
	suspended := New(1, testPool(), 1000)
	suspended.SetState(Suspended)

	r.Register(running)
	r.Register(suspended)

	got := r.Running()
	if len(got) != 1 || got[0].ID() != running.ID() {
		t.Fatalf("Running() = %v, want only the running task", got)
	}
}

func TestRegistryAll(t *testing.T) {
	r := NewRegistry()
	a := New(1, testPool(), 1000)
	b := New(1, testPool(), 1000)
	r.Register(a)
	r.Register(b)

	if len(r.All()) != 2 {
		t.Fatalf("All() length = %d, want 2", len(r.All()))
	}
}
