package scheduler

import (
	"sync"
	"testing"
	"time"
)

func TestPoolRunsSubmittedTask(t *testing.T) {
	var mu sync.Mutex
	ran := make(map[uint64]bool)

	pool := NewPool(2, func(task *Task) {
		mu.Lock()
		ran[uint64(task.ID())] = true
		mu.Unlock()
		task.SetState(Completed)
	})
	pool.Start()
	defer pool.Stop()

	task := New(1, testPool(), 1000)
	pool.Submit(task)

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		done := ran[uint64(task.ID())]
		mu.Unlock()
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for submitted task to run")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPoolRequeuesReadyTask(t *testing.T) {
	var mu sync.Mutex
	runs := 0

	pool := NewPool(1, func(task *Task) {
		mu.Lock()
		runs++
		n := runs
		mu.Unlock()
		if n < 3 {
			task.SetState(Ready)
		} else {
			task.SetState(Completed)
		}
	})
	pool.Start()
	defer pool.Stop()

	task := New(1, testPool(), 1000)
	pool.Submit(task)

	deadline := time.Now().Add(time.Second)
	for {
		mu.Lock()
		n := runs
		mu.Unlock()
		if n >= 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out: ran %d times, want at least 3", n)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPoolStealingDrainsAllTasks(t *testing.T) {
	var mu sync.Mutex
	completed := 0
	const numTasks = 20

	pool := NewPool(4, func(task *Task) {
		mu.Lock()
		completed++
		mu.Unlock()
		task.SetState(Completed)
	})
	pool.Start()
	defer pool.Stop()

	for i := 0; i < numTasks; i++ {
		pool.Submit(New(1, testPool(), 1000))
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := completed
		mu.Unlock()
		if n == numTasks {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("completed %d/%d tasks before timeout", n, numTasks)
		}
		time.Sleep(time.Millisecond)
	}
}
