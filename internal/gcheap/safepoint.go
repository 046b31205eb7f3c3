package gcheap

import (
	"sync"

	"raya/value"
)

// RootProvider supplies the current root set for one worker's share of
// the world: its task's operand stack, call frames, register file. The
// coordinator calls this for every registered worker while the world is
// stopped, per §4.2's root union.
type RootProvider func() []value.Value

// SafepointCoordinator implements the stop-the-world protocol described
// in §4.2: interpreter loops poll Poll() at every backward branch and
// function entry; when a collection is requested, pollers block until
// every registered worker has reported in, at which point the GC thread
// traces and sweeps, then releases everyone.
//
// There is exactly one coordinator per VM (shared across all contexts'
// heaps, since a single stop-the-world pause naturally covers every
// context — tracing still only walks each heap's own objects).
type SafepointCoordinator struct {
	mu        sync.Mutex
	cond      *sync.Cond
	requested bool
	parked    int
	workers   int
	providers map[int]RootProvider
	nextID    int
	gen       uint64 // bumped each time a cycle completes, lets pollers detect staleness
}

// NewSafepointCoordinator creates a coordinator expecting no workers
// registered yet; call Register as each worker starts.
func NewSafepointCoordinator() *SafepointCoordinator {
	c := &SafepointCoordinator{providers: make(map[int]RootProvider)}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Register adds a worker's root provider and returns a token used to
// Unregister it when the worker exits (e.g. pool shrink, VM teardown).
func (c *SafepointCoordinator) Register(rp RootProvider) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nextID++
	id := c.nextID
	c.providers[id] = rp
	c.workers++
	return id
}

// Unregister removes a worker, e.g. because its task completed and it
// has no root contribution until it claims another.
func (c *SafepointCoordinator) Unregister(token int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.providers, token)
	c.workers--
	if c.requested {
		// A departing worker can't leave the pause short a participant.
		c.cond.Broadcast()
	}
}

// Poll must be called by the interpreter at every backward branch and
// function entry (§4.2). If a collection has been requested, the calling
// goroutine parks until the GC completes.
func (c *SafepointCoordinator) Poll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.requested {
		return
	}
	c.park()
}

// park is called with c.mu held; it increments the parked count,
// signals the GC thread that another worker is waiting, then sleeps
// until the generation advances.
func (c *SafepointCoordinator) park() {
	gen := c.gen
	c.parked++
	c.cond.Broadcast()
	for c.requested && c.gen == gen {
		c.cond.Wait()
	}
	c.parked--
}

// RequestCollection stops the world, traces and sweeps every heap in
// heaps using the registered workers' root providers (pooled together —
// a task's roots only matter to its own context's heap, but walking the
// union is harmless since pointer Values from a foreign context never
// resolve in Lookup), then resumes all workers. Returns total objects
// freed across all heaps.
//
// Safe to call with zero registered workers (e.g. a freshly constructed
// VM running no tasks yet); the pause then completes immediately.
func (c *SafepointCoordinator) RequestCollection(heaps []*Heap) int {
	c.mu.Lock()
	c.requested = true
	for c.parked < c.workers {
		c.cond.Wait()
	}

	roots := c.collectRoots()
	c.mu.Unlock()

	freed := 0
	for _, h := range heaps {
		freed += h.Collect(roots)
	}

	c.mu.Lock()
	c.requested = false
	c.gen++
	c.cond.Broadcast()
	c.mu.Unlock()

	return freed
}

func (c *SafepointCoordinator) collectRoots() []value.Value {
	var roots []value.Value
	for _, rp := range c.providers {
		if rp == nil {
			continue
		}
		roots = append(roots, rp()...)
	}
	return roots
}

// PendingRequest reports whether a collection is currently requested —
// used by tests and by diagnostics, not by the interpreter hot path
// (which should call Poll directly).
func (c *SafepointCoordinator) PendingRequest() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requested
}
