package gcheap

import (
	"fmt"
	"sync"

	"raya/value"
)

// HeapExhausted is returned by Allocate when a context's max_heap_bytes
// budget would be exceeded. The interpreter translates this into a
// catchable runtime exception (§7: Allocation errors).
type HeapExhausted struct {
	Requested uintptr
	Used      uint64
	Max       uint64
}

func (e *HeapExhausted) Error() string {
	return fmt.Sprintf("heap exhausted: used=%d max=%d requested=%d", e.Used, e.Max, e.Requested)
}

// Finalizer is implemented by object kinds that need cleanup when the
// sweeper frees them (e.g. releasing an OS-level handle a native module
// attached to the object). Most Raya types do not implement it.
type Finalizer interface {
	Finalize()
}

// Heap is the per-VmContext GC heap: a registry of live objects plus the
// mark/sweep tracer. Allocation takes the heap's own mutex (§5:
// "allocation takes that mutex"); tracing additionally requires the
// owning SafepointCoordinator to have stopped the world first.
type Heap struct {
	contextID uint64
	mu        sync.Mutex
	objects   map[ObjectID]GcObject
	nextID    uint64
	used      uint64
	maxBytes  uint64 // 0 = unbounded
}

// NewHeap creates an empty heap for the given VmContext. maxBytes of 0
// means unbounded, matching §5's "when no limit is set, the resource is
// unbounded".
func NewHeap(contextID uint64, maxBytes uint64) *Heap {
	return &Heap{
		contextID: contextID,
		objects:   make(map[ObjectID]GcObject),
		maxBytes:  maxBytes,
	}
}

// ContextID returns the owning context's id.
func (h *Heap) ContextID() uint64 { return h.contextID }

// UsedBytes reports current allocated bytes (best-effort accounting;
// callers supply the size at Allocate time).
func (h *Heap) UsedBytes() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

// Allocate registers a freshly constructed object with the heap,
// assigning it a fresh ObjectID and pointer-boxed Value. Allocate
// overwrites obj's whole Header: ContextID from the heap, TypeID from
// typeID, the new ID, and Size from size.
func (h *Heap) Allocate(obj GcObject, typeID TypeID, size uintptr) (value.Value, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.maxBytes != 0 && h.used+uint64(size) > h.maxBytes {
		return 0, &HeapExhausted{Requested: size, Used: h.used, Max: h.maxBytes}
	}

	h.nextID++
	id := ObjectID(h.nextID)
	*obj.GcHeader() = NewHeader(id, h.contextID, typeID, size)
	h.objects[id] = obj
	h.used += uint64(size)

	return value.BoxPtr(uintptr(id)), nil
}

// Lookup resolves a pointer Value to its live object, returning false if
// the object has since been swept.
func (h *Heap) Lookup(v value.Value) (GcObject, bool) {
	if !value.IsPtr(v) {
		return nil, false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	obj, ok := h.objects[ObjectID(value.UnboxPtr(v))]
	return obj, ok
}

// Count returns the number of live objects (diagnostic / test use).
func (h *Heap) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.objects)
}

// Collect performs one precise mark/sweep cycle: unmark all live
// objects, trace from roots, then sweep anything left unmarked,
// invoking Finalize on objects that implement Finalizer. The caller
// (SafepointCoordinator) must already have stopped every task touching
// this heap. Returns the count of objects freed.
func (h *Heap) Collect(roots []value.Value) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, obj := range h.objects {
		obj.GcHeader().Unmark()
	}

	var stack []value.Value
	stack = append(stack, roots...)
	for len(stack) > 0 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !value.IsPtr(v) {
			continue
		}
		obj, ok := h.objects[ObjectID(value.UnboxPtr(v))]
		if !ok {
			continue // stale handle — referent already gone, no strong reference needed
		}
		if obj.GcHeader().IsMarked() {
			continue
		}
		obj.GcHeader().Mark()
		obj.PointerMap().Walk(childFields(obj), func(child value.Value) {
			stack = append(stack, child)
		})
	}

	freed := 0
	for id, obj := range h.objects {
		if obj.GcHeader().IsMarked() {
			continue
		}
		if f, ok := obj.(Finalizer); ok {
			f.Finalize()
		}
		h.used -= uint64(obj.GcHeader().Size)
		delete(h.objects, id)
		freed++
	}
	return freed
}

// FieldsProvider is implemented by heap objects whose pointer map walks
// a Value field vector (objects, arrays, maps, tuples). Types with no
// pointers (strings, buffers) need not implement it.
type FieldsProvider interface {
	GcFields() []value.Value
}

func childFields(obj GcObject) []value.Value {
	if fp, ok := obj.(FieldsProvider); ok {
		return fp.GcFields()
	}
	return nil
}
