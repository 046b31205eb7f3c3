package gcheap

import (
	"sync"
	"testing"
	"time"

	"raya/value"
)

var testTypeID = RegisterType()

// chainObj is a minimal GcObject whose single field may point at another
// chainObj, used to exercise pointer-map tracing.
type chainObj struct {
	hdr  Header
	next value.Value
}

func (c *chainObj) GcHeader() *Header       { return &c.hdr }
func (c *chainObj) PointerMap() PointerMap  { return AllPointers(1) }
func (c *chainObj) GcFields() []value.Value { return []value.Value{c.next} }

func allocChain(t *testing.T, h *Heap, next value.Value) value.Value {
	t.Helper()
	v, err := h.Allocate(&chainObj{next: next}, testTypeID, 32)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	return v
}

func TestCollectFreesUnreachable(t *testing.T) {
	h := NewHeap(1, 0)
	reachable := allocChain(t, h, 0)
	_ = allocChain(t, h, 0) // unreachable from roots

	if h.Count() != 2 {
		t.Fatalf("expected 2 live objects, got %d", h.Count())
	}

	freed := h.Collect([]value.Value{reachable})
	if freed != 1 {
		t.Errorf("expected 1 object freed, got %d", freed)
	}
	if h.Count() != 1 {
		t.Errorf("expected 1 live object after collect, got %d", h.Count())
	}
	if _, ok := h.Lookup(reachable); !ok {
		t.Error("reachable object should have survived collection")
	}
}

func TestCollectPreservesChain(t *testing.T) {
	h := NewHeap(1, 0)
	tail := allocChain(t, h, 0)
	head := allocChain(t, h, tail)

	freed := h.Collect([]value.Value{head})
	if freed != 0 {
		t.Errorf("expected nothing freed, got %d", freed)
	}
	if _, ok := h.Lookup(tail); !ok {
		t.Error("tail reachable via head should have survived")
	}
}

func TestHeapExhausted(t *testing.T) {
	h := NewHeap(1, 16)
	_, err := h.Allocate(&chainObj{}, testTypeID, 32)
	if err == nil {
		t.Fatal("expected HeapExhausted error")
	}
	if _, ok := err.(*HeapExhausted); !ok {
		t.Errorf("expected *HeapExhausted, got %T", err)
	}
}

func TestSafepointCoordinatorStopsTheWorld(t *testing.T) {
	coord := NewSafepointCoordinator()
	h := NewHeap(1, 0)
	var obj value.Value

	var wg sync.WaitGroup
	stopPolling := make(chan struct{})
	token := coord.Register(func() []value.Value {
		if obj == 0 {
			return nil
		}
		return []value.Value{obj}
	})
	defer coord.Unregister(token)

	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stopPolling:
				return
			default:
				coord.Poll()
				time.Sleep(time.Millisecond)
			}
		}
	}()

	obj = allocChain(t, h, 0)
	freed := coord.RequestCollection([]*Heap{h})
	if freed != 0 {
		t.Errorf("rooted object should not be freed, got freed=%d", freed)
	}

	close(stopPolling)
	wg.Wait()
}
