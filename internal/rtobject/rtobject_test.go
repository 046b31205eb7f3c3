package rtobject

import (
	"testing"

	"raya/internal/gcheap"
	"raya/value"
)

func TestStringRoundTrip(t *testing.T) {
	h := gcheap.NewHeap(1, 0)
	v, err := NewString(h, "hello")
	if err != nil {
		t.Fatalf("NewString: %v", err)
	}
	s, ok := AsString(h, v)
	if !ok || s.Data != "hello" {
		t.Fatalf("AsString = %v, %v, want hello, true", s, ok)
	}
}

func TestArrayTracedByCollect(t *testing.T) {
	h := gcheap.NewHeap(1, 0)
	sv, _ := NewString(h, "elem")
	av, err := NewArray(h, []value.Value{sv, value.BoxI32(7)})
	if err != nil {
		t.Fatalf("NewArray: %v", err)
	}

	freed := h.Collect([]value.Value{av})
	if freed != 0 {
		t.Fatalf("Collect freed %d roots reachable from array, want 0", freed)
	}
	if h.Count() != 2 {
		t.Fatalf("Count = %d, want 2 (array + string)", h.Count())
	}

	freed = h.Collect(nil)
	if freed != 2 {
		t.Fatalf("Collect with no roots freed %d, want 2", freed)
	}
}

func TestInstanceFieldsAreTraced(t *testing.T) {
	h := gcheap.NewHeap(1, 0)
	iv, err := NewInstance(h, 3, 2)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}
	inst, ok := AsInstance(h, iv)
	if !ok {
		t.Fatal("AsInstance failed")
	}
	sv, _ := NewString(h, "field0")
	inst.Fields[0] = sv

	if freed := h.Collect([]value.Value{iv}); freed != 0 {
		t.Fatalf("Collect freed %d, want 0 (string reachable via field)", freed)
	}
}

func TestClosureCapturesTraced(t *testing.T) {
	h := gcheap.NewHeap(1, 0)
	sv, _ := NewString(h, "captured")
	cv, err := NewClosure(h, 42, []value.Value{sv})
	if err != nil {
		t.Fatalf("NewClosure: %v", err)
	}
	c, ok := AsClosure(h, cv)
	if !ok || c.FunctionID != 42 {
		t.Fatalf("AsClosure = %v, %v", c, ok)
	}
	if freed := h.Collect([]value.Value{cv}); freed != 0 {
		t.Fatalf("Collect freed %d, want 0", freed)
	}
}

func TestTupleIsFixedSize(t *testing.T) {
	h := gcheap.NewHeap(1, 0)
	tv, err := NewTuple(h, []value.Value{value.BoxI32(1), value.BoxI32(2)})
	if err != nil {
		t.Fatalf("NewTuple: %v", err)
	}
	tup, ok := AsTuple(h, tv)
	if !ok || len(tup.Elems) != 2 {
		t.Fatalf("AsTuple = %v, %v", tup, ok)
	}
}

func TestAsStringRejectsWrongType(t *testing.T) {
	h := gcheap.NewHeap(1, 0)
	av, _ := NewArray(h, nil)
	if _, ok := AsString(h, av); ok {
		t.Fatal("AsString should reject a non-string pointer")
	}
}
