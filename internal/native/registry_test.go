package native

import (
	"testing"

	"raya/value"
)

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	id := r.Register("println", func(ctx Context, args []value.Value) CallResult {
		return Null()
	})
	if id != 0 {
		t.Fatalf("first registration id = %d, want 0", id)
	}

	fn, ok := r.ByName("println")
	if !ok || fn == nil {
		t.Fatal("expected println to resolve by name")
	}

	fn2, ok := r.ByID(id)
	if !ok || fn2 == nil {
		t.Fatal("expected println to resolve by id")
	}

	gotID, ok := r.IDOf("println")
	if !ok || gotID != id {
		t.Fatalf("IDOf = %d, %v, want %d, true", gotID, ok, id)
	}
}

func TestRegistryDuplicateNamePanics(t *testing.T) {
	r := NewRegistry()
	r.Register("dup", func(ctx Context, args []value.Value) CallResult { return Null() })

	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	r.Register("dup", func(ctx Context, args []value.Value) CallResult { return Null() })
}

func TestRegistryNamesInIDOrder(t *testing.T) {
	r := NewRegistry()
	r.Register("a", func(ctx Context, args []value.Value) CallResult { return Null() })
	r.Register("b", func(ctx Context, args []value.Value) CallResult { return Null() })

	names := r.Names()
	if len(names) != 2 || names[0] != "a" || names[1] != "b" {
		t.Fatalf("Names() = %v, want [a b]", names)
	}
}

func TestRegistryUnknownLookupsFail(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.ByName("missing"); ok {
		t.Fatal("expected ByName for unregistered name to fail")
	}
	if _, ok := r.ByID(5); ok {
		t.Fatal("expected ByID for out-of-range id to fail")
	}
}
