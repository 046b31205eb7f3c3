package aot

import (
	"testing"

	"raya/internal/interp"
	"raya/internal/module"
)

func TestBuildNoSuspensionsIsDispatchPlusBody(t *testing.T) {
	code := (&asm{}).
		op(interp.ConstI32).u32(0).
		op(interp.Return).
		bytes()
	fn := &module.Function{Name: "const", Code: code}

	sm, err := Build(fn, 7)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if sm.Analysis.HasSuspensions {
		t.Fatalf("expected no suspensions")
	}
	if len(sm.Blocks) != 2 || sm.Blocks[0].Kind != SmDispatch || sm.Blocks[1].Kind != SmBody {
		t.Fatalf("got blocks %+v, want [dispatch body]", sm.Blocks)
	}
}

func TestBuildAwaitInsertsSaveRestoreAroundSuspensionPoint(t *testing.T) {
	code := (&asm{}).
		op(interp.LoadLocal).u16(0).
		op(interp.Await).
		op(interp.Return).
		bytes()
	fn := &module.Function{Name: "joiner", LocalCount: 1, Code: code}

	sm, err := Build(fn, 3)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var kinds []SmBlockKind
	for _, b := range sm.Blocks {
		kinds = append(kinds, b.Kind)
	}
	want := []SmBlockKind{SmDispatch, SmBody, SmSaveState, SmRestoreState, SmBody}
	if len(kinds) != len(want) {
		t.Fatalf("got %v blocks, want shape %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("block %d: got %v, want %v (full: %v)", i, kinds[i], want[i], kinds)
		}
	}
}

func TestBuildAotCallInsertsChildReentry(t *testing.T) {
	code := (&asm{}).
		op(interp.Call).u32(1).u8(0).
		op(interp.Return).
		bytes()
	fn := &module.Function{Name: "caller", Code: code}

	sm, err := Build(fn, 0)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	var sawChildReentry, sawPropagate bool
	for _, b := range sm.Blocks {
		if b.Kind == SmChildReentry {
			sawChildReentry = true
		}
		if b.Kind == SmPropagateSuspend {
			sawPropagate = true
		}
	}
	if !sawChildReentry || !sawPropagate {
		t.Fatalf("expected child-reentry and propagate-suspend blocks, got %+v", sm.Blocks)
	}
}
