package vmctx

import (
	"encoding/binary"
	"testing"
	"time"

	"raya/internal/interp"
	"raya/internal/module"
	"raya/internal/native"
	"raya/internal/rtobject"
	"raya/internal/taskid"
	"raya/value"
)

// asm is the same small bytecode builder internal/interp's own tests
// use, re-declared here since it operates on interp's exported Opcode
// type and isn't worth exporting just for test code.
type asm struct {
	buf []byte
}

func (a *asm) op(op interp.Opcode) *asm {
	a.buf = append(a.buf, byte(op))
	return a
}

func (a *asm) u8(v uint8) *asm {
	a.buf = append(a.buf, v)
	return a
}

func (a *asm) u16(v uint16) *asm {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	a.buf = append(a.buf, b[:]...)
	return a
}

func (a *asm) u32(v uint32) *asm {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	a.buf = append(a.buf, b[:]...)
	return a
}

func (a *asm) bytes() []byte { return a.buf }

func TestSpawnCompletesArithmetic(t *testing.T) {
	code := (&asm{}).
		op(interp.ConstI32).u32(0).
		op(interp.ConstI32).u32(1).
		op(interp.Iadd).
		op(interp.ConstI32).u32(2).
		op(interp.Imul).
		op(interp.Return).
		bytes()

	mod := &module.Module{
		Name: "arith",
		Pool: module.ConstantPool{Integers: []int32{2, 3, 4}},
		Functions: []module.Function{
			{Name: "main", Code: code},
		},
	}

	vm := New(mod, native.NewRegistry(), Config{Workers: 2})
	vm.Start()
	defer vm.Stop()

	id := vm.Spawn(0, nil)

	v, err := waitTerminal(t, vm, id)
	if err != nil {
		t.Fatalf("task failed: %v", err)
	}
	if got := value.UnboxI32(v); got != 20 {
		t.Fatalf("got %d, want 20", got)
	}
}

func TestSleepWakesViaTimerWheel(t *testing.T) {
	code := (&asm{}).
		op(interp.ConstI32).u32(0). // 5ms
		op(interp.Sleep).
		op(interp.ConstI32).u32(1). // 99
		op(interp.Return).
		bytes()

	mod := &module.Module{
		Name: "sleeper",
		Pool: module.ConstantPool{Integers: []int32{5, 99}},
		Functions: []module.Function{
			{Name: "main", Code: code},
		},
	}

	vm := New(mod, native.NewRegistry(), Config{Workers: 2})
	vm.Start()
	defer vm.Stop()

	id := vm.Spawn(0, nil)

	v, err := waitTerminal(t, vm, id)
	if err != nil {
		t.Fatalf("task failed: %v", err)
	}
	if got := value.UnboxI32(v); got != 99 {
		t.Fatalf("got %d, want 99", got)
	}
}

func TestChannelPingPong(t *testing.T) {
	// sender(ch): ch <- 42; return null
	senderCode := (&asm{}).
		op(interp.LoadLocal).u16(0).
		op(interp.ConstI32).u32(0).
		op(interp.ChanSend).
		op(interp.Pop).
		op(interp.ConstNull).
		op(interp.Return).
		bytes()

	// receiver(ch): v, ok := <-ch; return v
	receiverCode := (&asm{}).
		op(interp.LoadLocal).u16(0).
		op(interp.ChanRecv).
		op(interp.Pop).
		op(interp.Return).
		bytes()

	// main(): ch := new_channel(0); spawn sender(ch); t := spawn
	// receiver(ch); return await t
	mainCode := (&asm{}).
		op(interp.NewChannel).u16(0).
		op(interp.Dup).
		op(interp.Spawn).u32(1).u8(1).
		op(interp.Pop).
		op(interp.Spawn).u32(2).u8(1).
		op(interp.Await).
		op(interp.Return).
		bytes()

	mod := &module.Module{
		Name: "pingpong",
		Pool: module.ConstantPool{Integers: []int32{42}},
		Functions: []module.Function{
			{Name: "main", Code: mainCode},
			{Name: "sender", LocalCount: 1, Code: senderCode},
			{Name: "receiver", LocalCount: 1, Code: receiverCode},
		},
	}

	vm := New(mod, native.NewRegistry(), Config{Workers: 4})
	vm.Start()
	defer vm.Stop()

	id := vm.Spawn(0, nil)

	v, err := waitTerminal(t, vm, id)
	if err != nil {
		t.Fatalf("task failed: %v", err)
	}
	if got := value.UnboxI32(v); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

func TestMutexFIFOFairness(t *testing.T) {
	// incrementer(mutex): lock(mutex); g := global[0]; global[0] = g+1;
	// unlock(mutex); return null
	incCode := (&asm{}).
		op(interp.LoadLocal).u16(0).
		op(interp.MutexLock).
		op(interp.Pop).
		op(interp.LoadGlobal).u32(0).
		op(interp.ConstI32).u32(1). // pool index 1 == 1
		op(interp.Iadd).
		op(interp.StoreGlobal).u32(0).
		op(interp.LoadLocal).u16(0).
		op(interp.MutexUnlock).
		op(interp.ConstNull).
		op(interp.Return).
		bytes()

	// main(): global[0] = 0; m := new_mutex(); spawn all n incrementers
	// up front (so they genuinely contend for m) storing each task
	// handle in its own local, then await them one by one; return
	// global[0].
	const n = 5
	asmMain := &asm{}
	asmMain.op(interp.ConstI32).u32(0) // pool index 0 == 0
	asmMain.op(interp.StoreGlobal).u32(0)
	asmMain.op(interp.NewMutex)
	for i := 0; i < n; i++ {
		asmMain.op(interp.Dup)
		asmMain.op(interp.Spawn).u32(1).u8(1)
		asmMain.op(interp.StoreLocal).u16(uint16(i))
	}
	asmMain.op(interp.Pop) // drop the mutex handle
	for i := 0; i < n; i++ {
		asmMain.op(interp.LoadLocal).u16(uint16(i))
		asmMain.op(interp.Await)
		asmMain.op(interp.Pop)
	}
	asmMain.op(interp.LoadGlobal).u32(0)
	asmMain.op(interp.Return)
	mainCode := asmMain.bytes()

	mod := &module.Module{
		Name: "mutexfifo",
		Pool: module.ConstantPool{Integers: []int32{0, 1}},
		Functions: []module.Function{
			{Name: "main", LocalCount: n, Code: mainCode},
			{Name: "incrementer", LocalCount: 1, Code: incCode},
		},
	}

	vm := New(mod, native.NewRegistry(), Config{Workers: 4})
	vm.Start()
	defer vm.Stop()

	id := vm.Spawn(0, nil)

	v, err := waitTerminal(t, vm, id)
	if err != nil {
		t.Fatalf("task failed: %v", err)
	}
	if got := value.UnboxI32(v); got != n {
		t.Fatalf("got %d, want %d", got, n)
	}
}

func TestReflectResolvesClassAndAncestry(t *testing.T) {
	mod := &module.Module{
		Name: "zoo",
		Functions: []module.Function{
			{Name: "Animal.speak"},
			{Name: "Dog.speak"},
		},
		Classes: []module.Class{
			{Name: "Animal", FieldCount: 1, ParentID: -1, Methods: []module.Method{{Slot: 0, FunctionID: 0}}},
			{Name: "Dog", FieldCount: 2, ParentID: 0, Methods: []module.Method{{Slot: 0, FunctionID: 1}}},
		},
	}

	vm := New(mod, native.NewRegistry(), Config{Workers: 2})
	vm.Start()
	defer vm.Stop()

	dogID, ok := mod.ClassIndexByName("Dog")
	if !ok {
		t.Fatal("expected Dog class")
	}
	dog, err := rtobject.NewInstance(vm.Heap(), dogID, 2)
	if err != nil {
		t.Fatalf("NewInstance: %v", err)
	}

	classID, ok := vm.ClassOf(dog)
	if !ok || classID != dogID {
		t.Fatalf("ClassOf = %d,%v want %d,true", classID, ok, dogID)
	}
	animalID, _ := mod.ClassIndexByName("Animal")
	if !vm.IsInstanceOf(dog, animalID) {
		t.Fatal("a Dog should be an instance of Animal")
	}

	md, ok := vm.Reflect.ClassByName("Dog")
	if !ok {
		t.Fatal("expected Dog metadata")
	}
	if len(md.Methods) != 1 || md.Methods[0].Name != "Dog.speak" {
		t.Fatalf("Dog vtable = %+v, want overridden speak", md.Methods)
	}
}

// waitTerminal polls TaskResult until id reaches Completed or Failed,
// the way an embedder blocks on a top-level task without a native
// wait primitive of its own.
func waitTerminal(t *testing.T, vm *VM, id taskid.ID) (value.Value, error) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		v, done, err := vm.TaskResult(id)
		if done {
			return v, err
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("task never reached a terminal state")
	return value.Null(), nil
}
