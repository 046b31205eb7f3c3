package interp

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"raya/internal/gcheap"
	"raya/internal/module"
	"raya/internal/native"
	"raya/internal/rtobject"
	"raya/internal/scheduler"
	"raya/internal/stackframe"
	"raya/internal/syncprim"
	"raya/internal/taskid"
	"raya/value"
)

// asm is a small bytecode builder so test functions read as the
// sequence of instructions they assemble rather than raw byte math.
type asm struct {
	buf []byte
}

func (a *asm) op(op Opcode) *asm {
	a.buf = append(a.buf, byte(op))
	return a
}

func (a *asm) regOp(op RegOpcode) *asm {
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

func (a *asm) i32(v int32) *asm { return a.u32(uint32(v)) }

func (a *asm) i16(v int16) *asm { return a.u16(uint16(v)) }

func (a *asm) bytes() []byte { return a.buf }

func newInterp(mod *module.Module) *Interp {
	heap := gcheap.NewHeap(1, 0)
	natives := native.NewRegistry()
	return New(mod, heap, natives)
}

func TestCallSyncArithmetic(t *testing.T) {
	code := (&asm{}).
		op(ConstI32).u32(0).
		op(ConstI32).u32(1).
		op(Iadd).
		op(ConstI32).u32(2).
		op(Imul).
		op(Return).
		bytes()

	mod := &module.Module{
		Pool: module.ConstantPool{Integers: []int32{2, 3, 4}},
		Functions: []module.Function{
			{Name: "main", LocalCount: 0, RegCount: 0, Code: code},
		},
	}
	ip := newInterp(mod)

	result, err := ip.CallSync(0, nil)
	if err != nil {
		t.Fatalf("CallSync: %v", err)
	}
	if got := value.UnboxI32(result); got != 20 {
		t.Fatalf("got %d, want 20", got)
	}
}

func TestCallSyncCallsAnotherFunction(t *testing.T) {
	caller := (&asm{}).
		op(ConstI32).u32(0). // 7
		op(Call).u32(1).u8(1).
		op(Return).
		bytes()
	callee := (&asm{}).
		op(LoadLocal).u16(0).
		op(ConstI32).u32(1). // 1
		op(Iadd).
		op(Return).
		bytes()

	mod := &module.Module{
		Pool: module.ConstantPool{Integers: []int32{7, 1}},
		Functions: []module.Function{
			{Name: "caller", Code: caller},
			{Name: "callee", ParamCount: 1, LocalCount: 1, Code: callee},
		},
	}
	ip := newInterp(mod)

	result, err := ip.CallSync(0, nil)
	if err != nil {
		t.Fatalf("CallSync: %v", err)
	}
	if got := value.UnboxI32(result); got != 8 {
		t.Fatalf("got %d, want 8", got)
	}
}

func TestTryCatchDeliversThrownValue(t *testing.T) {
	var a asm
	a.op(Try)
	a.i32(6) // catch offset, resolved below
	a.i32(-1)
	tryOperandsEnd := len(a.buf)
	a.op(ConstStr).u32(0)
	a.op(Throw)
	catchLabel := len(a.buf)
	a.op(Return)

	if want := catchLabel - tryOperandsEnd; want != 6 {
		t.Fatalf("test bug: catch offset should be %d, wrote 6", want)
	}

	mod := &module.Module{
		Pool: module.ConstantPool{Strings: []string{"boom"}},
		Functions: []module.Function{
			{Name: "main", Code: a.bytes()},
		},
	}
	ip := newInterp(mod)

	result, err := ip.CallSync(0, nil)
	if err != nil {
		t.Fatalf("CallSync: %v", err)
	}
	s, ok := rtobject.AsString(ip.Heap, result)
	if !ok {
		t.Fatalf("result is not a string: %#v", result)
	}
	if s.Data != "boom" {
		t.Fatalf("got %q, want %q", s.Data, "boom")
	}
}

func TestUncaughtThrowFails(t *testing.T) {
	code := (&asm{}).
		op(ConstStr).u32(0).
		op(Throw).
		bytes()
	mod := &module.Module{
		Pool: module.ConstantPool{Strings: []string{"oops"}},
		Functions: []module.Function{
			{Name: "main", Code: code},
		},
	}
	ip := newInterp(mod)

	_, err := ip.CallSync(0, nil)
	var ut *UncaughtThrow
	if !errors.As(err, &ut) {
		t.Fatalf("got err %v, want *UncaughtThrow", err)
	}
	s, ok := rtobject.AsString(ip.Heap, ut.Value)
	if !ok || s.Data != "oops" {
		t.Fatalf("uncaught value = %#v, want string %q", ut.Value, "oops")
	}
}

// TestPreemptionSuspendsOnNextDispatch models what PreemptMonitor does
// to a tight backward-branching loop it has flagged: by the time the
// flag is set, the loop body (here a constant and a return, since the
// check fires before any instruction of the flagged dispatch runs) has
// not yet produced a result, and the task must come back as a bare
// suspension rather than run to completion.
func TestPreemptionSuspendsOnNextDispatch(t *testing.T) {
	code := (&asm{}).
		op(ConstI32).u32(0).
		op(Return).
		bytes()
	mod := &module.Module{
		Pool: module.ConstantPool{Integers: []int32{1}},
		Functions: []module.Function{
			{Name: "main", Code: code},
		},
	}
	ip := newInterp(mod)
	task := newTestTask(1)
	task.RequestPreempt()
	rt := &fakeRuntime{}

	_, outcome, err := ip.Start(task, rt, 0, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if outcome != OutcomeSuspended {
		t.Fatalf("got outcome %v, want OutcomeSuspended", outcome)
	}
	if task.IsPreemptRequested() {
		t.Fatal("preempt flag should have been cleared once observed")
	}
	if task.SuspendReason.Kind != scheduler.BlockNone {
		t.Fatalf("suspend reason = %v, want BlockNone", task.SuspendReason.Kind)
	}
}

func TestCancelRaisesUncaughtWhenNoHandler(t *testing.T) {
	code := (&asm{}).
		op(ConstI32).u32(0).
		op(Return).
		bytes()
	mod := &module.Module{
		Pool: module.ConstantPool{Integers: []int32{1}},
		Functions: []module.Function{
			{Name: "main", Code: code},
		},
	}
	ip := newInterp(mod)
	task := newTestTask(1)
	task.RequestCancel()
	rt := &fakeRuntime{}

	_, outcome, err := ip.Start(task, rt, 0, nil)
	if outcome != OutcomeFailed {
		t.Fatalf("got outcome %v, want OutcomeFailed", outcome)
	}
	var ut *UncaughtThrow
	if !errors.As(err, &ut) {
		t.Fatalf("got err %v, want *UncaughtThrow", err)
	}
	s, ok := rtobject.AsString(ip.Heap, ut.Value)
	if !ok || s.Data != CancelledMessage {
		t.Fatalf("cancelled value = %#v, want %q", ut.Value, CancelledMessage)
	}
	if task.IsCancelRequested() {
		t.Fatal("cancel flag should have been cleared once observed")
	}
}

func TestCancelIsCatchableAcrossSuspension(t *testing.T) {
	var a asm
	a.op(Try)
	a.i32(1) // catch offset, resolved below
	a.i32(-1)
	tryOperandsEnd := len(a.buf)
	a.op(Yield)
	catchLabel := len(a.buf)
	a.op(Return)

	if want := catchLabel - tryOperandsEnd; want != 1 {
		t.Fatalf("test bug: catch offset should be %d, wrote 1", want)
	}

	mod := &module.Module{
		Functions: []module.Function{
			{Name: "main", Code: a.bytes()},
		},
	}
	ip := newInterp(mod)
	task := newTestTask(1)
	rt := &fakeRuntime{}

	_, outcome, err := ip.Start(task, rt, 0, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if outcome != OutcomeSuspended {
		t.Fatalf("got outcome %v, want OutcomeSuspended (parked at Yield)", outcome)
	}

	task.RequestCancel()
	result, outcome, err := ip.Resume(task, rt, value.Null())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("got outcome %v, want OutcomeCompleted", outcome)
	}
	s, ok := rtobject.AsString(ip.Heap, result)
	if !ok || s.Data != CancelledMessage {
		t.Fatalf("result = %#v, want %q", result, CancelledMessage)
	}
}

func TestRegisterModeArithmeticAndCall(t *testing.T) {
	regCode := (&asm{}).
		regOp(RLoadConstI32).u8(0).u32(0). // r0 = 10
		regOp(RLoadConstI32).u8(1).u32(1). // r1 = 32
		regOp(RIadd).u8(2).u8(0).u8(1).    // r2 = r0 + r1
		regOp(RReturn).u8(2).
		bytes()

	mod := &module.Module{
		Pool: module.ConstantPool{Integers: []int32{10, 32}},
		Functions: []module.Function{
			{Name: "regmain", RegCount: 3, Code: regCode, Register: true},
		},
	}
	ip := newInterp(mod)

	result, err := ip.CallSync(0, nil)
	if err != nil {
		t.Fatalf("CallSync: %v", err)
	}
	if got := value.UnboxI32(result); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
}

func TestRegisterModeCallsStackModeFunction(t *testing.T) {
	regCaller := (&asm{}).
		regOp(RLoadConstI32).u8(0).u32(0). // r0 = arg
		regOp(RCall).u8(1).u32(1).u8(0).u8(1).
		regOp(RReturn).u8(1).
		bytes()
	stackCallee := (&asm{}).
		op(LoadLocal).u16(0).
		op(ConstI32).u32(1).
		op(Iadd).
		op(Return).
		bytes()

	mod := &module.Module{
		Pool: module.ConstantPool{Integers: []int32{5, 1}},
		Functions: []module.Function{
			{Name: "regcaller", RegCount: 2, Code: regCaller, Register: true},
			{Name: "callee", ParamCount: 1, LocalCount: 1, Code: stackCallee},
		},
	}
	ip := newInterp(mod)

	result, err := ip.CallSync(0, nil)
	if err != nil {
		t.Fatalf("CallSync: %v", err)
	}
	if got := value.UnboxI32(result); got != 6 {
		t.Fatalf("got %d, want 6", got)
	}
}

// fakeRuntime is a minimal Runtime double: every method the dispatch
// loop can reach is implemented, but only the ones exercised by a given
// test record their call for assertions.
type fakeRuntime struct {
	sleptTask  taskid.ID
	sleptAt    time.Time
	sleepCalls int
}

func (f *fakeRuntime) NewMutex() syncprim.MutexID                               { return 0 }
func (f *fakeRuntime) MutexTryLock(syncprim.MutexID, taskid.ID) bool            { return false }
func (f *fakeRuntime) MutexUnlock(syncprim.MutexID, taskid.ID) (taskid.ID, error) {
	return taskid.None, nil
}
func (f *fakeRuntime) MutexForceRelease(syncprim.MutexID) taskid.ID { return taskid.None }

func (f *fakeRuntime) NewSemaphore(int) syncprim.SemaphoreID                   { return 0 }
func (f *fakeRuntime) SemTryAcquire(syncprim.SemaphoreID, taskid.ID) bool      { return false }
func (f *fakeRuntime) SemRelease(syncprim.SemaphoreID) taskid.ID              { return taskid.None }

func (f *fakeRuntime) NewChannel(int) syncprim.ChannelID { return 0 }
func (f *fakeRuntime) ChannelTrySend(syncprim.ChannelID, taskid.ID, value.Value) (syncprim.SendOutcome, error) {
	return syncprim.SendOutcome{}, nil
}
func (f *fakeRuntime) ChannelTryReceive(syncprim.ChannelID, taskid.ID) syncprim.ReceiveOutcome {
	return syncprim.ReceiveOutcome{}
}
func (f *fakeRuntime) ChannelClose(syncprim.ChannelID) []taskid.ID { return nil }
func (f *fakeRuntime) ChannelIsClosed(syncprim.ChannelID) bool     { return false }

func (f *fakeRuntime) SpawnFunction(uint32, []value.Value) taskid.ID { return taskid.None }
func (f *fakeRuntime) WakeTask(taskid.ID)                            {}
func (f *fakeRuntime) TaskResult(taskid.ID) (value.Value, bool, error) {
	return value.Null(), false, nil
}
func (f *fakeRuntime) ScheduleSleep(task taskid.ID, wakeAt time.Time) {
	f.sleepCalls++
	f.sleptTask = task
	f.sleptAt = wakeAt
}
func (f *fakeRuntime) CancelTask(taskid.ID) {}

func (f *fakeRuntime) NativeCall(native.Context, int, []value.Value) native.CallResult {
	return native.Null()
}
func (f *fakeRuntime) ScheduleNativeWork(taskid.ID, native.IoRequest) {}

func newTestTask(contextID uint64) *scheduler.Task {
	pool := stackframe.NewPool(4, 32, 16, 8)
	return scheduler.New(contextID, pool, 0)
}

func TestSleepSuspendsAndSchedules(t *testing.T) {
	code := (&asm{}).
		op(ConstI32).u32(0). // 50ms
		op(Sleep).
		op(Return).
		bytes()
	mod := &module.Module{
		Pool: module.ConstantPool{Integers: []int32{50}},
		Functions: []module.Function{
			{Name: "main", Code: code},
		},
	}
	ip := newInterp(mod)
	task := newTestTask(1)
	rt := &fakeRuntime{}

	_, outcome, err := ip.Start(task, rt, 0, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if outcome != OutcomeSuspended {
		t.Fatalf("got outcome %v, want OutcomeSuspended", outcome)
	}
	if rt.sleepCalls != 1 {
		t.Fatalf("ScheduleSleep called %d times, want 1", rt.sleepCalls)
	}
	if task.State() != scheduler.Suspended {
		t.Fatalf("task state = %v, want Suspended", task.State())
	}
}

func TestResumeAfterSleepCompletes(t *testing.T) {
	code := (&asm{}).
		op(ConstI32).u32(0).
		op(Sleep).
		op(Return).
		bytes()
	mod := &module.Module{
		Pool: module.ConstantPool{Integers: []int32{1}},
		Functions: []module.Function{
			{Name: "main", Code: code},
		},
	}
	ip := newInterp(mod)
	task := newTestTask(1)
	rt := &fakeRuntime{}

	if _, outcome, err := ip.Start(task, rt, 0, nil); err != nil || outcome != OutcomeSuspended {
		t.Fatalf("Start: outcome=%v err=%v", outcome, err)
	}

	result, outcome, err := ip.Resume(task, rt, value.Null())
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("got outcome %v, want OutcomeCompleted", outcome)
	}
	if !value.IsNull(result) {
		t.Fatalf("got %#v, want null", result)
	}
}
