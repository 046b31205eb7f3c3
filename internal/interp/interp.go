package interp

import (
	"raya/internal/gcheap"
	"raya/internal/module"
	"raya/internal/native"
	"raya/internal/reflect"
	"raya/internal/rtobject"
	"raya/internal/scheduler"
	"raya/internal/stackframe"
	"raya/internal/taskid"
	"raya/value"
)

// Outcome reports how a Run/Resume call ended.
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeSuspended
	OutcomeFailed
)

// Interp is the bytecode interpreter for a single loaded module: opcode
// dispatch over whatever ExecutionContext it's handed, a native-call
// bridge, and the global/static storage every Task sharing this module
// sees.
type Interp struct {
	Mod     *module.Module
	Heap    *gcheap.Heap
	Natives *native.Registry

	// Safepoint, when set, is polled once per dispatched instruction
	// (a conservative superset of "every backward branch and function
	// entry": Poll is a cheap no-op whenever no collection is pending,
	// so polling more often than strictly required costs nothing on
	// the common path and needs no bookkeeping for which opcodes count
	// as a branch). vmctx sets this once the safepoint coordinator
	// shared across a VM's contexts exists.
	Safepoint *gcheap.SafepointCoordinator

	// Reflect is the class-metadata introspection store a native
	// function can query through native.Context; vmctx sets this once
	// alongside Safepoint, from the same entry module this Interp runs.
	Reflect *reflect.Registry

	globals []value.Value
	statics []value.Value
}

// New creates an interpreter bound to a loaded module, heap, and native
// registry.
func New(mod *module.Module, heap *gcheap.Heap, natives *native.Registry) *Interp {
	return &Interp{Mod: mod, Heap: heap, Natives: natives}
}

func (ip *Interp) global(idx int) value.Value {
	if idx < 0 || idx >= len(ip.globals) {
		return value.Null()
	}
	return ip.globals[idx]
}

func (ip *Interp) setGlobal(idx int, v value.Value) {
	for idx >= len(ip.globals) {
		ip.globals = append(ip.globals, value.Null())
	}
	ip.globals[idx] = v
}

func (ip *Interp) static(idx int) value.Value {
	if idx < 0 || idx >= len(ip.statics) {
		return value.Null()
	}
	return ip.statics[idx]
}

func (ip *Interp) setStatic(idx int, v value.Value) {
	for idx >= len(ip.statics) {
		ip.statics = append(ip.statics, value.Null())
	}
	ip.statics[idx] = v
}

// Start begins executing functionID on task from the top: pushes its
// entry frame, binds args to its first locals, and runs the dispatch
// loop until completion or suspension.
func (ip *Interp) Start(task *scheduler.Task, rt Runtime, functionID uint32, args []value.Value) (value.Value, Outcome, error) {
	if int(functionID) >= len(ip.Mod.Functions) {
		return value.Null(), OutcomeFailed, ErrNoSuchFunction
	}
	fn := &ip.Mod.Functions[functionID]
	task.Stack.PushFrame(functionID, 0, int(fn.LocalCount), int(fn.RegCount))
	for i, a := range args {
		if i >= int(fn.LocalCount) {
			break
		}
		task.Stack.SetLocal(i, a)
	}
	ctx := &AsyncContext{Task: task}
	ctx.PushResultReg(-1)
	ctx.SetIP(0)
	return ip.run(ctx, rt, task.ID())
}

// Resume continues a previously Suspended task from where it left off,
// delivering resumeValue (the blocking operation's result — a channel
// send's delivered flag, a mutex's acquired signal as Null, a completed
// await's result, and so on) as the value the suspended opcode
// produces.
func (ip *Interp) Resume(task *scheduler.Task, rt Runtime, resumeValue value.Value) (value.Value, Outcome, error) {
	return ip.ResumeN(task, rt, resumeValue)
}

// ResumeN is Resume generalized to opcodes whose non-suspending path
// pushes more than one value — ChanRecv pushes both the received value
// and a found flag, so waking a parked receiver must push both in the
// same order a direct TryReceive success would have.
func (ip *Interp) ResumeN(task *scheduler.Task, rt Runtime, values ...value.Value) (value.Value, Outcome, error) {
	ctx := &AsyncContext{Task: task}
	for _, v := range values {
		task.Stack.Push(v)
	}
	return ip.run(ctx, rt, task.ID())
}

// ResumeError continues a previously Suspended task whose blocking
// operation failed (a blocking native call's I/O error, most notably):
// instead of pushing a value at the resume point like Resume, it raises
// errVal as an exception there, exactly as a synchronous native failure
// does in doNativeCall.
func (ip *Interp) ResumeError(task *scheduler.Task, rt Runtime, errVal value.Value) (value.Value, Outcome, error) {
	ctx := &AsyncContext{Task: task}
	if !ip.raise(ctx, rt, task.ID(), errVal) {
		return value.Null(), OutcomeFailed, &UncaughtThrow{Value: errVal}
	}
	return ip.run(ctx, rt, task.ID())
}

// CallSync runs functionID to completion without a backing Task, for
// native code that needs to invoke Raya-level functions/methods
// synchronously. It fails with ErrCannotSuspend if the callee tries to
// block.
func (ip *Interp) CallSync(functionID uint32, args []value.Value) (value.Value, error) {
	if int(functionID) >= len(ip.Mod.Functions) {
		return value.Null(), ErrNoSuchFunction
	}
	fn := &ip.Mod.Functions[functionID]
	sc := NewSyncContext()
	sc.Stack = stackframe.New(32, 16, 8)
	sc.PushResultReg(-1)
	sc.Stack.PushFrame(functionID, 0, int(fn.LocalCount), int(fn.RegCount))
	for i, a := range args {
		if i >= int(fn.LocalCount) {
			break
		}
		sc.Stack.SetLocal(i, a)
	}
	v, outcome, err := ip.run(sc, nil, taskid.ID(0))
	if err != nil {
		return value.Null(), err
	}
	if outcome != OutcomeCompleted {
		return value.Null(), ErrCannotSuspend
	}
	return v, nil
}

// run is the shared dispatch loop driving both AsyncContext and
// SyncContext. It decodes and executes instructions from whichever
// function the current frame names until every frame has returned
// (OutcomeCompleted), a blocking opcode suspends an AsyncContext
// (OutcomeSuspended), or an exception escapes uncaught (an error).
func (ip *Interp) run(ctx ExecutionContext, rt Runtime, task taskid.ID) (value.Value, Outcome, error) {
	for {
		if ip.Safepoint != nil {
			ip.Safepoint.Poll()
		}

		// Cancellation and preemption are both one-shot flags polled at
		// the same per-instruction granularity as the GC safepoint above
		// (a superset of "every backward branch and function entry").
		// Cancellation goes first: a task that is both cancelled and over
		// its preempt threshold should raise Cancelled and unwind, not
		// just yield and get rescheduled to run more of the loop that
		// earned it the cancellation.
		if ac, ok := ctx.(*AsyncContext); ok {
			if ac.Task.IsCancelRequested() {
				ac.Task.ClearCancel()
				cancelled := ip.cancelledValue()
				if ip.raise(ctx, rt, task, cancelled) {
					continue
				}
				return value.Null(), OutcomeFailed, &UncaughtThrow{Value: cancelled}
			}
			if ac.Task.IsPreemptRequested() {
				ac.Task.ClearPreempt()
				ac.RequestSuspend(scheduler.SuspendReason{Kind: scheduler.BlockNone})
				return value.Null(), OutcomeSuspended, nil
			}
		}

		stack := ctx.StackMut()
		frame := stack.CurrentFrame()
		if frame == nil {
			if stack.SP > 0 {
				return stack.Pop(), OutcomeCompleted, nil
			}
			return value.Null(), OutcomeCompleted, nil
		}

		fn := &ip.Mod.Functions[frame.FunctionID]
		if fn.Register {
			outcome, err := ip.stepReg(ctx, rt, task, fn)
			if err != nil {
				if ip.raise(ctx, rt, task, errValue(ip, err)) {
					continue
				}
				return value.Null(), OutcomeFailed, err
			}
			if outcome == OutcomeSuspended {
				return value.Null(), OutcomeSuspended, nil
			}
			continue
		}

		outcome, err := ip.step(ctx, rt, task, fn)
		if err != nil {
			if ip.raise(ctx, rt, task, errValue(ip, err)) {
				continue
			}
			return value.Null(), OutcomeFailed, err
		}
		if outcome == OutcomeSuspended {
			return value.Null(), OutcomeSuspended, nil
		}
	}
}

// errValue boxes a Go error as the string Value thrown when a runtime
// condition (division by zero, stack underflow, bad index) raises
// instead of an explicit Throw opcode.
func errValue(ip *Interp, err error) value.Value {
	v, allocErr := rtobject.NewString(ip.Heap, err.Error())
	if allocErr != nil {
		return value.Null()
	}
	return v
}

// CancelledMessage is the string a cancelled task's Cancelled exception
// carries, the distinguished-but-catchable value §5 describes: ordinary
// code can tell it apart from any thrown application message, but a
// catch block with no type filtering still catches it like any other.
const CancelledMessage = "Cancelled"

func (ip *Interp) cancelledValue() value.Value {
	v, allocErr := rtobject.NewString(ip.Heap, CancelledMessage)
	if allocErr != nil {
		return value.Null()
	}
	return v
}

func boolValue(b bool) value.Value { return value.BoxBool(b) }

func truthy(v value.Value) bool {
	switch {
	case value.IsBool(v):
		return value.UnboxBool(v)
	case value.IsNull(v):
		return false
	case value.IsI32(v):
		return value.UnboxI32(v) != 0
	case value.IsF64(v):
		return value.UnboxF64(v) != 0
	default:
		return true
	}
}
