// Package scheduler implements the M:N green-thread scheduler: a
// work-stealing worker pool, an asynchronous preemption monitor styled
// after Go's own sysmon, a timer wheel for sleep(), a blocking-I/O
// offload pool, and the Task lifecycle state machine they all operate
// on.
package scheduler

import (
	"sync/atomic"
	"time"

	"raya/internal/stackframe"
	"raya/internal/syncprim"
	"raya/internal/taskid"
	"raya/value"
)

// State is a Task's position in its lifecycle state machine.
type State int32

const (
	Created State = iota
	Ready
	Running
	Suspended
	Completed
	Failed
)

func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Ready:
		return "ready"
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// BlockKind identifies why a suspended Task cannot proceed.
type BlockKind int

const (
	BlockNone BlockKind = iota
	BlockAwaitTask
	BlockSleep
	BlockMutexLock
	BlockSemaphoreAcquire
	BlockChannelSend
	BlockChannelReceive
	BlockIoWait
)

// SuspendReason records the condition that must clear before a
// Suspended Task re-enters Ready, generalizing the original's
// SuspendReason enum into one struct carrying whichever fields the
// Kind needs.
type SuspendReason struct {
	Kind       BlockKind
	AwaitTask  taskid.ID
	WakeAt     time.Time
	MutexID    syncprim.MutexID
	SemID      syncprim.SemaphoreID
	ChannelID  syncprim.ChannelID
	PendingVal value.Value // value queued for ChannelSend while blocked
}

// ExceptionHandler is a single try/catch/finally entry on a Task's
// handler stack, installed on TRY and consulted when an exception
// propagates past the current frame.
type ExceptionHandler struct {
	CatchOffset   int // -1 if no catch block
	FinallyOffset int // -1 if no finally block
	StackDepth    int // operand stack depth when installed, for unwinding
	FrameDepth    int // call frame depth when installed, for unwinding
	MutexCount    int // mutexes held when installed, for auto-release on unwind
}

// Task is a single green thread: its own operand stack/register file,
// exception handler stack, and suspension state, scheduled cooperatively
// across a fixed pool of OS-thread workers.
type Task struct {
	id    taskid.ID
	state atomic.Int32

	ContextID uint64 // owning GC/heap context

	// EntryFunc/EntryArgs name the function a freshly Created task runs
	// the first time a worker dispatches it; Started flips true once
	// that first dispatch has happened, telling the executor whether
	// to begin the call or resume a suspended one.
	EntryFunc uint32
	EntryArgs []value.Value
	Started   bool

	Stack *stackframe.Stack
	IP    int // next instruction offset in the current frame's function code, preserved across suspend/resume

	ExceptionHandlers []ExceptionHandler
	HeldMutexes       []syncprim.MutexID

	// ResultRegs records, per call depth, where the caller wants a
	// returning callee's value: a register index for a call made from
	// register-mode code, or -1 for a call made from stack-mode code
	// (the value goes back on the operand stack instead).
	ResultRegs []int

	StartTime  time.Time
	QueueTime  time.Time
	TicksUsed  int64
	TicksLimit int64

	SuspendReason SuspendReason
	ResumeValue   value.Value

	Result    value.Value
	FailError error

	preemptRequested atomic.Bool
	cancelRequested  atomic.Bool

	AwaitingTask taskid.ID // set when another task is awaiting this one's completion
}

// New creates a Task in the Created state, drawing its Stack from pool.
func New(contextID uint64, pool *stackframe.Pool, ticksLimit int64) *Task {
	t := &Task{
		id:         taskid.Next(),
		ContextID:  contextID,
		Stack:      pool.Get(),
		TicksLimit: ticksLimit,
	}
	t.state.Store(int32(Created))
	return t
}

// ID returns the task's identity.
func (t *Task) ID() taskid.ID { return t.id }

// State returns the task's current lifecycle state.
func (t *Task) State() State { return State(t.state.Load()) }

// SetState transitions the task's lifecycle state. Completion states
// (Completed, Failed) are terminal: callers must not transition out of
// them, mirroring the "single completion transition" invariant.
func (t *Task) SetState(s State) { t.state.Store(int32(s)) }

// RequestPreempt marks the task for asynchronous preemption; the
// interpreter's dispatch loop checks this flag before every instruction
// it dispatches and voluntarily suspends.
func (t *Task) RequestPreempt() { t.preemptRequested.Store(true) }

// IsPreemptRequested reports and does not clear the preemption flag.
func (t *Task) IsPreemptRequested() bool { return t.preemptRequested.Load() }

// ClearPreempt clears the preemption flag once the task has yielded.
func (t *Task) ClearPreempt() { t.preemptRequested.Store(false) }

// RequestCancel marks the task for cooperative cancellation; the
// interpreter raises a Cancelled exception at the task's next
// safepoint or suspension resume. A no-op once the task has reached a
// terminal state, enforced by the caller (vmctx.VM.CancelTask) rather
// than here, since only the caller knows the task's lifecycle state.
func (t *Task) RequestCancel() { t.cancelRequested.Store(true) }

// IsCancelRequested reports and does not clear the cancellation flag.
func (t *Task) IsCancelRequested() bool { return t.cancelRequested.Load() }

// ClearCancel clears the cancellation flag once it has been raised as
// an exception.
func (t *Task) ClearCancel() { t.cancelRequested.Store(false) }

// PushHandler installs a new exception handler on top of the stack.
func (t *Task) PushHandler(h ExceptionHandler) {
	t.ExceptionHandlers = append(t.ExceptionHandlers, h)
}

// PopHandler removes and returns the innermost exception handler.
func (t *Task) PopHandler() (ExceptionHandler, bool) {
	n := len(t.ExceptionHandlers)
	if n == 0 {
		return ExceptionHandler{}, false
	}
	h := t.ExceptionHandlers[n-1]
	t.ExceptionHandlers = t.ExceptionHandlers[:n-1]
	return h, true
}

// PushResultReg records where a just-issued call's return value should
// land once the callee returns.
func (t *Task) PushResultReg(reg int) {
	t.ResultRegs = append(t.ResultRegs, reg)
}

// PopResultReg removes and returns the innermost pending call's result
// destination. Returns -1 if the stack is empty, which callers treat the
// same as "operand stack" to stay safe if it's ever unbalanced.
func (t *Task) PopResultReg() int {
	n := len(t.ResultRegs)
	if n == 0 {
		return -1
	}
	reg := t.ResultRegs[n-1]
	t.ResultRegs = t.ResultRegs[:n-1]
	return reg
}
