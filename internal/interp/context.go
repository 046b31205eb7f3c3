package interp

import (
	"raya/internal/scheduler"
	"raya/internal/stackframe"
)

// Handler is the interpreter's name for an installed try/catch/finally
// entry; it is exactly scheduler.ExceptionHandler, aliased here so
// opcode handlers don't need to import scheduler directly just to spell
// the type.
type Handler = scheduler.ExceptionHandler

// ExecutionContext is the host the dispatch loop runs against (§4.6):
// the operand stack/register file it mutates, whether it is allowed to
// suspend at a blocking opcode, and the exception handler stack it
// installs/unwinds. AsyncContext (normal task execution, suspends via
// the scheduler) and SyncContext (compile-time constant folding and
// builtin table initialization, which must run to completion without
// ever blocking) are the two implementations.
type ExecutionContext interface {
	StackMut() *stackframe.Stack
	CanSuspend() bool
	PushHandler(h Handler)
	PopHandler() (Handler, bool)
	HandlerDepth() int
	MutexCount() int
	SetMutexCount(n int)
	CurrentIP() int
	SetIP(ip int)
	PushResultReg(reg int)
	PopResultReg() int
}

// Suspender is implemented only by contexts where CanSuspend is true.
// The dispatch loop type-asserts for it at a blocking opcode after
// confirming CanSuspend.
type Suspender interface {
	RequestSuspend(reason scheduler.SuspendReason)
}

// AsyncContext runs a Task through the scheduler: suspension is
// implemented by recording a SuspendReason on the Task and letting the
// dispatch loop return control to the worker, which moves the Task off
// Running.
type AsyncContext struct {
	Task *scheduler.Task
}

func (c *AsyncContext) StackMut() *stackframe.Stack { return c.Task.Stack }
func (c *AsyncContext) CanSuspend() bool            { return true }
func (c *AsyncContext) PushHandler(h Handler)        { c.Task.PushHandler(h) }
func (c *AsyncContext) PopHandler() (Handler, bool)  { return c.Task.PopHandler() }
func (c *AsyncContext) HandlerDepth() int            { return len(c.Task.ExceptionHandlers) }
func (c *AsyncContext) MutexCount() int              { return len(c.Task.HeldMutexes) }
func (c *AsyncContext) SetMutexCount(n int) {
	if n < len(c.Task.HeldMutexes) {
		c.Task.HeldMutexes = c.Task.HeldMutexes[:n]
	}
}
func (c *AsyncContext) CurrentIP() int       { return c.Task.IP }
func (c *AsyncContext) SetIP(ip int)         { c.Task.IP = ip }
func (c *AsyncContext) PushResultReg(reg int) { c.Task.PushResultReg(reg) }
func (c *AsyncContext) PopResultReg() int     { return c.Task.PopResultReg() }

// RequestSuspend records why the owning Task cannot proceed; the caller
// (Interp.Resume's driver) is responsible for transitioning the Task's
// state and handing it to whatever wait list SuspendReason.Kind names.
func (c *AsyncContext) RequestSuspend(reason scheduler.SuspendReason) {
	c.Task.SuspendReason = reason
	c.Task.SetState(scheduler.Suspended)
}

// SyncContext runs bytecode that must complete without ever blocking:
// constant-expression folding at module link time and builtin static
// table initialization. It carries its own operand stack and handler
// stack since there is no backing Task.
type SyncContext struct {
	Stack      *stackframe.Stack
	handlers   []Handler
	mutexes    int
	ip         int
	resultRegs []int
}

// NewSyncContext creates a SyncContext with a fresh, modestly sized
// Stack — synchronous evaluation never runs deeply recursive or
// long-lived code.
func NewSyncContext() *SyncContext {
	return &SyncContext{Stack: stackframe.New(16, 8, 4)}
}

func (c *SyncContext) StackMut() *stackframe.Stack { return c.Stack }
func (c *SyncContext) CanSuspend() bool            { return false }
func (c *SyncContext) PushHandler(h Handler)       { c.handlers = append(c.handlers, h) }
func (c *SyncContext) PopHandler() (Handler, bool) {
	n := len(c.handlers)
	if n == 0 {
		return Handler{}, false
	}
	h := c.handlers[n-1]
	c.handlers = c.handlers[:n-1]
	return h, true
}
func (c *SyncContext) HandlerDepth() int { return len(c.handlers) }
func (c *SyncContext) MutexCount() int   { return c.mutexes }
func (c *SyncContext) SetMutexCount(n int) {
	if n >= 0 {
		c.mutexes = n
	}
}
func (c *SyncContext) CurrentIP() int { return c.ip }
func (c *SyncContext) SetIP(ip int)   { c.ip = ip }
func (c *SyncContext) PushResultReg(reg int) {
	c.resultRegs = append(c.resultRegs, reg)
}
func (c *SyncContext) PopResultReg() int {
	n := len(c.resultRegs)
	if n == 0 {
		return -1
	}
	reg := c.resultRegs[n-1]
	c.resultRegs = c.resultRegs[:n-1]
	return reg
}
