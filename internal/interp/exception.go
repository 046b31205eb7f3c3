package interp

import (
	"raya/internal/taskid"
	"raya/value"
)

// raise searches ctx's handler stack for an installer that can catch
// thrown, unwinding the operand stack, call frames, and any mutexes
// acquired since that handler was installed. It reports whether a
// handler absorbed the exception; if not, the caller must fail the
// task with ErrUncaughtThrow.
//
// Register truncation is intentionally approximate: ExceptionHandler
// does not record a register-file depth, so a handler's own frame's
// registers are left as they were rather than rolled back — register
// slots are always rewritten before use by the code generator, so a
// stale value there is never observed.
func (ip *Interp) raise(ctx ExecutionContext, rt Runtime, task taskid.ID, thrown value.Value) bool {
	h, ok := ctx.PopHandler()
	if !ok {
		return false
	}

	stack := ctx.StackMut()
	for len(stack.Frames) > h.FrameDepth {
		stack.PopFrame()
	}
	stack.SP = h.StackDepth

	ip.releaseMutexesTo(ctx, rt, task, h.MutexCount)

	stack.Push(thrown)
	if h.CatchOffset >= 0 {
		ctx.SetIP(h.CatchOffset)
	} else if h.FinallyOffset >= 0 {
		ctx.SetIP(h.FinallyOffset)
	} else {
		// Neither catch nor finally: the handler only existed to unwind
		// to this frame depth. Keep searching outward.
		return ip.raise(ctx, rt, task, thrown)
	}
	return true
}

// releaseMutexesTo force-unlocks mutexes acquired after a handler's
// install point, only meaningful for AsyncContext (a running Task is
// the only thing that can hold a mutex across a suspend boundary).
func (ip *Interp) releaseMutexesTo(ctx ExecutionContext, rt Runtime, task taskid.ID, target int) {
	ac, ok := ctx.(*AsyncContext)
	if !ok || rt == nil {
		ctx.SetMutexCount(target)
		return
	}
	for len(ac.Task.HeldMutexes) > target {
		n := len(ac.Task.HeldMutexes)
		id := ac.Task.HeldMutexes[n-1]
		ac.Task.HeldMutexes = ac.Task.HeldMutexes[:n-1]
		if woken, err := rt.MutexUnlock(id, task); err == nil && woken != 0 {
			rt.WakeTask(woken)
		}
	}
}
