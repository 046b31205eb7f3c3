package interp

import (
	"strconv"
	"time"

	"raya/internal/rtobject"
	"raya/internal/scheduler"
	"raya/internal/stackframe"
	"raya/internal/taskid"
	"raya/value"
)

func formatFloat(f float64) string { return strconv.FormatFloat(f, 'g', -1, 64) }
func formatInt(i int32) string     { return strconv.FormatInt(int64(i), 10) }

func (ip *Interp) intBinOp(stack *stackframe.Stack, op Opcode) error {
	b := value.UnboxI32(stack.Pop())
	a := value.UnboxI32(stack.Pop())
	var r int32
	switch op {
	case Iadd:
		r = a + b
	case Isub:
		r = a - b
	case Imul:
		r = a * b
	case Idiv:
		if b == 0 {
			return ErrDivideByZero
		}
		r = a / b
	case Imod:
		if b == 0 {
			return ErrDivideByZero
		}
		r = a % b
	case Ipow:
		r = ipow(a, b)
	case Ishl:
		r = a << uint32(b&31)
	case Ishr:
		r = a >> uint32(b&31)
	case Iushr:
		r = int32(uint32(a) >> uint32(b&31))
	case Iand:
		r = a & b
	case Ior:
		r = a | b
	case Ixor:
		r = a ^ b
	}
	stack.Push(value.BoxI32(r))
	return nil
}

func ipow(base, exp int32) int32 {
	if exp < 0 {
		return 0
	}
	r := int32(1)
	for i := int32(0); i < exp; i++ {
		r *= base
	}
	return r
}

func (ip *Interp) floatBinOp(stack *stackframe.Stack, op Opcode) {
	b := value.UnboxF64(stack.Pop())
	a := value.UnboxF64(stack.Pop())
	var r float64
	switch op {
	case Fadd:
		r = a + b
	case Fsub:
		r = a - b
	case Fmul:
		r = a * b
	case Fdiv:
		r = a / b
	case Fmod:
		r = floatMod(a, b)
	case Fpow:
		r = floatPow(a, b)
	}
	stack.Push(value.BoxF64(r))
}

func floatMod(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	q := float64(int64(a / b))
	return a - q*b
}

func floatPow(base, exp float64) float64 {
	if exp == 0 {
		return 1
	}
	neg := exp < 0
	if neg {
		exp = -exp
	}
	r := 1.0
	for i := 0; i < int(exp); i++ {
		r *= base
	}
	if neg {
		return 1 / r
	}
	return r
}

func (ip *Interp) intCompare(stack *stackframe.Stack, op Opcode) {
	b := value.UnboxI32(stack.Pop())
	a := value.UnboxI32(stack.Pop())
	var r bool
	switch op {
	case Ieq:
		r = a == b
	case Ine:
		r = a != b
	case Ilt:
		r = a < b
	case Ile:
		r = a <= b
	case Igt:
		r = a > b
	case Ige:
		r = a >= b
	}
	stack.Push(boolValue(r))
}

func (ip *Interp) floatCompare(stack *stackframe.Stack, op Opcode) {
	b := value.UnboxF64(stack.Pop())
	a := value.UnboxF64(stack.Pop())
	var r bool
	switch op {
	case Feq:
		r = a == b
	case Fne:
		r = a != b
	case Flt:
		r = a < b
	case Fle:
		r = a <= b
	case Fgt:
		r = a > b
	case Fge:
		r = a >= b
	}
	stack.Push(boolValue(r))
}

func (ip *Interp) stringBinOp(stack *stackframe.Stack, op Opcode) error {
	bv := stack.Pop()
	av := stack.Pop()
	a, ok := rtobject.AsString(ip.Heap, av)
	if !ok {
		return ErrTypeMismatch
	}
	if op == Sconcat {
		b, ok := rtobject.AsString(ip.Heap, bv)
		if !ok {
			return ErrTypeMismatch
		}
		v, err := rtobject.NewString(ip.Heap, a.Data+b.Data)
		if err != nil {
			return err
		}
		stack.Push(v)
		return nil
	}
	b, ok := rtobject.AsString(ip.Heap, bv)
	if !ok {
		return ErrTypeMismatch
	}
	var r bool
	switch op {
	case Seq:
		r = a.Data == b.Data
	case Sne:
		r = a.Data != b.Data
	case Slt:
		r = a.Data < b.Data
	case Sle:
		r = a.Data <= b.Data
	case Sgt:
		r = a.Data > b.Data
	case Sge:
		r = a.Data >= b.Data
	}
	stack.Push(boolValue(r))
	return nil
}

func (ip *Interp) toString(stack *stackframe.Stack) error {
	v := stack.Pop()
	var s string
	switch value.KindOf(v) {
	case value.KindF64:
		s = formatFloat(value.UnboxF64(v))
	case value.KindI32:
		s = formatInt(value.UnboxI32(v))
	case value.KindBool:
		if value.UnboxBool(v) {
			s = "true"
		} else {
			s = "false"
		}
	case value.KindNull:
		s = "null"
	case value.KindPtr:
		if so, ok := rtobject.AsString(ip.Heap, v); ok {
			s = so.Data
		} else {
			s = "<object>"
		}
	}
	out, err := rtobject.NewString(ip.Heap, s)
	if err != nil {
		return err
	}
	stack.Push(out)
	return nil
}

func pushHeldMutex(ctx ExecutionContext, id uint64) {
	ac, ok := ctx.(*AsyncContext)
	if !ok {
		return
	}
	ac.Task.HeldMutexes = append(ac.Task.HeldMutexes, syncprimMutexID(id))
}

func suspend(ctx ExecutionContext, reason scheduler.SuspendReason) (Outcome, error) {
	if !ctx.CanSuspend() {
		return OutcomeCompleted, ErrCannotSuspend
	}
	s, ok := ctx.(Suspender)
	if !ok {
		return OutcomeCompleted, ErrCannotSuspend
	}
	s.RequestSuspend(reason)
	return OutcomeSuspended, nil
}

func (ip *Interp) doAwait(ctx ExecutionContext, rt Runtime, handleV value.Value) (Outcome, error) {
	h, ok := rtobject.AsTaskHandle(ip.Heap, handleV)
	if !ok || rt == nil {
		return OutcomeCompleted, ErrTypeMismatch
	}
	target := taskid.ID(h.ID)
	v, done, err := rt.TaskResult(target)
	if err != nil {
		return OutcomeCompleted, err
	}
	if done {
		ctx.StackMut().Push(v)
		return OutcomeCompleted, nil
	}
	return suspend(ctx, scheduler.SuspendReason{Kind: scheduler.BlockAwaitTask, AwaitTask: target})
}

func (ip *Interp) doYield(ctx ExecutionContext) (Outcome, error) {
	return suspend(ctx, scheduler.SuspendReason{Kind: scheduler.BlockNone})
}

func (ip *Interp) doSleep(ctx ExecutionContext, rt Runtime, task taskid.ID, durV value.Value) (Outcome, error) {
	if rt == nil {
		return OutcomeCompleted, ErrCannotSuspend
	}
	ms := int64(value.UnboxI32(durV))
	wakeAt := time.Now().Add(time.Duration(ms) * time.Millisecond)
	outcome, err := suspend(ctx, scheduler.SuspendReason{Kind: scheduler.BlockSleep, WakeAt: wakeAt})
	if err == nil && outcome == OutcomeSuspended {
		rt.ScheduleSleep(task, wakeAt)
	}
	return outcome, err
}

func (ip *Interp) doMutexLock(ctx ExecutionContext, rt Runtime, task taskid.ID, handleV value.Value) (Outcome, error) {
	h, ok := rtobject.AsMutexHandle(ip.Heap, handleV)
	if !ok || rt == nil {
		return OutcomeCompleted, ErrTypeMismatch
	}
	id := syncprimMutexID(h.ID)
	if rt.MutexTryLock(id, task) {
		pushHeldMutex(ctx, h.ID)
		ctx.StackMut().Push(value.Null())
		return OutcomeCompleted, nil
	}
	return suspend(ctx, scheduler.SuspendReason{Kind: scheduler.BlockMutexLock, MutexID: id})
}

func (ip *Interp) doSemAcquire(ctx ExecutionContext, rt Runtime, task taskid.ID, handleV value.Value) (Outcome, error) {
	h, ok := rtobject.AsSemHandle(ip.Heap, handleV)
	if !ok || rt == nil {
		return OutcomeCompleted, ErrTypeMismatch
	}
	id := syncprimSemaphoreID(h.ID)
	if rt.SemTryAcquire(id, task) {
		ctx.StackMut().Push(value.Null())
		return OutcomeCompleted, nil
	}
	return suspend(ctx, scheduler.SuspendReason{Kind: scheduler.BlockSemaphoreAcquire, SemID: id})
}

func (ip *Interp) doChanSend(ctx ExecutionContext, rt Runtime, task taskid.ID, chV, val value.Value) (Outcome, error) {
	h, ok := rtobject.AsChanHandle(ip.Heap, chV)
	if !ok || rt == nil {
		return OutcomeCompleted, ErrTypeMismatch
	}
	id := syncprimChannelID(h.ID)
	outcome, err := rt.ChannelTrySend(id, task, val)
	if err != nil {
		return OutcomeCompleted, err
	}
	if outcome.WakeReceiver != 0 {
		rt.WakeTask(outcome.WakeReceiver)
	}
	if outcome.Delivered {
		ctx.StackMut().Push(boolValue(true))
		return OutcomeCompleted, nil
	}
	return suspend(ctx, scheduler.SuspendReason{Kind: scheduler.BlockChannelSend, ChannelID: id, PendingVal: val})
}

func (ip *Interp) doChanRecv(ctx ExecutionContext, rt Runtime, task taskid.ID, chV value.Value) (Outcome, error) {
	h, ok := rtobject.AsChanHandle(ip.Heap, chV)
	if !ok || rt == nil {
		return OutcomeCompleted, ErrTypeMismatch
	}
	id := syncprimChannelID(h.ID)
	outcome := rt.ChannelTryReceive(id, task)
	if outcome.WakeSender != 0 {
		rt.WakeTask(outcome.WakeSender)
	}
	if outcome.Got {
		ctx.StackMut().Push(outcome.Value)
		ctx.StackMut().Push(boolValue(true))
		return OutcomeCompleted, nil
	}
	if rt.ChannelIsClosed(id) {
		ctx.StackMut().Push(value.Null())
		ctx.StackMut().Push(boolValue(false))
		return OutcomeCompleted, nil
	}
	return suspend(ctx, scheduler.SuspendReason{Kind: scheduler.BlockChannelReceive, ChannelID: id})
}
