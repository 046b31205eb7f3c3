package interp

import (
	"raya/internal/module"
	"raya/internal/native"
	"raya/internal/rtobject"
	"raya/internal/scheduler"
	"raya/internal/taskid"
	"raya/value"
)

// step decodes and executes a single stack-machine instruction from
// fn's bytecode at ctx's current IP.
func (ip *Interp) step(ctx ExecutionContext, rt Runtime, task taskid.ID, fn *module.Function) (Outcome, error) {
	stack := ctx.StackMut()
	code := fn.Code
	pos := ctx.CurrentIP()
	if pos >= len(code) {
		return ip.doReturn(ctx, value.Null())
	}

	op := Opcode(code[pos])
	d := decoder{code: code, pos: pos + 1}

	switch op {
	case Nop:
	case Pop:
		stack.Pop()
	case Dup:
		stack.Push(stack.Peek(0))
	case Swap:
		a, b := stack.Pop(), stack.Pop()
		stack.Push(a)
		stack.Push(b)

	case ConstNull:
		stack.Push(value.Null())
	case ConstTrue:
		stack.Push(value.BoxBool(true))
	case ConstFalse:
		stack.Push(value.BoxBool(false))
	case ConstI32:
		idx := d.u32()
		stack.Push(value.BoxI32(ip.Mod.Pool.Integers[idx]))
	case ConstF64:
		idx := d.u32()
		stack.Push(value.BoxF64(ip.Mod.Pool.Floats[idx]))
	case ConstStr:
		idx := d.u32()
		v, err := rtobject.NewString(ip.Heap, ip.Mod.Pool.Strings[idx])
		if err != nil {
			return OutcomeCompleted, err
		}
		stack.Push(v)

	case LoadLocal:
		stack.Push(stack.Local(int(d.u16())))
	case StoreLocal:
		idx := d.u16()
		stack.SetLocal(int(idx), stack.Pop())
	case LoadGlobal:
		stack.Push(ip.global(int(d.u32())))
	case StoreGlobal:
		idx := d.u32()
		ip.setGlobal(int(idx), stack.Pop())
	case LoadStatic:
		stack.Push(ip.static(int(d.u32())))
	case StoreStatic:
		idx := d.u32()
		ip.setStatic(int(idx), stack.Pop())

	case Iadd, Isub, Imul, Idiv, Imod, Ipow, Ishl, Ishr, Iushr, Iand, Ior, Ixor:
		if err := ip.intBinOp(stack, op); err != nil {
			return OutcomeCompleted, err
		}
	case Ineg:
		stack.Push(value.BoxI32(-value.UnboxI32(stack.Pop())))
	case Inot:
		stack.Push(value.BoxI32(^value.UnboxI32(stack.Pop())))

	case Fadd, Fsub, Fmul, Fdiv, Fpow, Fmod:
		ip.floatBinOp(stack, op)
	case Fneg:
		stack.Push(value.BoxF64(-value.UnboxF64(stack.Pop())))

	case Ieq, Ine, Ilt, Ile, Igt, Ige:
		ip.intCompare(stack, op)
	case Feq, Fne, Flt, Fle, Fgt, Fge:
		ip.floatCompare(stack, op)
	case Eq:
		b, a := stack.Pop(), stack.Pop()
		stack.Push(boolValue(value.Eq(a, b)))
	case Ne:
		b, a := stack.Pop(), stack.Pop()
		stack.Push(boolValue(!value.Eq(a, b)))
	case StrictEq:
		b, a := stack.Pop(), stack.Pop()
		stack.Push(boolValue(value.StrictEq(a, b)))
	case StrictNe:
		b, a := stack.Pop(), stack.Pop()
		stack.Push(boolValue(!value.StrictEq(a, b)))

	case Not:
		stack.Push(boolValue(!truthy(stack.Pop())))
	case And:
		b, a := stack.Pop(), stack.Pop()
		stack.Push(boolValue(truthy(a) && truthy(b)))
	case Or:
		b, a := stack.Pop(), stack.Pop()
		stack.Push(boolValue(truthy(a) || truthy(b)))
	case Typeof:
		s, err := rtobject.NewString(ip.Heap, value.KindOf(stack.Pop()).String())
		if err != nil {
			return OutcomeCompleted, err
		}
		stack.Push(s)

	case Sconcat, Seq, Sne, Slt, Sle, Sgt, Sge:
		if err := ip.stringBinOp(stack, op); err != nil {
			return OutcomeCompleted, err
		}
	case Slen:
		s, ok := rtobject.AsString(ip.Heap, stack.Pop())
		if !ok {
			return OutcomeCompleted, ErrTypeMismatch
		}
		stack.Push(value.BoxI32(int32(len(s.Data))))
	case ToString:
		if err := ip.toString(stack); err != nil {
			return OutcomeCompleted, err
		}

	case Jmp:
		off := d.i32()
		ctx.SetIP(d.pos + int(off))
		return OutcomeCompleted, nil
	case JmpIfTrue:
		off := d.i32()
		target := d.pos
		if truthy(stack.Pop()) {
			target += int(off)
		}
		ctx.SetIP(target)
		return OutcomeCompleted, nil
	case JmpIfFalse:
		off := d.i32()
		target := d.pos
		if !truthy(stack.Pop()) {
			target += int(off)
		}
		ctx.SetIP(target)
		return OutcomeCompleted, nil
	case JmpIfNull:
		off := d.i32()
		target := d.pos
		if value.IsNull(stack.Peek(0)) {
			target += int(off)
		}
		stack.Pop()
		ctx.SetIP(target)
		return OutcomeCompleted, nil
	case JmpIfNotNull:
		off := d.i32()
		target := d.pos
		if !value.IsNull(stack.Peek(0)) {
			target += int(off)
		}
		stack.Pop()
		ctx.SetIP(target)
		return OutcomeCompleted, nil

	case Return:
		return ip.doReturn(ctx, stack.Pop())
	case ReturnVoid:
		return ip.doReturn(ctx, value.Null())

	case Call:
		funcID := d.u32()
		argc := int(d.u8())
		return ip.doCall(ctx, funcID, argc, d.pos)
	case CallStatic:
		funcID := d.u32()
		argc := int(d.u8())
		return ip.doCall(ctx, funcID, argc, d.pos)

	case CallMethod, CallSuper:
		slot := d.u32()
		argc := int(d.u8())
		return ip.doCallMethod(ctx, slot, argc, d.pos)

	case CallConstructor:
		classID := d.u32()
		argc := int(d.u8())
		return ip.doConstruct(ctx, classID, argc, d.pos)

	case NativeCall:
		nativeID := int(d.u32())
		argc := int(d.u8())
		ctx.SetIP(d.pos)
		return ip.doNativeCall(ctx, rt, task, nativeID, argc)
	case ModuleNativeCall:
		nameIdx := d.u32()
		argc := int(d.u8())
		ctx.SetIP(d.pos)
		name := ip.Mod.Pool.Strings[nameIdx]
		id, ok := ip.Natives.IDOf(name)
		if !ok {
			return OutcomeCompleted, ErrNoSuchNative
		}
		return ip.doNativeCall(ctx, rt, task, id, argc)

	case NewObject:
		classID := int(d.u32())
		class, ok := ip.Mod.ClassByIndex(classID)
		if !ok {
			return OutcomeCompleted, ErrTypeMismatch
		}
		v, err := rtobject.NewInstance(ip.Heap, classID, int(class.FieldCount))
		if err != nil {
			return OutcomeCompleted, err
		}
		stack.Push(v)
	case LoadField:
		idx := int(d.u16())
		inst, ok := rtobject.AsInstance(ip.Heap, stack.Pop())
		if !ok || idx >= len(inst.Fields) {
			return OutcomeCompleted, ErrTypeMismatch
		}
		stack.Push(inst.Fields[idx])
	case StoreField:
		idx := int(d.u16())
		v := stack.Pop()
		inst, ok := rtobject.AsInstance(ip.Heap, stack.Pop())
		if !ok || idx >= len(inst.Fields) {
			return OutcomeCompleted, ErrTypeMismatch
		}
		inst.Fields[idx] = v
	case InitObject:
		classID := int(d.u32())
		fieldCount := int(d.u16())
		fields := make([]value.Value, fieldCount)
		for i := fieldCount - 1; i >= 0; i-- {
			fields[i] = stack.Pop()
		}
		v, err := rtobject.NewInstance(ip.Heap, classID, fieldCount)
		if err != nil {
			return OutcomeCompleted, err
		}
		inst, _ := rtobject.AsInstance(ip.Heap, v)
		copy(inst.Fields, fields)
		stack.Push(v)
	case InitArray:
		count := int(d.u32())
		elems := make([]value.Value, count)
		for i := count - 1; i >= 0; i-- {
			elems[i] = stack.Pop()
		}
		v, err := rtobject.NewArray(ip.Heap, elems)
		if err != nil {
			return OutcomeCompleted, err
		}
		stack.Push(v)
	case InitTuple:
		count := int(d.u16())
		elems := make([]value.Value, count)
		for i := count - 1; i >= 0; i-- {
			elems[i] = stack.Pop()
		}
		v, err := rtobject.NewTuple(ip.Heap, elems)
		if err != nil {
			return OutcomeCompleted, err
		}
		stack.Push(v)
	case TupleGet:
		idx := int(d.u16())
		t, ok := rtobject.AsTuple(ip.Heap, stack.Pop())
		if !ok || idx >= len(t.Elems) {
			return OutcomeCompleted, ErrTypeMismatch
		}
		stack.Push(t.Elems[idx])
	case LoadElem:
		idxV := stack.Pop()
		arr, ok := rtobject.AsArray(ip.Heap, stack.Pop())
		if !ok {
			return OutcomeCompleted, ErrTypeMismatch
		}
		idx := int(value.UnboxI32(idxV))
		if idx < 0 || idx >= len(arr.Elems) {
			return OutcomeCompleted, ErrIndexOutOfRange
		}
		stack.Push(arr.Elems[idx])
	case StoreElem:
		v := stack.Pop()
		idxV := stack.Pop()
		arr, ok := rtobject.AsArray(ip.Heap, stack.Pop())
		if !ok {
			return OutcomeCompleted, ErrTypeMismatch
		}
		idx := int(value.UnboxI32(idxV))
		if idx < 0 || idx >= len(arr.Elems) {
			return OutcomeCompleted, ErrIndexOutOfRange
		}
		arr.Elems[idx] = v
	case ArrayLen:
		arr, ok := rtobject.AsArray(ip.Heap, stack.Pop())
		if !ok {
			return OutcomeCompleted, ErrTypeMismatch
		}
		stack.Push(value.BoxI32(int32(len(arr.Elems))))
	case InstanceOf:
		classID := int(d.u32())
		v := stack.Pop()
		stack.Push(boolValue(ip.isInstanceOf(v, classID)))
	case Cast:
		classID := int(d.u32())
		v := stack.Peek(0)
		if !ip.isInstanceOf(v, classID) {
			return OutcomeCompleted, ErrTypeMismatch
		}

	case MakeClosure:
		funcID := d.u32()
		capCount := int(d.u16())
		captured := make([]value.Value, capCount)
		for i := capCount - 1; i >= 0; i-- {
			captured[i] = stack.Pop()
		}
		v, err := rtobject.NewClosure(ip.Heap, funcID, captured)
		if err != nil {
			return OutcomeCompleted, err
		}
		stack.Push(v)
	case CloseVar:
		idx := int(d.u16())
		stack.Closures = append(stack.Closures, stack.Local(idx))
	case LoadCaptured:
		idx := int(d.u16())
		cl, ok := rtobject.AsClosure(ip.Heap, stack.Peek(0))
		if !ok || idx >= len(cl.Captured) {
			return OutcomeCompleted, ErrTypeMismatch
		}
		stack.Push(cl.Captured[idx])
	case StoreCaptured:
		idx := int(d.u16())
		v := stack.Pop()
		cl, ok := rtobject.AsClosure(ip.Heap, stack.Peek(0))
		if !ok || idx >= len(cl.Captured) {
			return OutcomeCompleted, ErrTypeMismatch
		}
		cl.Captured[idx] = v
	case SpawnClosure:
		v := stack.Pop()
		cl, ok := rtobject.AsClosure(ip.Heap, v)
		if !ok {
			return OutcomeCompleted, ErrTypeMismatch
		}
		if rt == nil {
			return OutcomeCompleted, ErrCannotSuspend
		}
		id := rt.SpawnFunction(cl.FunctionID, cl.Captured)
		taskV, err := rtobject.NewTaskHandle(ip.Heap, uint64(id))
		if err != nil {
			return OutcomeCompleted, err
		}
		stack.Push(taskV)

	case Spawn:
		funcID := d.u32()
		argc := int(d.u8())
		args := make([]value.Value, argc)
		for i := argc - 1; i >= 0; i-- {
			args[i] = stack.Pop()
		}
		if rt == nil {
			return OutcomeCompleted, ErrCannotSuspend
		}
		id := rt.SpawnFunction(funcID, args)
		handle, err := rtobject.NewTaskHandle(ip.Heap, uint64(id))
		if err != nil {
			return OutcomeCompleted, err
		}
		stack.Push(handle)
	case Await:
		ctx.SetIP(d.pos)
		return ip.doAwait(ctx, rt, stack.Pop())
	case Yield:
		ctx.SetIP(d.pos)
		return ip.doYield(ctx)
	case TaskThen:
		// Reserved for a future scheduled-continuation primitive; not
		// reachable from the current front end, which lowers `.then`
		// chains to Await at each step instead.
	case TaskCancel:
		if rt == nil {
			return OutcomeCompleted, ErrCannotSuspend
		}
		h, ok := rtobject.AsTaskHandle(ip.Heap, stack.Pop())
		if !ok {
			return OutcomeCompleted, ErrTypeMismatch
		}
		rt.CancelTask(taskid.ID(h.ID))
	case Sleep:
		ctx.SetIP(d.pos)
		return ip.doSleep(ctx, rt, task, stack.Pop())
	case WaitAll:
		// Compiled as a sequence of individual Await opcodes by the
		// front end (each task's result pushed in join order) rather than
		// a single primitive join, so WaitAll itself only needs to drop
		// the handle count marker the compiler emits for readability.
		d.u16()

	case NewMutex:
		if rt == nil {
			return OutcomeCompleted, ErrCannotSuspend
		}
		id := rt.NewMutex()
		v, err := rtobject.NewMutexHandle(ip.Heap, uint64(id))
		if err != nil {
			return OutcomeCompleted, err
		}
		stack.Push(v)
	case MutexLock:
		ctx.SetIP(d.pos)
		return ip.doMutexLock(ctx, rt, task, stack.Pop())
	case MutexUnlock:
		h, ok := rtobject.AsMutexHandle(ip.Heap, stack.Pop())
		if !ok || rt == nil {
			return OutcomeCompleted, ErrTypeMismatch
		}
		next, err := rt.MutexUnlock(syncprimMutexID(h.ID), task)
		if err != nil {
			return OutcomeCompleted, err
		}
		if next != taskid.None {
			rt.WakeTask(next)
		}
		ip.popHeldMutex(ctx)

	case NewChannel:
		cap := int(d.u16())
		if rt == nil {
			return OutcomeCompleted, ErrCannotSuspend
		}
		id := rt.NewChannel(cap)
		v, err := rtobject.NewChanHandle(ip.Heap, uint64(id))
		if err != nil {
			return OutcomeCompleted, err
		}
		stack.Push(v)
	case ChanSend:
		ctx.SetIP(d.pos)
		val := stack.Pop()
		ch := stack.Pop()
		return ip.doChanSend(ctx, rt, task, ch, val)
	case ChanRecv:
		ctx.SetIP(d.pos)
		return ip.doChanRecv(ctx, rt, task, stack.Pop())
	case ChanClose:
		h, ok := rtobject.AsChanHandle(ip.Heap, stack.Pop())
		if !ok || rt == nil {
			return OutcomeCompleted, ErrTypeMismatch
		}
		woken := rt.ChannelClose(syncprimChannelID(h.ID))
		for _, w := range woken {
			rt.WakeTask(w)
		}

	case NewSemaphore:
		initial := int(d.u16())
		if rt == nil {
			return OutcomeCompleted, ErrCannotSuspend
		}
		id := rt.NewSemaphore(initial)
		v, err := rtobject.NewSemHandle(ip.Heap, uint64(id))
		if err != nil {
			return OutcomeCompleted, err
		}
		stack.Push(v)
	case SemAcquire:
		ctx.SetIP(d.pos)
		return ip.doSemAcquire(ctx, rt, task, stack.Pop())
	case SemRelease:
		h, ok := rtobject.AsSemHandle(ip.Heap, stack.Pop())
		if !ok || rt == nil {
			return OutcomeCompleted, ErrTypeMismatch
		}
		if woken := rt.SemRelease(syncprimSemaphoreID(h.ID)); woken != 0 {
			rt.WakeTask(woken)
		}

	case Try:
		catchOff := d.i32()
		finallyOff := d.i32()
		ctx.PushHandler(Handler{
			CatchOffset:   resolveOffset(catchOff, d.pos),
			FinallyOffset: resolveOffset(finallyOff, d.pos),
			StackDepth:    stack.SP,
			FrameDepth:    len(stack.Frames),
			MutexCount:    ctx.MutexCount(),
		})
	case EndTry:
		ctx.PopHandler()
	case Throw:
		thrown := stack.Pop()
		ctx.SetIP(d.pos)
		if ip.raise(ctx, rt, task, thrown) {
			return OutcomeCompleted, nil
		}
		return OutcomeCompleted, &UncaughtThrow{Value: thrown}
	case Rethrow:
		thrown := stack.Pop()
		ctx.SetIP(d.pos)
		if ip.raise(ctx, rt, task, thrown) {
			return OutcomeCompleted, nil
		}
		return OutcomeCompleted, &UncaughtThrow{Value: thrown}

	default:
		return OutcomeCompleted, ErrUnknownOpcode
	}

	ctx.SetIP(d.pos)
	return OutcomeCompleted, nil
}

// resolveOffset turns a -1 sentinel (no catch/finally block) into -1,
// and otherwise resolves the encoded offset relative to base into an
// absolute code position.
func resolveOffset(off int32, base int) int {
	if off < 0 {
		return -1
	}
	return base + int(off)
}

func (ip *Interp) popHeldMutex(ctx ExecutionContext) {
	ac, ok := ctx.(*AsyncContext)
	if !ok {
		return
	}
	if n := len(ac.Task.HeldMutexes); n > 0 {
		ac.Task.HeldMutexes = ac.Task.HeldMutexes[:n-1]
	}
}

// doReturn pops the current frame and delivers retVal to the caller: a
// register-mode caller (RCall) gets it written into the register it
// named at the call site, a stack-mode caller gets it pushed back onto
// the operand stack it resumes with.
func (ip *Interp) doReturn(ctx ExecutionContext, retVal value.Value) (Outcome, error) {
	stack := ctx.StackMut()
	frame := stack.PopFrame()
	if reg := ctx.PopResultReg(); reg >= 0 && stack.CurrentFrame() != nil {
		stack.SetReg(reg, retVal)
	} else {
		stack.Push(retVal)
	}
	ctx.SetIP(frame.ReturnIP)
	return OutcomeCompleted, nil
}

func (ip *Interp) doCall(ctx ExecutionContext, funcID uint32, argc int, resumeIP int) (Outcome, error) {
	if int(funcID) >= len(ip.Mod.Functions) {
		return OutcomeCompleted, ErrNoSuchFunction
	}
	stack := ctx.StackMut()
	args := make([]value.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i] = stack.Pop()
	}
	target := &ip.Mod.Functions[funcID]
	ctx.PushResultReg(-1)
	stack.PushFrame(funcID, resumeIP, int(target.LocalCount), int(target.RegCount))
	for i, a := range args {
		if i >= int(target.LocalCount) {
			break
		}
		stack.SetLocal(i, a)
	}
	ctx.SetIP(0)
	return OutcomeCompleted, nil
}

func (ip *Interp) doCallMethod(ctx ExecutionContext, slot uint32, argc int, resumeIP int) (Outcome, error) {
	stack := ctx.StackMut()
	args := make([]value.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i] = stack.Pop()
	}
	recv := stack.Pop()
	inst, ok := rtobject.AsInstance(ip.Heap, recv)
	if !ok {
		return OutcomeCompleted, ErrTypeMismatch
	}
	vtable := ip.Mod.VtableOf(inst.ClassID)
	if int(slot) >= len(vtable) {
		return OutcomeCompleted, errNoSuchMethod
	}
	funcID := vtable[slot]
	target := &ip.Mod.Functions[funcID]
	ctx.SetIP(resumeIP)
	ctx.PushResultReg(-1)
	stack.PushFrame(funcID, resumeIP, int(target.LocalCount), int(target.RegCount))
	stack.SetLocal(0, recv)
	for i, a := range args {
		if i+1 >= int(target.LocalCount) {
			break
		}
		stack.SetLocal(i+1, a)
	}
	ctx.SetIP(0)
	return OutcomeCompleted, nil
}

func (ip *Interp) doConstruct(ctx ExecutionContext, classID uint32, argc int, resumeIP int) (Outcome, error) {
	stack := ctx.StackMut()
	args := make([]value.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i] = stack.Pop()
	}
	class, ok := ip.Mod.ClassByIndex(int(classID))
	if !ok {
		return OutcomeCompleted, ErrTypeMismatch
	}
	inst, err := rtobject.NewInstance(ip.Heap, int(classID), int(class.FieldCount))
	if err != nil {
		return OutcomeCompleted, err
	}
	vtable := ip.Mod.VtableOf(int(classID))
	const constructorSlot = 0
	if constructorSlot < len(vtable) && vtable[constructorSlot] != 0 {
		// The constructor function is compiled to end with
		// `load_local 0; return`, so its Return opcode leaves inst as the
		// value on the resumed caller's operand stack — doConstruct itself
		// never pushes inst in this branch.
		target := &ip.Mod.Functions[vtable[constructorSlot]]
		ctx.PushResultReg(-1)
		stack.PushFrame(vtable[constructorSlot], resumeIP, int(target.LocalCount), int(target.RegCount))
		stack.SetLocal(0, inst)
		for i, a := range args {
			if i+1 >= int(target.LocalCount) {
				break
			}
			stack.SetLocal(i+1, a)
		}
		ctx.SetIP(0)
		return OutcomeCompleted, nil
	}
	stack.Push(inst)
	ctx.SetIP(resumeIP)
	return OutcomeCompleted, nil
}

func (ip *Interp) doNativeCall(ctx ExecutionContext, rt Runtime, task taskid.ID, nativeID int, argc int) (Outcome, error) {
	stack := ctx.StackMut()
	args := make([]value.Value, argc)
	for i := argc - 1; i >= 0; i-- {
		args[i] = stack.Pop()
	}
	fn, ok := ip.Natives.ByID(nativeID)
	if !ok {
		return OutcomeCompleted, ErrNoSuchNative
	}
	nctx := &nativeCtx{interp: ip, rt: rt, task: task}
	result := fn(nctx, args)
	switch result.Kind {
	case native.ResultValue:
		stack.Push(result.Value)
		return OutcomeCompleted, nil
	case native.ResultNull:
		stack.Push(value.Null())
		return OutcomeCompleted, nil
	case native.ResultError:
		msg, err := rtobject.NewString(ip.Heap, result.Message)
		if err != nil {
			return OutcomeCompleted, err
		}
		if ip.raise(ctx, rt, task, msg) {
			return OutcomeCompleted, nil
		}
		return OutcomeCompleted, &UncaughtThrow{Value: msg}
	case native.ResultSuspend:
		if !ctx.CanSuspend() {
			return OutcomeCompleted, ErrCannotSuspend
		}
		s, _ := ctx.(Suspender)
		s.RequestSuspend(scheduler.SuspendReason{Kind: scheduler.BlockIoWait})
		if rt != nil {
			rt.ScheduleNativeWork(task, result.Request)
		}
		return OutcomeSuspended, nil
	default:
		return OutcomeCompleted, ErrTypeMismatch
	}
}

func (ip *Interp) isInstanceOf(v value.Value, classID int) bool {
	inst, ok := rtobject.AsInstance(ip.Heap, v)
	if !ok {
		return false
	}
	id := inst.ClassID
	for id >= 0 {
		if id == classID {
			return true
		}
		c, ok := ip.Mod.ClassByIndex(id)
		if !ok {
			return false
		}
		id = int(c.ParentID)
	}
	return false
}
