package interp

import (
	"raya/internal/module"
	"raya/internal/rtobject"
	"raya/internal/taskid"
	"raya/value"
)

// stepReg decodes and executes a single register-mode instruction from
// fn's bytecode at ctx's current IP. Register-mode functions are the
// AOT compiler's output (Function.Register == true): a bounded state
// machine with no operand-stack traffic of its own, so every opcode
// addresses the current frame's register file directly.
func (ip *Interp) stepReg(ctx ExecutionContext, rt Runtime, task taskid.ID, fn *module.Function) (Outcome, error) {
	stack := ctx.StackMut()
	code := fn.Code
	pos := ctx.CurrentIP()
	if pos >= len(code) {
		return ip.doReturn(ctx, value.Null())
	}

	op := RegOpcode(code[pos])
	d := decoder{code: code, pos: pos + 1}

	switch op {
	case RMove:
		dst, src := int(d.u8()), int(d.u8())
		stack.SetReg(dst, stack.Reg(src))
	case RLoadConstI32:
		dst := int(d.u8())
		idx := d.u32()
		stack.SetReg(dst, value.BoxI32(ip.Mod.Pool.Integers[idx]))
	case RLoadConstF64:
		dst := int(d.u8())
		idx := d.u32()
		stack.SetReg(dst, value.BoxF64(ip.Mod.Pool.Floats[idx]))
	case RLoadConstStr:
		dst := int(d.u8())
		idx := d.u32()
		v, err := rtobject.NewString(ip.Heap, ip.Mod.Pool.Strings[idx])
		if err != nil {
			return OutcomeCompleted, err
		}
		stack.SetReg(dst, v)
	case RLoadNull:
		dst := int(d.u8())
		stack.SetReg(dst, value.Null())
	case RLoadGlobal:
		dst := int(d.u8())
		idx := d.u32()
		stack.SetReg(dst, ip.global(int(idx)))
	case RStoreGlobal:
		src := int(d.u8())
		idx := d.u32()
		ip.setGlobal(int(idx), stack.Reg(src))

	case RIadd, RIsub, RImul, RIdiv, RImod:
		dst, a, b := int(d.u8()), int(d.u8()), int(d.u8())
		x, y := value.UnboxI32(stack.Reg(a)), value.UnboxI32(stack.Reg(b))
		var r int32
		switch op {
		case RIadd:
			r = x + y
		case RIsub:
			r = x - y
		case RImul:
			r = x * y
		case RIdiv:
			if y == 0 {
				return OutcomeCompleted, ErrDivideByZero
			}
			r = x / y
		case RImod:
			if y == 0 {
				return OutcomeCompleted, ErrDivideByZero
			}
			r = x % y
		}
		stack.SetReg(dst, value.BoxI32(r))
	case RIneg:
		dst, a := int(d.u8()), int(d.u8())
		stack.SetReg(dst, value.BoxI32(-value.UnboxI32(stack.Reg(a))))

	case RFadd, RFsub, RFmul, RFdiv:
		dst, a, b := int(d.u8()), int(d.u8()), int(d.u8())
		x, y := value.UnboxF64(stack.Reg(a)), value.UnboxF64(stack.Reg(b))
		var r float64
		switch op {
		case RFadd:
			r = x + y
		case RFsub:
			r = x - y
		case RFmul:
			r = x * y
		case RFdiv:
			r = x / y
		}
		stack.SetReg(dst, value.BoxF64(r))
	case RFneg:
		dst, a := int(d.u8()), int(d.u8())
		stack.SetReg(dst, value.BoxF64(-value.UnboxF64(stack.Reg(a))))

	case RIeq:
		dst, a, b := int(d.u8()), int(d.u8()), int(d.u8())
		stack.SetReg(dst, boolValue(value.UnboxI32(stack.Reg(a)) == value.UnboxI32(stack.Reg(b))))
	case RIlt:
		dst, a, b := int(d.u8()), int(d.u8()), int(d.u8())
		stack.SetReg(dst, boolValue(value.UnboxI32(stack.Reg(a)) < value.UnboxI32(stack.Reg(b))))
	case RIle:
		dst, a, b := int(d.u8()), int(d.u8()), int(d.u8())
		stack.SetReg(dst, boolValue(value.UnboxI32(stack.Reg(a)) <= value.UnboxI32(stack.Reg(b))))
	case REq:
		dst, a, b := int(d.u8()), int(d.u8()), int(d.u8())
		stack.SetReg(dst, boolValue(value.Eq(stack.Reg(a), stack.Reg(b))))
	case RNot:
		dst, a := int(d.u8()), int(d.u8())
		stack.SetReg(dst, boolValue(!truthy(stack.Reg(a))))

	case RJmp:
		off := d.i16()
		ctx.SetIP(d.pos + int(off))
		return OutcomeCompleted, nil
	case RJmpIfTrue:
		reg := int(d.u8())
		off := d.i16()
		target := d.pos
		if truthy(stack.Reg(reg)) {
			target += int(off)
		}
		ctx.SetIP(target)
		return OutcomeCompleted, nil
	case RJmpIfFalse:
		reg := int(d.u8())
		off := d.i16()
		target := d.pos
		if !truthy(stack.Reg(reg)) {
			target += int(off)
		}
		ctx.SetIP(target)
		return OutcomeCompleted, nil

	case RCall:
		dst := int(d.u8())
		funcID := d.u32()
		argRegBase := int(d.u8())
		argCount := int(d.u8())
		if int(funcID) >= len(ip.Mod.Functions) {
			return OutcomeCompleted, ErrNoSuchFunction
		}
		args := make([]value.Value, argCount)
		for i := 0; i < argCount; i++ {
			args[i] = stack.Reg(argRegBase + i)
		}
		target := &ip.Mod.Functions[funcID]
		resumeIP := d.pos
		ctx.PushResultReg(dst)
		stack.PushFrame(funcID, resumeIP, int(target.LocalCount), int(target.RegCount))
		for i, a := range args {
			if i >= int(target.LocalCount) {
				break
			}
			stack.SetLocal(i, a)
		}
		ctx.SetIP(0)
		return OutcomeCompleted, nil

	case RReturn:
		src := int(d.u8())
		return ip.doReturn(ctx, stack.Reg(src))
	case RReturnVoid:
		return ip.doReturn(ctx, value.Null())

	default:
		return OutcomeCompleted, ErrUnknownOpcode
	}

	ctx.SetIP(d.pos)
	return OutcomeCompleted, nil
}
