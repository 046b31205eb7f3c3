package aot

import (
	"encoding/binary"

	"raya/internal/interp"
)

// instr is one decoded bytecode instruction, stripped down to what the
// analysis needs: its position, opcode, and — for the two opcodes
// liveness cares about — the local slot it touches.
type instr struct {
	Pos          int
	Op           interp.Opcode
	IsLoadLocal  bool
	IsStoreLocal bool
	LocalIdx     uint16
	next         int // byte offset of the following instruction
}

// block is a maximal straight-line run of instructions: no jump into
// its middle, no branch out of its middle.
type block struct {
	Start, End int // [Start, End) byte range within Function.Code
	Instrs     []instr
	Succs      []int // block Start offsets reachable on normal control flow
	BackEdges  []int // subset of Succs that jump to an earlier offset (loop headers)
}

func (b *block) lastInstr() instr { return b.Instrs[len(b.Instrs)-1] }

// operandLen returns the number of operand bytes following op's
// opcode byte, matching interp/step.go's decode order exactly.
func operandLen(op interp.Opcode) (int, bool) {
	switch op {
	case interp.Nop, interp.Pop, interp.Dup, interp.Swap,
		interp.ConstNull, interp.ConstTrue, interp.ConstFalse,
		interp.Iadd, interp.Isub, interp.Imul, interp.Idiv, interp.Imod, interp.Ineg,
		interp.Ipow, interp.Ishl, interp.Ishr, interp.Iushr, interp.Iand, interp.Ior, interp.Ixor, interp.Inot,
		interp.Fadd, interp.Fsub, interp.Fmul, interp.Fdiv, interp.Fneg, interp.Fpow, interp.Fmod,
		interp.Ieq, interp.Ine, interp.Ilt, interp.Ile, interp.Igt, interp.Ige,
		interp.Feq, interp.Fne, interp.Flt, interp.Fle, interp.Fgt, interp.Fge,
		interp.Eq, interp.Ne, interp.StrictEq, interp.StrictNe,
		interp.Not, interp.And, interp.Or, interp.Typeof,
		interp.Sconcat, interp.Slen, interp.Seq, interp.Sne, interp.Slt, interp.Sle, interp.Sgt, interp.Sge,
		interp.ToString, interp.Return, interp.ReturnVoid,
		interp.LoadElem, interp.StoreElem, interp.ArrayLen,
		interp.SpawnClosure, interp.Await, interp.Yield, interp.TaskThen, interp.TaskCancel, interp.Sleep,
		interp.NewMutex, interp.MutexLock, interp.MutexUnlock,
		interp.ChanSend, interp.ChanRecv, interp.ChanClose,
		interp.SemAcquire, interp.SemRelease, interp.EndTry, interp.Throw, interp.Rethrow:
		return 0, true

	case interp.LoadLocal, interp.StoreLocal, interp.LoadField, interp.StoreField,
		interp.InitTuple, interp.TupleGet, interp.CloseVar, interp.LoadCaptured, interp.StoreCaptured,
		interp.NewChannel, interp.NewSemaphore, interp.WaitAll:
		return 2, true

	case interp.ConstI32, interp.ConstF64, interp.ConstStr,
		interp.LoadGlobal, interp.StoreGlobal, interp.LoadStatic, interp.StoreStatic,
		interp.Jmp, interp.JmpIfTrue, interp.JmpIfFalse, interp.JmpIfNull, interp.JmpIfNotNull,
		interp.NewObject, interp.InitArray, interp.InstanceOf, interp.Cast:
		return 4, true

	case interp.Call, interp.CallMethod, interp.CallConstructor, interp.CallStatic, interp.CallSuper,
		interp.NativeCall, interp.ModuleNativeCall, interp.Spawn:
		return 5, true

	case interp.InitObject, interp.MakeClosure:
		return 6, true

	case interp.Try:
		return 8, true

	default:
		return 0, false
	}
}

func i32At(code []byte, pos int) int32 {
	return int32(binary.LittleEndian.Uint32(code[pos : pos+4]))
}

func u16At(code []byte, pos int) uint16 {
	return binary.LittleEndian.Uint16(code[pos : pos+2])
}

// decodeAll decodes every instruction in code in one linear pass.
func decodeAll(code []byte) ([]instr, error) {
	var out []instr
	pos := 0
	for pos < len(code) {
		op := interp.Opcode(code[pos])
		opLen, ok := operandLen(op)
		if !ok {
			return nil, errTruncated
		}
		operandStart := pos + 1
		next := operandStart + opLen
		if next > len(code) {
			return nil, errTruncated
		}
		ins := instr{Pos: pos, Op: op, next: next}
		switch op {
		case interp.LoadLocal:
			ins.IsLoadLocal = true
			ins.LocalIdx = u16At(code, operandStart)
		case interp.StoreLocal:
			ins.IsStoreLocal = true
			ins.LocalIdx = u16At(code, operandStart)
		}
		out = append(out, ins)
		pos = next
	}
	return out, nil
}

// isTerminator reports whether op ends its block with no fallthrough
// successor (aside from any it declares explicitly).
func isTerminator(op interp.Opcode) bool {
	switch op {
	case interp.Jmp, interp.Return, interp.ReturnVoid, interp.Throw, interp.Rethrow:
		return true
	default:
		return false
	}
}

// isBranch reports whether op has a jump-offset operand (conditional
// or not) at the start of its operand bytes.
func isBranch(op interp.Opcode) bool {
	switch op {
	case interp.Jmp, interp.JmpIfTrue, interp.JmpIfFalse, interp.JmpIfNull, interp.JmpIfNotNull:
		return true
	default:
		return false
	}
}

// jumpTarget resolves op's branch target given its operand start
// (right after the opcode byte) and the position right after the
// whole instruction, matching step.go's resolveOffset convention:
// offsets are relative to the end of the instruction, not its start.
func jumpTarget(code []byte, operandStart, afterInstr int) int {
	return afterInstr + int(i32At(code, operandStart))
}

// buildBlocks splits code into basic blocks and links them with
// control-flow successors, including back-edges to loop headers.
func buildBlocks(code []byte) ([]*block, error) {
	if len(code) == 0 {
		return nil, nil
	}
	instrs, err := decodeAll(code)
	if err != nil {
		return nil, err
	}

	leaders := map[int]bool{instrs[0].Pos: true}
	type edge struct{ from, to int }
	var rawEdges []edge
	tryEdges := map[int][]int{} // instr pos -> catch/finally targets

	for i, ins := range instrs {
		operandStart := ins.Pos + 1
		switch {
		case isBranch(ins.Op):
			target := jumpTarget(code, operandStart, ins.next)
			leaders[target] = true
			rawEdges = append(rawEdges, edge{ins.Pos, target})
			if ins.Op != interp.Jmp && i+1 < len(instrs) {
				leaders[instrs[i+1].Pos] = true
				rawEdges = append(rawEdges, edge{ins.Pos, instrs[i+1].Pos})
			}
		case ins.Op == interp.Try:
			catchOff := i32At(code, operandStart)
			finallyOff := i32At(code, operandStart+4)
			var targets []int
			if catchOff >= 0 {
				t := ins.next + int(catchOff)
				leaders[t] = true
				targets = append(targets, t)
			}
			if finallyOff >= 0 {
				t := ins.next + int(finallyOff)
				leaders[t] = true
				targets = append(targets, t)
			}
			tryEdges[ins.Pos] = targets
			if i+1 < len(instrs) {
				rawEdges = append(rawEdges, edge{ins.Pos, instrs[i+1].Pos})
			}
		case isTerminator(ins.Op):
			// no fallthrough successor
		default:
			if i+1 < len(instrs) {
				rawEdges = append(rawEdges, edge{ins.Pos, instrs[i+1].Pos})
			}
		}
		if (isBranch(ins.Op) || isTerminator(ins.Op)) && i+1 < len(instrs) {
			leaders[instrs[i+1].Pos] = true
		}
	}

	// Group instructions into blocks at leader boundaries.
	var blocks []*block
	byStart := map[int]*block{}
	var cur *block
	for _, ins := range instrs {
		if leaders[ins.Pos] {
			cur = &block{Start: ins.Pos}
			blocks = append(blocks, cur)
			byStart[ins.Pos] = cur
		}
		cur.Instrs = append(cur.Instrs, ins)
		cur.End = ins.next
	}

	for _, b := range blocks {
		last := b.lastInstr()
		for _, e := range rawEdges {
			if e.from == last.Pos {
				b.Succs = append(b.Succs, e.to)
				if e.to <= last.Pos {
					b.BackEdges = append(b.BackEdges, e.to)
				}
			}
		}
		if targets, ok := tryEdges[last.Pos]; ok {
			b.Succs = append(b.Succs, targets...)
		}
	}

	return blocks, nil
}
