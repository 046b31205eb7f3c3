// Package aot implements the suspension analysis and state-machine
// transform (§4.7) that a function must go through before it can be
// handed to a native backend. Only functions using the stack-based
// opcode set are candidates: a Function with Register set true has
// already been lowered to the non-suspending register machine and
// never suspends, so it skips this pipeline entirely.
//
// Codegen itself — lowering a StateMachineFunction to the native
// backend's IR — is out of scope here; this package stops at the
// contract the interpreter and an eventual AOT trampoline agree on.
package aot

import (
	"fmt"

	"raya/internal/interp"
	"raya/internal/module"
)

// SuspensionKind classifies what about an instruction can cause a task
// to suspend.
type SuspensionKind int

const (
	// KindAwait suspends until a spawned task completes.
	KindAwait SuspensionKind = iota
	// KindYield voluntarily yields to the scheduler.
	KindYield
	// KindSleep suspends for a duration.
	KindSleep
	// KindAotCall calls another function that may itself suspend; its
	// frame is linked as a child of this one.
	KindAotCall
	// KindNativeCall may return a suspend result for blocking I/O.
	KindNativeCall
	// KindChannelSend may block on backpressure.
	KindChannelSend
	// KindChannelRecv may block waiting for a sender.
	KindChannelRecv
	// KindMutexLock may block waiting for the holder to release.
	KindMutexLock
	// KindSemAcquire may block waiting for a permit.
	KindSemAcquire
	// KindPreemptionCheck is a synthetic suspension point inserted at
	// loop back-edges so a long-running loop still yields to the
	// preemption monitor.
	KindPreemptionCheck
)

func (k SuspensionKind) String() string {
	switch k {
	case KindAwait:
		return "await"
	case KindYield:
		return "yield"
	case KindSleep:
		return "sleep"
	case KindAotCall:
		return "aot_call"
	case KindNativeCall:
		return "native_call"
	case KindChannelSend:
		return "channel_send"
	case KindChannelRecv:
		return "channel_recv"
	case KindMutexLock:
		return "mutex_lock"
	case KindSemAcquire:
		return "sem_acquire"
	case KindPreemptionCheck:
		return "preemption_check"
	default:
		return "unknown"
	}
}

// AlwaysSuspends reports whether this kind always suspends rather than
// only sometimes suspending.
func (k SuspensionKind) AlwaysSuspends() bool {
	return k == KindAwait || k == KindYield || k == KindSleep
}

// HasChildFrame reports whether a suspension of this kind links a
// callee frame as a child of the suspending frame.
func (k SuspensionKind) HasChildFrame() bool {
	return k == KindAotCall
}

// SuspensionPoint is one instruction in a function that can suspend
// the task executing it.
type SuspensionPoint struct {
	// Index is this point's position in resume-state numbering: state
	// 0 is function entry, state Index+1 is "resumed after this point".
	Index int

	// Offset is the instruction's byte offset within Function.Code.
	Offset int

	Kind SuspensionKind

	// Resume is the code offset execution continues at once this
	// point stops suspending: the following instruction for an
	// ordinary suspension, or the loop header for a preemption check,
	// since clearing one re-takes the back-edge it guards.
	Resume int

	// LiveLocals is the set of local variable indices that must be
	// saved to the frame before suspending here and restored on
	// resume, in ascending order.
	LiveLocals []uint16
}

// SuspensionAnalysis is the result of analyzing one function.
type SuspensionAnalysis struct {
	Points          []SuspensionPoint
	HasSuspensions  bool
	LoopHeaders     map[int]bool // block start offsets that are loop headers
}

// StateCount returns the number of resume states: one for entry plus
// one for each suspension point.
func (a *SuspensionAnalysis) StateCount() int {
	return len(a.Points) + 1
}

// None returns an analysis result for a function with no suspension
// points, so callers can skip state-machine overhead entirely.
func None() *SuspensionAnalysis {
	return &SuspensionAnalysis{LoopHeaders: map[int]bool{}}
}

// Analyze walks fn's bytecode and classifies every instruction that
// can suspend the task running it. fn must use the stack-based opcode
// set (fn.Register == false); register-mode functions never suspend.
func Analyze(fn *module.Function) (*SuspensionAnalysis, error) {
	if fn.Register {
		return None(), nil
	}
	blocks, err := buildBlocks(fn.Code)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return None(), nil
	}

	live := computeLiveLocals(blocks)

	var points []SuspensionPoint
	for _, b := range blocks {
		for i, ins := range b.Instrs {
			kind, ok := classify(ins.Op)
			if !ok {
				continue
			}
			points = append(points, SuspensionPoint{
				Offset:     ins.Pos,
				Resume:     ins.next,
				Kind:       kind,
				LiveLocals: liveAt(live, b, i),
			})
		}
	}

	headers := map[int]bool{}
	for _, b := range blocks {
		for _, succ := range b.BackEdges {
			headers[succ] = true
			points = append(points, SuspensionPoint{
				Offset:     b.lastInstr().Pos,
				Resume:     succ,
				Kind:       KindPreemptionCheck,
				LiveLocals: liveAt(live, b, len(b.Instrs)-1),
			})
		}
	}

	sortPoints(points)
	for i := range points {
		points[i].Index = i
	}

	return &SuspensionAnalysis{
		Points:         points,
		HasSuspensions: len(points) > 0,
		LoopHeaders:    headers,
	}, nil
}

// classify reports the SuspensionKind of op, if any.
func classify(op interp.Opcode) (SuspensionKind, bool) {
	switch op {
	case interp.Await:
		return KindAwait, true
	case interp.Yield:
		return KindYield, true
	case interp.Sleep:
		return KindSleep, true
	case interp.Call, interp.CallMethod, interp.CallConstructor, interp.CallStatic, interp.CallSuper, interp.SpawnClosure:
		return KindAotCall, true
	case interp.NativeCall, interp.ModuleNativeCall:
		return KindNativeCall, true
	case interp.ChanSend:
		return KindChannelSend, true
	case interp.ChanRecv:
		return KindChannelRecv, true
	case interp.MutexLock:
		return KindMutexLock, true
	case interp.SemAcquire:
		return KindSemAcquire, true
	default:
		return 0, false
	}
}

func sortPoints(points []SuspensionPoint) {
	for i := 1; i < len(points); i++ {
		j := i
		for j > 0 && points[j-1].Offset > points[j].Offset {
			points[j-1], points[j] = points[j], points[j-1]
			j--
		}
	}
}

func liveAt(live map[int]blockLiveness, b *block, instrIdx int) []uint16 {
	bl, ok := live[b.Start]
	if !ok {
		return nil
	}
	set := map[uint16]bool{}
	for k := range bl.out {
		set[k] = true
	}
	// Walk backward from the block's last instruction to instrIdx,
	// undoing each instruction's def/use to recover the live set
	// immediately after instrIdx.
	for i := len(b.Instrs) - 1; i > instrIdx; i-- {
		ins := b.Instrs[i]
		if ins.IsStoreLocal {
			delete(set, ins.LocalIdx)
		}
		if ins.IsLoadLocal {
			set[ins.LocalIdx] = true
		}
	}
	return sortedKeys(set)
}

func sortedKeys(m map[uint16]bool) []uint16 {
	if len(m) == 0 {
		return nil
	}
	out := make([]uint16, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	for i := 1; i < len(out); i++ {
		j := i
		for j > 0 && out[j-1] > out[j] {
			out[j-1], out[j] = out[j], out[j-1]
			j--
		}
	}
	return out
}

var errTruncated = fmt.Errorf("aot: truncated instruction")
