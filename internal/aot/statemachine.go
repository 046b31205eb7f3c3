package aot

import "raya/internal/module"

// SmBlockKind classifies a block in a StateMachineFunction.
type SmBlockKind int

const (
	// SmDispatch switches on the frame's resume-point index to reach
	// the right continuation.
	SmDispatch SmBlockKind = iota
	// SmBody is a run of original function logic with no suspension
	// point inside it.
	SmBody
	// SmSaveState saves live locals to the frame immediately before a
	// suspension point fires.
	SmSaveState
	// SmRestoreState restores live locals from the frame immediately
	// after resuming at a suspension point.
	SmRestoreState
	// SmChildReentry re-enters a suspended callee's state machine and,
	// on its return, continues as if the call had returned normally.
	SmChildReentry
	// SmPropagateSuspend forwards a child frame's suspension upward
	// instead of continuing this frame.
	SmPropagateSuspend
)

func (k SmBlockKind) String() string {
	switch k {
	case SmDispatch:
		return "dispatch"
	case SmBody:
		return "body"
	case SmSaveState:
		return "save_state"
	case SmRestoreState:
		return "restore_state"
	case SmChildReentry:
		return "child_reentry"
	case SmPropagateSuspend:
		return "propagate_suspend"
	default:
		return "unknown"
	}
}

// SmBlock is one block of the transformed function, identified by
// position in StateMachineFunction.Blocks.
type SmBlock struct {
	Kind SmBlockKind

	// SuspensionIndex is meaningful for SmSaveState, SmRestoreState,
	// and SmChildReentry: which SuspensionPoint this block belongs to.
	SuspensionIndex int

	// CodeStart/CodeEnd bound the original bytecode this block covers,
	// for SmBody blocks. Zero for synthetic blocks.
	CodeStart, CodeEnd int

	// LiveLocals are the locals this block saves or restores; set for
	// SmSaveState and SmRestoreState blocks.
	LiveLocals []uint16

	// PreemptChecks holds the loop-header offsets of any preemption
	// checkpoints that fall within this SmBody block, in program
	// order. A back-edge never splits its block the way a real
	// suspension does — resuming one just re-takes the jump — so it
	// is recorded as an annotation here instead of its own save/restore
	// pair.
	PreemptChecks []int
}

// StateMachineFunction is a function transformed into explicit
// dispatch plus save/restore blocks, ready for a native backend's
// lowering pass (not implemented here — see the package doc).
type StateMachineFunction struct {
	FunctionID uint32
	Name       string
	ParamCount int
	LocalCount int

	Analysis *SuspensionAnalysis
	Blocks   []SmBlock
}

// Build runs the full non-codegen pipeline for fn: suspension
// analysis followed by the state-machine transform. If fn has no
// suspension points, the result is a single Dispatch+Body pair with
// StateCount 1 — callers should prefer calling fn directly over this
// machinery in that case.
func Build(fn *module.Function, functionID uint32) (*StateMachineFunction, error) {
	analysis, err := Analyze(fn)
	if err != nil {
		return nil, err
	}
	return transform(fn, functionID, analysis), nil
}

// transform lays out the blocks described in §4.7 phase 3: a dispatch
// block, a body block per run of code between suspension points, and
// a save/restore pair — plus a child-reentry block for AotCall points
// — at each suspension point.
func transform(fn *module.Function, functionID uint32, analysis *SuspensionAnalysis) *StateMachineFunction {
	sm := &StateMachineFunction{
		FunctionID: functionID,
		Name:       fn.Name,
		ParamCount: int(fn.ParamCount),
		LocalCount: int(fn.LocalCount),
		Analysis:   analysis,
	}

	sm.Blocks = append(sm.Blocks, SmBlock{Kind: SmDispatch})

	if !analysis.HasSuspensions {
		sm.Blocks = append(sm.Blocks, SmBlock{
			Kind:      SmBody,
			CodeStart: 0,
			CodeEnd:   len(fn.Code),
		})
		return sm
	}

	// Back-edges never split the body the way a true suspension does:
	// resuming one just re-takes the jump, so it is folded into
	// whichever body block contains it rather than getting its own
	// save/restore pair.
	var realPoints []SuspensionPoint
	preemptsIn := map[int][]int{} // indexed by the realPoints index of the preceding point, -1 for "before all of them"
	prevRealIdx := -1
	for _, p := range analysis.Points {
		if p.Kind == KindPreemptionCheck {
			preemptsIn[prevRealIdx] = append(preemptsIn[prevRealIdx], p.Resume)
			continue
		}
		realPoints = append(realPoints, p)
		prevRealIdx++
	}

	prevEnd := 0
	for i, p := range realPoints {
		if p.Offset > prevEnd {
			sm.Blocks = append(sm.Blocks, SmBlock{
				Kind:          SmBody,
				CodeStart:     prevEnd,
				CodeEnd:       p.Offset,
				PreemptChecks: preemptsIn[i-1],
			})
		}
		sm.Blocks = append(sm.Blocks, SmBlock{
			Kind:            SmSaveState,
			SuspensionIndex: i,
			LiveLocals:      p.LiveLocals,
		})
		if p.Kind.HasChildFrame() {
			sm.Blocks = append(sm.Blocks, SmBlock{
				Kind:            SmChildReentry,
				SuspensionIndex: i,
			})
			sm.Blocks = append(sm.Blocks, SmBlock{
				Kind:            SmPropagateSuspend,
				SuspensionIndex: i,
			})
		}
		sm.Blocks = append(sm.Blocks, SmBlock{
			Kind:            SmRestoreState,
			SuspensionIndex: i,
			LiveLocals:      p.LiveLocals,
		})
		prevEnd = p.Resume
	}
	if prevEnd < len(fn.Code) {
		sm.Blocks = append(sm.Blocks, SmBlock{
			Kind:          SmBody,
			CodeStart:     prevEnd,
			CodeEnd:       len(fn.Code),
			PreemptChecks: preemptsIn[len(realPoints)-1],
		})
	}

	return sm
}
