package snapshot

import (
	"encoding/binary"
	"io"

	"raya/internal/scheduler"
	"raya/internal/stackframe"
	"raya/internal/taskid"
	"raya/value"
)

// Frame is the on-disk form of a stackframe.Frame.
type Frame struct {
	FunctionID   uint32
	ReturnIP     uint32
	LocalsBase   uint32
	LocalCount   uint32
	RegBase      uint32
	RegCount     uint32
	ClosureDepth uint32
}

func frameFrom(f stackframe.Frame) Frame {
	return Frame{
		FunctionID:   f.FunctionID,
		ReturnIP:     uint32(f.ReturnIP),
		LocalsBase:   uint32(f.LocalsBase),
		LocalCount:   uint32(f.LocalCount),
		RegBase:      uint32(f.RegBase),
		RegCount:     uint32(f.RegCount),
		ClosureDepth: uint32(f.ClosureDepth),
	}
}

func (f Frame) toStackframe() stackframe.Frame {
	return stackframe.Frame{
		FunctionID:   f.FunctionID,
		ReturnIP:     int(f.ReturnIP),
		LocalsBase:   int(f.LocalsBase),
		LocalCount:   int(f.LocalCount),
		RegBase:      int(f.RegBase),
		RegCount:     int(f.RegCount),
		ClosureDepth: int(f.ClosureDepth),
	}
}

// Task is the on-disk form of a scheduler.Task: enough to reconstruct
// its call stack and resume it at IP once its frames, operand stack,
// and register file are restored. The EntryFunc/EntryArgs/Started
// bookkeeping used only before a task's first dispatch is not carried,
// since a task worth snapshotting has always already started.
type Task struct {
	TaskID        taskid.ID
	FunctionIndex uint32
	State         scheduler.State
	IP            uint32
	BlockedReason scheduler.BlockKind

	Frames       []Frame
	OperandStack []value.Value
	Regs         []value.Value
}

// FromTask captures the restart-relevant fields of a live Task.
func FromTask(t *scheduler.Task) Task {
	frames := make([]Frame, len(t.Stack.Frames))
	for i, f := range t.Stack.Frames {
		frames[i] = frameFrom(f)
	}
	operands := make([]value.Value, t.Stack.SP)
	copy(operands, t.Stack.Values[:t.Stack.SP])
	regs := make([]value.Value, len(t.Stack.Regs))
	copy(regs, t.Stack.Regs)

	return Task{
		TaskID:        t.ID(),
		FunctionIndex: t.EntryFunc,
		State:         t.State(),
		IP:            uint32(t.IP),
		BlockedReason: t.SuspendReason.Kind,
		Frames:        frames,
		OperandStack:  operands,
		Regs:          regs,
	}
}

func (t Task) encode(w io.Writer, order binary.ByteOrder) error {
	if err := binary.Write(w, order, uint64(t.TaskID)); err != nil {
		return err
	}
	if err := binary.Write(w, order, t.FunctionIndex); err != nil {
		return err
	}
	if err := binary.Write(w, order, uint32(t.State)); err != nil {
		return err
	}
	if err := binary.Write(w, order, t.IP); err != nil {
		return err
	}
	if err := binary.Write(w, order, uint32(t.BlockedReason)); err != nil {
		return err
	}

	if err := binary.Write(w, order, uint32(len(t.Frames))); err != nil {
		return err
	}
	for _, f := range t.Frames {
		for _, v := range []uint32{f.FunctionID, f.ReturnIP, f.LocalsBase, f.LocalCount, f.RegBase, f.RegCount, f.ClosureDepth} {
			if err := binary.Write(w, order, v); err != nil {
				return err
			}
		}
	}

	if err := writeValues(w, order, t.OperandStack); err != nil {
		return err
	}
	return writeValues(w, order, t.Regs)
}

func writeValues(w io.Writer, order binary.ByteOrder, vs []value.Value) error {
	if err := binary.Write(w, order, uint32(len(vs))); err != nil {
		return err
	}
	for _, v := range vs {
		if err := binary.Write(w, order, uint64(v)); err != nil {
			return err
		}
	}
	return nil
}

func readValues(r io.Reader, order binary.ByteOrder) ([]value.Value, error) {
	var n uint32
	if err := binary.Read(r, order, &n); err != nil {
		return nil, ErrTruncated
	}
	out := make([]value.Value, n)
	for i := range out {
		var raw uint64
		if err := binary.Read(r, order, &raw); err != nil {
			return nil, ErrTruncated
		}
		out[i] = value.Value(raw)
	}
	return out, nil
}

func decodeTask(r io.Reader, order binary.ByteOrder) (Task, error) {
	var t Task

	var rawID uint64
	if err := binary.Read(r, order, &rawID); err != nil {
		return t, ErrTruncated
	}
	t.TaskID = taskid.ID(rawID)

	if err := binary.Read(r, order, &t.FunctionIndex); err != nil {
		return t, ErrTruncated
	}
	var state uint32
	if err := binary.Read(r, order, &state); err != nil {
		return t, ErrTruncated
	}
	t.State = scheduler.State(state)
	if err := binary.Read(r, order, &t.IP); err != nil {
		return t, ErrTruncated
	}
	var blocked uint32
	if err := binary.Read(r, order, &blocked); err != nil {
		return t, ErrTruncated
	}
	t.BlockedReason = scheduler.BlockKind(blocked)

	var frameCount uint32
	if err := binary.Read(r, order, &frameCount); err != nil {
		return t, ErrTruncated
	}
	t.Frames = make([]Frame, frameCount)
	for i := range t.Frames {
		var f Frame
		fields := []*uint32{&f.FunctionID, &f.ReturnIP, &f.LocalsBase, &f.LocalCount, &f.RegBase, &f.RegCount, &f.ClosureDepth}
		for _, fp := range fields {
			if err := binary.Read(r, order, fp); err != nil {
				return t, ErrTruncated
			}
		}
		t.Frames[i] = f
	}

	var err error
	if t.OperandStack, err = readValues(r, order); err != nil {
		return t, err
	}
	if t.Regs, err = readValues(r, order); err != nil {
		return t, err
	}
	return t, nil
}

// RestoreStack rebuilds a stackframe.Stack from t's captured frames,
// operand stack, and register file, ready to hand to a freshly-created
// scheduler.Task in Suspended state.
func (t Task) RestoreStack() *stackframe.Stack {
	s := stackframe.New(len(t.OperandStack), len(t.Regs), len(t.Frames))
	for _, f := range t.Frames {
		s.Frames = append(s.Frames, f.toStackframe())
	}
	if len(s.Frames) > 0 {
		s.FP = len(s.Frames) - 1
	}
	s.Values = append(s.Values, t.OperandStack...)
	s.SP = len(t.OperandStack)
	s.Regs = append(s.Regs, t.Regs...)
	return s
}
