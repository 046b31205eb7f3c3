package interp

import (
	"raya/internal/module"
	"raya/internal/rtobject"
	"raya/internal/syncprim"
	"raya/internal/taskid"
	"raya/value"
)

func chID(id uint64) syncprim.ChannelID { return syncprim.ChannelID(id) }

// nativeCtx implements native.Context over an Interp's module/heap and
// a Runtime's task/channel operations, scoped to whichever Task is
// currently making the native call.
type nativeCtx struct {
	interp *Interp
	rt     Runtime
	task   taskid.ID
}

func (n *nativeCtx) NewString(s string) value.Value {
	v, err := rtobject.NewString(n.interp.Heap, s)
	if err != nil {
		return value.Null()
	}
	return v
}

func (n *nativeCtx) ReadString(v value.Value) (string, bool) {
	s, ok := rtobject.AsString(n.interp.Heap, v)
	if !ok {
		return "", false
	}
	return s.Data, true
}

func (n *nativeCtx) NewArray(elems []value.Value) value.Value {
	v, err := rtobject.NewArray(n.interp.Heap, elems)
	if err != nil {
		return value.Null()
	}
	return v
}

func (n *nativeCtx) ReadArray(v value.Value) ([]value.Value, bool) {
	a, ok := rtobject.AsArray(n.interp.Heap, v)
	if !ok {
		return nil, false
	}
	return a.Elems, true
}

func (n *nativeCtx) NewObject(classID int) value.Value {
	class, ok := n.interp.Mod.ClassByIndex(classID)
	fieldCount := 0
	if ok {
		fieldCount = int(class.FieldCount)
	}
	v, err := rtobject.NewInstance(n.interp.Heap, classID, fieldCount)
	if err != nil {
		return value.Null()
	}
	return v
}

func (n *nativeCtx) FieldGet(obj value.Value, index int) (value.Value, bool) {
	inst, ok := rtobject.AsInstance(n.interp.Heap, obj)
	if !ok || index < 0 || index >= len(inst.Fields) {
		return value.Null(), false
	}
	return inst.Fields[index], true
}

func (n *nativeCtx) FieldSet(obj value.Value, index int, v value.Value) bool {
	inst, ok := rtobject.AsInstance(n.interp.Heap, obj)
	if !ok || index < 0 || index >= len(inst.Fields) {
		return false
	}
	inst.Fields[index] = v
	return true
}

func (n *nativeCtx) ClassByID(id int) (*module.Class, bool) {
	return n.interp.Mod.ClassByIndex(id)
}

func (n *nativeCtx) ClassByName(name string) (int, bool) {
	return n.interp.Mod.ClassIndexByName(name)
}

func (n *nativeCtx) ClassOf(obj value.Value) (int, bool) {
	inst, ok := rtobject.AsInstance(n.interp.Heap, obj)
	if !ok {
		return 0, false
	}
	return inst.ClassID, true
}

func (n *nativeCtx) IsInstanceOf(obj value.Value, classID int) bool {
	if n.interp.Reflect == nil {
		return false
	}
	return n.interp.Reflect.IsInstanceOf(n.interp.Heap, obj, classID)
}

func (n *nativeCtx) CurrentTask() taskid.ID { return n.task }

func (n *nativeCtx) SpawnFunction(functionID uint32, args []value.Value) taskid.ID {
	return n.rt.SpawnFunction(functionID, args)
}

func (n *nativeCtx) AwaitTask(id taskid.ID) (value.Value, error) {
	v, ok, err := n.rt.TaskResult(id)
	if err != nil {
		return value.Null(), err
	}
	if !ok {
		return value.Null(), errTaskNotComplete
	}
	return v, nil
}

func (n *nativeCtx) CallFunction(functionID uint32, args []value.Value) (value.Value, error) {
	return n.interp.CallSync(functionID, args)
}

func (n *nativeCtx) CallMethod(obj value.Value, methodID uint32, args []value.Value) (value.Value, error) {
	inst, ok := rtobject.AsInstance(n.interp.Heap, obj)
	if !ok {
		return value.Null(), errNotAnObject
	}
	vtable := n.interp.Mod.VtableOf(inst.ClassID)
	if int(methodID) >= len(vtable) {
		return value.Null(), errNoSuchMethod
	}
	full := append([]value.Value{obj}, args...)
	return n.interp.CallSync(vtable[methodID], full)
}

func (n *nativeCtx) ChannelSend(channelID uint64, v value.Value) (bool, error) {
	outcome, err := n.rt.ChannelTrySend(chID(channelID), n.task, v)
	if err != nil {
		return false, err
	}
	if outcome.WakeReceiver != 0 {
		n.rt.WakeTask(outcome.WakeReceiver)
	}
	return outcome.Delivered, nil
}

func (n *nativeCtx) ChannelReceive(channelID uint64) (value.Value, bool, error) {
	outcome := n.rt.ChannelTryReceive(chID(channelID), n.task)
	if outcome.WakeSender != 0 {
		n.rt.WakeTask(outcome.WakeSender)
	}
	return outcome.Value, outcome.Got, nil
}

func (n *nativeCtx) ChannelTryReceive(channelID uint64) (value.Value, bool, error) {
	return n.ChannelReceive(channelID)
}

func (n *nativeCtx) ChannelClose(channelID uint64) error {
	woken := n.rt.ChannelClose(chID(channelID))
	for _, w := range woken {
		n.rt.WakeTask(w)
	}
	return nil
}

func (n *nativeCtx) ChannelIsClosed(channelID uint64) bool {
	return n.rt.ChannelIsClosed(chID(channelID))
}
