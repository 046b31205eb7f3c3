// Package rtobject implements the heap-allocated object kinds the
// interpreter and native ABI operate on: strings, arrays, tuples, class
// instances, and closures. Each embeds a gcheap.Header and implements
// gcheap.GcObject so the tracer can walk them precisely via PointerMap.
package rtobject

import (
	"raya/internal/gcheap"
	"raya/value"
)

var (
	typeString   = gcheap.RegisterType()
	typeArray    = gcheap.RegisterType()
	typeTuple    = gcheap.RegisterType()
	typeInstance = gcheap.RegisterType()
	typeClosure  = gcheap.RegisterType()
)

// TypeString, TypeArray, TypeTuple, TypeInstance, and TypeClosure are the
// gcheap.TypeID values assigned to each object kind, exposed for callers
// that need to branch on Header.TypeID without a type switch.
var (
	TypeString   = typeString
	TypeArray    = typeArray
	TypeTuple    = typeTuple
	TypeInstance = typeInstance
	TypeClosure  = typeClosure
)

// StringObj is a heap-allocated string. Strings hold no pointers, so
// they report gcheap.NoPointers.
type StringObj struct {
	header gcheap.Header
	Data   string
}

func (s *StringObj) GcHeader() *gcheap.Header  { return &s.header }
func (s *StringObj) PointerMap() gcheap.PointerMap { return gcheap.NoPointers() }

// NewString allocates a string object on heap.
func NewString(heap *gcheap.Heap, s string) (value.Value, error) {
	obj := &StringObj{Data: s}
	return heap.Allocate(obj, typeString, unsafeSizeString(s))
}

func unsafeSizeString(s string) uintptr {
	return uintptr(len(s)) + 16
}

// ArrayObj is a heap-allocated resizable array of Values, every slot of
// which may hold a pointer.
type ArrayObj struct {
	header gcheap.Header
	Elems  []value.Value
}

func (a *ArrayObj) GcHeader() *gcheap.Header      { return &a.header }
func (a *ArrayObj) PointerMap() gcheap.PointerMap { return gcheap.AllPointers(len(a.Elems)) }
func (a *ArrayObj) GcFields() []value.Value       { return a.Elems }

// NewArray allocates an array object copying elems.
func NewArray(heap *gcheap.Heap, elems []value.Value) (value.Value, error) {
	cp := make([]value.Value, len(elems))
	copy(cp, elems)
	obj := &ArrayObj{Elems: cp}
	return heap.Allocate(obj, typeArray, uintptr(len(cp))*8+24)
}

// TupleObj is a fixed-size, immutable Value sequence (no append/resize),
// used for destructuring and multi-return results.
type TupleObj struct {
	header gcheap.Header
	Elems  []value.Value
}

func (t *TupleObj) GcHeader() *gcheap.Header      { return &t.header }
func (t *TupleObj) PointerMap() gcheap.PointerMap { return gcheap.AllPointers(len(t.Elems)) }
func (t *TupleObj) GcFields() []value.Value       { return t.Elems }

// NewTuple allocates a tuple object copying elems.
func NewTuple(heap *gcheap.Heap, elems []value.Value) (value.Value, error) {
	cp := make([]value.Value, len(elems))
	copy(cp, elems)
	obj := &TupleObj{Elems: cp}
	return heap.Allocate(obj, typeTuple, uintptr(len(cp))*8+24)
}

// Instance is a heap-allocated class instance: a class id plus a fixed
// field vector sized by the class's FieldCount (including inherited
// fields laid out by the module loader).
type Instance struct {
	header  gcheap.Header
	ClassID int
	Fields  []value.Value
}

func (o *Instance) GcHeader() *gcheap.Header      { return &o.header }
func (o *Instance) PointerMap() gcheap.PointerMap { return gcheap.AllPointers(len(o.Fields)) }
func (o *Instance) GcFields() []value.Value       { return o.Fields }

// NewInstance allocates a zero-initialized instance with fieldCount null
// fields.
func NewInstance(heap *gcheap.Heap, classID, fieldCount int) (value.Value, error) {
	fields := make([]value.Value, fieldCount)
	for i := range fields {
		fields[i] = value.Null()
	}
	obj := &Instance{ClassID: classID, Fields: fields}
	return heap.Allocate(obj, typeInstance, uintptr(fieldCount)*8+24)
}

// Closure is a heap-allocated function value: the function index it
// invokes plus the Values it captured at MakeClosure time.
type Closure struct {
	header     gcheap.Header
	FunctionID uint32
	Captured   []value.Value
}

func (c *Closure) GcHeader() *gcheap.Header      { return &c.header }
func (c *Closure) PointerMap() gcheap.PointerMap { return gcheap.AllPointers(len(c.Captured)) }
func (c *Closure) GcFields() []value.Value       { return c.Captured }

// NewClosure allocates a closure capturing captured.
func NewClosure(heap *gcheap.Heap, functionID uint32, captured []value.Value) (value.Value, error) {
	cp := make([]value.Value, len(captured))
	copy(cp, captured)
	obj := &Closure{FunctionID: functionID, Captured: cp}
	return heap.Allocate(obj, typeClosure, uintptr(len(cp))*8+32)
}

var (
	typeMutexHandle = gcheap.RegisterType()
	typeChanHandle  = gcheap.RegisterType()
	typeSemHandle   = gcheap.RegisterType()
	typeTaskHandle  = gcheap.RegisterType()
)

// MutexHandle, ChanHandle, and SemHandle wrap a scheduler-side
// synchronization primitive id in a heap object so NewMutex/NewChannel/
// NewSemaphore can hand the interpreter an ordinary pointer Value
// instead of widening the NaN-boxed representation with a fifth tag.
// None holds any pointer fields.
type MutexHandle struct {
	header gcheap.Header
	ID     uint64
}

func (h *MutexHandle) GcHeader() *gcheap.Header      { return &h.header }
func (h *MutexHandle) PointerMap() gcheap.PointerMap { return gcheap.NoPointers() }

// NewMutexHandle allocates a handle wrapping id.
func NewMutexHandle(heap *gcheap.Heap, id uint64) (value.Value, error) {
	return heap.Allocate(&MutexHandle{ID: id}, typeMutexHandle, 24)
}

// AsMutexHandle resolves v to its MutexHandle, if v is a pointer to one.
func AsMutexHandle(heap *gcheap.Heap, v value.Value) (*MutexHandle, bool) {
	obj, ok := heap.Lookup(v)
	if !ok {
		return nil, false
	}
	h, ok := obj.(*MutexHandle)
	return h, ok
}

type ChanHandle struct {
	header gcheap.Header
	ID     uint64
}

func (h *ChanHandle) GcHeader() *gcheap.Header      { return &h.header }
func (h *ChanHandle) PointerMap() gcheap.PointerMap { return gcheap.NoPointers() }

// NewChanHandle allocates a handle wrapping id.
func NewChanHandle(heap *gcheap.Heap, id uint64) (value.Value, error) {
	return heap.Allocate(&ChanHandle{ID: id}, typeChanHandle, 24)
}

// AsChanHandle resolves v to its ChanHandle, if v is a pointer to one.
func AsChanHandle(heap *gcheap.Heap, v value.Value) (*ChanHandle, bool) {
	obj, ok := heap.Lookup(v)
	if !ok {
		return nil, false
	}
	h, ok := obj.(*ChanHandle)
	return h, ok
}

type SemHandle struct {
	header gcheap.Header
	ID     uint64
}

func (h *SemHandle) GcHeader() *gcheap.Header      { return &h.header }
func (h *SemHandle) PointerMap() gcheap.PointerMap { return gcheap.NoPointers() }

// NewSemHandle allocates a handle wrapping id.
func NewSemHandle(heap *gcheap.Heap, id uint64) (value.Value, error) {
	return heap.Allocate(&SemHandle{ID: id}, typeSemHandle, 24)
}

// AsSemHandle resolves v to its SemHandle, if v is a pointer to one.
func AsSemHandle(heap *gcheap.Heap, v value.Value) (*SemHandle, bool) {
	obj, ok := heap.Lookup(v)
	if !ok {
		return nil, false
	}
	h, ok := obj.(*SemHandle)
	return h, ok
}

// TaskHandle wraps a spawned task's id so Spawn/SpawnClosure can hand
// the interpreter an ordinary pointer Value to pass to Await.
type TaskHandle struct {
	header gcheap.Header
	ID     uint64
}

func (h *TaskHandle) GcHeader() *gcheap.Header      { return &h.header }
func (h *TaskHandle) PointerMap() gcheap.PointerMap { return gcheap.NoPointers() }

// NewTaskHandle allocates a handle wrapping id.
func NewTaskHandle(heap *gcheap.Heap, id uint64) (value.Value, error) {
	return heap.Allocate(&TaskHandle{ID: id}, typeTaskHandle, 24)
}

// AsTaskHandle resolves v to its TaskHandle, if v is a pointer to one.
func AsTaskHandle(heap *gcheap.Heap, v value.Value) (*TaskHandle, bool) {
	obj, ok := heap.Lookup(v)
	if !ok {
		return nil, false
	}
	h, ok := obj.(*TaskHandle)
	return h, ok
}

// AsString resolves v to its StringObj, if v is a pointer to one.
func AsString(heap *gcheap.Heap, v value.Value) (*StringObj, bool) {
	obj, ok := heap.Lookup(v)
	if !ok {
		return nil, false
	}
	s, ok := obj.(*StringObj)
	return s, ok
}

// AsArray resolves v to its ArrayObj, if v is a pointer to one.
func AsArray(heap *gcheap.Heap, v value.Value) (*ArrayObj, bool) {
	obj, ok := heap.Lookup(v)
	if !ok {
		return nil, false
	}
	a, ok := obj.(*ArrayObj)
	return a, ok
}

// AsTuple resolves v to its TupleObj, if v is a pointer to one.
func AsTuple(heap *gcheap.Heap, v value.Value) (*TupleObj, bool) {
	obj, ok := heap.Lookup(v)
	if !ok {
		return nil, false
	}
	t, ok := obj.(*TupleObj)
	return t, ok
}

// AsInstance resolves v to its Instance, if v is a pointer to one.
func AsInstance(heap *gcheap.Heap, v value.Value) (*Instance, bool) {
	obj, ok := heap.Lookup(v)
	if !ok {
		return nil, false
	}
	inst, ok := obj.(*Instance)
	return inst, ok
}

// AsClosure resolves v to its Closure, if v is a pointer to one.
func AsClosure(heap *gcheap.Heap, v value.Value) (*Closure, bool) {
	obj, ok := heap.Lookup(v)
	if !ok {
		return nil, false
	}
	c, ok := obj.(*Closure)
	return c, ok
}
