package reflect

import (
	"raya/internal/gcheap"
	"raya/internal/rtobject"
	"raya/value"
)

// ClassOf reports the class a heap-allocated instance was constructed
// with, the query the original exposed as getClass (Native Call ID
// 0x0D10). Non-instance values (primitives, strings, arrays, closures)
// report false: they carry no class.
func ClassOf(heap *gcheap.Heap, v value.Value) (int, bool) {
	inst, ok := rtobject.AsInstance(heap, v)
	if !ok {
		return 0, false
	}
	return inst.ClassID, true
}

// IsInstanceOf reports whether v was constructed from classID or one
// of its subclasses, the original's isInstanceOf type guard (Native
// Call ID 0x0D15).
func (r *Registry) IsInstanceOf(heap *gcheap.Heap, v value.Value, classID int) bool {
	actual, ok := ClassOf(heap, v)
	if !ok {
		return false
	}
	return r.IsSubclassOf(actual, classID)
}
