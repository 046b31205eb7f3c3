package gcheap

import "raya/value"

// PointerMapKind selects which PointerMap variant is active.
type PointerMapKind int

const (
	// MapNone: no pointers in this type (primitives, strings).
	MapNone PointerMapKind = iota
	// MapAll: the first Count value slots are all pointers (Object[]-style
	// arrays of Value where every slot may reference the heap).
	MapAll
	// MapOffsets: only the value slots named in Offsets hold pointers
	// (mixed-field objects).
	MapOffsets
	// MapArray: a nested structure — Length elements, each described by
	// Element.
	MapArray
)

// PointerMap describes where pointer-valued Value slots live inside an
// object's field vector, letting the tracer walk the heap precisely
// instead of conservatively scanning every slot.
type PointerMap struct {
	Kind    PointerMapKind
	Count   int   // MapAll
	Offsets []int // MapOffsets: slot indices, not byte offsets (see NewOffsets)
	Length  int   // MapArray
	Element *PointerMap
}

// NoPointers is the PointerMap for types with no heap references.
func NoPointers() PointerMap { return PointerMap{Kind: MapNone} }

// AllPointers describes a field vector of count consecutive pointer
// slots, used for arrays of Value (every element may be a heap pointer).
func AllPointers(count int) PointerMap { return PointerMap{Kind: MapAll, Count: count} }

// OffsetPointers describes a field vector where only the slots at the
// given indices hold pointers.
func OffsetPointers(offsets []int) PointerMap {
	return PointerMap{Kind: MapOffsets, Offsets: offsets}
}

// ArrayPointers describes length repetitions of element, used for nested
// structures such as an array of arrays.
func ArrayPointers(length int, element PointerMap) PointerMap {
	return PointerMap{Kind: MapArray, Length: length, Element: &element}
}

// HasPointers reports whether the map has any pointer-bearing slots.
func (m PointerMap) HasPointers() bool {
	switch m.Kind {
	case MapNone:
		return false
	case MapAll:
		return m.Count > 0
	case MapOffsets:
		return len(m.Offsets) > 0
	case MapArray:
		return m.Length > 0 && m.Element.HasPointers()
	default:
		return false
	}
}

// PointerCount returns the total number of pointer slots the map
// describes.
func (m PointerMap) PointerCount() int {
	switch m.Kind {
	case MapNone:
		return 0
	case MapAll:
		return m.Count
	case MapOffsets:
		return len(m.Offsets)
	case MapArray:
		return m.Length * m.Element.PointerCount()
	default:
		return 0
	}
}

// Walk calls yield for every pointer-valued Value slot the map
// identifies within fields, skipping slots that do not in fact hold a
// pointer (e.g. a mixed-field object whose pointer slot currently holds
// null). Slots beyond len(fields) are ignored defensively.
func (m PointerMap) Walk(fields []value.Value, yield func(value.Value)) {
	switch m.Kind {
	case MapNone:
		return
	case MapAll:
		for i := 0; i < m.Count && i < len(fields); i++ {
			walkSlot(fields[i], yield)
		}
	case MapOffsets:
		for _, off := range m.Offsets {
			if off >= 0 && off < len(fields) {
				walkSlot(fields[off], yield)
			}
		}
	case MapArray:
		// Each element occupies one Value slot; recurse with the same
		// element map (Value-sized elements, so the nested map applies to
		// the single slot directly).
		for i := 0; i < m.Length && i < len(fields); i++ {
			m.Element.Walk(fields[i:i+1], yield)
		}
	}
}

func walkSlot(v value.Value, yield func(value.Value)) {
	if value.IsPtr(v) {
		yield(v)
	}
}
