// Package module defines the in-memory representation of a loaded .ryb
// unit — constant pool, functions, classes, exports/imports — and its
// binary reader/writer (§6).
package module

// Function is one callable compiled unit: parameter/local counts for
// frame sizing, and its bytecode body.
type Function struct {
	Name       string
	ParamCount uint8
	LocalCount uint16
	RegCount   uint16
	Code       []byte
	Register   bool // true if Code uses the register-based opcode set
}

// Method is one vtable slot override: function FunctionID installed at
// Slot.
type Method struct {
	Slot       uint16
	FunctionID uint32
}

// Class is a type's shape and virtual dispatch table. ParentID is -1
// for a root class; a class's vtable is its parent's vtable extended
// and overridden by its own Methods.
type Class struct {
	Name       string
	FieldCount uint16
	ParentID   int32
	Methods    []Method
}

// SymbolKind distinguishes what an export's Index refers to.
type SymbolKind uint8

const (
	SymbolFunction SymbolKind = iota
	SymbolClass
	SymbolConstant
)

// Export is a named symbol a module makes available to importers.
type Export struct {
	Name  string
	Kind  SymbolKind
	Index uint32
}

// Import is a reference to another module's export, optionally
// constrained to a version range and locally aliased.
type Import struct {
	Specifier  string
	Symbol     string
	Alias      string // empty if not aliased
	Constraint string // empty if unconstrained
}

// ConstantPool holds the three primitive constant arenas bytecode's
// ConstI32/ConstF64/ConstStr operands index into.
type ConstantPool struct {
	Integers []int32
	Floats   []float64
	Strings  []string
}

// Module is a fully loaded, checksum-verified compilation unit.
type Module struct {
	Name  string
	Flags uint32
	Pool  ConstantPool

	Functions []Function
	Classes   []Class
	Exports   []Export
	Imports   []Import

	NativeNames []string
	SourceFile  string // empty if unavailable

	Checksum [32]byte
}

// ClassByIndex returns class id's definition, or false if out of range.
func (m *Module) ClassByIndex(id int) (*Class, bool) {
	if id < 0 || id >= len(m.Classes) {
		return nil, false
	}
	return &m.Classes[id], true
}

// ClassIndexByName resolves a class's declared name to its index,
// linear-scanning since classes per module are few and this is a
// link-time/diagnostic operation, not a per-opcode hot path.
func (m *Module) ClassIndexByName(name string) (int, bool) {
	for i := range m.Classes {
		if m.Classes[i].Name == name {
			return i, true
		}
	}
	return 0, false
}

// FunctionIndexByName resolves a function's declared name to its index,
// same linear-scan justification as ClassIndexByName.
func (m *Module) FunctionIndexByName(name string) (int, bool) {
	for i := range m.Functions {
		if m.Functions[i].Name == name {
			return i, true
		}
	}
	return 0, false
}

// VtableOf resolves class id's full virtual dispatch table, inheriting
// slots from its parent chain and applying this class's own Method
// overrides by slot index.
func (m *Module) VtableOf(classID int) []uint32 {
	if classID < 0 || classID >= len(m.Classes) {
		return nil
	}
	c := m.Classes[classID]

	var vtable []uint32
	if c.ParentID >= 0 {
		vtable = append(vtable, m.VtableOf(int(c.ParentID))...)
	}
	for _, meth := range c.Methods {
		for len(vtable) <= int(meth.Slot) {
			vtable = append(vtable, 0)
		}
		vtable[meth.Slot] = meth.FunctionID
	}
	return vtable
}
