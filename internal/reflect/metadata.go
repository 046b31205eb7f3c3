// Package reflect is the class-metadata introspection store §3 names
// as part of a VmContext: "a metadata store for reflection" sitting
// alongside the class registry, global table, and capability registry.
// It derives its metadata from a loaded module's own Class/Function
// tables rather than requiring a separate compiler-emitted section, and
// answers the same shape of query the original's getClass/isInstanceOf/
// isSubclassOf/getAllClasses native calls did.
package reflect

import "raya/internal/module"

// FieldInfo describes one field slot on a class. Field names aren't
// part of the module format (only a count is), so Name is empty unless
// a caller has supplied one through WithFieldNames; code that only
// needs field counts and indices (array destructuring, auto-generated
// accessors) works fine without them.
type FieldInfo struct {
	Index int
	Name  string
}

// MethodInfo describes one vtable slot, resolved to the function that
// currently occupies it.
type MethodInfo struct {
	Slot       int
	FunctionID uint32
	Name       string
}

// ClassMetadata is the reflection-queryable shape of a single loaded
// class: its name, field layout, full (inherited + overridden) vtable,
// and its ancestor chain, mirroring the original's ClassMetadata but
// populated from module.Module rather than a compiler-emitted table.
type ClassMetadata struct {
	ClassID  int
	Name     string
	ParentID int32

	Fields  []FieldInfo
	Methods []MethodInfo

	fieldIndex  map[string]int
	methodIndex map[string]int
}

// FieldByName resolves a named field to its index, when field names
// have been supplied via WithFieldNames.
func (m *ClassMetadata) FieldByName(name string) (int, bool) {
	i, ok := m.fieldIndex[name]
	return i, ok
}

// MethodByName resolves a named method to its vtable slot.
func (m *ClassMetadata) MethodByName(name string) (int, bool) {
	i, ok := m.methodIndex[name]
	return i, ok
}

// HasField reports whether name names a known field.
func (m *ClassMetadata) HasField(name string) bool {
	_, ok := m.fieldIndex[name]
	return ok
}

// HasMethod reports whether name names a known method.
func (m *ClassMetadata) HasMethod(name string) bool {
	_, ok := m.methodIndex[name]
	return ok
}

func buildMetadata(mod *module.Module, classID int) (ClassMetadata, bool) {
	class, ok := mod.ClassByIndex(classID)
	if !ok {
		return ClassMetadata{}, false
	}
	md := ClassMetadata{
		ClassID:     classID,
		Name:        class.Name,
		ParentID:    class.ParentID,
		fieldIndex:  make(map[string]int),
		methodIndex: make(map[string]int),
	}
	md.Fields = make([]FieldInfo, class.FieldCount)
	for i := range md.Fields {
		md.Fields[i] = FieldInfo{Index: i}
	}

	vtable := mod.VtableOf(classID)
	md.Methods = make([]MethodInfo, len(vtable))
	for slot, fnID := range vtable {
		name := ""
		if int(fnID) < len(mod.Functions) {
			name = mod.Functions[fnID].Name
		}
		md.Methods[slot] = MethodInfo{Slot: slot, FunctionID: fnID, Name: name}
		if name != "" {
			md.methodIndex[name] = slot
		}
	}
	return md, true
}

// WithFieldNames attaches names to a class's field slots in the order
// compiled field declarations appear, the way the original's compiler
// populates ClassMetadata.field_names under --emit-reflection. A
// caller that never supplies names still gets working index-based
// Fields; this only enriches FieldByName/HasField.
func (m *ClassMetadata) WithFieldNames(names []string) {
	for i, name := range names {
		if i >= len(m.Fields) {
			break
		}
		m.Fields[i].Name = name
		if name != "" {
			m.fieldIndex[name] = i
		}
	}
}
