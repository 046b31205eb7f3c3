package reflect

import "raya/internal/module"

// Registry is the metadata store for reflection a VmContext owns
// alongside its class registry: one ClassMetadata per loaded class,
// built lazily on first query and cached, mirroring the original's
// ClassMetadataRegistry::get_or_create.
type Registry struct {
	mod     *module.Module
	classes map[int]*ClassMetadata
}

// New creates a reflection registry over mod's class table. mod must
// outlive the registry; nothing here copies its function/class slices.
func New(mod *module.Module) *Registry {
	return &Registry{mod: mod, classes: make(map[int]*ClassMetadata)}
}

// ClassMetadata returns classID's metadata, building and caching it on
// first access. Reports false if classID is out of range.
func (r *Registry) ClassMetadata(classID int) (*ClassMetadata, bool) {
	if md, ok := r.classes[classID]; ok {
		return md, true
	}
	md, ok := buildMetadata(r.mod, classID)
	if !ok {
		return nil, false
	}
	r.classes[classID] = &md
	return &md, true
}

// ClassByName resolves a class's declared name to its metadata.
func (r *Registry) ClassByName(name string) (*ClassMetadata, bool) {
	id, ok := r.mod.ClassIndexByName(name)
	if !ok {
		return nil, false
	}
	return r.ClassMetadata(id)
}

// AllClasses returns every loaded class's metadata, in declaration
// order, mirroring getAllClasses (original Native Call ID 0x0D12).
func (r *Registry) AllClasses() []*ClassMetadata {
	out := make([]*ClassMetadata, len(r.mod.Classes))
	for i := range r.mod.Classes {
		md, _ := r.ClassMetadata(i)
		out[i] = md
	}
	return out
}

// IsSubclassOf reports whether classID's ancestor chain includes
// ancestorID, itself included (original Native Call ID 0x0D14).
func (r *Registry) IsSubclassOf(classID, ancestorID int) bool {
	for classID >= 0 {
		if classID == ancestorID {
			return true
		}
		class, ok := r.mod.ClassByIndex(classID)
		if !ok {
			return false
		}
		classID = int(class.ParentID)
	}
	return false
}
