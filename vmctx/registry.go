package vmctx

import (
	"sync"

	"raya/internal/module"
)

// ModuleRegistry is the VM-wide table of loaded modules, keyed both by
// name and by content checksum so a second load of the same bytes is
// idempotent (§8 scenario 6): ByName and ByChecksum both
// return the original instance rather than a fresh copy.
type ModuleRegistry struct {
	mu         sync.RWMutex
	byChecksum map[[32]byte]*module.Module
	byName     map[string]*module.Module
}

// NewModuleRegistry creates an empty module registry.
func NewModuleRegistry() *ModuleRegistry {
	return &ModuleRegistry{
		byChecksum: make(map[[32]byte]*module.Module),
		byName:     make(map[string]*module.Module),
	}
}

// Register adds m to the registry, or returns the already-registered
// module sharing its checksum if one exists. Either way the returned
// module is the one callers should treat as canonical.
func (r *ModuleRegistry) Register(m *module.Module) *module.Module {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byChecksum[m.Checksum]; ok {
		return existing
	}
	r.byChecksum[m.Checksum] = m
	r.byName[m.Name] = m
	return m
}

// ByName resolves a loaded module by its declared name.
func (r *ModuleRegistry) ByName(name string) (*module.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byName[name]
	return m, ok
}

// ByChecksum resolves a loaded module by its SHA-256 content checksum.
func (r *ModuleRegistry) ByChecksum(sum [32]byte) (*module.Module, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byChecksum[sum]
	return m, ok
}
