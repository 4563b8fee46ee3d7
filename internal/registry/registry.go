// Package registry names, holds, and describes the installed TTS engines,
// and stores the per-language engine priority lists ("policies") the router
// consults.
//
// A Registry is mutated at startup and by admin callbacks only; reads vastly
// outnumber writes, so an RWMutex is sufficient.
package registry

import (
	"fmt"
	"slices"
	"sync"

	"github.com/sedabot/sedabot/pkg/engine"
)

// Registry maps engine names to instances and descriptors and holds the
// per-language policies. Safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	engines     map[string]engine.Engine
	descriptors map[string]engine.Descriptor
	policies    map[string][]string
	defaultPol  []string
}

// New returns an empty, ready-to-use Registry.
func New() *Registry {
	return &Registry{
		engines:     make(map[string]engine.Engine),
		descriptors: make(map[string]engine.Descriptor),
		policies:    make(map[string][]string),
	}
}

// Register adds e under its descriptor name. Registering an existing name
// replaces the previous instance. An empty name is an error.
func (r *Registry) Register(e engine.Engine) error {
	desc := e.Describe()
	if desc.Name == "" {
		return fmt.Errorf("registry: engine descriptor has empty name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.engines[desc.Name] = e
	r.descriptors[desc.Name] = desc
	return nil
}

// Unregister removes the named engine. Removing an absent name is a no-op.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.engines, name)
	delete(r.descriptors, name)
}

// Names returns the sorted names of all registered engines.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Engine returns the named engine instance, or nil when absent. Absence is
// not an error for the router unless no alternatives remain.
func (r *Registry) Engine(name string) engine.Engine {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.engines[name]
}

// Descriptor returns the named engine's capability descriptor.
func (r *Registry) Descriptor(name string) (engine.Descriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.descriptors[name]
	return d, ok
}

// SetPolicy replaces the engine priority list for lang. The list may contain
// names that are not (yet) registered; they are ignored at lookup time.
func (r *Registry) SetPolicy(lang string, names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.policies[lang] = slices.Clone(names)
}

// SetDefaultPolicy replaces the policy applied to languages with no explicit
// entry.
func (r *Registry) SetDefaultPolicy(names []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultPol = slices.Clone(names)
}

// Policy returns the priority list for lang: the explicit entry when one
// exists, else the default policy, else every registered engine name in
// sorted order. The returned slice is owned by the caller.
func (r *Registry) Policy(lang string) []string {
	r.mu.RLock()
	if names, ok := r.policies[lang]; ok {
		defer r.mu.RUnlock()
		return slices.Clone(names)
	}
	if r.defaultPol != nil {
		defer r.mu.RUnlock()
		return slices.Clone(r.defaultPol)
	}
	r.mu.RUnlock()
	return r.Names()
}

// PolicyLanguages returns the sorted language tags with explicit policies.
func (r *Registry) PolicyLanguages() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	langs := make([]string, 0, len(r.policies))
	for lang := range r.policies {
		langs = append(langs, lang)
	}
	slices.Sort(langs)
	return langs
}

// Promote moves name to the front of lang's policy, inserting it when
// absent. Used by the engine-selection callbacks.
func (r *Registry) Promote(lang, name string) {
	current := r.Policy(lang)
	out := make([]string, 0, len(current)+1)
	out = append(out, name)
	for _, n := range current {
		if n != name {
			out = append(out, n)
		}
	}
	r.SetPolicy(lang, out)
}
