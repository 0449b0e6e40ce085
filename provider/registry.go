package provider

import (
	"sort"
	"sync"

	"github.com/BaSui01/membench/types"
)

// Factory builds a provider instance. The registry is passed back in so
// aggregate providers (ensemble) can construct their sub-providers.
type Factory func(reg *Registry) (Provider, error)

// Registry maps provider names to factories. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under name, replacing any previous registration.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New builds the named provider. Unknown names are configuration errors.
func (r *Registry) New(name string) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, types.NewErrorf(types.ErrUnknownProvider, "unknown provider %q (known: %v)", name, r.Names())
	}
	return f(r)
}

// Names returns the registered provider names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for n := range r.factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
