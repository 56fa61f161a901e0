package farm

import (
	"sort"
	"sync"
)

// Registry is the service directory: negotiation rounds look up supplier and
// buyer endpoints here instead of a process-wide global. Owned by the farm
// assembly and torn down with it.
type Registry struct {
	mu       sync.RWMutex
	services map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{services: map[string]map[string]struct{}{}}
}

func (r *Registry) Register(kind, endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	set, ok := r.services[kind]
	if !ok {
		set = map[string]struct{}{}
		r.services[kind] = set
	}
	set[endpoint] = struct{}{}
}

func (r *Registry) Deregister(kind, endpoint string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.services[kind], endpoint)
}

// Lookup returns the registered endpoints for kind, sorted for deterministic
// fan-out order.
func (r *Registry) Lookup(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.services[kind]))
	for name := range r.services[kind] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
