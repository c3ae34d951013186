package flowcontrol

import (
	"sort"
	"sync"

	"github.com/cockroachdb/errors"
)

// Registry holds participant-wide controllers shared by every writer.
type Registry struct {
	mu          sync.RWMutex
	controllers map[string]Controller
	order       []string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{controllers: make(map[string]Controller)}
}

// Register adds a named controller. Registration order is application order.
func (r *Registry) Register(name string, c Controller) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.controllers[name]; ok {
		return errors.Newf("flow controller %q already registered", name)
	}
	r.controllers[name] = c
	r.order = append(r.order, name)
	return nil
}

// Get looks up a controller by name.
func (r *Registry) Get(name string) (Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.controllers[name]
	return c, ok
}

// Resolve returns the named controllers in registration order.
func (r *Registry) Resolve(names []string) ([]Controller, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pos := make(map[string]int, len(r.order))
	for i, n := range r.order {
		pos[n] = i
	}
	sorted := append([]string(nil), names...)
	for _, n := range sorted {
		if _, ok := r.controllers[n]; !ok {
			return nil, errors.Newf("flow controller %q not registered", n)
		}
	}
	sort.SliceStable(sorted, func(a, b int) bool { return pos[sorted[a]] < pos[sorted[b]] })
	out := make([]Controller, 0, len(sorted))
	for _, n := range sorted {
		out = append(out, r.controllers[n])
	}
	return out, nil
}

// Names lists the registered controllers in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// DisableAll disables every registered controller.
func (r *Registry) DisableAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.controllers {
		c.Disable()
	}
}
