package param

import (
	"errors"
	"sync"

	"github.com/takt-audio/takt/pkg/id"
)

// ErrDuplicateName is returned when registering a parameter whose name is
// already taken within the registry.
var ErrDuplicateName = errors.New("parameter name already registered")

// Registry holds the parameters of one processor. Registration happens
// before audio starts; lookups may come from any non-RT thread.
type Registry struct {
	mu     sync.RWMutex
	params map[id.ObjectID]*Parameter
	byName map[string]*Parameter
	order  []id.ObjectID
}

// NewRegistry creates an empty parameter registry.
func NewRegistry() *Registry {
	return &Registry{
		params: make(map[id.ObjectID]*Parameter),
		byName: make(map[string]*Parameter),
	}
}

// Add registers a parameter. Names are unique within a registry; a
// duplicate name fails with ErrDuplicateName.
func (r *Registry) Add(p *Parameter) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[p.Name]; exists {
		return ErrDuplicateName
	}
	r.params[p.ID] = p
	r.byName[p.Name] = p
	r.order = append(r.order, p.ID)
	return nil
}

// Get retrieves a parameter by id, nil if unknown.
func (r *Registry) Get(pid id.ObjectID) *Parameter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.params[pid]
}

// ByName retrieves a parameter by name, nil if unknown.
func (r *Registry) ByName(name string) *Parameter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byName[name]
}

// GetByIndex retrieves a parameter by registration order.
func (r *Registry) GetByIndex(index int) *Parameter {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if index < 0 || index >= len(r.order) {
		return nil
	}
	return r.params[r.order[index]]
}

// Count returns the number of registered parameters.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// All returns every parameter in registration order.
func (r *Registry) All() []*Parameter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Parameter, len(r.order))
	for i, pid := range r.order {
		result[i] = r.params[pid]
	}
	return result
}
