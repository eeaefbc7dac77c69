package platforms

import (
	"fmt"
	"sync"

	"github.com/davidmoltin/site-integrations/internal/models"
)

// Registry holds the adapters of the configured platforms in registration order
type Registry struct {
	mu       sync.RWMutex
	adapters map[models.Platform]Adapter
	order    []models.Platform
}

// NewRegistry creates a registry from the given adapters
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[models.Platform]Adapter)}
	for _, a := range adapters {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for its platform
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := a.Platform()
	if _, exists := r.adapters[p]; !exists {
		r.order = append(r.order, p)
	}
	r.adapters[p] = a
}

// Get returns the adapter for a platform
func (r *Registry) Get(p models.Platform) (Adapter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.adapters[p]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPlatform, p)
	}
	return a, nil
}

// Has reports whether a platform is registered
func (r *Registry) Has(p models.Platform) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.adapters[p]
	return ok
}

// All returns every adapter in registration order
func (r *Registry) All() []Adapter {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Adapter, 0, len(r.order))
	for _, p := range r.order {
		out = append(out, r.adapters[p])
	}
	return out
}

// Platforms returns the registered platform tags in registration order
func (r *Registry) Platforms() []models.Platform {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]models.Platform, len(r.order))
	copy(out, r.order)
	return out
}
