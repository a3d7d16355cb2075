package llm

import (
	"fmt"
	"slices"
	"sync"

	"chatstream/internal/domain"
)

// Registry holds the configured streaming providers by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]domain.StreamingLLMProvider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]domain.StreamingLLMProvider)}
}

// Register adds p under its Name. Names are unique.
func (r *Registry) Register(p domain.StreamingLLMProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[p.Name()]; ok {
		return fmt.Errorf("provider %q already registered", p.Name())
	}
	r.providers[p.Name()] = p
	return nil
}

// Get returns the provider called name or a domain.ErrProviderNotFound error.
func (r *Registry) Get(name string) (domain.StreamingLLMProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.providers[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrProviderNotFound, name)
	}
	return p, nil
}

// List returns the registered names in sorted order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
