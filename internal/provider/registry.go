package provider

import (
	"fmt"
	"sync"
)

// Registry holds one constructed adapter per configured vendor. It is
// populated once at startup and read many times concurrently thereafter.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ProviderFactory
	providers map[string]Provider
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		factories: make(map[string]ProviderFactory),
		providers: make(map[string]Provider),
	}
}

// RegisterFactory associates a vendor name with the constructor for its
// adapter. Called once per known vendor during startup wiring.
func (r *Registry) RegisterFactory(name string, factory ProviderFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// CreateProvider constructs and registers a provider instance for a vendor
// that has a factory registered and a configuration supplied (i.e., an API
// key was present in the environment).
func (r *Registry) CreateProvider(cfg ProviderConfig) (Provider, error) {
	r.mu.RLock()
	factory, ok := r.factories[cfg.Name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("unknown provider: %s", cfg.Name)
	}

	p, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("create provider %s: %w", cfg.Name, err)
	}

	r.mu.Lock()
	r.providers[cfg.Name] = p
	r.mu.Unlock()

	return p, nil
}

// GetProvider returns the adapter registered for vendor, if any.
func (r *Registry) GetProvider(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

// ListProviders returns the names of every registered vendor.
func (r *Registry) ListProviders() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}
