package clients

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Factory builds a Provider for one backend.
type Factory func(ctx context.Context, opts Options) (Provider, error)

// Registry maps provider names to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds or replaces a backend.
func (r *Registry) Register(name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

// New builds the provider named by opts.Provider.
func (r *Registry) New(ctx context.Context, opts Options) (Provider, error) {
	r.mu.RLock()
	f, ok := r.factories[opts.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (available: %v)", opts.Provider, r.Names())
	}
	p, err := f(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to init %s provider: %w", opts.Provider, err)
	}
	return p, nil
}

// Names lists registered backends in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Default holds the built-in backends.
var Default = NewRegistry()

func init() {
	Default.Register("google", NewGemini)
	Default.Register("googleai", langChainFactory("googleai"))
	Default.Register("openai", langChainFactory("openai"))
	Default.Register("anthropic", langChainFactory("anthropic"))
	Default.Register("ollama", langChainFactory("ollama"))
}

// Register adds a backend to the default registry.
func Register(name string, f Factory) {
	Default.Register(name, f)
}

// New builds a provider from the default registry.
func New(ctx context.Context, opts Options) (Provider, error) {
	return Default.New(ctx, opts)
}
