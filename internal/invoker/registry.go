package invoker

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/windowchat/stream-gateway/internal/prompt"
)

// Registry maps model names to invokers. Invokers are registered at startup
// by the composition root; lookups are read-only afterwards.
type Registry struct {
	mu       sync.RWMutex
	invokers map[string]Invoker
	fallback string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{invokers: make(map[string]Invoker)}
}

// Register adds inv under its name. The first registered invoker becomes the
// fallback for requests that name no model.
func (r *Registry) Register(inv Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.invokers) == 0 {
		r.fallback = inv.Name()
	}
	r.invokers[inv.Name()] = inv
	log.Info().Str("provider", inv.Name()).Msg("model invoker registered")
}

// Get resolves a model name; an empty name resolves to the fallback.
func (r *Registry) Get(name string) (Invoker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.fallback
	}
	inv, ok := r.invokers[name]
	return inv, ok
}

// Names lists registered providers in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.invokers))
	for name := range r.invokers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AllResult is one provider's answer from GenerateAll.
type AllResult struct {
	Provider string
	Text     string
	Err      error
}

// GenerateAll asks every registered provider concurrently and returns all
// answers ordered by provider name. Individual failures are carried in the
// result rather than aborting the rest.
func (r *Registry) GenerateAll(ctx context.Context, turns []prompt.Turn) []AllResult {
	names := r.Names()
	results := make([]AllResult, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		inv, _ := r.Get(name)
		wg.Add(1)
		go func(i int, inv Invoker) {
			defer wg.Done()
			text, err := inv.Generate(ctx, turns)
			results[i] = AllResult{Provider: inv.Name(), Text: text, Err: err}
		}(i, inv)
	}
	wg.Wait()
	return results
}
