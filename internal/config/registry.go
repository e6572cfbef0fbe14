package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/wardline/wardline/pkg/provider/embeddings"
	embedoai "github.com/wardline/wardline/pkg/provider/embeddings/openai"
	embedollama "github.com/wardline/wardline/pkg/provider/embeddings/ollama"
)

// ErrProviderNotRegistered is returned by [Registry.CreateEmbeddings] when no
// factory has been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu         sync.RWMutex
	embeddings map[string]func(ProviderEntry) (embeddings.Provider, error)
}

// NewRegistry returns a [Registry] pre-populated with the built-in embedding
// providers ("openai" and "ollama").
func NewRegistry() *Registry {
	r := &Registry{
		embeddings: make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
	}
	r.RegisterEmbeddings("openai", newOpenAIEmbeddings)
	r.RegisterEmbeddings("ollama", newOllamaEmbeddings)
	return r
}

// RegisterEmbeddings registers an embedding provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embeddings[name] = factory
}

// CreateEmbeddings instantiates the embedding provider selected by entry.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embeddings[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings provider %q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

func newOpenAIEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	var opts []embedoai.Option
	if entry.BaseURL != "" {
		opts = append(opts, embedoai.WithBaseURL(entry.BaseURL))
	}
	return embedoai.New(entry.APIKey, entry.Model, opts...)
}

func newOllamaEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	return embedollama.New(entry.BaseURL, entry.Model)
}
