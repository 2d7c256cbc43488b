// Package adapter resolves the closed provider set to concrete adapter
// implementations. Resolution happens once at request admission; adapters
// are never re-dispatched per chunk.
package adapter

import (
	"fmt"

	"github.com/davidbz/hestia/internal/adapter/anthropic"
	"github.com/davidbz/hestia/internal/adapter/azure"
	"github.com/davidbz/hestia/internal/adapter/fastgpt"
	"github.com/davidbz/hestia/internal/adapter/openai"
	"github.com/davidbz/hestia/internal/domain"
)

// Factory implements domain.AdapterResolver over the closed provider set.
type Factory struct {
	adapters map[domain.Provider]domain.Adapter
}

// NewFactory creates a factory with all supported provider families
// registered.
func NewFactory() *Factory {
	adapters := make(map[domain.Provider]domain.Adapter)
	for _, a := range []domain.Adapter{
		openai.NewAdapter(),
		azure.NewAdapter(),
		anthropic.NewAdapter(),
		fastgpt.NewAdapter(),
	} {
		adapters[a.Provider()] = a
	}

	return &Factory{adapters: adapters}
}

// Resolve returns the adapter for the given provider family.
func (f *Factory) Resolve(provider domain.Provider) (domain.Adapter, error) {
	a, exists := f.adapters[provider]
	if !exists {
		return nil, &domain.ValidationError{
			Reason: fmt.Sprintf("unsupported provider %q", provider),
		}
	}
	return a, nil
}
