package storage

import (
	"fmt"
	"log"
	"sync"
)

// Factory creates providers and remembers which ones failed to come up
// so callers can fall back without retrying a dead configuration.
type Factory struct {
	mu          sync.RWMutex
	custom      map[string]Provider
	unavailable map[string]string
}

// NewFactory creates a storage factory
func NewFactory() *Factory {
	return &Factory{
		custom:      make(map[string]Provider),
		unavailable: make(map[string]string),
	}
}

// Register adds a custom provider under the given name
func (f *Factory) Register(name string, provider Provider) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.custom[name] = provider
}

// MarkUnavailable records that a provider type cannot be used
func (f *Factory) MarkUnavailable(providerType, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unavailable[providerType] = reason
	log.Printf("Storage provider %q marked unavailable: %s", providerType, reason)
}

// Available reports whether a provider type is usable, with the
// failure reason when it is not.
func (f *Factory) Available(providerType string) (bool, string) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	reason, down := f.unavailable[providerType]
	return !down, reason
}

// Create builds and initializes a provider of the given type. An
// initialization failure marks the type unavailable.
func (f *Factory) Create(providerType string, config map[string]string) (Provider, error) {
	if ok, reason := f.Available(providerType); !ok {
		return nil, fmt.Errorf("%s provider is unavailable: %s", providerType, reason)
	}

	var provider Provider
	switch providerType {
	case "local":
		provider = NewLocalProvider()
	case "httpapi", "backend":
		provider = NewHTTPProvider()
	case "r2":
		provider = NewR2Provider()
	case "gcs", "google":
		provider = NewGCSProvider()
	default:
		f.mu.RLock()
		p, ok := f.custom[providerType]
		f.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("unsupported storage provider type: %s", providerType)
		}
		provider = p
	}

	if err := provider.Initialize(config); err != nil {
		f.MarkUnavailable(providerType, err.Error())
		return nil, fmt.Errorf("failed to initialize %s storage provider: %w", providerType, err)
	}
	return provider, nil
}
