package provider

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"tradedesk/internal/config"
	"tradedesk/internal/domain"
)

// ErrNotConfigured marks a provider that is disabled or missing credentials.
// The loop turns this into a terminal textual error turn for the agents that
// wanted it, so one unconfigured provider never aborts a round.
var ErrNotConfigured = errors.New("provider not configured")

// Constructor creates an adapter from a config entry.
type Constructor func(pc config.ProviderConfig, logger *slog.Logger) domain.Adapter

// Factory creates and caches provider adapters from config. Construction is
// explicit and happens at startup wiring, not lazily off environment
// variables, so missing credentials surface here rather than deep inside a
// tool call.
type Factory struct {
	cfg          *config.Config
	logger       *slog.Logger
	constructors map[domain.ProviderKind]Constructor
	cache        map[domain.ProviderKind]domain.Adapter
	mu           sync.RWMutex
}

// NewFactory creates an adapter factory with the built-in constructors
// registered.
func NewFactory(cfg *config.Config, logger *slog.Logger) *Factory {
	f := &Factory{
		cfg:          cfg,
		logger:       logger,
		constructors: make(map[domain.ProviderKind]Constructor),
		cache:        make(map[domain.ProviderKind]domain.Adapter),
	}
	f.registerDefaults()
	return f
}

// RegisterConstructor adds (or replaces) a constructor for a kind. Tests use
// this to inject fakes.
func (f *Factory) RegisterConstructor(kind domain.ProviderKind, ctor Constructor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.constructors[kind] = ctor
	delete(f.cache, kind)
}

func (f *Factory) registerDefaults() {
	f.constructors[domain.ProviderChat] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Adapter {
		return NewChatAdapter(ChatConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger})
	}
	f.constructors[domain.ProviderGenerate] = func(pc config.ProviderConfig, logger *slog.Logger) domain.Adapter {
		return NewGenerateAdapter(GenerateConfig{APIKey: pc.APIKey, APIBase: pc.APIBase, Model: pc.DefaultModel, Logger: logger})
	}
}

// Get returns the adapter for the given kind. Created adapters are cached so
// the same instance is reused across calls. Uses double-check locking to
// avoid TOCTOU races.
func (f *Factory) Get(kind domain.ProviderKind) (domain.Adapter, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("unknown provider kind: %s", kind)
	}

	// Fast path: read lock.
	f.mu.RLock()
	if cached, ok := f.cache[kind]; ok {
		f.mu.RUnlock()
		return cached, nil
	}
	f.mu.RUnlock()

	// Slow path: write lock with double-check.
	f.mu.Lock()
	defer f.mu.Unlock()

	if cached, ok := f.cache[kind]; ok {
		return cached, nil
	}

	pc := f.providerConfig(kind)
	if !pc.Enabled {
		return nil, fmt.Errorf("%s provider is disabled: %w", kind, ErrNotConfigured)
	}
	if pc.APIKey == "" {
		return nil, fmt.Errorf("%s provider has no API key: %w", kind, ErrNotConfigured)
	}

	ctor, ok := f.constructors[kind]
	if !ok {
		return nil, fmt.Errorf("no constructor registered for provider kind %s", kind)
	}

	a := ctor(pc, f.logger)
	f.cache[kind] = a
	return a, nil
}

func (f *Factory) providerConfig(kind domain.ProviderKind) config.ProviderConfig {
	switch kind {
	case domain.ProviderGenerate:
		return f.cfg.Providers.Generate
	default:
		return f.cfg.Providers.Chat
	}
}

// RateLimitPerMin returns the configured per-minute call budget for a kind,
// zero when unset.
func (f *Factory) RateLimitPerMin(kind domain.ProviderKind) int {
	return f.providerConfig(kind).RateLimitPerMin
}
