package adapter

import (
	"context"
	"fmt"
	"sort"
)

// Factory builds an unopened adapter from a parsed config.
type Factory func(cfg *Config) (Adapter, error)

// factories is the closed registration table keyed by canonical dialect.
// Adapter packages register themselves from init.
var factories = map[string]Factory{}

// Register installs a factory for a dialect. Later registrations for the
// same dialect win, which lets tests swap in fakes.
func Register(dialect string, f Factory) {
	factories[dialect] = f
}

// Registered returns the dialects with live adapter implementations.
func Registered() []string {
	out := make([]string, 0, len(factories))
	for d := range factories {
		out = append(out, d)
	}
	sort.Strings(out)
	return out
}

// New builds an adapter for a parsed config without opening it.
func New(cfg *Config) (Adapter, error) {
	f, ok := factories[cfg.Dialect]
	if !ok {
		return nil, fmt.Errorf("dialect %q is recognized but has no adapter in this build (available: %v)", cfg.Dialect, Registered())
	}
	return f(cfg)
}

// OpenURL parses a connection URL, builds the adapter, and opens it.
func OpenURL(ctx context.Context, rawURL string) (Adapter, error) {
	cfg, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	a, err := New(cfg)
	if err != nil {
		return nil, err
	}
	if err := a.Open(ctx); err != nil {
		return nil, err
	}
	return a, nil
}
