package tts

import (
	"context"
	"errors"
	"fmt"
)

// Registry holds the primary and fallback providers.
type Registry struct {
	primary  Provider
	fallback Provider
}

// NewRegistry builds a registry. Either provider may be nil when it is not
// configured; requests that need it then fail with ErrNoProvider.
func NewRegistry(primary, fallback Provider) *Registry {
	return &Registry{primary: primary, fallback: fallback}
}

// Get returns the provider that serves sel first. Auto resolves to the
// primary, or to the fallback when no primary is configured.
func (r *Registry) Get(sel Selector) (Provider, error) {
	var p Provider
	switch sel {
	case SelectPrimary:
		p = r.primary
	case SelectFallback:
		p = r.fallback
	case SelectAuto:
		p = r.primary
		if p == nil {
			p = r.fallback
		}
	default:
		return nil, NewError(KindValidation, "select provider", fmt.Sprintf("unsupported engine %q", sel), nil)
	}
	if p == nil {
		return nil, Unavailable("select provider", fmt.Errorf("%w for %s", ErrNoProvider, sel))
	}
	return p, nil
}

// Fallback returns the offline provider, or nil.
func (r *Registry) Fallback() Provider {
	return r.fallback
}

// Voices lists the voices of the provider selected by sel.
func (r *Registry) Voices(ctx context.Context, sel Selector) ([]Voice, error) {
	p, err := r.Get(sel)
	if err != nil {
		return nil, err
	}
	return p.ListVoices(ctx)
}

// Providers returns the configured providers, primary first.
func (r *Registry) Providers() []Provider {
	var out []Provider
	if r.primary != nil {
		out = append(out, r.primary)
	}
	if r.fallback != nil {
		out = append(out, r.fallback)
	}
	return out
}

// Close closes every provider.
func (r *Registry) Close() error {
	var errs []error
	for _, p := range r.Providers() {
		if err := p.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}
