package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vietddude/lingo/internal/core/domain"
)

// ErrUnknownProvider is returned for credentials whose provider has no adapter.
var ErrUnknownProvider = errors.New("no adapter for credential provider")

// Router sends each call to the adapter registered for the credential's
// provider name.
type Router struct {
	adapters map[string]Translator
	fallback Translator
	log      *slog.Logger
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{
		adapters: make(map[string]Translator),
		log:      slog.Default().With("component", "provider-router"),
	}
}

// NewRouterFromConfig builds an adapter per configured provider. The first
// provider also serves credentials that name no provider.
func NewRouterFromConfig(cfgs []Config) (*Router, error) {
	r := NewRouter()
	for i, cfg := range cfgs {
		t, err := NewTranslator(cfg)
		if err != nil {
			return nil, fmt.Errorf("provider %s: %w", cfg.Name, err)
		}
		r.Add(cfg.Name, t)
		if i == 0 {
			r.fallback = t
		}
		r.log.Info("Provider configured", "name", cfg.Name, "type", cfg.Type, "model", cfg.Model)
	}
	return r, nil
}

// Add registers an adapter under a provider name.
func (r *Router) Add(name string, t Translator) {
	r.adapters[name] = t
}

// Health reports the health of every adapter that tracks it.
func (r *Router) Health() map[string]HealthStatus {
	out := make(map[string]HealthStatus)
	for name, t := range r.adapters {
		if h, ok := t.(interface{ Health() HealthStatus }); ok {
			out[name] = h.Health()
		}
	}
	return out
}

func (r *Router) Translate(ctx context.Context, cred domain.Credential, unit domain.Unit, style domain.Style) domain.RawOutcome {
	t, ok := r.adapters[cred.Provider]
	if !ok && cred.Provider == "" {
		t, ok = r.fallback, r.fallback != nil
	}
	if !ok {
		// Classified like an auth failure so the dispatcher rotates away.
		return domain.Failure(&domain.ProviderError{
			Code:    "permission_denied",
			Message: fmt.Sprintf("%v: %q", ErrUnknownProvider, cred.Provider),
			Cause:   ErrUnknownProvider,
		})
	}
	return t.Translate(ctx, cred, unit, style)
}
