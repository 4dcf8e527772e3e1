package adapters

import (
	"sort"
	"strings"
	"sync"

	"github.com/samber/lo"
	"github.com/smallbiznis/reservebill/internal/config"
	"github.com/smallbiznis/reservebill/internal/payment/domain"
)

// Registry resolves inbound webhook providers to adapters. An adapter is
// built on first use with the webhook secret configured for its provider
// and reused afterwards.
type Registry struct {
	mu        sync.Mutex
	factories map[string]domain.AdapterFactory
	secrets   map[string]string
	built     map[string]domain.PaymentAdapter
}

func NewRegistry(secrets map[string]string, factories ...domain.AdapterFactory) *Registry {
	registry := &Registry{
		factories: map[string]domain.AdapterFactory{},
		secrets:   map[string]string{},
		built:     map[string]domain.PaymentAdapter{},
	}
	for provider, secret := range secrets {
		registry.secrets[normalize(provider)] = strings.TrimSpace(secret)
	}
	for _, factory := range factories {
		if factory == nil {
			continue
		}
		if provider := normalize(factory.Provider()); provider != "" {
			registry.factories[provider] = factory
		}
	}
	return registry
}

// SecretsFromConfig maps each supported provider to its webhook secret.
func SecretsFromConfig(cfg config.Config) map[string]string {
	return map[string]string{
		"stripe": cfg.Stripe.WebhookSecret,
	}
}

func (r *Registry) Has(provider string) bool {
	if r == nil {
		return false
	}
	_, ok := r.factories[normalize(provider)]
	return ok
}

// Providers lists the registered provider names in order.
func (r *Registry) Providers() []string {
	if r == nil {
		return nil
	}
	names := lo.Keys(r.factories)
	sort.Strings(names)
	return names
}

// Adapter returns the adapter for provider. A provider without a
// configured secret yields ErrInvalidConfig on every call.
func (r *Registry) Adapter(provider string) (domain.PaymentAdapter, error) {
	if r == nil {
		return nil, domain.ErrProviderNotFound
	}
	provider = normalize(provider)
	factory, ok := r.factories[provider]
	if !ok {
		return nil, domain.ErrProviderNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if adapter, ok := r.built[provider]; ok {
		return adapter, nil
	}
	adapter, err := factory.NewAdapter(domain.AdapterConfig{
		Provider:      provider,
		WebhookSecret: r.secrets[provider],
	})
	if err != nil {
		return nil, err
	}
	r.built[provider] = adapter
	return adapter, nil
}

func normalize(provider string) string {
	return strings.ToLower(strings.TrimSpace(provider))
}
