package idempotency

import (
	"context"

	"paypersist/internal/config"
	"paypersist/pkg/circuitbreaker"
)

const breakerName = "redis-idempotency"

type lookupResult struct {
	id    string
	found bool
}

// CircuitBreakerRegistry stops calling Redis while it keeps failing. The store then
// sees lookup errors and degrades to plain inserts.
type CircuitBreakerRegistry struct {
	registry Registry
	cb       *circuitbreaker.Wrapper
}

func NewCircuitBreakerRegistry(registry Registry, cfg config.CircuitBreakerConfig) *CircuitBreakerRegistry {
	if !cfg.Enabled {
		return &CircuitBreakerRegistry{registry: registry}
	}
	return &CircuitBreakerRegistry{
		registry: registry,
		cb:       circuitbreaker.NewWrapper(circuitbreaker.FromSettings(breakerName, cfg)),
	}
}

func (r *CircuitBreakerRegistry) Lookup(ctx context.Context, key string) (string, bool, error) {
	if r.cb == nil {
		return r.registry.Lookup(ctx, key)
	}

	res, err := circuitbreaker.Run(ctx, r.cb, func() (lookupResult, error) {
		id, found, err := r.registry.Lookup(ctx, key)
		return lookupResult{id: id, found: found}, err
	})
	if err != nil {
		return "", false, err
	}
	return res.id, res.found, nil
}

func (r *CircuitBreakerRegistry) Remember(ctx context.Context, key, id string) error {
	if r.cb == nil {
		return r.registry.Remember(ctx, key, id)
	}

	_, err := circuitbreaker.Run(ctx, r.cb, func() (struct{}, error) {
		return struct{}{}, r.registry.Remember(ctx, key, id)
	})
	return err
}

func (r *CircuitBreakerRegistry) State() string {
	if r.cb == nil {
		return "disabled"
	}
	return r.cb.State().String()
}
