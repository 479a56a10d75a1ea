// Package registry exposes the integration catalog to the gateway:
// slug-based lookup and the per-principal view of enabled integrations.
// The catalog itself is administered outside the gateway; this layer is
// read-only and every lookup reflects one consistent snapshot of an
// integration.
package registry

import (
	"context"
	"errors"
	"fmt"

	"toolgate/internal/store"

	"github.com/google/uuid"
)

// ErrIntegrationNotFound is returned when no integration carries the
// requested slug or id.
var ErrIntegrationNotFound = errors.New("integration not found")

// EnabledIntegration pairs an integration with the principal's enabled
// connection to it.
type EnabledIntegration struct {
	Integration store.Integration
	Connection  store.Connection
}

// Registry resolves integrations and joins them against connections.
type Registry struct {
	integrations store.IntegrationStore
	connections  store.ConnectionStore
}

// New creates a registry over the given stores.
func New(integrations store.IntegrationStore, connections store.ConnectionStore) *Registry {
	return &Registry{integrations: integrations, connections: connections}
}

// BySlug resolves an integration by its routing slug.
func (r *Registry) BySlug(ctx context.Context, slug string) (store.Integration, error) {
	integration, err := r.integrations.GetIntegrationBySlug(ctx, slug)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Integration{}, fmt.Errorf("%w: %s", ErrIntegrationNotFound, slug)
		}
		return store.Integration{}, fmt.Errorf("integration lookup failed: %w", err)
	}
	return integration, nil
}

// ByID resolves an integration by id. Used when walking connections,
// which reference integrations by id rather than slug.
func (r *Registry) ByID(ctx context.Context, id uuid.UUID) (store.Integration, error) {
	integration, err := r.integrations.GetIntegration(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Integration{}, ErrIntegrationNotFound
		}
		return store.Integration{}, fmt.Errorf("integration lookup failed: %w", err)
	}
	return integration, nil
}

// List returns the full catalog.
func (r *Registry) List(ctx context.Context) ([]store.Integration, error) {
	return r.integrations.ListIntegrations(ctx)
}

// ListEnabledFor returns the integrations the principal has an enabled
// connection to. Connections referencing integrations that have since
// been deleted from the catalog are skipped here; they only surface as
// IntegrationNotFound when addressed directly by slug.
func (r *Registry) ListEnabledFor(ctx context.Context, principalID uuid.UUID) ([]EnabledIntegration, error) {
	conns, err := r.connections.ListConnectionsByPrincipal(ctx, principalID)
	if err != nil {
		return nil, fmt.Errorf("connection listing failed: %w", err)
	}

	var out []EnabledIntegration
	for _, conn := range conns {
		if !conn.Enabled {
			continue
		}
		integration, err := r.integrations.GetIntegration(ctx, conn.IntegrationID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				continue
			}
			return nil, fmt.Errorf("integration lookup failed: %w", err)
		}
		out = append(out, EnabledIntegration{Integration: integration, Connection: conn})
	}
	return out, nil
}
