// Package connection owns the OAuth credential lifecycle for
// per-(principal, integration) connections: decrypt, expiry check,
// refresh, and re-persistence. GetValidCredential is the only state
// transition the gateway performs on a connection; everything else is
// read-only.
package connection

import (
	"context"
	"errors"
	"fmt"
	"time"

	"toolgate/internal/codec"
	"toolgate/internal/store"
	"toolgate/pkg/logging"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// expiryMargin is subtracted from the declared token lifetime when
// checking expiry. It absorbs clock skew between the gateway and the
// provider plus the network latency of the proxied call itself.
const expiryMargin = 30 * time.Second

var (
	// ErrNotConnected is returned when the principal has no enabled
	// connection to the integration.
	ErrNotConnected = errors.New("integration not connected")

	// ErrCredentialExpired is returned when the stored credential has
	// expired and no refresh token is available. The connection stays
	// unchanged; only a re-authorization through the surrounding
	// product can revive it.
	ErrCredentialExpired = errors.New("credential expired")
)

// Refresher exchanges a refresh token for a fresh credential bundle.
// Implemented by oauth.RefreshClient; faked in tests.
type Refresher interface {
	Refresh(ctx context.Context, cfg store.OAuthConfig, refreshToken string) (codec.Bundle, error)
}

// Manager supplies valid access credentials for gateway calls,
// refreshing and re-persisting them when they expire.
type Manager struct {
	connections store.ConnectionStore
	codec       codec.Codec
	refresher   Refresher

	// refreshGroup serializes refreshes per connection, so concurrent
	// expired callers share a single provider round trip. Providers
	// that invalidate prior tokens on refresh stay consistent this
	// way; across processes the refresh is still at-least-once.
	refreshGroup singleflight.Group

	// now is replaceable in tests.
	now func() time.Time
}

// NewManager creates a connection manager.
func NewManager(connections store.ConnectionStore, cdc codec.Codec, refresher Refresher) *Manager {
	return &Manager{
		connections: connections,
		codec:       cdc,
		refresher:   refresher,
		now:         time.Now,
	}
}

// GetValidCredential returns an access token usable for a proxied call
// to the integration right now.
//
// The credential state machine:
//
//	Valid -> (time passes) -> Expired -> (refresh succeeds) -> Valid
//	Expired -> (refresh fails or no refresh token) -> Unusable
//
// Unusable is terminal until the principal re-authorizes out-of-band.
// Integrations that require no credential always yield an empty token.
// A refresh that succeeds persists the new bundle with a fresh issuance
// timestamp before returning; a refresh that fails writes nothing.
func (m *Manager) GetValidCredential(ctx context.Context, principalID uuid.UUID, integration store.Integration) (string, error) {
	conn, err := m.connections.GetConnection(ctx, principalID, integration.ID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", ErrNotConnected
		}
		return "", fmt.Errorf("connection lookup failed: %w", err)
	}
	if !conn.Enabled {
		return "", ErrNotConnected
	}

	if !integration.RequiresCredential() {
		return "", nil
	}

	if conn.EncryptedCredential == "" {
		// Enabled OAuth connection without a bundle should not exist;
		// surface it the same way as a dead credential.
		return "", ErrCredentialExpired
	}

	bundle, err := m.codec.Decrypt(conn.EncryptedCredential)
	if err != nil {
		return "", err
	}

	if !m.expired(conn, bundle) {
		return bundle.AccessToken, nil
	}

	if bundle.RefreshToken == "" {
		return "", ErrCredentialExpired
	}

	token, err, shared := m.refreshGroup.Do(conn.ID.String(), func() (interface{}, error) {
		return m.refresh(ctx, conn, integration, bundle)
	})
	if err != nil {
		return "", err
	}
	if shared {
		logging.Debug("Connection", "Refresh for connection %s shared across concurrent callers", conn.ID)
	}
	return token.(string), nil
}

// expired reports whether the bundle's declared lifetime, counted from
// the connection's issuance timestamp, has elapsed (minus the margin).
// Bundles without a lifetime or an issuance timestamp never expire.
func (m *Manager) expired(conn store.Connection, bundle codec.Bundle) bool {
	if bundle.ExpiresIn <= 0 || conn.IssuedAt == nil {
		return false
	}
	expiresAt := conn.IssuedAt.Add(time.Duration(bundle.ExpiresIn) * time.Second)
	return m.now().After(expiresAt.Add(-expiryMargin))
}

// refresh performs one refresh round trip and persists the result.
func (m *Manager) refresh(ctx context.Context, conn store.Connection, integration store.Integration, old codec.Bundle) (string, error) {
	fresh, err := m.refresher.Refresh(ctx, *integration.OAuth, old.RefreshToken)
	if err != nil {
		logging.Warn("Connection", "Refresh failed for connection %s (integration %s): %v", conn.ID, integration.Slug, err)
		return "", err
	}

	ciphertext, err := m.codec.Encrypt(fresh)
	if err != nil {
		return "", fmt.Errorf("failed to encrypt refreshed bundle: %w", err)
	}

	issuedAt := m.now()
	if err := m.connections.UpdateConnectionCredential(ctx, conn.ID, ciphertext, issuedAt); err != nil {
		return "", fmt.Errorf("failed to persist refreshed credential: %w", err)
	}

	logging.Info("Connection", "Refreshed credential for connection %s (integration %s)", conn.ID, integration.Slug)
	return fresh.AccessToken, nil
}

// Authorize creates or replaces the principal's connection to an
// integration with a fresh credential bundle. Called by the
// surrounding product after a completed authorization-code flow.
func (m *Manager) Authorize(ctx context.Context, principalID uuid.UUID, integration store.Integration, bundle codec.Bundle) (store.Connection, error) {
	conn := store.Connection{
		ID:            uuid.New(),
		PrincipalID:   principalID,
		IntegrationID: integration.ID,
		Enabled:       true,
		CreatedAt:     m.now(),
		UpdatedAt:     m.now(),
	}

	if integration.RequiresCredential() {
		ciphertext, err := m.codec.Encrypt(bundle)
		if err != nil {
			return store.Connection{}, fmt.Errorf("failed to encrypt bundle: %w", err)
		}
		issuedAt := m.now()
		conn.EncryptedCredential = ciphertext
		conn.IssuedAt = &issuedAt
	}

	if err := m.connections.UpsertConnection(ctx, conn); err != nil {
		return store.Connection{}, fmt.Errorf("failed to store connection: %w", err)
	}
	return conn, nil
}

// Disable revokes the principal's access without deleting the
// connection, preserving history.
func (m *Manager) Disable(ctx context.Context, principalID uuid.UUID, integrationID uuid.UUID) error {
	conn, err := m.connections.GetConnection(ctx, principalID, integrationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotConnected
		}
		return fmt.Errorf("connection lookup failed: %w", err)
	}
	return m.connections.SetConnectionEnabled(ctx, conn.ID, false)
}
