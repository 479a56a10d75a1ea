package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned by lookups that match no record.
var ErrNotFound = errors.New("record not found")

// PrincipalStore persists gateway principals.
type PrincipalStore interface {
	GetPrincipal(ctx context.Context, id uuid.UUID) (Principal, error)
	GetPrincipalByEmail(ctx context.Context, email string) (Principal, error)
	CreatePrincipal(ctx context.Context, p Principal) error
}

// APICredentialStore persists API key credentials. Lookups are by the
// unique key hash; the raw secret never reaches this layer.
type APICredentialStore interface {
	GetCredentialByKeyHash(ctx context.Context, keyHash string) (APICredential, error)
	CreateCredential(ctx context.Context, c APICredential) error
	DeleteCredential(ctx context.Context, id uuid.UUID) error
	ListCredentialsByPrincipal(ctx context.Context, principalID uuid.UUID) ([]APICredential, error)
	// TouchCredential records the last-used timestamp. Callers treat it
	// as best effort; failures must not affect request handling.
	TouchCredential(ctx context.Context, id uuid.UUID, usedAt time.Time) error
}

// IntegrationStore provides read access to the integration catalog.
// Every read returns a single consistent snapshot of one integration;
// administrative updates are never observable halfway through.
type IntegrationStore interface {
	GetIntegration(ctx context.Context, id uuid.UUID) (Integration, error)
	GetIntegrationBySlug(ctx context.Context, slug string) (Integration, error)
	ListIntegrations(ctx context.Context) ([]Integration, error)
}

// ConnectionStore persists per-(principal, integration) connections.
type ConnectionStore interface {
	GetConnection(ctx context.Context, principalID, integrationID uuid.UUID) (Connection, error)
	UpsertConnection(ctx context.Context, c Connection) error
	SetConnectionEnabled(ctx context.Context, id uuid.UUID, enabled bool) error
	// UpdateConnectionCredential atomically replaces the encrypted
	// credential and its issuance timestamp for a single connection.
	UpdateConnectionCredential(ctx context.Context, id uuid.UUID, ciphertext string, issuedAt time.Time) error
	ListConnectionsByPrincipal(ctx context.Context, principalID uuid.UUID) ([]Connection, error)
}

// UsageStore is the append-only usage log.
type UsageStore interface {
	AppendUsage(ctx context.Context, r UsageRecord) error
	ListUsageByPrincipal(ctx context.Context, principalID uuid.UUID) ([]UsageRecord, error)
}

// Store bundles all persistence interfaces the gateway consumes.
type Store interface {
	PrincipalStore
	APICredentialStore
	IntegrationStore
	ConnectionStore
	UsageStore
}
