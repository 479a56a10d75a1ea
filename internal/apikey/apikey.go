// Package apikey authenticates inbound gateway calls. Raw secrets are
// generated once at issuance and only their SHA-256 hash is stored;
// resolution is an exact hash lookup.
package apikey

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"toolgate/internal/store"
	"toolgate/pkg/logging"

	"github.com/google/uuid"
)

// ErrUnauthenticated is returned when a secret resolves to no stored
// credential.
var ErrUnauthenticated = errors.New("unauthenticated")

// secretPrefix marks toolgate-issued secrets so they are recognizable
// in logs and secret scanners without revealing anything.
const secretPrefix = "tgk_"

// Store resolves, issues, and revokes API credentials.
type Store struct {
	creds      store.APICredentialStore
	principals store.PrincipalStore
}

// New creates an API key store over the given persistence interfaces.
func New(creds store.APICredentialStore, principals store.PrincipalStore) *Store {
	return &Store{creds: creds, principals: principals}
}

// Resolve maps a raw caller secret to its owning principal. The
// last-used timestamp is updated best effort in the background and
// never blocks or fails resolution.
func (s *Store) Resolve(ctx context.Context, rawSecret string) (store.Principal, error) {
	if rawSecret == "" {
		return store.Principal{}, ErrUnauthenticated
	}

	cred, err := s.creds.GetCredentialByKeyHash(ctx, HashSecret(rawSecret))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Principal{}, ErrUnauthenticated
		}
		return store.Principal{}, fmt.Errorf("credential lookup failed: %w", err)
	}

	principal, err := s.principals.GetPrincipal(ctx, cred.PrincipalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Credential without a principal is a dangling record;
			// treat it the same as an unknown secret.
			logging.Warn("APIKey", "Credential %s references missing principal %s", cred.ID, cred.PrincipalID)
			return store.Principal{}, ErrUnauthenticated
		}
		return store.Principal{}, fmt.Errorf("principal lookup failed: %w", err)
	}

	go func(id uuid.UUID) {
		touchCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.creds.TouchCredential(touchCtx, id, time.Now()); err != nil {
			logging.Debug("APIKey", "Failed to record last-used for credential %s: %v", id, err)
		}
	}(cred.ID)

	return principal, nil
}

// Issue generates a new credential for the principal and returns the
// raw secret exactly once. Only the hash and a short display prefix are
// stored.
func (s *Store) Issue(ctx context.Context, principalID uuid.UUID, name string) (string, store.APICredential, error) {
	if _, err := s.principals.GetPrincipal(ctx, principalID); err != nil {
		return "", store.APICredential{}, fmt.Errorf("unknown principal %s: %w", principalID, err)
	}

	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return "", store.APICredential{}, fmt.Errorf("failed to generate secret: %w", err)
	}
	rawSecret := secretPrefix + base64.URLEncoding.EncodeToString(keyBytes)

	cred := store.APICredential{
		ID:          uuid.New(),
		PrincipalID: principalID,
		KeyHash:     HashSecret(rawSecret),
		KeyPrefix:   rawSecret[:8],
		Name:        strings.TrimSpace(name),
		CreatedAt:   time.Now(),
	}

	if err := s.creds.CreateCredential(ctx, cred); err != nil {
		return "", store.APICredential{}, fmt.Errorf("failed to store credential: %w", err)
	}

	logging.Info("APIKey", "Issued credential %s (%s...) for principal %s", cred.ID, cred.KeyPrefix, principalID)
	return rawSecret, cred, nil
}

// Revoke deletes a credential. The deletion is immediate; the old
// secret stops resolving as soon as this returns.
func (s *Store) Revoke(ctx context.Context, credentialID uuid.UUID) error {
	if err := s.creds.DeleteCredential(ctx, credentialID); err != nil {
		return fmt.Errorf("failed to revoke credential %s: %w", credentialID, err)
	}
	logging.Info("APIKey", "Revoked credential %s", credentialID)
	return nil
}

// List returns the principal's credentials, hashes included only in
// memory; callers render prefixes, not hashes.
func (s *Store) List(ctx context.Context, principalID uuid.UUID) ([]store.APICredential, error) {
	return s.creds.ListCredentialsByPrincipal(ctx, principalID)
}

// HashSecret computes the one-way hash used for every credential
// lookup. Deterministic so issuance and resolution agree.
func HashSecret(rawSecret string) string {
	sum := sha256.Sum256([]byte(rawSecret))
	return hex.EncodeToString(sum[:])
}
