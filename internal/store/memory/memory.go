// Package memory provides an in-memory implementation of the store
// interfaces. It backs the test suites and the standalone serve mode;
// production deployments use the postgres implementation.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"toolgate/internal/store"

	"github.com/google/uuid"
)

// Store is a mutex-guarded in-memory store.Store implementation.
type Store struct {
	mu           sync.RWMutex
	principals   map[uuid.UUID]store.Principal
	credentials  map[uuid.UUID]store.APICredential
	integrations map[uuid.UUID]store.Integration
	connections  map[uuid.UUID]store.Connection
	usage        []store.UsageRecord
}

// New creates an empty in-memory store.
func New() *Store {
	return &Store{
		principals:   make(map[uuid.UUID]store.Principal),
		credentials:  make(map[uuid.UUID]store.APICredential),
		integrations: make(map[uuid.UUID]store.Integration),
		connections:  make(map[uuid.UUID]store.Connection),
	}
}

func (s *Store) GetPrincipal(ctx context.Context, id uuid.UUID) (store.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.principals[id]
	if !ok {
		return store.Principal{}, store.ErrNotFound
	}
	return p, nil
}

func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (store.Principal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, p := range s.principals {
		if p.Email == email {
			return p, nil
		}
	}
	return store.Principal{}, store.ErrNotFound
}

func (s *Store) CreatePrincipal(ctx context.Context, p store.Principal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.principals[p.ID] = p
	return nil
}

func (s *Store) GetCredentialByKeyHash(ctx context.Context, keyHash string) (store.APICredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.credentials {
		if c.KeyHash == keyHash {
			return c, nil
		}
	}
	return store.APICredential{}, store.ErrNotFound
}

func (s *Store) CreateCredential(ctx context.Context, c store.APICredential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.credentials[c.ID] = c
	return nil
}

func (s *Store) DeleteCredential(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.credentials[id]; !ok {
		return store.ErrNotFound
	}
	delete(s.credentials, id)
	return nil
}

func (s *Store) ListCredentialsByPrincipal(ctx context.Context, principalID uuid.UUID) ([]store.APICredential, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.APICredential
	for _, c := range s.credentials {
		if c.PrincipalID == principalID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) TouchCredential(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.credentials[id]
	if !ok {
		return store.ErrNotFound
	}
	c.LastUsedAt = &usedAt
	s.credentials[id] = c
	return nil
}

func (s *Store) GetIntegration(ctx context.Context, id uuid.UUID) (store.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.integrations[id]
	if !ok {
		return store.Integration{}, store.ErrNotFound
	}
	return i, nil
}

func (s *Store) GetIntegrationBySlug(ctx context.Context, slug string) (store.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, i := range s.integrations {
		if i.Slug == slug {
			return i, nil
		}
	}
	return store.Integration{}, store.ErrNotFound
}

func (s *Store) ListIntegrations(ctx context.Context) ([]store.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Integration, 0, len(s.integrations))
	for _, i := range s.integrations {
		out = append(out, i)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out, nil
}

// PutIntegration inserts or replaces an integration. The gateway itself
// never calls this; it exists for tests and standalone-mode seeding.
func (s *Store) PutIntegration(i store.Integration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.integrations[i.ID] = i
}

func (s *Store) GetConnection(ctx context.Context, principalID, integrationID uuid.UUID) (store.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, c := range s.connections {
		if c.PrincipalID == principalID && c.IntegrationID == integrationID {
			return c, nil
		}
	}
	return store.Connection{}, store.ErrNotFound
}

func (s *Store) UpsertConnection(ctx context.Context, c store.Connection) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.connections {
		if existing.PrincipalID == c.PrincipalID && existing.IntegrationID == c.IntegrationID {
			c.ID = existing.ID
			c.CreatedAt = existing.CreatedAt
			s.connections[id] = c
			return nil
		}
	}
	s.connections[c.ID] = c
	return nil
}

func (s *Store) SetConnectionEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.connections[id]
	if !ok {
		return store.ErrNotFound
	}
	c.Enabled = enabled
	c.UpdatedAt = time.Now()
	s.connections[id] = c
	return nil
}

func (s *Store) UpdateConnectionCredential(ctx context.Context, id uuid.UUID, ciphertext string, issuedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.connections[id]
	if !ok {
		return store.ErrNotFound
	}
	c.EncryptedCredential = ciphertext
	c.IssuedAt = &issuedAt
	c.UpdatedAt = time.Now()
	s.connections[id] = c
	return nil
}

func (s *Store) ListConnectionsByPrincipal(ctx context.Context, principalID uuid.UUID) ([]store.Connection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.Connection
	for _, c := range s.connections {
		if c.PrincipalID == principalID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) AppendUsage(ctx context.Context, r store.UsageRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.usage = append(s.usage, r)
	return nil
}

func (s *Store) ListUsageByPrincipal(ctx context.Context, principalID uuid.UUID) ([]store.UsageRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []store.UsageRecord
	for _, r := range s.usage {
		if r.PrincipalID == principalID {
			out = append(out, r)
		}
	}
	return out, nil
}
