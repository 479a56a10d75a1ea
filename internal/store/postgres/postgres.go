// Package postgres implements the store interfaces on PostgreSQL via
// sqlx. Catalog and config columns are stored as JSONB so integration
// definitions round-trip without a schema migration per tool change.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"toolgate/internal/store"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Store is a PostgreSQL-backed store.Store implementation.
type Store struct {
	db *sqlx.DB
}

// Open connects to the given DSN and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the gateway tables if they do not exist yet.
func (s *Store) Migrate(ctx context.Context) error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS principals (
			id UUID PRIMARY KEY,
			email TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS api_credentials (
			id UUID PRIMARY KEY,
			principal_id UUID NOT NULL REFERENCES principals(id),
			key_hash TEXT NOT NULL UNIQUE,
			key_prefix TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			last_used_at TIMESTAMPTZ,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS integrations (
			id UUID PRIMARY KEY,
			slug TEXT NOT NULL UNIQUE,
			display_name TEXT NOT NULL DEFAULT '',
			description TEXT NOT NULL DEFAULT '',
			handler_address TEXT NOT NULL,
			tools JSONB NOT NULL DEFAULT '[]',
			resources JSONB NOT NULL DEFAULT '[]',
			oauth JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS connections (
			id UUID PRIMARY KEY,
			principal_id UUID NOT NULL REFERENCES principals(id),
			integration_id UUID NOT NULL REFERENCES integrations(id),
			enabled BOOLEAN NOT NULL DEFAULT true,
			encrypted_credential TEXT NOT NULL DEFAULT '',
			issued_at TIMESTAMPTZ,
			config JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (principal_id, integration_id)
		)`,
		`CREATE TABLE IF NOT EXISTS usage_records (
			id UUID PRIMARY KEY,
			principal_id UUID NOT NULL,
			integration_id UUID NOT NULL,
			tool_name TEXT NOT NULL,
			latency_ms BIGINT NOT NULL,
			status TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_principal ON usage_records(principal_id)`,
	}
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (s *Store) GetPrincipal(ctx context.Context, id uuid.UUID) (store.Principal, error) {
	var p store.Principal
	err := s.db.GetContext(ctx, &p, `SELECT id, email, name, created_at FROM principals WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Principal{}, store.ErrNotFound
	}
	return p, err
}

func (s *Store) GetPrincipalByEmail(ctx context.Context, email string) (store.Principal, error) {
	var p store.Principal
	err := s.db.GetContext(ctx, &p, `SELECT id, email, name, created_at FROM principals WHERE email = $1`, email)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Principal{}, store.ErrNotFound
	}
	return p, err
}

func (s *Store) CreatePrincipal(ctx context.Context, p store.Principal) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO principals (id, email, name, created_at) VALUES ($1, $2, $3, $4)`,
		p.ID, p.Email, p.Name, p.CreatedAt)
	return err
}

func (s *Store) GetCredentialByKeyHash(ctx context.Context, keyHash string) (store.APICredential, error) {
	var c store.APICredential
	err := s.db.GetContext(ctx, &c,
		`SELECT id, principal_id, key_hash, key_prefix, name, last_used_at, created_at
		 FROM api_credentials WHERE key_hash = $1`, keyHash)
	if errors.Is(err, sql.ErrNoRows) {
		return store.APICredential{}, store.ErrNotFound
	}
	return c, err
}

func (s *Store) CreateCredential(ctx context.Context, c store.APICredential) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO api_credentials (id, principal_id, key_hash, key_prefix, name, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		c.ID, c.PrincipalID, c.KeyHash, c.KeyPrefix, c.Name, c.CreatedAt)
	return err
}

func (s *Store) DeleteCredential(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM api_credentials WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListCredentialsByPrincipal(ctx context.Context, principalID uuid.UUID) ([]store.APICredential, error) {
	var out []store.APICredential
	err := s.db.SelectContext(ctx, &out,
		`SELECT id, principal_id, key_hash, key_prefix, name, last_used_at, created_at
		 FROM api_credentials WHERE principal_id = $1 ORDER BY created_at`, principalID)
	return out, err
}

func (s *Store) TouchCredential(ctx context.Context, id uuid.UUID, usedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE api_credentials SET last_used_at = $2 WHERE id = $1`, id, usedAt)
	return err
}

// integrationRow is the raw database shape of an integration; JSONB
// columns are decoded into the catalog types after scanning.
type integrationRow struct {
	ID             uuid.UUID `db:"id"`
	Slug           string    `db:"slug"`
	DisplayName    string    `db:"display_name"`
	Description    string    `db:"description"`
	HandlerAddress string    `db:"handler_address"`
	Tools          []byte    `db:"tools"`
	Resources      []byte    `db:"resources"`
	OAuth          []byte    `db:"oauth"`
	CreatedAt      time.Time `db:"created_at"`
	UpdatedAt      time.Time `db:"updated_at"`
}

func (r integrationRow) toIntegration() (store.Integration, error) {
	i := store.Integration{
		ID:             r.ID,
		Slug:           r.Slug,
		DisplayName:    r.DisplayName,
		Description:    r.Description,
		HandlerAddress: r.HandlerAddress,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if len(r.Tools) > 0 {
		if err := json.Unmarshal(r.Tools, &i.Tools); err != nil {
			return store.Integration{}, fmt.Errorf("failed to decode tool catalog for %s: %w", r.Slug, err)
		}
	}
	if len(r.Resources) > 0 {
		if err := json.Unmarshal(r.Resources, &i.Resources); err != nil {
			return store.Integration{}, fmt.Errorf("failed to decode resource catalog for %s: %w", r.Slug, err)
		}
	}
	if len(r.OAuth) > 0 {
		var cfg store.OAuthConfig
		if err := json.Unmarshal(r.OAuth, &cfg); err != nil {
			return store.Integration{}, fmt.Errorf("failed to decode oauth config for %s: %w", r.Slug, err)
		}
		i.OAuth = &cfg
	}
	return i, nil
}

const integrationColumns = `id, slug, display_name, description, handler_address, tools, resources, oauth, created_at, updated_at`

func (s *Store) GetIntegration(ctx context.Context, id uuid.UUID) (store.Integration, error) {
	var r integrationRow
	err := s.db.GetContext(ctx, &r, `SELECT `+integrationColumns+` FROM integrations WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Integration{}, store.ErrNotFound
	}
	if err != nil {
		return store.Integration{}, err
	}
	return r.toIntegration()
}

func (s *Store) GetIntegrationBySlug(ctx context.Context, slug string) (store.Integration, error) {
	var r integrationRow
	err := s.db.GetContext(ctx, &r, `SELECT `+integrationColumns+` FROM integrations WHERE slug = $1`, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Integration{}, store.ErrNotFound
	}
	if err != nil {
		return store.Integration{}, err
	}
	return r.toIntegration()
}

func (s *Store) ListIntegrations(ctx context.Context) ([]store.Integration, error) {
	var rows []integrationRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT `+integrationColumns+` FROM integrations ORDER BY slug`); err != nil {
		return nil, err
	}
	out := make([]store.Integration, 0, len(rows))
	for _, r := range rows {
		i, err := r.toIntegration()
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, nil
}

type connectionRow struct {
	ID                  uuid.UUID  `db:"id"`
	PrincipalID         uuid.UUID  `db:"principal_id"`
	IntegrationID       uuid.UUID  `db:"integration_id"`
	Enabled             bool       `db:"enabled"`
	EncryptedCredential string     `db:"encrypted_credential"`
	IssuedAt            *time.Time `db:"issued_at"`
	Config              []byte     `db:"config"`
	CreatedAt           time.Time  `db:"created_at"`
	UpdatedAt           time.Time  `db:"updated_at"`
}

func (r connectionRow) toConnection() (store.Connection, error) {
	c := store.Connection{
		ID:                  r.ID,
		PrincipalID:         r.PrincipalID,
		IntegrationID:       r.IntegrationID,
		Enabled:             r.Enabled,
		EncryptedCredential: r.EncryptedCredential,
		IssuedAt:            r.IssuedAt,
		CreatedAt:           r.CreatedAt,
		UpdatedAt:           r.UpdatedAt,
	}
	if len(r.Config) > 0 {
		if err := json.Unmarshal(r.Config, &c.Config); err != nil {
			return store.Connection{}, fmt.Errorf("failed to decode connection config: %w", err)
		}
	}
	return c, nil
}

const connectionColumns = `id, principal_id, integration_id, enabled, encrypted_credential, issued_at, config, created_at, updated_at`

func (s *Store) GetConnection(ctx context.Context, principalID, integrationID uuid.UUID) (store.Connection, error) {
	var r connectionRow
	err := s.db.GetContext(ctx, &r,
		`SELECT `+connectionColumns+` FROM connections WHERE principal_id = $1 AND integration_id = $2`,
		principalID, integrationID)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Connection{}, store.ErrNotFound
	}
	if err != nil {
		return store.Connection{}, err
	}
	return r.toConnection()
}

func (s *Store) UpsertConnection(ctx context.Context, c store.Connection) error {
	var cfg []byte
	if c.Config != nil {
		var err error
		cfg, err = json.Marshal(c.Config)
		if err != nil {
			return fmt.Errorf("failed to encode connection config: %w", err)
		}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (id, principal_id, integration_id, enabled, encrypted_credential, issued_at, config, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (principal_id, integration_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			encrypted_credential = EXCLUDED.encrypted_credential,
			issued_at = EXCLUDED.issued_at,
			config = EXCLUDED.config,
			updated_at = EXCLUDED.updated_at`,
		c.ID, c.PrincipalID, c.IntegrationID, c.Enabled, c.EncryptedCredential, c.IssuedAt, cfg, c.CreatedAt, c.UpdatedAt)
	return err
}

func (s *Store) SetConnectionEnabled(ctx context.Context, id uuid.UUID, enabled bool) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE connections SET enabled = $2, updated_at = now() WHERE id = $1`, id, enabled)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateConnectionCredential(ctx context.Context, id uuid.UUID, ciphertext string, issuedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE connections SET encrypted_credential = $2, issued_at = $3, updated_at = now() WHERE id = $1`,
		id, ciphertext, issuedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListConnectionsByPrincipal(ctx context.Context, principalID uuid.UUID) ([]store.Connection, error) {
	var rows []connectionRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT `+connectionColumns+` FROM connections WHERE principal_id = $1 ORDER BY created_at`, principalID)
	if err != nil {
		return nil, err
	}
	out := make([]store.Connection, 0, len(rows))
	for _, r := range rows {
		c, err := r.toConnection()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *Store) AppendUsage(ctx context.Context, r store.UsageRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_records (id, principal_id, integration_id, tool_name, latency_ms, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		r.ID, r.PrincipalID, r.IntegrationID, r.ToolName, r.LatencyMs, r.Status, r.CreatedAt)
	return err
}

func (s *Store) ListUsageByPrincipal(ctx context.Context, principalID uuid.UUID) ([]store.UsageRecord, error) {
	var rows []struct {
		ID            uuid.UUID        `db:"id"`
		PrincipalID   uuid.UUID        `db:"principal_id"`
		IntegrationID uuid.UUID        `db:"integration_id"`
		ToolName      string           `db:"tool_name"`
		LatencyMs     int64            `db:"latency_ms"`
		Status        store.CallStatus `db:"status"`
		CreatedAt     time.Time        `db:"created_at"`
	}
	err := s.db.SelectContext(ctx, &rows,
		`SELECT id, principal_id, integration_id, tool_name, latency_ms, status, created_at
		 FROM usage_records WHERE principal_id = $1 ORDER BY created_at`, principalID)
	if err != nil {
		return nil, err
	}
	out := make([]store.UsageRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, store.UsageRecord{
			ID:            r.ID,
			PrincipalID:   r.PrincipalID,
			IntegrationID: r.IntegrationID,
			ToolName:      r.ToolName,
			LatencyMs:     r.LatencyMs,
			Status:        r.Status,
			CreatedAt:     r.CreatedAt,
		})
	}
	return out, nil
}
