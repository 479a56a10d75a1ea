package store

import (
	"time"

	"github.com/google/uuid"
)

// CallStatus is the recorded outcome of one gateway call.
type CallStatus string

const (
	StatusSuccess CallStatus = "success"
	StatusError   CallStatus = "error"
)

// Principal is the authenticated identity on whose behalf gateway calls
// are made. It is created by the surrounding product and immutable from
// the gateway's perspective.
type Principal struct {
	ID        uuid.UUID `json:"id" db:"id"`
	Email     string    `json:"email" db:"email"`
	Name      string    `json:"name" db:"name"`
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
}

// APICredential maps a one-way hash of a caller-supplied secret to a
// Principal. The raw secret is never stored; only its hash and a short
// display prefix survive issuance.
type APICredential struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	PrincipalID uuid.UUID  `json:"principalId" db:"principal_id"`
	KeyHash     string     `json:"-" db:"key_hash"`
	KeyPrefix   string     `json:"keyPrefix" db:"key_prefix"`
	Name        string     `json:"name" db:"name"`
	LastUsedAt  *time.Time `json:"lastUsedAt,omitempty" db:"last_used_at"`
	CreatedAt   time.Time  `json:"createdAt" db:"created_at"`
}

// ToolDef is one entry in an integration's tool catalog.
type ToolDef struct {
	Name        string                 `json:"name" yaml:"name"`
	Description string                 `json:"description" yaml:"description"`
	InputSchema map[string]interface{} `json:"inputSchema,omitempty" yaml:"inputSchema,omitempty"`
}

// ResourceDef is one entry in an integration's resource catalog.
type ResourceDef struct {
	URITemplate string `json:"uriTemplate" yaml:"uriTemplate"`
	Description string `json:"description" yaml:"description"`
}

// OAuthConfig describes how to refresh credentials for an integration.
// TokenURL may be empty for well-known providers; the refresh client
// fills in the provider default in that case.
type OAuthConfig struct {
	Provider     string   `json:"provider" yaml:"provider"`
	TokenURL     string   `json:"tokenUrl,omitempty" yaml:"tokenUrl,omitempty"`
	ClientID     string   `json:"clientId" yaml:"clientId"`
	ClientSecret string   `json:"clientSecret,omitempty" yaml:"clientSecret,omitempty"`
	Scopes       []string `json:"scopes,omitempty" yaml:"scopes,omitempty"`
}

// Integration is one external integration known to the gateway: its
// routing slug, tool/resource catalog, and the address of the handler
// that proxied calls are sent to. The gateway treats integrations as
// read-only; administrative mutation happens elsewhere.
type Integration struct {
	ID             uuid.UUID     `json:"id" yaml:"-"`
	Slug           string        `json:"slug" yaml:"slug"`
	DisplayName    string        `json:"displayName" yaml:"displayName"`
	Description    string        `json:"description,omitempty" yaml:"description,omitempty"`
	HandlerAddress string        `json:"handlerAddress" yaml:"handlerAddress"`
	Tools          []ToolDef     `json:"tools" yaml:"tools"`
	Resources      []ResourceDef `json:"resources,omitempty" yaml:"resources,omitempty"`
	OAuth          *OAuthConfig  `json:"oauth,omitempty" yaml:"oauth,omitempty"`
	CreatedAt      time.Time     `json:"createdAt" yaml:"-"`
	UpdatedAt      time.Time     `json:"updatedAt" yaml:"-"`
}

// RequiresCredential reports whether calls to this integration need an
// OAuth access token. Integrations without OAuth configuration are
// always considered satisfied.
func (i Integration) RequiresCredential() bool {
	return i.OAuth != nil
}

// Connection is the per-(Principal, Integration) authorization record.
// A disabled connection is kept, not deleted, so that history survives
// revocation.
type Connection struct {
	ID                  uuid.UUID              `json:"id"`
	PrincipalID         uuid.UUID              `json:"principalId"`
	IntegrationID       uuid.UUID              `json:"integrationId"`
	Enabled             bool                   `json:"enabled"`
	EncryptedCredential string                 `json:"-"`
	IssuedAt            *time.Time             `json:"issuedAt,omitempty"`
	Config              map[string]interface{} `json:"config,omitempty"`
	CreatedAt           time.Time              `json:"createdAt"`
	UpdatedAt           time.Time              `json:"updatedAt"`
}

// UsageRecord captures one gateway call's outcome and latency.
// Records are append-only and never mutated by the gateway.
type UsageRecord struct {
	ID            uuid.UUID  `json:"id"`
	PrincipalID   uuid.UUID  `json:"principalId"`
	IntegrationID uuid.UUID  `json:"integrationId"`
	ToolName      string     `json:"toolName"`
	LatencyMs     int64      `json:"latencyMs"`
	Status        CallStatus `json:"status"`
	CreatedAt     time.Time  `json:"createdAt"`
}
