package connection

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"toolgate/internal/codec"
	"toolgate/internal/store"
	"toolgate/internal/store/memory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRefresher struct {
	calls   atomic.Int64
	bundle  codec.Bundle
	err     error
	release chan struct{}
}

func (f *fakeRefresher) Refresh(ctx context.Context, cfg store.OAuthConfig, refreshToken string) (codec.Bundle, error) {
	f.calls.Add(1)
	if f.release != nil {
		<-f.release
	}
	if f.err != nil {
		return codec.Bundle{}, f.err
	}
	return f.bundle, nil
}

func oauthIntegration() store.Integration {
	return store.Integration{
		ID:             uuid.New(),
		Slug:           "github",
		HandlerAddress: "http://localhost:9001/mcp",
		OAuth: &store.OAuthConfig{
			Provider: "github",
			ClientID: "cid",
		},
	}
}

func seedConnection(t *testing.T, mem *memory.Store, cdc codec.Codec, principalID uuid.UUID, integ store.Integration, bundle codec.Bundle, issuedAt time.Time, enabled bool) store.Connection {
	t.Helper()

	ciphertext, err := cdc.Encrypt(bundle)
	require.NoError(t, err)

	conn := store.Connection{
		ID:                  uuid.New(),
		PrincipalID:         principalID,
		IntegrationID:       integ.ID,
		Enabled:             enabled,
		EncryptedCredential: ciphertext,
		IssuedAt:            &issuedAt,
		CreatedAt:           issuedAt,
		UpdatedAt:           issuedAt,
	}
	require.NoError(t, mem.UpsertConnection(context.Background(), conn))
	return conn
}

func TestGetValidCredentialNotConnected(t *testing.T) {
	mem := memory.New()
	m := NewManager(mem, codec.NewAESCodec("k"), &fakeRefresher{})

	_, err := m.GetValidCredential(context.Background(), uuid.New(), oauthIntegration())
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestGetValidCredentialDisabled(t *testing.T) {
	mem := memory.New()
	cdc := codec.NewAESCodec("k")
	m := NewManager(mem, cdc, &fakeRefresher{})

	principalID := uuid.New()
	integ := oauthIntegration()
	seedConnection(t, mem, cdc, principalID, integ,
		codec.Bundle{AccessToken: "tok", ExpiresIn: 3600}, time.Now(), false)

	_, err := m.GetValidCredential(context.Background(), principalID, integ)
	assert.True(t, errors.Is(err, ErrNotConnected))
}

func TestGetValidCredentialNoCredentialNeeded(t *testing.T) {
	mem := memory.New()
	cdc := codec.NewAESCodec("k")
	m := NewManager(mem, cdc, &fakeRefresher{})

	principalID := uuid.New()
	integ := store.Integration{ID: uuid.New(), Slug: "weather", HandlerAddress: "http://localhost:9001/mcp"}
	require.NoError(t, mem.UpsertConnection(context.Background(), store.Connection{
		ID:            uuid.New(),
		PrincipalID:   principalID,
		IntegrationID: integ.ID,
		Enabled:       true,
	}))

	token, err := m.GetValidCredential(context.Background(), principalID, integ)
	require.NoError(t, err)
	assert.Empty(t, token)
}

func TestGetValidCredentialStillValid(t *testing.T) {
	mem := memory.New()
	cdc := codec.NewAESCodec("k")
	refresher := &fakeRefresher{}
	m := NewManager(mem, cdc, refresher)

	principalID := uuid.New()
	integ := oauthIntegration()
	conn := seedConnection(t, mem, cdc, principalID, integ,
		codec.Bundle{AccessToken: "valid-tok", RefreshToken: "r", ExpiresIn: 3600}, time.Now(), true)

	token, err := m.GetValidCredential(context.Background(), principalID, integ)
	require.NoError(t, err)
	assert.Equal(t, "valid-tok", token)
	assert.Equal(t, int64(0), refresher.calls.Load())

	// No write on the valid path.
	stored, err := mem.GetConnection(context.Background(), principalID, integ.ID)
	require.NoError(t, err)
	assert.Equal(t, conn.EncryptedCredential, stored.EncryptedCredential)
}

func TestGetValidCredentialRefreshesExpired(t *testing.T) {
	mem := memory.New()
	cdc := codec.NewAESCodec("k")
	refresher := &fakeRefresher{
		bundle: codec.Bundle{AccessToken: "fresh-tok", RefreshToken: "fresh-r", TokenType: "Bearer", ExpiresIn: 3600},
	}
	m := NewManager(mem, cdc, refresher)

	principalID := uuid.New()
	integ := oauthIntegration()
	seedConnection(t, mem, cdc, principalID, integ,
		codec.Bundle{AccessToken: "stale-tok", RefreshToken: "old-r", ExpiresIn: 3600},
		time.Now().Add(-2*time.Hour), true)

	token, err := m.GetValidCredential(context.Background(), principalID, integ)
	require.NoError(t, err)
	assert.Equal(t, "fresh-tok", token)
	assert.Equal(t, int64(1), refresher.calls.Load())

	stored, err := mem.GetConnection(context.Background(), principalID, integ.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.IssuedAt)
	assert.WithinDuration(t, time.Now(), *stored.IssuedAt, time.Minute)

	decrypted, err := cdc.Decrypt(stored.EncryptedCredential)
	require.NoError(t, err)
	assert.Equal(t, refresher.bundle, decrypted)

	// Immediately after a refresh the token is valid again; no second
	// refresh happens.
	token, err = m.GetValidCredential(context.Background(), principalID, integ)
	require.NoError(t, err)
	assert.Equal(t, "fresh-tok", token)
	assert.Equal(t, int64(1), refresher.calls.Load())
}

func TestGetValidCredentialExpiredNoRefreshToken(t *testing.T) {
	mem := memory.New()
	cdc := codec.NewAESCodec("k")
	refresher := &fakeRefresher{}
	m := NewManager(mem, cdc, refresher)

	principalID := uuid.New()
	integ := oauthIntegration()
	conn := seedConnection(t, mem, cdc, principalID, integ,
		codec.Bundle{AccessToken: "stale-tok", ExpiresIn: 3600},
		time.Now().Add(-2*time.Hour), true)

	// Repeated failures are idempotent and never touch the store.
	for i := 0; i < 2; i++ {
		_, err := m.GetValidCredential(context.Background(), principalID, integ)
		assert.True(t, errors.Is(err, ErrCredentialExpired))
	}
	assert.Equal(t, int64(0), refresher.calls.Load())

	stored, err := mem.GetConnection(context.Background(), principalID, integ.ID)
	require.NoError(t, err)
	assert.Equal(t, conn.EncryptedCredential, stored.EncryptedCredential)
	assert.Equal(t, conn.IssuedAt.Unix(), stored.IssuedAt.Unix())
}

func TestGetValidCredentialRefreshFailure(t *testing.T) {
	mem := memory.New()
	cdc := codec.NewAESCodec("k")
	refreshErr := errors.New("provider said no")
	refresher := &fakeRefresher{err: refreshErr}
	m := NewManager(mem, cdc, refresher)

	principalID := uuid.New()
	integ := oauthIntegration()
	conn := seedConnection(t, mem, cdc, principalID, integ,
		codec.Bundle{AccessToken: "stale-tok", RefreshToken: "r", ExpiresIn: 3600},
		time.Now().Add(-2*time.Hour), true)

	_, err := m.GetValidCredential(context.Background(), principalID, integ)
	assert.True(t, errors.Is(err, refreshErr))

	// Failed refresh leaves the stored connection unchanged.
	stored, err := mem.GetConnection(context.Background(), principalID, integ.ID)
	require.NoError(t, err)
	assert.Equal(t, conn.EncryptedCredential, stored.EncryptedCredential)
}

func TestGetValidCredentialCorruptCiphertext(t *testing.T) {
	mem := memory.New()
	cdc := codec.NewAESCodec("k")
	m := NewManager(mem, cdc, &fakeRefresher{})

	principalID := uuid.New()
	integ := oauthIntegration()
	now := time.Now()
	require.NoError(t, mem.UpsertConnection(context.Background(), store.Connection{
		ID:                  uuid.New(),
		PrincipalID:         principalID,
		IntegrationID:       integ.ID,
		Enabled:             true,
		EncryptedCredential: "not-a-real-ciphertext",
		IssuedAt:            &now,
	}))

	_, err := m.GetValidCredential(context.Background(), principalID, integ)
	assert.True(t, errors.Is(err, codec.ErrCorruptCredential))
}

func TestExpiryMargin(t *testing.T) {
	mem := memory.New()
	cdc := codec.NewAESCodec("k")
	refresher := &fakeRefresher{
		bundle: codec.Bundle{AccessToken: "fresh", RefreshToken: "r", ExpiresIn: 3600},
	}
	m := NewManager(mem, cdc, refresher)

	principalID := uuid.New()
	integ := oauthIntegration()
	// Token nominally has 10s of life left, inside the 30s margin.
	seedConnection(t, mem, cdc, principalID, integ,
		codec.Bundle{AccessToken: "almost-dead", RefreshToken: "r", ExpiresIn: 3600},
		time.Now().Add(-3590*time.Second), true)

	token, err := m.GetValidCredential(context.Background(), principalID, integ)
	require.NoError(t, err)
	assert.Equal(t, "fresh", token)
	assert.Equal(t, int64(1), refresher.calls.Load())
}

func TestConcurrentRefreshIsDeduplicated(t *testing.T) {
	mem := memory.New()
	cdc := codec.NewAESCodec("k")
	refresher := &fakeRefresher{
		bundle:  codec.Bundle{AccessToken: "fresh", RefreshToken: "r", ExpiresIn: 3600},
		release: make(chan struct{}),
	}
	m := NewManager(mem, cdc, refresher)

	principalID := uuid.New()
	integ := oauthIntegration()
	seedConnection(t, mem, cdc, principalID, integ,
		codec.Bundle{AccessToken: "stale", RefreshToken: "old-r", ExpiresIn: 3600},
		time.Now().Add(-2*time.Hour), true)

	const callers = 10
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tokens[i], errs[i] = m.GetValidCredential(context.Background(), principalID, integ)
		}(i)
	}

	// Give every caller time to join the in-flight refresh, then let
	// the provider respond.
	time.Sleep(100 * time.Millisecond)
	close(refresher.release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, "fresh", tokens[i])
	}
	assert.Equal(t, int64(1), refresher.calls.Load())
}

func TestAuthorizeAndDisable(t *testing.T) {
	mem := memory.New()
	cdc := codec.NewAESCodec("k")
	m := NewManager(mem, cdc, &fakeRefresher{})
	ctx := context.Background()

	principalID := uuid.New()
	integ := oauthIntegration()
	bundle := codec.Bundle{AccessToken: "tok", RefreshToken: "r", ExpiresIn: 3600}

	conn, err := m.Authorize(ctx, principalID, integ, bundle)
	require.NoError(t, err)
	assert.True(t, conn.Enabled)
	assert.NotEmpty(t, conn.EncryptedCredential)

	token, err := m.GetValidCredential(ctx, principalID, integ)
	require.NoError(t, err)
	assert.Equal(t, "tok", token)

	require.NoError(t, m.Disable(ctx, principalID, integ.ID))

	_, err = m.GetValidCredential(ctx, principalID, integ)
	assert.True(t, errors.Is(err, ErrNotConnected))

	// History is preserved, not deleted.
	stored, err := mem.GetConnection(ctx, principalID, integ.ID)
	require.NoError(t, err)
	assert.False(t, stored.Enabled)
	assert.NotEmpty(t, stored.EncryptedCredential)
}
