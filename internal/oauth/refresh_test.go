package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"toolgate/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenURLFor(t *testing.T) {
	cases := []struct {
		name    string
		cfg     store.OAuthConfig
		want    string
		wantErr bool
	}{
		{"explicit url wins", store.OAuthConfig{Provider: "github", TokenURL: "https://example.com/token"}, "https://example.com/token", false},
		{"github default", store.OAuthConfig{Provider: "github"}, "https://github.com/login/oauth/access_token", false},
		{"case insensitive", store.OAuthConfig{Provider: "GitHub"}, "https://github.com/login/oauth/access_token", false},
		{"linear default", store.OAuthConfig{Provider: "linear"}, "https://api.linear.app/oauth/token", false},
		{"unknown provider", store.OAuthConfig{Provider: "nobody"}, "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := TokenURLFor(tc.cfg)
			if tc.wantErr {
				assert.True(t, errors.Is(err, ErrNoTokenEndpoint))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRefreshSuccess(t *testing.T) {
	var gotForm map[string]string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		gotForm = map[string]string{
			"grant_type":    r.PostFormValue("grant_type"),
			"refresh_token": r.PostFormValue("refresh_token"),
			"client_id":     r.PostFormValue("client_id"),
			"client_secret": r.PostFormValue("client_secret"),
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token":  "new-access",
			"refresh_token": "new-refresh",
			"token_type":    "bearer",
			"expires_in":    7200,
		})
	}))
	defer server.Close()

	client := NewRefreshClient(5 * time.Second)
	cfg := store.OAuthConfig{
		Provider:     "custom",
		TokenURL:     server.URL,
		ClientID:     "cid",
		ClientSecret: "csecret",
	}

	bundle, err := client.Refresh(context.Background(), cfg, "old-refresh")
	require.NoError(t, err)

	assert.Equal(t, "refresh_token", gotForm["grant_type"])
	assert.Equal(t, "old-refresh", gotForm["refresh_token"])
	assert.Equal(t, "cid", gotForm["client_id"])
	assert.Equal(t, "csecret", gotForm["client_secret"])

	assert.Equal(t, "new-access", bundle.AccessToken)
	assert.Equal(t, "new-refresh", bundle.RefreshToken)
	assert.Equal(t, "bearer", bundle.TokenType)
	assert.Equal(t, int64(7200), bundle.ExpiresIn)
}

func TestRefreshKeepsOldRefreshToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Some providers never rotate the refresh token and omit it.
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "new-access",
			"expires_in":   3600,
		})
	}))
	defer server.Close()

	client := NewRefreshClient(5 * time.Second)
	bundle, err := client.Refresh(context.Background(), store.OAuthConfig{TokenURL: server.URL}, "old-refresh")
	require.NoError(t, err)

	assert.Equal(t, "old-refresh", bundle.RefreshToken)
	assert.Equal(t, "Bearer", bundle.TokenType)
}

func TestRefreshProviderRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
	}))
	defer server.Close()

	client := NewRefreshClient(5 * time.Second)
	_, err := client.Refresh(context.Background(), store.OAuthConfig{TokenURL: server.URL}, "revoked")
	assert.True(t, errors.Is(err, ErrRefreshFailed))
}

func TestRefreshEmptyAccessToken(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{"expires_in": 3600})
	}))
	defer server.Close()

	client := NewRefreshClient(5 * time.Second)
	_, err := client.Refresh(context.Background(), store.OAuthConfig{TokenURL: server.URL}, "old")
	assert.True(t, errors.Is(err, ErrRefreshFailed))
}

func TestRefreshWithoutRefreshToken(t *testing.T) {
	client := NewRefreshClient(5 * time.Second)
	_, err := client.Refresh(context.Background(), store.OAuthConfig{TokenURL: "http://127.0.0.1:1"}, "")
	assert.True(t, errors.Is(err, ErrRefreshFailed))
}
