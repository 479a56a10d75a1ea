package catalogdir

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"toolgate/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const weatherYAML = `
slug: weather
displayName: Weather
handlerAddress: http://localhost:9001/mcp
tools:
  - name: get_forecast
    description: Get the forecast
    inputSchema:
      type: object
      properties:
        city:
          type: string
resources:
  - uriTemplate: forecast://current
    description: Current forecast
`

const githubYAML = `
slug: github
handlerAddress: http://localhost:9002/mcp
tools:
  - name: create_issue
oauth:
  provider: github
  clientId: cid
  clientSecret: csecret
  scopes: [repo]
`

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o600))
}

func openCatalog(t *testing.T, dir string) *Store {
	t.Helper()
	s, err := Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpenLoadsDefinitions(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "weather.yaml", weatherYAML)
	writeFile(t, dir, "github.yaml", githubYAML)
	writeFile(t, dir, "notes.txt", "ignored")

	s := openCatalog(t, dir)
	ctx := context.Background()

	all, err := s.ListIntegrations(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	weather, err := s.GetIntegrationBySlug(ctx, "weather")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9001/mcp", weather.HandlerAddress)
	require.Len(t, weather.Tools, 1)
	assert.Equal(t, "get_forecast", weather.Tools[0].Name)
	require.Len(t, weather.Resources, 1)
	assert.Nil(t, weather.OAuth)

	github, err := s.GetIntegrationBySlug(ctx, "github")
	require.NoError(t, err)
	require.NotNil(t, github.OAuth)
	assert.Equal(t, "github", github.OAuth.Provider)
	assert.Equal(t, []string{"repo"}, github.OAuth.Scopes)
}

func TestDerivedIDsAreStable(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "weather.yaml", weatherYAML)

	s := openCatalog(t, dir)
	first, err := s.GetIntegrationBySlug(context.Background(), "weather")
	require.NoError(t, err)

	// A reload (or a restart) must keep the same id, otherwise
	// existing connections would dangle.
	require.NoError(t, s.reload())
	second, err := s.GetIntegrationBySlug(context.Background(), "weather")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	byID, err := s.GetIntegration(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, "weather", byID.Slug)
}

func TestReloadKeepsPreviousSnapshotOnError(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "weather.yaml", weatherYAML)

	s := openCatalog(t, dir)

	writeFile(t, dir, "broken.yaml", "slug: [")
	require.Error(t, s.reload())

	// Previous snapshot still serves.
	_, err := s.GetIntegrationBySlug(context.Background(), "weather")
	assert.NoError(t, err)
}

func TestOpenRejectsInvalidDefinitions(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"missing slug", "handlerAddress: http://localhost:9001/mcp"},
		{"missing handler", "slug: weather"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			writeFile(t, dir, "bad.yaml", tc.content)

			_, err := Open(dir)
			assert.Error(t, err)
		})
	}
}

func TestOpenRejectsDuplicateSlugs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", weatherYAML)
	writeFile(t, dir, "b.yaml", weatherYAML)

	_, err := Open(dir)
	assert.Error(t, err)
}

func TestUnknownSlugIsNotFound(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "weather.yaml", weatherYAML)

	s := openCatalog(t, dir)
	_, err := s.GetIntegrationBySlug(context.Background(), "ghost")
	assert.True(t, errors.Is(err, store.ErrNotFound))
}
