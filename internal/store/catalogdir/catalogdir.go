// Package catalogdir implements a read-only IntegrationStore over a
// directory of YAML integration definitions. It is used in standalone
// mode, where no database holds the catalog; the dashboard-managed
// deployments use the postgres store instead.
//
// The directory is watched with fsnotify and reloaded as a whole on any
// change. Readers always observe a complete snapshot: reloads build a
// fresh catalog and swap it in under the lock, so a half-written file
// set is never visible through the store interface.
package catalogdir

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"toolgate/internal/store"
	"toolgate/pkg/logging"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Store serves integration definitions from a directory of YAML files,
// one integration per file.
type Store struct {
	dir string

	mu     sync.RWMutex
	bySlug map[string]store.Integration
	byID   map[uuid.UUID]store.Integration

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// Open loads all definitions from dir and starts watching it for
// changes. Call Close to stop the watcher.
func Open(dir string) (*Store, error) {
	s := &Store{
		dir:  dir,
		done: make(chan struct{}),
	}
	if err := s.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create catalog watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch catalog directory %s: %w", dir, err)
	}
	s.watcher = watcher

	go s.watchLoop()

	return s, nil
}

// Close stops the directory watcher.
func (s *Store) Close() error {
	close(s.done)
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

func (s *Store) watchLoop() {
	// Editors produce bursts of events per save; debounce so each burst
	// triggers a single reload.
	var pending <-chan time.Time

	for {
		select {
		case <-s.done:
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			pending = time.After(250 * time.Millisecond)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			logging.Warn("Catalog", "Watcher error: %v", err)
		case <-pending:
			pending = nil
			if err := s.reload(); err != nil {
				logging.Error("Catalog", err, "Failed to reload integration catalog, keeping previous snapshot")
			}
		}
	}
}

// reload parses every definition file and swaps in the new snapshot.
// On any parse error the previous snapshot stays in place.
func (s *Store) reload() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("failed to read catalog directory %s: %w", s.dir, err)
	}

	bySlug := make(map[string]store.Integration)
	byID := make(map[uuid.UUID]store.Integration)

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(s.dir, entry.Name())
		integration, err := loadDefinition(path)
		if err != nil {
			return err
		}
		if _, exists := bySlug[integration.Slug]; exists {
			return fmt.Errorf("duplicate integration slug %q in %s", integration.Slug, entry.Name())
		}
		bySlug[integration.Slug] = integration
		byID[integration.ID] = integration
	}

	s.mu.Lock()
	s.bySlug = bySlug
	s.byID = byID
	s.mu.Unlock()

	logging.Info("Catalog", "Loaded %d integration definitions from %s", len(bySlug), s.dir)
	return nil
}

func loadDefinition(path string) (store.Integration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return store.Integration{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var integration store.Integration
	if err := yaml.Unmarshal(data, &integration); err != nil {
		return store.Integration{}, fmt.Errorf("failed to parse integration definition %s: %w", path, err)
	}

	if strings.TrimSpace(integration.Slug) == "" {
		return store.Integration{}, fmt.Errorf("integration definition %s has no slug", path)
	}
	if strings.TrimSpace(integration.HandlerAddress) == "" {
		return store.Integration{}, fmt.Errorf("integration %q has no handlerAddress", integration.Slug)
	}

	// File-based definitions carry no id; derive a stable one from the
	// slug so connections survive reloads.
	integration.ID = uuid.NewSHA1(uuid.NameSpaceURL, []byte("toolgate/integration/"+integration.Slug))

	return integration, nil
}

func (s *Store) GetIntegration(ctx context.Context, id uuid.UUID) (store.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.byID[id]
	if !ok {
		return store.Integration{}, store.ErrNotFound
	}
	return i, nil
}

func (s *Store) GetIntegrationBySlug(ctx context.Context, slug string) (store.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.bySlug[slug]
	if !ok {
		return store.Integration{}, store.ErrNotFound
	}
	return i, nil
}

func (s *Store) ListIntegrations(ctx context.Context) ([]store.Integration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]store.Integration, 0, len(s.bySlug))
	for _, i := range s.bySlug {
		out = append(out, i)
	}
	return out, nil
}
