// Package app wires the gateway's components together and owns the
// process lifecycle for the serve command.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"toolgate/internal/apikey"
	"toolgate/internal/codec"
	"toolgate/internal/config"
	"toolgate/internal/connection"
	"toolgate/internal/gateway"
	"toolgate/internal/integration"
	"toolgate/internal/oauth"
	"toolgate/internal/registry"
	"toolgate/internal/store"
	"toolgate/internal/store/catalogdir"
	"toolgate/internal/store/memory"
	"toolgate/internal/store/postgres"
	"toolgate/internal/usage"
	"toolgate/pkg/logging"
)

// shutdownTimeout bounds the graceful drain of in-flight requests.
const shutdownTimeout = 10 * time.Second

// Components holds everything the serve command needs, plus the
// closers for teardown.
type Components struct {
	Server *gateway.Server

	closers []func() error
}

// Build assembles the gateway from configuration.
//
// Persistence is selected by configuration: a database DSN means
// Postgres for everything; without one the gateway runs standalone on
// in-memory stores with the integration catalog read from a watched
// directory of YAML files.
func Build(ctx context.Context, cfg config.Config) (*Components, error) {
	if cfg.EncryptionKey == "" {
		return nil, fmt.Errorf("no encryption key configured (set %s or encryptionKey)", config.EnvEncryptionKey)
	}

	cdc := codec.NewAESCodec(cfg.EncryptionKey)
	c := &Components{}

	var (
		principals   store.PrincipalStore
		creds        store.APICredentialStore
		integrations store.IntegrationStore
		connections  store.ConnectionStore
		usageStore   store.UsageStore
	)

	if cfg.DatabaseDSN != "" {
		db, err := postgres.Open(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		c.closers = append(c.closers, db.Close)
		if err := db.Migrate(ctx); err != nil {
			c.Close()
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		principals, creds, integrations, connections, usageStore = db, db, db, db, db
		logging.Info("App", "Using Postgres persistence")
	} else {
		mem := memory.New()
		principals, creds, connections, usageStore = mem, mem, mem, mem

		catalog, err := catalogdir.Open(cfg.CatalogDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open integration catalog %s: %w", cfg.CatalogDir, err)
		}
		c.closers = append(c.closers, catalog.Close)
		integrations = catalog
		logging.Info("App", "Running standalone with catalog directory %s", cfg.CatalogDir)
	}

	keys := apikey.New(creds, principals)
	reg := registry.New(integrations, connections)
	refresher := oauth.NewRefreshClient(cfg.RefreshTimeout.Std())
	manager := connection.NewManager(connections, cdc, refresher)
	proxy := integration.NewClient(cfg.ProxyTimeout.Std())
	recorder := usage.NewRecorder(usageStore)

	gw := gateway.New(keys, reg, manager, proxy, recorder)
	c.Server = gateway.NewServer(gw, cfg.ListenAddr())

	return c, nil
}

// Close releases everything Build opened, in reverse order.
func (c *Components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			logging.Warn("App", "Error during teardown: %v", err)
		}
	}
}

// Run builds the gateway and serves until the context is cancelled or
// a termination signal arrives.
func Run(ctx context.Context, cfg config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	components, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer components.Close()

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- components.Server.Start()
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := components.Server.Stop(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return nil
}
