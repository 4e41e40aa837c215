package main

import (
	"context"
	"fmt"
	"net/http"

	"github.com/99designs/keyring"
	"github.com/pysugar/tempmail-nexus/internal/auth/token"
	"github.com/pysugar/tempmail-nexus/internal/config"
	"github.com/pysugar/tempmail-nexus/internal/credential"
	"github.com/pysugar/tempmail-nexus/internal/db"
	"github.com/pysugar/tempmail-nexus/internal/inbox"
	"github.com/pysugar/tempmail-nexus/internal/logging"
	"github.com/pysugar/tempmail-nexus/internal/mailapi"
	"github.com/pysugar/tempmail-nexus/internal/monitor"
	"github.com/pysugar/tempmail-nexus/internal/providers/catalog"
	"github.com/pysugar/tempmail-nexus/internal/session"
	"github.com/pysugar/tempmail-nexus/internal/upstream"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// app holds the wired core components for one command invocation.
type app struct {
	cfg *config.Config
	log *logrus.Logger

	db       *gorm.DB
	registry *catalog.Registry
	apiKeys  *credential.APIKeys
	monitor  *monitor.CallMonitor
	client   *upstream.Client
	mail     *mailapi.API
	tokens   *token.Manager
	session  *session.Store
	inbox    *inbox.Service
	poller   *inbox.Poller
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logging.New(cfg.LogLevel, cfg.LogFormat)

	database, err := db.InitDB(cfg.DataPath)
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", cfg.DataPath, err)
	}
	a := &app{cfg: cfg, log: log, db: database}

	store := db.NewKVStore(database)

	a.registry, err = catalog.NewRegistry(ctx, store, log)
	if err != nil {
		a.close()
		return nil, err
	}
	if cfg.ProvidersFile != "" {
		if err := a.registry.LoadSeedFile(ctx, cfg.ProvidersFile); err != nil {
			a.close()
			return nil, err
		}
	}

	var ring keyring.Keyring
	if cfg.Keyring.Enabled {
		ring, err = credential.OpenKeyring(cfg.Keyring.FileDir)
		if err != nil {
			log.WithError(err).Warn("⚠️ Keyring unavailable, API key falls back to the database")
		}
	}
	a.apiKeys = credential.NewAPIKeys(cfg.APIKey, ring, store, log)

	a.monitor = monitor.New(database, log)
	a.client = upstream.NewClient(upstream.Options{
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
		MaxRetries: maxRetriesOption(cfg.Retry.MaxRetries),
		BaseDelay:  cfg.Retry.BaseDelay,
		APIKeys:    a.apiKeys,
		Observer:   a.monitor,
		Logger:     log,
		Verbose:    cfg.Verbose,
	})
	a.mail = mailapi.New(a.client, a.registry, log)

	a.tokens = token.NewManager(a.mail, log)
	a.client.SetRefresher(a.tokens)

	a.session, err = session.New(ctx, session.Options{
		Storage:          store,
		Registry:         a.registry,
		Tokens:           a.tokens,
		API:              a.mail,
		Logger:           log,
		DiscardPasswords: !cfg.RememberPassword,
	})
	if err != nil {
		a.close()
		return nil, err
	}

	a.inbox = inbox.NewService(a.mail, a.session, a.tokens.TokenSource(ctx), log)
	a.poller = inbox.NewPoller(a.inbox, cfg.PollInterval, log)
	return a, nil
}

// maxRetriesOption maps the configured count onto upstream.Options, where
// zero selects the default and a negative value disables retries.
func maxRetriesOption(n int) int {
	if n == 0 {
		return -1
	}
	return n
}

func (a *app) close() {
	if a.poller != nil {
		a.poller.Close()
	}
	if a.session != nil {
		a.session.Close()
	}
	if a.monitor != nil {
		a.monitor.Flush()
	}
	if a.db != nil {
		if sqlDB, err := a.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
}
