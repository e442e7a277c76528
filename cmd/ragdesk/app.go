package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kalambet/ragdesk/internal/config"
	"github.com/kalambet/ragdesk/internal/logging"
	"github.com/kalambet/ragdesk/internal/prefs"
	"github.com/kalambet/ragdesk/internal/remote"
	"github.com/kalambet/ragdesk/internal/session"
	"github.com/kalambet/ragdesk/internal/storage"
)

// app holds the components one command invocation needs.
type app struct {
	cfg    config.Config
	logger *zap.Logger
	store  *storage.Store
	prefs  *prefs.Manager
	sess   *session.Orchestrator

	closers []func()
}

// openLocal loads config, logging, and the preference store. console adds
// the stderr log core on top of the config's setting.
func openLocal(cfg config.Config, console bool) (*app, error) {
	logger, flush, err := logging.New(logging.Options{
		File:    cfg.LogFile(),
		Level:   cfg.Log.Level,
		Console: cfg.Log.Console || console,
	})
	if err != nil {
		return nil, fmt.Errorf("setting up logging: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, closers: []func(){flush}}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a.store = store
	a.closers = append(a.closers, func() { store.Close() })
	a.prefs = prefs.Load(store, logger)
	return a, nil
}

// openSession extends openLocal with the remote client and orchestrator.
func openSession(cfg config.Config, console bool) (*app, error) {
	a, err := openLocal(cfg, console)
	if err != nil {
		return nil, err
	}

	var ropts []remote.Option
	if cfg.Remote.APIToken != "" {
		ropts = append(ropts, remote.WithToken(cfg.Remote.APIToken))
	}
	if cfg.Remote.RequestTimeout > 0 {
		ropts = append(ropts, remote.WithTimeout(cfg.Remote.RequestTimeout))
	}

	a.sess = session.New(session.Options{
		Remote:            remote.New(cfg.Remote.BaseURL, ropts...),
		Prefs:             a.prefs,
		TopK:              cfg.Query.TopK,
		HistoryLimit:      cfg.History.Limit,
		UploadConcurrency: cfg.Upload.Concurrency,
		RefreshInterval:   cfg.Session.RefreshInterval,
		NotifyTTL:         cfg.Notify.TTL,
		Logger:            a.logger,
	})
	a.closers = append(a.closers, a.sess.Close)
	return a, nil
}

// startBackground runs Start without blocking the caller. The returned
// function cancels a start still in progress and waits for it.
func (a *app) startBackground(ctx context.Context) func() {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		a.sess.Start(ctx)
	}()
	return func() {
		cancel()
		<-done
	}
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
