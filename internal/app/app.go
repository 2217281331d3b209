// Package app is the composition root: it wires configuration, the channel
// registry, the session store and handler, the offline cache, the periodic
// reconciliation jobs, and the status endpoint.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"repsync/internal/config"
	"repsync/internal/realtime"
	"repsync/internal/session"
	"repsync/internal/statusapi"
	"repsync/internal/storage"
	"repsync/pkg/logger"
)

// SessionChannelID is the logical channel carrying exercise session traffic.
const SessionChannelID = "exercise_session"

// App owns the running pieces of the sync client.
type App struct {
	cfg      *config.Config
	registry *realtime.Registry
	store    *session.Store
	handler  *session.Handler
	db       *storage.DB
	cache    *storage.SessionCache
	cron     *cron.Cron
	status   *statusapi.Server
	sub      *realtime.Subscription
	cancel   context.CancelFunc
	log      zerolog.Logger
}

// New builds the app from configuration. The cached session for the account
// is resumed when present; otherwise a local draft session is synthesized.
func New(cfg *config.Config, tokens realtime.TokenProvider) (*App, error) {
	if _, ok := cfg.Channels[SessionChannelID]; !ok {
		return nil, fmt.Errorf("config: channel %q is not declared", SessionChannelID)
	}

	dbPath, err := config.ExpandPath(cfg.Storage.Path)
	if err != nil {
		return nil, err
	}
	db, err := storage.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open session cache: %w", err)
	}
	cache := storage.NewSessionCache(db)

	sess, state, ok, err := cache.LoadLatest(cfg.AccountID)
	if err != nil {
		db.Close()
		return nil, err
	}
	if !ok {
		sess, state = session.NewLocalSession(cfg.AccountID, "")
	}
	store := session.NewStore(sess, state)

	registry := realtime.NewRegistry()
	for id, ch := range cfg.Channels {
		registry.Add(realtime.NewConnection(ch.ToRealtime(id), tokens))
	}

	conn, err := registry.Get(SessionChannelID)
	if err != nil {
		db.Close()
		return nil, err
	}
	handler := session.NewHandler(store, conn, cfg.AccountID)

	a := &App{
		cfg:      cfg,
		registry: registry,
		store:    store,
		handler:  handler,
		db:       db,
		cache:    cache,
		cron:     cron.New(),
		log:      *logger.Component("app"),
	}

	if cfg.Sync.RequestSchedule != "" {
		if _, err := a.cron.AddFunc(cfg.Sync.RequestSchedule, a.requestSync); err != nil {
			db.Close()
			return nil, fmt.Errorf("sync request schedule: %w", err)
		}
	}
	if cfg.Sync.FlushSchedule != "" {
		if _, err := a.cron.AddFunc(cfg.Sync.FlushSchedule, a.flushCache); err != nil {
			db.Close()
			return nil, fmt.Errorf("cache flush schedule: %w", err)
		}
	}

	if cfg.Status.Enabled {
		a.status = statusapi.New(cfg.Status.Addr, registry, store)
	}
	return a, nil
}

// Registry exposes the channel registry for observation.
func (a *App) Registry() *realtime.Registry { return a.registry }

// Store exposes the session store for observation.
func (a *App) Store() *session.Store { return a.store }

// Handler exposes the state-mutation entry points the UI layer calls.
func (a *App) Handler() *session.Handler { return a.handler }

// Start connects all channels and begins dispatch, periodic jobs, and the
// status endpoint. Channel failures are not fatal: auto-reconnect owns
// recovery, so Start only reports them.
func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	conn, err := a.registry.Get(SessionChannelID)
	if err != nil {
		return err
	}
	a.sub = conn.Subscribe(realtime.OpAny)
	go a.handler.Run(runCtx, a.sub.Messages())

	if a.status != nil {
		a.status.Start()
	}
	a.cron.Start()

	if err := a.registry.ConnectAll(ctx, a.cfg.ServerURL); err != nil {
		a.log.Warn().Err(err).Msg("Some channels failed to connect")
	}
	return nil
}

// Stop flushes the cache and shuts everything down.
func (a *App) Stop() error {
	if a.cancel != nil {
		a.cancel()
	}
	a.cron.Stop()
	if a.status != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := a.status.Shutdown(shutdownCtx); err != nil {
			a.log.Warn().Err(err).Msg("Status server shutdown failed")
		}
	}
	a.registry.DisconnectAll()
	if a.sub != nil {
		a.sub.Close()
	}

	var errs []error
	if err := a.flushCacheErr(); err != nil {
		errs = append(errs, err)
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) requestSync() {
	if a.registry.State(SessionChannelID).Kind != realtime.StateConnected {
		return
	}
	if err := a.handler.RequestSync(); err != nil {
		a.log.Warn().Err(err).Msg("Periodic sync request failed")
	}
}

func (a *App) flushCache() {
	if err := a.flushCacheErr(); err != nil {
		a.log.Warn().Err(err).Msg("Cache flush failed")
	}
}

func (a *App) flushCacheErr() error {
	return a.cache.Save(a.store.Session(), a.store.State())
}
