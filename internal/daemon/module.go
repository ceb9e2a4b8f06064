// Package daemon composes the engine into a long-running process: store,
// auth session, API client, sync engine, outbox coordinator and the
// periodic sync scheduler, wired through fx.
package daemon

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"fetmsg/internal/api"
	"fetmsg/internal/auth"
	"fetmsg/internal/bus"
	"fetmsg/internal/client"
	"fetmsg/internal/config"
	"fetmsg/internal/lock"
	"fetmsg/internal/logging"
	"fetmsg/internal/outbox"
	"fetmsg/internal/session"
	"fetmsg/internal/status"
	"fetmsg/internal/store"
	intsync "fetmsg/internal/sync"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	SessionName string
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideBus,
			provideConfig,
			provideLock,
			provideStore,
			provideSession,
			provideAPIClient,
			provideTracker,
			provideSyncEngine,
			provideCoordinator,
			provideScheduler,
			provideClient,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.SessionName), p.SessionName)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideConfig(_ Params) (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.SessionName); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("session", p.SessionName))
	l, err := lock.Acquire(session.Dir(p.SessionName))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, b *bus.Bus, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.DBPath(p.SessionName)
	db, err := store.Open(dbPath, b)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideSession(p Params, cfg *config.Config, b *bus.Bus, logger *zap.Logger) (*auth.Session, error) {
	return auth.New(auth.Config{
		BaseURL:      cfg.API.BaseURL,
		ClientID:     cfg.API.ClientID,
		ClientSecret: cfg.API.ClientSecret,
		RedirectURI:  cfg.API.RedirectURI,
	}, nil, session.TokenPath(p.SessionName), b, logger)
}

func provideAPIClient(cfg *config.Config, s *auth.Session, logger *zap.Logger) *api.Client {
	return api.New(cfg.API.BaseURL, s, logger)
}

func provideTracker(b *bus.Bus) *status.Tracker {
	return status.NewTracker(b)
}

func provideSyncEngine(db *store.DB, c *api.Client, s *auth.Session, b *bus.Bus, t *status.Tracker, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, c, s, b, t, logger)
}

func provideCoordinator(db *store.DB, c *api.Client, s *auth.Session, b *bus.Bus, logger *zap.Logger) *outbox.Coordinator {
	return outbox.NewCoordinator(db, c, s, b, logger)
}

func provideScheduler(cfg *config.Config, engine *intsync.Engine, s *auth.Session, logger *zap.Logger) *Scheduler {
	return NewScheduler(cfg.API.SyncIntervalSeconds, engine, s, logger)
}

func provideClient(db *store.DB, s *auth.Session, engine *intsync.Engine, sender *outbox.Coordinator, b *bus.Bus, logger *zap.Logger) *client.Client {
	return client.New(db, s, engine, sender, b, logger)
}

func registerLifecycle(lc fx.Lifecycle, lk *lock.Lock, db *store.DB, c *client.Client, sender *outbox.Coordinator, sched *Scheduler, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			sender.Start(context.Background())
			sched.Start(context.Background())
			if id, ok := c.Identity(); ok {
				logger.Info("daemon started", zap.String("member", id.Nickname))
			} else {
				logger.Info("daemon started, not logged in")
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			sched.Stop()
			sender.Stop()
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
