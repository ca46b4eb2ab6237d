package daemon

import (
	"context"
	"path/filepath"

	"github.com/matheus3301/deskline/internal/bus"
	"github.com/matheus3301/deskline/internal/config"
	"github.com/matheus3301/deskline/internal/engine"
	"github.com/matheus3301/deskline/internal/httpapi"
	"github.com/matheus3301/deskline/internal/lock"
	"github.com/matheus3301/deskline/internal/logging"
	"github.com/matheus3301/deskline/internal/paths"
	"github.com/matheus3301/deskline/internal/realtime"
	"github.com/matheus3301/deskline/internal/server"
	"github.com/matheus3301/deskline/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved daemon configuration passed to the fx module.
type Params struct {
	DataDir string
	Daemon  config.Daemon
	Console bool
	Debug   bool
	// Logger overrides the file logger, mainly for tests.
	Logger *zap.Logger
}

// healthChecks are the optional dependencies reported by /healthz.
type healthChecks map[string]httpapi.Pinger

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideLogger,
			provideLock,
			provideStore,
			bus.New,
			engine.New,
			provideLocal,
			provideBroadcaster,
			provideKeys,
			server.NewDataService,
			NewServer,
			NewHTTPServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLogger(p Params) (*zap.Logger, error) {
	if p.Logger != nil {
		return p.Logger, nil
	}
	return logging.New(logging.Options{
		Path:      paths.LogPath(p.DataDir, "desklined"),
		Component: "desklined",
		Console:   p.Console,
		Debug:     p.Debug,
	})
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := paths.EnsureDir(p.DataDir); err != nil {
		return nil, err
	}
	logger.Info("acquiring daemon lock", zap.String("dir", p.DataDir))
	l, err := lock.Acquire(p.DataDir)
	if err != nil {
		return nil, err
	}
	logger.Info("daemon lock acquired")
	return l, nil
}

// provideStore depends on the lock so two daemons never migrate the same file.
func provideStore(p Params, _ *lock.Lock, logger *zap.Logger) (*store.DB, error) {
	dbPath := paths.DBPath(p.DataDir)
	db, err := store.Open(dbPath)
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
	logger.Info("store initialized", zap.String("path", filepath.Clean(dbPath)))
	return db, nil
}

func provideLocal(b *bus.Bus, logger *zap.Logger) (*realtime.Local, realtime.Subscriber) {
	l := realtime.NewLocal(b, logger)
	return l, l
}

// provideBroadcaster fans broadcasts through Redis when a URL is configured,
// otherwise through the in-process bus.
func provideBroadcaster(lc fx.Lifecycle, p Params, local *realtime.Local, logger *zap.Logger) (realtime.Broadcaster, healthChecks, error) {
	if p.Daemon.RedisURL == "" {
		return local, healthChecks{}, nil
	}
	r, err := realtime.NewRedis(context.Background(), p.Daemon.RedisURL, logger)
	if err != nil {
		return nil, nil, err
	}
	lc.Append(fx.StopHook(r.Close))
	logger.Info("broadcasts routed through redis")
	return r, healthChecks{"redis": r}, nil
}

func provideKeys(p Params, logger *zap.Logger) server.KeySet {
	ks := server.NewKeySet(p.Daemon.APIKeys)
	if !ks.Enabled() {
		logger.Warn("no api keys configured, authentication disabled")
	}
	return ks
}

func registerLifecycle(lc fx.Lifecycle, srv *Server, web *HTTPServer, db *store.DB, lk *lock.Lock, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			srv.Start()
			web.Start()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			web.Stop(ctx)
			srv.Stop(ctx)
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}
