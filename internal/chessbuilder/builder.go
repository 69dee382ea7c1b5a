package chessbuilder

import (
	"context"
	"fmt"
	"time"

	"github.com/park285/Cheese-arena/internal/adapter/chesspresenter"
	"github.com/park285/Cheese-arena/internal/config"
	"github.com/park285/Cheese-arena/internal/dispatch"
	"github.com/park285/Cheese-arena/internal/match"
	"github.com/park285/Cheese-arena/internal/msgcat"
	"github.com/park285/Cheese-arena/internal/session"
	"github.com/park285/Cheese-arena/internal/store"
	"github.com/park285/Cheese-arena/internal/wsserver"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// Deps is the assembled server graph.
type Deps struct {
	Store      store.Store
	Sessions   *session.Registry
	Manager    *match.Manager
	Dispatcher *dispatch.Dispatcher
	Server     *wsserver.Server
}

func New(cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	presenter := chesspresenter.NewPresenter(cat)

	st, err := openStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	sessions := session.NewRegistry(session.Options{
		SendTimeout:   cfg.SendTimeout,
		SweepInterval: cfg.SweepInterval,
		Logger:        logger.Named("session"),
	})
	mgr := match.NewManager(st, sessions, presenter, match.WithLogger(logger.Named("match")))
	disp := dispatch.New(mgr, sessions, presenter, logger.Named("dispatch"))
	srv := wsserver.New(disp, wsserver.Options{
		Addr:            cfg.ListenAddr,
		Path:            cfg.WSPath,
		MaxMessageBytes: cfg.MaxMessageBytes,
		AllowedOrigins:  append([]string(nil), cfg.AllowedOrigins...),
		Logger:          logger.Named("ws"),
	})

	return &Deps{Store: st, Sessions: sessions, Manager: mgr, Dispatcher: disp, Server: srv}, nil
}

func openStore(cfg *config.AppConfig, logger *zap.Logger) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.StoreMemory, "":
		logger.Info("store_open", zap.String("backend", config.StoreMemory))
		return store.NewMemory(), nil
	case config.StoreRedis:
		st, err := store.NewRedis(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("init redis store: %w", err)
		}
		logger.Info("store_open", zap.String("backend", config.StoreRedis))
		return st, nil
	case config.StorePostgres:
		pg, err := store.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		if cfg.AutoMigrate {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := pg.Migrate(ctx); err != nil {
				_ = pg.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}
		logger.Info("store_open", zap.String("backend", config.StorePostgres), zap.Bool("migrated", cfg.AutoMigrate))
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

// Start begins the liveness sweep. Serving is left to the caller.
func (d *Deps) Start() error {
	return d.Sessions.Start()
}

// Close stops the server, the sweep and the store, collecting every error.
func (d *Deps) Close(ctx context.Context) error {
	var errs error
	if d.Server != nil {
		errs = multierr.Append(errs, d.Server.Shutdown(ctx))
	}
	if d.Sessions != nil {
		errs = multierr.Append(errs, d.Sessions.Stop())
	}
	if d.Store != nil {
		errs = multierr.Append(errs, d.Store.Close())
	}
	return errs
}
