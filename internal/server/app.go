// Package server wires the PeerDrop server together: storage, the presence
// and transfer services, the websocket hub, the HTTP API and the reconciler,
// all under one graceful lifecycle.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/peerdrop/peerdrop/internal/logging"
	"github.com/peerdrop/peerdrop/internal/server/blobstore"
	"github.com/peerdrop/peerdrop/internal/server/config"
	"github.com/peerdrop/peerdrop/internal/server/httpapi"
	"github.com/peerdrop/peerdrop/internal/server/reconciler"
	"github.com/peerdrop/peerdrop/internal/server/repositories/repomanager"
	"github.com/peerdrop/peerdrop/internal/server/services"
	"github.com/peerdrop/peerdrop/internal/server/transport"
)

type App struct {
	config     *config.Config
	logger     logging.Logger
	db         *sql.DB
	httpServer *httpapi.Server
	reconciler *reconciler.Reconciler
}

func NewApp(cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm, err := repomanager.NewPostgresRepositoryManager()
	if err != nil {
		return nil, fmt.Errorf("repository manager init error: %w", err)
	}
	if err := rm.RunMigrations(context.Background(), db); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}

	presence := services.NewPresenceService(db, rm, cfg)
	queue := services.NewTransferService(db, rm, cfg)
	blobs := blobstore.NewS3Store(cfg)

	hub := transport.NewHub(presence, logger)
	router := services.NewRouterService(presence, queue, blobs, hub, cfg, logger)
	hub.BindRouter(router)

	handlers := httpapi.NewHandlers(presence, queue, router, blobs, cfg, logger)

	return &App{
		config:     cfg,
		logger:     logger,
		db:         db,
		httpServer: httpapi.NewServer(cfg, handlers, hub, logger),
		reconciler: reconciler.New(db, rm, hub, cfg, logger),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run starts the HTTP server and the reconciler and blocks until both have
// shut down after a signal or a listener failure.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting server", "addr", app.config.EndpointAddrHTTP)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := app.httpServer.Run(ctx); err != nil {
			app.logger.Error(ctx, "http server failed", "error", err)
			cancelFunc()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.reconciler.Run(ctx)
	}()

	wg.Wait()

	if err := app.db.Close(); err != nil {
		app.logger.Warn(context.WithoutCancel(ctx), "closing db failed", "error", err)
	}
	app.logger.Info(context.WithoutCancel(ctx), "server stopped")
}
