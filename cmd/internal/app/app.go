// Package app wires the traq server runtime: config, logging, persistence,
// HTTP routes and the activity-feed gateway.
package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	authapi "traq/cmd/internal/auth/api"
	"traq/cmd/internal/auth/session"
	"traq/cmd/internal/board"
	"traq/cmd/internal/feed"
	"traq/cmd/security/token"

	"github.com/jackc/pgx/v5/pgxpool"
)

// App is the traq server runtime.
type App struct {
	cfg Config
	log Logger

	dbPool *pgxpool.Pool

	auth     *authapi.Handler
	boardAPI *board.Handler
	ws       *feed.Gateway
}

// New constructs a fully wired App instance from config and logger.
func New(ctx context.Context, cfg Config, log Logger) (*App, error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel)
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("app: TRAQ_DATABASE_URL is required")
	}

	if cfg.RequireTokenHMAC && !token.HMACEnabled() {
		return nil, errors.New("app: TRAQ_REQUIRE_TOKEN_HMAC is set but TRAQ_TOKEN_HMAC_KEY is missing or too short")
	}

	if cfg.MigrateOnStart {
		if err := MigrateUp(log, cfg.DatabaseURL); err != nil {
			return nil, err
		}
	}

	pool, err := NewDBPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		pool.Close()
		return nil, err
	}

	authHandler, err := authapi.NewHandler(log, pool, authapi.LoadConfigFromEnv(), sessCfg)
	if err != nil {
		pool.Close()
		return nil, err
	}

	hub := feed.NewHub(log)
	ws, err := feed.NewGateway(log, hub, authHandler.SessionService(), authHandler.IdentityStore())
	if err != nil {
		pool.Close()
		return nil, err
	}

	boardStore, err := board.NewPostgresStore(pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	boardAPI, err := board.NewHandler(log, boardStore, authHandler, ws, 0)
	if err != nil {
		pool.Close()
		return nil, err
	}

	return &App{
		cfg:      cfg,
		log:      log,
		dbPool:   pool,
		auth:     authHandler,
		boardAPI: boardAPI,
		ws:       ws,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal
// server error.
func (a *App) Run(ctx context.Context) error {
	a.auth.StartCSRFSweeper(ctx)

	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.dbPool, a.auth, a.boardAPI, a.ws)

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           WithRequestLogging(mux, a.log),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.dbPool.Close()
	a.log.Info("server.stopped")
	return nil
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
