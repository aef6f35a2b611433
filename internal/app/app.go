package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/pulsemeet/pulse-server/internal/auth"
	"github.com/pulsemeet/pulse-server/internal/config"
	"github.com/pulsemeet/pulse-server/internal/core"
	"github.com/pulsemeet/pulse-server/internal/store"
	"github.com/pulsemeet/pulse-server/internal/store/postgres"
	"github.com/pulsemeet/pulse-server/internal/store/sqlite"
	transporthttp "github.com/pulsemeet/pulse-server/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := openStore(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour,
	}
	authService := auth.NewService(st, jwtConfig)

	hub := core.NewHub(st, st, st, logger)
	server := transporthttp.NewServer(hub, authService, st, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		log:             logger,
	}, nil
}

func openStore(cfg config.Config, logger *zerolog.Logger) (store.Store, error) {
	switch cfg.Store {
	case "postgres":
		st, err := postgres.New(context.Background(), cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		logger.Info().Msg("postgres store initialized")
		return st, nil
	case "", "sqlite":
		st, err := sqlite.New(cfg.DatabasePath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("db_path", cfg.DatabasePath).Msg("sqlite store initialized")
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go a.hub.Run(ctx)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
