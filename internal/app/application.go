package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/Nayan-Bera/New-Practo-backend/internal/api"
	"github.com/Nayan-Bera/New-Practo-backend/internal/auth"
	"github.com/Nayan-Bera/New-Practo-backend/internal/config"
	"github.com/Nayan-Bera/New-Practo-backend/internal/coordinator"
	"github.com/Nayan-Bera/New-Practo-backend/internal/exam"
	"github.com/Nayan-Bera/New-Practo-backend/internal/reconnect"
	"github.com/Nayan-Bera/New-Practo-backend/internal/session"
	"github.com/Nayan-Bera/New-Practo-backend/internal/suspicion"
	"github.com/Nayan-Bera/New-Practo-backend/internal/websocket"
)

// Application owns the component graph and its lifecycle.
type Application struct {
	cfg    *config.Config
	log    *zap.Logger
	store  exam.Store
	co     *coordinator.Coordinator
	server *api.Server
}

// New wires the application from configuration: store, session registry,
// coordinator, WebSocket handler, HTTP server.
func New(cfg *config.Config, log *zap.Logger) (*Application, error) {
	store, err := exam.NewSQLiteStore(exam.SQLiteConfig{
		Path:            cfg.Database.Path,
		MaxConnections:  cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open exam store: %w", err)
	}

	registry := session.NewRegistry()

	co := coordinator.NewCoordinator(coordinator.Config{
		WarningCooldown:   cfg.Proctor.WarningCooldown,
		MaxDisconnections: cfg.Proctor.MaxDisconnections,
		PollInterval:      cfg.Proctor.PollInterval,
		Reconnect: reconnect.Config{
			MaxAttempts: cfg.Proctor.ReconnectMaxAttempts,
			Timeout:     cfg.Proctor.ReconnectTimeout,
		},
		Windows: suspicion.Config{
			AnalysisWindow: cfg.Proctor.AnalysisWindow,
			ActivityWindow: cfg.Proctor.ActivityWindow,
		},
	}, registry, store, log)

	tokens := auth.NewTokenManager(cfg.Auth.Secret, cfg.Auth.TokenTTL)
	wsHandler := websocket.NewHandler(tokens, co, log)
	server := api.NewServer(cfg.Server, wsHandler, registry, co, log)

	return &Application{
		cfg:    cfg,
		log:    log,
		store:  store,
		co:     co,
		server: server,
	}, nil
}

// Start serves HTTP; it blocks until the server stops.
func (a *Application) Start() error {
	return a.server.Start()
}

// Stop shuts the system down in dependency order: stop accepting traffic,
// stop background watchers and timers, then close the store.
func (a *Application) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		a.log.Warn("http shutdown did not complete cleanly", zap.Error(err))
	}

	a.co.Shutdown()

	if err := a.store.Close(); err != nil {
		return fmt.Errorf("close exam store: %w", err)
	}

	a.log.Info("shutdown complete")
	return nil
}
