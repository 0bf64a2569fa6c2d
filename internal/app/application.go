package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"studyhub/internal/config"
	"studyhub/internal/database"
	"studyhub/internal/gateway"
	"studyhub/internal/presence"
)

// Application wires the process: store → presence registry → gateway →
// sweepers → HTTP server. The registry is a single explicitly injected
// instance with the sweepers owning the start/stop lifecycle, so tests can
// build isolated copies of any layer.
type Application struct {
	cfg           *config.Config
	logger        *zap.Logger
	store         *database.Manager
	registry      *presence.Registry
	subscribers   *gateway.Subscribers
	timerSweeper  *presence.TimerSweeper
	zombieSweeper *presence.ZombieSweeper
	httpServer    *http.Server
}

// NewApplication builds all components in dependency order.
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	store, err := database.NewManager(cfg.Database, logger.Named("database"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	registry := presence.NewRegistry(store, store, logger.Named("presence"))
	subscribers := gateway.NewSubscribers(logger.Named("gateway"))

	handler := gateway.NewHandler(registry, subscribers, store, store, gateway.Options{
		JWTSecret:    cfg.Auth.JWTSecret,
		SendBuffer:   cfg.WebSocket.SendBuffer,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		PingInterval: cfg.WebSocket.PingInterval,
		HistoryLimit: cfg.WebSocket.HistoryLimit,
	}, logger.Named("gateway"))

	timerSweeper := presence.NewTimerSweeper(registry, subscribers,
		cfg.Presence.TimerSweepInterval, logger.Named("timer_sweeper"))
	zombieSweeper := presence.NewZombieSweeper(registry, subscribers,
		cfg.Presence.ZombieSweepInterval, cfg.Presence.ZombieGrace, logger.Named("zombie_sweeper"))

	app := &Application{
		cfg:           cfg,
		logger:        logger,
		store:         store,
		registry:      registry,
		subscribers:   subscribers,
		timerSweeper:  timerSweeper,
		zombieSweeper: zombieSweeper,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", handler.HandleWebSocket)
	mux.HandleFunc("/healthz", app.handleHealth)

	app.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return app, nil
}

// Start launches the sweepers and the HTTP server.
func (app *Application) Start(ctx context.Context) error {
	if err := app.timerSweeper.Start(ctx); err != nil {
		return fmt.Errorf("failed to start timer sweeper: %w", err)
	}
	if err := app.zombieSweeper.Start(ctx); err != nil {
		_ = app.timerSweeper.Stop()
		return fmt.Errorf("failed to start zombie sweeper: %w", err)
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := app.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		_ = app.timerSweeper.Stop()
		_ = app.zombieSweeper.Stop()
		return fmt.Errorf("http server error: %w", err)
	case <-time.After(100 * time.Millisecond):
		app.logger.Info("studyhub started", zap.String("addr", app.httpServer.Addr))
		return nil
	case <-ctx.Done():
		_ = app.timerSweeper.Stop()
		_ = app.zombieSweeper.Stop()
		return ctx.Err()
	}
}

// Stop shuts the process down: no new connections, let in-flight sweeper
// ticks finish, then close the store.
func (app *Application) Stop(ctx context.Context) error {
	app.logger.Info("shutting down")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		app.logger.Warn("http shutdown", zap.Error(err))
	}
	if err := app.timerSweeper.Stop(); err != nil {
		app.logger.Warn("timer sweeper stop", zap.Error(err))
	}
	if err := app.zombieSweeper.Stop(); err != nil {
		app.logger.Warn("zombie sweeper stop", zap.Error(err))
	}
	if err := app.store.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	app.logger.Info("shutdown complete")
	return nil
}

func (app *Application) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := map[string]any{"status": "ok", "presence": app.registry.Stats()}
	code := http.StatusOK

	if err := app.store.HealthCheck(ctx); err != nil {
		status["status"] = "degraded"
		status["database"] = err.Error()
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(status)
}
