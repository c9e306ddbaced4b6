package main

import (
	"chaguasmart/internal/config"
	"chaguasmart/internal/db"
	"chaguasmart/internal/router"
	"chaguasmart/internal/services"
	"chaguasmart/internal/utils"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	if cfg.GinMode != "" {
		gin.SetMode(cfg.GinMode)
	}

	// Initialize Database
	conn, err := db.Init(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	if sqlDB, err := conn.DB(); err == nil {
		defer sqlDB.Close()
	}

	cache, err := utils.NewCache(cfg.ResultsCacheSize)
	if err != nil {
		return err
	}
	polls := services.NewPollService(conn, cache, cfg.ResultsCacheTTL, logger)
	users := services.NewUserService(conn, logger)

	if cfg.AdminEmail != "" {
		if _, err := users.EnsureAdmin(context.Background(), services.RegisterInput{
			Username: cfg.AdminUsername,
			Email:    cfg.AdminEmail,
			Password: cfg.AdminPassword,
		}); err != nil {
			return err
		}
	}

	r, err := router.New(cfg.SessionSecret, cfg.TemplatesDir, router.Deps{Polls: polls, Users: users})
	if err != nil {
		return err
	}

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("ChaguaSmart server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down", "timeout", cfg.ShutdownTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
