// cmd/checkout-api/main.go
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/api"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/app"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/config"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.LogLevel, os.Stdout)
	slog.SetDefault(logger)

	if err := cfg.RequireGateway(); err != nil {
		logger.Error("CRITICAL: no payment gateway configured", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to start", slog.Any("error", err))
		os.Exit(1)
	}

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           a.Server().Router(api.Config{JWTSecret: cfg.JWTSecret}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("checkout api listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		a.Sweeper().Start(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown", slog.Any("error", err))
		}
		// pending records stay open; the sweeper of the next instance picks them up
		if err := a.Checkout.Shutdown(shutdownCtx); err != nil {
			logger.Error("confirmation shutdown", slog.Any("error", err))
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("service stopped with error", slog.Any("error", err))
	}
	if err := a.Close(); err != nil {
		logger.Error("failed to close connections", slog.Any("error", err))
	}
	logger.Info("service shutdown complete")
}
