// cmd/reconcile-worker/main.go
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/app"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/config"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/workflow"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/log"
	"go.temporal.io/sdk/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.LogLevel, os.Stdout)

	if err := cfg.RequireGateway(); err != nil {
		logger.Error("CRITICAL: no payment gateway configured", slog.Any("error", err))
		os.Exit(1)
	}

	a, err := app.New(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("failed to start", slog.Any("error", err))
		os.Exit(1)
	}
	defer a.Close()

	c, err := client.Dial(client.Options{
		HostPort:  cfg.Common.TEMPORAL_HOST_PORT,
		Namespace: cfg.Common.TEMPORAL_NAMESPACE,
		Logger:    log.NewStructuredLogger(logger),
	})
	if err != nil {
		logger.Error("unable to create temporal client", slog.Any("error", err))
		return
	}
	defer c.Close()
	logger.Info("worker connected to temporal", slog.String("host", cfg.Common.TEMPORAL_HOST_PORT))

	w := worker.New(c, workflow.TaskQueue, worker.Options{})
	// register the function itself, not its result
	w.RegisterWorkflow(workflow.ReconcilePaymentWorkflow)
	w.RegisterActivity(&workflow.Activities{Reconciler: a.Reconciler})

	logger.Info("reconcile worker started", slog.String("task_queue", workflow.TaskQueue))
	if err := w.Run(worker.InterruptCh()); err != nil {
		logger.Error("worker stopped", slog.Any("error", err))
	}
}
