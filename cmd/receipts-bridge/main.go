// cmd/receipts-bridge/main.go
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/config"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/events"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/notify"
)

const consumerGroup = "receipts-bridge"

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.LogLevel, os.Stdout)
	common := cfg.Common

	if common.KAFKA_BROKER == "" {
		logger.Error("CRITICAL: KAFKA_BROKER is required")
		os.Exit(1)
	}

	logger.Info("connecting to rabbitmq", slog.String("host", common.RABBITMQ_HOST))
	rabbitClient, err := notify.NewClient(common.GetRabbitMQURL(), notify.EmailQueue, notify.SMSQueue)
	if err != nil {
		logger.Error("failed to connect to rabbitmq", slog.Any("error", err))
		os.Exit(1)
	}
	// closed explicitly after the workers stop

	consumer := events.NewConsumer([]string{common.KAFKA_BROKER}, common.KAFKA_TOPIC, consumerGroup, logger)
	bridge := notify.NewBridge(rabbitClient, logger)
	sender := notify.LogSender{Logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	for _, q := range []string{notify.EmailQueue, notify.SMSQueue} {
		msgs, err := rabbitClient.Consume(q)
		if err != nil {
			logger.Error("failed to consume", slog.String("queue", q), slog.Any("error", err))
			os.Exit(1)
		}
		wg.Add(1)
		go func(queue string) {
			defer wg.Done()
			notify.NewWorker(queue, sender, logger).Run(ctx, msgs)
		}(q)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		consumer.Start(ctx, bridge.Handle)
	}()

	logger.Info("receipts bridge running")
	stopSignal := make(chan os.Signal, 1)
	signal.Notify(stopSignal, syscall.SIGINT, syscall.SIGTERM)
	received := <-stopSignal
	logger.Info("shutting down", slog.String("signal", received.String()))

	cancel()
	wg.Wait()
	if err := consumer.Close(); err != nil {
		logger.Error("failed to close kafka consumer", slog.Any("error", err))
	}
	if err := rabbitClient.Close(); err != nil {
		logger.Error("failed to close rabbitmq", slog.Any("error", err))
	}
	logger.Info("shutdown complete")
}
