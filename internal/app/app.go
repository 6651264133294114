// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/api"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/checkout"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/config"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/events"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/gateway"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/gateway/hosted"
	stripegw "github.com/Kena440/wathaci-connect-hub-sub003/internal/gateway/stripe"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/ledger"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/lock"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/pricing"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/reconciler"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/store/memory"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/store/postgres"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/webhook"
)

// stripeReferencePrefix is the prefix of Checkout Session ids.
const stripeReferencePrefix = "cs_"

// Settlement hook names, persisted on payments once the hook succeeded.
const (
	HookPaymentEvents = "payment_events"
	HookFulfillment   = "fulfillment"
)

// App is the wired object graph shared by the binaries.
type App struct {
	Config *config.CheckoutConfig
	Logger *slog.Logger

	Store      payment.Store
	Ledger     *ledger.Ledger
	Gateway    *gateway.Router
	Reconciler *reconciler.Reconciler
	Checkout   *checkout.Service
	Webhooks   *webhook.Dispatcher

	hostedHooks webhook.Processor
	stripeHooks webhook.Processor

	closers []func() error
}

// New wires everything from cfg. Without DB settings the store is in
// memory; without Redis the ledger locks in process only; without Kafka
// settlements are fulfilled by logging.
func New(ctx context.Context, cfg *config.CheckoutConfig, logger *slog.Logger) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	store, err := a.openStore(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Store = store

	locker, err := a.openLocker(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Ledger = ledger.New(store, locker, logger)

	a.Gateway = a.buildGateway()

	hooks, fulfiller := a.settlementHooks()
	hooks = append(hooks, reconciler.WithHook(HookFulfillment, checkout.NewFulfillment(map[payment.Kind]checkout.Fulfiller{
		payment.KindSubscription: fulfiller,
		payment.KindOrder:        fulfiller,
		payment.KindDonation:     fulfiller,
	}, logger)))
	rcfg := reconciler.Config{Interval: cfg.PollInterval, MaxAttempts: cfg.PollAttempts}
	a.Reconciler = reconciler.New(a.Ledger, a.Gateway, rcfg, logger, hooks...)

	calc, err := pricing.NewCalculator(cfg.Pricing())
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("pricing: %w", err)
	}
	a.Checkout = checkout.NewService(calc, a.Ledger, a.Gateway, a.Reconciler, checkout.Config{
		MinAmount:     cfg.MinAmount,
		MaxAmount:     cfg.MaxAmount,
		Currency:      cfg.Currency,
		ChargeTimeout: cfg.ChargeTimeout,
	}, checkout.NewProgressHub(), logger)

	a.Webhooks = webhook.NewDispatcher(a.Reconciler, logger)
	if cfg.GatewayWebhookSecret != "" {
		a.hostedHooks = webhook.NewHostedProcessor(cfg.GatewayWebhookSecret)
	}
	if cfg.StripeWebhookSecret != "" {
		a.stripeHooks = webhook.NewStripeProcessor(cfg.StripeWebhookSecret)
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) (payment.Store, error) {
	common := a.Config.Common
	if !common.DBConfigured() {
		a.Logger.Warn("DB_HOST not set, using in-memory payment store")
		return memory.NewPaymentStore(), nil
	}
	db, err := postgres.Open(ctx, common.GetDBURL())
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, db.Close)
	store := postgres.NewPaymentStore(db)
	if err := store.Migrate(ctx); err != nil {
		return nil, err
	}
	a.Logger.Info("connected to postgres", slog.String("host", common.DB_HOST))
	return store, nil
}

func (a *App) openLocker(ctx context.Context) (lock.Locker, error) {
	common := a.Config.Common
	if common.REDIS_ADDR == "" {
		return lock.NewKeyedMutex(), nil
	}
	rdb, err := lock.ConnectRedis(ctx, common.REDIS_ADDR, common.REDIS_PASSWORD, common.REDIS_DB)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, rdb.Close)
	a.Logger.Info("using redis payment locks", slog.String("addr", common.REDIS_ADDR))
	return lock.NewRedisLocker(rdb, a.Logger), nil
}

func (a *App) buildGateway() *gateway.Router {
	cfg := a.Config
	var mobile, card payment.Gateway
	if cfg.HostedConfigured() {
		mobile = hosted.New(hosted.Config{
			BaseURL:   cfg.GatewayBaseURL,
			SecretKey: cfg.GatewaySecretKey,
			Timeout:   cfg.GatewayTimeout,
		}, a.Logger)
	}
	if cfg.StripeConfigured() {
		card = stripegw.New(stripegw.Config{
			SecretKey:  cfg.StripeSecretKey,
			SuccessURL: cfg.StripeSuccessURL,
			CancelURL:  cfg.StripeCancelURL,
		}, a.Logger)
	}
	return gateway.NewRouter(mobile, card, stripeReferencePrefix)
}

// settlementHooks returns the event publisher hook (when Kafka is set) and
// the fulfiller every kind uses.
func (a *App) settlementHooks() ([]reconciler.Option, checkout.Fulfiller) {
	common := a.Config.Common
	if common.KAFKA_BROKER == "" {
		logger := a.Logger.With(slog.String("component", "fulfillment.log"))
		return nil, checkout.FulfillerFunc(func(ctx context.Context, p *payment.PendingPayment) error {
			logger.Warn("KAFKA_BROKER not set, fulfillment recorded in logs only",
				slog.String("payment_id", p.ID.String()),
				slog.String("kind", string(p.Kind)),
				slog.String("subject_id", p.SubjectID))
			return nil
		})
	}
	producer := events.NewKafkaProducer(common.KAFKA_BROKER, common.KAFKA_TOPIC, a.Logger)
	a.closers = append(a.closers, producer.Close)
	pe := events.NewPaymentEvents(producer, a.Logger)
	return []reconciler.Option{reconciler.WithHook(HookPaymentEvents, pe)}, pe
}

// Sweeper builds the stale payment sweeper over the app's reconciler.
func (a *App) Sweeper() *reconciler.Sweeper {
	scfg := reconciler.DefaultSweeperConfig(a.Reconciler.Config())
	scfg.Interval = a.Config.SweepInterval
	return reconciler.NewSweeper(a.Reconciler, a.Ledger, scfg, a.Logger)
}

// Server builds the HTTP API.
func (a *App) Server() *api.Server {
	return api.NewServer(a.Checkout, a.Webhooks, a.hostedHooks, a.stripeHooks, a.Logger)
}

// Close releases connections in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
