package main

import (
	"context"
	"fmt"

	"paycore/config"
	"paycore/internal/database"
	"paycore/internal/ledger"
	"paycore/internal/lock"
	"paycore/internal/logger"
	"paycore/internal/notify"
	"paycore/internal/reconcile"
	"paycore/internal/repository"
	"paycore/internal/retry"
	"paycore/internal/webhook"
	"paycore/internal/ws"
	"paycore/pkg/fees"
	"paycore/pkg/payment"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// app holds every long-lived component of one process.
type app struct {
	cfg        *config.Config
	log        *zap.Logger
	db         *gorm.DB
	payments   *repository.PaymentRepository
	donations  *repository.DonationRepository
	registry   *payment.Registry
	ledger     *ledger.Ledger
	pipeline   *webhook.Pipeline
	scheduler  *reconcile.Scheduler
	hub        *ws.Hub
	dispatcher *notify.Dispatcher
	kafka      *notify.KafkaPublisher
	redis      *redis.Client
}

func bootstrap() (*config.Config, *zap.Logger, error) {
	cfg := config.Load()
	log, err := logger.New(cfg.Server.Env)
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	logConfigWarnings(log, cfg.Warnings)
	return cfg, log, nil
}

func logConfigWarnings(log *zap.Logger, warnings []string) {
	for _, w := range warnings {
		log.Warn("config value ignored", zap.String("warning", w))
	}
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	db, err := database.NewDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("database: %w", err)
	}
	a := &app{
		cfg:       cfg,
		log:       log,
		db:        db,
		payments:  repository.NewPaymentRepository(db),
		donations: repository.NewDonationRepository(db),
		hub:       ws.NewHub(),
	}

	a.registry, err = buildRegistry(cfg, log)
	if err != nil {
		a.close()
		return nil, err
	}
	log.Info("payment providers registered", zap.Any("providers", a.registry.Providers()))

	sinks := []notify.Sink{notify.HubSink{Hub: a.hub}}
	if len(cfg.Kafka.Brokers) > 0 {
		a.kafka = notify.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		sinks = append(sinks, a.kafka)
	}
	a.dispatcher = notify.NewDispatcher(cfg.Notify.Workers, cfg.Notify.QueueSize, log)
	a.dispatcher.Start()

	a.ledger, err = ledger.New(ledger.Deps{
		Payments:  a.payments,
		Registry:  a.registry,
		Donations: a.donations,
		Donors:    repository.NewDonorRepository(db),
		Notifier:  notify.NewService(log, sinks...),
		Dispatch:  a.dispatcher,
		Logger:    log,
	}, ledger.Config{
		ProviderTimeout: cfg.Payment.ProviderTimeout,
		PublicBaseURL:   cfg.Payment.PublicBaseURL,
		DeepLinkBase:    cfg.Payment.DeepLinkBase,
		NodeID:          cfg.Payment.NodeID,
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.pipeline = webhook.NewPipeline(a.registry, a.payments, a.ledger, cfg.Payment.ProviderTimeout, log)

	var locker lock.Locker = lock.Noop{}
	if cfg.Redis.URL != "" {
		client, err := lock.NewRedisClient(ctx, cfg.Redis.URL)
		if err != nil {
			// Overlapping sweeps are safe, only wasteful, so run without the lock.
			log.Warn("redis unavailable, sweep lock is per process", zap.Error(err))
		} else {
			a.redis = client
			locker = lock.NewRedisLocker(client, "paycore:", log)
		}
	}
	a.scheduler = reconcile.New(a.payments, a.ledger, locker, reconcile.Config{
		Interval:           cfg.Reconcile.Interval,
		Threshold:          cfg.Reconcile.Threshold,
		ProviderThresholds: cfg.Reconcile.ProviderThresholds,
		BatchSize:          cfg.Reconcile.BatchSize,
		Concurrency:        cfg.Reconcile.Concurrency,
		Retry:              retry.Policy{Attempts: cfg.Reconcile.Attempts, Delay: cfg.Reconcile.RetryDelay},
		LockTTL:            cfg.Reconcile.LockTTL,
	}, log)
	return a, nil
}

func (a *app) ping(ctx context.Context) error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// close drains queued notifications before releasing connections.
func (a *app) close() {
	if a.dispatcher != nil {
		a.dispatcher.Stop()
	}
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.log.Warn("kafka writer close", zap.Error(err))
		}
	}
	if a.redis != nil {
		_ = a.redis.Close()
	}
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

// buildRegistry registers each provider whose credentials are configured.
func buildRegistry(cfg *config.Config, log *zap.Logger) (*payment.Registry, error) {
	table := fees.DefaultTable()
	schedule := func(p payment.Provider) (fees.Schedule, error) {
		s, err := table.For(string(p))
		if err != nil {
			return fees.Schedule{}, err
		}
		s.PlatformPercent = cfg.Payment.PlatformPercent
		return s, nil
	}
	timeout := cfg.Payment.ProviderTimeout
	reg := payment.NewRegistry()

	type entry struct {
		provider payment.Provider
		enabled  bool
		build    func(fees.Schedule) payment.Adapter
	}
	entries := []entry{
		{payment.ProviderStripe, cfg.Stripe.SecretKey != "", func(s fees.Schedule) payment.Adapter {
			return payment.NewStripeProvider(payment.StripeConfig{
				SecretKey:     cfg.Stripe.SecretKey,
				WebhookSecret: cfg.Stripe.WebhookSecret,
				APIURL:        cfg.Stripe.APIURL,
				Timeout:       timeout,
				Fees:          s,
				Logger:        log,
			})
		}},
		{payment.ProviderCinetPay, cfg.CinetPay.APIKey != "" && cfg.CinetPay.SiteID != "", func(s fees.Schedule) payment.Adapter {
			return payment.NewCinetPayProvider(payment.CinetPayConfig{
				BaseURL:   cfg.CinetPay.BaseURL,
				APIKey:    cfg.CinetPay.APIKey,
				SiteID:    cfg.CinetPay.SiteID,
				SecretKey: cfg.CinetPay.SecretKey,
				Timeout:   timeout,
				Fees:      s,
				Logger:    log,
			})
		}},
		{payment.ProviderMoneyFusion, cfg.MoneyFusion.PayURL != "", func(s fees.Schedule) payment.Adapter {
			return payment.NewMoneyFusionProvider(payment.MoneyFusionConfig{
				PayURL:  cfg.MoneyFusion.PayURL,
				BaseURL: cfg.MoneyFusion.BaseURL,
				Timeout: timeout,
				Fees:    s,
				Logger:  log,
			})
		}},
		{payment.ProviderPaymentHub, cfg.PaymentHub.ClientID != "", func(s fees.Schedule) payment.Adapter {
			return payment.NewPaymentHubProvider(payment.PaymentHubConfig{
				BaseURL:       cfg.PaymentHub.BaseURL,
				TokenURL:      cfg.PaymentHub.TokenURL,
				ClientID:      cfg.PaymentHub.ClientID,
				ClientSecret:  cfg.PaymentHub.ClientSecret,
				WebhookSecret: cfg.PaymentHub.WebhookSecret,
				Timeout:       timeout,
				Fees:          s,
				Logger:        log,
			})
		}},
		{payment.ProviderMpesa, cfg.Mpesa.Email != "", func(s fees.Schedule) payment.Adapter {
			return payment.NewLiberecMpesaProvider(payment.MpesaConfig{
				BaseURL:       cfg.Mpesa.BaseURL,
				Email:         cfg.Mpesa.Email,
				Password:      cfg.Mpesa.Password,
				WebhookSecret: cfg.Mpesa.WebhookSecret,
				STKExpiry:     cfg.Mpesa.STKExpiry,
				Timeout:       timeout,
				Fees:          s,
				Logger:        log,
			})
		}},
		{payment.ProviderSwapuzi, cfg.Swapuzi.Email != "", func(s fees.Schedule) payment.Adapter {
			return payment.NewSwapuziProvider(payment.SwapuziConfig{
				BaseURL:  cfg.Swapuzi.BaseURL,
				Email:    cfg.Swapuzi.Email,
				Password: cfg.Swapuzi.Password,
				Timeout:  timeout,
				Fees:     s,
				Logger:   log,
			})
		}},
		{payment.ProviderStub, cfg.Payment.EnableStub, func(fees.Schedule) payment.Adapter {
			return &payment.StubProvider{}
		}},
	}
	for _, e := range entries {
		if !e.enabled {
			continue
		}
		s, err := schedule(e.provider)
		if err != nil {
			return nil, err
		}
		reg.Register(e.build(s))
	}
	if len(reg.Providers()) == 0 {
		log.Warn("no payment provider configured; set provider credentials or ENABLE_STUB_PROVIDER=true")
	}
	return reg, nil
}
