package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tournevent/fulfillment/internal/config"
	"github.com/tournevent/fulfillment/internal/credentials"
	"github.com/tournevent/fulfillment/internal/fulfillment"
	"github.com/tournevent/fulfillment/internal/notify"
	"github.com/tournevent/fulfillment/internal/orders"
	"github.com/tournevent/fulfillment/internal/telemetry"
	"github.com/tournevent/fulfillment/internal/token"
	"github.com/tournevent/fulfillment/pkg/shipper"
	"github.com/tournevent/fulfillment/pkg/shipper/mock"
	"github.com/tournevent/fulfillment/pkg/shipper/shiprocket"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// app holds the wired components shared by every command.
type app struct {
	cfg          *config.Config
	logger       *otelzap.Logger
	metrics      *telemetry.Metrics
	orchestrator *fulfillment.Orchestrator
	batch        *fulfillment.BatchDriver
	closers      []func()
}

func loadConfig() (*config.Config, error) {
	return config.Load()
}

func initLogger(level string) (*otelzap.Logger, error) {
	return telemetry.NewLogger(level)
}

func initTracer(ctx context.Context, cfg *config.Config) (trace.Tracer, func(context.Context) error, error) {
	if !cfg.OTELEnabled {
		return otel.Tracer(cfg.ServiceName), func(context.Context) error { return nil }, nil
	}
	return telemetry.InitTracer(ctx, cfg.OTELEndpoint, cfg.ServiceName, cfg.Version)
}

// newApp builds the fulfillment stack from cfg.
func newApp(ctx context.Context, cfg *config.Config, logger *otelzap.Logger, tracer trace.Tracer) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		metrics: telemetry.NewMetrics(prometheus.DefaultRegisterer),
	}

	registry := initShipperRegistry(cfg, logger, tracer, a.metrics)
	provider, err := registry.Get(cfg.ShippingProvider)
	if err != nil {
		return nil, fmt.Errorf("%w (available: %v)", err, registry.Names())
	}

	var pool *pgxpool.Pool
	if cfg.TokenStore == "postgres" || cfg.OrderStore == "postgres" {
		pool, err = pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connecting to postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
	}

	tokens, err := a.initTokenStore(ctx, pool)
	if err != nil {
		a.Close()
		return nil, err
	}
	store, err := a.initOrderStore(ctx, pool)
	if err != nil {
		a.Close()
		return nil, err
	}

	resolver := credentials.NewResolver(
		shipper.Credentials{Email: cfg.ShiprocketEmail, Password: cfg.ShiprocketPassword},
		credentials.NewFileSource(cfg.SellerConfigPath),
		logger,
	)
	cache := token.NewCache(tokens, provider, resolver, logger, token.WithObserver(a.metrics))

	fcfg := fulfillment.Config{
		PickupLocationName:   cfg.PickupLocationName,
		DefaultPickupPincode: cfg.DefaultPickupPincode,
		TrackingURLBase:      cfg.TrackingURLBase,
	}
	notifier := a.initNotifier(fcfg.TrackingURLBase)

	a.orchestrator = fulfillment.New(fcfg, provider, cache, store, notifier, logger,
		fulfillment.WithTracer(tracer),
		fulfillment.WithObserver(a.metrics),
	)
	a.batch = fulfillment.NewBatchDriver(a.orchestrator, store, fulfillment.NewPacer(cfg.BatchPacing), logger, a.metrics)

	logger.Info("Fulfillment stack ready",
		zap.String("provider", provider.Name()),
		zap.String("token_store", cfg.TokenStore),
		zap.String("order_store", cfg.OrderStore),
		zap.Bool("kafka", len(cfg.KafkaBrokers) > 0),
	)
	return a, nil
}

// Close releases connections in reverse order of creation.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func initShipperRegistry(cfg *config.Config, logger *otelzap.Logger, tracer trace.Tracer, metrics *telemetry.Metrics) *shipper.Registry {
	registry := shipper.NewRegistry()

	registry.Register(shiprocket.New(shiprocket.Config{
		BaseURL: cfg.ShiprocketBaseURL,
		Timeout: cfg.ShiprocketTimeout,
		Breaker: shiprocket.BreakerConfig{
			MaxRequests:         cfg.BreakerMaxRequests,
			Interval:            cfg.BreakerInterval,
			Timeout:             cfg.BreakerTimeout,
			ConsecutiveFailures: cfg.BreakerConsecutiveFailures,
		},
		UseMock:  cfg.ShiprocketUseMock,
		Observer: metrics,
		OnBreakerChange: func(from, to string) {
			metrics.ObserveBreakerState("shiprocket", to)
		},
	}, logger, tracer))

	registry.Register(mock.New("mock"))

	return registry
}

func (a *app) initTokenStore(ctx context.Context, pool *pgxpool.Pool) (token.Store, error) {
	switch a.cfg.TokenStore {
	case "redis":
		store, err := token.NewRedisStoreFromURL(ctx, a.cfg.RedisURL, a.cfg.RedisPrefix,
			token.WithLockTTL(token.LockTTLFor(a.cfg.ShiprocketTimeout)),
		)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		return store, nil
	case "postgres":
		store := token.NewPostgresStore(pool)
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("preparing token table: %w", err)
		}
		return store, nil
	default:
		return token.NewMemoryStore(), nil
	}
}

func (a *app) initOrderStore(ctx context.Context, pool *pgxpool.Pool) (orders.Store, error) {
	if a.cfg.OrderStore != "postgres" {
		a.logger.Warn("Using in-memory order store; orders do not survive a restart")
		return orders.NewMemoryStore(), nil
	}
	store := orders.NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		return nil, fmt.Errorf("preparing order tables: %w", err)
	}
	return store, nil
}

func (a *app) initNotifier(trackingURLBase string) notify.Notifier {
	if len(a.cfg.KafkaBrokers) == 0 {
		return notify.NewLogNotifier(a.logger)
	}
	n := notify.NewKafkaNotifier(notify.KafkaConfig{
		Brokers:      a.cfg.KafkaBrokers,
		Topic:        a.cfg.KafkaShippedTopic,
		WriteTimeout: a.cfg.KafkaWriteTimeout,
	}, func(trackingNumber string) (string, bool) {
		return fulfillment.TrackingURL(trackingURLBase, trackingNumber)
	})
	a.closers = append(a.closers, func() { _ = n.Close() })
	return n
}
