package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"pi_guard/internal/audit"
	"pi_guard/internal/config"
	"pi_guard/internal/contract"
	"pi_guard/internal/domain"
	"pi_guard/internal/repository"
	"pi_guard/internal/repository/memory"
	"pi_guard/internal/repository/redisstore"
	"pi_guard/internal/repository/sqlstore"
	"pi_guard/internal/service"
	"pi_guard/pkg/crypto"
	"pi_guard/pkg/metrics"
	"pi_guard/pkg/validator"
	"time"
)

// app holds everything a command needs. close releases it in reverse order of construction.
type app struct {
	contract *contract.Contract
	metrics  *metrics.MetricsCollector
	notifier *service.NotificationService
	signer   *crypto.Signer
	auditLog *audit.MemoryLog
	closers  []func(context.Context) error
	logger   *slog.Logger
}

func newApp(ctx context.Context, cfg *config.Config, extraSinks ...service.Sink) (*app, error) {
	logger := slog.Default()
	a := &app{logger: logger}

	store, err := openStore(ctx, cfg, a)
	if err != nil {
		return nil, err
	}

	a.metrics = metrics.NewMetricsCollector(logger)
	a.signer = crypto.NewSigner(cfg.SigningSecret, logger)

	sinks := []service.Sink{service.NewLogSink(logger)}
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaSink := service.NewKafkaSink(service.KafkaConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
		})
		sinks = append(sinks, kafkaSink)
		a.closers = append(a.closers, func(context.Context) error { return kafkaSink.Close() })
		logger.Info("Kafka event sink enabled",
			slog.Any("brokers", cfg.Kafka.Brokers),
			slog.String("topic", cfg.Kafka.Topic))
	}
	sinks = append(sinks, extraSinks...)
	a.notifier = service.NewNotificationService(sinks, cfg.NotifierWorkers, logger)
	a.closers = append(a.closers, a.notifier.Shutdown)

	var auditSink audit.Sink
	if cfg.ClickHouse.Addr != "" {
		ch, err := openClickHouse(ctx, cfg)
		if err != nil {
			a.close(ctx)
			return nil, err
		}
		auditSink = ch
		a.closers = append(a.closers, func(context.Context) error { return ch.Close() })
	} else {
		a.auditLog = audit.NewMemoryLog()
		auditSink = a.auditLog
	}

	a.contract, err = contract.New(ctx, store, logger,
		contract.WithValidator(validator.NewTransactionValidator(validator.WithMaxMetadataLength(cfg.MaxMetadata))),
		contract.WithMetrics(a.metrics),
		contract.WithNotifier(a.notifier),
		contract.WithAuditSink(auditSink),
		contract.WithSigner(a.signer),
	)
	if err != nil {
		a.close(ctx)
		return nil, err
	}

	if err := a.ensureGenesis(ctx, cfg.GenesisFile); err != nil {
		a.close(ctx)
		return nil, err
	}

	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config, a *app) (repository.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return memory.NewStore(), nil
	case sqlstore.DriverSQLite, sqlstore.DriverPostgres:
		store, err := sqlstore.Open(ctx, cfg.Storage.Driver, cfg.Storage.DSN, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return store.Close() })
		return store, nil
	case "redis":
		client := redisstore.NewClient(cfg.Storage.RedisAddr, cfg.Storage.RedisPassword, cfg.Storage.RedisDB)
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.closers = append(a.closers, func(context.Context) error { return client.Close() })
		return redisstore.New(client, "piguard"), nil
	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", config.ErrInvalidConfig, cfg.Storage.Driver)
	}
}

// ensureGenesis initializes a fresh contract from the genesis file, or the defaults when none is
// configured. A contract that already has a genesis keeps it.
func (a *app) ensureGenesis(ctx context.Context, path string) error {
	if a.contract.Initialized() {
		return nil
	}

	genesis := domain.DefaultGenesis()
	if path != "" {
		loaded, err := config.LoadGenesis(path)
		if err != nil {
			return err
		}
		genesis = loaded
	}

	if err := a.contract.Init(ctx, genesis); err != nil && !errors.Is(err, contract.ErrAlreadyInitialized) {
		return fmt.Errorf("failed to initialize contract: %w", err)
	}
	return nil
}

func (a *app) close(ctx context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			a.logger.Error("Shutdown step failed", slog.String("error", err.Error()))
		}
	}
}

func openClickHouse(ctx context.Context, cfg *config.Config) (*audit.ClickHouseSink, error) {
	ch, err := audit.NewClickHouseSink(ctx, audit.ClickHouseConfig{
		Addr:     cfg.ClickHouse.Addr,
		Database: cfg.ClickHouse.Database,
		Username: cfg.ClickHouse.Username,
		Password: cfg.ClickHouse.Password,
		Timeout:  cfg.ClickHouse.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}
	return ch, nil
}
