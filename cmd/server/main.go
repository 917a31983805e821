package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	httpAdapter "github.com/eduops/courseledger/internal/adapter/http"
	"github.com/eduops/courseledger/internal/adapter/http/handler"
	postgresRepo "github.com/eduops/courseledger/internal/adapter/repository/postgres"
	redisRepo "github.com/eduops/courseledger/internal/adapter/repository/redis"
	"github.com/eduops/courseledger/internal/domain"
	"github.com/eduops/courseledger/internal/infrastructure/config"
	"github.com/eduops/courseledger/internal/infrastructure/eventpublisher"
	"github.com/eduops/courseledger/internal/infrastructure/logger"
	"github.com/eduops/courseledger/internal/infrastructure/metrics"
	"github.com/eduops/courseledger/internal/infrastructure/postgres"
	redisInfra "github.com/eduops/courseledger/internal/infrastructure/redis"
	"github.com/eduops/courseledger/internal/usecase"
	goredis "github.com/redis/go-redis/v9"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Setup logger
	appLogger := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log.Logger = appLogger

	ctx := context.Background()

	// Connect to PostgreSQL and bring the schema up to date
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns, cfg.DatabaseMinConns)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to postgres")
	}
	defer pool.Close()
	log.Info().Msg("connected to postgres")

	if err := postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	// Redis is optional; without it balances are folded from Postgres on
	// every query.
	var redisClient *goredis.Client
	if cfg.RedisURL != "" {
		redisClient, err = redisInfra.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
		defer redisClient.Close()
		log.Info().Msg("connected to redis")
	}

	appMetrics := metrics.New()

	// Initialize repositories
	txManager := postgresRepo.NewTxManager(pool)
	ledgerRepo := postgresRepo.NewLedgerRepository(pool)
	accountRepo := postgresRepo.NewAccountRepository(pool)
	outboxRepo := postgresRepo.NewOutboxRepository(pool)
	rebuildLock := postgresRepo.NewRebuildLock(pool)
	rebuildRunRepo := postgresRepo.NewRebuildRunRepository(pool)
	idGen := postgresRepo.NewULIDGenerator()

	var balanceCache usecase.BalanceCache
	if redisClient != nil {
		balanceCache = redisRepo.NewBalanceCache(redisClient)
	}

	// Seed the chart of accounts
	chart := domain.Chart()
	if err := accountRepo.Bootstrap(ctx, chart); err != nil {
		log.Fatal().Err(err).Msg("failed to bootstrap chart of accounts")
	}
	registry := domain.NewRegistry(chart)

	// Initialize use cases
	writerUC := usecase.NewWriterUseCase(txManager, ledgerRepo, outboxRepo, rebuildLock, registry, idGen, appMetrics)
	reversalUC := usecase.NewReversalUseCase(writerUC, ledgerRepo)
	projectorUC := usecase.NewProjectorUseCase(ledgerRepo, registry, balanceCache, appMetrics)
	queryUC := usecase.NewQueryUseCase(ledgerRepo)

	writer := &retryingWriter{writer: writerUC, retrier: postgresRepo.NewRetrier()}

	// Initialize handlers
	ledgerHandler := handler.NewLedgerHandler(writer, reversalUC)
	balanceHandler := handler.NewBalanceHandler(projectorUC, accountRepo)
	transactionHandler := handler.NewTransactionHandler(queryUC)
	rebuildHandler := handler.NewRebuildHandler(rebuildRunRepo)
	healthHandler := handler.NewHealthHandler(pool, redisClient)

	// Create router
	router := httpAdapter.NewRouter(httpAdapter.RouterConfig{
		LedgerHandler:      ledgerHandler,
		BalanceHandler:     balanceHandler,
		TransactionHandler: transactionHandler,
		RebuildHandler:     rebuildHandler,
		HealthHandler:      healthHandler,
		Logger:             appLogger,
	})

	// Start the outbox publisher
	publisherCtx, stopPublisher := context.WithCancel(ctx)
	defer stopPublisher()

	var sink eventpublisher.Publisher = eventpublisher.NewLogPublisher(appLogger)
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := eventpublisher.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafkaPublisher.Close()
		sink = kafkaPublisher
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("publishing outbox to kafka")
	}

	publisher := eventpublisher.NewEventPublisher(eventpublisher.Config{
		OutboxRepo: outboxRepo,
		Publisher:  sink,
		Logger:     appLogger,
		Metrics:    appMetrics,
		BatchSize:  cfg.OutboxBatchSize,
		Interval:   cfg.OutboxPollInterval,
	})
	go func() {
		if err := publisher.Start(publisherCtx); err != nil && err != context.Canceled {
			log.Error().Err(err).Msg("outbox publisher stopped")
		}
	}()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("port", cfg.HTTPPort).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server failed")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")
	stopPublisher()

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// retryingWriter re-runs an append when it loses a sequence-counter race.
// Domain validation errors pass through untouched.
type retryingWriter struct {
	writer  *usecase.WriterUseCase
	retrier *postgresRepo.Retrier
}

func (w *retryingWriter) Append(ctx context.Context, draft domain.Draft) (*domain.Transaction, error) {
	var txn *domain.Transaction

	err := w.retrier.Retry(ctx, func() error {
		var appendErr error
		txn, appendErr = w.writer.Append(ctx, draft)
		return appendErr
	})
	if err != nil {
		return nil, err
	}

	return txn, nil
}
