package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	postgresRepo "github.com/eduops/courseledger/internal/adapter/repository/postgres"
	redisRepo "github.com/eduops/courseledger/internal/adapter/repository/redis"
	"github.com/eduops/courseledger/internal/adapter/source"
	"github.com/eduops/courseledger/internal/domain"
	"github.com/eduops/courseledger/internal/infrastructure/config"
	"github.com/eduops/courseledger/internal/infrastructure/logger"
	"github.com/eduops/courseledger/internal/infrastructure/postgres"
	redisInfra "github.com/eduops/courseledger/internal/infrastructure/redis"
	"github.com/eduops/courseledger/internal/usecase"
)

var (
	dryRun       bool
	truncateOnly bool
	resume       bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "rebuild_ledger",
		Short: "Rebuild the ledger from source billing history",
		Long: `Truncates the ledger and replays every invoice, payment, OEM payment,
expense and batch snapshot through the transaction writer in deterministic
order, then verifies the trial balance. Live appends are rejected while
the rebuild holds the store.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context())
		},
	}

	rootCmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate and report without locking or writing anything")
	rootCmd.Flags().BoolVar(&truncateOnly, "truncate-only", false, "empty the ledger without replaying")
	rootCmd.Flags().BoolVar(&resume, "resume", false, "continue a failed replay from its cursor")

	rootCmd.MarkFlagsMutuallyExclusive("dry-run", "truncate-only", "resume")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	appLogger := logger.New(logger.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log.Logger = appLogger

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns, cfg.DatabaseMinConns)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(cfg.DatabaseURL, cfg.MigrationsPath); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// The server's balance memos are keyed by line sequence; truncating the
	// ledger restarts that sequence, so the rebuild must reach the same
	// redis to purge them.
	var balanceCache usecase.BalanceCache
	if cfg.RedisURL != "" {
		redisClient, err := redisInfra.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		defer redisClient.Close()
		balanceCache = redisRepo.NewBalanceCache(redisClient)
	}

	txManager := postgresRepo.NewTxManager(pool)
	ledgerRepo := postgresRepo.NewLedgerRepository(pool)
	accountRepo := postgresRepo.NewAccountRepository(pool)
	rebuildLock := postgresRepo.NewRebuildLock(pool)
	runRepo := postgresRepo.NewRebuildRunRepository(pool)
	idGen := postgresRepo.NewULIDGenerator()

	chart := domain.Chart()
	if err := accountRepo.Bootstrap(ctx, chart); err != nil {
		return fmt.Errorf("bootstrap chart of accounts: %w", err)
	}
	registry := domain.NewRegistry(chart)

	// Replayed transactions bypass the outbox: downstream consumers saw the
	// originals already.
	writer := usecase.NewWriterUseCase(txManager, ledgerRepo, nil, rebuildLock, registry, idGen, nil)

	adapters := []usecase.SourceAdapter{
		source.NewInvoiceAdapter(pool),
		source.NewPaymentAdapter(pool),
		source.NewOEMPaymentAdapter(pool),
		source.NewExpenseAdapter(pool),
		source.NewBatchSnapshotAdapter(pool),
	}

	rebuild := usecase.NewRebuildUseCase(
		txManager,
		ledgerRepo,
		runRepo,
		rebuildLock,
		writer,
		adapters,
		idGen,
		balanceCache,
		cfg.RebuildPageSize,
		appLogger,
		nil,
	)

	report, runErr := rebuild.Run(ctx, mode())
	if report != nil {
		printReport(report)
	}

	if runErr != nil {
		return fmt.Errorf("rebuild failed: %w", runErr)
	}

	return nil
}

func mode() usecase.RebuildMode {
	switch {
	case dryRun:
		return usecase.ModeDryRun
	case truncateOnly:
		return usecase.ModeTruncateOnly
	case resume:
		return usecase.ModeResume
	default:
		return usecase.ModeFull
	}
}

func printReport(report *usecase.RebuildReport) {
	fmt.Printf("Mode:          %s\n", report.Run.Mode)
	fmt.Printf("State:         %s\n", report.Run.State)
	fmt.Printf("Events:        %d enumerated, %d skipped\n", report.EventsEnumerated, report.EventsSkipped)
	fmt.Printf("Transactions:  %d\n", report.Transactions)
	fmt.Printf("Lines:         %d\n", report.Lines)
	if report.TrialBalance != "" {
		fmt.Printf("Trial balance: %s\n", report.TrialBalance)
	}
	fmt.Printf("Elapsed:       %s\n", report.Elapsed.Round(time.Millisecond))

	for _, msg := range report.ValidationErrors {
		fmt.Printf("  invalid: %s\n", msg)
	}
}
