package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"

	"atm-ledger/internal/clock"
	"atm-ledger/internal/config"
	"atm-ledger/internal/database"
	"atm-ledger/internal/logger"
	"atm-ledger/internal/repository"
	"atm-ledger/internal/service"

	"github.com/joho/godotenv"
)

func main() {
	// .env is optional; values already in the environment win
	_ = godotenv.Load()

	cfg, err := config.Load(".")
	if err != nil {
		logger.NewFromEnv().Error("Failed to load configuration: %v", err)
		os.Exit(1)
	}

	logger := logger.NewWithFile(cfg.LogLevel, cfg.LogFile)
	defer logger.Close()
	logger.Info("Starting ATM ledger")
	logger.Info("Configuration loaded - store: %s, seed_sample_accounts: %t", cfg.Store, cfg.SeedSampleAccounts)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clk := clock.System()

	accountRepo, db, err := openAccountRepository(ctx, cfg, clk)
	if err != nil {
		logger.Error("Failed to open account store: %v", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}

	ledgerService := service.NewLedgerService(accountRepo, cfg.Limits, clk)
	accountService := service.NewAccountService(accountRepo, clk)

	atm := newConsole(ledgerService, os.Stdin, os.Stdout)
	atm.enableOperator(accountService, cfg.OperatorUserID)

	if err := atm.Run(ctx); err != nil {
		logger.Error("Console stopped: %v", err)
		os.Exit(1)
	}

	logger.Info("ATM ledger shutdown completed")
}

// openAccountRepository builds the configured store and provisions the
// sample accounts into it when enabled. db is nil for the in-memory store.
func openAccountRepository(ctx context.Context, cfg *config.Config, clk clock.Clock) (repository.AccountRepository, *sql.DB, error) {
	var (
		repo repository.AccountRepository
		db   *sql.DB
	)

	switch cfg.Store {
	case config.StorePostgres:
		var err error
		db, err = database.NewConnection(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		repo = repository.NewPostgresAccountRepository(db)
	default:
		memoryRepo, err := repository.NewMemoryAccountRepository()
		if err != nil {
			return nil, nil, err
		}
		repo = memoryRepo
	}

	if cfg.SeedSampleAccounts {
		accounts := service.NewAccountService(repo, clk)
		if _, err := accounts.ProvisionAccounts(ctx, repository.SampleAccounts(clk.Now(), cfg.DailyLimit)); err != nil {
			if db != nil {
				db.Close()
			}
			return nil, nil, err
		}
	}

	return repo, db, nil
}
