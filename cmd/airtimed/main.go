package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MarkoPoloResearchLab/airtime/internal/catalogseed"
	"github.com/MarkoPoloResearchLab/airtime/internal/httpapi"
	"github.com/MarkoPoloResearchLab/airtime/internal/oplog"
	"github.com/MarkoPoloResearchLab/airtime/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/airtime/pkg/ledger"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "airtimed: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cfg := &runtimeConfig{}
	cmd := &cobra.Command{
		Use:           "airtimed",
		Short:         "Prepaid airtime wallet and bundle catalog",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().String(flagDatabaseURL, defaultDatabaseURL, "database URL (postgres://..., sqlite://path, or a sqlite file path)")
	cmd.PersistentFlags().String(flagStoreDriver, storeDriverGorm, "store implementation: gorm or pgx (pgx requires postgres)")
	cmd.PersistentFlags().Bool(flagLogDevelopment, false, "use the human-readable development logger")

	cmd.AddCommand(newServeCommand(cfg), newMigrateCommand(cfg), newSeedCommand(cfg))
	return cmd
}

func newServeCommand(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cfg)
		},
	}
	cmd.Flags().String(flagListenAddr, defaultListenAddr, "HTTP listen address")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagMinBundlePrice, defaultMinBundlePrice, "lowest price a bundle may be sold for")
	cmd.Flags().Duration(flagTransactionTimeout, ledger.DefaultTransactionTimeout, "upper bound for one purchase or top-up")
	cmd.Flags().Duration(flagRequestTimeout, defaultRequestTimeout, "upper bound for one HTTP request")
	return cmd
}

func newMigrateCommand(cfg *runtimeConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd.Context(), cfg)
		},
	}
}

func newSeedCommand(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the bundle catalog (idempotent)",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return loadConfig(cmd, cfg)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(cmd.Context(), cfg)
		},
	}
	cmd.Flags().String(flagCatalogFile, "", "YAML catalog definition (defaults to the built-in catalog)")
	return cmd
}

func runServer(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = backend.close() }()

	if backend.sqlite {
		if err := gormstore.Migrate(ctx, backend.gormDB); err != nil {
			return err
		}
	}

	catalog, err := ledger.NewCatalog(backend.catalog)
	if err != nil {
		return fmt.Errorf("catalog init: %w", err)
	}
	clock := func() int64 { return time.Now().UTC().Unix() }
	service, err := ledger.NewService(
		catalog,
		backend.ledger,
		backend.accounts,
		clock,
		ledger.WithOperationLogger(oplog.New(logger)),
		ledger.WithMinimumBundlePrice(cfg.MinBundlePrice),
		ledger.WithTransactionTimeout(cfg.TransactionTimeout),
	)
	if err != nil {
		return fmt.Errorf("ledger service init: %w", err)
	}

	logger.Info("store ready",
		zap.String("store_driver", cfg.StoreDriver),
		zap.String("min_bundle_price", cfg.MinBundlePrice.String()),
		zap.Duration("transaction_timeout", cfg.TransactionTimeout),
	)
	return httpapi.Run(ctx, cfg.HTTP, service, catalog, logger)
}

func runMigrate(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	db, cleanup, driver, err := gormstore.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()
	if err := gormstore.Migrate(ctx, db); err != nil {
		return err
	}
	logger.Info("schema migrated", zap.String("driver", driver))
	return nil
}

func runSeed(ctx context.Context, cfg *runtimeConfig) error {
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	definition, err := loadCatalogDefinition(cfg.CatalogFile)
	if err != nil {
		return err
	}
	backend, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = backend.close() }()
	if backend.sqlite {
		if err := gormstore.Migrate(ctx, backend.gormDB); err != nil {
			return err
		}
	}

	summary, err := catalogseed.Load(ctx, backend.admin, definition)
	if err != nil {
		return fmt.Errorf("seed catalog: %w", err)
	}
	logger.Info("catalog seeded",
		zap.Int("groups", summary.Groups),
		zap.Int("offers_created", summary.OffersCreated),
		zap.Int("offers_existing", summary.OffersExisting),
	)
	return nil
}

func loadCatalogDefinition(path string) (catalogseed.Definition, error) {
	if path == "" {
		return catalogseed.Default()
	}
	return catalogseed.ReadFile(path)
}

func newLogger(cfg *runtimeConfig) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.LogDevelopment {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("logger init: %w", err)
	}
	return logger, nil
}
