package main

import (
	"context"
	"fmt"

	"github.com/MarkoPoloResearchLab/airtime/internal/store/gormstore"
	"github.com/MarkoPoloResearchLab/airtime/internal/store/pgstore"
	"github.com/MarkoPoloResearchLab/airtime/pkg/ledger"
	"gorm.io/gorm"
)

// backend bundles the store views the commands need from one database handle.
type backend struct {
	catalog  ledger.CatalogStore
	ledger   ledger.LedgerStore
	accounts ledger.AccountRegistry
	admin    ledger.CatalogAdmin
	gormDB   *gorm.DB
	sqlite   bool
	close    func() error
}

func openBackend(ctx context.Context, cfg *runtimeConfig) (*backend, error) {
	switch cfg.StoreDriver {
	case storeDriverPgx:
		driver, _, err := gormstore.ResolveDriver(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if driver != gormstore.DriverPostgres {
			return nil, fmt.Errorf("store driver %q requires a postgres database url", storeDriverPgx)
		}
		pool, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database open: %w", err)
		}
		store := pgstore.New(pool)
		return &backend{
			catalog:  store,
			ledger:   store,
			accounts: store,
			admin:    store,
			close: func() error {
				pool.Close()
				return nil
			},
		}, nil
	default:
		db, cleanup, driver, err := gormstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("database open: %w", err)
		}
		store := gormstore.New(db)
		return &backend{
			catalog:  store,
			ledger:   store,
			accounts: store,
			admin:    store,
			gormDB:   db,
			sqlite:   driver == gormstore.DriverSQLite,
			close:    cleanup,
		}, nil
	}
}
