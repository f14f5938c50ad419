package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/airtime/internal/httpapi"
	"github.com/MarkoPoloResearchLab/airtime/pkg/ledger"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagDatabaseURL        = "database-url"
	flagStoreDriver        = "store-driver"
	flagLogDevelopment     = "log-development"
	flagListenAddr         = "listen-addr"
	flagAllowedOrigins     = "allowed-origins"
	flagMinBundlePrice     = "min-bundle-price"
	flagTransactionTimeout = "transaction-timeout"
	flagRequestTimeout     = "request-timeout"
	flagCatalogFile        = "catalog-file"
	envPrefix              = "AIRTIME"

	defaultDatabaseURL    = "sqlite://airtime.db"
	defaultListenAddr     = ":3000"
	defaultMinBundlePrice = "100"
	defaultRequestTimeout = 10 * time.Second

	storeDriverGorm = "gorm"
	storeDriverPgx  = "pgx"
)

type runtimeConfig struct {
	DatabaseURL        string
	StoreDriver        string
	LogDevelopment     bool
	MinBundlePrice     ledger.AmountCents
	TransactionTimeout time.Duration
	CatalogFile        string
	HTTP               httpapi.Config
}

// loadConfig resolves every flag the command defines, letting AIRTIME_* environment
// variables override defaults and explicit flags override both.
func loadConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(v.GetString(flagStoreDriver)))
	if cfg.StoreDriver == "" {
		cfg.StoreDriver = storeDriverGorm
	}
	if cfg.StoreDriver != storeDriverGorm && cfg.StoreDriver != storeDriverPgx {
		return fmt.Errorf("%s must be %q or %q, got %q", flagStoreDriver, storeDriverGorm, storeDriverPgx, cfg.StoreDriver)
	}
	cfg.LogDevelopment = v.GetBool(flagLogDevelopment)
	cfg.CatalogFile = strings.TrimSpace(v.GetString(flagCatalogFile))

	cfg.MinBundlePrice = ledger.DefaultMinimumBundlePriceCents
	if rawPrice := strings.TrimSpace(v.GetString(flagMinBundlePrice)); rawPrice != "" {
		price, err := ledger.ParseAmountString(rawPrice)
		if err != nil {
			return fmt.Errorf("%s: %w", flagMinBundlePrice, err)
		}
		cfg.MinBundlePrice = price
	}
	cfg.TransactionTimeout = ledger.DefaultTransactionTimeout
	if v.IsSet(flagTransactionTimeout) {
		cfg.TransactionTimeout = v.GetDuration(flagTransactionTimeout)
	}
	if cfg.TransactionTimeout <= 0 {
		return fmt.Errorf("%s must be positive", flagTransactionTimeout)
	}

	cfg.HTTP = httpapi.Config{
		ListenAddr:     strings.TrimSpace(v.GetString(flagListenAddr)),
		AllowedOrigins: httpapi.ParseAllowedOrigins(v.GetString(flagAllowedOrigins)),
		RequestTimeout: v.GetDuration(flagRequestTimeout),
	}
	return cfg.HTTP.Validate()
}
