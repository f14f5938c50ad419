// Package httpapi exposes the wallet and bundle catalog over HTTP.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"time"

	"github.com/MarkoPoloResearchLab/airtime/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const allOrigins = "*"

// WalletService is the subset of ledger.Service the handlers call.
type WalletService interface {
	RegisterAccount(ctx context.Context, phone ledger.PhoneNumber, name ledger.DisplayName) error
	Balance(ctx context.Context, phone ledger.PhoneNumber) (ledger.AmountCents, error)
	TopUp(ctx context.Context, phone ledger.PhoneNumber, amount ledger.AmountCents) (ledger.AmountCents, error)
	Purchase(ctx context.Context, request ledger.PurchaseRequest) (ledger.PurchaseResult, error)
	GetAccountBundles(ctx context.Context, phone ledger.PhoneNumber) ([]ledger.AccountBundle, error)
}

// CatalogReader lists the numbered catalog.
type CatalogReader interface {
	ListCatalog(ctx context.Context) ([]ledger.CatalogGroup, error)
}

// Run serves the API until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, cfg Config, service WalletService, catalog CatalogReader, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	router := NewRouter(cfg, service, catalog, logger)
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: cfg.RequestTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// NewRouter wires every route onto a gin engine. cfg must already be validated.
func NewRouter(cfg Config, service WalletService, catalog CatalogReader, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := &httpHandler{
		logger:  logger,
		service: service,
		catalog: catalog,
		cfg:     cfg,
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(corsConfig(cfg.AllowedOrigins)))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	users := router.Group("/users")
	users.POST("", handler.handleRegister)
	users.GET("/:phone/balance", handler.handleBalance)
	users.POST("/:phone/topup", handler.handleTopUp)
	users.GET("/:phone/bundles", handler.handleAccountBundles)

	bundles := router.Group("/bundles")
	bundles.GET("", handler.handleCatalog)
	bundles.POST("/purchase", handler.handlePurchase)

	return router
}

func corsConfig(allowedOrigins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if slices.Contains(allowedOrigins, allOrigins) {
		cfg.AllowAllOrigins = true
		cfg.AllowCredentials = false
		return cfg
	}
	cfg.AllowOrigins = allowedOrigins
	return cfg
}

func errorResponse(code string, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// statusForCode maps ledger error codes onto HTTP statuses.
func statusForCode(code string) int {
	switch code {
	case ledger.CodeInvalidRequest, ledger.CodeInvalidOption:
		return http.StatusBadRequest
	case ledger.CodeCatalogNotFound, ledger.CodeAccountNotFound:
		return http.StatusNotFound
	case ledger.CodeAccountExists, ledger.CodeInsufficientBalance:
		return http.StatusConflict
	case ledger.CodeBelowMinimumPrice:
		return http.StatusUnprocessableEntity
	case ledger.CodeStoreUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
