package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Service executes wallet operations over the ledger store and resolves offers through the catalog.
type Service struct {
	catalog            *Catalog
	store              LedgerStore
	accounts           AccountRegistry
	nowFn              func() int64
	logger             OperationLogger
	minimumBundlePrice AmountCents
	transactionTimeout time.Duration
}

// NewService wires a Service.
func NewService(catalog *Catalog, store LedgerStore, accounts AccountRegistry, now func() int64, options ...ServiceOption) (*Service, error) {
	if catalog == nil {
		return nil, fmt.Errorf("%w: catalog dependency is nil", ErrInvalidServiceConfig)
	}
	if store == nil {
		return nil, fmt.Errorf("%w: ledger store dependency is nil", ErrInvalidServiceConfig)
	}
	if accounts == nil {
		return nil, fmt.Errorf("%w: account registry dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		catalog:            catalog,
		store:              store,
		accounts:           accounts,
		nowFn:              now,
		minimumBundlePrice: DefaultMinimumBundlePriceCents,
		transactionTimeout: DefaultTransactionTimeout,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	if service.transactionTimeout <= 0 {
		return nil, fmt.Errorf("%w: transaction timeout must be positive", ErrInvalidServiceConfig)
	}
	return service, nil
}

// MinimumBundlePrice returns the configured price floor.
func (service *Service) MinimumBundlePrice() AmountCents {
	return service.minimumBundlePrice
}

// RegisterAccount creates an account with a zero balance.
func (service *Service) RegisterAccount(ctx context.Context, phone PhoneNumber, name DisplayName) error {
	operationError := func() error {
		if phone.IsZero() {
			return ErrInvalidPhoneNumber
		}
		if name.String() == "" {
			return ErrInvalidDisplayName
		}
		if err := service.accounts.CreateAccount(ctx, phone, name); err != nil {
			return storeFailure(err)
		}
		return nil
	}()
	service.logOperation(ctx, OperationLog{
		Operation:   operationRegister,
		PhoneNumber: phone,
		Error:       operationError,
	})
	return operationError
}

// Balance returns the current balance of an account.
func (service *Service) Balance(ctx context.Context, phone PhoneNumber) (AmountCents, error) {
	if phone.IsZero() {
		return 0, ErrInvalidPhoneNumber
	}
	balance, err := service.store.ReadBalance(ctx, phone)
	if err != nil {
		return 0, storeFailure(err)
	}
	return balance, nil
}

// TopUp credits an account and returns the new balance.
func (service *Service) TopUp(ctx context.Context, phone PhoneNumber, amount AmountCents) (AmountCents, error) {
	var newBalance AmountCents
	operationError := func() error {
		if phone.IsZero() {
			return ErrInvalidPhoneNumber
		}
		if amount <= 0 {
			return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
		}
		return service.runUnitOfWork(ctx, func(ctx context.Context, transactionStore LedgerStore) error {
			balance, err := transactionStore.AdjustBalance(ctx, phone, amount.Credit(), 0)
			if err != nil {
				return err
			}
			newBalance = balance
			return nil
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation:   operationTopUp,
		PhoneNumber: phone,
		Amount:      amount,
		Balance:     newBalance,
		Error:       operationError,
	})
	return newBalance, operationError
}

// Purchase debits the offer price and grants the bundle in one unit of work.
func (service *Service) Purchase(ctx context.Context, request PurchaseRequest) (PurchaseResult, error) {
	var (
		resolved   ResolvedOffer
		newBalance AmountCents
	)
	operationError := func() error {
		if err := request.validate(); err != nil {
			return err
		}
		var err error
		resolved, err = service.catalog.ResolveOffer(ctx, request.MainCategory, request.SubCategory, request.Period, request.OptionNumber)
		if err != nil {
			return err
		}
		price := resolved.Option.Price
		if price < service.minimumBundlePrice {
			return fmt.Errorf("%w: %s < %s", ErrBelowMinimumPrice, price, service.minimumBundlePrice)
		}
		exists, err := service.accounts.AccountExists(ctx, request.PhoneNumber)
		if err != nil {
			return storeFailure(err)
		}
		if !exists {
			return ErrAccountNotFound
		}
		balance, err := service.store.ReadBalance(ctx, request.PhoneNumber)
		if err != nil {
			return storeFailure(err)
		}
		if balance < price {
			return ErrInsufficientBalance
		}
		return service.runUnitOfWork(ctx, func(ctx context.Context, transactionStore LedgerStore) error {
			balance, err := transactionStore.AdjustBalance(ctx, request.PhoneNumber, price.Debit(), price)
			if errors.Is(err, ErrBalanceConflict) {
				return fmt.Errorf("%w: balance changed before debit", ErrInsufficientBalance)
			}
			if err != nil {
				return err
			}
			_, err = transactionStore.AppendPurchase(ctx, PurchaseGrant{
				PhoneNumber:      request.PhoneNumber,
				OfferID:          resolved.Option.OfferID,
				Remaining:        resolved.Option.Quantity,
				PurchasedUnixUTC: service.nowFn(),
				Snapshot: OfferSnapshot{
					MainCategory: resolved.MainCategory,
					SubCategory:  resolved.SubCategory,
					Period:       resolved.Period,
					OptionNumber: resolved.Option.OptionNumber,
					Quantity:     resolved.Option.Quantity.Int64(),
					PriceCents:   price.Int64(),
				},
			})
			if err != nil {
				return err
			}
			newBalance = balance
			return nil
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation:    operationPurchase,
		PhoneNumber:  request.PhoneNumber,
		OfferID:      resolved.Option.OfferID,
		OptionNumber: request.OptionNumber,
		Amount:       resolved.Option.Price,
		Balance:      newBalance,
		Error:        operationError,
	})
	if operationError != nil {
		return PurchaseResult{}, operationError
	}
	return PurchaseResult{
		MainCategory: resolved.MainCategory,
		SubCategory:  resolved.SubCategory,
		Period:       resolved.Period,
		Quantity:     resolved.Option.Quantity,
		Price:        resolved.Option.Price,
		OptionNumber: resolved.Option.OptionNumber,
	}, nil
}

// GetAccountBundles lists the account's purchase records, oldest first.
func (service *Service) GetAccountBundles(ctx context.Context, phone PhoneNumber) ([]AccountBundle, error) {
	if phone.IsZero() {
		return nil, ErrInvalidPhoneNumber
	}
	exists, err := service.accounts.AccountExists(ctx, phone)
	if err != nil {
		return nil, storeFailure(err)
	}
	if !exists {
		return nil, ErrAccountNotFound
	}
	bundles, err := service.store.ListPurchases(ctx, phone)
	if err != nil {
		return nil, storeFailure(err)
	}
	if bundles == nil {
		bundles = []AccountBundle{}
	}
	return bundles, nil
}

func (service *Service) runUnitOfWork(ctx context.Context, fn func(ctx context.Context, transactionStore LedgerStore) error) error {
	transactionContext, cancel := context.WithTimeout(ctx, service.transactionTimeout)
	defer cancel()
	return storeFailure(service.store.WithTx(transactionContext, fn))
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

// storeFailure passes domain errors through and reports everything else as ErrStoreUnavailable.
func storeFailure(err error) error {
	if err == nil || isDomainError(err) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}
