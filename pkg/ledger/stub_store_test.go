package ledger

import (
	"context"
	"fmt"
	"sync"
	"testing"
)

const (
	scenarioPhoneValue  = "0781234567"
	scenarioMainValue   = "voice_sms"
	scenarioSubValue    = "tubitayeho"
	scenarioPeriodValue = "day"
	scenarioNameValue   = "John Doe"
	fixedNowUnixUTC     = 1_700_000_000
)

type stubAccount struct {
	name    string
	balance AmountCents
}

type stubStore struct {
	transactionMutex sync.Mutex
	stateMutex       sync.Mutex

	accounts  map[string]*stubAccount
	offers    []CatalogOffer
	purchases []PurchaseGrant

	listOffersError    error
	createAccountError error
	accountExistsError error
	readBalanceError   error
	adjustBalanceError error
	appendError        error
	listPurchasesError error
	withTxError        error

	beforeAdjust   func(store *stubStore)
	blockUntilDone bool
	listOfferCalls int
}

func newStubStore(test *testing.T) *stubStore {
	test.Helper()
	return &stubStore{accounts: make(map[string]*stubAccount)}
}

// newScenarioStore holds one account with 500.00 and the voice_sms > tubitayeho > day group priced 100, 180, 400.
func newScenarioStore(test *testing.T) *stubStore {
	test.Helper()
	store := newStubStore(test)
	store.addAccount(test, scenarioPhoneValue, mustAmountCents(test, 500_00))
	store.addOffer(1, scenarioMainValue, 1, scenarioSubValue, 1, scenarioPeriodValue, 1, 100, 100_00)
	store.addOffer(1, scenarioMainValue, 1, scenarioSubValue, 1, scenarioPeriodValue, 2, 200, 180_00)
	store.addOffer(1, scenarioMainValue, 1, scenarioSubValue, 1, scenarioPeriodValue, 3, 500, 400_00)
	store.addOffer(1, scenarioMainValue, 1, scenarioSubValue, 2, "week", 4, 100, 100_00)
	store.addOffer(2, "internet", 5, "foleva", 9, scenarioPeriodValue, 7, 1000, 50_00)
	return store
}

func (store *stubStore) addAccount(test *testing.T, phone string, balance AmountCents) {
	test.Helper()
	store.accounts[mustPhoneNumber(test, phone).String()] = &stubAccount{name: scenarioNameValue, balance: balance}
}

func (store *stubStore) addOffer(mainID int64, mainName string, subID int64, subName string, periodID int64, periodLabel string, offerID int64, quantity int64, priceCents int64) {
	store.offers = append(store.offers, CatalogOffer{
		MainCategoryID: mainID,
		MainCategory:   mainName,
		SubCategoryID:  subID,
		SubCategory:    subName,
		PeriodID:       periodID,
		Period:         periodLabel,
		OfferID:        OfferID(offerID),
		Quantity:       Quantity(quantity),
		Price:          AmountCents(priceCents),
	})
}

func (store *stubStore) balance(test *testing.T, phone string) AmountCents {
	test.Helper()
	store.stateMutex.Lock()
	defer store.stateMutex.Unlock()
	account, ok := store.accounts[phone]
	if !ok {
		test.Fatalf("account %s not found", phone)
	}
	return account.balance
}

func (store *stubStore) purchaseCount() int {
	store.stateMutex.Lock()
	defer store.stateMutex.Unlock()
	return len(store.purchases)
}

func (store *stubStore) ListCatalogOffers(_ context.Context, filter CatalogFilter) ([]CatalogOffer, error) {
	store.stateMutex.Lock()
	defer store.stateMutex.Unlock()
	store.listOfferCalls++
	if store.listOffersError != nil {
		return nil, store.listOffersError
	}
	matched := make([]CatalogOffer, 0, len(store.offers))
	for _, offer := range store.offers {
		if !filter.IsZero() && (offer.MainCategory != filter.MainCategory || offer.SubCategory != filter.SubCategory || offer.Period != filter.Period) {
			continue
		}
		matched = append(matched, offer)
	}
	return matched, nil
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore LedgerStore) error) error {
	if store.withTxError != nil {
		return store.withTxError
	}
	store.transactionMutex.Lock()
	defer store.transactionMutex.Unlock()
	if store.blockUntilDone {
		<-ctx.Done()
		return ctx.Err()
	}

	store.stateMutex.Lock()
	balances := make(map[string]AmountCents, len(store.accounts))
	for phone, account := range store.accounts {
		balances[phone] = account.balance
	}
	purchaseCount := len(store.purchases)
	store.stateMutex.Unlock()

	if err := fn(ctx, store); err != nil {
		store.stateMutex.Lock()
		for phone, balance := range balances {
			store.accounts[phone].balance = balance
		}
		store.purchases = store.purchases[:purchaseCount]
		store.stateMutex.Unlock()
		return err
	}
	return nil
}

func (store *stubStore) CreateAccount(_ context.Context, phone PhoneNumber, name DisplayName) error {
	store.stateMutex.Lock()
	defer store.stateMutex.Unlock()
	if store.createAccountError != nil {
		return store.createAccountError
	}
	if _, exists := store.accounts[phone.String()]; exists {
		return WrapError("store", "account", "duplicate", ErrAccountExists)
	}
	store.accounts[phone.String()] = &stubAccount{name: name.String()}
	return nil
}

func (store *stubStore) AccountExists(_ context.Context, phone PhoneNumber) (bool, error) {
	store.stateMutex.Lock()
	defer store.stateMutex.Unlock()
	if store.accountExistsError != nil {
		return false, store.accountExistsError
	}
	_, exists := store.accounts[phone.String()]
	return exists, nil
}

func (store *stubStore) ReadBalance(_ context.Context, phone PhoneNumber) (AmountCents, error) {
	store.stateMutex.Lock()
	defer store.stateMutex.Unlock()
	if store.readBalanceError != nil {
		return 0, store.readBalanceError
	}
	account, exists := store.accounts[phone.String()]
	if !exists {
		return 0, WrapError("store", "account", "read_balance", ErrAccountNotFound)
	}
	return account.balance, nil
}

func (store *stubStore) AdjustBalance(_ context.Context, phone PhoneNumber, delta SignedAmountCents, expectedMinimum AmountCents) (AmountCents, error) {
	if store.beforeAdjust != nil {
		store.beforeAdjust(store)
	}
	store.stateMutex.Lock()
	defer store.stateMutex.Unlock()
	if store.adjustBalanceError != nil {
		return 0, store.adjustBalanceError
	}
	account, exists := store.accounts[phone.String()]
	if !exists {
		return 0, WrapError("store", "account", "adjust", ErrAccountNotFound)
	}
	updated := account.balance.Int64() + delta.Int64()
	if account.balance < expectedMinimum || updated < 0 {
		return 0, WrapError("store", "account", "adjust", ErrBalanceConflict)
	}
	account.balance = AmountCents(updated)
	return account.balance, nil
}

func (store *stubStore) AppendPurchase(_ context.Context, grant PurchaseGrant) (PurchaseRecordID, error) {
	store.stateMutex.Lock()
	defer store.stateMutex.Unlock()
	if store.appendError != nil {
		return PurchaseRecordID{}, store.appendError
	}
	if err := grant.Validate(); err != nil {
		return PurchaseRecordID{}, err
	}
	store.purchases = append(store.purchases, grant)
	return PurchaseRecordID{value: fmt.Sprintf("purchase-%d", len(store.purchases))}, nil
}

func (store *stubStore) ListPurchases(_ context.Context, phone PhoneNumber) ([]AccountBundle, error) {
	store.stateMutex.Lock()
	defer store.stateMutex.Unlock()
	if store.listPurchasesError != nil {
		return nil, store.listPurchasesError
	}
	var bundles []AccountBundle
	for index, grant := range store.purchases {
		if grant.PhoneNumber != phone {
			continue
		}
		bundles = append(bundles, AccountBundle{
			RecordID:         PurchaseRecordID{value: fmt.Sprintf("purchase-%d", index+1)},
			OfferID:          grant.OfferID,
			MainCategory:     grant.Snapshot.MainCategory,
			SubCategory:      grant.Snapshot.SubCategory,
			Period:           grant.Snapshot.Period,
			Quantity:         Quantity(grant.Snapshot.Quantity),
			Price:            AmountCents(grant.Snapshot.PriceCents),
			Remaining:        grant.Remaining,
			PurchasedUnixUTC: grant.PurchasedUnixUTC,
		})
	}
	return bundles, nil
}

func mustNewCatalog(test *testing.T, store CatalogStore) *Catalog {
	test.Helper()
	catalog, err := NewCatalog(store)
	if err != nil {
		test.Fatalf("new catalog: %v", err)
	}
	return catalog
}

func mustNewService(test *testing.T, store *stubStore, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(mustNewCatalog(test, store), store, store, func() int64 { return fixedNowUnixUTC }, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustPhoneNumber(test *testing.T, raw string) PhoneNumber {
	test.Helper()
	value, err := NewPhoneNumber(raw)
	if err != nil {
		test.Fatalf("phone number: %v", err)
	}
	return value
}

func mustDisplayName(test *testing.T, raw string) DisplayName {
	test.Helper()
	value, err := NewDisplayName(raw)
	if err != nil {
		test.Fatalf("display name: %v", err)
	}
	return value
}

func mustCatalogName(test *testing.T, raw string) CatalogName {
	test.Helper()
	value, err := NewCatalogName(raw)
	if err != nil {
		test.Fatalf("catalog name: %v", err)
	}
	return value
}

func mustAmountCents(test *testing.T, raw int64) AmountCents {
	test.Helper()
	value, err := NewAmountCents(raw)
	if err != nil {
		test.Fatalf("amount: %v", err)
	}
	return value
}

func mustPurchaseRequest(test *testing.T, phone string, mainCategory string, subCategory string, period string, optionNumber int) PurchaseRequest {
	test.Helper()
	request, err := NewPurchaseRequest(phone, mainCategory, subCategory, period, optionNumber)
	if err != nil {
		test.Fatalf("purchase request: %v", err)
	}
	return request
}

func mustScenarioRequest(test *testing.T, optionNumber int) PurchaseRequest {
	test.Helper()
	return mustPurchaseRequest(test, scenarioPhoneValue, scenarioMainValue, scenarioSubValue, scenarioPeriodValue, optionNumber)
}
