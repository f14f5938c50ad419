package gormstore

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/MarkoPoloResearchLab/airtime/pkg/ledger"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const (
	testPhoneValue = "0781234567"
	testNameValue  = "John Doe"
)

func newTestStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	ctx := context.Background()
	db, cleanup, driver, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "airtime.db"))
	require.NoError(t, err)
	require.Equal(t, DriverSQLite, driver)
	t.Cleanup(func() { _ = cleanup() })
	require.NoError(t, Migrate(ctx, db))
	return New(db), db
}

type seededCatalog struct {
	dayOffers  []ledger.OfferID
	weekOffer  ledger.OfferID
	cheapOffer ledger.OfferID
}

func seedTestCatalog(t *testing.T, store *Store) seededCatalog {
	t.Helper()
	ctx := context.Background()
	var seeded seededCatalog
	err := store.WithCatalogTx(ctx, func(ctx context.Context, admin ledger.CatalogAdmin) error {
		voiceID, err := admin.EnsureMainCategory(ctx, mustCatalogName(t, "voice_sms"))
		if err != nil {
			return err
		}
		internetID, err := admin.EnsureMainCategory(ctx, mustCatalogName(t, "internet"))
		if err != nil {
			return err
		}
		subID, err := admin.EnsureSubCategory(ctx, voiceID, mustCatalogName(t, "tubitayeho"))
		if err != nil {
			return err
		}
		dayID, err := admin.EnsurePeriod(ctx, subID, mustCatalogName(t, "day"))
		if err != nil {
			return err
		}
		weekID, err := admin.EnsurePeriod(ctx, subID, mustCatalogName(t, "week"))
		if err != nil {
			return err
		}
		for _, offer := range []struct{ quantity, price int64 }{{100, 100_00}, {200, 180_00}, {500, 400_00}} {
			offerID, _, err := admin.EnsureOffer(ctx, dayID, ledger.Quantity(offer.quantity), ledger.AmountCents(offer.price))
			if err != nil {
				return err
			}
			seeded.dayOffers = append(seeded.dayOffers, offerID)
		}
		if seeded.weekOffer, _, err = admin.EnsureOffer(ctx, weekID, 100, 100_00); err != nil {
			return err
		}
		foleva, err := admin.EnsureSubCategory(ctx, internetID, mustCatalogName(t, "foleva"))
		if err != nil {
			return err
		}
		folevaDay, err := admin.EnsurePeriod(ctx, foleva, mustCatalogName(t, "day"))
		if err != nil {
			return err
		}
		seeded.cheapOffer, _, err = admin.EnsureOffer(ctx, folevaDay, 1000, 50_00)
		return err
	})
	require.NoError(t, err)
	return seeded
}

func mustCatalogName(t *testing.T, raw string) ledger.CatalogName {
	t.Helper()
	name, err := ledger.NewCatalogName(raw)
	require.NoError(t, err)
	return name
}

func mustPhoneNumber(t *testing.T, raw string) ledger.PhoneNumber {
	t.Helper()
	phone, err := ledger.NewPhoneNumber(raw)
	require.NoError(t, err)
	return phone
}

func createFundedAccount(t *testing.T, store *Store, phone string, balance ledger.AmountCents) ledger.PhoneNumber {
	t.Helper()
	ctx := context.Background()
	phoneNumber := mustPhoneNumber(t, phone)
	name, err := ledger.NewDisplayName(testNameValue)
	require.NoError(t, err)
	require.NoError(t, store.CreateAccount(ctx, phoneNumber, name))
	if balance > 0 {
		_, err = store.AdjustBalance(ctx, phoneNumber, balance.Credit(), 0)
		require.NoError(t, err)
	}
	return phoneNumber
}

func TestListCatalogOffersOrdersAndFilters(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	seeded := seedTestCatalog(t, store)
	ctx := context.Background()

	offers, err := store.ListCatalogOffers(ctx, ledger.CatalogFilter{})
	require.NoError(t, err)
	require.Len(t, offers, 5)
	require.Equal(t, seeded.dayOffers[0], offers[0].OfferID)
	require.Equal(t, seeded.weekOffer, offers[3].OfferID)
	require.Equal(t, "internet", offers[4].MainCategory)
	require.Equal(t, ledger.AmountCents(180_00), offers[1].Price)

	filtered, err := store.ListCatalogOffers(ctx, ledger.CatalogFilter{MainCategory: "voice_sms", SubCategory: "tubitayeho", Period: "day"})
	require.NoError(t, err)
	require.Len(t, filtered, 3)
	for index, offer := range filtered {
		require.Equal(t, seeded.dayOffers[index], offer.OfferID)
		require.Equal(t, "day", offer.Period)
	}

	missing, err := store.ListCatalogOffers(ctx, ledger.CatalogFilter{MainCategory: "voice_sms", SubCategory: "tubitayeho", Period: "year"})
	require.NoError(t, err)
	require.Empty(t, missing)
}

func TestEnsureCatalogIsIdempotent(t *testing.T) {
	t.Parallel()
	store, db := newTestStore(t)
	first := seedTestCatalog(t, store)
	second := seedTestCatalog(t, store)
	require.Equal(t, first, second)

	var offerCount int64
	require.NoError(t, db.Model(&Offer{}).Count(&offerCount).Error)
	require.EqualValues(t, 5, offerCount)
}

func TestSubCategoryNamesAreUniquePerMain(t *testing.T) {
	t.Parallel()
	store, db := newTestStore(t)
	seedTestCatalog(t, store)
	var main MainCategory
	require.NoError(t, db.Where("name = ?", "voice_sms").Take(&main).Error)
	err := db.Omit("MainCategory").Create(&SubCategory{MainCategoryID: main.ID, Name: "tubitayeho"}).Error
	require.Error(t, err)
	require.True(t, isUniqueViolation(err))
}

func TestCreateAccountRejectsDuplicates(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()
	phone := createFundedAccount(t, store, testPhoneValue, 0)

	exists, err := store.AccountExists(ctx, phone)
	require.NoError(t, err)
	require.True(t, exists)

	name, err := ledger.NewDisplayName("Other")
	require.NoError(t, err)
	err = store.CreateAccount(ctx, phone, name)
	require.ErrorIs(t, err, ledger.ErrAccountExists)

	balance, err := store.ReadBalance(ctx, phone)
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestAdjustBalanceIsConditional(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()
	phone := createFundedAccount(t, store, testPhoneValue, 500_00)

	balance, err := store.AdjustBalance(ctx, phone, ledger.AmountCents(180_00).Debit(), 180_00)
	require.NoError(t, err)
	require.Equal(t, ledger.AmountCents(320_00), balance)

	_, err = store.AdjustBalance(ctx, phone, ledger.AmountCents(400_00).Debit(), 400_00)
	require.ErrorIs(t, err, ledger.ErrBalanceConflict)

	_, err = store.AdjustBalance(ctx, mustPhoneNumber(t, "0700000000"), ledger.AmountCents(1_00).Credit(), 0)
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)

	_, err = store.ReadBalance(ctx, mustPhoneNumber(t, "0700000000"))
	require.ErrorIs(t, err, ledger.ErrAccountNotFound)

	balance, err = store.ReadBalance(ctx, phone)
	require.NoError(t, err)
	require.Equal(t, ledger.AmountCents(320_00), balance)
}

func TestAppendAndListPurchases(t *testing.T) {
	t.Parallel()
	store, db := newTestStore(t)
	seeded := seedTestCatalog(t, store)
	ctx := context.Background()
	phone := createFundedAccount(t, store, testPhoneValue, 0)

	recordID, err := store.AppendPurchase(ctx, ledger.PurchaseGrant{
		PhoneNumber:      phone,
		OfferID:          seeded.dayOffers[1],
		Remaining:        200,
		PurchasedUnixUTC: 1_700_000_000,
		Snapshot:         ledger.OfferSnapshot{MainCategory: "voice_sms", SubCategory: "tubitayeho", Period: "day", OptionNumber: 2, Quantity: 200, PriceCents: 180_00},
	})
	require.NoError(t, err)
	require.NotEmpty(t, recordID.String())

	bundles, err := store.ListPurchases(ctx, phone)
	require.NoError(t, err)
	require.Len(t, bundles, 1)
	bundle := bundles[0]
	require.Equal(t, recordID, bundle.RecordID)
	require.Equal(t, seeded.dayOffers[1], bundle.OfferID)
	require.Equal(t, ledger.Quantity(200), bundle.Remaining)
	require.Equal(t, ledger.AmountCents(180_00), bundle.Price)
	require.Equal(t, "voice_sms", bundle.MainCategory)
	require.EqualValues(t, 1_700_000_000, bundle.PurchasedUnixUTC)

	var record PurchaseRecord
	require.NoError(t, db.Where("id = ?", recordID.String()).Take(&record).Error)
	require.JSONEq(t, `{"main_category":"voice_sms","sub_category":"tubitayeho","period":"day","option_number":2,"quantity":200,"price_cents":18000}`, string(record.Metadata))
}

func TestAppendPurchaseRequiresAccount(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	seeded := seedTestCatalog(t, store)
	_, err := store.AppendPurchase(context.Background(), ledger.PurchaseGrant{
		PhoneNumber:      mustPhoneNumber(t, "0700000000"),
		OfferID:          seeded.dayOffers[0],
		Remaining:        100,
		PurchasedUnixUTC: 1_700_000_000,
	})
	require.Error(t, err)
}

type foreignKeyRow struct {
	Table    string `gorm:"column:table"`
	From     string `gorm:"column:from"`
	To       string `gorm:"column:to"`
	OnDelete string `gorm:"column:on_delete"`
}

func foreignKeys(t *testing.T, db *gorm.DB, table string) []foreignKeyRow {
	t.Helper()
	var rows []foreignKeyRow
	require.NoError(t, db.Raw("PRAGMA foreign_key_list(" + table + ")").Scan(&rows).Error)
	return rows
}

func TestPurchaseRecordsReferenceAccounts(t *testing.T) {
	t.Parallel()
	_, db := newTestStore(t)

	require.Contains(t, foreignKeys(t, db, "purchase_records"), foreignKeyRow{
		Table:    "accounts",
		From:     "phone_number",
		To:       "phone_number",
		OnDelete: "RESTRICT",
	})
	require.Empty(t, foreignKeys(t, db, "accounts"))
}

func TestRegisteredAccountCanBeCredited(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()
	phone := mustPhoneNumber(t, testPhoneValue)
	name, err := ledger.NewDisplayName(testNameValue)
	require.NoError(t, err)

	require.NoError(t, store.CreateAccount(ctx, phone, name))
	balance, err := store.AdjustBalance(ctx, phone, ledger.AmountCents(500_00).Credit(), 0)
	require.NoError(t, err)
	require.Equal(t, ledger.AmountCents(500_00), balance)
}

func TestAppendPurchaseRejectsUnsetTime(t *testing.T) {
	t.Parallel()
	store, db := newTestStore(t)
	seeded := seedTestCatalog(t, store)
	phone := createFundedAccount(t, store, testPhoneValue, 0)
	_, err := store.AppendPurchase(context.Background(), ledger.PurchaseGrant{
		PhoneNumber: phone,
		OfferID:     seeded.dayOffers[0],
		Remaining:   100,
	})
	require.ErrorIs(t, err, ledger.ErrInvalidPurchaseGrant)

	var recordCount int64
	require.NoError(t, db.Model(&PurchaseRecord{}).Count(&recordCount).Error)
	require.Zero(t, recordCount)
}

func TestWithTxRollsBackOnError(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	ctx := context.Background()
	phone := createFundedAccount(t, store, testPhoneValue, 100_00)
	err := store.WithTx(ctx, func(ctx context.Context, txStore ledger.LedgerStore) error {
		if _, err := txStore.AdjustBalance(ctx, phone, ledger.AmountCents(100_00).Debit(), 100_00); err != nil {
			return err
		}
		return ledger.ErrStoreUnavailable
	})
	require.ErrorIs(t, err, ledger.ErrStoreUnavailable)
	balance, err := store.ReadBalance(ctx, phone)
	require.NoError(t, err)
	require.Equal(t, ledger.AmountCents(100_00), balance)
}

func TestServicePurchasesAgainstSQLite(t *testing.T) {
	t.Parallel()
	store, _ := newTestStore(t)
	seedTestCatalog(t, store)
	ctx := context.Background()
	phone := createFundedAccount(t, store, testPhoneValue, 500_00)

	catalog, err := ledger.NewCatalog(store)
	require.NoError(t, err)
	service, err := ledger.NewService(catalog, store, store, func() int64 { return 1_700_000_000 })
	require.NoError(t, err)

	request, err := ledger.NewPurchaseRequest(testPhoneValue, "voice_sms", "tubitayeho", "day", 2)
	require.NoError(t, err)
	result, err := service.Purchase(ctx, request)
	require.NoError(t, err)
	require.Equal(t, ledger.Quantity(200), result.Quantity)

	balance, err := service.Balance(ctx, phone)
	require.NoError(t, err)
	require.Equal(t, ledger.AmountCents(320_00), balance)

	request, err = ledger.NewPurchaseRequest(testPhoneValue, "voice_sms", "tubitayeho", "day", 4)
	require.NoError(t, err)
	_, err = service.Purchase(ctx, request)
	require.ErrorIs(t, err, ledger.ErrInvalidOption)

	request, err = ledger.NewPurchaseRequest(testPhoneValue, "internet", "foleva", "day", 1)
	require.NoError(t, err)
	_, err = service.Purchase(ctx, request)
	require.ErrorIs(t, err, ledger.ErrBelowMinimumPrice)

	bundles, err := service.GetAccountBundles(ctx, phone)
	require.NoError(t, err)
	require.Len(t, bundles, 1)
}

func TestConcurrentPurchasesAgainstSQLite(t *testing.T) {
	t.Parallel()
	const purchaseAttempts = 6
	store, _ := newTestStore(t)
	seedTestCatalog(t, store)
	phone := createFundedAccount(t, store, testPhoneValue, 180_00)

	catalog, err := ledger.NewCatalog(store)
	require.NoError(t, err)
	service, err := ledger.NewService(catalog, store, store, func() int64 { return 1_700_000_000 })
	require.NoError(t, err)
	request, err := ledger.NewPurchaseRequest(testPhoneValue, "voice_sms", "tubitayeho", "day", 2)
	require.NoError(t, err)

	var (
		waitGroup sync.WaitGroup
		mutex     sync.Mutex
		errs      []error
	)
	for attempt := 0; attempt < purchaseAttempts; attempt++ {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			_, purchaseErr := service.Purchase(context.Background(), request)
			mutex.Lock()
			errs = append(errs, purchaseErr)
			mutex.Unlock()
		}()
	}
	waitGroup.Wait()

	successes := 0
	for _, purchaseErr := range errs {
		if purchaseErr == nil {
			successes++
			continue
		}
		require.ErrorIs(t, purchaseErr, ledger.ErrInsufficientBalance)
	}
	require.Equal(t, 1, successes)

	balance, err := store.ReadBalance(context.Background(), phone)
	require.NoError(t, err)
	require.Zero(t, balance)
	bundles, err := store.ListPurchases(context.Background(), phone)
	require.NoError(t, err)
	require.Len(t, bundles, 1)
}

func TestResolveDriver(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	testCases := []struct {
		name   string
		url    string
		driver string
		path   string
	}{
		{name: "postgres", url: "postgres://user@localhost/airtime", driver: DriverPostgres},
		{name: "postgresql", url: "postgresql://user@localhost/airtime", driver: DriverPostgres},
		{name: "sqlite absolute", url: "sqlite://" + filepath.Join(dir, "a.db"), driver: DriverSQLite, path: filepath.Join(dir, "a.db")},
		{name: "bare path", url: filepath.Join(dir, "nested", "b.db"), driver: DriverSQLite, path: filepath.Join(dir, "nested", "b.db")},
		{name: "memory", url: ":memory:", driver: DriverSQLite, path: ":memory:"},
	}
	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()
			driver, path, err := ResolveDriver(testCase.url)
			require.NoError(t, err)
			require.Equal(t, testCase.driver, driver)
			require.Equal(t, testCase.path, path)
		})
	}
	_, _, err := ResolveDriver("")
	require.Error(t, err)
}
