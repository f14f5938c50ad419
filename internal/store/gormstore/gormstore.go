package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/MarkoPoloResearchLab/airtime/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pgUniqueViolationCode   = "23505"
	sqliteConstraintCode    = 19
	errorOperationStore     = "store"
	errorSubjectAccount     = "account"
	errorSubjectBalance     = "balance"
	errorSubjectCatalog     = "catalog"
	errorSubjectPurchase    = "purchase"
	errorCodeAdjust         = "adjust"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeEnsure         = "ensure"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLookup         = "lookup"
	catalogOfferSelect      = "main_categories.id AS main_category_id, main_categories.name AS main_category, sub_categories.id AS sub_category_id, sub_categories.name AS sub_category, periods.id AS period_id, periods.label AS period, offers.id AS offer_id, offers.quantity AS quantity, offers.price_cents AS price_cents"
	purchaseSelect          = "purchase_records.id AS id, purchase_records.offer_id AS offer_id, purchase_records.remaining AS remaining, purchase_records.purchased_at AS purchased_at, offers.quantity AS quantity, offers.price_cents AS price_cents, main_categories.name AS main_category, sub_categories.name AS sub_category, periods.label AS period"
	joinPeriods             = "JOIN periods ON periods.id = offers.period_id"
	joinSubCategories       = "JOIN sub_categories ON sub_categories.id = periods.sub_category_id"
	joinMainCategories      = "JOIN main_categories ON main_categories.id = sub_categories.main_category_id"
	catalogOfferOrder       = "main_categories.id, sub_categories.id, periods.id, offers.id"
	catalogNameFilter       = "main_categories.name = ? AND sub_categories.name = ? AND periods.label = ?"
	conditionalBalanceWhere = "phone_number = ? AND balance_cents >= ? AND balance_cents + ? >= 0"
)

// Store implements the ledger store interfaces using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.LedgerStore) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// WithCatalogTx executes fn within a transaction for catalog administration.
func (store *Store) WithCatalogTx(ctx context.Context, fn func(ctx context.Context, admin ledger.CatalogAdmin) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) ListCatalogOffers(ctx context.Context, filter ledger.CatalogFilter) ([]ledger.CatalogOffer, error) {
	query := store.db.WithContext(ctx).
		Model(&Offer{}).
		Select(catalogOfferSelect).
		Joins(joinPeriods).
		Joins(joinSubCategories).
		Joins(joinMainCategories)
	if !filter.IsZero() {
		query = query.Where(catalogNameFilter, filter.MainCategory, filter.SubCategory, filter.Period)
	}
	var rows []catalogOfferRow
	if err := query.Order(catalogOfferOrder).Scan(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectCatalog, errorCodeList, err)
	}
	offers := make([]ledger.CatalogOffer, 0, len(rows))
	for _, row := range rows {
		offer, err := mapCatalogOffer(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectCatalog, errorCodeInvalid, err)
		}
		offers = append(offers, offer)
	}
	return offers, nil
}

func (store *Store) CreateAccount(ctx context.Context, phone ledger.PhoneNumber, name ledger.DisplayName) error {
	model := Account{
		PhoneNumber: phone.String(),
		Name:        name.String(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectAccount, errorCodeDuplicate, ledger.ErrAccountExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) AccountExists(ctx context.Context, phone ledger.PhoneNumber) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("phone_number = ?", phone.String()).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return count > 0, nil
}

func (store *Store) ReadBalance(ctx context.Context, phone ledger.PhoneNumber) (ledger.AmountCents, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Select("balance_cents").
		Where("phone_number = ?", phone.String()).
		Take(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, ledger.ErrAccountNotFound)
		}
		return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	balance, err := ledger.NewAmountCents(model.BalanceCents)
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return balance, nil
}

// AdjustBalance applies delta with a single conditional update. The predicate is
// re-evaluated against the locked row, so concurrent debits cannot overdraw.
func (store *Store) AdjustBalance(ctx context.Context, phone ledger.PhoneNumber, delta ledger.SignedAmountCents, expectedMinimum ledger.AmountCents) (ledger.AmountCents, error) {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where(conditionalBalanceWhere, phone.String(), expectedMinimum.Int64(), delta.Int64()).
		Updates(map[string]any{
			"balance_cents": gorm.Expr("balance_cents + ?", delta.Int64()),
			"updated_at":    time.Now().UTC(),
		})
	if result.Error != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeAdjust, result.Error)
	}
	if result.RowsAffected == 0 {
		exists, err := store.AccountExists(ctx, phone)
		if err != nil {
			return 0, err
		}
		if !exists {
			return 0, wrapStoreError(errorSubjectBalance, errorCodeAdjust, ledger.ErrAccountNotFound)
		}
		return 0, wrapStoreError(errorSubjectBalance, errorCodeAdjust, ledger.ErrBalanceConflict)
	}
	return store.ReadBalance(ctx, phone)
}

func (store *Store) AppendPurchase(ctx context.Context, grant ledger.PurchaseGrant) (ledger.PurchaseRecordID, error) {
	if err := grant.Validate(); err != nil {
		return ledger.PurchaseRecordID{}, wrapStoreError(errorSubjectPurchase, errorCodeInvalid, err)
	}
	metadata, err := json.Marshal(grant.Snapshot)
	if err != nil {
		return ledger.PurchaseRecordID{}, wrapStoreError(errorSubjectPurchase, errorCodeInvalid, err)
	}
	model := PurchaseRecord{
		PhoneNumber: grant.PhoneNumber.String(),
		OfferID:     grant.OfferID.Int64(),
		Remaining:   grant.Remaining.Int64(),
		PurchasedAt: time.Unix(grant.PurchasedUnixUTC, 0).UTC(),
		Metadata:    datatypes.JSON(metadata),
	}
	if err := store.db.WithContext(ctx).Omit(clause.Associations).Create(&model).Error; err != nil {
		return ledger.PurchaseRecordID{}, wrapStoreError(errorSubjectPurchase, errorCodeInsert, err)
	}
	recordID, err := ledger.NewPurchaseRecordID(model.ID)
	if err != nil {
		return ledger.PurchaseRecordID{}, wrapStoreError(errorSubjectPurchase, errorCodeInvalid, err)
	}
	return recordID, nil
}

func (store *Store) ListPurchases(ctx context.Context, phone ledger.PhoneNumber) ([]ledger.AccountBundle, error) {
	var rows []purchaseRow
	err := store.db.WithContext(ctx).
		Model(&PurchaseRecord{}).
		Select(purchaseSelect).
		Joins("JOIN offers ON offers.id = purchase_records.offer_id").
		Joins(joinPeriods).
		Joins(joinSubCategories).
		Joins(joinMainCategories).
		Where("purchase_records.phone_number = ?", phone.String()).
		Order("purchase_records.purchased_at, purchase_records.id").
		Scan(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPurchase, errorCodeList, err)
	}
	bundles := make([]ledger.AccountBundle, 0, len(rows))
	for _, row := range rows {
		bundle, err := mapAccountBundle(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectPurchase, errorCodeInvalid, err)
		}
		bundles = append(bundles, bundle)
	}
	return bundles, nil
}

func (store *Store) EnsureMainCategory(ctx context.Context, name ledger.CatalogName) (int64, error) {
	var model MainCategory
	err := store.db.WithContext(ctx).
		Where(MainCategory{Name: name.String()}).
		FirstOrCreate(&model).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectCatalog, errorCodeEnsure, err)
	}
	return model.ID, nil
}

func (store *Store) EnsureSubCategory(ctx context.Context, mainCategoryID int64, name ledger.CatalogName) (int64, error) {
	var model SubCategory
	err := store.db.WithContext(ctx).
		Omit(clause.Associations).
		Where(SubCategory{MainCategoryID: mainCategoryID, Name: name.String()}).
		FirstOrCreate(&model).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectCatalog, errorCodeEnsure, err)
	}
	return model.ID, nil
}

func (store *Store) EnsurePeriod(ctx context.Context, subCategoryID int64, label ledger.CatalogName) (int64, error) {
	var model Period
	err := store.db.WithContext(ctx).
		Omit(clause.Associations).
		Where(Period{SubCategoryID: subCategoryID, Label: label.String()}).
		FirstOrCreate(&model).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectCatalog, errorCodeEnsure, err)
	}
	return model.ID, nil
}

func (store *Store) EnsureOffer(ctx context.Context, periodID int64, quantity ledger.Quantity, price ledger.AmountCents) (ledger.OfferID, bool, error) {
	var model Offer
	err := store.db.WithContext(ctx).
		Where("period_id = ? AND quantity = ? AND price_cents = ?", periodID, quantity.Int64(), price.Int64()).
		Order("id").
		Take(&model).Error
	if err == nil {
		return ledger.OfferID(model.ID), false, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, wrapStoreError(errorSubjectCatalog, errorCodeLookup, err)
	}
	model = Offer{
		PeriodID:   periodID,
		Quantity:   quantity.Int64(),
		PriceCents: price.Int64(),
	}
	if err := store.db.WithContext(ctx).Omit(clause.Associations).Create(&model).Error; err != nil {
		return 0, false, wrapStoreError(errorSubjectCatalog, errorCodeEnsure, err)
	}
	return ledger.OfferID(model.ID), true, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

type catalogOfferRow struct {
	MainCategoryID int64
	MainCategory   string
	SubCategoryID  int64
	SubCategory    string
	PeriodID       int64
	Period         string
	OfferID        int64
	Quantity       int64
	PriceCents     int64
}

type purchaseRow struct {
	ID           string
	OfferID      int64
	Remaining    int64
	PurchasedAt  time.Time
	Quantity     int64
	PriceCents   int64
	MainCategory string
	SubCategory  string
	Period       string
}

func mapCatalogOffer(row catalogOfferRow) (ledger.CatalogOffer, error) {
	quantity, err := ledger.NewQuantity(row.Quantity)
	if err != nil {
		return ledger.CatalogOffer{}, err
	}
	price, err := ledger.NewAmountCents(row.PriceCents)
	if err != nil {
		return ledger.CatalogOffer{}, err
	}
	return ledger.CatalogOffer{
		MainCategoryID: row.MainCategoryID,
		MainCategory:   row.MainCategory,
		SubCategoryID:  row.SubCategoryID,
		SubCategory:    row.SubCategory,
		PeriodID:       row.PeriodID,
		Period:         row.Period,
		OfferID:        ledger.OfferID(row.OfferID),
		Quantity:       quantity,
		Price:          price,
	}, nil
}

func mapAccountBundle(row purchaseRow) (ledger.AccountBundle, error) {
	recordID, err := ledger.NewPurchaseRecordID(row.ID)
	if err != nil {
		return ledger.AccountBundle{}, err
	}
	quantity, err := ledger.NewQuantity(row.Quantity)
	if err != nil {
		return ledger.AccountBundle{}, err
	}
	price, err := ledger.NewAmountCents(row.PriceCents)
	if err != nil {
		return ledger.AccountBundle{}, err
	}
	return ledger.AccountBundle{
		RecordID:         recordID,
		OfferID:          ledger.OfferID(row.OfferID),
		MainCategory:     row.MainCategory,
		SubCategory:      row.SubCategory,
		Period:           row.Period,
		Quantity:         quantity,
		Price:            price,
		Remaining:        ledger.Quantity(row.Remaining),
		PurchasedUnixUTC: row.PurchasedAt.Unix(),
	}, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
