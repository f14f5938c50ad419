package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/airtime/pkg/ledger"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	pgUniqueViolationCode   = "23505"
	errorOperationStore     = "store"
	errorSubjectAccount     = "account"
	errorSubjectBalance     = "balance"
	errorSubjectCatalog     = "catalog"
	errorSubjectPurchase    = "purchase"
	errorSubjectTransaction = "transaction"
	errorCodeAdjust         = "adjust"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeEnsure         = "ensure"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLookup         = "lookup"

	sqlSelectCatalogOffers = `
		select m.id, m.name, s.id, s.name, p.id, p.label, o.id, o.quantity, o.price_cents
		from offers o
		join periods p on p.id = o.period_id
		join sub_categories s on s.id = p.sub_category_id
		join main_categories m on m.id = s.main_category_id
		where ($1 = '' or (m.name = $1 and s.name = $2 and p.label = $3))
		order by m.id, s.id, p.id, o.id
	`

	sqlInsertAccount = `
		insert into accounts(phone_number, name, balance_cents, created_at, updated_at)
		values ($1, $2, 0, now(), now())
	`

	sqlAccountExists = `select exists(select 1 from accounts where phone_number = $1)`

	sqlSelectBalance = `select balance_cents from accounts where phone_number = $1`

	sqlAdjustBalance = `
		update accounts
		set balance_cents = balance_cents + $2, updated_at = now()
		where phone_number = $1 and balance_cents >= $3 and balance_cents + $2 >= 0
		returning balance_cents
	`

	sqlInsertPurchase = `
		insert into purchase_records(id, phone_number, offer_id, remaining, purchased_at, metadata)
		values ($1, $2, $3, $4, to_timestamp($5), $6::jsonb)
	`

	sqlListPurchases = `
		select r.id::text, r.offer_id, r.remaining, extract(epoch from r.purchased_at)::bigint,
			o.quantity, o.price_cents, m.name, s.name, p.label
		from purchase_records r
		join offers o on o.id = r.offer_id
		join periods p on p.id = o.period_id
		join sub_categories s on s.id = p.sub_category_id
		join main_categories m on m.id = s.main_category_id
		where r.phone_number = $1
		order by r.purchased_at, r.id
	`

	sqlEnsureMainCategory = `
		with inserted as (
			insert into main_categories(name) values ($1)
			on conflict (name) do nothing
			returning id
		)
		select id from inserted
		union all
		select id from main_categories where name = $1
		limit 1
	`

	sqlEnsureSubCategory = `
		with inserted as (
			insert into sub_categories(main_category_id, name) values ($1, $2)
			on conflict (main_category_id, name) do nothing
			returning id
		)
		select id from inserted
		union all
		select id from sub_categories where main_category_id = $1 and name = $2
		limit 1
	`

	sqlEnsurePeriod = `
		with inserted as (
			insert into periods(sub_category_id, label) values ($1, $2)
			on conflict (sub_category_id, label) do nothing
			returning id
		)
		select id from inserted
		union all
		select id from periods where sub_category_id = $1 and label = $2
		limit 1
	`

	sqlSelectOffer = `
		select id from offers
		where period_id = $1 and quantity = $2 and price_cents = $3
		order by id
		limit 1
	`

	sqlInsertOffer = `
		insert into offers(period_id, quantity, price_cents, created_at)
		values ($1, $2, $3, now())
		returning id
	`
)

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type queries struct {
	db querier
}

// Store implements the ledger store interfaces using a pgx connection pool (autocommit).
type Store struct {
	queries
	pool *pgxpool.Pool
}

// TxStore implements the ledger store interfaces for an active transaction.
type TxStore struct {
	queries
	tx pgx.Tx
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

// Open creates a pool for databaseURL and verifies connectivity.
func Open(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgx pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgx ping: %w", err)
	}
	return pool, nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.LedgerStore) error) error {
	return store.runInTx(ctx, func(ctx context.Context, transactionStore *TxStore) error {
		return fn(ctx, transactionStore)
	})
}

func (store *Store) WithCatalogTx(ctx context.Context, fn func(ctx context.Context, admin ledger.CatalogAdmin) error) error {
	return store.runInTx(ctx, func(ctx context.Context, transactionStore *TxStore) error {
		return fn(ctx, transactionStore)
	})
}

func (store *Store) runInTx(ctx context.Context, fn func(ctx context.Context, transactionStore *TxStore) error) error {
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &TxStore{queries: queries{db: tx}, tx: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

// WithTx joins the active transaction.
func (store *TxStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.LedgerStore) error) error {
	return fn(ctx, store)
}

// WithCatalogTx joins the active transaction.
func (store *TxStore) WithCatalogTx(ctx context.Context, fn func(ctx context.Context, admin ledger.CatalogAdmin) error) error {
	return fn(ctx, store)
}

func (store *queries) ListCatalogOffers(ctx context.Context, filter ledger.CatalogFilter) ([]ledger.CatalogOffer, error) {
	rows, err := store.db.Query(ctx, sqlSelectCatalogOffers, filter.MainCategory, filter.SubCategory, filter.Period)
	if err != nil {
		return nil, wrapStoreError(errorSubjectCatalog, errorCodeList, err)
	}
	defer rows.Close()

	var offers []ledger.CatalogOffer
	for rows.Next() {
		var (
			offer      ledger.CatalogOffer
			offerID    int64
			quantity   int64
			priceCents int64
		)
		if err := rows.Scan(
			&offer.MainCategoryID,
			&offer.MainCategory,
			&offer.SubCategoryID,
			&offer.SubCategory,
			&offer.PeriodID,
			&offer.Period,
			&offerID,
			&quantity,
			&priceCents,
		); err != nil {
			return nil, wrapStoreError(errorSubjectCatalog, errorCodeList, err)
		}
		offer.OfferID = ledger.OfferID(offerID)
		if offer.Quantity, err = ledger.NewQuantity(quantity); err != nil {
			return nil, wrapStoreError(errorSubjectCatalog, errorCodeInvalid, err)
		}
		if offer.Price, err = ledger.NewAmountCents(priceCents); err != nil {
			return nil, wrapStoreError(errorSubjectCatalog, errorCodeInvalid, err)
		}
		offers = append(offers, offer)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectCatalog, errorCodeList, err)
	}
	return offers, nil
}

func (store *queries) CreateAccount(ctx context.Context, phone ledger.PhoneNumber, name ledger.DisplayName) error {
	_, err := store.db.Exec(ctx, sqlInsertAccount, phone.String(), name.String())
	if isUniqueViolation(err) {
		return wrapStoreError(errorSubjectAccount, errorCodeDuplicate, ledger.ErrAccountExists)
	}
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeCreate, err)
	}
	return nil
}

func (store *queries) AccountExists(ctx context.Context, phone ledger.PhoneNumber) (bool, error) {
	var exists bool
	if err := store.db.QueryRow(ctx, sqlAccountExists, phone.String()).Scan(&exists); err != nil {
		return false, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return exists, nil
}

func (store *queries) ReadBalance(ctx context.Context, phone ledger.PhoneNumber) (ledger.AmountCents, error) {
	var balanceCents int64
	err := store.db.QueryRow(ctx, sqlSelectBalance, phone.String()).Scan(&balanceCents)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, ledger.ErrAccountNotFound)
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeGet, err)
	}
	balance, err := ledger.NewAmountCents(balanceCents)
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return balance, nil
}

func (store *queries) AdjustBalance(ctx context.Context, phone ledger.PhoneNumber, delta ledger.SignedAmountCents, expectedMinimum ledger.AmountCents) (ledger.AmountCents, error) {
	var balanceCents int64
	err := store.db.QueryRow(ctx, sqlAdjustBalance, phone.String(), delta.Int64(), expectedMinimum.Int64()).Scan(&balanceCents)
	if errors.Is(err, pgx.ErrNoRows) {
		exists, lookupErr := store.AccountExists(ctx, phone)
		if lookupErr != nil {
			return 0, lookupErr
		}
		if !exists {
			return 0, wrapStoreError(errorSubjectBalance, errorCodeAdjust, ledger.ErrAccountNotFound)
		}
		return 0, wrapStoreError(errorSubjectBalance, errorCodeAdjust, ledger.ErrBalanceConflict)
	}
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeAdjust, err)
	}
	balance, err := ledger.NewAmountCents(balanceCents)
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeInvalid, err)
	}
	return balance, nil
}

func (store *queries) AppendPurchase(ctx context.Context, grant ledger.PurchaseGrant) (ledger.PurchaseRecordID, error) {
	if err := grant.Validate(); err != nil {
		return ledger.PurchaseRecordID{}, wrapStoreError(errorSubjectPurchase, errorCodeInvalid, err)
	}
	metadata, err := json.Marshal(grant.Snapshot)
	if err != nil {
		return ledger.PurchaseRecordID{}, wrapStoreError(errorSubjectPurchase, errorCodeInvalid, err)
	}
	id, err := uuid.NewV7()
	if err != nil {
		return ledger.PurchaseRecordID{}, wrapStoreError(errorSubjectPurchase, errorCodeInvalid, err)
	}
	_, err = store.db.Exec(ctx, sqlInsertPurchase,
		id.String(),
		grant.PhoneNumber.String(),
		grant.OfferID.Int64(),
		grant.Remaining.Int64(),
		grant.PurchasedUnixUTC,
		string(metadata),
	)
	if err != nil {
		return ledger.PurchaseRecordID{}, wrapStoreError(errorSubjectPurchase, errorCodeInsert, err)
	}
	recordID, err := ledger.NewPurchaseRecordID(id.String())
	if err != nil {
		return ledger.PurchaseRecordID{}, wrapStoreError(errorSubjectPurchase, errorCodeInvalid, err)
	}
	return recordID, nil
}

func (store *queries) ListPurchases(ctx context.Context, phone ledger.PhoneNumber) ([]ledger.AccountBundle, error) {
	rows, err := store.db.Query(ctx, sqlListPurchases, phone.String())
	if err != nil {
		return nil, wrapStoreError(errorSubjectPurchase, errorCodeList, err)
	}
	defer rows.Close()

	bundles := make([]ledger.AccountBundle, 0)
	for rows.Next() {
		var (
			bundle     ledger.AccountBundle
			recordID   string
			offerID    int64
			remaining  int64
			quantity   int64
			priceCents int64
		)
		if err := rows.Scan(
			&recordID,
			&offerID,
			&remaining,
			&bundle.PurchasedUnixUTC,
			&quantity,
			&priceCents,
			&bundle.MainCategory,
			&bundle.SubCategory,
			&bundle.Period,
		); err != nil {
			return nil, wrapStoreError(errorSubjectPurchase, errorCodeList, err)
		}
		if bundle.RecordID, err = ledger.NewPurchaseRecordID(recordID); err != nil {
			return nil, wrapStoreError(errorSubjectPurchase, errorCodeInvalid, err)
		}
		if bundle.Quantity, err = ledger.NewQuantity(quantity); err != nil {
			return nil, wrapStoreError(errorSubjectPurchase, errorCodeInvalid, err)
		}
		if bundle.Price, err = ledger.NewAmountCents(priceCents); err != nil {
			return nil, wrapStoreError(errorSubjectPurchase, errorCodeInvalid, err)
		}
		bundle.OfferID = ledger.OfferID(offerID)
		bundle.Remaining = ledger.Quantity(remaining)
		bundles = append(bundles, bundle)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectPurchase, errorCodeList, err)
	}
	return bundles, nil
}

func (store *queries) EnsureMainCategory(ctx context.Context, name ledger.CatalogName) (int64, error) {
	return store.ensureID(ctx, sqlEnsureMainCategory, name.String())
}

func (store *queries) EnsureSubCategory(ctx context.Context, mainCategoryID int64, name ledger.CatalogName) (int64, error) {
	return store.ensureID(ctx, sqlEnsureSubCategory, mainCategoryID, name.String())
}

func (store *queries) EnsurePeriod(ctx context.Context, subCategoryID int64, label ledger.CatalogName) (int64, error) {
	return store.ensureID(ctx, sqlEnsurePeriod, subCategoryID, label.String())
}

func (store *queries) EnsureOffer(ctx context.Context, periodID int64, quantity ledger.Quantity, price ledger.AmountCents) (ledger.OfferID, bool, error) {
	var offerID int64
	err := store.db.QueryRow(ctx, sqlSelectOffer, periodID, quantity.Int64(), price.Int64()).Scan(&offerID)
	if err == nil {
		return ledger.OfferID(offerID), false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, false, wrapStoreError(errorSubjectCatalog, errorCodeLookup, err)
	}
	if err := store.db.QueryRow(ctx, sqlInsertOffer, periodID, quantity.Int64(), price.Int64()).Scan(&offerID); err != nil {
		return 0, false, wrapStoreError(errorSubjectCatalog, errorCodeEnsure, err)
	}
	return ledger.OfferID(offerID), true, nil
}

func (store *queries) ensureID(ctx context.Context, sql string, args ...any) (int64, error) {
	var id int64
	if err := store.db.QueryRow(ctx, sql, args...).Scan(&id); err != nil {
		return 0, wrapStoreError(errorSubjectCatalog, errorCodeEnsure, err)
	}
	return id, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	return false
}
