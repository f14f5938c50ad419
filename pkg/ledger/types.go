package ledger

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	amountScale        = 2
	phoneNumberMinSize = 7
	phoneNumberMaxSize = 20
	displayNameMaxSize = 100
	catalogNameMaxSize = 100
	labelDelimiter     = " > "
)

// AmountCents is a fixed-point currency amount with two decimal places.
type AmountCents int64

// SignedAmountCents is a balance delta; negative values debit.
type SignedAmountCents int64

// Quantity counts the units granted by an offer.
type Quantity int64

// OfferID is the store-generated, creation-ordered identifier of an offer.
type OfferID int64

// PurchaseRecordID identifies a purchase record.
type PurchaseRecordID struct {
	value string
}

// PhoneNumber identifies an account.
type PhoneNumber struct {
	value string
}

// DisplayName is the account holder name.
type DisplayName struct {
	value string
}

// CatalogName is a main category, sub category, or period label.
type CatalogName struct {
	value string
}

// NewPhoneNumber validates and normalizes a phone number.
func NewPhoneNumber(raw string) (PhoneNumber, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PhoneNumber{}, fmt.Errorf("%w: empty value", ErrInvalidPhoneNumber)
	}
	digits := strings.TrimPrefix(trimmed, "+")
	if len(digits) < phoneNumberMinSize || len(trimmed) > phoneNumberMaxSize {
		return PhoneNumber{}, fmt.Errorf("%w: length out of range", ErrInvalidPhoneNumber)
	}
	for _, character := range digits {
		if character < '0' || character > '9' {
			return PhoneNumber{}, fmt.Errorf("%w: must contain digits only", ErrInvalidPhoneNumber)
		}
	}
	return PhoneNumber{value: trimmed}, nil
}

// String returns the normalized phone number.
func (phone PhoneNumber) String() string {
	return phone.value
}

// IsZero reports whether the phone number was never validated.
func (phone PhoneNumber) IsZero() bool {
	return phone.value == ""
}

// NewDisplayName validates an account holder name.
func NewDisplayName(raw string) (DisplayName, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return DisplayName{}, fmt.Errorf("%w: empty value", ErrInvalidDisplayName)
	}
	if len(trimmed) > displayNameMaxSize {
		return DisplayName{}, fmt.Errorf("%w: longer than %d bytes", ErrInvalidDisplayName, displayNameMaxSize)
	}
	return DisplayName{value: trimmed}, nil
}

// String returns the normalized name.
func (name DisplayName) String() string {
	return name.value
}

// NewCatalogName validates a catalog segment name.
func NewCatalogName(raw string) (CatalogName, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return CatalogName{}, fmt.Errorf("%w: empty value", ErrInvalidCatalogName)
	}
	if len(trimmed) > catalogNameMaxSize {
		return CatalogName{}, fmt.Errorf("%w: longer than %d bytes", ErrInvalidCatalogName, catalogNameMaxSize)
	}
	return CatalogName{value: trimmed}, nil
}

// String returns the normalized name.
func (name CatalogName) String() string {
	return name.value
}

// NewPurchaseRecordID validates a purchase record identifier.
func NewPurchaseRecordID(raw string) (PurchaseRecordID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return PurchaseRecordID{}, fmt.Errorf("%w: empty value", ErrInvalidPurchaseRecordID)
	}
	return PurchaseRecordID{value: trimmed}, nil
}

// String returns the identifier.
func (id PurchaseRecordID) String() string {
	return id.value
}

// NewAmountCents validates a non-negative amount.
func NewAmountCents(raw int64) (AmountCents, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmount)
	}
	return AmountCents(raw), nil
}

// NewPositiveAmountCents validates a strictly positive amount.
func NewPositiveAmountCents(raw int64) (AmountCents, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return AmountCents(raw), nil
}

// ParseAmount converts a decimal into cents, rejecting fractions finer than a cent.
func ParseAmount(value decimal.Decimal) (AmountCents, error) {
	shifted := value.Shift(amountScale)
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, fmt.Errorf("%w: at most %d decimal places", ErrInvalidAmount, amountScale)
	}
	if shifted.GreaterThan(decimal.NewFromInt(maxAmountCents)) {
		return 0, fmt.Errorf("%w: out of range", ErrInvalidAmount)
	}
	return NewAmountCents(shifted.IntPart())
}

// ParseAmountString parses a textual decimal amount such as "180" or "99.50".
func ParseAmountString(raw string) (AmountCents, error) {
	value, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return ParseAmount(value)
}

// Int64 returns the raw cents.
func (amount AmountCents) Int64() int64 {
	return int64(amount)
}

// Decimal returns the amount in currency units.
func (amount AmountCents) Decimal() decimal.Decimal {
	return decimal.New(int64(amount), -amountScale)
}

// String renders the amount in currency units.
func (amount AmountCents) String() string {
	return amount.Decimal().String()
}

// Debit returns the negative delta for this amount.
func (amount AmountCents) Debit() SignedAmountCents {
	return SignedAmountCents(-int64(amount))
}

// Credit returns the positive delta for this amount.
func (amount AmountCents) Credit() SignedAmountCents {
	return SignedAmountCents(amount)
}

// Int64 returns the raw signed cents.
func (delta SignedAmountCents) Int64() int64 {
	return int64(delta)
}

// NewQuantity validates a positive unit count.
func NewQuantity(raw int64) (Quantity, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidQuantity)
	}
	return Quantity(raw), nil
}

// Int64 returns the raw unit count.
func (quantity Quantity) Int64() int64 {
	return int64(quantity)
}

// Int64 returns the raw identifier.
func (id OfferID) Int64() int64 {
	return int64(id)
}

// PurchaseGrant is the record appended by a successful purchase.
type PurchaseGrant struct {
	PhoneNumber      PhoneNumber
	OfferID          OfferID
	Remaining        Quantity
	PurchasedUnixUTC int64
	Snapshot         OfferSnapshot
}

// Validate reports whether the grant can be stored. Stores call it before writing.
func (grant PurchaseGrant) Validate() error {
	if grant.PhoneNumber.IsZero() {
		return fmt.Errorf("%w: phone number is empty", ErrInvalidPurchaseGrant)
	}
	if grant.OfferID <= 0 {
		return fmt.Errorf("%w: offer id must be positive", ErrInvalidPurchaseGrant)
	}
	if grant.Remaining <= 0 {
		return fmt.Errorf("%w: remaining quantity must be positive", ErrInvalidPurchaseGrant)
	}
	if grant.PurchasedUnixUTC <= 0 {
		return fmt.Errorf("%w: purchase time is not set", ErrInvalidPurchaseGrant)
	}
	return nil
}

// OfferSnapshot freezes the catalog labels an offer carried when it was bought.
type OfferSnapshot struct {
	MainCategory string `json:"main_category"`
	SubCategory  string `json:"sub_category"`
	Period       string `json:"period"`
	OptionNumber int    `json:"option_number"`
	Quantity     int64  `json:"quantity"`
	PriceCents   int64  `json:"price_cents"`
}

// AccountBundle is a purchase record joined with its offer descriptors.
type AccountBundle struct {
	RecordID         PurchaseRecordID
	OfferID          OfferID
	MainCategory     string
	SubCategory      string
	Period           string
	Quantity         Quantity
	Price            AmountCents
	Remaining        Quantity
	PurchasedUnixUTC int64
}

// PurchaseResult describes the bundle acquired by Purchase.
type PurchaseResult struct {
	MainCategory string
	SubCategory  string
	Period       string
	Quantity     Quantity
	Price        AmountCents
	OptionNumber int
}

// CatalogStore is the read-only view of the catalog hierarchy.
type CatalogStore interface {
	// ListCatalogOffers returns offers ordered by main, sub, period, and offer id.
	ListCatalogOffers(ctx context.Context, filter CatalogFilter) ([]CatalogOffer, error)
}

// LedgerStore holds balances and purchase records.
type LedgerStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore LedgerStore) error) error
	ReadBalance(ctx context.Context, phone PhoneNumber) (AmountCents, error)
	// AdjustBalance applies delta only when the current balance is at least expectedMinimum
	// and the result stays non-negative. It returns ErrBalanceConflict otherwise.
	AdjustBalance(ctx context.Context, phone PhoneNumber, delta SignedAmountCents, expectedMinimum AmountCents) (AmountCents, error)
	AppendPurchase(ctx context.Context, grant PurchaseGrant) (PurchaseRecordID, error)
	ListPurchases(ctx context.Context, phone PhoneNumber) ([]AccountBundle, error)
}

// AccountRegistry owns account creation.
type AccountRegistry interface {
	CreateAccount(ctx context.Context, phone PhoneNumber, name DisplayName) error
	AccountExists(ctx context.Context, phone PhoneNumber) (bool, error)
}

// CatalogAdmin creates catalog rows idempotently. Each Ensure call returns the
// existing row when one already matches.
type CatalogAdmin interface {
	WithCatalogTx(ctx context.Context, fn func(ctx context.Context, admin CatalogAdmin) error) error
	EnsureMainCategory(ctx context.Context, name CatalogName) (int64, error)
	EnsureSubCategory(ctx context.Context, mainCategoryID int64, name CatalogName) (int64, error)
	EnsurePeriod(ctx context.Context, subCategoryID int64, label CatalogName) (int64, error)
	// EnsureOffer reports whether a new offer row was created.
	EnsureOffer(ctx context.Context, periodID int64, quantity Quantity, price AmountCents) (OfferID, bool, error)
}
