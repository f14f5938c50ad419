package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table.
type Account struct {
	PhoneNumber  string           `gorm:"size:20;primaryKey"`
	Name         string           `gorm:"size:100;not null"`
	BalanceCents int64            `gorm:"not null;default:0;check:chk_accounts_balance_non_negative,balance_cents >= 0"`
	CreatedAt    time.Time        `gorm:"not null"`
	UpdatedAt    time.Time        `gorm:"not null"`
	Purchases    []PurchaseRecord `gorm:"foreignKey:PhoneNumber;references:PhoneNumber;constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

func (Account) TableName() string { return "accounts" }

// MainCategory represents the main_categories table.
type MainCategory struct {
	ID   int64  `gorm:"primaryKey;autoIncrement"`
	Name string `gorm:"size:100;not null;uniqueIndex:idx_main_categories_name"`
}

func (MainCategory) TableName() string { return "main_categories" }

// SubCategory represents the sub_categories table.
type SubCategory struct {
	ID             int64        `gorm:"primaryKey;autoIncrement"`
	MainCategoryID int64        `gorm:"not null;uniqueIndex:idx_sub_categories_main_name,priority:1"`
	Name           string       `gorm:"size:100;not null;uniqueIndex:idx_sub_categories_main_name,priority:2"`
	MainCategory   MainCategory `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

func (SubCategory) TableName() string { return "sub_categories" }

// Period represents the periods table.
type Period struct {
	ID            int64       `gorm:"primaryKey;autoIncrement"`
	SubCategoryID int64       `gorm:"not null;uniqueIndex:idx_periods_sub_label,priority:1"`
	Label         string      `gorm:"size:100;not null;uniqueIndex:idx_periods_sub_label,priority:2"`
	SubCategory   SubCategory `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

func (Period) TableName() string { return "periods" }

// Offer represents the offers table. Ascending ID is the canonical option order.
type Offer struct {
	ID         int64     `gorm:"primaryKey;autoIncrement"`
	PeriodID   int64     `gorm:"not null;index:idx_offers_period"`
	Quantity   int64     `gorm:"not null;check:chk_offers_quantity_positive,quantity > 0"`
	PriceCents int64     `gorm:"not null;check:chk_offers_price_non_negative,price_cents >= 0"`
	CreatedAt  time.Time `gorm:"not null"`
	Period     Period    `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

func (Offer) TableName() string { return "offers" }

// PurchaseRecord represents the purchase_records table. Its phone_number
// foreign key is declared on Account.Purchases.
type PurchaseRecord struct {
	ID          string         `gorm:"type:uuid;primaryKey"`
	PhoneNumber string         `gorm:"size:20;not null;index:idx_purchase_records_phone_purchased,priority:1"`
	OfferID     int64          `gorm:"not null;index:idx_purchase_records_offer"`
	Remaining   int64          `gorm:"not null"`
	PurchasedAt time.Time      `gorm:"not null;index:idx_purchase_records_phone_purchased,priority:2"`
	Metadata    datatypes.JSON `gorm:"not null"`
	Offer       Offer          `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT"`
}

func (PurchaseRecord) TableName() string { return "purchase_records" }

func (record *PurchaseRecord) BeforeCreate(tx *gorm.DB) error {
	if record.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return err
		}
		record.ID = id.String()
	}
	return nil
}

// Models lists every table in dependency order.
func Models() []any {
	return []any{
		&Account{},
		&MainCategory{},
		&SubCategory{},
		&Period{},
		&Offer{},
		&PurchaseRecord{},
	}
}
