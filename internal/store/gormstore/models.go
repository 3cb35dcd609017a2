package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table.
type Account struct {
	ID        string    `gorm:"type:text;primaryKey"`
	Balance   int64     `gorm:"not null;default:0"`
	Blocked   bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

// WalletTransaction mirrors the wallet_transactions table. The unique
// (account_id, reference_kind, reference_id) index is the idempotency anchor.
type WalletTransaction struct {
	ID            string    `gorm:"type:uuid;primaryKey"`
	AccountID     string    `gorm:"type:text;not null;index:idx_tx_account_created,priority:1;uniqueIndex:uniq_tx_reference,priority:1"`
	Direction     string    `gorm:"not null"`
	Amount        int64     `gorm:"not null"`
	BalanceAfter  int64     `gorm:"not null"`
	ReferenceKind string    `gorm:"not null;uniqueIndex:uniq_tx_reference,priority:2"`
	ReferenceID   string    `gorm:"not null;uniqueIndex:uniq_tx_reference,priority:3"`
	CreatedAt     time.Time `gorm:"not null;index:idx_tx_account_created,priority:2"`
}

func (WalletTransaction) TableName() string { return "wallet_transactions" }

func (transaction *WalletTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.ID == "" {
		transaction.ID = uuid.NewString()
	}
	return nil
}

// RechargeCode mirrors the recharge_codes table. Only the hash of the
// normalized code is stored, never the plaintext.
type RechargeCode struct {
	ID        string     `gorm:"type:uuid;primaryKey"`
	CodeHash  string     `gorm:"not null;uniqueIndex:uniq_recharge_code_hash"`
	Amount    int64      `gorm:"not null"`
	Used      bool       `gorm:"not null;default:false"`
	UsedBy    *string    `gorm:"type:text"`
	UsedAt    *time.Time `gorm:""`
	ExpiresAt *time.Time `gorm:""`
	BatchID   *string    `gorm:"index"`
	CreatedAt time.Time  `gorm:"not null"`
}

func (RechargeCode) TableName() string { return "recharge_codes" }

func (code *RechargeCode) BeforeCreate(tx *gorm.DB) error {
	if code.ID == "" {
		code.ID = uuid.NewString()
	}
	return nil
}

// Product mirrors the products table.
type Product struct {
	ID        string    `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"not null"`
	Price     int64     `gorm:"not null"`
	Active    bool      `gorm:"not null;default:true"`
	Featured  bool      `gorm:"not null;default:false"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

func (Product) TableName() string { return "products" }

func (product *Product) BeforeCreate(tx *gorm.DB) error {
	if product.ID == "" {
		product.ID = uuid.NewString()
	}
	return nil
}

// Order mirrors the orders table. The unique (account_id, request_id) index
// collapses concurrent purchase retries to a single order.
type Order struct {
	ID            string         `gorm:"type:uuid;primaryKey"`
	AccountID     string         `gorm:"type:text;not null;index:idx_orders_account_created,priority:1;uniqueIndex:uniq_orders_request,priority:1"`
	ProductID     string         `gorm:"type:uuid;not null"`
	ProductName   string         `gorm:"not null"`
	ProductPrice  int64          `gorm:"not null"`
	Quantity      int            `gorm:"not null;default:1"`
	TotalAmount   int64          `gorm:"not null"`
	Status        string         `gorm:"not null"`
	TransactionID *string        `gorm:"type:uuid"`
	RequestID     string         `gorm:"not null;uniqueIndex:uniq_orders_request,priority:2"`
	AdminReply    *string        `gorm:""`
	ReplyReadAt   *time.Time     `gorm:""`
	Metadata      datatypes.JSON `gorm:"type:jsonb;not null"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_orders_account_created,priority:2"`
	UpdatedAt     time.Time      `gorm:"not null"`
}

func (Order) TableName() string { return "orders" }

func (order *Order) BeforeCreate(tx *gorm.DB) error {
	if order.ID == "" {
		order.ID = uuid.NewString()
	}
	return nil
}
