package wallet

import "context"

// Direction marks which side of the ledger a transaction sits on.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// ReferenceKind identifies the event that caused a balance change.
// ReferenceRefund is defined in the taxonomy but has no operation yet.
type ReferenceKind string

const (
	ReferenceRecharge        ReferenceKind = "recharge"
	ReferencePurchase        ReferenceKind = "purchase"
	ReferenceRefund          ReferenceKind = "refund"
	ReferenceAdminAdjustment ReferenceKind = "admin_adjustment"
)

// OrderStatus is the order fulfillment state. Only the external fulfillment
// actor moves an order from pending to completed.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
)

// Precondition guards a ledger apply.
type Precondition int

const (
	PreconditionNone Precondition = iota
	PreconditionSufficientFunds
)

// Account holds the current balance in minor currency units. The balance is
// mutated only through the apply discipline and never goes negative.
type Account struct {
	ID             string
	Balance        int64
	Blocked        bool
	CreatedUnixUTC int64
	UpdatedUnixUTC int64
}

// Transaction is one immutable ledger line. BalanceAfter records the running
// sum so the balance is reconstructable from history alone.
type Transaction struct {
	ID             string
	AccountID      string
	Direction      Direction
	Amount         int64
	BalanceAfter   int64
	ReferenceKind  ReferenceKind
	ReferenceID    string
	CreatedUnixUTC int64
}

// SignedAmount returns the amount with the debit sign applied.
func (transaction Transaction) SignedAmount() int64 {
	if transaction.Direction == DirectionDebit {
		return -transaction.Amount
	}
	return transaction.Amount
}

// RechargeCode is a one-time credit voucher. Only the hash of the normalized
// code is ever stored. Zero UsedAtUnixUTC / ExpiresAtUnixUTC mean unset.
type RechargeCode struct {
	ID               string
	CodeHash         string
	Amount           int64
	Used             bool
	UsedBy           string
	UsedAtUnixUTC    int64
	ExpiresAtUnixUTC int64
	BatchID          string
	CreatedUnixUTC   int64
}

// Product is a catalog item, read-only from the wallet's perspective.
type Product struct {
	ID             string
	Name           string
	Price          int64
	Active         bool
	Featured       bool
	CreatedUnixUTC int64
}

// Order records one purchase. Name and price are snapshotted at purchase
// time so later catalog edits do not rewrite history. RequestID is the
// caller-supplied retry key; TotalAmount always equals the paired debit.
type Order struct {
	ID                 string
	AccountID          string
	ProductID          string
	ProductName        string
	ProductPrice       int64
	Quantity           int
	TotalAmount        int64
	Status             OrderStatus
	TransactionID      string
	RequestID          string
	AdminReply         string
	ReplyReadAtUnixUTC int64
	MetadataJSON       string
	CreatedUnixUTC     int64
	UpdatedUnixUTC     int64
}

// RedeemResult is the outcome of a successful code redemption.
type RedeemResult struct {
	Amount        int64
	NewBalance    int64
	TransactionID string
}

// PurchaseResult is the outcome of a successful purchase.
type PurchaseResult struct {
	OrderID       string
	TransactionID string
	NewBalance    int64
}

// MintedCode pairs a stored code id with the one-time plaintext code.
type MintedCode struct {
	CodeID string
	Code   string
}

// Store is the persistence contract used by Service. Implementations must
// make WithTx a single atomic boundary: every write issued through the
// transactional store commits together or not at all.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error

	GetOrCreateAccount(ctx context.Context, accountID string, nowUnixUTC int64) (Account, error)
	GetAccountForUpdate(ctx context.Context, accountID string) (Account, error)
	UpdateAccountBalance(ctx context.Context, accountID string, newBalance int64, nowUnixUTC int64) error

	InsertTransaction(ctx context.Context, transaction Transaction) error
	FindTransactionByReference(ctx context.Context, accountID string, kind ReferenceKind, referenceID string) (Transaction, bool, error)
	ListTransactions(ctx context.Context, accountID string, limit int, offset int) ([]Transaction, error)

	InsertRechargeCode(ctx context.Context, code RechargeCode) error
	GetRechargeCodeForUpdate(ctx context.Context, codeHash string) (RechargeCode, error)
	ConsumeRechargeCode(ctx context.Context, codeID string, accountID string, usedAtUnixUTC int64) error

	InsertProduct(ctx context.Context, product Product) error
	GetActiveProduct(ctx context.Context, productID string) (Product, error)

	InsertOrder(ctx context.Context, order Order) error
	GetOrder(ctx context.Context, orderID string) (Order, error)
	GetOrderForUpdate(ctx context.Context, orderID string) (Order, error)
	FindOrderByRequest(ctx context.Context, accountID string, requestID string) (Order, bool, error)
	ListOrders(ctx context.Context, accountID string, limit int, offset int) ([]Order, error)
	SetOrderAdminReply(ctx context.Context, orderID string, reply string, nowUnixUTC int64) error
	MarkOrderReplyRead(ctx context.Context, orderID string, readAtUnixUTC int64) (bool, error)
	CompleteOrder(ctx context.Context, orderID string, nowUnixUTC int64) (bool, error)
	CountUnreadReplies(ctx context.Context, accountID string) (int64, error)
}
