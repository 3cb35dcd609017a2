package wallet

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/mahfaza/walletd/pkg/codehash"
)

// stubStore is an in-memory Store. WithTx serializes transactions behind a
// mutex and restores a snapshot when the function fails, so atomicity and
// isolation behave like a serializable database.
type stubStore struct {
	mu           sync.Mutex
	accounts     map[string]Account
	transactions []Transaction
	codes        map[string]RechargeCode
	products     map[string]Product
	orders       map[string]Order

	insertOrderErr error
}

func newStubStore() *stubStore {
	return &stubStore{
		accounts: map[string]Account{},
		codes:    map[string]RechargeCode{},
		products: map[string]Product{},
		orders:   map[string]Order{},
	}
}

func (store *stubStore) snapshot() *stubStore {
	copied := newStubStore()
	for id, account := range store.accounts {
		copied.accounts[id] = account
	}
	copied.transactions = append([]Transaction(nil), store.transactions...)
	for id, code := range store.codes {
		copied.codes[id] = code
	}
	for id, product := range store.products {
		copied.products[id] = product
	}
	for id, order := range store.orders {
		copied.orders[id] = order
	}
	return copied
}

func (store *stubStore) restore(snap *stubStore) {
	store.accounts = snap.accounts
	store.transactions = snap.transactions
	store.codes = snap.codes
	store.products = snap.products
	store.orders = snap.orders
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	snap := store.snapshot()
	if err := fn(ctx, store); err != nil {
		store.restore(snap)
		return err
	}
	return nil
}

func (store *stubStore) GetOrCreateAccount(_ context.Context, accountID string, nowUnixUTC int64) (Account, error) {
	if account, ok := store.accounts[accountID]; ok {
		return account, nil
	}
	account := Account{ID: accountID, CreatedUnixUTC: nowUnixUTC, UpdatedUnixUTC: nowUnixUTC}
	store.accounts[accountID] = account
	return account, nil
}

func (store *stubStore) GetAccountForUpdate(_ context.Context, accountID string) (Account, error) {
	account, ok := store.accounts[accountID]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	return account, nil
}

func (store *stubStore) UpdateAccountBalance(_ context.Context, accountID string, newBalance int64, nowUnixUTC int64) error {
	account, ok := store.accounts[accountID]
	if !ok {
		return ErrAccountNotFound
	}
	account.Balance = newBalance
	account.UpdatedUnixUTC = nowUnixUTC
	store.accounts[accountID] = account
	return nil
}

func (store *stubStore) InsertTransaction(_ context.Context, transaction Transaction) error {
	for _, existing := range store.transactions {
		if existing.AccountID == transaction.AccountID &&
			existing.ReferenceKind == transaction.ReferenceKind &&
			existing.ReferenceID == transaction.ReferenceID {
			return ErrDuplicateReference
		}
	}
	store.transactions = append(store.transactions, transaction)
	return nil
}

func (store *stubStore) FindTransactionByReference(_ context.Context, accountID string, kind ReferenceKind, referenceID string) (Transaction, bool, error) {
	for _, transaction := range store.transactions {
		if transaction.AccountID == accountID && transaction.ReferenceKind == kind && transaction.ReferenceID == referenceID {
			return transaction, true, nil
		}
	}
	return Transaction{}, false, nil
}

func (store *stubStore) ListTransactions(_ context.Context, accountID string, limit int, offset int) ([]Transaction, error) {
	var matched []Transaction
	for _, transaction := range store.transactions {
		if transaction.AccountID == accountID {
			matched = append(matched, transaction)
		}
	}
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (store *stubStore) InsertRechargeCode(_ context.Context, code RechargeCode) error {
	for _, existing := range store.codes {
		if existing.CodeHash == code.CodeHash {
			return ErrDuplicateReference
		}
	}
	store.codes[code.ID] = code
	return nil
}

func (store *stubStore) GetRechargeCodeForUpdate(_ context.Context, codeHash string) (RechargeCode, error) {
	for _, code := range store.codes {
		if code.CodeHash == codeHash {
			return code, nil
		}
	}
	return RechargeCode{}, ErrCodeNotFound
}

func (store *stubStore) ConsumeRechargeCode(_ context.Context, codeID string, accountID string, usedAtUnixUTC int64) error {
	code, ok := store.codes[codeID]
	if !ok {
		return ErrCodeNotFound
	}
	if code.Used {
		return ErrCodeAlreadyUsed
	}
	code.Used = true
	code.UsedBy = accountID
	code.UsedAtUnixUTC = usedAtUnixUTC
	store.codes[codeID] = code
	return nil
}

func (store *stubStore) InsertProduct(_ context.Context, product Product) error {
	store.products[product.ID] = product
	return nil
}

func (store *stubStore) GetActiveProduct(_ context.Context, productID string) (Product, error) {
	product, ok := store.products[productID]
	if !ok || !product.Active {
		return Product{}, ErrProductNotFound
	}
	return product, nil
}

func (store *stubStore) InsertOrder(_ context.Context, order Order) error {
	if store.insertOrderErr != nil {
		err := store.insertOrderErr
		store.insertOrderErr = nil
		return err
	}
	for _, existing := range store.orders {
		if existing.AccountID == order.AccountID && existing.RequestID == order.RequestID {
			return ErrDuplicateReference
		}
	}
	store.orders[order.ID] = order
	return nil
}

func (store *stubStore) GetOrder(_ context.Context, orderID string) (Order, error) {
	order, ok := store.orders[orderID]
	if !ok {
		return Order{}, ErrOrderNotFound
	}
	return order, nil
}

func (store *stubStore) GetOrderForUpdate(ctx context.Context, orderID string) (Order, error) {
	return store.GetOrder(ctx, orderID)
}

func (store *stubStore) FindOrderByRequest(_ context.Context, accountID string, requestID string) (Order, bool, error) {
	for _, order := range store.orders {
		if order.AccountID == accountID && order.RequestID == requestID {
			return order, true, nil
		}
	}
	return Order{}, false, nil
}

func (store *stubStore) ListOrders(_ context.Context, accountID string, limit int, offset int) ([]Order, error) {
	var matched []Order
	for _, order := range store.orders {
		if order.AccountID == accountID {
			matched = append(matched, order)
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedUnixUTC > matched[j].CreatedUnixUTC })
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && limit < len(matched) {
		matched = matched[:limit]
	}
	return matched, nil
}

func (store *stubStore) SetOrderAdminReply(_ context.Context, orderID string, reply string, nowUnixUTC int64) error {
	order, ok := store.orders[orderID]
	if !ok {
		return ErrOrderNotFound
	}
	order.AdminReply = reply
	order.ReplyReadAtUnixUTC = 0
	order.UpdatedUnixUTC = nowUnixUTC
	store.orders[orderID] = order
	return nil
}

func (store *stubStore) MarkOrderReplyRead(_ context.Context, orderID string, readAtUnixUTC int64) (bool, error) {
	order, ok := store.orders[orderID]
	if !ok {
		return false, ErrOrderNotFound
	}
	if order.AdminReply == "" || order.ReplyReadAtUnixUTC != 0 {
		return false, nil
	}
	order.ReplyReadAtUnixUTC = readAtUnixUTC
	order.UpdatedUnixUTC = readAtUnixUTC
	store.orders[orderID] = order
	return true, nil
}

func (store *stubStore) CompleteOrder(_ context.Context, orderID string, nowUnixUTC int64) (bool, error) {
	order, ok := store.orders[orderID]
	if !ok {
		return false, ErrOrderNotFound
	}
	if order.Status == OrderStatusCompleted {
		return false, nil
	}
	order.Status = OrderStatusCompleted
	order.UpdatedUnixUTC = nowUnixUTC
	store.orders[orderID] = order
	return true, nil
}

func (store *stubStore) CountUnreadReplies(_ context.Context, accountID string) (int64, error) {
	var count int64
	for _, order := range store.orders {
		if order.AccountID == accountID && order.AdminReply != "" && order.ReplyReadAtUnixUTC == 0 {
			count++
		}
	}
	return count, nil
}

// recordingFeed captures published order events.
type recordingFeed struct {
	mu     sync.Mutex
	events []OrderEvent
}

func (feed *recordingFeed) PublishOrderEvent(_ context.Context, event OrderEvent) error {
	feed.mu.Lock()
	defer feed.mu.Unlock()
	feed.events = append(feed.events, event)
	return nil
}

func (feed *recordingFeed) all() []OrderEvent {
	feed.mu.Lock()
	defer feed.mu.Unlock()
	return append([]OrderEvent(nil), feed.events...)
}

// recordingLogger captures operation log entries.
type recordingLogger struct {
	mu      sync.Mutex
	entries []OperationLog
}

func (logger *recordingLogger) LogOperation(_ context.Context, entry OperationLog) {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	logger.entries = append(logger.entries, entry)
}

func (logger *recordingLogger) all() []OperationLog {
	logger.mu.Lock()
	defer logger.mu.Unlock()
	return append([]OperationLog(nil), logger.entries...)
}

func mustNewService(t *testing.T, store Store, options ...ServiceOption) *Service {
	t.Helper()
	service, err := NewService(store, func() int64 { return time.Now().UTC().Unix() }, options...)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func (store *stubStore) seedAccount(t *testing.T, accountID string, balance int64) {
	t.Helper()
	store.accounts[accountID] = Account{ID: accountID, Balance: balance}
}

func (store *stubStore) seedCode(t *testing.T, plaintext string, amount int64, expiresAtUnixUTC int64) RechargeCode {
	t.Helper()
	digest, err := codehash.Hash(plaintext)
	if err != nil {
		t.Fatalf("hash code: %v", err)
	}
	code := RechargeCode{
		ID:               "code-" + digest[:8],
		CodeHash:         digest,
		Amount:           amount,
		ExpiresAtUnixUTC: expiresAtUnixUTC,
	}
	store.codes[code.ID] = code
	return code
}

func (store *stubStore) seedProduct(t *testing.T, productID string, price int64, active bool) Product {
	t.Helper()
	product := Product{ID: productID, Name: "product " + productID, Price: price, Active: active}
	store.products[productID] = product
	return product
}

func (store *stubStore) mustOrder(t *testing.T, orderID string) Order {
	t.Helper()
	order, ok := store.orders[orderID]
	if !ok {
		t.Fatalf("order %s not found", orderID)
	}
	return order
}
