package gormstore

import (
	"context"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mahfaza/walletd/pkg/wallet"
)

const (
	constraintTransactionReference = "uniq_tx_reference"
	constraintOrderRequest         = "uniq_orders_request"
	constraintCodeHash             = "uniq_recharge_code_hash"

	defaultMetadataJSON = "{}"

	pgUniqueViolationCode       = "23505"
	pgSerializationFailureCode  = "40001"
	pgDeadlockDetectedCode      = "40P01"
	sqliteConstraintCode        = 19
	sqliteBusyCode              = 5
	sqliteLockedCode            = 6
	dialectPostgres             = "postgres"
	transactionMaxAttempts      = 3
	transactionBackoffBase      = 25 * time.Millisecond

	errorOperationStore     = "store"
	errorSubjectAccount     = "account"
	errorSubjectTransaction = "transaction"
	errorSubjectCode        = "code"
	errorSubjectProduct     = "product"
	errorSubjectOrder       = "order"
	errorSubjectTx          = "tx"
	errorCodeCreate         = "create"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeList           = "list"
	errorCodeLookup         = "lookup"
	errorCodeCount          = "count"
	errorCodeUpdate         = "update"
	errorCodeTransient      = "transient"
)

// Store implements wallet.Store using GORM over postgres or sqlite.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the schema. Used for sqlite deployments and tests;
// postgres schemas are managed externally.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Account{}, &WalletTransaction{}, &RechargeCode{}, &Product{}, &Order{})
}

// WithTx executes fn within a transaction, retrying with bounded backoff
// when the database reports a transient serialization or busy failure.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	var lastErr error
	for attempt := 0; attempt < transactionMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return wrapStoreError(errorSubjectTx, errorCodeTransient, ctx.Err())
			case <-time.After(transactionBackoffBase << (attempt - 1)):
			}
		}
		lastErr = store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
			return fn(ctx, &Store{db: transaction})
		})
		if !isTransient(lastErr) {
			return lastErr
		}
	}
	return wrapStoreError(errorSubjectTx, errorCodeTransient, wallet.ErrStorage)
}

func (store *Store) GetOrCreateAccount(ctx context.Context, accountID string, nowUnixUTC int64) (wallet.Account, error) {
	now := time.Unix(nowUnixUTC, 0).UTC()
	seed := Account{ID: accountID, CreatedAt: now, UpdatedAt: now}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&seed).Error
	if err != nil {
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	var account Account
	if err := store.db.WithContext(ctx).Where("id = ?", accountID).Take(&account).Error; err != nil {
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return mapAccount(account), nil
}

func (store *Store) GetAccountForUpdate(ctx context.Context, accountID string) (wallet.Account, error) {
	var account Account
	err := store.forUpdate(store.db.WithContext(ctx)).
		Where("id = ?", accountID).
		Take(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, wallet.ErrAccountNotFound)
		}
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return mapAccount(account), nil
}

func (store *Store) UpdateAccountBalance(ctx context.Context, accountID string, newBalance int64, nowUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("id = ?", accountID).
		Updates(map[string]interface{}{
			"balance":    newBalance,
			"updated_at": time.Unix(nowUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, wallet.ErrAccountNotFound)
	}
	return nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction wallet.Transaction) error {
	row := WalletTransaction{
		ID:            transaction.ID,
		AccountID:     transaction.AccountID,
		Direction:     string(transaction.Direction),
		Amount:        transaction.Amount,
		BalanceAfter:  transaction.BalanceAfter,
		ReferenceKind: string(transaction.ReferenceKind),
		ReferenceID:   transaction.ReferenceID,
		CreatedAt:     time.Unix(transaction.CreatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintTransactionReference) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, wallet.ErrDuplicateReference)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) FindTransactionByReference(ctx context.Context, accountID string, kind wallet.ReferenceKind, referenceID string) (wallet.Transaction, bool, error) {
	var row WalletTransaction
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND reference_kind = ? AND reference_id = ?", accountID, string(kind), referenceID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wallet.Transaction{}, false, nil
	}
	if err != nil {
		return wallet.Transaction{}, false, wrapStoreError(errorSubjectTransaction, errorCodeLookup, err)
	}
	return mapTransaction(row), true, nil
}

func (store *Store) ListTransactions(ctx context.Context, accountID string, limit int, offset int) ([]wallet.Transaction, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []WalletTransaction
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]wallet.Transaction, 0, len(rows))
	for _, row := range rows {
		transactions = append(transactions, mapTransaction(row))
	}
	return transactions, nil
}

func (store *Store) InsertRechargeCode(ctx context.Context, code wallet.RechargeCode) error {
	row := RechargeCode{
		ID:        code.ID,
		CodeHash:  code.CodeHash,
		Amount:    code.Amount,
		Used:      code.Used,
		UsedBy:    stringOrNil(code.UsedBy),
		UsedAt:    timeOrNil(code.UsedAtUnixUTC),
		ExpiresAt: timeOrNil(code.ExpiresAtUnixUTC),
		BatchID:   stringOrNil(code.BatchID),
		CreatedAt: time.Unix(code.CreatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintCodeHash) {
		return wrapStoreError(errorSubjectCode, errorCodeDuplicate, wallet.ErrDuplicateReference)
	}
	if err != nil {
		return wrapStoreError(errorSubjectCode, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetRechargeCodeForUpdate(ctx context.Context, codeHash string) (wallet.RechargeCode, error) {
	var row RechargeCode
	err := store.forUpdate(store.db.WithContext(ctx)).
		Where("code_hash = ?", codeHash).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.RechargeCode{}, wrapStoreError(errorSubjectCode, errorCodeGet, wallet.ErrCodeNotFound)
		}
		return wallet.RechargeCode{}, wrapStoreError(errorSubjectCode, errorCodeGet, err)
	}
	return mapRechargeCode(row), nil
}

func (store *Store) ConsumeRechargeCode(ctx context.Context, codeID string, accountID string, usedAtUnixUTC int64) error {
	// The conditional used=false predicate is the mutual-exclusion point for
	// concurrent redemptions of the same code.
	result := store.db.WithContext(ctx).
		Model(&RechargeCode{}).
		Where("id = ? AND used = ?", codeID, false).
		Updates(map[string]interface{}{
			"used":    true,
			"used_by": accountID,
			"used_at": time.Unix(usedAtUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectCode, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectCode, errorCodeUpdate, wallet.ErrCodeAlreadyUsed)
	}
	return nil
}

func (store *Store) InsertProduct(ctx context.Context, product wallet.Product) error {
	now := time.Unix(product.CreatedUnixUTC, 0).UTC()
	row := Product{
		ID:        product.ID,
		Name:      product.Name,
		Price:     product.Price,
		Active:    product.Active,
		Featured:  product.Featured,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return wrapStoreError(errorSubjectProduct, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetActiveProduct(ctx context.Context, productID string) (wallet.Product, error) {
	var row Product
	err := store.db.WithContext(ctx).
		Where("id = ? AND active = ?", productID, true).
		Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.Product{}, wrapStoreError(errorSubjectProduct, errorCodeGet, wallet.ErrProductNotFound)
		}
		return wallet.Product{}, wrapStoreError(errorSubjectProduct, errorCodeGet, err)
	}
	return mapProduct(row), nil
}

func (store *Store) InsertOrder(ctx context.Context, order wallet.Order) error {
	row := Order{
		ID:            order.ID,
		AccountID:     order.AccountID,
		ProductID:     order.ProductID,
		ProductName:   order.ProductName,
		ProductPrice:  order.ProductPrice,
		Quantity:      order.Quantity,
		TotalAmount:   order.TotalAmount,
		Status:        string(order.Status),
		TransactionID: stringOrNil(order.TransactionID),
		RequestID:     order.RequestID,
		AdminReply:    stringOrNil(order.AdminReply),
		ReplyReadAt:   timeOrNil(order.ReplyReadAtUnixUTC),
		Metadata:      datatypesJSON(order.MetadataJSON),
		CreatedAt:     time.Unix(order.CreatedUnixUTC, 0).UTC(),
		UpdatedAt:     time.Unix(order.UpdatedUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueViolation(err, constraintOrderRequest) {
		return wrapStoreError(errorSubjectOrder, errorCodeDuplicate, wallet.ErrDuplicateReference)
	}
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetOrder(ctx context.Context, orderID string) (wallet.Order, error) {
	return store.getOrder(ctx, store.db.WithContext(ctx), orderID)
}

func (store *Store) GetOrderForUpdate(ctx context.Context, orderID string) (wallet.Order, error) {
	return store.getOrder(ctx, store.forUpdate(store.db.WithContext(ctx)), orderID)
}

func (store *Store) getOrder(ctx context.Context, query *gorm.DB, orderID string) (wallet.Order, error) {
	var row Order
	err := query.Where("id = ?", orderID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wallet.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, wallet.ErrOrderNotFound)
		}
		return wallet.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	return mapOrder(row), nil
}

func (store *Store) FindOrderByRequest(ctx context.Context, accountID string, requestID string) (wallet.Order, bool, error) {
	var row Order
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND request_id = ?", accountID, requestID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return wallet.Order{}, false, nil
	}
	if err != nil {
		return wallet.Order{}, false, wrapStoreError(errorSubjectOrder, errorCodeLookup, err)
	}
	return mapOrder(row), true, nil
}

func (store *Store) ListOrders(ctx context.Context, accountID string, limit int, offset int) ([]wallet.Order, error) {
	if limit <= 0 {
		limit = -1
	}
	var rows []Order
	err := store.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeList, err)
	}
	orders := make([]wallet.Order, 0, len(rows))
	for _, row := range rows {
		orders = append(orders, mapOrder(row))
	}
	return orders, nil
}

func (store *Store) SetOrderAdminReply(ctx context.Context, orderID string, reply string, nowUnixUTC int64) error {
	result := store.db.WithContext(ctx).
		Model(&Order{}).
		Where("id = ?", orderID).
		Updates(map[string]interface{}{
			"admin_reply":   reply,
			"reply_read_at": nil,
			"updated_at":    time.Unix(nowUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdate, wallet.ErrOrderNotFound)
	}
	return nil
}

func (store *Store) MarkOrderReplyRead(ctx context.Context, orderID string, readAtUnixUTC int64) (bool, error) {
	result := store.db.WithContext(ctx).
		Model(&Order{}).
		Where("id = ? AND admin_reply IS NOT NULL AND reply_read_at IS NULL", orderID).
		Updates(map[string]interface{}{
			"reply_read_at": time.Unix(readAtUnixUTC, 0).UTC(),
			"updated_at":    time.Unix(readAtUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return false, wrapStoreError(errorSubjectOrder, errorCodeUpdate, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (store *Store) CompleteOrder(ctx context.Context, orderID string, nowUnixUTC int64) (bool, error) {
	result := store.db.WithContext(ctx).
		Model(&Order{}).
		Where("id = ? AND status = ?", orderID, string(wallet.OrderStatusPending)).
		Updates(map[string]interface{}{
			"status":     string(wallet.OrderStatusCompleted),
			"updated_at": time.Unix(nowUnixUTC, 0).UTC(),
		})
	if result.Error != nil {
		return false, wrapStoreError(errorSubjectOrder, errorCodeUpdate, result.Error)
	}
	return result.RowsAffected > 0, nil
}

func (store *Store) CountUnreadReplies(ctx context.Context, accountID string) (int64, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Order{}).
		Where("account_id = ? AND admin_reply IS NOT NULL AND reply_read_at IS NULL", accountID).
		Count(&count).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectOrder, errorCodeCount, err)
	}
	return count, nil
}

// forUpdate adds a row lock on postgres. SQLite runs a single writer, so the
// transaction itself already serializes.
func (store *Store) forUpdate(query *gorm.DB) *gorm.DB {
	if store.db.Dialector.Name() == dialectPostgres {
		return query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return query
}

func mapAccount(row Account) wallet.Account {
	return wallet.Account{
		ID:             row.ID,
		Balance:        row.Balance,
		Blocked:        row.Blocked,
		CreatedUnixUTC: row.CreatedAt.Unix(),
		UpdatedUnixUTC: row.UpdatedAt.Unix(),
	}
}

func mapTransaction(row WalletTransaction) wallet.Transaction {
	return wallet.Transaction{
		ID:             row.ID,
		AccountID:      row.AccountID,
		Direction:      wallet.Direction(row.Direction),
		Amount:         row.Amount,
		BalanceAfter:   row.BalanceAfter,
		ReferenceKind:  wallet.ReferenceKind(row.ReferenceKind),
		ReferenceID:    row.ReferenceID,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}
}

func mapRechargeCode(row RechargeCode) wallet.RechargeCode {
	return wallet.RechargeCode{
		ID:               row.ID,
		CodeHash:         row.CodeHash,
		Amount:           row.Amount,
		Used:             row.Used,
		UsedBy:           stringOrZero(row.UsedBy),
		UsedAtUnixUTC:    timeOrZero(row.UsedAt),
		ExpiresAtUnixUTC: timeOrZero(row.ExpiresAt),
		BatchID:          stringOrZero(row.BatchID),
		CreatedUnixUTC:   row.CreatedAt.Unix(),
	}
}

func mapProduct(row Product) wallet.Product {
	return wallet.Product{
		ID:             row.ID,
		Name:           row.Name,
		Price:          row.Price,
		Active:         row.Active,
		Featured:       row.Featured,
		CreatedUnixUTC: row.CreatedAt.Unix(),
	}
}

func mapOrder(row Order) wallet.Order {
	return wallet.Order{
		ID:                 row.ID,
		AccountID:          row.AccountID,
		ProductID:          row.ProductID,
		ProductName:        row.ProductName,
		ProductPrice:       row.ProductPrice,
		Quantity:           row.Quantity,
		TotalAmount:        row.TotalAmount,
		Status:             wallet.OrderStatus(row.Status),
		TransactionID:      stringOrZero(row.TransactionID),
		RequestID:          row.RequestID,
		AdminReply:         stringOrZero(row.AdminReply),
		ReplyReadAtUnixUTC: timeOrZero(row.ReplyReadAt),
		MetadataJSON:       string(row.Metadata),
		CreatedUnixUTC:     row.CreatedAt.Unix(),
		UpdatedUnixUTC:     row.UpdatedAt.Unix(),
	}
}

func wrapStoreError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}

func stringOrNil(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringOrZero(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func timeOrNil(unixUTC int64) *time.Time {
	if unixUTC == 0 {
		return nil
	}
	value := time.Unix(unixUTC, 0).UTC()
	return &value
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

func isUniqueViolation(err error, constraintName string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintName
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailureCode || pgErr.Code == pgDeadlockDetectedCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		baseCode := sqliteErr.Code() & 0xFF
		return baseCode == sqliteBusyCode || baseCode == sqliteLockedCode
	}
	return false
}
