package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mahfaza/walletd/pkg/wallet"
)

const (
	constraintTransactionReference = "uniq_tx_reference"
	constraintOrderRequest         = "uniq_orders_request"
	constraintCodeHash             = "uniq_recharge_code_hash"
	pgUniqueViolationCode          = "23505"
	pgSerializationFailureCode     = "40001"
	pgDeadlockDetectedCode         = "40P01"
	transactionMaxAttempts         = 3
	transactionBackoffBase         = 25 * time.Millisecond

	errorOperationStore     = "store"
	errorSubjectAccount     = "account"
	errorSubjectTransaction = "transaction"
	errorSubjectCode        = "code"
	errorSubjectProduct     = "product"
	errorSubjectOrder       = "order"
	errorSubjectTx          = "tx"
	errorCodeBegin          = "begin"
	errorCodeCommit         = "commit"
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

const (
	sqlGetOrCreateAccount = `
		insert into accounts(id, balance, blocked, created_at, updated_at)
		values($1, 0, false, to_timestamp($2), to_timestamp($2))
		on conflict (id) do update set id = excluded.id
		returning id, balance, blocked,
			extract(epoch from created_at)::bigint,
			extract(epoch from updated_at)::bigint
	`

	sqlGetAccountForUpdate = `
		select id, balance, blocked,
			extract(epoch from created_at)::bigint,
			extract(epoch from updated_at)::bigint
		from accounts where id = $1
		for update
	`

	sqlUpdateAccountBalance = `
		update accounts set balance = $2, updated_at = to_timestamp($3) where id = $1
	`

	sqlInsertTransaction = `
		insert into wallet_transactions(
			id, account_id, direction, amount, balance_after,
			reference_kind, reference_id, created_at
		)
		values($1, $2, $3, $4, $5, $6, $7, to_timestamp($8))
	`

	sqlFindTransactionByReference = `
		select id, account_id, direction, amount, balance_after,
			reference_kind, reference_id,
			extract(epoch from created_at)::bigint
		from wallet_transactions
		where account_id = $1 and reference_kind = $2 and reference_id = $3
	`

	sqlListTransactions = `
		select id, account_id, direction, amount, balance_after,
			reference_kind, reference_id,
			extract(epoch from created_at)::bigint
		from wallet_transactions
		where account_id = $1
		order by created_at desc, id desc
		limit $2 offset $3
	`

	sqlInsertRechargeCode = `
		insert into recharge_codes(
			id, code_hash, amount, used, used_by, used_at, expires_at, batch_id, created_at
		)
		values($1, $2, $3, false,
			null, null,
			to_timestamp(nullif($4,0)),
			nullif($5,''),
			to_timestamp($6)
		)
	`

	sqlGetRechargeCodeForUpdate = `
		select id, code_hash, amount, used,
			coalesce(used_by::text,''),
			coalesce(extract(epoch from used_at)::bigint,0),
			coalesce(extract(epoch from expires_at)::bigint,0),
			coalesce(batch_id,''),
			extract(epoch from created_at)::bigint
		from recharge_codes
		where code_hash = $1
		for update
	`

	sqlConsumeRechargeCode = `
		update recharge_codes
		set used = true, used_by = $2, used_at = to_timestamp($3)
		where id = $1 and used = false
	`

	sqlInsertProduct = `
		insert into products(id, name, price, active, featured, created_at, updated_at)
		values($1, $2, $3, $4, $5, to_timestamp($6), to_timestamp($6))
	`

	sqlGetActiveProduct = `
		select id, name, price, active, featured,
			extract(epoch from created_at)::bigint
		from products
		where id = $1 and active = true
	`

	sqlInsertOrder = `
		insert into orders(
			id, account_id, product_id, product_name, product_price, quantity,
			total_amount, status, transaction_id, request_id, admin_reply,
			reply_read_at, metadata, created_at, updated_at
		)
		values($1, $2, $3, $4, $5, $6, $7, $8,
			nullif($9,'')::uuid, $10, nullif($11,''),
			to_timestamp(nullif($12,0)),
			coalesce(nullif($13,''),'{}')::jsonb,
			to_timestamp($14), to_timestamp($15)
		)
	`

	sqlSelectOrder = `
		select id, account_id, product_id, product_name, product_price, quantity,
			total_amount, status,
			coalesce(transaction_id::text,''),
			request_id,
			coalesce(admin_reply,''),
			coalesce(extract(epoch from reply_read_at)::bigint,0),
			coalesce(metadata::text,'{}'),
			extract(epoch from created_at)::bigint,
			extract(epoch from updated_at)::bigint
		from orders
	`

	sqlOrderByID          = sqlSelectOrder + ` where id = $1`
	sqlOrderByIDForUpdate = sqlSelectOrder + ` where id = $1 for update`
	sqlOrderByRequest     = sqlSelectOrder + ` where account_id = $1 and request_id = $2`
	sqlListOrders         = sqlSelectOrder + ` where account_id = $1 order by created_at desc, id desc limit $2 offset $3`

	sqlSetOrderAdminReply = `
		update orders
		set admin_reply = $2, reply_read_at = null, updated_at = to_timestamp($3)
		where id = $1
	`

	sqlMarkOrderReplyRead = `
		update orders
		set reply_read_at = to_timestamp($2), updated_at = to_timestamp($2)
		where id = $1 and admin_reply is not null and reply_read_at is null
	`

	sqlCompleteOrder = `
		update orders
		set status = 'completed', updated_at = to_timestamp($2)
		where id = $1 and status = 'pending'
	`

	sqlCountUnreadReplies = `
		select count(*) from orders
		where account_id = $1 and admin_reply is not null and reply_read_at is null
	`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// txBeginner is satisfied by *pgxpool.Pool.
type txBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements wallet.Store using a pgx connection pool. Outside WithTx
// each call runs in autocommit; inside WithTx all calls share one
// transaction.
type Store struct {
	db   querier
	pool txBeginner
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{db: pool, pool: pool}
}

// WithTx executes fn within a transaction, retrying with bounded backoff
// when postgres reports a serialization or deadlock failure. Nested calls
// reuse the active transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	if store.pool == nil {
		return fn(ctx, store)
	}
	var lastErr error
	for attempt := 0; attempt < transactionMaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return wrapStoreError(errorSubjectTx, errorCodeTransient, ctx.Err())
			case <-time.After(transactionBackoffBase << (attempt - 1)):
			}
		}
		lastErr = store.runTx(ctx, fn)
		if !isTransient(lastErr) {
			return lastErr
		}
	}
	return wrapStoreError(errorSubjectTx, errorCodeTransient, wallet.ErrStorage)
}

func (store *Store) runTx(ctx context.Context, fn func(ctx context.Context, txStore wallet.Store) error) error {
	tx, err := store.pool.Begin(ctx)
	if err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeBegin, err)
	}
	transactionStore := &Store{db: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTx, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) GetOrCreateAccount(ctx context.Context, accountID string, nowUnixUTC int64) (wallet.Account, error) {
	var account wallet.Account
	err := store.db.QueryRow(ctx, sqlGetOrCreateAccount, accountID, nowUnixUTC).Scan(
		&account.ID,
		&account.Balance,
		&account.Blocked,
		&account.CreatedUnixUTC,
		&account.UpdatedUnixUTC,
	)
	if err != nil {
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return account, nil
}

func (store *Store) GetAccountForUpdate(ctx context.Context, accountID string) (wallet.Account, error) {
	var account wallet.Account
	err := store.db.QueryRow(ctx, sqlGetAccountForUpdate, accountID).Scan(
		&account.ID,
		&account.Balance,
		&account.Blocked,
		&account.CreatedUnixUTC,
		&account.UpdatedUnixUTC,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, wallet.ErrAccountNotFound)
		}
		return wallet.Account{}, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return account, nil
}

func (store *Store) UpdateAccountBalance(ctx context.Context, accountID string, newBalance int64, nowUnixUTC int64) error {
	tag, err := store.db.Exec(ctx, sqlUpdateAccountBalance, accountID, newBalance, nowUnixUTC)
	if err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeUpdate, wallet.ErrAccountNotFound)
	}
	return nil
}

func (store *Store) InsertTransaction(ctx context.Context, transaction wallet.Transaction) error {
	_, err := store.db.Exec(ctx, sqlInsertTransaction,
		transaction.ID,
		transaction.AccountID,
		string(transaction.Direction),
		transaction.Amount,
		transaction.BalanceAfter,
		string(transaction.ReferenceKind),
		transaction.ReferenceID,
		transaction.CreatedUnixUTC,
	)
	if isUniqueViolation(err, constraintTransactionReference) {
		return wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, wallet.ErrDuplicateReference)
	}
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) FindTransactionByReference(ctx context.Context, accountID string, kind wallet.ReferenceKind, referenceID string) (wallet.Transaction, bool, error) {
	transaction, err := scanTransaction(store.db.QueryRow(ctx, sqlFindTransactionByReference, accountID, string(kind), referenceID))
	if errors.Is(err, pgx.ErrNoRows) {
		return wallet.Transaction{}, false, nil
	}
	if err != nil {
		return wallet.Transaction{}, false, wrapStoreError(errorSubjectTransaction, errorCodeLookup, err)
	}
	return transaction, true, nil
}

func (store *Store) ListTransactions(ctx context.Context, accountID string, limit int, offset int) ([]wallet.Transaction, error) {
	rows, err := store.db.Query(ctx, sqlListTransactions, accountID, limit, offset)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()
	transactions := make([]wallet.Transaction, 0, 32)
	for rows.Next() {
		transaction, err := scanTransaction(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
		}
		transactions = append(transactions, transaction)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return transactions, nil
}

func (store *Store) InsertRechargeCode(ctx context.Context, code wallet.RechargeCode) error {
	_, err := store.db.Exec(ctx, sqlInsertRechargeCode,
		code.ID,
		code.CodeHash,
		code.Amount,
		code.ExpiresAtUnixUTC,
		code.BatchID,
		code.CreatedUnixUTC,
	)
	if isUniqueViolation(err, constraintCodeHash) {
		return wrapStoreError(errorSubjectCode, errorCodeDuplicate, wallet.ErrDuplicateReference)
	}
	if err != nil {
		return wrapStoreError(errorSubjectCode, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetRechargeCodeForUpdate(ctx context.Context, codeHash string) (wallet.RechargeCode, error) {
	var code wallet.RechargeCode
	err := store.db.QueryRow(ctx, sqlGetRechargeCodeForUpdate, codeHash).Scan(
		&code.ID,
		&code.CodeHash,
		&code.Amount,
		&code.Used,
		&code.UsedBy,
		&code.UsedAtUnixUTC,
		&code.ExpiresAtUnixUTC,
		&code.BatchID,
		&code.CreatedUnixUTC,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wallet.RechargeCode{}, wrapStoreError(errorSubjectCode, errorCodeGet, wallet.ErrCodeNotFound)
		}
		return wallet.RechargeCode{}, wrapStoreError(errorSubjectCode, errorCodeGet, err)
	}
	return code, nil
}

func (store *Store) ConsumeRechargeCode(ctx context.Context, codeID string, accountID string, usedAtUnixUTC int64) error {
	tag, err := store.db.Exec(ctx, sqlConsumeRechargeCode, codeID, accountID, usedAtUnixUTC)
	if err != nil {
		return wrapStoreError(errorSubjectCode, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectCode, errorCodeUpdate, wallet.ErrCodeAlreadyUsed)
	}
	return nil
}

func (store *Store) InsertProduct(ctx context.Context, product wallet.Product) error {
	_, err := store.db.Exec(ctx, sqlInsertProduct,
		product.ID,
		product.Name,
		product.Price,
		product.Active,
		product.Featured,
		product.CreatedUnixUTC,
	)
	if err != nil {
		return wrapStoreError(errorSubjectProduct, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) GetActiveProduct(ctx context.Context, productID string) (wallet.Product, error) {
	var product wallet.Product
	err := store.db.QueryRow(ctx, sqlGetActiveProduct, productID).Scan(
		&product.ID,
		&product.Name,
		&product.Price,
		&product.Active,
		&product.Featured,
		&product.CreatedUnixUTC,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return wallet.Product{}, wrapStoreError(errorSubjectProduct, errorCodeGet, wallet.ErrProductNotFound)
		}
		return wallet.Product{}, wrapStoreError(errorSubjectProduct, errorCodeGet, err)
	}
	return product, nil
}

func (store *Store) InsertOrder(ctx context.Context, order wallet.Order) error {
	_, err := store.db.Exec(ctx, sqlInsertOrder,
		order.ID,
		order.AccountID,
		order.ProductID,
		order.ProductName,
		order.ProductPrice,
		order.Quantity,
		order.TotalAmount,
		string(order.Status),
		order.TransactionID,
		order.RequestID,
		order.AdminReply,
		order.ReplyReadAtUnixUTC,
		order.MetadataJSON,
		order.CreatedUnixUTC,
		order.UpdatedUnixUTC,
	)
	if isUniqueViolation(err, constraintOrderRequest) {
		return wrapStoreError(errorSubjectOrder, errorCodeDuplicate, wallet.ErrDuplicateReference)
	}
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeCreate, err)
	}
	return nil
}

func (store *Store) GetOrder(ctx context.Context, orderID string) (wallet.Order, error) {
	order, err := scanOrder(store.db.QueryRow(ctx, sqlOrderByID, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return wallet.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, wallet.ErrOrderNotFound)
	}
	if err != nil {
		return wallet.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	return order, nil
}

func (store *Store) GetOrderForUpdate(ctx context.Context, orderID string) (wallet.Order, error) {
	order, err := scanOrder(store.db.QueryRow(ctx, sqlOrderByIDForUpdate, orderID))
	if errors.Is(err, pgx.ErrNoRows) {
		return wallet.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, wallet.ErrOrderNotFound)
	}
	if err != nil {
		return wallet.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	return order, nil
}

func (store *Store) FindOrderByRequest(ctx context.Context, accountID string, requestID string) (wallet.Order, bool, error) {
	order, err := scanOrder(store.db.QueryRow(ctx, sqlOrderByRequest, accountID, requestID))
	if errors.Is(err, pgx.ErrNoRows) {
		return wallet.Order{}, false, nil
	}
	if err != nil {
		return wallet.Order{}, false, wrapStoreError(errorSubjectOrder, errorCodeLookup, err)
	}
	return order, true, nil
}

func (store *Store) ListOrders(ctx context.Context, accountID string, limit int, offset int) ([]wallet.Order, error) {
	rows, err := store.db.Query(ctx, sqlListOrders, accountID, limit, offset)
	if err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeList, err)
	}
	defer rows.Close()
	orders := make([]wallet.Order, 0, 32)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectOrder, errorCodeList, err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeList, err)
	}
	return orders, nil
}

func (store *Store) SetOrderAdminReply(ctx context.Context, orderID string, reply string, nowUnixUTC int64) error {
	tag, err := store.db.Exec(ctx, sqlSetOrderAdminReply, orderID, reply, nowUnixUTC)
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdate, err)
	}
	if tag.RowsAffected() == 0 {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdate, wallet.ErrOrderNotFound)
	}
	return nil
}

func (store *Store) MarkOrderReplyRead(ctx context.Context, orderID string, readAtUnixUTC int64) (bool, error) {
	tag, err := store.db.Exec(ctx, sqlMarkOrderReplyRead, orderID, readAtUnixUTC)
	if err != nil {
		return false, wrapStoreError(errorSubjectOrder, errorCodeUpdate, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (store *Store) CompleteOrder(ctx context.Context, orderID string, nowUnixUTC int64) (bool, error) {
	tag, err := store.db.Exec(ctx, sqlCompleteOrder, orderID, nowUnixUTC)
	if err != nil {
		return false, wrapStoreError(errorSubjectOrder, errorCodeUpdate, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (store *Store) CountUnreadReplies(ctx context.Context, accountID string) (int64, error) {
	var count int64
	if err := store.db.QueryRow(ctx, sqlCountUnreadReplies, accountID).Scan(&count); err != nil {
		return 0, wrapStoreError(errorSubjectOrder, errorCodeCount, err)
	}
	return count, nil
}

func scanTransaction(row pgx.Row) (wallet.Transaction, error) {
	var transaction wallet.Transaction
	var direction string
	var referenceKind string
	err := row.Scan(
		&transaction.ID,
		&transaction.AccountID,
		&direction,
		&transaction.Amount,
		&transaction.BalanceAfter,
		&referenceKind,
		&transaction.ReferenceID,
		&transaction.CreatedUnixUTC,
	)
	if err != nil {
		return wallet.Transaction{}, err
	}
	transaction.Direction = wallet.Direction(direction)
	transaction.ReferenceKind = wallet.ReferenceKind(referenceKind)
	return transaction, nil
}

func scanOrder(row pgx.Row) (wallet.Order, error) {
	var order wallet.Order
	var status string
	err := row.Scan(
		&order.ID,
		&order.AccountID,
		&order.ProductID,
		&order.ProductName,
		&order.ProductPrice,
		&order.Quantity,
		&order.TotalAmount,
		&status,
		&order.TransactionID,
		&order.RequestID,
		&order.AdminReply,
		&order.ReplyReadAtUnixUTC,
		&order.MetadataJSON,
		&order.CreatedUnixUTC,
		&order.UpdatedUnixUTC,
	)
	if err != nil {
		return wallet.Order{}, err
	}
	order.Status = wallet.OrderStatus(status)
	return order, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return wallet.WrapError(errorOperationStore, subject, code, err)
}

func isUniqueViolation(err error, constraintName string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintName
	}
	return false
}

func isTransient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailureCode || pgErr.Code == pgDeadlockDetectedCode
	}
	return false
}
