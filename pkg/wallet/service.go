package wallet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mahfaza/walletd/pkg/codehash"
)

// Service contains the domain logic over a Store. Every balance mutation is
// funneled through apply inside a single store transaction, which owns the
// locking and idempotency discipline.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
	feed   OrderFeed
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// EnsureAccount creates the account on first touch and returns it.
func (service *Service) EnsureAccount(ctx context.Context, accountID string) (Account, error) {
	if err := validateAccountID(accountID); err != nil {
		return Account{}, err
	}
	return service.store.GetOrCreateAccount(ctx, accountID, service.nowFn())
}

// Balance returns the current balance in minor units.
func (service *Service) Balance(ctx context.Context, accountID string) (int64, error) {
	account, err := service.EnsureAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return account.Balance, nil
}

// ListTransactions returns the account's ledger lines, newest first.
func (service *Service) ListTransactions(ctx context.Context, accountID string, limit int, offset int) ([]Transaction, error) {
	if err := validateAccountID(accountID); err != nil {
		return nil, err
	}
	return service.store.ListTransactions(ctx, accountID, limit, offset)
}

// Redeem consumes a one-time recharge code and credits its face value.
// Marking the code used and crediting the balance are one atomic fact: the
// conditional mark-used write doubles as the mutex so concurrent attempts on
// the same code yield exactly one success.
func (service *Service) Redeem(ctx context.Context, accountID string, rawCode string) (RedeemResult, error) {
	var result RedeemResult
	var codeID string
	operationError := func() error {
		if err := validateAccountID(accountID); err != nil {
			return err
		}
		digest, err := codehash.Hash(rawCode)
		if err != nil {
			return WrapError(operationRedeem, "code", "invalid", ErrCodeNotFound)
		}
		return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			if _, err := txStore.GetOrCreateAccount(ctx, accountID, service.nowFn()); err != nil {
				return err
			}
			code, err := txStore.GetRechargeCodeForUpdate(ctx, digest)
			if err != nil {
				return err
			}
			codeID = code.ID
			nowUnixUTC := service.nowFn()
			if code.Used {
				if code.UsedBy == accountID {
					// Retry of an already-applied redemption: replay the
					// original outcome instead of failing.
					if existing, found, lookupErr := txStore.FindTransactionByReference(ctx, accountID, ReferenceRecharge, code.ID); lookupErr == nil && found {
						result = RedeemResult{
							Amount:        code.Amount,
							NewBalance:    existing.BalanceAfter,
							TransactionID: existing.ID,
						}
						return nil
					}
				}
				return ErrCodeAlreadyUsed
			}
			if code.ExpiresAtUnixUTC != 0 && code.ExpiresAtUnixUTC <= nowUnixUTC {
				return ErrCodeExpired
			}
			if err := txStore.ConsumeRechargeCode(ctx, code.ID, accountID, nowUnixUTC); err != nil {
				return err
			}
			transaction, err := service.apply(ctx, txStore, applyInput{
				accountID:    accountID,
				delta:        code.Amount,
				kind:         ReferenceRecharge,
				referenceID:  code.ID,
				precondition: PreconditionNone,
			})
			if err != nil {
				return err
			}
			result = RedeemResult{
				Amount:        code.Amount,
				NewBalance:    transaction.BalanceAfter,
				TransactionID: transaction.ID,
			}
			return nil
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation:     operationRedeem,
		AccountID:     accountID,
		Amount:        result.Amount,
		ReferenceKind: ReferenceRecharge,
		ReferenceID:   codeID,
		Error:         operationError,
	})
	return result, operationError
}

// Purchase debits the product price and creates a pending order, atomically.
// requestID is the caller's retry key: a repeated call with the same key
// debits exactly once and returns the original result. The product price is
// re-read inside the debit transaction so a concurrent price change cannot
// race the debit.
func (service *Service) Purchase(ctx context.Context, accountID string, productID string, requestID string) (PurchaseResult, error) {
	var result PurchaseResult
	var createdOrder *Order

	operationError := func() error {
		if err := validateAccountID(accountID); err != nil {
			return err
		}
		if strings.TrimSpace(productID) == "" {
			return WrapError(operationPurchase, "product", "invalid", ErrProductNotFound)
		}
		if requestID == "" {
			requestID = uuid.NewString()
		}
		run := func(ctx context.Context, txStore Store) error {
			if _, err := txStore.GetOrCreateAccount(ctx, accountID, service.nowFn()); err != nil {
				return err
			}
			if existing, found, err := txStore.FindOrderByRequest(ctx, accountID, requestID); err != nil {
				return err
			} else if found {
				transaction, foundTx, txErr := txStore.FindTransactionByReference(ctx, accountID, ReferencePurchase, existing.ID)
				if txErr != nil {
					return txErr
				}
				if !foundTx {
					return WrapError(operationPurchase, "order", "orphan", ErrStorage)
				}
				result = PurchaseResult{
					OrderID:       existing.ID,
					TransactionID: transaction.ID,
					NewBalance:    transaction.BalanceAfter,
				}
				return nil
			}
			product, err := txStore.GetActiveProduct(ctx, productID)
			if err != nil {
				return err
			}
			nowUnixUTC := service.nowFn()
			order := Order{
				ID:             newID(),
				AccountID:      accountID,
				ProductID:      product.ID,
				ProductName:    product.Name,
				ProductPrice:   product.Price,
				Quantity:       defaultQuantity,
				TotalAmount:    product.Price * defaultQuantity,
				Status:         OrderStatusPending,
				RequestID:      requestID,
				CreatedUnixUTC: nowUnixUTC,
				UpdatedUnixUTC: nowUnixUTC,
			}
			transaction, err := service.apply(ctx, txStore, applyInput{
				accountID:    accountID,
				delta:        -order.TotalAmount,
				kind:         ReferencePurchase,
				referenceID:  order.ID,
				precondition: PreconditionSufficientFunds,
			})
			if err != nil {
				return err
			}
			order.TransactionID = transaction.ID
			if err := txStore.InsertOrder(ctx, order); err != nil {
				return err
			}
			createdOrder = &order
			result = PurchaseResult{
				OrderID:       order.ID,
				TransactionID: transaction.ID,
				NewBalance:    transaction.BalanceAfter,
			}
			return nil
		}
		err := service.store.WithTx(ctx, run)
		if errors.Is(err, ErrDuplicateReference) {
			// Concurrent retry lost the insert race; the whole transaction
			// rolled back, so a second pass replays the winner's result.
			createdOrder = nil
			err = service.store.WithTx(ctx, run)
		}
		return err
	}()

	if operationError == nil && createdOrder != nil {
		service.publishOrderEvent(ctx, OrderEvent{Kind: OrderEventCreated, Order: *createdOrder})
	}
	service.logOperation(ctx, OperationLog{
		Operation:     operationPurchase,
		AccountID:     accountID,
		Amount:        result.NewBalance,
		ReferenceKind: ReferencePurchase,
		ReferenceID:   result.OrderID,
		Error:         operationError,
	})
	return result, operationError
}

// Adjust applies an administrative balance correction. adjustmentID is the
// idempotency reference; negative deltas are overdraft-checked.
func (service *Service) Adjust(ctx context.Context, accountID string, delta int64, adjustmentID string) (Transaction, error) {
	var transaction Transaction
	operationError := func() error {
		if err := validateAccountID(accountID); err != nil {
			return err
		}
		if delta == 0 {
			return WrapError(operationAdjust, "amount", "zero", ErrInvalidAmount)
		}
		if strings.TrimSpace(adjustmentID) == "" {
			return WrapError(operationAdjust, "reference", "empty", ErrInvalidReference)
		}
		precondition := PreconditionNone
		if delta < 0 {
			precondition = PreconditionSufficientFunds
		}
		return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			if _, err := txStore.GetOrCreateAccount(ctx, accountID, service.nowFn()); err != nil {
				return err
			}
			applied, err := service.apply(ctx, txStore, applyInput{
				accountID:    accountID,
				delta:        delta,
				kind:         ReferenceAdminAdjustment,
				referenceID:  adjustmentID,
				precondition: precondition,
			})
			if err != nil {
				return err
			}
			transaction = applied
			return nil
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation:     operationAdjust,
		AccountID:     accountID,
		Amount:        delta,
		ReferenceKind: ReferenceAdminAdjustment,
		ReferenceID:   adjustmentID,
		Error:         operationError,
	})
	return transaction, operationError
}

type applyInput struct {
	accountID    string
	delta        int64
	kind         ReferenceKind
	referenceID  string
	precondition Precondition
}

// apply is the single mutation path for balances: lock the account row,
// short-circuit a duplicate reference, check the precondition, then write
// the new balance and the ledger line together. Callers must invoke it
// inside WithTx.
func (service *Service) apply(ctx context.Context, txStore Store, input applyInput) (Transaction, error) {
	if input.delta == 0 {
		return Transaction{}, WrapError("apply", "amount", "zero", ErrInvalidAmount)
	}
	if input.referenceID == "" {
		return Transaction{}, WrapError("apply", "reference", "empty", ErrInvalidReference)
	}
	account, err := txStore.GetAccountForUpdate(ctx, input.accountID)
	if err != nil {
		return Transaction{}, err
	}
	if account.Blocked {
		return Transaction{}, ErrAccountBlocked
	}
	if existing, found, err := txStore.FindTransactionByReference(ctx, input.accountID, input.kind, input.referenceID); err != nil {
		return Transaction{}, err
	} else if found {
		return existing, nil
	}
	newBalance := account.Balance + input.delta
	if newBalance < 0 {
		// The account invariant holds regardless of the precondition; the
		// precondition only selects the expected-failure reporting path.
		return Transaction{}, ErrInsufficientFunds
	}
	direction := DirectionCredit
	amount := input.delta
	if input.delta < 0 {
		direction = DirectionDebit
		amount = -input.delta
	}
	transaction := Transaction{
		ID:             newID(),
		AccountID:      input.accountID,
		Direction:      direction,
		Amount:         amount,
		BalanceAfter:   newBalance,
		ReferenceKind:  input.kind,
		ReferenceID:    input.referenceID,
		CreatedUnixUTC: service.nowFn(),
	}
	if err := txStore.InsertTransaction(ctx, transaction); err != nil {
		if errors.Is(err, ErrDuplicateReference) {
			// Lost a race with an identical retry that already committed.
			if existing, found, lookupErr := txStore.FindTransactionByReference(ctx, input.accountID, input.kind, input.referenceID); lookupErr == nil && found {
				return existing, nil
			}
		}
		return Transaction{}, err
	}
	if err := txStore.UpdateAccountBalance(ctx, input.accountID, newBalance, service.nowFn()); err != nil {
		return Transaction{}, err
	}
	return transaction, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

// newID returns a UUIDv7. The millisecond timestamp prefix keeps the id desc
// tiebreaker aligned with insertion order when second-granularity created_at
// values collide.
func newID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func validateAccountID(accountID string) error {
	if strings.TrimSpace(accountID) == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return nil
}
