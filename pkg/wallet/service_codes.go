package wallet

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/mahfaza/walletd/pkg/codehash"
)

// MintCodes creates count recharge codes of the given face value and returns
// the plaintext codes exactly once; only the hashes are persisted.
// expiresAtUnixUTC of zero means the codes never expire.
func (service *Service) MintCodes(ctx context.Context, amount int64, count int, batchID string, expiresAtUnixUTC int64) ([]MintedCode, error) {
	var minted []MintedCode
	operationError := func() error {
		if amount <= 0 {
			return WrapError(operationMintCodes, "amount", "nonpositive", ErrInvalidAmount)
		}
		if count <= 0 {
			return WrapError(operationMintCodes, "count", "nonpositive", ErrInvalidAmount)
		}
		return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			minted = make([]MintedCode, 0, count)
			for produced := 0; produced < count; produced++ {
				code, err := service.mintOne(ctx, txStore, amount, batchID, expiresAtUnixUTC)
				if err != nil {
					return err
				}
				minted = append(minted, code)
			}
			return nil
		})
	}()
	if operationError != nil {
		minted = nil
	}
	service.logOperation(ctx, OperationLog{
		Operation:   operationMintCodes,
		Amount:      amount,
		ReferenceID: batchID,
		Error:       operationError,
	})
	return minted, operationError
}

func (service *Service) mintOne(ctx context.Context, txStore Store, amount int64, batchID string, expiresAtUnixUTC int64) (MintedCode, error) {
	for attempt := 0; attempt < mintMaxAttempts; attempt++ {
		plaintext, err := codehash.Generate()
		if err != nil {
			return MintedCode{}, WrapError(operationMintCodes, "code", "generate", err)
		}
		digest, err := codehash.Hash(plaintext)
		if err != nil {
			return MintedCode{}, WrapError(operationMintCodes, "code", "hash", err)
		}
		record := RechargeCode{
			ID:               uuid.NewString(),
			CodeHash:         digest,
			Amount:           amount,
			BatchID:          batchID,
			ExpiresAtUnixUTC: expiresAtUnixUTC,
			CreatedUnixUTC:   service.nowFn(),
		}
		err = txStore.InsertRechargeCode(ctx, record)
		if errors.Is(err, ErrDuplicateReference) {
			// Hash collision with an existing code; roll a new one.
			continue
		}
		if err != nil {
			return MintedCode{}, err
		}
		return MintedCode{CodeID: record.ID, Code: plaintext}, nil
	}
	return MintedCode{}, WrapError(operationMintCodes, "code", "exhausted", fmt.Errorf("could not mint a unique code in %d attempts", mintMaxAttempts))
}
