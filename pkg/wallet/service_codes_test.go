package wallet

import (
	"context"
	"errors"
	"testing"

	"github.com/mahfaza/walletd/pkg/codehash"
)

func TestMintCodesReturnsPlaintextOnce(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	service := mustNewService(t, store)

	minted, err := service.MintCodes(context.Background(), 500, 3, "batch-7", 0)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if len(minted) != 3 {
		t.Fatalf("expected 3 codes, got %d", len(minted))
	}
	seen := map[string]bool{}
	for _, entry := range minted {
		if seen[entry.Code] {
			t.Fatalf("duplicate plaintext code minted")
		}
		seen[entry.Code] = true
		digest, err := codehash.Hash(entry.Code)
		if err != nil {
			t.Fatalf("hash minted code: %v", err)
		}
		stored, ok := store.codes[entry.CodeID]
		if !ok {
			t.Fatalf("minted code %s not stored", entry.CodeID)
		}
		if stored.CodeHash != digest {
			t.Fatalf("stored hash does not match plaintext")
		}
		if stored.Amount != 500 || stored.BatchID != "batch-7" || stored.Used {
			t.Fatalf("unexpected stored code: %+v", stored)
		}
	}
}

func TestMintedCodeRedeemsRoundTrip(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	service := mustNewService(t, store)
	ctx := context.Background()

	minted, err := service.MintCodes(ctx, 750, 1, "", 0)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	result, err := service.Redeem(ctx, "acct-1", minted[0].Code)
	if err != nil {
		t.Fatalf("redeem minted code: %v", err)
	}
	if result.Amount != 750 || result.NewBalance != 750 {
		t.Fatalf("unexpected redeem result: %+v", result)
	}
}

func TestMintCodesValidation(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	service := mustNewService(t, store)
	ctx := context.Background()

	if _, err := service.MintCodes(ctx, 0, 1, "", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero amount: %v", err)
	}
	if _, err := service.MintCodes(ctx, 100, 0, "", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero count: %v", err)
	}
}

func TestCreateProduct(t *testing.T) {
	t.Parallel()
	store := newStubStore()
	service := mustNewService(t, store)
	ctx := context.Background()

	product, err := service.CreateProduct(ctx, "  Gift Box ", 1200, true)
	if err != nil {
		t.Fatalf("create product: %v", err)
	}
	if product.Name != "Gift Box" || !product.Active || !product.Featured {
		t.Fatalf("unexpected product: %+v", product)
	}
	fetched, err := store.GetActiveProduct(ctx, product.ID)
	if err != nil {
		t.Fatalf("get product: %v", err)
	}
	if fetched.Price != 1200 {
		t.Fatalf("unexpected price: %d", fetched.Price)
	}

	if _, err := service.CreateProduct(ctx, " ", 100, false); !errors.Is(err, ErrInvalidProduct) {
		t.Fatalf("blank name: %v", err)
	}
	if _, err := service.CreateProduct(ctx, "Free", 0, false); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("zero price: %v", err)
	}
}
