package bank

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/minseok-dev/swapdesk/pkg/exchange/asset"
)

var (
	alice   = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob     = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	custody = common.HexToAddress("0x000000000000000000000000000000000E5C0000")
	token   = common.HexToAddress("0x7000000000000000000000000000000000000001")
)

func amt(v uint64) *uint256.Int { return uint256.NewInt(v) }

func TestMintAndBalanceOf(t *testing.T) {
	b := New(nil)

	if err := b.Mint(token, alice, amt(1000)); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if got := b.BalanceOf(token, alice); !got.Eq(amt(1000)) {
		t.Errorf("balance = %s, want 1000", got.Dec())
	}
	if got := b.BalanceOf(token, bob); !got.IsZero() {
		t.Errorf("unknown holder balance = %s, want 0", got.Dec())
	}

	// Minting to the burn address is rejected
	if err := b.Mint(token, common.Address{}, amt(1)); !errors.Is(err, ErrZeroAddress) {
		t.Errorf("expected ErrZeroAddress, got %v", err)
	}
}

func TestTransfer(t *testing.T) {
	b := New(nil)
	b.Mint(asset.Native, alice, amt(100))

	if err := b.Transfer(asset.Native, alice, bob, amt(40)); err != nil {
		t.Fatalf("transfer failed: %v", err)
	}
	if got := b.BalanceOf(asset.Native, alice); !got.Eq(amt(60)) {
		t.Errorf("sender balance = %s, want 60", got.Dec())
	}
	if got := b.BalanceOf(asset.Native, bob); !got.Eq(amt(40)) {
		t.Errorf("recipient balance = %s, want 40", got.Dec())
	}

	err := b.Transfer(asset.Native, alice, bob, amt(61))
	if !errors.Is(err, ErrInsufficientExternalBalance) {
		t.Errorf("expected ErrInsufficientExternalBalance, got %v", err)
	}
	if got := b.BalanceOf(asset.Native, alice); !got.Eq(amt(60)) {
		t.Errorf("failed transfer changed sender balance: %s", got.Dec())
	}
}

func TestTransferFrom(t *testing.T) {
	b := New(nil)
	b.Mint(token, alice, amt(500))

	// No allowance yet
	err := b.TransferFrom(token, custody, alice, custody, amt(100))
	if !errors.Is(err, ErrInsufficientAllowance) {
		t.Errorf("expected ErrInsufficientAllowance, got %v", err)
	}

	if err := b.Approve(token, alice, custody, amt(300)); err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	if got := b.Allowance(token, alice, custody); !got.Eq(amt(300)) {
		t.Errorf("allowance = %s, want 300", got.Dec())
	}

	if err := b.TransferFrom(token, custody, alice, custody, amt(200)); err != nil {
		t.Fatalf("transferFrom failed: %v", err)
	}
	if got := b.BalanceOf(token, alice); !got.Eq(amt(300)) {
		t.Errorf("owner balance = %s, want 300", got.Dec())
	}
	if got := b.BalanceOf(token, custody); !got.Eq(amt(200)) {
		t.Errorf("custody balance = %s, want 200", got.Dec())
	}
	if got := b.Allowance(token, alice, custody); !got.Eq(amt(100)) {
		t.Errorf("allowance after pull = %s, want 100", got.Dec())
	}

	// Remaining allowance is 100, pulling 101 fails
	err = b.TransferFrom(token, custody, alice, custody, amt(101))
	if !errors.Is(err, ErrInsufficientAllowance) {
		t.Errorf("expected ErrInsufficientAllowance, got %v", err)
	}
}

func TestTransferFromInsufficientBalance(t *testing.T) {
	b := New(nil)
	b.Mint(token, alice, amt(50))
	b.Approve(token, alice, custody, amt(100))

	// Allowance covers it, wallet doesn't
	err := b.TransferFrom(token, custody, alice, custody, amt(80))
	if !errors.Is(err, ErrInsufficientExternalBalance) {
		t.Errorf("expected ErrInsufficientExternalBalance, got %v", err)
	}
	if got := b.Allowance(token, alice, custody); !got.Eq(amt(100)) {
		t.Errorf("failed pull consumed allowance: %s", got.Dec())
	}
}
