package ledger

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/minseok-dev/swapdesk/pkg/exchange/asset"
	"github.com/minseok-dev/swapdesk/pkg/exchange/bank"
)

var (
	alice   = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	bob     = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	custody = common.HexToAddress("0x000000000000000000000000000000000E5C0000")
	token   = common.HexToAddress("0x7000000000000000000000000000000000000001")
)

func amt(v uint64) *uint256.Int { return uint256.NewInt(v) }

// newTestLedger creates a ledger with a temp database and a funded bank:
// alice holds 1000 native and 1000 token (token pre-approved for custody).
func newTestLedger(t *testing.T) (*Ledger, *bank.Bank) {
	t.Helper()

	wallets := bank.New(nil)
	wallets.Mint(asset.Native, alice, amt(1000))
	wallets.Mint(token, alice, amt(1000))
	wallets.Approve(token, alice, custody, amt(1000))

	l, err := New(t.TempDir(), wallets, custody, nil, nil)
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })

	return l, wallets
}

func TestDepositNative(t *testing.T) {
	l, wallets := newTestLedger(t)

	if err := l.DepositNative(alice, amt(300)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if got := l.BalanceOf(asset.Native, alice); !got.Eq(amt(300)) {
		t.Errorf("custody balance = %s, want 300", got.Dec())
	}
	if got := wallets.BalanceOf(asset.Native, alice); !got.Eq(amt(700)) {
		t.Errorf("wallet balance = %s, want 700", got.Dec())
	}
	if got := wallets.BalanceOf(asset.Native, custody); !got.Eq(amt(300)) {
		t.Errorf("custody wallet = %s, want 300", got.Dec())
	}

	// Second deposit adds to the prior balance
	if err := l.DepositNative(alice, amt(200)); err != nil {
		t.Fatalf("second deposit failed: %v", err)
	}
	if got := l.BalanceOf(asset.Native, alice); !got.Eq(amt(500)) {
		t.Errorf("custody balance = %s, want 500", got.Dec())
	}
}

func TestDepositNativeInsufficientWallet(t *testing.T) {
	l, _ := newTestLedger(t)

	err := l.DepositNative(alice, amt(1001))
	if !errors.Is(err, bank.ErrInsufficientExternalBalance) {
		t.Errorf("expected ErrInsufficientExternalBalance, got %v", err)
	}
	if got := l.BalanceOf(asset.Native, alice); !got.IsZero() {
		t.Errorf("failed deposit credited ledger: %s", got.Dec())
	}
}

func TestDepositToken(t *testing.T) {
	l, wallets := newTestLedger(t)

	if err := l.DepositToken(alice, token, amt(400)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if got := l.BalanceOf(token, alice); !got.Eq(amt(400)) {
		t.Errorf("custody balance = %s, want 400", got.Dec())
	}
	if got := wallets.Allowance(token, alice, custody); !got.Eq(amt(600)) {
		t.Errorf("allowance = %s, want 600", got.Dec())
	}
}

func TestDepositTokenErrorsPropagateVerbatim(t *testing.T) {
	l, wallets := newTestLedger(t)

	// bob has no wallet balance and no allowance
	err := l.DepositToken(bob, token, amt(10))
	if !errors.Is(err, bank.ErrInsufficientExternalBalance) {
		t.Errorf("expected ErrInsufficientExternalBalance, got %v", err)
	}

	// Funded wallet but no allowance
	wallets.Mint(token, bob, amt(10))
	err = l.DepositToken(bob, token, amt(10))
	if !errors.Is(err, bank.ErrInsufficientAllowance) {
		t.Errorf("expected ErrInsufficientAllowance, got %v", err)
	}
	if got := l.BalanceOf(token, bob); !got.IsZero() {
		t.Errorf("failed deposit credited ledger: %s", got.Dec())
	}
}

func TestWithdrawNative(t *testing.T) {
	l, wallets := newTestLedger(t)
	l.DepositNative(alice, amt(500))

	if err := l.WithdrawNative(alice, amt(200)); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if got := l.BalanceOf(asset.Native, alice); !got.Eq(amt(300)) {
		t.Errorf("custody balance = %s, want 300", got.Dec())
	}
	if got := wallets.BalanceOf(asset.Native, alice); !got.Eq(amt(700)) {
		t.Errorf("wallet balance = %s, want 700", got.Dec())
	}
}

func TestWithdrawInsufficientFunds(t *testing.T) {
	l, _ := newTestLedger(t)
	l.DepositToken(alice, token, amt(100))

	err := l.WithdrawToken(alice, token, amt(101))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := l.BalanceOf(token, alice); !got.Eq(amt(100)) {
		t.Errorf("failed withdraw changed balance: %s", got.Dec())
	}

	// Shortfall details are attached for diagnosis
	var short *InsufficientFundsError
	if !errors.As(err, &short) {
		t.Fatalf("expected InsufficientFundsError, got %T", err)
	}
	if short.Account != alice || !short.Have.Eq(amt(100)) || !short.Need.Eq(amt(101)) {
		t.Errorf("unexpected shortfall detail: %+v", short)
	}
}

func TestBalanceOfUnknownPair(t *testing.T) {
	l, _ := newTestLedger(t)

	if got := l.BalanceOf(token, bob); !got.IsZero() {
		t.Errorf("unknown pair balance = %s, want 0", got.Dec())
	}
	// A drained balance is indistinguishable from one that never existed
	l.DepositToken(alice, token, amt(5))
	l.WithdrawToken(alice, token, amt(5))
	if got := l.BalanceOf(token, alice); !got.IsZero() {
		t.Errorf("drained balance = %s, want 0", got.Dec())
	}
}

func TestSettleAtomicity(t *testing.T) {
	l, _ := newTestLedger(t)
	l.DepositNative(alice, amt(100))
	l.DepositToken(alice, token, amt(100))

	// Second debit fails: the first must not have been applied
	err := l.Settle([]Entry{
		{Kind: Debit, Asset: asset.Native, Account: alice, Amount: amt(50)},
		{Kind: Credit, Asset: asset.Native, Account: bob, Amount: amt(50)},
		{Kind: Debit, Asset: token, Account: alice, Amount: amt(101)},
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if got := l.BalanceOf(asset.Native, alice); !got.Eq(amt(100)) {
		t.Errorf("aborted settlement debited alice: %s", got.Dec())
	}
	if got := l.BalanceOf(asset.Native, bob); !got.IsZero() {
		t.Errorf("aborted settlement credited bob: %s", got.Dec())
	}
}

func TestSettleAppliesAllEntries(t *testing.T) {
	l, _ := newTestLedger(t)
	l.DepositNative(alice, amt(100))

	err := l.Settle([]Entry{
		{Kind: Debit, Asset: asset.Native, Account: alice, Amount: amt(60)},
		{Kind: Credit, Asset: asset.Native, Account: bob, Amount: amt(60)},
	})
	if err != nil {
		t.Fatalf("settle failed: %v", err)
	}
	if got := l.BalanceOf(asset.Native, alice); !got.Eq(amt(40)) {
		t.Errorf("alice = %s, want 40", got.Dec())
	}
	if got := l.BalanceOf(asset.Native, bob); !got.Eq(amt(60)) {
		t.Errorf("bob = %s, want 60", got.Dec())
	}
}

func TestCreditDebitBalance(t *testing.T) {
	l, _ := newTestLedger(t)

	if err := l.CreditBalance(token, bob, amt(70)); err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if err := l.DebitBalance(token, bob, amt(30)); err != nil {
		t.Fatalf("debit failed: %v", err)
	}
	if got := l.BalanceOf(token, bob); !got.Eq(amt(40)) {
		t.Errorf("balance = %s, want 40", got.Dec())
	}
	if err := l.DebitBalance(token, bob, amt(41)); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("expected ErrInsufficientFunds, got %v", err)
	}
}

func TestBalancesSurviveReopen(t *testing.T) {
	dir := t.TempDir()

	wallets := bank.New(nil)
	wallets.Mint(asset.Native, alice, amt(1000))

	l, err := New(dir, wallets, custody, nil, nil)
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	if err := l.DepositNative(alice, amt(250)); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	reopened, err := New(dir, wallets, custody, nil, nil)
	if err != nil {
		t.Fatalf("failed to reopen ledger: %v", err)
	}
	defer reopened.Close()

	if got := reopened.BalanceOf(asset.Native, alice); !got.Eq(amt(250)) {
		t.Errorf("balance after reopen = %s, want 250", got.Dec())
	}
}
