// Package ledger owns custody balances for the native asset and tracked
// tokens, per account. Deposits pull funds in through the external bank;
// withdrawals debit first and release custody after, so a reentrant call
// observes already-decremented balances.
package ledger

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/minseok-dev/swapdesk/pkg/events"
	"github.com/minseok-dev/swapdesk/pkg/exchange/asset"
)

var (
	// ErrInsufficientFunds means a withdraw or debit exceeds the custody balance.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrBalanceOverflow means a credit would exceed 256 bits.
	ErrBalanceOverflow = errors.New("balance overflow")
)

// InsufficientFundsError reports which balance entry fell short.
// Unwraps to ErrInsufficientFunds.
type InsufficientFundsError struct {
	Asset   asset.ID
	Account common.Address
	Need    *uint256.Int
	Have    *uint256.Int
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: account %s holds %s of %s, need %s",
		e.Account.Hex(), e.Have.Dec(), e.Asset.Hex(), e.Need.Dec())
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }

// Transferer is the external asset transfer facility. Transfer moves funds
// between wallets; TransferFrom pulls from a wallet on the spender's behalf
// and requires prior allowance.
type Transferer interface {
	Transfer(assetID asset.ID, from, to common.Address, amount *uint256.Int) error
	TransferFrom(assetID asset.ID, spender, from, to common.Address, amount *uint256.Int) error
}

type balanceKeyMem struct {
	Asset   asset.ID
	Account common.Address
}

// Ledger manages custody balances in a thread-safe manner.
// Uses an in-memory map + Pebble persistence for durability.
type Ledger struct {
	mu       sync.Mutex
	balances map[balanceKeyMem]*uint256.Int
	store    *Store
	bank     Transferer
	custody  common.Address // wallet that holds everything in custody
	sink     events.Sink
	log      *zap.SugaredLogger
}

// New opens the balance store at dbPath and loads all persisted entries.
// custody is the bank wallet funds are pulled into and released from.
func New(dbPath string, bank Transferer, custody common.Address, sink events.Sink, log *zap.SugaredLogger) (*Ledger, error) {
	store, err := NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create balance store: %w", err)
	}

	if sink == nil {
		sink = events.NopSink{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	l := &Ledger{
		balances: make(map[balanceKeyMem]*uint256.Int),
		store:    store,
		bank:     bank,
		custody:  custody,
		sink:     sink,
		log:      log,
	}

	err = store.LoadBalances(func(assetID asset.ID, account common.Address, amount *uint256.Int) {
		l.balances[balanceKeyMem{assetID, account}] = amount
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return l, nil
}

// Close closes the underlying Pebble database.
func (l *Ledger) Close() error {
	return l.store.Close()
}

// BalanceOf returns the custody balance for (asset, account).
// Zero for unknown pairs; never fails.
func (l *Ledger) BalanceOf(assetID asset.ID, account common.Address) *uint256.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balanceLocked(assetID, account).Clone()
}

// DepositNative pulls amount of the native asset from the account's wallet
// into custody and credits the ledger. The credit happens only if the pull
// succeeds; a failed pull leaves the ledger untouched.
func (l *Ledger) DepositNative(account common.Address, amount *uint256.Int) error {
	if err := requirePositive(amount, "deposit"); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	newBal, overflow := new(uint256.Int).AddOverflow(l.balanceLocked(asset.Native, account), amount)
	if overflow {
		return fmt.Errorf("deposit %s for %s: %w", amount.Dec(), account.Hex(), ErrBalanceOverflow)
	}

	if err := l.bank.Transfer(asset.Native, account, l.custody, amount); err != nil {
		return err
	}

	if err := l.setLocked(asset.Native, account, newBal); err != nil {
		return err
	}

	l.log.Infow("deposit_native", "account", account.Hex(), "amount", amount.Dec(), "balance", newBal.Dec())
	l.sink.Publish(events.New(events.DepositNative{
		Account: account.Hex(),
		Amount:  amount.Dec(),
		Balance: newBal.Dec(),
	}, time.Now()))
	return nil
}

// DepositToken pulls amount of the named token from the account's wallet into
// custody (requires prior allowance for the custody wallet) and credits the
// ledger. Pull failures propagate verbatim from the bank.
func (l *Ledger) DepositToken(account common.Address, assetID asset.ID, amount *uint256.Int) error {
	if err := requirePositive(amount, "deposit"); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	newBal, overflow := new(uint256.Int).AddOverflow(l.balanceLocked(assetID, account), amount)
	if overflow {
		return fmt.Errorf("deposit %s of %s for %s: %w", amount.Dec(), assetID.Hex(), account.Hex(), ErrBalanceOverflow)
	}

	if err := l.bank.TransferFrom(assetID, l.custody, account, l.custody, amount); err != nil {
		return err
	}

	if err := l.setLocked(assetID, account, newBal); err != nil {
		return err
	}

	l.log.Infow("deposit_token", "account", account.Hex(), "asset", assetID.Hex(),
		"amount", amount.Dec(), "balance", newBal.Dec())
	l.sink.Publish(events.New(events.DepositToken{
		Account: account.Hex(),
		Asset:   assetID.Hex(),
		Amount:  amount.Dec(),
		Balance: newBal.Dec(),
	}, time.Now()))
	return nil
}

// WithdrawNative debits the ledger, then releases native custody to the
// account's wallet. The debit lands before the external transfer so a
// reentrant withdrawal cannot double-spend.
func (l *Ledger) WithdrawNative(account common.Address, amount *uint256.Int) error {
	return l.withdraw(asset.Native, account, amount)
}

// WithdrawToken debits the ledger, then releases token custody to the
// account's wallet.
func (l *Ledger) WithdrawToken(account common.Address, assetID asset.ID, amount *uint256.Int) error {
	return l.withdraw(assetID, account, amount)
}

func (l *Ledger) withdraw(assetID asset.ID, account common.Address, amount *uint256.Int) error {
	if err := requirePositive(amount, "withdraw"); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	bal := l.balanceLocked(assetID, account)
	if bal.Lt(amount) {
		return &InsufficientFundsError{Asset: assetID, Account: account, Need: amount.Clone(), Have: bal.Clone()}
	}

	newBal := new(uint256.Int).Sub(bal, amount)
	if err := l.setLocked(assetID, account, newBal); err != nil {
		return err
	}

	if err := l.bank.Transfer(assetID, l.custody, account, amount); err != nil {
		// Release failed: restore the debit so the call has no side effects.
		if rerr := l.setLocked(assetID, account, bal); rerr != nil {
			l.log.Errorw("withdraw_restore_failed", "account", account.Hex(), "asset", assetID.Hex(), "err", rerr)
		}
		return err
	}

	l.log.Infow("withdraw", "account", account.Hex(), "asset", assetID.Hex(),
		"amount", amount.Dec(), "balance", newBal.Dec())
	if asset.IsNative(assetID) {
		l.sink.Publish(events.New(events.WithdrawNative{
			Account: account.Hex(),
			Amount:  amount.Dec(),
			Balance: newBal.Dec(),
		}, time.Now()))
	} else {
		l.sink.Publish(events.New(events.WithdrawToken{
			Account: account.Hex(),
			Asset:   assetID.Hex(),
			Amount:  amount.Dec(),
			Balance: newBal.Dec(),
		}, time.Now()))
	}
	return nil
}

// EntryKind discriminates settlement entries.
type EntryKind int8

const (
	Debit EntryKind = iota
	Credit
)

// Entry is one balance mutation inside a settlement.
type Entry struct {
	Kind    EntryKind
	Asset   asset.ID
	Account common.Address
	Amount  *uint256.Int
}

// Settle applies a sequence of debits and credits atomically: every entry is
// checked against a scratch copy of the touched balances first, and ledger
// state mutates only if all of them pass. Used by order book settlement.
// A failing debit returns *InsufficientFundsError for that entry; entries are
// checked in order, so callers control which shortfall surfaces first.
func (l *Ledger) Settle(entries []Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	scratch := make(map[balanceKeyMem]*uint256.Int, len(entries))
	get := func(k balanceKeyMem) *uint256.Int {
		if v, ok := scratch[k]; ok {
			return v
		}
		v := l.balanceLocked(k.Asset, k.Account).Clone()
		scratch[k] = v
		return v
	}

	for _, e := range entries {
		k := balanceKeyMem{e.Asset, e.Account}
		bal := get(k)
		switch e.Kind {
		case Debit:
			if bal.Lt(e.Amount) {
				return &InsufficientFundsError{Asset: e.Asset, Account: e.Account, Need: e.Amount.Clone(), Have: bal.Clone()}
			}
			scratch[k] = new(uint256.Int).Sub(bal, e.Amount)
		case Credit:
			sum, overflow := new(uint256.Int).AddOverflow(bal, e.Amount)
			if overflow {
				return fmt.Errorf("credit %s of %s to %s: %w",
					e.Amount.Dec(), e.Asset.Hex(), e.Account.Hex(), ErrBalanceOverflow)
			}
			scratch[k] = sum
		default:
			return fmt.Errorf("unknown entry kind: %d", e.Kind)
		}
	}

	// All checks passed: commit scratch to memory and Pebble in one batch.
	batch := l.store.NewBatch()
	defer batch.Close()
	for k, v := range scratch {
		if err := batch.SetBalance(k.Asset, k.Account, v); err != nil {
			return fmt.Errorf("failed to stage balance: %w", err)
		}
	}
	if err := batch.Commit(); err != nil {
		return fmt.Errorf("failed to commit settlement: %w", err)
	}
	for k, v := range scratch {
		l.balances[k] = v
	}
	return nil
}

// CreditBalance adds amount to a custody balance. Settlement-internal; never
// fails except on 256-bit overflow.
func (l *Ledger) CreditBalance(assetID asset.ID, account common.Address, amount *uint256.Int) error {
	return l.Settle([]Entry{{Kind: Credit, Asset: assetID, Account: account, Amount: amount}})
}

// DebitBalance removes amount from a custody balance. Settlement-internal;
// fails with ErrInsufficientFunds if the balance is short.
func (l *Ledger) DebitBalance(assetID asset.ID, account common.Address, amount *uint256.Int) error {
	return l.Settle([]Entry{{Kind: Debit, Asset: assetID, Account: account, Amount: amount}})
}

// balanceLocked returns the stored balance without copying (lock held).
func (l *Ledger) balanceLocked(assetID asset.ID, account common.Address) *uint256.Int {
	if v, ok := l.balances[balanceKeyMem{assetID, account}]; ok {
		return v
	}
	return uint256.NewInt(0)
}

// setLocked writes a balance to memory and Pebble (lock held).
func (l *Ledger) setLocked(assetID asset.ID, account common.Address, amount *uint256.Int) error {
	if err := l.store.SetBalance(assetID, account, amount); err != nil {
		return err
	}
	l.balances[balanceKeyMem{assetID, account}] = amount
	return nil
}

func requirePositive(amount *uint256.Int, op string) error {
	if amount == nil || amount.IsZero() {
		return fmt.Errorf("%s amount must be positive", op)
	}
	return nil
}
