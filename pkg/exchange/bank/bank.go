// Package bank models the external asset transfer facility: wallet balances
// and allowances for the native currency and arbitrary fungible tokens,
// outside the exchange's custody. The ledger pulls deposits from it and
// releases withdrawals back into it.
package bank

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/minseok-dev/swapdesk/pkg/events"
	"github.com/minseok-dev/swapdesk/pkg/exchange/asset"
)

var (
	// ErrInsufficientExternalBalance means the sender's wallet holds less
	// than the requested transfer amount.
	ErrInsufficientExternalBalance = errors.New("insufficient external balance")

	// ErrInsufficientAllowance means the spender was approved for less than
	// the requested transfer amount.
	ErrInsufficientAllowance = errors.New("insufficient allowance")

	// ErrZeroAddress guards mints and transfers to the zero (burn) address.
	ErrZeroAddress = errors.New("zero address")

	// ErrAmountOverflow means a credit would exceed 256 bits.
	ErrAmountOverflow = errors.New("amount overflow")
)

type walletKey struct {
	Asset  asset.ID
	Holder common.Address
}

type allowanceKey struct {
	Asset   asset.ID
	Owner   common.Address
	Spender common.Address
}

// Bank holds external wallet state in a thread-safe manner.
type Bank struct {
	mu         sync.Mutex
	balances   map[walletKey]*uint256.Int
	allowances map[allowanceKey]*uint256.Int
	sink       events.Sink
}

// New creates an empty bank. Transfer and Approval facts go to sink.
func New(sink events.Sink) *Bank {
	if sink == nil {
		sink = events.NopSink{}
	}
	return &Bank{
		balances:   make(map[walletKey]*uint256.Int),
		allowances: make(map[allowanceKey]*uint256.Int),
		sink:       sink,
	}
}

// BalanceOf returns the wallet balance for (asset, holder). Zero for unknown
// pairs; never fails.
func (b *Bank) BalanceOf(assetID asset.ID, holder common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance(assetID, holder).Clone()
}

// Allowance returns what spender may pull from owner's wallet of assetID.
func (b *Bank) Allowance(assetID asset.ID, owner, spender common.Address) *uint256.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if a, ok := b.allowances[allowanceKey{assetID, owner, spender}]; ok {
		return a.Clone()
	}
	return uint256.NewInt(0)
}

// Mint credits freshly issued supply to a wallet. Mirrors token construction,
// where the initial supply lands in the deployer's wallet.
func (b *Bank) Mint(assetID asset.ID, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("mint to burn address: %w", ErrZeroAddress)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bal := b.balance(assetID, to)
	sum, overflow := new(uint256.Int).AddOverflow(bal, amount)
	if overflow {
		return fmt.Errorf("mint %s to %s: %w", amount.Dec(), to.Hex(), ErrAmountOverflow)
	}
	b.balances[walletKey{assetID, to}] = sum
	return nil
}

// Approve grants spender the right to pull up to amount from owner's wallet.
// Replaces any prior allowance.
func (b *Bank) Approve(assetID asset.ID, owner, spender common.Address, amount *uint256.Int) error {
	if spender == (common.Address{}) {
		return fmt.Errorf("approve burn address: %w", ErrZeroAddress)
	}

	b.mu.Lock()
	b.allowances[allowanceKey{assetID, owner, spender}] = amount.Clone()
	b.mu.Unlock()

	b.sink.Publish(events.New(events.Approval{
		Asset:   assetID.Hex(),
		Owner:   owner.Hex(),
		Spender: spender.Hex(),
		Amount:  amount.Dec(),
	}, time.Now()))
	return nil
}

// Transfer moves amount of assetID from one wallet to another.
// Fails with ErrInsufficientExternalBalance if from's wallet is short.
func (b *Bank) Transfer(assetID asset.ID, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("transfer to burn address: %w", ErrZeroAddress)
	}

	b.mu.Lock()
	err := b.move(assetID, from, to, amount)
	b.mu.Unlock()
	if err != nil {
		return err
	}

	b.publishTransfer(assetID, from, to, amount)
	return nil
}

// TransferFrom moves amount of assetID from owner's wallet on behalf of
// spender, consuming allowance. Fails with ErrInsufficientExternalBalance or
// ErrInsufficientAllowance.
func (b *Bank) TransferFrom(assetID asset.ID, spender, from, to common.Address, amount *uint256.Int) error {
	if to == (common.Address{}) {
		return fmt.Errorf("transfer to burn address: %w", ErrZeroAddress)
	}

	b.mu.Lock()
	err := func() error {
		if b.balance(assetID, from).Lt(amount) {
			return fmt.Errorf("transfer %s of %s from %s: %w",
				amount.Dec(), assetID.Hex(), from.Hex(), ErrInsufficientExternalBalance)
		}

		k := allowanceKey{assetID, from, spender}
		allowance, ok := b.allowances[k]
		if !ok || allowance.Lt(amount) {
			return fmt.Errorf("spender %s pulling %s of %s from %s: %w",
				spender.Hex(), amount.Dec(), assetID.Hex(), from.Hex(), ErrInsufficientAllowance)
		}

		b.allowances[k] = new(uint256.Int).Sub(allowance, amount)
		return b.move(assetID, from, to, amount)
	}()
	b.mu.Unlock()
	if err != nil {
		return err
	}

	b.publishTransfer(assetID, from, to, amount)
	return nil
}

// balance returns the stored balance without copying (caller holds the lock).
func (b *Bank) balance(assetID asset.ID, holder common.Address) *uint256.Int {
	if v, ok := b.balances[walletKey{assetID, holder}]; ok {
		return v
	}
	return uint256.NewInt(0)
}

// move debits from and credits to; caller holds the lock.
func (b *Bank) move(assetID asset.ID, from, to common.Address, amount *uint256.Int) error {
	fromBal := b.balance(assetID, from)
	if fromBal.Lt(amount) {
		return fmt.Errorf("transfer %s of %s from %s: %w",
			amount.Dec(), assetID.Hex(), from.Hex(), ErrInsufficientExternalBalance)
	}

	toBal := b.balance(assetID, to)
	sum, overflow := new(uint256.Int).AddOverflow(toBal, amount)
	if overflow {
		return fmt.Errorf("credit %s to %s: %w", amount.Dec(), to.Hex(), ErrAmountOverflow)
	}

	b.balances[walletKey{assetID, from}] = new(uint256.Int).Sub(fromBal, amount)
	b.balances[walletKey{assetID, to}] = sum
	return nil
}

func (b *Bank) publishTransfer(assetID asset.ID, from, to common.Address, amount *uint256.Int) {
	b.sink.Publish(events.New(events.Transfer{
		Asset:  assetID.Hex(),
		From:   from.Hex(),
		To:     to.Hex(),
		Amount: amount.Dec(),
	}, time.Now()))
}
