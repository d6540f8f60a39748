// Package book owns the set of swap orders: creation, cancellation, and fill
// settlement against the custody ledger. Each fill settles exactly one order
// in full at the order's fixed rate, charging the buyer a fee in the bought
// asset. Fee percent and fee collector are fixed at construction.
package book

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"go.uber.org/zap"

	"github.com/minseok-dev/swapdesk/pkg/events"
	"github.com/minseok-dev/swapdesk/pkg/exchange/asset"
	"github.com/minseok-dev/swapdesk/pkg/exchange/ledger"
	"github.com/minseok-dev/swapdesk/pkg/util"
)

var (
	// ErrAssetsIdentical means an order offered and demanded the same asset.
	ErrAssetsIdentical = errors.New("sell and buy assets identical")

	// ErrOrderUnknown means the referenced order id was never created.
	ErrOrderUnknown = errors.New("order unknown")

	// ErrNotOwner means a cancel was attempted by someone other than the creator.
	ErrNotOwner = errors.New("caller is not the order owner")

	// ErrOrderNotCancellable means a cancel was attempted on a non-open order.
	ErrOrderNotCancellable = errors.New("order not cancellable")

	// ErrOrderNotFillable means a fill was attempted on a non-open order.
	ErrOrderNotFillable = errors.New("order not fillable")

	// ErrInsufficientFundsForBuyer means the filler's custody balance of the
	// bought asset is below buyAmount plus fee.
	ErrInsufficientFundsForBuyer = errors.New("insufficient funds for buyer")

	// ErrInsufficientFundsForSeller means the creator's custody balance of the
	// offered asset is below sellAmount.
	ErrInsufficientFundsForSeller = errors.New("insufficient funds for seller")
)

// Book manages orders in a thread-safe manner. Order storage is an
// append-only arena keyed by sequential id; no order references another.
type Book struct {
	mu     sync.Mutex
	orders map[uint64]*Order
	nextID uint64

	ledger *ledger.Ledger
	store  *Store

	// Fee configuration, immutable after construction.
	feeAccount common.Address
	feePercent uint64

	clock util.Clock
	sink  events.Sink
	log   *zap.SugaredLogger
}

// New opens the order store at dbPath and loads persisted orders. feeAccount
// receives the settlement fee of feePercent (integer percent) on every fill.
func New(dbPath string, l *ledger.Ledger, feeAccount common.Address, feePercent uint64, clock util.Clock, sink events.Sink, log *zap.SugaredLogger) (*Book, error) {
	store, err := NewStore(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create order store: %w", err)
	}

	if clock == nil {
		clock = util.RealClock{}
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	b := &Book{
		orders:     make(map[uint64]*Order),
		nextID:     1,
		ledger:     l,
		store:      store,
		feeAccount: feeAccount,
		feePercent: feePercent,
		clock:      clock,
		sink:       sink,
		log:        log,
	}

	err = store.LoadOrders(func(o *Order) {
		b.orders[o.ID] = o
		if o.ID >= b.nextID {
			b.nextID = o.ID + 1
		}
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	return b, nil
}

// Close closes the underlying Pebble database.
func (b *Book) Close() error {
	return b.store.Close()
}

// FeeAccount returns the fee collector account.
func (b *Book) FeeAccount() common.Address { return b.feeAccount }

// FeePercent returns the integer fee percent charged to the buyer on fill.
func (b *Book) FeePercent() uint64 { return b.feePercent }

// CreateOrder stores a new open order and returns its id. The creator's
// balance is deliberately not checked here: balances may change between
// creation and fill, so the check is deferred to fill time.
func (b *Book) CreateOrder(account common.Address, sellAsset asset.ID, sellAmount *uint256.Int, buyAsset asset.ID, buyAmount *uint256.Int) (uint64, error) {
	if sellAmount == nil || buyAmount == nil {
		return 0, fmt.Errorf("order amounts must not be nil")
	}
	if sellAsset == buyAsset {
		return 0, fmt.Errorf("asset %s on both sides: %w", sellAsset.Hex(), ErrAssetsIdentical)
	}

	b.mu.Lock()

	o := &Order{
		ID:         b.nextID,
		Timestamp:  b.clock.Now().Unix(),
		Status:     Open,
		Account:    account,
		SellAsset:  sellAsset,
		SellAmount: sellAmount.Clone(),
		BuyAsset:   buyAsset,
		BuyAmount:  buyAmount.Clone(),
	}

	if err := b.store.SaveOrder(o); err != nil {
		b.mu.Unlock()
		return 0, err
	}
	b.orders[o.ID] = o
	b.nextID++
	b.mu.Unlock()

	b.log.Infow("create_order", "order_id", o.ID, "account", account.Hex(),
		"sell_asset", sellAsset.Hex(), "sell_amount", o.SellAmount.Dec(),
		"buy_asset", buyAsset.Hex(), "buy_amount", o.BuyAmount.Dec())
	b.sink.Publish(events.New(events.CreateOrder{OrderFields: orderFields(o)}, time.Now()))
	return o.ID, nil
}

// CancelOrder moves an open order to Cancelled. Owner-only; terminal states
// reject further transitions.
func (b *Book) CancelOrder(caller common.Address, orderID uint64) error {
	b.mu.Lock()

	o, ok := b.orders[orderID]
	if !ok {
		b.mu.Unlock()
		return fmt.Errorf("order %d: %w", orderID, ErrOrderUnknown)
	}
	if caller != o.Account {
		b.mu.Unlock()
		return fmt.Errorf("order %d owned by %s, caller %s: %w", orderID, o.Account.Hex(), caller.Hex(), ErrNotOwner)
	}
	if !o.IsOpen() {
		b.mu.Unlock()
		return fmt.Errorf("order %d is %s: %w", orderID, o.Status, ErrOrderNotCancellable)
	}

	o.Status = Cancelled
	if err := b.store.SaveOrder(o); err != nil {
		o.Status = Open
		b.mu.Unlock()
		return err
	}
	fields := orderFields(o)
	b.mu.Unlock()

	b.log.Infow("cancel_order", "order_id", orderID, "account", caller.Hex())
	b.sink.Publish(events.New(events.CancelOrder{OrderFields: fields}, time.Now()))
	return nil
}

// FillOrder settles an open order in full against the caller, who buys the
// offered asset and pays buyAmount plus fee in the demanded asset. Anyone may
// fill. All balance checks happen before any mutation; a failing check leaves
// ledger and order state untouched.
func (b *Book) FillOrder(caller common.Address, orderID uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return fmt.Errorf("order %d: %w", orderID, ErrOrderUnknown)
	}
	if !o.IsOpen() {
		return fmt.Errorf("order %d is %s: %w", orderID, o.Status, ErrOrderNotFillable)
	}

	// fee = buyAmount * feePercent / 100, truncating. The buyer pays it in
	// the asset they are spending, whichever direction the order runs.
	fee, overflow := new(uint256.Int).MulDivOverflow(o.BuyAmount, uint256.NewInt(b.feePercent), uint256.NewInt(100))
	if overflow {
		return fmt.Errorf("order %d: fee computation overflows: %w", orderID, ledger.ErrBalanceOverflow)
	}
	cost, overflow := new(uint256.Int).AddOverflow(o.BuyAmount, fee)
	if overflow {
		return fmt.Errorf("order %d: buy amount plus fee overflows: %w", orderID, ledger.ErrBalanceOverflow)
	}

	// Buyer's debit is listed first so a buyer shortfall surfaces before a
	// seller shortfall, matching the settlement check order.
	err := b.ledger.Settle([]ledger.Entry{
		{Kind: ledger.Debit, Asset: o.BuyAsset, Account: caller, Amount: cost},
		{Kind: ledger.Credit, Asset: o.BuyAsset, Account: o.Account, Amount: o.BuyAmount},
		{Kind: ledger.Credit, Asset: o.BuyAsset, Account: b.feeAccount, Amount: fee},
		{Kind: ledger.Debit, Asset: o.SellAsset, Account: o.Account, Amount: o.SellAmount},
		{Kind: ledger.Credit, Asset: o.SellAsset, Account: caller, Amount: o.SellAmount},
	})
	if err != nil {
		var short *ledger.InsufficientFundsError
		if errors.As(err, &short) {
			if short.Asset == o.BuyAsset {
				return fmt.Errorf("order %d: buyer %s holds %s of %s, needs %s: %w",
					orderID, caller.Hex(), short.Have.Dec(), o.BuyAsset.Hex(), cost.Dec(), ErrInsufficientFundsForBuyer)
			}
			return fmt.Errorf("order %d: seller %s holds %s of %s, needs %s: %w",
				orderID, o.Account.Hex(), short.Have.Dec(), o.SellAsset.Hex(), o.SellAmount.Dec(), ErrInsufficientFundsForSeller)
		}
		return err
	}

	o.Status = Filled
	if err := b.store.SaveOrder(o); err != nil {
		// Balances already settled; the in-memory transition stands.
		b.log.Errorw("fill_persist_failed", "order_id", orderID, "err", err)
	}

	b.log.Infow("trade", "order_id", orderID,
		"sell_account", o.Account.Hex(), "sell_asset", o.SellAsset.Hex(), "sell_amount", o.SellAmount.Dec(),
		"buy_account", caller.Hex(), "buy_asset", o.BuyAsset.Hex(), "buy_amount", o.BuyAmount.Dec(),
		"fee", fee.Dec())
	// Trade labels come from the order creator's perspective: the "sell" side
	// is what the creator offered and the filler receives.
	b.sink.Publish(events.New(events.Trade{
		OrderID:     orderID,
		SellAccount: o.Account.Hex(),
		SellAsset:   o.SellAsset.Hex(),
		SellAmount:  o.SellAmount.Dec(),
		BuyAccount:  caller.Hex(),
		BuyAsset:    o.BuyAsset.Hex(),
		BuyAmount:   o.BuyAmount.Dec(),
	}, time.Now()))
	return nil
}

// GetOrder returns a copy of the order. Terminal orders remain queryable.
func (b *Book) GetOrder(orderID uint64) (Order, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	o, ok := b.orders[orderID]
	if !ok {
		return Order{}, fmt.Errorf("order %d: %w", orderID, ErrOrderUnknown)
	}
	return o.clone(), nil
}

// ListOrders returns copies of all orders in id sequence.
func (b *Book) ListOrders() []Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Order, 0, len(b.orders))
	for _, o := range b.orders {
		out = append(out, o.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListOpenOrders returns copies of all open orders in id sequence.
func (b *Book) ListOpenOrders() []Order {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]Order, 0)
	for _, o := range b.orders {
		if o.IsOpen() {
			out = append(out, o.clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the total number of orders ever created.
func (b *Book) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.orders)
}

func orderFields(o *Order) events.OrderFields {
	return events.OrderFields{
		OrderID:    o.ID,
		Timestamp:  o.Timestamp,
		Account:    o.Account.Hex(),
		SellAsset:  o.SellAsset.Hex(),
		SellAmount: o.SellAmount.Dec(),
		BuyAsset:   o.BuyAsset.Hex(),
		BuyAmount:  o.BuyAmount.Dec(),
	}
}
