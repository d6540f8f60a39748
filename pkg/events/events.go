// Package events defines the notification facts emitted by the exchange core
// and the sinks that consume them. Events are append-only: once published they
// are never retracted, and every envelope is timestamped at publish time.
package events

import (
	"time"

	"github.com/google/uuid"
)

// Event type names, as they appear on the wire and in the journal.
const (
	TypeDepositNative  = "DepositNative"
	TypeDepositToken   = "DepositToken"
	TypeWithdrawNative = "WithdrawNative"
	TypeWithdrawToken  = "WithdrawToken"
	TypeCreateOrder    = "CreateOrder"
	TypeCancelOrder    = "CancelOrder"
	TypeTrade          = "Trade"
	TypeTransfer       = "Transfer"
	TypeApproval       = "Approval"
)

// Payload is the typed body of an event.
type Payload interface {
	EventType() string
}

// Envelope wraps a payload with identity and publish time.
type Envelope struct {
	ID        string  `json:"id"`        // UUID, unique per published event
	Type      string  `json:"type"`      // one of the Type* constants
	Timestamp int64   `json:"timestamp"` // Unix seconds at publish
	Data      Payload `json:"data"`
}

// New builds an envelope for a payload, stamping it with a fresh UUID and the
// given publish time.
func New(p Payload, now time.Time) Envelope {
	return Envelope{
		ID:        uuid.NewString(),
		Type:      p.EventType(),
		Timestamp: now.Unix(),
		Data:      p,
	}
}

// Sink consumes published envelopes. Implementations must not block the
// publisher for long: settlement runs on the caller's goroutine.
type Sink interface {
	Publish(e Envelope)
}

// NopSink discards everything. Used by tests and library embedders that don't
// care about notifications.
type NopSink struct{}

func (NopSink) Publish(Envelope) {}

// Multi fans an event out to several sinks in order.
type Multi []Sink

func (m Multi) Publish(e Envelope) {
	for _, s := range m {
		s.Publish(e)
	}
}

// ==============================
// Ledger events
// ==============================

// DepositNative is emitted when native currency enters custody.
// Amounts are base-10 strings (256-bit values don't fit JSON numbers).
type DepositNative struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
	Balance string `json:"balance"` // custody balance after the credit
}

func (DepositNative) EventType() string { return TypeDepositNative }

// DepositToken is emitted when a token deposit is pulled into custody.
type DepositToken struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
	Balance string `json:"balance"`
}

func (DepositToken) EventType() string { return TypeDepositToken }

// WithdrawNative is emitted when native currency leaves custody.
type WithdrawNative struct {
	Account string `json:"account"`
	Amount  string `json:"amount"`
	Balance string `json:"balance"`
}

func (WithdrawNative) EventType() string { return TypeWithdrawNative }

// WithdrawToken is emitted when tokens leave custody.
type WithdrawToken struct {
	Account string `json:"account"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
	Balance string `json:"balance"`
}

func (WithdrawToken) EventType() string { return TypeWithdrawToken }

// ==============================
// Order book events
// ==============================

// OrderFields carries the full order record as created.
type OrderFields struct {
	OrderID    uint64 `json:"orderId"`
	Timestamp  int64  `json:"timestamp"` // order creation time, Unix seconds
	Account    string `json:"account"`
	SellAsset  string `json:"sellAsset"`
	SellAmount string `json:"sellAmount"`
	BuyAsset   string `json:"buyAsset"`
	BuyAmount  string `json:"buyAmount"`
}

// CreateOrder is emitted when a new order is stored with status Open.
type CreateOrder struct {
	OrderFields
}

func (CreateOrder) EventType() string { return TypeCreateOrder }

// CancelOrder is emitted when an open order is cancelled by its owner.
// Carries the order's original fields.
type CancelOrder struct {
	OrderFields
}

func (CancelOrder) EventType() string { return TypeCancelOrder }

// Trade is emitted on a successful fill. Sell-side labels are from the order
// creator's perspective: SellAsset is what the creator offered and what the
// filler receives.
type Trade struct {
	OrderID     uint64 `json:"orderId"`
	SellAccount string `json:"sellAccount"` // order creator
	SellAsset   string `json:"sellAsset"`
	SellAmount  string `json:"sellAmount"`
	BuyAccount  string `json:"buyAccount"` // filler
	BuyAsset    string `json:"buyAsset"`
	BuyAmount   string `json:"buyAmount"`
}

func (Trade) EventType() string { return TypeTrade }

// ==============================
// Token bank events
// ==============================

// Transfer is emitted by the token bank on every wallet-to-wallet move,
// including custody pulls and releases.
type Transfer struct {
	Asset  string `json:"asset"`
	From   string `json:"from"`
	To     string `json:"to"`
	Amount string `json:"amount"`
}

func (Transfer) EventType() string { return TypeTransfer }

// Approval is emitted when an owner grants a spender allowance.
type Approval struct {
	Asset   string `json:"asset"`
	Owner   string `json:"owner"`
	Spender string `json:"spender"`
	Amount  string `json:"amount"`
}

func (Approval) EventType() string { return TypeApproval }
