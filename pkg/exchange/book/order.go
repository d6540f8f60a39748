package book

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/minseok-dev/swapdesk/pkg/exchange/asset"
)

// Status represents the lifecycle state of an order.
// Open is initial; Filled and Cancelled are terminal.
type Status int8

const (
	Open Status = iota
	Filled
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Open:
		return "open"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Order is a conditional swap offer against custodied balances: the owner
// offers SellAmount of SellAsset and demands BuyAmount of BuyAsset, settled
// in full at that fixed rate. Amounts are immutable after creation.
type Order struct {
	ID        uint64         `json:"id"` // sequential from 1, never reused
	Timestamp int64          `json:"timestamp"`
	Status    Status         `json:"status"`
	Account   common.Address `json:"account"` // creator and owner

	SellAsset  asset.ID     `json:"sellAsset"`
	SellAmount *uint256.Int `json:"sellAmount"`
	BuyAsset   asset.ID     `json:"buyAsset"`
	BuyAmount  *uint256.Int `json:"buyAmount"`
}

// IsOpen reports whether the order can still be filled or cancelled.
func (o *Order) IsOpen() bool {
	return o.Status == Open
}

// clone returns an independent copy so callers can't mutate book state.
func (o *Order) clone() Order {
	cp := *o
	cp.SellAmount = o.SellAmount.Clone()
	cp.BuyAmount = o.BuyAmount.Clone()
	return cp
}
