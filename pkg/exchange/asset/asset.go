// Package asset defines asset identifiers and amount arithmetic for the
// custody ledger and order book. An asset is either the chain's native
// currency or a fungible token contract, both identified by a 20-byte
// EVM address. Amounts are 256-bit unsigned integers.
package asset

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
)

// ID identifies an asset held in custody.
// The zero address is reserved as the native-asset sentinel, matching the
// on-chain convention of using the burn address for ether.
type ID = common.Address

// Native is the sentinel ID for the chain's base currency.
var Native = common.Address{}

// IsNative reports whether id refers to the native asset.
func IsNative(id ID) bool {
	return id == Native
}

// ParseAmount parses a base-10 amount string into a 256-bit unsigned integer.
// Used by API and config surfaces; internal code passes *uint256.Int directly.
func ParseAmount(s string) (*uint256.Int, error) {
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", s, err)
	}
	return v, nil
}

// FormatAmount renders an amount as a base-10 string for events and API
// responses. Nil is treated as zero.
func FormatAmount(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
