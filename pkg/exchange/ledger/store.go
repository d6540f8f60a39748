package ledger

import (
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/minseok-dev/swapdesk/pkg/exchange/asset"
)

// Store provides Pebble-based persistence for custody balances.
// Thread-safe: all operations go through the Ledger's mutex.
type Store struct {
	db *pebble.DB
}

// Pebble key schema: "bal:{asset}:{account}" -> 32-byte big-endian amount.
// Asset and account are hex addresses, so keys are fixed-width and prefix
// scans enumerate every balance entry.
const prefixBalance = "bal:"

func balanceKey(assetID asset.ID, account common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, assetID.Hex(), account.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// NewStore opens a Pebble database at the given path.
func NewStore(path string) (*Store, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize: 32 << 20,                  // 32MB memtable
		MaxOpenFiles: 1000,
	}

	db, err := pebble.Open(path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", path, err)
	}

	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SetBalance persists a single balance entry.
func (s *Store) SetBalance(assetID asset.ID, account common.Address, amount *uint256.Int) error {
	buf := amount.Bytes32()
	if err := s.db.Set(balanceKey(assetID, account), buf[:], pebble.Sync); err != nil {
		return fmt.Errorf("failed to save balance: %w", err)
	}
	return nil
}

// LoadBalances iterates every persisted balance entry.
func (s *Store) LoadBalances(fn func(assetID asset.ID, account common.Address, amount *uint256.Int)) error {
	prefix := []byte(prefixBalance)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to scan balances: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		assetID, account, err := parseBalanceKey(iter.Key())
		if err != nil {
			continue // Skip invalid entries
		}
		amount := new(uint256.Int).SetBytes(iter.Value())
		fn(assetID, account, amount)
	}
	return nil
}

// parseBalanceKey is the inverse of balanceKey.
func parseBalanceKey(key []byte) (asset.ID, common.Address, error) {
	// "bal:" + 42-char asset + ":" + 42-char account
	want := len(prefixBalance) + 42 + 1 + 42
	if len(key) != want {
		return asset.ID{}, common.Address{}, fmt.Errorf("invalid balance key length: %d", len(key))
	}
	assetHex := string(key[len(prefixBalance) : len(prefixBalance)+42])
	accountHex := string(key[len(prefixBalance)+43:])
	if !common.IsHexAddress(assetHex) || !common.IsHexAddress(accountHex) {
		return asset.ID{}, common.Address{}, fmt.Errorf("invalid balance key: %s", key)
	}
	return common.HexToAddress(assetHex), common.HexToAddress(accountHex), nil
}

// BatchWrite provides atomic batch writes for settlement.
type BatchWrite struct {
	batch *pebble.Batch
}

// NewBatch creates a new batch writer.
func (s *Store) NewBatch() *BatchWrite {
	return &BatchWrite{batch: s.db.NewBatch()}
}

// SetBalance adds a balance write to the batch.
func (bw *BatchWrite) SetBalance(assetID asset.ID, account common.Address, amount *uint256.Int) error {
	buf := amount.Bytes32()
	return bw.batch.Set(balanceKey(assetID, account), buf[:], nil)
}

// Commit writes the batch to Pebble atomically.
func (bw *BatchWrite) Commit() error {
	return bw.batch.Commit(pebble.Sync)
}

// Close closes the batch without committing.
func (bw *BatchWrite) Close() error {
	return bw.batch.Close()
}
