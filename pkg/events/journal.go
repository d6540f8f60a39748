package events

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"

	"github.com/cockroachdb/pebble"
)

// Journal persists every published event to Pebble as an append-only record.
// Keys are "evt:{seq}" with a zero-padded 20-digit sequence so lexicographic
// iteration replays events in publish order. Implements Sink.
type Journal struct {
	mu  sync.Mutex
	db  *pebble.DB
	seq uint64 // next sequence number
}

const prefixEvent = "evt:"

// eventKey returns the key for a journal record.
// Format: "evt:{seq}" with seq zero-padded for lexicographic ordering.
func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEvent, seq))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// OpenJournal opens (or creates) an event journal at the given path and
// resumes the sequence counter after the last persisted record.
func OpenJournal(path string) (*Journal, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open event journal at %s: %w", path, err)
	}

	j := &Journal{db: db}

	// Resume seq from the last record, if any.
	prefix := []byte(prefixEvent)
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to scan event journal: %w", err)
	}
	defer iter.Close()

	if iter.Last() && iter.Valid() {
		var last uint64
		if _, err := fmt.Sscanf(string(iter.Key()), prefixEvent+"%d", &last); err == nil {
			j.seq = last + 1
		}
	}

	return j, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Publish appends the event to the journal. Events are facts: a failed write
// is logged but never propagated back into settlement, which has already
// committed by the time the event is published.
func (j *Journal) Publish(e Envelope) {
	data, err := json.Marshal(e)
	if err != nil {
		log.Printf("[journal] marshal error: %v", err)
		return
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.db.Set(eventKey(j.seq), data, pebble.Sync); err != nil {
		log.Printf("[journal] append error: %v", err)
		return
	}
	j.seq++
}

// Len returns the number of records appended so far.
func (j *Journal) Len() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Replay iterates all journal records in publish order, passing the raw JSON
// of each envelope to fn. Iteration stops if fn returns an error.
func (j *Journal) Replay(fn func(raw []byte) error) error {
	prefix := []byte(prefixEvent)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return fmt.Errorf("failed to scan event journal: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		raw := make([]byte, len(iter.Value()))
		copy(raw, iter.Value())
		if err := fn(raw); err != nil {
			return err
		}
	}
	return nil
}

// Recent returns the newest limit records, newest first.
func (j *Journal) Recent(limit int) ([][]byte, error) {
	prefix := []byte(prefixEvent)
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan event journal: %w", err)
	}
	defer iter.Close()

	var out [][]byte
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		raw := make([]byte, len(iter.Value()))
		copy(raw, iter.Value())
		out = append(out, raw)
	}
	return out, nil
}
