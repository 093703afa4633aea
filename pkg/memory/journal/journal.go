// Package journal persists memory-layer records so the stores survive restarts.
//
// Stores write through the journal while holding their own lock, so the
// persisted order of writes for a key matches the in-memory order. Upserted
// records (Put) are replayed in first-insertion order; appended entries
// (Append) are replayed in append order.
package journal

import (
	"context"
	"encoding/json"
	"fmt"
)

// Kind names a family of records.
type Kind string

const (
	KindProposal      Kind = "proposal"
	KindSentiment     Kind = "sentiment"
	KindPattern       Kind = "preference_pattern"
	KindCategoryRate  Kind = "category_rate"
	KindVotingHistory Kind = "voting_history"
	KindOutcome       Kind = "outcome"
	KindAccuracy      Kind = "prediction_accuracy"
)

// Journal is the write-through persistence interface used by the memory stores.
type Journal interface {
	// Put upserts the record stored under (kind, key).
	Put(ctx context.Context, kind Kind, key string, v interface{}) error

	// Append adds an entry to the append-only log of kind.
	Append(ctx context.Context, kind Kind, key string, v interface{}) error

	// Load calls fn for every record of kind in first-insertion order.
	Load(ctx context.Context, kind Kind, fn func(key string, payload []byte) error) error

	// Replay calls fn for every appended entry of kind in append order.
	Replay(ctx context.Context, kind Kind, fn func(key string, payload []byte) error) error

	Close() error
}

// Discard is a Journal that keeps nothing. Stores use it when no durable
// storage is configured.
var Discard Journal = discard{}

type discard struct{}

func (discard) Put(context.Context, Kind, string, interface{}) error { return nil }
func (discard) Append(context.Context, Kind, string, interface{}) error { return nil }
func (discard) Load(context.Context, Kind, func(string, []byte) error) error {
	return nil
}
func (discard) Replay(context.Context, Kind, func(string, []byte) error) error {
	return nil
}
func (discard) Close() error { return nil }

// Decode unmarshals a payload produced by Put or Append into v.
func Decode(payload []byte, v interface{}) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("journal: decode: %w", err)
	}
	return nil
}

func encode(v interface{}) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("journal: encode: %w", err)
	}
	return b, nil
}
