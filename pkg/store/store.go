// Package store defines the persistence contract of the relay: kind-class
// aware event storage with idempotent dedupe, replaceable-key conflict
// resolution, backfill queries and TTL garbage collection. Three backends
// implement it: in-memory, SQLite and Badger.
package store

import (
	"bytes"
	"encoding/binary"

	"aether.dev/pkg/encoders/event"
	"aether.dev/pkg/encoders/filter"
	"aether.dev/pkg/encoders/kind"
	"aether.dev/pkg/utils/context"
)

// Status discriminates the outcome of a Put.
type Status int

const (
	// Inserted means the event was stored, or is ephemeral and acceptable
	// to dispatch.
	Inserted Status = iota
	// Duplicate means the event id was seen before, or the event lost a
	// replaceable conflict; nothing was stored.
	Duplicate
	// Replaced means the event displaced the incumbent for its
	// replaceable key.
	Replaced
)

// Result carries the outcome of a Put. OldID is set only for Replaced.
type Result struct {
	Status Status
	OldID  []byte
}

// I is the storage interface the relay core runs against. Implementations
// synchronize internally: Put is linearizable per replaceable key, and
// Query and GC are atomic with respect to Put.
type I interface {

	// Put stores the event per its kind class. Dedupe by event id is
	// idempotent: the first acceptance wins and every later copy reports
	// Duplicate. Ephemeral events report Inserted without being stored.
	Put(c context.T, ev *event.E) (r Result, err error)

	// Get fetches a live event by id, or nil when absent.
	Get(c context.T, id []byte) (ev *event.E, err error)

	// Query returns live events matching the filter, newest first with
	// ties broken by descending id, honoring the filter's limit.
	Query(c context.T, f *filter.F) (evs event.S, err error)

	// Count reports the number of live events.
	Count(c context.T) (n int, err error)

	// GC drops immutable events created before cutoff. Replaceable
	// classes are constant per key and are never collected.
	GC(c context.T, cutoff uint64) (n int, err error)

	// Close releases the backend.
	Close() (err error)
}

// Wins decides a replaceable conflict: the greater created_at wins, ties
// fall to the bytewise greater event id. Identical ids never reach this
// point; dedupe catches them first.
func Wins(incoming, incumbent *event.E) bool {
	if incoming.CreatedAt != incumbent.CreatedAt {
		return incoming.CreatedAt > incumbent.CreatedAt
	}
	return bytes.Compare(incoming.ID, incumbent.ID) > 0
}

// ReplKey derives the replaceable grouping key of an event: pubkey and
// big-endian kind, extended with the d-value for the parameterized class.
// Returns nil for classes that do not replace.
func ReplKey(ev *event.E) (key []byte) {
	switch kind.ClassOf(ev.Kind) {
	case kind.Replaceable:
		key = make([]byte, 0, event.PubkeyLen+2)
		key = append(key, ev.Pubkey...)
		key = binary.BigEndian.AppendUint16(key, ev.Kind)
	case kind.ParameterizedReplaceable:
		d := ev.DValue()
		key = make([]byte, 0, event.PubkeyLen+2+len(d))
		key = append(key, ev.Pubkey...)
		key = binary.BigEndian.AppendUint16(key, ev.Kind)
		key = append(key, d...)
	}
	return
}
