// Package badgerdb is the embedded KV store backend. Events are msgpack
// records under id keys, with a reverse-chronological index key per event so
// queries iterate in the delivery order (created_at descending, id
// descending) without sorting.
package badgerdb

import (
	"bytes"
	"encoding/binary"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"aether.dev/pkg/encoders/event"
	"aether.dev/pkg/encoders/filter"
	"aether.dev/pkg/encoders/kind"
	"aether.dev/pkg/encoders/tag"
	"aether.dev/pkg/store"
	"aether.dev/pkg/utils/chk"
	"aether.dev/pkg/utils/context"
	"aether.dev/pkg/utils/units"
)

// Key prefixes.
var (
	prfEvent = []byte("evt")
	prfSeen  = []byte("sen")
	prfRepl  = []byte("rpl")
	prfTime  = []byte("tim")
)

// S is the Badger store.
type S struct {
	db *badger.DB

	// one writer at a time keeps Put linearizable per replaceable key
	mx sync.Mutex
}

var _ store.I = (*S)(nil)

// New opens (creating if needed) the database under path.
func New(path string) (s *S, err error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	opts.BlockCacheSize = 256 * units.Mb
	var db *badger.DB
	if db, err = badger.Open(opts); chk.E(err) {
		return
	}
	return &S{db: db}, nil
}

// record is the msgpack body stored under the event key.
type record struct {
	ID        []byte     `msgpack:"i"`
	Pubkey    []byte     `msgpack:"p"`
	CreatedAt uint64     `msgpack:"t"`
	Kind      uint16     `msgpack:"k"`
	Tags      [][]string `msgpack:"g"`
	Content   []byte     `msgpack:"c"`
	Sig       []byte     `msgpack:"s"`
}

func encodeRecord(ev *event.E) (b []byte, err error) {
	rec := &record{
		ID: ev.ID, Pubkey: ev.Pubkey, CreatedAt: ev.CreatedAt,
		Kind: ev.Kind, Content: ev.Content, Sig: ev.Sig,
	}
	for _, t := range ev.Tags {
		arr := make([]string, 0, len(t.Values)+1)
		arr = append(arr, t.Key)
		arr = append(arr, t.Values...)
		rec.Tags = append(rec.Tags, arr)
	}
	b, err = msgpack.Marshal(rec)
	chk.E(err)
	return
}

func decodeRecord(b []byte) (ev *event.E, err error) {
	rec := &record{}
	if err = msgpack.Unmarshal(b, rec); chk.E(err) {
		return
	}
	ev = &event.E{
		ID: rec.ID, Pubkey: rec.Pubkey, CreatedAt: rec.CreatedAt,
		Kind: rec.Kind, Content: rec.Content, Sig: rec.Sig,
	}
	ev.Tags = make(tag.S, 0, len(rec.Tags))
	for _, arr := range rec.Tags {
		if len(arr) == 0 {
			continue
		}
		ev.Tags = append(ev.Tags, tag.New(arr[0], arr[1:]...))
	}
	return
}

func eventKey(id []byte) []byte { return append(append([]byte{}, prfEvent...), id...) }

func seenKey(id []byte) []byte { return append(append([]byte{}, prfSeen...), id...) }

func replKey(rk []byte) []byte { return append(append([]byte{}, prfRepl...), rk...) }

// timeKey orders events chronologically then by id; reverse iteration walks
// the delivery order.
func timeKey(createdAt uint64, id []byte) (k []byte) {
	k = append([]byte{}, prfTime...)
	k = binary.BigEndian.AppendUint64(k, createdAt)
	return append(k, id...)
}

func getEvent(txn *badger.Txn, id []byte) (ev *event.E, err error) {
	var item *badger.Item
	if item, err = txn.Get(eventKey(id)); err != nil {
		if err == badger.ErrKeyNotFound {
			return nil, nil
		}
		return nil, err
	}
	err = item.Value(func(val []byte) (e error) {
		ev, e = decodeRecord(val)
		return
	})
	return
}

func putEvent(txn *badger.Txn, ev *event.E) (err error) {
	var body []byte
	if body, err = encodeRecord(ev); err != nil {
		return
	}
	if err = txn.Set(eventKey(ev.ID), body); chk.E(err) {
		return
	}
	return txn.Set(timeKey(ev.CreatedAt, ev.ID), nil)
}

func dropEvent(txn *badger.Txn, ev *event.E) (err error) {
	if err = txn.Delete(eventKey(ev.ID)); chk.E(err) {
		return
	}
	return txn.Delete(timeKey(ev.CreatedAt, ev.ID))
}

// Put implements the kind-class storage semantics in one transaction.
func (s *S) Put(c context.T, ev *event.E) (r store.Result, err error) {
	if kind.IsEphemeral(ev.Kind) {
		return store.Result{Status: store.Inserted}, nil
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	err = s.db.Update(func(txn *badger.Txn) (e error) {
		if _, e = txn.Get(seenKey(ev.ID)); e == nil {
			r = store.Result{Status: store.Duplicate}
			return nil
		} else if e != badger.ErrKeyNotFound {
			return e
		}
		if e = txn.Set(seenKey(ev.ID), nil); chk.E(e) {
			return
		}
		rk := store.ReplKey(ev)
		if rk != nil {
			var item *badger.Item
			item, e = txn.Get(replKey(rk))
			if e == nil {
				var oldID []byte
				if oldID, e = item.ValueCopy(nil); chk.E(e) {
					return
				}
				var incumbent *event.E
				if incumbent, e = getEvent(txn, oldID); chk.E(e) {
					return
				}
				if incumbent != nil {
					if !store.Wins(ev, incumbent) {
						r = store.Result{Status: store.Duplicate}
						return nil
					}
					if e = dropEvent(txn, incumbent); chk.E(e) {
						return
					}
					if e = putEvent(txn, ev); chk.E(e) {
						return
					}
					if e = txn.Set(replKey(rk), ev.ID); chk.E(e) {
						return
					}
					r = store.Result{
						Status: store.Replaced, OldID: incumbent.ID,
					}
					return nil
				}
			} else if e != badger.ErrKeyNotFound {
				return e
			}
			if e = txn.Set(replKey(rk), ev.ID); chk.E(e) {
				return
			}
		}
		if e = putEvent(txn, ev); chk.E(e) {
			return
		}
		r = store.Result{Status: store.Inserted}
		return nil
	})
	return
}

// Get fetches a live event by id.
func (s *S) Get(c context.T, id []byte) (ev *event.E, err error) {
	err = s.db.View(func(txn *badger.Txn) (e error) {
		ev, e = getEvent(txn, id)
		return
	})
	return
}

// Query walks the time index in reverse, finishing the match in Go and
// stopping when the limit fills.
func (s *S) Query(c context.T, f *filter.F) (evs event.S, err error) {
	err = s.db.View(func(txn *badger.Txn) (e error) {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prfTime
		it := txn.NewIterator(opts)
		defer it.Close()
		seek := append(append([]byte{}, prfTime...), bytes.Repeat(
			[]byte{0xff}, 8+event.IDLen,
		)...)
		for it.Seek(seek); it.ValidForPrefix(prfTime); it.Next() {
			key := it.Item().Key()
			id := key[len(prfTime)+8:]
			var ev *event.E
			if ev, e = getEvent(txn, id); chk.E(e) {
				return
			}
			if ev == nil || !f.Match(ev) {
				continue
			}
			evs = append(evs, ev)
			if f.Limit != nil && uint(len(evs)) >= *f.Limit {
				return nil
			}
		}
		return nil
	})
	return
}

// Count reports the live event count.
func (s *S) Count(c context.T) (n int, err error) {
	err = s.db.View(func(txn *badger.Txn) (e error) {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prfEvent
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prfEvent); it.ValidForPrefix(prfEvent); it.Next() {
			n++
		}
		return nil
	})
	return
}

// GC drops immutable events created before cutoff, walking the time index
// forward from the oldest entry.
func (s *S) GC(c context.T, cutoff uint64) (n int, err error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	var victims event.S
	err = s.db.View(func(txn *badger.Txn) (e error) {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prfTime
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prfTime); it.ValidForPrefix(prfTime); it.Next() {
			key := it.Item().Key()
			createdAt := binary.BigEndian.Uint64(key[len(prfTime):])
			if createdAt >= cutoff {
				break
			}
			id := key[len(prfTime)+8:]
			var ev *event.E
			if ev, e = getEvent(txn, id); chk.E(e) {
				return
			}
			if ev != nil && kind.ClassOf(ev.Kind) == kind.Immutable {
				victims = append(victims, ev)
			}
		}
		return nil
	})
	if err != nil {
		return
	}
	for _, ev := range victims {
		if err = s.db.Update(func(txn *badger.Txn) (e error) {
			return dropEvent(txn, ev)
		}); chk.E(err) {
			return
		}
		n++
	}
	return
}

// Close closes the database.
func (s *S) Close() (err error) { return s.db.Close() }
