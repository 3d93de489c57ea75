// Package memory is the default store backend: everything lives behind one
// mutex, with inverted kind/tag/pubkey indexes narrowing queries before the
// authoritative match. Suitable for tests and single-node relays with modest
// retention.
package memory

import (
	"bytes"
	"sort"
	"sync"

	"aether.dev/pkg/encoders/event"
	"aether.dev/pkg/encoders/filter"
	"aether.dev/pkg/encoders/kind"
	"aether.dev/pkg/store"
	"aether.dev/pkg/utils/context"
)

func tagKey(k, v string) string { return k + "\x00" + v }

// S is the in-memory store.
type S struct {
	mx sync.Mutex

	// live events by id
	events map[string]*event.E

	// every accepted id, including displaced and losing ones
	seen map[string]struct{}

	// replaceable key -> live event id
	keys map[string]string

	// inverted indexes over the live set
	byKind map[uint16]map[string]*event.E
	byTag  map[string]map[string]*event.E
	byPub  map[string]map[string]*event.E
}

var _ store.I = (*S)(nil)

// New creates an empty in-memory store.
func New() (s *S) {
	return &S{
		events: make(map[string]*event.E),
		seen:   make(map[string]struct{}),
		keys:   make(map[string]string),
		byKind: make(map[uint16]map[string]*event.E),
		byTag:  make(map[string]map[string]*event.E),
		byPub:  make(map[string]map[string]*event.E),
	}
}

// link adds a live event to every index it belongs to. Caller holds mx.
func (s *S) link(ev *event.E) {
	id := string(ev.ID)
	s.events[id] = ev
	if s.byKind[ev.Kind] == nil {
		s.byKind[ev.Kind] = make(map[string]*event.E)
	}
	s.byKind[ev.Kind][id] = ev
	pk := string(ev.Pubkey)
	if s.byPub[pk] == nil {
		s.byPub[pk] = make(map[string]*event.E)
	}
	s.byPub[pk][id] = ev
	for _, t := range ev.Tags {
		for _, v := range t.Values {
			key := tagKey(t.Key, v)
			if s.byTag[key] == nil {
				s.byTag[key] = make(map[string]*event.E)
			}
			s.byTag[key][id] = ev
		}
	}
}

// unlink removes a live event from every index. Caller holds mx.
func (s *S) unlink(ev *event.E) {
	id := string(ev.ID)
	delete(s.events, id)
	if m := s.byKind[ev.Kind]; m != nil {
		delete(m, id)
		if len(m) == 0 {
			delete(s.byKind, ev.Kind)
		}
	}
	pk := string(ev.Pubkey)
	if m := s.byPub[pk]; m != nil {
		delete(m, id)
		if len(m) == 0 {
			delete(s.byPub, pk)
		}
	}
	for _, t := range ev.Tags {
		for _, v := range t.Values {
			key := tagKey(t.Key, v)
			if m := s.byTag[key]; m != nil {
				delete(m, id)
				if len(m) == 0 {
					delete(s.byTag, key)
				}
			}
		}
	}
}

// Put implements the kind-class storage semantics under one lock, which
// makes it linearizable per replaceable key.
func (s *S) Put(c context.T, ev *event.E) (r store.Result, err error) {
	if kind.IsEphemeral(ev.Kind) {
		return store.Result{Status: store.Inserted}, nil
	}
	s.mx.Lock()
	defer s.mx.Unlock()
	id := string(ev.ID)
	if _, ok := s.seen[id]; ok {
		return store.Result{Status: store.Duplicate}, nil
	}
	s.seen[id] = struct{}{}
	rk := store.ReplKey(ev)
	if rk == nil {
		s.link(ev)
		return store.Result{Status: store.Inserted}, nil
	}
	key := string(rk)
	oldID, ok := s.keys[key]
	if !ok {
		s.link(ev)
		s.keys[key] = id
		return store.Result{Status: store.Inserted}, nil
	}
	incumbent := s.events[oldID]
	if !store.Wins(ev, incumbent) {
		return store.Result{Status: store.Duplicate}, nil
	}
	s.unlink(incumbent)
	s.link(ev)
	s.keys[key] = id
	return store.Result{Status: store.Replaced, OldID: incumbent.ID}, nil
}

// Get fetches a live event by id.
func (s *S) Get(c context.T, id []byte) (ev *event.E, err error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return s.events[string(id)], nil
}

// candidates narrows the scan to one index when the filter allows: the kind
// index, one tag key's buckets, or the pubkey index for prefixes. Each is a
// superset of the matches; Match stays authoritative. Caller holds mx.
func (s *S) candidates(f *filter.F) (out map[string]*event.E) {
	if f.Kinds != nil {
		out = make(map[string]*event.E)
		for _, k := range f.Kinds {
			for id, ev := range s.byKind[k] {
				out[id] = ev
			}
		}
		return
	}
	if len(f.Tags) > 0 {
		// a match needs a value for every key, so any one key's buckets
		// cover all matches
		keys := make([]string, 0, len(f.Tags))
		for k := range f.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out = make(map[string]*event.E)
		for _, v := range f.Tags[keys[0]] {
			for id, ev := range s.byTag[tagKey(keys[0], v)] {
				out[id] = ev
			}
		}
		return
	}
	if f.PubkeyPrefixes != nil {
		out = make(map[string]*event.E)
		for pk, m := range s.byPub {
			for _, p := range f.PubkeyPrefixes {
				if bytes.HasPrefix([]byte(pk), p) {
					for id, ev := range m {
						out[id] = ev
					}
					break
				}
			}
		}
		return
	}
	return s.events
}

// Query walks the narrowed candidate set, sorts newest first and applies
// the limit.
func (s *S) Query(c context.T, f *filter.F) (evs event.S, err error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	for _, ev := range s.candidates(f) {
		if f.Match(ev) {
			evs = append(evs, ev)
		}
	}
	sort.Sort(evs)
	if f.Limit != nil && uint(len(evs)) > *f.Limit {
		evs = evs[:*f.Limit]
	}
	return
}

// Count reports the live event count.
func (s *S) Count(c context.T) (n int, err error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return len(s.events), nil
}

// GC drops immutable events created before cutoff.
func (s *S) GC(c context.T, cutoff uint64) (n int, err error) {
	s.mx.Lock()
	defer s.mx.Unlock()
	var victims []*event.E
	for _, ev := range s.events {
		if kind.ClassOf(ev.Kind) == kind.Immutable && ev.CreatedAt < cutoff {
			victims = append(victims, ev)
		}
	}
	for _, ev := range victims {
		s.unlink(ev)
		n++
	}
	return
}

// Close is a no-op.
func (s *S) Close() (err error) { return }
