// Package storetest is the conformance suite every store backend must
// pass. Backend packages call Run from their own tests.
package storetest

import (
	"bytes"
	"crypto/ed25519"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aether.dev/pkg/encoders/event"
	"aether.dev/pkg/encoders/filter"
	"aether.dev/pkg/encoders/tag"
	"aether.dev/pkg/store"
	"aether.dev/pkg/utils/context"
)

// Factory opens a fresh store for one test.
type Factory func(t *testing.T) store.I

func signer(seed byte) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, 32))
}

func mk(
	t *testing.T, sk ed25519.PrivateKey, k uint16, createdAt uint64,
	content string, tags ...*tag.T,
) (ev *event.E) {
	t.Helper()
	ev = &event.E{
		CreatedAt: createdAt,
		Kind:      k,
		Tags:      tag.S(tags),
		Content:   []byte(content),
	}
	require.NoError(t, ev.Sign(sk))
	return
}

// Run exercises the storage contract against one backend.
func Run(t *testing.T, open Factory) {
	t.Run("ImmutableInsertAndDuplicate", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		c := context.Bg()
		ev := mk(t, signer(1), 1, 10, "a")
		r, err := s.Put(c, ev)
		require.NoError(t, err)
		assert.Equal(t, store.Inserted, r.Status)
		// resubmission is idempotent
		r, err = s.Put(c, ev)
		require.NoError(t, err)
		assert.Equal(t, store.Duplicate, r.Status)
		got, err := s.Get(c, ev.ID)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, ev.Equal(got))
	})

	t.Run("ReplaceableConflictSameTimestamp", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		c := context.Bg()
		sk := signer(2)
		a := mk(t, sk, 10001, 100, "a")
		b := mk(t, sk, 10001, 100, "b")
		// same (pubkey, kind) and created_at; greater id must win
		winner, loser := a, b
		if bytes.Compare(b.ID, a.ID) > 0 {
			winner, loser = b, a
		}
		r, err := s.Put(c, loser)
		require.NoError(t, err)
		assert.Equal(t, store.Inserted, r.Status)
		r, err = s.Put(c, winner)
		require.NoError(t, err)
		assert.Equal(t, store.Replaced, r.Status)
		assert.Equal(t, loser.ID, r.OldID)
		evs, err := s.Query(c, &filter.F{Kinds: []uint16{10001}})
		require.NoError(t, err)
		require.Len(t, evs, 1)
		assert.True(t, winner.Equal(evs[0]))
		// the displaced event is gone
		got, err := s.Get(c, loser.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("ReplaceableLoserNotStored", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		c := context.Bg()
		sk := signer(3)
		newer := mk(t, sk, 10001, 200, "new")
		older := mk(t, sk, 10001, 100, "old")
		_, err := s.Put(c, newer)
		require.NoError(t, err)
		r, err := s.Put(c, older)
		require.NoError(t, err)
		assert.Equal(t, store.Duplicate, r.Status)
		evs, err := s.Query(c, &filter.F{Kinds: []uint16{10001}})
		require.NoError(t, err)
		require.Len(t, evs, 1)
		assert.True(t, newer.Equal(evs[0]))
	})

	t.Run("ParameterizedReplacementPerDValue", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		c := context.Bg()
		sk := signer(4)
		x1 := mk(t, sk, 30000, 10, "x1", tag.New("d", "x"))
		y1 := mk(t, sk, 30000, 20, "y1", tag.New("d", "y"))
		for _, ev := range []*event.E{x1, y1} {
			r, err := s.Put(c, ev)
			require.NoError(t, err)
			assert.Equal(t, store.Inserted, r.Status)
		}
		evs, err := s.Query(c, &filter.F{Kinds: []uint16{30000}})
		require.NoError(t, err)
		assert.Len(t, evs, 2)
		// a newer "x" replaces x1 but leaves y1 alone
		x2 := mk(t, sk, 30000, 30, "x2", tag.New("d", "x"))
		r, err := s.Put(c, x2)
		require.NoError(t, err)
		assert.Equal(t, store.Replaced, r.Status)
		assert.Equal(t, x1.ID, r.OldID)
		evs, err = s.Query(c, &filter.F{Kinds: []uint16{30000}})
		require.NoError(t, err)
		require.Len(t, evs, 2)
		assert.True(t, x2.Equal(evs[0]))
		assert.True(t, y1.Equal(evs[1]))
	})

	t.Run("EphemeralNeverStored", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		c := context.Bg()
		ev := mk(t, signer(5), 20001, 10, "gone")
		r, err := s.Put(c, ev)
		require.NoError(t, err)
		assert.Equal(t, store.Inserted, r.Status)
		got, err := s.Get(c, ev.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
		n, err := s.Count(c)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("QueryOrderAndLimit", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		c := context.Bg()
		sk := signer(6)
		var all event.S
		for i := 0; i < 5; i++ {
			ev := mk(t, sk, 1, uint64(10+i), string(rune('a'+i)))
			_, err := s.Put(c, ev)
			require.NoError(t, err)
			all = append(all, ev)
		}
		evs, err := s.Query(c, &filter.F{})
		require.NoError(t, err)
		require.Len(t, evs, 5)
		for i := 0; i < 4; i++ {
			assert.True(t, evs[i].CreatedAt > evs[i+1].CreatedAt)
		}
		limit := uint(2)
		evs, err = s.Query(c, &filter.F{Limit: &limit})
		require.NoError(t, err)
		require.Len(t, evs, 2)
		assert.True(t, all[4].Equal(evs[0]))
		assert.True(t, all[3].Equal(evs[1]))
	})

	t.Run("QueryOrderTieBreaksOnID", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		c := context.Bg()
		a := mk(t, signer(7), 1, 50, "a")
		b := mk(t, signer(8), 1, 50, "b")
		_, err := s.Put(c, a)
		require.NoError(t, err)
		_, err = s.Put(c, b)
		require.NoError(t, err)
		evs, err := s.Query(c, &filter.F{})
		require.NoError(t, err)
		require.Len(t, evs, 2)
		assert.True(t, bytes.Compare(evs[0].ID, evs[1].ID) > 0)
	})

	t.Run("QueryByTagAndPrefix", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		c := context.Bg()
		sk := signer(9)
		tagged := mk(t, sk, 1, 10, "tagged", tag.New("c", "vision"))
		plain := mk(t, sk, 1, 20, "plain")
		_, err := s.Put(c, tagged)
		require.NoError(t, err)
		_, err = s.Put(c, plain)
		require.NoError(t, err)
		evs, err := s.Query(c, &filter.F{
			Tags: map[string][]string{"c": {"vision"}},
		})
		require.NoError(t, err)
		require.Len(t, evs, 1)
		assert.True(t, tagged.Equal(evs[0]))
		evs, err = s.Query(c, &filter.F{
			PubkeyPrefixes: [][]byte{tagged.Pubkey[:4]},
		})
		require.NoError(t, err)
		assert.Len(t, evs, 2)
	})

	t.Run("QueryTagConjunctionAcrossKeys", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		c := context.Bg()
		sk := signer(11)
		both := mk(t, sk, 1, 10, "both", tag.New("a", "x"), tag.New("b", "y"))
		onlyA := mk(t, sk, 1, 20, "only a", tag.New("a", "x"))
		for _, ev := range []*event.E{both, onlyA} {
			_, err := s.Put(c, ev)
			require.NoError(t, err)
		}
		evs, err := s.Query(c, &filter.F{
			Tags: map[string][]string{"a": {"x"}, "b": {"y"}},
		})
		require.NoError(t, err)
		require.Len(t, evs, 1)
		assert.True(t, both.Equal(evs[0]))
	})

	t.Run("TagQueryFollowsReplacementAndGC", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		c := context.Bg()
		sk := signer(12)
		v1 := mk(t, sk, 30000, 10, "v1",
			tag.New("d", "doc"), tag.New("c", "vision"))
		_, err := s.Put(c, v1)
		require.NoError(t, err)
		v2 := mk(t, sk, 30000, 20, "v2",
			tag.New("d", "doc"), tag.New("c", "motion"))
		r, err := s.Put(c, v2)
		require.NoError(t, err)
		require.Equal(t, store.Replaced, r.Status)
		// the displaced event must not surface through its tag
		evs, err := s.Query(c, &filter.F{
			Tags: map[string][]string{"c": {"vision"}},
		})
		require.NoError(t, err)
		assert.Empty(t, evs)
		evs, err = s.Query(c, &filter.F{
			Tags: map[string][]string{"c": {"motion"}},
		})
		require.NoError(t, err)
		require.Len(t, evs, 1)
		assert.True(t, v2.Equal(evs[0]))
		// collected immutables leave the tag indexes too
		imm := mk(t, sk, 1, 10, "expired", tag.New("c", "vision"))
		_, err = s.Put(c, imm)
		require.NoError(t, err)
		_, err = s.GC(c, 50)
		require.NoError(t, err)
		evs, err = s.Query(c, &filter.F{
			Tags: map[string][]string{"c": {"vision"}},
		})
		require.NoError(t, err)
		assert.Empty(t, evs)
	})

	t.Run("GCExpiresOnlyOldImmutable", func(t *testing.T) {
		s := open(t)
		defer s.Close()
		c := context.Bg()
		sk := signer(10)
		oldImm := mk(t, sk, 1, 10, "old")
		newImm := mk(t, sk, 1, 100, "new")
		repl := mk(t, sk, 10001, 5, "kept")
		for _, ev := range []*event.E{oldImm, newImm, repl} {
			_, err := s.Put(c, ev)
			require.NoError(t, err)
		}
		n, err := s.GC(c, 50)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		got, err := s.Get(c, oldImm.ID)
		require.NoError(t, err)
		assert.Nil(t, got)
		got, err = s.Get(c, newImm.ID)
		require.NoError(t, err)
		assert.NotNil(t, got)
		// replaceable classes are never collected
		got, err = s.Get(c, repl.ID)
		require.NoError(t, err)
		assert.NotNil(t, got)
	})
}
