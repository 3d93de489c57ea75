package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aether.dev/pkg/encoders/event"
	"aether.dev/pkg/encoders/filter"
	"aether.dev/pkg/relay/reason"
	"aether.dev/pkg/store"
	"aether.dev/pkg/store/memory"
	"aether.dev/pkg/utils/context"
)

func newTestRelay() (r *R) {
	v := NewValidator(time.Minute, 0, 0, 0, 0)
	v.now = func() uint64 { return 1000 }
	return New(memory.New(), v, NewDispatcher(16))
}

func TestPublishStoresAndFansOut(t *testing.T) {
	r := newTestRelay()
	c := context.Bg()
	s := r.Dispatcher.Subscribe("s1", []*filter.F{{Kinds: []uint16{1}}}, nil)
	ev := signed(t, 1, 10, "hello")
	res := r.Publish(c, ev)
	assert.True(t, res.Accepted)
	assert.Empty(t, res.Reason)
	assert.Equal(t, store.Inserted, res.Stored.Status)
	assert.Len(t, s.Pending(), 1)
	got, err := r.Store.Get(c, ev.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestPublishDuplicateAckedNotRedispatched(t *testing.T) {
	r := newTestRelay()
	c := context.Bg()
	s := r.Dispatcher.Subscribe("s1", []*filter.F{{Kinds: []uint16{1}}}, nil)
	ev := signed(t, 1, 10, "once")
	require.True(t, r.Publish(c, ev).Accepted)
	res := r.Publish(c, ev)
	assert.True(t, res.Accepted)
	assert.Equal(t, reason.Duplicate, res.Reason)
	// fan-out happened exactly once
	assert.Len(t, s.Pending(), 1)
}

func TestPublishRejectionShortCircuits(t *testing.T) {
	r := newTestRelay()
	c := context.Bg()
	ev := signed(t, 1, 10, "tampered")
	ev.Content = []byte("changed")
	res := r.Publish(c, ev)
	assert.False(t, res.Accepted)
	assert.Equal(t, reason.InvalidEventID, res.Reason)
	n, err := r.Store.Count(c)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPublishEphemeralDispatchesWithoutStoring(t *testing.T) {
	r := newTestRelay()
	c := context.Bg()
	s := r.Dispatcher.Subscribe(
		"s1", []*filter.F{{Kinds: []uint16{20001}}}, nil,
	)
	ev := signed(t, 20001, 10, "flash")
	res := r.Publish(c, ev)
	assert.True(t, res.Accepted)
	assert.Len(t, s.Pending(), 1)
	n, err := r.Store.Count(c)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestPublishForwardHook(t *testing.T) {
	r := newTestRelay()
	var forwarded event.S
	r.Forward = func(ev *event.E) { forwarded = append(forwarded, ev) }
	c := context.Bg()
	ev := signed(t, 1, 10, "onward")
	require.True(t, r.Publish(c, ev).Accepted)
	// duplicates are not forwarded again
	r.Publish(c, ev)
	require.Len(t, forwarded, 1)
	assert.True(t, ev.Equal(forwarded[0]))
}

func TestSubscribeBackfillNewestFirst(t *testing.T) {
	r := newTestRelay()
	c := context.Bg()
	var all event.S
	for i := 0; i < 3; i++ {
		ev := signed(t, 1, uint64(10+i), string(rune('a'+i)))
		require.True(t, r.Publish(c, ev).Accepted)
		all = append(all, ev)
	}
	backfill, s, err := r.Subscribe(
		c, "s1", []*filter.F{{Kinds: []uint16{1}}}, nil,
	)
	require.NoError(t, err)
	require.NotNil(t, s)
	require.Len(t, backfill, 3)
	assert.True(t, all[2].Equal(backfill[0]))
	assert.True(t, all[1].Equal(backfill[1]))
	assert.True(t, all[0].Equal(backfill[2]))
	// the subscription is live after backfill
	r.Publish(c, signed(t, 1, 99, "live"))
	assert.Len(t, s.Pending(), 1)
}

func TestSubscribeBackfillDedupesAcrossFilters(t *testing.T) {
	r := newTestRelay()
	c := context.Bg()
	ev := signed(t, 1, 10, "once")
	require.True(t, r.Publish(c, ev).Accepted)
	backfill, _, err := r.Subscribe(c, "s1", []*filter.F{
		{Kinds: []uint16{1}},
		{PubkeyPrefixes: [][]byte{ev.Pubkey[:2]}},
	}, nil)
	require.NoError(t, err)
	assert.Len(t, backfill, 1)
}

func TestUnsubscribeUnknown(t *testing.T) {
	r := newTestRelay()
	assert.False(t, r.Unsubscribe("nope"))
}
