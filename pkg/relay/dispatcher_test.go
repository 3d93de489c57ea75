package relay

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aether.dev/pkg/encoders/event"
	"aether.dev/pkg/encoders/filter"
	"aether.dev/pkg/encoders/tag"
)

func TestDispatchMatchesByKind(t *testing.T) {
	d := NewDispatcher(16)
	s := d.Subscribe("s1", []*filter.F{{Kinds: []uint16{1}}}, nil)
	matching := signed(t, 1, 10, "in")
	other := signed(t, 2, 11, "out")
	assert.Equal(t, 1, d.Dispatch(matching))
	assert.Equal(t, 0, d.Dispatch(other))
	pending := s.Pending()
	require.Len(t, pending, 1)
	assert.True(t, matching.Equal(pending[0]))
}

func TestDispatchMatchesByTag(t *testing.T) {
	d := NewDispatcher(16)
	s := d.Subscribe("s1", []*filter.F{{
		Tags: map[string][]string{"c": {"vision"}},
	}}, nil)
	ev := &event.E{
		CreatedAt: 1, Kind: 1,
		Tags:    tag.S{tag.New("c", "vision")},
		Content: []byte("x"),
	}
	require.NoError(t, ev.Sign(testSigner(1)))
	assert.Equal(t, 1, d.Dispatch(ev))
	assert.Len(t, s.Pending(), 1)
}

func TestDispatchUnindexedBucket(t *testing.T) {
	d := NewDispatcher(16)
	// no kind or tag predicate: only reachable via the unindexed bucket
	lo := uint64(5)
	s := d.Subscribe("s1", []*filter.F{{Since: &lo}}, nil)
	assert.Equal(t, 1, d.Dispatch(signed(t, 1, 10, "late")))
	assert.Equal(t, 0, d.Dispatch(signed(t, 1, 1, "early")))
	assert.Len(t, s.Pending(), 1)
}

func TestMixedFiltersStillReachUnindexedEvents(t *testing.T) {
	d := NewDispatcher(16)
	// one indexable filter plus one constraining neither kind nor tag:
	// events matching only the second must still be delivered
	lo := uint64(5)
	s := d.Subscribe("s1", []*filter.F{
		{Kinds: []uint16{1}},
		{Since: &lo},
	}, nil)
	assert.Equal(t, 1, d.Dispatch(signed(t, 2, 10, "since only")))
	assert.Equal(t, 1, d.Dispatch(signed(t, 1, 1, "kind only")))
	assert.Equal(t, 0, d.Dispatch(signed(t, 2, 1, "neither")))
	assert.Len(t, s.Pending(), 2)
}

func TestResubscribeKeepsGaugeStable(t *testing.T) {
	d := NewDispatcher(16)
	before := testutil.ToFloat64(metricSubscriptions)
	d.Subscribe("s1", []*filter.F{{Kinds: []uint16{1}}}, nil)
	d.Subscribe("s1", []*filter.F{{Kinds: []uint16{2}}}, nil)
	assert.Equal(t, before+1, testutil.ToFloat64(metricSubscriptions))
	d.Unsubscribe("s1")
	assert.Equal(t, before, testutil.ToFloat64(metricSubscriptions))
}

func TestDropOldestBoundsQueue(t *testing.T) {
	d := NewDispatcher(4)
	s := d.Subscribe("s1", []*filter.F{{Kinds: []uint16{1}}}, nil)
	var all event.S
	for i := 0; i < 10; i++ {
		ev := signed(t, 1, uint64(i+1), string(rune('a'+i)))
		all = append(all, ev)
		d.Dispatch(ev)
	}
	// the four newest survive, six displaced
	pending := s.Pending()
	require.Len(t, pending, 4)
	for i, ev := range pending {
		assert.True(t, all[6+i].Equal(ev))
	}
	assert.Equal(t, uint64(6), s.Dropped.Load())
	assert.Equal(t, uint64(6), d.Dropped())
	assert.Equal(t, uint64(4), s.HighWater.Load())

	// drain delivers FIFO
	var got event.S
	s.sink = func(ev *event.E) { got = append(got, ev) }
	s.Drain()
	require.Len(t, got, 4)
	for i, ev := range got {
		assert.True(t, all[6+i].Equal(ev))
	}
	assert.Equal(t, uint64(4), s.Delivered.Load())
	assert.Equal(t, uint64(4), d.Delivered())
}

func TestSenderDrains(t *testing.T) {
	d := NewDispatcher(16)
	var mx sync.Mutex
	var got event.S
	d.Subscribe("s1", []*filter.F{{Kinds: []uint16{1}}}, func(ev *event.E) {
		mx.Lock()
		got = append(got, ev)
		mx.Unlock()
	})
	first := signed(t, 1, 1, "first")
	second := signed(t, 1, 2, "second")
	d.Dispatch(first)
	d.Dispatch(second)
	require.Eventually(t, func() bool {
		mx.Lock()
		defer mx.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)
	mx.Lock()
	defer mx.Unlock()
	assert.True(t, first.Equal(got[0]))
	assert.True(t, second.Equal(got[1]))
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	d := NewDispatcher(16)
	d.Subscribe("s1", []*filter.F{{Kinds: []uint16{1}}}, nil)
	assert.True(t, d.Unsubscribe("s1"))
	assert.False(t, d.Unsubscribe("s1"))
	assert.Equal(t, 0, d.Dispatch(signed(t, 1, 1, "x")))
}

func TestResubscribeReplacesFilters(t *testing.T) {
	d := NewDispatcher(16)
	d.Subscribe("s1", []*filter.F{{Kinds: []uint16{1}}}, nil)
	s2 := d.Subscribe("s1", []*filter.F{{Kinds: []uint16{2}}}, nil)
	assert.Equal(t, 0, d.Dispatch(signed(t, 1, 1, "old kind")))
	assert.Equal(t, 1, d.Dispatch(signed(t, 2, 2, "new kind")))
	assert.Len(t, s2.Pending(), 1)
}

func TestMultipleFiltersAreDisjunction(t *testing.T) {
	d := NewDispatcher(16)
	s := d.Subscribe("s1", []*filter.F{
		{Kinds: []uint16{1}},
		{Kinds: []uint16{2}},
	}, nil)
	d.Dispatch(signed(t, 1, 1, "a"))
	d.Dispatch(signed(t, 2, 2, "b"))
	d.Dispatch(signed(t, 3, 3, "c"))
	// one enqueue per event even when both filters could match
	assert.Len(t, s.Pending(), 2)
}
