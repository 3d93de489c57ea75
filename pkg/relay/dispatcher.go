package relay

import (
	"sync"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/atomic"

	"aether.dev/pkg/encoders/event"
	"aether.dev/pkg/encoders/filter"
	"aether.dev/pkg/utils/log"
)

// DefaultOutboxSize bounds each subscription's delivery queue.
const DefaultOutboxSize = 1024

// Sink receives matched events for one subscription, in enqueue order.
type Sink func(ev *event.E)

// Sub is one live subscription: its filters, its bounded outbox and its
// delivery counters. A single sender goroutine drains the outbox so
// delivery stays FIFO per subscription.
type Sub struct {
	ID      string
	Filters []*filter.F

	sink Sink

	mx       sync.Mutex
	queue    []*event.E
	capacity int
	wake     chan struct{}
	done     chan struct{}
	closed   bool

	// Delivered counts events handed to the sink, Dropped the events
	// displaced by drop-oldest, HighWater the deepest queue seen.
	Delivered atomic.Uint64
	Dropped   atomic.Uint64
	HighWater atomic.Uint64
}

// Enqueue appends to the outbox, displacing the oldest entry when full.
func (s *Sub) Enqueue(ev *event.E) {
	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		return
	}
	if len(s.queue) >= s.capacity {
		s.queue = s.queue[1:]
		s.Dropped.Inc()
		metricDropped.Inc()
	}
	s.queue = append(s.queue, ev)
	if depth := uint64(len(s.queue)); depth > s.HighWater.Load() {
		s.HighWater.Store(depth)
	}
	s.mx.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// pop removes the head of the outbox, or nil when empty.
func (s *Sub) pop() (ev *event.E) {
	s.mx.Lock()
	defer s.mx.Unlock()
	if len(s.queue) == 0 {
		return
	}
	ev = s.queue[0]
	s.queue = s.queue[1:]
	return
}

// Pending snapshots the outbox contents, oldest first.
func (s *Sub) Pending() (evs event.S) {
	s.mx.Lock()
	defer s.mx.Unlock()
	return append(evs, s.queue...)
}

// Drain synchronously hands every queued event to the sink, oldest first.
// The sender loop uses it; tests without a sender can call it directly.
func (s *Sub) Drain() {
	for {
		ev := s.pop()
		if ev == nil {
			return
		}
		if s.sink != nil {
			s.sink(ev)
		}
		s.Delivered.Inc()
		metricDelivered.Inc()
	}
}

func (s *Sub) run() {
	for {
		s.Drain()
		select {
		case <-s.wake:
		case <-s.done:
			return
		}
	}
}

func (s *Sub) close() {
	s.mx.Lock()
	if s.closed {
		s.mx.Unlock()
		return
	}
	s.closed = true
	s.queue = nil
	s.mx.Unlock()
	close(s.done)
}

// pairKey joins a tag key and value for the tag index.
func pairKey(k, v string) string { return k + "\x00" + v }

// Dispatcher routes accepted events to matching subscriptions. A coarse
// inverted index (by kind, by tag pair, plus an unindexed bucket for
// filters constraining neither) prunes the candidate set; filter.Match
// stays authoritative for every delivery.
type Dispatcher struct {
	OutboxSize int

	subs *xsync.MapOf[string, *Sub]

	imx       sync.RWMutex
	byKind    map[uint16]map[string]*Sub
	byTag     map[string]map[string]*Sub
	unindexed map[string]*Sub
}

// NewDispatcher creates a dispatcher with the given per-subscription outbox
// bound.
func NewDispatcher(outboxSize int) (d *Dispatcher) {
	if outboxSize <= 0 {
		outboxSize = DefaultOutboxSize
	}
	return &Dispatcher{
		OutboxSize: outboxSize,
		subs:       xsync.NewMapOf[string, *Sub](),
		byKind:     make(map[uint16]map[string]*Sub),
		byTag:      make(map[string]map[string]*Sub),
		unindexed:  make(map[string]*Sub),
	}
}

// Subscribe registers a subscription. With a non-nil sink a sender
// goroutine starts draining the outbox; with nil the caller drains.
// Re-using a live sub id replaces its filters.
func (d *Dispatcher) Subscribe(
	id string, filters []*filter.F, sink Sink,
) (s *Sub) {
	s = &Sub{
		ID:       id,
		Filters:  filters,
		sink:     sink,
		capacity: d.OutboxSize,
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	if old, ok := d.subs.LoadAndStore(id, s); ok {
		d.unindex(old)
		old.close()
	} else {
		metricSubscriptions.Inc()
	}
	d.index(s)
	if sink != nil {
		go s.run()
	}
	return
}

// Unsubscribe removes a subscription; reports whether it existed.
func (d *Dispatcher) Unsubscribe(id string) (ok bool) {
	var s *Sub
	if s, ok = d.subs.LoadAndDelete(id); !ok {
		return
	}
	d.unindex(s)
	s.close()
	metricSubscriptions.Dec()
	return
}

// Get looks up a live subscription.
func (d *Dispatcher) Get(id string) (s *Sub, ok bool) {
	return d.subs.Load(id)
}

func (d *Dispatcher) index(s *Sub) {
	d.imx.Lock()
	defer d.imx.Unlock()
	// indexability is per filter: any one filter constraining neither kind
	// nor tag can match events no index bucket covers, so the whole sub
	// joins the unindexed bucket too
	unindexed := len(s.Filters) == 0
	for _, f := range s.Filters {
		indexed := false
		for _, k := range f.Kinds {
			if d.byKind[k] == nil {
				d.byKind[k] = make(map[string]*Sub)
			}
			d.byKind[k][s.ID] = s
			indexed = true
		}
		for _, p := range f.TagPairs() {
			key := pairKey(p[0], p[1])
			if d.byTag[key] == nil {
				d.byTag[key] = make(map[string]*Sub)
			}
			d.byTag[key][s.ID] = s
			indexed = true
		}
		if !indexed {
			unindexed = true
		}
	}
	if unindexed {
		d.unindexed[s.ID] = s
	}
}

func (d *Dispatcher) unindex(s *Sub) {
	d.imx.Lock()
	defer d.imx.Unlock()
	for k, m := range d.byKind {
		delete(m, s.ID)
		if len(m) == 0 {
			delete(d.byKind, k)
		}
	}
	for k, m := range d.byTag {
		delete(m, s.ID)
		if len(m) == 0 {
			delete(d.byTag, k)
		}
	}
	delete(d.unindexed, s.ID)
}

// candidates unions the index buckets the event touches.
func (d *Dispatcher) candidates(ev *event.E) (out map[string]*Sub) {
	d.imx.RLock()
	defer d.imx.RUnlock()
	out = make(map[string]*Sub, len(d.unindexed))
	for id, s := range d.unindexed {
		out[id] = s
	}
	for id, s := range d.byKind[ev.Kind] {
		out[id] = s
	}
	for _, t := range ev.Tags {
		for _, v := range t.Values {
			for id, s := range d.byTag[pairKey(t.Key, v)] {
				out[id] = s
			}
		}
	}
	return
}

// Dispatch fans an accepted event out to every subscription with a
// matching filter, and returns how many outboxes it reached.
func (d *Dispatcher) Dispatch(ev *event.E) (n int) {
	for _, s := range d.candidates(ev) {
		for _, f := range s.Filters {
			if f.Match(ev) {
				s.Enqueue(ev)
				n++
				break
			}
		}
	}
	log.T.F("dispatched %x to %d subscriptions", ev.ID, n)
	return
}

// Dropped sums drop-oldest displacements across live subscriptions.
func (d *Dispatcher) Dropped() (n uint64) {
	d.subs.Range(func(_ string, s *Sub) bool {
		n += s.Dropped.Load()
		return true
	})
	return
}

// Delivered sums sink deliveries across live subscriptions.
func (d *Dispatcher) Delivered() (n uint64) {
	d.subs.Range(func(_ string, s *Sub) bool {
		n += s.Delivered.Load()
		return true
	})
	return
}
