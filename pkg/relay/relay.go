package relay

import (
	"sort"
	"time"

	"aether.dev/pkg/encoders/event"
	"aether.dev/pkg/encoders/filter"
	"aether.dev/pkg/relay/reason"
	"aether.dev/pkg/store"
	"aether.dev/pkg/utils/chk"
	"aether.dev/pkg/utils/context"
	"aether.dev/pkg/utils/log"
)

// R is the relay core. Every gateway feeds events and subscriptions into
// the same instance, so acceptance, dedupe and fan-out are identical across
// surfaces.
type R struct {
	Store      store.I
	Validator  *Validator
	Dispatcher *Dispatcher

	// Forward, when set, receives every newly stored or ephemeral event
	// after local fan-out, for relay-to-relay propagation.
	Forward func(ev *event.E)
}

// New assembles a relay core.
func New(st store.I, v *Validator, d *Dispatcher) (r *R) {
	return &R{Store: st, Validator: v, Dispatcher: d}
}

// PubResult is the outcome of a Publish, in the shape gateways translate
// to their acknowledgement forms.
type PubResult struct {
	Accepted bool
	Reason   string
	Stored   store.Result
}

// Publish validates, stores and fans out one event. Resubmissions are
// acknowledged as accepted with the duplicate reason and are not fanned
// out again.
func (r *R) Publish(c context.T, ev *event.E) (res PubResult) {
	if rej := r.Validator.Validate(ev); rej != nil {
		metricRejected.WithLabelValues(rej.Code).Inc()
		log.D.F("rejected %x: %s (%s)", ev.ID, rej.Code, rej.Message)
		return PubResult{Reason: rej.Code}
	}
	sr, err := r.Store.Put(c, ev)
	if chk.E(err) {
		return PubResult{Reason: reason.Internal}
	}
	metricAccepted.Inc()
	res = PubResult{Accepted: true, Stored: sr}
	if sr.Status == store.Duplicate {
		res.Reason = reason.Duplicate
		return
	}
	r.Dispatcher.Dispatch(ev)
	if r.Forward != nil {
		r.Forward(ev)
	}
	return
}

// Subscribe registers a live subscription and returns the historical
// backfill: each filter queried against the store, merged, deduped by id,
// newest first. Live delivery starts with the returned subscription; the
// gateway sends the backfill first.
func (r *R) Subscribe(
	c context.T, id string, filters []*filter.F, sink Sink,
) (backfill event.S, s *Sub, err error) {
	seen := make(map[string]struct{})
	for _, f := range filters {
		var evs event.S
		if evs, err = r.Store.Query(c, f); chk.E(err) {
			return
		}
		for _, ev := range evs {
			if _, ok := seen[string(ev.ID)]; ok {
				continue
			}
			seen[string(ev.ID)] = struct{}{}
			backfill = append(backfill, ev)
		}
	}
	sort.Sort(backfill)
	s = r.Dispatcher.Subscribe(id, filters, sink)
	return
}

// Unsubscribe closes a live subscription; reports whether it existed.
func (r *R) Unsubscribe(id string) (ok bool) {
	return r.Dispatcher.Unsubscribe(id)
}

// GCLoop collects expired immutable events every interval until the
// context ends. Retention zero disables collection.
func (r *R) GCLoop(c context.T, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Minute
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		select {
		case <-c.Done():
			return
		case <-tick.C:
			cutoff := uint64(time.Now().Add(-retention).UnixNano())
			n, err := r.Store.GC(c, cutoff)
			if chk.E(err) {
				continue
			}
			if n > 0 {
				log.D.F("gc dropped %d expired events", n)
			}
		}
	}
}
