// Package nostrapi adapts the NIP-01 text protocol onto the relay core.
// Inbound arrays are EVENT, REQ and CLOSE; outbound are OK, EVENT, EOSE and
// NOTICE. The adapter rewrites id to event_id, maps authors to pubkey
// prefixes and folds #-prefixed tag filters into the native tag shape; the
// shared validator, store and dispatcher do the rest.
package nostrapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"

	"github.com/fasthttp/websocket"
	"github.com/google/uuid"

	"aether.dev/pkg/encoders/event"
	"aether.dev/pkg/encoders/filter"
	"aether.dev/pkg/encoders/hex"
	"aether.dev/pkg/encoders/ints"
	"aether.dev/pkg/relay"
	"aether.dev/pkg/utils/chk"
	"aether.dev/pkg/utils/context"
	"aether.dev/pkg/utils/log"
)

// Filter is the NIP-01 filter shape. Fields the core has no predicate for
// are ignored.
type Filter struct {
	Authors []string `json:"authors,omitempty"`
	Kinds   []ints.N `json:"kinds,omitempty"`
	Since   *ints.N  `json:"since,omitempty"`
	Until   *ints.N  `json:"until,omitempty"`
	Limit   *ints.N  `json:"limit,omitempty"`

	// Tags collects the #-prefixed keys during unmarshal.
	Tags map[string][]string `json:"-"`
}

// UnmarshalJSON pulls the #-prefixed tag filters out of the open-ended
// object alongside the fixed fields.
func (f *Filter) UnmarshalJSON(b []byte) (err error) {
	type plain Filter
	if err = json.Unmarshal(b, (*plain)(f)); err != nil {
		return
	}
	raw := map[string]json.RawMessage{}
	if err = json.Unmarshal(b, &raw); err != nil {
		return
	}
	for k, v := range raw {
		if !strings.HasPrefix(k, "#") || len(k) < 2 {
			continue
		}
		var values []string
		if err = json.Unmarshal(v, &values); err != nil {
			return
		}
		if f.Tags == nil {
			f.Tags = map[string][]string{}
		}
		f.Tags[k[1:]] = values
	}
	return
}

// Normalize converts the NIP-01 shape into the native filter.
func (f *Filter) Normalize() (out *filter.F, err error) {
	j := &filter.J{
		Kinds:          f.Kinds,
		PubkeyPrefixes: f.Authors,
		Since:          f.Since,
		Until:          f.Until,
		Limit:          f.Limit,
	}
	if len(f.Tags) > 0 {
		if j.Tags, err = json.Marshal(f.Tags); err != nil {
			return
		}
	}
	return j.Normalize()
}

// H is the NIP-01 websocket gateway.
type H struct {
	Ctx      context.T
	Relay    *relay.R
	upgrader websocket.Upgrader
}

// New creates the gateway handler.
func New(c context.T, r *relay.R) (h *H) {
	return &H{
		Ctx:   c,
		Relay: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// conn is one NIP-01 client connection.
type conn struct {
	h    *H
	ws   *websocket.Conn
	wmx  sync.Mutex
	id   string
	smx  sync.Mutex
	subs map[string]string
}

func (cn *conn) send(arr ...any) {
	b, err := json.Marshal(arr)
	if chk.E(err) {
		return
	}
	cn.wmx.Lock()
	defer cn.wmx.Unlock()
	_ = cn.ws.WriteMessage(websocket.TextMessage, b)
}

// ServeHTTP upgrades and runs the read loop.
func (h *H) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	ws, err := h.upgrader.Upgrade(w, req, nil)
	if chk.E(err) {
		return
	}
	cn := &conn{
		h: h, ws: ws, id: uuid.NewString(), subs: map[string]string{},
	}
	defer cn.close()
	for {
		_, raw, e := ws.ReadMessage()
		if e != nil {
			return
		}
		cn.handleMessage(raw)
	}
}

func (cn *conn) close() {
	cn.smx.Lock()
	subs := cn.subs
	cn.subs = map[string]string{}
	cn.smx.Unlock()
	for _, global := range subs {
		cn.h.Relay.Unsubscribe(global)
	}
	_ = cn.ws.Close()
}

func (cn *conn) handleMessage(raw []byte) {
	var arr []json.RawMessage
	if json.Unmarshal(raw, &arr) != nil || len(arr) == 0 {
		cn.send("NOTICE", "malformed message")
		return
	}
	var label string
	if json.Unmarshal(arr[0], &label) != nil {
		cn.send("NOTICE", "malformed message")
		return
	}
	switch label {
	case "EVENT":
		cn.handleEvent(arr)
	case "REQ":
		cn.handleReq(arr)
	case "CLOSE":
		cn.handleClose(arr)
	default:
		cn.send("NOTICE", "unknown message type "+label)
	}
}

func (cn *conn) handleEvent(arr []json.RawMessage) {
	if len(arr) < 2 {
		cn.send("NOTICE", "EVENT carries no event")
		return
	}
	j := &event.J{}
	if json.Unmarshal(arr[1], j) != nil {
		cn.send("NOTICE", "undecodable event")
		return
	}
	ev, err := j.ToEvent()
	if err != nil {
		cn.send("OK", j.ID, false, err.Error())
		return
	}
	res := cn.h.Relay.Publish(cn.h.Ctx, ev)
	cn.send("OK", hex.Enc(ev.ID), res.Accepted, res.Reason)
}

func (cn *conn) handleReq(arr []json.RawMessage) {
	if len(arr) < 2 {
		cn.send("NOTICE", "REQ carries no sub id")
		return
	}
	var subID string
	if json.Unmarshal(arr[1], &subID) != nil || subID == "" {
		cn.send("NOTICE", "REQ carries no sub id")
		return
	}
	var filters []*filter.F
	for _, rawF := range arr[2:] {
		nf := &Filter{}
		if json.Unmarshal(rawF, nf) != nil {
			cn.send("NOTICE", "undecodable filter")
			return
		}
		f, err := nf.Normalize()
		if err != nil {
			cn.send("NOTICE", err.Error())
			return
		}
		filters = append(filters, f)
	}
	if len(filters) == 0 {
		filters = append(filters, filter.New())
	}
	global := cn.id + "/" + subID
	sink := relay.Sink(func(ev *event.E) {
		cn.sendEvent(subID, ev)
	})
	backfill, _, err := cn.h.Relay.Subscribe(cn.h.Ctx, global, filters, sink)
	if err != nil {
		cn.send("NOTICE", "subscription failed")
		return
	}
	cn.smx.Lock()
	cn.subs[subID] = global
	cn.smx.Unlock()
	for _, ev := range backfill {
		cn.sendEvent(subID, ev)
	}
	// EOSE always follows the stored events on this surface
	cn.send("EOSE", subID)
}

// sendEvent rewrites event_id to the id field this protocol expects.
func (cn *conn) sendEvent(subID string, ev *event.E) {
	j := ev.ToJ()
	j.ID, j.EventID = j.EventID, ""
	cn.send("EVENT", subID, j)
}

func (cn *conn) handleClose(arr []json.RawMessage) {
	if len(arr) < 2 {
		cn.send("NOTICE", "CLOSE carries no sub id")
		return
	}
	var subID string
	if json.Unmarshal(arr[1], &subID) != nil {
		cn.send("NOTICE", "CLOSE carries no sub id")
		return
	}
	cn.smx.Lock()
	global, ok := cn.subs[subID]
	delete(cn.subs, subID)
	cn.smx.Unlock()
	if ok {
		cn.h.Relay.Unsubscribe(global)
	} else {
		log.T.F("CLOSE for unknown sub %s", subID)
	}
}
