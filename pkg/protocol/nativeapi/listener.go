// Package nativeapi serves the native protocol over WebSocket: one session
// state machine per connection, envelope bytes carried in WebSocket
// messages (the transport frames, so no length prefix is needed).
package nativeapi

import (
	"net/http"
	"strings"
	"sync"

	"github.com/fasthttp/websocket"
	"go.uber.org/atomic"

	"aether.dev/pkg/encoders/envelopes"
	"aether.dev/pkg/protocol/session"
	"aether.dev/pkg/relay"
	"aether.dev/pkg/utils/chk"
	"aether.dev/pkg/utils/context"
	"aether.dev/pkg/utils/log"
)

// Listener wraps one websocket connection with a write mutex so the
// session and its subscription senders can interleave safely.
type Listener struct {
	mutex  sync.Mutex
	Conn   *websocket.Conn
	sess   *session.S
	remote atomic.String
}

// NewListener creates a Listener for an upgraded connection.
func NewListener(conn *websocket.Conn, req *http.Request) (ws *Listener) {
	ws = &Listener{Conn: conn}
	ws.remote.Store(remoteFromReq(req))
	return
}

// Write sends one envelope frame, text for the json format and binary
// otherwise.
func (ws *Listener) Write(p []byte) (err error) {
	ws.mutex.Lock()
	defer ws.mutex.Unlock()
	msgType := websocket.BinaryMessage
	if ws.sess != nil && ws.sess.Format() == envelopes.JSON {
		msgType = websocket.TextMessage
	}
	err = ws.Conn.WriteMessage(msgType, p)
	if err != nil && strings.Contains(err.Error(), "close sent") {
		_ = ws.Close()
		err = nil
	}
	return
}

// Remote returns the client address recorded at upgrade time.
func (ws *Listener) Remote() string { return ws.remote.Load() }

// Close closes the underlying connection.
func (ws *Listener) Close() (err error) { return ws.Conn.Close() }

func remoteFromReq(req *http.Request) (remote string) {
	remote = req.RemoteAddr
	if fwd := req.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.Index(fwd, ","); i >= 0 {
			fwd = fwd[:i]
		}
		remote = strings.TrimSpace(fwd)
	}
	return
}

// H is the native websocket gateway.
type H struct {
	Ctx      context.T
	Relay    *relay.R
	Opts     session.Opts
	upgrader websocket.Upgrader
}

// New creates the gateway handler.
func New(c context.T, r *relay.R, opts session.Opts) (h *H) {
	return &H{
		Ctx:   c,
		Relay: r,
		Opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the connection and runs the read loop until the peer
// goes away.
func (h *H) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := h.upgrader.Upgrade(w, req, nil)
	if chk.E(err) {
		return
	}
	ws := NewListener(conn, req)
	sess := session.NewSession(
		h.Relay,
		func(raw []byte) error { return ws.Write(raw) },
		func() { _ = ws.Close() },
		h.Opts,
	)
	ws.sess = sess
	defer sess.Close()
	log.D.F("native connection from %s", ws.Remote())
	for {
		_, raw, e := conn.ReadMessage()
		if e != nil {
			return
		}
		sess.Receive(h.Ctx, raw)
	}
}
