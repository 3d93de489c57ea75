package httpapi

import (
	"net/http"

	"github.com/coder/websocket"

	"aether.dev/pkg/encoders/envelopes"
	"aether.dev/pkg/protocol/session"
	"aether.dev/pkg/utils/chk"
	"aether.dev/pkg/utils/log"
)

// serveWS mirrors the native protocol at /v1/ws. The session negotiates as
// usual; JSON clients land here when they cannot speak the binary-framed
// native endpoint.
func (x *Operations) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if chk.E(err) {
		return
	}
	var sess *session.S
	sess = session.NewSession(
		x.Relay,
		func(raw []byte) error {
			msgType := websocket.MessageBinary
			if sess.Format() == envelopes.JSON {
				msgType = websocket.MessageText
			}
			return conn.Write(x.Ctx, msgType, raw)
		},
		func() { _ = conn.Close(websocket.StatusNormalClosure, "closed") },
		session.Opts{},
	)
	defer sess.Close()
	log.D.F("ws mirror connection from %s", r.RemoteAddr)
	for {
		_, raw, e := conn.Read(x.Ctx)
		if e != nil {
			return
		}
		sess.Receive(x.Ctx, raw)
	}
}
