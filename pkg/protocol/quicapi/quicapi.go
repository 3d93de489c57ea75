// Package quicapi serves the native protocol over QUIC. The transport is a
// byte stream, so envelopes travel behind the 4-byte big-endian length
// prefix. One bidirectional stream carries the whole session.
package quicapi

import (
	"crypto/tls"
	"fmt"
	"sync"

	"github.com/quic-go/quic-go"

	"aether.dev/pkg/encoders/envelopes"
	"aether.dev/pkg/protocol/session"
	"aether.dev/pkg/relay"
	"aether.dev/pkg/utils/chk"
	"aether.dev/pkg/utils/context"
	"aether.dev/pkg/utils/log"
)

// ALPN is the application protocol tag offered in the TLS handshake.
const ALPN = "aether/1"

// Server accepts QUIC connections and runs a session per connection.
type Server struct {
	Ctx   context.T
	Relay *relay.R
	Opts  session.Opts

	listener *quic.Listener
}

// New binds the QUIC listener. TLS key material is mandatory; without it
// the caller should not construct this gateway.
func New(
	c context.T, r *relay.R, addr, certFile, keyFile string,
	opts session.Opts,
) (s *Server, err error) {
	var cert tls.Certificate
	if cert, err = tls.LoadX509KeyPair(certFile, keyFile); chk.E(err) {
		return
	}
	tlsConf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPN},
	}
	s = &Server{Ctx: c, Relay: r, Opts: opts}
	if s.listener, err = quic.ListenAddr(addr, tlsConf, nil); chk.E(err) {
		return nil, err
	}
	log.I.F("quic listening on %s", addr)
	return
}

// Serve accepts connections until the listener closes.
func (s *Server) Serve() (err error) {
	for {
		var conn *quic.Conn
		if conn, err = s.listener.Accept(s.Ctx); err != nil {
			return
		}
		go s.handle(conn)
	}
}

// Close stops the listener.
func (s *Server) Close() (err error) { return s.listener.Close() }

func (s *Server) handle(conn *quic.Conn) {
	stream, err := conn.AcceptStream(s.Ctx)
	if err != nil {
		_ = conn.CloseWithError(0, "no stream")
		return
	}
	var wmx sync.Mutex
	sess := session.NewSession(
		s.Relay,
		func(raw []byte) error {
			wmx.Lock()
			defer wmx.Unlock()
			return envelopes.WriteFrame(stream, raw)
		},
		func() { _ = conn.CloseWithError(0, "closed") },
		s.Opts,
	)
	defer sess.Close()
	log.D.F("quic connection from %s", conn.RemoteAddr())
	for {
		raw, e := envelopes.ReadFrame(stream)
		if e != nil {
			if e == envelopes.ErrMalformed {
				_ = conn.CloseWithError(
					1, fmt.Sprintf("%v", envelopes.ErrMalformed),
				)
			}
			return
		}
		sess.Receive(s.Ctx, raw)
	}
}
