// Package session runs the native protocol state machine, one instance per
// connection, over any transport that can carry whole frames. The
// transports (WebSocket, QUIC) only move bytes; negotiation, the optional
// encryption upgrade and message handling all live here.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/atomic"

	"aether.dev/pkg/crypto/noise"
	"aether.dev/pkg/encoders/envelopes"
	"aether.dev/pkg/encoders/hex"
	"aether.dev/pkg/relay"
	"aether.dev/pkg/relay/reason"
	"aether.dev/pkg/utils/chk"
	"aether.dev/pkg/utils/context"
	"aether.dev/pkg/utils/log"
)

// Version is the native protocol version offered in WELCOME.
const Version = 1

// DefaultHelloTimeout bounds how long a connection may sit without a HELLO.
const DefaultHelloTimeout = 10 * time.Second

// maxAeadFailures is how many consecutive decryption failures a session
// survives before it is torn down.
const maxAeadFailures = 3

// errAeadFatal marks the failure that crossed the threshold.
var errAeadFatal = errors.New("too many decryption failures")

// State of the connection state machine.
type State int

const (
	// New means connected, waiting for HELLO.
	New State = iota
	// Welcomed means WELCOME sent, encryption upgrade possibly pending.
	Welcomed
	// Active means PUBLISH, SUBSCRIBE and UNSUBSCRIBE are processed.
	Active
	// Closed is terminal; all subscriptions are revoked.
	Closed
)

// Opts configures a session.
type Opts struct {
	// NoiseRequired makes the server demand the encryption upgrade.
	NoiseRequired bool

	// HelloTimeout overrides DefaultHelloTimeout when positive.
	HelloTimeout time.Duration
}

// S is one connection's session.
type S struct {
	id    string
	relay *relay.R
	opts  Opts

	// send pushes one raw envelope frame to the transport; closer tears
	// the transport down.
	send   func(raw []byte) error
	closer func()

	smx       sync.Mutex
	state     State
	ns        *noise.Session
	aeadFails int

	// format is outside smx so transport writers can read it mid-send
	format atomic.String

	// local sub id -> dispatcher sub id
	subs map[string]string

	helloTimer *time.Timer
}

// NewSession creates a session in the NEW state and arms the HELLO
// timeout.
func NewSession(
	r *relay.R, send func(raw []byte) error, closer func(), opts Opts,
) (s *S) {
	s = &S{
		id:     uuid.NewString(),
		relay:  r,
		opts:   opts,
		send:   send,
		closer: closer,
		subs:   make(map[string]string),
	}
	s.format.Store(string(envelopes.JSON))
	timeout := opts.HelloTimeout
	if timeout <= 0 {
		timeout = DefaultHelloTimeout
	}
	s.helloTimer = time.AfterFunc(timeout, func() {
		log.D.F("session %s: no HELLO within %v", s.id, timeout)
		s.writeError(reason.InvalidMessage, "no hello before timeout")
		s.Close()
	})
	return
}

// ID is the connection's unique identifier.
func (s *S) ID() string { return s.id }

// State reports the current machine state.
func (s *S) State() State {
	s.smx.Lock()
	defer s.smx.Unlock()
	return s.state
}

// Format reports the negotiated envelope format.
func (s *S) Format() envelopes.Format {
	return envelopes.Format(s.format.Load())
}

// Close revokes all subscriptions and tears down the transport. Idempotent.
func (s *S) Close() {
	s.smx.Lock()
	if s.state == Closed {
		s.smx.Unlock()
		return
	}
	s.state = Closed
	subs := s.subs
	s.subs = map[string]string{}
	s.smx.Unlock()
	s.helloTimer.Stop()
	for _, global := range subs {
		s.relay.Unsubscribe(global)
	}
	if s.closer != nil {
		s.closer()
	}
}

// write encodes and sends one envelope, wrapping it in a NOISE frame when
// the upgrade is live. The lock orders noise counters with transport
// writes.
func (s *S) write(payload any) (err error) {
	s.smx.Lock()
	defer s.smx.Unlock()
	return s.writeLocked(payload)
}

func (s *S) writeLocked(payload any) (err error) {
	format := s.Format()
	var raw []byte
	if raw, err = envelopes.Encode(payload, format); chk.E(err) {
		return
	}
	if s.ns != nil {
		sealed := s.ns.Seal(raw)
		wrapped := envelopes.NewNoise(hex.Enc(sealed))
		if raw, err = envelopes.Encode(wrapped, format); chk.E(err) {
			return
		}
	}
	return s.send(raw)
}

func (s *S) writeError(code, message string) {
	_ = s.write(envelopes.NewError(code, message))
}

// Receive processes one raw inbound frame. Transport loops call it
// sequentially per connection.
func (s *S) Receive(c context.T, raw []byte) {
	switch s.State() {
	case Closed:
		return
	case New:
		s.handleHello(raw)
		return
	}
	name, payload, err := s.decode(raw)
	if err != nil {
		s.writeError(reason.MalformedFrame, "undecodable envelope")
		// repeated authentication failures are fatal to the session only
		if err == errAeadFatal {
			s.Close()
		}
		return
	}
	switch name {
	case envelopes.Name(envelopes.TPublish):
		s.handlePublish(c, payload)
	case envelopes.Name(envelopes.TSubscribe):
		s.handleSubscribe(c, payload)
	case envelopes.Name(envelopes.TUnsubscribe):
		s.handleUnsubscribe(payload)
	default:
		// unknown or out-of-place types leave the session ACTIVE
		s.writeError(
			reason.InvalidMessage, "unexpected message type "+name,
		)
	}
}

// decode unwraps the noise layer when live and splits the envelope.
func (s *S) decode(raw []byte) (name string, payload []byte, err error) {
	s.smx.Lock()
	ns := s.ns
	s.smx.Unlock()
	format := s.Format()
	if ns != nil {
		if name, payload, err = envelopes.Decode(raw, format); err != nil {
			return
		}
		if name != envelopes.Name(envelopes.TNoise) {
			return "", nil, envelopes.ErrMalformed
		}
		n := &envelopes.Noise{}
		if err = unmarshalPayload(payload, n); err != nil {
			return "", nil, err
		}
		var sealed []byte
		if sealed, err = hex.Dec(n.PayloadHex); err != nil {
			return "", nil, envelopes.ErrMalformed
		}
		if raw, err = ns.Open(sealed); err != nil {
			s.smx.Lock()
			s.aeadFails++
			fatal := s.aeadFails >= maxAeadFailures
			s.smx.Unlock()
			if fatal {
				return "", nil, errAeadFatal
			}
			return "", nil, err
		}
		s.smx.Lock()
		s.aeadFails = 0
		s.smx.Unlock()
	}
	return envelopes.Decode(raw, format)
}
