package session

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aether.dev/pkg/crypto/noise"
	"aether.dev/pkg/encoders/envelopes"
	"aether.dev/pkg/encoders/event"
	"aether.dev/pkg/encoders/filter"
	"aether.dev/pkg/encoders/hex"
	"aether.dev/pkg/relay"
	"aether.dev/pkg/relay/reason"
	"aether.dev/pkg/store/memory"
	"aether.dev/pkg/utils/context"
)

type fakeConn struct {
	mx     sync.Mutex
	frames [][]byte
	closed bool
}

func (f *fakeConn) send(raw []byte) error {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.frames = append(f.frames, append([]byte{}, raw...))
	return nil
}

func (f *fakeConn) close() {
	f.mx.Lock()
	defer f.mx.Unlock()
	f.closed = true
}

func (f *fakeConn) take() (frames [][]byte) {
	f.mx.Lock()
	defer f.mx.Unlock()
	frames = f.frames
	f.frames = nil
	return
}

func newTestSession(opts Opts) (s *S, conn *fakeConn) {
	r := relay.New(
		memory.New(),
		relay.NewValidator(time.Minute, 0, 0, 0, 0),
		relay.NewDispatcher(16),
	)
	conn = &fakeConn{}
	s = NewSession(r, conn.send, conn.close, opts)
	return
}

func encode(t *testing.T, payload any, format envelopes.Format) []byte {
	t.Helper()
	raw, err := envelopes.Encode(payload, format)
	require.NoError(t, err)
	return raw
}

func decode(
	t *testing.T, raw []byte, format envelopes.Format,
) (name string, payload []byte) {
	t.Helper()
	name, payload, err := envelopes.Decode(raw, format)
	require.NoError(t, err)
	return name, payload
}

func signedEvent(t *testing.T, k uint16, createdAt uint64) (ev *event.E) {
	t.Helper()
	sk := ed25519.NewKeyFromSeed(bytes.Repeat([]byte{1}, 32))
	ev = &event.E{CreatedAt: createdAt, Kind: k, Content: []byte("x")}
	require.NoError(t, ev.Sign(sk))
	return
}

func handshake(
	t *testing.T, s *S, conn *fakeConn, formats ...string,
) envelopes.Format {
	t.Helper()
	hello := envelopes.NewHello(Version, formats, nil)
	s.Receive(context.Bg(), encode(t, hello, envelopes.JSON))
	frames := conn.take()
	require.Len(t, frames, 1)
	format := s.Format()
	name, payload := decode(t, frames[0], format)
	require.Equal(t, "welcome", name)
	welcome := &envelopes.Welcome{}
	require.NoError(t, json.Unmarshal(payload, welcome))
	assert.Equal(t, Version, welcome.Version)
	assert.Equal(t, string(format), welcome.Format)
	return format
}

func TestNegotiationPrefersBinary(t *testing.T) {
	s, conn := newTestSession(Opts{})
	defer s.Close()
	format := handshake(t, s, conn, "json", "binary")
	assert.Equal(t, envelopes.Binary, format)
	assert.Equal(t, Active, s.State())
}

func TestNegotiationJSONOnly(t *testing.T) {
	s, conn := newTestSession(Opts{})
	defer s.Close()
	format := handshake(t, s, conn, "json")
	assert.Equal(t, envelopes.JSON, format)
}

func TestFirstMessageMustBeHello(t *testing.T) {
	s, conn := newTestSession(Opts{})
	defer s.Close()
	pub := envelopes.NewPublish(signedEvent(t, 1, 1).ToJ())
	s.Receive(context.Bg(), encode(t, pub, envelopes.JSON))
	frames := conn.take()
	require.Len(t, frames, 1)
	name, _ := decode(t, frames[0], envelopes.JSON)
	assert.Equal(t, "error", name)
	assert.Equal(t, Closed, s.State())
	assert.True(t, conn.closed)
}

func TestPublishAcked(t *testing.T) {
	s, conn := newTestSession(Opts{})
	defer s.Close()
	format := handshake(t, s, conn, "json")
	ev := signedEvent(t, 1, 1)
	s.Receive(context.Bg(), encode(t, envelopes.NewPublish(ev.ToJ()), format))
	frames := conn.take()
	require.Len(t, frames, 1)
	name, payload := decode(t, frames[0], format)
	require.Equal(t, "ack", name)
	ack := &envelopes.Ack{}
	require.NoError(t, json.Unmarshal(payload, ack))
	assert.True(t, ack.Accepted)
	assert.Equal(t, hex.Enc(ev.ID), ack.EventID)
	assert.Empty(t, ack.Reason)

	// resubmission is acknowledged as a duplicate
	s.Receive(context.Bg(), encode(t, envelopes.NewPublish(ev.ToJ()), format))
	frames = conn.take()
	require.Len(t, frames, 1)
	_, payload = decode(t, frames[0], format)
	require.NoError(t, json.Unmarshal(payload, ack))
	assert.True(t, ack.Accepted)
	assert.Equal(t, reason.Duplicate, ack.Reason)
}

func TestUnknownTypeLeavesSessionActive(t *testing.T) {
	s, conn := newTestSession(Opts{})
	defer s.Close()
	format := handshake(t, s, conn, "json")
	// a server-to-client type arriving inbound is out of place
	s.Receive(context.Bg(), encode(t, envelopes.NewAck("00", true, ""), format))
	frames := conn.take()
	require.Len(t, frames, 1)
	name, payload := decode(t, frames[0], format)
	require.Equal(t, "error", name)
	errMsg := &envelopes.Error{}
	require.NoError(t, json.Unmarshal(payload, errMsg))
	assert.Equal(t, reason.InvalidMessage, errMsg.Code)
	assert.Equal(t, Active, s.State())
}

func TestSubscribeBackfillAndLive(t *testing.T) {
	s, conn := newTestSession(Opts{})
	defer s.Close()
	format := handshake(t, s, conn, "json")
	stored := signedEvent(t, 1, 5)
	s.Receive(context.Bg(), encode(t, envelopes.NewPublish(stored.ToJ()), format))
	conn.take()

	f := (&filter.F{Kinds: []uint16{1}}).ToJ()
	sub := envelopes.NewSubscribe("s1", []*filter.J{f})
	s.Receive(context.Bg(), encode(t, sub, format))
	frames := conn.take()
	require.Len(t, frames, 1)
	name, payload := decode(t, frames[0], format)
	require.Equal(t, "event", name)
	delivery := &envelopes.Event{}
	require.NoError(t, json.Unmarshal(payload, delivery))
	assert.Equal(t, "s1", delivery.SubID)
	assert.Equal(t, hex.Enc(stored.ID), delivery.Event.EventID)

	// unsubscribe, then an unknown sub id is an error
	s.Receive(context.Bg(), encode(t, envelopes.NewUnsubscribe("s1"), format))
	assert.Empty(t, conn.take())
	s.Receive(context.Bg(), encode(t, envelopes.NewUnsubscribe("s1"), format))
	frames = conn.take()
	require.Len(t, frames, 1)
	name, payload = decode(t, frames[0], format)
	require.Equal(t, "error", name)
	errMsg := &envelopes.Error{}
	require.NoError(t, json.Unmarshal(payload, errMsg))
	assert.Equal(t, reason.SubscriptionNotFound, errMsg.Code)
}

func TestNoiseUpgrade(t *testing.T) {
	s, conn := newTestSession(Opts{NoiseRequired: true})
	defer s.Close()
	clientSk, clientPk, err := noise.GenerateKeypair()
	require.NoError(t, err)
	hello := envelopes.NewHello(Version, []string{"json"}, &envelopes.NoiseInfo{
		Required: true, Pubkey: hex.Enc(clientPk),
	})
	s.Receive(context.Bg(), encode(t, hello, envelopes.JSON))
	frames := conn.take()
	require.Len(t, frames, 1)
	name, payload := decode(t, frames[0], envelopes.JSON)
	require.Equal(t, "welcome", name)
	welcome := &envelopes.Welcome{}
	require.NoError(t, json.Unmarshal(payload, welcome))
	require.NotNil(t, welcome.Noise)
	assert.True(t, welcome.Noise.Required)

	serverPk, err := hex.Dec(welcome.Noise.Pubkey)
	require.NoError(t, err)
	key, err := noise.DeriveKey(clientSk, serverPk)
	require.NoError(t, err)
	clientNs, err := noise.NewSession(key)
	require.NoError(t, err)

	// publish travels inside a noise envelope now
	ev := signedEvent(t, 1, 1)
	inner := encode(t, envelopes.NewPublish(ev.ToJ()), envelopes.JSON)
	wrapped := envelopes.NewNoise(hex.Enc(clientNs.Seal(inner)))
	s.Receive(context.Bg(), encode(t, wrapped, envelopes.JSON))
	frames = conn.take()
	require.Len(t, frames, 1)
	name, payload = decode(t, frames[0], envelopes.JSON)
	require.Equal(t, "noise", name)
	noiseEnv := &envelopes.Noise{}
	require.NoError(t, json.Unmarshal(payload, noiseEnv))
	sealed, err := hex.Dec(noiseEnv.PayloadHex)
	require.NoError(t, err)
	plain, err := clientNs.Open(sealed)
	require.NoError(t, err)
	name, payload = decode(t, plain, envelopes.JSON)
	require.Equal(t, "ack", name)
	ack := &envelopes.Ack{}
	require.NoError(t, json.Unmarshal(payload, ack))
	assert.True(t, ack.Accepted)

	// a cleartext frame after the upgrade is malformed
	s.Receive(context.Bg(), encode(t, envelopes.NewPublish(ev.ToJ()), envelopes.JSON))
	frames = conn.take()
	require.Len(t, frames, 1)
}

func TestRepeatedDecryptFailuresCloseSession(t *testing.T) {
	s, conn := newTestSession(Opts{NoiseRequired: true})
	defer s.Close()
	clientSk, clientPk, err := noise.GenerateKeypair()
	require.NoError(t, err)
	hello := envelopes.NewHello(Version, []string{"json"}, &envelopes.NoiseInfo{
		Required: true, Pubkey: hex.Enc(clientPk),
	})
	s.Receive(context.Bg(), encode(t, hello, envelopes.JSON))
	frames := conn.take()
	require.Len(t, frames, 1)
	_, payload := decode(t, frames[0], envelopes.JSON)
	welcome := &envelopes.Welcome{}
	require.NoError(t, json.Unmarshal(payload, welcome))
	serverPk, err := hex.Dec(welcome.Noise.Pubkey)
	require.NoError(t, err)
	key, err := noise.DeriveKey(clientSk, serverPk)
	require.NoError(t, err)
	clientNs, err := noise.NewSession(key)
	require.NoError(t, err)

	inner := encode(t, envelopes.NewPublish(signedEvent(t, 1, 1).ToJ()), envelopes.JSON)
	tampered := func() []byte {
		sealed := clientNs.Seal(inner)
		sealed[len(sealed)-1] ^= 1
		return encode(t, envelopes.NewNoise(hex.Enc(sealed)), envelopes.JSON)
	}

	// two failures, then a frame that authenticates resets the count
	s.Receive(context.Bg(), tampered())
	s.Receive(context.Bg(), tampered())
	assert.Equal(t, Active, s.State())
	conn.take()
	good := encode(t, envelopes.NewNoise(hex.Enc(clientNs.Seal(inner))), envelopes.JSON)
	s.Receive(context.Bg(), good)
	assert.Equal(t, Active, s.State())
	conn.take()

	// three consecutive failures tear the session down
	s.Receive(context.Bg(), tampered())
	s.Receive(context.Bg(), tampered())
	assert.Equal(t, Active, s.State())
	s.Receive(context.Bg(), tampered())
	assert.Equal(t, Closed, s.State())
	assert.True(t, conn.closed)
}

func TestHelloTimeoutSendsErrorAndCloses(t *testing.T) {
	s, conn := newTestSession(Opts{HelloTimeout: 10 * time.Millisecond})
	defer s.Close()
	require.Eventually(t, func() bool {
		conn.mx.Lock()
		defer conn.mx.Unlock()
		return conn.closed
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, Closed, s.State())
	frames := conn.take()
	require.Len(t, frames, 1)
	name, payload := decode(t, frames[0], envelopes.JSON)
	require.Equal(t, "error", name)
	errMsg := &envelopes.Error{}
	require.NoError(t, json.Unmarshal(payload, errMsg))
	assert.Equal(t, reason.InvalidMessage, errMsg.Code)
}
