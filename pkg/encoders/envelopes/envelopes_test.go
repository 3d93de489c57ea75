package envelopes

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTagNameMapping(t *testing.T) {
	for tag, want := range map[uint8]string{
		THello: "hello", TWelcome: "welcome", TPublish: "publish",
		TSubscribe: "subscribe", TUnsubscribe: "unsubscribe",
		TEvent: "event", TAck: "ack", TError: "error", TNoise: "noise",
	} {
		assert.Equal(t, want, Name(tag))
		back, ok := Tag(want)
		assert.True(t, ok)
		assert.Equal(t, tag, back)
	}
	assert.Equal(t, "", Name(99))
	_, ok := Tag("nonsense")
	assert.False(t, ok)
}

func roundTrip(t *testing.T, payload any, wantName string, fmt Format) []byte {
	t.Helper()
	raw, err := Encode(payload, fmt)
	require.NoError(t, err)
	name, body, err := Decode(raw, fmt)
	require.NoError(t, err)
	assert.Equal(t, wantName, name)
	return body
}

func TestRoundTripBothFormats(t *testing.T) {
	for _, format := range []Format{JSON, Binary} {
		hello := NewHello(1, []string{"binary", "json"}, &NoiseInfo{
			Required: true, Pubkey: "00ff",
		})
		body := roundTrip(t, hello, "hello", format)
		back := &Hello{}
		require.NoError(t, json.Unmarshal(body, back))
		assert.Equal(t, hello, back)

		ack := NewAck("aabb", true, "duplicate")
		body = roundTrip(t, ack, "ack", format)
		backAck := &Ack{}
		require.NoError(t, json.Unmarshal(body, backAck))
		assert.Equal(t, ack, backAck)

		errMsg := NewError("invalid_kind", "kind outside all storage classes")
		body = roundTrip(t, errMsg, "error", format)
		backErr := &Error{}
		require.NoError(t, json.Unmarshal(body, backErr))
		assert.Equal(t, errMsg, backErr)
	}
}

func TestBinaryZeroTagEnvelope(t *testing.T) {
	// tag 0 is the byte slot's default, which the builder omits; the
	// decoder must read the missing slot as hello, not reject the frame
	raw, err := Encode(NewHello(1, []string{"binary"}, nil), Binary)
	require.NoError(t, err)
	name, body, err := Decode(raw, Binary)
	require.NoError(t, err)
	assert.Equal(t, "hello", name)
	back := &Hello{}
	require.NoError(t, json.Unmarshal(body, back))
	assert.Equal(t, []string{"binary"}, back.Formats)
}

func TestDecodeUnknownTypeFails(t *testing.T) {
	_, _, err := Decode([]byte(`{"type":"bogus"}`), JSON)
	assert.ErrorIs(t, err, ErrMalformed)
	_, _, err = Decode([]byte(`not json`), JSON)
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestDecodeBinaryGarbageFails(t *testing.T) {
	_, _, err := Decode([]byte{1, 2, 3}, Binary)
	assert.ErrorIs(t, err, ErrMalformed)
	_, _, err = Decode(bytes.Repeat([]byte{0xff}, 64), Binary)
	assert.Error(t, err)
}

func TestBinaryCompact(t *testing.T) {
	sub := NewSubscribe("s1", nil)
	raw, err := Encode(sub, Binary)
	require.NoError(t, err)
	// binary is not the JSON encoding
	assert.NotEqual(t, byte('{'), raw[0])
	name, _, err := Decode(raw, Binary)
	require.NoError(t, err)
	assert.Equal(t, "subscribe", name)
}

func TestFraming(t *testing.T) {
	var buf bytes.Buffer
	first := []byte(`{"type":"hello"}`)
	second := []byte(`{"type":"ack"}`)
	require.NoError(t, WriteFrame(&buf, first))
	require.NoError(t, WriteFrame(&buf, second))
	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, first, got)
	got, err = ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, second, got)
}

func TestFramingViolations(t *testing.T) {
	// zero length
	_, err := ReadFrame(bytes.NewReader([]byte{0, 0, 0, 0}))
	assert.ErrorIs(t, err, ErrMalformed)
	// length beyond the cap
	_, err = ReadFrame(bytes.NewReader([]byte{0xff, 0xff, 0xff, 0xff}))
	assert.ErrorIs(t, err, ErrMalformed)
	// truncated body
	_, err = ReadFrame(bytes.NewReader([]byte{0, 0, 0, 5, 'a', 'b'}))
	assert.Error(t, err)
}
