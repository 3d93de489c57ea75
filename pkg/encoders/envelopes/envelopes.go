// Package envelopes is the codec for the native wire protocol: a typed
// envelope carried either as a JSON object (the type field is the tag) or as
// a compact binary table holding a u8 type tag and a byte vector with the
// JSON-encoded payload, plus 4-byte big-endian length framing for stream
// transports.
package envelopes

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"

	flatbuffers "github.com/google/flatbuffers/go"

	"aether.dev/pkg/encoders/event"
	"aether.dev/pkg/encoders/filter"
)

// Format selects the envelope encoding negotiated at handshake.
type Format string

const (
	// Binary is the compact table format, preferred when both sides
	// support it.
	Binary Format = "binary"
	// JSON is the UTF-8 object format.
	JSON Format = "json"
)

// Message type tags. The numeric values are the binary envelope type codes;
// the labels are the JSON "type" field.
const (
	THello uint8 = iota
	TWelcome
	TPublish
	TSubscribe
	TUnsubscribe
	TEvent
	TAck
	TError
	TNoise
)

var typeNames = []string{
	"hello", "welcome", "publish", "subscribe", "unsubscribe",
	"event", "ack", "error", "noise",
}

// Name returns the JSON label of a type tag, or "" for unknown tags.
func Name(t uint8) string {
	if int(t) >= len(typeNames) {
		return ""
	}
	return typeNames[t]
}

// Tag returns the type code of a JSON label, and whether it is known.
func Tag(name string) (t uint8, ok bool) {
	for i, n := range typeNames {
		if n == name {
			return uint8(i), true
		}
	}
	return
}

// ErrMalformed is the discriminant for framing violations, unknown type
// tags, and undecodable envelopes.
var ErrMalformed = errors.New("malformed_frame")

// NoiseInfo is the transport-encryption block of HELLO and WELCOME.
type NoiseInfo struct {
	Required bool   `json:"required"`
	Pubkey   string `json:"pubkey,omitempty"`
}

// Hello is the client's opening message.
type Hello struct {
	Type    string     `json:"type"`
	Version int        `json:"version"`
	Formats []string   `json:"formats"`
	Noise   *NoiseInfo `json:"noise,omitempty"`
}

// Welcome is the server's handshake response.
type Welcome struct {
	Type    string     `json:"type"`
	Version int        `json:"version"`
	Format  string     `json:"format"`
	Noise   *NoiseInfo `json:"noise,omitempty"`
}

// Publish submits one event.
type Publish struct {
	Type  string   `json:"type"`
	Event *event.J `json:"event"`
}

// Subscribe opens a subscription with one or more filters (disjunction).
type Subscribe struct {
	Type    string      `json:"type"`
	SubID   string      `json:"sub_id"`
	Filters []*filter.J `json:"filters"`
}

// Unsubscribe closes a subscription.
type Unsubscribe struct {
	Type  string `json:"type"`
	SubID string `json:"sub_id"`
}

// Event delivers a matching event to a subscription.
type Event struct {
	Type  string   `json:"type"`
	SubID string   `json:"sub_id"`
	Event *event.J `json:"event"`
}

// Ack answers a publish.
type Ack struct {
	Type     string `json:"type"`
	EventID  string `json:"event_id"`
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// Error reports a protocol or validation failure.
type Error struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

// Noise wraps an encrypted inner frame: 8-byte big-endian counter followed
// by the AEAD ciphertext, hex encoded.
type Noise struct {
	Type       string `json:"type"`
	PayloadHex string `json:"payload_hex"`
}

// NewHello fills in the type label.
func NewHello(version int, formats []string, n *NoiseInfo) *Hello {
	return &Hello{Type: Name(THello), Version: version, Formats: formats, Noise: n}
}

// NewWelcome fills in the type label.
func NewWelcome(version int, format Format, n *NoiseInfo) *Welcome {
	return &Welcome{
		Type: Name(TWelcome), Version: version, Format: string(format),
		Noise: n,
	}
}

// NewPublish fills in the type label.
func NewPublish(ev *event.J) *Publish {
	return &Publish{Type: Name(TPublish), Event: ev}
}

// NewSubscribe fills in the type label.
func NewSubscribe(subID string, fs []*filter.J) *Subscribe {
	return &Subscribe{Type: Name(TSubscribe), SubID: subID, Filters: fs}
}

// NewUnsubscribe fills in the type label.
func NewUnsubscribe(subID string) *Unsubscribe {
	return &Unsubscribe{Type: Name(TUnsubscribe), SubID: subID}
}

// NewEvent fills in the type label.
func NewEvent(subID string, ev *event.J) *Event {
	return &Event{Type: Name(TEvent), SubID: subID, Event: ev}
}

// NewAck fills in the type label.
func NewAck(eventID string, accepted bool, reason string) *Ack {
	return &Ack{
		Type: Name(TAck), EventID: eventID, Accepted: accepted, Reason: reason,
	}
}

// NewError fills in the type label.
func NewError(code, message string) *Error {
	return &Error{Type: Name(TError), Code: code, Message: message}
}

// NewNoise fills in the type label.
func NewNoise(payloadHex string) *Noise {
	return &Noise{Type: Name(TNoise), PayloadHex: payloadHex}
}

// Encode renders a typed payload in the given format. The payload must be
// one of the envelope structs above with its type label filled in.
func Encode(payload any, fmt Format) (b []byte, err error) {
	var body []byte
	if body, err = json.Marshal(payload); err != nil {
		return
	}
	if fmt == JSON {
		return body, nil
	}
	var t uint8
	var ok bool
	if t, ok = Tag(typeLabel(payload)); !ok {
		return nil, ErrMalformed
	}
	return encodeTable(t, body), nil
}

// Decode identifies the envelope type and returns its label along with the
// raw JSON payload bytes for a second-stage typed unmarshal. Unknown tags
// and undecodable envelopes fail with ErrMalformed.
func Decode(raw []byte, fmt Format) (name string, payload []byte, err error) {
	if fmt == JSON {
		var probe struct {
			Type string `json:"type"`
		}
		if err = json.Unmarshal(raw, &probe); err != nil {
			return "", nil, ErrMalformed
		}
		if _, ok := Tag(probe.Type); !ok {
			return "", nil, ErrMalformed
		}
		return probe.Type, raw, nil
	}
	var t uint8
	if t, payload, err = decodeTable(raw); err != nil {
		return
	}
	if name = Name(t); name == "" {
		return "", nil, ErrMalformed
	}
	return
}

// encodeTable builds the two-field binary table: slot 0 holds the u8 type
// tag, slot 1 the payload byte vector.
func encodeTable(t uint8, body []byte) (b []byte) {
	builder := flatbuffers.NewBuilder(len(body) + 64)
	vec := builder.CreateByteVector(body)
	builder.StartObject(2)
	builder.PrependByteSlot(0, t, 0)
	builder.PrependUOffsetTSlot(1, vec, 0)
	obj := builder.EndObject()
	builder.Finish(obj)
	return builder.FinishedBytes()
}

func decodeTable(raw []byte) (t uint8, payload []byte, err error) {
	defer func() {
		// the table accessors index raw offsets; treat any panic on truncated
		// or garbage input as a framing violation
		if recover() != nil {
			t, payload, err = 0, nil, ErrMalformed
		}
	}()
	if len(raw) < 8 {
		return 0, nil, ErrMalformed
	}
	tab := &flatbuffers.Table{Bytes: raw, Pos: flatbuffers.GetUOffsetT(raw)}
	// a missing slot holds the default value; the builder omits slot 0 for
	// tag 0, so absence means THello
	if tOff := flatbuffers.UOffsetT(tab.Offset(4)); tOff != 0 {
		t = tab.GetByte(tOff + tab.Pos)
	}
	pOff := flatbuffers.UOffsetT(tab.Offset(6))
	if pOff == 0 {
		payload = []byte("{}")
		return
	}
	payload = tab.ByteVector(pOff + tab.Pos)
	return
}

func typeLabel(payload any) string {
	switch m := payload.(type) {
	case *Hello:
		return m.Type
	case *Welcome:
		return m.Type
	case *Publish:
		return m.Type
	case *Subscribe:
		return m.Type
	case *Unsubscribe:
		return m.Type
	case *Event:
		return m.Type
	case *Ack:
		return m.Type
	case *Error:
		return m.Type
	case *Noise:
		return m.Type
	}
	return ""
}

// MaxFrameLen caps a framed envelope; anything larger is a framing
// violation. Sized to clear the 16 MiB content cap with envelope overhead.
const MaxFrameLen = 20 << 20

// WriteFrame writes the 4-byte big-endian length prefix followed by the
// envelope bytes.
func WriteFrame(w io.Writer, raw []byte) (err error) {
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(raw)))
	if _, err = w.Write(hdr[:]); err != nil {
		return
	}
	_, err = w.Write(raw)
	return
}

// ReadFrame reads one length-prefixed envelope from a stream transport.
func ReadFrame(r io.Reader) (raw []byte, err error) {
	var hdr [4]byte
	if _, err = io.ReadFull(r, hdr[:]); err != nil {
		return
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n == 0 || n > MaxFrameLen {
		return nil, ErrMalformed
	}
	raw = make([]byte, n)
	if _, err = io.ReadFull(r, raw); err != nil {
		return nil, err
	}
	return
}
