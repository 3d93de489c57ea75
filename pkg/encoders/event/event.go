// Package event provides the codec for aether events: the JSON wire form,
// the canonical binary form that is hashed to generate the event id, and
// signing/verification over that id.
package event

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"

	"lukechampine.com/blake3"

	"aether.dev/pkg/encoders/tag"
	"aether.dev/pkg/utils/errorf"
)

// Field sizes of an event.
const (
	// IDLen is the size of the Blake3 event id.
	IDLen = 32
	// PubkeyLen is the size of an Ed25519 public key.
	PubkeyLen = 32
	// SigLen is the size of an Ed25519 signature.
	SigLen = 64
	// MaxContentLen caps the opaque content payload at 16 MiB.
	MaxContentLen = 16 << 20
	// MaxTags caps the tag count at what the canonical u16 counter can hold.
	MaxTags = 0xFFFF
)

// E is the primary datatype of the relay: a signed, content-addressed
// record.
type E struct {

	// ID is the Blake3 hash of the canonical encoding of the event.
	ID []byte

	// Pubkey is the Ed25519 public key of the event creator.
	Pubkey []byte

	// CreatedAt is nanoseconds since the Unix epoch according to the event
	// creator (never trust a timestamp!).
	CreatedAt uint64

	// Kind selects the storage class of the event.
	Kind uint16

	// Tags is the ordered list of (key, values) tags.
	Tags tag.S

	// Content is opaque bytes; the relay never interprets it.
	Content []byte

	// Sig is the Ed25519 signature over ID that validates as coming from
	// Pubkey.
	Sig []byte
}

// New makes a new empty event.E.
func New() (ev *E) { return &E{} }

// S is a slice of events that sorts newest first, ties broken by bytewise
// descending id, matching the store's query order.
type S []*E

// Len returns the length of the event slice.
func (s S) Len() int { return len(s) }

// Less returns whether i sorts before j: larger created_at first, then
// larger id.
func (s S) Less(i, j int) bool {
	if s[i].CreatedAt != s[j].CreatedAt {
		return s[i].CreatedAt > s[j].CreatedAt
	}
	return bytes.Compare(s[i].ID, s[j].ID) > 0
}

// Swap two indexes of the event slice with each other.
func (s S) Swap(i, j int) { s[i], s[j] = s[j], s[i] }

// C is a channel that carries events.
type C chan *E

// Canonical appends the canonical serialization of the event to dst:
//
//	[ 32 bytes pubkey ]
//	[ 8 bytes big-endian created_at ]
//	[ 2 bytes big-endian kind ]
//	[ 2 bytes big-endian tag count ]
//	  [ 1 byte key length ] [ key ]
//	  [ 2 bytes value count ]
//	    [ 2 bytes value length ] [ value ]
//	  ...
//	[ content ]
//
// The id and signature are not part of the canonical form.
func (ev *E) Canonical(dst []byte) (b []byte) {
	b = append(dst, ev.Pubkey...)
	b = binary.BigEndian.AppendUint64(b, ev.CreatedAt)
	b = binary.BigEndian.AppendUint16(b, ev.Kind)
	b = binary.BigEndian.AppendUint16(b, uint16(len(ev.Tags)))
	for _, t := range ev.Tags {
		b = append(b, uint8(len(t.Key)))
		b = append(b, t.Key...)
		b = binary.BigEndian.AppendUint16(b, uint16(len(t.Values)))
		for _, v := range t.Values {
			b = binary.BigEndian.AppendUint16(b, uint16(len(v)))
			b = append(b, v...)
		}
	}
	b = append(b, ev.Content...)
	return
}

// ComputeID returns the Blake3 hash of the canonical serialization.
func (ev *E) ComputeID() (id []byte) {
	sum := blake3.Sum256(ev.Canonical(nil))
	return sum[:]
}

// Sign computes the event id and signs it with the given Ed25519 private
// key, filling in ID, Pubkey and Sig.
func (ev *E) Sign(sk ed25519.PrivateKey) (err error) {
	ev.Pubkey = append([]byte{}, sk.Public().(ed25519.PublicKey)...)
	ev.ID = ev.ComputeID()
	ev.Sig = ed25519.Sign(sk, ev.ID)
	return
}

// Verify checks that the signature over the id validates against the
// pubkey. It does not recompute the id; that is the validator's job.
func (ev *E) Verify() (valid bool) {
	if len(ev.Pubkey) != PubkeyLen || len(ev.ID) != IDLen ||
		len(ev.Sig) != SigLen {
		return
	}
	return ed25519.Verify(ed25519.PublicKey(ev.Pubkey), ev.ID, ev.Sig)
}

// CheckStructure validates field sizes and tag constraints without touching
// the crypto.
func (ev *E) CheckStructure() (err error) {
	if len(ev.ID) != IDLen {
		return errorf.W("event: id is %d bytes, want %d", len(ev.ID), IDLen)
	}
	if len(ev.Pubkey) != PubkeyLen {
		return errorf.W(
			"event: pubkey is %d bytes, want %d", len(ev.Pubkey), PubkeyLen,
		)
	}
	if len(ev.Sig) != SigLen {
		return errorf.W("event: sig is %d bytes, want %d", len(ev.Sig), SigLen)
	}
	if len(ev.Content) > MaxContentLen {
		return errorf.W(
			"event: content is %d bytes, max %d", len(ev.Content),
			MaxContentLen,
		)
	}
	if len(ev.Tags) > MaxTags {
		return errorf.W("event: %d tags, max %d", len(ev.Tags), MaxTags)
	}
	for _, t := range ev.Tags {
		if err = t.Validate(); err != nil {
			return
		}
	}
	return
}

// DValue returns the parameterized replaceable key component of the event.
func (ev *E) DValue() string { return ev.Tags.DValue() }

// Equal reports whether two events carry the same id.
func (ev *E) Equal(other *E) bool { return bytes.Equal(ev.ID, other.ID) }
