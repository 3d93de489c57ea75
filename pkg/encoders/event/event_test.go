package event

import (
	"bytes"
	"crypto/ed25519"
	"encoding/binary"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aether.dev/pkg/encoders/tag"
)

func testKey() ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(bytes.Repeat([]byte{0x01}, 32))
}

func TestSignVerifyRoundTrip(t *testing.T) {
	ev := &E{
		CreatedAt: 1,
		Kind:      1,
		Content:   []byte("hello"),
	}
	require.NoError(t, ev.Sign(testKey()))
	assert.Len(t, ev.ID, IDLen)
	assert.Len(t, ev.Pubkey, PubkeyLen)
	assert.Len(t, ev.Sig, SigLen)
	assert.True(t, ev.Verify())
	assert.Equal(t, ev.ComputeID(), ev.ID)
	// flipping a signature bit must break verification
	ev.Sig[0] ^= 1
	assert.False(t, ev.Verify())
}

func TestCanonicalLayout(t *testing.T) {
	ev := &E{
		Pubkey:    bytes.Repeat([]byte{0xab}, PubkeyLen),
		CreatedAt: 0x0102030405060708,
		Kind:      0x2a,
		Tags: tag.S{
			tag.New("d", "x", "y"),
		},
		Content: []byte("payload"),
	}
	b := ev.Canonical(nil)
	assert.Equal(t, ev.Pubkey, b[:32])
	assert.Equal(t, uint64(0x0102030405060708), binary.BigEndian.Uint64(b[32:40]))
	assert.Equal(t, uint16(0x2a), binary.BigEndian.Uint16(b[40:42]))
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(b[42:44]))
	// tag: keylen, key, value count, then each length-prefixed value
	assert.Equal(t, uint8(1), b[44])
	assert.Equal(t, byte('d'), b[45])
	assert.Equal(t, uint16(2), binary.BigEndian.Uint16(b[46:48]))
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(b[48:50]))
	assert.Equal(t, byte('x'), b[50])
	assert.Equal(t, uint16(1), binary.BigEndian.Uint16(b[51:53]))
	assert.Equal(t, byte('y'), b[53])
	assert.Equal(t, []byte("payload"), b[54:])
}

func TestIDDeterminism(t *testing.T) {
	mk := func() *E {
		return &E{
			Pubkey:    bytes.Repeat([]byte{7}, PubkeyLen),
			CreatedAt: 42,
			Kind:      10001,
			Tags:      tag.S{tag.New("d", "v")},
			Content:   []byte("same"),
		}
	}
	assert.Equal(t, mk().ComputeID(), mk().ComputeID())
	// any canonical field change moves the id
	other := mk()
	other.CreatedAt++
	assert.NotEqual(t, mk().ComputeID(), other.ComputeID())
}

func TestCheckStructure(t *testing.T) {
	ev := &E{
		CreatedAt: 1,
		Kind:      1,
		Content:   []byte("ok"),
	}
	require.NoError(t, ev.Sign(testKey()))
	require.NoError(t, ev.CheckStructure())

	bad := *ev
	bad.Pubkey = bad.Pubkey[:31]
	assert.Error(t, bad.CheckStructure())

	bad = *ev
	bad.Tags = tag.S{tag.New("toolongkey", "v")}
	assert.Error(t, bad.CheckStructure())

	bad = *ev
	bad.Tags = tag.S{tag.New("bad key", "v")}
	assert.Error(t, bad.CheckStructure())
}

func TestSortDeliveryOrder(t *testing.T) {
	a := &E{CreatedAt: 1, ID: []byte{0x01}}
	b := &E{CreatedAt: 2, ID: []byte{0x02}}
	c := &E{CreatedAt: 2, ID: []byte{0x03}}
	s := S{a, b, c}
	sort.Sort(s)
	// newest first, tie broken by greater id
	assert.Equal(t, S{c, b, a}, s)
}

func TestJSONRoundTrip(t *testing.T) {
	ev := &E{
		CreatedAt: 7,
		Kind:      30000,
		Tags:      tag.S{tag.New("d", "light/kitchen")},
		Content:   []byte("state"),
	}
	require.NoError(t, ev.Sign(testKey()))
	back, err := Unmarshal(ev.Serialize())
	require.NoError(t, err)
	assert.True(t, ev.Equal(back))
	assert.Equal(t, ev.CreatedAt, back.CreatedAt)
	assert.Equal(t, ev.Kind, back.Kind)
	assert.Equal(t, "light/kitchen", back.DValue())
}

func TestJSONIDAlias(t *testing.T) {
	ev := &E{CreatedAt: 1, Kind: 1, Content: []byte("x")}
	require.NoError(t, ev.Sign(testKey()))
	j := ev.ToJ()
	j.ID, j.EventID = j.EventID, ""
	back, err := j.ToEvent()
	require.NoError(t, err)
	assert.True(t, ev.Equal(back))
}

func TestKindOverflowRejected(t *testing.T) {
	ev := &E{CreatedAt: 1, Kind: 1, Content: []byte("x")}
	require.NoError(t, ev.Sign(testKey()))
	j := ev.ToJ()
	j.Kind = 70000
	_, err := j.ToEvent()
	assert.Error(t, err)
}
