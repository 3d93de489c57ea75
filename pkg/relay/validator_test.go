package relay

import (
	"bytes"
	"crypto/ed25519"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aether.dev/pkg/encoders/event"
	"aether.dev/pkg/encoders/tag"
	"aether.dev/pkg/relay/reason"
)

func testSigner(seed byte) ed25519.PrivateKey {
	return ed25519.NewKeyFromSeed(bytes.Repeat([]byte{seed}, 32))
}

func signed(
	t *testing.T, k uint16, createdAt uint64, content string,
) (ev *event.E) {
	t.Helper()
	ev = &event.E{CreatedAt: createdAt, Kind: k, Content: []byte(content)}
	require.NoError(t, ev.Sign(testSigner(1)))
	return
}

func newTestValidator() (v *Validator) {
	v = NewValidator(time.Minute, 0, 0, 0, 0)
	v.now = func() uint64 { return 1000 }
	return
}

func TestValidateAccepts(t *testing.T) {
	v := newTestValidator()
	assert.Nil(t, v.Validate(signed(t, 1, 1, "hello")))
}

func TestValidateStructuralFirst(t *testing.T) {
	v := newTestValidator()
	ev := signed(t, 1, 1, "x")
	ev.Tags = tag.S{tag.New("no spaces allowed", "v")}
	rej := v.Validate(ev)
	require.NotNil(t, rej)
	assert.Equal(t, reason.InvalidEvent, rej.Code)
}

func TestValidateIDMismatch(t *testing.T) {
	v := newTestValidator()
	ev := signed(t, 1, 1, "x")
	ev.Content = []byte("y")
	rej := v.Validate(ev)
	require.NotNil(t, rej)
	assert.Equal(t, reason.InvalidEventID, rej.Code)
}

func TestValidateBadSignature(t *testing.T) {
	v := newTestValidator()
	ev := signed(t, 1, 1, "x")
	ev.Sig[0] ^= 1
	rej := v.Validate(ev)
	require.NotNil(t, rej)
	assert.Equal(t, reason.InvalidSignature, rej.Code)
}

func TestValidateInvalidKind(t *testing.T) {
	v := newTestValidator()
	ev := signed(t, 40000, 1, "x")
	rej := v.Validate(ev)
	require.NotNil(t, rej)
	assert.Equal(t, reason.InvalidKind, rej.Code)
}

func TestValidateFutureTimestamp(t *testing.T) {
	v := newTestValidator()
	// beyond now + skew
	tooFar := uint64(1000) + uint64(time.Minute.Nanoseconds()) + 1
	ev := signed(t, 1, tooFar, "x")
	rej := v.Validate(ev)
	require.NotNil(t, rej)
	assert.Equal(t, reason.TimestampOutOfRange, rej.Code)
	// exactly at the bound is accepted, and the past always is
	assert.Nil(t, v.Validate(signed(t, 1, tooFar-1, "x")))
	assert.Nil(t, v.Validate(signed(t, 1, 1, "x")))
}

func TestValidateInsufficientPow(t *testing.T) {
	v := newTestValidator()
	v.PowDifficulty = 1
	// mine until the first bit flips either way to make the test
	// deterministic about both outcomes
	for i := 0; i < 512; i++ {
		ev := signed(t, 1, uint64(i+1), "pow")
		rej := v.Validate(ev)
		if ev.ID[0]&0x80 == 0 {
			assert.Nil(t, rej)
		} else {
			require.NotNil(t, rej)
			assert.Equal(t, reason.InsufficientPow, rej.Code)
		}
	}
}

func TestValidateRateLimited(t *testing.T) {
	v := NewValidator(time.Minute, 0, 0, 2, 0)
	v.now = func() uint64 { return 1000 }
	first := signed(t, 1, 1, "a")
	second := signed(t, 1, 2, "b")
	third := signed(t, 1, 3, "c")
	assert.Nil(t, v.Validate(first))
	assert.Nil(t, v.Validate(second))
	rej := v.Validate(third)
	require.NotNil(t, rej)
	assert.Equal(t, reason.RateLimited, rej.Code)
	// a different publisher gets its own bucket
	other := &event.E{CreatedAt: 1, Kind: 1, Content: []byte("d")}
	require.NoError(t, other.Sign(testSigner(2)))
	assert.Nil(t, v.Validate(other))
}

func TestValidateMaxEventSize(t *testing.T) {
	v := newTestValidator()
	v.MaxEventSize = 64
	rej := v.Validate(signed(t, 1, 1, string(bytes.Repeat([]byte{'x'}, 128))))
	require.NotNil(t, rej)
	assert.Equal(t, reason.InvalidEvent, rej.Code)
}
