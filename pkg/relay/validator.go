// Package relay is the transport-independent core: validation, storage
// dispatch and subscription fan-out. Gateways adapt wire surfaces onto it.
package relay

import (
	"crypto/subtle"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/time/rate"

	"aether.dev/pkg/crypto/pow"
	"aether.dev/pkg/encoders/event"
	"aether.dev/pkg/encoders/kind"
	"aether.dev/pkg/relay/reason"
)

// DefaultMaxSkew is how far into the future a created_at may point. Stale
// timestamps are never rejected; replaceable semantics handle them.
const DefaultMaxSkew = 60 * time.Second

// Rejection is a validation verdict: a stable discriminant code plus a
// human-readable message. A nil Rejection means the event is acceptable.
type Rejection struct {
	Code    string
	Message string
}

func reject(code, message string) *Rejection {
	return &Rejection{Code: code, Message: message}
}

// Validator runs the acceptance pipeline over inbound events. The zero
// value is not usable; construct with NewValidator.
type Validator struct {
	// MaxSkew bounds future-dated created_at values.
	MaxSkew time.Duration

	// PowDifficulty requires this many leading zero bits on the event id.
	// Zero disables the check.
	PowDifficulty int

	// MaxEventSize caps the canonical encoding. Zero means the content
	// cap alone applies.
	MaxEventSize int

	// RateCapacity and RatePerSec shape the per-publisher token bucket.
	// Zero capacity disables rate limiting.
	RateCapacity int
	RatePerSec   float64

	limiters *xsync.MapOf[string, *rate.Limiter]

	// now is the nanosecond clock, swappable in tests.
	now func() uint64
}

// NewValidator builds a validator with the given policy knobs.
func NewValidator(
	maxSkew time.Duration, powDifficulty, maxEventSize, rateCapacity int,
	ratePerSec float64,
) (v *Validator) {
	if maxSkew <= 0 {
		maxSkew = DefaultMaxSkew
	}
	return &Validator{
		MaxSkew:       maxSkew,
		PowDifficulty: powDifficulty,
		MaxEventSize:  maxEventSize,
		RateCapacity:  rateCapacity,
		RatePerSec:    ratePerSec,
		limiters:      xsync.NewMapOf[string, *rate.Limiter](),
		now:           func() uint64 { return uint64(time.Now().UnixNano()) },
	}
}

// Validate runs the checks in their fixed order: structure, id, signature,
// kind, timestamp, proof of work, rate limit. The first failure decides the
// verdict; nil means accepted.
func (v *Validator) Validate(ev *event.E) (rej *Rejection) {
	if err := ev.CheckStructure(); err != nil {
		return reject(reason.InvalidEvent, err.Error())
	}
	if v.MaxEventSize > 0 {
		if size := len(ev.Canonical(nil)); size > v.MaxEventSize {
			return reject(reason.InvalidEvent, "event exceeds size limit")
		}
	}
	if subtle.ConstantTimeCompare(ev.ComputeID(), ev.ID) != 1 {
		return reject(
			reason.InvalidEventID, "event_id does not match canonical hash",
		)
	}
	if !ev.Verify() {
		return reject(reason.InvalidSignature, "signature does not verify")
	}
	if !kind.IsValid(ev.Kind) {
		return reject(reason.InvalidKind, "kind outside all storage classes")
	}
	if ev.CreatedAt > v.now()+uint64(v.MaxSkew.Nanoseconds()) {
		return reject(
			reason.TimestampOutOfRange, "created_at too far in the future",
		)
	}
	if !pow.Check(ev.ID, v.PowDifficulty) {
		return reject(
			reason.InsufficientPow, "event id short of required work",
		)
	}
	if v.RateCapacity > 0 && !v.limiter(ev.Pubkey).Allow() {
		return reject(reason.RateLimited, "publisher over rate budget")
	}
	return nil
}

func (v *Validator) limiter(pubkey []byte) (l *rate.Limiter) {
	l, _ = v.limiters.LoadOrCompute(string(pubkey), func() *rate.Limiter {
		return rate.NewLimiter(rate.Limit(v.RatePerSec), v.RateCapacity)
	})
	return
}
