// Package reason holds the stable result discriminants the core hands to
// gateways. Every surface translates these into its own rejection shape;
// the strings themselves are wire-visible and must not change.
package reason

const (
	// InvalidMessage marks an envelope that parsed but makes no sense.
	InvalidMessage = "invalid_message"
	// InvalidEvent marks structural failures: field sizes, tag
	// constraints, content over the cap.
	InvalidEvent = "invalid_event"
	// InvalidEventID marks an id that does not match the canonical hash.
	InvalidEventID = "invalid_event_id"
	// InvalidSignature marks a signature that does not verify.
	InvalidSignature = "invalid_signature"
	// InvalidKind marks a kind outside all storage-class ranges.
	InvalidKind = "invalid_kind"
	// TimestampOutOfRange marks a created_at too far in the future.
	TimestampOutOfRange = "timestamp_out_of_range"
	// InsufficientPow marks an id short of the required leading zero bits.
	InsufficientPow = "insufficient_pow"
	// ValidationFailed is the catch-all validation discriminant.
	ValidationFailed = "validation_failed"
	// SubscriptionNotFound marks an unsubscribe for an unknown sub id.
	SubscriptionNotFound = "subscription_not_found"
	// RateLimited marks a publisher over its token budget.
	RateLimited = "rate_limited"
	// MalformedFrame marks an undecodable or oversize frame.
	MalformedFrame = "malformed_frame"
	// Internal marks a relay-side failure.
	Internal = "internal_error"
	// Duplicate is the accepted-but-ignored reason on resubmission.
	Duplicate = "duplicate"
)
