// Package kind maps event kind numbers to their storage classes. The class
// decides whether an event is stored forever, kept one-per-key, or only
// fanned out.
package kind

// Kind range bounds. Kinds outside all four ranges are rejected.
const (
	ImmutableStart              = 0
	ImmutableEnd                = 999
	ReplaceableStart            = 10000
	ReplaceableEnd              = 19999
	EphemeralStart              = 20000
	EphemeralEnd                = 29999
	ParameterizedStart          = 30000
	ParameterizedEnd            = 39999
	// Max is the largest valid kind.
	Max = ParameterizedEnd
	// MaxU16 is the largest value the wire kind field can carry.
	MaxU16 = 0xFFFF
)

// Class is the storage class of a kind.
type Class int

const (
	// Invalid marks kinds outside all defined ranges.
	Invalid Class = iota
	// Immutable events are stored indefinitely, subject to a configured TTL.
	Immutable
	// Replaceable events keep at most one live event per (pubkey, kind).
	Replaceable
	// Ephemeral events are fanned out only, never stored.
	Ephemeral
	// ParameterizedReplaceable events keep at most one live event per
	// (pubkey, kind, d-value).
	ParameterizedReplaceable
)

// ClassOf returns the storage class of k.
func ClassOf(k uint16) Class {
	switch {
	case k <= ImmutableEnd:
		return Immutable
	case k >= ReplaceableStart && k <= ReplaceableEnd:
		return Replaceable
	case k >= EphemeralStart && k <= EphemeralEnd:
		return Ephemeral
	case k >= ParameterizedStart && k <= ParameterizedEnd:
		return ParameterizedReplaceable
	}
	return Invalid
}

// IsValid reports whether k falls inside one of the four classes.
func IsValid(k uint16) bool { return ClassOf(k) != Invalid }

// IsEphemeral reports whether events of kind k are never persisted.
func IsEphemeral(k uint16) bool { return ClassOf(k) == Ephemeral }

// IsReplaceable reports whether k is in the plain replaceable range.
func IsReplaceable(k uint16) bool { return ClassOf(k) == Replaceable }

// IsParameterizedReplaceable reports whether k is in the parameterized
// replaceable range.
func IsParameterizedReplaceable(k uint16) bool {
	return ClassOf(k) == ParameterizedReplaceable
}
