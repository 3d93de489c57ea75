// Package pow measures proof-of-work on event ids as a count of leading
// zero bits.
package pow

import "math/bits"

// LeadingZeroBits counts the zero bits at the front of id.
func LeadingZeroBits(id []byte) (n int) {
	for _, b := range id {
		if b == 0 {
			n += 8
			continue
		}
		n += bits.LeadingZeros8(b)
		break
	}
	return
}

// Check reports whether id carries at least difficulty leading zero bits.
// Difficulty zero always passes.
func Check(id []byte, difficulty int) bool {
	if difficulty <= 0 {
		return true
	}
	return LeadingZeroBits(id) >= difficulty
}
