// Package ints provides a JSON integer type that tolerates the dynamic
// typing of adapter boundaries: plain numbers and numeric strings both decode
// to the same value, per the ingress normalization rules.
package ints

import (
	"strconv"

	"aether.dev/pkg/utils/errorf"
)

// N is an unsigned integer that unmarshals from either a JSON number or a
// JSON string containing a number.
type N uint64

// UnmarshalJSON accepts 5 and "5" alike.
func (n *N) UnmarshalJSON(b []byte) (err error) {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "null" || s == "" {
		*n = 0
		return
	}
	var v uint64
	if v, err = strconv.ParseUint(s, 10, 64); err != nil {
		err = errorf.W("ints: not an unsigned integer: %q", string(b))
		return
	}
	*n = N(v)
	return
}

// MarshalJSON renders the value as a plain JSON number.
func (n N) MarshalJSON() (b []byte, err error) {
	return strconv.AppendUint(nil, uint64(n), 10), nil
}

// Uint64 returns the value as a uint64.
func (n N) Uint64() uint64 { return uint64(n) }
