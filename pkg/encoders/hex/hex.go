// Package hex wraps the accelerated xhex codec with the short helper names
// used throughout the relay.
package hex

import (
	"github.com/templexxx/xhex"

	"aether.dev/pkg/utils/errorf"
)

// Enc encodes binary data as a lowercase hex string.
func Enc(b []byte) (s string) {
	dst := make([]byte, len(b)*2)
	xhex.Encode(dst, b)
	return string(dst)
}

// Dec decodes a hex string into a new byte slice.
func Dec(s string) (b []byte, err error) {
	if len(s)%2 != 0 {
		err = errorf.W("hex: odd length input %d", len(s))
		return
	}
	b = make([]byte, len(s)/2)
	if err = xhex.Decode(b, []byte(s)); err != nil {
		b = nil
		return
	}
	return
}

// DecAppend decodes a hex string and appends the bytes to dst.
func DecAppend(dst []byte, s string) (b []byte, err error) {
	var d []byte
	if d, err = Dec(s); err != nil {
		return
	}
	b = append(dst, d...)
	return
}
