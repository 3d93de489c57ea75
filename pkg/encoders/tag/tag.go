// Package tag is the codec for event tags: a key with an ordered list of
// values, wire form ["key", "value"...].
package tag

import (
	"encoding/json"

	"aether.dev/pkg/utils/errorf"
)

// Constraints on tag shape, enforced at validation.
const (
	// MaxKeyLen is the longest allowed tag key.
	MaxKeyLen = 8
	// MaxValues is the most values one tag may carry.
	MaxValues = 16
	// MaxValueLen is the longest allowed single value in bytes.
	MaxValueLen = 1024
)

// T is one tag: a key and its values.
type T struct {
	Key    string
	Values []string
}

// S is an ordered list of tags.
type S []*T

// New creates a tag from a key and values.
func New(key string, values ...string) *T { return &T{Key: key, Values: values} }

// KeyValid reports whether key is 1-8 ASCII characters from
// [A-Za-z0-9_].
func KeyValid(key string) bool {
	if len(key) < 1 || len(key) > MaxKeyLen {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		ok := c >= 'a' && c <= 'z' ||
			c >= 'A' && c <= 'Z' ||
			c >= '0' && c <= '9' ||
			c == '_'
		if !ok {
			return false
		}
	}
	return true
}

// Validate checks the tag against the key and value constraints.
func (t *T) Validate() (err error) {
	if !KeyValid(t.Key) {
		return errorf.W("tag: invalid key %q", t.Key)
	}
	if len(t.Values) > MaxValues {
		return errorf.W("tag: %q has %d values, max %d", t.Key, len(t.Values), MaxValues)
	}
	for _, v := range t.Values {
		if len(v) > MaxValueLen {
			return errorf.W("tag: %q value of %d bytes, max %d", t.Key, len(v), MaxValueLen)
		}
	}
	return
}

// MarshalJSON renders the tag as ["key", "value"...].
func (t *T) MarshalJSON() (b []byte, err error) {
	arr := make([]string, 0, len(t.Values)+1)
	arr = append(arr, t.Key)
	arr = append(arr, t.Values...)
	return json.Marshal(arr)
}

// UnmarshalJSON reads the ["key", "value"...] form.
func (t *T) UnmarshalJSON(b []byte) (err error) {
	var arr []string
	if err = json.Unmarshal(b, &arr); err != nil {
		return
	}
	if len(arr) == 0 {
		return errorf.W("tag: empty array")
	}
	t.Key = arr[0]
	t.Values = arr[1:]
	return
}

// DValue returns the first value of the first tag with key "d", or the empty
// string when absent. This is the parameterized replaceable key component.
func (s S) DValue() (d string) {
	for _, t := range s {
		if t.Key == "d" {
			if len(t.Values) > 0 {
				d = t.Values[0]
			}
			return
		}
	}
	return
}

// ContainsValue reports whether some tag with the given key carries the given
// value.
func (s S) ContainsValue(key, value string) bool {
	for _, t := range s {
		if t.Key != key {
			continue
		}
		for _, v := range t.Values {
			if v == value {
				return true
			}
		}
	}
	return false
}
