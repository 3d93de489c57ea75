// Package filter is the codec for subscription filters: a conjunction of
// optional predicates over events, with ingress normalization of the two
// accepted tag-filter shapes and the authoritative match predicate.
package filter

import (
	"bytes"
	"encoding/json"
	"sort"

	"aether.dev/pkg/encoders/event"
	"aether.dev/pkg/encoders/hex"
	"aether.dev/pkg/encoders/ints"
	"aether.dev/pkg/utils/errorf"
)

// MaxPrefixLen caps pubkey prefixes at a full key.
const MaxPrefixLen = 32

// F is the normalized filter form all stages after ingress see. Within each
// predicate the alternatives are a disjunction; the predicates themselves
// conjoin. Tags group required values by key: a match needs, for every key,
// at least one of that key's listed values (AND across keys, OR within a
// key).
type F struct {
	Kinds          []uint16
	PubkeyPrefixes [][]byte
	Tags           map[string][]string
	Since          *uint64
	Until          *uint64
	Limit          *uint
}

// New creates an empty filter that matches everything.
func New() (f *F) { return &F{} }

// Match reports whether every present predicate holds for the event. Limit
// is not a match predicate; it only bounds historical backfill.
func (f *F) Match(ev *event.E) bool {
	if f.Kinds != nil {
		ok := false
		for _, k := range f.Kinds {
			if ev.Kind == k {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.PubkeyPrefixes != nil {
		ok := false
		for _, p := range f.PubkeyPrefixes {
			if bytes.HasPrefix(ev.Pubkey, p) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	for key, values := range f.Tags {
		ok := false
		for _, v := range values {
			if ev.Tags.ContainsValue(key, v) {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.Since != nil && ev.CreatedAt < *f.Since {
		return false
	}
	if f.Until != nil && ev.CreatedAt > *f.Until {
		return false
	}
	return true
}

// TagPairs flattens the tag groups into (key, value) pairs in deterministic
// order, for index registration.
func (f *F) TagPairs() (pairs [][2]string) {
	keys := make([]string, 0, len(f.Tags))
	for k := range f.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		for _, v := range f.Tags[k] {
			pairs = append(pairs, [2]string{k, v})
		}
	}
	return
}

// J is the JSON ingress form of a filter. Tag filters may be supplied either
// as a mapping {key: [values]} or as a list of [key, value] pairs; both
// normalize to the same grouped shape. Numeric fields tolerate strings.
type J struct {
	Kinds          []ints.N        `json:"kinds,omitempty"`
	PubkeyPrefixes []string        `json:"pubkey_prefixes,omitempty"`
	Tags           json.RawMessage `json:"tags,omitempty"`
	Since          *ints.N         `json:"since,omitempty"`
	Until          *ints.N         `json:"until,omitempty"`
	Limit          *ints.N         `json:"limit,omitempty"`
}

// Normalize converts the ingress form into the internal form, decoding hex
// prefixes and resolving the two tag-filter shapes.
func (j *J) Normalize() (f *F, err error) {
	f = New()
	if j.Kinds != nil {
		f.Kinds = make([]uint16, 0, len(j.Kinds))
		for _, k := range j.Kinds {
			if k.Uint64() > 0xFFFF {
				return nil, errorf.W("filter: kind %d overflows u16", k.Uint64())
			}
			f.Kinds = append(f.Kinds, uint16(k.Uint64()))
		}
	}
	if j.PubkeyPrefixes != nil {
		f.PubkeyPrefixes = make([][]byte, 0, len(j.PubkeyPrefixes))
		for _, p := range j.PubkeyPrefixes {
			var b []byte
			if b, err = hex.Dec(p); err != nil {
				return nil, errorf.W("filter: pubkey prefix is not hex: %q", p)
			}
			if len(b) > MaxPrefixLen {
				return nil, errorf.W("filter: pubkey prefix longer than a key")
			}
			f.PubkeyPrefixes = append(f.PubkeyPrefixes, b)
		}
	}
	if f.Tags, err = normalizeTagFilter(j.Tags); err != nil {
		return nil, err
	}
	if j.Since != nil {
		v := j.Since.Uint64()
		f.Since = &v
	}
	if j.Until != nil {
		v := j.Until.Uint64()
		f.Until = &v
	}
	if j.Limit != nil {
		v := uint(j.Limit.Uint64())
		f.Limit = &v
	}
	return
}

// ToJ converts the normalized form back into the map-shaped ingress form.
func (f *F) ToJ() (j *J) {
	j = &J{}
	for _, k := range f.Kinds {
		j.Kinds = append(j.Kinds, ints.N(k))
	}
	for _, p := range f.PubkeyPrefixes {
		j.PubkeyPrefixes = append(j.PubkeyPrefixes, hex.Enc(p))
	}
	if len(f.Tags) > 0 {
		j.Tags, _ = json.Marshal(f.Tags)
	}
	if f.Since != nil {
		v := ints.N(*f.Since)
		j.Since = &v
	}
	if f.Until != nil {
		v := ints.N(*f.Until)
		j.Until = &v
	}
	if f.Limit != nil {
		v := ints.N(*f.Limit)
		j.Limit = &v
	}
	return
}

// Marshal renders the filter as minified JSON.
func (f *F) Marshal(dst []byte) (b []byte) {
	enc, _ := json.Marshal(f.ToJ())
	return append(dst, enc...)
}

// Unmarshal parses and normalizes a JSON filter.
func Unmarshal(b []byte) (f *F, err error) {
	j := &J{}
	if err = json.Unmarshal(b, j); err != nil {
		return
	}
	return j.Normalize()
}

func normalizeTagFilter(raw json.RawMessage) (tags map[string][]string, err error) {
	if len(raw) == 0 || string(raw) == "null" {
		return
	}
	// try the {key: [values]} mapping shape first
	asMap := map[string][]string{}
	if err = json.Unmarshal(raw, &asMap); err == nil {
		if len(asMap) > 0 {
			tags = asMap
		}
		return
	}
	// fall back to the [[key, value], ...] pair list shape
	var pairs [][]string
	if err = json.Unmarshal(raw, &pairs); err != nil {
		return nil, errorf.W("filter: tags must be a map or a pair list")
	}
	tags = map[string][]string{}
	for _, p := range pairs {
		if len(p) != 2 {
			return nil, errorf.W("filter: tag pair must be [key, value]")
		}
		tags[p[0]] = append(tags[p[0]], p[1])
	}
	return
}
