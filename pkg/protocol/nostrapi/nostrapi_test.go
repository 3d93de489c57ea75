package nostrapi

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aether.dev/pkg/encoders/event"
)

func TestFilterUnmarshalExtractsTagKeys(t *testing.T) {
	f := &Filter{}
	require.NoError(t, json.Unmarshal([]byte(
		`{"kinds":[1,7],"authors":["ab"],"#e":["x","y"],"#c":["vision"],`+
			`"ignored":["z"],"#":["dropped"]}`,
	), f))
	require.Len(t, f.Kinds, 2)
	assert.EqualValues(t, 1, f.Kinds[0].Uint64())
	assert.EqualValues(t, 7, f.Kinds[1].Uint64())
	assert.Equal(t, []string{"ab"}, f.Authors)
	assert.Equal(t, map[string][]string{
		"e": {"x", "y"},
		"c": {"vision"},
	}, f.Tags)
}

func TestFilterNormalize(t *testing.T) {
	nf := &Filter{}
	require.NoError(t, json.Unmarshal([]byte(
		`{"kinds":[1],"authors":["abcd"],"since":5,"until":9,"limit":3,`+
			`"#c":["vision"]}`,
	), nf))
	f, err := nf.Normalize()
	require.NoError(t, err)
	assert.Equal(t, []uint16{1}, f.Kinds)
	require.Len(t, f.PubkeyPrefixes, 1)
	assert.Equal(t, []byte{0xab, 0xcd}, f.PubkeyPrefixes[0])
	require.NotNil(t, f.Since)
	assert.EqualValues(t, 5, *f.Since)
	require.NotNil(t, f.Until)
	assert.EqualValues(t, 9, *f.Until)
	require.NotNil(t, f.Limit)
	assert.EqualValues(t, 3, *f.Limit)
	assert.Equal(t, map[string][]string{"c": {"vision"}}, f.Tags)
}

func TestFilterNormalizeEmptyMatchesAll(t *testing.T) {
	f, err := (&Filter{}).Normalize()
	require.NoError(t, err)
	ev := &event.E{CreatedAt: 1, Kind: 1}
	assert.True(t, f.Match(ev))
}

func TestFilterNormalizeRejectsBadAuthorHex(t *testing.T) {
	nf := &Filter{Authors: []string{"not hex"}}
	_, err := nf.Normalize()
	assert.Error(t, err)
}
