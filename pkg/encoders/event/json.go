package event

import (
	"encoding/json"

	"aether.dev/pkg/encoders/hex"
	"aether.dev/pkg/encoders/ints"
	"aether.dev/pkg/encoders/kind"
	"aether.dev/pkg/encoders/tag"
	"aether.dev/pkg/utils/errorf"
)

// J is the JSON wire form of an event. It tolerates the dynamic typing the
// adapters see at ingress: created_at and kind may arrive as numbers or
// numeric strings, and "id" is accepted as an alias for "event_id".
type J struct {
	EventID   string     `json:"event_id,omitempty"`
	ID        string     `json:"id,omitempty"`
	Pubkey    string     `json:"pubkey"`
	CreatedAt ints.N     `json:"created_at"`
	Kind      ints.N     `json:"kind"`
	Tags      [][]string `json:"tags"`
	Content   string     `json:"content"`
	Sig       string     `json:"sig"`
}

// ToJ converts the binary event into its JSON wire form. The canonical field
// name event_id is used; adapters that speak the id alias rewrite it
// themselves.
func (ev *E) ToJ() (j *J) {
	j = &J{
		EventID:   hex.Enc(ev.ID),
		Pubkey:    hex.Enc(ev.Pubkey),
		CreatedAt: ints.N(ev.CreatedAt),
		Kind:      ints.N(ev.Kind),
		Content:   string(ev.Content),
		Sig:       hex.Enc(ev.Sig),
	}
	j.Tags = make([][]string, 0, len(ev.Tags))
	for _, t := range ev.Tags {
		arr := make([]string, 0, len(t.Values)+1)
		arr = append(arr, t.Key)
		arr = append(arr, t.Values...)
		j.Tags = append(j.Tags, arr)
	}
	return
}

// ToEvent normalizes the wire form into a binary event. Hex fields are
// decoded, the id alias is resolved, and tags take their (key, values)
// shape. Size and constraint checks happen in CheckStructure, not here.
func (j *J) ToEvent() (ev *E, err error) {
	ev = New()
	id := j.EventID
	if id == "" {
		id = j.ID
	}
	if ev.ID, err = hex.Dec(id); err != nil {
		return nil, errorf.W("event: event_id is not hex")
	}
	if ev.Pubkey, err = hex.Dec(j.Pubkey); err != nil {
		return nil, errorf.W("event: pubkey is not hex")
	}
	if ev.Sig, err = hex.Dec(j.Sig); err != nil {
		return nil, errorf.W("event: sig is not hex")
	}
	ev.CreatedAt = j.CreatedAt.Uint64()
	if j.Kind.Uint64() > kind.MaxU16 {
		return nil, errorf.W("event: kind %d overflows u16", j.Kind.Uint64())
	}
	ev.Kind = uint16(j.Kind.Uint64())
	ev.Content = []byte(j.Content)
	ev.Tags = make(tag.S, 0, len(j.Tags))
	for _, arr := range j.Tags {
		if len(arr) == 0 {
			return nil, errorf.W("event: empty tag")
		}
		ev.Tags = append(ev.Tags, tag.New(arr[0], arr[1:]...))
	}
	return
}

// Marshal renders the event as minified JSON in the wire form.
func (ev *E) Marshal(dst []byte) (b []byte) {
	enc, _ := json.Marshal(ev.ToJ())
	return append(dst, enc...)
}

// Serialize renders the event into minified JSON.
func (ev *E) Serialize() (b []byte) { return ev.Marshal(nil) }

// Unmarshal parses a JSON wire form event into a binary event.
func Unmarshal(b []byte) (ev *E, err error) {
	j := &J{}
	if err = json.Unmarshal(b, j); err != nil {
		return
	}
	return j.ToEvent()
}
