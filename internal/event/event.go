// Package event holds the Nostr event value type and its wire codec.
//
// The codec is structural only: it checks that every field is present and
// correctly typed, and never computes or verifies id or sig.
package event

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/Shugur-Network/publisher/internal/errors"
	nostr "github.com/nbd-wtf/go-nostr"
)

// ErrMalformedEvent is the root cause of every decode failure.
var ErrMalformedEvent = stderrors.New("malformed event")

// Tags is the ordered tag list of an event.
type Tags [][]string

// Timestamp is a unix time in seconds.
type Timestamp int64

// Event is a signed Nostr event. Field order matches the wire order.
type Event struct {
	ID        string    `json:"id"`
	PubKey    string    `json:"pubkey"`
	CreatedAt Timestamp `json:"created_at"`
	Kind      int       `json:"kind"`
	Tags      Tags      `json:"tags"`
	Content   string    `json:"content"`
	Sig       string    `json:"sig"`
}

// requiredFields lists the wire keys in serialisation order.
var requiredFields = []string{"id", "pubkey", "created_at", "kind", "tags", "content", "sig"}

// MarshalJSON always emits arrays, never null, at both levels.
func (t Tags) MarshalJSON() ([]byte, error) {
	out := make([][]string, len(t))
	for i, tag := range t {
		if tag == nil {
			tag = []string{}
		}
		out[i] = tag
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts a JSON integer or, for producers that carried
// created_at as text, a string holding a base-10 integer.
func (ts *Timestamp) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		v, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return fmt.Errorf("created_at %q is not an integer", s)
		}
		*ts = Timestamp(v)
		return nil
	}
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*ts = Timestamp(v)
	return nil
}

// Serialize renders the event as its wire JSON object. Strings that are not
// valid UTF-8 are rejected rather than rewritten, so the output always
// decodes back to e.
func (e Event) Serialize() ([]byte, error) {
	if field := invalidUTF8Field(e); field != "" {
		return nil, errors.New(errors.ErrorTypeValidation, "EVENT_ENCODE_FAILED", "failed to encode event").
			WithDetails(field + " is not valid UTF-8")
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// Content is free text; keep <, > and & as-is on the wire.
	enc.SetEscapeHTML(false)
	if err := enc.Encode(e); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "EVENT_ENCODE_FAILED", "failed to encode event")
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func invalidUTF8Field(e Event) string {
	for _, f := range []struct{ name, v string }{
		{"id", e.ID}, {"pubkey", e.PubKey}, {"content", e.Content}, {"sig", e.Sig},
	} {
		if !utf8.ValidString(f.v) {
			return f.name
		}
	}
	for i, tag := range e.Tags {
		for j, v := range tag {
			if !utf8.ValidString(v) {
				return fmt.Sprintf("tag %d element %d", i, j)
			}
		}
	}
	return ""
}

// String returns the wire JSON, or an empty string if encoding fails.
func (e Event) String() string {
	b, err := e.Serialize()
	if err != nil {
		return ""
	}
	return string(b)
}

// Deserialize parses wire JSON into an Event. It fails when data is not a
// JSON object, when any of the seven fields is missing or null, or when a
// field has the wrong type.
func Deserialize(data []byte) (Event, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Event{}, decodeFailure("", err)
	}
	if raw == nil {
		return Event{}, decodeFailure("", fmt.Errorf("not a JSON object"))
	}

	for _, key := range requiredFields {
		v, ok := raw[key]
		if !ok {
			return Event{}, decodeFailure(key, fmt.Errorf("missing required field"))
		}
		if bytes.Equal(bytes.TrimSpace(v), []byte("null")) {
			return Event{}, decodeFailure(key, fmt.Errorf("field is null"))
		}
	}

	var evt Event
	targets := []struct {
		key string
		dst any
	}{
		{"id", &evt.ID},
		{"pubkey", &evt.PubKey},
		{"created_at", &evt.CreatedAt},
		{"content", &evt.Content},
		{"sig", &evt.Sig},
	}
	for _, t := range targets {
		if err := json.Unmarshal(raw[t.key], t.dst); err != nil {
			return Event{}, decodeFailure(t.key, err)
		}
	}
	kind, err := decodeKind(raw["kind"])
	if err != nil {
		return Event{}, decodeFailure("kind", err)
	}
	evt.Kind = kind

	tags, err := decodeTags(raw["tags"])
	if err != nil {
		return Event{}, decodeFailure("tags", err)
	}
	evt.Tags = tags
	return evt, nil
}

const maxKindExponent = 400

// decodeKind accepts any JSON number with an integral value, so 1e2 and
// 100.0 are kind 100 while 1.5 is rejected.
func decodeKind(data json.RawMessage) (int, error) {
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return 0, err
	}
	if t := bytes.TrimSpace(data); len(t) > 0 && t[0] == '"' {
		return 0, fmt.Errorf("kind must be a number, got string")
	}
	if v, err := n.Int64(); err == nil && int64(int(v)) == v {
		return int(v), nil
	}
	// Keep big.Rat from materialising huge powers of ten.
	if i := strings.IndexAny(n.String(), "eE"); i >= 0 {
		if exp, err := strconv.Atoi(n.String()[i+1:]); err != nil || exp > maxKindExponent || exp < -maxKindExponent {
			return 0, fmt.Errorf("kind %s is out of range", n)
		}
	}
	r, ok := new(big.Rat).SetString(n.String())
	if !ok || !r.IsInt() {
		return 0, fmt.Errorf("kind %s is not an integer", n)
	}
	if !r.Num().IsInt64() || int64(int(r.Num().Int64())) != r.Num().Int64() {
		return 0, fmt.Errorf("kind %s is out of range", n)
	}
	return int(r.Num().Int64()), nil
}

// decodeTags goes through pointers so that a null anywhere in the
// structure is rejected instead of silently becoming an empty value.
func decodeTags(data json.RawMessage) (Tags, error) {
	var raw [][]*string
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	tags := make(Tags, 0, len(raw))
	for i, t := range raw {
		if t == nil {
			return nil, fmt.Errorf("tag %d is null", i)
		}
		tag := make([]string, 0, len(t))
		for j, v := range t {
			if v == nil {
				return nil, fmt.Errorf("tag %d element %d is null", i, j)
			}
			tag = append(tag, *v)
		}
		tags = append(tags, tag)
	}
	return tags, nil
}

func decodeFailure(field string, cause error) error {
	return errors.DecodeError(field, fmt.Errorf("%w: %v", ErrMalformedEvent, cause))
}

// ToNostr converts the event to the go-nostr representation.
func (e Event) ToNostr() nostr.Event {
	tags := make(nostr.Tags, 0, len(e.Tags))
	for _, t := range e.Tags {
		tags = append(tags, nostr.Tag(append([]string{}, t...)))
	}
	return nostr.Event{
		ID:        e.ID,
		PubKey:    e.PubKey,
		CreatedAt: nostr.Timestamp(e.CreatedAt),
		Kind:      e.Kind,
		Tags:      tags,
		Content:   e.Content,
		Sig:       e.Sig,
	}
}

// FromNostr converts a go-nostr event.
func FromNostr(n nostr.Event) Event {
	tags := make(Tags, 0, len(n.Tags))
	for _, t := range n.Tags {
		tags = append(tags, append([]string{}, t...))
	}
	return Event{
		ID:        n.ID,
		PubKey:    n.PubKey,
		CreatedAt: Timestamp(n.CreatedAt),
		Kind:      n.Kind,
		Tags:      tags,
		Content:   n.Content,
		Sig:       n.Sig,
	}
}
