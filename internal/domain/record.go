package domain

import (
	"encoding/json"
	"sort"
)

// Video is the nested value assembled from videoUrl, videoTitle and videoCover.
type Video struct {
	URL   string `json:"url"`
	Title string `json:"title"`
	Cover string `json:"cover"`
}

// FieldVideo is the output key of the assembled Video value.
const FieldVideo FieldID = "video"

// Record is one flat vocabulary entry produced by the extraction engine.
//
// Field values are one of: string, json.Number, []string or Video.
type Record struct {
	Text   string
	Fields map[FieldID]any
}

// NewRecord returns an empty record for word.
func NewRecord(word string) Record {
	return Record{Text: word, Fields: make(map[FieldID]any)}
}

// Get returns the value stored for f.
func (r Record) Get(f FieldID) (any, bool) {
	v, ok := r.Fields[f]
	return v, ok
}

// String returns the value for f when it is a string.
func (r Record) String(f FieldID) string {
	s, _ := r.Fields[f].(string)
	return s
}

// Len reports the number of fields besides text.
func (r Record) Len() int { return len(r.Fields) }

// Keys returns the populated field ids, sorted.
func (r Record) Keys() []FieldID {
	keys := make([]FieldID, 0, len(r.Fields))
	for k := range r.Fields {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

// MarshalJSON flattens the record into {"text": ..., "<field>": ...}.
func (r Record) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(r.Fields)+1)
	for k, v := range r.Fields {
		m[string(k)] = v
	}
	m[string(FieldText)] = r.Text
	return json.Marshal(m)
}

// UnmarshalJSON is the inverse of MarshalJSON. Numbers decode as json.Number,
// arrays as []string and the video object as Video.
func (r *Record) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}

	out := Record{Fields: make(map[FieldID]any, len(raw))}
	for k, msg := range raw {
		if k == string(FieldText) {
			if err := json.Unmarshal(msg, &out.Text); err != nil {
				return err
			}
			continue
		}

		f := FieldID(k)
		switch {
		case f == FieldVideo:
			var v Video
			if err := json.Unmarshal(msg, &v); err != nil {
				return err
			}
			out.Fields[f] = v
		case f.Kind() == KindList:
			var ss []string
			if err := json.Unmarshal(msg, &ss); err != nil {
				return err
			}
			out.Fields[f] = ss
		case len(msg) > 0 && msg[0] == '"':
			var s string
			if err := json.Unmarshal(msg, &s); err != nil {
				return err
			}
			out.Fields[f] = s
		default:
			var n json.Number
			if err := json.Unmarshal(msg, &n); err != nil {
				return err
			}
			out.Fields[f] = n
		}
	}

	*r = out
	return nil
}
