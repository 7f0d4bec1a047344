package extract

import (
	"encoding/json"
	"sort"
	"strings"

	"golang.org/x/text/width"

	"vocabetl/internal/domain"
	"vocabetl/internal/jsontree"
)

// resolve merges the branch and base candidates of every field into one
// record for word. ok is false when the record would carry only text.
//
// Branch candidates precede base candidates of equal weight.
func resolve(word string, branch, base candidates) (domain.Record, bool) {
	rec := domain.NewRecord(word)

	for _, f := range domain.Fields() {
		if f == domain.FieldText {
			continue
		}
		cs := mergeCandidates(branch[f], base[f])
		if len(cs) == 0 {
			continue
		}
		if v, ok := pick(f, cs); ok {
			rec.Fields[f] = v
		}
	}

	assembleVideo(&rec)
	if rec.Len() == 0 {
		return domain.Record{}, false
	}
	return rec, true
}

func mergeCandidates(branch, base []candidate) []candidate {
	out := make([]candidate, 0, len(branch)+len(base))
	out = append(out, branch...)
	out = append(out, base...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].weight < out[j].weight })
	return out
}

// pick returns the post-processed value of the first candidate that is
// non-empty for f.
func pick(f domain.FieldID, cs []candidate) (any, bool) {
	for _, c := range cs {
		switch f.Kind() {
		case domain.KindList:
			if list := listValue(c.node); len(list) > 0 {
				return list, true
			}
		case domain.KindNumber:
			v := Sanitize(c.node)
			if !isEmpty(v) {
				return numericValue(v), true
			}
		default:
			if s := SanitizeString(c.node); s != "" {
				return s, true
			}
		}
	}
	return nil, false
}

// listValue coerces a candidate into a list. Strings are split on list
// delimiters, numbers are wrapped and arrays contribute every sanitized
// element, each split the same way.
func listValue(node *jsontree.Node) []string {
	if node.IsPresent() && node.Kind == jsontree.Array {
		var out []string
		for _, item := range SanitizeList(node) {
			out = append(out, SplitList(item)...)
		}
		return out
	}

	switch v := Sanitize(node).(type) {
	case string:
		return SplitList(v)
	case json.Number:
		return []string{v.String()}
	default:
		return nil
	}
}

// SplitList splits s on ASCII and fullwidth commas and semicolons, trimming
// each part and dropping empty ones.
func SplitList(s string) []string {
	parts := strings.FieldsFunc(s, isListDelim)
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func isListDelim(r rune) bool {
	if n := width.LookupRune(r).Narrow(); n != 0 {
		r = n
	}
	return r == ',' || r == ';'
}

// numericValue turns numeric strings into json.Number.
func numericValue(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	t := strings.TrimSpace(s)
	if !isJSONNumber(t) {
		return s
	}
	return json.Number(t)
}

func isJSONNumber(s string) bool {
	if s == "" || (s[0] != '-' && (s[0] < '0' || s[0] > '9')) {
		return false
	}
	return json.Valid([]byte(s))
}

func assembleVideo(rec *domain.Record) {
	url, ok := rec.Fields[domain.FieldVideoURL]
	if !ok {
		return
	}

	v := domain.Video{
		URL:   scalarString(url),
		Title: rec.Text,
	}
	if t := scalarString(rec.Fields[domain.FieldVideoTitle]); t != "" {
		v.Title = t
	}
	v.Cover = scalarString(rec.Fields[domain.FieldVideoCover])

	delete(rec.Fields, domain.FieldVideoURL)
	delete(rec.Fields, domain.FieldVideoTitle)
	delete(rec.Fields, domain.FieldVideoCover)
	rec.Fields[domain.FieldVideo] = v
}
