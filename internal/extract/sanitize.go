package extract

import (
	"encoding/json"

	"vocabetl/internal/jsontree"
)

// textKeys are probed in order when an object is sanitized.
var textKeys = [...]string{"text", "value", "word", "name", "label", "translation", "definition", "t"}

// Sanitize reduces node to a display-safe scalar: a string or a json.Number.
//
// Null and absent nodes yield "". Arrays yield their sanitized first element.
// Objects yield the sanitized value of the first present text-like key, or
// their compact JSON when none is present.
func Sanitize(node *jsontree.Node) any {
	if !node.IsPresent() {
		return ""
	}

	switch node.Kind {
	case jsontree.String:
		return node.Str
	case jsontree.Number:
		return node.Num
	case jsontree.Bool:
		if node.Bool {
			return "true"
		}
		return "false"
	case jsontree.Array:
		if len(node.Items) == 0 {
			return ""
		}
		return Sanitize(node.Items[0])
	case jsontree.Object:
		for _, k := range textKeys {
			if v := node.Get(k); v.IsPresent() {
				return Sanitize(v)
			}
		}
		b, err := node.MarshalJSON()
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return ""
	}
}

// SanitizeString is Sanitize with numbers rendered in their source form.
func SanitizeString(node *jsontree.Node) string {
	return scalarString(Sanitize(node))
}

// SanitizeList sanitizes each element of an array node and drops empty
// results. A non-array node is treated as a one-element list.
func SanitizeList(node *jsontree.Node) []string {
	if !node.IsPresent() {
		return nil
	}
	if node.Kind != jsontree.Array {
		if s := SanitizeString(node); s != "" {
			return []string{s}
		}
		return nil
	}

	out := make([]string, 0, len(node.Items))
	for _, it := range node.Items {
		if s := SanitizeString(it); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func scalarString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	default:
		return ""
	}
}

func isEmpty(v any) bool {
	return scalarString(v) == ""
}
