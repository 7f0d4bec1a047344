package extract

import (
	"vocabetl/internal/jsontree"
	"vocabetl/internal/rules"
)

// PathInfo describes one normalized path found in a document.
type PathInfo struct {
	Path   string `json:"path"`
	Kind   string `json:"kind"`
	Count  int    `json:"count"`
	Sample string `json:"sample,omitempty"`
}

// Paths lists every normalized path of doc in first-seen order.
func Paths(doc *jsontree.Node) []PathInfo {
	return New().Paths(doc)
}

// Paths lists every normalized path of doc reachable within the depth bound,
// in first-seen order. Sample is the first non-empty sanitized scalar seen
// at that path.
func (e *Engine) Paths(doc *jsontree.Node) []PathInfo {
	var (
		out   []PathInfo
		index = make(map[string]int)
		limit = e.maxDepth()
	)

	var visit func(node *jsontree.Node, path string, depth int)
	visit = func(node *jsontree.Node, path string, depth int) {
		if depth > limit || node == nil {
			return
		}

		norm := rules.NormalizePath(path)
		i, seen := index[norm]
		if !seen {
			i = len(out)
			index[norm] = i
			out = append(out, PathInfo{Path: norm, Kind: node.Kind.String()})
		}
		out[i].Count++
		if out[i].Sample == "" && !node.IsContainer() {
			out[i].Sample = SanitizeString(node)
		}

		node.Children(func(key string, child *jsontree.Node) {
			visit(child, rules.JoinPath(path, key), depth+1)
		})
	}
	visit(doc, rules.RootPath, 0)
	return out
}
