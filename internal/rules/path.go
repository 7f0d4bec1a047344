package rules

import "strings"

// PathSeparator joins path segments.
const PathSeparator = "."

// RootPath is the concrete and normalized path of the document root.
const RootPath = "root"

// NormalizePath removes every purely numeric segment from a concrete path,
// e.g. "root.meanings.0.definitions.2.text" -> "root.meanings.definitions.text".
//
// Normalization is idempotent and preserves the order of the remaining
// segments. Empty segments are kept so that odd keys still round-trip.
func NormalizePath(path string) string {
	if path == "" || !hasDigitSegment(path) {
		return path
	}

	parts := strings.Split(path, PathSeparator)
	out := parts[:0]
	for _, p := range parts {
		if isNumeric(p) {
			continue
		}
		out = append(out, p)
	}
	return strings.Join(out, PathSeparator)
}

// JoinPath appends key to a concrete path.
func JoinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + PathSeparator + key
}

// IsStrictDescendant reports whether path lies strictly below ancestor.
func IsStrictDescendant(path, ancestor string) bool {
	return len(path) > len(ancestor) &&
		strings.HasPrefix(path, ancestor) &&
		path[len(ancestor):len(ancestor)+len(PathSeparator)] == PathSeparator
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// hasDigitSegment is a fast pre-check that avoids splitting paths that
// cannot contain an index.
func hasDigitSegment(path string) bool {
	for i := 0; i < len(path); i++ {
		if path[i] >= '0' && path[i] <= '9' {
			return true
		}
	}
	return false
}
