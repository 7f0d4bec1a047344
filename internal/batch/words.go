package batch

import (
	"bufio"
	"io"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ReadWords reads one word per line. Lines are NFC-normalized and trimmed.
// Blank lines and '#' comments are skipped. Repeated words are kept once, in
// first-seen order.
func ReadWords(r io.Reader) ([]string, error) {
	var out []string
	seen := map[string]struct{}{}

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimPrefix(scanner.Text(), "\ufeff")
		line = strings.TrimSpace(norm.NFC.String(line))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if _, dup := seen[line]; dup {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out, scanner.Err()
}
