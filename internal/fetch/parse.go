package fetch

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"vocabetl/internal/jsontree"
)

// scriptSelectors locate JSON payloads embedded in HTML pages, in order.
var scriptSelectors = []string{
	`script[type="application/json"]`,
	`script#__NEXT_DATA__`,
	`script[type="application/ld+json"]`,
}

// ErrNoDocument means an HTML page carried no embedded JSON document.
var ErrNoDocument = errors.New("no JSON document in page")

// Parse decodes body as JSON. HTML bodies (by content type or a leading
// '<') are searched for an embedded JSON script element instead.
func Parse(body []byte, contentType string) (*jsontree.Node, error) {
	trimmed := bytes.TrimSpace(body)
	if !looksLikeHTML(trimmed, contentType) {
		return jsontree.DecodeBytes(trimmed)
	}
	return parseHTML(trimmed)
}

func looksLikeHTML(body []byte, contentType string) bool {
	if strings.Contains(strings.ToLower(contentType), "html") {
		return true
	}
	return len(body) > 0 && body[0] == '<'
}

func parseHTML(body []byte) (*jsontree.Node, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}

	for _, sel := range scriptSelectors {
		var found *jsontree.Node
		doc.Find(sel).EachWithBreak(func(_ int, s *goquery.Selection) bool {
			text := strings.TrimSpace(s.Text())
			if text == "" {
				return true
			}
			n, err := jsontree.DecodeBytes([]byte(text))
			if err != nil {
				return true
			}
			found = n
			return false
		})
		if found != nil {
			return found, nil
		}
	}
	return nil, ErrNoDocument
}
