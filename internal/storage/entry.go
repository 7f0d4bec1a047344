package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"vocabetl/internal/domain"
)

// Entry is one extracted record as handed to the downstream store.
type Entry struct {
	ID        uuid.UUID     `json:"id"`
	Word      string        `json:"word"`
	Category  string        `json:"category"`
	Scenario  string        `json:"scenario,omitempty"`
	SourceKey string        `json:"sourceKey"`
	Record    domain.Record `json:"record"`
	Hash      string        `json:"hash"`
	CreatedAt time.Time     `json:"createdAt"`
}

// EntryOptions carries the metadata NewEntries stamps on every entry.
type EntryOptions struct {
	Category  string
	Scenario  string
	SourceKey string

	Now   func() time.Time
	NewID func() uuid.UUID
}

// NewEntries wraps records for storage. Every entry gets a fresh ID, the same
// CreatedAt and a content hash over category, source key and record content,
// so re-running a word yields the same hashes.
func NewEntries(records []domain.Record, opts EntryOptions) []Entry {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	newID := uuid.New
	if opts.NewID != nil {
		newID = opts.NewID
	}

	ts := now().UTC()
	out := make([]Entry, 0, len(records))
	for _, r := range records {
		out = append(out, Entry{
			ID:        newID(),
			Word:      r.Text,
			Category:  opts.Category,
			Scenario:  opts.Scenario,
			SourceKey: opts.SourceKey,
			Record:    r,
			Hash:      ContentHash(opts.Category, opts.SourceKey, r),
			CreatedAt: ts,
		})
	}
	return out
}

const (
	hashSep     = "\x1f"
	hashListSep = "\x1e"
)

// ContentHash is the hex sha256 of a canonical rendering of the record:
// category, source key, text and then every field in sorted key order as
// name=value.
func ContentHash(category, sourceKey string, r domain.Record) string {
	var b strings.Builder
	b.WriteString(category)
	b.WriteString(hashSep)
	b.WriteString(sourceKey)
	b.WriteString(hashSep)
	b.WriteString(r.Text)
	for _, k := range r.Keys() {
		b.WriteString(hashSep)
		b.WriteString(string(k))
		b.WriteByte('=')
		appendCanonicalValue(&b, r.Fields[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func appendCanonicalValue(b *strings.Builder, v any) {
	switch t := v.(type) {
	case nil:
		b.WriteString("null")
	case string:
		b.WriteString(strings.TrimSpace(t))
	case json.Number:
		b.WriteString(t.String())
	case []string:
		for i, s := range t {
			if i > 0 {
				b.WriteString(hashListSep)
			}
			b.WriteString(strings.TrimSpace(s))
		}
	case domain.Video:
		b.WriteString(t.URL)
		b.WriteString(hashListSep)
		b.WriteString(t.Title)
		b.WriteString(hashListSep)
		b.WriteString(t.Cover)
	default:
		raw, err := json.Marshal(t)
		if err != nil {
			b.WriteString("?")
			return
		}
		b.Write(raw)
	}
}
