package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"vocabetl/internal/domain"
	"vocabetl/internal/extract"
	"vocabetl/internal/fetch"
	"vocabetl/internal/rules"
)

// streamFromDir writes one JSON array holding the records of every file in
// dir, in file name order. The word for a file is its name without the
// extension, and each record carries "source_file". Unreadable or
// unparseable files are skipped.
func streamFromDir(w io.Writer, dir string, engine *extract.Engine, rs rules.RuleSet) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read dir: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	if _, err := io.WriteString(w, "["); err != nil {
		return fmt.Errorf("write [: %w", err)
	}

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	first := true
	emit := func(rec domain.Record, file string) error {
		if !first {
			if _, err := io.WriteString(w, ","); err != nil {
				return fmt.Errorf("write comma: %w", err)
			}
		}
		first = false
		if err := enc.Encode(withSourceFile(rec, file)); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		return nil
	}

	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}

		b, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			continue
		}
		doc, err := fetch.Parse(b, "")
		if err != nil {
			continue
		}

		word := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
		for _, rec := range engine.Extract(doc, word, rs) {
			if err := emit(rec, e.Name()); err != nil {
				return err
			}
		}
	}

	if _, err := io.WriteString(w, "]\n"); err != nil {
		return fmt.Errorf("write ]: %w", err)
	}
	return nil
}

func withSourceFile(rec domain.Record, file string) map[string]any {
	m := make(map[string]any, len(rec.Fields)+2)
	for k, v := range rec.Fields {
		m[string(k)] = v
	}
	m[string(domain.FieldText)] = rec.Text
	m["source_file"] = file
	return m
}
