package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const sensesBundle = `{
	"sourceKey": "test",
	"mappings": [
		{"path":"root.senses.pos","field":"partOfSpeech","weight":1},
		{"path":"root.senses.def","field":"translation","weight":1},
		{"path":"root.word","field":"sourceUrl","weight":1,"isBase":true}
	],
	"lists": [{"path":"root.senses"}]
}`

const sensesDoc = `{"word":"x","senses":[{"pos":"n","def":"a"},{"pos":"v","def":"b"}]}`

func writeBundle(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "rules.json")
	if err := os.WriteFile(p, []byte(sensesBundle), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	return p
}

func decodeRecords(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	var got []map[string]any
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("stdout is not a JSON array: %v; out=%s", err, b)
	}
	return got
}

// TestRun_StdinFansOutList verifies the stdin happy path: one record per
// list item with the base field copied into each.
func TestRun_StdinFansOutList(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := run(context.Background(),
		[]string{"-rules", writeBundle(t), "-word", "x"},
		strings.NewReader(sensesDoc), &stdout, &stderr, http.DefaultClient)
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, stderr.String())
	}

	got := decodeRecords(t, stdout.Bytes())
	if len(got) != 2 {
		t.Fatalf("len(records)=%d, want 2; out=%s", len(got), stdout.String())
	}
	want := []map[string]any{
		{"text": "x", "partOfSpeech": "n", "translation": "a", "sourceUrl": "x"},
		{"text": "x", "partOfSpeech": "v", "translation": "b", "sourceUrl": "x"},
	}
	for i := range want {
		for k, v := range want[i] {
			if got[i][k] != v {
				t.Fatalf("record[%d][%s]=%v, want %v", i, k, got[i][k], v)
			}
		}
	}
}

func TestRun_URLFetchesByTemplate(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.RawQuery != "q=look%20up" {
			http.Error(w, "bad query "+r.URL.RawQuery, http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(sensesDoc))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := run(context.Background(),
		[]string{"-rules", writeBundle(t), "-url", srv.URL + "/api?q={word}", "-word", "look up"},
		strings.NewReader(""), &stdout, &stderr, srv.Client())
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, stderr.String())
	}
	if got := decodeRecords(t, stdout.Bytes()); len(got) != 2 || got[0]["text"] != "look up" {
		t.Fatalf("unexpected records: %s", stdout.String())
	}
}

func TestRun_URLFailureIsRuntimeError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := run(context.Background(),
		[]string{"-rules", writeBundle(t), "-url", srv.URL + "/{word}", "-word", "x", "-max_attempts", "1"},
		strings.NewReader(""), &stdout, &stderr, srv.Client())
	if code != 1 {
		t.Fatalf("exit=%d, want 1; stderr=%s", code, stderr.String())
	}
}

// TestRun_DirMode verifies file-name ordering, the file stem as word and
// that unparseable files are skipped.
func TestRun_DirMode(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	files := map[string]string{
		"b.json":   `{"word":"b","senses":[{"pos":"n","def":"bee"}]}`,
		"a.json":   `{"word":"a","senses":[{"pos":"v","def":"ay"}]}`,
		"bad.json": `{`,
	}
	for name, body := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	var stdout, stderr bytes.Buffer
	code := run(context.Background(),
		[]string{"-rules", writeBundle(t), "-dir", dir},
		strings.NewReader(""), &stdout, &stderr, http.DefaultClient)
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, stderr.String())
	}

	got := decodeRecords(t, stdout.Bytes())
	if len(got) != 2 {
		t.Fatalf("len(records)=%d, want 2; out=%s", len(got), stdout.String())
	}
	if got[0]["text"] != "a" || got[0]["source_file"] != "a.json" {
		t.Fatalf("first record=%v", got[0])
	}
	if got[1]["text"] != "b" || got[1]["translation"] != "bee" {
		t.Fatalf("second record=%v", got[1])
	}
}

func TestRun_PathsMode(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-paths"},
		strings.NewReader(sensesDoc), &stdout, &stderr, http.DefaultClient)
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, stderr.String())
	}

	var got []struct {
		Path   string `json:"path"`
		Sample string `json:"sample"`
	}
	if err := json.Unmarshal(stdout.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v; out=%s", err, stdout.String())
	}
	samples := map[string]string{}
	for _, p := range got {
		samples[p.Path] = p.Sample
	}
	if samples["root.senses.def"] != "a" {
		t.Fatalf("root.senses.def sample=%q, want a; paths=%v", samples["root.senses.def"], got)
	}
	if _, ok := samples["root.senses.0"]; ok {
		t.Fatalf("paths must be normalized: %v", got)
	}
}

func TestRun_UsageErrors(t *testing.T) {
	t.Parallel()

	bundle := writeBundle(t)
	bad := filepath.Join(t.TempDir(), "bad.json")
	if err := os.WriteFile(bad, []byte(`{"mappings":[{"path":"root.x","field":"nope","weight":1}]}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	tests := []struct {
		name string
		args []string
	}{
		{"missing rules", nil},
		{"url without word", []string{"-rules", bundle, "-url", "http://x/{word}"}},
		{"url and dir", []string{"-rules", bundle, "-url", "http://x/{word}", "-word", "w", "-dir", "."}},
		{"invalid bundle", []string{"-rules", bad}},
		{"missing bundle file", []string{"-rules", filepath.Join(t.TempDir(), "none.json")}},
		{"bad depth", []string{"-rules", bundle, "-max_depth", "0"}},
		{"unknown flag", []string{"-nope"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var stdout, stderr bytes.Buffer
			code := run(context.Background(), tt.args, strings.NewReader(sensesDoc), &stdout, &stderr, http.DefaultClient)
			if code != 2 {
				t.Fatalf("exit=%d, want 2; stderr=%s", code, stderr.String())
			}
		})
	}
}

func TestRun_NoMatchesPrintsEmptyArray(t *testing.T) {
	t.Parallel()

	var stdout, stderr bytes.Buffer
	code := run(context.Background(), []string{"-rules", writeBundle(t), "-word", "x"},
		strings.NewReader(`{"unrelated":true}`), &stdout, &stderr, http.DefaultClient)
	if code != 0 {
		t.Fatalf("run returned %d; stderr=%s", code, stderr.String())
	}
	if strings.TrimSpace(stdout.String()) != "[]" {
		t.Fatalf("stdout=%q, want []", stdout.String())
	}
}
