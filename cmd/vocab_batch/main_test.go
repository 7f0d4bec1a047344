package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"vocabetl/internal/domain"
	"vocabetl/internal/metrics"
	"vocabetl/internal/rules"
	"vocabetl/internal/storage"
	"vocabetl/internal/storage/memory"
)

// testBackend counts words and records whether it was closed.
type testBackend struct {
	mu     sync.Mutex
	words  int
	closed bool
}

func (b *testBackend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if name != metrics.WordsTotal {
		return
	}
	b.mu.Lock()
	b.words += int(delta)
	b.mu.Unlock()
}
func (b *testBackend) ObserveHistogram(string, float64, metrics.Labels) {}
func (b *testBackend) Flush() error                                     { return nil }
func (b *testBackend) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	return nil
}

func dictServer(t *testing.T) *httptest.Server {
	t.Helper()
	docs := map[string]string{
		"/x": `{"word":"x","senses":[{"pos":"n","def":"a"},{"pos":"v","def":"b"}]}`,
		"/y": `{"word":"y","senses":[{"pos":"adj","def":"c"}]}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := docs[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

// seededRepo returns a memory repository holding the senses rules under key.
func seededRepo(t *testing.T, key string) *memory.Repo {
	t.Helper()
	repo := memory.New()
	err := repo.SaveRules(context.Background(), rules.Snapshot{
		SourceKey: key,
		Rules: rules.RuleSet{
			Mappings: []rules.MappingRule{
				{Path: "root.senses.pos", Field: domain.FieldPartOfSpeech, Weight: 1},
				{Path: "root.senses.def", Field: domain.FieldTranslation, Weight: 1},
				{Path: "root.word", Field: domain.FieldSourceURL, Weight: 1, IsBase: true},
			},
			Lists: []rules.ListDeclaration{{Path: "root.senses"}},
		},
	})
	if err != nil {
		t.Fatalf("seed rules: %v", err)
	}
	return repo
}

func writeWords(t *testing.T, words ...string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "words.txt")
	if err := os.WriteFile(p, []byte("# test words\n"+strings.Join(words, "\n")+"\n"), 0o600); err != nil {
		t.Fatalf("write words: %v", err)
	}
	return p
}

func testDeps(repo storage.Repository, client *http.Client, stdout, stderr *bytes.Buffer) deps {
	return deps{
		Stdout: stdout,
		Stderr: stderr,
		OpenStorage: func(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
			return repo, nil
		},
		HTTPClient: client,
		Now:        time.Now,
	}
}

func readResults(t *testing.T, out []byte) []map[string]any {
	t.Helper()
	var res []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		var m map[string]any
		if err := json.Unmarshal(sc.Bytes(), &m); err != nil {
			t.Fatalf("bad JSONL line %q: %v", sc.Text(), err)
		}
		res = append(res, m)
	}
	return res
}

func TestParseFlags(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "missing_word_file", args: []string{}, wantErr: "missing required -i"},
		{name: "negative_flush", args: []string{"-i", "x", "-metrics_flush", "-1s"}, wantErr: "-metrics_flush must be >= 0"},
		{name: "help", args: []string{"-h"}, wantErr: "Usage of vocab_batch"},
		{name: "ok", args: []string{"-i", "x", "-url", "u/{word}", "-dry_run"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rc, err := parseFlags(tt.args)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err=%v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseFlags: %v", err)
			}
			if rc.WordFile != "x" || rc.URLTemplate != "u/{word}" || !rc.DryRun {
				t.Fatalf("unexpected runConfig: %+v", rc)
			}
		})
	}
}

// TestRun_FailedWordExitsOne verifies per-word isolation: the missing word
// is reported and the remaining words are still stored.
func TestRun_FailedWordExitsOne(t *testing.T) {
	t.Parallel()

	srv := dictServer(t)
	tmpl := srv.URL + "/{word}"
	repo := seededRepo(t, tmpl)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(),
		[]string{"-i", writeWords(t, "x", "missing", "y"), "-url", tmpl, "-category", "verbs", "-storage", "memory"},
		testDeps(repo, srv.Client(), &stdout, &stderr))
	if code != 1 {
		t.Fatalf("exit=%d, want 1; stderr=%s", code, stderr.String())
	}

	res := readResults(t, stdout.Bytes())
	if len(res) != 3 {
		t.Fatalf("len(results)=%d, want 3; out=%s", len(res), stdout.String())
	}
	if res[0]["status"] != "ok" || res[0]["records"] != float64(2) || res[0]["inserted"] != float64(2) {
		t.Fatalf("result[0]=%v", res[0])
	}
	if res[1]["status"] != "failed" || res[1]["step"] != "fetch" {
		t.Fatalf("result[1]=%v", res[1])
	}
	if res[2]["word"] != "y" || res[2]["status"] != "ok" {
		t.Fatalf("result[2]=%v", res[2])
	}

	entries, err := repo.ListEntries(context.Background(), storage.EntryFilter{Category: "verbs"})
	if err != nil {
		t.Fatalf("ListEntries: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries)=%d, want 3", len(entries))
	}
}

func TestRun_AllOKExitsZero(t *testing.T) {
	t.Parallel()

	srv := dictServer(t)
	tmpl := srv.URL + "/{word}"
	repo := seededRepo(t, "dict")

	var stdout, stderr bytes.Buffer
	code := run(context.Background(),
		[]string{"-i", writeWords(t, "x", "y", "x"), "-url", tmpl, "-source_key", "dict", "-storage", "memory", "-records"},
		testDeps(repo, srv.Client(), &stdout, &stderr))
	if code != 0 {
		t.Fatalf("exit=%d, want 0; stderr=%s", code, stderr.String())
	}

	res := readResults(t, stdout.Bytes())
	if len(res) != 2 {
		t.Fatalf("duplicate words must be processed once; got %d results", len(res))
	}
	out, ok := res[0]["output"].([]any)
	if !ok || len(out) != 2 {
		t.Fatalf("output=%v, want 2 records", res[0]["output"])
	}
}

func TestRun_DryRunStoresNothing(t *testing.T) {
	t.Parallel()

	srv := dictServer(t)
	tmpl := srv.URL + "/{word}"
	repo := seededRepo(t, tmpl)

	var stdout, stderr bytes.Buffer
	code := run(context.Background(),
		[]string{"-i", writeWords(t, "x"), "-url", tmpl, "-storage", "memory", "-dry_run"},
		testDeps(repo, srv.Client(), &stdout, &stderr))
	if code != 0 {
		t.Fatalf("exit=%d, want 0; stderr=%s", code, stderr.String())
	}
	entries, _ := repo.ListEntries(context.Background(), storage.EntryFilter{})
	if len(entries) != 0 {
		t.Fatalf("len(entries)=%d, want 0", len(entries))
	}
}

func TestRun_ConfigErrors(t *testing.T) {
	t.Parallel()

	srv := dictServer(t)
	words := writeWords(t, "x")
	empty := writeWords(t)

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{name: "no_url", args: []string{"-i", words, "-storage", "memory"}, wantErr: "missing URL template"},
		{name: "bad_url", args: []string{"-i", words, "-url", "http://x/", "-storage", "memory"}, wantErr: "batch.url_template"},
		{name: "no_rules", args: []string{"-i", words, "-url", srv.URL + "/{word}", "-source_key", "unknown", "-storage", "memory"}, wantErr: "no rules stored"},
		{name: "no_words", args: []string{"-i", empty, "-url", srv.URL + "/{word}", "-storage", "memory"}, wantErr: "no words found"},
		{name: "missing_word_file", args: []string{"-i", filepath.Join(t.TempDir(), "nope.txt"), "-url", srv.URL + "/{word}"}, wantErr: "error reading words"},
		{name: "bad_metrics", args: []string{"-i", words, "-url", srv.URL + "/{word}", "-metrics", "statsd"}, wantErr: "metrics.backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var stdout, stderr bytes.Buffer
			code := run(context.Background(), tt.args, testDeps(memory.New(), srv.Client(), &stdout, &stderr))
			if code != 2 {
				t.Fatalf("exit=%d, want 2; stderr=%s", code, stderr.String())
			}
			if !strings.Contains(stderr.String(), tt.wantErr) {
				t.Fatalf("stderr=%q, want containing %q", stderr.String(), tt.wantErr)
			}
		})
	}
}

// TestRun_DatadogBackendLifecycle installs the process-wide metrics backend,
// so it does not run in parallel.
func TestRun_DatadogBackendLifecycle(t *testing.T) {
	srv := dictServer(t)
	tmpl := srv.URL + "/{word}"
	repo := seededRepo(t, tmpl)

	backend := &testBackend{}
	var gotTags []string
	var stdout, stderr bytes.Buffer
	d := testDeps(repo, srv.Client(), &stdout, &stderr)
	d.BackendFactory = func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error) {
		gotTags = tags
		if jobName != "nightly" {
			t.Errorf("jobName=%q, want nightly", jobName)
		}
		return backend, nil
	}

	code := run(context.Background(),
		[]string{"-i", writeWords(t, "x", "y"), "-url", tmpl, "-storage", "memory", "-metrics", "datadog", "-name", "nightly", "-dd_tags", "env:test"},
		d)
	if code != 0 {
		t.Fatalf("exit=%d, want 0; stderr=%s", code, stderr.String())
	}

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if !backend.closed {
		t.Fatalf("backend not closed")
	}
	if backend.words != 2 {
		t.Fatalf("words=%d, want 2", backend.words)
	}
	if strings.Join(gotTags, ",") != "env:test,tool:vocab_batch" {
		t.Fatalf("tags=%v", gotTags)
	}
}
