// Command extract_json applies a rule bundle to JSON documents and prints
// the extracted vocabulary records as a JSON array.
//
// Usage (stdin):
//
//	cat run.json | extract_json -rules rules.json -word run
//
// Usage (fetch by URL template):
//
//	extract_json -rules rules.json -url "https://dict.example/api?q={word}" -word run
//
// Usage (directory mode, word = file name without extension):
//
//	extract_json -rules rules.json -dir ./docs
//
// Path discovery (no rules needed):
//
//	cat run.json | extract_json -paths
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"vocabetl/internal/domain"
	"vocabetl/internal/extract"
	"vocabetl/internal/fetch"
	"vocabetl/internal/jsontree"
	"vocabetl/internal/rules"
)

func main() {
	os.Exit(run(
		context.Background(),
		os.Args[1:],
		os.Stdin,
		os.Stdout,
		os.Stderr,
		http.DefaultClient,
	))
}

// run returns 0 on success, 2 for usage errors and 1 for runtime errors.
func run(
	ctx context.Context,
	args []string,
	stdin io.Reader,
	stdout io.Writer,
	stderr io.Writer,
	httpClient *http.Client,
) int {
	fs := flag.NewFlagSet("extract_json", flag.ContinueOnError)
	fs.SetOutput(stderr)

	rulesPath := fs.String("rules", "", "Path to a rule bundle JSON file (required unless -paths)")
	urlFlag := fs.String("url", "", "Optional: URL template containing {word}; fetches the document instead of reading stdin")
	word := fs.String("word", "", "Word the document belongs to (required with -url)")
	dirFlag := fs.String("dir", "", "Optional: directory of documents, one word per file")
	showPaths := fs.Bool("paths", false, "Print every normalized path with a sample value instead of records")
	maxDepth := fs.Int("max_depth", extract.DefaultMaxDepth, "Maximum traversal depth")
	timeout := fs.Duration("timeout", 20*time.Second, "Timeout for -url fetch")
	attempts := fs.Int("max_attempts", 3, "Attempts for -url fetch (including the first)")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *maxDepth <= 0 {
		fmt.Fprintln(stderr, "-max_depth must be > 0")
		return 2
	}
	if *urlFlag != "" && *word == "" {
		fmt.Fprintln(stderr, "-url requires -word")
		return 2
	}
	if *urlFlag != "" && *dirFlag != "" {
		fmt.Fprintln(stderr, "-url and -dir are mutually exclusive")
		return 2
	}

	engine := &extract.Engine{MaxDepth: *maxDepth}
	enc := json.NewEncoder(stdout)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")

	loadDoc := func() (*jsontree.Node, error) {
		if *urlFlag != "" {
			loader := fetch.NewLoader(fetch.Options{
				Client:      httpClient,
				Timeout:     *timeout,
				MaxAttempts: *attempts,
				BaseBackoff: 500 * time.Millisecond,
				MaxBackoff:  5 * time.Second,
				Job:         "extract_json",
			})
			return loader.Fetch(ctx, *urlFlag, *word)
		}
		body, err := io.ReadAll(stdin)
		if err != nil {
			return nil, err
		}
		return fetch.Parse(body, "")
	}

	if *showPaths {
		if *dirFlag != "" {
			fmt.Fprintln(stderr, "-paths does not support -dir")
			return 2
		}
		doc, err := loadDoc()
		if err != nil {
			fmt.Fprintf(stderr, "load document: %v\n", err)
			return 1
		}
		paths := engine.Paths(doc)
		if paths == nil {
			paths = []extract.PathInfo{}
		}
		if err := enc.Encode(paths); err != nil {
			fmt.Fprintf(stderr, "encode json: %v\n", err)
			return 1
		}
		return 0
	}

	if *rulesPath == "" {
		fmt.Fprintln(stderr, "missing -rules")
		return 2
	}
	bundle, err := loadBundle(*rulesPath)
	if err != nil {
		fmt.Fprintf(stderr, "load rules: %v\n", err)
		return 2
	}
	rs := bundle.RuleSet()

	if *dirFlag != "" {
		if err := streamFromDir(stdout, *dirFlag, engine, rs); err != nil {
			fmt.Fprintf(stderr, "dir extract: %v\n", err)
			return 1
		}
		return 0
	}

	doc, err := loadDoc()
	if err != nil {
		fmt.Fprintf(stderr, "load document: %v\n", err)
		return 1
	}

	records := engine.Extract(doc, *word, rs)
	if records == nil {
		records = []domain.Record{}
	}
	if err := enc.Encode(records); err != nil {
		fmt.Fprintf(stderr, "encode json: %v\n", err)
		return 1
	}
	return 0
}

func loadBundle(path string) (rules.Bundle, error) {
	f, err := os.Open(path)
	if err != nil {
		return rules.Bundle{}, err
	}
	defer f.Close()
	return rules.Import(f)
}
