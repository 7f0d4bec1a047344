// Command vocab_batch runs the vocabulary pipeline over a word list: for each
// word it fetches the document from the URL template, extracts records with
// the rules stored for the source key, stores the entries and prints one
// JSONL result line to stdout. Logs go to stderr.
//
// Usage:
//
//	vocab_batch -i words.txt -url "https://dict.example/api?q={word}" -storage sqlite -dsn vocab.db
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"vocabetl/internal/batch"
	"vocabetl/internal/config"
	"vocabetl/internal/domain"
	"vocabetl/internal/extract"
	"vocabetl/internal/fetch"
	"vocabetl/internal/logging"
	"vocabetl/internal/metrics"
	"vocabetl/internal/metrics/datadog"
	"vocabetl/internal/storage"
	_ "vocabetl/internal/storage/all"
)

// backendCloser is the metrics backend as managed by this command.
type backendCloser interface {
	metrics.Backend
	Close() error
}

// deps are external seams for tests.
type deps struct {
	Stdout io.Writer
	Stderr io.Writer

	BackendFactory func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error)
	OpenStorage    func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	HTTPClient     *http.Client
	Now            func() time.Time
}

// runConfig holds the parsed flags. Empty strings and zero values mean
// "keep the config file value".
type runConfig struct {
	WordFile   string
	ConfigPath string

	URLTemplate string
	SourceKey   string
	Category    string
	Scenario    string

	StorageKind string
	DSN         string

	JobName    string
	Metrics    string
	DDTagsCSV  string
	FlushEvery time.Duration

	DryRun         bool
	IncludeRecords bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code := run(ctx, os.Args[1:], deps{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		BackendFactory: func(ctx context.Context, jobName string, tags []string, flushEvery time.Duration) (backendCloser, error) {
			return datadog.NewBackend(ctx, datadog.Options{
				JobName:    jobName,
				Tags:       tags,
				FlushEvery: flushEvery,
			})
		},
		OpenStorage: storage.New,
		HTTPClient:  http.DefaultClient,
		Now:         time.Now,
	})
	os.Exit(code)
}

// run executes a batch and returns an exit code.
//
// Exit codes:
//   - 0: every word succeeded (or produced no records).
//   - 1: at least one word failed, or the run was interrupted.
//   - 2: usage, configuration or initialization error.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.OpenStorage == nil {
		d.OpenStorage = storage.New
	}

	rc, err := parseFlags(args)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}

	cfg, err := config.Load(rc.ConfigPath)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}
	applyOverrides(cfg, rc)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}
	if cfg.Batch.URLTemplate == "" {
		fmt.Fprintln(d.Stderr, "missing URL template: set -url or batch.url_template")
		return 2
	}

	logger, closeLog, err := logging.NewTo(cfg.Log, d.Stderr)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}
	defer func() { _ = closeLog() }()
	log := logging.Component(logger, "vocab_batch")

	words, err := readWordFile(rc.WordFile)
	if err != nil {
		fmt.Fprintf(d.Stderr, "error reading words: %v\n", err)
		return 2
	}
	if len(words) == 0 {
		fmt.Fprintf(d.Stderr, "no words found in %s\n", rc.WordFile)
		return 2
	}

	if cfg.Metrics.Backend == "datadog" {
		if d.BackendFactory == nil {
			fmt.Fprintln(d.Stderr, "internal error: BackendFactory is nil")
			return 2
		}
		tags := append(datadog.ParseTagsCSV(cfg.Metrics.Tags), "tool:vocab_batch")
		backend, err := d.BackendFactory(ctx, cfg.Metrics.Job, tags, cfg.Metrics.FlushEvery)
		if err != nil {
			fmt.Fprintf(d.Stderr, "datadog backend init failed: %v\n", err)
			return 2
		}
		metrics.SetBackend(backend)
		defer func() {
			_ = metrics.Flush()
			_ = backend.Close()
			metrics.SetBackend(nil)
		}()
	}

	repo, err := d.OpenStorage(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN})
	if err != nil {
		fmt.Fprintf(d.Stderr, "open storage: %v\n", err)
		return 2
	}
	defer func() { _ = repo.Close() }()

	key := cfg.Batch.RulesKey()
	snap, err := repo.LoadRules(ctx, key)
	if errors.Is(err, domain.ErrNotFound) {
		fmt.Fprintf(d.Stderr, "no rules stored for source key %q; import them with the rules command\n", key)
		return 2
	}
	if err != nil {
		fmt.Fprintf(d.Stderr, "load rules: %v\n", err)
		return 2
	}

	opts := fetch.OptionsFromConfig(cfg.Fetch, cfg.Metrics.Job, logging.Component(logger, "fetch"))
	opts.Client = d.HTTPClient

	var sink batch.EntryWriter = repo
	if rc.DryRun {
		sink = nil
	}

	enc := json.NewEncoder(d.Stdout)
	enc.SetEscapeHTML(false)

	runner, err := batch.NewRunner(batch.Options{
		Job:            cfg.Metrics.Job,
		URLTemplate:    cfg.Batch.URLTemplate,
		SourceKey:      key,
		Category:       cfg.Batch.Category,
		Scenario:       cfg.Batch.Scenario,
		Rules:          snap.Rules,
		Source:         fetch.NewLoader(opts),
		Extractor:      &extract.Engine{MaxDepth: cfg.Engine.MaxDepth},
		Sink:           sink,
		Logger:         logging.Component(logger, "batch"),
		Now:            d.Now,
		IncludeRecords: rc.IncludeRecords,
		OnResult:       func(res batch.Result) { _ = enc.Encode(res) },
	})
	if err != nil {
		fmt.Fprintf(d.Stderr, "init batch: %v\n", err)
		return 2
	}

	rep, err := runner.Run(ctx, words)
	if err != nil {
		log.Warn("run interrupted", zap.Error(err))
		return 1
	}
	if rep.HasFailures() {
		log.Warn("some words failed", zap.Int("failed", rep.Failed), zap.Int("total", len(rep.Results)))
		return 1
	}
	return 0
}

func parseFlags(args []string) (runConfig, error) {
	fs := flag.NewFlagSet("vocab_batch", flag.ContinueOnError)

	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)

	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}

	var rc runConfig
	fs.StringVar(&rc.WordFile, "i", "", "Path to file containing words (one per line, # comments)")
	fs.StringVar(&rc.ConfigPath, "config", "", "Optional YAML config file (env VOCAB_* always applies)")
	fs.StringVar(&rc.URLTemplate, "url", "", "URL template containing {word} (overrides batch.url_template)")
	fs.StringVar(&rc.SourceKey, "source_key", "", "Rule set key (defaults to the URL template)")
	fs.StringVar(&rc.Category, "category", "", "Category stamped on stored entries")
	fs.StringVar(&rc.Scenario, "scenario", "", "Scenario reference stamped on stored entries")
	fs.StringVar(&rc.StorageKind, "storage", "", "Storage backend: sqlite, postgres, mssql or memory")
	fs.StringVar(&rc.DSN, "dsn", "", "Storage DSN")
	fs.StringVar(&rc.JobName, "name", "", "Logical job name used in metrics tags")
	fs.StringVar(&rc.Metrics, "metrics", "", "Metrics backend: none or datadog")
	fs.StringVar(&rc.DDTagsCSV, "dd_tags", "", "Extra Datadog tags CSV (e.g. env:prod,service:vocab)")
	fs.DurationVar(&rc.FlushEvery, "metrics_flush", 0, "Datadog flush interval")
	fs.BoolVar(&rc.DryRun, "dry_run", false, "Extract without storing entries")
	fs.BoolVar(&rc.IncludeRecords, "records", false, "Include extracted records in each JSONL line")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return runConfig{}, errors.New(usageBuf.String())
		}
		return runConfig{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}

	if rc.WordFile == "" {
		return runConfig{}, errors.New("missing required -i <word_file>")
	}
	if rc.FlushEvery < 0 {
		return runConfig{}, errors.New("-metrics_flush must be >= 0")
	}
	return rc, nil
}

func applyOverrides(cfg *config.Config, rc runConfig) {
	set := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	set(&cfg.Batch.URLTemplate, rc.URLTemplate)
	set(&cfg.Batch.SourceKey, rc.SourceKey)
	set(&cfg.Batch.Category, rc.Category)
	set(&cfg.Batch.Scenario, rc.Scenario)
	set(&cfg.Storage.Kind, rc.StorageKind)
	set(&cfg.Storage.DSN, rc.DSN)
	set(&cfg.Metrics.Job, rc.JobName)
	set(&cfg.Metrics.Backend, rc.Metrics)
	set(&cfg.Metrics.Tags, rc.DDTagsCSV)
	if rc.FlushEvery > 0 {
		cfg.Metrics.FlushEvery = rc.FlushEvery
	}
}

func readWordFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return batch.ReadWords(f)
}
