// Package batch runs the vocabulary pipeline over a list of words, one word
// at a time: fetch the word's document, extract records, store entries.
//
// A failure for one word is recorded in that word's Result and the run moves
// on to the next word.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"vocabetl/internal/domain"
	"vocabetl/internal/jsontree"
	"vocabetl/internal/metrics"
	"vocabetl/internal/rules"
	"vocabetl/internal/storage"
)

// DocumentSource retrieves the document for one word. *fetch.Loader
// satisfies it.
type DocumentSource interface {
	Fetch(ctx context.Context, template, word string) (*jsontree.Node, error)
}

// Extractor turns a document into records. *extract.Engine satisfies it.
type Extractor interface {
	Extract(doc *jsontree.Node, word string, rs rules.RuleSet) []domain.Record
}

// EntryWriter persists entries. Any storage.Repository satisfies it.
type EntryWriter interface {
	InsertEntries(ctx context.Context, entries []storage.Entry) (int64, error)
}

// Status is the outcome of one word.
type Status string

const (
	StatusOK     Status = "ok"
	StatusEmpty  Status = "empty"
	StatusFailed Status = "failed"
)

// Step names used in metrics and logs.
const (
	StepFetch   = "fetch"
	StepExtract = "extract"
	StepStore   = "store"
)

// Result describes one processed word. It is emitted as a JSONL line by
// cmd/vocab_batch, so renames are breaking changes for consumers.
type Result struct {
	Timestamp  string          `json:"ts"`
	Word       string          `json:"word"`
	Status     Status          `json:"status"`
	Records    int             `json:"records"`
	Inserted   int64           `json:"inserted"`
	Step       string          `json:"step,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms"`
	Output     []domain.Record `json:"output,omitempty"`
}

// Report aggregates a run.
type Report struct {
	Results  []Result
	OK       int
	Empty    int
	Failed   int
	Records  int
	Inserted int64
}

// HasFailures reports whether any word failed.
func (r Report) HasFailures() bool { return r.Failed > 0 }

func (r *Report) add(res Result) {
	r.Results = append(r.Results, res)
	r.Records += res.Records
	r.Inserted += res.Inserted
	switch res.Status {
	case StatusOK:
		r.OK++
	case StatusEmpty:
		r.Empty++
	case StatusFailed:
		r.Failed++
	}
}

// Options configures a Runner. Source and Extractor are required; a nil Sink
// makes the run a dry run that extracts without storing.
type Options struct {
	Job         string
	URLTemplate string
	SourceKey   string
	Category    string
	Scenario    string
	Rules       rules.RuleSet

	Source    DocumentSource
	Extractor Extractor
	Sink      EntryWriter
	Logger    *zap.Logger
	Now       func() time.Time

	// IncludeRecords copies each word's records into Result.Output.
	IncludeRecords bool

	// OnResult, when set, is called after every word in input order.
	OnResult func(Result)
}

// Runner executes batches. It is not safe for concurrent Run calls.
type Runner struct {
	opts Options
	log  *zap.Logger
}

// NewRunner validates opts and returns a Runner.
func NewRunner(opts Options) (*Runner, error) {
	if opts.Source == nil {
		return nil, errors.New("batch: Source is required")
	}
	if opts.Extractor == nil {
		return nil, errors.New("batch: Extractor is required")
	}
	if opts.URLTemplate == "" {
		return nil, errors.New("batch: URLTemplate is required")
	}
	if opts.Job == "" {
		opts.Job = "vocab"
	}
	if opts.SourceKey == "" {
		opts.SourceKey = opts.URLTemplate
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{opts: opts, log: log.With(zap.String("job", opts.Job))}, nil
}

// Run processes words in order. The returned error is non-nil only when ctx
// ends the run early; the report then covers the words finished so far.
func (r *Runner) Run(ctx context.Context, words []string) (Report, error) {
	var rep Report
	defer metrics.RecordBatch(r.opts.Job)

	r.log.Info("batch started", zap.Int("words", len(words)), zap.String("source_key", r.opts.SourceKey))
	for _, w := range words {
		if err := ctx.Err(); err != nil {
			r.log.Warn("batch interrupted", zap.Int("done", len(rep.Results)), zap.Error(err))
			return rep, err
		}

		res := r.processWord(ctx, w)
		rep.add(res)
		metrics.RecordWord(r.opts.Job, string(res.Status))
		if r.opts.OnResult != nil {
			r.opts.OnResult(res)
		}
	}

	r.log.Info("batch finished",
		zap.Int("ok", rep.OK),
		zap.Int("empty", rep.Empty),
		zap.Int("failed", rep.Failed),
		zap.Int("records", rep.Records),
		zap.Int64("inserted", rep.Inserted),
	)
	return rep, nil
}

func (r *Runner) processWord(ctx context.Context, word string) Result {
	start := r.opts.Now()
	res := Result{
		Timestamp: start.UTC().Format("2006-01-02T15:04:05.000Z"),
		Word:      word,
	}
	log := r.log.With(zap.String("word", word))
	finish := func() Result {
		res.DurationMs = r.opts.Now().Sub(start).Milliseconds()
		return res
	}
	fail := func(step string, err error) Result {
		res.Status = StatusFailed
		res.Step = step
		res.Error = err.Error()
		log.Warn("word failed", zap.String("step", step), zap.Error(err))
		return finish()
	}

	t0 := r.opts.Now()
	doc, err := r.opts.Source.Fetch(ctx, r.opts.URLTemplate, word)
	metrics.RecordStep(r.opts.Job, StepFetch, stepStatus(err), r.opts.Now().Sub(t0))
	if err != nil {
		return fail(StepFetch, err)
	}

	t0 = r.opts.Now()
	records := r.opts.Extractor.Extract(doc, word, r.opts.Rules)
	metrics.RecordStep(r.opts.Job, StepExtract, "ok", r.opts.Now().Sub(t0))
	metrics.RecordRecords(r.opts.Job, "extracted", len(records))
	res.Records = len(records)
	if r.opts.IncludeRecords {
		res.Output = records
	}

	if len(records) == 0 {
		res.Status = StatusEmpty
		log.Info("no records extracted")
		return finish()
	}

	if r.opts.Sink != nil {
		entries := storage.NewEntries(records, storage.EntryOptions{
			Category:  r.opts.Category,
			Scenario:  r.opts.Scenario,
			SourceKey: r.opts.SourceKey,
			Now:       r.opts.Now,
		})
		t0 = r.opts.Now()
		n, err := r.opts.Sink.InsertEntries(ctx, entries)
		metrics.RecordStep(r.opts.Job, StepStore, stepStatus(err), r.opts.Now().Sub(t0))
		if err != nil {
			return fail(StepStore, fmt.Errorf("store %d entries: %w", len(entries), err))
		}
		res.Inserted = n
		metrics.RecordRecords(r.opts.Job, "inserted", int(n))
	}

	res.Status = StatusOK
	log.Debug("word processed", zap.Int("records", res.Records), zap.Int64("inserted", res.Inserted))
	return finish()
}

func stepStatus(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
