// Package metrics is the process-wide metrics facade used by the batch
// pipeline and the fetch loader. Backends (see metrics/datadog) plug in via
// SetBackend; the default backend drops everything.
package metrics

import (
	"strconv"
	"sync"
	"time"
)

// Metric names understood by backends.
const (
	WordsTotal           = "vocab_words_total"
	RecordsTotal         = "vocab_records_total"
	BatchesTotal         = "vocab_batches_total"
	StepTotal            = "vocab_step_total"
	StepDurationSeconds  = "vocab_step_duration_seconds"
	HTTPRequestsTotal    = "vocab_http_requests_total"
	HTTPErrorsTotal      = "vocab_http_errors_total"
	HTTPRequestDuration  = "vocab_http_request_duration_seconds"
	HTTPResponseDuration = "vocab_http_response_duration_seconds"
	HTTPDownloadBytes    = "vocab_http_download_bytes"
)

// Labels are metric dimensions.
type Labels map[string]string

// Backend receives metric events. Implementations must be safe for
// concurrent use.
type Backend interface {
	IncCounter(name string, delta float64, labels Labels)
	ObserveHistogram(name string, value float64, labels Labels)
}

type flusher interface {
	Flush() error
}

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs b as the process backend. nil restores the no-op one.
func SetBackend(b Backend) {
	if b == nil {
		b = nopBackend{}
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush asks the current backend to submit buffered data, if it buffers.
func Flush() error {
	if f, ok := current().(flusher); ok {
		return f.Flush()
	}
	return nil
}

// RecordWord counts one processed word by outcome (ok, empty, failed).
func RecordWord(job, status string) {
	current().IncCounter(WordsTotal, 1, Labels{"job": job, "status": status})
}

// RecordRecords counts records by kind (extracted, inserted).
func RecordRecords(job, kind string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(n), Labels{"job": job, "kind": kind})
}

// RecordBatch counts one finished batch run.
func RecordBatch(job string) {
	current().IncCounter(BatchesTotal, 1, Labels{"job": job})
}

// RecordStep counts a pipeline step and observes its duration.
func RecordStep(job, step, status string, d time.Duration) {
	l := Labels{"job": job, "step": step, "status": status}
	b := current()
	b.IncCounter(StepTotal, 1, l)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), l)
}

// RecordHTTP records one HTTP attempt. status 0 means the request never got
// a response; negative durations and sizes are treated as unknown.
func RecordHTTP(job string, status int, err error, reqDur, respDur time.Duration, downloadBytes int64) {
	l := Labels{"job": job, "status": statusLabel(status)}
	b := current()

	b.IncCounter(HTTPRequestsTotal, 1, l)
	if err != nil || status == 0 || status >= 400 {
		b.IncCounter(HTTPErrorsTotal, 1, l)
	}
	if reqDur >= 0 {
		b.ObserveHistogram(HTTPRequestDuration, reqDur.Seconds(), l)
	}
	if respDur >= 0 {
		b.ObserveHistogram(HTTPResponseDuration, respDur.Seconds(), l)
	}
	if downloadBytes >= 0 {
		b.ObserveHistogram(HTTPDownloadBytes, float64(downloadBytes), l)
	}
}

func statusLabel(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status)
}
