// Package fetch retrieves the JSON document for a word from a URL template.
//
// Transient failures (network errors, 408, 429, 5xx) are retried with
// exponential backoff, honoring Retry-After on 429. Parsed documents are
// cached per URL. Every failure wraps domain.ErrRetrieval.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"vocabetl/internal/config"
	"vocabetl/internal/domain"
	"vocabetl/internal/jsontree"
	"vocabetl/internal/metrics"
)

// Placeholder is replaced by the escaped word in URL templates.
const Placeholder = "{word}"

// Options configures a Loader.
type Options struct {
	Client       *http.Client
	Timeout      time.Duration
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	CacheTTL     time.Duration // <= 0 disables the cache
	UserAgent    string
	MaxBodyBytes int64
	Job          string // metrics job label
	Logger       *zap.Logger

	// sleep waits for d or until ctx is done. Tests replace it.
	sleep func(ctx context.Context, d time.Duration) bool
}

// OptionsFromConfig maps the fetch config section onto Options.
func OptionsFromConfig(cfg config.FetchConfig, job string, logger *zap.Logger) Options {
	return Options{
		Timeout:      cfg.Timeout,
		MaxAttempts:  cfg.MaxAttempts,
		BaseBackoff:  cfg.BaseBackoff,
		MaxBackoff:   cfg.MaxBackoff,
		CacheTTL:     cfg.CacheTTL,
		UserAgent:    cfg.UserAgent,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Job:          job,
		Logger:       logger,
	}
}

// Loader fetches and parses documents.
type Loader struct {
	client *http.Client
	opts   Options
	cache  *cache.Cache
	log    *zap.Logger
}

// NewLoader creates a Loader. Zero option values get usable defaults.
func NewLoader(opts Options) *Loader {
	if opts.Client == nil {
		opts.Client = &http.Client{}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 1
	}
	if opts.MaxBackoff < opts.BaseBackoff {
		opts.MaxBackoff = opts.BaseBackoff
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "vocabetl/1.0"
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 8 << 20
	}
	if opts.sleep == nil {
		opts.sleep = sleepContext
	}

	l := &Loader{client: opts.Client, opts: opts, log: opts.Logger}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	if opts.CacheTTL > 0 {
		l.cache = cache.New(opts.CacheTTL, 2*opts.CacheTTL)
	}
	return l
}

// ExpandTemplate substitutes the URL-component-escaped word for every
// {word} in template.
func ExpandTemplate(template, word string) (string, error) {
	if !strings.Contains(template, Placeholder) {
		return "", fmt.Errorf("%w: template %q has no %s placeholder", domain.ErrRetrieval, template, Placeholder)
	}
	esc := strings.ReplaceAll(url.QueryEscape(word), "+", "%20")
	return strings.ReplaceAll(template, Placeholder, esc), nil
}

// Fetch expands template for word and returns the parsed document.
func (l *Loader) Fetch(ctx context.Context, template, word string) (*jsontree.Node, error) {
	u, err := ExpandTemplate(template, word)
	if err != nil {
		return nil, err
	}
	return l.Get(ctx, u)
}

// Get returns the parsed document at rawURL, from cache when possible.
func (l *Loader) Get(ctx context.Context, rawURL string) (*jsontree.Node, error) {
	if l.cache != nil {
		if v, ok := l.cache.Get(rawURL); ok {
			return v.(*jsontree.Node), nil
		}
	}

	body, contentType, err := l.download(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	doc, err := Parse(body, contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", domain.ErrRetrieval, rawURL, err)
	}

	if l.cache != nil {
		l.cache.SetDefault(rawURL, doc)
	}
	return doc, nil
}

// attempt is the outcome of one HTTP round trip.
type attempt struct {
	status     int
	body       []byte
	header     http.Header
	err        error
	requestDur time.Duration
	totalDur   time.Duration
	size       int64
}

func (l *Loader) download(ctx context.Context, rawURL string) ([]byte, string, error) {
	var last attempt
	for n := 1; n <= l.opts.MaxAttempts; n++ {
		last = l.do(ctx, rawURL)
		metrics.RecordHTTP(l.opts.Job, last.status, last.err, last.requestDur, last.totalDur, last.size)

		l.log.Debug("fetch attempt",
			zap.String("url", rawURL),
			zap.Int("attempt", n),
			zap.Int("status", last.status),
			zap.Duration("duration", last.totalDur),
			zap.Error(last.err),
		)

		if last.err == nil && last.status >= 200 && last.status < 300 {
			return last.body, last.header.Get("Content-Type"), nil
		}
		if !retryable(last) || n == l.opts.MaxAttempts || ctx.Err() != nil {
			break
		}

		wait := nextRetryDelay(last.status, parseRetryAfter(last.header), n, l.opts.BaseBackoff, l.opts.MaxBackoff)
		l.log.Warn("fetch retry",
			zap.String("url", rawURL),
			zap.Int("attempt", n),
			zap.Int("status", last.status),
			zap.Duration("wait", wait),
		)
		if !l.opts.sleep(ctx, wait) {
			break
		}
	}

	return nil, "", failure(rawURL, last)
}

func (l *Loader) do(ctx context.Context, rawURL string) attempt {
	start := time.Now()
	a := attempt{requestDur: -1, totalDur: -1, size: -1}

	ctx, cancel := context.WithTimeout(ctx, l.opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		a.err = fmt.Errorf("new request: %w", err)
		return a
	}
	req.Header.Set("User-Agent", l.opts.UserAgent)
	req.Header.Set("Accept", "application/json, text/html;q=0.8, */*;q=0.5")

	resp, err := l.client.Do(req)
	if err != nil {
		a.err = fmt.Errorf("http get: %w", err)
		return a
	}
	defer resp.Body.Close()

	a.requestDur = time.Since(start)
	a.status = resp.StatusCode
	a.header = resp.Header

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// Keep a short excerpt for the error and drain so the connection is reused.
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		n, _ := io.Copy(io.Discard, resp.Body)
		a.body = excerpt
		a.size = int64(len(excerpt)) + n
		a.totalDur = time.Since(start)
		return a
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.opts.MaxBodyBytes+1))
	a.size = int64(len(body))
	a.totalDur = time.Since(start)
	if err != nil {
		a.err = fmt.Errorf("read body: %w", err)
		return a
	}
	if int64(len(body)) > l.opts.MaxBodyBytes {
		a.err = fmt.Errorf("body exceeds %d bytes", l.opts.MaxBodyBytes)
		return a
	}
	a.body = body
	return a
}

func retryable(a attempt) bool {
	switch {
	case a.status == 0:
		return !errors.Is(a.err, context.Canceled)
	case a.status == http.StatusRequestTimeout, a.status == http.StatusTooManyRequests:
		return true
	case a.status >= 500:
		return true
	default:
		return false
	}
}

func failure(rawURL string, a attempt) error {
	switch {
	case a.status == http.StatusNotFound:
		return fmt.Errorf("%w: %s: http 404: %w", domain.ErrRetrieval, rawURL, domain.ErrNotFound)
	case a.err != nil:
		return fmt.Errorf("%w: %s: %w", domain.ErrRetrieval, rawURL, a.err)
	default:
		return fmt.Errorf("%w: %s: http status %d: %s", domain.ErrRetrieval, rawURL, a.status, strings.TrimSpace(string(a.body)))
	}
}

// nextRetryDelay returns Retry-After for 429 when present, otherwise
// base * 2^(attempt-1) clamped to max.
func nextRetryDelay(status int, retryAfter time.Duration, attempt int, base, max time.Duration) time.Duration {
	if status == http.StatusTooManyRequests && retryAfter > 0 {
		if max > 0 && retryAfter > max {
			return max
		}
		return retryAfter
	}
	if base <= 0 {
		return 0
	}
	d := base << uint(attempt-1)
	if d > max || d <= 0 {
		d = max
	}
	return d
}

func parseRetryAfter(h http.Header) time.Duration {
	ra := strings.TrimSpace(h.Get("Retry-After"))
	if ra == "" {
		return 0
	}
	if secs, err := strconv.Atoi(ra); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(ra); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
