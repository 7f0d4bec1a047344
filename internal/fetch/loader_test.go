package fetch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vocabetl/internal/domain"
	"vocabetl/internal/jsontree"
)

// noSleep records requested waits without blocking.
func noSleep(waits *[]time.Duration) func(context.Context, time.Duration) bool {
	return func(ctx context.Context, d time.Duration) bool {
		*waits = append(*waits, d)
		return ctx.Err() == nil
	}
}

func TestExpandTemplate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		tmpl string
		word string
		want string
	}{
		{tmpl: "https://d.example/api/{word}", word: "run", want: "https://d.example/api/run"},
		{tmpl: "https://d.example/?q={word}&w={word}", word: "ice cream", want: "https://d.example/?q=ice%20cream&w=ice%20cream"},
		{tmpl: "https://d.example/{word}", word: "a/b&c", want: "https://d.example/a%2Fb%26c"},
		{tmpl: "https://d.example/{word}", word: "café", want: "https://d.example/caf%C3%A9"},
	}
	for _, tc := range tests {
		got, err := ExpandTemplate(tc.tmpl, tc.word)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
	}

	_, err := ExpandTemplate("https://d.example/api", "run")
	assert.ErrorIs(t, err, domain.ErrRetrieval)
}

func TestLoader_FetchJSON(t *testing.T) {
	t.Parallel()

	var gotUA, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.UserAgent()
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"word":"run","senses":[{"def":"a"}]}`))
	}))
	defer srv.Close()

	l := NewLoader(Options{Client: srv.Client(), UserAgent: "test-agent"})
	doc, err := l.Fetch(context.Background(), srv.URL+"/api/{word}", "run")
	require.NoError(t, err)

	assert.Equal(t, "run", doc.Get("word").Str)
	assert.Equal(t, "test-agent", gotUA)
	assert.Equal(t, "/api/run", gotPath)
}

// TestLoader_RetriesTransientFailures covers backoff on 5xx and
// Retry-After on 429.
func TestLoader_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			_, _ = w.Write([]byte(`{"ok":true}`))
		}
	}))
	defer srv.Close()

	var waits []time.Duration
	l := NewLoader(Options{
		Client:      srv.Client(),
		MaxAttempts: 5,
		BaseBackoff: 100 * time.Millisecond,
		MaxBackoff:  10 * time.Second,
		sleep:       noSleep(&waits),
	})

	doc, err := l.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "bool", doc.Get("ok").Kind.String())
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 3 * time.Second}, waits)
}

func TestLoader_GivesUp(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	var waits []time.Duration
	l := NewLoader(Options{Client: srv.Client(), MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: time.Millisecond, sleep: noSleep(&waits)})

	_, err := l.Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRetrieval)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream down")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
	assert.Len(t, waits, 2)
}

func TestLoader_NoRetryOnClientErrors(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	l := NewLoader(Options{Client: srv.Client(), MaxAttempts: 5})
	_, err := l.Fetch(context.Background(), srv.URL+"/{word}", "zzz")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRetrieval)
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestLoader_CachesDocuments(t *testing.T) {
	t.Parallel()

	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"n":1}`))
	}))
	defer srv.Close()

	l := NewLoader(Options{Client: srv.Client(), CacheTTL: time.Minute})
	first, err := l.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	second, err := l.Get(context.Background(), srv.URL)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestLoader_InvalidJSONIsRetrievalError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"broken":`))
	}))
	defer srv.Close()

	_, err := NewLoader(Options{Client: srv.Client()}).Get(context.Background(), srv.URL)
	assert.ErrorIs(t, err, domain.ErrRetrieval)
}

func TestLoader_DeeplyNestedIsRetrievalError(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("[", 1<<20) + strings.Repeat("]", 1<<20)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	_, err := NewLoader(Options{Client: srv.Client()}).Get(context.Background(), srv.URL)
	assert.ErrorIs(t, err, domain.ErrRetrieval)
	assert.ErrorIs(t, err, jsontree.ErrTooDeep)
}

func TestLoader_BodyLimit(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":"0123456789"}`))
	}))
	defer srv.Close()

	_, err := NewLoader(Options{Client: srv.Client(), MaxBodyBytes: 8}).Get(context.Background(), srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds 8 bytes")
}

func TestLoader_CanceledContextStops(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var waits []time.Duration
	l := NewLoader(Options{Client: srv.Client(), MaxAttempts: 5, sleep: noSleep(&waits)})
	_, err := l.Get(ctx, srv.URL)
	assert.ErrorIs(t, err, domain.ErrRetrieval)
	assert.Empty(t, waits)
}

func TestNextRetryDelay(t *testing.T) {
	t.Parallel()

	base, max := time.Second, 5*time.Second
	assert.Equal(t, time.Second, nextRetryDelay(500, 0, 1, base, max))
	assert.Equal(t, 4*time.Second, nextRetryDelay(500, 0, 3, base, max))
	assert.Equal(t, max, nextRetryDelay(500, 0, 10, base, max))
	assert.Equal(t, 2*time.Second, nextRetryDelay(429, 2*time.Second, 1, base, max))
	assert.Equal(t, max, nextRetryDelay(429, time.Minute, 1, base, max))
	assert.Equal(t, time.Duration(0), nextRetryDelay(500, 0, 1, 0, 0))
}

func TestParseRetryAfter(t *testing.T) {
	t.Parallel()

	h := http.Header{}
	assert.Equal(t, time.Duration(0), parseRetryAfter(h))

	h.Set("Retry-After", "7")
	assert.Equal(t, 7*time.Second, parseRetryAfter(h))

	h.Set("Retry-After", "-1")
	assert.Equal(t, time.Duration(0), parseRetryAfter(h))

	h.Set("Retry-After", time.Now().Add(time.Hour).UTC().Format(http.TimeFormat))
	assert.Greater(t, parseRetryAfter(h), 58*time.Minute)
}
