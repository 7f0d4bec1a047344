package config

import (
	"fmt"
	"strings"

	"vocabetl/internal/domain"
)

// Validate checks cross-field rules. Load calls it automatically; commands
// call it again after applying flag overrides.
func (c *Config) Validate() error {
	var errs []domain.FieldError
	add := func(field, format string, args ...any) {
		errs = append(errs, domain.FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		add("log.format", "must be console or json (got %q)", c.Log.Format)
	}

	if c.Fetch.Timeout <= 0 {
		add("fetch.timeout", "must be > 0 (got %s)", c.Fetch.Timeout)
	}
	if c.Fetch.MaxAttempts < 1 {
		add("fetch.max_attempts", "must be >= 1 (got %d)", c.Fetch.MaxAttempts)
	}
	if c.Fetch.MaxBackoff < c.Fetch.BaseBackoff {
		add("fetch.max_backoff", "must be >= base_backoff (%s < %s)", c.Fetch.MaxBackoff, c.Fetch.BaseBackoff)
	}
	if c.Fetch.MaxBodyBytes <= 0 {
		add("fetch.max_body_bytes", "must be > 0 (got %d)", c.Fetch.MaxBodyBytes)
	}

	if strings.TrimSpace(c.Storage.Kind) == "" {
		add("storage.kind", "is empty")
	}

	switch c.Metrics.Backend {
	case "none", "datadog":
	default:
		add("metrics.backend", "must be none or datadog (got %q)", c.Metrics.Backend)
	}

	if c.Engine.MaxDepth < 1 {
		add("engine.max_depth", "must be >= 1 (got %d)", c.Engine.MaxDepth)
	}
	if c.Engine.HistoryLimit < 1 {
		add("engine.history_limit", "must be >= 1 (got %d)", c.Engine.HistoryLimit)
	}

	if t := c.Batch.URLTemplate; t != "" && !strings.Contains(t, "{word}") {
		add("batch.url_template", "must contain {word}")
	}

	return domain.NewValidationErrors(errs)
}
