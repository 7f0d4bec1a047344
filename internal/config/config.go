// Package config loads command configuration from an optional YAML file
// and VOCAB_* environment variables. Command-line flags are applied on top
// by each command.
package config

import "time"

// Config is the root configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Fetch   FetchConfig   `yaml:"fetch"`
	Storage StorageConfig `yaml:"storage"`
	Metrics MetricsConfig `yaml:"metrics"`
	Engine  EngineConfig  `yaml:"engine"`
	Batch   BatchConfig   `yaml:"batch"`
}

// LogConfig holds logging settings. An empty File logs to stderr only.
type LogConfig struct {
	Level      string `yaml:"level"        env:"VOCAB_LOG_LEVEL"        env-default:"info"`
	Format     string `yaml:"format"       env:"VOCAB_LOG_FORMAT"       env-default:"console"`
	File       string `yaml:"file"         env:"VOCAB_LOG_FILE"`
	MaxSizeMB  int    `yaml:"max_size_mb"  env:"VOCAB_LOG_MAX_SIZE_MB"  env-default:"10"`
	MaxBackups int    `yaml:"max_backups"  env:"VOCAB_LOG_MAX_BACKUPS" env-default:"5"`
	MaxAgeDays int    `yaml:"max_age_days" env:"VOCAB_LOG_MAX_AGE_DAYS" env-default:"30"`
	Compress   bool   `yaml:"compress"     env:"VOCAB_LOG_COMPRESS"     env-default:"true"`
}

// FetchConfig holds document retrieval settings.
type FetchConfig struct {
	Timeout      time.Duration `yaml:"timeout"        env:"VOCAB_FETCH_TIMEOUT"        env-default:"30s"`
	MaxAttempts  int           `yaml:"max_attempts"   env:"VOCAB_FETCH_MAX_ATTEMPTS"   env-default:"3"`
	BaseBackoff  time.Duration `yaml:"base_backoff"   env:"VOCAB_FETCH_BASE_BACKOFF"   env-default:"1s"`
	MaxBackoff   time.Duration `yaml:"max_backoff"    env:"VOCAB_FETCH_MAX_BACKOFF"    env-default:"30s"`
	CacheTTL     time.Duration `yaml:"cache_ttl"      env:"VOCAB_FETCH_CACHE_TTL"      env-default:"10m"`
	UserAgent    string        `yaml:"user_agent"     env:"VOCAB_FETCH_USER_AGENT"     env-default:"vocabetl/1.0"`
	MaxBodyBytes int64         `yaml:"max_body_bytes" env:"VOCAB_FETCH_MAX_BODY_BYTES" env-default:"8388608"`
}

// StorageConfig selects the repository backend.
type StorageConfig struct {
	Kind string `yaml:"kind" env:"VOCAB_STORAGE_KIND" env-default:"sqlite"`
	DSN  string `yaml:"dsn"  env:"VOCAB_STORAGE_DSN"  env-default:"vocab.db"`
}

// MetricsConfig selects the metrics backend ("none" or "datadog").
type MetricsConfig struct {
	Backend    string        `yaml:"backend"     env:"VOCAB_METRICS_BACKEND"     env-default:"none"`
	Job        string        `yaml:"job"         env:"VOCAB_METRICS_JOB"         env-default:"vocab"`
	Tags       string        `yaml:"tags"        env:"VOCAB_METRICS_TAGS"`
	FlushEvery time.Duration `yaml:"flush_every" env:"VOCAB_METRICS_FLUSH_EVERY" env-default:"60s"`
}

// EngineConfig tunes extraction and rule editing.
type EngineConfig struct {
	MaxDepth        int           `yaml:"max_depth"        env:"VOCAB_ENGINE_MAX_DEPTH"        env-default:"40"`
	HistoryLimit    int           `yaml:"history_limit"    env:"VOCAB_ENGINE_HISTORY_LIMIT"    env-default:"50"`
	PersistDebounce time.Duration `yaml:"persist_debounce" env:"VOCAB_ENGINE_PERSIST_DEBOUNCE" env-default:"800ms"`
}

// BatchConfig holds defaults for batch runs. URLTemplate must contain {word}.
type BatchConfig struct {
	URLTemplate string `yaml:"url_template" env:"VOCAB_BATCH_URL_TEMPLATE"`
	SourceKey   string `yaml:"source_key"   env:"VOCAB_BATCH_SOURCE_KEY"`
	Category    string `yaml:"category"     env:"VOCAB_BATCH_CATEGORY" env-default:"default"`
	Scenario    string `yaml:"scenario"     env:"VOCAB_BATCH_SCENARIO"`
}

// RulesKey returns the source key rules are stored under: SourceKey when
// set, otherwise the URL template.
func (b BatchConfig) RulesKey() string {
	if b.SourceKey != "" {
		return b.SourceKey
	}
	return b.URLTemplate
}
