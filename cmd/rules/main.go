// Command rules manages the extraction rule sets persisted per source key.
//
// Edits are applied in this order: -import, -clear, -map, -unmap, -weight,
// -base, -list. Then -export and -show print the result.
//
// Examples:
//
//	rules -source_key "https://dict.example/{word}" -import rules.json
//	rules -source_key dict -list root.senses -map root.senses.def=translation -base root.word
//	rules -source_key dict -weight root.senses.def=2 -show
//	rules -source_key dict -export - > rules.json
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"vocabetl/internal/config"
	"vocabetl/internal/domain"
	"vocabetl/internal/logging"
	"vocabetl/internal/rules"
	"vocabetl/internal/storage"
	_ "vocabetl/internal/storage/all"
)

// deps are external seams for tests.
type deps struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	OpenStorage func(ctx context.Context, cfg storage.Config) (storage.Repository, error)
	Now         func() time.Time
}

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string     { return strings.Join(*l, ",") }
func (l *listFlag) Set(v string) error { *l = append(*l, v); return nil }

type runConfig struct {
	ConfigPath  string
	SourceKey   string
	StorageKind string
	DSN         string

	Import string
	Export string
	Show   bool
	Clear  bool

	Map    listFlag
	Unmap  listFlag
	Weight listFlag
	Base   listFlag
	List   listFlag
}

func (rc runConfig) edits() bool {
	return rc.Import != "" || rc.Clear ||
		len(rc.Map)+len(rc.Unmap)+len(rc.Weight)+len(rc.Base)+len(rc.List) > 0
}

func main() {
	os.Exit(run(context.Background(), os.Args[1:], deps{
		Stdin:       os.Stdin,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
		OpenStorage: storage.New,
		Now:         time.Now,
	}))
}

// run returns 0 on success, 1 for runtime errors and 2 for usage, config or
// rule validation errors.
func run(ctx context.Context, args []string, d deps) int {
	if d.Stdin == nil {
		d.Stdin = strings.NewReader("")
	}
	if d.Stdout == nil {
		d.Stdout = io.Discard
	}
	if d.Stderr == nil {
		d.Stderr = io.Discard
	}
	if d.OpenStorage == nil {
		d.OpenStorage = storage.New
	}
	if d.Now == nil {
		d.Now = time.Now
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
	if rc.StorageKind != "" {
		cfg.Storage.Kind = rc.StorageKind
	}
	if rc.DSN != "" {
		cfg.Storage.DSN = rc.DSN
	}

	logger, closeLog, err := logging.NewTo(cfg.Log, d.Stderr)
	if err != nil {
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}
	defer func() { _ = closeLog() }()
	log := logging.Component(logger, "rules")

	repo, err := d.OpenStorage(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN})
	if err != nil {
		fmt.Fprintf(d.Stderr, "open storage: %v\n", err)
		return 2
	}
	defer func() { _ = repo.Close() }()

	var bundle *rules.Bundle
	if rc.Import != "" {
		b, err := readBundle(rc.Import, d.Stdin)
		if err != nil {
			fmt.Fprintf(d.Stderr, "import: %v\n", err)
			return 2
		}
		bundle = &b
		if rc.SourceKey == "" {
			rc.SourceKey = b.SourceKey
		}
	}
	if rc.SourceKey == "" {
		fmt.Fprintln(d.Stderr, "missing -source_key")
		return 2
	}

	// Every committed edit reschedules the save; Stop writes the final state
	// once on the way out.
	saver := rules.NewDebouncer(repo, cfg.Engine.PersistDebounce, func(err error) {
		log.Error("save rules failed", zap.String("source_key", rc.SourceKey), zap.Error(err))
	})
	store := rules.NewStore(
		rules.WithHistoryLimit(cfg.Engine.HistoryLimit),
		rules.WithClock(d.Now),
		rules.WithOnChange(saver.Schedule),
	)
	if err := store.SwitchSource(ctx, repo, rc.SourceKey); err != nil {
		fmt.Fprintf(d.Stderr, "load rules: %v\n", err)
		return 1
	}

	// A failed edit drops the whole invocation's pending save.
	if err := applyEdits(store, rc, bundle); err != nil {
		saver.Cancel()
		_ = saver.Stop(ctx)
		fmt.Fprintln(d.Stderr, err.Error())
		return 2
	}
	if err := saver.Stop(ctx); err != nil {
		fmt.Fprintf(d.Stderr, "save rules: %v\n", err)
		return 1
	}
	if store.CanUndo() {
		rs := store.Rules()
		log.Info("rules saved",
			zap.String("source_key", rc.SourceKey),
			zap.Int("mappings", len(rs.Mappings)),
			zap.Int("lists", len(rs.Lists)),
			zap.Int("edits", store.HistoryLen()-1),
		)
	}

	out := rules.BundleOf(store.Snapshot())
	if rc.Export != "" {
		if err := writeBundle(rc.Export, d.Stdout, out); err != nil {
			fmt.Fprintf(d.Stderr, "export: %v\n", err)
			return 1
		}
	}
	if rc.Show {
		if err := rules.Export(d.Stdout, out); err != nil {
			fmt.Fprintf(d.Stderr, "show: %v\n", err)
			return 1
		}
	}
	return 0
}

func parseFlags(args []string) (runConfig, error) {
	fs := flag.NewFlagSet("rules", flag.ContinueOnError)

	var usageBuf strings.Builder
	fs.SetOutput(&usageBuf)

	fs.Usage = func() {
		fmt.Fprintf(&usageBuf, "Usage of %s:\n", fs.Name())
		fs.PrintDefaults()
	}

	var rc runConfig
	fs.StringVar(&rc.ConfigPath, "config", "", "Optional YAML config file (env VOCAB_* always applies)")
	fs.StringVar(&rc.SourceKey, "source_key", "", "Source key of the rule set (defaults to the imported bundle's key)")
	fs.StringVar(&rc.StorageKind, "storage", "", "Storage backend: sqlite, postgres, mssql or memory")
	fs.StringVar(&rc.DSN, "dsn", "", "Storage DSN")
	fs.StringVar(&rc.Import, "import", "", "Replace the rule set with a bundle file (- for stdin)")
	fs.StringVar(&rc.Export, "export", "", "Write the rule set as a bundle file (- for stdout)")
	fs.BoolVar(&rc.Show, "show", false, "Print the rule set as JSON")
	fs.BoolVar(&rc.Clear, "clear", false, "Remove every mapping and list declaration")
	fs.Var(&rc.Map, "map", "Map path=field (repeatable)")
	fs.Var(&rc.Unmap, "unmap", "Remove the mapping path=field (repeatable)")
	fs.Var(&rc.Weight, "weight", "Set the weight of every rule at path: path=n (repeatable)")
	fs.Var(&rc.Base, "base", "Toggle base on every rule at path (repeatable)")
	fs.Var(&rc.List, "list", "Toggle a list declaration at path (repeatable)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return runConfig{}, errors.New(usageBuf.String())
		}
		return runConfig{}, fmt.Errorf("%v\n\n%s", err, usageBuf.String())
	}
	if fs.NArg() > 0 {
		return runConfig{}, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if !rc.edits() && !rc.Show && rc.Export == "" {
		return runConfig{}, errors.New("nothing to do: pass -show, -export or an edit flag")
	}
	return rc, nil
}

func applyEdits(store *rules.Store, rc runConfig, bundle *rules.Bundle) error {
	if bundle != nil {
		if err := store.Replace(bundle.RuleSet()); err != nil {
			return fmt.Errorf("import: %w", err)
		}
	}
	if rc.Clear {
		store.Clear()
	}
	for _, kv := range rc.Map {
		path, field, err := splitPair("-map", kv)
		if err != nil {
			return err
		}
		if err := store.SetMapping(path, domain.FieldID(field)); err != nil {
			return fmt.Errorf("-map %s: %w", kv, err)
		}
	}
	for _, kv := range rc.Unmap {
		path, field, err := splitPair("-unmap", kv)
		if err != nil {
			return err
		}
		if !store.RemoveMapping(path, domain.FieldID(field)) {
			return fmt.Errorf("-unmap %s: %w", kv, domain.ErrNotFound)
		}
	}
	for _, kv := range rc.Weight {
		path, raw, err := splitPair("-weight", kv)
		if err != nil {
			return err
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("-weight %s: %w", kv, domain.ErrInvalidWeight)
		}
		if err := store.SetWeight(path, n); err != nil {
			return fmt.Errorf("-weight %s: %w", kv, err)
		}
	}
	for _, path := range rc.Base {
		if !store.ToggleBase(path) {
			return fmt.Errorf("-base %s: no rules at path: %w", path, domain.ErrNotFound)
		}
	}
	for _, path := range rc.List {
		store.ToggleList(path)
	}
	return nil
}

// splitPair splits "path=value" at the last '='.
func splitPair(flagName, kv string) (string, string, error) {
	i := strings.LastIndex(kv, "=")
	if i <= 0 || i == len(kv)-1 {
		return "", "", fmt.Errorf("%s: want path=value, got %q", flagName, kv)
	}
	return kv[:i], kv[i+1:], nil
}

func readBundle(path string, stdin io.Reader) (rules.Bundle, error) {
	if path == "-" {
		return rules.Import(stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return rules.Bundle{}, err
	}
	defer f.Close()
	return rules.Import(f)
}

func writeBundle(path string, stdout io.Writer, b rules.Bundle) error {
	if path == "-" {
		return rules.Export(stdout, b)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := rules.Export(f, b); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
