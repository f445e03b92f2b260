package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sahilm/fuzzy"

	"github.com/54b3r/novelt-go/internal/completion"
	"github.com/54b3r/novelt-go/internal/config"
	"github.com/54b3r/novelt-go/internal/novel"
	"github.com/54b3r/novelt-go/internal/prompt"
	"github.com/54b3r/novelt-go/internal/provider"
	"github.com/54b3r/novelt-go/internal/quality"
	"github.com/54b3r/novelt-go/internal/store"
	"github.com/54b3r/novelt-go/internal/tokens"
	"github.com/54b3r/novelt-go/internal/translate"
)

// deps is the wired translation stack shared by serve, translate and check.
type deps struct {
	settings config.Settings
	repo     *store.SQLiteStore
	client   *completion.Client
	checker  quality.Checker
	service  *translate.Service
	closers  []func() error
}

// buildDeps wires settings, storage, token counting, the completion client,
// the quality checker and the translation service. reg may be nil, in which
// case translation metrics are not recorded.
func buildDeps(ctx context.Context, log *slog.Logger, reg prometheus.Registerer) (*deps, error) {
	settings, err := config.SettingsFromEnv()
	if err != nil {
		return nil, err
	}

	repo, err := openStore(log)
	if err != nil {
		return nil, err
	}
	d := &deps{settings: settings, repo: repo, closers: []func() error{repo.Close}}

	counter, closeCounter := newCounter(settings.Tokenizer, log)
	if closeCounter != nil {
		d.closers = append(d.closers, closeCounter)
	}

	assembler := prompt.New(counter, prompt.Config{
		MaxContextTokens: settings.MaxContextTokens,
		UseToolCalls:     settings.UseToolCalls,
		Strategy:         settings.Strategy,
	})
	d.client = completion.New(completion.Config{
		BaseURL:       settings.BaseURL,
		APIKey:        settings.APIKey,
		SafetyMarkers: settings.SafetyMarkers,
	})
	d.checker = newChecker(ctx, settings, log)

	var metrics *translate.Metrics
	if reg != nil {
		metrics = translate.NewMetrics(reg)
	}
	pipeline := translate.NewPipeline(assembler, d.client, settings.PostProcess)
	orch := translate.NewOrchestrator(pipeline, d.checker, metrics)
	d.service = translate.NewService(repo, orch, d.checker, settings)

	log.Info("translation stack ready",
		slog.String("model", settings.TranslationModel),
		slog.String("mode", settings.Mode().String()),
		slog.String("tokenizer", settings.Tokenizer),
		slog.Int("max_context_tokens", settings.MaxContextTokens),
		slog.Bool("quality_checker", d.checker != nil),
	)
	return d, nil
}

// Close releases the store and the tokenizer.
func (d *deps) Close() {
	for i := len(d.closers) - 1; i >= 0; i-- {
		_ = d.closers[i]()
	}
}

// openStore opens the SQLite database named by NOVELT_DB, or the default
// path under ~/.novelt.
func openStore(log *slog.Logger) (*store.SQLiteStore, error) {
	path := os.Getenv("NOVELT_DB")
	if path == "" {
		var err error
		if path, err = store.DefaultDBPath(); err != nil {
			return nil, fmt.Errorf("store: resolve default path: %w", err)
		}
	}
	s, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	log.Debug("store opened", slog.String("path", path))
	return s, nil
}

// newCounter returns the configured token counter and its closer, if any.
func newCounter(name string, log *slog.Logger) (tokens.Counter, func() error) {
	if strings.EqualFold(name, config.TokenizerHeuristic) {
		return tokens.NewHeuristic(), nil
	}
	tk := tokens.NewTiktoken(name, log)
	if err := tk.Init(); err != nil {
		log.Warn("tokenizer unavailable, using heuristic counts",
			slog.String("encoding", name),
			slog.Any("error", err),
		)
	}
	return tk, tk.Close
}

// newChecker builds the LLM quality checker. A misconfigured grading
// provider is not fatal: translation still works without auto retry.
func newChecker(ctx context.Context, settings config.Settings, log *slog.Logger) quality.Checker {
	m, err := provider.NewFromEnv(ctx)
	if err != nil {
		log.Warn("quality checker disabled", slog.Any("error", err))
		return nil
	}
	return quality.NewLLMChecker(m, settings.QualityThreshold, settings.MaxQualityOutputTokens)
}

// maxSuggestions bounds the "did you mean" list.
const maxSuggestions = 3

// withSuggestion decorates a not-found error for query with the closest
// known slugs.
func withSuggestion(ctx context.Context, repo novel.Repository, query string, err error) error {
	if !errors.Is(err, novel.ErrNotFound) {
		return err
	}
	slugs, listErr := repo.ListSlugs(ctx)
	if listErr != nil {
		return err
	}
	if s := suggestSlugs(query, slugs); len(s) > 0 {
		return fmt.Errorf("%w (did you mean: %s?)", err, strings.Join(s, ", "))
	}
	return err
}

// suggestSlugs returns up to maxSuggestions slugs fuzzily matching query,
// best first. An exact match yields nothing: the miss was something else.
func suggestSlugs(query string, slugs []string) []string {
	for _, s := range slugs {
		if s == query {
			return nil
		}
	}
	matches := fuzzy.Find(query, slugs)
	out := make([]string, 0, maxSuggestions)
	for _, m := range matches {
		if len(out) == maxSuggestions {
			break
		}
		out = append(out, m.Str)
	}
	return out
}
