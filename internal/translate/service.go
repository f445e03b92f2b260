package translate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/54b3r/novelt-go/internal/completion"
	"github.com/54b3r/novelt-go/internal/config"
	"github.com/54b3r/novelt-go/internal/logging"
	"github.com/54b3r/novelt-go/internal/novel"
	"github.com/54b3r/novelt-go/internal/quality"
)

// ErrNoSource is returned when a request has neither a stored chapter nor
// inline source text.
var ErrNoSource = errors.New("translate: no source content")

// Request is one chapter translation as seen by callers of Service.
type Request struct {
	// Novel is a novel ID or slug.
	Novel string
	// ChapterNumber selects a stored chapter. Zero means SourceContent is
	// translated as free text with the novel's context.
	ChapterNumber int
	// SourceContent overrides the stored chapter source when non-empty.
	SourceContent string

	UseAutoRetry           bool
	MaxAttempts            int
	Previous               *Seed
	UseImprovementFeedback bool

	// Mode overrides the configured completion mode.
	Mode *completion.Mode
	// Stream receives relayed bytes for passthrough mode.
	Stream io.Writer
	// Save persists the translation, its quality check and reference ops.
	Save bool

	OnAttempt func(AttemptReport)
}

// Response is the result of Service.Translate.
type Response struct {
	Novel   *novel.Novel
	Chapter *novel.Chapter
	Outcome *Outcome
	// Applied is set when reference ops were persisted.
	Applied *novel.ApplyStats
	Saved   bool
}

// Service composes storage, settings and the orchestrator.
type Service struct {
	repo     novel.Repository
	orch     *Orchestrator
	checker  quality.Checker
	settings config.Settings
}

// NewService returns a Service. checker may be nil when auto retry and
// quality checks are not used.
func NewService(repo novel.Repository, orch *Orchestrator, checker quality.Checker, settings config.Settings) *Service {
	return &Service{repo: repo, orch: orch, checker: checker, settings: settings}
}

// Translate loads the novel, runs the orchestrator and optionally persists
// the result.
func (s *Service) Translate(ctx context.Context, req Request) (*Response, error) {
	n, err := s.repo.GetNovel(ctx, req.Novel, nil)
	if err != nil {
		return nil, fmt.Errorf("translate: load novel %q: %w", req.Novel, err)
	}

	var chapter *novel.Chapter
	if req.ChapterNumber > 0 {
		c, ok := n.ChapterByNumber(req.ChapterNumber)
		if !ok {
			return nil, fmt.Errorf("translate: chapter %d of %q: %w", req.ChapterNumber, n.Slug, novel.ErrNotFound)
		}
		chapter = &c
	}

	source := req.SourceContent
	job := Job{Novel: n, Chapters: n.Chapters}
	if chapter != nil {
		job.ChapterID = chapter.ID
		if source == "" {
			source = chapter.SourceContent
		}
	}
	if source == "" {
		return nil, ErrNoSource
	}
	job.SourceContent = source

	set := s.settings.ForNovel(n)
	job.Model = set.TranslationModel
	job.Temperature = set.Temperature
	job.MaxOutputTokens = set.MaxTranslationOutputTokens
	job.Mode = set.Mode()
	if req.Mode != nil {
		job.Mode = *req.Mode
	}
	job.Stream = req.Stream

	ctx = logging.WithLogger(ctx, logging.FromContext(ctx).With(slog.String("novel", n.Slug)))
	out, err := s.orch.Run(ctx, RunInput{
		Job:                    job,
		UseAutoRetry:           req.UseAutoRetry,
		MaxAttempts:            req.MaxAttempts,
		Previous:               req.Previous,
		UseImprovementFeedback: req.UseImprovementFeedback,
		QualityModel:           set.QualityModel,
		OnAttempt:              req.OnAttempt,
	})
	if err != nil {
		return nil, err
	}

	resp := &Response{Novel: n, Chapter: chapter, Outcome: out}
	if req.Save && job.Mode != completion.ModePassthroughStream {
		if err := s.persist(ctx, resp); err != nil {
			return resp, err
		}
	}
	return resp, nil
}

func (s *Service) persist(ctx context.Context, resp *Response) error {
	out := resp.Outcome
	if resp.Chapter != nil && out.Translation != "" {
		if err := s.repo.SaveTranslation(ctx, resp.Chapter.ID, out.Translation, out.Quality); err != nil {
			return fmt.Errorf("translate: save chapter %d: %w", resp.Chapter.Number, err)
		}
		resp.Saved = true
	}
	if len(out.Ops) > 0 {
		stats, err := s.repo.ApplyReferenceOps(ctx, resp.Novel.ID, out.Ops)
		if err != nil {
			return fmt.Errorf("translate: apply reference ops: %w", err)
		}
		resp.Applied = &stats
		logging.FromContext(ctx).Info("translate: reference ops applied",
			slog.Int("added", stats.Added),
			slog.Int("updated", stats.Updated),
			slog.Int("skipped", stats.Skipped),
		)
	}
	return nil
}

// CheckRequest grades a translation outside the retry loop.
type CheckRequest struct {
	SourceContent     string
	TranslatedContent string
	SourceLanguage    string
	TargetLanguage    string
	// Novel, when set, supplies languages and the quality model override.
	Novel string
}

// Check runs the quality checker once.
func (s *Service) Check(ctx context.Context, req CheckRequest) (*novel.QualityCheck, error) {
	if s.checker == nil {
		return nil, fmt.Errorf("translate: no quality checker configured")
	}
	set := s.settings
	if req.Novel != "" {
		n, err := s.repo.GetNovel(ctx, req.Novel, nil)
		if err != nil {
			return nil, fmt.Errorf("translate: load novel %q: %w", req.Novel, err)
		}
		set = set.ForNovel(n)
		if req.SourceLanguage == "" {
			req.SourceLanguage = n.SourceLanguage
		}
		if req.TargetLanguage == "" {
			req.TargetLanguage = n.TargetLanguage
		}
	}
	return s.checker.Check(ctx, quality.Input{
		SourceContent:     req.SourceContent,
		TranslatedContent: req.TranslatedContent,
		SourceLanguage:    req.SourceLanguage,
		TargetLanguage:    req.TargetLanguage,
		Model:             set.QualityModel,
	})
}

// Settings returns the global settings the service was built with.
func (s *Service) Settings() config.Settings { return s.settings }
