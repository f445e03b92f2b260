package translate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/54b3r/novelt-go/internal/completion"
	"github.com/54b3r/novelt-go/internal/logging"
	"github.com/54b3r/novelt-go/internal/novel"
	"github.com/54b3r/novelt-go/internal/quality"
)

// Attempt limits for the quality retry loop.
const (
	MinAttempts     = 1
	MaxAttemptLimit = 50
)

// ErrPassthroughRetry is returned when auto retry is requested for a
// passthrough stream: relayed output cannot be graded before it is sent.
var ErrPassthroughRetry = errors.New("translate: auto retry is not available in passthrough mode")

// Translator runs one pipeline pass. *Pipeline implements it.
type Translator interface {
	Translate(ctx context.Context, job Job, seed Seed, improve bool) (*Attempt, error)
}

// RunInput configures one orchestrated translation.
type RunInput struct {
	Job Job
	// UseAutoRetry enables the quality gate. Without it Run makes exactly
	// one pass and returns it ungraded.
	UseAutoRetry bool
	// MaxAttempts is clamped to [MinAttempts, MaxAttemptLimit].
	MaxAttempts int
	// Previous seeds the first pass, and later passes until one succeeds.
	Previous *Seed
	// UseImprovementFeedback applies Previous on the first pass. Later
	// passes always revise the best attempt so far.
	UseImprovementFeedback bool
	// QualityModel overrides the checker's model.
	QualityModel string
	// OnAttempt, if set, is called after every pass of the retry loop.
	OnAttempt func(AttemptReport)
}

// AttemptReport describes one finished pass of the retry loop.
type AttemptReport struct {
	// Attempt is zero-based.
	Attempt     int                 `json:"attempt"`
	MaxAttempts int                 `json:"maxAttempts"`
	Quality     *novel.QualityCheck `json:"qualityCheck,omitempty"`
	// BestScore is the best score so far, nil until an attempt succeeds.
	BestScore *float64 `json:"bestScore,omitempty"`
	Err       string   `json:"error,omitempty"`
}

// Outcome is the chosen translation of a run.
type Outcome struct {
	*Attempt
	// Quality is nil when no check ran (single pass or fallback).
	Quality *novel.QualityCheck
	// Attempts counts pipeline passes, including a fallback pass.
	Attempts int
	// Fallback is set when every graded pass failed and the result comes
	// from the final ungraded pass.
	Fallback bool
}

// Orchestrator runs the bounded quality retry loop. Its loop state is local
// to each Run, so one Orchestrator serves concurrent requests.
type Orchestrator struct {
	translator Translator
	checker    quality.Checker
	metrics    *Metrics
}

// NewOrchestrator returns an Orchestrator. metrics may be nil.
func NewOrchestrator(t Translator, c quality.Checker, m *Metrics) *Orchestrator {
	return &Orchestrator{translator: t, checker: c, metrics: m}
}

// ClampAttempts bounds n to [MinAttempts, MaxAttemptLimit].
func ClampAttempts(n int) int {
	return max(MinAttempts, min(MaxAttemptLimit, n))
}

// Run translates in.Job. Errors from individual graded passes are logged
// and skipped; only the final ungraded fallback pass returns its error.
// Cancellation ends the loop: Run returns the best graded attempt if there
// is one and the context error otherwise.
func (o *Orchestrator) Run(ctx context.Context, in RunInput) (*Outcome, error) {
	if in.Job.Novel == nil {
		return nil, fmt.Errorf("translate: job has no novel")
	}
	var first Seed
	if in.Previous != nil {
		first = *in.Previous
	}

	if !in.UseAutoRetry {
		att, err := o.translator.Translate(ctx, in.Job, first, in.UseImprovementFeedback)
		if err != nil {
			o.metrics.run(outcomeError)
			return nil, err
		}
		o.metrics.run(outcomeSingle)
		return &Outcome{Attempt: att, Attempts: 1}, nil
	}
	if in.Job.Mode == completion.ModePassthroughStream {
		return nil, ErrPassthroughRetry
	}
	if o.checker == nil {
		return nil, fmt.Errorf("translate: auto retry needs a quality checker")
	}

	log := logging.FromContext(ctx).With(
		slog.String("novel", in.Job.Novel.Slug),
		slog.String("chapter", in.Job.ChapterID),
	)
	maxAttempts := ClampAttempts(in.MaxAttempts)

	var (
		best        *Attempt
		bestQuality *novel.QualityCheck
		ran         int
	)
	for attempt := range maxAttempts {
		ran++
		seed, improve := first, in.UseImprovementFeedback
		if attempt > 0 {
			improve = true
			if best != nil {
				seed = Seed{PreviousTranslation: best.Translation, QualityFeedback: bestQuality.Feedback}
			}
		}

		att, qc, err := o.graded(ctx, in, seed, improve)
		o.metrics.attempt(err)
		report := AttemptReport{Attempt: attempt, MaxAttempts: maxAttempts, Quality: qc}
		if err != nil {
			log.Warn("translate: attempt failed",
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			report.Err = err.Error()
		} else {
			o.metrics.score(qc.Score)
			log.Info("translate: attempt graded",
				slog.Int("attempt", attempt),
				slog.Float64("score", qc.Score),
				slog.Bool("good", qc.IsGoodQuality),
			)
			if bestQuality == nil || qc.Score >= bestQuality.Score {
				best, bestQuality = att, qc
			}
		}
		if bestQuality != nil {
			s := bestQuality.Score
			report.BestScore = &s
		}
		if in.OnAttempt != nil {
			in.OnAttempt(report)
		}

		if err == nil && qc.IsGoodQuality {
			o.metrics.run(outcomeGood)
			return &Outcome{Attempt: att, Quality: qc, Attempts: attempt + 1}, nil
		}
		if ctx.Err() != nil {
			break
		}
	}

	// A cancelled run still returns its best graded attempt.
	if best != nil {
		log.Info("translate: attempts exhausted, returning best",
			slog.Int("attempts", ran),
			slog.Float64("score", bestQuality.Score),
		)
		o.metrics.run(outcomeBest)
		return &Outcome{Attempt: best, Quality: bestQuality, Attempts: ran}, nil
	}

	if err := ctx.Err(); err != nil {
		o.metrics.run(outcomeError)
		return nil, fmt.Errorf("translate: cancelled after %d attempts: %w", ran, err)
	}

	log.Warn("translate: no attempt succeeded, running final ungraded pass")
	att, err := o.translator.Translate(ctx, in.Job, first, in.UseImprovementFeedback)
	if err != nil {
		o.metrics.run(outcomeError)
		return nil, err
	}
	o.metrics.run(outcomeFallback)
	return &Outcome{Attempt: att, Attempts: ran + 1, Fallback: true}, nil
}

// graded runs one pass and checks its quality.
func (o *Orchestrator) graded(ctx context.Context, in RunInput, seed Seed, improve bool) (*Attempt, *novel.QualityCheck, error) {
	att, err := o.translator.Translate(ctx, in.Job, seed, improve)
	if err != nil {
		return nil, nil, err
	}
	qc, err := o.checker.Check(ctx, quality.Input{
		SourceContent:     in.Job.SourceContent,
		TranslatedContent: att.Translation,
		SourceLanguage:    in.Job.Novel.SourceLanguage,
		TargetLanguage:    in.Job.Novel.TargetLanguage,
		Model:             in.QualityModel,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("translate: quality check: %w", err)
	}
	return att, qc, nil
}
