// Package translate runs chapter translations: one pipeline pass assembles
// the prompt, calls the completion endpoint, extracts reference operations
// and cleans the output; the Orchestrator repeats passes until a quality
// check passes; Service and Batch load and persist chapters around it.
package translate

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/54b3r/novelt-go/internal/budget"
	"github.com/54b3r/novelt-go/internal/completion"
	"github.com/54b3r/novelt-go/internal/logging"
	"github.com/54b3r/novelt-go/internal/novel"
	"github.com/54b3r/novelt-go/internal/postprocess"
	"github.com/54b3r/novelt-go/internal/prompt"
	"github.com/54b3r/novelt-go/internal/toolcalls"
)

// Completer is the completion client surface the pipeline needs.
type Completer interface {
	Complete(ctx context.Context, req completion.Request) (*completion.Result, error)
}

// Job is everything one translation pass needs besides its seed.
type Job struct {
	Novel *novel.Novel
	// Chapters is the exemplar pool in reading order. It may include the
	// chapter being translated; it is excluded by ChapterID.
	Chapters      []novel.Chapter
	ChapterID     string
	SourceContent string

	Model           string
	Temperature     float64
	MaxOutputTokens int
	Mode            completion.Mode
	// Stream receives relayed bytes in completion.ModePassthroughStream.
	Stream io.Writer
}

// Seed is a previous translation and the reviewer's feedback on it.
type Seed struct {
	PreviousTranslation string `json:"previousTranslation"`
	QualityFeedback     string `json:"qualityFeedback"`
}

// Attempt is the output of one pipeline pass.
type Attempt struct {
	// Translation is the cleaned text. Empty in passthrough mode.
	Translation string
	Ops         []toolcalls.ReferenceOp
	Result      *completion.Result
	Plan        *prompt.Plan
}

// passthroughMetadata is the leading event of a relayed stream.
type passthroughMetadata struct {
	Model            string             `json:"model"`
	TokenCounts      budget.TokenCounts `json:"tokenCounts"`
	IncludedChapters []int              `json:"includedChapters"`
	DroppedPairs     int                `json:"droppedPairs"`
	ToolCalls        bool               `json:"toolCalls"`
}

// Pipeline performs single translation passes. It is stateless and safe for
// concurrent use.
type Pipeline struct {
	assembler *prompt.Assembler
	client    Completer
	post      postprocess.Options
}

// NewPipeline wires an assembler, a completion client and cleanup options.
func NewPipeline(a *prompt.Assembler, c Completer, post postprocess.Options) *Pipeline {
	return &Pipeline{assembler: a, client: c, post: post}
}

// Translate runs one pass. When improve is set and seed carries both a
// previous translation and feedback, the prompt asks for a revision.
func (p *Pipeline) Translate(ctx context.Context, job Job, seed Seed, improve bool) (*Attempt, error) {
	if job.Novel == nil {
		return nil, fmt.Errorf("translate: job has no novel")
	}
	plan, err := p.assembler.Assemble(ctx, job.Novel, job.Chapters, prompt.Request{
		ChapterID:              job.ChapterID,
		SourceContent:          job.SourceContent,
		PreviousTranslation:    seed.PreviousTranslation,
		QualityFeedback:        seed.QualityFeedback,
		UseImprovementFeedback: improve,
	})
	if err != nil {
		return nil, err
	}

	log := logging.FromContext(ctx)
	log.Debug("translate: prompt assembled",
		slog.String("novel", job.Novel.Slug),
		slog.Int("messages", len(plan.Messages)),
		slog.Int("prompt_tokens", plan.TokenCounts.Total()),
		slog.Any("included_chapters", plan.IncludedChapters),
	)

	req := completion.Request{
		Messages:        plan.Messages,
		Model:           job.Model,
		Temperature:     job.Temperature,
		MaxOutputTokens: job.MaxOutputTokens,
		Mode:            job.Mode,
		Stream:          job.Stream,
	}
	if job.Mode == completion.ModePassthroughStream {
		req.Metadata = passthroughMetadata{
			Model:            job.Model,
			TokenCounts:      plan.TokenCounts,
			IncludedChapters: plan.IncludedChapters,
			DroppedPairs:     plan.DroppedPairs,
			ToolCalls:        plan.ToolCalls,
		}
	}

	res, err := p.client.Complete(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("translate: complete: %w", err)
	}

	att := &Attempt{Result: res, Plan: plan, Ops: []toolcalls.ReferenceOp{}}
	if job.Mode == completion.ModePassthroughStream {
		return att, nil
	}

	text := res.Content
	if plan.ToolCalls {
		ex := toolcalls.Extract(text)
		text, att.Ops = ex.Translation, ex.Ops
	}
	att.Translation = postprocess.Process(text, p.post)
	return att, nil
}
