// Package prompt assembles the message list for one chapter translation:
// a system message, a lead-context message built from the novel's reference
// glossary, exemplar pairs from earlier translated chapters, and the task
// message carrying the chapter to translate. The result is fitted to the
// context window by [budget.Fit].
package prompt

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"math"
	"math/rand/v2"
	"slices"
	"strings"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/novelt-go/internal/budget"
	"github.com/54b3r/novelt-go/internal/logging"
	"github.com/54b3r/novelt-go/internal/novel"
	"github.com/54b3r/novelt-go/internal/tokens"
)

const (
	// MinExemplarScore is the lowest quality score a chapter may have and
	// still be shown to the model as an example translation.
	MinExemplarScore = 6

	// maxJitter bounds the random perturbation of a pair's distance weight.
	maxJitter = 0.02
)

// RandSource supplies the jitter for exemplar ordering. *rand.Rand from
// math/rand/v2 satisfies it.
type RandSource interface {
	Float64() float64
}

type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }

// Config holds the global assembly settings. Per-novel overrides win.
type Config struct {
	// MaxContextTokens is the prompt ceiling. Defaults to
	// budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int
	// UseToolCalls prepends the reference side-channel instructions.
	UseToolCalls bool
	// SystemPrompt defaults to DefaultSystemPrompt if empty.
	SystemPrompt string
	// TaskTemplate defaults to DefaultTaskTemplate if empty.
	TaskTemplate string
	// Strategy selects the pair-fitting algorithm.
	Strategy budget.Strategy
	// Rand defaults to the math/rand/v2 global source.
	Rand RandSource
}

// Assembler builds budget-fitted prompts. It holds no per-request state and
// is safe for concurrent use.
type Assembler struct {
	counter tokens.Counter
	cfg     Config
}

// New returns an Assembler counting tokens with counter.
func New(counter tokens.Counter, cfg Config) *Assembler {
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = budget.DefaultMaxContextTokens
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.TaskTemplate == "" {
		cfg.TaskTemplate = DefaultTaskTemplate
	}
	if cfg.Rand == nil {
		cfg.Rand = globalRand{}
	}
	return &Assembler{counter: counter, cfg: cfg}
}

// Request describes the chapter being translated.
type Request struct {
	// ChapterID identifies the chapter so it is never used as its own
	// exemplar. Empty for text that is not stored as a chapter.
	ChapterID string
	// SourceContent is the text to translate.
	SourceContent string
	// PreviousTranslation and QualityFeedback feed the improvement block
	// when UseImprovementFeedback is set and both are non-empty.
	PreviousTranslation    string
	QualityFeedback        string
	UseImprovementFeedback bool
}

// Plan is a fitted prompt. It is not modified after Assemble returns.
type Plan struct {
	Messages    []*schema.Message
	TokenCounts budget.TokenCounts
	// IncludedChapters lists the chapter numbers used as exemplars, in
	// prompt order.
	IncludedChapters []int
	// DroppedPairs counts eligible exemplars that did not fit.
	DroppedPairs int
	// ToolCalls reports whether the task asked for a reference side-channel.
	ToolCalls bool
}

// ChapterPair is an exemplar candidate derived from a translated chapter.
type ChapterPair struct {
	budget.Pair
	// OriginalIndex is the chapter's position in the input sequence.
	OriginalIndex int
	Chapter       novel.Chapter
}

// Assemble builds the prompt for req. chapters is the novel's chapter
// sequence in reading order; n supplies languages, references and overrides.
// It returns a wrapped budget.ErrBudgetExceeded when the system and task
// messages alone exceed the ceiling.
func (a *Assembler) Assemble(ctx context.Context, n *novel.Novel, chapters []novel.Chapter, req Request) (*Plan, error) {
	system := schema.SystemMessage(a.systemPrompt(n))
	task := schema.UserMessage(a.taskMessage(n, req))

	candidates := a.orderCandidates(chapters, req.ChapterID)
	pairs := make([]budget.Pair, len(candidates))
	for i, c := range candidates {
		pairs[i] = c.Pair
	}

	in := budget.Input{
		System:    system,
		Lead:      schema.UserMessage(leadContext(n.References, len(pairs) > 0)),
		Pairs:     pairs,
		Task:      task,
		MaxTokens: a.maxTokens(n),
		Strategy:  a.cfg.Strategy,
	}
	sel, err := budget.Fit(a.counter, in)
	if len(pairs) > 0 && (errors.Is(err, budget.ErrBudgetExceeded) || (err == nil && len(sel.Pairs) == 0)) {
		// No exemplar fits, so the lead must not promise earlier chapters.
		// Its note may also have been the only thing over the ceiling.
		in.Lead = schema.UserMessage(leadContext(n.References, false))
		in.Pairs = nil
		sel, err = budget.Fit(a.counter, in)
		if err == nil {
			sel.Dropped = len(pairs)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("prompt: assemble %q: %w", n.Slug, err)
	}

	if sel.Dropped > 0 {
		logging.FromContext(ctx).Warn("budget: dropped exemplar chapters to fit context window",
			slog.String("novel", n.Slug),
			slog.Int("dropped_pairs", sel.Dropped),
			slog.Int("retained", len(sel.Pairs)),
			slog.Int("max_tokens", in.MaxTokens),
		)
	}

	included := make([]int, 0, len(sel.Pairs))
	for _, c := range candidates[len(candidates)-len(sel.Pairs):] {
		included = append(included, c.Chapter.Number)
	}

	return &Plan{
		Messages:         in.Messages(sel.Pairs),
		TokenCounts:      sel.TokenCounts,
		IncludedChapters: included,
		DroppedPairs:     sel.Dropped,
		ToolCalls:        a.useToolCalls(n),
	}, nil
}

// orderCandidates returns the exemplar pairs for chapters in prompt order:
// farthest from the current chapter first, closest last.
func (a *Assembler) orderCandidates(chapters []novel.Chapter, currentID string) []ChapterPair {
	current := len(chapters)
	for i, c := range chapters {
		if currentID != "" && c.ID == currentID {
			current = i
			break
		}
	}

	type weighted struct {
		ChapterPair
		weight float64
	}
	var out []weighted
	for i, c := range chapters {
		if currentID != "" && c.ID == currentID {
			continue
		}
		if !c.Translated() {
			continue
		}
		if c.QualityCheck != nil && c.QualityCheck.Score < MinExemplarScore {
			continue
		}
		distance := math.Abs(float64(i - current))
		jitter := (a.cfg.Rand.Float64()*2 - 1) * maxJitter
		out = append(out, weighted{
			ChapterPair: ChapterPair{
				Pair: budget.Pair{
					User:      schema.UserMessage(c.SourceContent),
					Assistant: schema.AssistantMessage(c.TranslatedContent, nil),
				},
				OriginalIndex: i,
				Chapter:       c,
			},
			weight: distance * (1 + jitter),
		})
	}

	// Descending weight puts the nearest chapters at the end, where the
	// budgeter keeps them longest.
	slices.SortStableFunc(out, func(x, y weighted) int {
		switch {
		case x.weight > y.weight:
			return -1
		case x.weight < y.weight:
			return 1
		default:
			return x.OriginalIndex - y.OriginalIndex
		}
	})

	pairs := make([]ChapterPair, len(out))
	for i, w := range out {
		pairs[i] = w.ChapterPair
	}
	return pairs
}

func (a *Assembler) systemPrompt(n *novel.Novel) string {
	if n.Overrides.SystemPrompt != "" {
		return n.Overrides.SystemPrompt
	}
	return a.cfg.SystemPrompt
}

func (a *Assembler) maxTokens(n *novel.Novel) int {
	if n.Overrides.MaxContextTokens > 0 {
		return n.Overrides.MaxContextTokens
	}
	return a.cfg.MaxContextTokens
}

func (a *Assembler) useToolCalls(n *novel.Novel) bool {
	if n.Overrides.UseToolCalls != nil {
		return *n.Overrides.UseToolCalls
	}
	return a.cfg.UseToolCalls
}

// taskMessage renders the task template. Substitution is a single pass so
// placeholder-like text inside the chapter is never expanded.
func (a *Assembler) taskMessage(n *novel.Novel, req Request) string {
	tmpl := a.cfg.TaskTemplate
	if n.Overrides.TaskTemplate != "" {
		tmpl = n.Overrides.TaskTemplate
	}

	improvement := improvementBlock(req)
	if improvement != "" && !strings.Contains(tmpl, PlaceholderImprovementPrompt) {
		if strings.Contains(tmpl, PlaceholderSourceContent) {
			tmpl = strings.Replace(tmpl, PlaceholderSourceContent, PlaceholderImprovementPrompt+PlaceholderSourceContent, 1)
		} else {
			tmpl = PlaceholderImprovementPrompt + tmpl
		}
	}

	task := strings.NewReplacer(
		PlaceholderSourceLanguage, LanguageName(n.SourceLanguage),
		PlaceholderTargetLanguage, LanguageName(n.TargetLanguage),
		PlaceholderSourceContent, req.SourceContent,
		PlaceholderImprovementPrompt, improvement,
	).Replace(tmpl)

	if a.useToolCalls(n) {
		task = ToolCallInstructions + task
	}
	return task
}

func improvementBlock(req Request) string {
	if !req.UseImprovementFeedback || req.PreviousTranslation == "" || req.QualityFeedback == "" {
		return ""
	}
	return fmt.Sprintf(improvementTemplate, req.PreviousTranslation, req.QualityFeedback)
}

func leadContext(refs []novel.Reference, withPriorChapters bool) string {
	var b strings.Builder
	for _, r := range refs {
		fmt.Fprintf(&b, "<reference id=\"%s\" title=\"%s\">\n%s\n</reference>\n",
			html.EscapeString(r.ID), html.EscapeString(r.Title), r.Content)
	}
	if len(refs) > 0 {
		b.WriteString("\n")
		b.WriteString(referencesNote)
	}
	if withPriorChapters {
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(priorChaptersNote)
	}
	if b.Len() == 0 {
		return emptyLeadNote
	}
	return b.String()
}
