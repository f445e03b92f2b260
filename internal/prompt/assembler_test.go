package prompt

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/54b3r/novelt-go/internal/budget"
	"github.com/54b3r/novelt-go/internal/novel"
	"github.com/54b3r/novelt-go/internal/tokens"
)

// fixedRand always returns v; 0.5 means no jitter.
type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

// seqRand cycles through vals.
type seqRand struct {
	vals []float64
	i    int
}

func (s *seqRand) Float64() float64 {
	v := s.vals[s.i%len(s.vals)]
	s.i++
	return v
}

func chapters(n int) []novel.Chapter {
	out := make([]novel.Chapter, n)
	for i := range out {
		out[i] = novel.Chapter{
			ID:                fmt.Sprintf("c%d", i+1),
			Number:            i + 1,
			SourceContent:     fmt.Sprintf("source %d", i+1),
			TranslatedContent: fmt.Sprintf("translation %d", i+1),
			QualityCheck:      &novel.QualityCheck{Score: 8},
		}
	}
	return out
}

func testNovel() *novel.Novel {
	return &novel.Novel{
		ID:             "n1",
		Slug:           "moon-gate",
		SourceLanguage: "ja",
		TargetLanguage: "en",
		References: []novel.Reference{
			{ID: "r1", Title: "Aria", Content: "Heroine"},
		},
	}
}

func newTestAssembler(cfg Config) *Assembler {
	if cfg.Rand == nil {
		cfg.Rand = fixedRand(0.5)
	}
	return New(tokens.NewHeuristic(), cfg)
}

func Test_Assemble_Structure(t *testing.T) {
	t.Parallel()
	a := newTestAssembler(Config{})
	plan, err := a.Assemble(context.Background(), testNovel(), chapters(3), Request{SourceContent: "new chapter"})
	require.NoError(t, err)

	msgs := plan.Messages
	require.Len(t, msgs, 2+2*3+1)
	assert.Equal(t, schema.System, msgs[0].Role)
	assert.Equal(t, schema.User, msgs[1].Role)
	for i := 2; i < len(msgs)-1; i += 2 {
		assert.Equal(t, schema.User, msgs[i].Role)
		assert.Equal(t, schema.Assistant, msgs[i+1].Role)
	}
	last := msgs[len(msgs)-1]
	assert.Equal(t, schema.User, last.Role)
	assert.Contains(t, last.Content, "new chapter")
	assert.Contains(t, last.Content, "from Japanese to English")

	lead := msgs[1].Content
	assert.Contains(t, lead, `<reference id="r1" title="Aria">`)
	assert.Contains(t, lead, referencesNote)
	assert.Contains(t, lead, priorChaptersNote)

	assert.Equal(t, []int{1, 2, 3}, plan.IncludedChapters)
	assert.Zero(t, plan.DroppedPairs)
	assert.Positive(t, plan.TokenCounts.Translation)
}

func Test_Assemble_FiltersCandidates(t *testing.T) {
	t.Parallel()
	chs := chapters(5)
	chs[1].QualityCheck = &novel.QualityCheck{Score: 5.9} // below exemplar floor
	chs[3].TranslatedContent = ""                        // never translated
	chs[0].QualityCheck = nil                            // unchecked is eligible

	a := newTestAssembler(Config{})
	plan, err := a.Assemble(context.Background(), testNovel(), chs, Request{ChapterID: "c3", SourceContent: "x"})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{1, 5}, plan.IncludedChapters)
	for _, m := range plan.Messages {
		assert.NotEqual(t, "source 3", m.Content, "current chapter must not be an exemplar")
		assert.NotEqual(t, "source 2", m.Content, "low-score chapter must not be an exemplar")
	}
}

func Test_Assemble_ScoreAtFloorIsEligible(t *testing.T) {
	t.Parallel()
	chs := chapters(1)
	chs[0].QualityCheck = &novel.QualityCheck{Score: MinExemplarScore}
	plan, err := newTestAssembler(Config{}).Assemble(context.Background(), testNovel(), chs, Request{SourceContent: "x"})
	require.NoError(t, err)
	assert.Equal(t, []int{1}, plan.IncludedChapters)
}

func Test_orderCandidates_ClosestLast(t *testing.T) {
	t.Parallel()
	a := newTestAssembler(Config{})

	got := numbers(a.orderCandidates(chapters(5), "c3"))
	assert.Equal(t, []int{1, 5, 2, 4}, got)

	// Without a current chapter, distance is measured from the end.
	got = numbers(a.orderCandidates(chapters(5), ""))
	assert.Equal(t, []int{1, 2, 3, 4, 5}, got)
}

func Test_orderCandidates_JitterKeepsNearbyChaptersOrdered(t *testing.T) {
	t.Parallel()
	// Alternate maximal positive and negative jitter. Below distance 25 the
	// 2% bound cannot close a one-chapter gap, so order follows distance.
	a := newTestAssembler(Config{Rand: &seqRand{vals: []float64{0.9999, 0, 0.9999, 0}}})
	got := numbers(a.orderCandidates(chapters(25), ""))
	for i := range 25 {
		assert.Equal(t, i+1, got[i])
	}
}

func Test_orderCandidates_JitterMaySwapDistantChapters(t *testing.T) {
	t.Parallel()
	a := newTestAssembler(Config{Rand: &seqRand{vals: []float64{0.9999, 0}}})
	got := numbers(a.orderCandidates(chapters(100), ""))
	assert.False(t, slices.IsSorted(got))
	// The nearest chapter still comes last.
	assert.Equal(t, 100, got[len(got)-1])
}

func numbers(pairs []ChapterPair) []int {
	out := make([]int, len(pairs))
	for i, p := range pairs {
		out[i] = p.Chapter.Number
	}
	return out
}

func Test_Assemble_DropsFarthestFirst(t *testing.T) {
	t.Parallel()
	chs := chapters(6)
	for i := range chs {
		chs[i].SourceContent = strings.Repeat("s", 400)
		chs[i].TranslatedContent = strings.Repeat("t", 400)
	}
	a := newTestAssembler(Config{MaxContextTokens: 650})
	plan, err := a.Assemble(context.Background(), testNovel(), chs, Request{SourceContent: "x"})
	require.NoError(t, err)
	require.NotEmpty(t, plan.IncludedChapters)
	assert.Positive(t, plan.DroppedPairs)
	// The nearest chapters to the end are the ones that survive.
	assert.Equal(t, 6, plan.IncludedChapters[len(plan.IncludedChapters)-1])
	assert.LessOrEqual(t, tokens.NewHeuristic().CountMessages(plan.Messages), 650)
}

func Test_Assemble_NoPairsFitRemovesPriorNote(t *testing.T) {
	t.Parallel()
	chs := chapters(2)
	for i := range chs {
		chs[i].SourceContent = strings.Repeat("s", 4000)
		chs[i].TranslatedContent = strings.Repeat("t", 4000)
	}
	a := newTestAssembler(Config{MaxContextTokens: 600})
	plan, err := a.Assemble(context.Background(), testNovel(), chs, Request{SourceContent: "x"})
	require.NoError(t, err)
	assert.Empty(t, plan.IncludedChapters)
	assert.Equal(t, 2, plan.DroppedPairs)
	require.Len(t, plan.Messages, 3)
	assert.NotContains(t, plan.Messages[1].Content, priorChaptersNote)
	assert.Equal(t, tokens.NewHeuristic().CountMessages(plan.Messages[:2]), plan.TokenCounts.System)
}

func Test_Assemble_PriorNoteNeverCausesOverflow(t *testing.T) {
	t.Parallel()
	counter := tokens.NewHeuristic()
	bare, err := newTestAssembler(Config{}).Assemble(context.Background(), testNovel(), nil, Request{SourceContent: "x"})
	require.NoError(t, err)
	ceiling := counter.CountMessages(bare.Messages)

	chs := chapters(2)
	for i := range chs {
		chs[i].SourceContent = strings.Repeat("s", 4000)
		chs[i].TranslatedContent = strings.Repeat("t", 4000)
	}
	for _, strategy := range []budget.Strategy{budget.StrategyGreedy, budget.StrategyBinarySearch} {
		a := newTestAssembler(Config{MaxContextTokens: ceiling, Strategy: strategy})
		plan, err := a.Assemble(context.Background(), testNovel(), chs, Request{SourceContent: "x"})
		require.NoError(t, err, strategy.String())
		assert.Empty(t, plan.IncludedChapters)
		assert.Equal(t, 2, plan.DroppedPairs)
		require.Len(t, plan.Messages, 3)
		assert.Equal(t, bare.Messages[1].Content, plan.Messages[1].Content)
		assert.Equal(t, ceiling, plan.TokenCounts.Total())
	}

	a := newTestAssembler(Config{MaxContextTokens: ceiling - 1})
	_, err = a.Assemble(context.Background(), testNovel(), chs, Request{SourceContent: "x"})
	assert.ErrorIs(t, err, budget.ErrBudgetExceeded)
}

func Test_Assemble_EmptyLeadContext(t *testing.T) {
	t.Parallel()
	n := testNovel()
	n.References = nil
	plan, err := newTestAssembler(Config{}).Assemble(context.Background(), n, nil, Request{SourceContent: "x"})
	require.NoError(t, err)
	require.Len(t, plan.Messages, 3)
	assert.Equal(t, emptyLeadNote, plan.Messages[1].Content)
}

func Test_Assemble_BudgetExceeded(t *testing.T) {
	t.Parallel()
	a := newTestAssembler(Config{MaxContextTokens: 10})
	_, err := a.Assemble(context.Background(), testNovel(), chapters(2), Request{SourceContent: "x"})
	assert.ErrorIs(t, err, budget.ErrBudgetExceeded)
}

func Test_Assemble_NovelCeilingOverride(t *testing.T) {
	t.Parallel()
	n := testNovel()
	n.Overrides.MaxContextTokens = 10
	a := newTestAssembler(Config{MaxContextTokens: 100000})
	_, err := a.Assemble(context.Background(), n, nil, Request{SourceContent: "x"})
	assert.ErrorIs(t, err, budget.ErrBudgetExceeded)
}

func Test_taskMessage_Improvement(t *testing.T) {
	t.Parallel()
	a := newTestAssembler(Config{})
	n := testNovel()

	cases := []struct {
		name string
		req  Request
		want bool
	}{
		{"all present", Request{SourceContent: "src", PreviousTranslation: "old", QualityFeedback: "fix names", UseImprovementFeedback: true}, true},
		{"flag off", Request{SourceContent: "src", PreviousTranslation: "old", QualityFeedback: "fix names"}, false},
		{"no feedback", Request{SourceContent: "src", PreviousTranslation: "old", UseImprovementFeedback: true}, false},
		{"no previous", Request{SourceContent: "src", QualityFeedback: "fix names", UseImprovementFeedback: true}, false},
	}
	for _, tc := range cases {
		task := a.taskMessage(n, tc.req)
		assert.Equal(t, tc.want, strings.Contains(task, "<reviewer_feedback>"), tc.name)
		if tc.want {
			assert.Less(t, strings.Index(task, "fix names"), strings.Index(task, "src"), "block precedes source")
		}
	}
}

func Test_taskMessage_CustomTemplate(t *testing.T) {
	t.Parallel()
	a := newTestAssembler(Config{})
	n := testNovel()
	n.SourceLanguage = "Korean"
	n.Overrides.TaskTemplate = "${sourceLanguage}->${targetLanguage} ${unknown}\n${sourceContent}"

	task := a.taskMessage(n, Request{SourceContent: "text with ${targetLanguage} inside"})
	assert.Equal(t, "Korean->English ${unknown}\ntext with ${targetLanguage} inside", task)

	// A template without ${improvementPrompt} gets the block ahead of the source.
	task = a.taskMessage(n, Request{
		SourceContent: "body", PreviousTranslation: "old", QualityFeedback: "fb", UseImprovementFeedback: true,
	})
	assert.True(t, strings.HasPrefix(task, "Korean->English ${unknown}\n"))
	assert.True(t, strings.HasSuffix(task, "body"))
	assert.Contains(t, task, "<reviewer_feedback>\nfb\n</reviewer_feedback>")
}

func Test_taskMessage_ToolCalls(t *testing.T) {
	t.Parallel()
	n := testNovel()

	task := newTestAssembler(Config{}).taskMessage(n, Request{SourceContent: "x"})
	assert.NotContains(t, task, "```toolcalls")

	task = newTestAssembler(Config{UseToolCalls: true}).taskMessage(n, Request{SourceContent: "x"})
	assert.True(t, strings.HasPrefix(task, ToolCallInstructions))

	off := false
	n.Overrides.UseToolCalls = &off
	task = newTestAssembler(Config{UseToolCalls: true}).taskMessage(n, Request{SourceContent: "x"})
	assert.NotContains(t, task, "```toolcalls")
}

func Test_LanguageName(t *testing.T) {
	t.Parallel()
	cases := map[string]string{
		"ja":       "Japanese",
		"en":       "English",
		"Japanese": "Japanese",
		"":         "",
		"klingon!": "klingon!",
	}
	for in, want := range cases {
		assert.Equal(t, want, LanguageName(in), in)
	}
}
