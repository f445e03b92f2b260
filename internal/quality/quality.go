// Package quality scores a chapter translation against its source. The
// score drives the retry loop: translations below the threshold are
// regenerated with the reviewer's feedback.
package quality

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/tidwall/gjson"

	"github.com/54b3r/novelt-go/internal/logging"
	"github.com/54b3r/novelt-go/internal/novel"
	"github.com/54b3r/novelt-go/internal/prompt"
)

// DefaultThreshold is the lowest score that counts as good quality.
const DefaultThreshold = 7.0

// Input is one translation to review.
type Input struct {
	SourceContent     string
	TranslatedContent string
	SourceLanguage    string
	TargetLanguage    string
	// Model overrides the checker's default model for this call.
	Model string
}

// Checker reviews a translation.
type Checker interface {
	Check(ctx context.Context, in Input) (*novel.QualityCheck, error)
}

// Verdict builds a QualityCheck, clamping score to [0, 10].
func Verdict(score float64, feedback string, threshold float64) *novel.QualityCheck {
	if math.IsNaN(score) {
		score = 0
	}
	score = math.Max(0, math.Min(10, score))
	return &novel.QualityCheck{
		Score:         score,
		Feedback:      strings.TrimSpace(feedback),
		IsGoodQuality: score >= threshold,
	}
}

// LLMChecker reviews translations with a chat model.
type LLMChecker struct {
	model     model.BaseChatModel
	threshold float64
	maxTokens int
}

// NewLLMChecker returns a checker using m. A threshold <= 0 selects
// DefaultThreshold; maxTokens <= 0 leaves the model default.
func NewLLMChecker(m model.BaseChatModel, threshold float64, maxTokens int) *LLMChecker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &LLMChecker{model: m, threshold: threshold, maxTokens: maxTokens}
}

// Threshold returns the good-quality cut-off in force.
func (c *LLMChecker) Threshold() float64 { return c.threshold }

// Check asks the model to grade in and parses its verdict.
func (c *LLMChecker) Check(ctx context.Context, in Input) (*novel.QualityCheck, error) {
	msgs := []*schema.Message{
		schema.SystemMessage(fmt.Sprintf(rubric, strconv.FormatFloat(c.threshold, 'g', -1, 64))),
		schema.UserMessage(fmt.Sprintf(reviewTemplate,
			prompt.LanguageName(in.SourceLanguage), prompt.LanguageName(in.TargetLanguage),
			in.SourceContent, in.TranslatedContent)),
	}
	var opts []model.Option
	if in.Model != "" {
		opts = append(opts, model.WithModel(in.Model))
	}
	if c.maxTokens > 0 {
		opts = append(opts, model.WithMaxTokens(c.maxTokens))
	}
	opts = append(opts, model.WithTemperature(0))

	resp, err := c.model.Generate(ctx, msgs, opts...)
	if err != nil {
		return nil, fmt.Errorf("quality: generate: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("quality: generate returned nil response")
	}

	score, feedback, err := parseVerdict(resp.Content)
	if err != nil {
		logging.FromContext(ctx).Warn("quality: unparseable verdict",
			slog.String("content", truncate(resp.Content, 200)),
		)
		return nil, err
	}
	return Verdict(score, feedback, c.threshold), nil
}

var (
	fencedJSON = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")
	looseScore = regexp.MustCompile(`(?i)"?score"?\s*[:=]\s*(-?\d+(?:\.\d+)?)`)
)

// parseVerdict reads {"score": n, "feedback": "..."} from model output,
// tolerating code fences, surrounding prose and numeric strings.
func parseVerdict(content string) (float64, string, error) {
	candidates := []string{strings.TrimSpace(content)}
	if m := fencedJSON.FindStringSubmatch(content); m != nil {
		candidates = append(candidates, m[1])
	}
	if start, end := strings.Index(content, "{"), strings.LastIndex(content, "}"); start >= 0 && end > start {
		candidates = append(candidates, content[start:end+1])
	}
	for _, cand := range candidates {
		if !gjson.Valid(cand) {
			continue
		}
		s := gjson.Get(cand, "score")
		if !s.Exists() {
			continue
		}
		score, err := strconv.ParseFloat(strings.TrimSpace(s.String()), 64)
		if err != nil {
			continue
		}
		return score, gjson.Get(cand, "feedback").String(), nil
	}
	if m := looseScore.FindStringSubmatch(content); m != nil {
		score, err := strconv.ParseFloat(m[1], 64)
		if err == nil {
			return score, strings.TrimSpace(content), nil
		}
	}
	return 0, "", fmt.Errorf("quality: no score in model output")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}

const rubric = `You are a meticulous reviewer of literary translations. Grade the translation you are given on a scale from 0 to 10 using these criteria:
- Accuracy: the meaning of the source is preserved, with nothing added or omitted.
- Fluency: the translation reads naturally in the target language.
- Completeness: the whole chapter is translated, including the chapter title.
- Title: the chapter title is translated and present at the top.
- Focus: the output contains only this chapter, with no content from other chapters and no commentary.
A score below %s means the translation is not good enough to publish.
Answer with a single JSON object and nothing else: {"score": <number 0-10>, "feedback": "<specific, actionable suggestions>"}`

const reviewTemplate = `Source language: %s
Target language: %s

<source>
%s
</source>

<translation>
%s
</translation>`
