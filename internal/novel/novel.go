// Package novel defines the domain records the translation core reads:
// novels, their chapters, reference glossary entries and quality checks,
// plus the repository interface storage backends implement.
package novel

import (
	"context"
	"errors"

	"github.com/54b3r/novelt-go/internal/toolcalls"
)

// ErrNotFound is returned when a novel or chapter does not exist.
var ErrNotFound = errors.New("novel: not found")

// Novel is a translation project.
type Novel struct {
	// ID is the stable identifier.
	ID string `json:"id" yaml:"id"`
	// Slug is the human-friendly identifier accepted wherever ID is.
	Slug string `json:"slug" yaml:"slug"`
	// Title is the display title.
	Title string `json:"title" yaml:"title"`
	// SourceLanguage is a language name or BCP 47 tag, e.g. "ja".
	SourceLanguage string `json:"sourceLanguage" yaml:"source_language"`
	// TargetLanguage is a language name or BCP 47 tag, e.g. "en".
	TargetLanguage string `json:"targetLanguage" yaml:"target_language"`
	// Overrides holds per-novel settings that win over the global config.
	Overrides Overrides `json:"overrides" yaml:"overrides"`
	// References is the glossary injected into every prompt.
	References []Reference `json:"references" yaml:"references"`
	// Chapters is ordered by Number. It may be a window of the full list.
	Chapters []Chapter `json:"chapters" yaml:"chapters"`
}

// Overrides are optional per-novel settings. Zero values mean "use the
// global setting".
type Overrides struct {
	TranslationModel           string `json:"translationModel,omitempty" yaml:"translation_model"`
	QualityModel               string `json:"qualityModel,omitempty" yaml:"quality_model"`
	MaxContextTokens           int    `json:"maxContextTokens,omitempty" yaml:"max_context_tokens"`
	MaxTranslationOutputTokens int    `json:"maxTranslationOutputTokens,omitempty" yaml:"max_translation_output_tokens"`
	MaxQualityOutputTokens     int    `json:"maxQualityOutputTokens,omitempty" yaml:"max_quality_output_tokens"`
	// UseToolCalls is nil when unset.
	UseToolCalls *bool `json:"useToolCalls,omitempty" yaml:"use_tool_calls"`
	// SystemPrompt replaces the default system message.
	SystemPrompt string `json:"systemPrompt,omitempty" yaml:"system_prompt"`
	// TaskTemplate replaces the default task message template.
	TaskTemplate string `json:"taskTemplate,omitempty" yaml:"task_template"`
}

// Chapter is one chapter of a novel.
type Chapter struct {
	ID                string        `json:"id" yaml:"id"`
	Number            int           `json:"number" yaml:"number"`
	Title             string        `json:"title" yaml:"title"`
	SourceContent     string        `json:"sourceContent" yaml:"source_content"`
	TranslatedContent string        `json:"translatedContent,omitempty" yaml:"translated_content"`
	QualityCheck      *QualityCheck `json:"qualityCheck,omitempty" yaml:"quality_check"`
}

// Translated reports whether the chapter has both source and translation.
func (c Chapter) Translated() bool {
	return c.SourceContent != "" && c.TranslatedContent != ""
}

// Reference is a glossary entry (character, place, term).
type Reference struct {
	ID      string `json:"id" yaml:"id"`
	Title   string `json:"title" yaml:"title"`
	Content string `json:"content" yaml:"content"`
}

// QualityCheck is the verdict of an automated translation review.
type QualityCheck struct {
	// Score ranges from 0 to 10.
	Score    float64 `json:"score" yaml:"score"`
	Feedback string  `json:"feedback" yaml:"feedback"`
	// IsGoodQuality is Score >= the threshold in force when the check ran.
	IsGoodQuality bool `json:"isGoodQuality" yaml:"is_good_quality"`
}

// ChapterRange limits which chapters [Reader.GetNovel] loads. Start and End
// are inclusive chapter numbers; zero leaves that side open.
type ChapterRange struct {
	Start int
	End   int
}

// Contains reports whether chapter number n lies in the range.
func (r *ChapterRange) Contains(n int) bool {
	if r == nil {
		return true
	}
	if r.Start > 0 && n < r.Start {
		return false
	}
	if r.End > 0 && n > r.End {
		return false
	}
	return true
}

// ApplyStats reports how a batch of reference operations was applied.
type ApplyStats struct {
	Added   int `json:"added"`
	Updated int `json:"updated"`
	Skipped int `json:"skipped"`
}

// Reader is the read side consumed by the translation core.
type Reader interface {
	// GetNovel loads a novel by ID or slug with its references and the
	// chapters inside rng (all chapters when rng is nil).
	GetNovel(ctx context.Context, idOrSlug string, rng *ChapterRange) (*Novel, error)
}

// Repository adds the writes issued by request handlers after the core
// returns. Implementations must be safe for concurrent use.
type Repository interface {
	Reader
	// ListSlugs returns every novel slug, sorted.
	ListSlugs(ctx context.Context) ([]string, error)
	// UpsertNovel creates or replaces a novel with its chapters and references.
	UpsertNovel(ctx context.Context, n *Novel) error
	// SaveTranslation stores a chapter translation and its quality check.
	SaveTranslation(ctx context.Context, chapterID, translation string, qc *QualityCheck) error
	// ApplyReferenceOps applies extracted glossary operations to a novel.
	ApplyReferenceOps(ctx context.Context, novelID string, ops []toolcalls.ReferenceOp) (ApplyStats, error)
	// Close releases any resources held by the repository.
	Close() error
}

// ChapterByNumber returns the chapter with the given number.
func (n *Novel) ChapterByNumber(number int) (Chapter, bool) {
	for _, c := range n.Chapters {
		if c.Number == number {
			return c, true
		}
	}
	return Chapter{}, false
}
