package completion

import (
	"strings"

	"google.golang.org/genai"
)

// Family identifies a group of models that need the same request quirks.
type Family string

const (
	// FamilyDefault is a plain OpenAI-compatible model.
	FamilyDefault Family = "default"
	// FamilySafetyRelaxed models reject literary content unless every safety
	// category is explicitly unblocked (Gemini behind OpenAI-compatible
	// gateways).
	FamilySafetyRelaxed Family = "safety-relaxed"
)

// DefaultSafetyMarkers are the model-name substrings that select
// FamilySafetyRelaxed when none are configured.
var DefaultSafetyMarkers = []string{"gemini"}

// relaxedCategories lists the categories unblocked for FamilySafetyRelaxed.
var relaxedCategories = []genai.HarmCategory{
	genai.HarmCategoryHarassment,
	genai.HarmCategoryHateSpeech,
	genai.HarmCategorySexuallyExplicit,
	genai.HarmCategoryDangerousContent,
}

// Profile is the request shape for one model, resolved once from its name.
type Profile struct {
	Family         Family
	SafetySettings []*genai.SafetySetting
}

// ResolveProfile picks the profile for model. A model whose name contains
// any of markers (case-insensitive) gets the relaxed safety block.
func ResolveProfile(model string, markers []string) Profile {
	name := strings.ToLower(model)
	for _, m := range markers {
		m = strings.ToLower(strings.TrimSpace(m))
		if m != "" && strings.Contains(name, m) {
			settings := make([]*genai.SafetySetting, 0, len(relaxedCategories))
			for _, c := range relaxedCategories {
				settings = append(settings, &genai.SafetySetting{
					Category:  c,
					Threshold: genai.HarmBlockThresholdBlockNone,
				})
			}
			return Profile{Family: FamilySafetyRelaxed, SafetySettings: settings}
		}
	}
	return Profile{Family: FamilyDefault}
}
