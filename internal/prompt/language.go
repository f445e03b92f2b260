package prompt

import (
	"regexp"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

var tagShape = regexp.MustCompile(`^[A-Za-z]{2,3}(?:[-_][A-Za-z0-9]{2,8})*$`)

// LanguageName renders a BCP 47 tag such as "ja" or "zh-Hant" as an English
// display name. Values that are not tags, like "Japanese", pass through.
func LanguageName(s string) string {
	if !tagShape.MatchString(s) {
		return s
	}
	tag, err := language.Parse(s)
	if err != nil {
		return s
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return s
}
