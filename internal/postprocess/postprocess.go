// Package postprocess applies textual cleanups to a model's translation
// before it is returned or stored.
package postprocess

import (
	"regexp"
	"strings"
)

// Options toggles each cleanup. The zero value changes nothing.
type Options struct {
	RemoveXMLTags             bool `yaml:"remove_xml_tags" json:"removeXmlTags"`
	RemoveCodeBlocks          bool `yaml:"remove_code_blocks" json:"removeCodeBlocks"`
	TrimWhitespace            bool `yaml:"trim_whitespace" json:"trimWhitespace"`
	TruncateAfterSecondHeader bool `yaml:"truncate_after_second_header" json:"truncateAfterSecondHeader"`
}

var (
	tagPattern       = regexp.MustCompile(`</?[A-Za-z][A-Za-z0-9_:.-]*(?:\s[^<>]*)?/?>`)
	codeBlockPattern = regexp.MustCompile("(?s)```.*?```")
)

const secondHeader = "\n# "

// Process runs the enabled cleanups in a fixed order: tags, code blocks,
// whitespace, then truncation at the second top-level heading.
func Process(text string, opts Options) string {
	if opts.RemoveXMLTags {
		text = removeAll(tagPattern, text)
	}
	if opts.RemoveCodeBlocks {
		text = removeAll(codeBlockPattern, text)
	}
	if opts.TrimWhitespace {
		text = strings.TrimSpace(text)
	}
	if opts.TruncateAfterSecondHeader {
		text = truncateAfterSecondHeader(text)
	}
	return text
}

// removeAll deletes matches of re until none remain, so a removal that
// joins the halves of a new match (as in "<<b>b>") is not left behind.
func removeAll(re *regexp.Regexp, text string) string {
	for {
		next := re.ReplaceAllString(text, "")
		if next == text {
			return text
		}
		text = next
	}
}

// truncateAfterSecondHeader cuts text at the newline that precedes the
// second top-level heading. A heading on the very first line counts as the
// first one.
func truncateAfterSecondHeader(text string) string {
	first := strings.Index(text, secondHeader)
	if first < 0 {
		return text
	}
	if !strings.HasPrefix(text, "# ") {
		next := strings.Index(text[first+1:], secondHeader)
		if next < 0 {
			return text
		}
		return text[:first+1+next]
	}
	return text[:first]
}
