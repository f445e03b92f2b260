// Package toolcalls recovers reference-glossary operations that a
// translation model appends to its output.
//
// The expected convention is a fenced block after the translation:
//
//	```toolcalls
//	{"reference_ops": [{"type": "reference.add", "title": "...", "content": "..."}]}
//	```
//
// Models drift from it in predictable ways (missing closing fence, other
// label spellings, no fence at all), so [Extract] tries a fixed series of
// heuristics and keeps the first one whose payload parses.
package toolcalls

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
)

// OpType names a reference operation.
type OpType string

const (
	// OpAdd creates a new reference entry.
	OpAdd OpType = "reference.add"
	// OpUpdate changes an existing entry, matched by ID or title.
	OpUpdate OpType = "reference.update"
)

// ReferenceOp is one proposed glossary mutation. Fields are not validated
// here; the storage layer decides what it can apply.
type ReferenceOp struct {
	Type    OpType  `json:"type"`
	ID      *string `json:"id,omitempty"`
	Title   *string `json:"title,omitempty"`
	Content *string `json:"content,omitempty"`
}

// Extraction is the result of [Extract]. Ops is never nil.
type Extraction struct {
	Translation string        `json:"translation"`
	Ops         []ReferenceOp `json:"toolcalls"`
}

const fence = "```"

var (
	primaryOpen   = regexp.MustCompile("(?i)```toolcalls\\b[ \\t]*\\r?\\n?")
	alternateOpen = regexp.MustCompile("(?i)``` ?(?:tool_calls|tool-calls|toolcalls|toolcall)\\b[ \\t]*\\r?\\n?")
	bareTrailing  = regexp.MustCompile(`\n[ \t]*\{\s*"reference_ops"\s*:`)
)

// Extract splits raw model output into the translation and any reference
// operations embedded in it. When no payload parses, the original text is
// returned unchanged with no operations.
func Extract(raw string) Extraction {
	if x, ok := closedBlock(raw, primaryOpen); ok {
		return x
	}
	if x, ok := unclosedBlock(raw, primaryOpen); ok {
		return x
	}
	if x, ok := closedBlock(raw, alternateOpen); ok {
		return x
	}
	if x, ok := unclosedBlock(raw, alternateOpen); ok {
		return x
	}
	if x, ok := bareObject(raw); ok {
		return x
	}
	return Extraction{Translation: raw, Ops: []ReferenceOp{}}
}

// lastOpening returns the bounds of the last fence opening matched by re.
func lastOpening(text string, re *regexp.Regexp) (start, end int, ok bool) {
	all := re.FindAllStringIndex(text, -1)
	if len(all) == 0 {
		return 0, 0, false
	}
	last := all[len(all)-1]
	return last[0], last[1], true
}

func closedBlock(text string, open *regexp.Regexp) (Extraction, bool) {
	start, end, ok := lastOpening(text, open)
	if !ok {
		return Extraction{}, false
	}
	rest := text[end:]
	closeAt := strings.Index(rest, fence)
	if closeAt < 0 {
		return Extraction{}, false
	}
	ops, ok := parsePayload(rest[:closeAt])
	if !ok {
		return Extraction{}, false
	}
	blockEnd := end + closeAt + len(fence)
	return Extraction{
		Translation: strings.TrimSpace(text[:start] + text[blockEnd:]),
		Ops:         ops,
	}, true
}

func unclosedBlock(text string, open *regexp.Regexp) (Extraction, bool) {
	start, end, ok := lastOpening(text, open)
	if !ok {
		return Extraction{}, false
	}
	rest := text[end:]
	if strings.Contains(rest, fence) {
		return Extraction{}, false
	}
	body := strings.TrimRight(strings.TrimSpace(rest), "`")
	ops, ok := parsePayload(body)
	if !ok {
		obj, found := firstBalancedObject(body)
		if !found {
			return Extraction{}, false
		}
		if ops, ok = parsePayload(obj); !ok {
			return Extraction{}, false
		}
	}
	return Extraction{Translation: strings.TrimSpace(text[:start]), Ops: ops}, true
}

// bareObject handles an unfenced {"reference_ops": [...]} object that ends
// the text and starts on its own line.
func bareObject(text string) (Extraction, bool) {
	trimmed := strings.TrimRight(text, " \t\r\n")
	if !strings.HasSuffix(trimmed, "}") {
		return Extraction{}, false
	}
	matches := bareTrailing.FindAllStringIndex(trimmed, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		start := matches[i][0]
		candidate := strings.TrimSpace(trimmed[start:])
		if !gjson.Get(candidate, "reference_ops").IsArray() {
			continue
		}
		ops, ok := parsePayload(candidate)
		if !ok {
			continue
		}
		return Extraction{Translation: strings.TrimSpace(trimmed[:start]), Ops: ops}, true
	}
	return Extraction{}, false
}

// parsePayload decodes {"reference_ops": [...]} or a bare array. Valid JSON
// of any other shape yields an empty list; invalid JSON reports !ok.
func parsePayload(s string) ([]ReferenceOp, bool) {
	s = strings.TrimSpace(s)
	if s == "" || !gjson.Valid(s) {
		return nil, false
	}
	root := gjson.Parse(s)
	var items gjson.Result
	switch {
	case root.IsArray():
		items = root
	case root.IsObject() && root.Get("reference_ops").IsArray():
		items = root.Get("reference_ops")
	default:
		return []ReferenceOp{}, true
	}

	ops := []ReferenceOp{}
	items.ForEach(func(_, item gjson.Result) bool {
		if !item.IsObject() {
			return true
		}
		var op ReferenceOp
		if err := json.Unmarshal([]byte(item.Raw), &op); err == nil {
			ops = append(ops, op)
		}
		return true
	})
	return ops, true
}

// firstBalancedObject returns the first {...} span in s whose braces balance,
// ignoring braces inside JSON strings.
func firstBalancedObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
