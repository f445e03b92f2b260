// Package tokens provides the token-counting capability used to budget
// translation prompts. Counters are explicitly constructed and injected;
// nothing in this package keeps global tokenizer state.
package tokens

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used by the heuristic
	// counter. CJK-heavy text under-counts with this ratio; prefer
	// [Tiktoken] for production budgets.
	charsPerToken = 4

	// messageOverhead approximates the per-message framing cost charged by
	// chat-completion APIs (role markers and separators).
	messageOverhead = 4
)

// Counter counts tokens for single strings and for whole message lists.
// Implementations must be safe for concurrent use.
type Counter interface {
	Count(s string) int
	CountMessages(msgs []*schema.Message) int
}

// Heuristic is a [Counter] using a fixed character ratio. The zero value is
// ready to use.
type Heuristic struct{}

// NewHeuristic returns a character-ratio counter.
func NewHeuristic() Heuristic { return Heuristic{} }

// Count returns a rough token count for s. Non-empty strings count at least 1.
func (Heuristic) Count(s string) int {
	return Estimate(s)
}

// CountMessages sums role, content and per-message overhead.
func (h Heuristic) CountMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead
		total += h.Count(string(m.Role))
		total += h.Count(m.Content)
	}
	return total
}

// Estimate returns len(s)/4, or 1 for non-empty strings shorter than that.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}
