// Package budget fits a translation prompt into a model's context window.
//
// A prompt is made of a fixed head (system message and lead context), a
// fixed tail (the task message) and a run of exemplar user/assistant pairs
// in between. Only the pairs are negotiable: they are dropped whole, oldest
// first, until the prompt fits. If the head and tail alone do not fit,
// [Fit] fails with [ErrBudgetExceeded].
package budget

import (
	"errors"
	"fmt"

	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/novelt-go/internal/tokens"
)

// DefaultMaxContextTokens is the context ceiling used when neither the
// configuration nor the novel sets one.
const DefaultMaxContextTokens = 16000

// ErrBudgetExceeded is returned when the system, lead context and task
// messages alone exceed the ceiling.
var ErrBudgetExceeded = errors.New("budget: system and task messages exceed context limit")

// Strategy selects how trailing pairs are chosen.
type Strategy int

const (
	// StrategyGreedy walks back from the most recent pair and stops at the
	// first pair that would overflow.
	StrategyGreedy Strategy = iota
	// StrategyBinarySearch searches the number of trailing pairs, checking
	// each candidate with a full message count.
	StrategyBinarySearch
)

// String implements fmt.Stringer.
func (s Strategy) String() string {
	switch s {
	case StrategyBinarySearch:
		return "binary"
	default:
		return "greedy"
	}
}

// ParseStrategy maps "greedy" or "binary" to a Strategy. Unknown values
// select StrategyGreedy.
func ParseStrategy(s string) Strategy {
	if s == "binary" {
		return StrategyBinarySearch
	}
	return StrategyGreedy
}

// Pair is one exemplar: a source chapter and its accepted translation.
type Pair struct {
	User      *schema.Message
	Assistant *schema.Message
}

// Messages returns the pair as a two-element slice.
func (p Pair) Messages() []*schema.Message {
	return []*schema.Message{p.User, p.Assistant}
}

// Input is everything [Fit] needs.
type Input struct {
	System    *schema.Message
	Lead      *schema.Message
	Pairs     []Pair
	Task      *schema.Message
	MaxTokens int
	Strategy  Strategy
}

// TokenCounts breaks the fitted prompt down by part. System covers the
// system and lead-context messages; Task and Translation are what the task
// message and the selected pairs add to it. Total is the full prompt count.
type TokenCounts struct {
	System      int `json:"system"`
	Task        int `json:"task"`
	Translation int `json:"translation"`
}

// Total returns the sum of all parts.
func (c TokenCounts) Total() int { return c.System + c.Task + c.Translation }

// Selection is the result of [Fit]. Pairs is a trailing run of the input
// pairs in their original order.
type Selection struct {
	Pairs       []Pair
	Dropped     int
	TokenCounts TokenCounts
}

// Messages returns the full prompt: system, lead, selected pairs, task.
func (in Input) Messages(pairs []Pair) []*schema.Message {
	out := make([]*schema.Message, 0, 3+2*len(pairs))
	out = append(out, in.System, in.Lead)
	for _, p := range pairs {
		out = append(out, p.User, p.Assistant)
	}
	return append(out, in.Task)
}

// Fit selects the largest trailing run of in.Pairs such that the complete
// prompt fits within in.MaxTokens. Every feasibility check counts the whole
// prompt, so counters with per-request overhead are handled exactly.
func Fit(counter tokens.Counter, in Input) (*Selection, error) {
	systemTokens := counter.CountMessages([]*schema.Message{in.System, in.Lead})
	base := counter.CountMessages(in.Messages(nil))
	// Task is charged what it adds to the head, so per-request overhead in
	// the counter is not counted twice.
	taskTokens := base - systemTokens
	if base > in.MaxTokens {
		return nil, fmt.Errorf("%w: system=%d task=%d max=%d",
			ErrBudgetExceeded, systemTokens, taskTokens, in.MaxTokens)
	}

	var keep int
	switch in.Strategy {
	case StrategyBinarySearch:
		keep = fitBinary(counter, in)
	default:
		keep = fitGreedy(counter, in)
	}

	// Binary search assumes the count grows with the number of pairs; shed
	// the oldest kept pairs if a counter breaks that.
	total := counter.CountMessages(in.Messages(trailing(in.Pairs, keep)))
	for keep > 0 && total > in.MaxTokens {
		keep--
		total = counter.CountMessages(in.Messages(trailing(in.Pairs, keep)))
	}

	// Likewise the pairs are charged what they add, so Total is the real
	// prompt count.
	translation := total - base
	return &Selection{
		Pairs:   trailing(in.Pairs, keep),
		Dropped: len(in.Pairs) - keep,
		TokenCounts: TokenCounts{
			System:      systemTokens,
			Task:        taskTokens,
			Translation: translation,
		},
	}, nil
}

func fitGreedy(counter tokens.Counter, in Input) int {
	keep := 0
	for keep < len(in.Pairs) {
		if counter.CountMessages(in.Messages(trailing(in.Pairs, keep+1))) > in.MaxTokens {
			break
		}
		keep++
	}
	return keep
}

func fitBinary(counter tokens.Counter, in Input) int {
	lo, hi := 0, len(in.Pairs)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if counter.CountMessages(in.Messages(trailing(in.Pairs, mid))) <= in.MaxTokens {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}

func trailing(pairs []Pair, n int) []Pair {
	return pairs[len(pairs)-n:]
}
