package tokens

import (
	"errors"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
	tiktoken "github.com/pkoukk/tiktoken-go"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input string
		want  int
	}{
		{"", 0},
		{"a", 1},        // < 4 chars → 1
		{"abcd", 1},     // exactly 4 chars → 1
		{"abcde", 1},    // 5 chars → 1
		{"abcdefgh", 2}, // 8 chars → 2
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		got := Estimate(tc.input)
		if got != tc.want {
			t.Errorf("Estimate(%q) = %d, want %d", tc.input, got, tc.want)
		}
	}
}

func Test_Heuristic_CountMessages(t *testing.T) {
	t.Parallel()
	msgs := []*schema.Message{
		schema.UserMessage("hello world"),
		schema.AssistantMessage("hello world", nil),
	}
	// user:      4 overhead + Estimate("user")=1      + Estimate("hello world")=2 = 7
	// assistant: 4 overhead + Estimate("assistant")=2 + Estimate("hello world")=2 = 8
	if got := NewHeuristic().CountMessages(msgs); got != 15 {
		t.Errorf("CountMessages = %d, want 15", got)
	}
}

func Test_Heuristic_CountMessagesEmpty(t *testing.T) {
	t.Parallel()
	if got := NewHeuristic().CountMessages(nil); got != 0 {
		t.Errorf("CountMessages(nil) = %d, want 0", got)
	}
}

func Test_Tiktoken_FallsBackWhenEncodingUnavailable(t *testing.T) {
	t.Parallel()
	calls := 0
	tk := NewTiktoken("", nil)
	tk.load = func(name string) (*tiktoken.Tiktoken, error) {
		calls++
		if name != DefaultEncoding {
			t.Errorf("load(%q), want %q", name, DefaultEncoding)
		}
		return nil, errors.New("offline")
	}

	if err := tk.Init(); err == nil {
		t.Fatal("Init: want error from failing loader")
	}
	if got, want := tk.Count("abcdefgh"), Estimate("abcdefgh"); got != want {
		t.Errorf("Count = %d, want heuristic %d", got, want)
	}
	msgs := []*schema.Message{schema.UserMessage("hello world")}
	if got, want := tk.CountMessages(msgs), NewHeuristic().CountMessages(msgs); got != want {
		t.Errorf("CountMessages = %d, want heuristic %d", got, want)
	}
	if calls != 1 {
		t.Errorf("loader called %d times, want 1", calls)
	}

	// Close clears the failure so the next use retries the load.
	if err := tk.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	tk.Count("x")
	if calls != 2 {
		t.Errorf("loader called %d times after Close, want 2", calls)
	}
}

func Test_Tiktoken_LazyLoad(t *testing.T) {
	t.Parallel()
	calls := 0
	tk := NewTiktoken("o200k_base", nil)
	tk.load = func(string) (*tiktoken.Tiktoken, error) {
		calls++
		return nil, errors.New("offline")
	}
	if calls != 0 {
		t.Fatalf("loader called at construction")
	}
	if got := tk.CountMessages(nil); got != 0 {
		t.Errorf("CountMessages(nil) = %d, want 0", got)
	}
	if calls != 0 {
		t.Errorf("loader called for empty input")
	}
}
