package tokens

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/cloudwego/eino/schema"
	tiktoken "github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used when none is configured.
const DefaultEncoding = "cl100k_base"

// replyPriming is the fixed cost of the assistant reply header appended by
// the chat template once per request.
const replyPriming = 3

// encoderFunc loads a BPE encoding by name. Replaced in tests.
type encoderFunc func(name string) (*tiktoken.Tiktoken, error)

// Tiktoken is a [Counter] backed by a BPE encoding. The encoding is loaded
// lazily on first use and released by [Tiktoken.Close]; a later call loads it
// again. If the encoding cannot be loaded, counts fall back to [Heuristic]
// and the failure is logged once per load attempt.
type Tiktoken struct {
	encoding string
	load     encoderFunc
	log      *slog.Logger

	mu  sync.Mutex
	enc *tiktoken.Tiktoken
	// failed records a load error so counting does not retry on every call.
	failed   error
	fallback Heuristic
}

// NewTiktoken returns a lazily initialised counter for the named encoding.
// An empty encoding selects [DefaultEncoding].
func NewTiktoken(encoding string, log *slog.Logger) *Tiktoken {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	if log == nil {
		log = slog.Default()
	}
	return &Tiktoken{encoding: encoding, load: tiktoken.GetEncoding, log: log}
}

// Init loads the encoding now instead of on first use. It returns the load
// error, if any; counting still works through the fallback after a failure.
func (t *Tiktoken) Init() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, err := t.encoderLocked()
	return err
}

// Count returns the number of BPE tokens in s.
func (t *Tiktoken) Count(s string) int {
	t.mu.Lock()
	enc, err := t.encoderLocked()
	t.mu.Unlock()
	if err != nil {
		return t.fallback.Count(s)
	}
	return len(enc.Encode(s, nil, nil))
}

// CountMessages returns the token cost of msgs as one chat request,
// including per-message framing and the reply priming tokens.
func (t *Tiktoken) CountMessages(msgs []*schema.Message) int {
	if len(msgs) == 0 {
		return 0
	}
	t.mu.Lock()
	enc, err := t.encoderLocked()
	t.mu.Unlock()
	if err != nil {
		return t.fallback.CountMessages(msgs)
	}
	total := replyPriming
	for _, m := range msgs {
		total += messageOverhead
		total += len(enc.Encode(string(m.Role), nil, nil))
		total += len(enc.Encode(m.Content, nil, nil))
	}
	return total
}

// Close releases the loaded encoding. It is safe to call more than once.
func (t *Tiktoken) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enc = nil
	t.failed = nil
	return nil
}

func (t *Tiktoken) encoderLocked() (*tiktoken.Tiktoken, error) {
	if t.enc != nil {
		return t.enc, nil
	}
	if t.failed != nil {
		return nil, t.failed
	}
	enc, err := t.load(t.encoding)
	if err != nil {
		t.failed = fmt.Errorf("tokens: load encoding %q: %w", t.encoding, err)
		t.log.Warn("tokenizer unavailable, using character heuristic",
			slog.String("encoding", t.encoding),
			slog.String("error", err.Error()),
		)
		return nil, t.failed
	}
	t.enc = enc
	return enc, nil
}
