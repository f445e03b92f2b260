package completion

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// EventKind classifies a parsed stream event.
type EventKind int

const (
	// EventDelta carries incremental content, a finish reason or usage.
	EventDelta EventKind = iota
	// EventDone is the terminal [DONE] sentinel.
	EventDone
)

// Event is one parsed server-sent event from a chat-completions stream.
type Event struct {
	Kind         EventKind
	Content      string
	FinishReason string
	Usage        *Usage
}

const doneSentinel = "[DONE]"

// StreamParser incrementally parses an OpenAI-style SSE stream. Bytes are
// fed as they arrive; an incomplete trailing line stays buffered until the
// next Feed or Finalize. A StreamParser is not safe for concurrent use.
type StreamParser struct {
	buf      []byte
	content  strings.Builder
	finish   *string
	usage    Usage
	done     bool
	received int
}

// NewStreamParser returns an empty parser.
func NewStreamParser() *StreamParser {
	return &StreamParser{}
}

// Feed consumes p and returns the events completed by it. Data after the
// [DONE] sentinel is ignored. An error event from upstream is returned as
// an *UpstreamError.
func (sp *StreamParser) Feed(p []byte) ([]Event, error) {
	sp.received += len(p)
	sp.buf = append(sp.buf, p...)

	var events []Event
	for {
		i := bytes.IndexByte(sp.buf, '\n')
		if i < 0 {
			break
		}
		line := sp.buf[:i]
		sp.buf = sp.buf[i+1:]
		ev, ok, err := sp.line(line)
		if err != nil {
			return events, err
		}
		if ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

// Finalize flushes any buffered line and returns the accumulated result.
// A stream that never delivered [DONE] yields ErrIncompleteStream.
func (sp *StreamParser) Finalize() (*Result, error) {
	if len(sp.buf) > 0 {
		rest := sp.buf
		sp.buf = nil
		if _, _, err := sp.line(rest); err != nil {
			var upErr *UpstreamError
			if errors.As(err, &upErr) {
				return nil, err
			}
			// A cut-off trailing event is a truncated stream, not bad data.
			return nil, fmt.Errorf("%w: %v", ErrIncompleteStream, err)
		}
	}
	if !sp.done {
		return nil, fmt.Errorf("%w (%d bytes received, %d content chars)",
			ErrIncompleteStream, sp.received, sp.content.Len())
	}
	return &Result{
		Content:      sp.content.String(),
		Usage:        sp.usage,
		FinishReason: sp.finish,
	}, nil
}

// Done reports whether the [DONE] sentinel has been seen.
func (sp *StreamParser) Done() bool { return sp.done }

func (sp *StreamParser) line(raw []byte) (Event, bool, error) {
	if sp.done {
		return Event{}, false, nil
	}
	line := strings.TrimRight(string(raw), "\r")
	payload, ok := strings.CutPrefix(line, "data:")
	if !ok {
		// Blank separators, comments (": keep-alive") and event/id fields.
		return Event{}, false, nil
	}
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return Event{}, false, nil
	}
	if payload == doneSentinel {
		sp.done = true
		return Event{Kind: EventDone}, true, nil
	}
	if !gjson.Valid(payload) {
		return Event{}, false, fmt.Errorf("completion: malformed stream event: %.120q", payload)
	}

	root := gjson.Parse(payload)
	if e := root.Get("error"); e.Exists() {
		msg := e.Get("message").String()
		if msg == "" {
			msg = e.String()
		}
		status := int(e.Get("code").Int())
		if status == 0 {
			status = http.StatusBadGateway
		}
		return Event{}, false, &UpstreamError{Status: status, Message: msg}
	}

	ev := Event{Kind: EventDelta}
	choice := root.Get("choices.0")
	if c := choice.Get("delta.content"); c.Exists() {
		ev.Content = c.String()
		sp.content.WriteString(ev.Content)
	}
	if fr := choice.Get("finish_reason"); fr.Type == gjson.String && fr.Str != "" {
		ev.FinishReason = fr.Str
		reason := fr.Str
		sp.finish = &reason
	}
	if u := root.Get("usage"); u.IsObject() {
		usage := parseUsage(u)
		ev.Usage = &usage
		sp.usage = usage
	}
	return ev, true, nil
}

func parseUsage(u gjson.Result) Usage {
	return Usage{
		PromptTokens:     int(u.Get("prompt_tokens").Int()),
		CompletionTokens: int(u.Get("completion_tokens").Int()),
		TotalTokens:      int(u.Get("total_tokens").Int()),
	}
}
