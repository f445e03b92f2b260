package completion

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrIncompleteStream is returned when an upstream stream ends before the
// terminal [DONE] event. Partial content is never returned as a result.
var ErrIncompleteStream = errors.New("completion: stream ended without [DONE]")

// UpstreamError is a non-2xx response, or an error event inside a stream.
type UpstreamError struct {
	Status  int
	Message string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("completion: upstream status %d: %s", e.Status, e.Message)
}

const maxErrorBody = 4096

// upstreamMessage extracts a readable message from an error body, preferring
// the OpenAI-style {"error": {"message": ...}} shape.
func upstreamMessage(body []byte) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "error", "message"} {
			if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.Str != "" {
				return v.Str
			}
		}
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	if msg == "" {
		return "empty response body"
	}
	return msg
}
