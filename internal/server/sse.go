package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// setEventStreamHeaders prepares w for a Server-Sent Events response.
func setEventStreamHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
}

// eventWriter emits named SSE events with JSON data and flushes each one.
type eventWriter struct {
	// w is the underlying response writer.
	w http.ResponseWriter
	// flusher flushes buffered data to the client after each event.
	flusher http.Flusher
}

// newEventWriter sets the SSE headers on w. It returns false if w cannot
// flush, in which case nothing has been written.
func newEventWriter(w http.ResponseWriter) (*eventWriter, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}
	setEventStreamHeaders(w)
	return &eventWriter{w: w, flusher: flusher}, true
}

// send writes one event. JSON never contains a raw newline, so the payload
// always fits a single data line.
func (e *eventWriter) send(event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("sse: encode %s: %w", event, err)
	}
	if _, err := fmt.Fprintf(e.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	e.flusher.Flush()
	return nil
}

// done signals stream completion.
func (e *eventWriter) done() {
	fmt.Fprint(e.w, "event: done\ndata: [DONE]\n\n")
	e.flusher.Flush()
}

// relayWriter forwards passthrough bytes to the client. The SSE headers are
// written with the first byte so an early failure can still answer with a
// JSON error and a real status code.
type relayWriter struct {
	w       http.ResponseWriter
	started bool
}

// Write implements io.Writer.
func (rw *relayWriter) Write(p []byte) (int, error) {
	if !rw.started {
		setEventStreamHeaders(rw.w)
		rw.w.WriteHeader(http.StatusOK)
		rw.started = true
	}
	return rw.w.Write(p)
}

// Flush implements http.Flusher so the completion client flushes every
// relayed chunk.
func (rw *relayWriter) Flush() {
	if f, ok := rw.w.(http.Flusher); ok {
		f.Flush()
	}
}
