package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/54b3r/novelt-go/internal/budget"
	"github.com/54b3r/novelt-go/internal/completion"
	"github.com/54b3r/novelt-go/internal/logging"
	"github.com/54b3r/novelt-go/internal/novel"
	"github.com/54b3r/novelt-go/internal/translate"
)

// maxBodyBytes caps request bodies. Chapters are long but not this long.
const maxBodyBytes = 4 << 20

// handleTranslate handles POST /api/translate. The response is JSON by
// default, SSE progress events when stream is set, or the relayed upstream
// stream in passthrough mode.
func (s *Server) handleTranslate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req translateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(ctx, w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Novel == "" {
		writeJSONError(ctx, w, "novel is required", http.StatusBadRequest)
		return
	}
	if req.Chapter == 0 && req.SourceContent == "" {
		writeJSONError(ctx, w, "chapter or sourceContent is required", http.StatusBadRequest)
		return
	}

	treq := translate.Request{
		Novel:                  req.Novel,
		ChapterNumber:          req.Chapter,
		SourceContent:          req.SourceContent,
		UseAutoRetry:           req.UseAutoRetry,
		MaxAttempts:            req.MaxAttempts,
		UseImprovementFeedback: req.UseImprovementFeedback,
		Save:                   req.Save,
	}
	if req.PreviousTranslation != "" || req.QualityFeedback != "" {
		treq.Previous = &translate.Seed{
			PreviousTranslation: req.PreviousTranslation,
			QualityFeedback:     req.QualityFeedback,
		}
	}
	if req.Mode != "" {
		mode, err := parseMode(req.Mode)
		if err != nil {
			writeJSONError(ctx, w, err.Error(), http.StatusBadRequest)
			return
		}
		treq.Mode = &mode
	}

	start := time.Now()
	switch {
	case treq.Mode != nil && *treq.Mode == completion.ModePassthroughStream:
		s.translatePassthrough(w, r, treq)
	case req.Stream:
		s.translateEvents(w, r, treq)
	default:
		resp, err := s.translator.Translate(ctx, treq)
		s.metrics.observeTranslate(err, time.Since(start))
		if err != nil {
			s.writeError(ctx, w, err)
			return
		}
		writeJSON(ctx, w, http.StatusOK, newTranslateResponse(resp))
	}
}

// translateEvents streams one "attempt" event per orchestrator attempt, then
// "result" and "done", or a single "error" event.
func (s *Server) translateEvents(w http.ResponseWriter, r *http.Request, treq translate.Request) {
	ctx := r.Context()
	ev, ok := newEventWriter(w)
	if !ok {
		writeJSONError(ctx, w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	s.metrics.translateActiveStreams.Inc()
	defer s.metrics.translateActiveStreams.Dec()

	log := logging.FromContext(ctx)
	treq.OnAttempt = func(rep translate.AttemptReport) {
		if err := ev.send("attempt", rep); err != nil {
			log.Debug("sse: attempt event dropped", slog.Any("error", err))
		}
	}

	start := time.Now()
	resp, err := s.translator.Translate(ctx, treq)
	s.metrics.observeTranslate(err, time.Since(start))
	if err != nil {
		log.Error("translate failed", slog.Any("error", err))
		_ = ev.send("error", errorResponse{Error: err.Error()})
		return
	}
	_ = ev.send("result", newTranslateResponse(resp))
	ev.done()
}

// translatePassthrough relays the upstream stream. Errors raised before the
// first relayed byte still get a proper status; later ones become an SSE
// error event.
func (s *Server) translatePassthrough(w http.ResponseWriter, r *http.Request, treq translate.Request) {
	ctx := r.Context()
	s.metrics.translateActiveStreams.Inc()
	defer s.metrics.translateActiveStreams.Dec()

	relay := &relayWriter{w: w}
	treq.Stream = relay

	start := time.Now()
	_, err := s.translator.Translate(ctx, treq)
	s.metrics.observeTranslate(err, time.Since(start))
	if err == nil {
		return
	}
	if !relay.started {
		s.writeError(ctx, w, err)
		return
	}
	logging.FromContext(ctx).Error("passthrough stream failed", slog.Any("error", err))
	if ev, ok := newEventWriter(w); ok {
		_ = ev.send("error", errorResponse{Error: err.Error()})
	}
}

// handleQualityCheck handles POST /api/quality-check.
func (s *Server) handleQualityCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req qualityCheckRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(ctx, w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SourceContent == "" || req.TranslatedContent == "" {
		writeJSONError(ctx, w, "sourceContent and translatedContent are required", http.StatusBadRequest)
		return
	}
	if req.Novel == "" && (req.SourceLanguage == "" || req.TargetLanguage == "") {
		writeJSONError(ctx, w, "novel or both languages are required", http.StatusBadRequest)
		return
	}

	qc, err := s.translator.Check(ctx, translate.CheckRequest{
		SourceContent:     req.SourceContent,
		TranslatedContent: req.TranslatedContent,
		SourceLanguage:    req.SourceLanguage,
		TargetLanguage:    req.TargetLanguage,
		Novel:             req.Novel,
	})
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, qc)
}

// handleNovel handles GET /api/novels/{id}?start=A&end=B.
func (s *Server) handleNovel(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var rng *novel.ChapterRange
	q := r.URL.Query()
	if q.Has("start") || q.Has("end") {
		start, err1 := queryInt(q.Get("start"))
		end, err2 := queryInt(q.Get("end"))
		if err := errors.Join(err1, err2); err != nil {
			writeJSONError(ctx, w, "start and end must be non-negative integers", http.StatusBadRequest)
			return
		}
		rng = &novel.ChapterRange{Start: start, End: end}
	}

	n, err := s.repo.GetNovel(ctx, r.PathValue("id"), rng)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	writeJSON(ctx, w, http.StatusOK, n)
}

// handleReferenceOps handles POST /api/novels/{id}/references/ops.
func (s *Server) handleReferenceOps(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var req referenceOpsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeJSONError(ctx, w, "invalid request body", http.StatusBadRequest)
		return
	}

	n, err := s.repo.GetNovel(ctx, r.PathValue("id"), nil)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	stats, err := s.repo.ApplyReferenceOps(ctx, n.ID, req.Ops)
	if err != nil {
		s.writeError(ctx, w, err)
		return
	}
	logging.FromContext(ctx).Info("reference ops applied",
		slog.String("novel", n.Slug),
		slog.Int("added", stats.Added),
		slog.Int("updated", stats.Updated),
		slog.Int("skipped", stats.Skipped),
	)
	writeJSON(ctx, w, http.StatusOK, stats)
}

// writeError maps err to an HTTP status and writes it as JSON. Server-side
// failures are logged; client errors are not.
func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(ctx).Error("request failed",
			slog.Int("status", status),
			slog.Any("error", err),
		)
	}
	writeJSONError(ctx, w, err.Error(), status)
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	var upErr *completion.UpstreamError
	switch {
	case errors.Is(err, novel.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, translate.ErrNoSource), errors.Is(err, translate.ErrPassthroughRetry):
		return http.StatusBadRequest
	case errors.Is(err, budget.ErrBudgetExceeded):
		return http.StatusUnprocessableEntity
	case errors.As(err, &upErr), errors.Is(err, completion.ErrIncompleteStream):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// newTranslateResponse flattens a service response for the wire.
func newTranslateResponse(resp *translate.Response) translateResponse {
	out := translateResponse{Saved: resp.Saved, Applied: resp.Applied}
	o := resp.Outcome
	if o == nil {
		return out
	}
	out.QualityCheck = o.Quality
	out.Attempts = o.Attempts
	out.Fallback = o.Fallback
	if o.Attempt == nil {
		return out
	}
	out.Translation = o.Translation
	out.ReferenceOps = o.Ops
	if o.Result != nil {
		out.Usage = o.Result.Usage
		out.FinishReason = o.Result.FinishReason
	}
	if o.Plan != nil {
		out.IncludedChapters = o.Plan.IncludedChapters
		out.DroppedPairs = o.Plan.DroppedPairs
		out.TokenCounts = o.Plan.TokenCounts
	}
	return out
}

// parseMode maps the wire name of a completion mode.
func parseMode(s string) (completion.Mode, error) {
	for _, m := range []completion.Mode{completion.ModeBlocking, completion.ModeCollectStream, completion.ModePassthroughStream} {
		if s == m.String() {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown mode %q: want blocking, collect or passthrough", s)
}

// decodeBody decodes a size-limited JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v)
}

// queryInt parses an optional non-negative integer query value.
func queryInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return n, nil
}
