package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/novelt-go/internal/budget"
	"github.com/54b3r/novelt-go/internal/completion"
	"github.com/54b3r/novelt-go/internal/novel"
	"github.com/54b3r/novelt-go/internal/toolcalls"
	"github.com/54b3r/novelt-go/internal/translate"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency probes run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on
	// /api/translate and /api/quality-check (requests/second). Defaults to 10.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20.
	RateBurst int
	// APIKey is the Bearer token required on all /api/* routes except
	// health and readiness. If empty, authentication is disabled.
	APIKey string
	// MetricsRegistry receives the server metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
}

// translator is the slice of *translate.Service the handlers call.
// Tests inject a fake.
type translator interface {
	Translate(ctx context.Context, req translate.Request) (*translate.Response, error)
	Check(ctx context.Context, req translate.CheckRequest) (*novel.QualityCheck, error)
}

// Server is the HTTP front end of the translation service.
type Server struct {
	// translator runs translations and quality checks.
	translator translator
	// repo serves the novel read and reference write endpoints.
	repo novel.Repository
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency probes for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors owned by the server.
	metrics *serverMetrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// translateRequest is the JSON body for POST /api/translate.
type translateRequest struct {
	// Novel is a novel ID or slug.
	Novel string `json:"novel"`
	// Chapter selects a stored chapter. Zero translates SourceContent as
	// free text with the novel's context.
	Chapter int `json:"chapter"`
	// SourceContent overrides the stored chapter source when set.
	SourceContent string `json:"sourceContent,omitempty"`

	UseAutoRetry           bool   `json:"useAutoRetry"`
	MaxAttempts            int    `json:"maxAttempts"`
	PreviousTranslation    string `json:"previousTranslation,omitempty"`
	QualityFeedback        string `json:"qualityFeedback,omitempty"`
	UseImprovementFeedback bool   `json:"useImprovementFeedback"`

	// Stream switches the response to SSE progress events.
	Stream bool `json:"stream"`
	// Mode is blocking, collect or passthrough. Empty uses the configured mode.
	Mode string `json:"mode,omitempty"`
	// Save persists the translation, its quality check and reference ops.
	Save bool `json:"save"`
}

// translateResponse is the JSON response for POST /api/translate and the
// payload of the SSE "result" event.
type translateResponse struct {
	Translation      string                  `json:"translation"`
	ReferenceOps     []toolcalls.ReferenceOp `json:"referenceOps"`
	QualityCheck     *novel.QualityCheck     `json:"qualityCheck,omitempty"`
	Usage            completion.Usage        `json:"usage"`
	FinishReason     *string                 `json:"finishReason"`
	Attempts         int                     `json:"attempts"`
	Fallback         bool                    `json:"fallback"`
	IncludedChapters []int                   `json:"includedChapters"`
	DroppedPairs     int                     `json:"droppedPairs"`
	TokenCounts      budget.TokenCounts      `json:"tokenCounts"`
	Saved            bool                    `json:"saved"`
	Applied          *novel.ApplyStats       `json:"applied,omitempty"`
}

// qualityCheckRequest is the JSON body for POST /api/quality-check.
type qualityCheckRequest struct {
	SourceContent     string `json:"sourceContent"`
	TranslatedContent string `json:"translatedContent"`
	SourceLanguage    string `json:"sourceLanguage,omitempty"`
	TargetLanguage    string `json:"targetLanguage,omitempty"`
	// Novel, when set, supplies languages and the quality model override.
	Novel string `json:"novel,omitempty"`
}

// referenceOpsRequest is the JSON body for POST /api/novels/{id}/references/ops.
type referenceOpsRequest struct {
	Ops []toolcalls.ReferenceOp `json:"ops"`
}
