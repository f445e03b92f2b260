// Package completion is the HTTP client for OpenAI-compatible
// chat-completion endpoints used to translate chapters. It supports a
// blocking call, a streamed call collected into one result, and a
// passthrough mode that relays the upstream stream to a caller's writer.
package completion

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/tidwall/gjson"
	"google.golang.org/genai"

	"github.com/54b3r/novelt-go/internal/logging"
)

// Mode selects how a completion is requested and delivered.
type Mode int

const (
	// ModeBlocking issues one non-streamed request.
	ModeBlocking Mode = iota
	// ModeCollectStream streams from upstream and returns the assembled text.
	ModeCollectStream
	// ModePassthroughStream relays upstream bytes to Request.Stream.
	ModePassthroughStream
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	switch m {
	case ModeCollectStream:
		return "collect"
	case ModePassthroughStream:
		return "passthrough"
	default:
		return "blocking"
	}
}

// FinishReasonLength marks a response cut off by max_tokens.
const FinishReasonLength = "length"

// Usage is the upstream token accounting for one call.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Result is the outcome of one completion. FinishReason is nil when
// upstream did not report one.
type Result struct {
	Content      string  `json:"content"`
	Usage        Usage   `json:"usage"`
	FinishReason *string `json:"finishReason"`
}

// Request is one completion call.
type Request struct {
	Messages        []*schema.Message
	Model           string
	Temperature     float64
	MaxOutputTokens int
	Mode            Mode
	// Stream receives the relayed bytes in ModePassthroughStream. If it
	// implements http.Flusher it is flushed after every write.
	Stream io.Writer
	// Metadata is JSON-encoded into the leading "metadata" event of a
	// passthrough stream.
	Metadata any
}

// Config holds the upstream connection settings.
type Config struct {
	// BaseURL is the API root, e.g. https://api.openai.com/v1. A URL that
	// already ends in /chat/completions is used as-is.
	BaseURL string
	// APIKey is sent as a Bearer token when non-empty.
	APIKey string
	// SafetyMarkers are model-name substrings that select the relaxed
	// safety profile. Defaults to DefaultSafetyMarkers if nil.
	SafetyMarkers []string
	// HTTPClient defaults to a client with a 10 minute timeout.
	HTTPClient *http.Client
}

// Client calls a chat-completions endpoint. It is safe for concurrent use.
type Client struct {
	endpoint string
	apiKey   string
	markers  []string
	http     *http.Client
}

// New returns a Client for cfg.
func New(cfg Config) *Client {
	endpoint := strings.TrimRight(cfg.BaseURL, "/")
	if !strings.HasSuffix(endpoint, "/chat/completions") {
		endpoint += "/chat/completions"
	}
	markers := cfg.SafetyMarkers
	if markers == nil {
		markers = DefaultSafetyMarkers
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Minute}
	}
	return &Client{endpoint: endpoint, apiKey: cfg.APIKey, markers: markers, http: hc}
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type streamOptions struct {
	IncludeUsage bool `json:"include_usage"`
}

type chatRequest struct {
	Model          string                 `json:"model"`
	Messages       []wireMessage          `json:"messages"`
	Temperature    float64                `json:"temperature"`
	MaxTokens      int                    `json:"max_tokens,omitempty"`
	Stream         bool                   `json:"stream,omitempty"`
	StreamOptions  *streamOptions         `json:"stream_options,omitempty"`
	SafetySettings []*genai.SafetySetting `json:"safetySettings,omitempty"`
}

// Complete runs req in its mode. Non-2xx responses return *UpstreamError;
// a stream missing its [DONE] sentinel returns ErrIncompleteStream.
func (c *Client) Complete(ctx context.Context, req Request) (*Result, error) {
	switch req.Mode {
	case ModeCollectStream:
		return c.collect(ctx, req)
	case ModePassthroughStream:
		return c.passthrough(ctx, req)
	default:
		return c.blocking(ctx, req)
	}
}

func (c *Client) body(req Request, stream bool) ([]byte, error) {
	msgs := make([]wireMessage, len(req.Messages))
	for i, m := range req.Messages {
		msgs[i] = wireMessage{Role: string(m.Role), Content: m.Content}
	}
	body := chatRequest{
		Model:          req.Model,
		Messages:       msgs,
		Temperature:    req.Temperature,
		MaxTokens:      req.MaxOutputTokens,
		SafetySettings: ResolveProfile(req.Model, c.markers).SafetySettings,
	}
	if stream {
		body.Stream = true
		body.StreamOptions = &streamOptions{IncludeUsage: true}
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("completion: encode request: %w", err)
	}
	return b, nil
}

// post sends body and returns the response when the status is 2xx.
func (c *Client) post(ctx context.Context, body []byte, stream bool) (*http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("completion: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("completion: post %s: %w", c.endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return nil, &UpstreamError{Status: resp.StatusCode, Message: upstreamMessage(raw)}
	}
	return resp, nil
}

func (c *Client) blocking(ctx context.Context, req Request) (*Result, error) {
	body, err := c.body(req, false)
	if err != nil {
		return nil, err
	}
	res, err := c.blockingOnce(ctx, body)
	if err != nil {
		return nil, err
	}
	if res.FinishReason != nil && *res.FinishReason == FinishReasonLength {
		logging.FromContext(ctx).Warn("completion: output truncated, retrying once",
			slog.String("model", req.Model),
			slog.Int("max_tokens", req.MaxOutputTokens),
		)
		return c.blockingOnce(ctx, body)
	}
	return res, nil
}

func (c *Client) blockingOnce(ctx context.Context, body []byte) (*Result, error) {
	resp, err := c.post(ctx, body, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("completion: read response: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("completion: response is not JSON: %.120q", raw)
	}
	root := gjson.ParseBytes(raw)
	choice := root.Get("choices.0")
	if !choice.Exists() {
		return nil, &UpstreamError{Status: resp.StatusCode, Message: upstreamMessage(raw)}
	}
	res := &Result{
		Content: choice.Get("message.content").String(),
		Usage:   parseUsage(root.Get("usage")),
	}
	if fr := choice.Get("finish_reason"); fr.Type == gjson.String {
		reason := fr.Str
		res.FinishReason = &reason
	}
	return res, nil
}

const readChunk = 4096

func (c *Client) collect(ctx context.Context, req Request) (*Result, error) {
	body, err := c.body(req, true)
	if err != nil {
		return nil, err
	}
	resp, err := c.post(ctx, body, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	parser := NewStreamParser()
	buf := make([]byte, readChunk)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := parser.Feed(buf[:n]); err != nil {
				return nil, err
			}
			if parser.Done() {
				break
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return nil, fmt.Errorf("completion: read stream: %w", readErr)
		}
	}
	return parser.Finalize()
}

// passthrough writes one synthetic metadata event, then copies the upstream
// stream to req.Stream byte for byte. Content is not parsed, so the
// returned Result is empty.
func (c *Client) passthrough(ctx context.Context, req Request) (*Result, error) {
	if req.Stream == nil {
		return nil, errors.New("completion: passthrough mode requires a stream writer")
	}
	body, err := c.body(req, true)
	if err != nil {
		return nil, err
	}
	resp, err := c.post(ctx, body, true)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	meta, err := json.Marshal(req.Metadata)
	if err != nil {
		return nil, fmt.Errorf("completion: encode metadata: %w", err)
	}
	flusher, _ := req.Stream.(http.Flusher)
	if _, err := fmt.Fprintf(req.Stream, "event: metadata\ndata: %s\n\n", meta); err != nil {
		return nil, fmt.Errorf("completion: write metadata: %w", err)
	}
	if flusher != nil {
		flusher.Flush()
	}

	buf := make([]byte, readChunk)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := req.Stream.Write(buf[:n]); err != nil {
				return nil, fmt.Errorf("completion: relay stream: %w", err)
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if errors.Is(readErr, io.EOF) {
			return &Result{}, nil
		}
		if readErr != nil {
			return nil, fmt.Errorf("completion: read stream: %w", readErr)
		}
	}
}

// Ping checks that the upstream answers the model listing endpoint. It
// spends no tokens.
func (c *Client) Ping(ctx context.Context) error {
	url := strings.TrimSuffix(c.endpoint, "/chat/completions") + "/models"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("completion: build ping: %w", err)
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("completion: ping: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusUnauthorized {
		return &UpstreamError{Status: resp.StatusCode, Message: "ping " + url}
	}
	return nil
}
