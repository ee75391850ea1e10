package actions

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avetra/flowbot/internal/vars"
	"github.com/avetra/flowbot/pkg/schema"
)

// HTTPConfig configures the http_request handler.
type HTTPConfig struct {
	Timeout         time.Duration
	MaxResponseBody int64
}

const (
	defaultHTTPTimeout     = 10 * time.Second
	defaultMaxResponseBody = 1500
)

// HTTPRequestHandler performs an HTTP call and exposes the truncated
// response body as the step output. Success means a status below 400.
type HTTPRequestHandler struct {
	cfg    HTTPConfig
	client *http.Client
}

// NewHTTPRequestHandler creates an http_request handler.
func NewHTTPRequestHandler(cfg HTTPConfig) *HTTPRequestHandler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultHTTPTimeout
	}
	if cfg.MaxResponseBody <= 0 {
		cfg.MaxResponseBody = defaultMaxResponseBody
	}
	return &HTTPRequestHandler{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
	}
}

func (h *HTTPRequestHandler) Type() string { return schema.StepHTTPRequest }

func (h *HTTPRequestHandler) Execute(ctx context.Context, config map[string]string, _ *vars.Store) Result {
	rawURL := config["url"]
	if rawURL == "" {
		return Fail("http_request requires a url")
	}

	method := strings.ToUpper(config["method"])
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if b := config["body"]; b != "" {
		body = strings.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return Fail("bad request: " + err.Error())
	}

	// Headers arrive as a JSON object string, e.g. {"Accept":"application/json"}.
	if raw := config["headers"]; raw != "" {
		var headers map[string]string
		if err := json.Unmarshal([]byte(raw), &headers); err != nil {
			return Fail("invalid headers: " + err.Error())
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := h.client.Do(req)
	if err != nil {
		// Timeouts and transport errors become a failed Result, never an
		// unbounded hang or an error escaping into the run loop.
		return Fail("request failed: " + err.Error())
	}
	defer resp.Body.Close()

	text, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxResponseBody))
	if err != nil {
		return Fail("read response: " + err.Error())
	}

	return Result{
		Success: resp.StatusCode < 400,
		Output:  string(text),
		Extra:   map[string]any{"status_code": resp.StatusCode},
	}
}

// truncate shortens s to at most n bytes for error text.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
