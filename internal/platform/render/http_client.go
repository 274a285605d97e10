package render

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/yungbote/adforge-backend/internal/platform/httpx"
	"github.com/yungbote/adforge-backend/internal/platform/logger"
)

type HTTPConfig struct {
	BaseURL     string
	Token       string
	Timeout     time.Duration
	MaxAttempts int
	Backoff     time.Duration
}

type httpRenderer struct {
	log     *logger.Logger
	client  *http.Client
	baseURL string
	token   string
	tries   int
	backoff time.Duration
}

// NewHTTPRenderer calls an external render service at POST {BaseURL}/v1/render.
func NewHTTPRenderer(log *logger.Logger, cfg HTTPConfig) (Renderer, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("render service base url required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 3
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	return &httpRenderer{
		log:     log.With("client", "RenderHTTP"),
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: base,
		token:   strings.TrimSpace(cfg.Token),
		tries:   cfg.MaxAttempts,
		backoff: cfg.Backoff,
	}, nil
}

func (r *httpRenderer) Render(ctx context.Context, req Request) (*Result, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode render request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= r.tries; attempt++ {
		res, resp, err := r.do(ctx, body)
		if err == nil {
			return res, nil
		}
		lastErr = err
		if attempt == r.tries || !httpx.IsRetryableError(err) || ctx.Err() != nil {
			break
		}
		wait := httpx.RetryAfterDuration(resp, httpx.JitterSleep(r.backoff*time.Duration(attempt)), 30*time.Second)
		r.log.Warn("render request failed, retrying",
			"job_id", req.JobID,
			"row_id", req.RowID,
			"attempt", attempt,
			"wait_ms", wait.Milliseconds(),
			"error", err,
		)
		if err := httpx.Sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (r *httpRenderer) do(ctx context.Context, body []byte) (*Result, *http.Response, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/render", bytes.NewReader(body))
	if err != nil {
		return nil, nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if r.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, resp, fmt.Errorf("read render response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, resp, &httpx.StatusError{Code: resp.StatusCode, Body: truncate(string(raw), 512)}
	}

	var out struct {
		Result
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, resp, fmt.Errorf("decode render response: %w", err)
	}
	if strings.TrimSpace(out.Error) != "" {
		return nil, resp, fmt.Errorf("render service: %s", out.Error)
	}
	if strings.TrimSpace(out.OutputURL) == "" {
		return nil, resp, fmt.Errorf("render service returned no outputUrl")
	}
	return &out.Result, resp, nil
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
