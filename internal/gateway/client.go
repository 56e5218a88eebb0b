package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// DefaultURL is the admissions messaging endpoint.
const DefaultURL = "https://passobis.if.unismuh.ac.id/sobis/send"

type Client struct {
	httpClient       *http.Client
	url              string
	retryMaxAttempts int
	retryBaseDelay   time.Duration
	retryMaxDelay    time.Duration
}

// Response is the decoded body of a successful send.
type Response struct {
	Success   bool           `json:"success"`
	Status    string         `json:"status,omitempty"`
	Message   string         `json:"message,omitempty"`
	Raw       map[string]any `json:"-"`
	RequestID string         `json:"-"`
}

// NewClient allows customizing HTTP timeout and retry/backoff behavior. Only
// 429 responses are retried; retryMax counts total attempts.
func NewClient(url string, httpTimeout time.Duration, retryMax int, baseDelay, maxDelay time.Duration) *Client {
	if url == "" {
		url = DefaultURL
	}
	if httpTimeout <= 0 {
		httpTimeout = 30 * time.Second
	}
	if retryMax <= 0 {
		retryMax = 1
	}
	if baseDelay <= 0 {
		baseDelay = 500 * time.Millisecond
	}
	if maxDelay <= 0 {
		maxDelay = 4 * time.Second
	}
	return &Client{
		httpClient:       &http.Client{Timeout: httpTimeout},
		url:              url,
		retryMaxAttempts: retryMax,
		retryBaseDelay:   baseDelay,
		retryMaxDelay:    maxDelay,
	}
}

// URL returns the endpoint the client posts to.
func (c *Client) URL() string { return c.url }

// Send posts one payload. It succeeds only on a 2xx status whose body carries
// success=true or status="success".
func (c *Client) Send(ctx context.Context, p Payload) (*Response, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	backoff := c.retryBaseDelay

	var lastErr error
	for attempt := 1; attempt <= c.retryMaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := c.do(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		var rl *RateLimitError
		if !errors.As(err, &rl) || attempt == c.retryMaxAttempts {
			break
		}
		wait := rl.RetryAfter
		if wait <= 0 {
			wait = withJitter(backoff)
			if wait > c.retryMaxDelay {
				wait = c.retryMaxDelay
			}
			backoff *= 2
		}
		if err := sleepCtx(ctx, wait); err != nil {
			return nil, err
		}
	}
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, body []byte) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "admisi-cli")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var parsed map[string]any
	jsonErr := json.Unmarshal(raw, &parsed)
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		Raw:        parsed,
		RequestID:  extractRequestID(resp),
		Message:    extractMessage(parsed, raw),
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, classifyAPIError(apiErr, resp)
	}
	if jsonErr != nil {
		return nil, fmt.Errorf("decode response: %w", jsonErr)
	}
	out := &Response{Raw: parsed, RequestID: apiErr.RequestID}
	if b, ok := parsed["success"].(bool); ok {
		out.Success = b
	}
	if s, ok := parsed["status"].(string); ok {
		out.Status = s
	}
	if m, ok := parsed["message"].(string); ok {
		out.Message = m
	}
	if !out.Success && !strings.EqualFold(out.Status, "success") {
		return nil, &RejectedError{APIError: apiErr}
	}
	out.Success = true
	return out, nil
}

// extractMessage prefers a "message" string or list, then "error", then the
// raw body.
func extractMessage(parsed map[string]any, raw []byte) string {
	if parsed != nil {
		switch m := parsed["message"].(type) {
		case string:
			if m != "" {
				return m
			}
		case []any:
			var parts []string
			for _, v := range m {
				parts = append(parts, fmt.Sprint(v))
			}
			if len(parts) > 0 {
				return strings.Join(parts, "; ")
			}
		}
		switch e := parsed["error"].(type) {
		case string:
			if e != "" {
				return e
			}
		case map[string]any:
			if m, ok := e["message"].(string); ok && m != "" {
				return m
			}
		}
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:197] + "..."
	}
	return s
}

// parseRetryAfterSeconds tries to interpret Retry-After header value as seconds or HTTP date.
func parseRetryAfterSeconds(v string) (int, error) {
	if s, err := strconv.Atoi(v); err == nil {
		return s, nil
	}
	if t, err := http.ParseTime(v); err == nil {
		d := time.Until(t)
		if d < 0 {
			d = 0
		}
		return int(d.Seconds()), nil
	}
	return 0, fmt.Errorf("invalid Retry-After: %q", v)
}

// classifyAPIError maps generic APIError to typed errors.
func classifyAPIError(apiErr *APIError, resp *http.Response) error {
	sc := apiErr.StatusCode
	switch {
	case sc == http.StatusUnauthorized || sc == http.StatusForbidden:
		return &AuthError{APIError: apiErr}
	case sc == http.StatusTooManyRequests:
		var ra time.Duration
		if v := resp.Header.Get("Retry-After"); v != "" {
			if secs, err := parseRetryAfterSeconds(v); err == nil && secs > 0 {
				ra = time.Duration(secs) * time.Second
			}
		}
		return &RateLimitError{APIError: apiErr, RetryAfter: ra}
	case sc == http.StatusBadRequest || sc == http.StatusUnprocessableEntity:
		return &BadRequestError{APIError: apiErr}
	case sc >= 500 && sc <= 599:
		return &ServerError{APIError: apiErr}
	}
	return apiErr
}

// extractRequestID pulls a best-effort request ID from common headers.
func extractRequestID(resp *http.Response) string {
	if resp == nil {
		return ""
	}
	for _, k := range []string{"X-Request-Id", "X-Correlation-Id", "X-Amzn-Requestid"} {
		if v := resp.Header.Get(k); v != "" {
			return v
		}
	}
	return ""
}

// withJitter returns a backoff duration with +/- 20% jitter applied.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 500 * time.Millisecond
	}
	f := 0.8 + rand.Float64()*0.4
	out := time.Duration(float64(d) * f)
	if out <= 0 {
		return d
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
