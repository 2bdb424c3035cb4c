// Package gemini calls the Gemini generateContent REST endpoint for slot extraction,
// admin-log writing and diary OCR.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"agrivoice/internal/logging"
	"agrivoice/internal/retry"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultModel   = "gemini-2.5-flash-lite"

	// DefaultRetryDelay applies when a 429 carries no retryDelay.
	DefaultRetryDelay = 5 * time.Second
)

var ErrMissingAPIKey = errors.New("gemini API key is not configured")

// RateLimitError is returned for HTTP 429 / RESOURCE_EXHAUSTED responses.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("gemini rate limited (retry after %s): %s", e.RetryAfter, e.Message)
}

// StatusError is any other non-2xx response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gemini status %d: %s", e.Code, e.Body)
}

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	// MaxImageEdge bounds OCR uploads; zero uses the imageprep default.
	MaxImageEdge int
}

// Client implements ports.Extractor, ports.AdminLogWriter and ports.OCR.
type Client struct {
	cfg    Config
	http   *http.Client
	policy retry.Policy
	log    *slog.Logger
}

type Option func(*Client)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.http = c }
}

// WithRetryPolicy replaces the single rate-limit retry, mostly for tests.
func WithRetryPolicy(p retry.Policy) Option {
	return func(cl *Client) { cl.policy = p }
}

func New(cfg Config, opts ...Option) *Client {
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		policy: RateLimitPolicy(),
		log:    logging.New("gemini"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RateLimitPolicy retries once, only after a rate limit, waiting the server-supplied delay.
func RateLimitPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: 2,
		ShouldRetry: func(err error) bool {
			var rl *RateLimitError
			return errors.As(err, &rl)
		},
		Backoff: func(_ int, err error) time.Duration {
			var rl *RateLimitError
			if errors.As(err, &rl) {
				return rl.RetryAfter
			}
			return DefaultRetryDelay
		},
	}
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateRequest struct {
	Contents []struct {
		Parts []part `json:"parts"`
	} `json:"contents"`
	GenerationConfig struct {
		ResponseMimeType string  `json:"responseMimeType"`
		Temperature      float64 `json:"temperature"`
	} `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func textPart(text string) part { return part{Text: text} }

func imagePart(data []byte, mimeType string) part {
	return part{InlineData: &inlineData{MimeType: mimeType, Data: base64.StdEncoding.EncodeToString(data)}}
}

// generate sends parts and decodes the JSON object in the model's answer into out.
func (c *Client) generate(ctx context.Context, out any, parts ...part) error {
	if strings.TrimSpace(c.cfg.APIKey) == "" {
		return ErrMissingAPIKey
	}
	var body generateRequest
	body.Contents = append(body.Contents, struct {
		Parts []part `json:"parts"`
	}{Parts: parts})
	body.GenerationConfig.ResponseMimeType = "application/json"
	body.GenerationConfig.Temperature = 0.2
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode gemini request: %w", err)
	}

	var text string
	err = retry.Do(ctx, c.policy, func(ctx context.Context, attempt int) error {
		if attempt > 1 {
			c.log.Warn("retrying after rate limit", "attempt", attempt)
		}
		var callErr error
		text, callErr = c.call(ctx, payload)
		return callErr
	})
	if err != nil {
		return err
	}

	obj := jsonObject(text)
	if obj == "" {
		return fmt.Errorf("gemini answer holds no JSON object: %q", truncate(text, 120))
	}
	if err := json.Unmarshal([]byte(obj), out); err != nil {
		return fmt.Errorf("failed to decode gemini answer: %w", err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, payload []byte) (string, error) {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.cfg.BaseURL, c.cfg.Model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", c.cfg.APIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("failed to call gemini: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read gemini response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests || (resp.StatusCode >= 300 && bytes.Contains(raw, []byte("RESOURCE_EXHAUSTED"))) {
		return "", &RateLimitError{RetryAfter: retryDelay(raw), Message: truncate(string(raw), 200)}
	}
	if resp.StatusCode >= 300 {
		return "", &StatusError{Code: resp.StatusCode, Body: truncate(string(raw), 200)}
	}

	var decoded generateResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("failed to decode gemini response: %w", err)
	}
	if len(decoded.Candidates) == 0 {
		return "", errors.New("gemini returned no candidates")
	}
	var b strings.Builder
	for _, p := range decoded.Candidates[0].Content.Parts {
		b.WriteString(p.Text)
	}
	return b.String(), nil
}

var retryDelayRE = regexp.MustCompile(`(?i)retryDelay["\s:]+(\d+)`)

// retryDelay reads the RetryInfo delay ("retryDelay": "12s") from an error body.
func retryDelay(body []byte) time.Duration {
	m := retryDelayRE.FindSubmatch(body)
	if m == nil {
		return DefaultRetryDelay
	}
	secs, err := strconv.Atoi(string(m[1]))
	if err != nil {
		return DefaultRetryDelay
	}
	return time.Duration(secs) * time.Second
}

// jsonObject returns the first balanced JSON object in s, skipping code fences and prose.
func jsonObject(s string) string {
	start := strings.Index(s, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
