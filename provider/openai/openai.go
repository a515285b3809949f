// Package openai implements the imagegate Provider against the OpenAI
// Images API.
package openai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/ineyio/imagegate"
)

const maxResponseBytes = 32 << 20

// Client calls the OpenAI Images API with per-attempt timeouts and
// bounded retries. Only rate-limit (429) and transport/timeout failures
// are retried; any other error status is terminal.
type Client struct {
	apiKey        string
	baseURL       string
	model         string
	size          string
	httpClient    *http.Client
	timeout       time.Duration
	maxRetries    int
	backoffBase   time.Duration
	backoffJitter time.Duration
}

var _ imagegate.Provider = (*Client)(nil)

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithModel sets the image model (default "gpt-image-1").
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithSize sets the requested image size (default "1024x1024").
func WithSize(size string) Option {
	return func(c *Client) { c.size = size }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-attempt timeout (default 90s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithMaxRetries sets the number of extra attempts after the first
// (default 2).
func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

// WithBackoff sets the exponential backoff base and jitter bound
// (defaults 1s and 350ms). The delay before retry N is base*2^N plus a
// random duration in [0, jitter].
func WithBackoff(base, jitter time.Duration) Option {
	return func(c *Client) {
		c.backoffBase = base
		c.backoffJitter = jitter
	}
}

// New creates a client for the OpenAI Images API.
func New(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiKey:        apiKey,
		baseURL:       "https://api.openai.com/v1",
		model:         "gpt-image-1",
		size:          "1024x1024",
		httpClient:    http.DefaultClient,
		timeout:       90 * time.Second,
		maxRetries:    2,
		backoffBase:   time.Second,
		backoffJitter: 350 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate produces an image from a prompt.
func (c *Client) Generate(ctx context.Context, prompt string) ([]byte, error) {
	body, err := json.Marshal(map[string]string{
		"model":  c.model,
		"prompt": prompt,
		"size":   c.size,
	})
	if err != nil {
		return nil, fmt.Errorf("imagegate/openai: marshal request: %w", err)
	}

	return c.doWithRetry(ctx, func(actx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(actx, http.MethodPost, c.baseURL+"/images/generations", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return req, nil
	})
}

// Edit produces an image from a prompt and a source photo.
func (c *Client) Edit(ctx context.Context, prompt string, source []byte) ([]byte, error) {
	body, contentType, err := c.buildEditBody(prompt, source)
	if err != nil {
		return nil, err
	}

	return c.doWithRetry(ctx, func(actx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(actx, http.MethodPost, c.baseURL+"/images/edits", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
		return req, nil
	})
}

func (c *Client) buildEditBody(prompt string, source []byte) ([]byte, string, error) {
	mime, ext := "image/png", "png"
	if bytes.HasPrefix(source, []byte{0xff, 0xd8, 0xff}) {
		mime, ext = "image/jpeg", "jpg"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename="source.%s"`, ext))
	h.Set("Content-Type", mime)
	part, err := w.CreatePart(h)
	if err != nil {
		return nil, "", fmt.Errorf("imagegate/openai: build multipart: %w", err)
	}
	if _, err := part.Write(source); err != nil {
		return nil, "", fmt.Errorf("imagegate/openai: build multipart: %w", err)
	}

	fields := [][2]string{{"prompt", prompt}, {"model", c.model}, {"size", c.size}}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("imagegate/openai: build multipart: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("imagegate/openai: build multipart: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// doWithRetry runs attempts with exponential backoff and jitter. When
// retries are exhausted, the last attempt's actual error is surfaced.
func (c *Client) doWithRetry(ctx context.Context, build func(context.Context) (*http.Request, error)) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		img, retryable, err := c.attempt(ctx, build)
		if err == nil {
			return img, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
		if attempt == c.maxRetries {
			break
		}

		select {
		case <-time.After(c.backoff(attempt)):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, build func(context.Context) (*http.Request, error)) (img []byte, retryable bool, err error) {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := build(actx)
	if err != nil {
		return nil, false, fmt.Errorf("imagegate/openai: create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and transport failures count as failed attempts and
		// are retryable.
		return nil, true, fmt.Errorf("imagegate/openai: request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, true, fmt.Errorf("imagegate/openai: read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, true, fmt.Errorf("%w: %s", imagegate.ErrRateLimited, apiErrorMessage(body))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false, mapAPIError(resp.StatusCode, body)
	}

	img, err = decodeImage(body)
	return img, false, err
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.backoffBase * (1 << attempt)
	if c.backoffJitter > 0 {
		d += time.Duration(rand.Int63n(int64(c.backoffJitter) + 1))
	}
	return d
}

// apiError is the provider's structured error body.
type apiError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

func apiErrorMessage(body []byte) string {
	var e apiError
	if err := json.Unmarshal(body, &e); err == nil && e.Error.Message != "" {
		return e.Error.Message
	}
	return "upstream error"
}

// mapAPIError classifies terminal provider failures. Known content-policy
// rejection messages are remapped so the endpoint can answer with a
// 400-class response; this is a compatibility shim on the provider's
// message strings.
func mapAPIError(status int, body []byte) error {
	msg := apiErrorMessage(body)
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "safety system") || strings.Contains(lower, "content policy") {
		return fmt.Errorf("%w: %s", imagegate.ErrContentRejected, msg)
	}
	return &imagegate.UpstreamError{Status: status, Message: msg}
}

// imageResponse is the provider's success body (base64 payload).
type imageResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
}

func decodeImage(body []byte) ([]byte, error) {
	var resp imageResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("imagegate/openai: decode response: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("imagegate/openai: no image in response")
	}
	img, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("imagegate/openai: decode image: %w", err)
	}
	return img, nil
}
