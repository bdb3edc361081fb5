package extsys

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("extsys")

// PermanentError marks a response that must not be retried (4xx-class).
type PermanentError struct {
	StatusCode int
	Body       string
}

func (e *PermanentError) Error() string {
	return fmt.Sprintf("external system rejected request (%d): %s", e.StatusCode, e.Body)
}

// Client talks to the external accounting system over HTTP basic auth.
// Transient failures (connection/timeout/5xx) are retried with exponential
// backoff; 4xx responses are surfaced immediately as PermanentError.
type Client struct {
	baseURL     string
	username    string
	password    string
	http        *http.Client
	maxAttempts int
	retryDelay  time.Duration
}

func NewClientFromEnv() (*Client, error) {
	baseURL := strings.TrimSpace(os.Getenv("EXT_API_BASE_URL"))
	if baseURL == "" {
		return nil, errors.New("EXT_API_BASE_URL is empty")
	}
	username := strings.TrimSpace(os.Getenv("EXT_API_USER"))
	password := os.Getenv("EXT_API_PASSWORD")
	if username == "" {
		return nil, errors.New("EXT_API_USER is empty")
	}

	timeoutSeconds := 30
	if v := strings.TrimSpace(os.Getenv("EXT_API_TIMEOUT_SECONDS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			timeoutSeconds = n
		}
	}
	maxAttempts := 3
	if v := strings.TrimSpace(os.Getenv("EXT_API_RETRY_ATTEMPTS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			maxAttempts = n
		}
	}
	retryDelayMs := 500
	if v := strings.TrimSpace(os.Getenv("EXT_API_RETRY_DELAY_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			retryDelayMs = n
		}
	}

	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		username:    username,
		password:    password,
		http:        &http.Client{Timeout: time.Duration(timeoutSeconds) * time.Second},
		maxAttempts: maxAttempts,
		retryDelay:  time.Duration(retryDelayMs) * time.Millisecond,
	}, nil
}

// NewClient is the test/seam constructor.
func NewClient(baseURL, username, password string, timeout time.Duration, maxAttempts int, retryDelay time.Duration) *Client {
	return &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		username:    username,
		password:    password,
		http:        &http.Client{Timeout: timeout},
		maxAttempts: maxAttempts,
		retryDelay:  retryDelay,
	}
}

// CreateOrUpdateDocument pushes one document payload. The external system
// deduplicates on the idempotency key embedded in the payload.
func (c *Client) CreateOrUpdateDocument(ctx context.Context, payload []byte) (*ExternalResult, error) {
	body, err := c.do(ctx, http.MethodPost, "/documents", payload)
	if err != nil {
		return nil, err
	}
	var result ExternalResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("external system returned invalid response: %w", err)
	}
	if result.Ref == "" {
		return nil, errors.New("external system response is missing the document ref")
	}
	return &result, nil
}

// PostDocument asks the external system to post an already-accepted document.
func (c *Client) PostDocument(ctx context.Context, externalRef string) (*ExternalResult, error) {
	body, err := c.do(ctx, http.MethodPost, "/documents/"+externalRef+"/post", nil)
	if err != nil {
		return nil, err
	}
	var result ExternalResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("external system returned invalid response: %w", err)
	}
	if result.Ref == "" {
		result.Ref = externalRef
	}
	return &result, nil
}

func (c *Client) GetDocumentStatus(ctx context.Context, externalRef string) (*ExternalResult, error) {
	body, err := c.do(ctx, http.MethodGet, "/documents/"+externalRef+"/status", nil)
	if err != nil {
		return nil, err
	}
	var result ExternalResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("external system returned invalid response: %w", err)
	}
	return &result, nil
}

func (c *Client) Health(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/health", nil)
	return err
}

func (c *Client) do(ctx context.Context, method string, path string, payload []byte) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "extsys "+method+" "+path, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.retryDelay * time.Duration(1<<(attempt-2))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		body, retryable, err := c.doOnce(ctx, method, path, payload)
		if err == nil {
			return body, nil
		}
		if !retryable {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, method string, path string, payload []byte) (body []byte, retryable bool, err error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, false, err
	}
	req.SetBasicAuth(c.username, c.password)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Connection refused, DNS failure, timeout: transient.
		return nil, true, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return raw, false, nil
	}
	if resp.StatusCode >= 500 {
		return nil, true, fmt.Errorf("external system error %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	return nil, false, &PermanentError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
}
