// Package webhook provides the outbound webhook client used by webhook nodes.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/dukex/nurture/pkg/protocol"
	"github.com/dukex/nurture/pkg/retry"
)

const (
	DefaultTimeout = 10 * time.Second

	maxResponseBytes = 1 << 20
)

var (
	// ErrMalformedURL is returned for URLs that are not absolute http(s) URLs.
	ErrMalformedURL = errors.New("malformed webhook url")

	// ErrUnexpectedStatus is returned for non-2xx responses.
	ErrUnexpectedStatus = errors.New("unexpected webhook status")
)

// Client posts JSON bodies and classifies failures for the retry handler:
// timeouts, connection errors, 429 and 5xx are transient; malformed URLs and other
// non-2xx statuses are permanent.
type Client struct {
	http    *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient creates a Client whose calls are bounded by timeout.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		http:    &http.Client{Timeout: timeout},
		timeout: timeout,
		logger:  logger.With("module", "webhook_client"),
	}
}

func (c *Client) Post(ctx context.Context, rawURL string, headers map[string]string, body any) (*protocol.WebhookResponse, error) {
	target, err := parseURL(rawURL)
	if err != nil {
		return nil, retry.Permanent(retry.CodeMalformedURL, err)
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, retry.Permanent(retry.CodeInvalidPayload, fmt.Errorf("failed to marshal webhook body: %w", err))
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), bytes.NewReader(payload))
	if err != nil {
		return nil, retry.Permanent(retry.CodeMalformedURL, err)
	}

	req.Header.Set("Content-Type", "application/json")

	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, retry.Transient(retry.CodeWebhookTimeout, err)
		}

		return nil, retry.Transient(retry.CodeWebhookUnreachable, err)
	}

	defer func() {
		_ = resp.Body.Close()
	}()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if isTimeout(err) {
			return nil, retry.Transient(retry.CodeWebhookTimeout, err)
		}

		return nil, retry.Transient(retry.CodeWebhookUnreachable, fmt.Errorf("failed to read webhook response: %w", err))
	}

	c.logger.DebugContext(ctx, "webhook responded", "url", target.Redacted(), "status", resp.StatusCode, "bytes", len(raw))

	if err := classifyStatus(resp.StatusCode); err != nil {
		return nil, err
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		decoded = string(raw)
	}

	return &protocol.WebhookResponse{StatusCode: resp.StatusCode, Body: decoded}, nil
}

func parseURL(rawURL string) (*url.URL, error) {
	target, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedURL, err)
	}

	if (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrMalformedURL, rawURL)
	}

	return target, nil
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return retry.Transient(retry.CodeWebhookRateLimited, fmt.Errorf("%w: %d", ErrUnexpectedStatus, status))
	case status >= 500:
		return retry.Transient(retry.CodeWebhookStatus, fmt.Errorf("%w: %d", ErrUnexpectedStatus, status))
	default:
		return retry.Permanent(retry.CodeWebhookStatus, fmt.Errorf("%w: %d", ErrUnexpectedStatus, status))
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}
