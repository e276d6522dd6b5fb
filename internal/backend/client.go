// Package backend is the resilient CrateHQ API caller. Every request carries
// the bearer secret, runs under a 30s timeout, and is attempted up to three
// times with 2s/4s/8s backoff sleeps. Exhaustion returns the last error;
// callers are built to proceed without the result.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	maxAttempts    = 3
	requestTimeout = 30 * time.Second
)

// RequestError is a non-2xx response from CrateHQ.
type RequestError struct {
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("cratehq http %d", e.StatusCode)
	}
	return fmt.Sprintf("cratehq http %d: %s", e.StatusCode, body)
}

type Client struct {
	http    *http.Client
	baseURL string
	secret  string
	logger  *slog.Logger

	// sleep is injectable so tests can assert the backoff schedule.
	sleep func(ctx context.Context, d time.Duration)
}

func New(baseURL, secret string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:    &http.Client{},
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		secret:  secret,
		logger:  logger,
		sleep: func(ctx context.Context, d time.Duration) {
			timer := time.NewTimer(d)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
			}
		},
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body any) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	var encoded []byte
	if body != nil {
		var err error
		encoded, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", path, err)
		}
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		raw, err := c.attempt(ctx, method, endpoint, encoded)
		if err == nil {
			return raw, nil
		}
		lastErr = err

		wait := time.Duration(1<<attempt) * time.Second // 2, 4, 8
		c.logger.Warn("backend_request_attempt_failed",
			"method", method, "url", endpoint, "attempt", attempt, "retry_in", wait.String(), "error", err.Error())
		c.sleep(ctx, wait)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	c.logger.Error("backend_request_exhausted", "method", method, "url", endpoint, "attempts", maxAttempts)
	return nil, lastErr
}

func (c *Client) attempt(ctx context.Context, method, endpoint string, body []byte) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	raw, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &RequestError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	return raw, nil
}

// ForwardMessage posts one inbound DM to the webhook.
func (c *Client) ForwardMessage(ctx context.Context, msg InboundMessage) error {
	_, err := c.do(ctx, http.MethodPost, "/api/webhooks/instagram-dm", nil, msg)
	return err
}

type pendingRepliesResponse struct {
	Messages []PendingReply `json:"messages"`
}

// FetchPendingReplies returns the outbound queue for the account. A missing
// or malformed messages field degrades to an empty list, not an error.
func (c *Client) FetchPendingReplies(ctx context.Context, accountID string) ([]PendingReply, error) {
	query := url.Values{}
	query.Set("ig_account_id", accountID)
	raw, err := c.do(ctx, http.MethodGet, "/api/dm-agent/pending-replies", query, nil)
	if err != nil {
		return nil, err
	}
	var out pendingRepliesResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		c.logger.Warn("pending_replies_parse_failed", "error", err.Error())
		return nil, nil
	}
	return out.Messages, nil
}

// ConfirmSent acknowledges delivery of a pending reply.
func (c *Client) ConfirmSent(ctx context.Context, pendingMessageID, igMessageID string) error {
	_, err := c.do(ctx, http.MethodPost, "/api/dm-agent/confirm-sent", nil, map[string]string{
		"pending_message_id": pendingMessageID,
		"ig_message_id":      igMessageID,
	})
	return err
}

// SendHeartbeat reports agent health for the cycle.
func (c *Client) SendHeartbeat(ctx context.Context, hb Heartbeat) error {
	_, err := c.do(ctx, http.MethodPost, "/api/dm-agent/heartbeat", nil, hb)
	return err
}
