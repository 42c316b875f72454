// Package webhook delivers signal pushes to subscriber-owned HTTPS
// endpoints, HMAC-signed and bearer-authenticated (spec §4.C7, §6.2).
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/heraldhq/herald/internal/identity"
	"github.com/heraldhq/herald/internal/types"
)

// Client posts the webhook envelope with connection pooling shared across
// every delivery attempt, rather than a fresh client per call.
type Client struct {
	http          *http.Client
	processSecret string
}

// NewClient builds a Client with the given total per-request timeout and a
// transport that pools idle connections (up to 200 in all, 4 per host). The
// number of concurrent connections to one host is not capped.
func NewClient(timeout time.Duration, processSecret string) *Client {
	transport := &http.Transport{
		MaxIdleConns:        200,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
	}
	return &Client{
		http:          &http.Client{Transport: transport, Timeout: timeout},
		processSecret: processSecret,
	}
}

// Result is the outcome of one delivery attempt.
type Result struct {
	HTTPStatus int
	LatencyMS  int64
	Err        error
}

// Deliver builds and sends the §6.2 envelope, signed with the webhook's own
// secret if it has one, falling back to the process-wide HMAC secret
// (§6.6: "process-wide secret for signing when no per-subscriber secret
// applies").
func (c *Client) Deliver(ctx context.Context, wh *types.Webhook, deliveryID string, channel types.WebhookChannelInfo, sig types.Signal) Result {
	secret := wh.Secret
	if secret == "" {
		secret = c.processSecret
	}

	envelope := types.WebhookEnvelope{
		Event:   "signal",
		Channel: channel,
		Signal: types.WebhookSignalInfo{
			ID:        sig.ID,
			Title:     sig.Title,
			Body:      sig.Body,
			Urgency:   sig.Urgency,
			Metadata:  sig.Metadata,
			CreatedAt: sig.CreatedAt.UTC().Format(time.RFC3339),
		},
	}

	body, err := json.Marshal(envelope)
	if err != nil {
		return Result{Err: fmt.Errorf("webhook: marshal envelope: %w", err)}
	}

	ts := identity.SigningTimestamp()
	signature := identity.SignPayload(secret, ts, body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, wh.URL, bytes.NewReader(body))
	if err != nil {
		return Result{Err: fmt.Errorf("webhook: build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Herald-Signature", signature)
	req.Header.Set("X-Herald-Timestamp", fmt.Sprintf("%d", ts))
	req.Header.Set("X-Herald-Delivery-Id", deliveryID)
	if wh.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+wh.BearerToken)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	latency := time.Since(start)
	if err != nil {
		return Result{LatencyMS: latency.Milliseconds(), Err: fmt.Errorf("webhook: request failed: %w", err)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	result := Result{HTTPStatus: resp.StatusCode, LatencyMS: latency.Milliseconds()}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.Err = fmt.Errorf("webhook: non-2xx response: %d", resp.StatusCode)
	}
	return result
}
