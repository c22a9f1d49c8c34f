package siem

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"

	"pagespace/internal/retry"
)

const (
	HeaderSignature = "X-Pagespace-Signature"
	HeaderTimestamp = "X-Pagespace-Timestamp"
	HeaderDelivery  = "X-Pagespace-Delivery"
)

// WebhookSender posts batches as JSON signed with HMAC-SHA256.
type WebhookSender struct {
	endpoint string
	secret   []byte
	client   *http.Client
	now      func() time.Time
}

type webhookPayload struct {
	Events []Event `json:"events"`
}

// NewWebhookSender validates the endpoint. A nil client gets a 10s timeout.
func NewWebhookSender(endpoint, secret string, client *http.Client) (*WebhookSender, error) {
	parsed, err := url.Parse(endpoint)
	if err != nil || (parsed.Scheme != "https" && parsed.Scheme != "http") || parsed.Host == "" {
		return nil, fmt.Errorf("siem: invalid webhook url %q", endpoint)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &WebhookSender{
		endpoint: endpoint,
		secret:   []byte(secret),
		client:   client,
		now:      time.Now,
	}, nil
}

// Sign returns the signature header value for body sent at timestamp.
func Sign(secret []byte, timestamp string, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write([]byte(timestamp))
	_, _ = mac.Write([]byte("."))
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature produced by Sign in constant time.
func Verify(secret []byte, timestamp string, body []byte, signature string) bool {
	return hmac.Equal([]byte(Sign(secret, timestamp, body)), []byte(signature))
}

func (w *WebhookSender) Send(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	body, err := json.Marshal(webhookPayload{Events: events})
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal events: %w", err))
	}

	timestamp := strconv.FormatInt(w.now().Unix(), 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, bytes.NewReader(body))
	if err != nil {
		return retry.Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "pagespace-siem/1")
	req.Header.Set(HeaderTimestamp, timestamp)
	req.Header.Set(HeaderDelivery, uuid.NewString())
	if len(w.secret) > 0 {
		req.Header.Set(HeaderSignature, Sign(w.secret, timestamp, body))
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return fmt.Errorf("webhook responded %d", resp.StatusCode)
	default:
		return retry.Permanent(fmt.Errorf("%w: webhook responded %d", ErrPermanent, resp.StatusCode))
	}
}

func (w *WebhookSender) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
