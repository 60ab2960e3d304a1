package events

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
	"slices"
	"time"

	"go.uber.org/zap"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Anchorkit-Signature"

// Subscription is a webhook target. An empty Events list matches every type.
type Subscription struct {
	URL    string   `mapstructure:"url"    json:"url"`
	Secret string   `mapstructure:"secret" json:"-"`
	Events []string `mapstructure:"events" json:"events"`
}

func (s Subscription) matches(eventType string) bool {
	return len(s.Events) == 0 || slices.Contains(s.Events, eventType)
}

// MetricsRecorder is an optional callback for recording delivery outcomes.
type MetricsRecorder func(success bool)

// Webhook delivers events as signed HTTP POSTs with retries.
type Webhook struct {
	subs       []Subscription
	httpClient *http.Client
	delays     []time.Duration // delay before each attempt; len is the attempt count
	onMetrics  MetricsRecorder
	logger     *zap.Logger
}

// NewWebhook creates a Webhook sink for subs.
func NewWebhook(subs []Subscription, logger *zap.Logger) *Webhook {
	return &Webhook{
		subs:       subs,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		// Retry with exponential backoff: 1s, 5s.
		delays: []time.Duration{0, 1 * time.Second, 5 * time.Second},
		logger: logger,
	}
}

// SetMetricsRecorder configures the metrics callback.
func (w *Webhook) SetMetricsRecorder(fn MetricsRecorder) {
	w.onMetrics = fn
}

// SetRetryDelays overrides the per-attempt delays.
func (w *Webhook) SetRetryDelays(delays []time.Duration) {
	w.delays = delays
}

// Publish implements Sink. Delivery runs in the background and outlives ctx.
func (w *Webhook) Publish(ctx context.Context, e Event) {
	body, err := json.Marshal(e)
	if err != nil {
		w.logger.Error("webhook: marshal event", zap.Error(err))
		return
	}
	for _, sub := range w.subs {
		if sub.matches(e.Type) {
			go w.deliver(context.WithoutCancel(ctx), sub, e.Type, body)
		}
	}
}

// deliver sends one event to a single subscription with retries.
func (w *Webhook) deliver(ctx context.Context, sub Subscription, eventType string, body []byte) {
	signature := signPayload(body, sub.Secret)

	for attempt, delay := range w.delays {
		if delay > 0 {
			time.Sleep(delay)
		}

		success, errMsg := w.doDelivery(ctx, sub.URL, body, signature)
		if w.onMetrics != nil {
			w.onMetrics(success)
		}
		if success {
			return
		}

		w.logger.Warn("webhook: delivery failed",
			zap.String("url", sub.URL),
			zap.String("type", eventType),
			zap.Int("attempt", attempt+1),
			zap.String("error", errMsg),
		)
	}
}

// doDelivery performs a single HTTP POST delivery.
func (w *Webhook) doDelivery(ctx context.Context, url string, body []byte, signature string) (bool, string) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return false, err.Error()
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(SignatureHeader, signature)

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return false, err.Error()
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1024)) //nolint:errcheck

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true, ""
	}
	return false, fmt.Sprintf("HTTP %d", resp.StatusCode)
}

// signPayload computes an HMAC-SHA256 signature.
func signPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature checks a SignatureHeader value against body. Receivers use
// it to authenticate deliveries.
func VerifySignature(body []byte, secret, header string) bool {
	return hmac.Equal([]byte(signPayload(body, secret)), []byte(header))
}
