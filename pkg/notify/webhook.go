// Package notify fans a completed execution's notification out to the
// task's configured channels: email, webhook, and Slack.
package notify

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

	"github.com/prassanna-ravishankar/torale-sub001/pkg/ratelimit"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/resilience"
)

// maxWebhookResponseBody caps how much of a webhook response body is kept
// for the delivery record.
const maxWebhookResponseBody = 4096

// WebhookRetrySchedule is the delay before each retry attempt, one entry
// per retry (the first attempt is immediate, not part of this schedule).
var WebhookRetrySchedule = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	12 * time.Hour,
}

// MaxWebhookAttempts is the first attempt plus every entry in the retry
// schedule.
var MaxWebhookAttempts = len(WebhookRetrySchedule) + 1

// WebhookService signs and delivers webhook payloads, and decides the next
// retry time on failure. Each destination host gets its own rate limit
// bucket and circuit breaker so one unreachable endpoint can't starve or
// slow delivery to every other task's webhook.
type WebhookService struct {
	httpClient *http.Client
	limiter    *ratelimit.KeyedLimiter
	breakers   *resilience.KeyedCircuitBreaker
}

func NewWebhookService() *WebhookService {
	return &WebhookService{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    ratelimit.NewKeyedLimiter(5, 10),
		breakers:   resilience.NewKeyedCircuitBreaker(resilience.DefaultCircuitBreakerConfig()),
	}
}

// DeliveryOutcome is the result of one delivery attempt.
type DeliveryOutcome struct {
	Success      bool
	StatusCode   int
	ResponseBody string
	Signature    string
	Err          error
}

// Deliver POSTs the signed payload to dest. Success is any 2xx response.
func (s *WebhookService) Deliver(ctx context.Context, dest string, payload interface{}, secret string) DeliveryOutcome {
	body, err := json.Marshal(payload)
	if err != nil {
		return DeliveryOutcome{Err: fmt.Errorf("failed to marshal webhook payload: %w", err)}
	}

	signature := Sign(secret, body, time.Now())
	key := destKey(dest)

	if err := s.limiter.Wait(ctx, key); err != nil {
		return DeliveryOutcome{Signature: signature, Err: fmt.Errorf("rate limit wait cancelled: %w", err)}
	}

	var outcome DeliveryOutcome
	breakerErr := s.breakers.For(key).Execute(ctx, func() error {
		outcome = s.doDeliver(ctx, dest, body, signature)
		return outcome.Err
	})
	if breakerErr == resilience.ErrCircuitOpen {
		return DeliveryOutcome{Signature: signature, Err: breakerErr}
	}
	return outcome
}

func (s *WebhookService) doDeliver(ctx context.Context, dest string, body []byte, signature string) DeliveryOutcome {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dest, bytes.NewReader(body))
	if err != nil {
		return DeliveryOutcome{Signature: signature, Err: fmt.Errorf("failed to build webhook request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Torale-Signature", signature)
	req.Header.Set("User-Agent", "Torale-Webhook/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return DeliveryOutcome{Signature: signature, Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxWebhookResponseBody))

	return DeliveryOutcome{
		Success:      resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode:   resp.StatusCode,
		ResponseBody: string(respBody),
		Signature:    signature,
	}
}

// destKey reduces a webhook URL to its host for rate-limit/breaker
// grouping -- two tasks posting to the same endpoint share one bucket.
func destKey(dest string) string {
	u, err := url.Parse(dest)
	if err != nil || u.Host == "" {
		return dest
	}
	return u.Host
}

// Sign computes the X-Torale-Signature header value:
// t=<unix_ts>,v1=<hex HMAC-SHA256(secret, "<t>.<body>")>.
func Sign(secret string, body []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(body)
	sig := hex.EncodeToString(mac.Sum(nil))
	return "t=" + ts + ",v1=" + sig
}

// NextRetryDelay returns the delay before the given 1-indexed attempt
// number, or false if attempt exceeds the schedule (caller should
// permanently fail).
func NextRetryDelay(attempt int) (time.Duration, bool) {
	idx := attempt - 1
	if idx < 0 || idx >= len(WebhookRetrySchedule) {
		return 0, false
	}
	return WebhookRetrySchedule[idx], true
}
