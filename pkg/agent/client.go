// Package agent is the JSON-RPC client for the torale-agent service: it
// sends one monitoring prompt and polls until the agent task completes,
// fails, or times out.
package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prassanna-ravishankar/torale-sub001/pkg/logger"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/ratelimit"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/resilience"
)

const (
	// Timeout is the overall deadline for one agent invocation, from the
	// first send_message to a terminal task state.
	Timeout = 120 * time.Second

	// MaxConsecutivePollFailures aborts the poll loop if get_task keeps
	// erroring; the counter resets on any successful poll.
	MaxConsecutivePollFailures = 3
)

// pollBackoff is the exponential polling schedule; the last entry repeats
// once exhausted.
var pollBackoff = []time.Duration{
	500 * time.Millisecond,
	1 * time.Second,
	2 * time.Second,
	4 * time.Second,
	8 * time.Second,
	16 * time.Second,
	32 * time.Second,
}

// Client talks to a torale-agent instance with a free→paid tier fallback.
type Client struct {
	FreeURL    string
	PaidURL    string
	HTTPClient *http.Client

	freeBreaker *resilience.CircuitBreaker
	paidBreaker *resilience.CircuitBreaker
	limiter     *ratelimit.KeyedLimiter
}

func NewClient(freeURL, paidURL string) *Client {
	return &Client{
		FreeURL: freeURL,
		PaidURL: paidURL,
		HTTPClient: &http.Client{
			Timeout: Timeout + 10*time.Second,
		},
		freeBreaker: resilience.NewCircuitBreaker("agent-free", resilience.DefaultCircuitBreakerConfig()),
		paidBreaker: resilience.NewCircuitBreaker("agent-paid", resilience.DefaultCircuitBreakerConfig()),
		limiter:     ratelimit.NewKeyedLimiter(5, 10),
	}
}

// Invoke sends prompt to the free tier and falls back to the paid tier on a
// single retry if the free tier surfaces a rate-limit-shaped error. Each
// tier is guarded by its own circuit breaker so a tier stuck failing stops
// eating the full poll timeout on every call.
func (c *Client) Invoke(ctx context.Context, prompt string) (*MonitoringResponse, error) {
	var resp *MonitoringResponse
	breakerErr := c.freeBreaker.Execute(ctx, func() error {
		var callErr error
		resp, callErr = c.invokeAgent(ctx, c.FreeURL, prompt)
		return callErr
	})
	if breakerErr == nil {
		return resp, nil
	}

	err := breakerErr
	if !isRateLimitError(err) && err != resilience.ErrCircuitOpen {
		return nil, err
	}
	if c.PaidURL == "" {
		return nil, err
	}

	logger.Info("free tier unavailable, falling back to paid tier", zap.Error(err))
	var paidResp *MonitoringResponse
	if breakerErr := c.paidBreaker.Execute(ctx, func() error {
		var callErr error
		paidResp, callErr = c.invokeAgent(ctx, c.PaidURL, prompt)
		return callErr
	}); breakerErr != nil {
		return nil, breakerErr
	}
	return paidResp, nil
}

func isRateLimitError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "429") || strings.Contains(msg, "rate limit") || strings.Contains(msg, "quota")
}

func (c *Client) invokeAgent(ctx context.Context, baseURL, prompt string) (*MonitoringResponse, error) {
	if err := c.limiter.Wait(ctx, baseURL); err != nil {
		return nil, fmt.Errorf("rate limit wait cancelled: %w", err)
	}

	messageID := "msg-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:12]

	req := rpcRequest{
		JSONRPC: "2.0",
		ID:      messageID,
		Method:  "send_message",
		Params: sendMessageParams{
			Message: message{
				Role:      "user",
				Kind:      "message",
				MessageID: messageID,
				Parts:     []part{{Kind: "text", Text: prompt}},
			},
			Configuration: messageSendConfigured{AcceptedOutputModes: []string{"application/json"}},
		},
	}

	var sendResp sendMessageResult
	if err := c.post(ctx, baseURL, req, &sendResp); err != nil {
		return nil, fmt.Errorf("failed to send task to agent at %s: %w", baseURL, err)
	}
	if sendResp.Error != nil {
		return nil, fmt.Errorf("agent returned error: %s", sendResp.Error.Message)
	}
	if sendResp.Result == nil {
		return nil, fmt.Errorf("agent send_message returned no result")
	}

	taskID := sendResp.Result.ID
	logger.Info("agent task sent", zap.String("task_id", taskID))

	return c.pollUntilDone(ctx, baseURL, taskID)
}

func (c *Client) pollUntilDone(ctx context.Context, baseURL, taskID string) (*MonitoringResponse, error) {
	deadline := time.Now().Add(Timeout)
	backoffIdx := 0
	consecutiveFailures := 0

	for time.Now().Before(deadline) {
		delay := pollBackoff[backoffIdx]
		if backoffIdx < len(pollBackoff)-1 {
			backoffIdx++
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}

		getReq := rpcRequest{JSONRPC: "2.0", ID: taskID, Method: "get_task", Params: map[string]string{"id": taskID}}

		var pollResp getTaskResult
		if err := c.post(ctx, baseURL, getReq, &pollResp); err != nil {
			consecutiveFailures++
			logger.Warn("agent poll failed",
				zap.String("task_id", taskID), zap.Int("consecutive_failures", consecutiveFailures), zap.Error(err))
			if consecutiveFailures >= MaxConsecutivePollFailures {
				return nil, fmt.Errorf("agent poll failed %d consecutive times for task %s: %w", MaxConsecutivePollFailures, taskID, err)
			}
			continue
		}

		if pollResp.Error != nil {
			consecutiveFailures++
			logger.Warn("agent poll returned error",
				zap.String("task_id", taskID), zap.String("error", pollResp.Error.Message))
			if consecutiveFailures >= MaxConsecutivePollFailures {
				return nil, fmt.Errorf("agent poll returned errors %d times for task %s", MaxConsecutivePollFailures, taskID)
			}
			continue
		}
		consecutiveFailures = 0

		if pollResp.Result == nil {
			continue
		}

		state := pollResp.Result.Status.State
		switch state {
		case "completed":
			return parseAgentResponse(*pollResp.Result)
		case "failed":
			return nil, fmt.Errorf("agent task failed: %s", state)
		}
	}

	return nil, fmt.Errorf("agent did not complete within %s", Timeout)
}

func (c *Client) post(ctx context.Context, baseURL string, body interface{}, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status=%d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// parseAgentResponse prefers the first DataPart (structured JSON). It falls
// back to concatenated TextParts for legacy agent versions -- remove this
// fallback once all agents return DataPart.
func parseAgentResponse(task taskResult) (*MonitoringResponse, error) {
	var textContent strings.Builder

	for _, art := range task.Artifacts {
		for _, p := range art.Parts {
			if p.Kind == "data" && p.Data != nil {
				return decodeMonitoringResponse(p.Data)
			}
			if p.Kind == "text" {
				textContent.WriteString(p.Text)
			}
		}
	}

	text := textContent.String()
	if text == "" {
		return nil, fmt.Errorf("agent returned empty response (artifacts=%d)", len(task.Artifacts))
	}

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(text), &data); err == nil {
		return decodeMonitoringResponse(data)
	}

	// Agent sometimes returns a Python dict repr (single quotes, True/False/None).
	if data, err := parsePythonLiteralDict(text); err == nil {
		return decodeMonitoringResponse(data)
	}

	return nil, fmt.Errorf("agent returned non-JSON text response: %s", truncate(text, 200))
}

func decodeMonitoringResponse(data map[string]interface{}) (*MonitoringResponse, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to re-marshal agent payload: %w", err)
	}
	var resp MonitoringResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse monitoring response: %w", err)
	}
	if resp.Confidence < 0 || resp.Confidence > 100 {
		return nil, fmt.Errorf("agent returned malformed confidence value %d (must be 0-100)", resp.Confidence)
	}
	return &resp, nil
}

// parsePythonLiteralDict is a best-effort translation of a Python dict
// literal into JSON: it swaps single quotes for double quotes and the
// Python keyword constants for their JSON equivalents. It is not a general
// literal_eval; it exists only to tolerate legacy agent text responses.
func parsePythonLiteralDict(text string) (map[string]interface{}, error) {
	jsonish := strings.NewReplacer(
		"'", `"`,
		"True", "true",
		"False", "false",
		"None", "null",
	).Replace(text)

	var data map[string]interface{}
	if err := json.Unmarshal([]byte(jsonish), &data); err != nil {
		return nil, fmt.Errorf("not a recognizable python literal dict: %w", err)
	}
	return data, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
