package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestInvokeCompletesOnFirstPoll(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)

		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "send_message":
			_ = json.NewEncoder(w).Encode(sendMessageResult{
				Result: &taskResult{ID: "task-1", Status: taskStatus{State: "submitted"}},
			})
		case "get_task":
			_ = json.NewEncoder(w).Encode(getTaskResult{
				Result: &taskResult{
					ID:     "task-1",
					Status: taskStatus{State: "completed"},
					Artifacts: []artifact{
						{Parts: []part{{Kind: "data", Data: map[string]interface{}{
							"evidence":     "found it",
							"sources":      []string{"https://example.com"},
							"confidence":   90,
							"notification": "release confirmed",
						}}}},
					},
				},
			})
		}
	}))
	defer server.Close()

	c := NewClient(server.URL, "")
	origBackoff := pollBackoff
	pollBackoff = []time.Duration{time.Millisecond}
	defer func() { pollBackoff = origBackoff }()

	resp, err := c.Invoke(context.Background(), "find release date")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Evidence != "found it" {
		t.Errorf("expected evidence to be parsed, got %q", resp.Evidence)
	}
	if resp.Confidence != 90 {
		t.Errorf("expected confidence 90, got %d", resp.Confidence)
	}
	if calls < 2 {
		t.Errorf("expected at least send + one poll, got %d calls", calls)
	}
}

func TestInvokeFallsBackOnRateLimit(t *testing.T) {
	freeServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sendMessageResult{
			Error: &rpcError{Code: 429, Message: "rate limit exceeded, quota reached"},
		})
	}))
	defer freeServer.Close()

	paidServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "send_message":
			_ = json.NewEncoder(w).Encode(sendMessageResult{Result: &taskResult{ID: "task-2", Status: taskStatus{State: "submitted"}}})
		case "get_task":
			_ = json.NewEncoder(w).Encode(getTaskResult{Result: &taskResult{
				ID:     "task-2",
				Status: taskStatus{State: "completed"},
				Artifacts: []artifact{
					{Parts: []part{{Kind: "data", Data: map[string]interface{}{"evidence": "paid tier result", "confidence": 70}}}},
				},
			}})
		}
	}))
	defer paidServer.Close()

	c := NewClient(freeServer.URL, paidServer.URL)
	origBackoff := pollBackoff
	pollBackoff = []time.Duration{time.Millisecond}
	defer func() { pollBackoff = origBackoff }()

	resp, err := c.Invoke(context.Background(), "prompt")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Evidence != "paid tier result" {
		t.Errorf("expected fallback to paid tier, got %q", resp.Evidence)
	}
}

func TestInvokeFailsWithoutFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(sendMessageResult{Error: &rpcError{Message: "some unrelated failure"}})
	}))
	defer server.Close()

	c := NewClient(server.URL, "")
	_, err := c.Invoke(context.Background(), "prompt")
	if err == nil {
		t.Fatal("expected error for non-rate-limit failure")
	}
}

func TestParseAgentResponseTextFallback(t *testing.T) {
	task := taskResult{Artifacts: []artifact{
		{Parts: []part{{Kind: "text", Text: `{"evidence": "from text", "confidence": 50}`}}},
	}}

	resp, err := parseAgentResponse(task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Evidence != "from text" {
		t.Errorf("expected evidence parsed from text part, got %q", resp.Evidence)
	}
}

func TestParseAgentResponsePythonLiteralFallback(t *testing.T) {
	task := taskResult{Artifacts: []artifact{
		{Parts: []part{{Kind: "text", Text: `{'evidence': 'from literal', 'confidence': 40, 'notification': None}`}}},
	}}

	resp, err := parseAgentResponse(task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Evidence != "from literal" {
		t.Errorf("expected evidence parsed from python-literal text, got %q", resp.Evidence)
	}
	if resp.Notification != nil {
		t.Error("expected None to parse as nil notification")
	}
}

func TestParseAgentResponseEmpty(t *testing.T) {
	_, err := parseAgentResponse(taskResult{})
	if err == nil {
		t.Fatal("expected error for empty response")
	}
	if !strings.Contains(err.Error(), "empty response") {
		t.Errorf("expected empty response error, got %v", err)
	}
}
