package classifier_test

import (
	"testing"

	"github.com/prassanna-ravishankar/torale-sub001/pkg/classifier"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/models"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		in   classifier.FailureInput
		want models.ErrorCategory
	}{
		{"timeout by type", classifier.FailureInput{ErrType: "context.DeadlineExceeded", Message: "deadline exceeded"}, models.ErrorCategoryTimeout},
		{"network by type", classifier.FailureInput{ErrType: "net.OpError", Message: "dial tcp: connection failed"}, models.ErrorCategoryNetwork},
		{"system error by type", classifier.FailureInput{ErrType: "pgconn.PgError", Message: "operational issue"}, models.ErrorCategorySystemError},
		{"rate limit by message", classifier.FailureInput{ErrType: "errors.errorString", Message: "received 429 from upstream"}, models.ErrorCategoryRateLimit},
		{"quota by message", classifier.FailureInput{ErrType: "errors.errorString", Message: "quota exceeded for project"}, models.ErrorCategoryRateLimit},
		{"timeout by message", classifier.FailureInput{ErrType: "errors.errorString", Message: "request timed out"}, models.ErrorCategoryTimeout},
		{"network by message", classifier.FailureInput{ErrType: "errors.errorString", Message: "connection refused by peer"}, models.ErrorCategoryNetwork},
		{"agent error by message", classifier.FailureInput{ErrType: "errors.errorString", Message: "agent task failed unexpectedly"}, models.ErrorCategoryAgentError},
		{"user error by message", classifier.FailureInput{ErrType: "errors.errorString", Message: "invalid schedule expression"}, models.ErrorCategoryUserError},
		{"falls through to unknown", classifier.FailureInput{ErrType: "errors.errorString", Message: "something completely unexpected"}, models.ErrorCategoryUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := classifier.Classify(tc.in)
			if got != tc.want {
				t.Errorf("Classify(%+v) = %v, want %v", tc.in, got, tc.want)
			}
		})
	}
}

func TestUserFriendlyMessage(t *testing.T) {
	if msg := classifier.UserFriendlyMessage("bad schedule string", models.ErrorCategoryUserError); msg != "bad schedule string" {
		t.Errorf("expected raw message passthrough for user error, got %q", msg)
	}
	if msg := classifier.UserFriendlyMessage("boom", models.ErrorCategoryNetwork); msg == "boom" {
		t.Errorf("expected sanitized message for network error, got raw passthrough")
	}
	if msg := classifier.UserFriendlyMessage("boom", models.ErrorCategory("something_new")); msg != "An unexpected error occurred. We'll retry automatically." {
		t.Errorf("expected default message for unmapped category, got %q", msg)
	}
}

func TestRetryDelaySeconds(t *testing.T) {
	// RATE_LIMIT: 30s, 2min, 8min, capped at 3600s
	if d := classifier.RetryDelaySeconds(models.ErrorCategoryRateLimit, 0); d != 30 {
		t.Errorf("attempt 0: expected 30, got %d", d)
	}
	if d := classifier.RetryDelaySeconds(models.ErrorCategoryRateLimit, 1); d != 120 {
		t.Errorf("attempt 1: expected 120, got %d", d)
	}
	if d := classifier.RetryDelaySeconds(models.ErrorCategoryRateLimit, 10); d != 3600 {
		t.Errorf("attempt 10: expected cap of 3600, got %d", d)
	}
}

func TestShouldRetry(t *testing.T) {
	if !classifier.ShouldRetry(models.ErrorCategoryTimeout, 2) {
		t.Errorf("expected retry allowed at attempt 2 of 3 max for timeout")
	}
	if classifier.ShouldRetry(models.ErrorCategoryTimeout, 3) {
		t.Errorf("expected retry exhausted at attempt 3 of 3 max for timeout")
	}
	if classifier.ShouldRetry(models.ErrorCategoryUserError, 0) {
		t.Errorf("expected zero retries allowed for user errors")
	}
}
