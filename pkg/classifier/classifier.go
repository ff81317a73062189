// Package classifier turns an execution failure into an ErrorCategory and
// the retry/backoff decisions that follow from it.
package classifier

import (
	"strings"

	"github.com/prassanna-ravishankar/torale-sub001/pkg/logger"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/models"
	"go.uber.org/zap"
)

// FailureInput carries the pieces of a failure the classifier needs.
// ErrType is the Go type name of the underlying error (e.g. "net.OpError"),
// lowercased comparisons happen internally.
type FailureInput struct {
	ErrType string
	Message string
}

var (
	rateLimitPatterns = []string{"429", "rate limit", "quota"}
	timeoutPatterns   = []string{"timeout", "timed out"}
	networkPatterns   = []string{
		"connection refused",
		"connection reset",
		"connection error",
		"failed to send",
		"all connection attempts",
	}
	agentPatterns = []string{"agent task failed", "agent returned error"}
	userPatterns  = []string{"invalid", "malformed"}
)

// Classify maps a failure to an ErrorCategory. Exception-type signals take
// priority over message substring matching because they're harder to spoof
// with an unrelated error string.
func Classify(f FailureInput) models.ErrorCategory {
	errType := strings.ToLower(f.ErrType)

	if strings.Contains(errType, "timeout") {
		return models.ErrorCategoryTimeout
	}
	if strings.Contains(errType, "connection") {
		return models.ErrorCategoryNetwork
	}
	if strings.Contains(errType, "psycopg") || strings.Contains(errType, "database") || strings.Contains(errType, "operational") {
		return models.ErrorCategorySystemError
	}

	msg := strings.ToLower(f.Message)

	if containsAny(msg, rateLimitPatterns) {
		return models.ErrorCategoryRateLimit
	}
	if containsAny(msg, timeoutPatterns) {
		return models.ErrorCategoryTimeout
	}
	if containsAny(msg, networkPatterns) {
		return models.ErrorCategoryNetwork
	}
	if containsAny(msg, agentPatterns) {
		return models.ErrorCategoryAgentError
	}
	if containsAny(msg, userPatterns) {
		return models.ErrorCategoryUserError
	}

	logger.Warn("error classified as unknown, may need new category",
		zap.String("error_type", f.ErrType),
		zap.String("message", truncate(f.Message, 200)),
	)
	return models.ErrorCategoryUnknown
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

var userMessages = map[models.ErrorCategory]string{
	models.ErrorCategoryRateLimit:  "Temporarily unable to process due to high demand. We'll retry automatically.",
	models.ErrorCategoryTimeout:    "The search took longer than expected. We'll try again shortly.",
	models.ErrorCategoryNetwork:    "Temporary connection issue. Retrying automatically.",
	models.ErrorCategoryAgentError: "Unable to complete the search. We'll try again.",
}

const defaultUserMessage = "An unexpected error occurred. We'll retry automatically."

// UserFriendlyMessage converts a classified failure into user-safe copy.
// USER_ERROR is the one category allowed to surface the raw message, since
// it already describes something the user can act on.
func UserFriendlyMessage(rawMessage string, category models.ErrorCategory) string {
	if category == models.ErrorCategoryUserError {
		return rawMessage
	}
	if msg, ok := userMessages[category]; ok {
		return msg
	}
	return defaultUserMessage
}

type retryPolicy struct {
	baseSeconds int
	multiplier  int
	capSeconds  int
	maxRetries  int
}

var retryPolicies = map[models.ErrorCategory]retryPolicy{
	models.ErrorCategoryRateLimit:   {baseSeconds: 30, multiplier: 4, capSeconds: 3600, maxRetries: 5},
	models.ErrorCategoryTimeout:     {baseSeconds: 10, multiplier: 3, capSeconds: 300, maxRetries: 3},
	models.ErrorCategoryNetwork:     {baseSeconds: 10, multiplier: 3, capSeconds: 300, maxRetries: 3},
	models.ErrorCategoryAgentError:  {baseSeconds: 60, multiplier: 3, capSeconds: 900, maxRetries: 2},
	models.ErrorCategoryUserError:   {baseSeconds: 300, multiplier: 3, capSeconds: 3600, maxRetries: 0},
	models.ErrorCategorySystemError: {baseSeconds: 300, multiplier: 3, capSeconds: 3600, maxRetries: 1},
	models.ErrorCategoryUnknown:     {baseSeconds: 300, multiplier: 3, capSeconds: 3600, maxRetries: 2},
}

var defaultPolicy = retryPolicy{baseSeconds: 300, multiplier: 3, capSeconds: 3600, maxRetries: 2}

func policyFor(category models.ErrorCategory) retryPolicy {
	if p, ok := retryPolicies[category]; ok {
		return p
	}
	return defaultPolicy
}

// RetryDelaySeconds returns the backoff delay for the given attempt number
// (0-indexed), exponential up to the category's cap.
func RetryDelaySeconds(category models.ErrorCategory, attempt int) int {
	p := policyFor(category)
	delay := p.baseSeconds
	for i := 0; i < attempt; i++ {
		delay *= p.multiplier
		if delay >= p.capSeconds {
			return p.capSeconds
		}
	}
	if delay > p.capSeconds {
		return p.capSeconds
	}
	return delay
}

// ShouldRetry reports whether another attempt is allowed after attempt
// (0-indexed) failures of the given category.
func ShouldRetry(category models.ErrorCategory, attempt int) bool {
	return attempt < policyFor(category).maxRetries
}
