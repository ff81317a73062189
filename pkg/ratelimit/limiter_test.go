package ratelimit

import "testing"

func TestKeyedLimiterIndependentKeys(t *testing.T) {
	kl := NewKeyedLimiter(1, 1)

	if !kl.Allow("task-a") {
		t.Error("expected first call for task-a to be allowed")
	}
	if kl.Allow("task-a") {
		t.Error("expected second immediate call for task-a to be throttled")
	}
	if !kl.Allow("task-b") {
		t.Error("expected task-b to have its own independent bucket")
	}
}

func TestKeyedLimiterReusesBucket(t *testing.T) {
	kl := NewKeyedLimiter(5, 2)
	first := kl.limiterFor("task-x")
	second := kl.limiterFor("task-x")
	if first != second {
		t.Error("expected the same limiter instance to be reused for the same key")
	}
}
