package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AcquireDispatchLock is the fast-path dedupe guard ahead of the
// authoritative Postgres FindActiveForTask check: it sets a short-lived key
// before a task is dispatched, so a duplicate tick within the window
// returns false instead of enqueueing twice.
func (r *RedisQueue) AcquireDispatchLock(ctx context.Context, taskID uuid.UUID, window time.Duration) (bool, error) {
	key := dispatchLockKey(taskID)
	ok, err := r.client.SetNX(ctx, key, "1", window).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire dispatch lock: %w", err)
	}
	return ok, nil
}

// ReleaseDispatchLock clears the guard early, used when dispatch itself
// fails and the task should be eligible for an immediate retry tick.
func (r *RedisQueue) ReleaseDispatchLock(ctx context.Context, taskID uuid.UUID) error {
	if err := r.client.Del(ctx, dispatchLockKey(taskID)).Err(); err != nil {
		return fmt.Errorf("failed to release dispatch lock: %w", err)
	}
	return nil
}

func dispatchLockKey(taskID uuid.UUID) string {
	return "torale:dispatch-lock:" + taskID.String()
}
