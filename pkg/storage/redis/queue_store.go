package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// StreamKeyPending is the dispatch queue the scheduler writes to and
	// workers consume from. One stream, one consumer group: every worker
	// in the group competes for the same pending messages.
	StreamKeyPending = "torale:executions:pending"
)

// DispatchMessage is the payload carried on the stream. It only carries
// identifiers: the worker re-reads the task and execution rows from
// Postgres so the stream never becomes a second source of truth.
type DispatchMessage struct {
	TaskID      uuid.UUID `json:"task_id"`
	ExecutionID uuid.UUID `json:"execution_id"`
}

type RedisQueue struct {
	client *redis.Client
}

// NewRedisQueue initializes a new Redis client.
func NewRedisQueue(addr string) (*RedisQueue, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &RedisQueue{client: client}, nil
}

func (r *RedisQueue) Close() error {
	return r.client.Close()
}

// Push enqueues a task execution for pickup by a worker.
func (r *RedisQueue) Push(ctx context.Context, taskID, executionID uuid.UUID) error {
	msg := DispatchMessage{TaskID: taskID, ExecutionID: executionID}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal dispatch message: %w", err)
	}

	err = r.client.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKeyPending,
		Values: map[string]interface{}{
			"payload":      payload,
			"task_id":      taskID.String(),
			"execution_id": executionID.String(),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to push to dispatch queue: %w", err)
	}
	return nil
}

// EnsureGroup creates the consumer group if it doesn't exist.
func (r *RedisQueue) EnsureGroup(ctx context.Context, group string) error {
	err := r.client.XGroupCreateMkStream(ctx, StreamKeyPending, group, "$").Err()
	if err != nil {
		if err.Error() == "BUSYGROUP Consumer Group name already exists" {
			return nil
		}
		return fmt.Errorf("failed to create consumer group: %w", err)
	}
	return nil
}

// Pop retrieves a dispatch message from the queue for a specific consumer
// group, blocking briefly for new messages. A zero-value return with no
// error means "no work right now", not a failure.
func (r *RedisQueue) Pop(ctx context.Context, group, consumer string) (string, *DispatchMessage, error) {
	streams, err := r.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumer,
		Streams:  []string{StreamKeyPending, ">"},
		Count:    1,
		Block:    2 * time.Second,
	}).Result()

	if err != nil {
		if err == redis.Nil {
			return "", nil, nil
		}
		return "", nil, fmt.Errorf("failed to read from stream: %w", err)
	}

	if len(streams) == 0 || len(streams[0].Messages) == 0 {
		return "", nil, nil
	}

	msg := streams[0].Messages[0]
	msgID := msg.ID

	payloadStr, ok := msg.Values["payload"].(string)
	if !ok {
		return msgID, nil, fmt.Errorf("invalid payload format")
	}

	var dm DispatchMessage
	if err := json.Unmarshal([]byte(payloadStr), &dm); err != nil {
		return msgID, nil, fmt.Errorf("failed to unmarshal dispatch message: %w", err)
	}

	return msgID, &dm, nil
}

// Ack acknowledges a dispatch message as processed.
func (r *RedisQueue) Ack(ctx context.Context, group, msgID string) error {
	return r.client.XAck(ctx, StreamKeyPending, group, msgID).Err()
}

// Claim reassigns pending messages idle longer than minIdle to consumer,
// letting a live worker pick up work abandoned by a crashed one.
func (r *RedisQueue) Claim(ctx context.Context, group, consumer string, minIdle time.Duration, count int64) ([]redis.XMessage, error) {
	msgs, _, err := r.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   StreamKeyPending,
		Group:    group,
		Consumer: consumer,
		MinIdle:  minIdle,
		Start:    "0",
		Count:    count,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to autoclaim stream messages: %w", err)
	}
	return msgs, nil
}
