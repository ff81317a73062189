package executor

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prassanna-ravishankar/torale-sub001/pkg/logger"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/metrics"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/storage/redis"
)

const consumerGroup = "torale-workers"

// Queue is the narrow slice of RedisQueue a Worker drives.
type Queue interface {
	EnsureGroup(ctx context.Context, group string) error
	Pop(ctx context.Context, group, consumer string) (string, *redis.DispatchMessage, error)
	Ack(ctx context.Context, group, msgID string) error
}

// Worker pulls dispatch messages off the Redis stream and runs them
// through the Engine, one goroutine per concurrency slot.
type Worker struct {
	ID          string
	concurrency int

	queue  Queue
	engine *Engine

	heartbeatInterval time.Duration
}

func NewWorker(queue Queue, engine *Engine, concurrency int) *Worker {
	if concurrency <= 0 {
		concurrency = runtime.NumCPU()
	}
	hostname, _ := os.Hostname()

	return &Worker{
		ID:                fmt.Sprintf("%s-%s", hostname, uuid.New().String()[:8]),
		concurrency:       concurrency,
		queue:             queue,
		engine:            engine,
		heartbeatInterval: 10 * time.Second,
	}
}

// Run blocks, consuming dispatch messages until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	logger.Info("worker starting", zap.String("worker_id", w.ID), zap.Int("concurrency", w.concurrency))

	if err := w.queue.EnsureGroup(ctx, consumerGroup); err != nil {
		return fmt.Errorf("failed to ensure consumer group: %w", err)
	}

	go w.heartbeatLoop(ctx)

	sem := make(chan struct{}, w.concurrency)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sem <- struct{}{}:
			go func() {
				defer func() { <-sem }()
				w.consumeOne(ctx)
			}()
		}
	}
}

func (w *Worker) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(w.heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			metrics.HeartbeatsSent.Inc()
		}
	}
}

func (w *Worker) consumeOne(ctx context.Context) {
	msgID, dm, err := w.queue.Pop(ctx, consumerGroup, w.ID)
	if err != nil {
		logger.Error("failed to pop dispatch message", zap.Error(err))
		time.Sleep(time.Second)
		return
	}
	if dm == nil {
		time.Sleep(time.Second)
		return
	}

	outcome, err := w.engine.RunOnce(ctx, dm.ExecutionID)
	if err != nil {
		logger.Error("execution run failed",
			zap.String("task_id", dm.TaskID.String()),
			zap.String("execution_id", dm.ExecutionID.String()),
			zap.Error(err))
	} else {
		logger.Info("execution run completed",
			zap.String("task_id", dm.TaskID.String()),
			zap.String("status", outcome.Status),
			zap.String("reason", outcome.Reason))
	}

	if err := w.queue.Ack(ctx, consumerGroup, msgID); err != nil {
		logger.Error("failed to ack dispatch message", zap.String("msg_id", msgID), zap.Error(err))
	}
}
