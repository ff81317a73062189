// Package scheduler owns every task's single future fire: installing,
// pausing, and removing scheduler jobs, polling due jobs onto the dispatch
// queue, and reaping work abandoned by dead or stuck workers.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/prassanna-ravishankar/torale-sub001/pkg/coordination"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/logger"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/metrics"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/models"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/storage"
)

// Queue is the narrow dispatch-side slice of RedisQueue the Scheduler Core
// drives: a dedupe lock ahead of each push, and the push itself.
type Queue interface {
	AcquireDispatchLock(ctx context.Context, taskID uuid.UUID, window time.Duration) (bool, error)
	ReleaseDispatchLock(ctx context.Context, taskID uuid.UUID) error
	Push(ctx context.Context, taskID, executionID uuid.UUID) error
}

// Core is the Scheduler Core described in the component design: the
// durable job store plus the poll/dispatch and reconcile loops that act on
// it. It also satisfies statemachine.SchedulerEffects so the Task State
// Machine can drive job installation directly.
type Core struct {
	jobs       storage.SchedulerJobStore
	tasks      storage.TaskStore
	executions storage.ExecutionStore
	queue      Queue
	parser     cron.Parser

	pollInterval            time.Duration
	reconcileInterval       time.Duration
	dedupeWindow            time.Duration
	staleExecutionThreshold time.Duration
	dispatchBatchSize       int
	dispatchConcurrency     int
}

type Config struct {
	Jobs                    storage.SchedulerJobStore
	Tasks                   storage.TaskStore
	Executions              storage.ExecutionStore
	Queue                   Queue
	PollInterval            time.Duration
	ReconcileInterval       time.Duration
	DedupeWindow            time.Duration
	StaleExecutionThreshold time.Duration
}

func NewCore(cfg Config) *Core {
	pollInterval := cfg.PollInterval
	if pollInterval == 0 {
		pollInterval = 10 * time.Second
	}
	reconcileInterval := cfg.ReconcileInterval
	if reconcileInterval == 0 {
		reconcileInterval = 30 * time.Second
	}
	dedupeWindow := cfg.DedupeWindow
	if dedupeWindow == 0 {
		dedupeWindow = 30 * time.Second
	}
	staleThreshold := cfg.StaleExecutionThreshold
	if staleThreshold == 0 {
		staleThreshold = 30 * time.Minute
	}

	return &Core{
		jobs:                    cfg.Jobs,
		tasks:                   cfg.Tasks,
		executions:              cfg.Executions,
		queue:                   cfg.Queue,
		parser:                  cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		pollInterval:            pollInterval,
		reconcileInterval:       reconcileInterval,
		dedupeWindow:            dedupeWindow,
		staleExecutionThreshold: staleThreshold,
		dispatchBatchSize:       500,
		dispatchConcurrency:     20,
	}
}

// AddOrResume installs or re-installs a task's single future fire,
// computing the next run_date from its cron schedule. It implements
// statemachine.SchedulerEffects for the PAUSED/COMPLETED->ACTIVE and
// fresh-ACTIVE transitions alike -- both collapse to the same upsert.
func (c *Core) AddOrResume(ctx context.Context, taskID, userID uuid.UUID, name, schedule string) error {
	sched, err := c.parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}

	job := &models.SchedulerJob{
		ID:      models.SchedulerJobID(taskID),
		TaskID:  taskID,
		UserID:  userID,
		Name:    name,
		RunDate: sched.Next(time.Now().UTC()),
		Paused:  false,
	}
	return c.jobs.AddOrResume(ctx, job)
}

func (c *Core) Pause(ctx context.Context, taskID uuid.UUID) error {
	return c.jobs.Pause(ctx, taskID)
}

func (c *Core) Remove(ctx context.Context, taskID uuid.UUID) error {
	return c.jobs.Remove(ctx, taskID)
}

// ReconcileOnStartup reinstalls a scheduler job for every task this
// process doesn't yet know about, covering the case where the job store
// was wiped but tasks survive in Postgres.
func (c *Core) ReconcileOnStartup(ctx context.Context) error {
	active, err := c.tasks.ListByState(ctx, []models.TaskState{models.TaskStateActive})
	if err != nil {
		return fmt.Errorf("failed to list active tasks: %w", err)
	}

	existing, err := c.jobs.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("failed to list scheduler jobs: %w", err)
	}
	haveJob := make(map[uuid.UUID]bool, len(existing))
	for _, j := range existing {
		haveJob[j.TaskID] = true
	}

	restored := 0
	for _, task := range active {
		if haveJob[task.ID] {
			continue
		}
		if err := c.AddOrResume(ctx, task.ID, task.UserID, task.Name, task.Schedule); err != nil {
			logger.Error("failed to reinstall scheduler job on startup",
				zap.String("task_id", task.ID.String()), zap.Error(err))
			continue
		}
		restored++
	}
	if restored > 0 {
		logger.Info("reinstalled scheduler jobs on startup", zap.Int("count", restored))
	}
	return nil
}

// Run blocks, polling and reconciling on separate tickers, only while
// election reports this process as leader.
func (c *Core) Run(ctx context.Context, election coordination.Election, selfID string) {
	pollTicker := time.NewTicker(c.pollInterval)
	defer pollTicker.Stop()

	reconcileTicker := time.NewTicker(c.reconcileInterval)
	defer reconcileTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler core shutting down")
			return

		case <-pollTicker.C:
			if !c.isLeader(ctx, election, selfID) {
				continue
			}
			for {
				count, err := c.PollAndSchedule(ctx)
				if err != nil {
					logger.Error("poll and schedule failed", zap.Error(err))
					break
				}
				if count == 0 || ctx.Err() != nil {
					break
				}
			}

		case <-reconcileTicker.C:
			if !c.isLeader(ctx, election, selfID) {
				continue
			}
			if err := c.ReapStaleExecutions(ctx); err != nil {
				logger.Error("reap stale executions failed", zap.Error(err))
			}
		}
	}
}

func (c *Core) isLeader(ctx context.Context, election coordination.Election, selfID string) bool {
	leader, err := election.Leader(ctx)
	if err != nil {
		logger.Error("failed to check leadership", zap.Error(err))
		metrics.LeaderElected.Set(0)
		return false
	}
	isLeader := leader == selfID
	if isLeader {
		metrics.LeaderElected.Set(1)
	} else {
		metrics.LeaderElected.Set(0)
	}
	return isLeader
}

// ReapStaleExecutions force-fails executions stuck in RUNNING past the
// stale-execution threshold -- a worker can die mid-run without ever
// reporting failure, and this is the only backstop that notices.
func (c *Core) ReapStaleExecutions(ctx context.Context) error {
	count, err := c.executions.ReapStaleRunning(ctx, c.staleExecutionThreshold)
	if err != nil {
		return fmt.Errorf("failed to reap stale executions: %w", err)
	}
	if count > 0 {
		logger.Warn("reaped stale running executions", zap.Int64("count", count))
		metrics.OrphansReaped.Add(float64(count))
	}
	return nil
}

// PollAndSchedule dispatches every due, unpaused job onto the queue and
// returns how many it processed.
func (c *Core) PollAndSchedule(ctx context.Context) (int, error) {
	due, err := c.jobs.ListDue(ctx, c.dispatchBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list due scheduler jobs: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	metrics.SchedulerPolls.Inc()

	sem := make(chan struct{}, c.dispatchConcurrency)
	for _, job := range due {
		sem <- struct{}{}
		go func(j models.SchedulerJob) {
			defer func() { <-sem }()
			c.dispatchOne(ctx, j)
		}(job)
	}
	for i := 0; i < c.dispatchConcurrency; i++ {
		sem <- struct{}{}
	}

	return len(due), nil
}

func (c *Core) dispatchOne(ctx context.Context, job models.SchedulerJob) {
	acquired, err := c.queue.AcquireDispatchLock(ctx, job.TaskID, c.dedupeWindow)
	if err != nil {
		logger.Error("failed to acquire dispatch lock", zap.String("task_id", job.TaskID.String()), zap.Error(err))
		return
	}
	if !acquired {
		logger.Info("skipping dispatch, lock already held", zap.String("task_id", job.TaskID.String()))
		return
	}

	active, err := c.executions.FindActiveForTask(ctx, job.TaskID, time.Now().Add(-c.dedupeWindow))
	if err != nil {
		logger.Error("failed to check for active execution", zap.String("task_id", job.TaskID.String()), zap.Error(err))
		return
	}
	if active != nil {
		return
	}

	execID := job.ExecutionID
	if execID == nil {
		exec := models.NewPendingExecution(job.TaskID)
		exec.RetryCount = job.RetryCount
		if err := c.executions.CreateExecution(ctx, exec); err != nil {
			logger.Error("failed to create execution", zap.String("task_id", job.TaskID.String()), zap.Error(err))
			c.queue.ReleaseDispatchLock(ctx, job.TaskID)
			return
		}
		execID = &exec.ID
	}

	if err := c.queue.Push(ctx, job.TaskID, *execID); err != nil {
		logger.Error("failed to push dispatch message", zap.String("task_id", job.TaskID.String()), zap.Error(err))
		c.queue.ReleaseDispatchLock(ctx, job.TaskID)
		return
	}

	metrics.RecordDispatch(time.Since(job.RunDate).Seconds())

	task, err := c.tasks.GetTask(ctx, job.TaskID)
	if err != nil {
		logger.Warn("dispatched job for task that no longer exists", zap.String("task_id", job.TaskID.String()))
		return
	}
	c.advanceJob(ctx, job, *task)
}

// advanceJob moves a just-dispatched job's run_date to its next cron fire.
// Retry jobs (ExecutionID set) are left for the Execution Engine's failure
// path to reschedule or remove instead.
func (c *Core) advanceJob(ctx context.Context, job models.SchedulerJob, task models.Task) {
	if job.ExecutionID != nil {
		return
	}

	sched, err := c.parser.Parse(task.Schedule)
	if err != nil {
		logger.Error("invalid cron schedule, removing job",
			zap.String("task_id", task.ID.String()), zap.String("schedule", task.Schedule), zap.Error(err))
		if rmErr := c.jobs.Remove(ctx, task.ID); rmErr != nil {
			logger.Error("failed to remove job with invalid schedule", zap.Error(rmErr))
		}
		return
	}

	next := sched.Next(time.Now().UTC())
	job.RunDate = next
	job.RetryCount = 0
	job.ExecutionID = nil
	if err := c.jobs.AddOrResume(ctx, &job); err != nil {
		logger.Error("failed to advance scheduler job", zap.String("task_id", task.ID.String()), zap.Error(err))
	}
}
