// Package executor runs one monitoring invocation end to end: dedupe,
// prompt assembly, the agent call, result persistence, notification
// dispatch, and the next-run decision.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prassanna-ravishankar/torale-sub001/pkg/agent"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/classifier"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/logger"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/metrics"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/models"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/notify"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/prompt"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/statemachine"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/storage"
)

// Archive is the optional audit-trail sink for the full pre-truncation
// agent response. A nil Archive (unconfigured bucket) disables it.
type Archive interface {
	Put(ctx context.Context, executionID uuid.UUID, at time.Time, rawResponse []byte) (string, error)
}

// Engine orchestrates a single run of the execution pipeline described in
// the component design's step list: dedupe guard, execution row, prompt +
// agent call, atomic result persistence, notification dispatch, and the
// next-run decision.
type Engine struct {
	tasks       storage.TaskStore
	executions  storage.ExecutionStore
	users       storage.UserStore
	jobs        storage.SchedulerJobStore
	sm          *statemachine.StateMachine
	agentClient *agent.Client
	dispatcher  *notify.Dispatcher
	archive     Archive

	historyWindow int
}

type Config struct {
	Tasks         storage.TaskStore
	Executions    storage.ExecutionStore
	Users         storage.UserStore
	Jobs          storage.SchedulerJobStore
	StateMachine  *statemachine.StateMachine
	Agent         *agent.Client
	Dispatcher    *notify.Dispatcher
	Archive       Archive
	HistoryWindow int
}

func NewEngine(cfg Config) *Engine {
	historyWindow := cfg.HistoryWindow
	if historyWindow == 0 {
		historyWindow = 5
	}

	return &Engine{
		tasks:         cfg.Tasks,
		executions:    cfg.Executions,
		users:         cfg.Users,
		jobs:          cfg.Jobs,
		sm:            cfg.StateMachine,
		agentClient:   cfg.Agent,
		dispatcher:    cfg.Dispatcher,
		archive:       cfg.Archive,
		historyWindow: historyWindow,
	}
}

// Outcome is the terminal disposition of one RunOnce call.
type Outcome struct {
	Status string
	Reason string
}

// RunOnce executes one already-created, already-dispatched execution row.
// The dedupe guard and row creation/reuse happen upstream in the Scheduler
// Core, which is the only component that decides a fire should happen at
// all; by the time a dispatch message reaches the worker, execID always
// names a row in PENDING or RETRYING state with its retry_count set.
func (e *Engine) RunOnce(ctx context.Context, execID uuid.UUID) (Outcome, error) {
	start := time.Now()

	prior, err := e.executions.GetExecution(ctx, execID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load execution: %w", err)
	}
	taskID := prior.TaskID
	retryCount := prior.RetryCount

	if err := e.executions.TransitionToRunning(ctx, execID, time.Now().UTC()); err != nil {
		return Outcome{}, fmt.Errorf("failed to transition execution to running: %w", err)
	}
	if err := e.tasks.SetLastExecution(ctx, taskID, execID); err != nil {
		logger.Warn("failed to set task.last_execution_id", zap.Error(err))
	}

	metrics.WorkerExecutionsRunning.Inc()
	defer metrics.WorkerExecutionsRunning.Dec()

	// 3. Load task.
	task, err := e.tasks.GetTask(ctx, taskID)
	if err != nil {
		if err == storage.ErrNotFound {
			logger.Info("task deleted mid-flight, skipping", zap.String("task_id", taskID.String()))
			return Outcome{Status: "skipped", Reason: "task_deleted"}, nil
		}
		return Outcome{}, fmt.Errorf("failed to load task: %w", err)
	}

	owner, err := e.users.GetUser(ctx, task.UserID)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to load task owner: %w", err)
	}

	// 4. Assemble prompt & call agent.
	resp, callErr := e.invoke(ctx, *task)
	if callErr != nil {
		return e.handleFailure(ctx, *task, execID, retryCount, callErr), nil
	}

	// 5. Persist results atomically.
	if err := e.persistSuccess(ctx, *task, execID, resp); err != nil {
		return Outcome{}, fmt.Errorf("failed to persist execution result: %w", err)
	}

	notificationSent := resp.Notification != nil && *resp.Notification != ""

	// 6. Notification dispatch.
	if notificationSent {
		exec := models.TaskExecution{ID: execID}
		e.dispatcher.Dispatch(ctx, *task, *owner, exec, *resp.Notification, resp.Evidence, resp.Sources)
	}

	// 7. Next-run decision.
	if err := e.decideNextRun(ctx, *task, notificationSent, resp); err != nil {
		logger.Error("failed to apply next-run decision", zap.String("task_id", taskID.String()), zap.Error(err))
	}

	metrics.RecordExecution(string(models.ExecutionSuccess), "", time.Since(start).Seconds())

	return Outcome{Status: "success"}, nil
}

func (e *Engine) invoke(ctx context.Context, task models.Task) (*agent.MonitoringResponse, error) {
	records, err := e.executions.ListRecentForTask(ctx, task.ID, e.historyWindow)
	if err != nil {
		return nil, fmt.Errorf("failed to load execution history: %w", err)
	}

	history := make([]prompt.Record, 0, len(records))
	for _, r := range records {
		history = append(history, prompt.RecordFromExecution(r))
	}

	userContext := ""
	if evidence, ok := task.LastKnownState["evidence"].(string); ok {
		userContext = evidence
	}

	assembled := prompt.Assemble(task, history, userContext)

	agentStart := time.Now()
	resp, err := e.agentClient.Invoke(ctx, assembled)
	metrics.RecordAgentCall("free", time.Since(agentStart).Seconds())
	return resp, err
}

func (e *Engine) persistSuccess(ctx context.Context, task models.Task, execID uuid.UUID, resp *agent.MonitoringResponse) error {
	result := models.ExecutionResult{Evidence: resp.Evidence, Confidence: resp.Confidence}
	if resp.NextRun != nil {
		result.NextRun = *resp.NextRun
	}

	sources := make(models.GroundingSourceList, 0, len(resp.Sources))
	for _, u := range resp.Sources {
		sources = append(sources, models.GroundingSource{URL: u})
	}

	var auditURI *string
	if e.archive != nil {
		if raw, err := rawResponseJSON(resp); err == nil {
			if uri, err := e.archive.Put(ctx, execID, time.Now().UTC(), raw); err != nil {
				logger.Warn("failed to archive execution response", zap.Error(err))
			} else {
				auditURI = &uri
			}
		}
	}

	lastKnownState := models.LastKnownState{"evidence": resp.Evidence}
	var renameTo *string
	if resp.Topic != nil && *resp.Topic != "" && task.Name == models.DefaultTaskName {
		renameTo = resp.Topic
	}

	// Both writes happen in one transaction: a crash between marking the
	// execution successful and advancing the task's last_known_state would
	// otherwise leave the two out of sync.
	if err := e.executions.MarkSuccessAndApplyRunResult(ctx, execID, task.ID, result, sources, resp.Notification, auditURI, lastKnownState, renameTo); err != nil {
		return fmt.Errorf("failed to persist execution result: %w", err)
	}

	return nil
}

func (e *Engine) decideNextRun(ctx context.Context, task models.Task, notificationSent bool, resp *agent.MonitoringResponse) error {
	if task.NotifyBehavior == models.NotifyBehaviorOnce && notificationSent {
		return e.sm.Complete(ctx, task.ID, models.TaskStateActive)
	}
	if resp.NextRun == nil {
		return e.sm.Complete(ctx, task.ID, models.TaskStateActive)
	}

	nextRun, err := time.Parse(time.RFC3339, *resp.NextRun)
	if err != nil {
		logger.Warn("agent returned unparseable next_run, defaulting to now+60s",
			zap.String("task_id", task.ID.String()), zap.String("next_run", *resp.NextRun))
		nextRun = time.Now().Add(60 * time.Second)
	}
	if nextRun.Before(time.Now()) {
		nextRun = time.Now().Add(60 * time.Second)
	}

	job := &models.SchedulerJob{
		ID:         models.SchedulerJobID(task.ID),
		TaskID:     task.ID,
		UserID:     task.UserID,
		Name:       task.Name,
		RunDate:    nextRun,
		RetryCount: 0,
	}
	if err := e.jobs.AddOrResume(ctx, job); err != nil {
		return fmt.Errorf("failed to install next scheduler job: %w", err)
	}
	return e.tasks.UpdateNextRun(ctx, task.ID, &nextRun)
}

// handleFailure classifies callErr and either schedules a same-row retry
// or leaves the execution terminally failed.
func (e *Engine) handleFailure(ctx context.Context, task models.Task, execID uuid.UUID, retryCount int, callErr error) Outcome {
	category := classifier.Classify(classifier.FailureInput{ErrType: fmt.Sprintf("%T", callErr), Message: callErr.Error()})
	userMessage := classifier.UserFriendlyMessage(callErr.Error(), category)

	status := models.ExecutionFailed
	nextRetryCount := retryCount
	if classifier.ShouldRetry(category, retryCount) {
		status = models.ExecutionRetrying
		nextRetryCount = retryCount + 1
	}

	if err := e.executions.MarkFailedOrRetrying(ctx, execID, status, nextRetryCount, category, callErr.Error(), userMessage); err != nil {
		logger.Error("failed to record execution failure", zap.Error(err))
	}

	metrics.RecordExecution(string(status), string(category), 0)

	if status == models.ExecutionRetrying {
		metrics.RetriesTotal.WithLabelValues(string(category)).Inc()
		delay := time.Duration(classifier.RetryDelaySeconds(category, retryCount)) * time.Second
		runAt := time.Now().Add(delay)
		job := &models.SchedulerJob{
			ID:          models.SchedulerJobID(task.ID),
			TaskID:      task.ID,
			UserID:      task.UserID,
			Name:        task.Name,
			RunDate:     runAt,
			RetryCount:  nextRetryCount,
			ExecutionID: &execID,
		}
		if err := e.jobs.AddOrResume(ctx, job); err != nil {
			logger.Error("failed to schedule retry job", zap.Error(err))
		}
		return Outcome{Status: "retrying", Reason: string(category)}
	}

	return Outcome{Status: "failed", Reason: string(category)}
}

func rawResponseJSON(resp *agent.MonitoringResponse) ([]byte, error) {
	return json.Marshal(resp)
}
