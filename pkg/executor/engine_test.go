package executor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/prassanna-ravishankar/torale-sub001/pkg/agent"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/models"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/notify"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/statemachine"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/storage"
)

type fakeTaskStore struct {
	tasks      map[uuid.UUID]*models.Task
	nextRuns   map[uuid.UUID]*time.Time
	lastExecID map[uuid.UUID]uuid.UUID
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{
		tasks:      map[uuid.UUID]*models.Task{},
		nextRuns:   map[uuid.UUID]*time.Time{},
		lastExecID: map[uuid.UUID]uuid.UUID{},
	}
}

func (s *fakeTaskStore) CreateTask(ctx context.Context, task *models.Task) error { return nil }

func (s *fakeTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *fakeTaskStore) UpdateTaskState(ctx context.Context, id uuid.UUID, from, to models.TaskState) (bool, error) {
	t := s.tasks[id]
	if t.State != from {
		return false, nil
	}
	t.State = to
	return true, nil
}

func (s *fakeTaskStore) UpdateNextRun(ctx context.Context, id uuid.UUID, nextRun *time.Time) error {
	s.nextRuns[id] = nextRun
	return nil
}

func (s *fakeTaskStore) SetLastExecution(ctx context.Context, id uuid.UUID, executionID uuid.UUID) error {
	s.lastExecID[id] = executionID
	return nil
}

func (s *fakeTaskStore) ListByState(ctx context.Context, states []models.TaskState) ([]models.Task, error) {
	return nil, nil
}

type fakeUserStore struct {
	users map[uuid.UUID]*models.User
}

func (s *fakeUserStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	u, ok := s.users[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return u, nil
}

type fakeExecutionStore struct {
	execs map[uuid.UUID]*models.TaskExecution
	tasks *fakeTaskStore
}

func newFakeExecutionStore() *fakeExecutionStore {
	return &fakeExecutionStore{execs: map[uuid.UUID]*models.TaskExecution{}}
}

func (s *fakeExecutionStore) CreateExecution(ctx context.Context, exec *models.TaskExecution) error {
	s.execs[exec.ID] = exec
	return nil
}

func (s *fakeExecutionStore) GetExecution(ctx context.Context, id uuid.UUID) (*models.TaskExecution, error) {
	e, ok := s.execs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *e
	return &cp, nil
}

func (s *fakeExecutionStore) TransitionToRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	s.execs[id].Status = models.ExecutionRunning
	s.execs[id].StartedAt = &startedAt
	return nil
}

func (s *fakeExecutionStore) MarkSuccessAndApplyRunResult(ctx context.Context, execID, taskID uuid.UUID, result models.ExecutionResult, sources models.GroundingSourceList, notification *string, auditURI *string, lastKnownState models.LastKnownState, renameTo *string) error {
	e := s.execs[execID]
	e.Status = models.ExecutionSuccess
	e.Result = result
	e.GroundingSources = sources
	e.Notification = notification
	e.AuditURI = auditURI
	if s.tasks != nil {
		if t, ok := s.tasks.tasks[taskID]; ok {
			t.LastKnownState = lastKnownState
			if renameTo != nil {
				t.Name = *renameTo
			}
		}
	}
	return nil
}

func (s *fakeExecutionStore) MarkFailedOrRetrying(ctx context.Context, id uuid.UUID, status models.ExecutionStatus, retryCount int, category models.ErrorCategory, internalErr, userMessage string) error {
	e := s.execs[id]
	e.Status = status
	e.RetryCount = retryCount
	e.ErrorCategory = &category
	e.InternalError = &internalErr
	e.Notification = &userMessage
	return nil
}

func (s *fakeExecutionStore) FindActiveForTask(ctx context.Context, taskID uuid.UUID, since time.Time) (*models.TaskExecution, error) {
	return nil, nil
}

func (s *fakeExecutionStore) ListRecentForTask(ctx context.Context, taskID uuid.UUID, limit int) ([]models.TaskExecution, error) {
	return nil, nil
}

func (s *fakeExecutionStore) ReapStaleRunning(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

type fakeJobStore struct {
	jobs map[string]*models.SchedulerJob
}

func newFakeJobStore() *fakeJobStore { return &fakeJobStore{jobs: map[string]*models.SchedulerJob{}} }

func (s *fakeJobStore) AddOrResume(ctx context.Context, job *models.SchedulerJob) error {
	s.jobs[job.ID] = job
	return nil
}
func (s *fakeJobStore) Pause(ctx context.Context, taskID uuid.UUID) error  { return nil }
func (s *fakeJobStore) Resume(ctx context.Context, taskID uuid.UUID) error { return nil }
func (s *fakeJobStore) Remove(ctx context.Context, taskID uuid.UUID) error { return nil }
func (s *fakeJobStore) Get(ctx context.Context, taskID uuid.UUID) (*models.SchedulerJob, error) {
	return nil, nil
}
func (s *fakeJobStore) ListDue(ctx context.Context, limit int) ([]models.SchedulerJob, error) {
	return nil, nil
}
func (s *fakeJobStore) ListAll(ctx context.Context) ([]models.SchedulerJob, error) { return nil, nil }

type fakeSchedulerEffects struct{}

func (fakeSchedulerEffects) AddOrResume(ctx context.Context, taskID, userID uuid.UUID, name, schedule string) error {
	return nil
}
func (fakeSchedulerEffects) Pause(ctx context.Context, taskID uuid.UUID) error  { return nil }
func (fakeSchedulerEffects) Remove(ctx context.Context, taskID uuid.UUID) error { return nil }

func newTestEngine(t *testing.T, agentServer *httptest.Server, task *models.Task, owner *models.User) (*Engine, *fakeExecutionStore, *fakeTaskStore) {
	t.Helper()

	tasks := newFakeTaskStore()
	tasks.tasks[task.ID] = task

	users := &fakeUserStore{users: map[uuid.UUID]*models.User{owner.ID: owner}}
	executions := newFakeExecutionStore()
	executions.tasks = tasks
	jobs := newFakeJobStore()

	sm := statemachine.New(tasks, fakeSchedulerEffects{})
	agentClient := agent.NewClient(agentServer.URL, "")
	dispatcher := notify.NewDispatcher(nil, noopSendStore{}, nil, nil, notify.NewLoggingEmailSender())

	engine := NewEngine(Config{
		Tasks:      tasks,
		Executions: executions,
		Users:      users,
		Jobs:       jobs,
		StateMachine: sm,
		Agent:        agentClient,
		Dispatcher:   dispatcher,
	})

	return engine, executions, tasks
}

type noopSendStore struct{}

func (noopSendStore) RecordSend(ctx context.Context, send *models.NotificationSend) error { return nil }

// agentCompletedServer returns an httptest server that answers send_message
// then immediately reports the task as completed with resp as its DataPart.
func agentCompletedServer(t *testing.T, resp agent.MonitoringResponse) *httptest.Server {
	t.Helper()
	respData, err := toDataMap(resp)
	if err != nil {
		t.Fatalf("failed to build agent response: %v", err)
	}

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&req)

		switch req["method"] {
		case "send_message":
			writeJSON(w, map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      req["id"],
				"result": map[string]interface{}{
					"id":     "task-1",
					"status": map[string]interface{}{"state": "submitted"},
				},
			})
		case "get_task":
			writeJSON(w, map[string]interface{}{
				"jsonrpc": "2.0",
				"id":      req["id"],
				"result": map[string]interface{}{
					"id":     "task-1",
					"status": map[string]interface{}{"state": "completed"},
					"artifacts": []map[string]interface{}{
						{"parts": []map[string]interface{}{{"kind": "data", "data": respData}}},
					},
				},
			})
		}
	}))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func toDataMap(resp agent.MonitoringResponse) (map[string]interface{}, error) {
	raw, err := json.Marshal(resp)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func TestRunOnceSuccessWithoutNextRunCompletesTask(t *testing.T) {
	taskID := uuid.New()
	userID := uuid.New()
	task := &models.Task{ID: taskID, UserID: userID, Name: models.DefaultTaskName, State: models.TaskStateActive, NotifyBehavior: models.NotifyBehaviorAlways}
	owner := &models.User{ID: userID, Email: "owner@example.com"}

	server := agentCompletedServer(t, agent.MonitoringResponse{Evidence: "no change", Confidence: 90})
	defer server.Close()

	engine, executions, tasks := newTestEngine(t, server, task, owner)

	exec := models.NewPendingExecution(taskID)
	executions.execs[exec.ID] = exec

	outcome, err := engine.RunOnce(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != "success" {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if executions.execs[exec.ID].Status != models.ExecutionSuccess {
		t.Fatalf("expected execution marked success, got %s", executions.execs[exec.ID].Status)
	}
	if tasks.tasks[taskID].State != models.TaskStateCompleted {
		t.Fatalf("expected task completed when agent gives no next_run, got %s", tasks.tasks[taskID].State)
	}
}

func TestRunOnceSkipsDeletedTask(t *testing.T) {
	taskID := uuid.New()
	userID := uuid.New()
	owner := &models.User{ID: userID}

	server := agentCompletedServer(t, agent.MonitoringResponse{Evidence: "x"})
	defer server.Close()

	tasks := newFakeTaskStore() // task intentionally absent
	users := &fakeUserStore{users: map[uuid.UUID]*models.User{owner.ID: owner}}
	executions := newFakeExecutionStore()
	executions.tasks = tasks
	jobs := newFakeJobStore()
	sm := statemachine.New(tasks, fakeSchedulerEffects{})
	agentClient := agent.NewClient(server.URL, "")
	dispatcher := notify.NewDispatcher(nil, noopSendStore{}, nil, nil, notify.NewLoggingEmailSender())

	engine := NewEngine(Config{
		Tasks: tasks, Executions: executions, Users: users, Jobs: jobs,
		StateMachine: sm, Agent: agentClient, Dispatcher: dispatcher,
	})

	exec := models.NewPendingExecution(taskID)
	executions.execs[exec.ID] = exec

	outcome, err := engine.RunOnce(context.Background(), exec.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if outcome.Status != "skipped" || outcome.Reason != "task_deleted" {
		t.Fatalf("expected skipped/task_deleted, got %+v", outcome)
	}
}
