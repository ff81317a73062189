package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prassanna-ravishankar/torale-sub001/pkg/models"
)

type fakeJobStore struct {
	jobs map[string]*models.SchedulerJob
}

func newFakeJobStore() *fakeJobStore { return &fakeJobStore{jobs: map[string]*models.SchedulerJob{}} }

func (s *fakeJobStore) AddOrResume(ctx context.Context, job *models.SchedulerJob) error {
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}
func (s *fakeJobStore) Pause(ctx context.Context, taskID uuid.UUID) error {
	if j, ok := s.jobs[models.SchedulerJobID(taskID)]; ok {
		j.Paused = true
	}
	return nil
}
func (s *fakeJobStore) Resume(ctx context.Context, taskID uuid.UUID) error {
	if j, ok := s.jobs[models.SchedulerJobID(taskID)]; ok {
		j.Paused = false
	}
	return nil
}
func (s *fakeJobStore) Remove(ctx context.Context, taskID uuid.UUID) error {
	delete(s.jobs, models.SchedulerJobID(taskID))
	return nil
}
func (s *fakeJobStore) Get(ctx context.Context, taskID uuid.UUID) (*models.SchedulerJob, error) {
	return s.jobs[models.SchedulerJobID(taskID)], nil
}
func (s *fakeJobStore) ListDue(ctx context.Context, limit int) ([]models.SchedulerJob, error) {
	var due []models.SchedulerJob
	now := time.Now().UTC()
	for _, j := range s.jobs {
		if !j.Paused && !j.RunDate.After(now) {
			due = append(due, *j)
		}
		if len(due) >= limit {
			break
		}
	}
	return due, nil
}
func (s *fakeJobStore) ListAll(ctx context.Context) ([]models.SchedulerJob, error) {
	var all []models.SchedulerJob
	for _, j := range s.jobs {
		all = append(all, *j)
	}
	return all, nil
}

type fakeQueue struct {
	locks      map[uuid.UUID]bool
	pushed     []uuid.UUID
	acquireErr error
}

func newFakeQueue() *fakeQueue { return &fakeQueue{locks: map[uuid.UUID]bool{}} }

func (q *fakeQueue) AcquireDispatchLock(ctx context.Context, taskID uuid.UUID, window time.Duration) (bool, error) {
	if q.acquireErr != nil {
		return false, q.acquireErr
	}
	if q.locks[taskID] {
		return false, nil
	}
	q.locks[taskID] = true
	return true, nil
}
func (q *fakeQueue) ReleaseDispatchLock(ctx context.Context, taskID uuid.UUID) error {
	delete(q.locks, taskID)
	return nil
}
func (q *fakeQueue) Push(ctx context.Context, taskID, executionID uuid.UUID) error {
	q.pushed = append(q.pushed, taskID)
	return nil
}

type fakeTaskStore struct {
	tasks map[uuid.UUID]*models.Task
}

func (s *fakeTaskStore) CreateTask(ctx context.Context, task *models.Task) error { return nil }
func (s *fakeTaskStore) GetTask(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	t, ok := s.tasks[id]
	if !ok {
		return nil, assert.AnError
	}
	return t, nil
}
func (s *fakeTaskStore) UpdateTaskState(ctx context.Context, id uuid.UUID, from, to models.TaskState) (bool, error) {
	return true, nil
}
func (s *fakeTaskStore) UpdateNextRun(ctx context.Context, id uuid.UUID, nextRun *time.Time) error {
	return nil
}
func (s *fakeTaskStore) SetLastExecution(ctx context.Context, id uuid.UUID, executionID uuid.UUID) error {
	return nil
}
func (s *fakeTaskStore) ListByState(ctx context.Context, states []models.TaskState) ([]models.Task, error) {
	var out []models.Task
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	return out, nil
}

type fakeExecutionStore struct {
	created []uuid.UUID
	active  map[uuid.UUID]*models.TaskExecution
}

func newFakeExecutionStore() *fakeExecutionStore {
	return &fakeExecutionStore{active: map[uuid.UUID]*models.TaskExecution{}}
}
func (s *fakeExecutionStore) CreateExecution(ctx context.Context, exec *models.TaskExecution) error {
	s.created = append(s.created, exec.ID)
	return nil
}
func (s *fakeExecutionStore) GetExecution(ctx context.Context, id uuid.UUID) (*models.TaskExecution, error) {
	return nil, nil
}
func (s *fakeExecutionStore) TransitionToRunning(ctx context.Context, id uuid.UUID, startedAt time.Time) error {
	return nil
}
func (s *fakeExecutionStore) MarkFailedOrRetrying(ctx context.Context, id uuid.UUID, status models.ExecutionStatus, retryCount int, category models.ErrorCategory, internalErr, userMessage string) error {
	return nil
}
func (s *fakeExecutionStore) MarkSuccessAndApplyRunResult(ctx context.Context, execID, taskID uuid.UUID, result models.ExecutionResult, sources models.GroundingSourceList, notification *string, auditURI *string, lastKnownState models.LastKnownState, renameTo *string) error {
	return nil
}
func (s *fakeExecutionStore) FindActiveForTask(ctx context.Context, taskID uuid.UUID, since time.Time) (*models.TaskExecution, error) {
	return s.active[taskID], nil
}
func (s *fakeExecutionStore) ListRecentForTask(ctx context.Context, taskID uuid.UUID, limit int) ([]models.TaskExecution, error) {
	return nil, nil
}
func (s *fakeExecutionStore) ReapStaleRunning(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func newTestCore() (*Core, *fakeJobStore, *fakeTaskStore, *fakeExecutionStore, *fakeQueue) {
	jobs := newFakeJobStore()
	tasks := &fakeTaskStore{tasks: map[uuid.UUID]*models.Task{}}
	execs := newFakeExecutionStore()
	queue := newFakeQueue()
	core := NewCore(Config{Jobs: jobs, Tasks: tasks, Executions: execs, Queue: queue})
	return core, jobs, tasks, execs, queue
}

func TestAddOrResumeComputesNextFireFromSchedule(t *testing.T) {
	core, jobs, _, _, _ := newTestCore()
	taskID, userID := uuid.New(), uuid.New()

	err := core.AddOrResume(context.Background(), taskID, userID, "my task", "*/5 * * * *")
	require.NoError(t, err)

	job, ok := jobs.jobs[models.SchedulerJobID(taskID)]
	require.True(t, ok)
	assert.Equal(t, taskID, job.TaskID)
	assert.False(t, job.Paused)
	assert.True(t, job.RunDate.After(time.Now()))
}

func TestAddOrResumeRejectsInvalidSchedule(t *testing.T) {
	core, _, _, _, _ := newTestCore()
	err := core.AddOrResume(context.Background(), uuid.New(), uuid.New(), "bad", "not a cron expression")
	assert.Error(t, err)
}

func TestPollAndScheduleDispatchesDueJobAndAdvancesRunDate(t *testing.T) {
	core, jobs, tasks, execs, queue := newTestCore()
	taskID, userID := uuid.New(), uuid.New()

	tasks.tasks[taskID] = &models.Task{ID: taskID, UserID: userID, Name: "watch", Schedule: "*/5 * * * *", State: models.TaskStateActive}
	jobs.jobs[models.SchedulerJobID(taskID)] = &models.SchedulerJob{
		ID: models.SchedulerJobID(taskID), TaskID: taskID, UserID: userID, Name: "watch",
		RunDate: time.Now().Add(-time.Minute),
	}

	count, err := core.PollAndSchedule(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.Len(t, execs.created, 1)
	require.Len(t, queue.pushed, 1)
	assert.Equal(t, taskID, queue.pushed[0])

	job := jobs.jobs[models.SchedulerJobID(taskID)]
	assert.True(t, job.RunDate.After(time.Now()), "run_date should advance past now")
}

func TestPollAndScheduleSkipsJobWithActiveExecution(t *testing.T) {
	core, jobs, tasks, execs, queue := newTestCore()
	taskID, userID := uuid.New(), uuid.New()

	tasks.tasks[taskID] = &models.Task{ID: taskID, UserID: userID, Name: "watch", Schedule: "*/5 * * * *", State: models.TaskStateActive}
	jobs.jobs[models.SchedulerJobID(taskID)] = &models.SchedulerJob{
		ID: models.SchedulerJobID(taskID), TaskID: taskID, UserID: userID, Name: "watch",
		RunDate: time.Now().Add(-time.Minute),
	}
	execs.active[taskID] = &models.TaskExecution{ID: uuid.New(), TaskID: taskID, Status: models.ExecutionRunning}

	count, err := core.PollAndSchedule(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count, "ListDue still reports the job as processed")
	assert.Empty(t, execs.created, "no new execution should be created while one is active")
	assert.Empty(t, queue.pushed, "dispatch should be skipped")
}

func TestPollAndScheduleLeavesRetryJobRunDateAlone(t *testing.T) {
	core, jobs, tasks, _, queue := newTestCore()
	taskID, userID := uuid.New(), uuid.New()
	execID := uuid.New()

	tasks.tasks[taskID] = &models.Task{ID: taskID, UserID: userID, Name: "watch", Schedule: "*/5 * * * *", State: models.TaskStateActive}
	jobs.jobs[models.SchedulerJobID(taskID)] = &models.SchedulerJob{
		ID: models.SchedulerJobID(taskID), TaskID: taskID, UserID: userID, Name: "watch",
		RunDate: time.Now().Add(-time.Minute), RetryCount: 1, ExecutionID: &execID,
	}

	count, err := core.PollAndSchedule(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	require.Len(t, queue.pushed, 1)

	job := jobs.jobs[models.SchedulerJobID(taskID)]
	assert.NotNil(t, job.ExecutionID, "retry job's execution id must survive dispatch for the worker to reuse")
}

func TestReconcileOnStartupRestoresMissingJobs(t *testing.T) {
	core, jobs, tasks, _, _ := newTestCore()
	taskID, userID := uuid.New(), uuid.New()
	tasks.tasks[taskID] = &models.Task{ID: taskID, UserID: userID, Name: "watch", Schedule: "0 * * * *", State: models.TaskStateActive}

	err := core.ReconcileOnStartup(context.Background())
	require.NoError(t, err)

	_, ok := jobs.jobs[models.SchedulerJobID(taskID)]
	assert.True(t, ok, "active task without a job should get one installed")
}
