// Package statemachine is the single authority for task-state transitions,
// binding each transition to its corresponding scheduler side effect.
package statemachine

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prassanna-ravishankar/torale-sub001/pkg/logger"
	"github.com/prassanna-ravishankar/torale-sub001/pkg/models"
)

// InvalidTransitionError is raised for disallowed transitions and for a
// state changed out from under a caller between validation and commit.
type InvalidTransitionError struct {
	From, To models.TaskState
	Reason   string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("cannot transition from %s to %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("cannot transition from %s to %s", e.From, e.To)
}

var validTransitions = map[[2]models.TaskState]bool{
	{models.TaskStatePaused, models.TaskStateActive}:    true,
	{models.TaskStateActive, models.TaskStatePaused}:    true,
	{models.TaskStateActive, models.TaskStateCompleted}: true,
	{models.TaskStateCompleted, models.TaskStateActive}: true,
}

func isValidTransition(from, to models.TaskState) bool {
	if from == to {
		return true
	}
	return validTransitions[[2]models.TaskState{from, to}]
}

// TaskStateStore is the storage dependency: a conditional UPDATE that
// reports whether the row actually moved.
type TaskStateStore interface {
	UpdateTaskState(ctx context.Context, id uuid.UUID, from, to models.TaskState) (bool, error)
}

// SchedulerEffects is the scheduler-side dependency invoked after the DB
// state commits.
type SchedulerEffects interface {
	AddOrResume(ctx context.Context, taskID, userID uuid.UUID, name, schedule string) error
	Pause(ctx context.Context, taskID uuid.UUID) error
	Remove(ctx context.Context, taskID uuid.UUID) error
}

type StateMachine struct {
	store     TaskStateStore
	scheduler SchedulerEffects
}

func New(store TaskStateStore, scheduler SchedulerEffects) *StateMachine {
	return &StateMachine{store: store, scheduler: scheduler}
}

// TransitionParams carries the fields only needed when the target state
// requires installing a scheduler job (PAUSED/COMPLETED → ACTIVE).
type TransitionParams struct {
	UserID   uuid.UUID
	Name     string
	Schedule string
}

// Transition validates, commits the DB state, then applies the matching
// scheduler side effect. If the side effect fails, the DB state is rolled
// back to `from` and the error is returned: a task is never left marked
// ACTIVE without an attempt to install its scheduler job.
func (sm *StateMachine) Transition(ctx context.Context, taskID uuid.UUID, from, to models.TaskState, params TransitionParams) error {
	if !isValidTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}

	if from == to {
		return nil
	}

	moved, err := sm.store.UpdateTaskState(ctx, taskID, from, to)
	if err != nil {
		return fmt.Errorf("failed to update task state: %w", err)
	}
	if !moved {
		return &InvalidTransitionError{From: from, To: to, Reason: "state changed concurrently"}
	}

	if err := sm.applySchedulerEffect(ctx, taskID, to, params); err != nil {
		if rbErr := sm.rollback(ctx, taskID, to, from); rbErr != nil {
			logger.Error("state machine rollback failed",
				zap.String("task_id", taskID.String()), zap.Error(rbErr))
		}
		logger.Error("state transition side effect failed, rolled back",
			zap.String("task_id", taskID.String()),
			zap.String("from", string(from)), zap.String("to", string(to)), zap.Error(err))
		return err
	}

	logger.Info("task transitioned",
		zap.String("task_id", taskID.String()), zap.String("from", string(from)), zap.String("to", string(to)))
	return nil
}

func (sm *StateMachine) applySchedulerEffect(ctx context.Context, taskID uuid.UUID, to models.TaskState, params TransitionParams) error {
	switch to {
	case models.TaskStateActive:
		return sm.scheduler.AddOrResume(ctx, taskID, params.UserID, params.Name, params.Schedule)
	case models.TaskStatePaused:
		return sm.scheduler.Pause(ctx, taskID)
	case models.TaskStateCompleted:
		return sm.scheduler.Remove(ctx, taskID)
	default:
		return fmt.Errorf("unhandled target state %s", to)
	}
}

func (sm *StateMachine) rollback(ctx context.Context, taskID uuid.UUID, from, to models.TaskState) error {
	_, err := sm.store.UpdateTaskState(ctx, taskID, from, to)
	return err
}

// Activate transitions a task into ACTIVE, installing or resuming its
// scheduler job.
func (sm *StateMachine) Activate(ctx context.Context, taskID uuid.UUID, current models.TaskState, userID uuid.UUID, name, schedule string) error {
	return sm.Transition(ctx, taskID, current, models.TaskStateActive, TransitionParams{UserID: userID, Name: name, Schedule: schedule})
}

// Pause transitions a task into PAUSED, pausing its scheduler job.
func (sm *StateMachine) Pause(ctx context.Context, taskID uuid.UUID, current models.TaskState) error {
	return sm.Transition(ctx, taskID, current, models.TaskStatePaused, TransitionParams{})
}

// Complete transitions a task into COMPLETED, removing its scheduler job.
// Called by the Execution Engine when notify_behavior=once fires.
func (sm *StateMachine) Complete(ctx context.Context, taskID uuid.UUID, current models.TaskState) error {
	return sm.Transition(ctx, taskID, current, models.TaskStateCompleted, TransitionParams{})
}
