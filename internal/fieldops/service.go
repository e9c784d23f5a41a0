// Package fieldops implements the worker-side actions. Each action updates
// the local snapshot first and then queues the mutation for the backend, so
// it behaves the same online and offline.
package fieldops

import (
	"context"
	"errors"
	"fmt"
	"time"

	"fieldsync/internal/queue"
	"fieldsync/internal/remote"

	"go.uber.org/zap"
)

// Snapshot keys
const (
	KeyWorker = "worker"
	KeyTasks  = "tasks"
)

var (
	ErrNotLoggedIn       = errors.New("no worker logged in")
	ErrTaskNotFound      = errors.New("task not found")
	ErrInvalidTransition = errors.New("invalid task status transition")
)

// TaskKey is the snapshot key of an in-flight task
func TaskKey(taskID string) string { return "task_" + taskID }

// CompletedTaskKey is the snapshot key of a completed task
func CompletedTaskKey(taskID string) string { return "completed_task_" + taskID }

// Syncer is the offline sync surface the actions are written against
type Syncer interface {
	Enqueue(ctx context.Context, action queue.Action, payload any, opts ...queue.Option) (queue.Record, error)
	StoreSnapshot(ctx context.Context, key string, data any) error
	FetchSnapshotInto(ctx context.Context, key string, v any) (bool, error)
	StorePendingPhoto(ctx context.Context, taskID, uri string) error
	ClearAll(ctx context.Context) error
}

// Service performs worker actions
type Service struct {
	sync   Syncer
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a service. now may be nil.
func NewService(s Syncer, logger *zap.Logger, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		sync:   s,
		logger: logger.With(zap.String("component", "fieldops")),
		now:    now,
	}
}

// Login stores the worker profile locally
func (s *Service) Login(ctx context.Context, w Worker) error {
	if w.ID == "" {
		return fmt.Errorf("worker id is required")
	}
	if err := s.sync.StoreSnapshot(ctx, KeyWorker, w); err != nil {
		return fmt.Errorf("failed to store worker: %w", err)
	}
	s.logger.Info("Worker logged in", zap.String("worker_id", w.ID))
	return nil
}

// Logout wipes all offline data
func (s *Service) Logout(ctx context.Context) error {
	if err := s.sync.ClearAll(ctx); err != nil {
		return fmt.Errorf("failed to clear offline data: %w", err)
	}
	s.logger.Info("Worker logged out")
	return nil
}

// CurrentWorker returns the stored worker or ErrNotLoggedIn
func (s *Service) CurrentWorker(ctx context.Context) (Worker, error) {
	var w Worker
	found, err := s.sync.FetchSnapshotInto(ctx, KeyWorker, &w)
	if err != nil {
		return Worker{}, fmt.Errorf("failed to read worker: %w", err)
	}
	if !found {
		return Worker{}, ErrNotLoggedIn
	}
	return w, nil
}

// SetDuty toggles the worker's on-duty flag
func (s *Service) SetDuty(ctx context.Context, onDuty bool) error {
	w, err := s.CurrentWorker(ctx)
	if err != nil {
		return err
	}
	w.IsOnDuty = onDuty
	if err := s.sync.StoreSnapshot(ctx, KeyWorker, w); err != nil {
		return fmt.Errorf("failed to store worker: %w", err)
	}

	_, err = s.sync.Enqueue(ctx, queue.ActionTaskUpdate, remote.TaskUpdate{
		WorkerID:  w.ID,
		IsOnDuty:  &onDuty,
		Timestamp: s.now().UnixMilli(),
	}, queue.WithCacheKey(KeyWorker))
	return err
}

// UpdateLocation records the worker's position and queues a location ping
func (s *Service) UpdateLocation(ctx context.Context, loc remote.Location) error {
	w, err := s.CurrentWorker(ctx)
	if err != nil {
		return err
	}
	w.CurrentLocation = &loc
	if err := s.sync.StoreSnapshot(ctx, KeyWorker, w); err != nil {
		return fmt.Errorf("failed to store worker: %w", err)
	}

	_, err = s.sync.Enqueue(ctx, queue.ActionLocationUpdate, remote.LocationUpdate{
		WorkerID:  w.ID,
		Location:  loc,
		Timestamp: s.now().UnixMilli(),
	}, queue.WithCacheKey(KeyWorker))
	return err
}

// StoreTasks replaces the locally cached assignment list
func (s *Service) StoreTasks(ctx context.Context, tasks []Task) error {
	if tasks == nil {
		tasks = []Task{}
	}
	if err := s.sync.StoreSnapshot(ctx, KeyTasks, tasks); err != nil {
		return fmt.Errorf("failed to store tasks: %w", err)
	}
	return nil
}

// AssignedTasks returns the locally cached assignment list
func (s *Service) AssignedTasks(ctx context.Context) ([]Task, error) {
	var tasks []Task
	if _, err := s.sync.FetchSnapshotInto(ctx, KeyTasks, &tasks); err != nil {
		return nil, fmt.Errorf("failed to read tasks: %w", err)
	}
	if tasks == nil {
		tasks = []Task{}
	}
	return tasks, nil
}

// AcceptTask moves an assigned task to accepted
func (s *Service) AcceptTask(ctx context.Context, taskID string) (Task, error) {
	return s.transition(ctx, taskID, TaskAccepted, func(t *Task, stamp string) remote.TaskUpdate {
		t.AcceptedAt = stamp
		return remote.TaskUpdate{AcceptedAt: stamp}
	}, TaskAssigned)
}

// StartTask moves a task to in_progress
func (s *Service) StartTask(ctx context.Context, taskID string) (Task, error) {
	return s.transition(ctx, taskID, TaskInProgress, func(t *Task, stamp string) remote.TaskUpdate {
		t.StartedAt = stamp
		return remote.TaskUpdate{StartedAt: stamp}
	}, TaskAssigned, TaskAccepted)
}

func (s *Service) transition(
	ctx context.Context,
	taskID string,
	to TaskStatus,
	apply func(t *Task, stamp string) remote.TaskUpdate,
	from ...TaskStatus,
) (Task, error) {
	w, err := s.CurrentWorker(ctx)
	if err != nil {
		return Task{}, err
	}
	tasks, err := s.AssignedTasks(ctx)
	if err != nil {
		return Task{}, err
	}
	idx := indexOf(tasks, taskID)
	if idx < 0 {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	task := tasks[idx]
	if !statusIn(task.Status, from) {
		return Task{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, task.Status, to)
	}

	stamp := s.now().UTC().Format(time.RFC3339)
	update := apply(&task, stamp)
	task.Status = to
	tasks[idx] = task

	if err := s.sync.StoreSnapshot(ctx, TaskKey(taskID), task); err != nil {
		return Task{}, fmt.Errorf("failed to store task: %w", err)
	}
	if err := s.StoreTasks(ctx, tasks); err != nil {
		return Task{}, err
	}

	update.TaskID = taskID
	update.WorkerID = w.ID
	update.Status = string(to)
	if _, err := s.sync.Enqueue(ctx, queue.ActionTaskUpdate, update, queue.WithCacheKey(TaskKey(taskID))); err != nil {
		return Task{}, err
	}

	s.logger.Info("Task status changed",
		zap.String("task_id", taskID),
		zap.String("status", string(to)))
	return task, nil
}

// CompleteTask closes a task, queues the completion and one upload per photo
func (s *Service) CompleteTask(ctx context.Context, taskID string, c Completion) (Task, error) {
	w, err := s.CurrentWorker(ctx)
	if err != nil {
		return Task{}, err
	}
	tasks, err := s.AssignedTasks(ctx)
	if err != nil {
		return Task{}, err
	}
	idx := indexOf(tasks, taskID)
	if idx < 0 {
		return Task{}, fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
	}

	now := s.now()
	task := tasks[idx]
	task.Status = TaskCompleted
	task.CompletedAt = now.UTC().Format(time.RFC3339)
	task.CompletionNotes = c.Notes
	task.CompletionPhotos = append([]string{}, c.Photos...)

	if err := s.sync.StoreSnapshot(ctx, CompletedTaskKey(taskID), task); err != nil {
		return Task{}, fmt.Errorf("failed to store completed task: %w", err)
	}
	if err := s.StoreTasks(ctx, append(tasks[:idx:idx], tasks[idx+1:]...)); err != nil {
		return Task{}, err
	}

	_, err = s.sync.Enqueue(ctx, queue.ActionTaskCompletion, remote.TaskCompletion{
		TaskID:   taskID,
		WorkerID: w.ID,
		CompletionData: remote.CompletionData{
			Notes:       c.Notes,
			Photos:      c.Photos,
			CompletedAt: task.CompletedAt,
		},
	}, queue.WithCacheKey(CompletedTaskKey(taskID)))
	if err != nil {
		return Task{}, err
	}

	for _, uri := range c.Photos {
		if err := s.AddPhoto(ctx, taskID, uri); err != nil {
			return Task{}, err
		}
	}

	s.logger.Info("Task completed",
		zap.String("task_id", taskID),
		zap.Int("photos", len(c.Photos)))
	return task, nil
}

// AddPhoto stores a captured photo locally and queues its upload
func (s *Service) AddPhoto(ctx context.Context, taskID, uri string) error {
	if err := s.sync.StorePendingPhoto(ctx, taskID, uri); err != nil {
		return fmt.Errorf("failed to store photo: %w", err)
	}
	_, err := s.sync.Enqueue(ctx, queue.ActionPhotoUpload, remote.PhotoUpload{
		TaskID:     taskID,
		PhotoURI:   uri,
		UploadedAt: s.now().UnixMilli(),
	})
	return err
}

func indexOf(tasks []Task, id string) int {
	for i := range tasks {
		if tasks[i].ID == id {
			return i
		}
	}
	return -1
}

func statusIn(s TaskStatus, set []TaskStatus) bool {
	for _, v := range set {
		if s == v {
			return true
		}
	}
	return false
}
