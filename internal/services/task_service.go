package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dayflow/internal/calendar"
	"dayflow/internal/models"
	"dayflow/internal/repositories"
)

// TaskService covers the manual task surface: creation, listing,
// completion. Scheduling itself is delegated to the SchedulingService.
type TaskService interface {
	Create(ctx context.Context, task *models.Task) (*models.Task, error)
	GetByID(ctx context.Context, id int64) (*models.Task, error)
	GetAll(ctx context.Context, filter models.TaskFilter) ([]models.Task, error)
	Update(ctx context.Context, id int64, updateData *models.Task) (*models.Task, error)
	Complete(ctx context.Context, id int64) (*models.Task, error)
	Delete(ctx context.Context, id int64) error
}

type taskService struct {
	repo       repositories.TaskRepository
	scheduling SchedulingService
	log        *zap.Logger
}

func NewTaskService(repo repositories.TaskRepository, scheduling SchedulingService, logger *zap.Logger) TaskService {
	return &taskService{repo: repo, scheduling: scheduling, log: logger.Named("tasks")}
}

func (s *taskService) Create(ctx context.Context, task *models.Task) (*models.Task, error) {
	if task.Priority == "" {
		task.Priority = models.PriorityMedium
	}
	if task.RequiredDuration <= 0 {
		task.RequiredDuration = 30 * time.Minute
	}
	if err := s.repo.Store(ctx, task); err != nil {
		return nil, err
	}
	return task, nil
}

func (s *taskService) GetByID(ctx context.Context, id int64) (*models.Task, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *taskService) GetAll(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	return s.repo.FindAll(ctx, filter)
}

func (s *taskService) Update(ctx context.Context, id int64, updateData *models.Task) (*models.Task, error) {
	existing, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	existing.Title = updateData.Title
	existing.Description = updateData.Description
	existing.RequiredDuration = updateData.RequiredDuration
	existing.Priority = updateData.Priority
	existing.DueDate = updateData.DueDate
	existing.DueTime = updateData.DueTime

	if err := s.repo.Update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// Complete marks the task done and removes its calendar event. Event
// removal is best effort: an expired authorization must not block the
// completion itself.
func (s *taskService) Complete(ctx context.Context, id int64) (*models.Task, error) {
	task, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if task.IsSynced() {
		if err := s.scheduling.UnsyncEvent(ctx, task); err != nil {
			s.log.Warn("calendar event removal failed",
				zap.Int64("task_id", id),
				zap.String("kind", calendar.KindOf(err).String()),
				zap.Error(err))
		}
	}

	if err := s.repo.MarkCompleted(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.FindByID(ctx, id)
}

func (s *taskService) Delete(ctx context.Context, id int64) error {
	task, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if task.IsSynced() {
		if err := s.scheduling.UnsyncEvent(ctx, task); err != nil {
			s.log.Warn("calendar event removal failed",
				zap.Int64("task_id", id), zap.Error(err))
		}
	}
	return s.repo.Delete(ctx, id)
}
