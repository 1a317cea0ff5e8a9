package services

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dayflow/internal/models"
	"dayflow/internal/repositories"
)

// IngestionResult reports what happened to one inbound message. Duplicate
// deliveries return the prior outcome with Duplicate set; nothing is redone.
type IngestionResult struct {
	RecordID int64
	Outcome  models.IngestionOutcome
	TaskID   *int64
	Task     *models.Task

	Duplicate           bool
	PendingConfirmation bool
	ProposedTitle       string

	// Set when the task was created but scheduling it failed; ingestion
	// itself still succeeded.
	ScheduleErr error
	SyncDeferred bool
}

type IngestionService interface {
	// IngestMessage runs the dedup-guarded pipeline for one chat message.
	IngestMessage(ctx context.Context, key models.IngestionKey, ownerID int64, messageText string) (*IngestionResult, error)

	// ResolveConfirmation finalizes a message held for user confirmation.
	ResolveConfirmation(ctx context.Context, recordID int64, accept bool) (*IngestionResult, error)

	// PurgeLedger garbage-collects terminal ledger rows past retention.
	PurgeLedger(ctx context.Context) (int64, error)
}

type ingestionService struct {
	ledger     repositories.IngestionRepository
	tasks      repositories.TaskRepository
	classifier TaskClassifier
	scheduling SchedulingService

	confirmThreshold float64
	retention        time.Duration
	log              *zap.Logger
}

func NewIngestionService(
	ledger repositories.IngestionRepository,
	tasks repositories.TaskRepository,
	classifier TaskClassifier,
	scheduling SchedulingService,
	confirmThreshold float64,
	logger *zap.Logger,
) IngestionService {
	if confirmThreshold <= 0 || confirmThreshold > 1 {
		confirmThreshold = 0.8
	}
	return &ingestionService{
		ledger:           ledger,
		tasks:            tasks,
		classifier:       classifier,
		scheduling:       scheduling,
		confirmThreshold: confirmThreshold,
		retention:        30 * 24 * time.Hour,
		log:              logger.Named("ingestion"),
	}
}

func (s *ingestionService) IngestMessage(ctx context.Context, key models.IngestionKey, ownerID int64, messageText string) (*IngestionResult, error) {
	claimed, rec, err := s.ledger.Claim(ctx, key, ownerID)
	if err != nil {
		return nil, err
	}
	if !claimed {
		// Seen before: short-circuit with the prior outcome. The
		// classifier is not re-invoked and no second task can exist.
		// A processing record counts as awaiting confirmation only once a
		// proposal is saved; without one the original delivery is still
		// mid-classification and must be left alone.
		s.log.Info("duplicate delivery",
			zap.String("source_message_id", key.SourceMessageID),
			zap.String("outcome", string(rec.Outcome)))
		result := &IngestionResult{
			RecordID:  rec.ID,
			Outcome:   rec.Outcome,
			TaskID:    rec.TaskID,
			Duplicate: true,
		}
		if rec.Outcome == models.IngestionProcessing && rec.ProposedTitle != nil {
			result.PendingConfirmation = true
			result.ProposedTitle = *rec.ProposedTitle
		}
		return result, nil
	}

	cls, err := s.classifier.Classify(ctx, messageText)
	if err != nil {
		// Internal failure, not a verdict: release the claim so a
		// redelivery can retry the message.
		if rerr := s.ledger.Release(ctx, rec.ID); rerr != nil {
			s.log.Error("claim release failed", zap.Int64("record_id", rec.ID), zap.Error(rerr))
		}
		return nil, fmt.Errorf("classify message: %w", err)
	}

	if !cls.IsTask {
		if err := s.ledger.Resolve(ctx, rec.ID, models.IngestionNoTask, nil); err != nil {
			return nil, err
		}
		return &IngestionResult{RecordID: rec.ID, Outcome: models.IngestionNoTask}, nil
	}

	if cls.Confidence < s.confirmThreshold {
		// Hold in processing; the chat surface asks the user to confirm
		// or dismiss, which lands in ResolveConfirmation.
		if err := s.ledger.SaveProposal(ctx, rec.ID, cls.Title,
			int(cls.EstimatedDuration/time.Minute), string(cls.Priority)); err != nil {
			return nil, err
		}
		return &IngestionResult{
			RecordID:            rec.ID,
			Outcome:             models.IngestionProcessing,
			PendingConfirmation: true,
			ProposedTitle:       cls.Title,
		}, nil
	}

	return s.createAndSchedule(ctx, rec.ID, ownerID, key, cls)
}

func (s *ingestionService) ResolveConfirmation(ctx context.Context, recordID int64, accept bool) (*IngestionResult, error) {
	rec, err := s.ledger.FindByID(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if rec.Outcome.Terminal() {
		return &IngestionResult{RecordID: rec.ID, Outcome: rec.Outcome, TaskID: rec.TaskID, Duplicate: true}, nil
	}
	if rec.ProposedTitle == nil {
		// No proposal on file means no prompt was ever sent for this
		// record: the original delivery is still mid-classification.
		// Resolving now would race it with a defaults task.
		return &IngestionResult{RecordID: rec.ID, Outcome: rec.Outcome, Duplicate: true}, nil
	}

	if !accept {
		if err := s.ledger.Resolve(ctx, rec.ID, models.IngestionDeclined, nil); err != nil {
			return nil, err
		}
		return &IngestionResult{RecordID: rec.ID, Outcome: models.IngestionDeclined}, nil
	}

	cls := &TaskClassification{IsTask: true}
	if rec.ProposedTitle != nil {
		cls.Title = *rec.ProposedTitle
	}
	if rec.ProposedMinutes != nil {
		cls.EstimatedDuration = time.Duration(*rec.ProposedMinutes) * time.Minute
	}
	if rec.ProposedPriority != nil {
		cls.Priority = models.TaskPriority(*rec.ProposedPriority)
	}
	return s.createAndSchedule(ctx, rec.ID, rec.OwnerID, rec.IngestionKey, cls)
}

func (s *ingestionService) PurgeLedger(ctx context.Context) (int64, error) {
	return s.ledger.PurgeOlderThan(ctx, time.Now().Add(-s.retention))
}

func (s *ingestionService) createAndSchedule(ctx context.Context, recordID, ownerID int64, key models.IngestionKey, cls *TaskClassification) (*IngestionResult, error) {
	task := &models.Task{
		OwnerID:          ownerID,
		Title:            cls.Title,
		Description:      cls.Description,
		RequiredDuration: cls.EstimatedDuration,
		Priority:         cls.Priority,
		SourceMessageID:  &key.SourceMessageID,
		SourceChannelID:  &key.SourceChannelID,
	}
	if task.Title == "" {
		task.Title = "Task from chat"
	}
	if task.RequiredDuration <= 0 {
		task.RequiredDuration = 30 * time.Minute
	}
	if task.Priority == "" {
		task.Priority = models.PriorityMedium
	}

	if err := s.tasks.Store(ctx, task); err != nil {
		if rerr := s.ledger.Release(ctx, recordID); rerr != nil {
			s.log.Error("claim release failed", zap.Int64("record_id", recordID), zap.Error(rerr))
		}
		return nil, fmt.Errorf("store task: %w", err)
	}
	if err := s.ledger.Resolve(ctx, recordID, models.IngestionTaskCreated, &task.ID); err != nil {
		return nil, err
	}

	result := &IngestionResult{
		RecordID: recordID,
		Outcome:  models.IngestionTaskCreated,
		TaskID:   &task.ID,
		Task:     task,
	}

	// Scheduling failures do not undo the ingestion: the task stays
	// visible as unscheduled with the reason attached.
	res, err := s.scheduling.ScheduleTask(ctx, task.ID)
	if err != nil {
		s.log.Warn("scheduling ingested task failed",
			zap.Int64("task_id", task.ID), zap.Error(err))
		result.ScheduleErr = err
		return result, nil
	}
	result.Task = res.Task
	result.SyncDeferred = res.SyncDeferred
	return result, nil
}
