package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"dayflow/internal/calendar"
	"dayflow/internal/models"
	"dayflow/internal/repositories"
	"dayflow/internal/scheduler"
)

type SchedulingErrorKind string

const (
	// SchedExhausted: the search window holds no fitting slot. Hard
	// failure for the task; never degraded to a fallback time.
	SchedExhausted  SchedulingErrorKind = "exhausted"
	SchedConflict   SchedulingErrorKind = "conflict"
	SchedSyncFailed SchedulingErrorKind = "sync_failed"
	SchedFatal      SchedulingErrorKind = "fatal"
)

type SchedulingError struct {
	Kind SchedulingErrorKind
	Err  error
}

func (e *SchedulingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("scheduling failed (%s): %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("scheduling failed (%s)", e.Kind)
}

func (e *SchedulingError) Unwrap() error { return e.Err }

// SchedulingKindOf extracts the kind from err, or "" for other errors.
func SchedulingKindOf(err error) SchedulingErrorKind {
	var se *SchedulingError
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// ScheduleResult reports a successful (or deferred) scheduling run.
// SyncDeferred means the slot is persisted but the calendar event is
// pending the user reauthorizing the provider.
type ScheduleResult struct {
	Task         *models.Task
	SyncDeferred bool
}

type ReconcileResult struct {
	TaskID   int64  `json:"task_id"`
	Synced   bool   `json:"synced"`
	Deferred bool   `json:"deferred"`
	Error    string `json:"error,omitempty"`
}

type SchedulingService interface {
	ScheduleTask(ctx context.Context, taskID int64) (*ScheduleResult, error)
	ReconcileDeferred(ctx context.Context, ownerID int64) ([]ReconcileResult, error)
	UnsyncEvent(ctx context.Context, task *models.Task) error
}

type schedulingService struct {
	tasks    repositories.TaskRepository
	policies repositories.PolicyRepository
	gateway  calendar.Gateway
	notifier NotificationService

	horizon      time.Duration
	syncAttempts int
	backoffBase  time.Duration
	clock        func() time.Time
	sleep        func(ctx context.Context, d time.Duration) error
	log          *zap.Logger
}

func NewSchedulingService(
	tasks repositories.TaskRepository,
	policies repositories.PolicyRepository,
	gateway calendar.Gateway,
	notifier NotificationService,
	horizon time.Duration,
	logger *zap.Logger,
) SchedulingService {
	if horizon <= 0 {
		horizon = 14 * 24 * time.Hour
	}
	return &schedulingService{
		tasks:        tasks,
		policies:     policies,
		gateway:      gateway,
		notifier:     notifier,
		horizon:      horizon,
		syncAttempts: 3,
		backoffBase:  500 * time.Millisecond,
		clock:        time.Now,
		sleep:        sleepCtx,
		log:          logger.Named("scheduling"),
	}
}

// ScheduleTask finds a slot for the task, reserves it under the per-owner
// critical section and materializes it on the external calendar. Slot
// assignment always completes (or definitively fails) before any sync is
// attempted.
func (s *schedulingService) ScheduleTask(ctx context.Context, taskID int64) (*ScheduleResult, error) {
	task, err := s.tasks.FindByID(ctx, taskID)
	if err != nil {
		return nil, &SchedulingError{Kind: SchedFatal, Err: err}
	}
	if task.Completed {
		return nil, &SchedulingError{Kind: SchedFatal, Err: fmt.Errorf("task %d is completed", taskID)}
	}

	policy := s.policyFor(ctx, task.OwnerID)
	loc, err := policy.Location()
	if err != nil {
		return nil, &SchedulingError{Kind: SchedFatal, Err: err}
	}

	window, err := s.searchWindow(task, loc)
	if err != nil {
		return nil, &SchedulingError{Kind: SchedFatal, Err: err}
	}

	// The reservation is a compare-and-swap: if a concurrent request won
	// an overlapping interval after our committed-intervals read, retake
	// the view and search again.
	const reserveAttempts = 3
	var slot scheduler.Interval
	reserved := false
	for attempt := 0; attempt < reserveAttempts && !reserved; attempt++ {
		committed, err := s.committedIntervals(ctx, task, window)
		if err != nil {
			return nil, &SchedulingError{Kind: SchedFatal, Err: err}
		}

		slot, err = scheduler.FindSlot(policy, committed, task.RequiredDuration, window)
		if err != nil {
			if errors.Is(err, scheduler.ErrNoSlotAvailable) {
				s.log.Info("search exhausted",
					zap.Int64("task_id", task.ID),
					zap.Duration("duration", task.RequiredDuration))
				s.notifier.ScheduleExhausted(ctx, task)
				return nil, &SchedulingError{Kind: SchedExhausted, Err: err}
			}
			return nil, &SchedulingError{Kind: SchedFatal, Err: err}
		}

		switch err := s.tasks.ReserveSlot(ctx, task.ID, task.OwnerID, slot.Start, slot.End); {
		case err == nil:
			reserved = true
		case errors.Is(err, repositories.ErrSlotConflict):
			s.log.Info("reservation lost race, retrying search",
				zap.Int64("task_id", task.ID), zap.Stringer("slot", slot))
		default:
			return nil, &SchedulingError{Kind: SchedFatal, Err: err}
		}
	}
	if !reserved {
		return nil, &SchedulingError{Kind: SchedConflict,
			Err: fmt.Errorf("could not reserve a slot after %d attempts", reserveAttempts)}
	}

	task.ScheduledStart = &slot.Start
	task.ScheduledEnd = &slot.End

	deferred, err := s.syncEvent(ctx, task, policy)
	if err != nil {
		return nil, err
	}
	return &ScheduleResult{Task: task, SyncDeferred: deferred}, nil
}

// ReconcileDeferred retries the calendar sync for every task left in the
// scheduled-but-unsynced state. The persisted slot plus a null event id is
// all the state the retry needs.
func (s *schedulingService) ReconcileDeferred(ctx context.Context, ownerID int64) ([]ReconcileResult, error) {
	pending, err := s.tasks.FindUnsynced(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	policy := s.policyFor(ctx, ownerID)

	results := make([]ReconcileResult, 0, len(pending))
	for i := range pending {
		task := &pending[i]
		res := ReconcileResult{TaskID: task.ID}
		deferred, err := s.syncEvent(ctx, task, policy)
		switch {
		case err != nil:
			res.Error = err.Error()
		case deferred:
			res.Deferred = true
		default:
			res.Synced = true
		}
		results = append(results, res)
	}
	return results, nil
}

// UnsyncEvent removes the provider event for a task, reverting it to
// scheduled-but-unsynced. Used when completing or deleting a synced task.
func (s *schedulingService) UnsyncEvent(ctx context.Context, task *models.Task) error {
	if !task.IsSynced() {
		return nil
	}
	if err := s.gateway.DeleteEvent(ctx, task.OwnerID, *task.CalendarEventID); err != nil {
		return err
	}
	if err := s.tasks.ClearCalendarEvent(ctx, task.ID); err != nil {
		return err
	}
	task.CalendarEventID = nil
	return nil
}

func (s *schedulingService) policyFor(ctx context.Context, ownerID int64) *models.WorkingHoursPolicy {
	policy, err := s.policies.FindByOwner(ctx, ownerID)
	if err != nil {
		if !errors.Is(err, repositories.ErrPolicyNotFound) {
			s.log.Warn("policy lookup failed, using defaults",
				zap.Int64("owner_id", ownerID), zap.Error(err))
		}
		return models.DefaultWorkingHours(ownerID, "UTC")
	}
	return policy
}

func (s *schedulingService) searchWindow(task *models.Task, loc *time.Location) (scheduler.Interval, error) {
	now := s.clock()
	window := scheduler.Interval{Start: now, End: now.Add(s.horizon)}
	due, err := task.DueAt(loc)
	if err != nil {
		return scheduler.Interval{}, err
	}
	if due != nil && due.Before(window.End) {
		window.End = *due
	}
	return window, nil
}

// committedIntervals merges the repository view of reserved tasks with the
// provider's busy blocks. A failing provider read degrades to fewer known
// conflicts rather than aborting the attempt.
func (s *schedulingService) committedIntervals(ctx context.Context, task *models.Task, window scheduler.Interval) ([]scheduler.Interval, error) {
	reserved, err := s.tasks.FindScheduledInRange(ctx, task.OwnerID, window.Start, window.End)
	if err != nil {
		return nil, err
	}

	committed := make([]scheduler.Interval, 0, len(reserved))
	for _, t := range reserved {
		if t.ID == task.ID {
			continue
		}
		committed = append(committed, scheduler.Interval{Start: *t.ScheduledStart, End: *t.ScheduledEnd})
	}

	busy, err := s.gateway.ListBusyIntervals(ctx, task.OwnerID, window)
	if err != nil {
		s.log.Warn("busy lookup degraded",
			zap.Int64("owner_id", task.OwnerID), zap.Error(err))
		return committed, nil
	}
	return append(committed, busy...), nil
}

// syncEvent creates the calendar event with the recovery policy:
// TokenExpired defers (the schedule is preserved), MalformedRequest retries
// once with a minimized payload, Transient retries with backoff, Fatal
// surfaces immediately.
func (s *schedulingService) syncEvent(ctx context.Context, task *models.Task, policy *models.WorkingHoursPolicy) (deferred bool, err error) {
	ev := calendar.Event{
		Summary:     task.Title,
		Description: task.Description,
		Start:       *task.ScheduledStart,
		End:         *task.ScheduledEnd,
		Timezone:    policy.Timezone,
	}

	eventID, err := s.createWithRecovery(ctx, task, ev)
	if err != nil {
		if calendar.KindOf(err) == calendar.KindTokenExpired {
			s.log.Info("calendar sync deferred, reauthorization needed",
				zap.Int64("task_id", task.ID), zap.Int64("owner_id", task.OwnerID))
			s.notifier.CalendarReauthNeeded(ctx, task.OwnerID)
			return true, nil
		}
		return false, err
	}

	if err := s.tasks.SetCalendarEvent(ctx, task.ID, eventID); err != nil {
		return false, &SchedulingError{Kind: SchedFatal, Err: err}
	}
	task.CalendarEventID = &eventID
	return false, nil
}

func (s *schedulingService) createWithRecovery(ctx context.Context, task *models.Task, ev calendar.Event) (string, error) {
	minimized := false
	for attempt := 0; ; attempt++ {
		eventID, err := s.gateway.CreateEvent(ctx, task.OwnerID, ev)
		if err == nil {
			return eventID, nil
		}

		switch calendar.KindOf(err) {
		case calendar.KindTokenExpired:
			return "", err

		case calendar.KindMalformedRequest:
			if minimized {
				return "", &SchedulingError{Kind: SchedSyncFailed, Err: err}
			}
			// Optional fields occasionally trip provider validation
			// while the booking itself is fine; retry once stripped.
			s.log.Warn("malformed event payload, retrying minimized",
				zap.Int64("task_id", task.ID), zap.Error(err))
			ev = ev.Minimized()
			minimized = true

		case calendar.KindTransient:
			if attempt >= s.syncAttempts-1 {
				return "", &SchedulingError{Kind: SchedSyncFailed, Err: err}
			}
			backoff := s.backoffBase << uint(attempt)
			s.log.Info("transient calendar error, backing off",
				zap.Int64("task_id", task.ID),
				zap.Duration("backoff", backoff),
				zap.Error(err))
			if serr := s.sleep(ctx, backoff); serr != nil {
				return "", &SchedulingError{Kind: SchedSyncFailed, Err: serr}
			}

		default:
			return "", &SchedulingError{Kind: SchedFatal, Err: err}
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
