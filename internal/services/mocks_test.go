package services

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"dayflow/internal/calendar"
	"dayflow/internal/models"
	"dayflow/internal/scheduler"
)

type taskRepoMock struct{ mock.Mock }

func (m *taskRepoMock) Store(ctx context.Context, task *models.Task) error {
	return m.Called(ctx, task).Error(0)
}

func (m *taskRepoMock) FindByID(ctx context.Context, id int64) (*models.Task, error) {
	args := m.Called(ctx, id)
	if t, ok := args.Get(0).(*models.Task); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *taskRepoMock) FindAll(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	args := m.Called(ctx, filter)
	if ts, ok := args.Get(0).([]models.Task); ok {
		return ts, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *taskRepoMock) FindScheduledInRange(ctx context.Context, ownerID int64, from, to time.Time) ([]models.Task, error) {
	args := m.Called(ctx, ownerID, from, to)
	if ts, ok := args.Get(0).([]models.Task); ok {
		return ts, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *taskRepoMock) FindUnsynced(ctx context.Context, ownerID int64) ([]models.Task, error) {
	args := m.Called(ctx, ownerID)
	if ts, ok := args.Get(0).([]models.Task); ok {
		return ts, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *taskRepoMock) ListOwnersWithUnsynced(ctx context.Context) ([]int64, error) {
	args := m.Called(ctx)
	if ids, ok := args.Get(0).([]int64); ok {
		return ids, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *taskRepoMock) Update(ctx context.Context, task *models.Task) error {
	return m.Called(ctx, task).Error(0)
}

func (m *taskRepoMock) Delete(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *taskRepoMock) ReserveSlot(ctx context.Context, id, ownerID int64, start, end time.Time) error {
	return m.Called(ctx, id, ownerID, start, end).Error(0)
}

func (m *taskRepoMock) SetCalendarEvent(ctx context.Context, id int64, eventID string) error {
	return m.Called(ctx, id, eventID).Error(0)
}

func (m *taskRepoMock) ClearCalendarEvent(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *taskRepoMock) MarkCompleted(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

type policyRepoMock struct{ mock.Mock }

func (m *policyRepoMock) FindByOwner(ctx context.Context, ownerID int64) (*models.WorkingHoursPolicy, error) {
	args := m.Called(ctx, ownerID)
	if p, ok := args.Get(0).(*models.WorkingHoursPolicy); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *policyRepoMock) Upsert(ctx context.Context, policy *models.WorkingHoursPolicy) error {
	return m.Called(ctx, policy).Error(0)
}

type gatewayMock struct{ mock.Mock }

func (m *gatewayMock) CreateEvent(ctx context.Context, ownerID int64, ev calendar.Event) (string, error) {
	args := m.Called(ctx, ownerID, ev)
	return args.String(0), args.Error(1)
}

func (m *gatewayMock) UpdateEvent(ctx context.Context, ownerID int64, ev calendar.Event) error {
	return m.Called(ctx, ownerID, ev).Error(0)
}

func (m *gatewayMock) DeleteEvent(ctx context.Context, ownerID int64, eventID string) error {
	return m.Called(ctx, ownerID, eventID).Error(0)
}

func (m *gatewayMock) ListBusyIntervals(ctx context.Context, ownerID int64, window scheduler.Interval) ([]scheduler.Interval, error) {
	args := m.Called(ctx, ownerID, window)
	if ivs, ok := args.Get(0).([]scheduler.Interval); ok {
		return ivs, args.Error(1)
	}
	return nil, args.Error(1)
}

type notifierMock struct{ mock.Mock }

func (m *notifierMock) CalendarReauthNeeded(ctx context.Context, ownerID int64) {
	m.Called(ctx, ownerID)
}

func (m *notifierMock) ScheduleExhausted(ctx context.Context, task *models.Task) {
	m.Called(ctx, task)
}

type ledgerMock struct{ mock.Mock }

func (m *ledgerMock) Claim(ctx context.Context, key models.IngestionKey, ownerID int64) (bool, *models.IngestionRecord, error) {
	args := m.Called(ctx, key, ownerID)
	if rec, ok := args.Get(1).(*models.IngestionRecord); ok {
		return args.Bool(0), rec, args.Error(2)
	}
	return args.Bool(0), nil, args.Error(2)
}

func (m *ledgerMock) Resolve(ctx context.Context, id int64, outcome models.IngestionOutcome, taskID *int64) error {
	return m.Called(ctx, id, outcome, taskID).Error(0)
}

func (m *ledgerMock) Release(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

func (m *ledgerMock) SaveProposal(ctx context.Context, id int64, title string, minutes int, priority string) error {
	return m.Called(ctx, id, title, minutes, priority).Error(0)
}

func (m *ledgerMock) FindByID(ctx context.Context, id int64) (*models.IngestionRecord, error) {
	args := m.Called(ctx, id)
	if rec, ok := args.Get(0).(*models.IngestionRecord); ok {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ledgerMock) FindByKey(ctx context.Context, key models.IngestionKey) (*models.IngestionRecord, error) {
	args := m.Called(ctx, key)
	if rec, ok := args.Get(0).(*models.IngestionRecord); ok {
		return rec, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *ledgerMock) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	args := m.Called(ctx, cutoff)
	return args.Get(0).(int64), args.Error(1)
}

type classifierMock struct{ mock.Mock }

func (m *classifierMock) Classify(ctx context.Context, messageText string) (*TaskClassification, error) {
	args := m.Called(ctx, messageText)
	if cls, ok := args.Get(0).(*TaskClassification); ok {
		return cls, args.Error(1)
	}
	return nil, args.Error(1)
}

type schedulingMock struct{ mock.Mock }

func (m *schedulingMock) ScheduleTask(ctx context.Context, taskID int64) (*ScheduleResult, error) {
	args := m.Called(ctx, taskID)
	if res, ok := args.Get(0).(*ScheduleResult); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *schedulingMock) ReconcileDeferred(ctx context.Context, ownerID int64) ([]ReconcileResult, error) {
	args := m.Called(ctx, ownerID)
	if res, ok := args.Get(0).([]ReconcileResult); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *schedulingMock) UnsyncEvent(ctx context.Context, task *models.Task) error {
	return m.Called(ctx, task).Error(0)
}
