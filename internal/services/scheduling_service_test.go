package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"dayflow/internal/calendar"
	"dayflow/internal/models"
	"dayflow/internal/repositories"
	"dayflow/internal/scheduler"
)

// Monday 2026-03-02 08:00 UTC; default working hours open at 09:00.
var testNow = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type schedulingFixture struct {
	tasks    *taskRepoMock
	policies *policyRepoMock
	gateway  *gatewayMock
	notifier *notifierMock
	sleeps   []time.Duration
	svc      *schedulingService
}

func newSchedulingFixture() *schedulingFixture {
	f := &schedulingFixture{
		tasks:    &taskRepoMock{},
		policies: &policyRepoMock{},
		gateway:  &gatewayMock{},
		notifier: &notifierMock{},
	}
	f.svc = &schedulingService{
		tasks:        f.tasks,
		policies:     f.policies,
		gateway:      f.gateway,
		notifier:     f.notifier,
		horizon:      14 * 24 * time.Hour,
		syncAttempts: 3,
		backoffBase:  500 * time.Millisecond,
		clock:        func() time.Time { return testNow },
		sleep: func(_ context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		},
		log: zap.NewNop(),
	}
	return f
}

func (f *schedulingFixture) expectFreeCalendar(task *models.Task) {
	f.tasks.On("FindByID", mock.Anything, task.ID).Return(task, nil)
	f.policies.On("FindByOwner", mock.Anything, task.OwnerID).
		Return(models.DefaultWorkingHours(task.OwnerID, "UTC"), nil)
	f.tasks.On("FindScheduledInRange", mock.Anything, task.OwnerID, mock.Anything, mock.Anything).
		Return([]models.Task{}, nil)
	f.gateway.On("ListBusyIntervals", mock.Anything, task.OwnerID, mock.Anything).
		Return([]scheduler.Interval{}, nil)
}

func hourTask(id, ownerID int64) *models.Task {
	return &models.Task{
		ID:               id,
		OwnerID:          ownerID,
		Title:            "Prepare quarterly report",
		Description:      "numbers from finance",
		RequiredDuration: time.Hour,
		Priority:         models.PriorityMedium,
	}
}

func TestScheduleTask_ReservesEarliestSlotAndSyncs(t *testing.T) {
	f := newSchedulingFixture()
	task := hourTask(1, 42)
	f.expectFreeCalendar(task)

	wantStart := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	f.tasks.On("ReserveSlot", mock.Anything, task.ID, task.OwnerID, wantStart, wantStart.Add(time.Hour)).
		Return(nil).Once()
	f.gateway.On("CreateEvent", mock.Anything, task.OwnerID, mock.Anything).
		Return("evt-1", nil).Once()
	f.tasks.On("SetCalendarEvent", mock.Anything, task.ID, "evt-1").Return(nil).Once()

	res, err := f.svc.ScheduleTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.False(t, res.SyncDeferred)
	require.Equal(t, wantStart, *res.Task.ScheduledStart)
	require.Equal(t, wantStart.Add(time.Hour), *res.Task.ScheduledEnd)
	require.NotNil(t, res.Task.CalendarEventID)
	require.Equal(t, "evt-1", *res.Task.CalendarEventID)
	f.tasks.AssertExpectations(t)
	f.gateway.AssertExpectations(t)
}

// An expired token never undoes the reservation: the slot stays persisted,
// sync is deferred and the user is told to reconnect.
func TestScheduleTask_TokenExpiryDefersSyncKeepsSchedule(t *testing.T) {
	f := newSchedulingFixture()
	task := hourTask(2, 42)
	f.expectFreeCalendar(task)

	f.tasks.On("ReserveSlot", mock.Anything, task.ID, task.OwnerID, mock.Anything, mock.Anything).
		Return(nil).Once()
	f.gateway.On("CreateEvent", mock.Anything, task.OwnerID, mock.Anything).
		Return("", &calendar.ProviderError{Kind: calendar.KindTokenExpired, Status: 401}).Once()
	f.notifier.On("CalendarReauthNeeded", mock.Anything, task.OwnerID).Return().Once()

	res, err := f.svc.ScheduleTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.True(t, res.SyncDeferred)
	require.NotNil(t, res.Task.ScheduledStart)
	require.Nil(t, res.Task.CalendarEventID)
	f.tasks.AssertNotCalled(t, "SetCalendarEvent", mock.Anything, mock.Anything, mock.Anything)
	f.notifier.AssertExpectations(t)
}

func TestScheduleTask_TransientErrorsBackOffThenFail(t *testing.T) {
	f := newSchedulingFixture()
	task := hourTask(3, 42)
	f.expectFreeCalendar(task)

	f.tasks.On("ReserveSlot", mock.Anything, task.ID, task.OwnerID, mock.Anything, mock.Anything).
		Return(nil).Once()
	f.gateway.On("CreateEvent", mock.Anything, task.OwnerID, mock.Anything).
		Return("", &calendar.ProviderError{Kind: calendar.KindTransient, Status: 503}).Times(3)

	_, err := f.svc.ScheduleTask(context.Background(), task.ID)
	require.Error(t, err)
	require.Equal(t, SchedSyncFailed, SchedulingKindOf(err))
	require.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, f.sleeps)
	f.gateway.AssertExpectations(t)
}

func TestScheduleTask_TransientErrorRecoversOnRetry(t *testing.T) {
	f := newSchedulingFixture()
	task := hourTask(4, 42)
	f.expectFreeCalendar(task)

	f.tasks.On("ReserveSlot", mock.Anything, task.ID, task.OwnerID, mock.Anything, mock.Anything).
		Return(nil).Once()
	f.gateway.On("CreateEvent", mock.Anything, task.OwnerID, mock.Anything).
		Return("", &calendar.ProviderError{Kind: calendar.KindTransient, Status: 429}).Once()
	f.gateway.On("CreateEvent", mock.Anything, task.OwnerID, mock.Anything).
		Return("evt-4", nil).Once()
	f.tasks.On("SetCalendarEvent", mock.Anything, task.ID, "evt-4").Return(nil).Once()

	res, err := f.svc.ScheduleTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.False(t, res.SyncDeferred)
	require.Len(t, f.sleeps, 1)
	f.gateway.AssertExpectations(t)
}

// A malformed payload gets exactly one retry, with the optional fields
// stripped; a second rejection is final.
func TestScheduleTask_MalformedRetriesOnceMinimized(t *testing.T) {
	f := newSchedulingFixture()
	task := hourTask(5, 42)
	f.expectFreeCalendar(task)

	f.tasks.On("ReserveSlot", mock.Anything, task.ID, task.OwnerID, mock.Anything, mock.Anything).
		Return(nil).Once()
	f.gateway.On("CreateEvent", mock.Anything, task.OwnerID, mock.MatchedBy(func(ev calendar.Event) bool {
		return ev.Description != ""
	})).Return("", &calendar.ProviderError{Kind: calendar.KindMalformedRequest, Status: 400}).Once()
	f.gateway.On("CreateEvent", mock.Anything, task.OwnerID, mock.MatchedBy(func(ev calendar.Event) bool {
		return ev.Description == "" && ev.Summary == task.Title
	})).Return("evt-5", nil).Once()
	f.tasks.On("SetCalendarEvent", mock.Anything, task.ID, "evt-5").Return(nil).Once()

	res, err := f.svc.ScheduleTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, "evt-5", *res.Task.CalendarEventID)
	f.gateway.AssertExpectations(t)
}

func TestScheduleTask_MalformedTwiceFails(t *testing.T) {
	f := newSchedulingFixture()
	task := hourTask(6, 42)
	f.expectFreeCalendar(task)

	f.tasks.On("ReserveSlot", mock.Anything, task.ID, task.OwnerID, mock.Anything, mock.Anything).
		Return(nil).Once()
	f.gateway.On("CreateEvent", mock.Anything, task.OwnerID, mock.Anything).
		Return("", &calendar.ProviderError{Kind: calendar.KindMalformedRequest, Status: 400}).Times(2)

	_, err := f.svc.ScheduleTask(context.Background(), task.ID)
	require.Equal(t, SchedSyncFailed, SchedulingKindOf(err))
	f.gateway.AssertExpectations(t)
}

func TestScheduleTask_ExhaustedWindowIsHardFailure(t *testing.T) {
	f := newSchedulingFixture()
	task := hourTask(7, 42)
	task.RequiredDuration = 10 * time.Hour // longer than any working day
	f.expectFreeCalendar(task)
	f.notifier.On("ScheduleExhausted", mock.Anything, task).Return().Once()

	_, err := f.svc.ScheduleTask(context.Background(), task.ID)
	require.Equal(t, SchedExhausted, SchedulingKindOf(err))
	require.ErrorIs(t, err, scheduler.ErrNoSlotAvailable)
	f.tasks.AssertNotCalled(t, "ReserveSlot",
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.notifier.AssertExpectations(t)
}

func TestScheduleTask_LostReservationRaceRetriesSearch(t *testing.T) {
	f := newSchedulingFixture()
	task := hourTask(8, 42)
	f.expectFreeCalendar(task)

	f.tasks.On("ReserveSlot", mock.Anything, task.ID, task.OwnerID, mock.Anything, mock.Anything).
		Return(repositories.ErrSlotConflict).Once()
	f.tasks.On("ReserveSlot", mock.Anything, task.ID, task.OwnerID, mock.Anything, mock.Anything).
		Return(nil).Once()
	f.gateway.On("CreateEvent", mock.Anything, task.OwnerID, mock.Anything).
		Return("evt-8", nil).Once()
	f.tasks.On("SetCalendarEvent", mock.Anything, task.ID, "evt-8").Return(nil).Once()

	_, err := f.svc.ScheduleTask(context.Background(), task.ID)
	require.NoError(t, err)
	f.tasks.AssertNumberOfCalls(t, "FindScheduledInRange", 2)
}

func TestScheduleTask_PersistentConflictGivesUp(t *testing.T) {
	f := newSchedulingFixture()
	task := hourTask(9, 42)
	f.expectFreeCalendar(task)

	f.tasks.On("ReserveSlot", mock.Anything, task.ID, task.OwnerID, mock.Anything, mock.Anything).
		Return(repositories.ErrSlotConflict).Times(3)

	_, err := f.svc.ScheduleTask(context.Background(), task.ID)
	require.Equal(t, SchedConflict, SchedulingKindOf(err))
	f.gateway.AssertNotCalled(t, "CreateEvent", mock.Anything, mock.Anything, mock.Anything)
}

// A failing busy lookup degrades to repository-only conflicts instead of
// aborting the attempt.
func TestScheduleTask_BusyLookupFailureDegrades(t *testing.T) {
	f := newSchedulingFixture()
	task := hourTask(10, 42)
	f.tasks.On("FindByID", mock.Anything, task.ID).Return(task, nil)
	f.policies.On("FindByOwner", mock.Anything, task.OwnerID).
		Return(models.DefaultWorkingHours(task.OwnerID, "UTC"), nil)
	f.tasks.On("FindScheduledInRange", mock.Anything, task.OwnerID, mock.Anything, mock.Anything).
		Return([]models.Task{}, nil)
	f.gateway.On("ListBusyIntervals", mock.Anything, task.OwnerID, mock.Anything).
		Return(nil, &calendar.ProviderError{Kind: calendar.KindTransient, Status: 500})

	f.tasks.On("ReserveSlot", mock.Anything, task.ID, task.OwnerID, mock.Anything, mock.Anything).
		Return(nil).Once()
	f.gateway.On("CreateEvent", mock.Anything, task.OwnerID, mock.Anything).
		Return("evt-10", nil).Once()
	f.tasks.On("SetCalendarEvent", mock.Anything, task.ID, "evt-10").Return(nil).Once()

	res, err := f.svc.ScheduleTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.NotNil(t, res.Task.ScheduledStart)
}

func TestScheduleTask_DueDateBoundsSearchWindow(t *testing.T) {
	f := newSchedulingFixture()
	task := hourTask(11, 42)
	due := testNow
	dueTime := "08:30" // before working hours open
	task.DueDate = &due
	task.DueTime = &dueTime
	f.expectFreeCalendar(task)
	f.notifier.On("ScheduleExhausted", mock.Anything, task).Return().Once()

	_, err := f.svc.ScheduleTask(context.Background(), task.ID)
	require.Equal(t, SchedExhausted, SchedulingKindOf(err))
}

// A due date stored as UTC midnight must keep the whole due day open for
// owners in negative-offset zones instead of exhausting a day early.
func TestScheduleTask_DueDayStaysOpenInNegativeOffsetZone(t *testing.T) {
	f := newSchedulingFixture()
	task := hourTask(13, 42)
	due := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC) // due on the search day itself
	task.DueDate = &due

	f.tasks.On("FindByID", mock.Anything, task.ID).Return(task, nil)
	f.policies.On("FindByOwner", mock.Anything, task.OwnerID).
		Return(models.DefaultWorkingHours(task.OwnerID, "America/New_York"), nil)
	f.tasks.On("FindScheduledInRange", mock.Anything, task.OwnerID, mock.Anything, mock.Anything).
		Return([]models.Task{}, nil)
	f.gateway.On("ListBusyIntervals", mock.Anything, task.OwnerID, mock.Anything).
		Return([]scheduler.Interval{}, nil)
	f.tasks.On("ReserveSlot", mock.Anything, task.ID, task.OwnerID, mock.Anything, mock.Anything).
		Return(nil).Once()
	f.gateway.On("CreateEvent", mock.Anything, task.OwnerID, mock.Anything).
		Return("evt-13", nil).Once()
	f.tasks.On("SetCalendarEvent", mock.Anything, task.ID, "evt-13").Return(nil).Once()

	newYork, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	res, err := f.svc.ScheduleTask(context.Background(), task.ID)
	require.NoError(t, err)
	require.Equal(t, 2, res.Task.ScheduledStart.In(newYork).Day())
	f.notifier.AssertNotCalled(t, "ScheduleExhausted", mock.Anything, mock.Anything)
}

func TestScheduleTask_CompletedTaskIsRejected(t *testing.T) {
	f := newSchedulingFixture()
	task := hourTask(12, 42)
	task.Completed = true
	f.tasks.On("FindByID", mock.Anything, task.ID).Return(task, nil)

	_, err := f.svc.ScheduleTask(context.Background(), task.ID)
	require.Equal(t, SchedFatal, SchedulingKindOf(err))
}

func TestReconcileDeferred_MixedOutcomes(t *testing.T) {
	f := newSchedulingFixture()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	pending := []models.Task{
		{ID: 20, OwnerID: 42, Title: "write release notes", RequiredDuration: time.Hour, ScheduledStart: &start, ScheduledEnd: &end},
		{ID: 21, OwnerID: 42, Title: "review onboarding doc", RequiredDuration: time.Hour, ScheduledStart: &start, ScheduledEnd: &end},
	}
	f.tasks.On("FindUnsynced", mock.Anything, int64(42)).Return(pending, nil)
	f.policies.On("FindByOwner", mock.Anything, int64(42)).
		Return(models.DefaultWorkingHours(42, "UTC"), nil)

	f.gateway.On("CreateEvent", mock.Anything, int64(42), mock.MatchedBy(func(ev calendar.Event) bool {
		return ev.Summary == "write release notes"
	})).Return("evt-20", nil).Once()
	f.tasks.On("SetCalendarEvent", mock.Anything, int64(20), "evt-20").Return(nil).Once()

	f.gateway.On("CreateEvent", mock.Anything, int64(42), mock.MatchedBy(func(ev calendar.Event) bool {
		return ev.Summary == "review onboarding doc"
	})).Return("", &calendar.ProviderError{Kind: calendar.KindTokenExpired, Status: 401}).Once()
	f.notifier.On("CalendarReauthNeeded", mock.Anything, int64(42)).Return().Once()

	results, err := f.svc.ReconcileDeferred(context.Background(), 42)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.True(t, results[0].Synced)
	require.True(t, results[1].Deferred)
	f.gateway.AssertExpectations(t)
}

func TestUnsyncEvent_RemovesProviderEvent(t *testing.T) {
	f := newSchedulingFixture()
	eventID := "evt-9"
	task := hourTask(30, 42)
	task.CalendarEventID = &eventID

	f.gateway.On("DeleteEvent", mock.Anything, task.OwnerID, "evt-9").Return(nil).Once()
	f.tasks.On("ClearCalendarEvent", mock.Anything, task.ID).Return(nil).Once()

	require.NoError(t, f.svc.UnsyncEvent(context.Background(), task))
	require.Nil(t, task.CalendarEventID)
	f.gateway.AssertExpectations(t)
}

func TestUnsyncEvent_NoopWithoutEvent(t *testing.T) {
	f := newSchedulingFixture()
	task := hourTask(31, 42)

	require.NoError(t, f.svc.UnsyncEvent(context.Background(), task))
	f.gateway.AssertNotCalled(t, "DeleteEvent", mock.Anything, mock.Anything, mock.Anything)
}

func TestSchedulingKindOf_UnrelatedError(t *testing.T) {
	require.Equal(t, SchedulingErrorKind(""), SchedulingKindOf(errors.New("boom")))
}
