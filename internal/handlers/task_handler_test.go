package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"dayflow/internal/models"
	"dayflow/internal/repositories"
	"dayflow/internal/services"
)

type taskServiceMock struct{ mock.Mock }

func (m *taskServiceMock) Create(ctx context.Context, task *models.Task) (*models.Task, error) {
	args := m.Called(ctx, task)
	if t, ok := args.Get(0).(*models.Task); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *taskServiceMock) GetByID(ctx context.Context, id int64) (*models.Task, error) {
	args := m.Called(ctx, id)
	if t, ok := args.Get(0).(*models.Task); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *taskServiceMock) GetAll(ctx context.Context, filter models.TaskFilter) ([]models.Task, error) {
	args := m.Called(ctx, filter)
	if ts, ok := args.Get(0).([]models.Task); ok {
		return ts, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *taskServiceMock) Update(ctx context.Context, id int64, updateData *models.Task) (*models.Task, error) {
	args := m.Called(ctx, id, updateData)
	if t, ok := args.Get(0).(*models.Task); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *taskServiceMock) Complete(ctx context.Context, id int64) (*models.Task, error) {
	args := m.Called(ctx, id)
	if t, ok := args.Get(0).(*models.Task); ok {
		return t, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *taskServiceMock) Delete(ctx context.Context, id int64) error {
	return m.Called(ctx, id).Error(0)
}

type schedulingServiceMock struct{ mock.Mock }

func (m *schedulingServiceMock) ScheduleTask(ctx context.Context, taskID int64) (*services.ScheduleResult, error) {
	args := m.Called(ctx, taskID)
	if res, ok := args.Get(0).(*services.ScheduleResult); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *schedulingServiceMock) ReconcileDeferred(ctx context.Context, ownerID int64) ([]services.ReconcileResult, error) {
	args := m.Called(ctx, ownerID)
	if res, ok := args.Get(0).([]services.ReconcileResult); ok {
		return res, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *schedulingServiceMock) UnsyncEvent(ctx context.Context, task *models.Task) error {
	return m.Called(ctx, task).Error(0)
}

func newTaskRouter(tasks *taskServiceMock, scheduling *schedulingServiceMock, userID int64) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewTaskHandler(tasks, scheduling, zap.NewNop())

	r := gin.New()
	r.Use(func(c *gin.Context) { c.Set("user_id", userID) })
	r.POST("/tasks", h.Create)
	r.GET("/tasks/:id", h.GetByID)
	r.POST("/tasks/:id/schedule", h.Schedule)
	return r
}

func doJSON(r *gin.Engine, method, path string, payload any) *httptest.ResponseRecorder {
	var body bytes.Buffer
	if payload != nil {
		json.NewEncoder(&body).Encode(payload)
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTaskCreate_ScheduledAndSynced(t *testing.T) {
	tasks := &taskServiceMock{}
	scheduling := &schedulingServiceMock{}

	tasks.On("Create", mock.Anything, mock.MatchedBy(func(task *models.Task) bool {
		return task.OwnerID == 1 && task.Title == "Write report" &&
			task.RequiredDuration == 45*time.Minute
	})).Run(func(args mock.Arguments) {
		args.Get(1).(*models.Task).ID = 9
	}).Return(&models.Task{ID: 9, OwnerID: 1, Title: "Write report"}, nil).Once()

	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(45 * time.Minute)
	scheduling.On("ScheduleTask", mock.Anything, int64(9)).Return(&services.ScheduleResult{
		Task: &models.Task{ID: 9, ScheduledStart: &start, ScheduledEnd: &end},
	}, nil).Once()

	w := doJSON(newTaskRouter(tasks, scheduling, 1), http.MethodPost, "/tasks", gin.H{
		"title":            "Write report",
		"duration_minutes": 45,
		"priority":         "high",
	})

	require.Equal(t, http.StatusCreated, w.Code)
	body := w.Body.String()
	require.Equal(t, "scheduled", gjson.Get(body, "scheduling.status").String())
	require.Equal(t, "synced", gjson.Get(body, "scheduling.calendar_sync").String())
	tasks.AssertExpectations(t)
	scheduling.AssertExpectations(t)
}

// An exhausted search window is surfaced in the response; the task itself
// is still created.
func TestTaskCreate_ReportsExhaustion(t *testing.T) {
	tasks := &taskServiceMock{}
	scheduling := &schedulingServiceMock{}

	tasks.On("Create", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { args.Get(1).(*models.Task).ID = 10 }).
		Return(&models.Task{ID: 10, OwnerID: 1, Title: "Huge task"}, nil).Once()
	scheduling.On("ScheduleTask", mock.Anything, int64(10)).
		Return(nil, &services.SchedulingError{Kind: services.SchedExhausted}).Once()

	w := doJSON(newTaskRouter(tasks, scheduling, 1), http.MethodPost, "/tasks", gin.H{
		"title":            "Huge task",
		"duration_minutes": 600,
	})

	require.Equal(t, http.StatusCreated, w.Code)
	body := w.Body.String()
	require.Equal(t, "unscheduled", gjson.Get(body, "scheduling.status").String())
	require.Equal(t, "exhausted", gjson.Get(body, "scheduling.reason").String())
}

func TestTaskCreate_DeferredSyncHintsReconnect(t *testing.T) {
	tasks := &taskServiceMock{}
	scheduling := &schedulingServiceMock{}

	tasks.On("Create", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { args.Get(1).(*models.Task).ID = 11 }).
		Return(&models.Task{ID: 11, OwnerID: 1}, nil).Once()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	end := start.Add(time.Hour)
	scheduling.On("ScheduleTask", mock.Anything, int64(11)).Return(&services.ScheduleResult{
		Task:         &models.Task{ID: 11, ScheduledStart: &start, ScheduledEnd: &end},
		SyncDeferred: true,
	}, nil).Once()

	w := doJSON(newTaskRouter(tasks, scheduling, 1), http.MethodPost, "/tasks", gin.H{
		"title":            "Plan sprint",
		"duration_minutes": 60,
	})

	require.Equal(t, http.StatusCreated, w.Code)
	require.Equal(t, "pending", gjson.Get(w.Body.String(), "scheduling.calendar_sync").String())
}

func TestTaskCreate_RejectsMissingDuration(t *testing.T) {
	tasks := &taskServiceMock{}
	scheduling := &schedulingServiceMock{}

	w := doJSON(newTaskRouter(tasks, scheduling, 1), http.MethodPost, "/tasks", gin.H{
		"title": "No duration",
	})

	require.Equal(t, http.StatusBadRequest, w.Code)
	tasks.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

// Foreign tasks read as not-found, not forbidden: ids are not probeable.
func TestTaskGetByID_HidesForeignTasks(t *testing.T) {
	tasks := &taskServiceMock{}
	scheduling := &schedulingServiceMock{}

	tasks.On("GetByID", mock.Anything, int64(5)).
		Return(&models.Task{ID: 5, OwnerID: 99}, nil).Once()

	w := doJSON(newTaskRouter(tasks, scheduling, 1), http.MethodGet, "/tasks/5", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestTaskSchedule_UnknownTaskIs404(t *testing.T) {
	tasks := &taskServiceMock{}
	scheduling := &schedulingServiceMock{}

	tasks.On("GetByID", mock.Anything, int64(77)).
		Return(nil, repositories.ErrTaskNotFound).Once()

	w := doJSON(newTaskRouter(tasks, scheduling, 1), http.MethodPost, "/tasks/77/schedule", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	scheduling.AssertNotCalled(t, "ScheduleTask", mock.Anything, mock.Anything)
}
