package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dayflow/internal/models"
	"dayflow/internal/repositories"
	"dayflow/internal/services"
)

type TaskHandler struct {
	tasks      services.TaskService
	scheduling services.SchedulingService
	log        *zap.Logger
}

func NewTaskHandler(tasks services.TaskService, scheduling services.SchedulingService, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{tasks: tasks, scheduling: scheduling, log: logger.Named("task_handler")}
}

// POST /tasks
func (h *TaskHandler) Create(c *gin.Context) {
	var req struct {
		Title           string              `json:"title" binding:"required"`
		Description     string              `json:"description"`
		DurationMinutes int                 `json:"duration_minutes" binding:"required,min=1"`
		Priority        models.TaskPriority `json:"priority"` // high|medium|low
		DueDate         string              `json:"due_date"` // 2006-01-02
		DueTime         string              `json:"due_time"` // 15:04
	}

	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task := &models.Task{
		OwnerID:          userID,
		Title:            req.Title,
		Description:      req.Description,
		RequiredDuration: time.Duration(req.DurationMinutes) * time.Minute,
		Priority:         req.Priority,
	}
	if req.DueDate != "" {
		d, err := time.Parse("2006-01-02", req.DueDate)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid due_date (2006-01-02)"})
			return
		}
		task.DueDate = &d
	}
	if req.DueTime != "" {
		if _, err := time.Parse("15:04", req.DueTime); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid due_time (15:04)"})
			return
		}
		task.DueTime = &req.DueTime
	}

	task, err := h.tasks.Create(c.Request.Context(), task)
	if err != nil {
		h.log.Error("task create failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not create task"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"task":       task,
		"scheduling": h.runScheduling(c, task.ID),
	})
}

// POST /tasks/:id/schedule
func (h *TaskHandler) Schedule(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}
	if !h.ownsTask(c, id) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"scheduling": h.runScheduling(c, id)})
}

// runScheduling translates orchestrator outcomes into the API shape. An
// exhausted search is reported, never papered over with a fallback slot.
func (h *TaskHandler) runScheduling(c *gin.Context, taskID int64) gin.H {
	res, err := h.scheduling.ScheduleTask(c.Request.Context(), taskID)
	if err != nil {
		kind := services.SchedulingKindOf(err)
		h.log.Warn("scheduling failed",
			zap.Int64("task_id", taskID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		reason := "internal"
		if kind != "" {
			reason = string(kind)
		}
		return gin.H{"status": "unscheduled", "reason": reason}
	}
	if res.SyncDeferred {
		return gin.H{
			"status":        "scheduled",
			"calendar_sync": "pending",
			"hint":          "calendar sync pending, reconnect calendar",
			"start":         res.Task.ScheduledStart,
			"end":           res.Task.ScheduledEnd,
		}
	}
	return gin.H{
		"status":        "scheduled",
		"calendar_sync": "synced",
		"start":         res.Task.ScheduledStart,
		"end":           res.Task.ScheduledEnd,
	}
}

// GET /tasks
func (h *TaskHandler) List(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	filter := models.TaskFilter{OwnerID: &userID}
	if v := c.Query("completed"); v != "" {
		completed := v == "true"
		filter.Completed = &completed
	}
	filter.Unscheduled = c.Query("unscheduled") == "true"
	filter.Unsynced = c.Query("unsynced") == "true"

	tasks, err := h.tasks.GetAll(c.Request.Context(), filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not list tasks"})
		return
	}
	c.JSON(http.StatusOK, tasks)
}

// GET /tasks/:id
func (h *TaskHandler) GetByID(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}
	task := h.loadOwnedTask(c, id)
	if task == nil {
		return
	}
	c.JSON(http.StatusOK, task)
}

// POST /tasks/:id/complete
func (h *TaskHandler) Complete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}
	if !h.ownsTask(c, id) {
		return
	}
	task, err := h.tasks.Complete(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not complete task"})
		return
	}
	c.JSON(http.StatusOK, task)
}

// DELETE /tasks/:id
func (h *TaskHandler) Delete(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task id"})
		return
	}
	if !h.ownsTask(c, id) {
		return
	}
	if err := h.tasks.Delete(c.Request.Context(), id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not delete task"})
		return
	}
	c.Status(http.StatusNoContent)
}

// POST /reconcile
func (h *TaskHandler) Reconcile(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}
	results, err := h.scheduling.ReconcileDeferred(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconcile failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (h *TaskHandler) loadOwnedTask(c *gin.Context, id int64) *models.Task {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return nil
	}
	task, err := h.tasks.GetByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repositories.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load task"})
		}
		return nil
	}
	if task.OwnerID != userID {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return nil
	}
	return task
}

func (h *TaskHandler) ownsTask(c *gin.Context, id int64) bool {
	return h.loadOwnedTask(c, id) != nil
}
