package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dayflow/internal/models"
	"dayflow/internal/pdf"
	"dayflow/internal/repositories"
)

type ReportsHandler struct {
	tasks    repositories.TaskRepository
	policies repositories.PolicyRepository
	users    repositories.UserRepository
	agenda   pdf.Generator
	log      *zap.Logger
}

func NewReportsHandler(
	tasks repositories.TaskRepository,
	policies repositories.PolicyRepository,
	users repositories.UserRepository,
	agenda pdf.Generator,
	logger *zap.Logger,
) *ReportsHandler {
	return &ReportsHandler{
		tasks:    tasks,
		policies: policies,
		users:    users,
		agenda:   agenda,
		log:      logger.Named("reports"),
	}
}

// GET /reports/agenda?date=2006-01-02
func (h *ReportsHandler) DailyAgenda(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	tz := "UTC"
	userName := ""
	if u, err := h.users.FindByID(c.Request.Context(), userID); err == nil {
		userName = u.Name
		if u.Timezone != "" {
			tz = u.Timezone
		}
	}
	if p, err := h.policies.FindByOwner(c.Request.Context(), userID); err == nil && p.Timezone != "" {
		tz = p.Timezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = time.UTC
	}

	day := time.Now().In(loc)
	if q := c.Query("date"); q != "" {
		parsed, err := time.ParseInLocation("2006-01-02", q, loc)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid date (2006-01-02)"})
			return
		}
		day = parsed
	}
	dayStart := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc)
	dayEnd := dayStart.AddDate(0, 0, 1)

	scheduled, err := h.tasks.FindScheduledInRange(c.Request.Context(), userID, dayStart, dayEnd)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load agenda"})
		return
	}

	data := pdf.AgendaData{
		UserName: userName,
		Date:     dayStart,
		Timezone: tz,
	}
	for _, t := range scheduled {
		data.Rows = append(data.Rows, pdf.AgendaRow{
			Start:    t.ScheduledStart.In(loc),
			End:      t.ScheduledEnd.In(loc),
			Title:    t.Title,
			Priority: string(t.Priority),
			Synced:   t.IsSynced(),
		})
	}

	notDone := false
	unscheduled, err := h.tasks.FindAll(c.Request.Context(), models.TaskFilter{
		OwnerID: &userID, Completed: &notDone, Unscheduled: true,
	})
	if err == nil {
		for _, t := range unscheduled {
			data.Unscheduled = append(data.Unscheduled, t.Title)
		}
	}

	out, err := h.agenda.GenerateDailyAgenda(data)
	if err != nil {
		h.log.Error("agenda render failed", zap.Int64("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not render agenda"})
		return
	}

	c.Header("Content-Disposition",
		fmt.Sprintf("inline; filename=agenda_%s.pdf", dayStart.Format("2006-01-02")))
	c.Data(http.StatusOK, "application/pdf", out)
}
