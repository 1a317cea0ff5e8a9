package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dayflow/internal/models"
	"dayflow/internal/repositories"
)

type SettingsHandler struct {
	policies repositories.PolicyRepository
	users    repositories.UserRepository
	log      *zap.Logger
}

func NewSettingsHandler(policies repositories.PolicyRepository, users repositories.UserRepository, logger *zap.Logger) *SettingsHandler {
	return &SettingsHandler{policies: policies, users: users, log: logger.Named("settings_handler")}
}

type workingHoursPayload struct {
	ActiveDays []int  `json:"active_days"` // 0=Sunday .. 6=Saturday
	Start      string `json:"start"`       // 09:00
	End        string `json:"end"`         // 17:00
	BreakStart string `json:"break_start,omitempty"`
	BreakEnd   string `json:"break_end,omitempty"`
	Timezone   string `json:"timezone"`
}

// GET /settings/working-hours
func (h *SettingsHandler) GetWorkingHours(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	policy, err := h.policies.FindByOwner(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, repositories.ErrPolicyNotFound) {
			tz := "UTC"
			if u, uerr := h.users.FindByID(c.Request.Context(), userID); uerr == nil && u.Timezone != "" {
				tz = u.Timezone
			}
			policy = models.DefaultWorkingHours(userID, tz)
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load settings"})
			return
		}
	}
	c.JSON(http.StatusOK, policyToPayload(policy))
}

// PUT /settings/working-hours
func (h *SettingsHandler) UpdateWorkingHours(c *gin.Context) {
	userID, ok := getUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
		return
	}

	var req workingHoursPayload
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	policy, err := payloadToPolicy(userID, req)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := policy.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.policies.Upsert(c.Request.Context(), policy); err != nil {
		h.log.Error("policy upsert failed", zap.Int64("owner_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not save settings"})
		return
	}
	c.JSON(http.StatusOK, policyToPayload(policy))
}

func policyToPayload(p *models.WorkingHoursPolicy) workingHoursPayload {
	out := workingHoursPayload{
		Start:    minuteToClock(p.StartMinute),
		End:      minuteToClock(p.EndMinute),
		Timezone: p.Timezone,
	}
	for _, d := range p.ActiveDays {
		out.ActiveDays = append(out.ActiveDays, int(d))
	}
	if p.BreakStartMinute != nil {
		out.BreakStart = minuteToClock(*p.BreakStartMinute)
		out.BreakEnd = minuteToClock(*p.BreakEndMinute)
	}
	return out
}

func payloadToPolicy(ownerID int64, req workingHoursPayload) (*models.WorkingHoursPolicy, error) {
	policy := &models.WorkingHoursPolicy{
		OwnerID:     ownerID,
		Granularity: models.DefaultGranularity,
		Timezone:    req.Timezone,
	}
	for _, d := range req.ActiveDays {
		if d < 0 || d > 6 {
			return nil, fmt.Errorf("invalid weekday %d", d)
		}
		policy.ActiveDays = append(policy.ActiveDays, time.Weekday(d))
	}

	var err error
	if policy.StartMinute, err = clockToMinute(req.Start); err != nil {
		return nil, err
	}
	if policy.EndMinute, err = clockToMinute(req.End); err != nil {
		return nil, err
	}
	if (req.BreakStart == "") != (req.BreakEnd == "") {
		return nil, fmt.Errorf("break window must set both bounds or neither")
	}
	if req.BreakStart != "" {
		bs, err := clockToMinute(req.BreakStart)
		if err != nil {
			return nil, err
		}
		be, err := clockToMinute(req.BreakEnd)
		if err != nil {
			return nil, err
		}
		policy.BreakStartMinute = &bs
		policy.BreakEndMinute = &be
	}
	return policy, nil
}

func clockToMinute(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q (expect 15:04)", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func minuteToClock(m int) string {
	return fmt.Sprintf("%02d:%02d", m/60, m%60)
}
