package models

import (
	"fmt"
	"time"
)

type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityMedium TaskPriority = "medium"
	PriorityHigh   TaskPriority = "high"
)

// Task represents a unit of work to be placed on the owner's calendar.
//
// Lifecycle: created unscheduled → scheduled (slot assigned) → synced
// (calendar event id assigned) → completed. A synced task reverts to
// scheduled-but-unsynced when the provider invalidates the event.
type Task struct {
	ID               int64         `json:"id"`
	OwnerID          int64         `json:"owner_id"`
	Title            string        `json:"title"`
	Description      string        `json:"description,omitempty"`
	RequiredDuration time.Duration `json:"required_duration"`
	Priority         TaskPriority  `json:"priority"`

	// Upper bound of the scheduling window, in the owner's timezone.
	DueDate *time.Time `json:"due_date,omitempty"`
	DueTime *string    `json:"due_time,omitempty"` // "15:04"

	// Both nil or both set; end - start == RequiredDuration.
	ScheduledStart *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd   *time.Time `json:"scheduled_end,omitempty"`

	// External calendar identifier; nil means not yet synced.
	CalendarEventID *string `json:"calendar_event_id,omitempty"`

	// Present only for chat-originated tasks.
	SourceMessageID *string `json:"source_message_id,omitempty"`
	SourceChannelID *string `json:"source_channel_id,omitempty"`

	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t *Task) IsScheduled() bool {
	return t.ScheduledStart != nil && t.ScheduledEnd != nil
}

func (t *Task) IsSynced() bool {
	return t.CalendarEventID != nil && *t.CalendarEventID != ""
}

// DueAt resolves DueDate/DueTime into a concrete instant in loc.
// A date without a time means end of that day. DueDate is a calendar date:
// its components are read as stored, never converted through loc first, or
// a negative-offset zone would shift the deadline a day early.
func (t *Task) DueAt(loc *time.Location) (*time.Time, error) {
	if t.DueDate == nil {
		return nil, nil
	}
	year, month, day := t.DueDate.Date()
	hour, min := 23, 59
	if t.DueTime != nil && *t.DueTime != "" {
		parsed, err := time.Parse("15:04", *t.DueTime)
		if err != nil {
			return nil, fmt.Errorf("invalid due_time %q: %w", *t.DueTime, err)
		}
		hour, min = parsed.Hour(), parsed.Minute()
	}
	at := time.Date(year, month, day, hour, min, 0, 0, loc)
	return &at, nil
}

// TaskFilter defines the available parameters for filtering tasks.
type TaskFilter struct {
	OwnerID     *int64
	Completed   *bool
	Unscheduled bool
	Unsynced    bool
}
