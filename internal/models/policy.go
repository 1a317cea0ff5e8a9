package models

import (
	"fmt"
	"time"
)

// DefaultGranularity is the step size for candidate slot starts.
const DefaultGranularity = 15 * time.Minute

// WorkingHoursPolicy describes when a user is available for scheduled work:
// eligible weekdays, the daily window, and an optional break window that is
// never booked over. Times are minutes from local midnight in Timezone.
type WorkingHoursPolicy struct {
	ID      int64 `json:"id"`
	OwnerID int64 `json:"owner_id"`

	ActiveDays  []time.Weekday `json:"active_days"`
	StartMinute int            `json:"start_minute"`
	EndMinute   int            `json:"end_minute"`

	BreakStartMinute *int `json:"break_start_minute,omitempty"`
	BreakEndMinute   *int `json:"break_end_minute,omitempty"`

	Granularity time.Duration `json:"granularity"`
	Timezone    string        `json:"timezone"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DefaultWorkingHours is the policy created when an account is linked:
// Mon-Fri, 09:00-17:00, break 12:00-13:00.
func DefaultWorkingHours(ownerID int64, timezone string) *WorkingHoursPolicy {
	bs, be := 12*60, 13*60
	if timezone == "" {
		timezone = "UTC"
	}
	return &WorkingHoursPolicy{
		OwnerID: ownerID,
		ActiveDays: []time.Weekday{
			time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday,
		},
		StartMinute:      9 * 60,
		EndMinute:        17 * 60,
		BreakStartMinute: &bs,
		BreakEndMinute:   &be,
		Granularity:      DefaultGranularity,
		Timezone:         timezone,
	}
}

func (p *WorkingHoursPolicy) Validate() error {
	if p.StartMinute < 0 || p.EndMinute > 24*60 {
		return fmt.Errorf("working window out of range")
	}
	if p.StartMinute >= p.EndMinute {
		return fmt.Errorf("start_minute must be before end_minute")
	}
	if (p.BreakStartMinute == nil) != (p.BreakEndMinute == nil) {
		return fmt.Errorf("break window must set both bounds or neither")
	}
	if p.BreakStartMinute != nil {
		if *p.BreakStartMinute >= *p.BreakEndMinute {
			return fmt.Errorf("break_start_minute must be before break_end_minute")
		}
		if *p.BreakStartMinute < p.StartMinute || *p.BreakEndMinute > p.EndMinute {
			return fmt.Errorf("break window must lie within the working window")
		}
	}
	if p.Granularity != 0 && (p.Granularity < time.Minute || p.Granularity%time.Minute != 0) {
		return fmt.Errorf("granularity must be a whole number of minutes, got %s", p.Granularity)
	}
	if _, err := time.LoadLocation(p.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", p.Timezone, err)
	}
	return nil
}

func (p *WorkingHoursPolicy) ActiveOn(d time.Weekday) bool {
	for _, day := range p.ActiveDays {
		if day == d {
			return true
		}
	}
	return false
}

func (p *WorkingHoursPolicy) Location() (*time.Location, error) {
	if p.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(p.Timezone)
}

// Step returns the candidate granularity, falling back to the default.
// Sub-minute values clamp to the default too: candidate stepping counts in
// whole minutes from midnight.
func (p *WorkingHoursPolicy) Step() time.Duration {
	if p.Granularity < time.Minute {
		return DefaultGranularity
	}
	return p.Granularity
}
