// Package scheduler holds the pure slot-finding algorithm. It performs no
// I/O and is safe to call concurrently; all calendar and repository access
// happens in the callers that assemble its inputs.
package scheduler

import (
	"errors"
	"fmt"
	"time"

	"dayflow/internal/models"
)

// ErrNoSlotAvailable is returned when the search window is exhausted without
// a fitting slot. Callers must surface it, never fall back to an arbitrary
// time.
var ErrNoSlotAvailable = errors.New("no slot available in search window")

// FindSlot returns the earliest interval of length duration that fits the
// policy and conflicts with nothing in committed, searching window.Start up
// to window.End.
//
// Candidates advance in policy-granularity steps. A candidate is rejected
// when its day is inactive, it falls outside the daily working window, or it
// overlaps the break window or a committed interval. Rejection advances by
// one step; running past the daily end jumps to the next day's start. The
// window end bounds the search so an empty ActiveDays set or an oversized
// duration terminates with ErrNoSlotAvailable.
func FindSlot(policy *models.WorkingHoursPolicy, committed []Interval, duration time.Duration, window Interval) (Interval, error) {
	if duration <= 0 {
		return Interval{}, fmt.Errorf("duration must be positive, got %s", duration)
	}
	if err := policy.Validate(); err != nil {
		return Interval{}, fmt.Errorf("invalid working hours policy: %w", err)
	}
	loc, err := policy.Location()
	if err != nil {
		return Interval{}, err
	}

	step := policy.Step()
	cand := ceilToStep(window.Start.In(loc), step)

	for cand.Before(window.End) {
		if !policy.ActiveOn(cand.Weekday()) {
			cand = nextDayStart(cand, policy.StartMinute, loc)
			continue
		}

		dayStart := atMinute(cand, policy.StartMinute, loc)
		dayEnd := atMinute(cand, policy.EndMinute, loc)

		if cand.Before(dayStart) {
			cand = ceilToStep(dayStart, step)
			continue
		}

		end := cand.Add(duration)
		if end.After(dayEnd) {
			cand = nextDayStart(cand, policy.StartMinute, loc)
			continue
		}

		slot := Interval{Start: cand, End: end}

		if policy.BreakStartMinute != nil {
			brk := Interval{
				Start: atMinute(cand, *policy.BreakStartMinute, loc),
				End:   atMinute(cand, *policy.BreakEndMinute, loc),
			}
			if slot.Overlaps(brk) {
				cand = cand.Add(step)
				continue
			}
		}

		if conflicts(slot, committed) {
			cand = cand.Add(step)
			continue
		}

		return slot, nil
	}

	return Interval{}, ErrNoSlotAvailable
}

func conflicts(slot Interval, committed []Interval) bool {
	for _, iv := range committed {
		if slot.Overlaps(iv) {
			return true
		}
	}
	return false
}

// ceilToStep rounds t up to the next step boundary counted from local
// midnight. A time already on a boundary is returned unchanged.
func ceilToStep(t time.Time, step time.Duration) time.Time {
	stepMin := int(step / time.Minute)
	mins := t.Hour()*60 + t.Minute()
	if t.Second() > 0 || t.Nanosecond() > 0 {
		mins++
	}
	if rem := mins % stepMin; rem != 0 {
		mins += stepMin - rem
	}
	return atMinute(t, mins, t.Location())
}

func atMinute(day time.Time, minute int, loc *time.Location) time.Time {
	d := day.In(loc)
	return time.Date(d.Year(), d.Month(), d.Day(), minute/60, minute%60, 0, 0, loc)
}

func nextDayStart(t time.Time, startMinute int, loc *time.Location) time.Time {
	d := t.In(loc)
	next := time.Date(d.Year(), d.Month(), d.Day()+1, 0, 0, 0, 0, loc)
	return atMinute(next, startMinute, loc)
}
