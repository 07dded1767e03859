package model

import (
	"fmt"
	"sort"
	"time"
)

// AvailabilitySlot is a weekly time window owned by a volunteer profile.
// Slots may overlap; day_of_week runs from 0 (Sunday) to 6 (Saturday).
type AvailabilitySlot struct {
	ID          string `json:"id,omitempty"`
	VolunteerID string `json:"volunteer_id,omitempty"`
	DayOfWeek   int    `json:"day_of_week"`
	StartTime   string `json:"start_time"`
	EndTime     string `json:"end_time"`
}

// NewAvailabilitySlot is the input for adding a slot
type NewAvailabilitySlot struct {
	DayOfWeek int    `json:"day_of_week" validate:"min=0,max=6"`
	StartTime string `json:"start_time" validate:"clock"`
	EndTime   string `json:"end_time" validate:"clock"`
}

func (s NewAvailabilitySlot) Validate() error {
	errs := check(s)
	if len(errs.Fields) == 0 && normalizeClock(s.EndTime) <= normalizeClock(s.StartTime) {
		errs.add("end_time", "must be after start_time")
	}
	return errs.orNil()
}

// Owned returns the row to insert for the given profile
func (s NewAvailabilitySlot) Owned(volunteerID string) AvailabilitySlot {
	return AvailabilitySlot{
		VolunteerID: volunteerID,
		DayOfWeek:   s.DayOfWeek,
		StartTime:   s.StartTime,
		EndTime:     s.EndTime,
	}
}

// SortAvailability orders slots by day then start time
func SortAvailability(slots []AvailabilitySlot) {
	sort.SliceStable(slots, func(i, j int) bool {
		if slots[i].DayOfWeek != slots[j].DayOfWeek {
			return slots[i].DayOfWeek < slots[j].DayOfWeek
		}
		return normalizeClock(slots[i].StartTime) < normalizeClock(slots[j].StartTime)
	})
}

// AvailabilitySorted reports whether slots are in day then start time order
func AvailabilitySorted(slots []AvailabilitySlot) bool {
	return sort.SliceIsSorted(slots, func(i, j int) bool {
		if slots[i].DayOfWeek != slots[j].DayOfWeek {
			return slots[i].DayOfWeek < slots[j].DayOfWeek
		}
		return normalizeClock(slots[i].StartTime) < normalizeClock(slots[j].StartTime)
	})
}

// DayName returns the English weekday name for a day_of_week value
func DayName(day int) string {
	if day < 0 || day > 6 {
		return fmt.Sprintf("Day %d", day)
	}
	return time.Weekday(day).String()
}

// normalizeClock pads HH:MM to HH:MM:SS so both forms compare correctly
func normalizeClock(clock string) string {
	if len(clock) == len("15:04") {
		return clock + ":00"
	}
	return clock
}
