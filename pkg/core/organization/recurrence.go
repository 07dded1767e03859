package organization

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"github.com/jakechorley/volunteer-hub/pkg/core/model"
)

// ErrNotRecurring is returned when occurrences are requested for an event without a rule
var ErrNotRecurring = errors.New("event has no recurrence rule")

// maxOccurrences caps a single expansion
const maxOccurrences = 366

// checkRecurrence reports a rule rrule-go cannot parse as a validation error
func checkRecurrence(rule *string) error {
	if rule == nil {
		return nil
	}
	if _, err := rrule.StrToRRule(*rule); err != nil {
		return model.Invalid("recurrence_rule", err.Error())
	}
	return nil
}

// Occurrences expands up to n dates of a recurring event strictly after from.
// The series starts at the event's start date and, unless the rule bounds itself
// with UNTIL or COUNT, ends at its end date.
func Occurrences(event model.Event, from time.Time, n int) ([]time.Time, error) {
	if event.RecurrenceRule == nil {
		return nil, ErrNotRecurring
	}
	if n <= 0 {
		return []time.Time{}, nil
	}
	if n > maxOccurrences {
		n = maxOccurrences
	}

	rule, err := rrule.StrToRRule(*event.RecurrenceRule)
	if err != nil {
		return nil, fmt.Errorf("failed to parse recurrence rule: %w", err)
	}

	start, err := model.ParseTimestamp(event.StartDate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse start date: %w", err)
	}
	rule.DTStart(start)

	text := strings.ToUpper(*event.RecurrenceRule)
	if !strings.Contains(text, "UNTIL=") && !strings.Contains(text, "COUNT=") {
		if end, err := model.ParseTimestamp(event.EndDate); err == nil && end.After(start) {
			rule.Until(end)
		}
	}

	occurrences := make([]time.Time, 0, n)
	after := from
	for len(occurrences) < n {
		next := rule.After(after, false)
		if next.IsZero() {
			break
		}
		occurrences = append(occurrences, next)
		after = next
	}
	return occurrences, nil
}
