package model

import (
	"sort"
	"strings"
	"time"
)

type EventType string

const (
	EventOneTime   EventType = "one_time"
	EventRecurring EventType = "recurring"
	EventLongTerm  EventType = "long_term"
)

type EventStatus string

const (
	EventUpcoming  EventStatus = "upcoming"
	EventOngoing   EventStatus = "ongoing"
	EventCompleted EventStatus = "completed"
	EventCancelled EventStatus = "cancelled"
)

// Event is owned by an organization profile
type Event struct {
	ID                   string         `json:"id,omitempty"`
	OrganizationID       string         `json:"organization_id,omitempty"`
	Title                string         `json:"title"`
	Description          string         `json:"description"`
	EventType            EventType      `json:"event_type"`
	StartDate            string         `json:"start_date"`
	EndDate              string         `json:"end_date"`
	Location             string         `json:"location"`
	Virtual              bool           `json:"virtual"`
	SkillsNeeded         []string       `json:"skills_needed"`
	VolunteersNeeded     int            `json:"volunteers_needed"`
	VolunteersRegistered int            `json:"volunteers_registered"`
	Status               EventStatus    `json:"status"`
	RecurrenceRule       *string        `json:"recurrence_rule,omitempty"`
	ImpactMetrics        map[string]any `json:"impact_metrics"`
}

func (e Event) Clone() Event {
	e.SkillsNeeded = cloneStrings(e.SkillsNeeded)
	e.RecurrenceRule = cloneString(e.RecurrenceRule)
	if e.ImpactMetrics != nil {
		metrics := make(map[string]any, len(e.ImpactMetrics))
		for k, v := range e.ImpactMetrics {
			metrics[k] = v
		}
		e.ImpactMetrics = metrics
	}
	return e
}

// NewEvent is the input for creating an event
type NewEvent struct {
	Title            string      `json:"title" validate:"notblank,max=200"`
	Description      string      `json:"description" validate:"max=5000"`
	EventType        EventType   `json:"event_type" validate:"oneof=one_time recurring long_term"`
	StartDate        string      `json:"start_date" validate:"timestamp"`
	EndDate          string      `json:"end_date" validate:"timestamp"`
	Location         string      `json:"location" validate:"max=200"`
	Virtual          bool        `json:"virtual"`
	SkillsNeeded     []string    `json:"skills_needed" validate:"dive,notblank"`
	VolunteersNeeded int         `json:"volunteers_needed" validate:"min=0"`
	Status           EventStatus `json:"status,omitempty" validate:"omitempty,oneof=upcoming ongoing completed cancelled"`
	RecurrenceRule   *string     `json:"recurrence_rule,omitempty" validate:"omitnil,notblank"`
}

func (e NewEvent) Validate() error {
	errs := check(e)
	if len(errs.Fields) == 0 {
		checkEventShape(errs, e.EventType, e.StartDate, e.EndDate, e.RecurrenceRule)
	}
	return errs.orNil()
}

// Owned returns the row to insert for the given organization
func (e NewEvent) Owned(organizationID string) Event {
	status := e.Status
	if status == "" {
		status = EventUpcoming
	}
	skills := cloneStrings(e.SkillsNeeded)
	if skills == nil {
		skills = []string{}
	}
	return Event{
		OrganizationID:   organizationID,
		Title:            strings.TrimSpace(e.Title),
		Description:      e.Description,
		EventType:        e.EventType,
		StartDate:        e.StartDate,
		EndDate:          e.EndDate,
		Location:         e.Location,
		Virtual:          e.Virtual,
		SkillsNeeded:     skills,
		VolunteersNeeded: e.VolunteersNeeded,
		Status:           status,
		RecurrenceRule:   cloneString(e.RecurrenceRule),
		ImpactMetrics:    map[string]any{},
	}
}

// EventUpdate is a partial update; nil fields are left untouched
type EventUpdate struct {
	Title                *string      `json:"title,omitempty" validate:"omitnil,notblank,max=200"`
	Description          *string      `json:"description,omitempty" validate:"omitnil,max=5000"`
	EventType            *EventType   `json:"event_type,omitempty" validate:"omitnil,oneof=one_time recurring long_term"`
	StartDate            *string      `json:"start_date,omitempty" validate:"omitnil,timestamp"`
	EndDate              *string      `json:"end_date,omitempty" validate:"omitnil,timestamp"`
	Location             *string      `json:"location,omitempty" validate:"omitnil,max=200"`
	Virtual              *bool        `json:"virtual,omitempty"`
	SkillsNeeded         *[]string    `json:"skills_needed,omitempty" validate:"omitnil,dive,notblank"`
	VolunteersNeeded     *int         `json:"volunteers_needed,omitempty" validate:"omitnil,min=0"`
	VolunteersRegistered *int         `json:"volunteers_registered,omitempty" validate:"omitnil,min=0"`
	Status               *EventStatus `json:"status,omitempty" validate:"omitnil,oneof=upcoming ongoing completed cancelled"`
	RecurrenceRule       *string      `json:"recurrence_rule,omitempty" validate:"omitnil,notblank"`
}

// Validate checks the update on its own and against the event it will be applied to
func (u EventUpdate) Validate(current Event) error {
	errs := check(u)
	if len(errs.Fields) == 0 {
		merged := current.Clone()
		u.ApplyTo(&merged)
		checkEventShape(errs, merged.EventType, merged.StartDate, merged.EndDate, merged.RecurrenceRule)
	}
	return errs.orNil()
}

func (u EventUpdate) IsEmpty() bool {
	return u == (EventUpdate{})
}

// ApplyTo copies the set fields onto e
func (u EventUpdate) ApplyTo(e *Event) {
	setString(&e.Title, u.Title)
	setString(&e.Description, u.Description)
	if u.EventType != nil {
		e.EventType = *u.EventType
	}
	setString(&e.StartDate, u.StartDate)
	setString(&e.EndDate, u.EndDate)
	setString(&e.Location, u.Location)
	if u.Virtual != nil {
		e.Virtual = *u.Virtual
	}
	if u.SkillsNeeded != nil {
		e.SkillsNeeded = cloneStrings(*u.SkillsNeeded)
	}
	if u.VolunteersNeeded != nil {
		e.VolunteersNeeded = *u.VolunteersNeeded
	}
	if u.VolunteersRegistered != nil {
		e.VolunteersRegistered = *u.VolunteersRegistered
	}
	if u.Status != nil {
		e.Status = *u.Status
	}
	if u.RecurrenceRule != nil {
		e.RecurrenceRule = cloneString(u.RecurrenceRule)
	}
}

func checkEventShape(errs *ValidationError, eventType EventType, start, end string, rule *string) {
	startAt, startErr := ParseTimestamp(start)
	endAt, endErr := ParseTimestamp(end)
	if startErr == nil && endErr == nil && endAt.Before(startAt) {
		errs.add("end_date", "must not be before start_date")
	}
	if eventType == EventRecurring && rule == nil {
		errs.add("recurrence_rule", "is required for recurring events")
	}
}

// SortEvents orders events by start date, earliest first
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return eventStart(events[i]).Before(eventStart(events[j]))
	})
}

// eventStart treats an unparseable start date as the zero time
func eventStart(e Event) time.Time {
	parsed, err := ParseTimestamp(e.StartDate)
	if err != nil {
		return time.Time{}
	}
	return parsed
}

// Testimonial is owned by an organization profile and never edited after creation
type Testimonial struct {
	ID             string  `json:"id,omitempty"`
	OrganizationID string  `json:"organization_id,omitempty"`
	AuthorName     string  `json:"author_name"`
	AuthorRole     string  `json:"author_role"`
	Content        string  `json:"content"`
	Rating         int     `json:"rating"`
	EventID        *string `json:"event_id,omitempty"`
	CreatedAt      string  `json:"created_at,omitempty"`
}

func (t Testimonial) Clone() Testimonial {
	t.EventID = cloneString(t.EventID)
	return t
}

// NewTestimonial is the input for adding a testimonial
type NewTestimonial struct {
	AuthorName string  `json:"author_name" validate:"notblank,max=200"`
	AuthorRole string  `json:"author_role" validate:"max=200"`
	Content    string  `json:"content" validate:"notblank,max=5000"`
	Rating     int     `json:"rating" validate:"min=1,max=5"`
	EventID    *string `json:"event_id,omitempty" validate:"omitnil,notblank"`
}

func (t NewTestimonial) Validate() error {
	return Validate(t)
}

// Owned returns the row to insert for the given organization
func (t NewTestimonial) Owned(organizationID string) Testimonial {
	return Testimonial{
		OrganizationID: organizationID,
		AuthorName:     strings.TrimSpace(t.AuthorName),
		AuthorRole:     t.AuthorRole,
		Content:        t.Content,
		Rating:         t.Rating,
		EventID:        cloneString(t.EventID),
	}
}
