package organization

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/volunteer-hub/pkg/core/model"
	"github.com/jakechorley/volunteer-hub/pkg/db"
)

// UpdateProfile applies a partial update to the loaded organization profile
func (s *Service) UpdateProfile(ctx context.Context, update model.OrganizationProfileUpdate) (*model.OrganizationProfile, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	m, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer m.release()

	if update.IsEmpty() {
		return m.snap.Profile, nil
	}

	ctx, cancel := s.cache.WithTimeout(ctx)
	defer cancel()

	s.logger.Info("Updating organization profile", zap.String("profile_id", m.snap.Profile.ID))

	var updated model.OrganizationProfile
	if err := s.store.Update(ctx, db.OrganizationProfiles, db.Eq("id", m.snap.Profile.ID), update, &updated); err != nil {
		return nil, s.cache.Record(m.gen, fmt.Errorf("failed to update organization profile: %w", err))
	}

	if err := s.cache.Mutate(m.gen, func(snap *Snapshot) {
		snap.Profile = updated.Clone()
	}); err != nil {
		return nil, err
	}
	return &updated, nil
}

// CreateEvent inserts an event owned by the organization
func (s *Service) CreateEvent(ctx context.Context, input model.NewEvent) (model.Event, error) {
	if err := input.Validate(); err != nil {
		return model.Event{}, err
	}
	if err := checkRecurrence(input.RecurrenceRule); err != nil {
		return model.Event{}, err
	}

	m, err := s.begin(ctx)
	if err != nil {
		return model.Event{}, err
	}
	defer m.release()

	ctx, cancel := s.cache.WithTimeout(ctx)
	defer cancel()

	s.logger.Info("Creating event",
		zap.String("profile_id", m.snap.Profile.ID),
		zap.String("title", input.Title),
		zap.String("event_type", string(input.EventType)))

	var created model.Event
	if err := s.store.Insert(ctx, db.OrganizationEvents, input.Owned(m.snap.Profile.ID), &created); err != nil {
		return model.Event{}, s.cache.Record(m.gen, fmt.Errorf("failed to create event: %w", err))
	}

	if err := s.cache.Mutate(m.gen, func(snap *Snapshot) {
		snap.Events = append(snap.Events, created.Clone())
		model.SortEvents(snap.Events)
	}); err != nil {
		return model.Event{}, err
	}
	return created, nil
}

// UpdateEvent applies a partial update to one of the organization's events
func (s *Service) UpdateEvent(ctx context.Context, eventID string, update model.EventUpdate) (model.Event, error) {
	m, err := s.begin(ctx)
	if err != nil {
		return model.Event{}, err
	}
	defer m.release()

	current, ok := findEvent(m.snap.Events, eventID)
	if !ok {
		return model.Event{}, fmt.Errorf("event %s: %w", eventID, db.ErrNotFound)
	}
	if err := update.Validate(current); err != nil {
		return model.Event{}, err
	}
	if err := checkRecurrence(update.RecurrenceRule); err != nil {
		return model.Event{}, err
	}
	if update.IsEmpty() {
		return current, nil
	}

	ctx, cancel := s.cache.WithTimeout(ctx)
	defer cancel()

	s.logger.Info("Updating event", zap.String("profile_id", m.snap.Profile.ID), zap.String("event_id", eventID))

	filter := db.Eq("id", eventID).Eq("organization_id", m.snap.Profile.ID)
	var updated model.Event
	if err := s.store.Update(ctx, db.OrganizationEvents, filter, update, &updated); err != nil {
		return model.Event{}, s.cache.Record(m.gen, fmt.Errorf("failed to update event: %w", err))
	}

	if err := s.cache.Mutate(m.gen, func(snap *Snapshot) {
		for i := range snap.Events {
			if snap.Events[i].ID == eventID {
				snap.Events[i] = updated.Clone()
			}
		}
		model.SortEvents(snap.Events)
	}); err != nil {
		return model.Event{}, err
	}
	return updated, nil
}

// AddTestimonial inserts a testimonial and lists it first
func (s *Service) AddTestimonial(ctx context.Context, input model.NewTestimonial) (model.Testimonial, error) {
	if err := input.Validate(); err != nil {
		return model.Testimonial{}, err
	}

	m, err := s.begin(ctx)
	if err != nil {
		return model.Testimonial{}, err
	}
	defer m.release()

	if input.EventID != nil {
		if _, ok := findEvent(m.snap.Events, *input.EventID); !ok {
			return model.Testimonial{}, model.Invalid("event_id", "is not one of this organization's events")
		}
	}

	ctx, cancel := s.cache.WithTimeout(ctx)
	defer cancel()

	s.logger.Info("Adding testimonial",
		zap.String("profile_id", m.snap.Profile.ID),
		zap.String("author", input.AuthorName),
		zap.Int("rating", input.Rating))

	var created model.Testimonial
	if err := s.store.Insert(ctx, db.OrganizationTestimonials, input.Owned(m.snap.Profile.ID), &created); err != nil {
		return model.Testimonial{}, s.cache.Record(m.gen, fmt.Errorf("failed to add testimonial: %w", err))
	}

	if err := s.cache.Mutate(m.gen, func(snap *Snapshot) {
		snap.Testimonials = append([]model.Testimonial{created.Clone()}, snap.Testimonials...)
	}); err != nil {
		return model.Testimonial{}, err
	}
	return created, nil
}

// EventOccurrences expands the next n dates of a cached recurring event after from
func (s *Service) EventOccurrences(eventID string, from time.Time, n int) ([]time.Time, error) {
	event, ok := findEvent(s.State().Events, eventID)
	if !ok {
		return nil, fmt.Errorf("event %s: %w", eventID, db.ErrNotFound)
	}
	return Occurrences(event, from, n)
}

func findEvent(events []model.Event, id string) (model.Event, bool) {
	for _, e := range events {
		if e.ID == id {
			return e.Clone(), true
		}
	}
	return model.Event{}, false
}
