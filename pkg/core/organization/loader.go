package organization

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jakechorley/volunteer-hub/pkg/core/model"
	"github.com/jakechorley/volunteer-hub/pkg/db"
	"github.com/jakechorley/volunteer-hub/pkg/session"
)

var (
	eventOrder       = []db.Order{db.Asc("start_date")}
	testimonialOrder = []db.Order{db.Desc("created_at")}
)

func (s *Service) fetchAggregate(ctx context.Context, identity session.Identity) (Snapshot, error) {
	profile, err := s.fetchOrCreateProfile(ctx, identity)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Profile: profile}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		events := make([]model.Event, 0)
		if err := s.store.FetchMany(gctx, db.OrganizationEvents, db.Eq("organization_id", profile.ID), eventOrder, &events); err != nil {
			return fmt.Errorf("failed to fetch events: %w", err)
		}
		// Stored start dates may mix date-only and timestamp values
		model.SortEvents(events)
		snap.Events = events
		return nil
	})

	g.Go(func() error {
		testimonials := make([]model.Testimonial, 0)
		if err := s.store.FetchMany(gctx, db.OrganizationTestimonials, db.Eq("organization_id", profile.ID), testimonialOrder, &testimonials); err != nil {
			return fmt.Errorf("failed to fetch testimonials: %w", err)
		}
		snap.Testimonials = testimonials
		return nil
	})

	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}
	return snap, nil
}

func (s *Service) fetchOrCreateProfile(ctx context.Context, identity session.Identity) (*model.OrganizationProfile, error) {
	filter := db.Eq("user_id", identity.ID)

	var profile model.OrganizationProfile
	err := s.store.FetchOne(ctx, db.OrganizationProfiles, filter, &profile)
	if err == nil {
		return &profile, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("failed to fetch organization profile: %w", err)
	}

	s.logger.Info("No organization profile found, creating one", zap.String("user_id", identity.ID))

	var created model.OrganizationProfile
	err = s.store.Insert(ctx, db.OrganizationProfiles, model.NewOrganizationProfile(identity.ID, identity.Email), &created)
	if db.IsConflict(err) {
		s.logger.Debug("Organization profile already exists, re-fetching", zap.String("user_id", identity.ID))
		if err := s.store.FetchOne(ctx, db.OrganizationProfiles, filter, &created); err != nil {
			return nil, fmt.Errorf("failed to fetch organization profile: %w", err)
		}
		return &created, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create organization profile: %w", err)
	}
	return &created, nil
}
