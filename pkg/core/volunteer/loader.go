package volunteer

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

var availabilityOrder = []db.Order{db.Asc("day_of_week"), db.Asc("start_time")}

// fetchAggregate reads everything for identity. The catalogs are fetched alongside
// the profile; the owned collections follow once the profile id is known.
func (s *Service) fetchAggregate(ctx context.Context, identity session.Identity) (Snapshot, error) {
	var snap Snapshot
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.store.FetchMany(gctx, db.Skills, nil, []db.Order{db.Asc("name")}, &snap.Skills); err != nil {
			return fmt.Errorf("failed to fetch skill catalog: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := s.store.FetchMany(gctx, db.Badges, nil, []db.Order{db.Asc("points_required")}, &snap.Badges); err != nil {
			return fmt.Errorf("failed to fetch badge catalog: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		profile, err := s.fetchOrCreateProfile(gctx, identity)
		if err != nil {
			return err
		}
		snap.Profile = profile
		return s.fetchOwned(gctx, profile.ID, &snap)
	})

	if err := g.Wait(); err != nil {
		return Snapshot{}, err
	}

	if snap.Skills == nil {
		snap.Skills = []model.Skill{}
	}
	if snap.Badges == nil {
		snap.Badges = []model.Badge{}
	}
	return snap, nil
}

// fetchOrCreateProfile returns identity's profile, creating it with defaults on first access
func (s *Service) fetchOrCreateProfile(ctx context.Context, identity session.Identity) (*model.VolunteerProfile, error) {
	var profile model.VolunteerProfile
	err := s.store.FetchOne(ctx, db.VolunteerProfiles, db.Eq("user_id", identity.ID), &profile)
	if err == nil {
		return &profile, nil
	}
	if !errors.Is(err, db.ErrNotFound) {
		return nil, fmt.Errorf("failed to fetch volunteer profile: %w", err)
	}

	s.logger.Info("No volunteer profile found, creating one", zap.String("user_id", identity.ID))

	var created model.VolunteerProfile
	err = s.store.Insert(ctx, db.VolunteerProfiles, model.NewVolunteerProfile(identity.ID, identity.Email), &created)
	if db.IsConflict(err) {
		// Created concurrently elsewhere
		s.logger.Debug("Volunteer profile already exists, re-fetching", zap.String("user_id", identity.ID))
		if err := s.store.FetchOne(ctx, db.VolunteerProfiles, db.Eq("user_id", identity.ID), &created); err != nil {
			return nil, fmt.Errorf("failed to fetch volunteer profile: %w", err)
		}
		return &created, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create volunteer profile: %w", err)
	}
	return &created, nil
}

// fetchOwned reads the three profile-owned collections concurrently
func (s *Service) fetchOwned(ctx context.Context, profileID string, snap *Snapshot) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		selected, err := s.fetchSelection(gctx, profileID)
		if err != nil {
			return err
		}
		snap.SelectedSkills = selected
		return nil
	})

	g.Go(func() error {
		certs := make([]model.Certification, 0)
		if err := s.store.FetchMany(gctx, db.Certifications, db.Eq("volunteer_id", profileID), nil, &certs); err != nil {
			return fmt.Errorf("failed to fetch certifications: %w", err)
		}
		snap.Certifications = certs
		return nil
	})

	g.Go(func() error {
		slots, err := s.fetchAvailability(gctx, profileID)
		if err != nil {
			return err
		}
		snap.Availability = slots
		return nil
	})

	return g.Wait()
}

func (s *Service) fetchSelection(ctx context.Context, profileID string) ([]string, error) {
	var edges []model.SkillSelection
	if err := s.store.FetchMany(ctx, db.VolunteerSkills, db.Eq("volunteer_id", profileID), nil, &edges); err != nil {
		return nil, fmt.Errorf("failed to fetch selected skills: %w", err)
	}

	ids := make([]string, 0, len(edges))
	for _, edge := range edges {
		ids = append(ids, edge.SkillID)
	}
	return dedupe(ids), nil
}

func (s *Service) fetchAvailability(ctx context.Context, profileID string) ([]model.AvailabilitySlot, error) {
	slots := make([]model.AvailabilitySlot, 0)
	if err := s.store.FetchMany(ctx, db.Availability, db.Eq("volunteer_id", profileID), availabilityOrder, &slots); err != nil {
		return nil, fmt.Errorf("failed to fetch availability: %w", err)
	}
	return slots, nil
}
