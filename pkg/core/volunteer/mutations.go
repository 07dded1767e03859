package volunteer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/volunteer-hub/pkg/core/model"
	"github.com/jakechorley/volunteer-hub/pkg/db"
	"github.com/jakechorley/volunteer-hub/pkg/session"
)

// UpdateProfile applies a partial update to the signed-in volunteer's profile,
// creating the profile from defaults plus the update if it does not exist yet.
func (s *Service) UpdateProfile(ctx context.Context, update model.VolunteerProfileUpdate) (*model.VolunteerProfile, error) {
	if err := update.Validate(); err != nil {
		return nil, err
	}

	m, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	defer m.release()

	ctx, cancel := s.cache.WithTimeout(ctx)
	defer cancel()

	s.logger.Info("Updating volunteer profile", zap.String("user_id", m.identity.ID))

	profile, err := s.writeProfile(ctx, m.identity, update)
	if err != nil {
		return nil, s.cache.Record(m.gen, err)
	}

	if err := s.cache.Mutate(m.gen, func(snap *Snapshot) {
		snap.Profile = profile.Clone()
	}); err != nil {
		return nil, err
	}
	return profile, nil
}

func (s *Service) writeProfile(ctx context.Context, identity session.Identity, update model.VolunteerProfileUpdate) (*model.VolunteerProfile, error) {
	filter := db.Eq("user_id", identity.ID)

	var current model.VolunteerProfile
	err := s.store.FetchOne(ctx, db.VolunteerProfiles, filter, &current)
	switch {
	case errors.Is(err, db.ErrNotFound):
		row := model.NewVolunteerProfile(identity.ID, identity.Email)
		update.ApplyTo(&row)

		s.logger.Debug("Creating volunteer profile from update", zap.String("user_id", identity.ID))
		var created model.VolunteerProfile
		if err := s.store.Insert(ctx, db.VolunteerProfiles, row, &created); err != nil {
			return nil, fmt.Errorf("failed to create volunteer profile: %w", err)
		}
		return &created, nil

	case err != nil:
		return nil, fmt.Errorf("failed to fetch volunteer profile: %w", err)

	case update.IsEmpty():
		return &current, nil
	}

	var updated model.VolunteerProfile
	if err := s.store.Update(ctx, db.VolunteerProfiles, filter, update, &updated); err != nil {
		return nil, fmt.Errorf("failed to update volunteer profile: %w", err)
	}
	return &updated, nil
}

// ReplaceSkills makes skillIDs the complete skill selection. Duplicates are
// dropped and every id must be in the cached catalog.
//
// The store has no transaction across the delete and the insert. A failed insert is
// retried; if it still fails the previous selection is written back. Only if that
// fails too is a *PartialFailureError returned, with the cache set to what the store holds.
func (s *Service) ReplaceSkills(ctx context.Context, skillIDs []string) ([]string, error) {
	target := dedupe(skillIDs)

	m, err := s.beginOwned(ctx)
	if err != nil {
		return nil, err
	}
	defer m.release()

	if err := checkCatalog(target, m.snap.Skills); err != nil {
		return nil, err
	}

	ctx, cancel := s.cache.WithTimeout(ctx)
	defer cancel()

	profileID := m.snap.Profile.ID
	previous := m.snap.SelectedSkills
	s.logger.Info("Replacing volunteer skills",
		zap.String("profile_id", profileID),
		zap.Strings("skill_ids", target))

	if _, err := s.store.Delete(ctx, db.VolunteerSkills, db.Eq("volunteer_id", profileID)); err != nil {
		return nil, s.cache.Record(m.gen, fmt.Errorf("failed to clear skills: %w", err))
	}

	if err := s.insertSelection(ctx, profileID, target); err != nil {
		return nil, s.recoverSelection(ctx, m.gen, profileID, target, previous, err)
	}

	if err := s.cache.Mutate(m.gen, func(snap *Snapshot) {
		snap.SelectedSkills = cloneSlice(target)
	}); err != nil {
		return nil, err
	}
	return cloneSlice(target), nil
}

func checkCatalog(ids []string, catalog []model.Skill) error {
	known := make(map[string]bool, len(catalog))
	for _, skill := range catalog {
		known[skill.ID] = true
	}

	var unknown []string
	for _, id := range ids {
		if !known[id] {
			unknown = append(unknown, id)
		}
	}
	if len(unknown) > 0 {
		return model.Invalid("skill_ids", fmt.Sprintf("unknown skills: %s", strings.Join(unknown, ", ")))
	}
	return nil
}

// insertSelection writes one edge per id, retrying failed inserts
func (s *Service) insertSelection(ctx context.Context, profileID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	rows := make([]model.SkillSelection, len(ids))
	for i, id := range ids {
		rows[i] = model.SkillSelection{VolunteerID: profileID, SkillID: id}
	}

	var err error
	for attempt := 0; attempt <= s.retries; attempt++ {
		if attempt > 0 {
			s.logger.Debug("Retrying skill insert", zap.Int("attempt", attempt), zap.Error(err))
			if waitErr := sleep(ctx, time.Duration(attempt)*s.retryBackoff); waitErr != nil {
				return fmt.Errorf("failed to insert skills: %w", errors.Join(err, waitErr))
			}
		}
		if err = s.store.InsertMany(ctx, db.VolunteerSkills, rows, nil); err == nil {
			return nil
		}
	}
	return fmt.Errorf("failed to insert skills: %w", err)
}

// recoverSelection runs after the old edges were deleted and the new ones could not be written
func (s *Service) recoverSelection(ctx context.Context, gen uint64, profileID string, target, previous []string, insertErr error) error {
	s.logger.Warn("Skill insert failed after clearing selection, restoring previous skills",
		zap.String("profile_id", profileID),
		zap.Int("previous", len(previous)),
		zap.Error(insertErr))

	// Recovery must run even if the caller's context is done
	ctx, cancel := s.cache.WithTimeout(context.WithoutCancel(ctx))
	defer cancel()

	restoreErr := s.insertSelection(ctx, profileID, previous)
	if restoreErr == nil {
		return s.cache.Record(gen, fmt.Errorf("failed to replace skills, previous selection restored: %w", insertErr))
	}

	remote, readErr := s.fetchSelection(ctx, profileID)
	if readErr != nil {
		// Both inserts were all-or-nothing and failed, so nothing is stored
		s.logger.Warn("Failed to read back skills, assuming none are stored", zap.Error(readErr))
		remote = []string{}
	}

	partial := &PartialFailureError{
		Requested: cloneSlice(target),
		Remote:    remote,
		Err:       errors.Join(insertErr, restoreErr),
	}
	if err := s.cache.Mutate(gen, func(snap *Snapshot) {
		snap.SelectedSkills = cloneSlice(remote)
	}); err != nil {
		return err
	}
	return s.cache.Record(gen, partial)
}

// AddCertification appends a certification to the profile
func (s *Service) AddCertification(ctx context.Context, input model.NewCertification) (model.Certification, error) {
	if err := input.Validate(); err != nil {
		return model.Certification{}, err
	}

	m, err := s.beginOwned(ctx)
	if err != nil {
		return model.Certification{}, err
	}
	defer m.release()

	ctx, cancel := s.cache.WithTimeout(ctx)
	defer cancel()

	s.logger.Info("Adding certification",
		zap.String("profile_id", m.snap.Profile.ID),
		zap.String("name", input.Name))

	var created model.Certification
	if err := s.store.Insert(ctx, db.Certifications, input.Owned(m.snap.Profile.ID), &created); err != nil {
		return model.Certification{}, s.cache.Record(m.gen, fmt.Errorf("failed to add certification: %w", err))
	}

	if err := s.cache.Mutate(m.gen, func(snap *Snapshot) {
		snap.Certifications = append(snap.Certifications, created.Clone())
	}); err != nil {
		return model.Certification{}, err
	}
	return created, nil
}

// AddAvailability inserts slots and then re-reads the profile's full, ordered list
func (s *Service) AddAvailability(ctx context.Context, slots ...model.NewAvailabilitySlot) ([]model.AvailabilitySlot, error) {
	if len(slots) == 0 {
		return nil, model.Invalid("slots", "at least one slot is required")
	}
	for i, slot := range slots {
		if err := slot.Validate(); err != nil {
			return nil, fmt.Errorf("slot %d: %w", i+1, err)
		}
	}

	m, err := s.beginOwned(ctx)
	if err != nil {
		return nil, err
	}
	defer m.release()

	ctx, cancel := s.cache.WithTimeout(ctx)
	defer cancel()

	profileID := m.snap.Profile.ID
	s.logger.Info("Adding availability", zap.String("profile_id", profileID), zap.Int("slots", len(slots)))

	rows := make([]model.AvailabilitySlot, len(slots))
	for i, slot := range slots {
		rows[i] = slot.Owned(profileID)
	}

	var created []model.AvailabilitySlot
	if err := s.store.InsertMany(ctx, db.Availability, rows, &created); err != nil {
		return nil, s.cache.Record(m.gen, fmt.Errorf("failed to add availability: %w", err))
	}

	list, err := s.fetchAvailability(ctx, profileID)
	if err != nil {
		// The insert committed, so keep the cache in line with the store from what we know
		s.logger.Warn("Failed to re-fetch availability, merging inserted slots locally", zap.Error(err))
		list = append(cloneSlice(m.snap.Availability), created...)
		model.SortAvailability(list)
	}

	if err := s.cache.Mutate(m.gen, func(snap *Snapshot) {
		snap.Availability = cloneSlice(list)
	}); err != nil {
		return nil, err
	}
	return list, nil
}

// DeleteAvailability removes one of the profile's slots. The cache changes only
// once the store confirms the delete; an unknown slot id yields db.ErrNotFound.
func (s *Service) DeleteAvailability(ctx context.Context, slotID string) ([]model.AvailabilitySlot, error) {
	m, err := s.beginOwned(ctx)
	if err != nil {
		return nil, err
	}
	defer m.release()

	ctx, cancel := s.cache.WithTimeout(ctx)
	defer cancel()

	profileID := m.snap.Profile.ID
	s.logger.Info("Deleting availability slot", zap.String("profile_id", profileID), zap.String("slot_id", slotID))

	deleted, err := s.store.Delete(ctx, db.Availability, db.Eq("id", slotID).Eq("volunteer_id", profileID))
	if err != nil {
		return nil, s.cache.Record(m.gen, fmt.Errorf("failed to delete availability slot: %w", err))
	}
	if deleted == 0 {
		return nil, s.cache.Record(m.gen, fmt.Errorf("availability slot %s: %w", slotID, db.ErrNotFound))
	}

	list := make([]model.AvailabilitySlot, 0, len(m.snap.Availability))
	for _, slot := range m.snap.Availability {
		if slot.ID != slotID {
			list = append(list, slot)
		}
	}

	if err := s.cache.Mutate(m.gen, func(snap *Snapshot) {
		snap.Availability = cloneSlice(list)
	}); err != nil {
		return nil, err
	}
	return list, nil
}

// AddSkill adds an entry to the global skill catalog
func (s *Service) AddSkill(ctx context.Context, input model.NewSkill) (model.Skill, error) {
	if err := input.Validate(); err != nil {
		return model.Skill{}, err
	}

	m, err := s.beginOwned(ctx)
	if err != nil {
		return model.Skill{}, err
	}
	defer m.release()

	name := strings.TrimSpace(input.Name)
	for _, skill := range m.snap.Skills {
		if strings.EqualFold(skill.Name, name) {
			return model.Skill{}, model.Invalid("name", fmt.Sprintf("skill %q already exists", skill.Name))
		}
	}

	ctx, cancel := s.cache.WithTimeout(ctx)
	defer cancel()

	s.logger.Info("Adding skill to catalog", zap.String("name", name), zap.String("category", input.Category))

	var created model.Skill
	row := model.Skill{Name: name, Category: strings.TrimSpace(input.Category)}
	if err := s.store.Insert(ctx, db.Skills, row, &created); err != nil {
		return model.Skill{}, s.cache.Record(m.gen, fmt.Errorf("failed to add skill: %w", err))
	}

	if err := s.cache.Mutate(m.gen, func(snap *Snapshot) {
		snap.Skills = append(snap.Skills, created)
		sort.SliceStable(snap.Skills, func(i, j int) bool {
			return snap.Skills[i].Name < snap.Skills[j].Name
		})
	}); err != nil {
		return model.Skill{}, err
	}
	return created, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
