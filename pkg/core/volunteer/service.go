// Package volunteer synchronises a volunteer's profile aggregate (profile, skill
// selection, certifications, availability and the skill and badge catalogs) with
// the remote store, keyed to the signed-in identity.
package volunteer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/volunteer-hub/pkg/core/aggregate"
	"github.com/jakechorley/volunteer-hub/pkg/core/model"
	"github.com/jakechorley/volunteer-hub/pkg/db"
	"github.com/jakechorley/volunteer-hub/pkg/session"
)

// ErrNoProfile is returned by mutations that need a loaded profile
var ErrNoProfile = errors.New("volunteer profile is not loaded")

// PartialFailureError reports a skill replacement whose old selection was cleared
// but whose new selection, and the restore of the old one, could not be written.
// Remote is what the store holds afterwards; the cached selection matches it.
type PartialFailureError struct {
	Requested []string
	Remote    []string
	Err       error
}

func (e *PartialFailureError) Error() string {
	return fmt.Sprintf("skill replacement partially applied (requested %d, stored %d): %v",
		len(e.Requested), len(e.Remote), e.Err)
}

func (e *PartialFailureError) Unwrap() error {
	return e.Err
}

// Snapshot is a volunteer's aggregate as last synchronised with the store
type Snapshot struct {
	Profile        *model.VolunteerProfile
	Skills         []model.Skill
	SelectedSkills []string
	Certifications []model.Certification
	Availability   []model.AvailabilitySlot
	Badges         []model.Badge
}

func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		Profile:        s.Profile.Clone(),
		Skills:         cloneSlice(s.Skills),
		SelectedSkills: cloneSlice(s.SelectedSkills),
		Availability:   cloneSlice(s.Availability),
		Badges:         cloneSlice(s.Badges),
	}
	if s.Certifications != nil {
		out.Certifications = make([]model.Certification, len(s.Certifications))
		for i, c := range s.Certifications {
			out.Certifications[i] = c.Clone()
		}
	}
	return out
}

// State is the snapshot together with the loading flag and last error
type State struct {
	Snapshot
	aggregate.Status
}

// Options tune a Service. A zero Timeout or RetryBackoff picks the default.
type Options struct {
	// Timeout bounds each load or mutation
	Timeout time.Duration
	// SkillInsertRetries is how many times a failed skill insert is retried
	SkillInsertRetries int
	// RetryBackoff is the wait before the first retry, growing linearly
	RetryBackoff time.Duration
}

// Service owns one volunteer aggregate. Loads and mutations run one at a time.
type Service struct {
	store        db.Store
	logger       *zap.Logger
	cache        *aggregate.Cache[Snapshot]
	retries      int
	retryBackoff time.Duration
}

func NewService(store db.Store, logger *zap.Logger, opts Options) *Service {
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	retries := opts.SkillInsertRetries
	if retries < 0 {
		retries = 0
	}
	return &Service{
		store:        store,
		logger:       logger,
		cache:        aggregate.New[Snapshot](opts.Timeout),
		retries:      retries,
		retryBackoff: backoff,
	}
}

// State returns a copy of the cached aggregate
func (s *Service) State() State {
	snap, status := s.cache.View()
	return State{Snapshot: snap, Status: status}
}

// Load replaces the cached aggregate with identity's, superseding any load in flight.
// A nil identity clears the cache and loads nothing.
func (s *Service) Load(ctx context.Context, identity *session.Identity) (State, error) {
	loadCtx, gen := s.cache.Begin(ctx, identity)
	if identity == nil {
		return s.State(), nil
	}
	if err := s.run(loadCtx, gen, *identity); err != nil {
		return State{}, err
	}
	return s.State(), nil
}

// Follow keeps the aggregate loaded for whoever is signed in to provider
func (s *Service) Follow(ctx context.Context, provider *session.Provider) (stop func()) {
	return aggregate.Follow(ctx, provider, s.cache.Begin, s.run, func(identity session.Identity, err error) {
		if errors.Is(err, aggregate.ErrStaleLoad) {
			return
		}
		s.logger.Warn("Volunteer aggregate load failed", zap.String("user_id", identity.ID), zap.Error(err))
	})
}

func (s *Service) run(ctx context.Context, gen uint64, identity session.Identity) error {
	release, err := s.cache.Acquire(ctx)
	if err != nil {
		return s.cache.Fail(gen, err)
	}
	defer release()

	ctx, cancel := s.cache.WithTimeout(ctx)
	defer cancel()

	s.logger.Info("Loading volunteer aggregate", zap.String("user_id", identity.ID))

	snap, err := s.fetchAggregate(ctx, identity)
	if err != nil {
		return s.cache.Fail(gen, err)
	}
	if err := s.cache.Commit(gen, snap); err != nil {
		return err
	}

	s.logger.Info("Volunteer aggregate loaded",
		zap.String("profile_id", snap.Profile.ID),
		zap.Int("selected_skills", len(snap.SelectedSkills)),
		zap.Int("certifications", len(snap.Certifications)),
		zap.Int("availability_slots", len(snap.Availability)))
	return nil
}

// SkillCategories returns the distinct categories of the cached skill catalog
func (s *Service) SkillCategories() []string {
	return model.SkillCategories(s.State().Skills)
}

// EarnedBadges returns the cached badges the profile's points have unlocked
func (s *Service) EarnedBadges() []model.Badge {
	state := s.State()
	if state.Profile == nil {
		return []model.Badge{}
	}
	return model.EarnedBadges(state.Badges, state.Profile.Points)
}

// mutation is the state a mutation applies to, captured under the guard
type mutation struct {
	release  func()
	gen      uint64
	identity session.Identity
	snap     Snapshot
}

// begin acquires the guard for a mutation
func (s *Service) begin(ctx context.Context) (*mutation, error) {
	release, err := s.cache.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	gen, identity := s.cache.Current()
	if identity == nil {
		release()
		return nil, aggregate.ErrNoIdentity
	}

	snap, _ := s.cache.View()
	return &mutation{release: release, gen: gen, identity: *identity, snap: snap}, nil
}

// beginOwned is begin for mutations that need the loaded profile
func (s *Service) beginOwned(ctx context.Context) (*mutation, error) {
	m, err := s.begin(ctx)
	if err != nil {
		return nil, err
	}
	if m.snap.Profile == nil {
		m.release()
		return nil, ErrNoProfile
	}
	return m, nil
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func cloneSlice[T any](in []T) []T {
	if in == nil {
		return nil
	}
	out := make([]T, len(in))
	copy(out, in)
	return out
}
