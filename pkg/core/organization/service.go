// Package organization synchronises an organization's aggregate (profile, events
// and testimonials) with the remote store, keyed to the signed-in identity.
package organization

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/jakechorley/volunteer-hub/pkg/core/aggregate"
	"github.com/jakechorley/volunteer-hub/pkg/core/model"
	"github.com/jakechorley/volunteer-hub/pkg/db"
	"github.com/jakechorley/volunteer-hub/pkg/session"
)

// ErrNoProfile is returned by mutations that need a loaded profile
var ErrNoProfile = errors.New("organization profile is not loaded")

// Snapshot is an organization's aggregate as last synchronised with the store
type Snapshot struct {
	Profile      *model.OrganizationProfile
	Events       []model.Event
	Testimonials []model.Testimonial
}

func (s Snapshot) Clone() Snapshot {
	out := Snapshot{Profile: s.Profile.Clone()}
	if s.Events != nil {
		out.Events = make([]model.Event, len(s.Events))
		for i, e := range s.Events {
			out.Events[i] = e.Clone()
		}
	}
	if s.Testimonials != nil {
		out.Testimonials = make([]model.Testimonial, len(s.Testimonials))
		for i, t := range s.Testimonials {
			out.Testimonials[i] = t.Clone()
		}
	}
	return out
}

// State is the snapshot together with the loading flag and last error
type State struct {
	Snapshot
	aggregate.Status
}

// Service owns one organization aggregate
type Service struct {
	store  db.Store
	logger *zap.Logger
	cache  *aggregate.Cache[Snapshot]
}

// NewService creates a service whose remote calls are bounded by timeout (zero for the default)
func NewService(store db.Store, logger *zap.Logger, timeout time.Duration) *Service {
	return &Service{
		store:  store,
		logger: logger,
		cache:  aggregate.New[Snapshot](timeout),
	}
}

// State returns a copy of the cached aggregate
func (s *Service) State() State {
	snap, status := s.cache.View()
	return State{Snapshot: snap, Status: status}
}

// Load replaces the cached aggregate with identity's. A nil identity clears it.
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
		s.logger.Warn("Organization aggregate load failed", zap.String("user_id", identity.ID), zap.Error(err))
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

	s.logger.Info("Loading organization aggregate", zap.String("user_id", identity.ID))

	snap, err := s.fetchAggregate(ctx, identity)
	if err != nil {
		return s.cache.Fail(gen, err)
	}
	if err := s.cache.Commit(gen, snap); err != nil {
		return err
	}

	s.logger.Info("Organization aggregate loaded",
		zap.String("profile_id", snap.Profile.ID),
		zap.Int("events", len(snap.Events)),
		zap.Int("testimonials", len(snap.Testimonials)))
	return nil
}

type mutation struct {
	release func()
	gen     uint64
	snap    Snapshot
}

// begin acquires the guard for a mutation on the loaded profile
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
	if snap.Profile == nil {
		release()
		return nil, ErrNoProfile
	}
	return &mutation{release: release, gen: gen, snap: snap}, nil
}
