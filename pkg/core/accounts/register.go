// Package accounts creates the users row and per-type profile for a new sign-up
package accounts

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/jakechorley/volunteer-hub/pkg/core/model"
	"github.com/jakechorley/volunteer-hub/pkg/db"
	"github.com/jakechorley/volunteer-hub/pkg/session"
)

// AccountStore is the part of db.Store registration needs
type AccountStore interface {
	FetchOne(ctx context.Context, collection string, filter db.Filter, dest any) error
	Insert(ctx context.Context, collection string, row any, dest any) error
}

// ErrTypeMismatch is returned when an identity registers again with a different user type
var ErrTypeMismatch = errors.New("account already registered with a different user type")

// Register records identity as a user of the given type and creates the matching
// profile with default fields. Registering the same identity and type again is a no-op.
func Register(ctx context.Context, store AccountStore, logger *zap.Logger, identity session.Identity, userType model.UserType) (*model.User, error) {
	if !userType.IsValid() {
		return nil, model.Invalid("user_type", fmt.Sprintf("must be one of %s, %s, %s",
			model.UserTypeIndividual, model.UserTypeOrganization, model.UserTypeCorporate))
	}
	if identity.ID == "" {
		return nil, model.Invalid("id", "is required")
	}

	logger.Info("Registering account", zap.String("user_id", identity.ID), zap.String("user_type", string(userType)))

	user, err := ensureUser(ctx, store, logger, identity, userType)
	if err != nil {
		return nil, err
	}

	if err := ensureProfile(ctx, store, logger, identity, userType); err != nil {
		return nil, err
	}

	logger.Info("Account registered", zap.String("user_id", user.ID))
	return user, nil
}

// Lookup returns the users row for identity
func Lookup(ctx context.Context, store AccountStore, identity session.Identity) (*model.User, error) {
	var user model.User
	if err := store.FetchOne(ctx, db.Users, db.Eq("id", identity.ID), &user); err != nil {
		return nil, fmt.Errorf("failed to fetch user: %w", err)
	}
	return &user, nil
}

func ensureUser(ctx context.Context, store AccountStore, logger *zap.Logger, identity session.Identity, userType model.UserType) (*model.User, error) {
	existing, err := Lookup(ctx, store, identity)
	switch {
	case err == nil:
		if existing.UserType != userType {
			return nil, fmt.Errorf("%w: %s", ErrTypeMismatch, existing.UserType)
		}
		logger.Debug("User already registered", zap.String("user_id", identity.ID))
		return existing, nil
	case !errors.Is(err, db.ErrNotFound):
		return nil, err
	}

	row := model.User{ID: identity.ID, Email: identity.Email, UserType: userType}
	var created model.User
	err = store.Insert(ctx, db.Users, row, &created)
	if db.IsConflict(err) {
		// Registered concurrently elsewhere
		existing, err := Lookup(ctx, store, identity)
		if err != nil {
			return nil, err
		}
		if existing.UserType != userType {
			return nil, fmt.Errorf("%w: %s", ErrTypeMismatch, existing.UserType)
		}
		return existing, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return &created, nil
}

func ensureProfile(ctx context.Context, store AccountStore, logger *zap.Logger, identity session.Identity, userType model.UserType) error {
	collection, profile := defaultProfile(identity, userType)

	var existing db.Record
	err := store.FetchOne(ctx, collection, db.Eq("user_id", identity.ID), &existing)
	switch {
	case err == nil:
		logger.Debug("Profile already exists", zap.String("collection", collection))
		return nil
	case !errors.Is(err, db.ErrNotFound):
		return fmt.Errorf("failed to fetch %s profile: %w", userType, err)
	}

	logger.Debug("Creating profile", zap.String("collection", collection))
	err = store.Insert(ctx, collection, profile, nil)
	if err != nil && !db.IsConflict(err) {
		return fmt.Errorf("failed to create %s profile: %w", userType, err)
	}
	return nil
}

func defaultProfile(identity session.Identity, userType model.UserType) (string, any) {
	switch userType {
	case model.UserTypeOrganization:
		return db.OrganizationProfiles, model.NewOrganizationProfile(identity.ID, identity.Email)
	case model.UserTypeCorporate:
		return db.CorporateProfiles, model.NewCorporateProfile(identity.ID, identity.Email)
	default:
		return db.VolunteerProfiles, model.NewVolunteerProfile(identity.ID, identity.Email)
	}
}
