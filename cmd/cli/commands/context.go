package commands

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/jakechorley/volunteer-hub/internal/config"
	"github.com/jakechorley/volunteer-hub/pkg/core/accounts"
	"github.com/jakechorley/volunteer-hub/pkg/core/model"
	"github.com/jakechorley/volunteer-hub/pkg/core/notifications"
	"github.com/jakechorley/volunteer-hub/pkg/core/organization"
	"github.com/jakechorley/volunteer-hub/pkg/core/volunteer"
	"github.com/jakechorley/volunteer-hub/pkg/db"
	"github.com/jakechorley/volunteer-hub/pkg/session"
)

// ErrNotSignedIn is returned by commands that need an identity
var ErrNotSignedIn = errors.New("not signed in (use signIn or --email)")

// AppContext holds the application dependencies shared across all commands
type AppContext struct {
	Cfg           *config.Config
	Store         db.Store
	Session       *session.Provider
	Auth          *session.AuthClient // nil unless the backend has an auth server
	Volunteers    *volunteer.Service
	Organizations *organization.Service
	Notifications *notifications.Center
	Logger        *zap.Logger
	Ctx           context.Context

	// Sessions keeps the signed-in session for Env between runs; nil disables that
	Sessions *session.FileStore
	Env      string

	// Role providers carry the identity only while it has that account type, so
	// following them loads the matching aggregate and nothing else
	volunteerSession    *session.Provider
	organizationSession *session.Provider

	mu        sync.Mutex
	userType  model.UserType
	announced map[string]bool
}

// NewAppContext wires the services to store. provider is the one the store takes its
// access tokens from, when it needs any.
func NewAppContext(ctx context.Context, cfg *config.Config, store db.Store, provider *session.Provider, auth *session.AuthClient, logger *zap.Logger) *AppContext {
	app := &AppContext{}
	app.Init(ctx, cfg, store, provider, auth, logger)
	return app
}

// Init is NewAppContext for an AppContext the commands already hold
func (app *AppContext) Init(ctx context.Context, cfg *config.Config, store db.Store, provider *session.Provider, auth *session.AuthClient, logger *zap.Logger) {
	app.Cfg = cfg
	app.Store = store
	app.Session = provider
	app.Auth = auth
	app.Volunteers = volunteer.NewService(store, logger, volunteer.Options{
		Timeout:            cfg.RequestTimeout,
		SkillInsertRetries: cfg.SkillRetries(),
		RetryBackoff:       cfg.RetryBackoff,
	})
	app.Organizations = organization.NewService(store, logger, cfg.RequestTimeout)
	app.Notifications = notifications.NewCenter(logger)
	app.Logger = logger
	app.Ctx = ctx
	app.volunteerSession = session.NewProvider()
	app.organizationSession = session.NewProvider()
	app.announced = make(map[string]bool)
}

// Follow keeps both aggregates loaded for whoever is signed in with the matching
// account type until stop is called
func (app *AppContext) Follow() (stop func()) {
	stopVolunteers := app.Volunteers.Follow(app.Ctx, app.volunteerSession)
	stopOrganizations := app.Organizations.Follow(app.Ctx, app.organizationSession)
	return func() {
		stopVolunteers()
		stopOrganizations()
	}
}

// SignIn authenticates with the auth server when there is one, otherwise derives a
// local identity from the email address
func (app *AppContext) SignIn(email, password string) (session.Identity, error) {
	if app.Auth == nil {
		identity := session.LocalIdentity(email)
		return identity, app.activate(identity, nil, nil)
	}

	sess, err := app.Auth.SignInWithPassword(app.Ctx, email, password)
	if err != nil {
		return session.Identity{}, err
	}
	if sess.Token == nil {
		return session.Identity{}, fmt.Errorf("sign-in for %s returned no session", email)
	}
	return sess.Identity, app.activate(sess.Identity, app.Auth.TokenSource(app.Ctx, sess.Token), nil)
}

// UseAccessToken signs in with a token issued elsewhere. It is not refreshed.
func (app *AppContext) UseAccessToken(accessToken string) (session.Identity, error) {
	var secret []byte
	if app.Cfg.PostgREST != nil {
		secret = []byte(app.Cfg.PostgREST.JWTSecret)
	}
	claims, err := session.ParseAccessToken(accessToken, secret)
	if err != nil {
		return session.Identity{}, fmt.Errorf("failed to use access token: %w", err)
	}

	identity := session.Identity{ID: claims.Subject, Email: claims.Email}
	tokens := oauth2.StaticTokenSource(session.StaticToken(accessToken, claims))
	return identity, app.activate(identity, tokens, nil)
}

// SignUp creates the account and its profile. ok is false when the auth server
// holds the account until the email address is confirmed.
func (app *AppContext) SignUp(email, password string, userType model.UserType) (identity session.Identity, ok bool, err error) {
	if !userType.IsValid() {
		return session.Identity{}, false, fmt.Errorf("unknown user type %q", userType)
	}

	var tokens oauth2.TokenSource
	if app.Auth == nil {
		identity = session.LocalIdentity(email)
	} else {
		sess, err := app.Auth.SignUp(app.Ctx, email, password)
		if err != nil {
			return session.Identity{}, false, err
		}
		if sess.Token == nil {
			return sess.Identity, false, nil
		}
		identity = sess.Identity
		tokens = app.Auth.TokenSource(app.Ctx, sess.Token)
	}

	return identity, true, app.activate(identity, tokens, &userType)
}

// SignOut revokes the session on the auth server and clears every aggregate
func (app *AppContext) SignOut() error {
	var revokeErr error
	if app.Auth != nil {
		if tok, err := app.Session.Token(); err == nil {
			revokeErr = app.Auth.SignOut(app.Ctx, tok)
		}
	}

	app.Session.SignOut()
	app.volunteerSession.SignOut()
	app.organizationSession.SignOut()
	app.Notifications.Clear()
	if app.Sessions != nil {
		if err := app.Sessions.Delete(app.Env); err != nil {
			app.Logger.Warn("Failed to delete saved session", zap.Error(err))
		}
	}

	app.mu.Lock()
	app.userType = ""
	app.announced = make(map[string]bool)
	app.mu.Unlock()

	app.Logger.Info("Signed out")
	return revokeErr
}

// UserType returns the signed-in account's type, empty when signed out
func (app *AppContext) UserType() model.UserType {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.userType
}

// activate makes identity current. With register set the account is registered with
// that type; otherwise an identity without a users row is registered as an individual.
func (app *AppContext) activate(identity session.Identity, tokens oauth2.TokenSource, register *model.UserType) error {
	if app.Sessions != nil && tokens != nil {
		tokens = app.Sessions.Persisting(app.Env, identity, tokens, func(err error) {
			app.Logger.Warn("Failed to save session", zap.Error(err))
		})
	}
	app.Session.SignIn(identity, tokens)

	ctx, cancel := context.WithTimeout(app.Ctx, app.Cfg.RequestTimeout)
	defer cancel()

	var (
		user *model.User
		err  error
	)
	if register != nil {
		user, err = accounts.Register(ctx, app.Store, app.Logger, identity, *register)
	} else {
		user, err = accounts.Lookup(ctx, app.Store, identity)
		if errors.Is(err, db.ErrNotFound) {
			user, err = accounts.Register(ctx, app.Store, app.Logger, identity, model.UserTypeIndividual)
		}
	}
	if err != nil {
		app.Session.SignOut()
		app.volunteerSession.SignOut()
		app.organizationSession.SignOut()
		return fmt.Errorf("failed to resolve account: %w", err)
	}

	app.mu.Lock()
	if app.userType != user.UserType {
		app.announced = make(map[string]bool)
	}
	app.userType = user.UserType
	app.mu.Unlock()

	switch user.UserType {
	case model.UserTypeIndividual:
		app.organizationSession.SignOut()
		app.volunteerSession.SignIn(identity, nil)
	case model.UserTypeOrganization:
		app.volunteerSession.SignOut()
		app.organizationSession.SignIn(identity, nil)
	default:
		app.volunteerSession.SignOut()
		app.organizationSession.SignOut()
	}

	app.remember(identity, tokens)
	app.Logger.Info("Signed in", zap.String("user_id", identity.ID), zap.String("user_type", string(user.UserType)))
	return nil
}

// remember saves the session so the next run can resume it
func (app *AppContext) remember(identity session.Identity, tokens oauth2.TokenSource) {
	if app.Sessions == nil {
		return
	}
	if tokens != nil {
		// The persisting source saves on first use
		if _, err := tokens.Token(); err != nil {
			app.Logger.Warn("Failed to read session token", zap.Error(err))
		}
		return
	}
	if err := app.Sessions.Save(app.Env, session.Saved{Identity: identity}); err != nil {
		app.Logger.Warn("Failed to save session", zap.Error(err))
	}
}

// Resume signs back in with the session saved by an earlier run. It reports
// false when there is nothing to resume for this backend.
func (app *AppContext) Resume() (bool, error) {
	if app.Sessions == nil {
		return false, nil
	}
	saved, err := app.Sessions.Load(app.Env)
	if err != nil || saved == nil {
		return false, err
	}

	var tokens oauth2.TokenSource
	if app.Auth != nil {
		if saved.Token == nil {
			return false, nil
		}
		tokens = app.Auth.TokenSource(app.Ctx, saved.Token)
	}

	if err := app.activate(saved.Identity, tokens, nil); err != nil {
		return false, fmt.Errorf("failed to resume session: %w", err)
	}
	return true, nil
}

// requireRole returns the current identity if its account has the given type
func (app *AppContext) requireRole(userType model.UserType) (*session.Identity, error) {
	identity := app.Session.Current()
	if identity == nil {
		return nil, ErrNotSignedIn
	}
	if current := app.UserType(); current != userType {
		return nil, fmt.Errorf("this command needs an %s account, signed in as %s", userType, current)
	}
	return identity, nil
}

// volunteerState returns the loaded volunteer aggregate, loading it first if needed
func (app *AppContext) volunteerState() (volunteer.State, error) {
	identity, err := app.requireRole(model.UserTypeIndividual)
	if err != nil {
		return volunteer.State{}, err
	}

	state := app.Volunteers.State()
	if !state.Loaded || !session.SameIdentity(state.Identity, identity) {
		if state, err = app.Volunteers.Load(app.Ctx, identity); err != nil {
			return volunteer.State{}, fmt.Errorf("failed to load volunteer profile: %w", err)
		}
	}

	app.announceBadges(state)
	return state, nil
}

// organizationState is volunteerState for organization accounts
func (app *AppContext) organizationState() (organization.State, error) {
	identity, err := app.requireRole(model.UserTypeOrganization)
	if err != nil {
		return organization.State{}, err
	}

	state := app.Organizations.State()
	if !state.Loaded || !session.SameIdentity(state.Identity, identity) {
		if state, err = app.Organizations.Load(app.Ctx, identity); err != nil {
			return organization.State{}, fmt.Errorf("failed to load organization profile: %w", err)
		}
	}
	return state, nil
}

// announceBadges posts a recognition notification for each badge earned since the last check
func (app *AppContext) announceBadges(state volunteer.State) {
	if state.Profile == nil {
		return
	}

	app.mu.Lock()
	var fresh []model.Badge
	for _, badge := range model.EarnedBadges(state.Badges, state.Profile.Points) {
		if !app.announced[badge.ID] {
			app.announced[badge.ID] = true
			fresh = append(fresh, badge)
		}
	}
	app.mu.Unlock()

	for _, badge := range fresh {
		app.Notifications.Add(notifications.TypeRecognition, "Badge earned", fmt.Sprintf("You earned the %s badge", badge.Name))
	}
}

// updated posts an update notification for a successful mutation
func (app *AppContext) updated(title, message string) {
	app.Notifications.Add(notifications.TypeUpdate, title, message)
}
