package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/jakechorley/volunteer-hub/cmd/cli/commands"
	"github.com/jakechorley/volunteer-hub/internal/config"
	"github.com/jakechorley/volunteer-hub/pkg/core/model"
	"github.com/jakechorley/volunteer-hub/pkg/db"
	"github.com/jakechorley/volunteer-hub/pkg/postgres"
	"github.com/jakechorley/volunteer-hub/pkg/postgrest"
	"github.com/jakechorley/volunteer-hub/pkg/session"
	"github.com/jakechorley/volunteer-hub/pkg/utils/logging"
)

var (
	env         string
	email       string
	password    string
	accessToken string
	verbose     bool
	app         *commands.AppContext
	closeStore  func()
)

func main() {
	// Credentials and ${VAR} references in the config may come from a .env file
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "cli",
		Short: "Volunteer Hub CLI - Manage volunteer and organization profiles",
		Long:  `A CLI for volunteer profiles, skills, certifications and availability, and for organization events and testimonials.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initApp()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if closeStore != nil {
				closeStore()
			}
			if app != nil && app.Logger != nil {
				app.Logger.Sync()
			}
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&env, "env", "e", "", "Environment (required: test, prod, etc.)")
	rootCmd.MarkPersistentFlagRequired("env")
	rootCmd.PersistentFlags().StringVar(&email, "email", os.Getenv("VOLUNTEER_HUB_EMAIL"), "Sign in with this email before running the command")
	rootCmd.PersistentFlags().StringVar(&password, "password", os.Getenv("VOLUNTEER_HUB_PASSWORD"), "Password for --email")
	rootCmd.PersistentFlags().StringVar(&accessToken, "access-token", "", "Sign in with an access token instead of a password")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log progress to the console")

	// Commands hold app now; initApp fills it in before any RunE
	app = &commands.AppContext{}
	for _, newCmd := range []func(*commands.AppContext) *cobra.Command{
		commands.SignUpCmd,
		commands.SignInCmd,
		commands.SignOutCmd,
		commands.WhoAmICmd,
		commands.ResetPasswordCmd,
		commands.ProfileCmd,
		commands.UpdateProfileCmd,
		commands.SetSkillsCmd,
		commands.SkillsCmd,
		commands.AddSkillCmd,
		commands.SkillCategoriesCmd,
		commands.AddCertificationCmd,
		commands.AddAvailabilityCmd,
		commands.DeleteAvailabilityCmd,
		commands.BadgesCmd,
		commands.OrgCmd,
		commands.UpdateOrgCmd,
		commands.CreateEventCmd,
		commands.UpdateEventCmd,
		commands.AddTestimonialCmd,
		commands.EventOccurrencesCmd,
		commands.NotificationsCmd,
		commands.MarkReadCmd,
		commands.DismissCmd,
		commands.InteractiveCmd,
	} {
		rootCmd.AddCommand(newCmd(app))
	}

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// initApp sets up logger, config, store and services, then signs in if credentials were given
func initApp() error {
	ctx := context.Background()

	logger, err := logging.InitLogger(env, logging.Options{Verbose: verbose})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.Info("Starting application", zap.String("environment", env))

	logger.Info("Loading configuration")
	cfg, err := config.LoadWithEnv(env)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger.Debug("Configuration loaded successfully", zap.String("backend", string(cfg.Backend)))

	provider := session.NewProvider()

	var auth *session.AuthClient
	store, err := newStore(ctx, cfg, provider, logger)
	if err != nil {
		return err
	}
	if cfg.Backend == config.BackendPostgREST {
		auth = session.NewAuthClient(cfg.PostgREST.URL, cfg.PostgREST.AnonKey, session.WithJWTSecret(cfg.PostgREST.JWTSecret))
	}

	app.Init(ctx, cfg, store, provider, auth, logger)
	app.Env = env
	if app.Sessions, err = session.DefaultFileStore(); err != nil {
		logger.Warn("Sessions will not be saved", zap.Error(err))
	}

	switch {
	case accessToken != "":
		if _, err := app.UseAccessToken(accessToken); err != nil {
			return err
		}
	case email != "":
		if _, err := app.SignIn(email, password); err != nil {
			return fmt.Errorf("failed to sign in: %w", err)
		}
	default:
		resumed, err := app.Resume()
		if err != nil {
			logger.Warn("Discarding saved session", zap.Error(err))
			if app.Sessions != nil {
				app.Sessions.Delete(env)
			}
		}
		logger.Debug("Saved session", zap.Bool("resumed", resumed))
	}

	return nil
}

// newStore connects the configured backend
func newStore(ctx context.Context, cfg *config.Config, provider *session.Provider, logger *zap.Logger) (db.Store, error) {
	switch cfg.Backend {
	case config.BackendPostgREST:
		logger.Info("Using PostgREST backend", zap.String("url", cfg.PostgREST.URL))
		return postgrest.New(cfg.PostgREST.URL, cfg.PostgREST.AnonKey,
			postgrest.WithTokenSource(provider),
			postgrest.WithLogger(logger),
		), nil

	case config.BackendPostgres:
		logger.Info("Connecting to database")
		database, err := postgres.NewDB(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		closeStore = database.Close

		if cfg.Postgres.RunMigrations {
			applied, err := database.RunMigrations(ctx)
			if err != nil {
				return nil, fmt.Errorf("failed to run migrations: %w", err)
			}
			logger.Info("Migrations applied", zap.Strings("files", applied))
		}
		return database, nil

	default:
		logger.Info("Using in-memory backend")
		memory := db.NewMemoryStore()
		if err := seedCatalog(memory, cfg.Catalog); err != nil {
			return nil, fmt.Errorf("failed to seed catalog: %w", err)
		}
		return memory, nil
	}
}

func seedCatalog(store *db.MemoryStore, catalog config.Catalog) error {
	skills := make([]model.Skill, len(catalog.Skills))
	for i, s := range catalog.Skills {
		skills[i] = model.Skill{ID: s.ID, Name: s.Name, Category: s.Category}
	}
	if err := store.Seed(db.Skills, skills); err != nil {
		return err
	}

	badges := make([]model.Badge, len(catalog.Badges))
	for i, b := range catalog.Badges {
		badges[i] = model.Badge{
			ID:             b.ID,
			Name:           b.Name,
			Description:    b.Description,
			ImageURL:       b.ImageURL,
			PointsRequired: b.PointsRequired,
		}
	}
	return store.Seed(db.Badges, badges)
}
