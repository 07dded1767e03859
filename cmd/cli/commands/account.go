package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jakechorley/volunteer-hub/pkg/core/model"
)

// SignUpCmd creates the signUp command
func SignUpCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signUp <email> [password]",
		Short: "Create an account and its profile, then sign in",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			userType, _ := cmd.Flags().GetString("type")
			password := ""
			if len(args) > 1 {
				password = args[1]
			}
			if app.Auth != nil && password == "" {
				return errors.New("password is required")
			}

			identity, ok, err := app.SignUp(args[0], password, model.UserType(userType))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if !ok {
				fmt.Fprintf(out, "\n✉ Check %s for a confirmation link, then run signIn.\n\n", args[0])
				return nil
			}
			fmt.Fprintf(out, "\n✓ Account created for %s (%s)\n\n", identity.Email, userType)
			return nil
		},
	}

	cmd.Flags().String("type", string(model.UserTypeIndividual), "Account type: individual, organization or corporate")

	return cmd
}

// SignInCmd creates the signIn command
func SignInCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "signIn <email> [password]",
		Short: "Sign in; the profile for the account loads on first use",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			password := ""
			if len(args) > 1 {
				password = args[1]
			}
			if app.Auth != nil && password == "" {
				return errors.New("password is required")
			}

			identity, err := app.SignIn(args[0], password)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "\n✓ Signed in as %s (%s)\n\n", identity.Email, app.UserType())
			return nil
		},
	}
}

// SignOutCmd creates the signOut command
func SignOutCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "signOut",
		Short: "Sign out and clear the cached profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Session.Current() == nil {
				return ErrNotSignedIn
			}
			if err := app.SignOut(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "\n✓ Signed out")
			return nil
		},
	}
}

// WhoAmICmd creates the whoami command
func WhoAmICmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			identity := app.Session.Current()
			if identity == nil {
				return ErrNotSignedIn
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s <%s> %s\n", identity.ID, identity.Email, app.UserType())
			return nil
		},
	}
}

// ResetPasswordCmd creates the resetPassword command
func ResetPasswordCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resetPassword <email>",
		Short: "Email a password reset link",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if app.Auth == nil {
				return fmt.Errorf("backend %q has no auth server", app.Cfg.Backend)
			}
			if err := app.Auth.RecoverPassword(app.Ctx, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\n✉ Password reset link sent to %s\n\n", args[0])
			return nil
		},
	}
}
