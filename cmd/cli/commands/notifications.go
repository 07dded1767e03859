package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

// NotificationsCmd creates the notifications command
func NotificationsCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "notifications",
		Short: "List notifications, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\n%d unread\n", app.Notifications.Unread())
			renderNotifications(out, app.Notifications.List())
			fmt.Fprintln(out)
			return nil
		},
	}
}

// MarkReadCmd creates the markRead command
func MarkReadCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "markRead [notification_id]",
		Short: "Mark a notification, or all of them with --all, as read",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			all, _ := cmd.Flags().GetBool("all")
			out := cmd.OutOrStdout()

			switch {
			case all:
				fmt.Fprintf(out, "✓ %d marked as read\n", app.Notifications.MarkAllAsRead())
				return nil
			case len(args) == 0:
				return errors.New("give a notification id or --all")
			}

			if err := app.Notifications.MarkAsRead(args[0]); err != nil {
				return fmt.Errorf("%w: %s", err, args[0])
			}
			fmt.Fprintln(out, "✓ Marked as read")
			return nil
		},
	}

	cmd.Flags().Bool("all", false, "Mark every notification as read")

	return cmd
}

// DismissCmd creates the dismiss command
func DismissCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "dismiss <notification_id>",
		Short: "Remove a notification",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.Notifications.Dismiss(args[0]); err != nil {
				return fmt.Errorf("%w: %s", err, args[0])
			}
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Dismissed")
			return nil
		},
	}
}
