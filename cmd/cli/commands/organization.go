package commands

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/jakechorley/volunteer-hub/pkg/core/model"
)

// OrgCmd creates the org command
func OrgCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "org",
		Short: "Show the organization profile with its events and testimonials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := app.organizationState()
			if err != nil {
				return err
			}
			renderOrganization(cmd.OutOrStdout(), state)
			return nil
		},
	}
}

// UpdateOrgCmd creates the updateOrg command
func UpdateOrgCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "updateOrg",
		Short: "Update organization fields; only the flags given are changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			update := model.OrganizationProfileUpdate{
				Name:             changedString(cmd, "name"),
				Mission:          changedString(cmd, "mission"),
				Description:      changedString(cmd, "description"),
				Address:          changedString(cmd, "address"),
				City:             changedString(cmd, "city"),
				State:            changedString(cmd, "state"),
				PostalCode:       changedString(cmd, "postal-code"),
				Country:          changedString(cmd, "country"),
				ContactEmail:     changedString(cmd, "email"),
				PhoneNumber:      changedString(cmd, "phone"),
				Website:          changedString(cmd, "website"),
				OrganizationType: changedString(cmd, "type"),
				TaxID:            changedString(cmd, "tax-id"),
				CauseAreas:       changedStrings(cmd, "cause"),
			}
			if update.IsEmpty() {
				return errors.New("nothing to update (see --help for the fields)")
			}
			if _, err := app.organizationState(); err != nil {
				return err
			}

			profile, err := app.Organizations.UpdateProfile(app.Ctx, update)
			if err != nil {
				return err
			}

			app.updated("Organization updated", "Your organization profile was saved")
			fmt.Fprintf(cmd.OutOrStdout(), "\n✓ Organization %s updated\n\n", profile.ID)
			return nil
		},
	}

	cmd.Flags().String("name", "", "Organization name")
	cmd.Flags().String("mission", "", "Mission statement")
	cmd.Flags().String("description", "", "Description")
	cmd.Flags().String("address", "", "Street address")
	cmd.Flags().String("city", "", "City")
	cmd.Flags().String("state", "", "State or region")
	cmd.Flags().String("postal-code", "", "Postal code")
	cmd.Flags().String("country", "", "Country")
	cmd.Flags().String("email", "", "Contact email")
	cmd.Flags().String("phone", "", "Phone number")
	cmd.Flags().String("website", "", "Website URL")
	cmd.Flags().String("type", "", "Organization type")
	cmd.Flags().String("tax-id", "", "Tax identifier")
	cmd.Flags().StringSlice("cause", nil, "Cause areas (repeat or comma separate)")

	return cmd
}

// eventFlags registers the flags shared by createEvent and updateEvent
func eventFlags(cmd *cobra.Command) {
	cmd.Flags().String("type", string(model.EventOneTime), "Event type: one_time, recurring or long_term")
	cmd.Flags().String("description", "", "Description")
	cmd.Flags().String("location", "", "Location")
	cmd.Flags().Bool("virtual", false, "Held online")
	cmd.Flags().StringSlice("skills", nil, "Skills needed (repeat or comma separate)")
	cmd.Flags().Int("needed", 0, "Volunteers needed")
	cmd.Flags().String("status", "", "Status: upcoming, ongoing, completed or cancelled")
	cmd.Flags().String("rrule", "", "Recurrence rule for recurring events, e.g. FREQ=WEEKLY;BYDAY=SA")
}

// CreateEventCmd creates the createEvent command
func CreateEventCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "createEvent <title> <start> <end>",
		Short: "Create an event (start and end as RFC 3339 timestamps)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			eventType, _ := cmd.Flags().GetString("type")
			description, _ := cmd.Flags().GetString("description")
			location, _ := cmd.Flags().GetString("location")
			virtual, _ := cmd.Flags().GetBool("virtual")
			skills, _ := cmd.Flags().GetStringSlice("skills")
			needed, _ := cmd.Flags().GetInt("needed")
			status, _ := cmd.Flags().GetString("status")

			input := model.NewEvent{
				Title:            args[0],
				Description:      description,
				EventType:        model.EventType(eventType),
				StartDate:        args[1],
				EndDate:          args[2],
				Location:         location,
				Virtual:          virtual,
				SkillsNeeded:     skills,
				VolunteersNeeded: needed,
				Status:           model.EventStatus(status),
				RecurrenceRule:   changedString(cmd, "rrule"),
			}
			if _, err := app.organizationState(); err != nil {
				return err
			}

			event, err := app.Organizations.CreateEvent(app.Ctx, input)
			if err != nil {
				return err
			}

			app.updated("Event created", event.Title)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\n✓ Event created:\n")
			renderEvent(out, event)
			fmt.Fprintln(out)
			return nil
		},
	}

	eventFlags(cmd)

	return cmd
}

// UpdateEventCmd creates the updateEvent command
func UpdateEventCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "updateEvent <event_id>",
		Short: "Update event fields; only the flags given are changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			update := model.EventUpdate{
				Title:                changedString(cmd, "title"),
				Description:          changedString(cmd, "description"),
				StartDate:            changedString(cmd, "start"),
				EndDate:              changedString(cmd, "end"),
				Location:             changedString(cmd, "location"),
				SkillsNeeded:         changedStrings(cmd, "skills"),
				VolunteersNeeded:     changedInt(cmd, "needed"),
				VolunteersRegistered: changedInt(cmd, "registered"),
				RecurrenceRule:       changedString(cmd, "rrule"),
			}
			if value := changedString(cmd, "type"); value != nil {
				eventType := model.EventType(*value)
				update.EventType = &eventType
			}
			if value := changedString(cmd, "status"); value != nil {
				status := model.EventStatus(*value)
				update.Status = &status
			}
			if cmd.Flags().Changed("virtual") {
				virtual, _ := cmd.Flags().GetBool("virtual")
				update.Virtual = &virtual
			}
			if update.IsEmpty() {
				return errors.New("nothing to update (see --help for the fields)")
			}
			if _, err := app.organizationState(); err != nil {
				return err
			}

			event, err := app.Organizations.UpdateEvent(app.Ctx, args[0], update)
			if err != nil {
				return err
			}

			app.updated("Event updated", event.Title)
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\n✓ Event updated:\n")
			renderEvent(out, event)
			fmt.Fprintln(out)
			return nil
		},
	}

	eventFlags(cmd)
	cmd.Flags().String("title", "", "Title")
	cmd.Flags().String("start", "", "Start (RFC 3339)")
	cmd.Flags().String("end", "", "End (RFC 3339)")
	cmd.Flags().Int("registered", 0, "Volunteers registered")

	return cmd
}

// AddTestimonialCmd creates the addTestimonial command
func AddTestimonialCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "addTestimonial <author> <rating> <content>",
		Short: "Add a testimonial (rating 1-5)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			rating, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("rating must be a number: %w", err)
			}
			role, _ := cmd.Flags().GetString("role")

			input := model.NewTestimonial{
				AuthorName: args[0],
				AuthorRole: role,
				Content:    args[2],
				Rating:     rating,
				EventID:    changedString(cmd, "event"),
			}
			if _, err := app.organizationState(); err != nil {
				return err
			}

			testimonial, err := app.Organizations.AddTestimonial(app.Ctx, input)
			if err != nil {
				return err
			}

			app.updated("Testimonial added", "From "+testimonial.AuthorName)
			fmt.Fprintf(cmd.OutOrStdout(), "\n✓ Testimonial from %s added [%s]\n\n", testimonial.AuthorName, testimonial.ID)
			return nil
		},
	}

	cmd.Flags().String("role", "", "Author's role")
	cmd.Flags().String("event", "", "Event the testimonial is about")

	return cmd
}

// EventOccurrencesCmd creates the eventOccurrences command
func EventOccurrencesCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "eventOccurrences <event_id> [count]",
		Short: "List the next dates of a recurring event",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			count := 5
			if len(args) > 1 {
				n, err := strconv.Atoi(args[1])
				if err != nil {
					return fmt.Errorf("count must be a number: %w", err)
				}
				count = n
			}

			from := time.Now()
			if value, _ := cmd.Flags().GetString("from"); value != "" {
				parsed, err := time.Parse("2006-01-02", value)
				if err != nil {
					return fmt.Errorf("from must be YYYY-MM-DD: %w", err)
				}
				from = parsed
			}

			if _, err := app.organizationState(); err != nil {
				return err
			}
			dates, err := app.Organizations.EventOccurrences(args[0], from, count)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(dates) == 0 {
				fmt.Fprintln(out, "No upcoming occurrences")
				return nil
			}
			for i, date := range dates {
				fmt.Fprintf(out, "  %2d. %s\n", i+1, date.Format("2006-01-02 15:04 (Monday)"))
			}
			return nil
		},
	}

	cmd.Flags().String("from", "", "List occurrences after this date (YYYY-MM-DD, default now)")

	return cmd
}
