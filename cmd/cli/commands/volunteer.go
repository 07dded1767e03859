package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jakechorley/volunteer-hub/pkg/core/model"
	"github.com/jakechorley/volunteer-hub/pkg/core/volunteer"
)

// ProfileCmd creates the profile command
func ProfileCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "profile",
		Short: "Show the volunteer profile with skills, certifications and availability",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := app.volunteerState()
			if err != nil {
				return err
			}
			renderVolunteer(cmd.OutOrStdout(), state)
			return nil
		},
	}
}

// UpdateProfileCmd creates the updateProfile command
func UpdateProfileCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "updateProfile",
		Short: "Update profile fields; only the flags given are changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			update := model.VolunteerProfileUpdate{
				FullName:        changedString(cmd, "name"),
				Location:        changedString(cmd, "location"),
				ContactEmail:    changedString(cmd, "email"),
				PhoneNumber:     changedString(cmd, "phone"),
				Bio:             changedString(cmd, "bio"),
				Employer:        changedString(cmd, "employer"),
				EmployerProgram: changedString(cmd, "program"),
			}
			if update.IsEmpty() {
				return errors.New("nothing to update (see --help for the fields)")
			}
			if _, err := app.volunteerState(); err != nil {
				return err
			}

			profile, err := app.Volunteers.UpdateProfile(app.Ctx, update)
			if err != nil {
				return err
			}

			app.updated("Profile updated", "Your volunteer profile was saved")
			fmt.Fprintf(cmd.OutOrStdout(), "\n✓ Profile %s updated\n\n", profile.ID)
			return nil
		},
	}

	cmd.Flags().String("name", "", "Full name")
	cmd.Flags().String("location", "", "Location")
	cmd.Flags().String("email", "", "Contact email")
	cmd.Flags().String("phone", "", "Phone number")
	cmd.Flags().String("bio", "", "Short biography")
	cmd.Flags().String("employer", "", "Employer")
	cmd.Flags().String("program", "", "Employer volunteering program")

	return cmd
}

// SetSkillsCmd creates the setSkills command
func SetSkillsCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "setSkills [skill_id...]",
		Short: "Replace the selected skills (no ids clears them)",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.volunteerState(); err != nil {
				return err
			}

			selected, err := app.Volunteers.ReplaceSkills(app.Ctx, args)
			out := cmd.OutOrStdout()

			var partial *volunteer.PartialFailureError
			if errors.As(err, &partial) {
				fmt.Fprintf(out, "\n⚠️  Skills partially saved; the stored selection is now:\n")
				renderSelectedSkills(out, app.Volunteers.State().Skills, partial.Remote)
				fmt.Fprintln(out)
			}
			if err != nil {
				return err
			}

			app.updated("Skills updated", fmt.Sprintf("%d skills selected", len(selected)))
			fmt.Fprintf(out, "\n✓ Skills saved:\n")
			renderSelectedSkills(out, app.Volunteers.State().Skills, selected)
			fmt.Fprintln(out)
			return nil
		},
	}
}

// SkillsCmd creates the skills command
func SkillsCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "skills",
		Short: "List the skill catalog, marking the selected skills",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := app.volunteerState()
			if err != nil {
				return err
			}

			category, _ := cmd.Flags().GetString("category")
			skills := state.Skills
			if category != "" {
				skills = skills[:0:0]
				for _, s := range state.Skills {
					if strings.EqualFold(s.Category, category) {
						skills = append(skills, s)
					}
				}
			}

			renderCatalog(cmd.OutOrStdout(), skills, state.SelectedSkills)
			return nil
		},
	}

	cmd.Flags().String("category", "", "Only list skills in this category")

	return cmd
}

// AddSkillCmd creates the addSkill command
func AddSkillCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "addSkill <name> [category]",
		Short: "Add a skill to the shared catalog",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := model.NewSkill{Name: args[0]}
			if len(args) > 1 {
				input.Category = args[1]
			}
			if _, err := app.volunteerState(); err != nil {
				return err
			}

			skill, err := app.Volunteers.AddSkill(app.Ctx, input)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "\n✓ Skill %s added [%s]\n\n", skill.Name, skill.ID)
			return nil
		},
	}
}

// SkillCategoriesCmd creates the skillCategories command
func SkillCategoriesCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "skillCategories",
		Short: "List the categories of the skill catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.volunteerState(); err != nil {
				return err
			}
			for _, category := range app.Volunteers.SkillCategories() {
				fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", category)
			}
			return nil
		},
	}
}

// AddCertificationCmd creates the addCertification command
func AddCertificationCmd(app *AppContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "addCertification <name> <issuer> <issue_date>",
		Short: "Add a certification (dates as YYYY-MM-DD)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := model.NewCertification{
				Name:       args[0],
				Issuer:     args[1],
				IssueDate:  args[2],
				ExpiryDate: changedString(cmd, "expires"),
				FileURL:    changedString(cmd, "file-url"),
			}
			if _, err := app.volunteerState(); err != nil {
				return err
			}

			cert, err := app.Volunteers.AddCertification(app.Ctx, input)
			if err != nil {
				return err
			}

			app.updated("Certification added", cert.Name)
			fmt.Fprintf(cmd.OutOrStdout(), "\n✓ Certification %s added [%s]\n\n", cert.Name, cert.ID)
			return nil
		},
	}

	cmd.Flags().String("expires", "", "Expiry date (YYYY-MM-DD)")
	cmd.Flags().String("file-url", "", "Link to the uploaded certificate")

	return cmd
}

// AddAvailabilityCmd creates the addAvailability command
func AddAvailabilityCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "addAvailability <day> <start> <end>",
		Short: "Add a weekly availability slot (day 0-6 or name, times HH:MM)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			day, err := parseDay(args[0])
			if err != nil {
				return err
			}
			if _, err := app.volunteerState(); err != nil {
				return err
			}

			slots, err := app.Volunteers.AddAvailability(app.Ctx, model.NewAvailabilitySlot{
				DayOfWeek: day,
				StartTime: args[1],
				EndTime:   args[2],
			})
			if err != nil {
				return err
			}

			app.updated("Availability updated", fmt.Sprintf("%s %s-%s added", model.DayName(day), args[1], args[2]))
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\n✓ Availability saved:\n")
			renderAvailability(out, slots)
			fmt.Fprintln(out)
			return nil
		},
	}
}

// DeleteAvailabilityCmd creates the deleteAvailability command
func DeleteAvailabilityCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "deleteAvailability <slot_id>",
		Short: "Remove an availability slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := app.volunteerState(); err != nil {
				return err
			}

			slots, err := app.Volunteers.DeleteAvailability(app.Ctx, args[0])
			if err != nil {
				return err
			}

			app.updated("Availability updated", "A slot was removed")
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\n✓ Availability saved:\n")
			renderAvailability(out, slots)
			fmt.Fprintln(out)
			return nil
		},
	}
}

// BadgesCmd creates the badges command
func BadgesCmd(app *AppContext) *cobra.Command {
	return &cobra.Command{
		Use:   "badges",
		Short: "List badges and which ones the profile has earned",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			state, err := app.volunteerState()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			earned := app.Volunteers.EarnedBadges()
			fmt.Fprintf(out, "\n%d of %d badges earned with %d points:\n", len(earned), len(state.Badges), state.Profile.Points)
			renderBadges(out, state.Badges, state.Profile.Points)
			fmt.Fprintln(out)
			return nil
		},
	}
}
