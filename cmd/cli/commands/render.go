package commands

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/jakechorley/volunteer-hub/pkg/core/model"
	"github.com/jakechorley/volunteer-hub/pkg/core/notifications"
	"github.com/jakechorley/volunteer-hub/pkg/core/organization"
	"github.com/jakechorley/volunteer-hub/pkg/core/volunteer"
)

func renderVolunteer(w io.Writer, state volunteer.State) {
	p := state.Profile
	if p == nil {
		fmt.Fprintln(w, "No volunteer profile loaded")
		return
	}

	fmt.Fprintf(w, "\n%s\n", orPlaceholder(p.FullName))
	fmt.Fprintf(w, "  Profile ID: %s\n", p.ID)
	fmt.Fprintf(w, "  Email:      %s\n", orPlaceholder(p.ContactEmail))
	fmt.Fprintf(w, "  Phone:      %s\n", orPlaceholder(p.PhoneNumber))
	fmt.Fprintf(w, "  Location:   %s\n", orPlaceholder(p.Location))
	if p.Employer != nil {
		program := ""
		if p.EmployerProgram != nil && *p.EmployerProgram != "" {
			program = fmt.Sprintf(" (%s)", *p.EmployerProgram)
		}
		fmt.Fprintf(w, "  Employer:   %s%s\n", *p.Employer, program)
	}
	fmt.Fprintf(w, "  Level %d, %d points\n", p.Level, p.Points)
	if p.Bio != "" {
		fmt.Fprintf(w, "\n  %s\n", p.Bio)
	}

	fmt.Fprintf(w, "\nSkills:\n")
	renderSelectedSkills(w, state.Skills, state.SelectedSkills)

	fmt.Fprintf(w, "\nCertifications:\n")
	if len(state.Certifications) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, c := range state.Certifications {
		expiry := ""
		if c.ExpiryDate != nil {
			expiry = ", expires " + *c.ExpiryDate
		}
		fmt.Fprintf(w, "  - %s, %s (issued %s%s)\n", c.Name, c.Issuer, c.IssueDate, expiry)
	}

	fmt.Fprintf(w, "\nAvailability:\n")
	renderAvailability(w, state.Availability)

	if state.Err != nil {
		fmt.Fprintf(w, "\n⚠️  Last error: %v\n", state.Err)
	}
	fmt.Fprintln(w)
}

func renderSelectedSkills(w io.Writer, catalog []model.Skill, selected []string) {
	if len(selected) == 0 {
		fmt.Fprintln(w, "  none")
		return
	}
	names := make(map[string]string, len(catalog))
	for _, s := range catalog {
		names[s.ID] = s.Name
	}
	for _, id := range selected {
		name, ok := names[id]
		if !ok {
			name = "(unknown skill)"
		}
		fmt.Fprintf(w, "  - %s [%s]\n", name, id)
	}
}

func renderAvailability(w io.Writer, slots []model.AvailabilitySlot) {
	if len(slots) == 0 {
		fmt.Fprintln(w, "  none")
		return
	}
	for _, s := range slots {
		fmt.Fprintf(w, "  - %-9s %s-%s [%s]\n", model.DayName(s.DayOfWeek), s.StartTime, s.EndTime, s.ID)
	}
}

func renderCatalog(w io.Writer, skills []model.Skill, selected []string) {
	chosen := make(map[string]bool, len(selected))
	for _, id := range selected {
		chosen[id] = true
	}
	for _, s := range skills {
		mark := " "
		if chosen[s.ID] {
			mark = "✓"
		}
		category := ""
		if s.Category != "" {
			category = " (" + s.Category + ")"
		}
		fmt.Fprintf(w, "  %s %s%s [%s]\n", mark, s.Name, category, s.ID)
	}
}

func renderBadges(w io.Writer, badges []model.Badge, points int) {
	if len(badges) == 0 {
		fmt.Fprintln(w, "  none")
		return
	}
	for _, b := range badges {
		if b.EarnedBy(points) {
			fmt.Fprintf(w, "  🏅 %s (%d points)\n", b.Name, b.PointsRequired)
			continue
		}
		fmt.Fprintf(w, "     %s (%d more points)\n", b.Name, b.PointsRequired-points)
	}
}

func renderOrganization(w io.Writer, state organization.State) {
	p := state.Profile
	if p == nil {
		fmt.Fprintln(w, "No organization profile loaded")
		return
	}

	fmt.Fprintf(w, "\n%s [%s]\n", orPlaceholder(p.Name), p.VerificationStatus)
	fmt.Fprintf(w, "  Profile ID: %s\n", p.ID)
	fmt.Fprintf(w, "  Email:      %s\n", orPlaceholder(p.ContactEmail))
	fmt.Fprintf(w, "  Website:    %s\n", orPlaceholder(p.Website))
	fmt.Fprintf(w, "  Location:   %s\n", orPlaceholder(strings.Trim(p.City+", "+p.Country, ", ")))
	if len(p.CauseAreas) > 0 {
		fmt.Fprintf(w, "  Causes:     %s\n", strings.Join(p.CauseAreas, ", "))
	}
	fmt.Fprintf(w, "  Impact:     %d events, %d volunteers, %d hours\n",
		p.ImpactMetrics.TotalEvents, p.ImpactMetrics.TotalVolunteers, p.ImpactMetrics.TotalHours)
	if p.Mission != "" {
		fmt.Fprintf(w, "\n  %s\n", p.Mission)
	}

	fmt.Fprintf(w, "\nEvents:\n")
	if len(state.Events) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, e := range state.Events {
		renderEvent(w, e)
	}

	fmt.Fprintf(w, "\nTestimonials:\n")
	if len(state.Testimonials) == 0 {
		fmt.Fprintln(w, "  none")
	}
	for _, t := range state.Testimonials {
		author := t.AuthorName
		if t.AuthorRole != "" {
			author += ", " + t.AuthorRole
		}
		fmt.Fprintf(w, "  %s \"%s\" - %s\n", strings.Repeat("★", t.Rating), t.Content, author)
	}

	if state.Err != nil {
		fmt.Fprintf(w, "\n⚠️  Last error: %v\n", state.Err)
	}
	fmt.Fprintln(w)
}

func renderEvent(w io.Writer, e model.Event) {
	where := e.Location
	if e.Virtual {
		where = "virtual"
	}
	fmt.Fprintf(w, "  - %s [%s] %s, %s to %s, %s, %d/%d volunteers\n",
		e.Title, e.ID, e.Status, e.StartDate, e.EndDate, orPlaceholder(where),
		e.VolunteersRegistered, e.VolunteersNeeded)
	if e.RecurrenceRule != nil {
		fmt.Fprintf(w, "      repeats %s\n", *e.RecurrenceRule)
	}
}

func renderNotifications(w io.Writer, list []notifications.Notification) {
	if len(list) == 0 {
		fmt.Fprintln(w, "No notifications")
		return
	}
	for _, n := range list {
		mark := "•"
		if n.Read {
			mark = " "
		}
		fmt.Fprintf(w, "%s %s  %-11s %s: %s [%s]\n", mark, n.CreatedAt.Format("15:04"), n.Type, n.Title, n.Message, n.ID)
	}
}

func orPlaceholder(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// parseDay accepts 0-6 (Sunday first) or an English weekday name or its prefix
func parseDay(value string) (int, error) {
	if day, err := strconv.Atoi(value); err == nil {
		if day < 0 || day > 6 {
			return 0, fmt.Errorf("day must be between 0 (Sunday) and 6 (Saturday), got %d", day)
		}
		return day, nil
	}

	value = strings.ToLower(strings.TrimSpace(value))
	if len(value) >= 2 {
		for day := time.Sunday; day <= time.Saturday; day++ {
			if strings.HasPrefix(strings.ToLower(day.String()), value) {
				return int(day), nil
			}
		}
	}
	return 0, fmt.Errorf("unknown day %q", value)
}

// changedString returns the flag's value if it was set on the command line
func changedString(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	value, _ := cmd.Flags().GetString(name)
	return &value
}

func changedInt(cmd *cobra.Command, name string) *int {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	value, _ := cmd.Flags().GetInt(name)
	return &value
}

func changedStrings(cmd *cobra.Command, name string) *[]string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	value, _ := cmd.Flags().GetStringSlice(name)
	return &value
}
