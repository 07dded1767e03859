package model

import (
	"sort"
	"strings"
)

// VolunteerProfile is the root row of a volunteer's aggregate, one per identity
type VolunteerProfile struct {
	ID              string  `json:"id,omitempty"`
	UserID          string  `json:"user_id"`
	FullName        string  `json:"full_name"`
	Location        string  `json:"location"`
	ContactEmail    string  `json:"contact_email"`
	PhoneNumber     string  `json:"phone_number"`
	Bio             string  `json:"bio"`
	Employer        *string `json:"employer,omitempty"`
	EmployerProgram *string `json:"employer_program,omitempty"`
	Points          int     `json:"points"`
	Level           int     `json:"level"`
}

// NewVolunteerProfile returns the row created on first access for an identity
func NewVolunteerProfile(userID, email string) VolunteerProfile {
	return VolunteerProfile{
		UserID:       userID,
		FullName:     "",
		Location:     "",
		ContactEmail: email,
		PhoneNumber:  "",
		Bio:          "",
		Points:       0,
		Level:        1,
	}
}

// Clone returns a copy that shares no pointers with p
func (p *VolunteerProfile) Clone() *VolunteerProfile {
	if p == nil {
		return nil
	}
	out := *p
	out.Employer = cloneString(p.Employer)
	out.EmployerProgram = cloneString(p.EmployerProgram)
	return &out
}

// VolunteerProfileUpdate is a partial update; nil fields are left untouched
type VolunteerProfileUpdate struct {
	FullName        *string `json:"full_name,omitempty" validate:"omitnil,fullname,max=200"`
	Location        *string `json:"location,omitempty" validate:"omitnil,max=200"`
	ContactEmail    *string `json:"contact_email,omitempty" validate:"omitnil,email"`
	PhoneNumber     *string `json:"phone_number,omitempty" validate:"omitnil,phone"`
	Bio             *string `json:"bio,omitempty" validate:"omitnil,max=2000"`
	Employer        *string `json:"employer,omitempty" validate:"omitnil,max=200"`
	EmployerProgram *string `json:"employer_program,omitempty" validate:"omitnil,max=200"`
}

// Validate checks only the fields that are set
func (u VolunteerProfileUpdate) Validate() error {
	return Validate(u)
}

func (u VolunteerProfileUpdate) IsEmpty() bool {
	return u.FullName == nil && u.Location == nil && u.ContactEmail == nil &&
		u.PhoneNumber == nil && u.Bio == nil && u.Employer == nil && u.EmployerProgram == nil
}

// ApplyTo copies the set fields onto p
func (u VolunteerProfileUpdate) ApplyTo(p *VolunteerProfile) {
	setString(&p.FullName, u.FullName)
	setString(&p.Location, u.Location)
	setString(&p.ContactEmail, u.ContactEmail)
	setString(&p.PhoneNumber, u.PhoneNumber)
	setString(&p.Bio, u.Bio)
	if u.Employer != nil {
		p.Employer = cloneString(u.Employer)
	}
	if u.EmployerProgram != nil {
		p.EmployerProgram = cloneString(u.EmployerProgram)
	}
}

// Skill is an entry in the global skill catalog
type Skill struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Category string `json:"category"`
}

// NewSkill is the input for adding a catalog entry
type NewSkill struct {
	Name     string `json:"name" validate:"notblank,max=100"`
	Category string `json:"category" validate:"max=100"`
}

func (s NewSkill) Validate() error {
	return Validate(s)
}

// SkillSelection is one edge of a volunteer's skill selection
type SkillSelection struct {
	ID          string `json:"id,omitempty"`
	VolunteerID string `json:"volunteer_id"`
	SkillID     string `json:"skill_id"`
}

// SkillCategories returns the distinct non-empty categories in the catalog, sorted
func SkillCategories(skills []Skill) []string {
	seen := make(map[string]bool)
	categories := make([]string, 0)
	for _, s := range skills {
		category := strings.TrimSpace(s.Category)
		if category == "" || seen[category] {
			continue
		}
		seen[category] = true
		categories = append(categories, category)
	}
	sort.Strings(categories)
	return categories
}

// Badge is an entry in the global badge catalog
type Badge struct {
	ID             string `json:"id,omitempty"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	ImageURL       string `json:"image_url"`
	PointsRequired int    `json:"points_required"`
}

// EarnedBy reports whether a volunteer with the given points holds the badge
func (b Badge) EarnedBy(points int) bool {
	return points >= b.PointsRequired
}

// EarnedBadges returns the badges earned at the given points, lowest threshold first
func EarnedBadges(badges []Badge, points int) []Badge {
	earned := make([]Badge, 0)
	for _, b := range badges {
		if b.EarnedBy(points) {
			earned = append(earned, b)
		}
	}
	sort.SliceStable(earned, func(i, j int) bool {
		return earned[i].PointsRequired < earned[j].PointsRequired
	})
	return earned
}

// Certification is owned by a volunteer profile and never edited after creation
type Certification struct {
	ID          string  `json:"id,omitempty"`
	VolunteerID string  `json:"volunteer_id,omitempty"`
	Name        string  `json:"name"`
	Issuer      string  `json:"issuer"`
	IssueDate   string  `json:"issue_date"`
	ExpiryDate  *string `json:"expiry_date,omitempty"`
	FileURL     *string `json:"file_url,omitempty"`
}

// NewCertification is the input for adding a certification
type NewCertification struct {
	Name       string  `json:"name" validate:"notblank,max=200"`
	Issuer     string  `json:"issuer" validate:"notblank,max=200"`
	IssueDate  string  `json:"issue_date" validate:"isodate"`
	ExpiryDate *string `json:"expiry_date,omitempty" validate:"omitnil,isodate"`
	FileURL    *string `json:"file_url,omitempty" validate:"omitnil,url"`
}

func (c NewCertification) Validate() error {
	errs := check(c)
	// Dates share one layout, so they compare lexically
	if len(errs.Fields) == 0 && c.ExpiryDate != nil && *c.ExpiryDate < c.IssueDate {
		errs.add("expiry_date", "must not be before issue_date")
	}
	return errs.orNil()
}

// Owned returns the row to insert for the given profile
func (c NewCertification) Owned(volunteerID string) Certification {
	return Certification{
		VolunteerID: volunteerID,
		Name:        strings.TrimSpace(c.Name),
		Issuer:      strings.TrimSpace(c.Issuer),
		IssueDate:   c.IssueDate,
		ExpiryDate:  cloneString(c.ExpiryDate),
		FileURL:     cloneString(c.FileURL),
	}
}

func (c Certification) Clone() Certification {
	c.ExpiryDate = cloneString(c.ExpiryDate)
	c.FileURL = cloneString(c.FileURL)
	return c
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
