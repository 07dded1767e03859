package model

// UserType selects which profile is created for a new account
type UserType string

const (
	UserTypeIndividual   UserType = "individual"
	UserTypeOrganization UserType = "organization"
	UserTypeCorporate    UserType = "corporate"
)

func (t UserType) IsValid() bool {
	return t == UserTypeIndividual || t == UserTypeOrganization || t == UserTypeCorporate
}

// User links an identity to its account type
type User struct {
	ID       string   `json:"id"`
	Email    string   `json:"email"`
	UserType UserType `json:"user_type"`
}

type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

// ImpactMetrics are the running totals shown on an organization profile
type ImpactMetrics struct {
	TotalEvents     int `json:"total_events"`
	TotalVolunteers int `json:"total_volunteers"`
	TotalHours      int `json:"total_hours"`
}

// OrganizationProfile is the root row of an organization's aggregate
type OrganizationProfile struct {
	ID                 string             `json:"id,omitempty"`
	UserID             string             `json:"user_id"`
	Name               string             `json:"name"`
	Mission            string             `json:"mission"`
	Description        string             `json:"description"`
	Address            string             `json:"address"`
	City               string             `json:"city"`
	State              string             `json:"state"`
	PostalCode         string             `json:"postal_code"`
	Country            string             `json:"country"`
	ContactEmail       string             `json:"contact_email"`
	PhoneNumber        string             `json:"phone_number"`
	Website            string             `json:"website"`
	OrganizationType   string             `json:"organization_type"`
	TaxID              string             `json:"tax_id"`
	CauseAreas         []string           `json:"cause_areas"`
	VerificationStatus VerificationStatus `json:"verification_status"`
	ImpactMetrics      ImpactMetrics      `json:"impact_metrics"`
}

// NewOrganizationProfile returns the row created for a new organization account
func NewOrganizationProfile(userID, email string) OrganizationProfile {
	return OrganizationProfile{
		UserID:             userID,
		ContactEmail:       email,
		CauseAreas:         []string{},
		VerificationStatus: VerificationPending,
	}
}

func (p *OrganizationProfile) Clone() *OrganizationProfile {
	if p == nil {
		return nil
	}
	out := *p
	out.CauseAreas = cloneStrings(p.CauseAreas)
	return &out
}

// OrganizationProfileUpdate is a partial update; nil fields are left untouched.
// Verification status and impact metrics are maintained by the backend.
type OrganizationProfileUpdate struct {
	Name             *string   `json:"name,omitempty" validate:"omitnil,notblank,max=200"`
	Mission          *string   `json:"mission,omitempty" validate:"omitnil,max=2000"`
	Description      *string   `json:"description,omitempty" validate:"omitnil,max=5000"`
	Address          *string   `json:"address,omitempty" validate:"omitnil,max=200"`
	City             *string   `json:"city,omitempty" validate:"omitnil,max=100"`
	State            *string   `json:"state,omitempty" validate:"omitnil,max=100"`
	PostalCode       *string   `json:"postal_code,omitempty" validate:"omitnil,max=20"`
	Country          *string   `json:"country,omitempty" validate:"omitnil,max=100"`
	ContactEmail     *string   `json:"contact_email,omitempty" validate:"omitnil,email"`
	PhoneNumber      *string   `json:"phone_number,omitempty" validate:"omitnil,phone"`
	Website          *string   `json:"website,omitempty" validate:"omitnil,url"`
	OrganizationType *string   `json:"organization_type,omitempty" validate:"omitnil,max=100"`
	TaxID            *string   `json:"tax_id,omitempty" validate:"omitnil,max=50"`
	CauseAreas       *[]string `json:"cause_areas,omitempty" validate:"omitnil,dive,notblank"`
}

func (u OrganizationProfileUpdate) Validate() error {
	return Validate(u)
}

func (u OrganizationProfileUpdate) IsEmpty() bool {
	return u == (OrganizationProfileUpdate{})
}

// CorporateProfile is created for corporate sponsor accounts
type CorporateProfile struct {
	ID            string   `json:"id,omitempty"`
	UserID        string   `json:"user_id"`
	CompanyName   string   `json:"company_name"`
	Location      string   `json:"location"`
	ContactEmail  string   `json:"contact_email"`
	PhoneNumber   string   `json:"phone_number"`
	Description   string   `json:"description"`
	Website       string   `json:"website"`
	Industry      string   `json:"industry"`
	EmployeeCount int      `json:"employee_count"`
	CSRFocusAreas []string `json:"csr_focus_areas"`
}

func NewCorporateProfile(userID, email string) CorporateProfile {
	return CorporateProfile{
		UserID:        userID,
		ContactEmail:  email,
		CSRFocusAreas: []string{},
	}
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
