package db

import "context"

// Store is the remote data service every aggregate talks to.
// Rows travel as JSON-tagged structs: dest must point to a struct for single-row
// calls and to a slice of structs for list calls. A nil dest discards the result.
//
// The PostgREST client, the Postgres store and the in-memory store all implement it.
type Store interface {
	// FetchOne returns exactly one row, ErrNotFound or ErrMultipleRows
	FetchOne(ctx context.Context, collection string, filter Filter, dest any) error
	FetchMany(ctx context.Context, collection string, filter Filter, order []Order, dest any) error
	Insert(ctx context.Context, collection string, row any, dest any) error
	// InsertMany inserts all rows or none of them
	InsertMany(ctx context.Context, collection string, rows any, dest any) error
	// Update patches exactly one row, ErrNotFound if none match
	Update(ctx context.Context, collection string, filter Filter, patch any, dest any) error
	// Delete returns the number of rows removed
	Delete(ctx context.Context, collection string, filter Filter) (int, error)
}

// Collection names shared by every Store implementation
const (
	Users                    = "users"
	VolunteerProfiles        = "volunteer_profiles"
	OrganizationProfiles     = "organization_profiles"
	CorporateProfiles        = "corporate_profiles"
	Skills                   = "skills"
	VolunteerSkills          = "volunteer_skills"
	Certifications           = "certifications"
	Availability             = "availability"
	Badges                   = "badges"
	OrganizationEvents       = "organization_events"
	OrganizationTestimonials = "organization_testimonials"
)

// Condition is a single column = value match
type Condition struct {
	Column string
	Value  any
}

// Filter is a conjunction of equality conditions. An empty filter matches every row.
type Filter []Condition

// Eq starts a filter on column = value
func Eq(column string, value any) Filter {
	return Filter{{Column: column, Value: value}}
}

// Eq returns a copy of the filter with another condition added
func (f Filter) Eq(column string, value any) Filter {
	out := make(Filter, 0, len(f)+1)
	out = append(out, f...)
	return append(out, Condition{Column: column, Value: value})
}

// Order sorts a FetchMany result by one column
type Order struct {
	Column     string
	Descending bool
}

func Asc(column string) Order {
	return Order{Column: column}
}

func Desc(column string) Order {
	return Order{Column: column, Descending: true}
}
