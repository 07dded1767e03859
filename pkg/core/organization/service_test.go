package organization

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/jakechorley/volunteer-hub/pkg/core/aggregate"
	"github.com/jakechorley/volunteer-hub/pkg/core/model"
	"github.com/jakechorley/volunteer-hub/pkg/db"
	"github.com/jakechorley/volunteer-hub/pkg/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var org = session.Identity{ID: "o1", Email: "team@shelter.org"}

func loaded(t *testing.T, store *db.MemoryStore) *Service {
	t.Helper()
	svc := NewService(store, zap.NewNop(), time.Second)
	_, err := svc.Load(context.Background(), &org)
	require.NoError(t, err)
	return svc
}

func newEvent(title, start string) model.NewEvent {
	return model.NewEvent{
		Title:     title,
		EventType: model.EventOneTime,
		StartDate: start,
		EndDate:   start,
	}
}

func TestLoad_CreatesProfileWithDefaults(t *testing.T) {
	store := db.NewMemoryStore()
	svc := loaded(t, store)

	state := svc.State()
	require.NotNil(t, state.Profile)
	assert.Equal(t, "o1", state.Profile.UserID)
	assert.Equal(t, "team@shelter.org", state.Profile.ContactEmail)
	assert.Equal(t, model.VerificationPending, state.Profile.VerificationStatus)
	assert.Equal(t, model.ImpactMetrics{}, state.Profile.ImpactMetrics)
	assert.Empty(t, state.Events)
	assert.Empty(t, state.Testimonials)

	_, err := svc.Load(context.Background(), &org)
	require.NoError(t, err)
	assert.Equal(t, 1, store.Count(db.OrganizationProfiles, nil))
}

func TestLoad_OrdersEventsAndTestimonials(t *testing.T) {
	store := db.NewMemoryStore()
	require.NoError(t, store.Seed(db.OrganizationProfiles, []model.OrganizationProfile{
		{ID: "op1", UserID: "o1", Name: "Shelter", CauseAreas: []string{"housing"}},
	}))
	require.NoError(t, store.Seed(db.OrganizationEvents, []model.Event{
		{ID: "e2", OrganizationID: "op1", Title: "Later", StartDate: "2026-05-01T09:00:00Z"},
		{ID: "e1", OrganizationID: "op1", Title: "Sooner", StartDate: "2026-04-01"},
		{ID: "x", OrganizationID: "other", Title: "Not ours", StartDate: "2026-01-01"},
	}))
	require.NoError(t, store.Seed(db.OrganizationTestimonials, []model.Testimonial{
		{ID: "t1", OrganizationID: "op1", AuthorName: "Old", Rating: 4, CreatedAt: "2025-01-01T00:00:00.000000000Z"},
		{ID: "t2", OrganizationID: "op1", AuthorName: "New", Rating: 5, CreatedAt: "2025-06-01T00:00:00.000000000Z"},
	}))

	svc := loaded(t, store)
	state := svc.State()

	assert.Equal(t, "Shelter", state.Profile.Name)
	require.Len(t, state.Events, 2)
	assert.Equal(t, "e1", state.Events[0].ID)
	assert.Equal(t, "e2", state.Events[1].ID)
	require.Len(t, state.Testimonials, 2)
	assert.Equal(t, "t2", state.Testimonials[0].ID)
}

func TestLoad_FailureRecordsError(t *testing.T) {
	store := db.NewMemoryStore()
	store.SetHook(func(ctx context.Context, op db.Op, collection string) error {
		if collection == db.OrganizationTestimonials {
			return errors.New("permission denied")
		}
		return nil
	})
	svc := NewService(store, zap.NewNop(), time.Second)

	_, err := svc.Load(context.Background(), &org)
	require.Error(t, err)

	state := svc.State()
	assert.Nil(t, state.Profile)
	assert.Nil(t, state.Events)
	assert.False(t, state.Loading)
	assert.Equal(t, err, state.Err)
}

func TestUpdateProfile(t *testing.T) {
	store := db.NewMemoryStore()
	svc := loaded(t, store)

	causes := []string{"housing", "food"}
	profile, err := svc.UpdateProfile(context.Background(), model.OrganizationProfileUpdate{
		Name:       ptr("Ilford Shelter"),
		Website:    ptr("https://shelter.example.org"),
		CauseAreas: &causes,
	})
	require.NoError(t, err)
	assert.Equal(t, "Ilford Shelter", profile.Name)
	assert.Equal(t, []string{"housing", "food"}, profile.CauseAreas)
	assert.Equal(t, model.VerificationPending, profile.VerificationStatus)
	assert.Equal(t, profile, svc.State().Profile)

	_, err = svc.UpdateProfile(context.Background(), model.OrganizationProfileUpdate{Website: ptr("not a url")})
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, "https://shelter.example.org", svc.State().Profile.Website)
}

func TestUpdateProfile_RequiresLoadedProfile(t *testing.T) {
	svc := NewService(db.NewMemoryStore(), zap.NewNop(), time.Second)

	_, err := svc.UpdateProfile(context.Background(), model.OrganizationProfileUpdate{Name: ptr("X")})
	assert.ErrorIs(t, err, aggregate.ErrNoIdentity)
}

func TestCreateEvent_KeepsStartOrder(t *testing.T) {
	store := db.NewMemoryStore()
	svc := loaded(t, store)

	late, err := svc.CreateEvent(context.Background(), newEvent("Gala", "2026-12-01T18:00:00Z"))
	require.NoError(t, err)
	assert.Equal(t, model.EventUpcoming, late.Status)
	assert.Equal(t, svc.State().Profile.ID, late.OrganizationID)

	_, err = svc.CreateEvent(context.Background(), newEvent("Litter pick", "2026-11-01T09:00:00Z"))
	require.NoError(t, err)

	events := svc.State().Events
	require.Len(t, events, 2)
	assert.Equal(t, "Litter pick", events[0].Title)
	assert.Equal(t, "Gala", events[1].Title)
}

func TestCreateEvent_Validation(t *testing.T) {
	tests := []struct {
		name  string
		input model.NewEvent
		field string
	}{
		{
			name:  "blank title",
			input: newEvent(" ", "2026-11-01"),
			field: "title",
		},
		{
			name: "ends before start",
			input: model.NewEvent{
				Title: "Run", EventType: model.EventOneTime,
				StartDate: "2026-11-02", EndDate: "2026-11-01",
			},
			field: "end_date",
		},
		{
			name: "recurring without rule",
			input: model.NewEvent{
				Title: "Weekly", EventType: model.EventRecurring,
				StartDate: "2026-11-02", EndDate: "2027-11-01",
			},
			field: "recurrence_rule",
		},
		{
			name: "unparseable rule",
			input: model.NewEvent{
				Title: "Weekly", EventType: model.EventRecurring,
				StartDate: "2026-11-02", EndDate: "2027-11-01",
				RecurrenceRule: ptr("FREQ=FORTNIGHTLY"),
			},
			field: "recurrence_rule",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := db.NewMemoryStore()
			svc := loaded(t, store)

			_, err := svc.CreateEvent(context.Background(), tt.input)
			var verr *model.ValidationError
			require.ErrorAs(t, err, &verr)
			_, ok := verr.Message(tt.field)
			assert.True(t, ok, "expected a message for %s, got %v", tt.field, err)
			assert.Equal(t, 0, store.Count(db.OrganizationEvents, nil))
		})
	}
}

func TestUpdateEvent(t *testing.T) {
	store := db.NewMemoryStore()
	svc := loaded(t, store)

	first, err := svc.CreateEvent(context.Background(), newEvent("First", "2026-11-01"))
	require.NoError(t, err)
	_, err = svc.CreateEvent(context.Background(), newEvent("Second", "2026-11-05"))
	require.NoError(t, err)

	status := model.EventCancelled
	updated, err := svc.UpdateEvent(context.Background(), first.ID, model.EventUpdate{
		StartDate: ptr("2026-11-10"),
		EndDate:   ptr("2026-11-10"),
		Status:    &status,
	})
	require.NoError(t, err)
	assert.Equal(t, model.EventCancelled, updated.Status)
	assert.Equal(t, "First", updated.Title)

	events := svc.State().Events
	require.Len(t, events, 2)
	assert.Equal(t, "Second", events[0].Title, "moved event is re-sorted")
	assert.Equal(t, updated, events[1])
}

func TestUpdateEvent_Errors(t *testing.T) {
	store := db.NewMemoryStore()
	svc := loaded(t, store)

	event, err := svc.CreateEvent(context.Background(), newEvent("First", "2026-11-01"))
	require.NoError(t, err)

	_, err = svc.UpdateEvent(context.Background(), "missing", model.EventUpdate{Title: ptr("X")})
	assert.ErrorIs(t, err, db.ErrNotFound)

	// Checked against the stored end date
	_, err = svc.UpdateEvent(context.Background(), event.ID, model.EventUpdate{StartDate: ptr("2026-12-01")})
	assert.ErrorIs(t, err, model.ErrValidation)

	store.SetHook(func(ctx context.Context, op db.Op, collection string) error {
		if op == db.OpUpdate {
			return errors.New("row level security")
		}
		return nil
	})
	_, err = svc.UpdateEvent(context.Background(), event.ID, model.EventUpdate{Title: ptr("Renamed")})
	require.Error(t, err)
	assert.Equal(t, "First", svc.State().Events[0].Title)
	assert.Equal(t, err, svc.State().Err)
}

func TestAddTestimonial_Prepends(t *testing.T) {
	store := db.NewMemoryStore()
	svc := loaded(t, store)

	event, err := svc.CreateEvent(context.Background(), newEvent("First", "2026-11-01"))
	require.NoError(t, err)

	_, err = svc.AddTestimonial(context.Background(), model.NewTestimonial{AuthorName: "Sam", Content: "Great", Rating: 5})
	require.NoError(t, err)
	second, err := svc.AddTestimonial(context.Background(), model.NewTestimonial{
		AuthorName: "Kim", Content: "Lovely team", Rating: 4, EventID: &event.ID,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, second.CreatedAt)

	testimonials := svc.State().Testimonials
	require.Len(t, testimonials, 2)
	assert.Equal(t, "Kim", testimonials[0].AuthorName)

	_, err = svc.AddTestimonial(context.Background(), model.NewTestimonial{AuthorName: "X", Content: "Y", Rating: 6})
	assert.ErrorIs(t, err, model.ErrValidation)

	_, err = svc.AddTestimonial(context.Background(), model.NewTestimonial{AuthorName: "X", Content: "Y", Rating: 3, EventID: ptr("other")})
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, 2, store.Count(db.OrganizationTestimonials, nil))
}

func TestFollow_ClearsOnSignOut(t *testing.T) {
	provider := session.NewProvider()
	provider.SignIn(org, nil)

	svc := NewService(db.NewMemoryStore(), zap.NewNop(), time.Second)
	stop := svc.Follow(context.Background(), provider)
	defer stop()

	require.Eventually(t, func() bool {
		return svc.State().Loaded
	}, time.Second, 5*time.Millisecond)

	provider.SignOut()
	assert.Nil(t, svc.State().Profile)
}

func ptr[T any](v T) *T {
	return &v
}

func TestLoad_ConcurrentFirstLoadsCreateOneProfile(t *testing.T) {
	store := db.NewMemoryStore()
	store.SetHook(func(ctx context.Context, op db.Op, collection string) error {
		if op == db.OpFetchOne && collection == db.OrganizationProfiles {
			time.Sleep(20 * time.Millisecond)
		}
		return nil
	})

	var wg sync.WaitGroup
	states := make([]State, 2)
	errs := make([]error, 2)
	for i := range states {
		wg.Add(1)
		go func() {
			defer wg.Done()
			svc := NewService(store, zap.NewNop(), time.Second)
			states[i], errs[i] = svc.Load(context.Background(), &org)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, store.Count(db.OrganizationProfiles, db.Eq("user_id", "o1")))
	assert.Equal(t, states[0].Profile.ID, states[1].Profile.ID)
}

func TestLoad_FetchesEventsAndTestimonialsConcurrently(t *testing.T) {
	store := db.NewMemoryStore()

	var inFlight, peak atomic.Int32
	both := make(chan struct{})
	var once sync.Once
	store.SetHook(func(ctx context.Context, op db.Op, collection string) error {
		if op != db.OpFetchMany || (collection != db.OrganizationEvents && collection != db.OrganizationTestimonials) {
			return nil
		}
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for seen := peak.Load(); n > seen && !peak.CompareAndSwap(seen, n); seen = peak.Load() {
		}
		if n == 2 {
			once.Do(func() { close(both) })
		}
		select {
		case <-both:
		case <-time.After(300 * time.Millisecond):
		}
		return nil
	})

	loaded(t, store)
	assert.Equal(t, int32(2), peak.Load(), "events and testimonials are fetched together")
}
