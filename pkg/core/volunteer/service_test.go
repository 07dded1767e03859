package volunteer

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

var alice = session.Identity{ID: "u1", Email: "a@x.com"}

func newTestStore(t *testing.T) *db.MemoryStore {
	t.Helper()
	store := db.NewMemoryStore()
	require.NoError(t, store.Seed(db.Skills, []model.Skill{
		{ID: "s1", Name: "First Aid", Category: "Health"},
		{ID: "s2", Name: "Cooking", Category: "Kitchen"},
		{ID: "s3", Name: "Driving", Category: "Transport"},
	}))
	require.NoError(t, store.Seed(db.Badges, []model.Badge{
		{ID: "b2", Name: "Regular", PointsRequired: 100},
		{ID: "b1", Name: "Newcomer", PointsRequired: 0},
	}))
	return store
}

func newTestService(store db.Store, retries int) *Service {
	return NewService(store, zap.NewNop(), Options{
		Timeout:            time.Second,
		SkillInsertRetries: retries,
		RetryBackoff:       time.Millisecond,
	})
}

func loaded(t *testing.T, store db.Store, retries int) *Service {
	t.Helper()
	svc := newTestService(store, retries)
	_, err := svc.Load(context.Background(), &alice)
	require.NoError(t, err)
	return svc
}

// failing returns a hook failing the given op on collection while fail returns true
func failing(op db.Op, collection string, fail func() bool) db.Hook {
	return func(ctx context.Context, o db.Op, c string) error {
		if o == op && c == collection && fail() {
			return errors.New("injected failure")
		}
		return nil
	}
}

func TestLoad_CreatesProfileWithDefaults(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(store, 0)

	state, err := svc.Load(context.Background(), &alice)
	require.NoError(t, err)

	require.NotNil(t, state.Profile)
	assert.NotEmpty(t, state.Profile.ID)
	assert.Equal(t, "u1", state.Profile.UserID)
	assert.Equal(t, "", state.Profile.FullName)
	assert.Equal(t, "a@x.com", state.Profile.ContactEmail)
	assert.Equal(t, 0, state.Profile.Points)
	assert.Equal(t, 1, state.Profile.Level)

	assert.True(t, state.Loaded)
	assert.False(t, state.Loading)
	assert.NoError(t, state.Err)
	assert.Empty(t, state.SelectedSkills)
	assert.Empty(t, state.Certifications)
	assert.Empty(t, state.Availability)

	assert.Equal(t, []string{"Cooking", "Driving", "First Aid"}, skillNames(state.Skills))
	require.Len(t, state.Badges, 2)
	assert.Equal(t, "b1", state.Badges[0].ID, "badges are ordered by threshold")
}

func TestLoad_DoesNotCreateSecondProfile(t *testing.T) {
	store := newTestStore(t)
	svc := newTestService(store, 0)

	first, err := svc.Load(context.Background(), &alice)
	require.NoError(t, err)
	second, err := svc.Load(context.Background(), &alice)
	require.NoError(t, err)

	assert.Equal(t, first.Profile.ID, second.Profile.ID)
	assert.Equal(t, 1, store.Count(db.VolunteerProfiles, db.Eq("user_id", "u1")))
}

func TestLoad_ExistingProfileAndCollections(t *testing.T) {
	store := newTestStore(t)
	require.NoError(t, store.Seed(db.VolunteerProfiles, []model.VolunteerProfile{
		{ID: "p1", UserID: "u1", FullName: "Alice", ContactEmail: "a@x.com", Points: 150, Level: 2},
	}))
	require.NoError(t, store.Seed(db.VolunteerSkills, []model.SkillSelection{
		{VolunteerID: "p1", SkillID: "s2"},
		{VolunteerID: "other", SkillID: "s3"},
	}))
	require.NoError(t, store.Seed(db.Availability, []model.AvailabilitySlot{
		{VolunteerID: "p1", DayOfWeek: 3, StartTime: "10:00", EndTime: "12:00"},
		{VolunteerID: "p1", DayOfWeek: 1, StartTime: "13:00", EndTime: "15:00"},
		{VolunteerID: "p1", DayOfWeek: 1, StartTime: "09:00", EndTime: "11:00"},
	}))

	svc := newTestService(store, 0)
	state, err := svc.Load(context.Background(), &alice)
	require.NoError(t, err)

	assert.Equal(t, "Alice", state.Profile.FullName)
	assert.Equal(t, []string{"s2"}, state.SelectedSkills)
	require.Len(t, state.Availability, 3)
	assert.True(t, model.AvailabilitySorted(state.Availability))
	assert.Equal(t, "09:00", state.Availability[0].StartTime)
	assert.Equal(t, 1, store.Count(db.VolunteerProfiles, db.Eq("user_id", "u1")))

	assert.Equal(t, []string{"b1", "b2"}, badgeIDs(svc.EarnedBadges()))
	assert.Equal(t, []string{"Health", "Kitchen", "Transport"}, svc.SkillCategories())
}

func TestLoad_FailureRecordsErrorAndKeepsNothing(t *testing.T) {
	store := newTestStore(t)
	store.SetHook(failing(db.OpFetchMany, db.Certifications, func() bool { return true }))
	svc := newTestService(store, 0)

	_, err := svc.Load(context.Background(), &alice)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch certifications")

	var remoteErr *db.Error
	assert.ErrorAs(t, err, &remoteErr)

	state := svc.State()
	assert.Nil(t, state.Profile)
	assert.Nil(t, state.Skills)
	assert.False(t, state.Loading)
	assert.False(t, state.Loaded)
	assert.Equal(t, err, state.Err)
}

func TestLoad_NilIdentityClearsCache(t *testing.T) {
	svc := loaded(t, newTestStore(t), 0)

	state, err := svc.Load(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, state.Profile)
	assert.Nil(t, state.Identity)
	assert.False(t, state.Loading)
	assert.False(t, state.Loaded)
}

func TestLoad_NewerIdentitySupersedesInFlightLoad(t *testing.T) {
	store := newTestStore(t)

	entered := make(chan struct{})
	var blocked atomic.Bool
	store.SetHook(func(ctx context.Context, op db.Op, collection string) error {
		if op == db.OpFetchOne && collection == db.VolunteerProfiles && blocked.CompareAndSwap(false, true) {
			close(entered)
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	})

	svc := newTestService(store, 0)

	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.Load(context.Background(), &alice)
		firstErr <- err
	}()
	<-entered

	bob := session.Identity{ID: "u2", Email: "b@x.com"}
	state, err := svc.Load(context.Background(), &bob)
	require.NoError(t, err)

	assert.ErrorIs(t, <-firstErr, aggregate.ErrStaleLoad)
	assert.Equal(t, "u2", state.Profile.UserID)
	assert.Equal(t, "b@x.com", state.Profile.ContactEmail)
	assert.Equal(t, "u2", svc.State().Identity.ID)
}

func TestFollow_ReloadsOnIdentityChange(t *testing.T) {
	store := newTestStore(t)
	provider := session.NewProvider()
	svc := newTestService(store, 0)

	stop := svc.Follow(context.Background(), provider)
	defer stop()

	assert.Nil(t, svc.State().Profile, "nothing loads without an identity")

	provider.SignIn(alice, nil)
	require.Eventually(t, func() bool {
		state := svc.State()
		return state.Loaded && state.Profile != nil && state.Profile.UserID == "u1"
	}, time.Second, 5*time.Millisecond)

	provider.SignIn(session.Identity{ID: "u2", Email: "b@x.com"}, nil)
	require.Eventually(t, func() bool {
		state := svc.State()
		return state.Loaded && state.Profile != nil && state.Profile.UserID == "u2"
	}, time.Second, 5*time.Millisecond)

	provider.SignOut()
	state := svc.State()
	assert.Nil(t, state.Profile, "the previous identity's aggregate is dropped on sign-out")
	assert.Nil(t, state.Identity)
}

func TestUpdateProfile(t *testing.T) {
	tests := []struct {
		name    string
		update  model.VolunteerProfileUpdate
		check   func(t *testing.T, p *model.VolunteerProfile)
		wantErr error
	}{
		{
			name:   "sets given fields only",
			update: model.VolunteerProfileUpdate{FullName: ptr("Alice Smith"), Location: ptr("Leeds")},
			check: func(t *testing.T, p *model.VolunteerProfile) {
				assert.Equal(t, "Alice Smith", p.FullName)
				assert.Equal(t, "Leeds", p.Location)
				assert.Equal(t, "a@x.com", p.ContactEmail)
				assert.Equal(t, 1, p.Level)
			},
		},
		{
			name:   "sets optional employer",
			update: model.VolunteerProfileUpdate{Employer: ptr("Acme")},
			check: func(t *testing.T, p *model.VolunteerProfile) {
				require.NotNil(t, p.Employer)
				assert.Equal(t, "Acme", *p.Employer)
			},
		},
		{
			name:    "rejects invalid email",
			update:  model.VolunteerProfileUpdate{ContactEmail: ptr("not-an-email")},
			wantErr: model.ErrValidation,
		},
		{
			name:    "rejects short name",
			update:  model.VolunteerProfileUpdate{FullName: ptr("A")},
			wantErr: model.ErrValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := loaded(t, newTestStore(t), 0)
			before := svc.State()

			profile, err := svc.UpdateProfile(context.Background(), tt.update)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, before.Profile, svc.State().Profile)
				return
			}
			require.NoError(t, err)
			tt.check(t, profile)
			assert.Equal(t, profile, svc.State().Profile)
		})
	}
}

func TestUpdateProfile_SameValuesChangeNothing(t *testing.T) {
	store := newTestStore(t)
	svc := loaded(t, store, 0)

	first, err := svc.UpdateProfile(context.Background(), model.VolunteerProfileUpdate{FullName: ptr("Alice"), Bio: ptr("Hi")})
	require.NoError(t, err)
	second, err := svc.UpdateProfile(context.Background(), model.VolunteerProfileUpdate{FullName: ptr("Alice"), Bio: ptr("Hi")})
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.Count(db.VolunteerProfiles, db.Eq("user_id", "u1")))
}

func TestUpdateProfile_CreatesMissingProfile(t *testing.T) {
	store := newTestStore(t)
	svc := loaded(t, store, 0)

	// Profile removed behind the cache's back
	_, err := store.Delete(context.Background(), db.VolunteerProfiles, db.Eq("user_id", "u1"))
	require.NoError(t, err)

	profile, err := svc.UpdateProfile(context.Background(), model.VolunteerProfileUpdate{FullName: ptr("Alice")})
	require.NoError(t, err)
	assert.Equal(t, "Alice", profile.FullName)
	assert.Equal(t, "a@x.com", profile.ContactEmail)
	assert.Equal(t, 1, profile.Level)
	assert.Equal(t, 1, store.Count(db.VolunteerProfiles, db.Eq("user_id", "u1")))
}

func TestUpdateProfile_RemoteFailureLeavesCache(t *testing.T) {
	store := newTestStore(t)
	svc := loaded(t, store, 0)
	before := svc.State()

	store.SetHook(failing(db.OpUpdate, db.VolunteerProfiles, func() bool { return true }))
	_, err := svc.UpdateProfile(context.Background(), model.VolunteerProfileUpdate{FullName: ptr("Alice")})
	require.Error(t, err)

	after := svc.State()
	assert.Equal(t, before.Profile, after.Profile)
	assert.Equal(t, err, after.Err)

	// A later success clears the recorded error
	store.SetHook(nil)
	_, err = svc.UpdateProfile(context.Background(), model.VolunteerProfileUpdate{FullName: ptr("Alice")})
	require.NoError(t, err)
	assert.NoError(t, svc.State().Err)
}

func TestMutations_RequireIdentity(t *testing.T) {
	svc := newTestService(newTestStore(t), 0)

	_, err := svc.UpdateProfile(context.Background(), model.VolunteerProfileUpdate{})
	assert.ErrorIs(t, err, aggregate.ErrNoIdentity)

	_, err = svc.ReplaceSkills(context.Background(), []string{"s1"})
	assert.ErrorIs(t, err, aggregate.ErrNoIdentity)

	_, err = svc.DeleteAvailability(context.Background(), "slot")
	assert.ErrorIs(t, err, aggregate.ErrNoIdentity)
}

func TestMutations_RequireLoadedProfile(t *testing.T) {
	store := newTestStore(t)
	store.SetHook(failing(db.OpFetchMany, db.Availability, func() bool { return true }))
	svc := newTestService(store, 0)

	_, err := svc.Load(context.Background(), &alice)
	require.Error(t, err)

	_, err = svc.ReplaceSkills(context.Background(), []string{"s1"})
	assert.ErrorIs(t, err, ErrNoProfile)
}

func TestReplaceSkills_Scenario(t *testing.T) {
	store := newTestStore(t)
	svc := loaded(t, store, 0)
	profileID := svc.State().Profile.ID

	selected, err := svc.ReplaceSkills(context.Background(), []string{"s1", "s2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, selected)
	assert.Equal(t, []string{"s1", "s2"}, svc.State().SelectedSkills)
	assert.Equal(t, 2, store.Count(db.VolunteerSkills, db.Eq("volunteer_id", profileID)))

	selected, err = svc.ReplaceSkills(context.Background(), []string{"s2"})
	require.NoError(t, err)
	assert.Equal(t, []string{"s2"}, selected)
	assert.Equal(t, []string{"s2"}, svc.State().SelectedSkills)
	assert.Equal(t, 1, store.Count(db.VolunteerSkills, db.Eq("volunteer_id", profileID)))

	selected, err = svc.ReplaceSkills(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, selected)
	assert.Equal(t, 0, store.Count(db.VolunteerSkills, db.Eq("volunteer_id", profileID)))
}

func TestReplaceSkills_DropsDuplicates(t *testing.T) {
	svc := loaded(t, newTestStore(t), 0)

	selected, err := svc.ReplaceSkills(context.Background(), []string{"s1", " s1", "s3", ""})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s3"}, selected)
}

func TestReplaceSkills_UnknownSkillRejectedBeforeRemoteCall(t *testing.T) {
	store := newTestStore(t)
	svc := loaded(t, store, 0)

	var calls atomic.Int32
	store.SetHook(func(ctx context.Context, op db.Op, collection string) error {
		calls.Add(1)
		return nil
	})

	_, err := svc.ReplaceSkills(context.Background(), []string{"s1", "nope"})
	require.ErrorIs(t, err, model.ErrValidation)
	assert.Contains(t, err.Error(), "nope")
	assert.Zero(t, calls.Load())
}

func TestReplaceSkills_RetriesFailedInsert(t *testing.T) {
	store := newTestStore(t)
	svc := loaded(t, store, 2)

	var attempts atomic.Int32
	store.SetHook(failing(db.OpInsertMany, db.VolunteerSkills, func() bool {
		return attempts.Add(1) == 1
	}))

	selected, err := svc.ReplaceSkills(context.Background(), []string{"s1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"s1"}, selected)
	assert.EqualValues(t, 2, attempts.Load())
}

func TestReplaceSkills_RestoresPreviousSelection(t *testing.T) {
	store := newTestStore(t)
	svc := loaded(t, store, 1)
	profileID := svc.State().Profile.ID

	_, err := svc.ReplaceSkills(context.Background(), []string{"s1", "s2"})
	require.NoError(t, err)

	// Fail the insert and its one retry, let the restore through
	var attempts atomic.Int32
	store.SetHook(failing(db.OpInsertMany, db.VolunteerSkills, func() bool {
		return attempts.Add(1) <= 2
	}))

	_, err = svc.ReplaceSkills(context.Background(), []string{"s3"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "previous selection restored")

	var partial *PartialFailureError
	assert.False(t, errors.As(err, &partial))

	assert.Equal(t, []string{"s1", "s2"}, svc.State().SelectedSkills)
	assert.Equal(t, 2, store.Count(db.VolunteerSkills, db.Eq("volunteer_id", profileID)))
}

func TestReplaceSkills_PartialFailureMatchesRemote(t *testing.T) {
	store := newTestStore(t)
	svc := loaded(t, store, 1)
	profileID := svc.State().Profile.ID

	_, err := svc.ReplaceSkills(context.Background(), []string{"s1"})
	require.NoError(t, err)

	store.SetHook(failing(db.OpInsertMany, db.VolunteerSkills, func() bool { return true }))

	_, err = svc.ReplaceSkills(context.Background(), []string{"s2", "s3"})
	var partial *PartialFailureError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"s2", "s3"}, partial.Requested)
	assert.Empty(t, partial.Remote)

	state := svc.State()
	assert.Empty(t, state.SelectedSkills)
	assert.Equal(t, 0, store.Count(db.VolunteerSkills, db.Eq("volunteer_id", profileID)))
	assert.ErrorAs(t, state.Err, &partial)
}

func TestReplaceSkills_DeleteFailureLeavesCache(t *testing.T) {
	store := newTestStore(t)
	svc := loaded(t, store, 0)

	_, err := svc.ReplaceSkills(context.Background(), []string{"s1"})
	require.NoError(t, err)

	store.SetHook(failing(db.OpDelete, db.VolunteerSkills, func() bool { return true }))
	_, err = svc.ReplaceSkills(context.Background(), []string{"s2"})
	require.Error(t, err)
	assert.Equal(t, []string{"s1"}, svc.State().SelectedSkills)
}

func TestAvailability_AddThenDelete(t *testing.T) {
	store := newTestStore(t)
	svc := loaded(t, store, 0)

	list, err := svc.AddAvailability(context.Background(), model.NewAvailabilitySlot{DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].DayOfWeek)
	assert.NotEmpty(t, list[0].ID)
	assert.Equal(t, list, svc.State().Availability)

	list, err = svc.DeleteAvailability(context.Background(), list[0].ID)
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.Empty(t, svc.State().Availability)
}

func TestAvailability_KeptSorted(t *testing.T) {
	svc := loaded(t, newTestStore(t), 0)

	_, err := svc.AddAvailability(context.Background(), model.NewAvailabilitySlot{DayOfWeek: 2, StartTime: "09:00", EndTime: "10:00"})
	require.NoError(t, err)
	list, err := svc.AddAvailability(context.Background(),
		model.NewAvailabilitySlot{DayOfWeek: 0, StartTime: "14:00", EndTime: "16:00"},
		model.NewAvailabilitySlot{DayOfWeek: 0, StartTime: "08:00", EndTime: "09:30"},
	)
	require.NoError(t, err)

	require.Len(t, list, 3)
	assert.Equal(t, 0, list[0].DayOfWeek)
	assert.Equal(t, "08:00", list[0].StartTime)
	assert.Equal(t, 2, list[2].DayOfWeek)

	list, err = svc.DeleteAvailability(context.Background(), list[0].ID)
	require.NoError(t, err)
	assert.True(t, model.AvailabilitySorted(list))
	assert.True(t, model.AvailabilitySorted(svc.State().Availability))
}

func TestAvailability_RefetchFailureMergesLocally(t *testing.T) {
	store := newTestStore(t)
	svc := loaded(t, store, 0)

	_, err := svc.AddAvailability(context.Background(), model.NewAvailabilitySlot{DayOfWeek: 4, StartTime: "09:00", EndTime: "10:00"})
	require.NoError(t, err)

	store.SetHook(failing(db.OpFetchMany, db.Availability, func() bool { return true }))
	list, err := svc.AddAvailability(context.Background(), model.NewAvailabilitySlot{DayOfWeek: 1, StartTime: "09:00", EndTime: "10:00"})
	require.NoError(t, err)

	require.Len(t, list, 2)
	assert.Equal(t, 1, list[0].DayOfWeek)
	assert.Equal(t, list, svc.State().Availability)
}

func TestAvailability_InvalidSlot(t *testing.T) {
	svc := loaded(t, newTestStore(t), 0)

	tests := []struct {
		name  string
		slots []model.NewAvailabilitySlot
	}{
		{name: "no slots"},
		{name: "day out of range", slots: []model.NewAvailabilitySlot{{DayOfWeek: 7, StartTime: "09:00", EndTime: "10:00"}}},
		{name: "end before start", slots: []model.NewAvailabilitySlot{{DayOfWeek: 1, StartTime: "10:00", EndTime: "09:00"}}},
		{name: "bad clock", slots: []model.NewAvailabilitySlot{{DayOfWeek: 1, StartTime: "9am", EndTime: "10:00"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddAvailability(context.Background(), tt.slots...)
			assert.ErrorIs(t, err, model.ErrValidation)
			assert.Empty(t, svc.State().Availability)
		})
	}
}

func TestDeleteAvailability_UnknownSlot(t *testing.T) {
	svc := loaded(t, newTestStore(t), 0)
	list, err := svc.AddAvailability(context.Background(), model.NewAvailabilitySlot{DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00"})
	require.NoError(t, err)

	_, err = svc.DeleteAvailability(context.Background(), "missing")
	require.ErrorIs(t, err, db.ErrNotFound)
	assert.Equal(t, list, svc.State().Availability)
}

func TestDeleteAvailability_RemoteFailureLeavesCache(t *testing.T) {
	store := newTestStore(t)
	svc := loaded(t, store, 0)
	list, err := svc.AddAvailability(context.Background(), model.NewAvailabilitySlot{DayOfWeek: 1, StartTime: "09:00", EndTime: "17:00"})
	require.NoError(t, err)

	store.SetHook(failing(db.OpDelete, db.Availability, func() bool { return true }))
	_, err = svc.DeleteAvailability(context.Background(), list[0].ID)
	require.Error(t, err)
	assert.Equal(t, list, svc.State().Availability)
}

func TestAddCertification(t *testing.T) {
	svc := loaded(t, newTestStore(t), 0)

	first, err := svc.AddCertification(context.Background(), model.NewCertification{
		Name: "First Aid", Issuer: "Red Cross", IssueDate: "2024-01-10", ExpiryDate: ptr("2027-01-10"),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, svc.State().Profile.ID, first.VolunteerID)

	_, err = svc.AddCertification(context.Background(), model.NewCertification{
		Name: "Food Hygiene", Issuer: "FSA", IssueDate: "2024-03-01",
	})
	require.NoError(t, err)

	certs := svc.State().Certifications
	require.Len(t, certs, 2)
	assert.Equal(t, "First Aid", certs[0].Name)
	assert.Equal(t, "Food Hygiene", certs[1].Name)

	_, err = svc.AddCertification(context.Background(), model.NewCertification{
		Name: "Lapsed", Issuer: "X", IssueDate: "2024-03-01", ExpiryDate: ptr("2023-01-01"),
	})
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Len(t, svc.State().Certifications, 2)
}

func TestAddSkill(t *testing.T) {
	store := newTestStore(t)
	svc := loaded(t, store, 0)

	created, err := svc.AddSkill(context.Background(), model.NewSkill{Name: " Archery ", Category: "Sport"})
	require.NoError(t, err)
	assert.Equal(t, "Archery", created.Name)
	assert.Equal(t, []string{"Archery", "Cooking", "Driving", "First Aid"}, skillNames(svc.State().Skills))

	_, err = svc.AddSkill(context.Background(), model.NewSkill{Name: "cooking"})
	assert.ErrorIs(t, err, model.ErrValidation)
	assert.Equal(t, 4, store.Count(db.Skills, nil))

	selected, err := svc.ReplaceSkills(context.Background(), []string{created.ID})
	require.NoError(t, err)
	assert.Equal(t, []string{created.ID}, selected)
}

func TestState_IsACopy(t *testing.T) {
	svc := loaded(t, newTestStore(t), 0)
	_, err := svc.ReplaceSkills(context.Background(), []string{"s1"})
	require.NoError(t, err)

	state := svc.State()
	state.SelectedSkills[0] = "changed"
	state.Profile.FullName = "changed"

	again := svc.State()
	assert.Equal(t, []string{"s1"}, again.SelectedSkills)
	assert.Equal(t, "", again.Profile.FullName)
}

func TestMutation_WaitsForGuardAndHonoursContext(t *testing.T) {
	svc := loaded(t, newTestStore(t), 0)

	release, err := svc.cache.Acquire(context.Background())
	require.NoError(t, err)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = svc.ReplaceSkills(ctx, []string{"s1"})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func skillNames(skills []model.Skill) []string {
	names := make([]string, len(skills))
	for i, s := range skills {
		names[i] = s.Name
	}
	return names
}

func badgeIDs(badges []model.Badge) []string {
	ids := make([]string, len(badges))
	for i, b := range badges {
		ids[i] = b.ID
	}
	return ids
}

func ptr[T any](v T) *T {
	return &v
}

// delaying returns a hook that holds op on collection for d before letting it run
func delaying(op db.Op, collection string, d time.Duration) db.Hook {
	return func(ctx context.Context, o db.Op, c string) error {
		if o != op || c != collection {
			return nil
		}
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// barrier returns a hook that holds fetches of collections until parties of them are
// in flight at once, or wait passes, and reports the largest number seen in flight
func barrier(collections []string, parties int, wait time.Duration) (db.Hook, func() int32) {
	watched := make(map[string]bool, len(collections))
	for _, c := range collections {
		watched[c] = true
	}

	var inFlight, peak atomic.Int32
	all := make(chan struct{})
	var once sync.Once

	hook := func(ctx context.Context, op db.Op, collection string) error {
		if op != db.OpFetchMany || !watched[collection] {
			return nil
		}
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			seen := peak.Load()
			if n <= seen || peak.CompareAndSwap(seen, n) {
				break
			}
		}
		if n >= int32(parties) {
			once.Do(func() { close(all) })
		}

		select {
		case <-all:
		case <-time.After(wait):
		case <-ctx.Done():
		}
		return nil
	}
	return hook, peak.Load
}

func TestLoad_ConcurrentFirstLoadsCreateOneProfile(t *testing.T) {
	store := newTestStore(t)
	store.SetHook(delaying(db.OpFetchOne, db.VolunteerProfiles, 20*time.Millisecond))

	first := newTestService(store, 0)
	second := newTestService(store, 0)

	var wg sync.WaitGroup
	states := make([]State, 2)
	errs := make([]error, 2)
	for i, svc := range []*Service{first, second} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			states[i], errs[i] = svc.Load(context.Background(), &alice)
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.Equal(t, 1, store.Count(db.VolunteerProfiles, db.Eq("user_id", "u1")))
	assert.Equal(t, states[0].Profile.ID, states[1].Profile.ID)

	store.SetHook(nil)
	third, err := newTestService(store, 0).Load(context.Background(), &alice)
	require.NoError(t, err)
	assert.Equal(t, states[0].Profile.ID, third.Profile.ID)
}

func TestLoad_FetchesOwnedCollectionsConcurrently(t *testing.T) {
	store := newTestStore(t)
	hook, peak := barrier([]string{db.VolunteerSkills, db.Certifications, db.Availability}, 3, 500*time.Millisecond)
	store.SetHook(hook)

	_, err := newTestService(store, 0).Load(context.Background(), &alice)
	require.NoError(t, err)
	assert.Equal(t, int32(3), peak(), "selected skills, certifications and availability are fetched together")
}
