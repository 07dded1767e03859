package aggregate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/jakechorley/volunteer-hub/pkg/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testSnapshot struct {
	Items []string
}

func (s testSnapshot) Clone() testSnapshot {
	if s.Items == nil {
		return s
	}
	items := make([]string, len(s.Items))
	copy(items, s.Items)
	return testSnapshot{Items: items}
}

func TestCache_BeginCommit(t *testing.T) {
	cache := New[testSnapshot](time.Second)
	identity := &session.Identity{ID: "u1", Email: "a@x.com"}

	_, gen := cache.Begin(context.Background(), identity)
	_, status := cache.View()
	assert.True(t, status.Loading)
	assert.False(t, status.Loaded)
	assert.Equal(t, "u1", status.Identity.ID)

	require.NoError(t, cache.Commit(gen, testSnapshot{Items: []string{"a"}}))

	snap, status := cache.View()
	assert.False(t, status.Loading)
	assert.True(t, status.Loaded)
	assert.Equal(t, []string{"a"}, snap.Items)
}

func TestCache_NewerLoadSupersedesOlder(t *testing.T) {
	cache := New[testSnapshot](time.Second)

	firstCtx, first := cache.Begin(context.Background(), &session.Identity{ID: "u1"})
	_, second := cache.Begin(context.Background(), &session.Identity{ID: "u2"})

	assert.ErrorIs(t, firstCtx.Err(), context.Canceled, "the superseded load is cancelled")
	assert.ErrorIs(t, cache.Commit(first, testSnapshot{Items: []string{"stale"}}), ErrStaleLoad)
	assert.ErrorIs(t, cache.Fail(first, errors.New("late failure")), ErrStaleLoad)

	snap, status := cache.View()
	assert.Empty(t, snap.Items)
	assert.True(t, status.Loading)
	assert.NoError(t, status.Err)
	assert.Equal(t, "u2", status.Identity.ID)

	require.NoError(t, cache.Commit(second, testSnapshot{Items: []string{"fresh"}}))
	snap, _ = cache.View()
	assert.Equal(t, []string{"fresh"}, snap.Items)
}

func TestCache_FailClearsLoading(t *testing.T) {
	cache := New[testSnapshot](time.Second)
	_, gen := cache.Begin(context.Background(), &session.Identity{ID: "u1"})

	boom := errors.New("boom")
	assert.Equal(t, boom, cache.Fail(gen, boom))

	snap, status := cache.View()
	assert.Empty(t, snap.Items)
	assert.False(t, status.Loading)
	assert.False(t, status.Loaded)
	assert.Equal(t, boom, status.Err)
}

func TestCache_BeginWithoutIdentity(t *testing.T) {
	cache := New[testSnapshot](time.Second)
	_, gen := cache.Begin(context.Background(), &session.Identity{ID: "u1"})
	require.NoError(t, cache.Commit(gen, testSnapshot{Items: []string{"a"}}))

	cache.Begin(context.Background(), nil)

	snap, status := cache.View()
	assert.Empty(t, snap.Items)
	assert.Nil(t, status.Identity)
	assert.False(t, status.Loading)
}

func TestCache_MutateAndRecord(t *testing.T) {
	cache := New[testSnapshot](time.Second)
	_, gen := cache.Begin(context.Background(), &session.Identity{ID: "u1"})
	require.NoError(t, cache.Commit(gen, testSnapshot{}))

	boom := errors.New("boom")
	cache.Record(gen, boom)
	_, status := cache.View()
	assert.Equal(t, boom, status.Err)

	require.NoError(t, cache.Mutate(gen, func(s *testSnapshot) {
		s.Items = append(s.Items, "b")
	}))
	snap, status := cache.View()
	assert.Equal(t, []string{"b"}, snap.Items)
	assert.NoError(t, status.Err, "a successful mutation clears the error")

	cache.Begin(context.Background(), &session.Identity{ID: "u2"})
	assert.ErrorIs(t, cache.Mutate(gen, func(s *testSnapshot) {}), ErrStaleLoad)
}

func TestCache_ViewIsACopy(t *testing.T) {
	cache := New[testSnapshot](time.Second)
	_, gen := cache.Begin(context.Background(), &session.Identity{ID: "u1"})
	require.NoError(t, cache.Commit(gen, testSnapshot{Items: []string{"a"}}))

	snap, _ := cache.View()
	snap.Items[0] = "mutated"

	again, _ := cache.View()
	assert.Equal(t, "a", again.Items[0])
}

func TestCache_AcquireIsExclusive(t *testing.T) {
	cache := New[testSnapshot](time.Second)

	release, err := cache.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = cache.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	release()
	release2, err := cache.Acquire(context.Background())
	require.NoError(t, err)
	release2()
}

func TestCache_DefaultTimeout(t *testing.T) {
	cache := New[testSnapshot](0)
	ctx, cancel := cache.WithTimeout(context.Background())
	defer cancel()

	deadline, ok := ctx.Deadline()
	require.True(t, ok)
	assert.WithinDuration(t, time.Now().Add(DefaultTimeout), deadline, time.Second)
}

func TestFollow_EndsOnProviderIdentityWhenSignInRacesStart(t *testing.T) {
	for i := 0; i < 50; i++ {
		provider := session.NewProvider()
		provider.SignIn(session.Identity{ID: "a"}, nil)
		cache := New[testSnapshot](time.Second)

		run := func(ctx context.Context, gen uint64, identity session.Identity) error {
			return cache.Commit(gen, testSnapshot{Items: []string{identity.ID}})
		}

		signedIn := make(chan struct{})
		go func() {
			defer close(signedIn)
			provider.SignIn(session.Identity{ID: "b"}, nil)
		}()
		stop := Follow(context.Background(), provider, cache.Begin, run, nil)
		<-signedIn

		require.Eventually(t, func() bool {
			_, status := cache.View()
			return status.Loaded
		}, time.Second, time.Millisecond)
		stop()

		snap, status := cache.View()
		require.Equal(t, "b", provider.Current().ID)
		assert.Equal(t, "b", status.Identity.ID, "iteration %d", i)
		assert.Equal(t, []string{"b"}, snap.Items, "iteration %d", i)
	}
}

func TestFollow_StopWaitsForLoads(t *testing.T) {
	provider := session.NewProvider()
	provider.SignIn(session.Identity{ID: "a"}, nil)
	cache := New[testSnapshot](time.Second)

	started := make(chan struct{})
	run := func(ctx context.Context, gen uint64, identity session.Identity) error {
		close(started)
		<-ctx.Done()
		return cache.Fail(gen, ctx.Err())
	}

	var failed error
	stop := Follow(context.Background(), provider, cache.Begin, run, func(_ session.Identity, err error) {
		failed = err
	})
	<-started
	stop()

	assert.ErrorIs(t, failed, context.Canceled)
}
