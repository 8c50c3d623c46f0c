package identity_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chirper/feedsync/internal/app"
	"github.com/chirper/feedsync/internal/auth"
	"github.com/chirper/feedsync/internal/docstore"
	"github.com/chirper/feedsync/internal/docstore/memstore"
	svcErr "github.com/chirper/feedsync/internal/errors"
	"github.com/chirper/feedsync/internal/identity"
	"github.com/chirper/feedsync/internal/logger"
	"github.com/chirper/feedsync/internal/models"
)

func newStore(t *testing.T) *memstore.Store {
	t.Helper()
	s := memstore.New(logger.Discard())
	t.Cleanup(s.Close)
	return s
}

func sequence(values ...int) func(int) int {
	var mu sync.Mutex
	i := 0
	return func(int) int {
		mu.Lock()
		defer mu.Unlock()
		v := values[i%len(values)]
		i++
		return v
	}
}

func TestNormalizeUsername(t *testing.T) {
	cases := map[string]string{
		"Alice":                   "alice",
		"José Álvarez":            "josealvarez",
		"  ":                      "user",
		"":                        "user",
		"🚀🚀":                      "user",
		"Dr. Strange-Love_42":     "drstrangelove_4",
		"Ünïcode Name":            "unicodename",
		"abcdefghijklmnopqrstuvw": "abcdefghijklmno",
	}
	for in, want := range cases {
		assert.Equal(t, want, identity.NormalizeUsername(in), in)
	}
}

func TestProvisionCreatesIdentityStatsAndReservation(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := identity.New(app.New(store, logger.Discard(), nil))

	user, err := p.Provision(ctx, auth.Principal{UID: "u1", DisplayName: "Alice Smith"})
	require.NoError(t, err)
	assert.Equal(t, "alicesmith", user.Username)
	assert.Equal(t, "Alice Smith", user.Name)
	assert.Equal(t, models.DefaultPhotoURL, user.PhotoURL)
	assert.False(t, user.CreatedAt.IsZero())
	assert.Empty(t, user.Followers)

	_, err = store.Get(ctx, models.StatsRef("u1"))
	require.NoError(t, err)
	claim, err := store.Get(ctx, models.UsernameRef("alicesmith"))
	require.NoError(t, err)
	assert.Equal(t, "u1", claim.String("uid"))

	// existing identities come back unchanged
	again, err := p.Provision(ctx, auth.Principal{UID: "u1", DisplayName: "Someone Else"})
	require.NoError(t, err)
	assert.Equal(t, "alicesmith", again.Username)
	assert.Equal(t, "Alice Smith", again.Name)
}

func TestProvisionAvoidsTakenUsername(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	// created before the registry: only the users query finds it
	require.NoError(t, store.Set(ctx, models.UserRef("old"), models.Identity{ID: "old", Username: "alice"}.Data()))
	// reserved in the registry only
	require.NoError(t, store.Set(ctx, models.UsernameRef("alice7"), models.UsernameClaim{UID: "ghost", Username: "alice7"}.Data()))

	p := identity.New(app.New(store, logger.Discard(), nil), identity.WithRand(sequence(7, 42)))
	user, err := p.Provision(ctx, auth.Principal{UID: "new", DisplayName: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice42", user.Username)

	docs, err := store.Query(ctx, docstore.From(models.UsersCollection).Where("username", docstore.OpEqual, "alice"))
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestProvisionStopsAtAttemptBound(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Set(ctx, models.UserRef("a"), models.Identity{ID: "a", Username: "alice"}.Data()))
	require.NoError(t, store.Set(ctx, models.UserRef("b"), models.Identity{ID: "b", Username: "alice1"}.Data()))

	calls := 0
	p := identity.New(app.New(store, logger.Discard(), nil),
		identity.WithBounds(5, 10),
		identity.WithRand(func(n int) int {
			calls++
			assert.Equal(t, 10, n)
			return 1
		}),
	)
	_, err := p.Provision(ctx, auth.Principal{UID: "c", DisplayName: "Alice"})
	assert.ErrorIs(t, err, svcErr.ErrProvisioningExhausted)
	assert.Equal(t, 4, calls)

	_, err = store.Get(ctx, models.UserRef("c"))
	assert.ErrorIs(t, err, svcErr.ErrNotFound)
}

func TestProvisionBannedIdentity(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	require.NoError(t, store.Set(ctx, models.UserRef("bad"), models.Identity{ID: "bad", Username: "bad", IsBanned: true}.Data()))

	p := identity.New(app.New(store, logger.Discard(), nil))
	user, err := p.Provision(ctx, auth.Principal{UID: "bad", DisplayName: "Bad"})
	assert.ErrorIs(t, err, svcErr.ErrBanned)
	assert.Nil(t, user)
}

func TestConcurrentProvisioningOfSamePrincipal(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	p := identity.New(app.New(store, logger.Discard(), nil))

	var wg sync.WaitGroup
	users := make([]*models.Identity, 6)
	for i := range users {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := p.Provision(ctx, auth.Principal{UID: "same", DisplayName: "Bob"})
			assert.NoError(t, err)
			users[i] = u
		}()
	}
	wg.Wait()

	for _, u := range users {
		require.NotNil(t, u)
		assert.Equal(t, users[0].Username, u.Username)
	}
	claims, err := store.Query(ctx, docstore.From(models.UsernamesCollection).Where("uid", docstore.OpEqual, "same"))
	require.NoError(t, err)
	assert.Len(t, claims, 1)
}

// racingStore lets another principal claim a username between the
// availability check and the first commit.
type racingStore struct {
	*memstore.Store
	once  sync.Once
	claim string
}

func (s *racingStore) Commit(ctx context.Context, writes ...docstore.Write) error {
	s.once.Do(func() {
		_ = s.Store.Create(ctx, models.UsernameRef(s.claim), models.UsernameClaim{UID: "other", Username: s.claim}.Data())
	})
	return s.Store.Commit(ctx, writes...)
}

func TestLostUsernameRaceTriesNextCandidate(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{Store: newStore(t), claim: "carol"}

	p := identity.New(app.New(store, logger.Discard(), nil), identity.WithRand(sequence(3)))
	user, err := p.Provision(ctx, auth.Principal{UID: "u2", DisplayName: "carol"})
	require.NoError(t, err)
	assert.Equal(t, "carol3", user.Username)

	_, err = store.Get(ctx, models.UsernameRef("carol3"))
	assert.NoError(t, err)
}
