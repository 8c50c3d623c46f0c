package session_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/chirper/feedsync/internal/app"
	"github.com/chirper/feedsync/internal/auth"
	"github.com/chirper/feedsync/internal/db"
	"github.com/chirper/feedsync/internal/docstore"
	"github.com/chirper/feedsync/internal/docstore/memstore"
	svcErr "github.com/chirper/feedsync/internal/errors"
	"github.com/chirper/feedsync/internal/identity"
	"github.com/chirper/feedsync/internal/logger"
	"github.com/chirper/feedsync/internal/models"
	"github.com/chirper/feedsync/internal/session"
)

type fixture struct {
	store    *memstore.Store
	provider *auth.LocalProvider
	appCtx   *app.AppContext
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New(logger.Discard())
	t.Cleanup(store.Close)
	database, err := db.OpenMemory()
	require.NoError(t, err)

	appCtx := app.New(store, logger.Discard(), nil)
	provider := auth.NewLocalProvider(database, logger.Discard(), bcrypt.MinCost)
	appCtx.Auth = provider
	return &fixture{store: store, provider: provider, appCtx: appCtx}
}

func (f *fixture) start(t *testing.T, opts ...identity.Option) *session.Session {
	t.Helper()
	s := session.New(f.appCtx, identity.New(f.appCtx, opts...))
	s.Init(context.Background())
	t.Cleanup(s.Teardown)
	return s
}

func waitCtx(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// signedOut waits for the forced sign-out, which reaches the provider
// right after the session state changes.
func signedOut(t *testing.T, p auth.Provider) {
	t.Helper()
	assert.Eventually(t, func() bool { return p.Current() == nil }, 2*time.Second, 5*time.Millisecond)
}

func status(want session.Status) func(session.State) bool {
	return func(st session.State) bool { return st.Status == want }
}

// statusLog records every status the session reports until stopped.
func statusLog(s *session.Session) (func() []session.Status, func()) {
	var mu sync.Mutex
	var seen []session.Status
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			ch := s.Changes()
			st := s.State()
			mu.Lock()
			seen = append(seen, st.Status)
			mu.Unlock()
			select {
			case <-done:
				return
			case <-ch:
			}
		}
	}()
	var once sync.Once
	stop := func() {
		once.Do(func() { close(done) })
		wg.Wait()
	}
	return func() []session.Status {
		stop()
		mu.Lock()
		defer mu.Unlock()
		return seen
	}, stop
}

func TestSignUpProvisionsAndFollowsProfile(t *testing.T) {
	ctx := waitCtx(t)
	f := newFixture(t)
	s := f.start(t)

	st, err := s.WaitFor(ctx, status(session.Unauthenticated))
	require.NoError(t, err)
	assert.NoError(t, st.Err)

	pr, err := s.SignUp(ctx, auth.Credentials{Email: "ada@example.com", Password: "secret1", DisplayName: "Ada Lovelace"})
	require.NoError(t, err)

	st, err = s.WaitFor(ctx, status(session.Authenticated))
	require.NoError(t, err)
	require.NotNil(t, st.Identity)
	assert.Equal(t, pr.UID, st.Identity.ID)
	assert.Equal(t, "adalovelace", st.Identity.Username)
	assert.Equal(t, pr.UID, s.UID())

	require.NoError(t, f.store.Update(ctx, models.UserRef(pr.UID), docstore.FieldUpdate{Field: "name", Value: "Countess"}))
	st, err = s.WaitFor(ctx, func(st session.State) bool { return st.Identity != nil && st.Identity.Name == "Countess" })
	require.NoError(t, err)
	assert.Equal(t, session.Authenticated, st.Status)

	assert.False(t, s.IsBookmarked("t1"))
	require.NoError(t, f.store.Set(ctx, models.BookmarkRef(pr.UID, "t1"), models.Bookmark{ID: "t1"}.Data()))
	_, err = s.WaitFor(ctx, func(st session.State) bool { return len(st.Bookmarks) == 1 })
	require.NoError(t, err)
	assert.True(t, s.IsBookmarked("t1"))
	assert.Equal(t, 2, f.store.Listeners())

	require.NoError(t, s.SignOut(ctx))
	st = s.State()
	assert.Equal(t, session.Unauthenticated, st.Status)
	assert.Nil(t, st.Identity)
	assert.Equal(t, 0, f.store.Listeners())
	assert.False(t, s.IsBookmarked("t1"))
}

func TestBannedIdentityNeverAuthenticates(t *testing.T) {
	ctx := waitCtx(t)
	f := newFixture(t)

	pr, err := f.provider.SignUp(ctx, auth.Credentials{Email: "mallory@example.com", Password: "secret1"})
	require.NoError(t, err)
	require.NoError(t, f.provider.SignOut(ctx))
	require.NoError(t, f.store.Set(ctx, models.UserRef(pr.UID),
		models.Identity{ID: pr.UID, Username: "mallory", IsBanned: true}.Data()))

	s := f.start(t)
	_, err = s.WaitFor(ctx, status(session.Unauthenticated))
	require.NoError(t, err)
	statuses, _ := statusLog(s)

	_, err = s.SignIn(ctx, auth.Credentials{Email: "mallory@example.com", Password: "secret1"})
	require.NoError(t, err)

	st, err := s.WaitFor(ctx, func(st session.State) bool {
		return st.Status == session.Unauthenticated && st.Err != nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, st.Err, svcErr.ErrBanned)
	assert.Nil(t, st.Identity)
	signedOut(t, f.provider)
	assert.NotContains(t, statuses(), session.Authenticated)
	assert.Equal(t, 0, f.store.Listeners())
}

func TestBanWhileSignedInForcesSignOut(t *testing.T) {
	ctx := waitCtx(t)
	f := newFixture(t)
	s := f.start(t)

	pr, err := s.SignUp(ctx, auth.Credentials{Email: "oscar@example.com", Password: "secret1"})
	require.NoError(t, err)
	_, err = s.WaitFor(ctx, status(session.Authenticated))
	require.NoError(t, err)

	require.NoError(t, f.store.Update(ctx, models.UserRef(pr.UID), docstore.FieldUpdate{Field: "isBanned", Value: true}))
	st, err := s.WaitFor(ctx, func(st session.State) bool {
		return st.Status == session.Unauthenticated && st.Err != nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, st.Err, svcErr.ErrBanned)
	signedOut(t, f.provider)
}

func TestProvisioningFailureSignsOut(t *testing.T) {
	ctx := waitCtx(t)
	f := newFixture(t)
	require.NoError(t, f.store.Set(ctx, models.UserRef("someone"), models.Identity{ID: "someone", Username: "trent"}.Data()))
	s := f.start(t, identity.WithBounds(1, 10))

	_, err := s.SignUp(ctx, auth.Credentials{Email: "trent@example.com", Password: "secret1", DisplayName: "Trent"})
	require.NoError(t, err)

	st, err := s.WaitFor(ctx, func(st session.State) bool {
		return st.Status == session.Unauthenticated && st.Err != nil
	})
	require.NoError(t, err)
	assert.ErrorIs(t, st.Err, svcErr.ErrProvisioningExhausted)
	signedOut(t, f.provider)

	// the next sign-in clears the error
	require.NoError(t, f.store.Delete(ctx, models.UserRef("someone")))
	_, err = s.SignIn(ctx, auth.Credentials{Email: "trent@example.com", Password: "secret1"})
	require.NoError(t, err)
	st, err = s.WaitFor(ctx, status(session.Authenticated))
	require.NoError(t, err)
	assert.NoError(t, st.Err)
	assert.Equal(t, "trent", st.Identity.Username)
}

func TestIsAdmin(t *testing.T) {
	ctx := waitCtx(t)
	f := newFixture(t)
	f.appCtx.Config.App.AdminUsername = "root"
	s := f.start(t)
	assert.False(t, s.IsAdmin())

	_, err := s.SignUp(ctx, auth.Credentials{Email: "root@example.com", Password: "secret1", DisplayName: "Root"})
	require.NoError(t, err)
	_, err = s.WaitFor(ctx, status(session.Authenticated))
	require.NoError(t, err)
	assert.True(t, s.IsAdmin())
}

func TestTeardownStopsEverything(t *testing.T) {
	ctx := waitCtx(t)
	f := newFixture(t)
	s := session.New(f.appCtx, nil)
	s.Init(ctx)

	_, err := s.SignUp(ctx, auth.Credentials{Email: "tess@example.com", Password: "secret1"})
	require.NoError(t, err)
	_, err = s.WaitFor(ctx, status(session.Authenticated))
	require.NoError(t, err)

	s.Teardown()
	assert.Equal(t, 0, f.store.Listeners())

	// auth events after teardown are ignored
	require.NoError(t, f.provider.SignOut(ctx))
	assert.Equal(t, session.Authenticated, s.State().Status)
	_, err = s.WaitFor(ctx, status(session.Loading))
	assert.ErrorIs(t, err, svcErr.ErrClosed)
}

func TestTeardownRightAfterAuthenticated(t *testing.T) {
	f := newFixture(t)
	for i := range 25 {
		ctx := waitCtx(t)
		s := session.New(f.appCtx, nil)
		s.Init(ctx)

		_, err := s.SignUp(ctx, auth.Credentials{Email: fmt.Sprintf("quick%d@example.com", i), Password: "secret1"})
		require.NoError(t, err)
		_, err = s.WaitFor(ctx, status(session.Authenticated))
		require.NoError(t, err)

		if i%2 == 0 {
			require.NoError(t, s.SignOut(ctx))
			assert.Equal(t, session.Unauthenticated, s.State().Status)
		}
		s.Teardown()
		assert.Equal(t, 0, f.store.Listeners())
		require.NoError(t, f.provider.SignOut(ctx))
	}
}
