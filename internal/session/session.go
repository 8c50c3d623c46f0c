// Package session holds the signed-in identity of the process and keeps
// its profile and bookmarks live while it is signed in.
package session

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/chirper/feedsync/internal/app"
	"github.com/chirper/feedsync/internal/auth"
	"github.com/chirper/feedsync/internal/docstore"
	svcErr "github.com/chirper/feedsync/internal/errors"
	"github.com/chirper/feedsync/internal/identity"
	"github.com/chirper/feedsync/internal/livequery"
	"github.com/chirper/feedsync/internal/models"
)

// Status is the authentication state of a Session.
type Status int

const (
	Unauthenticated Status = iota
	Loading
	Authenticated
)

func (s Status) String() string {
	switch s {
	case Unauthenticated:
		return "unauthenticated"
	case Loading:
		return "loading"
	case Authenticated:
		return "authenticated"
	}
	return "unknown"
}

// State is a snapshot of the session. Err explains the last forced
// sign-out (banned identity, failed provisioning) and is cleared by the
// next sign-in.
type State struct {
	Status    Status
	Principal *auth.Principal
	Identity  *models.Identity
	Bookmarks []models.Bookmark
	Err       error
}

// Session follows the auth provider and keeps the signed-in identity and its
// bookmarks live. Call Init once and Teardown when done.
type Session struct {
	appCtx      *app.AppContext
	provider    auth.Provider
	provisioner *identity.Provisioner
	flights     singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu          sync.Mutex
	gen         uint64
	state       State
	changed     chan struct{}
	profile     *livequery.Cache
	bookmarks   *livequery.Cache
	watchDone   chan struct{}
	unsubscribe func()
	closed      bool
}

// New creates an idle session over appCtx.Auth. Nothing happens until Init.
func New(appCtx *app.AppContext, provisioner *identity.Provisioner) *Session {
	if provisioner == nil {
		provisioner = identity.New(appCtx)
	}
	return &Session{
		appCtx:      appCtx,
		provider:    appCtx.Auth,
		provisioner: provisioner,
		changed:     make(chan struct{}),
	}
}

// Init starts following the provider's auth state. ctx bounds the
// provisioning reads; cancel it or call Teardown to stop.
func (s *Session) Init(ctx context.Context) {
	s.mu.Lock()
	if s.unsubscribe != nil || s.closed {
		s.mu.Unlock()
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	unsubscribe := s.provider.OnAuthStateChanged(s.onAuth)

	s.mu.Lock()
	s.unsubscribe = unsubscribe
	s.mu.Unlock()
	s.appCtx.Logger.Debug("Session initialized")
}

// Teardown stops following the provider and closes the live caches. The
// session cannot be reused.
func (s *Session) Teardown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.gen++
	unsubscribe := s.unsubscribe
	s.stopCachesLocked()
	if s.cancel != nil {
		s.cancel()
	}
	close(s.changed)
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	s.wg.Wait()
	s.appCtx.Logger.Debug("Session torn down")
}

// SignIn forwards to the provider. The state moves on through the auth event.
func (s *Session) SignIn(ctx context.Context, creds auth.Credentials) (*auth.Principal, error) {
	return s.provider.SignIn(ctx, creds)
}

// SignUp creates the account; provisioning runs on the resulting auth event.
func (s *Session) SignUp(ctx context.Context, creds auth.Credentials) (*auth.Principal, error) {
	return s.provider.SignUp(ctx, creds)
}

// SignOut forwards to the provider.
func (s *Session) SignOut(ctx context.Context) error {
	return s.provider.SignOut(ctx)
}

// State returns a copy of the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Bookmarks = slices.Clone(st.Bookmarks)
	return st
}

// Changes returns a channel closed at the next state change.
func (s *Session) Changes() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.changed
}

// WaitFor blocks until pred holds for the state, ctx ends, or the session is
// torn down.
func (s *Session) WaitFor(ctx context.Context, pred func(State) bool) (State, error) {
	for {
		st := s.State()
		if pred(st) {
			return st, nil
		}
		s.mu.Lock()
		ch, closed := s.changed, s.closed
		s.mu.Unlock()
		if closed {
			return st, svcErr.ErrClosed
		}
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case <-ch:
		}
	}
}

// IsBookmarked reports whether the signed-in identity bookmarked tweetID.
func (s *Session) IsBookmarked(tweetID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.ContainsFunc(s.state.Bookmarks, func(b models.Bookmark) bool { return b.ID == tweetID })
}

// IsAdmin reports whether the signed-in identity holds the configured admin
// username.
func (s *Session) IsAdmin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Status != Authenticated || s.state.Identity == nil || s.appCtx.Config == nil {
		return false
	}
	admin := s.appCtx.Config.App.AdminUsername
	return admin != "" && s.state.Identity.Username == admin
}

// UID returns the signed-in identity id, or "" when not authenticated.
func (s *Session) UID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Status != Authenticated || s.state.Identity == nil {
		return ""
	}
	return s.state.Identity.ID
}

func (s *Session) onAuth(p *auth.Principal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.gen++
	s.stopCachesLocked()

	if p == nil {
		next := State{Status: Unauthenticated}
		// keep the reason of a forced sign-out visible
		if s.state.Status == Unauthenticated {
			next.Err = s.state.Err
		}
		s.setLocked(next)
		s.appCtx.Logger.Debug("Session signed out")
		return
	}

	s.setLocked(State{Status: Loading, Principal: p})
	gen := s.gen
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.load(gen, *p)
	}()
}

// load provisions the principal. Concurrent loads of the same principal
// share one provisioning run; a load superseded by a newer auth event is
// dropped.
func (s *Session) load(gen uint64, p auth.Principal) {
	v, err, _ := s.flights.Do(p.UID, func() (any, error) {
		return s.provisioner.Provision(s.ctx, p)
	})

	s.mu.Lock()
	if gen != s.gen || s.closed {
		s.mu.Unlock()
		s.appCtx.Logger.Debug("Discarding stale session load", "uid", p.UID)
		return
	}
	if err != nil {
		s.failLocked(&p, err)
		s.mu.Unlock()
		s.forceSignOut(err)
		return
	}

	user := v.(*models.Identity)
	s.startCachesLocked(user.ID)
	s.setLocked(State{Status: Authenticated, Principal: &p, Identity: user})
	s.mu.Unlock()
	s.appCtx.Logger.Info("Session authenticated", "uid", user.ID, "username", user.Username)
}

// failLocked moves to Unauthenticated with err and bumps the generation so
// nothing in flight can overwrite it.
func (s *Session) failLocked(p *auth.Principal, err error) {
	s.gen++
	s.stopCachesLocked()
	s.setLocked(State{Status: Unauthenticated, Principal: p, Err: err})
}

func (s *Session) forceSignOut(reason error) {
	if svcErr.Is(reason, svcErr.ErrBanned) {
		s.appCtx.Logger.Warn("Signing out suspended identity", "err", reason)
	} else {
		s.appCtx.Logger.Error("Signing out after identity load failed", "err", reason)
	}
	if err := s.provider.SignOut(context.WithoutCancel(s.ctx)); err != nil {
		s.appCtx.Logger.Error("Forced sign-out failed", "err", err)
	}
}

func (s *Session) startCachesLocked(uid string) {
	opts := []livequery.Option{
		livequery.WithLogger(s.appCtx.Logger),
		livequery.WithMetrics(s.appCtx.Metrics),
	}
	s.profile = livequery.New(s.appCtx.Store, livequery.DocTarget(models.UserRef(uid)), opts...)
	s.bookmarks = livequery.New(s.appCtx.Store, livequery.QueryTarget(
		docstore.From(models.BookmarksCollection(uid)).OrderBy("createdAt", docstore.Desc)), opts...)

	done := make(chan struct{})
	s.watchDone = done
	gen, profile, bookmarks := s.gen, s.profile, s.bookmarks
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.watch(gen, profile, bookmarks, done)
	}()
}

func (s *Session) stopCachesLocked() {
	if s.watchDone != nil {
		close(s.watchDone)
		s.watchDone = nil
	}
	if s.profile != nil {
		s.profile.Close()
		s.profile = nil
	}
	if s.bookmarks != nil {
		s.bookmarks.Close()
		s.bookmarks = nil
	}
}

// watch folds the profile and bookmark caches into the session state.
func (s *Session) watch(gen uint64, profile, bookmarks *livequery.Cache, done <-chan struct{}) {
	for {
		pch, bch := profile.Changes(), bookmarks.Changes()
		if banned := s.refresh(gen, profile.Result(), bookmarks.Result()); banned {
			s.forceSignOut(svcErr.ErrBanned)
			return
		}
		select {
		case <-done:
			return
		default:
		}
		select {
		case <-done:
			return
		case <-pch:
		case <-bch:
		}
	}
}

// refresh applies the cache results and reports whether the identity got
// banned while signed in.
func (s *Session) refresh(gen uint64, profile, bookmarks livequery.Result) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || s.closed || s.state.Status != Authenticated {
		return false
	}
	next := s.state

	if row, ok := profile.First(); ok && profile.State == livequery.Ready {
		user, err := models.DecodeIdentity(row.Doc)
		if err != nil {
			s.appCtx.Logger.Warn("Undecodable profile", "doc", row.Doc.Ref.String(), "err", err)
		} else {
			if user.IsBanned {
				s.failLocked(next.Principal, svcErr.ErrBanned)
				return true
			}
			next.Identity = user
		}
	}

	if bookmarks.State == livequery.Ready {
		list := make([]models.Bookmark, 0, len(bookmarks.Rows))
		for _, row := range bookmarks.Rows {
			var b models.Bookmark
			if err := row.Doc.DataTo(&b); err != nil {
				continue
			}
			if b.ID == "" {
				b.ID = row.Doc.ID()
			}
			list = append(list, b)
		}
		next.Bookmarks = list
	}

	s.setLocked(next)
	return false
}

func (s *Session) setLocked(st State) {
	s.state = st
	if !s.closed {
		close(s.changed)
		s.changed = make(chan struct{})
	}
}
