// Package identity creates the profile documents of a principal the first
// time it signs in.
package identity

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/chirper/feedsync/internal/app"
	"github.com/chirper/feedsync/internal/auth"
	"github.com/chirper/feedsync/internal/docstore"
	svcErr "github.com/chirper/feedsync/internal/errors"
	"github.com/chirper/feedsync/internal/models"
	"github.com/chirper/feedsync/internal/repository"
)

type Option func(*Provisioner)

// WithBounds overrides the attempt bound and the suffix range from config.
func WithBounds(maxAttempts, suffixRange int) Option {
	return func(p *Provisioner) {
		if maxAttempts > 0 {
			p.maxAttempts = maxAttempts
		}
		if suffixRange > 0 {
			p.suffixRange = suffixRange
		}
	}
}

// WithRand replaces the suffix source; intn must return a value in [0, n).
func WithRand(intn func(n int) int) Option {
	return func(p *Provisioner) { p.intn = intn }
}

type Provisioner struct {
	appCtx      *app.AppContext
	identities  *repository.IdentityRepository
	maxAttempts int
	suffixRange int
	intn        func(n int) int
}

func New(appCtx *app.AppContext, opts ...Option) *Provisioner {
	p := &Provisioner{
		appCtx:      appCtx,
		identities:  repository.NewIdentityRepository(appCtx.Store),
		maxAttempts: 20,
		suffixRange: 100000,
		intn:        rand.IntN,
	}
	if cfg := appCtx.Config; cfg != nil {
		WithBounds(cfg.Provision.MaxAttempts, cfg.Provision.SuffixRange)(p)
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Provision returns the identity of pr, creating it on first sight.
//
// Behavior:
//   - An existing identity is returned unchanged, unless it is banned, in
//     which case ErrBanned is returned.
//   - A new identity gets the first available candidate username: the
//     normalized display name, then the name with a random numeric suffix.
//   - The username reservation, the profile and the stats document are
//     created in one commit.
//   - If the commit collides and the profile now exists, another caller
//     provisioned the same principal; its result is returned.
//   - After the attempt bound ErrProvisioningExhausted is returned.
func (p *Provisioner) Provision(ctx context.Context, pr auth.Principal) (*models.Identity, error) {
	if pr.UID == "" {
		return nil, fmt.Errorf("%w: principal has no uid", svcErr.ErrInvalidArgument)
	}
	log := p.appCtx.Logger.With("uid", pr.UID)

	if user, err := p.existing(ctx, pr.UID); err != nil || user != nil {
		return user, err
	}

	base := NormalizeUsername(pr.DisplayName)
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		candidate := base
		if attempt > 0 {
			candidate = base + strconv.Itoa(p.intn(p.suffixRange))
		}

		taken, err := p.identities.UsernameTaken(ctx, candidate)
		if err != nil {
			return nil, err
		}
		if taken {
			p.appCtx.Metrics.IncProvisionAttempts("collision")
			log.Debug("Username taken", "candidate", candidate, "attempt", attempt)
			continue
		}

		err = p.appCtx.Store.Commit(ctx, p.writes(pr, candidate)...)
		if svcErr.Is(err, svcErr.ErrAlreadyExists) {
			if user, err := p.existing(ctx, pr.UID); err != nil || user != nil {
				log.Debug("Identity provisioned concurrently")
				p.appCtx.Metrics.IncProvisionAttempts("concurrent")
				return user, err
			}
			p.appCtx.Metrics.IncProvisionAttempts("race")
			log.Debug("Lost username race", "candidate", candidate)
			continue
		}
		if err != nil {
			log.Error("Provision commit failed", "err", err)
			return nil, fmt.Errorf("provision %s: %w", pr.UID, err)
		}

		p.appCtx.Metrics.IncProvisionAttempts("created")
		log.Info("Identity provisioned", "username", candidate)
		return p.identities.Get(ctx, pr.UID)
	}

	p.appCtx.Metrics.IncProvisionAttempts("exhausted")
	log.Warn("Username allocation exhausted", "base", base, "attempts", p.maxAttempts)
	return nil, fmt.Errorf("provision %s: %w", pr.UID, svcErr.ErrProvisioningExhausted)
}

// existing returns the stored identity, nil when there is none, or
// ErrBanned.
func (p *Provisioner) existing(ctx context.Context, uid string) (*models.Identity, error) {
	user, err := p.identities.Get(ctx, uid)
	if svcErr.Is(err, svcErr.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load identity %s: %w", uid, err)
	}
	if user.IsBanned {
		return nil, fmt.Errorf("identity %s: %w", uid, svcErr.ErrBanned)
	}
	return user, nil
}

func (p *Provisioner) writes(pr auth.Principal, username string) []docstore.Write {
	name := pr.DisplayName
	if name == "" {
		name = username
	}
	photo := pr.PhotoURL
	if photo == "" {
		photo = models.DefaultPhotoURL
	}
	user := models.Identity{
		ID:       pr.UID,
		Username: username,
		Name:     name,
		PhotoURL: photo,
	}
	return []docstore.Write{
		docstore.CreateWrite(models.UsernameRef(username), models.UsernameClaim{UID: pr.UID, Username: username}.Data()),
		docstore.CreateWrite(models.UserRef(pr.UID), user.Data()),
		docstore.CreateWrite(models.StatsRef(pr.UID), models.Stats{}.Data()),
	}
}
