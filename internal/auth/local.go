package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/chirper/feedsync/internal/db"
	svcErr "github.com/chirper/feedsync/internal/errors"
	"github.com/chirper/feedsync/internal/repository"
)

const MinPasswordLength = 6

// LocalProvider signs principals in against bcrypt password hashes kept in
// the accounts table. It holds one signed-in principal per process.
type LocalProvider struct {
	accounts *repository.AccountRepository
	logger   *slog.Logger
	cost     int
	now      func() time.Time

	notifier
}

var _ Provider = (*LocalProvider)(nil)

// NewLocalProvider uses bcrypt.DefaultCost unless cost is positive.
func NewLocalProvider(database *gorm.DB, logger *slog.Logger, cost int) *LocalProvider {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &LocalProvider{
		accounts: repository.NewAccountRepository(database),
		logger:   logger,
		cost:     cost,
		now:      time.Now,
	}
}

func (p *LocalProvider) OnAuthStateChanged(fn StateFunc) func() {
	return p.subscribe(fn)
}

func (p *LocalProvider) Current() *Principal {
	return p.principal()
}

// SignUp registers a new account and signs it in.
func (p *LocalProvider) SignUp(ctx context.Context, creds Credentials) (*Principal, error) {
	email := strings.ToLower(strings.TrimSpace(creds.Email))
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("%w: invalid email", svcErr.ErrInvalidArgument)
	}
	if len(creds.Password) < MinPasswordLength {
		return nil, fmt.Errorf("%w: password must have at least %d characters", svcErr.ErrInvalidArgument, MinPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), p.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	name := strings.TrimSpace(creds.DisplayName)
	if name == "" {
		name = email[:strings.Index(email, "@")]
	}
	account := &db.Account{
		UID:          uuid.NewString(),
		Email:        email,
		DisplayName:  name,
		PasswordHash: string(hash),
		LastLoginAt:  p.now().UTC(),
	}
	if err := p.accounts.Create(ctx, account); err != nil {
		p.logger.Debug("sign up rejected", "email", email, "err", err)
		return nil, err
	}

	pr := accountPrincipal(account)
	p.logger.Info("account created", "uid", pr.UID)
	p.publish(pr)
	return pr, nil
}

// SignIn checks the password and signs the account in. Unknown emails and
// wrong passwords fail the same way.
func (p *LocalProvider) SignIn(ctx context.Context, creds Credentials) (*Principal, error) {
	account, err := p.accounts.FindByEmail(ctx, creds.Email)
	if svcErr.Is(err, svcErr.ErrNotFound) {
		return nil, fmt.Errorf("%w: invalid email or password", svcErr.ErrPermissionDenied)
	}
	if err != nil {
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(creds.Password)); err != nil {
		return nil, fmt.Errorf("%w: invalid email or password", svcErr.ErrPermissionDenied)
	}
	if account.Disabled {
		return nil, fmt.Errorf("%w: account disabled", svcErr.ErrPermissionDenied)
	}
	if err := p.accounts.TouchLogin(ctx, account.UID, p.now().UTC()); err != nil {
		p.logger.Warn("record login failed", "uid", account.UID, "err", err)
	}

	pr := accountPrincipal(account)
	p.publish(pr)
	return pr, nil
}

func (p *LocalProvider) SignOut(_ context.Context) error {
	if p.principal() == nil {
		return nil
	}
	p.publish(nil)
	return nil
}

func accountPrincipal(a *db.Account) *Principal {
	return &Principal{
		UID:         a.UID,
		DisplayName: a.DisplayName,
		PhotoURL:    a.PhotoURL,
		Email:       a.Email,
	}
}
