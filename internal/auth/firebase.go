package auth

import (
	"context"
	"fmt"
	"log/slog"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"

	svcErr "github.com/chirper/feedsync/internal/errors"
)

// authClient is the part of *fbauth.Client the provider uses.
type authClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
	GetUser(ctx context.Context, uid string) (*fbauth.UserRecord, error)
	CreateUser(ctx context.Context, user *fbauth.UserToCreate) (*fbauth.UserRecord, error)
	RevokeRefreshTokens(ctx context.Context, uid string) error
}

// FirebaseProvider signs in with ID tokens issued by Firebase Auth. Password
// sign-in happens on the client; this side only verifies the token.
type FirebaseProvider struct {
	client authClient
	logger *slog.Logger

	notifier
}

var _ Provider = (*FirebaseProvider)(nil)

func NewFirebaseProvider(ctx context.Context, app *firebase.App, logger *slog.Logger) (*FirebaseProvider, error) {
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("firebase auth client: %w", err)
	}
	return newFirebaseProvider(client, logger), nil
}

func newFirebaseProvider(client authClient, logger *slog.Logger) *FirebaseProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &FirebaseProvider{client: client, logger: logger}
}

func (p *FirebaseProvider) OnAuthStateChanged(fn StateFunc) func() {
	return p.subscribe(fn)
}

func (p *FirebaseProvider) Current() *Principal {
	return p.principal()
}

// SignIn verifies creds.IDToken and signs its subject in.
func (p *FirebaseProvider) SignIn(ctx context.Context, creds Credentials) (*Principal, error) {
	if creds.IDToken == "" {
		return nil, fmt.Errorf("%w: id token required", svcErr.ErrInvalidArgument)
	}
	token, err := p.client.VerifyIDToken(ctx, creds.IDToken)
	if err != nil {
		p.logger.Debug("id token rejected", "err", err)
		return nil, fmt.Errorf("%w: %v", svcErr.ErrPermissionDenied, err)
	}
	user, err := p.client.GetUser(ctx, token.UID)
	if err != nil {
		return nil, fmt.Errorf("get user %s: %w", token.UID, classify(err))
	}
	if user.Disabled {
		return nil, fmt.Errorf("%w: account disabled", svcErr.ErrPermissionDenied)
	}

	pr := recordPrincipal(user)
	p.publish(pr)
	return pr, nil
}

// SignUp creates a Firebase Auth user and signs it in.
func (p *FirebaseProvider) SignUp(ctx context.Context, creds Credentials) (*Principal, error) {
	params := (&fbauth.UserToCreate{}).Email(creds.Email).Password(creds.Password)
	if creds.DisplayName != "" {
		params = params.DisplayName(creds.DisplayName)
	}
	user, err := p.client.CreateUser(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", classify(err))
	}

	pr := recordPrincipal(user)
	p.logger.Info("firebase user created", "uid", pr.UID)
	p.publish(pr)
	return pr, nil
}

// SignOut revokes the principal's refresh tokens, so other sessions end
// at their next token refresh.
func (p *FirebaseProvider) SignOut(ctx context.Context) error {
	current := p.principal()
	if current == nil {
		return nil
	}
	if err := p.client.RevokeRefreshTokens(ctx, current.UID); err != nil {
		p.logger.Warn("revoke refresh tokens failed", "uid", current.UID, "err", err)
	}
	p.publish(nil)
	return nil
}

func recordPrincipal(u *fbauth.UserRecord) *Principal {
	pr := &Principal{}
	if u.UserInfo != nil {
		pr.UID = u.UID
		pr.DisplayName = u.DisplayName
		pr.PhotoURL = u.PhotoURL
		pr.Email = u.Email
	}
	return pr
}

func classify(err error) error {
	switch {
	case fbauth.IsUserNotFound(err):
		return fmt.Errorf("%w: %v", svcErr.ErrNotFound, err)
	case fbauth.IsEmailAlreadyExists(err), fbauth.IsUIDAlreadyExists(err):
		return fmt.Errorf("%w: %v", svcErr.ErrAlreadyExists, err)
	}
	return svcErr.FromStatus(err)
}
