package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/chirper/feedsync/internal/db"
	svcErr "github.com/chirper/feedsync/internal/errors"
)

// AccountRepository provides data access methods for the Account model.
// It backs the local identity provider.
type AccountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new repository bound to the given DB connection.
func NewAccountRepository(database *gorm.DB) *AccountRepository {
	return &AccountRepository{db: database}
}

// Create inserts a new account.
//
// Behavior:
//   - Email is stored lower-cased; a second account with the same email
//     fails with ErrAlreadyExists (unique index).
func (r *AccountRepository) Create(ctx context.Context, account *db.Account) error {
	account.Email = strings.ToLower(strings.TrimSpace(account.Email))
	err := r.db.WithContext(ctx).Create(account).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("account %s: %w", account.Email, svcErr.ErrAlreadyExists)
	}
	return err
}

// FindByEmail returns the account registered with email.
func (r *AccountRepository) FindByEmail(ctx context.Context, email string) (*db.Account, error) {
	var account db.Account
	err := r.db.WithContext(ctx).
		Where("email = ?", strings.ToLower(strings.TrimSpace(email))).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("account %s: %w", email, svcErr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// FindByUID returns the account with the given identity id.
func (r *AccountRepository) FindByUID(ctx context.Context, uid string) (*db.Account, error) {
	var account db.Account
	err := r.db.WithContext(ctx).Where("uid = ?", uid).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("account %s: %w", uid, svcErr.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// TouchLogin records a successful sign-in.
func (r *AccountRepository) TouchLogin(ctx context.Context, uid string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&db.Account{}).
		Where("uid = ?", uid).
		Update("last_login_at", at).Error
}
