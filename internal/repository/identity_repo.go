package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/chirper/feedsync/internal/docstore"
	svcErr "github.com/chirper/feedsync/internal/errors"
	"github.com/chirper/feedsync/internal/models"
)

// IdentityRepository wraps the identity-related document lookups shared by
// the provisioner, the session and messaging.
type IdentityRepository struct {
	store docstore.Store
}

func NewIdentityRepository(store docstore.Store) *IdentityRepository {
	return &IdentityRepository{store: store}
}

// Get returns the identity at users/{uid}, or an error wrapping ErrNotFound.
func (r *IdentityRepository) Get(ctx context.Context, uid string) (*models.Identity, error) {
	doc, err := r.store.Get(ctx, models.UserRef(uid))
	if err != nil {
		return nil, err
	}
	return models.DecodeIdentity(*doc)
}

// UsernameTaken reports whether any identity holds username or the registry
// has reserved it.
//
// Behavior:
//   - Identities created before the registry existed are found through the
//     users.username point query.
//   - Comparison is exact on the query and case-insensitive on the registry.
func (r *IdentityRepository) UsernameTaken(ctx context.Context, username string) (bool, error) {
	docs, err := r.store.Query(ctx, docstore.From(models.UsersCollection).
		Where("username", docstore.OpEqual, username).
		WithLimit(1))
	if err != nil {
		return false, fmt.Errorf("check username %q: %w", username, err)
	}
	if len(docs) > 0 {
		return true, nil
	}

	_, err = r.store.Get(ctx, models.UsernameRef(username))
	switch {
	case err == nil:
		return true, nil
	case svcErr.Is(err, svcErr.ErrNotFound):
		return false, nil
	}
	return false, fmt.Errorf("check username registry %q: %w", username, err)
}

// FindByUsername resolves a username to its identity.
func (r *IdentityRepository) FindByUsername(ctx context.Context, username string) (*models.Identity, error) {
	docs, err := r.store.Query(ctx, docstore.From(models.UsersCollection).
		Where("username", docstore.OpEqual, strings.TrimPrefix(username, "@")).
		WithLimit(1))
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("username %q: %w", username, svcErr.ErrNotFound)
	}
	return models.DecodeIdentity(docs[0])
}

// FindConversation returns the id of an existing conversation between a and b
// in either orientation.
func (r *IdentityRepository) FindConversation(ctx context.Context, a, b string) (string, bool, error) {
	for _, pair := range [][2]string{{a, b}, {b, a}} {
		docs, err := r.store.Query(ctx, docstore.From(models.ConversationsCollection).
			Where("userId", docstore.OpEqual, pair[0]).
			Where("targetUserId", docstore.OpEqual, pair[1]).
			WithLimit(1))
		if err != nil {
			return "", false, fmt.Errorf("find conversation: %w", err)
		}
		if len(docs) > 0 {
			return docs[0].ID(), true, nil
		}
	}
	return "", false, nil
}
