package messaging_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chirper/feedsync/internal/app"
	"github.com/chirper/feedsync/internal/docstore"
	"github.com/chirper/feedsync/internal/docstore/memstore"
	svcErr "github.com/chirper/feedsync/internal/errors"
	"github.com/chirper/feedsync/internal/logger"
	"github.com/chirper/feedsync/internal/messaging"
	"github.com/chirper/feedsync/internal/models"
)

func newService(t *testing.T) (*messaging.Service, *memstore.Store) {
	t.Helper()
	store := memstore.New(logger.Discard())
	t.Cleanup(store.Close)
	return messaging.New(app.New(store, logger.Discard(), nil)), store
}

func conversations(t *testing.T, store docstore.Store) []docstore.Document {
	t.Helper()
	docs, err := store.Query(context.Background(), docstore.From(models.ConversationsCollection))
	require.NoError(t, err)
	return docs
}

func TestStartConversationReusesEitherOrientation(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	// legacy conversation with a store-generated id, started by y
	legacy, err := store.Add(ctx, models.ConversationsCollection, models.Conversation{UserID: "y", TargetUserID: "x"}.Data())
	require.NoError(t, err)

	id, err := svc.StartConversation(ctx, "x", "y")
	require.NoError(t, err)
	assert.Equal(t, legacy.ID, id)

	id, err = svc.StartConversation(ctx, "y", "x")
	require.NoError(t, err)
	assert.Equal(t, legacy.ID, id)
	assert.Len(t, conversations(t, store), 1)
}

func TestStartConversationCreatesOnce(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, b := "x", "y"
			if i%2 == 1 {
				a, b = b, a
			}
			id, err := svc.StartConversation(ctx, a, b)
			assert.NoError(t, err)
			ids[i] = id
		}()
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, models.ConversationID("x", "y"), id)
	}
	assert.Len(t, conversations(t, store), 1)
}

func TestStartConversationRejectsSelf(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.StartConversation(context.Background(), "x", "x")
	assert.ErrorIs(t, err, svcErr.ErrInvalidArgument)
}

func TestSendMessageNotifiesRecipient(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t)
	id, err := svc.StartConversation(ctx, "x", "y")
	require.NoError(t, err)

	ref, err := svc.SendMessage(ctx, id, "x", "  hi there ")
	require.NoError(t, err)
	msg, err := store.Get(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, "hi there", msg.String("text"))

	conv, err := store.Get(ctx, models.ConversationRef(id))
	require.NoError(t, err)
	updated, _ := conv.Get("updatedAt")
	assert.NotNil(t, updated)

	noteID := models.NotificationID(models.NotifyMessage, "x", "y", "")
	note, err := store.Get(ctx, models.NotificationRef(noteID))
	require.NoError(t, err)
	assert.Equal(t, "y", note.String("targetUserId"))
	assert.Equal(t, false, note.Data["isChecked"])

	require.NoError(t, svc.MarkChecked(ctx, noteID))
	note, err = store.Get(ctx, models.NotificationRef(noteID))
	require.NoError(t, err)
	assert.Equal(t, true, note.Data["isChecked"])

	// a second message resets it; there is still only one notification
	_, err = svc.SendMessage(ctx, id, "x", "again")
	require.NoError(t, err)
	notes, err := store.Query(ctx, messaging.NotificationsQuery("y"))
	require.NoError(t, err)
	require.Len(t, notes, 1)
	assert.Equal(t, false, notes[0].Data["isChecked"])

	msgs, err := store.Query(ctx, messaging.MessagesQuery(id))
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestSendMessageChecksParticipants(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t)
	id, err := svc.StartConversation(ctx, "x", "y")
	require.NoError(t, err)

	_, err = svc.SendMessage(ctx, id, "z", "hello")
	assert.ErrorIs(t, err, svcErr.ErrPermissionDenied)

	_, err = svc.SendMessage(ctx, id, "x", "   ")
	assert.ErrorIs(t, err, svcErr.ErrInvalidArgument)

	_, err = svc.SendMessage(ctx, "nope", "x", "hello")
	assert.ErrorIs(t, err, svcErr.ErrNotFound)

	assert.ErrorIs(t, svc.MarkChecked(ctx, "missing"), svcErr.ErrNotFound)
}
