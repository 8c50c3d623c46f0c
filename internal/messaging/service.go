// Package messaging keeps direct conversations unique per pair of
// identities and fans message notifications out to the recipient.
package messaging

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/chirper/feedsync/internal/app"
	"github.com/chirper/feedsync/internal/docstore"
	svcErr "github.com/chirper/feedsync/internal/errors"
	"github.com/chirper/feedsync/internal/models"
	"github.com/chirper/feedsync/internal/repository"
)

type Service struct {
	appCtx     *app.AppContext
	identities *repository.IdentityRepository
}

func New(appCtx *app.AppContext) *Service {
	return &Service{
		appCtx:     appCtx,
		identities: repository.NewIdentityRepository(appCtx.Store),
	}
}

// StartConversation returns the conversation between userID and
// targetUserID, creating it when none exists.
//
// Behavior:
//   - An existing conversation in either orientation is reused, whatever
//     its id.
//   - New conversations get the sorted pair id, so two callers racing to
//     create one end up on the same document.
func (s *Service) StartConversation(ctx context.Context, userID, targetUserID string) (string, error) {
	if userID == "" || targetUserID == "" || userID == targetUserID {
		return "", fmt.Errorf("%w: conversation needs two distinct participants", svcErr.ErrInvalidArgument)
	}
	s.appCtx.Logger.Debug("StartConversation called", "user", userID, "target", targetUserID)

	id, ok, err := s.identities.FindConversation(ctx, userID, targetUserID)
	if err != nil {
		return "", err
	}
	if ok {
		return id, nil
	}

	id = models.ConversationID(userID, targetUserID)
	conv := models.Conversation{UserID: userID, TargetUserID: targetUserID}
	err = s.appCtx.Store.Create(ctx, models.ConversationRef(id), conv.Data())
	if svcErr.Is(err, svcErr.ErrAlreadyExists) {
		s.appCtx.Logger.Debug("Conversation created concurrently", "id", id)
		return id, nil
	}
	if err != nil {
		s.appCtx.Logger.Error("Create conversation failed", "id", id, "err", err)
		return "", fmt.Errorf("create conversation: %w", err)
	}
	s.appCtx.Logger.Info("Conversation created", "id", id)
	return id, nil
}

// SendMessage appends a message and, in the same commit, bumps the
// conversation and marks the recipient's message notification unchecked.
func (s *Service) SendMessage(ctx context.Context, conversationID, senderID, text string) (docstore.Ref, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return docstore.Ref{}, fmt.Errorf("%w: message text is empty", svcErr.ErrInvalidArgument)
	}

	doc, err := s.appCtx.Store.Get(ctx, models.ConversationRef(conversationID))
	if err != nil {
		return docstore.Ref{}, fmt.Errorf("conversation %s: %w", conversationID, err)
	}
	conv, err := models.DecodeConversation(*doc)
	if err != nil {
		return docstore.Ref{}, err
	}
	if senderID != conv.UserID && senderID != conv.TargetUserID {
		return docstore.Ref{}, fmt.Errorf("%s is not in conversation %s: %w", senderID, conversationID, svcErr.ErrPermissionDenied)
	}
	recipient := conv.Other(senderID)

	ref := docstore.NewRef(models.MessagesCollection, uuid.NewString())
	msg := models.Message{ConversationID: conversationID, UserID: senderID, Text: text}
	note := models.Notification{
		ID:           models.NotificationID(models.NotifyMessage, senderID, recipient, ""),
		Type:         models.NotifyMessage,
		UserID:       senderID,
		TargetUserID: recipient,
	}

	writes := []docstore.Write{
		docstore.CreateWrite(ref, msg.Data()),
		docstore.UpdateWrite(models.ConversationRef(conversationID),
			docstore.FieldUpdate{Field: "updatedAt", Value: docstore.ServerTimestamp}),
	}
	if recipient != senderID {
		writes = append(writes, docstore.SetWrite(models.NotificationRef(note.ID), note.Data()))
	}
	if err := s.appCtx.Store.Commit(ctx, writes...); err != nil {
		s.appCtx.Logger.Error("SendMessage commit failed", "conversation", conversationID, "err", err)
		return docstore.Ref{}, fmt.Errorf("send message: %w", err)
	}
	return ref, nil
}

// MarkChecked flags a notification as seen.
func (s *Service) MarkChecked(ctx context.Context, notificationID string) error {
	err := s.appCtx.Store.Update(ctx, models.NotificationRef(notificationID),
		docstore.FieldUpdate{Field: "isChecked", Value: true},
		docstore.FieldUpdate{Field: "updatedAt", Value: docstore.ServerTimestamp},
	)
	if err != nil {
		return fmt.Errorf("mark notification %s: %w", notificationID, err)
	}
	return nil
}

// MessagesQuery lists a conversation oldest first.
func MessagesQuery(conversationID string) docstore.Query {
	return docstore.From(models.MessagesCollection).
		Where("conversationId", docstore.OpEqual, conversationID).
		OrderBy("createdAt", docstore.Asc)
}

// ConversationsQuery lists uid's conversations newest first: those uid
// started when started is set, otherwise those started by the other side.
func ConversationsQuery(uid string, started bool) docstore.Query {
	field := "targetUserId"
	if started {
		field = "userId"
	}
	return docstore.From(models.ConversationsCollection).
		Where(field, docstore.OpEqual, uid).
		OrderBy("createdAt", docstore.Desc)
}

// NotificationsQuery lists the notifications addressed to uid, newest first.
func NotificationsQuery(uid string) docstore.Query {
	return docstore.From(models.NotificationsCollection).
		Where("targetUserId", docstore.OpEqual, uid).
		OrderBy("createdAt", docstore.Desc)
}
