package models

import (
	"time"

	"github.com/chirper/feedsync/internal/docstore"
)

type Conversation struct {
	ID           string     `json:"-"`
	UserID       string     `json:"userId"`
	TargetUserID string     `json:"targetUserId"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    *time.Time `json:"updatedAt"`
}

func (c Conversation) Data() docstore.Data {
	return docstore.Data{
		"userId":       c.UserID,
		"targetUserId": c.TargetUserID,
		"createdAt":    docstore.ServerTimestamp,
		"updatedAt":    nil,
	}
}

// Other returns the participant that is not uid.
func (c Conversation) Other(uid string) string {
	if c.UserID == uid {
		return c.TargetUserID
	}
	return c.UserID
}

func DecodeConversation(d docstore.Document) (*Conversation, error) {
	var c Conversation
	if err := d.DataTo(&c); err != nil {
		return nil, err
	}
	c.ID = d.ID()
	return &c, nil
}

type Message struct {
	ID             string    `json:"-"`
	ConversationID string    `json:"conversationId"`
	UserID         string    `json:"userId"`
	Text           string    `json:"text"`
	CreatedAt      time.Time `json:"createdAt"`
}

func (m Message) Data() docstore.Data {
	return docstore.Data{
		"conversationId": m.ConversationID,
		"userId":         m.UserID,
		"text":           m.Text,
		"createdAt":      docstore.ServerTimestamp,
	}
}

func DecodeMessage(d docstore.Document) (*Message, error) {
	var m Message
	if err := d.DataTo(&m); err != nil {
		return nil, err
	}
	m.ID = d.ID()
	return &m, nil
}

type NotificationType string

const (
	NotifyMessage NotificationType = "message"
	NotifyLike    NotificationType = "like"
	NotifyRetweet NotificationType = "retweet"
	NotifyFollow  NotificationType = "follow"
)

// Notification tells TargetUserID that UserID did something.
type Notification struct {
	ID           string           `json:"-"`
	Type         NotificationType `json:"type"`
	UserID       string           `json:"userId"`
	TargetUserID string           `json:"targetUserId"`
	TweetID      *string          `json:"tweetId"`
	IsChecked    bool             `json:"isChecked"`
	CreatedAt    time.Time        `json:"createdAt"`
	UpdatedAt    *time.Time       `json:"updatedAt"`
}

func (n Notification) Data() docstore.Data {
	return docstore.Data{
		"type":         string(n.Type),
		"userId":       n.UserID,
		"targetUserId": n.TargetUserID,
		"tweetId":      n.TweetID,
		"isChecked":    n.IsChecked,
		"createdAt":    docstore.ServerTimestamp,
		"updatedAt":    docstore.ServerTimestamp,
	}
}

// NotificationID is the deterministic id used for notifications that must
// exist at most once per (type, actor, target, tweet).
func NotificationID(kind NotificationType, userID, targetUserID, tweetID string) string {
	id := string(kind) + "_" + userID + "_" + targetUserID
	if tweetID != "" {
		id += "_" + tweetID
	}
	return id
}

func DecodeNotification(d docstore.Document) (*Notification, error) {
	var n Notification
	if err := d.DataTo(&n); err != nil {
		return nil, err
	}
	n.ID = d.ID()
	return &n, nil
}
