package models

import (
	"sort"
	"strings"

	"github.com/chirper/feedsync/internal/docstore"
)

// Top-level collection paths.
const (
	UsersCollection         = "users"
	UsernamesCollection     = "usernames"
	TweetsCollection        = "tweets"
	TrendsCollection        = "trends"
	ConversationsCollection = "conversations"
	MessagesCollection      = "messages"
	NotificationsCollection = "notifications"
)

// StatsDocID is the single document inside users/{uid}/stats.
const StatsDocID = "stats"

func UserRef(uid string) docstore.Ref {
	return docstore.NewRef(UsersCollection, uid)
}

func StatsRef(uid string) docstore.Ref {
	return docstore.NewRef(UsersCollection+"/"+uid+"/stats", StatsDocID)
}

func BookmarksCollection(uid string) string {
	return UsersCollection + "/" + uid + "/bookmarks"
}

func BookmarkRef(uid, tweetID string) docstore.Ref {
	return docstore.NewRef(BookmarksCollection(uid), tweetID)
}

// UsernameRef points at the registry entry reserving a username.
func UsernameRef(username string) docstore.Ref {
	return docstore.NewRef(UsernamesCollection, strings.ToLower(username))
}

func TweetRef(id string) docstore.Ref {
	return docstore.NewRef(TweetsCollection, id)
}

func ConversationRef(id string) docstore.Ref {
	return docstore.NewRef(ConversationsCollection, id)
}

func NotificationRef(id string) docstore.Ref {
	return docstore.NewRef(NotificationsCollection, id)
}

// ConversationID is the deterministic id of the conversation between two
// identities, independent of who starts it.
func ConversationID(a, b string) string {
	pair := []string{a, b}
	sort.Strings(pair)
	return pair[0] + "_" + pair[1]
}
