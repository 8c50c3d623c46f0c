package mutation

import (
	"fmt"
	"slices"

	"github.com/chirper/feedsync/internal/docstore"
	svcErr "github.com/chirper/feedsync/internal/errors"
	"github.com/chirper/feedsync/internal/models"
)

// Kind names the membership list a toggle edits.
type Kind string

const (
	Like     Kind = "like"
	Retweet  Kind = "retweet"
	Bookmark Kind = "bookmark"
	Follow   Kind = "follow"
)

// Action adds (On) or removes (Off) the actor.
type Action int

const (
	On Action = iota
	Off
)

func (a Action) String() string {
	if a == Off {
		return "off"
	}
	return "on"
}

// ActionFor picks the action that flips the current membership.
func ActionFor(member bool) Action {
	if member {
		return Off
	}
	return On
}

// Toggle adds (On) or removes (Off) ActorID in a membership list. TargetID
// is a tweet id, or a user id for Follow. TargetOwnerID, when set, is
// notified on On transitions.
type Toggle struct {
	Kind          Kind
	Action        Action
	ActorID       string
	TargetID      string
	TargetOwnerID string
}

// Validate rejects unknown kinds, missing ids and self follows.
func (t Toggle) Validate() error {
	switch t.Kind {
	case Like, Retweet, Bookmark, Follow:
	default:
		return fmt.Errorf("%w: unknown toggle kind %q", svcErr.ErrInvalidArgument, t.Kind)
	}
	if t.ActorID == "" || t.TargetID == "" {
		return fmt.Errorf("%w: actor and target are required", svcErr.ErrInvalidArgument)
	}
	if t.Kind == Follow && t.ActorID == t.TargetID {
		return fmt.Errorf("%w: cannot follow yourself", svcErr.ErrInvalidArgument)
	}
	return nil
}

// key identifies the membership being toggled, regardless of direction.
func (t Toggle) key() string {
	return string(t.Kind) + "|" + t.ActorID + "|" + t.TargetID
}

func (t Toggle) membership(v string) any {
	if t.Action == On {
		return docstore.ArrayUnion(v)
	}
	return docstore.ArrayRemove(v)
}

// Writes returns every write of the toggle; they must be committed together.
func (t Toggle) Writes() []docstore.Write {
	stamp := docstore.FieldUpdate{Field: "updatedAt", Value: docstore.ServerTimestamp}

	var writes []docstore.Write
	switch t.Kind {
	case Like:
		writes = []docstore.Write{
			docstore.UpdateWrite(models.TweetRef(t.TargetID),
				docstore.FieldUpdate{Field: "userLikes", Value: t.membership(t.ActorID)}, stamp),
			docstore.UpdateWrite(models.StatsRef(t.ActorID),
				docstore.FieldUpdate{Field: "likes", Value: t.membership(t.TargetID)}, stamp),
		}
	case Retweet:
		writes = []docstore.Write{
			docstore.UpdateWrite(models.TweetRef(t.TargetID),
				docstore.FieldUpdate{Field: "userRetweets", Value: t.membership(t.ActorID)}, stamp),
			docstore.UpdateWrite(models.StatsRef(t.ActorID),
				docstore.FieldUpdate{Field: "tweets", Value: t.membership(t.TargetID)}, stamp),
		}
	case Bookmark:
		writes = []docstore.Write{
			docstore.UpdateWrite(models.TweetRef(t.TargetID),
				docstore.FieldUpdate{Field: "userBookmarks", Value: t.membership(t.ActorID)}, stamp),
		}
		if t.Action == On {
			writes = append(writes, docstore.SetWrite(models.BookmarkRef(t.ActorID, t.TargetID),
				models.Bookmark{ID: t.TargetID}.Data()))
		} else {
			writes = append(writes, docstore.DeleteWrite(models.BookmarkRef(t.ActorID, t.TargetID)))
		}
	case Follow:
		writes = []docstore.Write{
			docstore.UpdateWrite(models.UserRef(t.ActorID),
				docstore.FieldUpdate{Field: "following", Value: t.membership(t.TargetID)}, stamp),
			docstore.UpdateWrite(models.UserRef(t.TargetID),
				docstore.FieldUpdate{Field: "followers", Value: t.membership(t.ActorID)}, stamp),
		}
	}

	if n, ok := t.notification(); ok {
		writes = append(writes, docstore.SetWrite(models.NotificationRef(n.ID), n.Data()))
	}
	return writes
}

// notification is the owner notification an On transition produces.
// Bookmarks are private and never notify.
func (t Toggle) notification() (models.Notification, bool) {
	if t.Action != On || t.TargetOwnerID == "" || t.TargetOwnerID == t.ActorID {
		return models.Notification{}, false
	}
	n := models.Notification{UserID: t.ActorID, TargetUserID: t.TargetOwnerID}
	tweetID := t.TargetID
	switch t.Kind {
	case Like:
		n.Type = models.NotifyLike
	case Retweet:
		n.Type = models.NotifyRetweet
	case Follow:
		n.Type = models.NotifyFollow
		tweetID = ""
	default:
		return models.Notification{}, false
	}
	if tweetID != "" {
		n.TweetID = &tweetID
	}
	n.ID = models.NotificationID(n.Type, n.UserID, n.TargetUserID, tweetID)
	return n, true
}

// ObservedIn reports whether doc, the tweet (or for Follow the target
// user), already reflects the toggle.
func (t Toggle) ObservedIn(doc docstore.Document) bool {
	var field string
	switch t.Kind {
	case Like:
		field = "userLikes"
	case Retweet:
		field = "userRetweets"
	case Bookmark:
		field = "userBookmarks"
	case Follow:
		field = "followers"
	default:
		return false
	}
	return slices.Contains(doc.Strings(field), t.ActorID) == (t.Action == On)
}
