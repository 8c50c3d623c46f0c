package models

import (
	"slices"
	"time"

	"github.com/chirper/feedsync/internal/docstore"
)

// Identity is the profile document at users/{uid}.
//
// Followers and Following double as the follower counts; there is no
// separate counter field.
type Identity struct {
	ID            string     `json:"id"`
	Username      string     `json:"username"`
	Name          string     `json:"name"`
	Bio           *string    `json:"bio"`
	PhotoURL      string     `json:"photoURL"`
	CoverPhotoURL *string    `json:"coverPhotoURL"`
	Website       *string    `json:"website"`
	Location      *string    `json:"location"`
	Followers     []string   `json:"followers"`
	Following     []string   `json:"following"`
	IsBanned      bool       `json:"isBanned"`
	Verified      bool       `json:"verified"`
	TotalTweets   int        `json:"totalTweets"`
	TotalPhotos   int        `json:"totalPhotos"`
	PinnedTweet   *string    `json:"pinnedTweet"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     *time.Time `json:"updatedAt"`
}

// DefaultPhotoURL is used when the identity provider has no avatar.
const DefaultPhotoURL = "/assets/default-avatar.png"

// Data renders the identity as a document payload. CreatedAt is left to the
// store's commit clock when zero.
func (u Identity) Data() docstore.Data {
	var created any = u.CreatedAt
	if u.CreatedAt.IsZero() {
		created = docstore.ServerTimestamp
	}
	return docstore.Data{
		"id":            u.ID,
		"username":      u.Username,
		"name":          u.Name,
		"bio":           u.Bio,
		"photoURL":      u.PhotoURL,
		"coverPhotoURL": u.CoverPhotoURL,
		"website":       u.Website,
		"location":      u.Location,
		"followers":     nonNil(u.Followers),
		"following":     nonNil(u.Following),
		"isBanned":      u.IsBanned,
		"verified":      u.Verified,
		"totalTweets":   u.TotalTweets,
		"totalPhotos":   u.TotalPhotos,
		"pinnedTweet":   u.PinnedTweet,
		"createdAt":     created,
		"updatedAt":     u.UpdatedAt,
	}
}

// FollowedBy reports whether uid follows this identity.
func (u Identity) FollowedBy(uid string) bool {
	return slices.Contains(u.Followers, uid)
}

// Follows reports whether this identity follows uid.
func (u Identity) Follows(uid string) bool {
	return slices.Contains(u.Following, uid)
}

// Stats is the companion document at users/{uid}/stats/stats.
type Stats struct {
	Likes     []string   `json:"likes"`
	Tweets    []string   `json:"tweets"`
	UpdatedAt *time.Time `json:"updatedAt"`
}

func (s Stats) Data() docstore.Data {
	return docstore.Data{
		"likes":     nonNil(s.Likes),
		"tweets":    nonNil(s.Tweets),
		"updatedAt": s.UpdatedAt,
	}
}

// UsernameClaim is the registry entry at usernames/{lower(username)}.
type UsernameClaim struct {
	UID       string    `json:"uid"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"createdAt"`
}

func (c UsernameClaim) Data() docstore.Data {
	return docstore.Data{
		"uid":       c.UID,
		"username":  c.Username,
		"createdAt": docstore.ServerTimestamp,
	}
}

// DecodeIdentity reads an identity out of a users/{uid} snapshot.
func DecodeIdentity(d docstore.Document) (*Identity, error) {
	var u Identity
	if err := d.DataTo(&u); err != nil {
		return nil, err
	}
	if u.ID == "" {
		u.ID = d.ID()
	}
	return &u, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
