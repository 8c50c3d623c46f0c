package models

import (
	"slices"
	"time"

	"github.com/chirper/feedsync/internal/docstore"
)

// Tweet is a feed item at tweets/{id}. The membership lists are the only
// source of the like/retweet/bookmark counts.
type Tweet struct {
	ID            string     `json:"id"`
	Text          *string    `json:"text"`
	Images        []Image    `json:"images"`
	Parent        *Parent    `json:"parent"`
	CreatedBy     string     `json:"createdBy"`
	UserLikes     []string   `json:"userLikes"`
	UserRetweets  []string   `json:"userRetweets"`
	UserBookmarks []string   `json:"userBookmarks"`
	UserReplies   int        `json:"userReplies"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     *time.Time `json:"updatedAt"`
}

type Image struct {
	ID  string `json:"id"`
	Src string `json:"src"`
	Alt string `json:"alt"`
}

// Parent links a reply to the tweet it answers.
type Parent struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

func (t Tweet) Data() docstore.Data {
	var created any = t.CreatedAt
	if t.CreatedAt.IsZero() {
		created = docstore.ServerTimestamp
	}
	images := make([]any, 0, len(t.Images))
	for _, img := range t.Images {
		images = append(images, map[string]any{"id": img.ID, "src": img.Src, "alt": img.Alt})
	}
	var parent any
	if t.Parent != nil {
		parent = map[string]any{"id": t.Parent.ID, "username": t.Parent.Username}
	}
	return docstore.Data{
		"id":            t.ID,
		"text":          t.Text,
		"images":        images,
		"parent":        parent,
		"createdBy":     t.CreatedBy,
		"userLikes":     nonNil(t.UserLikes),
		"userRetweets":  nonNil(t.UserRetweets),
		"userBookmarks": nonNil(t.UserBookmarks),
		"userReplies":   t.UserReplies,
		"createdAt":     created,
		"updatedAt":     t.UpdatedAt,
	}
}

func (t Tweet) LikedBy(uid string) bool      { return slices.Contains(t.UserLikes, uid) }
func (t Tweet) RetweetedBy(uid string) bool  { return slices.Contains(t.UserRetweets, uid) }
func (t Tweet) BookmarkedBy(uid string) bool { return slices.Contains(t.UserBookmarks, uid) }

func DecodeTweet(d docstore.Document) (*Tweet, error) {
	var t Tweet
	if err := d.DataTo(&t); err != nil {
		return nil, err
	}
	if t.ID == "" {
		t.ID = d.ID()
	}
	return &t, nil
}

// Bookmark marks a tweet saved by its owner at users/{uid}/bookmarks/{tweetId}.
type Bookmark struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"createdAt"`
}

func (b Bookmark) Data() docstore.Data {
	return docstore.Data{"id": b.ID, "createdAt": docstore.ServerTimestamp}
}

// Trend is a hashtag counter shown in the sidebar.
type Trend struct {
	Text      string    `json:"text"`
	Counter   int       `json:"counter"`
	UserID    string    `json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

func (t Trend) Data() docstore.Data {
	return docstore.Data{
		"text":      t.Text,
		"counter":   t.Counter,
		"userId":    t.UserID,
		"createdAt": docstore.ServerTimestamp,
	}
}
