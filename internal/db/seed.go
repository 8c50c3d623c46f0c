package db

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/chirper/feedsync/internal/docstore"
	"github.com/chirper/feedsync/internal/models"
)

// SeedPassword is the password of every seeded account.
const SeedPassword = "password"

// seedBatchSize stays under the Firestore limit of 500 writes per commit.
const seedBatchSize = 400

type SeedOptions struct {
	Users         int
	TweetsPerUser int
	// Cost is the bcrypt cost; zero means bcrypt.DefaultCost.
	Cost int
	// Seed makes the generated graph reproducible.
	Seed   uint64
	Logger *slog.Logger
}

func (o *SeedOptions) defaults() {
	if o.Users <= 0 {
		o.Users = 12
	}
	if o.TweetsPerUser <= 0 {
		o.TweetsPerUser = 3
	}
	if o.Cost <= 0 {
		o.Cost = bcrypt.DefaultCost
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// SeedUID is the uid of the i-th seeded account, starting at 1.
func SeedUID(i int) string { return fmt.Sprintf("seed-%02d", i) }

// SeedDemoData resets the accounts table and populates the store with a small
// social graph.
//
// Behavior:
//  1. Clears `accounts` and creates user{i}@example.com accounts with
//     SeedPassword, hashed with bcrypt.
//  2. Writes each identity with its stats document and username reservation.
//  3. Each user follows ~1/3 of the others; both sides of every edge are
//     recorded.
//  4. Tweets get random likes and retweets, mirrored into the likers'
//     stats and the tweet author's notifications.
//
// Documents are written with Set, so seeding twice converges on the same
// graph for the same Seed.
func SeedDemoData(ctx context.Context, database *gorm.DB, store docstore.Store, opts SeedOptions) error {
	opts.defaults()
	r := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	log := opts.Logger

	// --- Fresh start ---
	if err := database.WithContext(ctx).Exec("DELETE FROM accounts").Error; err != nil {
		return fmt.Errorf("failed to clear accounts: %w", err)
	}
	log.Info("Cleared existing accounts")

	hash, err := bcrypt.GenerateFromPassword([]byte(SeedPassword), opts.Cost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	users := make([]*models.Identity, opts.Users)
	stats := make([]*models.Stats, opts.Users)
	for i := range opts.Users {
		uid := SeedUID(i + 1)
		username := fmt.Sprintf("user%d", i+1)
		account := Account{
			UID:          uid,
			Email:        username + "@example.com",
			DisplayName:  fmt.Sprintf("User %d", i+1),
			PasswordHash: string(hash),
			LastLoginAt:  now.Add(-time.Duration(r.IntN(500)) * time.Hour),
		}
		if err := database.WithContext(ctx).Create(&account).Error; err != nil {
			return fmt.Errorf("failed to seed account: %w", err)
		}
		users[i] = &models.Identity{
			ID:        uid,
			Username:  username,
			Name:      account.DisplayName,
			PhotoURL:  models.DefaultPhotoURL,
			Verified:  i == 0,
			CreatedAt: now.Add(-time.Duration(opts.Users-i) * 24 * time.Hour),
		}
		stats[i] = &models.Stats{}
	}
	log.Info("Seeded accounts", "count", opts.Users)

	// --- Follow graph ---
	for i, u := range users {
		for j, other := range users {
			if i == j || r.IntN(3) != 0 {
				continue
			}
			u.Following = append(u.Following, other.ID)
			other.Followers = append(other.Followers, u.ID)
		}
	}

	// --- Tweets ---
	var writes []docstore.Write
	tweets := 0
	for i, author := range users {
		for k := range opts.TweetsPerUser {
			id := fmt.Sprintf("%s-t%d", author.ID, k+1)
			text := fmt.Sprintf("Tweet %d from @%s #feedsync", k+1, author.Username)
			t := models.Tweet{
				ID:        id,
				Text:      &text,
				CreatedBy: author.ID,
				CreatedAt: author.CreatedAt.Add(time.Duration(k+1) * time.Hour),
			}
			for j, fan := range users {
				if j == i {
					continue
				}
				// like probability 40%, retweet 15%
				if r.IntN(100) < 40 {
					t.UserLikes = append(t.UserLikes, fan.ID)
					stats[j].Likes = append(stats[j].Likes, id)
					writes = append(writes, seedNotification(models.NotifyLike, fan.ID, author.ID, id))
				}
				if r.IntN(100) < 15 {
					t.UserRetweets = append(t.UserRetweets, fan.ID)
					stats[j].Tweets = append(stats[j].Tweets, id)
				}
			}
			stats[i].Tweets = append(stats[i].Tweets, id)
			author.TotalTweets++
			writes = append(writes, docstore.SetWrite(models.TweetRef(id), t.Data()))
			tweets++
		}
	}

	for i, u := range users {
		writes = append(writes,
			docstore.SetWrite(models.UserRef(u.ID), u.Data()),
			docstore.SetWrite(models.StatsRef(u.ID), stats[i].Data()),
			docstore.SetWrite(models.UsernameRef(u.Username), models.UsernameClaim{UID: u.ID, Username: u.Username}.Data()),
		)
		for _, f := range u.Followers {
			writes = append(writes, seedNotification(models.NotifyFollow, f, u.ID, ""))
		}
	}
	writes = append(writes, docstore.SetWrite(
		docstore.NewRef(models.TrendsCollection, "feedsync"),
		models.Trend{Text: "feedsync", Counter: tweets, UserID: users[0].ID, CreatedAt: now}.Data(),
	))

	for batch := range slices.Chunk(writes, seedBatchSize) {
		if err := store.Commit(ctx, batch...); err != nil {
			return fmt.Errorf("failed to seed documents: %w", err)
		}
	}
	log.Info("Seeded documents", "users", len(users), "tweets", tweets, "writes", len(writes))
	return nil
}

func seedNotification(kind models.NotificationType, from, to, tweetID string) docstore.Write {
	n := models.Notification{
		Type:         kind,
		UserID:       from,
		TargetUserID: to,
	}
	if tweetID != "" {
		n.TweetID = &tweetID
	}
	return docstore.SetWrite(models.NotificationRef(models.NotificationID(kind, from, to, tweetID)), n.Data())
}
