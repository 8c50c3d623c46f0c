package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chirper/feedsync/internal/docstore"
	"github.com/chirper/feedsync/internal/feed"
	"github.com/chirper/feedsync/internal/livequery"
	"github.com/chirper/feedsync/internal/models"
)

func createFeedCmd(gf *globalFlags) *cobra.Command {
	var (
		user     string
		pageSize int
		pages    int
		after    string
		watch    bool
	)

	cmd := &cobra.Command{
		Use:   "feed",
		Short: "List the newest tweets, optionally following them live",
		Long: `List tweets newest first, joined with their authors.

The first page is live: with --watch new tweets and counter changes are
printed as they land until interrupted. --pages loads older pages, and the
printed token resumes from where the listing stopped (--after).`,
		RunE: run(gf, func(cmd *cobra.Command, rt *runtime, _ []string) error {
			viewer, err := rt.signedIn()
			if err != nil {
				return err
			}

			q := docstore.From(models.TweetsCollection).OrderBy("createdAt", docstore.Desc)
			if user != "" {
				author, err := rt.lookup(user)
				if err != nil {
					return err
				}
				q = q.Where("createdBy", docstore.OpEqual, author.ID)
			}
			if pageSize <= 0 {
				pageSize = rt.appCtx.Config.Feed.PageSize
			}

			cur, err := feed.New(rt.appCtx.Store, q, feed.Options{
				PageSize: pageSize,
				After:    after,
				Join:     livequery.ByForeignKey("createdBy", models.UsersCollection),
				Logger:   rt.appCtx.Logger,
				Metrics:  rt.metrics,
			})
			if err != nil {
				return err
			}
			defer cur.Close()

			if after != "" {
				if err := cur.LoadMore(rt.ctx); err != nil {
					return err
				}
			}
			res, err := cur.WaitFor(rt.ctx, func(r livequery.Result) bool { return r.State != livequery.Loading })
			if err != nil {
				return err
			}
			if res.State == livequery.Failed {
				return res.Err
			}
			for i := 1; i < pages && !cur.ReachingEnd(); i++ {
				if err := cur.LoadMore(rt.ctx); err != nil {
					return err
				}
			}

			printFeed(cmd, cur.Result(), viewer, rt)
			if !cur.ReachingEnd() {
				if token, err := cur.Token(); err == nil && token != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", faint("more:"), token)
				}
			}
			if !watch {
				return nil
			}

			color.Yellow("👀 Watching feed, Ctrl+C to stop")
			for {
				select {
				case <-rt.ctx.Done():
					return nil
				case <-cur.Changes():
				}
				res := cur.Result()
				if res.State == livequery.Failed {
					return res.Err
				}
				fmt.Fprintln(cmd.OutOrStdout(), faint(strings.Repeat("-", 40)))
				printFeed(cmd, res, viewer, rt)
			}
		}),
	}

	cmd.Flags().StringVarP(&user, "user", "u", "", "Only tweets by this username")
	cmd.Flags().IntVar(&pageSize, "page-size", 0, "Tweets per page (default FEED_PAGE_SIZE)")
	cmd.Flags().IntVar(&pages, "pages", 1, "Pages to load")
	cmd.Flags().StringVar(&after, "after", "", "Resume after a token printed by a previous listing")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep printing live changes")

	return cmd
}

func printFeed(cmd *cobra.Command, res livequery.Result, viewer *models.Identity, rt *runtime) {
	out := cmd.OutOrStdout()
	if len(res.Rows) == 0 {
		fmt.Fprintln(out, faint("no tweets"))
		return
	}
	for _, row := range res.Rows {
		tw, err := models.DecodeTweet(row.Doc)
		if err != nil {
			rt.appCtx.Logger.Warn("Skipping undecodable tweet", "doc", row.Doc.Ref.String(), "err", err)
			continue
		}
		author := tw.CreatedBy
		if row.Joined != nil {
			author = "@" + row.Joined.String("username")
		}

		var marks []string
		if viewer != nil {
			if tw.LikedBy(viewer.ID) {
				marks = append(marks, "liked")
			}
			if tw.RetweetedBy(viewer.ID) {
				marks = append(marks, "retweeted")
			}
			if rt.session.IsBookmarked(tw.ID) {
				marks = append(marks, "bookmarked")
			}
		}

		text := ""
		if tw.Text != nil {
			text = *tw.Text
		}
		fmt.Fprintf(out, "%s %s %s\n", handle(author), faint(ago(tw.CreatedAt)), faint(tw.ID))
		fmt.Fprintf(out, "  %s\n", text)
		fmt.Fprintf(out, "  ♥ %d  ⟲ %d  🔖 %d", len(tw.UserLikes), len(tw.UserRetweets), len(tw.UserBookmarks))
		if len(marks) > 0 {
			fmt.Fprintf(out, "  %s", accent(strings.Join(marks, ", ")))
		}
		fmt.Fprintln(out)
	}
}

func ago(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	d := time.Since(t).Round(time.Minute)
	switch {
	case d < time.Minute:
		return "now"
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	}
	return t.Format("Jan 2")
}
