package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chirper/feedsync/internal/models"
	"github.com/chirper/feedsync/internal/mutation"
)

var toggleKinds = []mutation.Kind{mutation.Like, mutation.Retweet, mutation.Bookmark}

var toggleVerbs = map[mutation.Kind][2]string{
	mutation.Like:     {"liked", "unliked"},
	mutation.Retweet:  {"retweeted", "removed retweet of"},
	mutation.Bookmark: {"bookmarked", "removed bookmark of"},
	mutation.Follow:   {"followed", "unfollowed"},
}

func createToggleCmd(gf *globalFlags, kind mutation.Kind) *cobra.Command {
	var off bool

	cmd := &cobra.Command{
		Use:   string(kind) + " <tweet-id>",
		Short: fmt.Sprintf("Add (or with --off remove) a %s on a tweet", kind),
		Args:  cobra.ExactArgs(1),
		RunE: run(gf, func(cmd *cobra.Command, rt *runtime, args []string) error {
			me, err := rt.signIn()
			if err != nil {
				return err
			}
			doc, err := rt.appCtx.Store.Get(rt.ctx, models.TweetRef(args[0]))
			if err != nil {
				return err
			}
			tw, err := models.DecodeTweet(*doc)
			if err != nil {
				return err
			}
			return applyToggle(cmd, rt, mutation.Toggle{
				Kind:          kind,
				Action:        action(off),
				ActorID:       me.ID,
				TargetID:      tw.ID,
				TargetOwnerID: tw.CreatedBy,
			}, tw.ID)
		}),
	}
	cmd.Flags().BoolVar(&off, "off", false, "Remove instead of add")
	return cmd
}

func createFollowCmd(gf *globalFlags) *cobra.Command {
	var off bool

	cmd := &cobra.Command{
		Use:   "follow <username>",
		Short: "Follow (or with --off unfollow) a user",
		Args:  cobra.ExactArgs(1),
		RunE: run(gf, func(cmd *cobra.Command, rt *runtime, args []string) error {
			me, err := rt.signIn()
			if err != nil {
				return err
			}
			target, err := rt.lookup(args[0])
			if err != nil {
				return err
			}
			return applyToggle(cmd, rt, mutation.Toggle{
				Kind:          mutation.Follow,
				Action:        action(off),
				ActorID:       me.ID,
				TargetID:      target.ID,
				TargetOwnerID: target.ID,
			}, "@"+target.Username)
		}),
	}
	cmd.Flags().BoolVar(&off, "off", false, "Unfollow")
	return cmd
}

// applyToggle submits t and waits for the commit.
func applyToggle(cmd *cobra.Command, rt *runtime, t mutation.Toggle, label string) error {
	op, err := mutation.New(rt.appCtx).Submit(rt.ctx, t)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s\n", faint("…"), t.Kind, t.Action)
	if err := op.Wait(rt.ctx); err != nil {
		if mutation.IsRejected(err) {
			return fmt.Errorf("rejected by the store: %w", err)
		}
		return err
	}
	color.Green("✅ %s %s", toggleVerbs[t.Kind][t.Action], bold(label))
	return nil
}

func action(off bool) mutation.Action {
	if off {
		return mutation.Off
	}
	return mutation.On
}
