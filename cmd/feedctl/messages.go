package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chirper/feedsync/internal/livequery"
	"github.com/chirper/feedsync/internal/messaging"
	"github.com/chirper/feedsync/internal/models"
)

func createMessageCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "message <username> <text...>",
		Short: "Send a direct message, starting the conversation if needed",
		Args:  cobra.MinimumNArgs(2),
		RunE: run(gf, func(cmd *cobra.Command, rt *runtime, args []string) error {
			me, err := rt.signIn()
			if err != nil {
				return err
			}
			target, err := rt.lookup(args[0])
			if err != nil {
				return err
			}

			svc := messaging.New(rt.appCtx)
			convID, err := svc.StartConversation(rt.ctx, me.ID, target.ID)
			if err != nil {
				return err
			}
			ref, err := svc.SendMessage(rt.ctx, convID, me.ID, strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			color.Green("✅ Sent to %s", bold("@"+target.Username))
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", faint("conversation"), convID)
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", faint("message"), ref.ID)
			return nil
		}),
	}
}

func createNotificationsCmd(gf *globalFlags) *cobra.Command {
	var (
		watch    bool
		markRead bool
	)

	cmd := &cobra.Command{
		Use:     "notifications",
		Aliases: []string{"notifs"},
		Short:   "List notifications addressed to the signed-in user",
		RunE: run(gf, func(cmd *cobra.Command, rt *runtime, _ []string) error {
			me, err := rt.signIn()
			if err != nil {
				return err
			}

			cache := livequery.New(rt.appCtx.Store,
				livequery.QueryTarget(messaging.NotificationsQuery(me.ID)).
					WithJoin(livequery.ByForeignKey("userId", models.UsersCollection)),
				livequery.WithLogger(rt.appCtx.Logger),
				livequery.WithMetrics(rt.metrics),
			)
			defer cache.Close()

			res, err := cache.WaitFor(rt.ctx, func(r livequery.Result) bool { return r.State != livequery.Loading })
			if err != nil {
				return err
			}
			if res.State == livequery.Failed {
				return res.Err
			}
			printNotifications(cmd, res)

			if markRead {
				svc := messaging.New(rt.appCtx)
				for _, row := range res.Rows {
					if n, err := models.DecodeNotification(row.Doc); err == nil && n.IsChecked {
						continue
					}
					if err := svc.MarkChecked(rt.ctx, row.Doc.ID()); err != nil {
						return err
					}
				}
			}
			if !watch {
				return nil
			}

			color.Yellow("👀 Watching notifications, Ctrl+C to stop")
			for {
				select {
				case <-rt.ctx.Done():
					return nil
				case <-cache.Changes():
				}
				res := cache.Result()
				if res.State == livequery.Failed {
					return res.Err
				}
				fmt.Fprintln(cmd.OutOrStdout(), faint(strings.Repeat("-", 40)))
				printNotifications(cmd, res)
			}
		}),
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "Keep printing live changes")
	cmd.Flags().BoolVar(&markRead, "mark-read", false, "Mark the listed notifications as checked")
	return cmd
}

func printNotifications(cmd *cobra.Command, res livequery.Result) {
	out := cmd.OutOrStdout()
	if len(res.Rows) == 0 {
		fmt.Fprintln(out, faint("no notifications"))
		return
	}
	for _, row := range res.Rows {
		n, err := models.DecodeNotification(row.Doc)
		if err != nil {
			continue
		}
		who := n.UserID
		if row.Joined != nil {
			who = "@" + row.Joined.String("username")
		}
		line := fmt.Sprintf("%s %s", handle(who), describe(n))
		if !n.IsChecked {
			line = bold(line)
		}
		fmt.Fprintf(out, "%s %s\n", line, faint(ago(n.CreatedAt)))
	}
}

func describe(n *models.Notification) string {
	tweet := ""
	if n.TweetID != nil {
		tweet = " " + *n.TweetID
	}
	switch n.Type {
	case models.NotifyLike:
		return "liked your tweet" + tweet
	case models.NotifyRetweet:
		return "retweeted your tweet" + tweet
	case models.NotifyFollow:
		return "followed you"
	case models.NotifyMessage:
		return "sent you a message"
	}
	return string(n.Type)
}
