package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/chirper/feedsync/internal/models"
)

func createSignUpCmd(gf *globalFlags) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and provision its profile",
		RunE: run(gf, func(cmd *cobra.Command, rt *runtime, _ []string) error {
			creds := rt.credentials()
			creds.DisplayName = name
			if _, err := rt.session.SignUp(rt.ctx, creds); err != nil {
				return err
			}
			me, err := rt.awaitIdentity()
			if err != nil {
				return err
			}
			color.Green("✅ Welcome %s", bold("@"+me.Username))
			printProfile(cmd, rt, me)
			return nil
		}),
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Display name; the username is derived from it")
	return cmd
}

func createSignInCmd(gf *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:     "signin",
		Aliases: []string{"whoami"},
		Short:   "Sign in and show the profile",
		RunE: run(gf, func(cmd *cobra.Command, rt *runtime, _ []string) error {
			me, err := rt.signIn()
			if err != nil {
				return err
			}
			printProfile(cmd, rt, me)
			return nil
		}),
	}
}

func printProfile(cmd *cobra.Command, rt *runtime, me *models.Identity) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s %s\n", bold(me.Name), handle("@"+me.Username))
	fmt.Fprintf(out, "  %s %s\n", faint("uid"), me.ID)
	fmt.Fprintf(out, "  %d following  %d followers  %d tweets\n", len(me.Following), len(me.Followers), me.TotalTweets)
	if n := len(rt.session.State().Bookmarks); n > 0 {
		fmt.Fprintf(out, "  %d bookmarks\n", n)
	}
	if me.Verified {
		fmt.Fprintf(out, "  %s\n", accent("verified"))
	}
	if rt.session.IsAdmin() {
		fmt.Fprintf(out, "  %s\n", accent("admin"))
	}
}
