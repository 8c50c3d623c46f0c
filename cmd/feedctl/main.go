package main

import (
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	svcErr "github.com/chirper/feedsync/internal/errors"
)

// globalFlags are shared by every command.
type globalFlags struct {
	store    string
	email    string
	password string
	idToken  string
	verbose  bool
	noDemo   bool
}

func main() {
	var gf globalFlags

	var rootCmd = &cobra.Command{
		Use:   "feedctl",
		Short: "feedsync client - live feed, toggles and messages from the terminal",
		Long: `feedctl drives the feedsync client core against a document store.

Stores (STORE_DRIVER or --store):
  - memory: in-process store, seeded with a demo graph on start
  - sql: MySQL or SQLite documents, live updates over Redis
  - firestore: Cloud Firestore with Firebase Auth (sign in with --id-token)

Commands that act for a user sign in with --email/--password first.
With the demo graph every userN@example.com account uses the password "password".`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&gf.store, "store", "", "Store driver: memory, sql or firestore (default from STORE_DRIVER)")
	pf.StringVarP(&gf.email, "email", "e", os.Getenv("FEEDCTL_EMAIL"), "Account email")
	pf.StringVarP(&gf.password, "password", "p", os.Getenv("FEEDCTL_PASSWORD"), "Account password")
	pf.StringVar(&gf.idToken, "id-token", os.Getenv("FEEDCTL_ID_TOKEN"), "Firebase ID token (firestore store)")
	pf.BoolVarP(&gf.verbose, "verbose", "v", false, "Log at the configured LOG_LEVEL instead of warn")
	pf.BoolVar(&gf.noDemo, "no-demo", false, "Do not seed the memory store")

	rootCmd.AddCommand(createSignUpCmd(&gf))
	rootCmd.AddCommand(createSignInCmd(&gf))
	rootCmd.AddCommand(createFeedCmd(&gf))
	for _, kind := range toggleKinds {
		rootCmd.AddCommand(createToggleCmd(&gf, kind))
	}
	rootCmd.AddCommand(createFollowCmd(&gf))
	rootCmd.AddCommand(createMessageCmd(&gf))
	rootCmd.AddCommand(createNotificationsCmd(&gf))
	rootCmd.AddCommand(createServeMetricsCmd(&gf))

	if err := rootCmd.Execute(); err != nil {
		color.Red("❌ %v", err)
		os.Exit(exitCode(err))
	}
}

// exitCode is the gRPC code of the mapped error, so scripts can tell a
// rejected toggle (7) from a missing tweet (5) or a crash.
func exitCode(err error) int {
	code := status.Code(svcErr.Map(err))
	if code == codes.OK {
		return 1
	}
	return int(code)
}
