package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/tbourn/go-draftsync/internal/client"
	"github.com/tbourn/go-draftsync/internal/sysutil"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "respondent",
	Short: "Fill in questionnaires against a draft sync server",
	Long: `respondent is a terminal client for the draft sync API.

Answers are autosaved a few seconds after the last edit and promoted to a
final submission on :submit.

Examples:
  respondent fill --questionnaire onboarding-2024
  respondent fill --questionnaire team-retro --collaborative
  respondent list --questionnaire onboarding-2024 --page 2`,
	Version: version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		lvl := "warn"
		if verbose {
			lvl = "debug"
		}
		sysutil.SetupLogger(lvl, true, os.Stderr)
	},
}

var (
	serverURL    string
	sessionsPath string
	verbose      bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		sysutil.FirstNonEmpty(os.Getenv("DRAFTSYNC_SERVER"), "http://localhost:8080"), "Server base URL")
	rootCmd.PersistentFlags().StringVar(&sessionsPath, "sessions", "", "Session file (default: user config dir)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log API calls")

	rootCmd.AddCommand(fillCmd)
	rootCmd.AddCommand(listCmd)
}

func newClient() *client.Client {
	return client.New(client.Config{BaseURL: serverURL})
}

func sessionStore() (*client.SessionStore, error) {
	path := sessionsPath
	if path == "" {
		p, err := client.DefaultSessionPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	return client.NewSessionStore(path), nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
