package main

import (
	"github.com/spf13/cobra"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:   "queueworker",
		Short: "Queue-driven billing and mail workers",
		Long: `queueworker pulls messages from a Pub/Sub subscription and runs them through a
worker pipeline. The billing worker deduplicates through Redis (or Firestore) and
publishes notifications; the mail worker sends one mail per message; import
publishes the lines of a file as queue messages.`,
		SilenceUsage: true,
	}
	rootCmd.CompletionOptions.DisableDefaultCmd = true
	rootCmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML config file (environment variables override it)")

	rootCmd.AddCommand(newBillingCmd(opts), newMailCmd(opts), newImportCmd(opts))
	return rootCmd
}
