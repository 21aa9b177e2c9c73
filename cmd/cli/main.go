package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// options are the persistent flags shared by every command.
type options struct {
	baseURL string
	actor   string
	output  string
	timeout time.Duration
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           "tripledger-cli",
		Short:         "Tripledger CLI tool",
		Long:          `A command line interface for interacting with the tripledger API.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.baseURL, "url", envOr("TRIPLEDGER_URL", "http://localhost:8080"), "Base URL of the tripledger API")
	rootCmd.PersistentFlags().StringVar(&opts.actor, "actor", os.Getenv("TRIPLEDGER_ACTOR"), "Actor recorded as performed_by")
	rootCmd.PersistentFlags().StringVarP(&opts.output, "output", "o", "table", "Output format: table or json")
	rootCmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "Request timeout")

	rootCmd.AddCommand(
		recordCmd(opts),
		getCmd(opts),
		completeCmd(opts),
		failCmd(opts),
		reverseCmd(opts),
		transitionsCmd(opts),
		eventsCmd(opts),
		historyCmd(opts),
		rangeCmd(opts),
		summaryCmd(opts),
		ledgerCmd(opts),
	)

	return rootCmd
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
