// Command payoutctl runs payout operations against the engine database.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "payoutctl",
		Short:         "Operate creator payouts",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(enqueueCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(reportsCmd())
	rootCmd.AddCommand(signWebhookCmd())

	return rootCmd
}
