package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "wainbox",
	Short: "Webhook ingestion engine for business messaging inboxes",
	Long: `wainbox receives gateway webhooks, threads them into per-tenant
conversations, stores attachments and hands inbound text to the
automation engine.

Without a subcommand it runs the server.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
