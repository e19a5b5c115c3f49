// Package cmd defines the decilog command-line interface.
package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "decilog",
	Short: "decilog - ask questions about the decision log",
	Long: `decilog answers questions about a Notion-hosted decision log.

Run "decilog ingest" once to fetch the log and build the local vector index,
then run "decilog" (or "decilog chat") to ask questions interactively. Answers
are grounded in the indexed log and cite the source page.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// No subcommand starts an interactive chat.
		return runChat(cmd, args)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
