// Package commands defines the remux command tree.
package commands

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "remux",
	Short: "Machine-readable interactive evaluation sessions",
	Long: `Remux serves stateful evaluation sessions as a stream of tagged JSON
messages that tools can parse without scraping output. Results, printed
text, and errors arrive as self-describing literals; oversized values
are elided behind fetchable placeholders; running evaluations can be
interrupted or backgrounded from any connection.`,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(connectCmd)
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
