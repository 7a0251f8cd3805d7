// Package cmd provides the command-line interface for wtiming.
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "wtiming",
	Short: "wtiming replays fetch scenarios through intercepting workers.",
	Long: `wtiming replays fetch scenarios through intercepting workers and ` +
		`reports the worker timing that each resource timing entry exposes. ` +
		`It can record the sessions to a SQLite database and serve a monitor.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().String("config", "",
		"Configuration file. WTIMING_ environment variables override it.")
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}
