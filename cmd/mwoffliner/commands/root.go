// Package commands implements the mwoffliner CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile string
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "mwoffliner",
	Short: "MWOffliner - offline MediaWiki archiver",
	Long: `MWOffliner mirrors a MediaWiki-family wiki (Wikipedia, Wiktionary,
Wikivoyage, ...) into a self-contained offline archive. It crawls the
wiki's content namespaces or an explicit title list, rewrites every
article for offline reading, downloads and optimizes the referenced
media, and packs the result with zimwriterfs.

Use "mwoffliner [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI. Called once by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(runCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
