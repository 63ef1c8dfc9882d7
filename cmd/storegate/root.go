package main

import (
	"os"

	"github.com/spf13/cobra"
)

// configPath is the --config flag shared by every subcommand.
var configPath string

// rootCmd is the base command when storegate is called without subcommands.
var rootCmd = &cobra.Command{
	Use:   "storegate",
	Short: "Session gateway for embedded Shopify apps",
	Long: `storegate runs the OAuth install flow for an embedded Shopify app,
keeps one active credential per shop, deactivates it on uninstall
webhooks and gates the app frontend and its API proxy behind it.`,
	SilenceUsage: true,
}

// SetVersion sets the version reported by --version and the version command.
func SetVersion(v string) {
	rootCmd.Version = v
}

// Execute runs the root command and exits non-zero on error.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "storegate version %s\n" .Version}}`)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to the configuration file (default ./storegate.yaml when present)")

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newKeygenCmd())
	rootCmd.AddCommand(newVersionCmd())
}
