package main

import (
	"os"

	"github.com/spf13/cobra"

	"example.com/minihttpd/internal/config"
)

var version = "1.0"

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Version: version,
		Use:     "minihttpd",
		Short:   "Minimal static file server with an admin status page",
		Long: `minihttpd serves files from a document root over HTTP/1.1 and exposes
a Basic-Auth protected statistics page on a second port.`,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		RunE:         runServe,
	}
	rootCmd.PersistentFlags().String("config", "config.json", "configuration file path (JSON or TOML)")
	config.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(newCheckCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
