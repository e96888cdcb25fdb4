// Package cli wires the cobra command tree: config loading, logging
// setup, and the run/status subcommands geofw exposes.
package cli

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configPath string

// Execute builds and runs the root command.
func Execute() error {
	root := newRootCmd()
	return root.Execute()
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "geofw",
		Short:         "geo-/ASN-aware ingress packet filter",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()
			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "./config.json", "path to config.json")

	root.AddCommand(newRunCmd())
	root.AddCommand(newStatusCmd())
	return root
}

// setupLogging reads LOG_LEVEL the way the original program reads
// RUST_LOG, defaulting to info when unset or unrecognized.
func setupLogging() {
	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
}
