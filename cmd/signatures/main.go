package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "signatures",
		Short:         "Signature challenge routing and resilient dispatch engine",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("SIGNATURES_CONFIG"), "engine configuration file (YAML)")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: trace, debug, info, warn, error")
	cmd.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newMigrateCmd(opts))
	cmd.AddCommand(newProvidersCmd(opts))
	cmd.AddCommand(newRulesCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	return cmd
}
