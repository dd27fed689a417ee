package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set at build time)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

var cfgFile string

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ml-workbench",
		Short: "Multi-user tabular machine learning workbench",
		Long: `ml-workbench stores uploaded CSV dataframes, records preprocessing
pipelines over them, and trains, composes and applies models as
background jobs behind an authenticated HTTP API.`,
		Version:       fmt.Sprintf("%s (commit %s, built %s)", Version, GitCommit, BuildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml)")

	root.AddCommand(newServeCmd(), newMigrateCmd(), newVersionCmd())
	return root
}
