package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version is stamped by the release build.
var Version = "0.1.0"

var baseDir string

var rootCmd = &cobra.Command{
	Use:   "taskherd",
	Short: "Multi-agent GitHub issue coordination engine",
	Long: `taskherd coordinates multiple coding agents working one GitHub backlog:
deterministic issue selection, per-issue claims with stale-lock recovery,
a gated workflow state machine, and batch implementation orchestration.

State lives under the base directory (default ~/.taskherd, override with
TASKHERD_DIR or --dir).`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the taskherd version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("taskherd %s\n", Version)
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&baseDir, "dir", "", "base state directory (default $TASKHERD_DIR or ~/.taskherd)")
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
