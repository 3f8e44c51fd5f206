// Agentloop runs an autonomous plan, act and reflect loop against a set of
// tools until the task is complete, the agent needs clarification, or a
// budget runs out.
//
// Usage:
//
//	# Run a task with the builtin filesystem tools
//	agentloop run --type filesystem "List the files in /tmp"
//
//	# Answer a clarification and continue
//	agentloop resume --checkpoint 3f2a... --clarify "only the top level"
//
//	# Inspect stored state
//	agentloop checkpoint list
//	agentloop episodes search --type filesystem "list files"
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version = "dev"
)

var (
	// configPath is the optional YAML config file
	configPath string
	// metricsAddr serves /metrics while a command runs
	metricsAddr string
	// outputJSON prints machine readable results
	outputJSON bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "agentloop",
	Short: "Autonomous agent loop with memory and self-reflection",
	Long: `agentloop plans one tool call at a time, executes it, reflects on the
result, and stops when the task is done or a budget is spent. Runs are
checkpointed so they can be resumed after a pause or a crash.

Configuration comes from --config (YAML) and AGENTLOOP_* environment
variables.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides metrics.addr)")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results as JSON")
}
