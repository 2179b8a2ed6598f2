// Orchestrd is the agent orchestration daemon.
//
// It runs the task pipeline: durable task-execution records in NATS
// JetStream, stage workflows on Temporal, local agent job execution,
// and CI failure remediation.
//
// Usage:
//
//	# Start with defaults (embedded NATS, local Temporal)
//	orchestrd serve
//
//	# Point at a config file
//	orchestrd serve --config /etc/orchestrd/config.yaml
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:     "orchestrd",
	Short:   "Agent orchestration and remediation daemon",
	Long:    `orchestrd reconciles coding-agent task executions through their pipeline stages and remediates CI failures.`,
	Version: version + " (" + gitCommit + ")",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (YAML)")
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
