// Package main provides the CLI entry point for swarmctl.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/blackms/swarm-core/cmd/swarmctl/commands"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "swarmctl",
	Short: "swarmctl - Queen-led worker swarm",
	Long: `swarmctl drives a swarm coordinator: a Queen analyzes each task, decides
whether to proceed, reject or defer it, and runs one worker per role as a
single wave.

It provides:
  - run: process one task and print its outcome
  - serve: expose metrics, agents and the live event stream
  - watch: print events forwarded over NATS
  - config: write a configuration file`,
	Version:       commands.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&commands.ConfigPath, "config", "c", "", "Config file (default ./swarm.yaml if present)")

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.ServeCmd)
	rootCmd.AddCommand(commands.WatchCmd)
	rootCmd.AddCommand(commands.ConfigCmd)
}
