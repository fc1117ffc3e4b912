// Package cmd implements the codegraph CLI.
package cmd

import (
	"github.com/spf13/cobra"
)

var (
	configPath  string
	projectRoot string
)

var rootCmd = &cobra.Command{
	Use:   "codegraph",
	Short: "Persistent cross-referenced symbol index with an MCP surface",
	Long: `codegraph maintains an on-disk symbol graph for a codebase: compile
invocations are indexed by an external front-end, results are folded into
ordered tables, and the graph stays consistent as files change. Queries are
served over the Model Context Protocol on stdio.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "",
		"path to .codegraph.yaml (default: project root)")
	rootCmd.PersistentFlags().StringVarP(&projectRoot, "project", "p", ".",
		"project root directory")
}
