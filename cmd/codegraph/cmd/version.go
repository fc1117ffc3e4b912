package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/codegraph-mcp/internal/mcp"
	"github.com/dshills/codegraph-mcp/internal/registry"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "codegraph %s (server %s)\n", version, mcp.ServerVersion)
		fmt.Fprintf(out, "Build Time: %s\n", buildTime)
		fmt.Fprintf(out, "Build Mode: %s\n", registry.BuildMode)
		fmt.Fprintf(out, "SQLite Driver: %s\n", registry.DriverName)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
