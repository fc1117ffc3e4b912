package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/codegraph-mcp/internal/project"
	"github.com/dshills/codegraph-mcp/internal/scheduler"
	"github.com/dshills/codegraph-mcp/pkg/types"
)

// compileCommand is one entry of a compile_commands.json database.
type compileCommand struct {
	Directory string   `json:"directory"`
	Command   string   `json:"command"`
	Arguments []string `json:"arguments"`
	File      string   `json:"file"`
}

var indexCmd = &cobra.Command{
	Use:   "index [compile_commands.json]",
	Short: "Submit every compile invocation from a compilation database",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath := "compile_commands.json"
		if len(args) == 1 {
			dbPath = args[0]
		}

		env, err := setup()
		if err != nil {
			return err
		}
		defer env.close()

		commands, err := readCompileCommands(dbPath)
		if err != nil {
			return err
		}

		submitted := 0
		for _, cc := range commands {
			file := cc.File
			if !filepath.IsAbs(file) {
				file = filepath.Join(cc.Directory, file)
			}
			fileID, err := env.reg.Insert(file)
			if err != nil {
				return err
			}
			buildRootID, err := env.reg.Insert(cc.Directory)
			if err != nil {
				return err
			}

			arguments := cc.Arguments
			if len(arguments) == 0 {
				arguments = strings.Fields(cc.Command)
			}
			source := types.Source{
				FileID:      fileID,
				BuildRootID: uint32(buildRootID),
				Arguments:   arguments,
			}
			job := scheduler.NewJob(source, file, types.JobCompile)
			if err := env.project.Index(job); err != nil {
				return err
			}
			submitted++
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Submitted %d compile invocations\n", submitted)

		// Wait for the batch to drain and fold it in.
		for env.project.IsIndexing() {
			time.Sleep(50 * time.Millisecond)
		}
		env.project.StartSync(project.SyncSynchronous)
		return nil
	},
}

func readCompileCommands(path string) ([]compileCommand, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read compilation database: %w", err)
	}
	var commands []compileCommand
	if err := json.Unmarshal(data, &commands); err != nil {
		return nil, fmt.Errorf("malformed compilation database: %w", err)
	}
	return commands, nil
}

func init() {
	rootCmd.AddCommand(indexCmd)
}
