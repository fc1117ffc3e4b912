package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the project's index state",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := setup()
		if err != nil {
			return err
		}
		defer env.close()

		fmt.Fprintln(cmd.OutOrStdout(), env.project.Status())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
