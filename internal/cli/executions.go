package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"swap-triggers/internal/app"
)

var executionsLimit int

var executionsCmd = &cobra.Command{
	Use:   "executions",
	Short: "Display recent execution attempts",
	RunE: func(cmd *cobra.Command, args []string) error {
		if executionsLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}
		return getApp().ShowExecutions(cmd.Context(), app.ShowOptions{Limit: executionsLimit})
	},
}

func init() {
	executionsCmd.Flags().IntVar(&executionsLimit, "limit", 20, "Number of executions to display")
}
