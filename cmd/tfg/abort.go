package main

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/taskforge/internal/http"
)

func init() {
	rootCmd.AddCommand(abortCmd)
}

// abortCmd aborts an active pipeline run
var abortCmd = &cobra.Command{
	Use:   "abort <run-id>",
	Short: "Abort an active pipeline run",
	Long: `Abort an active run. The daemon cancels the run's context; in-flight
phase work stops at the next cancellation point and the run ends as
aborted. Finished runs cannot be aborted.

Examples:
  tfg abort 3f2c91aa-8e01-4b7c-9c44-1d2f0e3a5b6c`,
	Args: cobra.ExactArgs(1),
	RunE: runAbort,
}

// runAbort handles the abort command
func runAbort(cmd *cobra.Command, args []string) error {
	var resp httpapi.AbortResponse
	if err := callAPI(http.MethodPost, "/api/v1/runs/"+args[0]+"/abort", nil, &resp); err != nil {
		return err
	}

	fmt.Printf("Abort requested for run %s\n", resp.RunID)
	return nil
}
