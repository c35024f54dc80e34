package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	httpapi "github.com/fyrsmithlabs/taskforge/internal/http"
	"github.com/fyrsmithlabs/taskforge/internal/monitor"
	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

// statusCmd shows daemon status or the state of one run
var statusCmd = &cobra.Command{
	Use:   "status [run-id]",
	Short: "Show daemon status or the state of one run",
	Long: `Without arguments, show daemon counters and the run list. With a run
ID, show that run's phase-by-phase state.

Examples:
  # Daemon overview
  tfg status

  # One run in detail
  tfg status 3f2c91aa-8e01-4b7c-9c44-1d2f0e3a5b6c

  # Raw JSON for scripts
  tfg status 3f2c91aa-8e01-4b7c-9c44-1d2f0e3a5b6c --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

// runStatus handles the status command
func runStatus(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		return showRun(args[0])
	}
	return showDaemon()
}

// showRun fetches and renders one run.
func showRun(runID string) error {
	var run pipeline.PipelineRun
	if err := callAPI(http.MethodGet, "/api/v1/runs/"+runID, nil, &run); err != nil {
		return err
	}

	if statusJSON {
		return outputJSON(run)
	}
	printRunDetail(os.Stdout, &run)
	return nil
}

// showDaemon fetches and renders the daemon overview.
func showDaemon() error {
	var status httpapi.StatusResponse
	if err := callAPI(http.MethodGet, "/api/v1/status", nil, &status); err != nil {
		return err
	}

	var runs httpapi.ListRunsResponse
	if err := callAPI(http.MethodGet, "/api/v1/runs", nil, &runs); err != nil {
		return err
	}

	if statusJSON {
		return outputJSON(struct {
			Status httpapi.StatusResponse `json:"status"`
			Runs   []httpapi.RunSummary   `json:"runs"`
		}{status, runs.Runs})
	}

	fmt.Printf("Server:      %s\n", serverURL)
	fmt.Printf("Status:      %s", status.Status)
	if status.Version != "" {
		fmt.Printf(" (version %s)", status.Version)
	}
	fmt.Println()
	total := fmt.Sprintf("%d", status.Counts.TotalRuns)
	if status.Counts.TotalRuns < 0 {
		total = "?"
	}
	fmt.Printf("Runs:        %d active, %s total\n", status.Counts.ActiveRuns, total)
	fmt.Printf("Escalations: %d pending\n", status.Counts.PendingEscalations)

	if len(runs.Runs) > 0 {
		fmt.Println()
		printRunTable(os.Stdout, runs.Runs)
	}
	return nil
}

// printRunTable renders run summaries as an aligned table.
func printRunTable(w io.Writer, runs []httpapi.RunSummary) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tDESCRIPTION\tMODE\tSTATUS\tPHASE\tPROGRESS\tAGE")
	for _, r := range runs {
		phase := r.CurrentPhase
		if phase == "" {
			phase = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%d/%d\t%s\n",
			truncate(r.ID, 8),
			truncate(r.Description, 40),
			r.Mode,
			r.Status,
			phase,
			r.PhasesDone, r.PhasesTotal,
			monitor.FormatAge(r.StartedAt, time.Now()),
		)
	}
	tw.Flush()
}

// printRunDetail renders one run with its phase table.
func printRunDetail(w io.Writer, run *pipeline.PipelineRun) {
	fmt.Fprintf(w, "Run:    %s\n", run.ID)
	fmt.Fprintf(w, "Task:   %s\n", run.Task.Description)
	fmt.Fprintf(w, "Mode:   %s (score %d)\n", run.Task.Mode, run.Task.Score)
	fmt.Fprintf(w, "Status: %s\n", run.Status)
	if !run.EndedAt.IsZero() {
		fmt.Fprintf(w, "Took:   %s\n", run.EndedAt.Sub(run.StartedAt).Round(time.Second))
	}
	fmt.Fprintln(w)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PHASE\tSTATUS\tGRADE\tRETRIES")
	for _, p := range run.Phases {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n",
			p.Name, p.Status, monitor.FormatGrade(p.Grade), p.RetryCount)
	}
	tw.Flush()

	if len(run.Errors) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Errors:")
		for _, e := range run.Errors {
			fmt.Fprintf(w, "  - %s\n", e)
		}
	}
}
