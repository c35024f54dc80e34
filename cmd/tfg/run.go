package main

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/taskforge/internal/classifier"
	httpapi "github.com/fyrsmithlabs/taskforge/internal/http"
	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

var (
	runScope      string
	runKnowledge  string
	runRisk       string
	runDependency string
	runExact      bool
	runWait       bool
	runJSON       bool
)

// runPollInterval is how often --wait polls the daemon for run state.
var runPollInterval = 2 * time.Second

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVar(&runScope, "scope", "", "scope indicator: single_file, few_files or many_files")
	runCmd.Flags().StringVar(&runKnowledge, "knowledge", "", "knowledge indicator: exact, approximate or discovery")
	runCmd.Flags().StringVar(&runRisk, "risk", "", "risk indicator: none, moderate or high")
	runCmd.Flags().StringVar(&runDependency, "dependency", "", "dependency indicator: established, variation or novel")
	runCmd.Flags().BoolVar(&runExact, "exact", false, "the description contains exact instructions")
	runCmd.Flags().BoolVar(&runWait, "wait", false, "block until the run finishes and exit with its outcome")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "output as JSON")
}

// runCmd submits a task and starts a pipeline run
var runCmd = &cobra.Command{
	Use:   "run <description>",
	Short: "Submit a task and start a pipeline run",
	Long: `Submit a task to taskforged. The classifier scores the given indicators,
picks the pipeline mode and the daemon starts executing phases.

Unset indicators score zero, so a bare description lands in the
fast-track pipeline. With --wait, tfg polls the run until it finishes
and exits 0 when it passed, 1 when it failed, 2 when it escalated.

Examples:
  # Fire and forget
  tfg run "add retry flag to the uploader" --scope few_files --risk moderate

  # Exact instructions, instant mode
  tfg run "bump CI Go version to 1.24" --exact

  # Block until the run finishes
  tfg run "migrate user table" --scope many_files --knowledge discovery --risk high --wait`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

// runRun handles the run command
func runRun(cmd *cobra.Command, args []string) error {
	// Validate indicators locally so a typo fails fast instead of
	// silently scoring zero.
	if _, err := classifier.ParseIndicators(runScope, runKnowledge, runRisk, runDependency, runExact); err != nil {
		return exitWithf(exitUsage, "%s", err.Error())
	}

	req := httpapi.SubmitRunRequest{
		Description:       strings.Join(args, " "),
		Scope:             runScope,
		Knowledge:         runKnowledge,
		Risk:              runRisk,
		Dependency:        runDependency,
		ExactInstructions: runExact,
	}

	var run pipeline.PipelineRun
	if err := callAPI(http.MethodPost, "/api/v1/runs", req, &run); err != nil {
		return err
	}

	if runJSON && !runWait {
		return outputJSON(run)
	}

	if !runJSON {
		fmt.Printf("Run %s submitted\n", run.ID)
		fmt.Printf("  Mode:   %s (score %d)\n", run.Task.Mode, run.Task.Score)
		fmt.Printf("  Phases: %s\n", phaseList(run.Phases))
	}

	if !runWait {
		return nil
	}

	final, err := waitForRun(run.ID)
	if err != nil {
		return err
	}

	if runJSON {
		if err := outputJSON(final); err != nil {
			return err
		}
	} else {
		fmt.Println()
		printRunDetail(os.Stdout, final)
	}

	return runOutcome(final)
}

// waitForRun polls the daemon until the run reaches a terminal status.
func waitForRun(runID string) (*pipeline.PipelineRun, error) {
	for {
		time.Sleep(runPollInterval)

		var run pipeline.PipelineRun
		if err := callAPI(http.MethodGet, "/api/v1/runs/"+runID, nil, &run); err != nil {
			return nil, err
		}
		if run.Terminal() {
			return &run, nil
		}
	}
}

// runOutcome maps a terminal run status to the process exit code.
func runOutcome(run *pipeline.PipelineRun) error {
	switch run.Status {
	case pipeline.RunPassed:
		return nil
	case pipeline.RunEscalated:
		return exitWithf(exitEscalated,
			"run %s escalated; resolve with: tfg escalation resolve %s --action <rollback|keep|escalate>",
			run.ID, run.ID)
	default:
		reason := ""
		if len(run.Errors) > 0 {
			reason = ": " + run.Errors[len(run.Errors)-1]
		}
		return exitWithf(exitFailure, "run %s %s%s", run.ID, run.Status, reason)
	}
}

// phaseList renders phase names as a comma-separated list.
func phaseList(phases []*pipeline.Phase) string {
	names := make([]string, 0, len(phases))
	for _, p := range phases {
		names = append(names, string(p.Name))
	}
	return strings.Join(names, ", ")
}
