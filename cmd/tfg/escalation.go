package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/taskforge/internal/escalation"
	httpapi "github.com/fyrsmithlabs/taskforge/internal/http"
)

var (
	escAction  string
	escComment string
	escJSON    bool
)

func init() {
	rootCmd.AddCommand(escalationCmd)
	escalationCmd.AddCommand(escalationListCmd)
	escalationCmd.AddCommand(escalationShowCmd)
	escalationCmd.AddCommand(escalationResolveCmd)

	escalationShowCmd.Flags().BoolVar(&escJSON, "json", false, "output as JSON")
	escalationResolveCmd.Flags().StringVar(&escAction, "action", "", "resolution action: rollback, keep or escalate")
	escalationResolveCmd.Flags().StringVar(&escComment, "comment", "", "comment recorded with the decision")
	_ = escalationResolveCmd.MarkFlagRequired("action")
}

// escalationCmd is the parent command for escalation operations
var escalationCmd = &cobra.Command{
	Use:   "escalation",
	Short: "Inspect and resolve escalated runs",
	Long: `Inspect runs that exhausted their retry budget and answer their
escalation reports. Rollback restores the run's checkpoint, keep
accepts the failing output as-is, escalate hands the task to a human
owner.

Examples:
  # Which runs are waiting on a decision?
  tfg escalation list

  # Read the report
  tfg escalation show 3f2c91aa-8e01-4b7c-9c44-1d2f0e3a5b6c

  # Answer it
  tfg escalation resolve 3f2c91aa-8e01-4b7c-9c44-1d2f0e3a5b6c --action rollback --comment "retry from planning"`,
}

// escalationListCmd lists runs awaiting a decision
var escalationListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runs awaiting a decision",
	RunE:  runEscalationList,
}

// escalationShowCmd shows one run's escalation report
var escalationShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a run's escalation report",
	Args:  cobra.ExactArgs(1),
	RunE:  runEscalationShow,
}

// escalationResolveCmd applies a decision to a pending escalation
var escalationResolveCmd = &cobra.Command{
	Use:   "resolve <run-id>",
	Short: "Resolve a pending escalation",
	Args:  cobra.ExactArgs(1),
	RunE:  runEscalationResolve,
}

// runEscalationList handles the escalation list command
func runEscalationList(cmd *cobra.Command, args []string) error {
	var resp httpapi.EscalationsResponse
	if err := callAPI(http.MethodGet, "/api/v1/escalations", nil, &resp); err != nil {
		return err
	}

	if resp.Count == 0 {
		fmt.Println("No pending escalations")
		return nil
	}

	fmt.Printf("%d pending escalation(s):\n", resp.Count)
	for _, id := range resp.Pending {
		fmt.Printf("  %s\n", id)
	}
	return nil
}

// runEscalationShow handles the escalation show command
func runEscalationShow(cmd *cobra.Command, args []string) error {
	var rep escalation.Report
	if err := callAPI(http.MethodGet, "/api/v1/runs/"+args[0]+"/escalation", nil, &rep); err != nil {
		return err
	}

	if escJSON {
		return outputJSON(rep)
	}
	printReport(os.Stdout, &rep)
	return nil
}

// runEscalationResolve handles the escalation resolve command
func runEscalationResolve(cmd *cobra.Command, args []string) error {
	if !escalation.Action(escAction).Valid() {
		return exitWithf(exitUsage, "unknown action %q: use rollback, keep or escalate", escAction)
	}

	req := httpapi.ResolveEscalationRequest{Action: escAction, Comment: escComment}
	var resp httpapi.ResolveEscalationResponse
	if err := callAPI(http.MethodPost, "/api/v1/runs/"+args[0]+"/escalation", req, &resp); err != nil {
		return err
	}

	fmt.Printf("Escalation for run %s resolved: %s\n", resp.RunID, resp.Action)
	return nil
}

// printReport renders an escalation report for the terminal.
func printReport(w io.Writer, rep *escalation.Report) {
	fmt.Fprintf(w, "Run:           %s\n", rep.RunID)
	fmt.Fprintf(w, "Task:          %s\n", rep.Task)
	fmt.Fprintf(w, "Mode:          %s\n", rep.Mode)
	fmt.Fprintf(w, "Failing phase: %s\n", rep.FailingPhase)
	if rep.Reason != "" {
		fmt.Fprintf(w, "Reason:        %s\n", rep.Reason)
	}
	if rep.Checkpoint != "" {
		fmt.Fprintf(w, "Checkpoint:    %s\n", rep.Checkpoint)
	}
	if rep.IssueURL != "" {
		fmt.Fprintf(w, "Issue:         %s\n", rep.IssueURL)
	}

	if len(rep.RetryHistory) > 0 {
		fmt.Fprintln(w)
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "PHASE\tSTATUS\tRETRIES\tGRADES")
		for _, ps := range rep.RetryHistory {
			fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", ps.Phase, ps.Status, ps.RetryCount, gradeList(ps.Grades))
		}
		tw.Flush()
	}

	if rep.RootCause != "" {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Hypothesis: %s\n", rep.RootCause)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "Options:")
	for _, opt := range rep.Options {
		fmt.Fprintf(w, "  %-9s %s\n", opt.Action, opt.Description)
	}
}

// gradeList renders a grade history as a comma-separated list.
func gradeList(grades []int) string {
	if len(grades) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(grades))
	for _, g := range grades {
		parts = append(parts, strconv.Itoa(g))
	}
	return strings.Join(parts, ", ")
}
