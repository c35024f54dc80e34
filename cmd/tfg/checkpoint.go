package main

import (
	"fmt"
	"net/http"
	"net/url"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/taskforge/internal/checkpoint"
	httpapi "github.com/fyrsmithlabs/taskforge/internal/http"
)

var (
	cpPhase      string
	cpOutputJSON bool
)

func init() {
	rootCmd.AddCommand(checkpointCmd)
	checkpointCmd.AddCommand(checkpointListCmd)
	checkpointCmd.AddCommand(checkpointCreateCmd)
	checkpointCmd.AddCommand(checkpointRestoreCmd)
	checkpointCmd.AddCommand(checkpointDiscardCmd)

	checkpointCreateCmd.Flags().StringVar(&cpPhase, "phase", "", "phase to resume from (defaults to the run's current phase)")
	checkpointCreateCmd.Flags().BoolVar(&cpOutputJSON, "json", false, "output as JSON")
	checkpointListCmd.Flags().BoolVar(&cpOutputJSON, "json", false, "output as JSON")
}

// checkpointCmd is the parent command for checkpoint operations
var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Manage run checkpoints",
	Long: `Manage checkpoints of a pipeline run. A checkpoint marks a phase to
resume from and, when workspace snapshots are enabled on the daemon,
stashes the working tree.

Examples:
  # List checkpoints of a run
  tfg checkpoint list 3f2c91aa-8e01-4b7c-9c44-1d2f0e3a5b6c

  # Save a manual checkpoint before risky work
  tfg checkpoint create 3f2c91aa-8e01-4b7c-9c44-1d2f0e3a5b6c before-refactor

  # Resolve the phase a rollback would resume from
  tfg checkpoint restore 3f2c91aa-8e01-4b7c-9c44-1d2f0e3a5b6c before-refactor

  # Release a checkpoint and free its name
  tfg checkpoint discard 3f2c91aa-8e01-4b7c-9c44-1d2f0e3a5b6c before-refactor`,
}

// checkpointListCmd lists a run's checkpoints
var checkpointListCmd = &cobra.Command{
	Use:   "list <run-id>",
	Short: "List a run's checkpoints",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheckpointList,
}

// checkpointCreateCmd creates a named checkpoint
var checkpointCreateCmd = &cobra.Command{
	Use:   "create <run-id> <name>",
	Short: "Create a named checkpoint for a run",
	Args:  cobra.ExactArgs(2),
	RunE:  runCheckpointCreate,
}

// checkpointRestoreCmd resolves a checkpoint into a resume target
var checkpointRestoreCmd = &cobra.Command{
	Use:   "restore <run-id> <name>",
	Short: "Resolve the phase a checkpoint resumes from",
	Args:  cobra.ExactArgs(2),
	RunE:  runCheckpointRestore,
}

// checkpointDiscardCmd releases a checkpoint
var checkpointDiscardCmd = &cobra.Command{
	Use:   "discard <run-id> <name>",
	Short: "Discard a checkpoint and free its name",
	Args:  cobra.ExactArgs(2),
	RunE:  runCheckpointDiscard,
}

// runCheckpointList handles the checkpoint list command
func runCheckpointList(cmd *cobra.Command, args []string) error {
	var resp httpapi.CheckpointsResponse
	if err := callAPI(http.MethodGet, "/api/v1/runs/"+args[0]+"/checkpoints", nil, &resp); err != nil {
		return err
	}

	if cpOutputJSON {
		return outputJSON(resp)
	}

	if resp.Count == 0 {
		fmt.Println("No checkpoints found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tPHASE\tCREATED\tAUTO\tSTATE")
	for _, cp := range resp.Checkpoints {
		autoStr := ""
		if cp.AutoCreated {
			autoStr = "yes"
		}
		state := "active"
		if cp.Discarded {
			state = "discarded"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			truncate(cp.ID, 12),
			truncate(cp.Name, 40),
			cp.PhaseName,
			cp.CreatedAt.Format("2006-01-02 15:04"),
			autoStr,
			state,
		)
	}
	w.Flush()

	return nil
}

// runCheckpointCreate handles the checkpoint create command
func runCheckpointCreate(cmd *cobra.Command, args []string) error {
	req := httpapi.CreateCheckpointRequest{Name: args[1], Phase: cpPhase}

	var cp checkpoint.Checkpoint
	if err := callAPI(http.MethodPost, "/api/v1/runs/"+args[0]+"/checkpoints", req, &cp); err != nil {
		return err
	}

	if cpOutputJSON {
		return outputJSON(cp)
	}

	fmt.Printf("Checkpoint created\n")
	fmt.Printf("ID: %s\n", cp.ID)
	fmt.Printf("Name: %s\n", cp.Name)
	fmt.Printf("Phase: %s\n", cp.PhaseName)
	fmt.Printf("Created: %s\n", cp.CreatedAt.Format("2006-01-02 15:04:05"))
	if !cp.Stashed {
		fmt.Println("Note: no workspace snapshot was taken; restore will not touch files")
	}
	return nil
}

// runCheckpointRestore handles the checkpoint restore command
func runCheckpointRestore(cmd *cobra.Command, args []string) error {
	path := "/api/v1/runs/" + args[0] + "/checkpoints/" + url.PathEscape(args[1]) + "/restore"

	var resp httpapi.RestoreCheckpointResponse
	if err := callAPI(http.MethodPost, path, nil, &resp); err != nil {
		return err
	}

	fmt.Printf("Checkpoint: %s\n", resp.Checkpoint.Name)
	fmt.Printf("Created: %s\n", resp.Checkpoint.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("Resume phase: %s\n", resp.ResumePhase)
	return nil
}

// runCheckpointDiscard handles the checkpoint discard command
func runCheckpointDiscard(cmd *cobra.Command, args []string) error {
	path := "/api/v1/runs/" + args[0] + "/checkpoints/" + url.PathEscape(args[1])

	var resp httpapi.DiscardCheckpointResponse
	if err := callAPI(http.MethodDelete, path, nil, &resp); err != nil {
		return err
	}

	fmt.Printf("Checkpoint %s discarded\n", args[1])
	return nil
}
