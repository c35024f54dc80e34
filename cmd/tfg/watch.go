package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/taskforge/internal/monitor"
)

var watchInterval time.Duration

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().DurationVar(&watchInterval, "interval", 2*time.Second, "polling interval")
}

// watchCmd opens the live dashboard
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live dashboard of pipeline runs",
	Long: `Open a terminal dashboard that polls the daemon and renders active
runs with phase progress, grade sparklines and pending escalations.

Keys: q or ctrl+c quits, r forces a refresh.

Examples:
  tfg watch
  tfg watch --interval 5s
  tfg watch --server http://127.0.0.1:9400`,
	RunE: runWatch,
}

// runWatch handles the watch command
func runWatch(cmd *cobra.Command, args []string) error {
	p := tea.NewProgram(monitor.NewModel(serverURL, watchInterval), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		return fmt.Errorf("dashboard failed: %w", err)
	}
	return nil
}
