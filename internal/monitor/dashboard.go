package monitor

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/NimbleMarkets/ntcharts/sparkline"
	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	httpapi "github.com/fyrsmithlabs/taskforge/internal/http"
	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

const (
	sparklineWidth  = 30
	sparklineHeight = 3
	historySize     = 30
	maxRunRows      = 8
	maxPendingRows  = 5
)

// Model represents the BubbleTea dashboard model
type Model struct {
	apiURL     string
	interval   time.Duration
	lastUpdate time.Time
	snap       Snapshot
	err        error
	quitting   bool

	// Progress bar for run slot load
	loadProgress progress.Model
}

// Snapshot holds the current view of the daemon
type Snapshot struct {
	Status  httpapi.StatusResponse
	Runs    []httpapi.RunSummary
	Pending []string

	// Historical data for sparklines (last N points)
	ActiveHistory  []float64
	PendingHistory []float64

	// Peak value for the load progress bar
	ActivePeak float64
}

// Lipgloss styles (k9s-inspired color scheme)
var (
	// Header style - bright cyan background, bold black text
	headerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("0")).
			Background(lipgloss.Color("51")).
			Bold(true).
			Padding(0, 1)

	// Section title style - bold bright cyan
	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true).
			MarginTop(1)

	// Label style - dim cyan
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	// Value style - bright white
	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("231")).
			Bold(true)

	// Dim style - for units and secondary info
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245"))

	// Status styles with unicode symbols
	healthyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("46")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("226")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("45"))

	// Container style - rounded border with dim gray
	containerStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("238")).
			Padding(1, 2)

	// Footer style - bright keys on dim background
	footerStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")).
			MarginTop(1)

	footerKeyStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51")).
			Bold(true)

	// Sparkline container
	sparklineStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("51"))
)

// NewModel creates a new dashboard model
func NewModel(apiURL string, interval time.Duration) Model {
	loadProg := progress.New(
		progress.WithGradient("#00ffff", "#ff00ff"),
		progress.WithWidth(40),
	)

	return Model{
		apiURL:       apiURL,
		interval:     interval,
		quitting:     false,
		loadProgress: loadProg,
		snap: Snapshot{
			ActiveHistory:  make([]float64, 0, historySize),
			PendingHistory: make([]float64, 0, historySize),
			// Minimum peak to avoid division by zero
			ActivePeak: 1.0,
		},
	}
}

// statusBadge returns the overall daemon status badge: error when
// unreachable, attention while escalations wait, healthy otherwise.
func statusBadge(snap Snapshot) string {
	if len(snap.Pending) > 0 {
		return warningStyle.Render("⚠ ATTENTION")
	}
	return healthyStyle.Render("✓ HEALTHY")
}

// runBadge returns a colored symbol for a run status.
func runBadge(status string) string {
	switch pipeline.RunStatus(status) {
	case pipeline.RunPassed:
		return healthyStyle.Render("✓")
	case pipeline.RunRunning:
		return runningStyle.Render("●")
	case pipeline.RunEscalated:
		return warningStyle.Render("⚠")
	default:
		return errorStyle.Render("✗")
	}
}

// appendToHistory appends a value to history, maintaining max size
func appendToHistory(history []float64, value float64) []float64 {
	history = append(history, value)
	if len(history) > historySize {
		history = history[1:]
	}
	return history
}

// createSparkline creates a sparkline chart from historical data
func createSparkline(data []float64) string {
	if len(data) == 0 {
		return dimStyle.Render(fmt.Sprintf("%*s", sparklineWidth, "no data"))
	}

	spark := sparkline.New(sparklineWidth, sparklineHeight)
	for _, v := range data {
		spark.Push(v)
	}

	return sparklineStyle.Render(spark.View())
}

// Message types
type tickMsg time.Time
type snapshotMsg Snapshot
type errMsg error

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		tick(m.interval),
		fetchSnapshot(m.apiURL),
	)
}

// tick creates a tick command for auto-refresh
func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// fetchSnapshot polls the daemon API for the current state
func fetchSnapshot(apiURL string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		client := NewClient(apiURL)

		status, err := client.Status(ctx)
		if err != nil {
			return errMsg(err)
		}

		runs, err := client.Runs(ctx)
		if err != nil {
			return errMsg(err)
		}

		pending, err := client.Escalations(ctx)
		if err != nil {
			return errMsg(err)
		}

		// Newest first for the run table
		sort.Slice(runs, func(i, j int) bool {
			return runs[i].StartedAt.After(runs[j].StartedAt)
		})

		return snapshotMsg(Snapshot{
			Status:  status,
			Runs:    runs,
			Pending: pending,
		})
	}
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			m.quitting = true
			return m, tea.Quit
		case "r":
			return m, fetchSnapshot(m.apiURL)
		}

	case tickMsg:
		// Auto-refresh triggered
		return m, tea.Batch(
			tick(m.interval),
			fetchSnapshot(m.apiURL),
		)

	case snapshotMsg:
		newSnap := Snapshot(msg)

		// Preserve historical data and update ring buffers
		active := float64(newSnap.Status.Counts.ActiveRuns)
		newSnap.ActiveHistory = appendToHistory(m.snap.ActiveHistory, active)
		newSnap.PendingHistory = appendToHistory(m.snap.PendingHistory, float64(len(newSnap.Pending)))

		newSnap.ActivePeak = m.snap.ActivePeak
		if active > newSnap.ActivePeak {
			newSnap.ActivePeak = active
		}

		m.snap = newSnap
		m.lastUpdate = time.Now()
		m.err = nil
		return m, nil

	case errMsg:
		m.err = error(msg)
		return m, nil
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.err != nil {
		return m.renderError()
	}

	return m.renderDashboard()
}

// renderError renders the error view
func (m Model) renderError() string {
	header := headerStyle.Render("taskforge Dashboard")

	var content string
	content += "\n"
	content += errorStyle.Render("⚠ Cannot connect to taskforged") + "\n"
	content += "\n"
	content += dimStyle.Render("URL: ") + valueStyle.Render(m.apiURL) + "\n"
	content += dimStyle.Render("Error: ") + errorStyle.Render(m.err.Error()) + "\n"
	content += "\n"
	content += dimStyle.Render("Please ensure:") + "\n"
	content += dimStyle.Render("  1. taskforged is running") + "\n"
	content += dimStyle.Render("  2. the API is listening on the configured host and port") + "\n"
	content += "\n"
	content += footerStyle.Render("[q] quit  [r] retry") + "\n"

	box := containerStyle.Render(header + "\n" + content)
	return box
}

// renderDashboard renders the main dashboard view with sparklines and
// progress bars
func (m Model) renderDashboard() string {
	var content string

	lastUpdateStr := "Never"
	if !m.lastUpdate.IsZero() {
		lastUpdateStr = m.lastUpdate.Format("3:04:05 PM")
	}

	header := headerStyle.Render(" taskforge Monitor ")
	headerLine := fmt.Sprintf("%s   %s   %s",
		statusBadge(m.snap),
		dimStyle.Render("v"+orUnknown(m.snap.Status.Version)),
		dimStyle.Render(lastUpdateStr))

	content += header + "\n"
	content += headerLine + "\n"

	// Pipeline section with sparkline and load bar
	content += "\n" + sectionStyle.Render("┃ Pipeline") + "\n"

	activeSparkline := createSparkline(m.snap.ActiveHistory)
	content += labelStyle.Render("  Active: ") +
		valueStyle.Render(fmt.Sprintf("%d runs", m.snap.Status.Counts.ActiveRuns)) +
		"   " + activeSparkline + "\n"

	totalStr := "?"
	if m.snap.Status.Counts.TotalRuns >= 0 {
		totalStr = fmt.Sprintf("%d", m.snap.Status.Counts.TotalRuns)
	}
	content += labelStyle.Render("  Total: ") +
		valueStyle.Render(totalStr) + dimStyle.Render(" recorded") + "\n"

	loadPercent := 0.0
	if m.snap.ActivePeak > 0 {
		loadPercent = float64(m.snap.Status.Counts.ActiveRuns) / m.snap.ActivePeak
		if loadPercent > 1.0 {
			loadPercent = 1.0
		}
	}
	content += labelStyle.Render("  Load: ") +
		m.loadProgress.ViewAs(loadPercent) +
		" " + dimStyle.Render(fmt.Sprintf("%.0f%%", loadPercent*100)) + "\n"

	// Recent runs table
	content += "\n" + sectionStyle.Render("┃ Runs") + "\n"
	if len(m.snap.Runs) == 0 {
		content += dimStyle.Render("  no runs yet") + "\n"
	}
	for i, run := range m.snap.Runs {
		if i >= maxRunRows {
			content += dimStyle.Render(fmt.Sprintf("  … %d more", len(m.snap.Runs)-maxRunRows)) + "\n"
			break
		}
		content += "  " + runBadge(run.Status) +
			" " + dimStyle.Render(fmt.Sprintf("%-10s", run.Mode)) +
			valueStyle.Render(fmt.Sprintf("%-32s", Truncate(run.Description, 32))) +
			" " + phaseBar(run) +
			" " + labelStyle.Render(run.CurrentPhase) + "\n"
	}

	// Escalations section
	content += "\n" + sectionStyle.Render("┃ Escalations") + "\n"

	pendingSparkline := createSparkline(m.snap.PendingHistory)
	pendingStyleFn := healthyStyle
	if len(m.snap.Pending) > 0 {
		pendingStyleFn = warningStyle
	}
	content += labelStyle.Render("  Pending: ") +
		pendingStyleFn.Render(fmt.Sprintf("%d", len(m.snap.Pending))) +
		"          " + pendingSparkline + "\n"

	for i, id := range m.snap.Pending {
		if i >= maxPendingRows {
			content += dimStyle.Render(fmt.Sprintf("  … %d more", len(m.snap.Pending)-maxPendingRows)) + "\n"
			break
		}
		content += warningStyle.Render("  ⚠ ") + valueStyle.Render(id) +
			dimStyle.Render("  tfg escalation resolve "+Truncate(id, 8)) + "\n"
	}

	// Footer with keyboard shortcuts
	footer := footerKeyStyle.Render("[q]") + footerStyle.Render(" quit  ") +
		footerKeyStyle.Render("[r]") + footerStyle.Render(" refresh  ") +
		footerStyle.Render(fmt.Sprintf("Auto: %v", m.interval))

	content += "\n" + footer

	return containerStyle.Render(content)
}

// phaseBar renders a run's phase completion as a fixed-width bar.
func phaseBar(run httpapi.RunSummary) string {
	percent := 0.0
	if run.PhasesTotal > 0 {
		percent = float64(run.PhasesDone) / float64(run.PhasesTotal)
	}
	bar := progress.New(
		progress.WithGradient("#00ffff", "#00ff00"),
		progress.WithWidth(16),
	)
	return bar.ViewAs(percent) + " " + dimStyle.Render(fmt.Sprintf("%d/%d", run.PhasesDone, run.PhasesTotal))
}

func orUnknown(s string) string {
	if s == "" {
		return "?"
	}
	return s
}
