package runmetrics

import (
	"time"

	"github.com/fyrsmithlabs/taskforge/internal/sanitize"
)

// Report is the persisted per-run metrics document. Field names are a
// fixed wire format consumed by downstream tooling; do not rename.
// Durations are milliseconds.
type Report struct {
	TaskID    string       `json:"taskId"`
	Date      string       `json:"date"`
	StartTime time.Time    `json:"startTime"`
	EndTime   time.Time    `json:"endTime"`
	Duration  int64        `json:"duration"`
	Agents    []AgentEntry `json:"agents"`
	Status    string       `json:"status"`
	Errors    []string     `json:"errors"`
}

// AgentEntry records one phase agent's outcome within a run.
type AgentEntry struct {
	Name      string    `json:"agent"`
	Status    string    `json:"status"`
	Grade     *int      `json:"grade,omitempty"`
	Retries   int       `json:"retries"`
	StartTime time.Time `json:"startTime,omitempty"`
	EndTime   time.Time `json:"endTime,omitempty"`
	Duration  int64     `json:"duration"`
}

// reportDateLayout formats the date embedded in report file names.
const reportDateLayout = "2006-01-02"

// ReportFileName builds pipeline_{date}_{slug}.json for a run.
func ReportFileName(startTime time.Time, taskDescription string) string {
	stem := sanitize.FileStem(
		"pipeline",
		startTime.UTC().Format(reportDateLayout),
		sanitize.Identifier(taskDescription),
	)
	return stem + ".json"
}
