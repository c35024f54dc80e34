package mcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/fyrsmithlabs/taskforge/internal/checkpoint"
	"github.com/fyrsmithlabs/taskforge/internal/escalation"
)

func TestFmtTime(t *testing.T) {
	assert.Equal(t, "", fmtTime(time.Time{}), "zero time renders empty")

	ts := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	assert.Equal(t, "2026-03-14T09:26:53Z", fmtTime(ts))
}

// Checkpoints taken through the tool surface are operator-requested:
// the auto_created flag stays with the sequencer and must never be
// settable from a tool call.
func TestCheckpointSaveRequestIsOperatorCreated(t *testing.T) {
	args := checkpointSaveInput{
		RunID: "run-1",
		Name:  "before-refactor",
		Phase: "implementation",
	}

	req := checkpoint.CreateRequest{
		RunID:     args.RunID,
		Name:      args.Name,
		PhaseName: args.Phase,
	}

	assert.False(t, req.AutoCreated, "tool-created checkpoints must not be marked auto-created")
	assert.Equal(t, "run-1", req.RunID)
	assert.Equal(t, "implementation", req.PhaseName)
}

// Resolutions applied over MCP are attributed to the mcp source so the
// audit trail distinguishes them from API and decision-file answers.
func TestResolveInputMapsToResolution(t *testing.T) {
	args := escalationResolveInput{
		RunID:   "run-9",
		Action:  "rollback",
		Comment: "retry from the planning checkpoint",
	}

	action := escalation.Action(args.Action)
	assert.True(t, action.Valid())

	res := escalation.Resolution{
		RunID:   args.RunID,
		Action:  action,
		Comment: args.Comment,
		Source:  "mcp",
	}

	assert.Equal(t, escalation.ActionRollback, res.Action)
	assert.Equal(t, "mcp", res.Source)

	assert.False(t, escalation.Action("retry").Valid(), "unknown actions are rejected before Resolve")
}
