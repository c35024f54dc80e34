//go:build integration
// +build integration

package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestClient_Integration tests against a running taskforged.
// Run with: go test -tags=integration ./internal/monitor/...
func TestClient_Integration(t *testing.T) {
	apiURL := "http://127.0.0.1:8400"
	client := NewClient(apiURL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	t.Run("status", func(t *testing.T) {
		status, err := client.Status(ctx)
		require.NoError(t, err, "taskforged should be reachable at %s", apiURL)
		assert.Equal(t, "ok", status.Status)
		t.Logf("Status: %+v", status)
	})

	t.Run("runs", func(t *testing.T) {
		runs, err := client.Runs(ctx)
		require.NoError(t, err)
		for _, run := range runs {
			assert.NotEmpty(t, run.ID)
			assert.NotEmpty(t, run.Status)
		}
		t.Logf("Runs: %d", len(runs))
	})

	t.Run("escalations", func(t *testing.T) {
		pending, err := client.Escalations(ctx)
		require.NoError(t, err)
		t.Logf("Pending escalations: %v", pending)
	})

	t.Run("snapshot", func(t *testing.T) {
		msg := fetchSnapshot(apiURL)()
		snap, ok := msg.(snapshotMsg)
		require.True(t, ok, "expected snapshotMsg, got %T", msg)
		assert.Equal(t, "ok", snap.Status.Status)
	})
}
