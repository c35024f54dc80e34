// Package mcp exposes the pipeline over the Model Context Protocol so
// coding agents can drive runs from inside their own session.
//
// The server speaks MCP over stdio and registers tools in three groups:
//
//   - pipeline_run, pipeline_status, pipeline_list, pipeline_abort
//   - checkpoint_save, checkpoint_list, checkpoint_restore, checkpoint_discard
//   - escalation_list, escalation_report, escalation_resolve
//
// Tool outputs that carry free-form text (task descriptions, failure
// reasons) pass through the secret scrubber before they reach the
// client. Every invocation is recorded with OpenTelemetry counters and
// a duration histogram under taskforge.mcp.tool.*.
package mcp
