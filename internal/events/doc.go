// Package events republishes pipeline lifecycle hooks onto NATS.
//
// Every hook event goes out as JSON on
//
//	runs.{run_id}.{hook_type}
//
// so a consumer can follow one run with runs.{run_id}.> or watch all
// completions with runs.*.run.completed. The publisher degrades to a
// no-op without a connection; losing the broker never stalls a run.
package events
