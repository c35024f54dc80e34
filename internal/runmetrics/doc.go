// Package runmetrics records timing, grade, and retry data for
// pipeline runs.
//
// The recorder observes every run through lifecycle hooks and never
// touches pipeline state. When a run reaches a terminal status it
// writes a pipeline_{date}_{slug}.json report whose field names are
// fixed for compatibility with existing tooling, and feeds the same
// data to the OpenTelemetry instruments.
package runmetrics
