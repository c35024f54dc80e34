// Package store persists pipeline runs, phase artifacts, and metrics
// reports on the local filesystem.
//
// Directory structure:
//
//	~/.config/taskforge/
//	├── runs/
//	│   └── {run-id}/
//	│       ├── run.json            ← run state snapshot
//	│       ├── checkpoints.json    ← checkpoint records
//	│       └── artifacts/
//	│           └── {stage}_{topic}_{timestamp}.md
//	└── metrics/
//	    └── pipeline_{date}_{slug}.json
//
// Every run gets its own directory, so parallel runs never contend on
// files. Writes are atomic (temp file + rename) with 0600 permissions;
// directories are created 0700.
package store
