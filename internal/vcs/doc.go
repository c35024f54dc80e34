// Package vcs snapshots the workspace git state around pipeline
// checkpoints.
//
// go-git carries no stash support, so Stash records the dirty working
// tree as a commit on a ref under refs/taskforge/snapshots/ and resets
// the branch back, leaving the tree exactly as it was. Snapshots are
// plain commits: recoverable with this package, with git itself, or by
// the agents.
//
// Everything here is best effort from the pipeline's point of view;
// the checkpoint service logs and continues when stashing fails.
package vcs
