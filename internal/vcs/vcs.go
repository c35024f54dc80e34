package vcs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"go.uber.org/zap"
)

const snapshotRefPrefix = "refs/taskforge/snapshots/"

// ErrNotRepository indicates the workspace path is not a git
// repository.
var ErrNotRepository = errors.New("not a git repository")

// ErrSnapshotNotFound indicates no snapshot ref with the given name.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot describes one recorded working-tree state.
type Snapshot struct {
	Name      string    `json:"name"`
	Hash      string    `json:"hash"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// Git snapshots and restores the working tree of one repository. All
// mutating operations are serialized; concurrent runs share the
// workspace.
type Git struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
}

// NewGit creates a snapshotter for the repository at path. The path
// must already be a git repository.
func NewGit(path string, logger *zap.Logger) (*Git, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := git.PlainOpen(path); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRepository, path)
	}
	return &Git{path: path, logger: logger}, nil
}

// Branch returns the current branch name, or "detached" when HEAD does
// not point at a branch.
func (g *Git) Branch() (string, error) {
	repo, err := git.PlainOpen(g.path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrNotRepository, g.path)
	}
	head, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("read HEAD: %w", err)
	}
	if head.Name().IsBranch() {
		return head.Name().Short(), nil
	}
	return "detached", nil
}

// IsClean reports whether the working tree has no uncommitted changes.
func (g *Git) IsClean() (bool, error) {
	repo, err := git.PlainOpen(g.path)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrNotRepository, g.path)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return false, fmt.Errorf("open worktree: %w", err)
	}
	status, err := wt.Status()
	if err != nil {
		return false, fmt.Errorf("worktree status: %w", err)
	}
	return status.IsClean(), nil
}

// Stash records the dirty working tree as a snapshot commit and resets
// the branch back, leaving the tree untouched. A clean tree is a
// no-op. Satisfies the checkpoint service's Stasher contract.
func (g *Git) Stash(ctx context.Context, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	repo, err := git.PlainOpen(g.path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotRepository, g.path)
	}
	head, err := repo.Head()
	if err != nil {
		return fmt.Errorf("read HEAD: %w", err)
	}
	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	status, err := wt.Status()
	if err != nil {
		return fmt.Errorf("worktree status: %w", err)
	}
	if status.IsClean() {
		g.logger.Debug("working tree clean, nothing to snapshot")
		return nil
	}

	if err := wt.AddWithOptions(&git.AddOptions{All: true}); err != nil {
		return fmt.Errorf("stage changes: %w", err)
	}

	now := time.Now()
	hash, err := wt.Commit(message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  "taskforge",
			Email: "taskforge@localhost",
			When:  now,
		},
	})
	if err != nil {
		return fmt.Errorf("snapshot commit: %w", err)
	}

	name := fmt.Sprintf("%d", now.UnixNano())
	ref := plumbing.NewHashReference(plumbing.ReferenceName(snapshotRefPrefix+name), hash)
	if err := repo.Storer.SetReference(ref); err != nil {
		return fmt.Errorf("record snapshot ref: %w", err)
	}

	// Put the branch back where it was. Mixed reset keeps the working
	// tree, so the agent sees no difference.
	if err := wt.Reset(&git.ResetOptions{Mode: git.MixedReset, Commit: head.Hash()}); err != nil {
		return fmt.Errorf("reset branch after snapshot: %w", err)
	}

	g.logger.Info("workspace snapshot recorded",
		zap.String("snapshot", name),
		zap.String("hash", hash.String()),
		zap.String("message", message))
	return nil
}

// Snapshots lists recorded snapshots, oldest first.
func (g *Git) Snapshots() ([]Snapshot, error) {
	repo, err := git.PlainOpen(g.path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNotRepository, g.path)
	}

	iter, err := repo.References()
	if err != nil {
		return nil, fmt.Errorf("list references: %w", err)
	}

	var out []Snapshot
	err = iter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().String()
		if !strings.HasPrefix(name, snapshotRefPrefix) {
			return nil
		}
		snap := Snapshot{
			Name: strings.TrimPrefix(name, snapshotRefPrefix),
			Hash: ref.Hash().String(),
		}
		if commit, err := repo.CommitObject(ref.Hash()); err == nil {
			snap.Message = strings.TrimSpace(commit.Message)
			snap.CreatedAt = commit.Author.When
		}
		out = append(out, snap)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk references: %w", err)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Restore brings the working tree back to a snapshot's state. The
// snapshot content lands as uncommitted changes on the snapshot's
// parent commit; nothing is lost from the ref namespace.
func (g *Git) Restore(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	repo, err := git.PlainOpen(g.path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotRepository, g.path)
	}

	ref, err := repo.Reference(plumbing.ReferenceName(snapshotRefPrefix+name), true)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}
	commit, err := repo.CommitObject(ref.Hash())
	if err != nil {
		return fmt.Errorf("read snapshot commit: %w", err)
	}

	wt, err := repo.Worktree()
	if err != nil {
		return fmt.Errorf("open worktree: %w", err)
	}

	// Hard reset materializes the snapshot, then a mixed reset to the
	// snapshot's parent detaches the content from the branch history
	// again.
	if err := wt.Reset(&git.ResetOptions{Mode: git.HardReset, Commit: ref.Hash()}); err != nil {
		return fmt.Errorf("reset to snapshot: %w", err)
	}
	if commit.NumParents() > 0 {
		parent, err := commit.Parent(0)
		if err != nil {
			return fmt.Errorf("read snapshot parent: %w", err)
		}
		if err := wt.Reset(&git.ResetOptions{Mode: git.MixedReset, Commit: parent.Hash}); err != nil {
			return fmt.Errorf("reset to snapshot parent: %w", err)
		}
	}

	g.logger.Info("workspace restored from snapshot", zap.String("snapshot", name))
	return nil
}

// Discard removes a snapshot ref. The commit stays reachable until git
// garbage collection.
func (g *Git) Discard(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	repo, err := git.PlainOpen(g.path)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrNotRepository, g.path)
	}
	refName := plumbing.ReferenceName(snapshotRefPrefix + name)
	if _, err := repo.Reference(refName, true); err != nil {
		return fmt.Errorf("%w: %s", ErrSnapshotNotFound, name)
	}
	if err := repo.Storer.RemoveReference(refName); err != nil {
		return fmt.Errorf("remove snapshot ref: %w", err)
	}
	return nil
}
