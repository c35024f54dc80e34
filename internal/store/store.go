package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/taskforge/internal/checkpoint"
	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

// Errors for store operations.
var (
	ErrRunNotFound = errors.New("run not found")
	ErrCorruptRun  = errors.New("run record corrupted")
	ErrInvalidID   = errors.New("invalid identifier: must be alphanumeric with hyphens/underscores")
	ErrInvalidName = errors.New("invalid file name")
)

// idPattern validates run IDs and file names used in paths.
// Allows alphanumeric, hyphens, underscores, and dots.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

const (
	runFile         = "run.json"
	checkpointsFile = "checkpoints.json"
	artifactsDir    = "artifacts"
)

// Store manages the on-disk layout for runs, artifacts, and reports.
type Store struct {
	mu         sync.Mutex
	baseDir    string
	runsDir    string
	metricsDir string
	logger     *zap.Logger
}

// NewStore creates a store rooted at baseDir. An empty baseDir resolves
// to ~/.config/taskforge.
func NewStore(baseDir string, logger *zap.Logger) (*Store, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".config", "taskforge")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Store{
		baseDir:    baseDir,
		runsDir:    filepath.Join(baseDir, "runs"),
		metricsDir: filepath.Join(baseDir, "metrics"),
		logger:     logger,
	}

	for _, dir := range []string{s.runsDir, s.metricsDir} {
		if err := os.MkdirAll(dir, 0700); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}

	return s, nil
}

// BaseDir returns the store root.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// ValidateID checks whether an identifier is safe for filesystem paths.
func ValidateID(id string) error {
	if id == "" {
		return ErrInvalidID
	}
	if len(id) > 255 {
		return fmt.Errorf("%w: too long (max 255)", ErrInvalidID)
	}
	if !idPattern.MatchString(id) {
		return ErrInvalidID
	}
	if id == "." || id == ".." {
		return fmt.Errorf("%w: path traversal", ErrInvalidID)
	}
	for _, c := range id {
		if c == '/' || c == '\\' || c == '\x00' {
			return fmt.Errorf("%w: path traversal", ErrInvalidID)
		}
	}
	if filepath.Clean(id) != id {
		return fmt.Errorf("%w: path traversal", ErrInvalidID)
	}
	return nil
}

// RunDir returns the directory for a run without creating it.
func (s *Store) RunDir(runID string) (string, error) {
	if err := ValidateID(runID); err != nil {
		return "", err
	}
	return filepath.Join(s.runsDir, runID), nil
}

// CreateRun lays out the run directory and writes the initial state.
func (s *Store) CreateRun(ctx context.Context, run *pipeline.PipelineRun) error {
	dir, err := s.RunDir(run.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Join(dir, artifactsDir), 0700); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}
	return s.SaveRun(ctx, run)
}

// SaveRun atomically writes the run state snapshot.
func (s *Store) SaveRun(_ context.Context, run *pipeline.PipelineRun) error {
	dir, err := s.RunDir(run.ID)
	if err != nil {
		return err
	}

	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return atomicWrite(filepath.Join(dir, runFile), data)
}

// LoadRun reads a run state snapshot.
func (s *Store) LoadRun(_ context.Context, runID string) (*pipeline.PipelineRun, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, runFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
		}
		return nil, fmt.Errorf("read run %q: %w", runID, err)
	}

	var run pipeline.PipelineRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRun, err)
	}
	return &run, nil
}

// ListRuns loads every readable run snapshot. Corrupted entries are
// skipped with a warning so one bad record cannot hide the rest.
func (s *Store) ListRuns(ctx context.Context) ([]*pipeline.PipelineRun, error) {
	entries, err := os.ReadDir(s.runsDir)
	if err != nil {
		return nil, fmt.Errorf("read runs directory: %w", err)
	}

	runs := make([]*pipeline.PipelineRun, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		run, err := s.LoadRun(ctx, entry.Name())
		if err != nil {
			s.logger.Warn("skipping unreadable run",
				zap.String("run_id", entry.Name()),
				zap.Error(err))
			continue
		}
		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartedAt.Before(runs[j].StartedAt)
	})
	return runs, nil
}

// SaveCheckpoints mirrors checkpoint records for a run. Satisfies
// checkpoint.Store.
func (s *Store) SaveCheckpoints(_ context.Context, runID string, checkpoints []*checkpoint.Checkpoint) error {
	dir, err := s.RunDir(runID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}

	data, err := json.MarshalIndent(checkpoints, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal checkpoints: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return atomicWrite(filepath.Join(dir, checkpointsFile), data)
}

// LoadCheckpoints reads mirrored checkpoint records. A run without a
// checkpoint file has no checkpoints.
func (s *Store) LoadCheckpoints(_ context.Context, runID string) ([]*checkpoint.Checkpoint, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(filepath.Join(dir, checkpointsFile))
	if err != nil {
		if os.IsNotExist(err) {
			return []*checkpoint.Checkpoint{}, nil
		}
		return nil, fmt.Errorf("read checkpoints for run %q: %w", runID, err)
	}

	var cps []*checkpoint.Checkpoint
	if err := json.Unmarshal(data, &cps); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoints for run %q: %w", runID, err)
	}
	return cps, nil
}

// WriteArtifact stores a phase artifact under the run's artifacts
// directory and returns its path. An existing artifact with the same
// name is replaced.
func (s *Store) WriteArtifact(_ context.Context, runID, name string, content []byte) (string, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return "", err
	}
	if err := ValidateID(name); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	if err := os.MkdirAll(filepath.Join(dir, artifactsDir), 0700); err != nil {
		return "", fmt.Errorf("create artifacts directory: %w", err)
	}

	path := filepath.Join(dir, artifactsDir, name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := atomicWrite(path, content); err != nil {
		return "", err
	}
	return path, nil
}

// ReadArtifact reads a phase artifact.
func (s *Store) ReadArtifact(_ context.Context, runID, name string) ([]byte, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return nil, err
	}
	if err := ValidateID(name); err != nil {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	data, err := os.ReadFile(filepath.Join(dir, artifactsDir, name))
	if err != nil {
		return nil, fmt.Errorf("read artifact %q: %w", name, err)
	}
	return data, nil
}

// ListArtifacts returns the run's artifact file names, sorted.
func (s *Store) ListArtifacts(_ context.Context, runID string) ([]string, error) {
	dir, err := s.RunDir(runID)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(dir, artifactsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("read artifacts directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)
	return names, nil
}

// WriteReport stores a metrics report in the shared metrics directory
// and returns its path.
func (s *Store) WriteReport(_ context.Context, name string, data []byte) (string, error) {
	if err := ValidateID(name); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	path := filepath.Join(s.metricsDir, name)
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := atomicWrite(path, data); err != nil {
		return "", err
	}
	return path, nil
}

// atomicWrite writes data via a temp file and rename so readers never
// observe a partial file.
func atomicWrite(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Compile-time check that Store satisfies the checkpoint mirror.
var _ checkpoint.Store = (*Store)(nil)
