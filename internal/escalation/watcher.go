package escalation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// decisionFile is the on-disk answer format.
type decisionFile struct {
	Action  Action `json:"action"`
	Comment string `json:"comment,omitempty"`
}

// Watch follows the decisions directory for decision_{runID}.json
// files and resolves the matching escalations. Decision files present
// before the watch starts (answers written while the daemon was down)
// are handled first. Runs until ctx ends or Close is called.
func (s *Service) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create decision watcher: %w", err)
	}
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch decisions directory: %w", err)
	}

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		_ = watcher.Close()
		return fmt.Errorf("scan decisions directory: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() && isDecisionFile(e.Name()) {
			s.handleDecisionFile(ctx, filepath.Join(s.dir, e.Name()))
		}
	}

	go s.watchLoop(ctx, watcher)
	s.logger.Info("decision watcher started", zap.String("dir", s.dir))
	return nil
}

func (s *Service) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !isDecisionFile(filepath.Base(event.Name)) {
				continue
			}
			s.handleDecisionFile(ctx, event.Name)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			s.logger.Warn("decision watcher error", zap.Error(err))
		}
	}
}

// handleDecisionFile parses one decision file and resolves its run.
// Parse and resolve failures only log at debug: create events often
// arrive before the writer finishes, and the write event retries the
// same file moments later.
func (s *Service) handleDecisionFile(ctx context.Context, path string) {
	base := filepath.Base(path)
	runID := strings.TrimSuffix(strings.TrimPrefix(base, decisionPrefix), ".json")
	if runID == "" {
		return
	}

	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Debug("decision file unreadable", zap.String("file", base), zap.Error(err))
		return
	}
	var df decisionFile
	if err := json.Unmarshal(data, &df); err != nil {
		s.logger.Debug("decision file not yet parseable", zap.String("file", base), zap.Error(err))
		return
	}

	err = s.Resolve(ctx, Resolution{
		RunID:   runID,
		Action:  df.Action,
		Comment: df.Comment,
		Source:  "file",
	})
	if err != nil {
		s.logger.Debug("decision file not applied",
			zap.String("file", base), zap.Error(err))
		return
	}
	if err := os.Remove(path); err != nil {
		s.logger.Warn("decision file cleanup failed",
			zap.String("file", base), zap.Error(err))
	}
}

func isDecisionFile(name string) bool {
	return strings.HasPrefix(name, decisionPrefix) && strings.HasSuffix(name, ".json")
}
