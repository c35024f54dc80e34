package executor

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

// newCommand builds an exec.Cmd in its own process group, so that
// killing the command also kills any children the agent spawned.
func newCommand(ctx context.Context, name string, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	return cmd
}

// runCommand starts cmd, drains stdout and stderr concurrently, and
// waits for exit. On context cancellation the whole process group is
// killed; the context error is returned so callers can tell timeouts
// from agent failures. Partial output is returned either way.
func runCommand(ctx context.Context, cmd *exec.Cmd, pm *ProcessManager) (string, string, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", "", fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", "", fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return "", "", fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	if pm != nil {
		pm.Track(cmd)
		defer pm.Untrack(cmd)
	}

	// Drain both pipes before Wait, which closes them.
	var outBuf, errBuf bytes.Buffer
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&outBuf, stdout)
	}()
	go func() {
		defer wg.Done()
		_, _ = io.Copy(&errBuf, stderr)
	}()

	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			killProcessGroup(cmd)
		case <-done:
		}
	}()

	wg.Wait()
	waitErr := cmd.Wait()
	close(done)

	if ctx.Err() != nil {
		return outBuf.String(), errBuf.String(), ctx.Err()
	}
	if waitErr != nil {
		return outBuf.String(), errBuf.String(), fmt.Errorf("%s: %w", cmd.Path, waitErr)
	}
	return outBuf.String(), errBuf.String(), nil
}

// killProcessGroup kills the command's process group. Falls back to
// killing just the process when the group signal fails.
func killProcessGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		_ = cmd.Process.Kill()
	}
}

// ProcessManager tracks live agent processes so the daemon can kill
// them all on shutdown instead of orphaning agents mid-phase.
type ProcessManager struct {
	mu    sync.Mutex
	procs map[int]*exec.Cmd
}

// NewProcessManager creates an empty process manager.
func NewProcessManager() *ProcessManager {
	return &ProcessManager{procs: make(map[int]*exec.Cmd)}
}

// Track registers a started command.
func (pm *ProcessManager) Track(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.procs[cmd.Process.Pid] = cmd
}

// Untrack removes a command, normally after it exits.
func (pm *ProcessManager) Untrack(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	pm.mu.Lock()
	defer pm.mu.Unlock()
	delete(pm.procs, cmd.Process.Pid)
}

// KillAll kills every tracked process group.
func (pm *ProcessManager) KillAll(logger *zap.Logger) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	for pid, cmd := range pm.procs {
		if logger != nil {
			logger.Warn("killing agent process", zap.Int("pid", pid))
		}
		killProcessGroup(cmd)
		delete(pm.procs, pid)
	}
}

// Count returns the number of tracked processes.
func (pm *ProcessManager) Count() int {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	return len(pm.procs)
}
