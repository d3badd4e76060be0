package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"
)

// hungAfter is the number of consecutive failed health checks that get a
// process killed.
const hungAfter = 3

// errCleanExit stands in for a nil Wait result: a supervised process is
// not expected to finish on its own.
var errCleanExit = errors.New("exited with status 0")

// runOnce starts the process and blocks until it exits, is killed as hung,
// or ctx ends.
func (m *Manager) runOnce(ctx context.Context) error {
	m.transition(StatusStarting, 0, nil)
	m.logger.Info("starting process", "name", m.config.Name, "binary", m.config.Binary, "args", m.config.Args)

	cmd := m.command(ctx)
	stdout := newLineWriter(m.logger, m.config.Name, "stdout")
	stderr := newLineWriter(m.logger, m.config.Name, "stderr")
	cmd.Stdout, cmd.Stderr = stdout, stderr
	defer stdout.Flush()
	defer stderr.Flush()

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	pid := cmd.Process.Pid
	m.transition(StatusRunning, pid, nil)
	m.logger.Info("process started", "name", m.config.Name, "pid", pid)
	if m.config.OnStart != nil {
		m.config.OnStart(pid)
	}

	exit := make(chan error, 1)
	go func() { exit <- cmd.Wait() }()

	if m.config.HealthCheckFunc == nil {
		return orCleanExit(<-exit)
	}
	return m.watch(ctx, cmd, exit)
}

// command builds the exec.Cmd. The child gets its own process group so a
// stop reaches anything it spawned.
func (m *Manager) command(ctx context.Context) *exec.Cmd {
	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // binary comes from operator configuration
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error { return signalGroup(cmd, syscall.SIGTERM) }
	cmd.WaitDelay = m.config.GracefulTimeout
	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}
	cmd.Dir = m.config.WorkDir
	return cmd
}

// watch runs the health check until the process exits. hungAfter failures
// in a row, or one unrecoverable failure, kill the process group.
func (m *Manager) watch(ctx context.Context, cmd *exec.Cmd, exit <-chan error) error {
	ticker := time.NewTicker(m.config.HealthCheckInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case err := <-exit:
			return orCleanExit(err)
		case <-ticker.C:
		}

		err := m.check(ctx)
		switch {
		case err == nil:
			if failures > 0 {
				m.logger.Info("health check recovered", "name", m.config.Name, "previous_failures", failures)
			}
			failures = 0
			continue
		case ctx.Err() != nil:
			continue
		}

		failures++
		m.logger.Warn("health check failed", "name", m.config.Name, "error", err, "consecutive_failures", failures)
		if failures < hungAfter && !unrecoverable(err) {
			continue
		}

		m.logger.Error("health check failed repeatedly, killing process", "name", m.config.Name, "failures", failures)
		signalGroup(cmd, syscall.SIGKILL) //nolint:errcheck // the process may already be gone
		<-exit
		return fmt.Errorf("killed after %d failed health checks: %w", failures, err)
	}
}

func (m *Manager) check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, m.config.HealthCheckInterval)
	defer cancel()
	return m.config.HealthCheckFunc(ctx)
}

func orCleanExit(err error) error {
	if err == nil {
		return errCleanExit
	}
	return err
}

// signalGroup signals the process group led by cmd.
func signalGroup(cmd *exec.Cmd, sig syscall.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		if errors.Is(err, syscall.ESRCH) {
			return os.ErrProcessDone
		}
		return err
	}
	return nil
}
