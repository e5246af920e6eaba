package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/lu-zhengda/portscope/internal/runner"
	"golang.org/x/sys/unix"
)

var (
	ErrProtectedPID = errors.New("refusing to signal protected PID")
	ErrNotRunning   = errors.New("process is not running")
	ErrPermission   = errors.New("permission denied")
)

// protectedPIDs lists PIDs that should never be signalled.
var protectedPIDs = map[int]bool{
	0: true,
	1: true,
}

// Signaler delivers a signal to a pid. Signal 0 probes for existence.
type Signaler interface {
	Signal(pid int, sig unix.Signal) error
}

type unixSignaler struct{}

func (unixSignaler) Signal(pid int, sig unix.Signal) error {
	return unix.Kill(pid, sig)
}

// Controller terminates processes on behalf of the user.
type Controller struct {
	runner   runner.Runner
	signaler Signaler
	logger   *slog.Logger
}

// NewController creates a Controller that signals through the kernel.
func NewController(run runner.Runner, logger *slog.Logger) *Controller {
	return NewControllerWithSignaler(run, unixSignaler{}, logger)
}

// NewControllerWithSignaler creates a Controller with a custom Signaler.
func NewControllerWithSignaler(run runner.Runner, sig Signaler, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Controller{runner: run, signaler: sig, logger: logger}
}

// Kill sends a signal to a process. It refuses protected PIDs and
// reports a pid that no longer exists as ErrNotRunning.
func (c *Controller) Kill(pid int, sig unix.Signal) error {
	if protectedPIDs[pid] || pid < 0 {
		return fmt.Errorf("%w %d", ErrProtectedPID, pid)
	}

	if !c.IsRunning(pid) {
		return fmt.Errorf("process %d: %w", pid, ErrNotRunning)
	}

	if err := c.signaler.Signal(pid, sig); err != nil {
		c.logger.Warn("signal delivery failed", "pid", pid, "signal", unix.SignalName(sig), "err", err)
		switch {
		case errors.Is(err, unix.ESRCH):
			return fmt.Errorf("process %d: %w", pid, ErrNotRunning)
		case errors.Is(err, unix.EPERM):
			return fmt.Errorf("failed to send %s to PID %d: %w: %w", SignalName(sig), pid, ErrPermission, err)
		}
		return fmt.Errorf("failed to send %s to PID %d: %w", SignalName(sig), pid, err)
	}

	c.logger.Info("signal sent", "pid", pid, "signal", SignalName(sig))
	return nil
}

// Terminate sends SIGTERM.
func (c *Controller) Terminate(pid int) error {
	return c.Kill(pid, unix.SIGTERM)
}

// ForceTerminate sends SIGKILL.
func (c *Controller) ForceTerminate(pid int) error {
	return c.Kill(pid, unix.SIGKILL)
}

// GracefulKill sends SIGTERM, waits up to wait, then returns whether the
// process exited. The caller can then decide to force it.
func (c *Controller) GracefulKill(ctx context.Context, pid int, wait time.Duration) (exited bool, err error) {
	if err := c.Terminate(pid); err != nil {
		return false, err
	}

	deadline := time.Now().Add(wait)
	for time.Now().Before(deadline) {
		if !c.IsRunning(pid) {
			return true, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}

	return !c.IsRunning(pid), nil
}

// IsRunning checks if a process with the given PID exists. A process
// owned by another user answers EPERM but is still alive.
func (c *Controller) IsRunning(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := c.signaler.Signal(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// VerifyProcess checks if a PID still corresponds to the expected process
// by comparing the command name. Guards against PID reuse between the
// scan and the kill.
func (c *Controller) VerifyProcess(ctx context.Context, pid int, expectedName string) bool {
	out, err := c.runner.Run(ctx, "ps", "-p", strconv.Itoa(pid), "-o", "comm=")
	if err != nil {
		return false
	}
	name := strings.TrimSpace(string(out))
	if name == "" {
		return false
	}
	parts := strings.Split(name, "/")
	actual := parts[len(parts)-1]
	return strings.EqualFold(actual, expectedName)
}

// SignalName returns the conventional name of sig, e.g. "SIGTERM".
func SignalName(sig unix.Signal) string {
	if name := unix.SignalName(sig); name != "" {
		return name
	}
	return fmt.Sprintf("signal(%d)", int(sig))
}

// ParseSignal resolves a name such as "TERM", "sigint" or "9".
func ParseSignal(s string) (unix.Signal, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if unix.SignalName(unix.Signal(n)) == "" {
			return 0, fmt.Errorf("unknown signal %q", s)
		}
		return unix.Signal(n), nil
	}
	name := strings.ToUpper(s)
	if !strings.HasPrefix(name, "SIG") {
		name = "SIG" + name
	}
	sig := unix.SignalNum(name)
	if sig == 0 {
		return 0, fmt.Errorf("unknown signal %q", s)
	}
	return sig, nil
}
