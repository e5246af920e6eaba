package process

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/lu-zhengda/portscope/internal/runner"
	"golang.org/x/sys/unix"
)

// fakeSignaler records signals and simulates a set of live pids.
type fakeSignaler struct {
	mu      sync.Mutex
	alive   map[int]bool
	foreign map[int]bool // owned by another user
	sent    []unix.Signal
}

func (f *fakeSignaler) Signal(pid int, sig unix.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.alive[pid] {
		return unix.ESRCH
	}
	if f.foreign[pid] {
		return unix.EPERM
	}
	if sig == 0 {
		return nil
	}
	f.sent = append(f.sent, sig)
	if sig == unix.SIGKILL || sig == unix.SIGTERM {
		delete(f.alive, pid)
	}
	return nil
}

func TestKill_ProtectedPIDs(t *testing.T) {
	sig := &fakeSignaler{alive: map[int]bool{0: true, 1: true}}
	c := NewControllerWithSignaler(&runner.Mock{}, sig, nil)

	for _, pid := range []int{0, 1} {
		if err := c.Terminate(pid); !errors.Is(err, ErrProtectedPID) {
			t.Errorf("pid %d: got %v, want ErrProtectedPID", pid, err)
		}
	}
	if len(sig.sent) != 0 {
		t.Errorf("expected no signals, got %v", sig.sent)
	}
}

func TestKill_NotRunning(t *testing.T) {
	c := NewControllerWithSignaler(&runner.Mock{}, &fakeSignaler{alive: map[int]bool{}}, nil)

	err := c.Terminate(4242)
	if !errors.Is(err, ErrNotRunning) {
		t.Fatalf("got %v, want ErrNotRunning", err)
	}
	if err.Error() != "process 4242: process is not running" {
		t.Errorf("message: got %q", err.Error())
	}
}

func TestKill_Permission(t *testing.T) {
	sig := &fakeSignaler{alive: map[int]bool{300: true}, foreign: map[int]bool{300: true}}
	c := NewControllerWithSignaler(&runner.Mock{}, sig, nil)

	err := c.ForceTerminate(300)
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("got %v, want ErrPermission", err)
	}
	if !errors.Is(err, unix.EPERM) {
		t.Errorf("expected underlying EPERM to be preserved: %v", err)
	}
}

func TestTerminateAndForce(t *testing.T) {
	sig := &fakeSignaler{alive: map[int]bool{10: true, 11: true}}
	c := NewControllerWithSignaler(&runner.Mock{}, sig, nil)

	if err := c.Terminate(10); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if err := c.ForceTerminate(11); err != nil {
		t.Fatalf("force: %v", err)
	}
	if len(sig.sent) != 2 || sig.sent[0] != unix.SIGTERM || sig.sent[1] != unix.SIGKILL {
		t.Errorf("signals: got %v", sig.sent)
	}
}

func TestGracefulKill(t *testing.T) {
	sig := &fakeSignaler{alive: map[int]bool{55: true}}
	c := NewControllerWithSignaler(&runner.Mock{}, sig, nil)

	exited, err := c.GracefulKill(context.Background(), 55, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !exited {
		t.Error("expected process to have exited")
	}
}

func TestIsRunning(t *testing.T) {
	sig := &fakeSignaler{alive: map[int]bool{5: true, 6: true}, foreign: map[int]bool{6: true}}
	c := NewControllerWithSignaler(&runner.Mock{}, sig, nil)

	if !c.IsRunning(5) {
		t.Error("pid 5 should be running")
	}
	if !c.IsRunning(6) {
		t.Error("pid 6 owned by another user should be running")
	}
	if c.IsRunning(7) {
		t.Error("pid 7 should not be running")
	}
	if c.IsRunning(0) {
		t.Error("pid 0 should never be reported running")
	}
}

func TestVerifyProcess(t *testing.T) {
	mock := &runner.MultiMock{Responses: map[string]runner.Response{
		"ps -p 100 -o comm=": {Output: []byte("/usr/sbin/nginx\n")},
	}}
	c := NewControllerWithSignaler(mock, &fakeSignaler{}, nil)

	if !c.VerifyProcess(context.Background(), 100, "NGINX") {
		t.Error("expected case-insensitive match")
	}
	if c.VerifyProcess(context.Background(), 100, "node") {
		t.Error("expected mismatch for reused pid")
	}
	if c.VerifyProcess(context.Background(), 101, "nginx") {
		t.Error("expected false for missing pid")
	}
}

func TestParseSignal(t *testing.T) {
	tests := []struct {
		in      string
		want    unix.Signal
		wantErr bool
	}{
		{"TERM", unix.SIGTERM, false},
		{"sigkill", unix.SIGKILL, false},
		{"hup", unix.SIGHUP, false},
		{"9", unix.SIGKILL, false},
		{"BOGUS", 0, true},
	}
	for _, tt := range tests {
		got, err := ParseSignal(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSignal(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSignal(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
