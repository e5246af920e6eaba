// Package runner abstracts invocation of the external OS utilities the
// scanner and resolver shell out to (lsof, ps).
package runner

import (
	"context"
	"io"
	"os/exec"
	"strings"
	"sync"
)

// Runner executes a command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// Real executes real commands.
type Real struct{}

// Run executes a command and returns its stdout. Stderr is suppressed
// so it cannot leak into TUI output.
func (r *Real) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = io.Discard
	return cmd.Output()
}

// Mock returns a canned response for every command.
type Mock struct {
	Output []byte
	Err    error
}

// Run returns the pre-configured output and error.
func (m *Mock) Run(_ context.Context, _ string, _ ...string) ([]byte, error) {
	return m.Output, m.Err
}

// Response holds a single command's output and error.
type Response struct {
	Output []byte
	Err    error
}

// MultiMock returns different responses based on the command line.
// Keys are "name arg1 arg2 ..." strings. Calls are counted per key so
// tests can assert how often a facility was queried.
type MultiMock struct {
	Responses map[string]Response

	mu    sync.Mutex
	calls map[string]int
}

// Run looks up the command key and returns its pre-configured response.
// Unknown commands yield empty output and a nil error.
func (m *MultiMock) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	key := Key(name, args...)

	m.mu.Lock()
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[key]++
	m.mu.Unlock()

	if resp, ok := m.Responses[key]; ok {
		return resp.Output, resp.Err
	}
	return nil, nil
}

// Calls reports how many times the given command line was run.
func (m *MultiMock) Calls(name string, args ...string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[Key(name, args...)]
}

// Key builds the lookup key used by MultiMock.
func Key(name string, args ...string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
