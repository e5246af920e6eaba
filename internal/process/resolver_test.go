package process

import (
	"context"
	"errors"
	"testing"

	"github.com/lu-zhengda/portscope/internal/runner"
)

const gib = 1024 * 1024 * 1024

func newTestResolver(responses map[string]runner.Response) (*Resolver, *runner.MultiMock) {
	mock := &runner.MultiMock{Responses: responses}
	r := NewResolver(mock,
		WithExecutableLookup(func(_ context.Context, pid int) (string, error) {
			return "", errors.New("not supported")
		}),
		WithTotalMemory(func(_ context.Context) (uint64, error) {
			return 16 * gib, nil
		}),
	)
	return r, mock
}

func TestResolve(t *testing.T) {
	r, _ := newTestResolver(map[string]runner.Response{
		"ps -p 1234 -o ppid=,user=,%cpu=,rss=,comm=": {Output: []byte("  500 alice   2.5  167772 /usr/local/bin/node\n")},
		"ps -p 1234 -o command=":                     {Output: []byte("node server.js --port 8080\n")},
	})

	md := r.Resolve(context.Background(), 1234)

	if !md.Found {
		t.Fatal("expected process to be found")
	}
	if md.PPID != 500 {
		t.Errorf("ppid: got %d, want 500", md.PPID)
	}
	if md.Name != "node" {
		t.Errorf("name: got %q, want node", md.Name)
	}
	if md.ExecutablePath != "/usr/local/bin/node" {
		t.Errorf("exe: got %q, want /usr/local/bin/node", md.ExecutablePath)
	}
	if md.CommandLine != "node server.js --port 8080" {
		t.Errorf("command: got %q", md.CommandLine)
	}
	if md.User != "alice" {
		t.Errorf("user: got %q, want alice", md.User)
	}
	if md.CPUPercent != 2.5 {
		t.Errorf("cpu: got %v, want 2.5", md.CPUPercent)
	}
	if md.MemoryRaw != "163.8 MB" {
		t.Errorf("memory raw: got %q, want 163.8 MB", md.MemoryRaw)
	}
	if md.MemoryPercent != 1.0 {
		t.Errorf("memory percent: got %v, want 1.0", md.MemoryPercent)
	}
}

func TestResolve_ExecutableLookupWins(t *testing.T) {
	mock := &runner.MultiMock{Responses: map[string]runner.Response{
		"ps -p 42 -o ppid=,user=,%cpu=,rss=,comm=": {Output: []byte("1 root 0.0 1024 sshd\n")},
	}}
	r := NewResolver(mock,
		WithExecutableLookup(func(_ context.Context, pid int) (string, error) {
			return "/usr/sbin/sshd", nil
		}),
		WithTotalMemory(func(_ context.Context) (uint64, error) { return 0, errors.New("nope") }),
	)

	md := r.Resolve(context.Background(), 42)
	if md.ExecutablePath != "/usr/sbin/sshd" {
		t.Errorf("exe: got %q, want /usr/sbin/sshd", md.ExecutablePath)
	}
	if md.MemoryPercent != 0 {
		t.Errorf("memory percent without total: got %v, want 0", md.MemoryPercent)
	}
	// Exited between the two ps calls: command line stays a sentinel.
	if md.CommandLine != Unknown {
		t.Errorf("command: got %q, want %q", md.CommandLine, Unknown)
	}
}

func TestResolve_NotFound(t *testing.T) {
	tests := []struct {
		name      string
		pid       int
		responses map[string]runner.Response
	}{
		{"pid zero", 0, nil},
		{"pid one", 1, nil},
		{"negative", -7, nil},
		{"ps fails", 999, map[string]runner.Response{
			"ps -p 999 -o ppid=,user=,%cpu=,rss=,comm=": {Err: errors.New("exit status 1")},
		}},
		{"empty output", 999, map[string]runner.Response{
			"ps -p 999 -o ppid=,user=,%cpu=,rss=,comm=": {Output: []byte("\n")},
		}},
		{"short line", 999, map[string]runner.Response{
			"ps -p 999 -o ppid=,user=,%cpu=,rss=,comm=": {Output: []byte("12 bob\n")},
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, _ := newTestResolver(tt.responses)
			md := r.Resolve(context.Background(), tt.pid)
			if md.Found {
				t.Fatal("expected not found")
			}
			if md.Name != Unknown || md.ExecutablePath != Unknown || md.MemoryRaw != NotAvailable {
				t.Errorf("expected sentinels, got %+v", md)
			}
			if md.PID != tt.pid {
				t.Errorf("pid: got %d, want %d", md.PID, tt.pid)
			}
		})
	}
}

func TestResolve_SkipsOSForLowPIDs(t *testing.T) {
	r, mock := newTestResolver(nil)
	r.Resolve(context.Background(), 1)
	if n := mock.Calls("ps", "-p", "1", "-o", "ppid=,user=,%cpu=,rss=,comm="); n != 0 {
		t.Errorf("expected no ps call for pid 1, got %d", n)
	}
}

func TestName(t *testing.T) {
	r, _ := newTestResolver(map[string]runner.Response{
		"ps -p 77 -o comm=": {Output: []byte("/Applications/Google Chrome.app/Contents/MacOS/Google Chrome\n")},
	})

	name, ok := r.Name(context.Background(), 77)
	if !ok || name != "Google Chrome" {
		t.Errorf("got (%q, %v), want (Google Chrome, true)", name, ok)
	}

	if _, ok := r.Name(context.Background(), 78); ok {
		t.Error("expected missing process to report false")
	}
}

func TestParseStatLine_CommWithSpaces(t *testing.T) {
	st, err := parseStatLine("1 bob 0.3 2048 /Applications/My App.app/Contents/MacOS/My App")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st.comm != "/Applications/My App.app/Contents/MacOS/My App" {
		t.Errorf("comm: got %q", st.comm)
	}
	if st.rssBytes != 2048*1024 {
		t.Errorf("rss: got %d", st.rssBytes)
	}
}

func TestFormatMemory(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 KB"},
		{512 * 1024, "512 KB"},
		{1024*1024 - 1, "1024 KB"},
		{1024 * 1024, "1.0 MB"},
		{150 * 1024 * 1024, "150.0 MB"},
		{gib, "1.00 GB"},
		{gib + gib/4, "1.25 GB"},
		{-1, NotAvailable},
	}
	for _, tt := range tests {
		if got := FormatMemory(tt.in); got != tt.want {
			t.Errorf("FormatMemory(%d): got %q, want %q", tt.in, got, tt.want)
		}
	}
}
