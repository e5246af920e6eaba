package process

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/lu-zhengda/portscope/internal/runner"
	"github.com/shirou/gopsutil/v4/mem"
	gproc "github.com/shirou/gopsutil/v4/process"
)

// Sentinels used when a facet of a process cannot be determined.
const (
	Unknown      = "Unknown"
	NotAvailable = "N/A"
)

// Metadata holds what the resolver learned about a single process.
type Metadata struct {
	PID            int
	PPID           int // 0 when unknown
	Name           string
	ExecutablePath string
	CommandLine    string
	User           string
	CPUPercent     float64
	MemoryPercent  float64
	MemoryRSS      int64 // in bytes
	MemoryRaw      string
	Found          bool
}

// NotFound returns the sentinel metadata for a pid that could not be resolved.
func NotFound(pid int) Metadata {
	return Metadata{
		PID:            pid,
		Name:           Unknown,
		ExecutablePath: Unknown,
		CommandLine:    Unknown,
		User:           Unknown,
		MemoryRaw:      NotAvailable,
	}
}

// Resolver looks up process metadata through ps, with gopsutil supplying
// total physical memory and executable paths.
type Resolver struct {
	runner runner.Runner
	logger *slog.Logger

	exeLookup   func(ctx context.Context, pid int) (string, error)
	totalMemory func(ctx context.Context) (uint64, error)

	memOnce  sync.Once
	memTotal uint64
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLogger sets the logger used for degraded lookups.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) { r.logger = l }
}

// WithExecutableLookup replaces the executable path lookup.
func WithExecutableLookup(fn func(ctx context.Context, pid int) (string, error)) Option {
	return func(r *Resolver) { r.exeLookup = fn }
}

// WithTotalMemory replaces the physical memory lookup.
func WithTotalMemory(fn func(ctx context.Context) (uint64, error)) Option {
	return func(r *Resolver) { r.totalMemory = fn }
}

// NewResolver creates a Resolver backed by the given runner.
func NewResolver(run runner.Runner, opts ...Option) *Resolver {
	r := &Resolver{
		runner:      run,
		logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		exeLookup:   gopsutilExe,
		totalMemory: gopsutilTotalMemory,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func gopsutilExe(ctx context.Context, pid int) (string, error) {
	p, err := gproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return "", err
	}
	return p.ExeWithContext(ctx)
}

func gopsutilTotalMemory(ctx context.Context) (uint64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return vm.Total, nil
}

// Resolve returns metadata for pid. It never fails: pids <= 1, pids that
// are not running and pids that exit mid-query all degrade to sentinels.
func (r *Resolver) Resolve(ctx context.Context, pid int) Metadata {
	if pid <= 1 {
		return NotFound(pid)
	}

	out, err := r.runner.Run(ctx, "ps", "-p", strconv.Itoa(pid), "-o", "ppid=,user=,%cpu=,rss=,comm=")
	if err != nil {
		r.logger.Debug("ps lookup failed", "pid", pid, "err", err)
		return NotFound(pid)
	}

	line := strings.TrimSpace(string(out))
	if line == "" {
		return NotFound(pid)
	}

	st, err := parseStatLine(line)
	if err != nil {
		r.logger.Warn("unparseable ps output", "pid", pid, "err", err)
		return NotFound(pid)
	}

	md := Metadata{
		PID:            pid,
		PPID:           st.ppid,
		Name:           filepath.Base(st.comm),
		User:           st.user,
		CPUPercent:     roundTenth(st.cpu),
		MemoryRSS:      st.rssBytes,
		MemoryRaw:      FormatMemory(st.rssBytes),
		CommandLine:    Unknown,
		ExecutablePath: Unknown,
		Found:          true,
	}

	if total := r.physicalMemory(ctx); total > 0 {
		md.MemoryPercent = roundTenth(float64(st.rssBytes) / float64(total) * 100)
	}

	// The process may exit between the two ps calls; keep the sentinel then.
	if cmdOut, err := r.runner.Run(ctx, "ps", "-p", strconv.Itoa(pid), "-o", "command="); err == nil {
		if cmd := strings.TrimSpace(string(cmdOut)); cmd != "" {
			md.CommandLine = cmd
		}
	}

	if exe, err := r.exeLookup(ctx, pid); err == nil && exe != "" {
		md.ExecutablePath = exe
	} else if filepath.IsAbs(st.comm) {
		md.ExecutablePath = st.comm
	}

	return md
}

// Name returns the short process name for pid.
func (r *Resolver) Name(ctx context.Context, pid int) (string, bool) {
	if pid <= 0 {
		return "", false
	}
	out, err := r.runner.Run(ctx, "ps", "-p", strconv.Itoa(pid), "-o", "comm=")
	if err != nil {
		return "", false
	}
	name := strings.TrimSpace(string(out))
	if name == "" {
		return "", false
	}
	return filepath.Base(name), true
}

func (r *Resolver) physicalMemory(ctx context.Context) uint64 {
	r.memOnce.Do(func() {
		total, err := r.totalMemory(ctx)
		if err != nil {
			r.logger.Warn("failed to read physical memory size", "err", err)
			return
		}
		r.memTotal = total
	})
	return r.memTotal
}

type statLine struct {
	ppid     int
	user     string
	cpu      float64
	rssBytes int64
	comm     string
}

// parseStatLine parses the output of ps -o ppid=,user=,%cpu=,rss=,comm=.
// comm is last because it can contain spaces on macOS.
func parseStatLine(line string) (statLine, error) {
	fields := strings.Fields(line)
	if len(fields) < 5 {
		return statLine{}, fmt.Errorf("unexpected ps output format: %q", line)
	}

	ppid, err := strconv.Atoi(fields[0])
	if err != nil {
		return statLine{}, fmt.Errorf("failed to parse PPID: %w", err)
	}

	cpu, err := strconv.ParseFloat(fields[2], 64)
	if err != nil {
		cpu = 0.0
	}

	rss, err := strconv.ParseInt(fields[3], 10, 64)
	if err != nil {
		rss = 0
	}

	return statLine{
		ppid:     ppid,
		user:     fields[1],
		cpu:      cpu,
		rssBytes: rss * 1024, // ps reports kilobytes
		comm:     strings.Join(fields[4:], " "),
	}, nil
}

// FormatMemory renders a byte count as KB below 1 MiB, MB below 1 GiB
// and GB above.
func FormatMemory(b int64) string {
	const (
		kb = 1024
		mb = kb * 1024
		gb = mb * 1024
	)
	switch {
	case b < 0:
		return NotAvailable
	case b >= gb:
		return fmt.Sprintf("%.2f GB", float64(b)/float64(gb))
	case b >= mb:
		return fmt.Sprintf("%.1f MB", float64(b)/float64(mb))
	default:
		return fmt.Sprintf("%.0f KB", float64(b)/float64(kb))
	}
}

func roundTenth(f float64) float64 {
	return math.Round(f*10) / 10
}
