package port

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/lu-zhengda/portscope/internal/process"
	"github.com/lu-zhengda/portscope/internal/runner"
)

// UnknownParent is the parent name used when the parent cannot be resolved.
const UnknownParent = "unknown"

// Resolver supplies process metadata to the scanner.
type Resolver interface {
	Resolve(ctx context.Context, pid int) process.Metadata
	Name(ctx context.Context, pid int) (string, bool)
}

// LsofScanner discovers listening TCP sockets with lsof.
type LsofScanner struct {
	runner   runner.Runner
	resolver Resolver
	logger   *slog.Logger
	now      func() time.Time

	mu      sync.RWMutex
	exclude map[string]bool
}

// NewLsofScanner creates a new scanner backed by lsof.
func NewLsofScanner(run runner.Runner, resolver Resolver, logger *slog.Logger) *LsofScanner {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LsofScanner{
		runner:   run,
		resolver: resolver,
		logger:   logger,
		now:      time.Now,
	}
}

// SetExclude hides listeners whose process name matches one of names
// (case-insensitive) from subsequent scans.
func (s *LsofScanner) SetExclude(names []string) {
	ex := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			ex[strings.ToLower(n)] = true
		}
	}
	s.mu.Lock()
	s.exclude = ex
	s.mu.Unlock()
}

func (s *LsofScanner) excluded(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.exclude[strings.ToLower(name)]
}

// Scan returns a complete snapshot of listening ports sorted by port.
// When lsof cannot be run the snapshot is empty and the error describes
// the failure; callers treat that as "no data this cycle".
func (s *LsofScanner) Scan(ctx context.Context) (Snapshot, error) {
	snap := Snapshot{ScannedAt: s.now()}

	out, err := s.runner.Run(ctx, "lsof", "-nP", "-iTCP", "-sTCP:LISTEN")
	if err != nil {
		// lsof exits 1 with no output when nothing is listening.
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 && len(out) == 0 {
			return snap, nil
		}
		s.logger.Warn("socket enumeration failed", "err", err)
		return snap, fmt.Errorf("failed to run lsof: %w", err)
	}

	listeners := ParseLsofOutput(string(out))

	seen := make(map[Key]bool, len(listeners))
	metadata := make(map[int]process.Metadata)
	parents := make(map[int]string)

	for _, l := range listeners {
		key := Key{Port: l.Port, PID: l.PID}
		if seen[key] {
			continue
		}
		seen[key] = true

		if s.excluded(l.Process) {
			continue
		}

		md, ok := metadata[l.PID]
		if !ok {
			md = s.resolver.Resolve(ctx, l.PID)
			metadata[l.PID] = md
			if !md.Found {
				s.logger.Debug("process vanished before metadata lookup", "pid", l.PID, "port", l.Port)
			}
		}

		snap.Records = append(snap.Records, s.buildRecord(ctx, l, md, parents))
	}

	sort.SliceStable(snap.Records, func(i, j int) bool {
		if snap.Records[i].Port != snap.Records[j].Port {
			return snap.Records[i].Port < snap.Records[j].Port
		}
		return snap.Records[i].PID < snap.Records[j].PID
	})

	return snap, nil
}

func (s *LsofScanner) buildRecord(ctx context.Context, l Listener, md process.Metadata, parents map[int]string) Record {
	rec := Record{
		Port:              l.Port,
		PID:               l.PID,
		ProcessName:       md.Name,
		Owner:             l.User,
		ExecutablePath:    md.ExecutablePath,
		CommandLine:       md.CommandLine,
		MemoryPercent:     md.MemoryPercent,
		MemoryRaw:         md.MemoryRaw,
		CPUPercent:        md.CPUPercent,
		ParentPID:         md.PPID,
		ParentProcessName: UnknownParent,
	}
	// lsof already told us the command name; prefer it over a sentinel.
	if !md.Found && l.Process != "" {
		rec.ProcessName = l.Process
	}
	if rec.Owner == "" {
		rec.Owner = md.User
	}

	if md.PPID > 0 {
		name, ok := parents[md.PPID]
		if !ok {
			if n, found := s.resolver.Name(ctx, md.PPID); found {
				name = n
			} else {
				name = UnknownParent
			}
			parents[md.PPID] = name
		}
		rec.ParentProcessName = name
	}
	return rec
}

// FindByPort scans and returns the records listening on portNum.
func (s *LsofScanner) FindByPort(ctx context.Context, portNum int) ([]Record, error) {
	snap, err := s.Scan(ctx)
	if err != nil {
		return nil, err
	}
	var matched []Record
	for _, r := range snap.Records {
		if r.Port == portNum {
			matched = append(matched, r)
		}
	}
	return matched, nil
}
