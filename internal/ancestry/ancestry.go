// Package ancestry walks a process's parent chain on demand.
//
// Walks are bounded twice: by MaxDepth hops beyond the originating
// process and by a visited set, so PID reuse or a circular PPID chain
// (100 -> 200 -> 100) always terminates.
package ancestry

import (
	"context"

	"github.com/lu-zhengda/portscope/internal/process"
)

// MaxDepth is the number of parent hops expanded beyond the originating process.
const MaxDepth = 3

// Source supplies process metadata.
type Source interface {
	Resolve(ctx context.Context, pid int) process.Metadata
}

// Node is one materialized ancestor. Parent is nil when the chain ends.
type Node struct {
	PID            int
	ProcessName    string
	ExecutablePath string
	CommandLine    string
	MemoryRaw      string
	CPUPercent     float64
	ParentPID      int // 0 when none
	Parent         *Node
}

// Depth returns the number of nodes in the chain starting at n.
func (n *Node) Depth() int {
	d := 0
	for cur := n; cur != nil; cur = cur.Parent {
		d++
	}
	return d
}

// Resolver expands parent chains.
type Resolver struct {
	source Source
}

// NewResolver creates a Resolver reading metadata from source.
func NewResolver(source Source) *Resolver {
	return &Resolver{source: source}
}

// ParentOf returns the parent pid of pid, or false when there is none.
func (r *Resolver) ParentOf(ctx context.Context, pid int) (int, bool) {
	md := r.source.Resolve(ctx, pid)
	if !md.Found || md.PPID <= 0 {
		return 0, false
	}
	return md.PPID, true
}

// Chain expands the ancestry of pid up to MaxDepth hops.
func (r *Resolver) Chain(ctx context.Context, pid int) *Node {
	return r.ExpandChain(ctx, pid, map[int]struct{}{pid: {}}, MaxDepth)
}

// ExpandChain returns the parent of pid as a node whose own Parent is
// expanded recursively. It returns nil when depth is exhausted, when the
// parent is init/launchd or missing, when pid is its own parent, or when
// the parent was already visited on this chain. visited is not modified.
func (r *Resolver) ExpandChain(ctx context.Context, pid int, visited map[int]struct{}, depth int) *Node {
	return r.expand(ctx, walkCache{}, pid, visited, depth)
}

// walkCache holds the metadata fetched during one walk so each pid is
// queried once.
type walkCache map[int]process.Metadata

func (r *Resolver) lookup(ctx context.Context, cache walkCache, pid int) process.Metadata {
	if md, ok := cache[pid]; ok {
		return md
	}
	md := r.source.Resolve(ctx, pid)
	cache[pid] = md
	return md
}

func (r *Resolver) expand(ctx context.Context, cache walkCache, pid int, visited map[int]struct{}, depth int) *Node {
	if depth <= 0 || ctx.Err() != nil {
		return nil
	}

	cur := r.lookup(ctx, cache, pid)
	if !cur.Found {
		return nil
	}
	ppid := cur.PPID
	if ppid <= 1 || ppid == pid {
		return nil
	}
	if _, seen := visited[ppid]; seen {
		return nil
	}

	md := r.lookup(ctx, cache, ppid)
	node := &Node{
		PID:            ppid,
		ProcessName:    md.Name,
		ExecutablePath: md.ExecutablePath,
		CommandLine:    md.CommandLine,
		MemoryRaw:      md.MemoryRaw,
		CPUPercent:     md.CPUPercent,
	}
	if md.Found && md.PPID > 0 {
		node.ParentPID = md.PPID
	}

	next := make(map[int]struct{}, len(visited)+1)
	for k := range visited {
		next[k] = struct{}{}
	}
	next[ppid] = struct{}{}

	node.Parent = r.expand(ctx, cache, ppid, next, depth-1)
	return node
}
