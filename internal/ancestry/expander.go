package ancestry

import (
	"context"

	"github.com/google/uuid"
)

// Expansion is a single-shot, background ancestry walk for one displayed
// node.
type Expansion struct {
	ID  uuid.UUID
	PID int

	done   chan struct{}
	result *Node
}

// Done is closed when the walk has finished.
func (e *Expansion) Done() <-chan struct{} {
	return e.done
}

// Result returns the chain, or nil while pending or when there is no
// further ancestry.
func (e *Expansion) Result() *Node {
	select {
	case <-e.done:
		return e.result
	default:
		return nil
	}
}

// Ready reports whether the walk has finished.
func (e *Expansion) Ready() bool {
	select {
	case <-e.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the walk finishes or ctx is done.
func (e *Expansion) Wait(ctx context.Context) (*Node, error) {
	select {
	case <-e.done:
		return e.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Expander launches expansions. Each Start spawns an independent
// goroutine, so expansions never queue behind a scan.
type Expander struct {
	resolver *Resolver
	ctx      context.Context
}

// NewExpander creates an Expander whose walks are cancelled with ctx.
func NewExpander(ctx context.Context, resolver *Resolver) *Expander {
	return &Expander{resolver: resolver, ctx: ctx}
}

// Start begins expanding the ancestry of pid and returns immediately.
func (x *Expander) Start(pid int) *Expansion {
	e := &Expansion{
		ID:   uuid.New(),
		PID:  pid,
		done: make(chan struct{}),
	}
	go e.run(x.ctx, x.resolver)
	return e
}

func (e *Expansion) run(ctx context.Context, r *Resolver) {
	defer close(e.done)
	e.result = r.Chain(ctx, e.PID)
}
