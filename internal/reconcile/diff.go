// Package reconcile keeps the displayed port tree in step with new
// snapshots using (port, pid) identity, never rendered labels.
package reconcile

import (
	"github.com/lu-zhengda/portscope/internal/port"
)

// OpKind is the kind of change applied to the displayed list.
type OpKind int

const (
	Insert OpKind = iota
	Update
	Remove
)

func (k OpKind) String() string {
	switch k {
	case Insert:
		return "insert"
	case Update:
		return "update"
	default:
		return "remove"
	}
}

// Op is one change. Remove indexes the previous list; Insert and Update
// index the next list.
type Op struct {
	Kind   OpKind
	Key    port.Key
	Index  int
	Record port.Record
}

// Diff returns the operations that turn prev into next. Unchanged
// records produce no op. Removes come first in descending index order,
// followed by inserts and updates in ascending index order, so the ops
// can be applied in sequence. Both lists must share the same ordering.
func Diff(prev, next []port.Record) []Op {
	prevIdx := make(map[port.Key]int, len(prev))
	for i, r := range prev {
		prevIdx[r.Key()] = i
	}
	nextKeys := make(map[port.Key]struct{}, len(next))
	for _, r := range next {
		nextKeys[r.Key()] = struct{}{}
	}

	var ops []Op
	for i := len(prev) - 1; i >= 0; i-- {
		k := prev[i].Key()
		if _, ok := nextKeys[k]; !ok {
			ops = append(ops, Op{Kind: Remove, Key: k, Index: i, Record: prev[i]})
		}
	}

	for j, r := range next {
		k := r.Key()
		i, existed := prevIdx[k]
		switch {
		case !existed:
			ops = append(ops, Op{Kind: Insert, Key: k, Index: j, Record: r})
		case prev[i] != r:
			ops = append(ops, Op{Kind: Update, Key: k, Index: j, Record: r})
		}
	}
	return ops
}

// Counts tallies ops by kind.
func Counts(ops []Op) (inserts, updates, removes int) {
	for _, op := range ops {
		switch op.Kind {
		case Insert:
			inserts++
		case Update:
			updates++
		case Remove:
			removes++
		}
	}
	return inserts, updates, removes
}
