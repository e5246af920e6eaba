package reconcile

import (
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/lu-zhengda/portscope/internal/ancestry"
	"github.com/lu-zhengda/portscope/internal/filter"
	"github.com/lu-zhengda/portscope/internal/port"
)

// DefaultPageSize is how many rows are shown before "show more".
const DefaultPageSize = 15

// Starter launches ancestry expansions.
type Starter interface {
	Start(pid int) *ancestry.Expansion
}

// Row is one displayed port entry with its expansion state.
type Row struct {
	Record    port.Record
	Expanded  bool
	Expansion *ancestry.Expansion // nil until first expanded
	Resolved  bool                // Chain holds the result of Expansion
	Chain     *ancestry.Node      // nil when there is no further ancestry
}

// View is the live, filtered, paginated list the presentation layer
// renders. It is not safe for concurrent use; the presentation layer
// owns it.
type View struct {
	pageSize int
	showAll  bool
	filter   filter.Spec
	snapshot *port.Snapshot

	rows  []*Row
	index map[port.Key]*Row
}

// NewView creates an empty view. A non-positive pageSize uses the default.
func NewView(pageSize int) *View {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &View{
		pageSize: pageSize,
		index:    make(map[port.Key]*Row),
	}
}

// Update reconciles a newly published snapshot under the current filter.
func (v *View) Update(snap *port.Snapshot) []Op {
	v.snapshot = snap
	return v.reconcile()
}

// SetFilter re-filters the cached snapshot. It never triggers a scan.
func (v *View) SetFilter(spec filter.Spec) []Op {
	v.filter = spec
	return v.reconcile()
}

// Filter returns the active filter.
func (v *View) Filter() filter.Spec {
	return v.filter
}

// Snapshot returns the cached snapshot.
func (v *View) Snapshot() *port.Snapshot {
	return v.snapshot
}

func (v *View) reconcile() []Op {
	var records []port.Record
	if v.snapshot != nil {
		records = filter.Apply(v.filter, v.snapshot.Records)
	}
	ops := Diff(v.Records(), records)
	v.apply(ops)
	return ops
}

func (v *View) apply(ops []Op) {
	for _, op := range ops {
		switch op.Kind {
		case Remove:
			v.rows = slices.Delete(v.rows, op.Index, op.Index+1)
			delete(v.index, op.Key)
		case Insert:
			row := &Row{Record: op.Record}
			v.rows = slices.Insert(v.rows, op.Index, row)
			v.index[op.Key] = row
		case Update:
			row := v.rows[op.Index]
			// Same (port, pid) but a different program: the pid was reused.
			if row.Record.ProcessName != op.Record.ProcessName ||
				row.Record.ExecutablePath != op.Record.ExecutablePath {
				row.Expanded = false
				row.Expansion = nil
				row.Resolved = false
				row.Chain = nil
			}
			row.Record = op.Record
		}
	}
}

// Records returns the filtered records currently displayed, in order.
func (v *View) Records() []port.Record {
	out := make([]port.Record, len(v.rows))
	for i, r := range v.rows {
		out[i] = r.Record
	}
	return out
}

// Rows returns every filtered row, including those hidden by pagination.
func (v *View) Rows() []*Row {
	return v.rows
}

// Row returns the row for key.
func (v *View) Row(key port.Key) (*Row, bool) {
	r, ok := v.index[key]
	return r, ok
}

// Visible returns the rows on screen: the first page unless expanded.
func (v *View) Visible() []*Row {
	if v.showAll || len(v.rows) <= v.pageSize {
		return v.rows
	}
	return v.rows[:v.pageSize]
}

// Hidden returns how many rows pagination hides.
func (v *View) Hidden() int {
	return len(v.rows) - len(v.Visible())
}

// Paginated reports whether there are more rows than one page.
func (v *View) Paginated() bool {
	return len(v.rows) > v.pageSize
}

// ShowingAll reports whether the remainder is revealed.
func (v *View) ShowingAll() bool {
	return v.showAll
}

// ToggleShowAll flips between the first page and every row. It only
// re-renders from the cached snapshot.
func (v *View) ToggleShowAll() bool {
	v.showAll = !v.showAll
	return v.showAll
}

// PageSize returns the page size.
func (v *View) PageSize() int {
	return v.pageSize
}

// SetPageSize changes the page size; non-positive values are ignored.
func (v *View) SetPageSize(n int) {
	if n > 0 {
		v.pageSize = n
	}
}

// MoreLabel is the pagination toggle's text, or "" when not paginated.
func (v *View) MoreLabel() string {
	if !v.Paginated() {
		return ""
	}
	if v.showAll {
		return "Show less"
	}
	return fmt.Sprintf("Show %d more...", v.Hidden())
}

// Summary returns "X of Y (filtered)" with an active filter, else "X total".
func (v *View) Summary() string {
	total := v.snapshot.Len()
	if v.filter.Active() {
		return fmt.Sprintf("%d of %d (filtered)", len(v.rows), total)
	}
	return fmt.Sprintf("%d total", total)
}

// EmptyMessage explains an empty list, distinguishing "nothing listening"
// from "nothing matches". It returns "" when there are rows.
func (v *View) EmptyMessage() string {
	switch {
	case len(v.rows) > 0:
		return ""
	case v.snapshot == nil:
		return "Waiting for first scan..."
	case v.snapshot.Len() == 0:
		return "No listening ports found."
	default:
		return fmt.Sprintf("No ports match filter %q.", v.filter.String())
	}
}

// Expand marks the row expanded and returns its ancestry expansion,
// starting one only if this row has never been expanded.
func (v *View) Expand(key port.Key, starter Starter) (*ancestry.Expansion, bool) {
	row, ok := v.index[key]
	if !ok {
		return nil, false
	}
	row.Expanded = true
	if row.Expansion == nil {
		row.Expansion = starter.Start(row.Record.PID)
	}
	return row.Expansion, true
}

// Collapse hides a row's ancestry but keeps the computed chain.
func (v *View) Collapse(key port.Key) {
	if row, ok := v.index[key]; ok {
		row.Expanded = false
	}
}

// ToggleExpand expands a collapsed row or collapses an expanded one. The
// returned expansion is non-nil only when the row became expanded.
func (v *View) ToggleExpand(key port.Key, starter Starter) *ancestry.Expansion {
	row, ok := v.index[key]
	if !ok {
		return nil
	}
	if row.Expanded {
		v.Collapse(key)
		return nil
	}
	e, _ := v.Expand(key, starter)
	return e
}

// ExpansionByID finds the row that owns the expansion request id.
func (v *View) ExpansionByID(id uuid.UUID) (*Row, bool) {
	for _, r := range v.rows {
		if r.Expansion != nil && r.Expansion.ID == id {
			return r, true
		}
	}
	return nil, false
}

// Resolve stores the chain computed for request id on the row that still
// owns that request. It reports false, dropping the result, when the row
// is gone or has since been reset by PID reuse.
func (v *View) Resolve(id uuid.UUID, chain *ancestry.Node) (*Row, bool) {
	row, ok := v.ExpansionByID(id)
	if !ok {
		return nil, false
	}
	row.Chain = chain
	row.Resolved = true
	return row, true
}
