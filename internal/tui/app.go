package tui

import (
	"context"
	"errors"
	"fmt"
	"os/user"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/google/uuid"
	"github.com/lu-zhengda/portscope/internal/ancestry"
	"github.com/lu-zhengda/portscope/internal/config"
	"github.com/lu-zhengda/portscope/internal/filter"
	"github.com/lu-zhengda/portscope/internal/port"
	"github.com/lu-zhengda/portscope/internal/process"
	"github.com/lu-zhengda/portscope/internal/reconcile"
	"github.com/lu-zhengda/portscope/internal/refresh"
	"github.com/mattn/go-runewidth"
)

// viewState tracks which screen the TUI is currently showing.
type viewState int

const (
	viewTree viewState = iota
	viewKillConfirm
	viewKillResult
	viewFilter
)

// Messages for async operations.
type eventMsg refresh.Event

type eventsClosedMsg struct{}

// ancestryMsg carries a finished walk back to the row that requested it.
type ancestryMsg struct {
	id   uuid.UUID
	node *ancestry.Node
}

type killDoneMsg struct {
	record port.Record
	err    error
	forced bool
}

type configMsg *config.Config

// Deps are the core components the TUI drives.
type Deps struct {
	Coordinator *refresh.Coordinator
	Controller  *process.Controller
	Expander    *ancestry.Expander
	Config      *config.Config
	// ConfigChanges delivers reloaded configs; may be nil.
	ConfigChanges <-chan *config.Config
	// OnConfig applies a reloaded config to non-UI components; may be nil.
	OnConfig func(*config.Config)
	Version  string
}

// Model is the main Bubbletea model for the portscope TUI.
type Model struct {
	coord      *refresh.Coordinator
	controller *process.Controller
	expander   *ancestry.Expander
	cfg        *config.Config
	configCh   <-chan *config.Config
	onConfig   func(*config.Config)
	version    string

	view   *reconcile.View
	cursor int

	scanning bool
	paused   bool
	failures int
	scanErr  error

	filterInput textinput.Model
	filterErr   error

	killRecord *port.Record
	killResult string
	killErr    error

	currentUser string
	spinner     spinner.Model

	width  int
	height int

	currentView viewState
}

// New creates a new TUI model.
func New(d Deps) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(colorCyan)

	ti := textinput.New()
	ti.Placeholder = "80,443,8000-9000"
	ti.CharLimit = 256
	ti.Prompt = "ports: "

	currentUser := "unknown"
	if u, err := user.Current(); err == nil {
		currentUser = u.Username
	}

	cfg := d.Config
	if cfg == nil {
		cfg = config.Default()
	}

	v := reconcile.NewView(cfg.PageSize)
	spec, ferr := filter.Parse(cfg.DefaultFilter)
	v.SetFilter(spec)
	ti.SetValue(cfg.DefaultFilter)

	m := Model{
		coord:       d.Coordinator,
		controller:  d.Controller,
		expander:    d.Expander,
		cfg:         cfg,
		configCh:    d.ConfigChanges,
		onConfig:    d.OnConfig,
		version:     d.Version,
		view:        v,
		filterInput: ti,
		filterErr:   ferr,
		currentUser: currentUser,
		scanning:    true,
		spinner:     sp,
		currentView: viewTree,
	}
	if snap := d.Coordinator.Latest(); snap != nil {
		m.view.Update(snap)
	}
	return m
}

// Init starts the spinner and begins listening for coordinator events.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent(), m.waitForConfig())
}

func (m Model) waitForEvent() tea.Cmd {
	events := m.coord.Events()
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return eventsClosedMsg{}
		}
		return eventMsg(ev)
	}
}

func (m Model) waitForConfig() tea.Cmd {
	if m.configCh == nil {
		return nil
	}
	ch := m.configCh
	return func() tea.Msg {
		cfg, ok := <-ch
		if !ok {
			return nil
		}
		return configMsg(cfg)
	}
}

func waitForAncestry(e *ancestry.Expansion) tea.Cmd {
	return func() tea.Msg {
		node, _ := e.Wait(context.Background())
		return ancestryMsg{id: e.ID, node: node}
	}
}

func (m Model) doKill(rec port.Record, force bool) tea.Cmd {
	ctrl := m.controller
	coord := m.coord
	delay := m.cfg.KillRefreshDelay()
	return func() tea.Msg {
		var err error
		if force {
			err = ctrl.ForceTerminate(rec.PID)
		} else {
			err = ctrl.Terminate(rec.PID)
		}
		// Rescan whatever the outcome so the tree reflects reality.
		coord.RefreshAfter(delay)
		return killDoneMsg{record: rec, err: err, forced: force}
	}
}

// Update handles all messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case eventMsg:
		m.handleEvent(refresh.Event(msg))
		return m, m.waitForEvent()

	case eventsClosedMsg:
		return m, nil

	case ancestryMsg:
		// Rows that vanished or were reset by PID reuse no longer own
		// this request id; their stale result is dropped.
		m.view.Resolve(msg.id, msg.node)
		return m, nil

	case configMsg:
		cfg := (*config.Config)(msg)
		m.cfg = cfg
		m.view.SetPageSize(cfg.PageSize)
		m.coord.SetInterval(cfg.Interval())
		if m.onConfig != nil {
			m.onConfig(cfg)
		}
		return m, m.waitForConfig()

	case killDoneMsg:
		m.killErr = msg.err
		if msg.err == nil {
			verb := "Sent SIGTERM to"
			if msg.forced {
				verb = "Sent SIGKILL to"
			}
			m.killResult = fmt.Sprintf("%s %s (PID %d) on port %d", verb, msg.record.ProcessName, msg.record.PID, msg.record.Port)
		}
		m.currentView = viewKillResult
		return m, nil

	case tea.KeyMsg:
		if msg.String() == "ctrl+c" {
			return m, tea.Quit
		}

		switch m.currentView {
		case viewTree:
			return m.updateTree(msg)
		case viewKillConfirm:
			return m.updateKillConfirm(msg)
		case viewKillResult:
			return m.updateKillResult(msg)
		case viewFilter:
			return m.updateFilter(msg)
		}
	}

	return m, nil
}

func (m *Model) handleEvent(ev refresh.Event) {
	switch ev.Kind {
	case refresh.ScanStarted:
		m.scanning = true
	case refresh.ScanEnded:
		m.scanning = ev.State == refresh.Scanning
		m.failures = ev.Failures
		m.scanErr = ev.Err
		// Catch up if a SnapshotUpdated was dropped while we lagged.
		if latest := m.coord.Latest(); latest != nil && latest != m.view.Snapshot() {
			m.view.Update(latest)
			m.clampCursor()
		}
	case refresh.SnapshotUpdated:
		m.scanning = ev.State == refresh.Scanning
		m.failures = ev.Failures
		m.scanErr = nil
		if ev.Snapshot != nil && ev.Snapshot != m.view.Snapshot() {
			m.view.Update(ev.Snapshot)
			m.clampCursor()
		}
	case refresh.StateChanged:
		m.paused = ev.State == refresh.Paused
	}
}

// itemCount is the number of selectable lines: visible rows plus the
// "show more" toggle when paginated.
func (m Model) itemCount() int {
	n := len(m.view.Visible())
	if m.view.Paginated() {
		n++
	}
	return n
}

func (m *Model) clampCursor() {
	if n := m.itemCount(); m.cursor >= n {
		m.cursor = max(0, n-1)
	}
}

func (m Model) onMoreToggle() bool {
	return m.view.Paginated() && m.cursor == len(m.view.Visible())
}

func (m Model) selectedRow() *reconcile.Row {
	rows := m.view.Visible()
	if m.cursor < 0 || m.cursor >= len(rows) {
		return nil
	}
	return rows[m.cursor]
}

func (m Model) updateTree(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "j", "down":
		if m.cursor < m.itemCount()-1 {
			m.cursor++
		}
	case "k", "up":
		if m.cursor > 0 {
			m.cursor--
		}
	case "enter", "l", "right", " ":
		if m.onMoreToggle() {
			m.view.ToggleShowAll()
			m.clampCursor()
			return m, nil
		}
		if row := m.selectedRow(); row != nil {
			if e := m.view.ToggleExpand(row.Record.Key(), m.expander); e != nil && !row.Resolved {
				return m, waitForAncestry(e)
			}
		}
	case "h", "left":
		if row := m.selectedRow(); row != nil {
			m.view.Collapse(row.Record.Key())
		}
	case "m":
		m.view.ToggleShowAll()
		m.clampCursor()
	case "K":
		if row := m.selectedRow(); row != nil {
			rec := row.Record
			m.killRecord = &rec
			m.currentView = viewKillConfirm
		}
	case "r":
		if m.coord.Refresh() {
			return m, m.spinner.Tick
		}
	case "p":
		m.paused = m.coord.TogglePause()
	case "/":
		m.currentView = viewFilter
		m.filterInput.Focus()
		return m, textinput.Blink
	case "esc":
		if m.view.Filter().Active() {
			m.filterInput.SetValue("")
			m.filterErr = nil
			m.view.SetFilter(nil)
			m.clampCursor()
		}
	}
	return m, nil
}

func (m Model) updateKillConfirm(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "y":
		if m.killRecord != nil {
			return m, m.doKill(*m.killRecord, false)
		}
	case "f":
		if m.killRecord != nil {
			return m, m.doKill(*m.killRecord, true)
		}
	case "n", "esc", "N":
		m.currentView = viewTree
		m.killRecord = nil
	case "q":
		return m, tea.Quit
	}
	return m, nil
}

func (m Model) updateKillResult(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q":
		return m, tea.Quit
	case "esc", "enter", "backspace":
		m.currentView = viewTree
		m.killRecord = nil
		m.killResult = ""
		m.killErr = nil
	}
	return m, nil
}

func (m Model) updateFilter(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "enter":
		spec, err := filter.Parse(m.filterInput.Value())
		m.filterErr = err
		m.view.SetFilter(spec)
		m.clampCursor()
		m.filterInput.Blur()
		m.currentView = viewTree
		return m, nil
	case "esc":
		m.filterInput.SetValue(m.view.Filter().String())
		m.filterInput.Blur()
		m.currentView = viewTree
		return m, nil
	}
	var cmd tea.Cmd
	m.filterInput, cmd = m.filterInput.Update(msg)
	return m, cmd
}

// View renders the TUI.
func (m Model) View() string {
	switch m.currentView {
	case viewKillConfirm:
		return m.viewKillConfirm()
	case viewKillResult:
		return m.viewKillResult()
	case viewFilter:
		return m.viewFilter()
	default:
		return m.viewTree()
	}
}

func (m Model) viewTree() string {
	var b strings.Builder

	title := titleStyle.Render(fmt.Sprintf("portscope %s", m.version))
	stats := dimStyle.Render(m.view.Summary())
	status := ""
	switch {
	case m.paused:
		status = warnStyle.Render("  [PAUSED]")
	case m.scanning:
		status = "  " + m.spinner.View()
	}
	b.WriteString(title + "  " + stats + status + "\n")

	if m.failures >= m.cfg.FailureThreshold && m.scanErr != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("  Scanning has failed %d times in a row: %v", m.failures, m.scanErr)) + "\n")
	}

	b.WriteString(headerStyle.Render(fmt.Sprintf(
		"  %-7s %-8s %-18s %-11s %-7s %-10s %s",
		"PORT", "PID", "PROCESS", "USER", "CPU", "MEM", "PARENT",
	)) + "\n")

	if msg := m.view.EmptyMessage(); msg != "" {
		if m.scanning && m.view.Snapshot() == nil {
			msg = m.spinner.View() + " Scanning ports..."
		}
		b.WriteString("\n  " + msg + "\n")
	}

	for i, row := range m.view.Visible() {
		cursor := "  "
		if i == m.cursor {
			cursor = cursorStyle.Render("> ")
		}
		b.WriteString(cursor + m.renderRow(row) + "\n")
		if row.Expanded {
			b.WriteString(renderAncestry(row))
		}
	}

	if label := m.view.MoreLabel(); label != "" {
		cursor := "  "
		if m.onMoreToggle() {
			cursor = cursorStyle.Render("> ")
		}
		b.WriteString(cursor + moreStyle.Render(label) + "\n")
	}

	if spec := m.view.Filter(); spec.Active() {
		b.WriteString("\n" + dimStyle.Render("  filter: "+spec.String()))
		if m.filterErr != nil {
			b.WriteString(warnStyle.Render("  (some tokens ignored)"))
		}
		b.WriteString("\n")
	}

	more := "m:more"
	if m.view.ShowingAll() {
		more = "m:less"
	}
	b.WriteString(helpStyle.Render("j/k:navigate  enter:ancestry  "+more+"  K:kill  r:refresh  p:pause  /:filter  q:quit") + "\n")

	return b.String()
}

func (m Model) renderRow(row *reconcile.Row) string {
	r := row.Record
	marker := "+"
	if row.Expanded {
		marker = "-"
	}
	line := fmt.Sprintf("%-7d %-8d %-18s %-11s %-7s %-10s %s",
		r.Port, r.PID,
		truncate(marker+" "+r.ProcessName, 18),
		truncate(r.Owner, 11),
		fmt.Sprintf("%.1f%%", r.CPUPercent),
		truncate(r.MemoryRaw, 10),
		r.ParentProcessName,
	)
	if !m.cfg.ColorEnabled {
		return line
	}
	return processStyle(r.Owner).Render(line)
}

func renderAncestry(row *reconcile.Row) string {
	const indent = "          "
	if !row.Resolved {
		return treeStyle.Render(indent+"└─ resolving ancestry...") + "\n"
	}
	node := row.Chain
	if node == nil {
		return treeStyle.Render(indent+"└─ no further ancestry") + "\n"
	}

	var b strings.Builder
	depth := 0
	for cur := node; cur != nil; cur = cur.Parent {
		pad := indent + strings.Repeat("   ", depth)
		b.WriteString(treeStyle.Render(fmt.Sprintf("%s└─ %d %s", pad, cur.PID, cur.ProcessName)))
		b.WriteString(dimStyle.Render(fmt.Sprintf("  %s  cpu %.1f%%  mem %s", truncate(cur.ExecutablePath, 40), cur.CPUPercent, cur.MemoryRaw)))
		b.WriteString("\n")
		depth++
	}
	return b.String()
}

func (m Model) viewKillConfirm() string {
	var b strings.Builder

	b.WriteString(dangerStyle.Render(" KILL PROCESS ") + "\n\n")

	if m.killRecord == nil {
		b.WriteString("  No process selected.\n")
		b.WriteString(helpStyle.Render("\nesc cancel | q quit") + "\n")
		return b.String()
	}

	r := m.killRecord
	b.WriteString(fmt.Sprintf("  Kill process %q (PID %d) on port %d?\n", r.ProcessName, r.PID, r.Port))
	b.WriteString(dimStyle.Render("  "+truncate(r.CommandLine, 70)) + "\n\n")

	if r.Owner == "root" || r.Owner != m.currentUser {
		b.WriteString(warnStyle.Render("  WARNING: This process belongs to user '"+r.Owner+"'.") + "\n")
		b.WriteString(warnStyle.Render("  You may need elevated privileges to kill it.") + "\n\n")
	}

	b.WriteString("  " + dimStyle.Render("[y] SIGTERM (graceful)  [f] SIGKILL (force)  [n] cancel") + "\n")
	b.WriteString(helpStyle.Render("\ny:terminate  f:force  n/esc:cancel") + "\n")
	return b.String()
}

func (m Model) viewKillResult() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("portscope -- Kill Result") + "\n\n")

	if m.killErr != nil {
		b.WriteString(errorStyle.Render(fmt.Sprintf("  Failed: %v", m.killErr)) + "\n")
		if hint := killHint(m.killErr); hint != "" {
			b.WriteString(dimStyle.Render("  "+hint) + "\n")
		}
	} else {
		b.WriteString(successStyle.Render("  "+m.killResult) + "\n")
	}

	b.WriteString(helpStyle.Render("\nenter/esc:back  q:quit") + "\n")
	return b.String()
}

func killHint(err error) string {
	switch {
	case errors.Is(err, process.ErrPermission):
		return "Try again with sudo."
	case errors.Is(err, process.ErrNotRunning):
		return "The process already exited; the list will refresh."
	case errors.Is(err, process.ErrProtectedPID):
		return "System processes cannot be killed from here."
	}
	return ""
}

func (m Model) viewFilter() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("portscope -- Filter") + "\n\n")
	b.WriteString("  " + m.filterInput.View() + "\n")
	b.WriteString(dimStyle.Render("  Comma-separated ports or ranges. Empty shows everything.") + "\n")
	b.WriteString(helpStyle.Render("\nenter:apply  esc:cancel") + "\n")

	return b.String()
}

// truncate shortens s to maxLen display columns, appending "..." if
// truncated.
func truncate(s string, maxLen int) string {
	if maxLen < 4 {
		maxLen = 4
	}
	return runewidth.Truncate(s, maxLen, "...")
}
