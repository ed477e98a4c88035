// Package tui provides a Bubble Tea TUI for browsing recorded sessions.
package tui

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/demorec/demorec/internal/event"
	"github.com/demorec/demorec/internal/session"
)

// ── Styles ────────────

var (
	// Title bar at the very top
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 2)

	// Active tab: bright, underlined
	activeTabStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	// Inactive tab: muted
	inactiveTabStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("245")).
				Background(lipgloss.Color("235")).
				Padding(0, 1)

	// Separator between tabs
	tabSepStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("238")).
			Background(lipgloss.Color("235"))

	// Section heading inside a tab
	sectionHeader = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86"))

	// Key=value label
	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true)

	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	timeStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("178"))

	bulletStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("205"))

	kindClickStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("82")).Bold(true)
	kindKeyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214")).Bold(true)
	kindScrollStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	kindNoteStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("205")).Bold(true)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("235")).
			Foreground(lipgloss.Color("245")).
			Padding(0, 1)

	// Selected row in the Events list
	selectedRowStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("15")).
				Background(lipgloss.Color("237"))
)

// ── Tab definitions ─────────────────

type tabID int

const (
	tabSummary tabID = iota
	tabEvents
	tabScreenshots
	tabVideos
	tabAnnotations
	tabTimeline
	tabCount
)

var tabNames = [tabCount]string{
	"Summary", "Events", "Screenshots", "Videos", "Annotations", "Timeline",
}

// ── Timeline entry ───────────────────

type entryKind string

const (
	kindInput entryKind = "INPUT"
	kindNote  entryKind = "NOTE"
)

type timelineEntry struct {
	ts   int64 // unix milliseconds
	kind entryKind
	text string
}

// ── Model ────────────────────

// Model is the root Bubble Tea model for the session viewer.
type Model struct {
	record   *session.Record
	filename string

	activeTab tabID
	viewports [tabCount]viewport.Model
	width     int
	height    int
	ready     bool
	sortAsc   bool
	timeline  []timelineEntry
	// Events tab: cursor position and expanded set
	eventCursor    int
	expandedEvents map[int]bool
}

// New creates a viewer model for the given record and source filename.
func New(r *session.Record, filename string) Model {
	m := Model{
		record:         r,
		filename:       filepath.Base(filename),
		sortAsc:        false,
		expandedEvents: make(map[int]bool),
	}
	m.timeline = buildTimeline(r)
	return m
}

// ── Bubble Tea interface ───────────────

func (m Model) Init() tea.Cmd { return nil }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "tab", "l", "right":
			m.activeTab = (m.activeTab + 1) % tabCount
		case "shift+tab", "h", "left":
			m.activeTab = (m.activeTab - 1 + tabCount) % tabCount
		case "1", "2", "3", "4", "5", "6":
			m.activeTab = tabID(msg.String()[0] - '1')
		case "s":
			if m.activeTab == tabTimeline {
				m.sortAsc = !m.sortAsc
				m.rebuildTimelineViewport()
			}
		case "up", "k":
			if m.activeTab == tabEvents && m.eventCursor > 0 {
				m.eventCursor--
				m.rebuildEventsViewport()
				return m, nil
			}
		case "down", "j":
			if m.activeTab == tabEvents && m.eventCursor < len(m.record.Events)-1 {
				m.eventCursor++
				m.rebuildEventsViewport()
				return m, nil
			}
		case "enter", " ":
			if m.activeTab == tabEvents && len(m.record.Events) > 0 {
				ev := m.record.Events[m.eventCursor]
				if hasDetail(ev) { // only expandable when enrichment landed
					if m.expandedEvents[m.eventCursor] {
						delete(m.expandedEvents, m.eventCursor)
					} else {
						m.expandedEvents[m.eventCursor] = true
					}
					m.rebuildEventsViewport()
				}
				return m, nil
			}
		}
		var cmd tea.Cmd
		m.viewports[m.activeTab], cmd = m.viewports[m.activeTab].Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.ready = true
		m.initViewports()
		return m, nil
	}
	return m, nil
}

func (m Model) View() string {
	if !m.ready {
		return "Loading…"
	}

	// ── Row 1: title bar ──────────────────────────────────────────────────────
	title := titleStyle.Width(m.width).Render("  demorec  " + m.record.TaskName + "  (" + m.filename + ")")

	// ── Row 2: tab bar ────────────────────────────────────────────────────────
	var tabParts []string
	for i := tabID(0); i < tabCount; i++ {
		label := fmt.Sprintf(" %d %s ", i+1, tabNames[i])
		if i == m.activeTab {
			tabParts = append(tabParts, activeTabStyle.Render(label))
		} else {
			tabParts = append(tabParts, inactiveTabStyle.Render(label))
		}
		if i < tabCount-1 {
			tabParts = append(tabParts, tabSepStyle.Render("│"))
		}
	}
	tabRow := lipgloss.NewStyle().
		Background(lipgloss.Color("235")).
		Width(m.width).
		Render(lipgloss.JoinHorizontal(lipgloss.Top, tabParts...))

	// ── Row 3…N-1: scrollable content ────────────────────────────────────────
	content := m.viewports[m.activeTab].View()

	// ── Row N: status / hint bar ──────────────────────────────────────────────
	hint := "  ←/→ tab  ↑/↓ scroll  1-6 jump  q quit"
	if m.activeTab == tabTimeline {
		dir := "newest first"
		if m.sortAsc {
			dir = "oldest first"
		}
		hint += "  s sort (" + dir + ")"
	}
	if m.activeTab == tabEvents {
		hint += "  ↑/↓ select  enter expand/collapse"
	}
	// show scroll % on the right
	pct := fmt.Sprintf("%3.0f%%", m.viewports[m.activeTab].ScrollPercent()*100)
	pad := m.width - lipgloss.Width(hint) - len(pct) - 2
	if pad < 1 {
		pad = 1
	}
	statusBar := statusBarStyle.Width(m.width).Render(
		hint + strings.Repeat(" ", pad) + pct,
	)

	return lipgloss.JoinVertical(lipgloss.Left, title, tabRow, content, statusBar)
}

// ── Viewport management ───────────────────────────────────────────────────────

func (m *Model) initViewports() {
	// title(1) + tabRow(1) + statusBar(1) = 3 fixed rows
	vpHeight := m.height - 3
	if vpHeight < 1 {
		vpHeight = 1
	}
	for i := tabID(0); i < tabCount; i++ {
		vp := viewport.New(m.width, vpHeight)
		vp.SetContent(m.renderTab(i))
		m.viewports[i] = vp
	}
}

func (m *Model) rebuildTimelineViewport() {
	m.viewports[tabTimeline].SetContent(m.renderTab(tabTimeline))
	m.viewports[tabTimeline].GotoTop()
}

func (m *Model) rebuildEventsViewport() {
	m.viewports[tabEvents].SetContent(m.renderTab(tabEvents))
}

// ── Tab renderers ─────────────────────────────────────────────────────────────

func (m *Model) renderTab(t tabID) string {
	switch t {
	case tabSummary:
		return m.renderSummary()
	case tabEvents:
		return m.renderEvents()
	case tabScreenshots:
		return m.renderScreenshots()
	case tabVideos:
		return m.renderVideos()
	case tabAnnotations:
		return m.renderAnnotations()
	case tabTimeline:
		return m.renderTimeline()
	}
	return ""
}

func heading(s string) string {
	return "\n" + sectionHeader.Render("  "+s) + "\n\n"
}

func bullet(text string) string {
	return bulletStyle.Render("  •") + "  " + text + "\n"
}

func (m *Model) renderSummary() string {
	r := m.record
	var sb strings.Builder
	sb.WriteString(heading("Session Summary"))

	row := func(label, value string) {
		sb.WriteString(labelStyle.Render(fmt.Sprintf("  %-14s", label)) + "  " + value + "\n")
	}
	row("Task:", r.TaskName)
	row("Started:", time.UnixMilli(r.StartTime).Format("2006-01-02 15:04:05 MST"))
	if r.EndTime != 0 {
		row("Stopped:", time.UnixMilli(r.EndTime).Format("2006-01-02 15:04:05 MST"))
		row("Duration:", fmt.Sprintf("%.1fs", r.Duration()))
	}
	if r.Metadata.Operator != "" {
		row("Operator:", r.Metadata.Operator)
	}
	if r.Metadata.Platform != "" {
		row("Platform:", r.Metadata.Platform)
	}
	row("Displays:", fmt.Sprintf("%d", len(r.Metadata.Displays)))

	sb.WriteString("\n")
	sb.WriteString(heading("Counts"))
	row("Events:", fmt.Sprintf("%d", len(r.Events)))
	row("Screenshots:", fmt.Sprintf("%d", len(r.Screenshots)))
	row("Videos:", fmt.Sprintf("%d", len(r.Videos)))
	row("Annotations:", fmt.Sprintf("%d", len(r.Metadata.Annotations)))
	if r.Metadata.DroppedEvents > 0 {
		row("Dropped:", fmt.Sprintf("%d", r.Metadata.DroppedEvents))
	}
	return sb.String()
}

func (m *Model) renderEvents() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Events (%d)", len(m.record.Events))))
	if len(m.record.Events) == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
		return sb.String()
	}
	for i, ev := range m.record.Events {
		ts := timeStyle.Render(fmt.Sprintf("%8.2fs", ev.Time))
		expanded := m.expandedEvents[i]
		detail := hasDetail(ev)

		toggle := dimStyle.Render("  ▶ ")
		if expanded {
			toggle = dimStyle.Render("  ▼ ")
		}
		if !detail {
			toggle = "    " // no arrow, not expandable
		}

		row := fmt.Sprintf("%s%s  %s  %s", toggle, ts, kindBadge(ev.Type), describeEvent(ev))
		if i == m.eventCursor {
			// Pad to width so the highlight fills the line
			row = selectedRowStyle.Width(m.width - 2).Render(row)
		}
		sb.WriteString(row + "\n")

		if expanded && detail {
			sb.WriteString(renderEventDetail(ev, m.width))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

// hasDetail reports whether an event carries enrichment worth expanding.
func hasDetail(ev event.Event) bool {
	return ev.Screenshots != nil || ev.ScreenInfo != nil || ev.WindowRelative != nil
}

// kindBadge renders a fixed-width colored badge for an event kind.
func kindBadge(k event.Kind) string {
	label := fmt.Sprintf("%-16s", strings.ToUpper(string(k)))
	switch k {
	case event.KindClick, event.KindDrag:
		return kindClickStyle.Render(label)
	case event.KindType, event.KindKeyCombination:
		return kindKeyStyle.Render(label)
	case event.KindScrollSequence:
		return kindScrollStyle.Render(label)
	}
	return dimStyle.Render(label)
}

// describeEvent summarizes an event in one line.
func describeEvent(ev event.Event) string {
	switch {
	case ev.Key != "":
		if len(ev.Modifiers) > 0 {
			return strings.Join(ev.Modifiers, "+") + "+" + ev.Key
		}
		return ev.Key
	case ev.Direction != "":
		return fmt.Sprintf("%s ×%d over %.2fs", ev.Direction, ev.TotalAmount, ev.Duration)
	case ev.Type == event.KindDrag && ev.X != nil && ev.EndX != nil:
		return fmt.Sprintf("(%d, %d) → (%d, %d)", *ev.X, *ev.Y, *ev.EndX, *ev.EndY)
	case ev.X != nil && ev.Y != nil:
		s := fmt.Sprintf("(%d, %d)", *ev.X, *ev.Y)
		if ev.Button != "" {
			s += "  " + ev.Button
		}
		return s
	}
	return ""
}

// renderEventDetail shows the enrichment block under an expanded event row.
func renderEventDetail(ev event.Event, width int) string {
	var sb strings.Builder
	border := dimStyle.Render("  " + strings.Repeat("─", width-4))
	sb.WriteString(border + "\n")

	if ev.ScreenInfo != nil && ev.ScreenInfo.CurrentDisplay != nil {
		d := ev.ScreenInfo.CurrentDisplay
		sb.WriteString(dimStyle.Render(fmt.Sprintf("    display %d (%dx%d)", d.ID, d.Bounds.Width, d.Bounds.Height)) + "\n")
	}
	if ev.WindowRelative != nil {
		w := ev.WindowRelative
		inside := "outside window"
		if w.Inside {
			inside = "inside window"
		}
		sb.WriteString(dimStyle.Render(fmt.Sprintf("    window-relative (%d, %d), %s", w.X, w.Y, inside)) + "\n")
	}
	if ev.Screenshots != nil {
		ids := make([]string, 0, len(ev.Screenshots.Displays))
		for id := range ev.Screenshots.Displays {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			sb.WriteString(dimStyle.Render("    screenshot "+ev.Screenshots.Displays[id]) + "\n")
		}
		if ev.Screenshots.ActiveWindow != "" {
			sb.WriteString(dimStyle.Render("    window shot "+ev.Screenshots.ActiveWindow) + "\n")
		}
	}

	sb.WriteString(border + "\n")
	return sb.String()
}

func (m *Model) renderScreenshots() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Screenshots (%d)", len(m.record.Screenshots))))
	if len(m.record.Screenshots) == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
		return sb.String()
	}
	for _, s := range m.record.Screenshots {
		line := s.Path
		if s.DisplayID != 0 {
			line += dimStyle.Render(fmt.Sprintf("  (display %d, event %d)", s.DisplayID, s.EventID))
		}
		sb.WriteString(bullet(line))
	}
	return sb.String()
}

func (m *Model) renderVideos() string {
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Videos (%d)", len(m.record.Videos))))
	if len(m.record.Videos) == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
		return sb.String()
	}
	for _, v := range m.record.Videos {
		sb.WriteString(bullet(fmt.Sprintf("display %d  %s", v.DisplayID, v.Path)))
	}
	return sb.String()
}

func (m *Model) renderAnnotations() string {
	notes := m.record.Metadata.Annotations
	var sb strings.Builder
	sb.WriteString(heading(fmt.Sprintf("Annotations (%d)", len(notes))))
	if len(notes) == 0 {
		sb.WriteString(dimStyle.Render("  (none)") + "\n")
		return sb.String()
	}
	for _, a := range notes {
		ts := timeStyle.Render(time.UnixMilli(a.Timestamp).Format("15:04:05"))
		badge := kindNoteStyle.Render("[NOTE]")
		sb.WriteString(fmt.Sprintf("  %s  %s  %s\n\n", ts, badge, a.Text))
	}
	return sb.String()
}

func (m *Model) renderTimeline() string {
	var sb strings.Builder

	dir := "newest first"
	if m.sortAsc {
		dir = "oldest first"
	}
	sb.WriteString(heading(fmt.Sprintf("Timeline (%s)", dir)))

	entries := make([]timelineEntry, len(m.timeline))
	copy(entries, m.timeline)
	if m.sortAsc {
		sort.Slice(entries, func(i, j int) bool { return entries[i].ts < entries[j].ts })
	} else {
		sort.Slice(entries, func(i, j int) bool { return entries[i].ts > entries[j].ts })
	}

	if len(entries) == 0 {
		sb.WriteString(dimStyle.Render("  (no timestamped entries in this session)") + "\n")
		return sb.String()
	}

	for _, en := range entries {
		ts := timeStyle.Render(time.UnixMilli(en.ts).Format("15:04:05"))
		var badge string
		switch en.kind {
		case kindNote:
			badge = kindNoteStyle.Render(fmt.Sprintf("  %-6s", string(en.kind)))
		default:
			badge = kindClickStyle.Render(fmt.Sprintf("  %-6s", string(en.kind)))
		}
		sb.WriteString(ts + badge + "  " + en.text + "\n\n")
	}
	return sb.String()
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func buildTimeline(r *session.Record) []timelineEntry {
	var entries []timelineEntry
	for _, ev := range r.Events {
		if ev.Timestamp == 0 {
			continue
		}
		entries = append(entries, timelineEntry{
			ts:   ev.Timestamp,
			kind: kindInput,
			text: strings.TrimSpace(string(ev.Type) + "  " + describeEvent(ev)),
		})
	}
	for _, a := range r.Metadata.Annotations {
		if a.Timestamp == 0 {
			continue
		}
		entries = append(entries, timelineEntry{ts: a.Timestamp, kind: kindNote, text: a.Text})
	}
	return entries
}

// Run starts the viewer for the given session record.
func Run(r *session.Record, filename string) error {
	p := tea.NewProgram(New(r, filename), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
