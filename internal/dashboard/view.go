package dashboard

import (
	"fmt"
	"strings"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"github.com/mattn/go-runewidth"

	"github.com/zhubert/hopper/internal/state"
)

// panelChrome is the border, title and column header lines around a panel's rows.
const panelChrome = 4

type column struct {
	title string
	width int // 0 takes the remaining width
}

var sessionColumns = []column{
	{"", 2}, {"ID", 6}, {"PROJECT", 16}, {"STAGE", 11}, {"STATE", 11}, {"WINDOW", 8}, {"STATUS", 0},
}

var backlogColumns = []column{
	{"ID", 6}, {"PROJECT", 16}, {"SESSION", 8}, {"DESCRIPTION", 0},
}

// View renders the dashboard.
func (m *Model) View() tea.View {
	var v tea.View
	v.AltScreen = true

	if m.width == 0 || m.height == 0 {
		v.SetContent("Loading...")
		return v
	}
	v.SetContent(m.render())
	return v
}

func (m *Model) render() string {
	inner := max(m.width-2, 10)
	body := max(m.height-3, 2*panelChrome+2)
	sessH := body * 3 / 5
	backH := body - sessH

	sessions := m.renderPanel(
		fmt.Sprintf("Sessions (%d)", len(m.sessions)),
		sessionColumns, m.sessionRows(), styleSessionRow, m.cursor[paneSessions],
		max(sessH-panelChrome, 1), inner, m.focus == paneSessions,
	)
	backlog := m.renderPanel(
		fmt.Sprintf("Backlog (%d)", len(m.backlog)),
		backlogColumns, m.backlogRows(), formatRow, m.cursor[paneBacklog],
		max(backH-panelChrome, 1), inner, m.focus == paneBacklog,
	)

	return lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		sessions,
		backlog,
		m.renderFlash(),
		m.renderInput(),
		m.renderFooter(),
	)
}

func (m *Model) renderHeader() string {
	active := 0
	for _, s := range m.sessions {
		if s.Active {
			active++
		}
	}
	text := fmt.Sprintf("hopper  %d sessions, %d active, %d queued", len(m.sessions), active, len(m.backlog))
	if m.disconnected {
		text += "  [disconnected]"
	} else if m.stopping {
		text += "  [stopping]"
	}
	return headerStyle.Render(fit(text, max(m.width-2, 1)))
}

func (m *Model) renderFlash() string {
	if m.flash == "" {
		return ""
	}
	text := fit(m.flash, max(m.width, 1))
	if m.flashIsErr {
		return flashErrorStyle.Render(text)
	}
	return flashInfoStyle.Render(text)
}

func (m *Model) renderInput() string {
	if !m.inputOpen {
		return ""
	}
	label := "queue for " + m.inputProject
	if m.inputSession != "" {
		label += " (" + m.inputSession + ")"
	}
	return footerKeyStyle.Render(label+": ") + m.input.View()
}

func (m *Model) renderFooter() string {
	if m.inputOpen {
		return footerKeyStyle.Render("enter") + " " + mutedStyle.Render("queue") + "  " +
			footerKeyStyle.Render("esc") + " " + mutedStyle.Render("cancel")
	}
	bindings := [][2]string{
		{"j/k", "move"}, {"tab", "switch"}, {"enter", "open"},
		{"c", "new"}, {"a", "archive"}, {"n", "queue"}, {"d", "remove"}, {"r", "refresh"}, {"q", "quit"},
	}
	parts := make([]string, len(bindings))
	for i, b := range bindings {
		parts[i] = footerKeyStyle.Render(b[0]) + " " + mutedStyle.Render(b[1])
	}
	return strings.Join(parts, "  ")
}

func (m *Model) sessionRows() [][]string {
	rows := make([][]string, len(m.sessions))
	for i, s := range m.sessions {
		marker := " "
		if s.Active {
			marker = "●"
		}
		rows[i] = []string{marker, s.ID, s.Project, string(s.Stage), s.State, s.Window(), sessionDetail(s)}
	}
	return rows
}

// sessionDetail shows the status, falling back to the scope.
func sessionDetail(s state.Session) string {
	if s.Status != "" {
		return strings.ReplaceAll(s.Status, "\n", " | ")
	}
	return s.Scope
}

func (m *Model) backlogRows() [][]string {
	rows := make([][]string, len(m.backlog))
	for i, b := range m.backlog {
		rows[i] = []string{b.ID, b.Project, b.SessionID, b.Description}
	}
	return rows
}

// rowStyler renders one unselected row.
type rowStyler func(cells []string, widths []int) string

func (m *Model) renderPanel(title string, cols []column, rows [][]string, styleRow rowStyler, cursor, visible, width int, focused bool) string {
	widths := columnWidths(cols, width)

	lines := []string{panelTitleStyle.Render(fit(title, width))}
	headers := make([]string, len(cols))
	for i, c := range cols {
		headers[i] = c.title
	}
	lines = append(lines, columnHeaderStyle.Render(formatRow(headers, widths)))

	offset := 0
	if cursor >= visible {
		offset = cursor - visible + 1
	}
	for i := offset; i < len(rows) && i < offset+visible; i++ {
		if i == cursor && focused {
			lines = append(lines, selectedRowStyle.Render(formatRow(rows[i], widths)))
		} else {
			lines = append(lines, styleRow(rows[i], widths))
		}
	}
	if len(rows) == 0 {
		lines = append(lines, mutedStyle.Render(fit("  nothing here", width)))
	}
	for len(lines) < visible+2 {
		lines = append(lines, strings.Repeat(" ", width))
	}

	style := panelStyle
	if focused {
		style = panelFocusedStyle
	}
	return style.Render(strings.Join(lines, "\n"))
}

// styleSessionRow colors the state cell and marks active sessions.
func styleSessionRow(cells []string, widths []int) string {
	out := make([]string, len(cells))
	for i, cell := range cells {
		text := fit(cell, widths[i])
		switch i {
		case 0:
			out[i] = warningStyle.Render(text)
		case 4:
			out[i] = stateStyle(cell).Render(text)
		default:
			out[i] = text
		}
	}
	return strings.Join(out, " ")
}

func columnWidths(cols []column, total int) []int {
	widths := make([]int, len(cols))
	used := len(cols) - 1 // separators
	flex := -1
	for i, c := range cols {
		if c.width == 0 {
			flex = i
			continue
		}
		widths[i] = c.width
		used += c.width
	}
	if flex >= 0 {
		widths[flex] = max(total-used, 4)
	}
	return widths
}

func formatRow(cells []string, widths []int) string {
	out := make([]string, len(cells))
	for i, cell := range cells {
		out[i] = fit(cell, widths[i])
	}
	return strings.Join(out, " ")
}

// fit truncates or pads s to exactly w display cells.
func fit(s string, w int) string {
	return runewidth.FillRight(runewidth.Truncate(s, w, "…"), w)
}
