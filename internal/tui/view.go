package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"ruledeck/internal/model"
	"ruledeck/internal/notify"
	"ruledeck/internal/publish"
)

// — styles ——————————————————————————————————————————————————————————————————

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			MarginLeft(2)

	dimStyle  = lipgloss.NewStyle().Faint(true)
	boldStyle = lipgloss.NewStyle().Bold(true)
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))

	helpStyle = lipgloss.NewStyle().
			Faint(true).
			PaddingLeft(2)

	detailHeadStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	labelStyle = lipgloss.NewStyle().Faint(true)

	cursorStyle = lipgloss.NewStyle().Reverse(true)

	modalStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("205")).
			Padding(1, 3).
			Width(58)

	deleteModalStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("196")).
				Padding(1, 3).
				Width(58)

	noteStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			Padding(0, 1)
)

const maxCellWidth = 24

func (m Model) View() string {
	if m.width == 0 {
		return ""
	}

	if m.loading && len(m.files) == 0 {
		return lipgloss.NewStyle().Padding(1, 2).Render("Loading decision tables…")
	}

	if m.err != nil && m.state == stateFiles {
		return lipgloss.NewStyle().Padding(1, 2).Render(
			fmt.Sprintf("Error: %v\n\nPress r to retry, q to quit.", m.err),
		)
	}

	var body string
	if m.state == stateFiles {
		body = lipgloss.JoinHorizontal(lipgloss.Top, m.list.View(), m.renderDetail())
	} else {
		body = m.renderTable()
	}
	base := lipgloss.JoinVertical(lipgloss.Left, body, m.renderNotifications(), m.renderHelp())

	switch m.state {
	case stateEditCell:
		return m.renderEditModal()
	case stateConfirmPublish:
		return m.renderPublishModal()
	case stateAddColumn:
		return m.renderAddColumnModal()
	case stateDeleteColumn:
		return m.renderDeleteColumnModal()
	}
	return base
}

// — layout helpers ——————————————————————————————————————————————————————————

func (m Model) listDimensions() (width, height int) {
	return m.width / 3, max(3, m.height-2-notify.Capacity*3)
}

func (m Model) renderDetail() string {
	lw, lh := m.listDimensions()
	dw := m.width - lw

	style := lipgloss.NewStyle().
		Border(lipgloss.NormalBorder(), false, false, false, true).
		PaddingLeft(3).
		PaddingRight(2).
		Width(dw - 1).
		Height(lh)

	row := func(lbl, val string) string {
		return labelStyle.Render(lbl) + val + "\n"
	}

	var b strings.Builder
	b.WriteString(detailHeadStyle.Render("ruledeck") + "\n\n")
	repo := m.deps.RepoURL
	if repo == "" {
		repo = dimStyle.Render("not configured")
	}
	b.WriteString(row("Repo     ", repo))
	b.WriteString(row("Branch   ", m.deps.HomeBranch))
	b.WriteString("\n")

	s := m.deps.Session
	switch {
	case m.opening != "":
		b.WriteString(warnStyle.Render(spinnerFrames[m.spinnerFrame]+" opening "+m.opening) + "\n")
	case s.Loaded():
		b.WriteString(row("Open     ", s.FileName()))
		b.WriteString(row("Status   ", m.statusLabel()))
	default:
		b.WriteString(dimStyle.Render("No table open") + "\n")
	}
	if m.pulling {
		b.WriteString("\n" + warnStyle.Render(spinnerFrames[m.spinnerFrame]+" pulling "+m.deps.HomeBranch) + "\n")
	}
	return style.Render(b.String())
}

func (m Model) statusLabel() string {
	switch st := m.sessionStatus(); st {
	case "modified":
		return warnStyle.Render("● modified")
	case "saving":
		return warnStyle.Render(spinnerFrames[m.spinnerFrame] + " saving")
	case "saved, ready to publish":
		return okStyle.Render("saved · ready to publish")
	default:
		return dimStyle.Render(st)
	}
}

func (m Model) renderTable() string {
	s := m.deps.Session
	t := s.Working()

	var b strings.Builder
	b.WriteString(titleStyle.Render(s.FileName()) + "  " + m.statusLabel())
	if line := m.publishLine(); line != "" {
		b.WriteString("  " + line)
	}
	if m.columnBusy {
		b.WriteString("  " + warnStyle.Render(spinnerFrames[m.spinnerFrame]+" updating columns"))
	}
	b.WriteString("\n\n")

	widths := columnWidths(t)
	cols := m.visibleColumns(widths)

	cell := func(text string, w int, style lipgloss.Style) string {
		return style.Width(w).MaxWidth(w).Render(truncate(text, w-1)) + " "
	}

	var head, tmpl strings.Builder
	for _, c := range cols {
		head.WriteString(cell(t.ColumnLabels[c], widths[c], boldStyle))
		label := ""
		if c < len(t.TemplateLabels) {
			label = t.TemplateLabels[c]
		}
		tmpl.WriteString(cell(label, widths[c], dimStyle))
	}
	b.WriteString("  " + head.String() + "\n")
	b.WriteString("  " + tmpl.String() + "\n")

	if len(t.Rows) == 0 {
		b.WriteString("\n  " + dimStyle.Render("No rules yet. Press a to add one.") + "\n")
	}
	for r, row := range t.Rows {
		var line strings.Builder
		for _, c := range cols {
			text, style := row.Name, lipgloss.NewStyle()
			if c > 0 {
				v := row.Values[c-1]
				text = v.String()
				if v.IsNull() {
					text, style = "—", dimStyle
				}
			}
			if r == m.row && c == m.col {
				style = cursorStyle
			}
			line.WriteString(cell(text, widths[c], style))
		}
		b.WriteString("  " + line.String() + "\n")
	}

	_, lh := m.listDimensions()
	return lipgloss.NewStyle().Height(lh).MaxHeight(lh).Render(b.String())
}

func (m Model) publishLine() string {
	st := m.deps.Publish.State()
	switch st {
	case publish.Idle, publish.Confirming:
		return ""
	case publish.Failed:
		if serr, _, ok := m.deps.Publish.Failure(); ok {
			return errStyle.Render("publish failed while " + serr.Stage.String())
		}
		return ""
	}
	text := spinnerFrames[m.spinnerFrame] + " " + st.String()
	if a, ok := m.deps.Publish.Attempt(); ok && a.Branch != "" {
		text += " " + a.Branch
	}
	return warnStyle.Render(text)
}

func columnWidths(t model.DecisionTable) []int {
	w := make([]int, len(t.ColumnLabels))
	for c, l := range t.ColumnLabels {
		w[c] = max(4, len([]rune(l)))
	}
	for _, r := range t.Rows {
		if len(w) > 0 {
			w[0] = max(w[0], len([]rune(r.Name)))
		}
		for i, v := range r.Values {
			if i+1 < len(w) {
				w[i+1] = max(w[i+1], len([]rune(v.String())))
			}
		}
	}
	for c := range w {
		w[c] = min(w[c]+1, maxCellWidth)
	}
	return w
}

// visibleColumns keeps the name column and scrolls the value columns so the
// cursor stays on screen.
func (m Model) visibleColumns(widths []int) []int {
	if len(widths) == 0 {
		return nil
	}
	avail := m.width - 2 - widths[0] - 1
	first := 1
	for first < m.col {
		used := 0
		for c := first; c <= m.col; c++ {
			used += widths[c] + 1
		}
		if used <= avail {
			break
		}
		first++
	}
	cols := []int{0}
	used := 0
	for c := first; c < len(widths); c++ {
		used += widths[c] + 1
		if used > avail && c > first {
			break
		}
		cols = append(cols, c)
	}
	return cols
}

// renderNotifications draws the live notifications, oldest at the top.
func (m Model) renderNotifications() string {
	items := m.deps.Notes.Items()
	if len(items) == 0 {
		return ""
	}
	w := min(60, m.width-4)
	var out []string
	for _, it := range items {
		icon, style := okStyle.Render("✓"), noteStyle.BorderForeground(lipgloss.Color("2"))
		if it.Kind == notify.Error {
			icon, style = errStyle.Render("✗"), noteStyle.BorderForeground(lipgloss.Color("196"))
		}
		bar := int(it.Remaining * float64(w-4))
		text := icon + " " + truncate(it.Message, w-6) + "\n" + dimStyle.Render(strings.Repeat("━", max(bar, 0)))
		out = append(out, lipgloss.NewStyle().MarginLeft(2+it.Offset).Render(style.Width(w).Render(text)))
	}
	return lipgloss.JoinVertical(lipgloss.Left, out...)
}

func (m Model) renderHelp() string {
	var text string
	switch m.state {
	case stateEditCell:
		text = "Enter save cell   Esc cancel"
	case stateConfirmPublish:
		text = "y/Enter publish   n/Esc cancel"
	case stateAddColumn:
		text = "Tab next field   ←/→ kind   Enter add   Esc cancel"
	case stateDeleteColumn:
		text = "y/Enter confirm   n/Esc cancel"
	case stateTable:
		text = "←↑↓→ move   Enter edit   a add row   d delete row   s save   u discard   P publish   C add col   X delete col   x dismiss   Esc back"
	default:
		text = "↑/↓ navigate   Enter open   r refresh   p pull " + m.deps.HomeBranch + "   x dismiss   q quit"
	}
	sep := dimStyle.Render(strings.Repeat("─", m.width))
	return sep + "\n" + helpStyle.Render(text)
}

func (m Model) place(modal string) string {
	return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, modal,
		lipgloss.WithWhitespaceBackground(lipgloss.Color("0")),
	)
}

func (m Model) renderEditModal() string {
	t := m.deps.Session.Working()
	var b strings.Builder
	b.WriteString(boldStyle.Render("Edit Cell") + "\n\n")
	if m.col < len(t.ColumnLabels) {
		b.WriteString(labelStyle.Render("Column   ") + t.ColumnLabels[m.col] + "\n")
	}
	if m.row < len(t.Rows) {
		b.WriteString(labelStyle.Render("Rule     ") + t.Rows[m.row].Name + "\n\n")
	}
	b.WriteString(m.cellInput.View() + "\n")
	if m.col > 0 {
		b.WriteString("\n" + dimStyle.Render("Leave empty to clear the cell"))
	}
	return m.place(modalStyle.Render(b.String()))
}

func (m Model) renderPublishModal() string {
	var b strings.Builder
	b.WriteString(boldStyle.Render("Publish to Git") + "\n\n")
	a, _ := m.deps.Publish.Attempt()
	b.WriteString(labelStyle.Render("File     ") + a.FileName + "\n")
	branch := a.Branch
	if branch == "" {
		branch = warnStyle.Render(spinnerFrames[m.spinnerFrame] + " generating…")
	}
	b.WriteString(labelStyle.Render("Branch   ") + branch + "\n")
	b.WriteString(labelStyle.Render("Repo     ") + m.deps.RepoURL + "\n\n")
	b.WriteString("This pushes the saved table to a new branch and opens a pull request.\n")
	b.WriteString("\n" + dimStyle.Render("y/Enter to publish · Esc/n to cancel"))
	return m.place(modalStyle.Render(b.String()))
}

func (m Model) renderAddColumnModal() string {
	var b strings.Builder
	b.WriteString(boldStyle.Render("Add Column") + "\n\n")

	kind := func(k model.ColumnKind) string {
		if m.colKind == k {
			return okStyle.Render("(•) " + string(k))
		}
		return dimStyle.Render("( ) " + string(k))
	}
	marker := func(i int) string {
		if m.formFocus == i {
			return "> "
		}
		return "  "
	}
	b.WriteString(marker(0) + "Kind      " + kind(model.Condition) + "  " + kind(model.Action) + "\n\n")
	b.WriteString(marker(1) + "Name\n" + m.colName.View() + "\n\n")
	b.WriteString(marker(2) + "Template\n" + m.colTemplate.View() + "\n")
	if m.inputErr != "" {
		b.WriteString("\n" + errStyle.Render(m.inputErr) + "\n")
	}
	b.WriteString("\n" + dimStyle.Render("The table is reloaded from the backend afterwards"))
	return m.place(modalStyle.Render(b.String()))
}

func (m Model) renderDeleteColumnModal() string {
	t := m.deps.Session.Working()
	var b strings.Builder
	b.WriteString(errStyle.Render("Delete Column") + "\n\n")
	if m.col < len(t.ColumnLabels) {
		b.WriteString(labelStyle.Render("Column   ") + t.ColumnLabels[m.col] + "\n")
		if m.col < len(t.TemplateLabels) {
			b.WriteString(labelStyle.Render("Template ") + t.TemplateLabels[m.col] + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString(fmt.Sprintf("This removes the column from all %d rules.\n", len(t.Rows)))
	b.WriteString("\n" + dimStyle.Render("y/Enter to confirm · Esc/n to cancel"))
	return m.place(deleteModalStyle.Render(b.String()))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
