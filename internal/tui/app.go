package tui

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"ruledeck/internal/backend"
	"ruledeck/internal/model"
	"ruledeck/internal/notify"
	"ruledeck/internal/publish"
	"ruledeck/internal/schema"
	"ruledeck/internal/session"
)

// — state ———————————————————————————————————————————————————————————————————

type appState int

const (
	stateFiles appState = iota
	stateTable
	stateEditCell
	stateConfirmPublish
	stateAddColumn
	stateDeleteColumn
)

// — spinner —————————————————————————————————————————————————————————————————

var spinnerFrames = []string{"|", "/", "-", "\\"}

type tickMsg struct{}

func tickCmd() tea.Cmd {
	return tea.Tick(120*time.Millisecond, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

// — dependencies ————————————————————————————————————————————————————————————

// API is the backend surface the TUI calls directly.
type API interface {
	ListTables(ctx context.Context) ([]string, error)
	OpenTable(ctx context.Context, fileName string) (model.DecisionTable, error)
	SaveTable(ctx context.Context, fileName string, t model.DecisionTable) (backend.Reply, error)
	PullBranch(ctx context.Context, repoURL, branch string) (backend.Reply, error)
}

type Deps struct {
	API      API
	Session  *session.Session
	Notes    *notify.Queue
	Tasks    <-chan func() // due notification ticks, see notify.LoopScheduler
	Schema   *schema.Gateway
	Publish  *publish.Machine
	Services publish.Services

	RepoURL    string
	HomeBranch string
	Timeout    time.Duration
	Log        *slog.Logger
}

// — list item ———————————————————————————————————————————————————————————————

type fileItem struct {
	name   string
	status string // session status when this file is loaded
}

func (i fileItem) Title() string {
	if i.status != "" {
		return "● " + i.name
	}
	return "  " + i.name
}

func (i fileItem) Description() string { return i.status }
func (i fileItem) FilterValue() string { return i.name }

// — model ———————————————————————————————————————————————————————————————————

type Model struct {
	deps Deps
	log  *slog.Logger

	list    list.Model
	files   []string
	width   int
	height  int
	loading bool
	err     error

	state    appState
	row, col int // grid cursor; col 0 is the rule name

	cellInput    textinput.Model
	colName      textinput.Model
	colTemplate  textinput.Model
	colKind      model.ColumnKind
	formFocus    int // 0 kind, 1 name, 2 template
	inputErr     string
	spinnerFrame int

	opening    string // file being fetched
	pulling    bool
	columnBusy bool
}

func New(d Deps) Model {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}

	delegate := list.NewDefaultDelegate()

	l := list.New([]list.Item{}, delegate, 0, 0)
	l.Title = "Decision tables"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.Styles.Title = titleStyle

	ci := textinput.New()
	ci.CharLimit = 500

	name := textinput.New()
	name.Placeholder = "e.g. CONDITION_customerType"
	name.CharLimit = 100

	tmpl := textinput.New()
	tmpl.Placeholder = "e.g. customer.type == \"$param\""
	tmpl.CharLimit = 500

	return Model{
		deps:        d,
		log:         log,
		list:        l,
		loading:     true,
		cellInput:   ci,
		colName:     name,
		colTemplate: tmpl,
		colKind:     model.Condition,
	}
}

// — tea.Model ———————————————————————————————————————————————————————————————

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.listTablesCmd(), tickCmd(), waitTask(m.deps.Tasks))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		lw, lh := m.listDimensions()
		m.list.SetSize(lw, lh)
		return m, nil

	case tickMsg:
		m.spinnerFrame = (m.spinnerFrame + 1) % len(spinnerFrames)
		return m, tickCmd()

	case taskMsg:
		msg.fn()
		m.acknowledgeExpiredFailure()
		return m, waitTask(m.deps.Tasks)

	case tablesLoadedMsg:
		m.loading = false
		if msg.err != nil {
			m.err = msg.err
			return m, nil
		}
		m.err = nil
		m.files = msg.files
		m.buildItems()
		return m, nil

	case tableOpenedMsg:
		if msg.file != m.opening {
			m.log.Debug("dropping stale table reply", "file", msg.file, "want", m.opening)
			return m, nil
		}
		m.opening = ""
		if msg.err != nil {
			m.deps.Notes.Error(fmt.Sprintf("Failed to load %s: %s", msg.file, backend.Detail(msg.err, "unknown error")))
			return m, nil
		}
		if err := m.deps.Session.Load(msg.file, msg.table); err != nil {
			m.deps.Notes.Error(fmt.Sprintf("Cannot reload %s: %v", msg.file, err))
			return m, nil
		}
		m.state = stateTable
		m.row, m.col = 0, 0
		m.buildItems()
		return m, nil

	case savedMsg:
		m.deps.Session.FinishSave(msg.pending, msg.reply, msg.err)
		m.buildItems()
		return m, nil

	case publishMsg:
		cmd := m.runEffects(m.deps.Publish.Resolve(msg.ev))
		return m, cmd

	case schemaMsg:
		m.columnBusy = false
		if err := schema.Apply(msg.res, m.deps.Session, m.deps.Notes); err != nil {
			m.log.Debug("column change not applied", "err", err)
		}
		m.clampCursor()
		return m, nil

	case pulledMsg:
		m.pulling = false
		if msg.err != nil {
			m.deps.Notes.Error(fmt.Sprintf("Failed to pull %s: %s", msg.branch, backend.Detail(msg.err, "unknown error")))
			return m, nil
		}
		text := "Pulled " + msg.branch
		if msg.reply.Message != "" {
			text += ": " + msg.reply.Message
		}
		m.deps.Notes.Success(text)
		m.loading = true
		return m, m.listTablesCmd()
	}

	if k, ok := msg.(tea.KeyMsg); ok && k.String() == "ctrl+c" {
		return m, tea.Quit
	}

	switch m.state {
	case stateTable:
		return m.updateTable(msg)
	case stateEditCell:
		return m.updateEditCell(msg)
	case stateConfirmPublish:
		return m.updateConfirmPublish(msg)
	case stateAddColumn:
		return m.updateAddColumn(msg)
	case stateDeleteColumn:
		return m.updateDeleteColumn(msg)
	default:
		return m.updateFiles(msg)
	}
}

func (m Model) updateFiles(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q":
			return m, tea.Quit
		case "r":
			m.loading = true
			return m, m.listTablesCmd()
		case "p":
			if m.pulling || m.deps.Publish.Busy() {
				return m, nil
			}
			if m.deps.RepoURL == "" {
				m.deps.Notes.Error("No repository configured")
				return m, nil
			}
			m.pulling = true
			return m, m.pullCmd()
		case "x":
			m.dismissNewest()
			return m, nil
		case "enter":
			f := m.selectedFile()
			if f == "" || m.deps.Publish.Busy() {
				return m, nil
			}
			if f == m.deps.Session.FileName() && m.deps.Session.Loaded() {
				m.state = stateTable
				return m, nil
			}
			m.opening = f
			return m, m.openTableCmd(f)
		}
	}
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) updateTable(msg tea.Msg) (tea.Model, tea.Cmd) {
	key, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	s := m.deps.Session
	busy := m.deps.Publish.Busy() || m.columnBusy
	t := s.Working()

	switch key.String() {
	case "q":
		return m, tea.Quit
	case "esc", "b":
		if busy {
			return m, nil
		}
		m.state = stateFiles
		return m, nil
	case "x":
		m.dismissNewest()
		return m, nil
	case "up", "k":
		if m.row > 0 {
			m.row--
		}
	case "down", "j":
		if m.row < len(t.Rows)-1 {
			m.row++
		}
	case "left", "h":
		if m.col > 0 {
			m.col--
		}
	case "right", "l":
		if m.col < t.ValueColumns() {
			m.col++
		}
	}
	if busy {
		return m, nil
	}

	switch key.String() {
	case "enter", "e":
		if len(t.Rows) == 0 {
			return m, nil
		}
		m.state = stateEditCell
		m.cellInput.Placeholder = t.ColumnKind(m.col).Placeholder()
		if m.col == 0 {
			m.cellInput.Placeholder = "Enter rule name"
			m.cellInput.SetValue(t.Rows[m.row].Name)
		} else {
			m.cellInput.SetValue(t.Rows[m.row].Values[m.col-1].String())
		}
		m.cellInput.CursorEnd()
		m.cellInput.Focus()
		return m, textinput.Blink
	case "a":
		if err := s.AddRow(); err == nil {
			m.row = len(s.Working().Rows) - 1
			m.buildItems()
		}
	case "d":
		if s.DeleteRow(m.row) {
			m.clampCursor()
			m.buildItems()
		}
	case "s":
		p, err := s.BeginSave()
		if err != nil {
			m.deps.Notes.Error(capitalize(err.Error()))
			return m, nil
		}
		return m, m.saveCmd(p)
	case "u":
		if !s.Dirty() {
			return m, nil
		}
		s.Discard()
		m.clampCursor()
		m.buildItems()
		m.deps.Notes.Success("Changes discarded successfully")
	case "P":
		if s.Saving() {
			m.deps.Notes.Error("Wait for the save to finish before publishing")
			return m, nil
		}
		m.deps.Publish.Acknowledge() // retrying clears a previous failure
		effs, err := m.deps.Publish.Request()
		if err != nil {
			m.deps.Notes.Error(capitalize(err.Error()))
			return m, nil
		}
		m.state = stateConfirmPublish
		cmd := m.runEffects(effs)
		return m, cmd
	case "C":
		if s.Dirty() || s.Saving() {
			m.deps.Notes.Error("Save or discard your changes before changing columns")
			return m, nil
		}
		m.state = stateAddColumn
		m.inputErr = ""
		m.colKind = model.Condition
		m.colName.Reset()
		m.colTemplate.Reset()
		m.formFocus = 1
		m.colTemplate.Blur()
		m.colName.Focus()
		return m, textinput.Blink
	case "X":
		if s.Dirty() || s.Saving() {
			m.deps.Notes.Error("Save or discard your changes before changing columns")
			return m, nil
		}
		if m.col == 0 {
			m.deps.Notes.Error(capitalize(schema.ErrNameColumn.Error()))
			return m, nil
		}
		m.state = stateDeleteColumn
		m.inputErr = ""
	}
	return m, nil
}

func (m Model) updateEditCell(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			m.state = stateTable
			m.cellInput.Blur()
			return m, nil
		case "enter":
			v := m.cellInput.Value()
			cell := model.Text(v)
			if m.col > 0 && v == "" {
				cell = model.Null()
			}
			if err := m.deps.Session.EditCell(m.row, m.col, cell); err != nil {
				m.deps.Notes.Error(capitalize(err.Error()))
			}
			m.state = stateTable
			m.cellInput.Blur()
			m.buildItems()
			return m, nil
		}
	}
	var cmd tea.Cmd
	m.cellInput, cmd = m.cellInput.Update(msg)
	return m, cmd
}

func (m Model) updateConfirmPublish(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "n", "N":
			m.deps.Publish.Cancel()
			m.state = stateTable
			return m, nil
		case "enter", "y", "Y":
			m.state = stateTable
			cmd := m.runEffects(m.deps.Publish.Confirm())
			return m, cmd
		}
	}
	return m, nil
}

func (m Model) updateAddColumn(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc":
			m.state = stateTable
			m.inputErr = ""
			m.colName.Blur()
			m.colTemplate.Blur()
			return m, nil
		case "tab", "down":
			m.setFormFocus((m.formFocus + 1) % 3)
			return m, nil
		case "shift+tab", "up":
			m.setFormFocus((m.formFocus + 2) % 3)
			return m, nil
		case "enter":
			req := schema.AddRequest{
				FileName: m.deps.Session.FileName(),
				Kind:     m.colKind,
				Name:     m.colName.Value(),
				Template: m.colTemplate.Value(),
			}
			if err := req.Validate(); err != nil {
				m.inputErr = capitalize(err.Error())
				return m, nil
			}
			m.state = stateTable
			m.inputErr = ""
			m.columnBusy = true
			m.colName.Blur()
			m.colTemplate.Blur()
			return m, m.addColumnCmd(req)
		}
		if m.formFocus == 0 {
			switch msg.String() {
			case "left", "right", " ", "h", "l":
				if m.colKind == model.Condition {
					m.colKind = model.Action
				} else {
					m.colKind = model.Condition
				}
			}
			return m, nil
		}
	}
	var cmd tea.Cmd
	if m.formFocus == 1 {
		m.colName, cmd = m.colName.Update(msg)
	} else if m.formFocus == 2 {
		m.colTemplate, cmd = m.colTemplate.Update(msg)
	}
	return m, cmd
}

func (m Model) updateDeleteColumn(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "esc", "n", "N":
			m.state = stateTable
			return m, nil
		case "enter", "y", "Y":
			t := m.deps.Session.Working()
			req := schema.DeleteRequest{
				FileName: m.deps.Session.FileName(),
				Index:    m.col,
				Columns:  len(t.ColumnLabels),
			}
			m.state = stateTable
			if err := req.Validate(); err != nil {
				m.deps.Notes.Error(capitalize(err.Error()))
				return m, nil
			}
			m.columnBusy = true
			return m, m.deleteColumnCmd(req)
		}
	}
	return m, nil
}

// runEffects starts the remote steps the publish machine asked for and
// performs the view reset itself.
func (m *Model) runEffects(effs []publish.Effect) tea.Cmd {
	var cmds []tea.Cmd
	for _, eff := range effs {
		if eff.Local() {
			m.resetView()
			cmds = append(cmds, m.listTablesCmd())
			continue
		}
		cmds = append(cmds, m.publishCmd(eff))
	}
	return tea.Batch(cmds...)
}

// resetView returns to the file list with nothing selected.
func (m *Model) resetView() {
	m.deps.Session.Unload()
	m.state = stateFiles
	m.row, m.col = 0, 0
	m.loading = true
}

// acknowledgeExpiredFailure clears a failed publish once its notification
// has expired or been dismissed.
func (m *Model) acknowledgeExpiredFailure() {
	if _, id, ok := m.deps.Publish.Failure(); ok && !m.deps.Notes.Contains(id) {
		m.deps.Publish.Acknowledge()
	}
}

func (m *Model) dismissNewest() {
	m.deps.Notes.DismissNewest()
	m.acknowledgeExpiredFailure()
}

func (m *Model) setFormFocus(i int) {
	m.formFocus = i
	m.colName.Blur()
	m.colTemplate.Blur()
	switch i {
	case 1:
		m.colName.Focus()
	case 2:
		m.colTemplate.Focus()
	}
}

func (m *Model) clampCursor() {
	t := m.deps.Session.Working()
	if m.row >= len(t.Rows) {
		m.row = len(t.Rows) - 1
	}
	if m.row < 0 {
		m.row = 0
	}
	if m.col > t.ValueColumns() {
		m.col = t.ValueColumns()
	}
}

// buildItems rebuilds the list items with the current session status.
func (m *Model) buildItems() {
	items := make([]list.Item, len(m.files))
	for i, f := range m.files {
		it := fileItem{name: f}
		if f == m.deps.Session.FileName() && m.deps.Session.Loaded() {
			it.status = m.sessionStatus()
		}
		items[i] = it
	}
	m.list.SetItems(items)
}

func (m Model) sessionStatus() string {
	s := m.deps.Session
	switch {
	case s.Saving():
		return "saving"
	case s.Dirty():
		return "modified"
	case s.Publishable():
		return "saved, ready to publish"
	}
	return "loaded"
}

func (m Model) selectedFile() string {
	if len(m.files) == 0 {
		return ""
	}
	idx := m.list.Index()
	if idx < 0 || idx >= len(m.files) {
		return ""
	}
	return m.files[idx]
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
