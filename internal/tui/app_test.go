package tui

import (
	"context"
	"errors"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ruledeck/internal/backend"
	"ruledeck/internal/forge"
	"ruledeck/internal/model"
	"ruledeck/internal/notify"
	"ruledeck/internal/publish"
	"ruledeck/internal/schema"
	"ruledeck/internal/session"
)

type noopHandle struct{}

func (noopHandle) Cancel() {}

type noopScheduler struct{}

func (noopScheduler) Every(time.Duration, func()) notify.Handle { return noopHandle{} }

type fakeBackend struct {
	calls []string
	table model.DecisionTable
	prErr error
}

func (f *fakeBackend) ListTables(context.Context) ([]string, error) {
	f.calls = append(f.calls, "list")
	return []string{"pricing.xlsx", "limits.xlsx"}, nil
}

func (f *fakeBackend) OpenTable(_ context.Context, file string) (model.DecisionTable, error) {
	f.calls = append(f.calls, "open:"+file)
	return f.table.Clone(), nil
}

func (f *fakeBackend) SaveTable(_ context.Context, file string, t model.DecisionTable) (backend.Reply, error) {
	f.calls = append(f.calls, "save:"+file)
	return backend.Reply{Message: "Saved"}, nil
}

func (f *fakeBackend) PullBranch(_ context.Context, repo, branch string) (backend.Reply, error) {
	f.calls = append(f.calls, "pull:"+branch)
	return backend.Reply{Message: "Already up to date"}, nil
}

func (f *fakeBackend) GenerateBranchName(context.Context, string, string) (string, error) {
	f.calls = append(f.calls, "name")
	return "b1", nil
}

func (f *fakeBackend) PushBranch(_ context.Context, req backend.PushRequest) (backend.PushReply, error) {
	f.calls = append(f.calls, "push:"+req.Branch)
	return backend.PushReply{Message: "Pushed"}, nil
}

func (f *fakeBackend) CreatePullRequest(context.Context, backend.PullRequest) (backend.Reply, error) {
	f.calls = append(f.calls, "pr")
	return backend.Reply{Message: "Pull request created"}, f.prErr
}

func (f *fakeBackend) SyncBranch(_ context.Context, repo, branch string) (backend.Reply, error) {
	f.calls = append(f.calls, "sync:"+branch)
	return backend.Reply{}, nil
}

func (f *fakeBackend) AddColumn(_ context.Context, file string, kind model.ColumnKind, name, tmpl string) (backend.Reply, error) {
	f.calls = append(f.calls, "add-column:"+string(kind)+":"+name)
	f.table.ColumnLabels = append(f.table.ColumnLabels, name)
	f.table.TemplateLabels = append(f.table.TemplateLabels, tmpl)
	f.table.Normalize()
	return backend.Reply{Message: "Column added"}, nil
}

func (f *fakeBackend) DeleteColumn(_ context.Context, file string, idx int) (backend.Reply, error) {
	f.calls = append(f.calls, "delete-column")
	return backend.Reply{}, errors.New("not supported")
}

type harness struct {
	t     *testing.T
	m     Model
	api   *fakeBackend
	notes *notify.Queue
	sess  *session.Session
	pub   *publish.Machine
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	api := &fakeBackend{table: model.DecisionTable{
		ColumnLabels:   []string{"Name", "CONDITION_1", "ACTION_1"},
		TemplateLabels: []string{"", "age > $param", "discount($param)"},
	}}
	notes := notify.New(noopScheduler{})
	sess := session.New(notes, nil)
	opts := publish.Options{RepoURL: "https://github.com/acme/rules.git", BaseBranch: "main", HomeBranch: "main"}
	pub := publish.New(sess, notes, opts, nil)
	fg, err := forge.Select("backend", opts.RepoURL, api)
	require.NoError(t, err)

	m := New(Deps{
		API:        api,
		Session:    sess,
		Notes:      notes,
		Schema:     schema.New(api, nil),
		Publish:    pub,
		Services:   publish.Services{Backend: api, Namer: api, Forge: fg},
		RepoURL:    opts.RepoURL,
		HomeBranch: "main",
	})
	h := &harness{t: t, m: m, api: api, notes: notes, sess: sess, pub: pub}
	h.send(tea.WindowSizeMsg{Width: 120, Height: 40})
	return h
}

// send delivers msg and then runs every command it produced, feeding the
// results back until the model settles. Spinner ticks are dropped.
func (h *harness) send(msg tea.Msg) {
	h.t.Helper()
	next, cmd := h.m.Update(msg)
	h.m = next.(Model)
	h.run(cmd)
}

func (h *harness) run(cmd tea.Cmd) {
	if cmd == nil {
		return
	}
	switch msg := cmd().(type) {
	case nil, tickMsg:
	case tea.BatchMsg:
		for _, c := range msg {
			h.run(c)
		}
	default:
		if isInternal(msg) {
			h.send(msg)
		}
	}
}

// isInternal reports whether msg is one of ours rather than a cursor blink.
func isInternal(msg tea.Msg) bool {
	switch msg.(type) {
	case tablesLoadedMsg, tableOpenedMsg, savedMsg, publishMsg, schemaMsg, pulledMsg:
		return true
	}
	return false
}

func (h *harness) key(k string) {
	h.t.Helper()
	switch k {
	case "enter":
		h.send(tea.KeyMsg{Type: tea.KeyEnter})
	case "esc":
		h.send(tea.KeyMsg{Type: tea.KeyEsc})
	case "tab":
		h.send(tea.KeyMsg{Type: tea.KeyTab})
	default:
		h.send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)})
	}
}

func (h *harness) typeText(s string) {
	for _, r := range s {
		h.send(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}})
	}
}

func (h *harness) messages() []string {
	var out []string
	for _, it := range h.notes.Items() {
		out = append(out, it.Message)
	}
	return out
}

func (h *harness) open() {
	h.t.Helper()
	h.run(h.m.Init())
	require.Equal(h.t, []string{"pricing.xlsx", "limits.xlsx"}, h.m.files)
	h.key("enter")
	require.Equal(h.t, stateTable, h.m.state)
	require.True(h.t, h.sess.Loaded())
}

func TestOnlyLatestOpenIsLoaded(t *testing.T) {
	h := newHarness(t)
	h.run(h.m.Init())

	// Open pricing but hold back its reply.
	next, cmd := h.m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	h.m = next.(Model)
	require.NotNil(t, cmd)
	assert.Equal(t, "pricing.xlsx", h.m.opening)

	h.send(tea.KeyMsg{Type: tea.KeyDown})
	require.Equal(t, "limits.xlsx", h.m.selectedFile())
	h.key("enter")
	require.Equal(t, "limits.xlsx", h.sess.FileName())
	require.NoError(t, h.sess.AddRow())

	h.send(tableOpenedMsg{file: "pricing.xlsx", table: h.api.table})
	assert.Equal(t, "limits.xlsx", h.sess.FileName())
	assert.True(t, h.sess.Dirty())
	assert.Len(t, h.sess.Working().Rows, 1)
	assert.Empty(t, h.m.opening)
}

func TestOpenEditSavePublish(t *testing.T) {
	h := newHarness(t)
	h.open()
	assert.Equal(t, "pricing.xlsx", h.sess.FileName())

	h.key("a")
	h.key("l")
	h.key("enter")
	require.Equal(t, stateEditCell, h.m.state)
	assert.Equal(t, "Enter condition value", h.m.cellInput.Placeholder)
	h.typeText("x")
	h.key("enter")
	assert.Equal(t, stateTable, h.m.state)
	assert.True(t, h.sess.Dirty())
	assert.Equal(t, "x", h.sess.Working().Rows[0].Values[0].String())

	// Publishing a dirty table is refused without touching the backend.
	before := len(h.api.calls)
	h.key("P")
	assert.Equal(t, stateTable, h.m.state)
	assert.Len(t, h.api.calls, before)
	assert.Contains(t, h.messages(), "Please save your changes before pushing to git")

	h.key("s")
	assert.False(t, h.sess.Dirty())
	assert.True(t, h.sess.Publishable())

	h.key("P")
	require.Equal(t, stateConfirmPublish, h.m.state)
	a, ok := h.pub.Attempt()
	require.True(t, ok)
	assert.Equal(t, "b1", a.Branch, "the dialog shows the generated name")

	h.key("y")
	assert.Equal(t, publish.Idle, h.pub.State())
	assert.Equal(t, stateFiles, h.m.state)
	assert.False(t, h.sess.Loaded())
	assert.Contains(t, h.api.calls, "push:b1")
	assert.Contains(t, h.api.calls, "sync:main")
	assert.Contains(t, h.api.calls, "pull:main")
	assert.Contains(t, h.messages(), "Successfully pushed to Git! Branch: b1")
}

func TestCancelPublish(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.key("a")
	h.key("s")
	h.key("P")
	require.Equal(t, stateConfirmPublish, h.m.state)
	h.key("n")
	assert.Equal(t, stateTable, h.m.state)
	assert.Equal(t, publish.Idle, h.pub.State())
	assert.NotContains(t, h.api.calls, "push:b1")
}

func TestFailedPublishAcknowledgedOnDismiss(t *testing.T) {
	h := newHarness(t)
	h.api.prErr = &backend.Error{Op: "createPullRequest", Status: 500, Detail: "boom"}
	h.open()
	h.key("a")
	h.key("s")
	h.key("P")
	h.key("y")

	require.Equal(t, publish.Failed, h.pub.State())
	assert.Contains(t, h.messages(), "Pushed branch b1, but failed to create pull request: boom")
	assert.True(t, h.sess.Loaded(), "a failed publish keeps the table open")

	h.key("x")
	assert.Equal(t, publish.Idle, h.pub.State())
}

func TestAddColumnReloads(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.key("C")
	require.Equal(t, stateAddColumn, h.m.state)

	h.key("enter")
	assert.Equal(t, "Column name is required", h.m.inputErr)

	h.typeText("ACTION_2")
	h.key("tab")
	h.typeText("rate($param)")
	h.send(tea.KeyMsg{Type: tea.KeyTab})
	h.key("l") // kind selector
	h.key("enter")

	assert.Equal(t, stateTable, h.m.state)
	assert.Contains(t, h.api.calls, "add-column:ACTION:ACTION_2")
	assert.Equal(t, []string{"Name", "CONDITION_1", "ACTION_1", "ACTION_2"}, h.sess.Working().ColumnLabels)
}

func TestColumnChangesNeedCleanSession(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.key("a")
	h.key("C")
	assert.Equal(t, stateTable, h.m.state)
	h.key("X")
	assert.Equal(t, stateTable, h.m.state)
	assert.Contains(t, h.messages(), "Save or discard your changes before changing columns")
}

func TestDeleteColumnFailureKeepsTable(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.key("l")
	h.key("X")
	require.Equal(t, stateDeleteColumn, h.m.state)
	h.key("y")
	assert.Equal(t, stateTable, h.m.state)
	assert.Len(t, h.sess.Working().ColumnLabels, 3)
	assert.Contains(t, h.messages(), "Failed to delete column #1: not supported")
}

func TestDiscard(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.key("a")
	h.key("u")
	assert.False(t, h.sess.Dirty())
	assert.Empty(t, h.sess.Working().Rows)
	assert.Contains(t, h.messages(), "Changes discarded successfully")
}

func TestPullHomeBranch(t *testing.T) {
	h := newHarness(t)
	h.run(h.m.Init())
	h.key("p")
	assert.False(t, h.m.pulling)
	assert.Contains(t, h.api.calls, "pull:main")
	assert.Contains(t, h.messages(), "Pulled main: Already up to date")
}

func TestViewRenders(t *testing.T) {
	h := newHarness(t)
	h.open()
	h.key("a")
	out := h.m.View()
	assert.Contains(t, out, "CONDITION_1")
	assert.Contains(t, out, "modified")
}
