package tui

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"ruledeck/internal/backend"
	"ruledeck/internal/model"
	"ruledeck/internal/publish"
	"ruledeck/internal/schema"
	"ruledeck/internal/session"
)

// — messages ————————————————————————————————————————————————————————————————

type tablesLoadedMsg struct {
	files []string
	err   error
}

type tableOpenedMsg struct {
	file  string
	table model.DecisionTable
	err   error
}

type savedMsg struct {
	pending *session.PendingSave
	reply   backend.Reply
	err     error
}

type publishMsg struct {
	ev publish.Event
}

type schemaMsg struct {
	res schema.Result
}

type pulledMsg struct {
	branch string
	reply  backend.Reply
	err    error
}

// taskMsg carries a due notification tick onto the update loop.
type taskMsg struct {
	fn func()
}

// — commands ————————————————————————————————————————————————————————————————

func (m Model) ctx() (context.Context, context.CancelFunc) {
	d := m.deps.Timeout
	if d <= 0 {
		d = 30 * time.Second
	}
	return context.WithTimeout(context.Background(), d)
}

func (m Model) listTablesCmd() tea.Cmd {
	api := m.deps.API
	return func() tea.Msg {
		ctx, cancel := m.ctx()
		defer cancel()
		files, err := api.ListTables(ctx)
		return tablesLoadedMsg{files: files, err: err}
	}
}

func (m Model) openTableCmd(file string) tea.Cmd {
	api := m.deps.API
	return func() tea.Msg {
		ctx, cancel := m.ctx()
		defer cancel()
		t, err := api.OpenTable(ctx, file)
		return tableOpenedMsg{file: file, table: t, err: err}
	}
}

func (m Model) saveCmd(p *session.PendingSave) tea.Cmd {
	api := m.deps.API
	return func() tea.Msg {
		ctx, cancel := m.ctx()
		defer cancel()
		reply, err := api.SaveTable(ctx, p.FileName, p.Table)
		return savedMsg{pending: p, reply: reply, err: err}
	}
}

func (m Model) publishCmd(eff publish.Effect) tea.Cmd {
	svc := m.deps.Services
	return func() tea.Msg {
		return publishMsg{ev: publish.Execute(context.Background(), svc, eff)}
	}
}

func (m Model) addColumnCmd(req schema.AddRequest) tea.Cmd {
	gw := m.deps.Schema
	return func() tea.Msg {
		ctx, cancel := m.ctx()
		defer cancel()
		return schemaMsg{res: gw.Add(ctx, req)}
	}
}

func (m Model) deleteColumnCmd(req schema.DeleteRequest) tea.Cmd {
	gw := m.deps.Schema
	return func() tea.Msg {
		ctx, cancel := m.ctx()
		defer cancel()
		return schemaMsg{res: gw.Delete(ctx, req)}
	}
}

func (m Model) pullCmd() tea.Cmd {
	api, repo, branch := m.deps.API, m.deps.RepoURL, m.deps.HomeBranch
	return func() tea.Msg {
		ctx, cancel := m.ctx()
		defer cancel()
		reply, err := api.PullBranch(ctx, repo, branch)
		return pulledMsg{branch: branch, reply: reply, err: err}
	}
}

func waitTask(tasks <-chan func()) tea.Cmd {
	if tasks == nil {
		return nil
	}
	return func() tea.Msg {
		fn, ok := <-tasks
		if !ok {
			return nil
		}
		return taskMsg{fn: fn}
	}
}
