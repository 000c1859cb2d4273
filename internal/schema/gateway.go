// Package schema adds and removes decision table columns on the backend.
// Column shape is owned by the backend, so every successful change is
// followed by a fresh fetch and a wholesale session reload instead of a
// local patch.
package schema

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"ruledeck/internal/backend"
	"ruledeck/internal/model"
	"ruledeck/internal/notify"
)

var (
	ErrEmptyName     = errors.New("column name is required")
	ErrEmptyTemplate = errors.New("column template is required")
	ErrBadKind       = errors.New("column kind must be CONDITION or ACTION")
	ErrNameColumn    = errors.New("the name column cannot be deleted")
	ErrColumnRange   = errors.New("column index out of range")
)

// Remote is the backend surface the gateway needs.
type Remote interface {
	AddColumn(ctx context.Context, fileName string, kind model.ColumnKind, name, template string) (backend.Reply, error)
	DeleteColumn(ctx context.Context, fileName string, columnIndex int) (backend.Reply, error)
	OpenTable(ctx context.Context, fileName string) (model.DecisionTable, error)
}

// Loader is the part of the edit session a reload needs.
type Loader interface {
	Load(fileName string, t model.DecisionTable) error
}

// Notifier receives outcome messages.
type Notifier interface {
	Success(msg string) notify.ID
	Error(msg string) notify.ID
}

// AddRequest describes a new column.
type AddRequest struct {
	FileName string
	Kind     model.ColumnKind
	Name     string
	Template string
}

func (r AddRequest) Validate() error {
	switch {
	case r.Kind != model.Condition && r.Kind != model.Action:
		return ErrBadKind
	case strings.TrimSpace(r.Name) == "":
		return ErrEmptyName
	case strings.TrimSpace(r.Template) == "":
		return ErrEmptyTemplate
	}
	return nil
}

// DeleteRequest identifies a column to remove. Columns is the current
// column count including the name column; zero skips the upper bound check.
type DeleteRequest struct {
	FileName string
	Index    int
	Columns  int
}

func (r DeleteRequest) Validate() error {
	switch {
	case r.Index == 0:
		return ErrNameColumn
	case r.Index < 0, r.Columns > 0 && r.Index >= r.Columns:
		return fmt.Errorf("%w: %d", ErrColumnRange, r.Index)
	}
	return nil
}

// Stage says how far a mutation got.
type Stage int

const (
	Rejected   Stage = iota // failed validation, nothing sent
	Failed                  // backend refused the change
	Changed                 // change applied, fresh table fetched
	ReloadFail              // change applied, fetching the new shape failed
)

// Result is the outcome of a column mutation, produced off the event loop
// and applied on it with Apply.
type Result struct {
	Op       string // "add" | "delete"
	Column   string // column name or index, for messages
	FileName string
	Stage    Stage
	Reply    backend.Reply
	Table    model.DecisionTable
	Err      error
}

// Gateway sequences column mutations against the backend.
type Gateway struct {
	remote Remote
	log    *slog.Logger
}

func New(r Remote, log *slog.Logger) *Gateway {
	if log == nil {
		log = slog.Default()
	}
	return &Gateway{remote: r, log: log}
}

// Add validates req, asks the backend to add the column and fetches the
// resulting table. It blocks and touches no shared state.
func (g *Gateway) Add(ctx context.Context, req AddRequest) Result {
	res := Result{Op: "add", Column: req.Name, FileName: req.FileName}
	if err := req.Validate(); err != nil {
		res.Err = err
		return res
	}
	res.Reply, res.Err = g.remote.AddColumn(ctx, req.FileName, req.Kind, strings.TrimSpace(req.Name), req.Template)
	return g.reload(ctx, res)
}

// Delete validates req, asks the backend to delete the column and fetches
// the resulting table.
func (g *Gateway) Delete(ctx context.Context, req DeleteRequest) Result {
	res := Result{Op: "delete", Column: fmt.Sprintf("#%d", req.Index), FileName: req.FileName}
	if err := req.Validate(); err != nil {
		res.Err = err
		return res
	}
	res.Reply, res.Err = g.remote.DeleteColumn(ctx, req.FileName, req.Index)
	return g.reload(ctx, res)
}

func (g *Gateway) reload(ctx context.Context, res Result) Result {
	if res.Err != nil {
		res.Stage = Failed
		g.log.Warn("column change failed", "op", res.Op, "file", res.FileName, "err", res.Err)
		return res
	}
	t, err := g.remote.OpenTable(ctx, res.FileName)
	if err != nil {
		res.Stage = ReloadFail
		res.Err = err
		g.log.Warn("reload after column change failed", "op", res.Op, "file", res.FileName, "err", err)
		return res
	}
	res.Stage = Changed
	res.Table = t
	g.log.Info("column changed", "op", res.Op, "column", res.Column, "file", res.FileName)
	return res
}

// Apply folds res into the session and reports the outcome. Validation
// failures are returned without a notification; the caller disables the
// action instead.
func Apply(res Result, l Loader, n Notifier) error {
	verb := "add column " + res.Column
	past := "Column " + res.Column + " added"
	if res.Op == "delete" {
		verb = "delete column " + res.Column
		past = "Column " + res.Column + " deleted"
	}

	switch res.Stage {
	case Rejected:
		return res.Err
	case Failed:
		n.Error(fmt.Sprintf("Failed to %s: %s", verb, backend.Detail(res.Err, "unknown error")))
		return res.Err
	case ReloadFail:
		n.Error(fmt.Sprintf("%s, but reloading %s failed: %s", past, res.FileName, backend.Detail(res.Err, "unknown error")))
		return res.Err
	}

	if err := l.Load(res.FileName, res.Table); err != nil {
		n.Error(fmt.Sprintf("%s, but reloading %s failed: %s", past, res.FileName, err))
		return err
	}
	msg := past
	if res.Reply.Message != "" {
		msg = past + ": " + res.Reply.Message
	}
	n.Success(msg)
	return nil
}
