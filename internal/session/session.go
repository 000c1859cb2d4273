// Package session holds the in-memory working copy of one decision table and
// tracks whether it is dirty, saved, and eligible for publishing.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ruledeck/internal/backend"
	"ruledeck/internal/model"
	"ruledeck/internal/notify"
)

var (
	ErrNoTable      = errors.New("no table loaded")
	ErrOutOfRange   = errors.New("cell out of range")
	ErrSaveInFlight = errors.New("a save is already in flight for this table")
)

// Notifier receives outcome messages.
type Notifier interface {
	Success(msg string) notify.ID
	Error(msg string) notify.ID
}

// Saver persists a table.
type Saver interface {
	SaveTable(ctx context.Context, fileName string, t model.DecisionTable) (backend.Reply, error)
}

// PendingSave is a save that has been handed to the backend and not yet
// acknowledged. Table is a private copy, safe to send from another goroutine.
type PendingSave struct {
	FileName string
	Table    model.DecisionTable
	gen      uint64
	rev      uint64
}

// Session is the edit session for one table. It is not safe for concurrent
// use; drive it from a single loop.
type Session struct {
	notes Notifier
	log   *slog.Logger

	fileName string
	loaded   bool
	working  model.DecisionTable
	snapshot model.DecisionTable
	dirty    bool
	saved    bool

	gen     uint64 // bumped by every Load/Unload
	rev     uint64 // bumped by every mutation
	pending *PendingSave
}

// New returns an empty session that reports to n.
func New(n Notifier, log *slog.Logger) *Session {
	if log == nil {
		log = slog.Default()
	}
	return &Session{notes: n, log: log}
}

// Load replaces the working copy and snapshot with independent copies of t.
// It refuses to load a file whose save has not been acknowledged yet, even
// if other files were loaded in between; loading a different file is always
// allowed.
func (s *Session) Load(fileName string, t model.DecisionTable) error {
	if s.pending != nil && s.pending.FileName == fileName {
		return ErrSaveInFlight
	}
	t = t.Clone()
	t.Normalize()
	s.fileName = fileName
	s.loaded = true
	s.working = t
	s.snapshot = t.Clone()
	s.dirty = false
	s.saved = false
	s.gen++
	s.log.Debug("table loaded", "file", fileName, "rows", len(t.Rows), "columns", len(t.ColumnLabels))
	return nil
}

// Unload drops the current table.
func (s *Session) Unload() {
	s.fileName = ""
	s.loaded = false
	s.working = model.DecisionTable{}
	s.snapshot = model.DecisionTable{}
	s.dirty = false
	s.saved = false
	s.gen++
}

func (s *Session) FileName() string { return s.fileName }
func (s *Session) Loaded() bool     { return s.loaded }
func (s *Session) Dirty() bool      { return s.dirty }
func (s *Session) Saving() bool     { return s.pending != nil }

// Publishable reports whether the table has been saved since the last load
// or discard and has not been edited since.
func (s *Session) Publishable() bool { return s.loaded && s.saved && !s.dirty }

// Working returns a copy of the working table.
func (s *Session) Working() model.DecisionTable { return s.working.Clone() }

// Snapshot returns a copy of the last loaded or saved table.
func (s *Session) Snapshot() model.DecisionTable { return s.snapshot.Clone() }

// AddRow appends an unnamed row of null values.
func (s *Session) AddRow() error {
	if !s.loaded {
		return ErrNoTable
	}
	vals := make([]model.Cell, s.working.ValueColumns())
	s.working.Rows = append(s.working.Rows, model.Row{Values: vals})
	s.touch()
	return nil
}

// DeleteRow removes row i. Out-of-range indexes are ignored; the result
// reports whether a row was removed.
func (s *Session) DeleteRow(i int) bool {
	if !s.loaded || i < 0 || i >= len(s.working.Rows) {
		return false
	}
	s.working.Rows = append(s.working.Rows[:i], s.working.Rows[i+1:]...)
	s.touch()
	return true
}

// EditCell writes one cell. Column 0 is the row name; column c > 0 is
// value c-1. A null value written to the name column clears it.
func (s *Session) EditCell(row, col int, v model.Cell) error {
	if !s.loaded {
		return ErrNoTable
	}
	if row < 0 || row >= len(s.working.Rows) || col < 0 || col > s.working.ValueColumns() {
		return fmt.Errorf("%w: row %d column %d", ErrOutOfRange, row, col)
	}
	if col == 0 {
		s.working.Rows[row].Name = v.String()
	} else {
		s.working.Rows[row].Values[col-1] = v
	}
	s.touch()
	return nil
}

// Discard throws away unsaved edits. Publish eligibility is revoked too:
// only a freshly saved table may be published.
func (s *Session) Discard() {
	if !s.loaded {
		return
	}
	s.working = s.snapshot.Clone()
	s.dirty = false
	s.saved = false
	s.rev++
}

// ConsumePublish marks the saved state as published.
func (s *Session) ConsumePublish() { s.saved = false }

// BeginSave captures the working table for sending. Only one save may be
// outstanding at a time.
func (s *Session) BeginSave() (*PendingSave, error) {
	if !s.loaded {
		return nil, ErrNoTable
	}
	if s.pending != nil {
		return nil, ErrSaveInFlight
	}
	s.pending = &PendingSave{
		FileName: s.fileName,
		Table:    s.working.Clone(),
		gen:      s.gen,
		rev:      s.rev,
	}
	return s.pending, nil
}

// FinishSave applies the backend's answer to p. On success the sent table
// becomes the snapshot; on failure nothing changes. Either way the outcome
// is reported. If another table has been loaded since p began, only the
// notification is emitted.
func (s *Session) FinishSave(p *PendingSave, reply backend.Reply, err error) {
	if s.pending == p {
		s.pending = nil
	}
	if err != nil {
		s.log.Warn("save failed", "file", p.FileName, "err", err)
		s.notes.Error(fmt.Sprintf("Failed to save %s: %s", p.FileName, backend.Detail(err, "unknown error")))
		return
	}
	s.log.Info("table saved", "file", p.FileName, "message", reply.Message)
	s.notes.Success(fmt.Sprintf("Saved %s", p.FileName))
	if p.gen != s.gen {
		return
	}
	s.snapshot = p.Table.Clone()
	s.saved = true
	// edits made while the save was in flight are still unsaved
	s.dirty = s.rev != p.rev
}

// Save runs a complete save against sv and returns the backend error, if any.
// It blocks; interactive callers use BeginSave and FinishSave instead.
func (s *Session) Save(ctx context.Context, sv Saver) error {
	p, err := s.BeginSave()
	if err != nil {
		return err
	}
	reply, err := sv.SaveTable(ctx, p.FileName, p.Table)
	s.FinishSave(p, reply, err)
	return err
}

func (s *Session) touch() {
	s.dirty = true
	s.rev++
}
