// Package publish turns a saved table into a pushed branch, a pull request
// and a synced base branch. Machine holds the workflow state and decides
// what to do next; Execute performs one step against the backend. The TUI
// runs steps as commands and feeds results back through Resolve; Driver
// does the same synchronously for headless use.
package publish

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"ruledeck/internal/backend"
	"ruledeck/internal/model"
	"ruledeck/internal/notify"
)

var (
	ErrNotPublishable = errors.New("please save your changes before pushing to git")
	ErrBusy           = errors.New("a publish is already in progress")
)

type State int

const (
	Idle State = iota
	Confirming
	GeneratingBranch
	Pushing
	CreatingPR
	SyncingMain
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Confirming:
		return "confirming"
	case GeneratingBranch:
		return "generating branch"
	case Pushing:
		return "pushing"
	case CreatingPR:
		return "creating pull request"
	case SyncingMain:
		return "syncing base branch"
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session is the part of the edit session the workflow reads and reloads.
type Session interface {
	FileName() string
	Dirty() bool
	Publishable() bool
	Load(fileName string, t model.DecisionTable) error
	ConsumePublish()
}

type Notifier interface {
	Success(msg string) notify.ID
	Error(msg string) notify.ID
}

type Options struct {
	RepoURL    string
	BaseBranch string
	HomeBranch string
	DraftPRs   bool
}

// Attempt describes the publish in progress.
type Attempt struct {
	ID       ulid.ULID
	FileName string
	Branch   string // empty until the name resolves
	State    State
}

// StageError is the failure that ended an attempt.
type StageError struct {
	Stage State
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("publish failed while %s: %v", e.Stage, e.Err)
}
func (e *StageError) Unwrap() error { return e.Err }

type attempt struct {
	id       ulid.ULID
	fileName string
	branch   string
	named    bool
	nameErr  error
	pr       *model.PR
	failed   *StageError
	notice   notify.ID
}

// Machine is the publish state machine. It is not safe for concurrent use;
// drive it from one loop.
type Machine struct {
	sess  Session
	notes Notifier
	log   *slog.Logger
	opts  Options

	state State
	att   *attempt
}

func New(sess Session, n Notifier, opts Options, log *slog.Logger) *Machine {
	if log == nil {
		log = slog.Default()
	}
	return &Machine{sess: sess, notes: n, opts: opts, log: log}
}

func (m *Machine) State() State { return m.state }

// Busy reports whether an attempt is running; the table must not be edited
// or switched meanwhile.
func (m *Machine) Busy() bool {
	return m.state != Idle && m.state != Confirming && m.state != Failed
}

func (m *Machine) Attempt() (Attempt, bool) {
	if m.att == nil {
		return Attempt{}, false
	}
	return Attempt{ID: m.att.id, FileName: m.att.fileName, Branch: m.att.branch, State: m.state}, true
}

// Failure returns the error of a failed attempt and the ID of the
// notification that reported it.
func (m *Machine) Failure() (*StageError, notify.ID, bool) {
	if m.state != Failed || m.att == nil || m.att.failed == nil {
		return nil, notify.ID{}, false
	}
	return m.att.failed, m.att.notice, true
}

// Request starts an attempt for the session's table. Branch-name generation
// starts right away so the confirmation can show the name.
func (m *Machine) Request() ([]Effect, error) {
	if m.state != Idle {
		return nil, ErrBusy
	}
	if m.sess.FileName() == "" || m.sess.Dirty() || !m.sess.Publishable() {
		return nil, ErrNotPublishable
	}
	m.att = &attempt{id: ulid.Make(), fileName: m.sess.FileName()}
	m.set(Confirming)
	return []Effect{m.effect(GenerateBranch)}, nil
}

// Cancel abandons an unconfirmed attempt. A branch name still in flight is
// dropped when it arrives.
func (m *Machine) Cancel() bool {
	if m.state != Confirming {
		return false
	}
	m.reset()
	return true
}

// Confirm commits to publishing. If the branch name is still pending the
// machine waits for it in GeneratingBranch.
func (m *Machine) Confirm() []Effect {
	if m.state != Confirming {
		return nil
	}
	m.set(GeneratingBranch)
	if !m.att.named {
		return nil
	}
	return m.named()
}

// Acknowledge clears a failed attempt.
func (m *Machine) Acknowledge() bool {
	if m.state != Failed {
		return false
	}
	m.reset()
	return true
}

// Resolve applies the result of an effect and returns what to run next.
// Results for another attempt, or arriving when nothing is running, are
// discarded.
func (m *Machine) Resolve(ev Event) []Effect {
	if m.att == nil || m.state == Idle || ev.Attempt != m.att.id {
		m.log.Debug("discarding stale publish result", "step", ev.Kind, "attempt", ev.Attempt)
		return nil
	}

	switch {
	case ev.Kind == GenerateBranch && (m.state == Confirming || m.state == GeneratingBranch) && !m.att.named:
		m.att.named = true
		m.att.branch, m.att.nameErr = ev.Branch, ev.Err
		if m.state == GeneratingBranch {
			return m.named()
		}
		return nil

	case ev.Kind == Push && m.state == Pushing:
		if ev.Err != nil {
			return m.fail(ev.Err, "Failed to push to Git: %s", backend.Detail(ev.Err, "push failed"))
		}
		if ev.Branch != "" {
			m.att.branch = ev.Branch
		}
		m.set(CreatingPR)
		return []Effect{m.effect(CreatePR)}

	case ev.Kind == CreatePR && m.state == CreatingPR:
		if ev.Err != nil {
			return m.fail(ev.Err, "Pushed branch %s, but failed to create pull request: %s",
				m.att.branch, backend.Detail(ev.Err, "pull request failed"))
		}
		m.att.pr = ev.PR
		m.set(SyncingMain)
		return []Effect{m.effect(SyncMain)}

	case ev.Kind == SyncMain && m.state == SyncingMain:
		if ev.Err != nil {
			return m.fail(ev.Err, "Pushed branch %s and created pull request, but failed to sync %s: %s",
				m.att.branch, m.opts.BaseBranch, backend.Detail(ev.Err, "sync failed"))
		}
		m.set(Succeeded)
		m.notes.Success(fmt.Sprintf("Successfully pushed to Git! Branch: %s", m.att.branch))
		msg := "Pull request created"
		if m.att.pr != nil && m.att.pr.Message != "" {
			msg = m.att.pr.Message
		}
		m.notes.Success(msg)
		return []Effect{m.effect(PullHome)}

	case ev.Kind == PullHome && m.state == Succeeded:
		if ev.Err != nil {
			m.notes.Error(fmt.Sprintf("Published, but failed to pull %s: %s",
				m.opts.HomeBranch, backend.Detail(ev.Err, "pull failed")))
		}
		return []Effect{m.effect(ReloadTable)}

	case ev.Kind == ReloadTable && m.state == Succeeded:
		file := m.att.fileName
		if ev.Err != nil {
			m.notes.Error(fmt.Sprintf("Published, but failed to reload %s: %s", file, backend.Detail(ev.Err, "reload failed")))
		} else if err := m.sess.Load(file, ev.Table); err != nil {
			m.notes.Error(fmt.Sprintf("Published, but failed to reload %s: %v", file, err))
		}
		m.sess.ConsumePublish()
		reset := m.effect(ResetView)
		m.reset()
		return []Effect{reset}
	}

	m.log.Debug("ignoring publish result", "step", ev.Kind, "state", m.state)
	return nil
}

func (m *Machine) named() []Effect {
	if m.att.nameErr != nil {
		return m.fail(m.att.nameErr, "Failed to generate branch name: %s", backend.Detail(m.att.nameErr, "no branch name"))
	}
	m.set(Pushing)
	return []Effect{m.effect(Push)}
}

func (m *Machine) fail(err error, format string, args ...any) []Effect {
	stage := m.state
	m.set(Failed)
	m.att.failed = &StageError{Stage: stage, Err: err}
	m.att.notice = m.notes.Error(fmt.Sprintf(format, args...))
	m.log.Warn("publish failed", "stage", stage, "file", m.att.fileName, "branch", m.att.branch, "err", err)
	return nil
}

func (m *Machine) set(s State) {
	m.log.Debug("publish transition", "from", m.state, "to", s, "attempt", m.att.id)
	m.state = s
}

func (m *Machine) reset() {
	m.state = Idle
	m.att = nil
}

func (m *Machine) effect(k Step) Effect {
	return Effect{
		Kind:          k,
		Attempt:       m.att.id,
		FileName:      m.att.fileName,
		Branch:        m.att.branch,
		RepoURL:       m.opts.RepoURL,
		BaseBranch:    m.opts.BaseBranch,
		HomeBranch:    m.opts.HomeBranch,
		CommitMessage: fmt.Sprintf("Update rules in %s", m.att.fileName),
		Title:         fmt.Sprintf("Update rules in %s", m.att.fileName),
		Body:          "Automated update to decision table rules via ruledeck",
		Draft:         m.opts.DraftPRs,
	}
}
