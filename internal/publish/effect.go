package publish

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	"ruledeck/internal/backend"
	"ruledeck/internal/forge"
	"ruledeck/internal/git"
	"ruledeck/internal/model"
)

// Step names one unit of work the machine asks for.
type Step int

const (
	GenerateBranch Step = iota
	Push
	CreatePR
	SyncMain
	PullHome
	ReloadTable
	ResetView // handled by the caller's view, no remote call
)

func (s Step) String() string {
	switch s {
	case GenerateBranch:
		return "generate-branch"
	case Push:
		return "push"
	case CreatePR:
		return "create-pr"
	case SyncMain:
		return "sync"
	case PullHome:
		return "pull"
	case ReloadTable:
		return "reload"
	case ResetView:
		return "reset-view"
	}
	return fmt.Sprintf("Step(%d)", int(s))
}

// Effect is a request to run one step. It carries copies of everything the
// step needs, so it can run on another goroutine.
type Effect struct {
	Kind          Step
	Attempt       ulid.ULID
	FileName      string
	Branch        string
	RepoURL       string
	BaseBranch    string
	HomeBranch    string
	CommitMessage string
	Title         string
	Body          string
	Draft         bool
}

// Local reports whether the effect is handled by the caller instead of
// Execute.
func (e Effect) Local() bool { return e.Kind == ResetView }

// Event is the outcome of an effect.
type Event struct {
	Kind    Step
	Attempt ulid.ULID
	Branch  string
	Message string
	PR      *model.PR
	Table   model.DecisionTable
	Err     error
}

// Backend is the set of backend calls the workflow makes.
type Backend interface {
	PushBranch(ctx context.Context, req backend.PushRequest) (backend.PushReply, error)
	SyncBranch(ctx context.Context, repoURL, branch string) (backend.Reply, error)
	PullBranch(ctx context.Context, repoURL, branch string) (backend.Reply, error)
	OpenTable(ctx context.Context, fileName string) (model.DecisionTable, error)
}

type Services struct {
	Backend Backend
	Namer   git.Namer
	Forge   forge.Forge
	Timeout time.Duration // per step, 0 for none
}

// Execute runs eff and reports its outcome. It never panics on remote
// failure; errors come back in Event.Err.
func Execute(ctx context.Context, svc Services, eff Effect) Event {
	ev := Event{Kind: eff.Kind, Attempt: eff.Attempt}
	if svc.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, svc.Timeout)
		defer cancel()
	}

	switch eff.Kind {
	case GenerateBranch:
		ev.Branch, ev.Err = svc.Namer.GenerateBranchName(ctx, eff.FileName, eff.RepoURL)
	case Push:
		var r backend.PushReply
		r, ev.Err = svc.Backend.PushBranch(ctx, backend.PushRequest{
			FileName:      eff.FileName,
			RepoURL:       eff.RepoURL,
			Branch:        eff.Branch,
			CommitMessage: eff.CommitMessage,
		})
		ev.Message, ev.Branch = r.Message, r.BranchName
	case CreatePR:
		ev.PR, ev.Err = svc.Forge.CreatePR(ctx, forge.CreateOpts{
			RepoURL:    eff.RepoURL,
			BaseBranch: eff.BaseBranch,
			Branch:     eff.Branch,
			Title:      eff.Title,
			Body:       eff.Body,
			Draft:      eff.Draft,
		})
	case SyncMain:
		var r backend.Reply
		r, ev.Err = svc.Backend.SyncBranch(ctx, eff.RepoURL, eff.BaseBranch)
		ev.Message = r.Message
	case PullHome:
		var r backend.Reply
		r, ev.Err = svc.Backend.PullBranch(ctx, eff.RepoURL, eff.HomeBranch)
		ev.Message = r.Message
	case ReloadTable:
		ev.Table, ev.Err = svc.Backend.OpenTable(ctx, eff.FileName)
	case ResetView:
	default:
		ev.Err = fmt.Errorf("unknown publish step %d", eff.Kind)
	}
	return ev
}
