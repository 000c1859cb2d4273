package forge

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/go-git/go-git/v5/plumbing/transport"

	"ruledeck/internal/backend"
	"ruledeck/internal/model"
)

// Forge opens pull/merge requests for published branches.
type Forge interface {
	Kind() string // "backend" | "github" | "gitlab"
	CreatePR(ctx context.Context, opts CreateOpts) (*model.PR, error)
}

// CreateOpts are the parameters for creating a PR/MR.
type CreateOpts struct {
	RepoURL    string
	BaseBranch string
	Branch     string
	Title      string
	Body       string
	Draft      bool
}

// PRBackend is the backend endpoint that opens PRs server-side.
type PRBackend interface {
	CreatePullRequest(ctx context.Context, req backend.PullRequest) (backend.Reply, error)
}

// runner executes a CLI and returns its combined output.
type runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// Select returns the forge for kind: "backend", "github", "gitlab", or
// "auto", which picks a CLI forge from the repo URL host when its CLI is
// installed and falls back to the backend otherwise.
func Select(kind, repoURL string, api PRBackend) (Forge, error) {
	switch kind {
	case "", "backend":
		return &viaBackend{api: api}, nil
	case "github":
		return &gitHub{run: execRunner}, nil
	case "gitlab":
		return &gitLab{run: execRunner}, nil
	case "auto":
		switch Detect(repoURL) {
		case "github":
			if _, err := exec.LookPath("gh"); err == nil {
				return &gitHub{run: execRunner}, nil
			}
		case "gitlab":
			if _, err := exec.LookPath("glab"); err == nil {
				return &gitLab{run: execRunner}, nil
			}
		}
		return &viaBackend{api: api}, nil
	}
	return nil, fmt.Errorf("unknown forge %q", kind)
}

// Detect classifies repoURL by host: "github", "gitlab", or "" if
// unrecognised or unparsable.
func Detect(repoURL string) string {
	ep, err := transport.NewEndpoint(repoURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(ep.Host)
	switch {
	case host == "github.com" || strings.HasSuffix(host, ".github.com"):
		return "github"
	case strings.Contains(host, "gitlab"):
		return "gitlab"
	}
	return ""
}

// RepoSlug returns "owner/repo" for repoURL, as gh and glab expect.
func RepoSlug(repoURL string) (string, error) {
	ep, err := transport.NewEndpoint(repoURL)
	if err != nil {
		return "", fmt.Errorf("repo url: %w", err)
	}
	slug := strings.TrimSuffix(strings.Trim(ep.Path, "/"), ".git")
	if !strings.Contains(slug, "/") {
		return "", fmt.Errorf("repo url %q has no owner/repo path", repoURL)
	}
	return slug, nil
}

// viaBackend delegates PR creation to the rule backend.
type viaBackend struct {
	api PRBackend
}

func (b *viaBackend) Kind() string { return "backend" }

func (b *viaBackend) CreatePR(ctx context.Context, opts CreateOpts) (*model.PR, error) {
	r, err := b.api.CreatePullRequest(ctx, backend.PullRequest{
		RepoURL:    opts.RepoURL,
		BaseBranch: opts.BaseBranch,
		Branch:     opts.Branch,
		Title:      opts.Title,
		Body:       opts.Body,
	})
	if err != nil {
		return nil, err
	}
	return &model.PR{Message: r.Message, Forge: "backend"}, nil
}

// lastURL returns the last http(s) URL printed by a forge CLI.
func lastURL(out []byte) string {
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		l := strings.TrimSpace(lines[i])
		if strings.HasPrefix(l, "https://") || strings.HasPrefix(l, "http://") {
			return l
		}
	}
	return ""
}

func trimOutput(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200] + "…"
	}
	return s
}
