package forge

import (
	"context"
	"fmt"
	"time"

	"ruledeck/internal/model"
)

type gitLab struct {
	run runner
}

func (g *gitLab) Kind() string { return "gitlab" }

func (g *gitLab) CreatePR(ctx context.Context, opts CreateOpts) (*model.PR, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	repo, err := RepoSlug(opts.RepoURL)
	if err != nil {
		return nil, err
	}
	args := []string{
		"mr", "create",
		"--repo", repo,
		"--source-branch", opts.Branch,
		"--target-branch", opts.BaseBranch,
		"--title", opts.Title,
		"--description", opts.Body,
		"--yes", // non-interactive
	}
	if opts.Draft {
		args = append(args, "--draft")
	}

	out, err := g.run(ctx, "glab", args...)
	if err != nil {
		return nil, fmt.Errorf("glab mr create: %s", trimOutput(out))
	}
	url := lastURL(out)
	msg := "Merge request created"
	if url != "" {
		msg += ": " + url
	}
	return &model.PR{WebURL: url, Message: msg, Forge: "gitlab"}, nil
}
