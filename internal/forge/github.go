package forge

import (
	"context"
	"fmt"
	"time"

	"ruledeck/internal/model"
)

type gitHub struct {
	run runner
}

func (g *gitHub) Kind() string { return "github" }

func (g *gitHub) CreatePR(ctx context.Context, opts CreateOpts) (*model.PR, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	repo, err := RepoSlug(opts.RepoURL)
	if err != nil {
		return nil, err
	}
	args := []string{
		"pr", "create",
		"--repo", repo,
		"--head", opts.Branch,
		"--base", opts.BaseBranch,
		"--title", opts.Title,
		"--body", opts.Body,
	}
	if opts.Draft {
		args = append(args, "--draft")
	}

	out, err := g.run(ctx, "gh", args...)
	if err != nil {
		return nil, fmt.Errorf("gh pr create: %s", trimOutput(out))
	}
	url := lastURL(out)
	msg := "Pull request created"
	if url != "" {
		msg += ": " + url
	}
	return &model.PR{WebURL: url, Message: msg, Forge: "github"}, nil
}
