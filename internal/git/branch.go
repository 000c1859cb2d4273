// Package git holds the client-side branch naming rules. All repository
// operations run on the backend; this package only names and checks refs.
package git

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/go-git/go-git/v5/plumbing"
)

// ValidateBranch checks name against git's ref-format rules.
func ValidateBranch(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("branch name is empty")
	}
	if err := plumbing.NewBranchReferenceName(name).Validate(); err != nil {
		return fmt.Errorf("invalid branch name %q: %w", name, err)
	}
	return nil
}

// FileToSlug normalises a table file name into a ref-safe slug,
// e.g. "Pricing Rules.xlsx" -> "pricing-rules".
func FileToSlug(fileName string) string {
	base := strings.TrimSuffix(path.Base(fileName), path.Ext(fileName))
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(base) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	s := strings.TrimSuffix(b.String(), "-")
	if s == "" {
		return "rules"
	}
	return s
}

// Namer produces a branch name for publishing fileName to repoURL.
type Namer interface {
	GenerateBranchName(ctx context.Context, fileName, repoURL string) (string, error)
}

// LocalNamer generates "<prefix>/<slug>-<unix ms>" names without a backend
// round-trip.
type LocalNamer struct {
	Prefix string
	Now    func() time.Time
}

func (n LocalNamer) GenerateBranchName(ctx context.Context, fileName, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	now := time.Now
	if n.Now != nil {
		now = n.Now
	}
	prefix := strings.Trim(n.Prefix, "/")
	if prefix == "" {
		prefix = "rules"
	}
	name := fmt.Sprintf("%s/%s-%d", prefix, FileToSlug(fileName), now().UnixMilli())
	return name, ValidateBranch(name)
}

// Checked wraps a Namer and rejects names git would refuse, so a bad name
// fails before anything is pushed.
type Checked struct {
	Namer
}

func (c Checked) GenerateBranchName(ctx context.Context, fileName, repoURL string) (string, error) {
	name, err := c.Namer.GenerateBranchName(ctx, fileName, repoURL)
	if err != nil {
		return "", err
	}
	if err := ValidateBranch(name); err != nil {
		return "", err
	}
	return name, nil
}
