package model

// PR holds what the PR host reported for a published branch.
type PR struct {
	WebURL  string // empty when unknown
	Message string // human-readable server/CLI message
	Forge   string // "backend" | "github" | "gitlab"
}
