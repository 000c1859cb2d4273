// Package backend is the HTTP client for the rule backend: sheet storage,
// git operations and pull requests.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"ruledeck/internal/model"
)

// Reply is the generic {message} acknowledgement.
type Reply struct {
	Message string `json:"message"`
}

// PushReply reports the branch the backend actually pushed, which may differ
// from the requested one.
type PushReply struct {
	Message    string `json:"message"`
	BranchName string `json:"branchName,omitempty"`
}

// PushRequest is the payload of PushBranch.
type PushRequest struct {
	FileName      string `json:"fileName"`
	RepoURL       string `json:"repoUrl"`
	Branch        string `json:"newBranch"`
	CommitMessage string `json:"commitMessage"`
}

// PullRequest is the payload of CreatePullRequest.
type PullRequest struct {
	RepoURL    string `json:"repoUrl"`
	BaseBranch string `json:"baseBranch"`
	Branch     string `json:"newBranch"`
	Title      string `json:"title"`
	Body       string `json:"body"`
}

// Client talks to the backend's /api endpoints. It is safe for concurrent use.
type Client struct {
	base *url.URL
	http *http.Client
	log  *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout sets a per-request timeout on the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.log = l }
}

// New returns a client for the backend rooted at baseURL, e.g.
// "http://localhost:8080".
func New(baseURL string, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("backend url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("backend url: unsupported scheme %q", u.Scheme)
	}
	c := &Client{
		base: u,
		http: &http.Client{Timeout: 30 * time.Second},
		log:  slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c, nil
}

// ListTables returns the decision table file names in the rules folder.
func (c *Client) ListTables(ctx context.Context) ([]string, error) {
	var files []string
	if err := c.do(ctx, "list tables", http.MethodGet, "/api/sheets", nil, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// OpenTable fetches one table. Ragged rows are padded to the column count.
func (c *Client) OpenTable(ctx context.Context, fileName string) (model.DecisionTable, error) {
	var t model.DecisionTable
	body := map[string]string{"fileName": fileName}
	if err := c.do(ctx, "open table", http.MethodPost, "/api/sheets/open", body, &t); err != nil {
		return model.DecisionTable{}, err
	}
	t.Normalize()
	return t, nil
}

// SaveTable writes the table back to its sheet.
func (c *Client) SaveTable(ctx context.Context, fileName string, t model.DecisionTable) (Reply, error) {
	body := struct {
		FileName string              `json:"fileName"`
		View     model.DecisionTable `json:"view"`
	}{fileName, t}
	var r Reply
	err := c.do(ctx, "save table", http.MethodPost, "/api/sheets/save", body, &r)
	return r, err
}

// GenerateBranchName asks the backend for a fresh branch name for fileName.
func (c *Client) GenerateBranchName(ctx context.Context, fileName, repoURL string) (string, error) {
	body := map[string]string{"fileName": fileName, "repoUrl": repoURL}
	var r struct {
		BranchName string `json:"branchName"`
	}
	if err := c.do(ctx, "generate branch name", http.MethodPost, "/api/git/generate-branch-name", body, &r); err != nil {
		return "", err
	}
	if r.BranchName == "" {
		return "", &Error{Op: "generate branch name", Detail: "backend returned an empty branch name"}
	}
	return r.BranchName, nil
}

// PushBranch commits the saved sheet onto a new branch and pushes it.
func (c *Client) PushBranch(ctx context.Context, req PushRequest) (PushReply, error) {
	var r PushReply
	err := c.do(ctx, "push branch", http.MethodPost, "/api/git/push", req, &r)
	return r, err
}

// CreatePullRequest opens a PR from req.Branch into req.BaseBranch.
func (c *Client) CreatePullRequest(ctx context.Context, req PullRequest) (Reply, error) {
	var r Reply
	err := c.do(ctx, "create pull request", http.MethodPost, "/api/git/pr", req, &r)
	return r, err
}

// SyncBranch brings the backend's checkout of branch in line with the remote.
func (c *Client) SyncBranch(ctx context.Context, repoURL, branch string) (Reply, error) {
	body := map[string]string{"repoUrl": repoURL, "branch": branch}
	var r Reply
	err := c.do(ctx, "sync branch", http.MethodPost, "/api/git/sync", body, &r)
	return r, err
}

// PullBranch checks out branch and resets it to the remote head.
func (c *Client) PullBranch(ctx context.Context, repoURL, branch string) (Reply, error) {
	body := map[string]string{"repoUrl": repoURL, "branch": branch}
	var r Reply
	err := c.do(ctx, "pull branch", http.MethodPost, "/api/git/pull", body, &r)
	return r, err
}

// AddColumn appends a CONDITION or ACTION column to the sheet.
func (c *Client) AddColumn(ctx context.Context, fileName string, kind model.ColumnKind, name, template string) (Reply, error) {
	body := map[string]string{
		"fileName":      fileName,
		"columnType":    string(kind),
		"columnName":    name,
		"templateValue": template,
	}
	var r Reply
	err := c.do(ctx, "add column", http.MethodPost, "/api/sheets/add-column", body, &r)
	return r, err
}

// DeleteColumn removes the column at columnIndex (1-based over value columns,
// 0 being the name column).
func (c *Client) DeleteColumn(ctx context.Context, fileName string, columnIndex int) (Reply, error) {
	body := struct {
		FileName    string `json:"fileName"`
		ColumnIndex int    `json:"columnIndex"`
	}{fileName, columnIndex}
	var r Reply
	err := c.do(ctx, "delete column", http.MethodPost, "/api/sheets/delete-column", body, &r)
	return r, err
}

// ExecuteRules runs the table's rules against input and returns the
// backend's result document.
func (c *Client) ExecuteRules(ctx context.Context, fileName string, input map[string]any) (map[string]any, error) {
	body := map[string]any{"fileName": fileName, "inputData": input}
	var out map[string]any
	if err := c.do(ctx, "execute rules", http.MethodPost, "/api/sheets/execute-rules", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(ctx context.Context, op, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return &Error{Op: op, Err: fmt.Errorf("encode request: %w", err)}
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.JoinPath(path).String(), body)
	if err != nil {
		return &Error{Op: op, Err: err}
	}
	reqID := uuid.NewString()
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", reqID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("backend request failed", "op", op, "request_id", reqID, "err", err)
		return &Error{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("read response: %w", err)}
	}
	c.log.Debug("backend request",
		"op", op, "request_id", reqID, "status", resp.StatusCode, "took", time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		e := &Error{Op: op, Status: resp.StatusCode, Detail: errorText(raw)}
		c.log.Warn("backend error", "op", op, "request_id", reqID, "status", resp.StatusCode, "detail", e.Detail)
		return e
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &Error{Op: op, Status: resp.StatusCode, Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}

// errorText pulls the "error" or "message" field out of an error body.
func errorText(raw []byte) string {
	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) != nil {
		return ""
	}
	if s := strings.TrimSpace(body.Error); s != "" {
		return s
	}
	return strings.TrimSpace(body.Message)
}
