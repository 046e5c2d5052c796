/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package repoclient performs the remote repository operations of an issue
// run against the GitHub REST and GraphQL APIs.
package repoclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"chainguard.dev/issueagent/agents/toolcall/callbacks"
	"chainguard.dev/issueagent/reconcilers/githubreconciler/patch"
	"github.com/chainguard-dev/clog"
	"github.com/google/go-github/v84/github"
	"github.com/shurcooL/githubv4"
)

// PerPage is the page size of paginated listings.
const PerPage = 100

// ErrTreeTruncated is returned by Tree when GitHub truncated the listing.
var ErrTreeTruncated = errors.New("repository tree was truncated")

// Client operates on one repository.
type Client struct {
	gh    *github.Client
	gql   *githubv4.Client
	owner string
	repo  string
}

// New creates a client for owner/repo. gql may be nil, in which case
// IssueComments falls back to the REST API.
func New(gh *github.Client, gql *githubv4.Client, owner, repo string) (*Client, error) {
	if gh == nil {
		return nil, errors.New("github client cannot be nil")
	}
	if owner == "" || repo == "" {
		return nil, errors.New("owner and repo are required")
	}
	return &Client{gh: gh, gql: gql, owner: owner, repo: repo}, nil
}

// Owner returns the repository owner.
func (c *Client) Owner() string { return c.owner }

// Repo returns the repository name.
func (c *Client) Repo() string { return c.repo }

func isNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}

// DefaultBranch returns the repository's default branch.
func (c *Client) DefaultBranch(ctx context.Context) (string, error) {
	r, _, err := c.gh.Repositories.Get(ctx, c.owner, c.repo)
	if err != nil {
		return "", fmt.Errorf("fetching repository: %w", err)
	}
	return r.GetDefaultBranch(), nil
}

// LatestCommitSHA returns the head commit of branch.
func (c *Client) LatestCommitSHA(ctx context.Context, branch string) (string, error) {
	ref, _, err := c.gh.Git.GetRef(ctx, c.owner, c.repo, "heads/"+branch)
	if err != nil {
		return "", fmt.Errorf("fetching ref %s: %w", branch, err)
	}
	return ref.GetObject().GetSHA(), nil
}

// CreateBranch creates branch at sha.
func (c *Client) CreateBranch(ctx context.Context, branch, sha string) error {
	req, err := c.gh.NewRequest(http.MethodPost, fmt.Sprintf("repos/%s/%s/git/refs", c.owner, c.repo), map[string]string{
		"ref": "refs/heads/" + branch,
		"sha": sha,
	})
	if err != nil {
		return err
	}
	if _, err := c.gh.Do(ctx, req, nil); err != nil {
		return fmt.Errorf("creating branch %s: %w", branch, err)
	}
	clog.FromContext(ctx).With("branch", branch).With("sha", sha).Info("Created branch")
	return nil
}

// Tree lists the files of ref below path ("" for the root).
func (c *Client) Tree(ctx context.Context, ref, path string) ([]callbacks.TreeEntry, error) {
	tree, _, err := c.gh.Git.GetTree(ctx, c.owner, c.repo, ref, true)
	if err != nil {
		return nil, fmt.Errorf("fetching tree of %s: %w", ref, err)
	}
	entries := make([]callbacks.TreeEntry, 0, len(tree.Entries))
	for _, e := range tree.Entries {
		if !under(e.GetPath(), path) {
			continue
		}
		entries = append(entries, callbacks.TreeEntry{
			Path: e.GetPath(),
			Dir:  e.GetType() == "tree",
			Size: e.GetSize(),
		})
	}
	if tree.GetTruncated() {
		clog.FromContext(ctx).With("ref", ref).With("entries", len(entries)).Warn("Repository tree was truncated")
		return entries, ErrTreeTruncated
	}
	return entries, nil
}

// under reports whether p is at or below dir.
func under(p, dir string) bool {
	dir = strings.Trim(dir, "/")
	if dir == "" || dir == "." {
		return true
	}
	return p == dir || strings.HasPrefix(p, dir+"/")
}

// FileContent returns the text of path at ref and its blob SHA.
func (c *Client) FileContent(ctx context.Context, path, ref string) (content, sha string, err error) {
	file, dir, _, err := c.gh.Repositories.GetContents(ctx, c.owner, c.repo, path, &github.RepositoryContentGetOptions{Ref: ref})
	if err != nil {
		return "", "", fmt.Errorf("fetching %s at %s: %w", path, ref, err)
	}
	if file == nil {
		return "", "", fmt.Errorf("%s is a directory with %d entries", path, len(dir))
	}
	content, err = file.GetContent()
	if err != nil {
		return "", "", fmt.Errorf("decoding %s: %w", path, err)
	}
	return content, file.GetSHA(), nil
}

// ErrFileExists is returned by CommitDiff for a creation diff whose file is
// already on the branch.
var ErrFileExists = errors.New("file already exists")

// CommitDiff applies a single-file unified diff to the file on the change's
// branch and commits the result.
func (c *Client) CommitDiff(ctx context.Context, change callbacks.Change) (callbacks.CommitResult, error) {
	if change.Owner != c.owner || change.Repo != c.repo {
		return callbacks.CommitResult{}, fmt.Errorf("change targets %s/%s, client is for %s/%s", change.Owner, change.Repo, c.owner, c.repo)
	}

	original, sha, err := c.FileContent(ctx, change.FilePath, change.Branch)
	switch {
	case isNotFound(err):
		original, sha = "", ""
	case err != nil:
		return callbacks.CommitResult{}, err
	}

	res, err := patch.Apply(original, change.Diff)
	if err != nil {
		return callbacks.CommitResult{}, err
	}
	if res.Op == patch.OpCreate && sha != "" {
		return callbacks.CommitResult{}, fmt.Errorf("cannot create %s on %s: %w", change.FilePath, change.Branch, ErrFileExists)
	}
	if res.Path != "" && res.Path != change.FilePath {
		clog.FromContext(ctx).With("diff_path", res.Path).With("file_path", change.FilePath).Warn("Diff header names a different file, committing to file_path")
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr(commitMessage(res.Op, change.FilePath)),
		Branch:  github.Ptr(change.Branch),
	}
	if sha != "" {
		opts.SHA = github.Ptr(sha)
	}

	var (
		resp   *github.RepositoryContentResponse
		status callbacks.FileStatus
	)
	switch {
	case res.Op == patch.OpDelete:
		if sha == "" {
			return callbacks.CommitResult{}, fmt.Errorf("cannot delete %s: file does not exist on %s", change.FilePath, change.Branch)
		}
		resp, _, err = c.gh.Repositories.DeleteFile(ctx, c.owner, c.repo, change.FilePath, opts)
		status = callbacks.FileDeleted
	case sha == "":
		opts.Content = []byte(res.Content)
		resp, _, err = c.gh.Repositories.CreateFile(ctx, c.owner, c.repo, change.FilePath, opts)
		status = callbacks.FileAdded
	default:
		opts.Content = []byte(res.Content)
		resp, _, err = c.gh.Repositories.UpdateFile(ctx, c.owner, c.repo, change.FilePath, opts)
		status = callbacks.FileModified
	}
	if err != nil {
		return callbacks.CommitResult{}, fmt.Errorf("committing %s: %w", change.FilePath, err)
	}
	return callbacks.CommitResult{SHA: resp.Commit.GetSHA(), Status: status}, nil
}

func commitMessage(op patch.Op, path string) string {
	switch op {
	case patch.OpCreate:
		return "Create " + path
	case patch.OpDelete:
		return "Delete " + path
	default:
		return "Update " + path
	}
}

// PullRequest is an opened pull request.
type PullRequest struct {
	Number int
	URL    string
}

// CreatePullRequest opens a pull request from head into base.
func (c *Client) CreatePullRequest(ctx context.Context, title, body, head, base string) (*PullRequest, error) {
	pr, _, err := c.gh.PullRequests.Create(ctx, c.owner, c.repo, &github.NewPullRequest{
		Title: github.Ptr(title),
		Body:  github.Ptr(body),
		Head:  github.Ptr(head),
		Base:  github.Ptr(base),
	})
	if err != nil {
		return nil, fmt.Errorf("creating pull request: %w", err)
	}
	clog.FromContext(ctx).Infof("Created PR #%d: %s", pr.GetNumber(), pr.GetHTMLURL())
	return &PullRequest{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}

// CreateComment posts a comment on an issue and returns its ID.
func (c *Client) CreateComment(ctx context.Context, issue int, body string) (int64, error) {
	comment, _, err := c.gh.Issues.CreateComment(ctx, c.owner, c.repo, issue, &github.IssueComment{
		Body: github.Ptr(body),
	})
	if err != nil {
		return 0, fmt.Errorf("posting comment: %w", err)
	}
	return comment.GetID(), nil
}

// UpdateComment replaces the body of a comment.
func (c *Client) UpdateComment(ctx context.Context, commentID int64, body string) error {
	if _, _, err := c.gh.Issues.EditComment(ctx, c.owner, c.repo, commentID, &github.IssueComment{
		Body: github.Ptr(body),
	}); err != nil {
		return fmt.Errorf("updating comment %d: %w", commentID, err)
	}
	return nil
}

// AddReaction reacts to an issue, for example with "eyes".
func (c *Client) AddReaction(ctx context.Context, issue int, content string) error {
	if _, _, err := c.gh.Reactions.CreateIssueReaction(ctx, c.owner, c.repo, issue, content); err != nil {
		return fmt.Errorf("adding %s reaction: %w", content, err)
	}
	return nil
}
