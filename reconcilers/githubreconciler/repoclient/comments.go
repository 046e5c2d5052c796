/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package repoclient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/go-github/v84/github"
	"github.com/shurcooL/githubv4"
)

// Timeout bounds each page request of a paginated listing.
const Timeout = 30 * time.Second

type gqlComment struct {
	Body   string
	Author struct {
		Login string
	}
}

// IssueComments returns the bodies of an issue's comments, oldest first,
// prefixed with their author.
func (c *Client) IssueComments(ctx context.Context, issue int) ([]string, error) {
	if c.gql == nil {
		return c.restIssueComments(ctx, issue)
	}

	var query struct {
		Repository struct {
			Issue struct {
				Comments struct {
					PageInfo struct {
						HasNextPage bool
						EndCursor   githubv4.String
					}
					Nodes []gqlComment
				} `graphql:"comments(first: 100, after: $cursor)"`
			} `graphql:"issue(number: $number)"`
		} `graphql:"repository(owner: $owner, name: $repo)"`
	}
	variables := map[string]any{
		"owner":  githubv4.String(c.owner),
		"repo":   githubv4.String(c.repo),
		"number": githubv4.Int(issue),
		"cursor": (*githubv4.String)(nil),
	}

	var out []string
	for {
		pctx, cancel := context.WithTimeout(ctx, Timeout)
		err := c.gql.Query(pctx, &query, variables)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("querying issue comments: %w", err)
		}
		for _, n := range query.Repository.Issue.Comments.Nodes {
			out = append(out, formatComment(n.Author.Login, n.Body))
		}
		if !query.Repository.Issue.Comments.PageInfo.HasNextPage {
			return out, nil
		}
		variables["cursor"] = githubv4.NewString(query.Repository.Issue.Comments.PageInfo.EndCursor)
	}
}

func (c *Client) restIssueComments(ctx context.Context, issue int) ([]string, error) {
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: PerPage}}
	var out []string
	for {
		pctx, cancel := context.WithTimeout(ctx, Timeout)
		comments, resp, err := c.gh.Issues.ListComments(pctx, c.owner, c.repo, issue, opts)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("listing issue comments: %w", err)
		}
		for _, cm := range comments {
			out = append(out, formatComment(cm.GetUser().GetLogin(), cm.GetBody()))
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

func formatComment(author, body string) string {
	if author == "" {
		return body
	}
	return author + ": " + body
}

// FileChange is a file changed by a pull request.
type FileChange struct {
	Filename string
	Status   string
	Patch    string
}

// ListPullRequestFiles returns the files changed by a pull request. Files
// without a textual patch, such as binaries, are skipped.
func (c *Client) ListPullRequestFiles(ctx context.Context, number int) ([]FileChange, error) {
	opts := &github.ListOptions{PerPage: PerPage, Page: 1}
	var out []FileChange
	for {
		pctx, cancel := context.WithTimeout(ctx, Timeout)
		files, resp, err := c.gh.PullRequests.ListFiles(pctx, c.owner, c.repo, number, opts)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("listing files of #%d: %w", number, err)
		}
		for _, f := range files {
			if f.Patch == nil {
				continue
			}
			out = append(out, FileChange{Filename: f.GetFilename(), Status: f.GetStatus(), Patch: f.GetPatch()})
		}
		if len(files) == 0 || resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}
