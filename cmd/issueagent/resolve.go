/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"context"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"chainguard.dev/issueagent/reconcilers/githubreconciler/issuereconciler"
	"chainguard.dev/issueagent/reconcilers/githubreconciler/repoclient"
	"github.com/spf13/cobra"
)

var issueRef = regexp.MustCompile(`^([\w.-]+)/([\w.-]+)#(\d+)$`)

// parseIssueRef splits "owner/repo#N".
func parseIssueRef(ref string) (owner, repo string, number int, err error) {
	m := issueRef.FindStringSubmatch(ref)
	if m == nil {
		return "", "", 0, fmt.Errorf("%q is not of the form owner/repo#number", ref)
	}
	number, err = strconv.Atoi(m[3])
	if err != nil || number <= 0 {
		return "", "", 0, fmt.Errorf("invalid number in %q", ref)
	}
	return m[1], m[2], number, nil
}

func newResolveCmd() *cobra.Command {
	var (
		installation int64
		pr           bool
	)
	cmd := &cobra.Command{
		Use:   "resolve owner/repo#N",
		Short: "Resolve one issue now, or with --pr list the files a pull request changed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, repo, number, err := parseIssueRef(args[0])
			if err != nil {
				return err
			}
			cfg, err := loadConfig(cmd.Context())
			if err != nil {
				return err
			}
			if pr {
				return listPullRequestFiles(cmd.Context(), cmd.OutOrStdout(), cfg, installation, owner, repo, number)
			}
			return resolve(cmd.Context(), cmd.OutOrStdout(), cfg, installation, owner, repo, number)
		},
	}
	cmd.Flags().Int64Var(&installation, "installation", 0, "GitHub App installation ID (unused with GITHUB_TOKEN)")
	cmd.Flags().BoolVar(&pr, "pr", false, "treat the reference as a pull request and list its changed files")
	return cmd
}

func resolve(ctx context.Context, out io.Writer, cfg *config, installation int64, owner, repo string, number int) error {
	factory, err := cfg.clientFactory()
	if err != nil {
		return err
	}
	gh, err := factory.Client(ctx, installation)
	if err != nil {
		return err
	}
	issue, _, err := gh.Issues.Get(ctx, owner, repo, number)
	if err != nil {
		return fmt.Errorf("fetching issue: %w", err)
	}

	rec, store, err := cfg.reconciler(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	res, err := rec.Resolve(ctx, issuereconciler.Issue{
		InstallationID: installation,
		Owner:          owner,
		Repo:           repo,
		Number:         number,
		Title:          issue.GetTitle(),
		Body:           issue.GetBody(),
		URL:            issue.GetHTMLURL(),
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Opened %s from %s in %d turns.\n", res.PullRequest.URL, res.Branch, res.Outcome.Turns)
	return nil
}

func listPullRequestFiles(ctx context.Context, out io.Writer, cfg *config, installation int64, owner, repo string, number int) error {
	factory, err := cfg.clientFactory()
	if err != nil {
		return err
	}
	client, err := repositoryClient(ctx, factory, installation, owner, repo)
	if err != nil {
		return err
	}
	files, err := client.ListPullRequestFiles(ctx, number)
	if err != nil {
		return err
	}
	return renderFiles(out, files)
}

func renderFiles(w io.Writer, files []repoclient.FileChange) error {
	table := newTable(w, []string{"File", "Status", "Patch lines"})
	for _, f := range files {
		if err := table.Append([]string{f.Filename, f.Status, strconv.Itoa(countLines(f.Patch))}); err != nil {
			return fmt.Errorf("adding %s: %w", f.Filename, err)
		}
	}
	return table.Render()
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(s, "\n") + 1
}
