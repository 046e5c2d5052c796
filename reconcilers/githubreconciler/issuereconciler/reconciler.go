/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package issuereconciler

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"chainguard.dev/issueagent/agents/orchestrator"
	"chainguard.dev/issueagent/agents/provider"
	"chainguard.dev/issueagent/agents/rundriver"
	"chainguard.dev/issueagent/agents/toolcall"
	"chainguard.dev/issueagent/agents/toolcall/callbacks"
	"chainguard.dev/issueagent/reconcilers/githubreconciler/progress"
	"chainguard.dev/issueagent/reconcilers/githubreconciler/repoclient"
	"chainguard.dev/issueagent/runregistry"
	"github.com/chainguard-dev/clog"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// ErrBusy is returned when the issue already has a run in progress.
var ErrBusy = errors.New("issue already has a run in progress")

// Issue identifies the issue to resolve.
type Issue struct {
	InstallationID int64
	Owner          string `validate:"required"`
	Repo           string `validate:"required"`
	Number         int    `validate:"gt=0"`
	Title          string `validate:"required"`
	Body           string
	URL            string
}

// Repository is the remote repository surface a run needs.
// *repoclient.Client implements it.
type Repository interface {
	repoclient.TreeLister
	DefaultBranch(ctx context.Context) (string, error)
	LatestCommitSHA(ctx context.Context, branch string) (string, error)
	CreateBranch(ctx context.Context, branch, sha string) error
	FileContent(ctx context.Context, path, ref string) (string, string, error)
	CommitDiff(ctx context.Context, change callbacks.Change) (callbacks.CommitResult, error)
	IssueComments(ctx context.Context, issue int) ([]string, error)
	CreatePullRequest(ctx context.Context, title, body, head, base string) (*repoclient.PullRequest, error)
	CreateComment(ctx context.Context, issue int, body string) (int64, error)
	UpdateComment(ctx context.Context, commentID int64, body string) error
	AddReaction(ctx context.Context, issue int, content string) error
}

var _ Repository = (*repoclient.Client)(nil)

// ClientSource returns the repository client for an installation.
type ClientSource func(ctx context.Context, installationID int64, owner, repo string) (Repository, error)

// TreeSource returns a lister for repositories whose tree the API
// truncates.
type TreeSource func(ctx context.Context, issue Issue) (repoclient.TreeLister, error)

// Config wires a Reconciler.
type Config struct {
	// ProductID labels the issues to resolve and prefixes work branches.
	ProductID string            `validate:"required,excludesall=/"`
	Clients   ClientSource      `validate:"required"`
	Providers provider.Factory  `validate:"required"`
	Driver    *rundriver.Driver `validate:"required"`
	Store     runregistry.Store `validate:"required"`

	// Trees lists files when the trees API truncates the listing. Optional.
	Trees TreeSource
	// Orchestrator options are applied to every run.
	Orchestrator []orchestrator.Option
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Reconciler resolves issues.
type Reconciler struct {
	cfg    Config
	branch *regexp.Regexp
}

// New creates a Reconciler.
func New(cfg Config) (*Reconciler, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid reconciler config: %w", err)
	}
	return &Reconciler{
		cfg:    cfg,
		branch: regexp.MustCompile(`^` + regexp.QuoteMeta(cfg.ProductID) + `/issue-#(\d+)-`),
	}, nil
}

// ProductID returns the label and branch prefix of the reconciler.
func (r *Reconciler) ProductID() string {
	return r.cfg.ProductID
}

// Result describes a resolved issue.
type Result struct {
	RunID       string
	Branch      string
	PullRequest *repoclient.PullRequest
	Outcome     *rundriver.Outcome
}

// BranchName returns a fresh work branch for an issue.
func (r *Reconciler) BranchName(issue int) string {
	return fmt.Sprintf("%s/issue-#%d-%s", r.cfg.ProductID, issue, uuid.NewString())
}

// IssueOfBranch returns the issue a work branch was created for.
func (r *Reconciler) IssueOfBranch(branch string) (int, bool) {
	m := r.branch.FindStringSubmatch(branch)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// Resolve runs the agent on issue and opens a pull request with its
// changes.
func (r *Reconciler) Resolve(ctx context.Context, issue Issue) (_ *Result, err error) {
	if err := validate.Struct(issue); err != nil {
		return nil, fmt.Errorf("invalid issue: %w", err)
	}
	runID := runregistry.RunID(issue.Owner, issue.Repo, issue.Number)
	ctx = clog.WithLogger(ctx, clog.FromContext(ctx).With("run_id", runID))
	log := clog.FromContext(ctx)
	store := r.cfg.Store

	if err := store.IncrementRequests(ctx, issue.InstallationID); err != nil {
		log.With("error", err).Warn("Failed to count request")
	}

	repo, err := r.cfg.Clients(ctx, issue.InstallationID, issue.Owner, issue.Repo)
	if err != nil {
		return nil, fmt.Errorf("creating repository client: %w", err)
	}
	if err := repo.AddReaction(ctx, issue.Number, "eyes"); err != nil {
		log.With("error", err).Warn("Failed to react to issue")
	}

	started, err := store.StartIfAbsent(ctx, runID, issue.InstallationID)
	if err != nil {
		return nil, fmt.Errorf("claiming run: %w", err)
	}
	if !started {
		log.Info("Issue already has a run in progress")
		busy, err := progress.New(repo, issue.Number)
		if err != nil {
			return nil, err
		}
		if err := busy.Busy(ctx); err != nil {
			log.With("error", err).Warn("Failed to post busy comment")
		}
		return nil, ErrBusy
	}

	reporter, err := progress.New(repo, issue.Number, progress.WithRecorder(store, runID))
	if err != nil {
		return nil, err
	}
	reported := false
	defer func() {
		fctx := context.WithoutCancel(ctx)
		status, reason := runregistry.StatusCompleted, ""
		if err != nil {
			status, reason = runregistry.StatusFailed, err.Error()
			if errors.Is(err, context.Canceled) {
				status = runregistry.StatusAborted
			}
			if !reported {
				if rerr := reporter.Failed(fctx, err); rerr != nil {
					log.With("error", rerr).Warn("Failed to report failure")
				}
			}
		}
		if ferr := store.Finish(fctx, runID, status, reason); ferr != nil {
			log.With("error", ferr).Error("Failed to finish run")
		}
	}()

	if err := reporter.Queued(ctx); err != nil {
		log.With("error", err).Warn("Failed to post progress comment")
	}

	task, err := r.prepare(ctx, repo, issue, runID)
	if err != nil {
		return nil, err
	}

	registry, err := toolcall.NewRegistry(r.capabilities(repo, issue, task.Branch, reporter), toolcall.RunContext{
		Owner:  issue.Owner,
		Repo:   issue.Repo,
		Branch: task.Branch,
	})
	if err != nil {
		return nil, err
	}
	p, err := r.cfg.Providers()
	if err != nil {
		return nil, fmt.Errorf("creating model provider: %w", err)
	}
	orch, err := orchestrator.New(p, registry, r.cfg.Orchestrator...)
	if err != nil {
		return nil, err
	}

	outcome, err := r.cfg.Driver.Run(ctx, *task, orch, reporter)
	if err != nil {
		// The driver has already reported the failure.
		reported = true
		return nil, err
	}
	if len(outcome.Changes) == 0 {
		return nil, rundriver.ErrNoChanges
	}

	pr, err := repo.CreatePullRequest(ctx, r.title(issue), pullRequestBody(issue, outcome), task.Branch, task.BaseBranch)
	if err != nil {
		return nil, err
	}
	if err := reporter.Completed(ctx, pr.URL); err != nil {
		log.With("error", err).Warn("Failed to report completion")
	}
	if err := store.IncrementCompleted(ctx, issue.InstallationID); err != nil {
		log.With("error", err).Warn("Failed to count completion")
	}
	log.With("pr", pr.Number).With("turns", outcome.Turns).Info("Issue resolved")

	return &Result{RunID: runID, Branch: task.Branch, PullRequest: pr, Outcome: outcome}, nil
}

// prepare gathers the issue context and creates the work branch.
func (r *Reconciler) prepare(ctx context.Context, repo Repository, issue Issue, runID string) (*rundriver.Task, error) {
	log := clog.FromContext(ctx)

	base, err := repo.DefaultBranch(ctx)
	if err != nil {
		return nil, err
	}
	sha, err := repo.LatestCommitSHA(ctx, base)
	if err != nil {
		return nil, err
	}

	entries, err := repo.Tree(ctx, base, "")
	if errors.Is(err, repoclient.ErrTreeTruncated) && r.cfg.Trees != nil {
		log.Info("Listing files from a clone")
		var lister repoclient.TreeLister
		if lister, err = r.cfg.Trees(ctx, issue); err == nil {
			entries, err = lister.Tree(ctx, base, "")
		}
	}
	switch {
	case errors.Is(err, repoclient.ErrTreeTruncated):
		log.With("entries", len(entries)).Warn("Continuing with a truncated file listing")
	case err != nil:
		return nil, err
	}
	tree := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Dir {
			tree = append(tree, e.Path)
		}
	}

	comments, err := repo.IssueComments(ctx, issue.Number)
	if err != nil {
		return nil, err
	}

	branch := r.BranchName(issue.Number)
	if err := repo.CreateBranch(ctx, branch, sha); err != nil {
		return nil, err
	}

	return &rundriver.Task{
		RunID:       runID,
		Owner:       issue.Owner,
		Repo:        issue.Repo,
		IssueNumber: issue.Number,
		Title:       issue.Title,
		Body:        issue.Body,
		Comments:    comments,
		BaseBranch:  base,
		Branch:      branch,
		Tree:        tree,
	}, nil
}

// capabilities binds the tools of a run to repo. Listings read the work
// branch and reads are confined to the issue's repository.
func (r *Reconciler) capabilities(repo Repository, issue Issue, branch string, reporter *progress.Reporter) callbacks.Repository {
	return callbacks.Repository{
		ListTree: func(ctx context.Context, path string) ([]callbacks.TreeEntry, error) {
			entries, err := repo.Tree(ctx, branch, path)
			if errors.Is(err, repoclient.ErrTreeTruncated) {
				return entries, nil
			}
			return entries, err
		},
		GetFileContent: func(ctx context.Context, owner, name, path, ref string) (string, error) {
			if owner != issue.Owner || name != issue.Repo {
				return "", fmt.Errorf("repository %s/%s is outside this run", owner, name)
			}
			content, _, err := repo.FileContent(ctx, path, ref)
			return content, err
		},
		CommitChange: repo.CommitDiff,
		UpdateComment: func(ctx context.Context, body string) error {
			return reporter.SetSummary(ctx, body)
		},
	}
}

func (r *Reconciler) title(issue Issue) string {
	return fmt.Sprintf("Fix %s with %s model", issue.Title, r.cfg.ProductID)
}

func pullRequestBody(issue Issue, outcome *rundriver.Outcome) string {
	var b strings.Builder
	if issue.URL != "" {
		fmt.Fprintf(&b, "Original issue is [#%d](%s)\n\n", issue.Number, issue.URL)
	} else {
		fmt.Fprintf(&b, "Original issue is #%d\n\n", issue.Number)
	}
	if outcome.Summary != "" {
		b.WriteString(outcome.Summary + "\n\n")
	}
	b.WriteString("Changed files:\n")
	for _, c := range outcome.Changes {
		fmt.Fprintf(&b, "\n- `%s` (%s)", c.FilePath, c.Status)
	}
	fmt.Fprintf(&b, "\n\nResolved in %d turns (%s, %d tokens).", outcome.Turns, outcome.Elapsed.Round(time.Second), outcome.Usage.Total())
	return b.String()
}

// MarkMerged records that the pull request from branch was merged. It
// reports false for branches this reconciler did not create.
func (r *Reconciler) MarkMerged(ctx context.Context, owner, repo, branch string) (bool, error) {
	n, ok := r.IssueOfBranch(branch)
	if !ok {
		return false, nil
	}
	runID := runregistry.RunID(owner, repo, n)
	if err := r.cfg.Store.MarkMerged(ctx, runID); err != nil {
		return false, fmt.Errorf("marking %s merged: %w", runID, err)
	}
	clog.FromContext(ctx).With("run_id", runID).Info("Pull request merged")
	return true, nil
}

// InstallationAdded saves an installation.
func (r *Reconciler) InstallationAdded(ctx context.Context, id int64, account string) error {
	return r.cfg.Store.SaveInstallation(ctx, runregistry.Installation{ID: id, Account: account, CreatedAt: time.Now()})
}

// InstallationRemoved deletes an installation.
func (r *Reconciler) InstallationRemoved(ctx context.Context, id int64) error {
	return r.cfg.Store.DeleteInstallation(ctx, id)
}

// RepositoryRemoved aborts the in-progress runs of a repository the
// installation can no longer reach. The installation itself is kept.
func (r *Reconciler) RepositoryRemoved(ctx context.Context, id int64, fullName string) error {
	runs, err := r.cfg.Store.List(ctx, 0)
	if err != nil {
		return fmt.Errorf("listing runs: %w", err)
	}
	prefix := fullName + "#"
	for _, run := range runs {
		if run.InstallationID != id || run.Status != runregistry.StatusInProgress || !strings.HasPrefix(run.ID, prefix) {
			continue
		}
		if err := r.cfg.Store.Finish(ctx, run.ID, runregistry.StatusAborted, "repository removed from installation"); err != nil {
			return fmt.Errorf("aborting %s: %w", run.ID, err)
		}
		clog.FromContext(ctx).With("run_id", run.ID).Info("Run aborted, repository removed")
	}
	return nil
}
