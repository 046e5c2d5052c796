/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package toolcall

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"chainguard.dev/issueagent/agents/toolcall/callbacks"
	"chainguard.dev/issueagent/agents/toolcall/params"
	"github.com/chainguard-dev/clog"
)

// maxTreeEntries bounds the listing returned by explore_repository.
const maxTreeEntries = 2000

// RunContext identifies the repository and branch a run may write to.
type RunContext struct {
	Owner  string
	Repo   string
	Branch string
}

// Result is the outcome of an executed tool.
type Result struct {
	// Output is the tool-result text handed back to the model.
	Output string

	// Paths lists the entries returned by explore_repository.
	Paths []string

	// FetchedPath is the file read by get_file_content.
	FetchedPath string

	// Commit is set by commit_change.
	Commit *Commit

	// Summary is set by finish.
	Summary string
}

// Commit describes a change committed by commit_change.
type Commit struct {
	FilePath string
	Diff     string
	SHA      string
	Status   callbacks.FileStatus
}

// Registry holds the tools of a single run. It is built per run and passed
// explicitly; there is no package-level registry.
type Registry struct {
	cb  callbacks.Repository
	run RunContext
	// defs is computed once; schema reflection is deterministic.
	defs map[string]Definition
}

// NewRegistry builds the registry for a run.
func NewRegistry(cb callbacks.Repository, run RunContext) (*Registry, error) {
	if err := cb.Validate(); err != nil {
		return nil, fmt.Errorf("invalid callbacks: %w", err)
	}
	if run.Owner == "" || run.Repo == "" || run.Branch == "" {
		return nil, errors.New("run context requires owner, repo and branch")
	}

	defs := make(map[string]Definition, len(toolSpecs))
	for name, spec := range toolSpecs {
		p, err := spec.parameters()
		if err != nil {
			return nil, fmt.Errorf("reflecting %s parameters: %w", name, err)
		}
		defs[name] = Definition{
			Name:        name,
			Description: spec.description,
			Category:    spec.category,
			Parameters:  p,
		}
	}

	return &Registry{cb: cb, run: run, defs: defs}, nil
}

// Run returns the run context the registry was built with.
func (r *Registry) Run() RunContext {
	return r.run
}

// SchemasFor returns the definitions visible in mode, in a fixed order.
func (r *Registry) SchemasFor(mode Mode) []Definition {
	names := modeTools[mode]
	out := make([]Definition, 0, len(names))
	for _, name := range names {
		out = append(out, r.defs[name])
	}
	return out
}

// Visible reports whether name is a tool exposed in mode.
func (r *Registry) Visible(mode Mode, name string) bool {
	_, ok := toolSpecs[name]
	return ok && mode.Allows(name)
}

// Decode turns a raw call into its typed invocation.
func (r *Registry) Decode(mode Mode, name string, raw json.RawMessage) (Invocation, error) {
	if !r.Visible(mode, name) {
		return nil, &UnknownToolError{Name: name, Mode: mode}
	}

	args, err := params.Object(raw)
	if err != nil {
		return nil, &InvalidArgumentsError{Tool: name, Err: err}
	}

	inv, err := decode(name, args)
	if err != nil {
		return nil, &InvalidArgumentsError{Tool: name, Err: err}
	}
	return inv, nil
}

func decode(name string, args map[string]any) (Invocation, error) {
	switch name {
	case NameExploreRepository:
		path, err := params.ExtractOptional(args, "path", "")
		if err != nil {
			return nil, err
		}
		return ExploreRepository{Path: path}, nil

	case NameGetFileContent:
		var v GetFileContent
		var errs []error
		v.Owner, errs = extractInto(args, "owner", errs)
		v.Repo, errs = extractInto(args, "repo", errs)
		v.FilePath, errs = extractInto(args, "file_path", errs)
		v.Ref, errs = extractInto(args, "ref", errs)
		return v, errors.Join(errs...)

	case NameCommitChange:
		var v CommitChange
		var errs []error
		v.Owner, errs = extractInto(args, "owner", errs)
		v.Repo, errs = extractInto(args, "repo", errs)
		v.FilePath, errs = extractInto(args, "file_path", errs)
		v.Diff, errs = extractInto(args, "diff", errs)
		v.Branch, errs = extractInto(args, "branch", errs)
		return v, errors.Join(errs...)

	case NameExplainDecision:
		why, err := params.Extract[string](args, "why")
		return ExplainDecision{Why: why}, err

	case NameFinish:
		summary, err := params.ExtractOptional(args, "summary", "")
		return Finish{Summary: summary}, err

	case NameUpdateComment:
		body, err := params.ExtractNonEmpty(args, "body")
		return UpdateComment{Body: body}, err
	}
	return nil, fmt.Errorf("no decoder for %s", name)
}

func extractInto(args map[string]any, name string, errs []error) (string, []error) {
	v, err := params.ExtractNonEmpty(args, name)
	if err != nil {
		errs = append(errs, err)
	}
	return v, errs
}

// Invoke decodes and executes a call.
func (r *Registry) Invoke(ctx context.Context, mode Mode, name string, raw json.RawMessage) (*Result, error) {
	inv, err := r.Decode(mode, name, raw)
	if err != nil {
		return nil, err
	}
	return r.Execute(ctx, inv)
}

// Execute runs a decoded invocation.
func (r *Registry) Execute(ctx context.Context, inv Invocation) (*Result, error) {
	log := clog.FromContext(ctx).With("tool", inv.ToolName())

	switch v := inv.(type) {
	case ExploreRepository:
		entries, err := r.cb.ListTree(ctx, v.Path)
		if err != nil {
			return nil, &ToolExecutionError{Tool: NameExploreRepository, Err: err}
		}
		return exploreResult(v.Path, entries), nil

	case GetFileContent:
		content, err := r.cb.GetFileContent(ctx, v.Owner, v.Repo, v.FilePath, v.Ref)
		if err != nil {
			return nil, &ToolExecutionError{Tool: NameGetFileContent, Err: err}
		}
		return &Result{
			Output:      fmt.Sprintf("Content of %s at %s:\n\n%s", v.FilePath, v.Ref, content),
			FetchedPath: v.FilePath,
		}, nil

	case CommitChange:
		if v.Owner != r.run.Owner || v.Repo != r.run.Repo || v.Branch != r.run.Branch {
			return nil, &ToolExecutionError{
				Tool: NameCommitChange,
				Err:  fmt.Errorf("%w: got %s/%s@%s, want %s/%s@%s", ErrForeignTarget, v.Owner, v.Repo, v.Branch, r.run.Owner, r.run.Repo, r.run.Branch),
			}
		}
		res, err := r.cb.CommitChange(ctx, callbacks.Change{
			Owner:    v.Owner,
			Repo:     v.Repo,
			FilePath: v.FilePath,
			Diff:     v.Diff,
			Branch:   v.Branch,
		})
		if err != nil {
			return nil, &ToolExecutionError{Tool: NameCommitChange, Err: err}
		}
		log.With("path", v.FilePath).With("sha", res.SHA).Info("Committed change")
		return &Result{
			Output: fmt.Sprintf("Committed %s (%s) to %s as %s.", v.FilePath, res.Status, v.Branch, res.SHA),
			Commit: &Commit{
				FilePath: v.FilePath,
				Diff:     v.Diff,
				SHA:      res.SHA,
				Status:   res.Status,
			},
		}, nil

	case ExplainDecision:
		log.With("why", v.Why).Info("Agent explained its decision")
		return &Result{Output: "Noted."}, nil

	case Finish:
		return &Result{Output: "Finished.", Summary: v.Summary}, nil

	case UpdateComment:
		if err := r.cb.UpdateComment(ctx, v.Body); err != nil {
			return nil, &ToolExecutionError{Tool: NameUpdateComment, Err: err}
		}
		return &Result{Output: "Comment updated."}, nil

	default:
		return nil, &UnknownToolError{Name: inv.ToolName()}
	}
}

func exploreResult(root string, entries []callbacks.TreeEntry) *Result {
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	var sb strings.Builder
	if root == "" {
		sb.WriteString("Repository files:\n")
	} else {
		fmt.Fprintf(&sb, "Files under %s:\n", root)
	}

	paths := make([]string, 0, min(len(entries), maxTreeEntries))
	for i, e := range entries {
		if i == maxTreeEntries {
			fmt.Fprintf(&sb, "... %d more entries omitted\n", len(entries)-maxTreeEntries)
			break
		}
		if e.Dir {
			fmt.Fprintf(&sb, "%s/\n", e.Path)
			continue
		}
		sb.WriteString(e.Path)
		sb.WriteByte('\n')
		paths = append(paths, e.Path)
	}
	return &Result{Output: sb.String(), Paths: paths}
}
