/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package rundriver

import (
	"fmt"

	"chainguard.dev/issueagent/agents/promptbuilder"
)

// maxTreeInPrompt bounds the file listing embedded in the first message.
const maxTreeInPrompt = 2000

// Task is the issue a run resolves.
type Task struct {
	RunID       string   `validate:"required"`
	Owner       string   `validate:"required"`
	Repo        string   `validate:"required"`
	IssueNumber int      `validate:"gt=0"`
	Title       string   `validate:"required"`
	Body        string
	Comments    []string
	// BaseBranch is the branch the work branch was cut from.
	BaseBranch string `validate:"required"`
	// Branch is the work branch commits go to.
	Branch string `validate:"required,nefield=BaseBranch"`
	// Tree is the file listing of the base branch, if already known.
	Tree []string
}

// Validate checks that t is complete.
func (t Task) Validate() error {
	if err := validate.Struct(t); err != nil {
		return fmt.Errorf("invalid task: %w", err)
	}
	return nil
}

var systemPrompt = promptbuilder.MustNewPrompt(`You are an engineer resolving GitHub issues by changing code in a repository.

You work through tools only. Each reply may call at most one tool. Read the
files you intend to change before changing them, commit one file per
commit_change call, and never invent file contents you have not read.
Everything you commit lands on a work branch that becomes a pull request
for human review.`)

var userPrompt = promptbuilder.MustNewPrompt(`Resolve this issue.

{{issue}}

Files in the repository:

{{tree}}
`)

type issueContext struct {
	Repository  string   `yaml:"repository"`
	Number      int      `yaml:"issue_number"`
	Title       string   `yaml:"title"`
	Body        string   `yaml:"body,omitempty"`
	Comments    []string `yaml:"comments,omitempty"`
	BaseBranch  string   `yaml:"base_branch"`
	WorkBranch  string   `yaml:"work_branch"`
	TreeOmitted int      `yaml:"files_not_listed,omitempty"`
}

func (t Task) prompts() (string, string, error) {
	system, err := systemPrompt.Build()
	if err != nil {
		return "", "", fmt.Errorf("building system prompt: %w", err)
	}

	tree := t.Tree
	ic := issueContext{
		Repository: t.Owner + "/" + t.Repo,
		Number:     t.IssueNumber,
		Title:      t.Title,
		Body:       t.Body,
		Comments:   t.Comments,
		BaseBranch: t.BaseBranch,
		WorkBranch: t.Branch,
	}
	if len(tree) > maxTreeInPrompt {
		ic.TreeOmitted = len(tree) - maxTreeInPrompt
		tree = tree[:maxTreeInPrompt]
	}
	if tree == nil {
		tree = []string{}
	}

	p, err := userPrompt.BindYAML("issue", ic)
	if err != nil {
		return "", "", fmt.Errorf("binding issue: %w", err)
	}
	if p, err = p.BindYAML("tree", tree); err != nil {
		return "", "", fmt.Errorf("binding tree: %w", err)
	}
	user, err := p.Build()
	if err != nil {
		return "", "", fmt.Errorf("building user prompt: %w", err)
	}
	return system, user, nil
}
