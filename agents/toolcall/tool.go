/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package toolcall

import (
	"chainguard.dev/issueagent/agents/schema"
)

// Tool names as the model sees them.
const (
	NameExploreRepository = "explore_repository"
	NameGetFileContent    = "get_file_content"
	NameCommitChange      = "commit_change"
	NameExplainDecision   = "explain_decision"
	NameFinish            = "finish"
	NameUpdateComment     = "update_comment"
)

// Invocation is a decoded tool call. The set of implementations is closed;
// Registry.Invoke switches over all of them.
type Invocation interface {
	ToolName() string
	isInvocation()
}

// ExploreRepository lists the files of the target branch.
type ExploreRepository struct {
	Path string `json:"path,omitempty" jsonschema:"description=Directory to list relative to the repository root. Omit to list the whole repository."`
}

// GetFileContent fetches a file.
type GetFileContent struct {
	Owner    string `json:"owner" jsonschema:"required,description=The owner of the repository. For example 'openai'."`
	Repo     string `json:"repo" jsonschema:"required,description=The name of the repository. For example 'openai-python'."`
	FilePath string `json:"file_path" jsonschema:"required,description=The full path to the file within the repository. For example 'src/openai/__init__.py'."`
	Ref      string `json:"ref" jsonschema:"required,description=The ref (branch) name where the file is located. For example 'main'."`
}

// CommitChange commits a unified diff for a single file.
type CommitChange struct {
	Owner    string `json:"owner" jsonschema:"required,description=The owner of the repository."`
	Repo     string `json:"repo" jsonschema:"required,description=The name of the repository."`
	FilePath string `json:"file_path" jsonschema:"required,description=The full path to the file within the repository."`
	Diff     string `json:"diff" jsonschema:"required,description=A unified diff for this one file. Use /dev/null as the original name to create a file and as the new name to delete one."`
	Branch   string `json:"branch" jsonschema:"required,description=The branch to commit to."`
}

// ExplainDecision records the model's reasoning. It has no side effects.
type ExplainDecision struct {
	Why string `json:"why" jsonschema:"required,description=Why you are about to make or change a diff."`
}

// Finish ends the commit phase.
type Finish struct {
	Summary string `json:"summary" jsonschema:"required,description=A short summary of the changes that were committed."`
}

// UpdateComment rewrites the progress comment on the issue.
type UpdateComment struct {
	Body string `json:"body" jsonschema:"required,description=The new comment body in GitHub markdown."`
}

func (ExploreRepository) ToolName() string { return NameExploreRepository }
func (GetFileContent) ToolName() string    { return NameGetFileContent }
func (CommitChange) ToolName() string      { return NameCommitChange }
func (ExplainDecision) ToolName() string   { return NameExplainDecision }
func (Finish) ToolName() string            { return NameFinish }
func (UpdateComment) ToolName() string     { return NameUpdateComment }

func (ExploreRepository) isInvocation() {}
func (GetFileContent) isInvocation()    {}
func (CommitChange) isInvocation()      {}
func (ExplainDecision) isInvocation()   {}
func (Finish) isInvocation()            {}
func (UpdateComment) isInvocation()     {}

// Definition describes a tool to a model provider.
type Definition struct {
	Name        string
	Description string
	Category    Category
	Parameters  schema.Parameters
}

type toolSpec struct {
	description string
	category    Category
	parameters  func() (schema.Parameters, error)
}

var toolSpecs = map[string]toolSpec{
	NameExploreRepository: {
		description: "Lists the files in the repository so you can decide which ones are relevant to the issue.",
		category:    ReadOnly,
		parameters:  schema.ParametersFor[ExploreRepository],
	},
	NameGetFileContent: {
		description: "Fetches the content of a file from the GitHub repository given the owner, repo, file_path, and ref when you need to read the file to analyze or modify it.",
		category:    ReadOnly,
		parameters:  schema.ParametersFor[GetFileContent],
	},
	NameCommitChange: {
		description: "Commits a unified diff for one file to the branch. Call it once per file you change.",
		category:    Mutating,
		parameters:  schema.ParametersFor[CommitChange],
	},
	NameExplainDecision: {
		description: "Explain why you are going to make or modify a diff before you actually do it.",
		category:    Audit,
		parameters:  schema.ParametersFor[ExplainDecision],
	},
	NameFinish: {
		description: "Call this when every change needed to resolve the issue has been committed.",
		category:    Terminal,
		parameters:  schema.ParametersFor[Finish],
	},
	NameUpdateComment: {
		description: "Replaces the progress comment on the issue with a summary of the work.",
		category:    Mutating,
		parameters:  schema.ParametersFor[UpdateComment],
	},
}

// CategoryOf returns the category of the named tool, and false if the name
// is not a known tool.
func CategoryOf(name string) (Category, bool) {
	spec, ok := toolSpecs[name]
	return spec.category, ok
}
