/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package orchestrator

import (
	"chainguard.dev/issueagent/agents/promptbuilder"
	"chainguard.dev/issueagent/agents/toolcall"
)

var exploreInstruction = promptbuilder.MustNewPrompt(`You are exploring a repository to resolve a GitHub issue.

Find the files that have to change. Use explore_repository to list the files
of the branch and explain_decision to note why a file looks relevant. Do not
call a tool with arguments you already used; the earlier result is in the
conversation. When you know which files to look at, stop calling tools.

What you have seen so far:

{{context}}
`)

var getInstruction = promptbuilder.MustNewPrompt(`You are reading files to resolve a GitHub issue.

Use get_file_content to read every file you may change. Read a file before you
decide to change it. Use explain_decision to note what a file needs. Do not
call a tool with arguments you already used; the earlier result is in the
conversation. When you have read what you need, stop calling tools.

What you have seen so far:

{{context}}
`)

var commitInstruction = promptbuilder.MustNewPrompt(`You are committing the changes that resolve a GitHub issue.

For every file you change, call commit_change with a unified diff against
the current content of that file on the working branch. Create a file with
/dev/null as the original name and delete one with /dev/null as the new
name. Keep the diff minimal and make sure the hunk headers match the file.
Use explain_decision before a change whose purpose is not obvious. Call
finish once every change is committed.

What you have seen so far:

{{context}}
`)

var commentInstruction = promptbuilder.MustNewPrompt(`You have finished working on a GitHub issue.

Call update_comment once with a short markdown summary for the issue author:
which files changed and why. Do not paste diffs.

What you have seen so far:

{{context}}
`)

// defaultInstructions maps each mode to its instruction template. An
// instruction names only the tools its mode exposes.
func defaultInstructions() map[toolcall.Mode]*promptbuilder.Prompt {
	return map[toolcall.Mode]*promptbuilder.Prompt{
		toolcall.ModeExplore: exploreInstruction,
		toolcall.ModeGet:     getInstruction,
		toolcall.ModeCommit:  commitInstruction,
		toolcall.ModeComment: commentInstruction,
	}
}
