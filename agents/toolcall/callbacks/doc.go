/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

/*
Package callbacks provides the capability types that back agent tools.

The types here carry no model SDK or GitHub dependencies, so the packages
that implement capabilities (repoclient, progress) and the packages that
consume them (toolcall) can both import this one without cycles.

# Repository Callbacks

Repository provides the remote operations a run is allowed to perform:

	cb := callbacks.Repository{
		ListTree: func(ctx context.Context, path string) ([]callbacks.TreeEntry, error) {
			// List the target branch, optionally below path
		},
		GetFileContent: func(ctx context.Context, owner, repo, path, ref string) (string, error) {
			// Fetch the file text at ref
		},
		CommitChange: func(ctx context.Context, change callbacks.Change) (callbacks.CommitResult, error) {
			// Apply change.Diff and commit it to change.Branch
		},
		UpdateComment: func(ctx context.Context, body string) error {
			// Rewrite the progress comment
		},
	}
*/
package callbacks
