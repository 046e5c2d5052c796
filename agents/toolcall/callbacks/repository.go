/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package callbacks

import (
	"context"
	"errors"
)

// TreeEntry is one path in a repository listing.
type TreeEntry struct {
	// Path is relative to the repository root.
	Path string `json:"path"`

	// Dir is true for directories.
	Dir bool `json:"dir,omitempty"`

	// Size is the blob size in bytes, zero for directories.
	Size int `json:"size,omitempty"`
}

// Change is a single-file unified diff bound for a branch.
type Change struct {
	Owner    string
	Repo     string
	FilePath string
	Diff     string
	Branch   string
}

// FileStatus describes what a commit did to a file.
type FileStatus string

const (
	FileAdded    FileStatus = "added"
	FileModified FileStatus = "modified"
	FileDeleted  FileStatus = "deleted"
)

// CommitResult describes a commit produced by CommitChange.
type CommitResult struct {
	SHA    string     `json:"sha"`
	Status FileStatus `json:"status"`
}

// Repository provides callback functions for the remote repository a run targets.
type Repository struct {
	// ListTree lists the files of the run's branch below path ("" for the root).
	ListTree func(ctx context.Context, path string) ([]TreeEntry, error)

	// GetFileContent returns the text of a file at ref.
	GetFileContent func(ctx context.Context, owner, repo, path, ref string) (string, error)

	// CommitChange applies the diff in change and commits the result.
	CommitChange func(ctx context.Context, change Change) (CommitResult, error)

	// UpdateComment replaces the body of the run's progress comment.
	UpdateComment func(ctx context.Context, body string) error
}

// Validate checks that every callback is set.
func (r Repository) Validate() error {
	var errs []error
	if r.ListTree == nil {
		errs = append(errs, errors.New("ListTree callback is required"))
	}
	if r.GetFileContent == nil {
		errs = append(errs, errors.New("GetFileContent callback is required"))
	}
	if r.CommitChange == nil {
		errs = append(errs, errors.New("CommitChange callback is required"))
	}
	if r.UpdateComment == nil {
		errs = append(errs, errors.New("UpdateComment callback is required"))
	}
	return errors.Join(errs...)
}
