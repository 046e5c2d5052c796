/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package repoclient

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"chainguard.dev/issueagent/agents/toolcall/callbacks"
	"github.com/chainguard-dev/clog"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/plumbing/transport"
	githttp "github.com/go-git/go-git/v5/plumbing/transport/http"
	"github.com/go-git/go-git/v5/storage/memory"
	"golang.org/x/oauth2"
)

// TreeLister lists the files of a ref. Client and CloneTreeLister
// implement it.
type TreeLister interface {
	Tree(ctx context.Context, ref, path string) ([]callbacks.TreeEntry, error)
}

var (
	_ TreeLister = (*Client)(nil)
	_ TreeLister = (*CloneTreeLister)(nil)
)

// CloneTreeLister lists files from an in-memory clone. It serves
// repositories whose tree is too large for the trees API. Each ref is
// cloned once.
type CloneTreeLister struct {
	remote      string
	tokenSource oauth2.TokenSource

	mu    sync.Mutex
	trees map[string][]callbacks.TreeEntry
}

// NewCloneTreeLister lists files of remote, authenticating with ts when it
// is not nil.
func NewCloneTreeLister(remote string, ts oauth2.TokenSource) *CloneTreeLister {
	return &CloneTreeLister{
		remote:      remote,
		tokenSource: ts,
		trees:       make(map[string][]callbacks.TreeEntry),
	}
}

// RemoteURL returns the HTTPS clone URL of a GitHub repository.
func RemoteURL(owner, repo string) string {
	return fmt.Sprintf("https://github.com/%s/%s.git", owner, repo)
}

func (l *CloneTreeLister) auth() (transport.AuthMethod, error) {
	if l.tokenSource == nil {
		return nil, nil
	}
	token, err := l.tokenSource.Token()
	if err != nil {
		return nil, err
	}
	return &githttp.BasicAuth{
		Username: "unused-when-using-access-tokens",
		Password: token.AccessToken,
	}, nil
}

// Tree implements TreeLister.
func (l *CloneTreeLister) Tree(ctx context.Context, ref, path string) ([]callbacks.TreeEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	all, ok := l.trees[ref]
	if !ok {
		var err error
		if all, err = l.clone(ctx, ref); err != nil {
			return nil, err
		}
		l.trees[ref] = all
	}

	out := make([]callbacks.TreeEntry, 0, len(all))
	for _, e := range all {
		if under(e.Path, path) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *CloneTreeLister) clone(ctx context.Context, ref string) ([]callbacks.TreeEntry, error) {
	auth, err := l.auth()
	if err != nil {
		return nil, fmt.Errorf("resolving clone credentials: %w", err)
	}
	opts := &git.CloneOptions{
		URL:           l.remote,
		ReferenceName: plumbing.NewBranchReferenceName(ref),
		SingleBranch:  true,
		Auth:          auth,
	}
	if strings.Contains(l.remote, "://") {
		opts.Depth = 1
	}

	clog.FromContext(ctx).With("ref", ref).Info("Cloning repository for file listing")
	repo, err := git.CloneContext(ctx, memory.NewStorage(), nil, opts)
	if err != nil {
		return nil, fmt.Errorf("cloning %s: %w", ref, err)
	}
	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("resolving HEAD: %w", err)
	}
	commit, err := repo.CommitObject(head.Hash())
	if err != nil {
		return nil, fmt.Errorf("loading commit: %w", err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("loading tree: %w", err)
	}

	var entries []callbacks.TreeEntry
	if err := tree.Files().ForEach(func(f *object.File) error {
		entries = append(entries, callbacks.TreeEntry{Path: f.Name, Size: int(f.Size)})
		return nil
	}); err != nil {
		return nil, fmt.Errorf("walking tree: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}
