/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package main implements issueagent, a GitHub App that resolves labeled
// issues with a tool-calling agent and opens pull requests with the result.
//
// Subcommands:
//   - serve: receive webhooks and resolve issues in the background
//   - resolve: resolve one issue in the foreground, or list the files a
//     previous pull request changed
//   - runs list: show the run registry
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/chainguard-dev/clog"
	_ "github.com/chainguard-dev/clog/gcp/init"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		clog.FatalContextf(ctx, "issueagent: %v", err)
	}
}
