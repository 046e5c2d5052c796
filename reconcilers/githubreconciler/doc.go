/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package githubreconciler holds the GitHub side of issue runs: client
// construction here, and in subpackages the repository client, diff
// application, progress comments, webhook intake and the issue flow.
package githubreconciler
