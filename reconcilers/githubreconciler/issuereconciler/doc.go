/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

/*
Package issuereconciler turns a labeled GitHub issue into a pull request.

A Reconciler claims the issue in the run registry, prepares a work branch,
drives the agent with rundriver and opens a pull request from the commits
the agent made:

	r, err := issuereconciler.New(issuereconciler.Config{
		ProductID: "issueagent",
		Clients:   clients,
		Providers: provider.Shared(claude),
		Driver:    driver,
		Store:     store,
	})

	res, err := r.Resolve(ctx, issuereconciler.Issue{
		InstallationID: 42,
		Owner:          "acme",
		Repo:           "widget",
		Number:         7,
		Title:          "Parser panics on empty input",
	})

A Dispatcher runs Resolve in the background with a bound on concurrent runs,
for callers such as webhook handlers that must answer before the run ends.
*/
package issuereconciler
