/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "issueagent",
		Short:         "Resolve GitHub issues with a tool-calling agent",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	runs := &cobra.Command{
		Use:   "runs",
		Short: "Inspect the run registry",
	}
	runs.AddCommand(newRunsListCmd())
	root.AddCommand(newServeCmd(), newResolveCmd(), runs)
	return root
}
