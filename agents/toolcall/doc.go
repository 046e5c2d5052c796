/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package toolcall defines the tools an issue-resolving agent may call and
// the per-run Registry that decodes and executes them.
//
// Tools are partitioned by Mode. Each mode exposes a small, fixed subset:
//
//	explore: explore_repository, explain_decision
//	get:     get_file_content, explain_decision
//	commit:  commit_change, explain_decision, finish
//	comment: update_comment
//
// A raw call is decoded into a typed Invocation and executed through a
// total type switch. The remote operations themselves are supplied as
// callbacks.Repository function fields, so this package has no GitHub or
// model SDK dependencies:
//
//	reg, err := toolcall.NewRegistry(cb, toolcall.RunContext{
//		Owner:  "octo",
//		Repo:   "hello",
//		Branch: "issueagent/issue-#7-...",
//	})
//	defs := reg.SchemasFor(toolcall.ModeGet)
//	res, err := reg.Invoke(ctx, toolcall.ModeGet, call.Name, call.Arguments)
//
// Names outside the active mode produce *UnknownToolError, arguments that do
// not decode produce *InvalidArgumentsError, and capability failures are
// wrapped in *ToolExecutionError.
package toolcall
