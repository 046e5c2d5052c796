/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package provider defines the boundary between the orchestrator and a
// model API. An implementation turns the conversation and the visible tool
// definitions into one model call and reports the text, tool calls and
// token usage of the reply.
//
// Implementations live in subpackages: claudeprovider (Anthropic Messages),
// openaiprovider (OpenAI chat completions), googleprovider (Gemini) and
// assistantsprovider (OpenAI Assistants threads and runs, polled through
// the poll package). Transport-level rate limits are retried inside each
// implementation with the retry package; everything else surfaces as an
// *Error.
package provider
