/*
Copyright 2025 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

// Package claudeprovider implements provider.Interface on the Anthropic
// Messages API.
//
// The conversation maps onto Anthropic content blocks as follows: system
// messages become the out-of-band system prompt, an assistant message's
// tool call becomes a tool_use block and a tool message becomes a
// tool_result block in a user turn. When a request asks for a single tool
// call, parallel tool use is disabled on the tool choice.
//
// # Usage
//
//	client := anthropic.NewClient(option.WithAPIKey(key))
//	p, err := claudeprovider.New(client,
//		claudeprovider.WithModel("claude-sonnet-4-5"),
//		claudeprovider.WithMaxTokens(4096),
//	)
//
// The provider also implements provider.TokenCounter through the
// count_tokens endpoint.
package claudeprovider
