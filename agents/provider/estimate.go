/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package provider

import (
	"strings"

	"chainguard.dev/issueagent/agents/conversation"
)

// messageOverhead approximates the per-message framing tokens chat APIs add.
const messageOverhead = 4

// EstimateTokens approximates the token count of messages when a provider
// neither reports usage nor implements TokenCounter. It blends a word count
// with the common four-characters-per-token rule.
func EstimateTokens(messages ...conversation.Message) int64 {
	var total int64
	for _, m := range messages {
		total += messageOverhead + estimateText(m.Content)
		if m.ToolCall != nil {
			total += estimateText(m.ToolCall.Name) + estimateText(string(m.ToolCall.Arguments))
		}
		if m.ToolName != "" {
			total += estimateText(m.ToolName)
		}
	}
	return total
}

func estimateText(s string) int64 {
	if s == "" {
		return 0
	}
	words := len(strings.Fields(s))
	chars := len(s)
	n := int64((words + chars/4) / 2)
	return max(n, 1)
}
