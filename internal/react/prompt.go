// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package react

import "strings"

// ToolDescription is the system instruction describing the research tools.
// Its exact text is also the marker that it has already been injected.
const ToolDescription = `You are a deep research assistant. You can use the following tools to gather information before answering:

1. search_discovery: Broad semantic web search. Use it to explore a topic, find recent developments or survey the landscape.
2. search_fact: Targeted web search. Use it to verify a specific claim, date, number or name.

To use a tool, respond in exactly this format:

Thought: <your reasoning about what to do next>
Action: search_discovery
Action Input: <your search query>

or

Thought: <your reasoning about what to do next>
Action: search_fact
Action Input: <your search query>

Stop after "Action Input". Do not write an Observation yourself; the result will be provided to you as a message beginning with "Observation:".

When you have enough information, write your final answer as a well-structured report with headings and cite the sources you used. Do not include an Action line in your final answer.`

// withToolDescription returns a copy of conv whose system message carries
// ToolDescription. An existing system message is extended at most once.
func withToolDescription(conv Conversation) Conversation {
	out := make(Conversation, 0, len(conv)+1)
	if len(conv) > 0 && conv[0].Role == RoleSystem {
		sys := conv[0]
		if !strings.Contains(sys.Content, ToolDescription) {
			if strings.TrimSpace(sys.Content) == "" {
				sys.Content = ToolDescription
			} else {
				sys.Content = sys.Content + "\n\n" + ToolDescription
			}
		}
		out = append(out, sys)
		return append(out, conv[1:]...)
	}
	out = append(out, Message{Role: RoleSystem, Content: ToolDescription})
	return append(out, conv...)
}
