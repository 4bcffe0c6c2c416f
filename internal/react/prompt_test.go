// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package react

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithToolDescription_PrependsSystem(t *testing.T) {
	conv := Conversation{{Role: RoleUser, Content: "hi"}}
	got := withToolDescription(conv)

	require.Len(t, got, 2)
	assert.Equal(t, Message{Role: RoleSystem, Content: ToolDescription}, got[0])
	assert.Equal(t, conv[0], got[1])
	assert.Len(t, conv, 1, "input untouched")
}

func TestWithToolDescription_ExtendsExistingSystem(t *testing.T) {
	conv := Conversation{
		{Role: RoleSystem, Content: "Answer in French."},
		{Role: RoleUser, Content: "hi"},
	}
	got := withToolDescription(conv)

	require.Len(t, got, 2)
	assert.True(t, strings.HasPrefix(got[0].Content, "Answer in French.\n\n"))
	assert.Equal(t, 1, strings.Count(got[0].Content, ToolDescription))
	assert.Equal(t, "Answer in French.", conv[0].Content, "input untouched")

	// Re-entry with the augmented conversation is idempotent
	again := withToolDescription(got)
	assert.Equal(t, got, again)
}

func TestWithToolDescription_EmptySystem(t *testing.T) {
	got := withToolDescription(Conversation{{Role: RoleSystem}, {Role: RoleUser, Content: "hi"}})
	assert.Equal(t, ToolDescription, got[0].Content)
}

func TestConversation_Validate(t *testing.T) {
	assert.ErrorIs(t, Conversation{}.Validate(), ErrEmptyConversation)
	assert.NoError(t, Conversation{{Role: RoleSystem}, {Role: RoleUser, Content: "q"}}.Validate())
	assert.Error(t, Conversation{{Role: RoleUser}, {Role: RoleSystem}}.Validate())
	assert.Error(t, Conversation{{Role: "tool", Content: "x"}}.Validate())
}

func TestConversation_LastUser(t *testing.T) {
	conv := Conversation{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "a"},
		{Role: RoleUser, Content: "second"},
		{Role: RoleAssistant, Content: "b"},
	}
	assert.Equal(t, "second", conv.LastUser())
	assert.Equal(t, "", Conversation{}.LastUser())
}

func TestConversation_Observations(t *testing.T) {
	conv := Conversation{
		{Role: RoleUser, Content: "q"},
		{Role: RoleAssistant, Content: "Action: search_fact"},
		{Role: RoleUser, Content: ObservationPrefix + "Source: x"},
		{Role: RoleAssistant, Content: "Action: search_discovery"},
		{Role: RoleUser, Content: ObservationPrefix + "Error: blocked"},
		{Role: RoleAssistant, Content: "Final Answer: done"},
	}
	assert.Equal(t, 2, conv.Observations())
	assert.Zero(t, Conversation{{Role: RoleUser, Content: "q"}}.Observations())
}
