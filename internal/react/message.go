// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package react

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Role is a message author.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Message is one conversation turn.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Conversation is an ordered message list.
type Conversation []Message

// Clone returns a copy that shares no backing array with c.
func (c Conversation) Clone() Conversation {
	return slices.Clone(c)
}

// ErrEmptyConversation is returned by Validate for a conversation with no turns.
var ErrEmptyConversation = errors.New("conversation has no messages")

// Validate checks roles and system message placement: at most one system
// message, and only as the first turn.
func (c Conversation) Validate() error {
	if len(c) == 0 {
		return ErrEmptyConversation
	}
	for i, m := range c {
		if !m.Role.Valid() {
			return fmt.Errorf("message %d: invalid role %q", i, m.Role)
		}
		if m.Role == RoleSystem && i != 0 {
			return fmt.Errorf("message %d: system message must be first", i)
		}
	}
	return nil
}

// LastUser returns the content of the most recent user turn.
func (c Conversation) LastUser() string {
	for i := len(c) - 1; i >= 0; i-- {
		if c[i].Role == RoleUser {
			return c[i].Content
		}
	}
	return ""
}

// Observations counts the observation turns the controller appended.
func (c Conversation) Observations() int {
	n := 0
	for _, m := range c {
		if m.Role == RoleUser && strings.HasPrefix(m.Content, ObservationPrefix) {
			n++
		}
	}
	return n
}
