// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package react

import (
	"regexp"
	"strings"
)

// ToolName identifies a research tool.
type ToolName string

const (
	ToolDiscovery ToolName = "discovery"
	ToolFact      ToolName = "fact"
)

// ActionName is the identifier the model writes after "Action:".
func (t ToolName) ActionName() string {
	return "search_" + string(t)
}

// Label is the tool's display name in progress markers.
func (t ToolName) Label() string {
	switch t {
	case ToolDiscovery:
		return "Discovery Search"
	case ToolFact:
		return "Fact Search"
	}
	return string(t)
}

// Action is a tool invocation requested by the model.
type Action struct {
	Tool  ToolName
	Input string
}

// Parser extracts a tool request from one completed model turn.
type Parser interface {
	Parse(text string) (Action, bool)
}

var (
	actionRe      = regexp.MustCompile(`(?im)^\s*Action:\s*(search_discovery|search_fact)\b`)
	actionInputRe = regexp.MustCompile(`(?is)Action Input:\s*(.*)`)
	observationRe = regexp.MustCompile(`(?i)Observation:`)
)

// TextParser reads the "Action: / Action Input:" convention from free text.
type TextParser struct{}

// Parse implements Parser.
func (TextParser) Parse(text string) (Action, bool) {
	return ParseAction(text)
}

// ParseAction finds the last "Action: search_discovery|search_fact" line and
// the text after "Action Input:". Input is cut at any "Observation:" the
// model wrote itself, then trimmed. Both parts are required.
func ParseAction(text string) (Action, bool) {
	names := actionRe.FindAllStringSubmatch(text, -1)
	if len(names) == 0 {
		return Action{}, false
	}
	name := strings.ToLower(names[len(names)-1][1])

	m := actionInputRe.FindStringSubmatch(text)
	if m == nil {
		return Action{}, false
	}
	input := m[1]
	if loc := observationRe.FindStringIndex(input); loc != nil {
		input = input[:loc[0]]
	}
	input = strings.TrimSpace(input)
	if input == "" {
		return Action{}, false
	}

	return Action{Tool: ToolName(strings.TrimPrefix(name, "search_")), Input: input}, true
}
