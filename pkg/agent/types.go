package agent

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownType is returned for agent types outside research, critique and general.
var ErrUnknownType = errors.New("unknown agent type")

// Type selects an agent variant.
type Type string

const (
	TypeResearch Type = "research"
	TypeCritique Type = "critique"
	TypeGeneral  Type = "general"
)

// Types lists every variant in display order.
var Types = []Type{TypeResearch, TypeCritique, TypeGeneral}

// ParseType validates a client-supplied agent type. Empty means research.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case "":
		return TypeResearch, nil
	case TypeResearch, TypeCritique, TypeGeneral:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
}

var displayNames = map[string]map[Type]string{
	"zh": {
		TypeResearch: "研究代理",
		TypeCritique: "评审代理",
		TypeGeneral:  "通用代理",
	},
	"en": {
		TypeResearch: "Research agent",
		TypeCritique: "Critique agent",
		TypeGeneral:  "General agent",
	},
}

// DisplayName returns the user-facing name of t in locale, falling back to zh.
func (t Type) DisplayName(locale string) string {
	names, ok := displayNames[locale]
	if !ok {
		names = displayNames["zh"]
	}
	if name, ok := names[t]; ok {
		return name
	}
	return string(t)
}

// ToolCall represents a tool invocation requested by the model
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// TokenUsage tracks token consumption
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
