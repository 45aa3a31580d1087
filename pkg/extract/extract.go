// Package extract picks the single user-facing answer out of an agent trace.
package extract

import (
	"strings"

	"github.com/harun/deepchat/pkg/agent"
)

// DefaultPlaceholder is returned for an empty trace.
const DefaultPlaceholder = "代理处理完成，但未返回具体内容。"

// Answer returns the answer text of messages, scanning from the end:
// the last assistant message that requests no tools, whatever its content;
// else the last message of any role with content not starting with a
// backtick; else the last message verbatim. An empty trace yields
// placeholder. A blank answer is left for the sanitizer's placeholder.
func Answer(messages []agent.Message, placeholder string) string {
	if len(messages) == 0 {
		return placeholder
	}

	for i := len(messages) - 1; i >= 0; i-- {
		if m, ok := messages[i].(agent.AssistantMessage); ok && !m.HasPendingToolCall() {
			return m.Content
		}
	}

	for i := len(messages) - 1; i >= 0; i-- {
		text := messages[i].Text()
		if text != "" && !strings.HasPrefix(text, "`") {
			return text
		}
	}

	return messages[len(messages)-1].Text()
}

// FromState is Answer over a state's messages.
func FromState(state agent.State, placeholder string) string {
	return Answer(state.Messages, placeholder)
}
