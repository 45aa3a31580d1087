package agent

// Role names the author of a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleSystem    Role = "system"
)

// Message is one entry of a conversation trace. The set of implementations
// is closed: UserMessage, AssistantMessage, ToolMessage and SystemMessage.
type Message interface {
	Role() Role
	Text() string
	message()
}

// UserMessage is human input.
type UserMessage struct {
	Content string `json:"content"`
}

// AssistantMessage is model output, optionally requesting tool calls.
type AssistantMessage struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolMessage carries the result of one tool call back to the model.
type ToolMessage struct {
	ToolCallID string `json:"tool_call_id"`
	Name       string `json:"name"`
	Content    string `json:"content"`
}

// SystemMessage is an instruction or injected context.
type SystemMessage struct {
	Content string `json:"content"`
}

func (UserMessage) Role() Role      { return RoleUser }
func (AssistantMessage) Role() Role { return RoleAssistant }
func (ToolMessage) Role() Role      { return RoleTool }
func (SystemMessage) Role() Role    { return RoleSystem }

func (m UserMessage) Text() string      { return m.Content }
func (m AssistantMessage) Text() string { return m.Content }
func (m ToolMessage) Text() string      { return m.Content }
func (m SystemMessage) Text() string    { return m.Content }

func (UserMessage) message()      {}
func (AssistantMessage) message() {}
func (ToolMessage) message()      {}
func (SystemMessage) message()    {}

// HasPendingToolCall reports whether the model asked for tools in this turn.
func (m AssistantMessage) HasPendingToolCall() bool {
	return len(m.ToolCalls) > 0
}

// State is the conversation handed to and returned from a Runner.
type State struct {
	Messages []Message `json:"messages"`
}

// NewState creates a state from messages.
func NewState(messages ...Message) State {
	return State{Messages: append([]Message(nil), messages...)}
}

// With returns a copy of s with messages appended. s is not modified.
func (s State) With(messages ...Message) State {
	out := make([]Message, 0, len(s.Messages)+len(messages))
	out = append(out, s.Messages...)
	out = append(out, messages...)
	return State{Messages: out}
}

// Last returns the final message, or nil for an empty state.
func (s State) Last() Message {
	if len(s.Messages) == 0 {
		return nil
	}
	return s.Messages[len(s.Messages)-1]
}
