// Package agent defines the streaming contract between the chat turn
// controller and whatever model runtime drives a conversation, plus the
// message model kept as session context.
package agent

import "context"

// Role classifies a context message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is one tool invocation requested by an assistant message.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Message is one entry of the model-facing conversation context.
type Message struct {
	Role      Role       `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	// ToolCallID links a tool-result message back to its call.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// System builds a system message.
func System(content string) Message { return Message{Role: RoleSystem, Content: content} }

// User builds a user message.
func User(content string) Message { return Message{Role: RoleUser, Content: content} }

// Assistant builds a plain-text assistant message.
func Assistant(content string) Message { return Message{Role: RoleAssistant, Content: content} }

// ToolResult builds a tool-result message for the given call id.
func ToolResult(toolCallID, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolCallID: toolCallID}
}

// HasToolCalls reports whether the message issues at least one tool call.
func (m Message) HasToolCalls() bool { return len(m.ToolCalls) > 0 }

// IsText reports whether the message is an assistant message carrying
// visible text and no tool calls.
func (m Message) IsText() bool {
	return m.Role == RoleAssistant && !m.HasToolCalls() && m.Content != ""
}

// ToolEvent is a tool lifecycle notification surfaced while streaming.
type ToolEvent struct {
	Type       string         `json:"type"` // tool_start | tool_progress | tool_end
	ToolCallID string         `json:"tool_call_id"`
	Server     string         `json:"server"`
	Name       string         `json:"name"`
	Args       map[string]any `json:"args,omitempty"`
	Progress   float64        `json:"progress,omitempty"`
	Total      float64        `json:"total,omitempty"`
	Message    string         `json:"message,omitempty"`
	IsError    bool           `json:"is_error,omitempty"`
	Summary    any            `json:"summary,omitempty"`
}

const (
	ToolEventStart    = "tool_start"
	ToolEventProgress = "tool_progress"
	ToolEventEnd      = "tool_end"
)

// StreamEvent is one item of an agent stream. Exactly one field group is
// populated: Delta, Tool, Messages, or Err. The stream channel closes after
// the terminal event (or after cancellation).
type StreamEvent struct {
	// Delta is a visible assistant text fragment.
	Delta string
	// Tool is a tool lifecycle event.
	Tool *ToolEvent
	// Messages is an authoritative batch of new context messages.
	Messages []Message
	// Err terminates the stream with a failure.
	Err error
}

// Agent runs one conversation turn over the given context messages and
// streams events until done. Implementations must close the returned
// channel when the turn ends for any reason, including ctx cancellation.
type Agent interface {
	Stream(ctx context.Context, messages []Message) (<-chan StreamEvent, error)
}
