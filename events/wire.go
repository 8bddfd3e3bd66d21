// Package events defines the websocket wire vocabulary shared by the
// chat stream and the pipeline runner. Every frame is {"type": ..., "data": ...}.
package events

import "encoding/json"

// Type identifies a websocket frame in either direction.
type Type string

// Client -> server frames.
const (
	TypePing                    Type = "ping"
	TypeSessionSetLang          Type = "session.set_lang"
	TypeChatClear               Type = "chat.clear"
	TypeChatSend                Type = "chat.send"
	TypePipelineStart           Type = "pipeline.start"
	TypePipelineCancel          Type = "pipeline.cancel"
	TypePipelineConfirmResponse Type = "pipeline.confirm_response"
)

// Server -> client frames.
const (
	TypePong            Type = "pong"
	TypeSessionSnapshot Type = "session.snapshot"
	TypeSessionLang     Type = "session.lang"
	TypeChatCleared     Type = "chat.cleared"
	TypeChatUser        Type = "chat.user"

	TypeAssistantStart Type = "assistant.start"
	TypeAssistantDelta Type = "assistant.delta"
	TypeAssistantFlush Type = "assistant.flush"
	TypeAssistantEnd   Type = "assistant.end"

	TypeToolStart    Type = "tool.start"
	TypeToolProgress Type = "tool.progress"
	TypeToolEnd      Type = "tool.end"

	TypePipelineStarted    Type = "pipeline.started"
	TypePipelineProgress   Type = "pipeline.progress"
	TypePipelineConfirm    Type = "pipeline.confirm"
	TypePipelineConfirmAck Type = "pipeline.confirm_ack"
	TypePipelineCancelled  Type = "pipeline.cancelled"
	TypePipelineDone       Type = "pipeline.done"
	TypePipelineError      Type = "pipeline.error"

	TypeError Type = "error"
)

// Frame is the wire envelope for every websocket message.
type Frame struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals data into a frame. A nil data produces an empty payload.
func NewFrame(t Type, data any) (Frame, error) {
	f := Frame{Type: t}
	if data == nil {
		return f, nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return Frame{}, err
	}
	f.Data = raw
	return f, nil
}

// Decode unmarshals the frame payload into v.
func (f Frame) Decode(v any) error {
	if len(f.Data) == 0 {
		return nil
	}
	return json.Unmarshal(f.Data, v)
}

// --- inbound payloads ---

// SetLang selects the session language.
type SetLang struct {
	Lang string `json:"lang"`
}

// ChatSend carries one user turn.
type ChatSend struct {
	Text          string         `json:"text"`
	LLMModel      string         `json:"llm_model,omitempty"`
	VLMModel      string         `json:"vlm_model,omitempty"`
	Lang          string         `json:"lang,omitempty"`
	AttachmentIDs []string       `json:"attachment_ids,omitempty"`
	ServiceConfig map[string]any `json:"service_config,omitempty"`
}

// PipelineStart requests a pipeline run from a stored template.
type PipelineStart struct {
	TemplateID string `json:"template_id"`
}

// PipelineConfirmResponse answers a pipeline.confirm prompt.
type PipelineConfirmResponse struct {
	Params map[string]any `json:"params"`
}

// --- outbound payloads ---

// Pong acknowledges a ping.
type Pong struct {
	TS float64 `json:"ts"`
}

// Lang echoes the active session language.
type Lang struct {
	Lang string `json:"lang"`
}

// OK is a bare acknowledgement.
type OK struct {
	OK bool `json:"ok"`
}

// ChatUser acknowledges an accepted user message and the attachments it
// consumed from the pending tray.
type ChatUser struct {
	Text         string `json:"text"`
	Attachments  []any  `json:"attachments"`
	PendingMedia []any  `json:"pending_media"`
	LLMModelKey  string `json:"llm_model_key"`
	VLMModelKey  string `json:"vlm_model_key"`
}

// AssistantDelta carries one streamed text fragment.
type AssistantDelta struct {
	Delta string `json:"delta"`
}

// AssistantEnd closes the turn. Interrupted is set when the user cancelled
// mid-stream; Text is then only the part the user actually saw.
type AssistantEnd struct {
	Text        string `json:"text"`
	Interrupted bool   `json:"interrupted,omitempty"`
}

// ToolStart announces a tool invocation surfaced to the UI.
type ToolStart struct {
	ToolCallID string         `json:"tool_call_id"`
	Server     string         `json:"server"`
	Name       string         `json:"name"`
	Args       map[string]any `json:"args"`
}

// ToolProgress updates a running tool card.
type ToolProgress struct {
	ToolCallID string  `json:"tool_call_id"`
	Server     string  `json:"server"`
	Name       string  `json:"name"`
	Progress   float64 `json:"progress"`
	Message    string  `json:"message"`
}

// ToolEnd closes a tool card.
type ToolEnd struct {
	ToolCallID string `json:"tool_call_id"`
	Server     string `json:"server"`
	Name       string `json:"name"`
	IsError    bool   `json:"is_error"`
	Summary    any    `json:"summary"`
}

// PipelineStarted acknowledges a pipeline.start request.
type PipelineStarted struct {
	TemplateID   string `json:"template_id"`
	TemplateName string `json:"template_name"`
}

// PipelineProgress reports one node status change.
type PipelineProgress struct {
	NodeID   string  `json:"node_id"`
	Status   string  `json:"status"`
	Progress float64 `json:"progress"`
	Message  string  `json:"message"`
}

// PipelineConfirm asks the client to review node params before execution.
type PipelineConfirm struct {
	NodeID     string         `json:"node_id"`
	Params     map[string]any `json:"params"`
	TimeoutSec int            `json:"timeout_sec"`
}

// ErrorPayload is the uniform error frame. PartialText is present when a
// turn died mid-stream so the client can close the open bubble.
type ErrorPayload struct {
	Message     string `json:"message"`
	RetryAfter  int    `json:"retry_after,omitempty"`
	PartialText string `json:"partial_text,omitempty"`
}
