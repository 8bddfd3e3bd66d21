package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/openreel/reelkit/logger"
)

// ToolDef describes one callable tool advertised to the model.
type ToolDef struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON schema for the arguments
}

// ToolRunner executes tool calls requested by the model and reports the
// summaries that go back into the conversation.
type ToolRunner interface {
	Definitions() []ToolDef
	// Run executes one call. The summary is serialized as the tool-result
	// content; isError marks a structured failure (never a Go error).
	Run(ctx context.Context, call ToolCall) (summary any, isError bool)
}

// maxToolRounds bounds the completion/tool loop of a single turn.
const maxToolRounds = 16

// OpenAIAgent drives an OpenAI-compatible chat-completions endpoint with
// streaming and tool calls.
type OpenAIAgent struct {
	model   string
	baseURL string
	apiKey  string
	runner  ToolRunner
	server  string // tool event server label
	client  *http.Client
}

// NewOpenAIAgent builds an agent for one model endpoint. runner may be nil
// for a tool-less conversation.
func NewOpenAIAgent(model, baseURL, apiKey string, runner ToolRunner) *OpenAIAgent {
	return &OpenAIAgent{
		model:   model,
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		runner:  runner,
		server:  "pipeline",
		client:  &http.Client{Timeout: 300 * time.Second},
	}
}

// Stream implements Agent.
func (a *OpenAIAgent) Stream(ctx context.Context, messages []Message) (<-chan StreamEvent, error) {
	ch := make(chan StreamEvent, 64)
	go func() {
		defer close(ch)
		a.run(ctx, messages, ch)
	}()
	return ch, nil
}

func (a *OpenAIAgent) run(ctx context.Context, messages []Message, ch chan<- StreamEvent) {
	working := make([]Message, len(messages))
	copy(working, messages)

	for round := 0; round < maxToolRounds; round++ {
		text, calls, err := a.completeOnce(ctx, working, ch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			ch <- StreamEvent{Err: err}
			return
		}

		if len(calls) == 0 || a.runner == nil {
			if text != "" {
				ch <- StreamEvent{Messages: []Message{Assistant(text)}}
			}
			return
		}

		asst := Message{Role: RoleAssistant, Content: text, ToolCalls: calls}
		working = append(working, asst)
		batch := []Message{asst}

		for _, call := range calls {
			if ctx.Err() != nil {
				return
			}
			ch <- StreamEvent{Tool: &ToolEvent{
				Type: ToolEventStart, ToolCallID: call.ID,
				Server: a.server, Name: call.Name, Args: call.Args,
			}}
			summary, isErr := a.runner.Run(ctx, call)
			ch <- StreamEvent{Tool: &ToolEvent{
				Type: ToolEventEnd, ToolCallID: call.ID,
				Server: a.server, Name: call.Name,
				IsError: isErr, Summary: summary,
			}}

			content, err := json.Marshal(summary)
			if err != nil {
				content = []byte(fmt.Sprintf("%q", fmt.Sprint(summary)))
			}
			result := ToolResult(call.ID, string(content))
			working = append(working, result)
			batch = append(batch, result)
		}
		ch <- StreamEvent{Messages: batch}
	}

	ch <- StreamEvent{Err: fmt.Errorf("tool call limit reached after %d rounds", maxToolRounds)}
}

// --- wire structures (OpenAI chat completions) ---

type oaiRequest struct {
	Model    string       `json:"model"`
	Messages []oaiMessage `json:"messages"`
	Stream   bool         `json:"stream"`
	Tools    []oaiTool    `json:"tools,omitempty"`
}

type oaiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []oaiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

type oaiTool struct {
	Type     string      `json:"type"`
	Function oaiFunction `json:"function"`
}

type oaiFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type oaiToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type oaiStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string        `json:"content"`
			ToolCalls []oaiToolCall `json:"tool_calls"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func toWireMessages(msgs []Message) []oaiMessage {
	out := make([]oaiMessage, 0, len(msgs))
	for _, m := range msgs {
		wm := oaiMessage{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for i, tc := range m.ToolCalls {
			args, err := json.Marshal(tc.Args)
			if err != nil {
				args = []byte("{}")
			}
			call := oaiToolCall{Index: i, ID: tc.ID, Type: "function"}
			call.Function.Name = tc.Name
			call.Function.Arguments = string(args)
			wm.ToolCalls = append(wm.ToolCalls, call)
		}
		out = append(out, wm)
	}
	return out
}

// completeOnce runs one streamed completion, emitting text deltas as they
// arrive, and returns the full text plus any assembled tool calls.
func (a *OpenAIAgent) completeOnce(ctx context.Context, msgs []Message, ch chan<- StreamEvent) (string, []ToolCall, error) {
	req := oaiRequest{
		Model:    a.model,
		Messages: toWireMessages(msgs),
		Stream:   true,
	}
	if a.runner != nil {
		for _, def := range a.runner.Definitions() {
			req.Tools = append(req.Tools, oaiTool{
				Type: "function",
				Function: oaiFunction{
					Name:        def.Name,
					Description: def.Description,
					Parameters:  def.Parameters,
				},
			})
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return "", nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(raw))
	}

	var text strings.Builder
	assembler := newToolCallAssembler()

	scanner := newSSEScanner(resp.Body)
	for scanner.Scan() {
		data := scanner.Data()
		if data == "[DONE]" {
			break
		}
		var chunk oaiStreamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			logger.Debug("skipping malformed stream chunk", "error", err)
			continue
		}
		if chunk.Error != nil {
			return "", nil, fmt.Errorf("API error: %s", chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta
		if delta.Content != "" {
			text.WriteString(delta.Content)
			select {
			case ch <- StreamEvent{Delta: delta.Content}:
			case <-ctx.Done():
				return "", nil, ctx.Err()
			}
		}
		assembler.add(delta.ToolCalls)
	}
	if err := scanner.Err(); err != nil {
		return "", nil, fmt.Errorf("stream read failed: %w", err)
	}

	return text.String(), assembler.calls(), nil
}

// toolCallAssembler merges streamed tool-call fragments by index.
type toolCallAssembler struct {
	order []int
	parts map[int]*toolCallPart
}

type toolCallPart struct {
	id   string
	name string
	args strings.Builder
}

func newToolCallAssembler() *toolCallAssembler {
	return &toolCallAssembler{parts: map[int]*toolCallPart{}}
}

func (t *toolCallAssembler) add(calls []oaiToolCall) {
	for _, c := range calls {
		p, ok := t.parts[c.Index]
		if !ok {
			p = &toolCallPart{}
			t.parts[c.Index] = p
			t.order = append(t.order, c.Index)
		}
		if c.ID != "" {
			p.id = c.ID
		}
		if c.Function.Name != "" {
			p.name = c.Function.Name
		}
		p.args.WriteString(c.Function.Arguments)
	}
}

func (t *toolCallAssembler) calls() []ToolCall {
	out := make([]ToolCall, 0, len(t.order))
	for i, idx := range t.order {
		p := t.parts[idx]
		id := p.id
		if id == "" {
			id = fmt.Sprintf("call_%d", i)
		}
		var args map[string]any
		if raw := p.args.String(); raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				args = map[string]any{"_raw": raw}
			}
		}
		out = append(out, ToolCall{ID: id, Name: p.name, Args: args})
	}
	return out
}
