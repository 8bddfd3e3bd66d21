// Package tools defines the tool invocation contract shared by the chat agent
// and the pipeline executor, plus the node registry describing what each
// pipeline tool consumes and produces.
package tools

import (
	"context"
)

// Execution modes for a tool call.
const (
	ModeAuto    = "auto"    // normal execution with caller-supplied params
	ModeDefault = "default" // execution with default params (dependency fill-in)
)

// Request is one tool invocation.
type Request struct {
	SessionID  string
	Tool       string
	ArtifactID string
	Mode       string
	Lang       string
	Args       map[string]any
}

// Result is the structured outcome of a tool invocation. ToolExecuteResult is
// the node's raw payload; Summary is the short human/agent-facing line.
type Result struct {
	ArtifactID        string         `json:"artifact_id"`
	ToolExecuteResult map[string]any `json:"tool_execute_result"`
	Summary           string         `json:"summary"`
	IsError           bool           `json:"is_error"`
}

// Handler executes one tool request.
type Handler func(ctx context.Context, req *Request) (*Result, error)

// Invoker is the raw tool backend. Implementations run the actual node
// (model call, worker, subprocess); the interceptor chain wraps one of these.
type Invoker interface {
	Invoke(ctx context.Context, req *Request) (*Result, error)
}

// InvokerFunc adapts a function to the Invoker interface.
type InvokerFunc func(ctx context.Context, req *Request) (*Result, error)

// Invoke implements Invoker.
func (f InvokerFunc) Invoke(ctx context.Context, req *Request) (*Result, error) {
	return f(ctx, req)
}
