// Package logger provides structured logging with automatic secret redaction.
package logger

import (
	"context"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// Context keys for common logging fields.
// These keys are used to store values in context.Context that will be
// automatically extracted and added to log entries.
const (
	// ContextKeySessionID identifies the editing session.
	ContextKeySessionID contextKey = "session_id"

	// ContextKeyTurnID identifies the current chat turn.
	ContextKeyTurnID contextKey = "turn_id"

	// ContextKeyUploadID identifies a resumable upload.
	ContextKeyUploadID contextKey = "upload_id"

	// ContextKeyNodeID identifies the pipeline node being executed.
	ContextKeyNodeID contextKey = "node_id"

	// ContextKeyArtifactID identifies the artifact minted for a tool call.
	ContextKeyArtifactID contextKey = "artifact_id"

	// ContextKeyRequestID identifies the individual HTTP request.
	ContextKeyRequestID contextKey = "request_id"

	// ContextKeyRemoteIP identifies the client address used for admission control.
	ContextKeyRemoteIP contextKey = "remote_ip"
)

// allContextKeys lists all context keys that should be extracted for logging.
// This is used by the handler to iterate over all possible context values.
var allContextKeys = []contextKey{
	ContextKeySessionID,
	ContextKeyTurnID,
	ContextKeyUploadID,
	ContextKeyNodeID,
	ContextKeyArtifactID,
	ContextKeyRequestID,
	ContextKeyRemoteIP,
}

// WithSessionID returns a new context with the session ID set.
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, ContextKeySessionID, sessionID)
}

// WithTurnID returns a new context with the turn ID set.
func WithTurnID(ctx context.Context, turnID string) context.Context {
	return context.WithValue(ctx, ContextKeyTurnID, turnID)
}

// WithUploadID returns a new context with the upload ID set.
func WithUploadID(ctx context.Context, uploadID string) context.Context {
	return context.WithValue(ctx, ContextKeyUploadID, uploadID)
}

// WithNodeID returns a new context with the pipeline node ID set.
func WithNodeID(ctx context.Context, nodeID string) context.Context {
	return context.WithValue(ctx, ContextKeyNodeID, nodeID)
}

// WithArtifactID returns a new context with the artifact ID set.
func WithArtifactID(ctx context.Context, artifactID string) context.Context {
	return context.WithValue(ctx, ContextKeyArtifactID, artifactID)
}

// WithRequestID returns a new context with the request ID set.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// WithRemoteIP returns a new context with the client address set.
func WithRemoteIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, ContextKeyRemoteIP, ip)
}
