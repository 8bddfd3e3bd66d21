package agent

// CancelledResultContent is the tool-result body recorded for calls that
// were interrupted before (or while) producing a real result.
const CancelledResultContent = `{"cancelled": true}`

// SanitizeOnCancel rewrites the context messages produced during an
// interrupted turn so that only what the user actually saw is committed:
//
//   - tool calls without a result get a synthetic cancelled result,
//     inserted right after the assistant message that issued them;
//   - tool results the UI already shows as cancelled are replaced with the
//     cancelled body even if a real result arrived;
//   - the trailing assistant text is replaced with interruptedText (the
//     streamed prefix), or removed entirely when the user saw nothing and
//     no tool call follows it.
func SanitizeOnCancel(msgs []Message, interruptedText string, uiCancelledIDs []string) []Message {
	out := make([]Message, len(msgs))
	copy(out, msgs)

	cancelIDs := map[string]bool{}
	for _, id := range uiCancelledIDs {
		if id != "" {
			cancelIDs[id] = true
		}
	}
	resultIDs := map[string]bool{}
	for _, m := range out {
		if m.Role == RoleTool && m.ToolCallID != "" {
			resultIDs[m.ToolCallID] = true
		}
	}
	for _, m := range out {
		for _, tc := range m.ToolCalls {
			if tc.ID != "" && !resultIDs[tc.ID] {
				cancelIDs[tc.ID] = true
			}
		}
	}

	// Real results for cancelled calls would desync the context from the UI.
	for i, m := range out {
		if m.Role == RoleTool && cancelIDs[m.ToolCallID] {
			out[i] = ToolResult(m.ToolCallID, CancelledResultContent)
		}
	}
	out = injectCancelledResults(out, cancelIDs)

	lastText := -1
	for i := len(out) - 1; i >= 0; i-- {
		if out[i].IsText() {
			lastText = i
			break
		}
	}

	if interruptedText != "" {
		if lastText < 0 {
			return append(out, Assistant(interruptedText))
		}
		// Drop everything after the replaced message so unseen output
		// never leaks back into the context.
		return append(out[:lastText], Assistant(interruptedText))
	}

	// The user saw no text from this segment. Remove a trailing final
	// answer, but keep pre-tool text (a tool call follows it).
	if lastText >= 0 {
		toolCallAfter := false
		for _, m := range out[lastText+1:] {
			if m.Role == RoleAssistant && m.HasToolCalls() {
				toolCallAfter = true
				break
			}
		}
		if !toolCallAfter {
			out = out[:lastText]
		}
	}
	return out
}

// injectCancelledResults adds a cancelled tool result for every id in ids
// that has none, right after the assistant message that issued the call.
func injectCancelledResults(msgs []Message, ids map[string]bool) []Message {
	if len(ids) == 0 {
		return msgs
	}
	existing := map[string]bool{}
	for _, m := range msgs {
		if m.Role == RoleTool && m.ToolCallID != "" {
			existing[m.ToolCallID] = true
		}
	}

	out := msgs
	for id := range ids {
		if existing[id] {
			continue
		}
		insertAt := -1
		for i := len(out) - 1; i >= 0; i-- {
			if out[i].Role != RoleAssistant {
				continue
			}
			for _, tc := range out[i].ToolCalls {
				if tc.ID == id {
					insertAt = i + 1
					break
				}
			}
			if insertAt >= 0 {
				break
			}
		}
		if insertAt < 0 {
			// No issuing call in this batch; nothing to anchor to.
			continue
		}
		out = append(out[:insertAt], append([]Message{ToolResult(id, CancelledResultContent)}, out[insertAt:]...)...)
		existing[id] = true
	}
	return out
}
