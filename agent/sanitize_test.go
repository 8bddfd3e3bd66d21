package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func callMsg(id, name string) Message {
	return Message{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: id, Name: name}}}
}

func TestSanitizeInjectsMissingToolResult(t *testing.T) {
	msgs := []Message{callMsg("tc1", "split_shots")}

	out := SanitizeOnCancel(msgs, "", nil)
	require.Len(t, out, 2)
	assert.Equal(t, RoleTool, out[1].Role)
	assert.Equal(t, "tc1", out[1].ToolCallID)
	assert.JSONEq(t, `{"cancelled": true}`, out[1].Content)
}

func TestSanitizeReplacesUICancelledResult(t *testing.T) {
	msgs := []Message{
		callMsg("tc1", "split_shots"),
		ToolResult("tc1", `{"shots": 9}`),
	}

	// The UI marked tc1 cancelled: the real result must not survive.
	out := SanitizeOnCancel(msgs, "", []string{"tc1"})
	require.Len(t, out, 2)
	assert.JSONEq(t, `{"cancelled": true}`, out[1].Content)
}

func TestSanitizeReplacesTrailingTextWithSeenPrefix(t *testing.T) {
	msgs := []Message{
		callMsg("tc1", "split_shots"),
		ToolResult("tc1", `{"ok": true}`),
		Assistant("the full answer nobody finished reading"),
	}

	out := SanitizeOnCancel(msgs, "the full ans", nil)
	require.Len(t, out, 3)
	assert.Equal(t, "the full ans", out[2].Content)
	assert.False(t, out[2].HasToolCalls())
}

func TestSanitizeAppendsSeenTextWhenNoTextMessage(t *testing.T) {
	out := SanitizeOnCancel(nil, "partial", nil)
	require.Len(t, out, 1)
	assert.Equal(t, Assistant("partial"), out[0])
}

func TestSanitizeDropsUnseenFinalAnswer(t *testing.T) {
	msgs := []Message{
		callMsg("tc1", "split_shots"),
		ToolResult("tc1", `{"ok": true}`),
		Assistant("unseen final answer"),
	}

	out := SanitizeOnCancel(msgs, "", nil)
	require.Len(t, out, 2)
	assert.Equal(t, RoleTool, out[1].Role)
}

func TestSanitizeKeepsPreToolText(t *testing.T) {
	msgs := []Message{
		Assistant("let me check that"),
		callMsg("tc1", "split_shots"),
	}

	out := SanitizeOnCancel(msgs, "", nil)
	// The text precedes a tool call, so it stays; the call gets a
	// synthetic cancelled result.
	require.Len(t, out, 3)
	assert.Equal(t, "let me check that", out[0].Content)
	assert.Equal(t, "tc1", out[2].ToolCallID)
}

func TestSanitizeDoesNotMutateInput(t *testing.T) {
	msgs := []Message{
		callMsg("tc1", "split_shots"),
		ToolResult("tc1", `{"real": 1}`),
	}
	_ = SanitizeOnCancel(msgs, "", []string{"tc1"})
	assert.JSONEq(t, `{"real": 1}`, msgs[1].Content)
}
