package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreel/reelkit/agent"
	"github.com/openreel/reelkit/events"
	"github.com/openreel/reelkit/session"
)

// scriptedAgent replays a fixed event sequence. With block set it then
// parks until the turn context is cancelled, like a stalled provider.
type scriptedAgent struct {
	events []agent.StreamEvent
	block  bool
}

func (a *scriptedAgent) Stream(ctx context.Context, _ []agent.Message) (<-chan agent.StreamEvent, error) {
	ch := make(chan agent.StreamEvent)
	go func() {
		defer close(ch)
		for _, ev := range a.events {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		if a.block {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

func scriptedFactory(a agent.Agent) session.AgentFactory {
	return func(_ *session.Session, _, _ *session.ModelOverride) (agent.Agent, error) {
		return a, nil
	}
}

func dialWS(t *testing.T, httpURL, sid string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(httpURL, "http") + "/ws/sessions/" + sid + "/chat"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })

	// First frame is always the snapshot.
	f := readFrame(t, conn)
	require.Equal(t, events.TypeSessionSnapshot, f.Type)
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) events.Frame {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var f events.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

// readUntil collects frames until one of the wanted type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, want events.Type) (events.Frame, []events.Frame) {
	t.Helper()
	var seen []events.Frame
	for i := 0; i < 200; i++ {
		f := readFrame(t, conn)
		if f.Type == want {
			return f, seen
		}
		seen = append(seen, f)
	}
	t.Fatalf("frame %s never arrived", want)
	return events.Frame{}, nil
}

func sendFrame(t *testing.T, conn *websocket.Conn, typ events.Type, data any) {
	t.Helper()
	f, err := events.NewFrame(typ, data)
	require.NoError(t, err)
	require.NoError(t, conn.WriteJSON(f))
}

func frameTypes(frames []events.Frame) []events.Type {
	out := make([]events.Type, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

func TestWSPingLangClear(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	sid := createSession(t, ts.URL)
	conn := dialWS(t, ts.URL, sid)

	sendFrame(t, conn, events.TypePing, nil)
	f := readFrame(t, conn)
	require.Equal(t, events.TypePong, f.Type)
	var pong events.Pong
	require.NoError(t, f.Decode(&pong))
	assert.Greater(t, pong.TS, 0.0)

	sendFrame(t, conn, events.TypeSessionSetLang, events.SetLang{Lang: "zh"})
	f = readFrame(t, conn)
	require.Equal(t, events.TypeSessionLang, f.Type)
	var lang events.Lang
	require.NoError(t, f.Decode(&lang))
	assert.Equal(t, "zh", lang.Lang)

	sendFrame(t, conn, events.TypeChatClear, nil)
	f = readFrame(t, conn)
	require.Equal(t, events.TypeChatCleared, f.Type)

	sendFrame(t, conn, events.Type("bogus"), nil)
	f = readFrame(t, conn)
	require.Equal(t, events.TypeError, f.Type)
	var ep events.ErrorPayload
	require.NoError(t, f.Decode(&ep))
	assert.Contains(t, ep.Message, "unknown type: bogus")
}

func TestWSConnectUnknownSession(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/sessions/nope/chat"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWSChatTurnStreams(t *testing.T) {
	ag := &scriptedAgent{events: []agent.StreamEvent{
		{Delta: "Hel"},
		{Delta: "lo"},
		{Messages: []agent.Message{agent.Assistant("Hello")}},
	}}
	srv, ts := newTestServer(t, Options{AgentFactory: scriptedFactory(ag)})
	sid := createSession(t, ts.URL)
	conn := dialWS(t, ts.URL, sid)

	sendFrame(t, conn, events.TypeChatSend, events.ChatSend{Text: "hi"})

	f := readFrame(t, conn)
	require.Equal(t, events.TypeChatUser, f.Type)
	var cu events.ChatUser
	require.NoError(t, f.Decode(&cu))
	assert.Equal(t, "hi", cu.Text)
	assert.Equal(t, "deepseek", cu.LLMModelKey)

	end, seen := readUntil(t, conn, events.TypeAssistantEnd)
	types := frameTypes(seen)
	assert.Equal(t, []events.Type{
		events.TypeAssistantStart,
		events.TypeAssistantDelta,
		events.TypeAssistantDelta,
	}, types)

	var ae events.AssistantEnd
	require.NoError(t, end.Decode(&ae))
	assert.Equal(t, "Hello", ae.Text)
	assert.False(t, ae.Interrupted)

	sess, _ := srv.Sessions().Get(sid)
	hist := sess.History()
	require.Len(t, hist, 2)
	assert.Equal(t, "user", hist[0].Role)
	assert.Equal(t, "Hello", hist[1].Content)

	msgs := sess.ContextMessages()
	last := msgs[len(msgs)-1]
	assert.Equal(t, agent.RoleAssistant, last.Role)
	assert.Equal(t, "Hello", last.Content)
}

func TestWSChatTurnFlushesBeforeTool(t *testing.T) {
	call := agent.ToolCall{ID: "tc1", Name: "split_shots", Args: map[string]any{"scene": "all"}}
	asst := agent.Message{Role: agent.RoleAssistant, Content: "Let me look.", ToolCalls: []agent.ToolCall{call}}
	ag := &scriptedAgent{events: []agent.StreamEvent{
		{Delta: "Let me look."},
		{Tool: &agent.ToolEvent{Type: agent.ToolEventStart, ToolCallID: "tc1", Server: "pipeline", Name: "split_shots", Args: call.Args}},
		{Tool: &agent.ToolEvent{Type: agent.ToolEventProgress, ToolCallID: "tc1", Server: "pipeline", Name: "split_shots", Progress: 3, Total: 4}},
		{Tool: &agent.ToolEvent{Type: agent.ToolEventEnd, ToolCallID: "tc1", Server: "pipeline", Name: "split_shots", Summary: "4 shots"}},
		{Messages: []agent.Message{asst, agent.ToolResult("tc1", `{"node_summary":"4 shots"}`)}},
		{Delta: "Done."},
		{Messages: []agent.Message{agent.Assistant("Done.")}},
	}}
	srv, ts := newTestServer(t, Options{AgentFactory: scriptedFactory(ag)})
	sid := createSession(t, ts.URL)
	conn := dialWS(t, ts.URL, sid)

	sendFrame(t, conn, events.TypeChatSend, events.ChatSend{Text: "cut it"})
	end, seen := readUntil(t, conn, events.TypeAssistantEnd)

	assert.Equal(t, []events.Type{
		events.TypeChatUser,
		events.TypeAssistantStart,
		events.TypeAssistantDelta,
		events.TypeAssistantFlush,
		events.TypeToolStart,
		events.TypeToolProgress,
		events.TypeToolEnd,
		events.TypeAssistantDelta,
	}, frameTypes(seen))

	var ae events.AssistantEnd
	require.NoError(t, end.Decode(&ae))
	assert.Equal(t, "Done.", ae.Text)

	// Transcript keeps stream order: text, tool card, text.
	sess, _ := srv.Sessions().Get(sid)
	hist := sess.History()
	require.Len(t, hist, 4)
	assert.Equal(t, "Let me look.", hist[1].Content)
	assert.Equal(t, "tc1", hist[2].ToolCallID)
	assert.Equal(t, session.ToolStateComplete, hist[2].State)
	assert.Equal(t, "Done.", hist[3].Content)

	// The tool round trip landed in the model context.
	msgs := sess.ContextMessages()
	require.Len(t, msgs, 6) // 2 system + user + assistant(tool call) + tool result + assistant
	assert.Equal(t, agent.RoleTool, msgs[4].Role)
}

func TestWSCancelMidStream(t *testing.T) {
	call := agent.ToolCall{ID: "tc1", Name: "render_video"}
	asst := agent.Message{Role: agent.RoleAssistant, Content: "Working", ToolCalls: []agent.ToolCall{call}}
	ag := &scriptedAgent{
		events: []agent.StreamEvent{
			{Delta: "Working"},
			{Tool: &agent.ToolEvent{Type: agent.ToolEventStart, ToolCallID: "tc1", Server: "pipeline", Name: "render_video"}},
			{Messages: []agent.Message{asst}},
		},
		block: true,
	}
	srv, ts := newTestServer(t, Options{AgentFactory: scriptedFactory(ag)})
	sid := createSession(t, ts.URL)
	conn := dialWS(t, ts.URL, sid)

	sendFrame(t, conn, events.TypeChatSend, events.ChatSend{Text: "go"})
	_, _ = readUntil(t, conn, events.TypeToolStart)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/sessions/"+sid+"/cancel", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, true, body["ok"])

	end, seen := readUntil(t, conn, events.TypeAssistantEnd)

	// The interrupted tool card is closed out before the turn ends.
	var sawToolEnd bool
	for _, f := range seen {
		if f.Type == events.TypeToolEnd {
			sawToolEnd = true
			var te events.ToolEnd
			require.NoError(t, f.Decode(&te))
			assert.Equal(t, "tc1", te.ToolCallID)
			assert.True(t, te.IsError)
		}
	}
	assert.True(t, sawToolEnd)

	// "Working" was flushed when the tool started, so nothing is pending.
	var ae events.AssistantEnd
	require.NoError(t, end.Decode(&ae))
	assert.True(t, ae.Interrupted)
	assert.Empty(t, ae.Text)

	sess, _ := srv.Sessions().Get(sid)
	// The signal is cleared so the next turn starts clean.
	assert.False(t, sess.Cancel().Triggered())

	hist := sess.History()
	var tool *session.HistoryEntry
	for i := range hist {
		if hist[i].ToolCallID == "tc1" {
			tool = &hist[i]
		}
	}
	require.NotNil(t, tool)
	assert.Equal(t, session.ToolStateError, tool.State)
	// The flushed segment stays in the transcript.
	assert.Equal(t, "Working", hist[1].Content)

	// The model context keeps the tool call but sees a cancelled result.
	msgs := sess.ContextMessages()
	require.GreaterOrEqual(t, len(msgs), 2)
	issued := msgs[len(msgs)-2]
	result := msgs[len(msgs)-1]
	assert.Equal(t, agent.RoleAssistant, issued.Role)
	assert.Equal(t, "Working", issued.Content)
	require.Len(t, issued.ToolCalls, 1)
	assert.Equal(t, "tc1", issued.ToolCalls[0].ID)
	assert.Equal(t, agent.RoleTool, result.Role)
	assert.Equal(t, "tc1", result.ToolCallID)
	assert.Equal(t, agent.CancelledResultContent, result.Content)
}

func TestWSChatErrorSurfacesPartial(t *testing.T) {
	ag := &scriptedAgent{events: []agent.StreamEvent{
		{Delta: "par"},
		{Err: errors.New("boom")},
	}}
	srv, ts := newTestServer(t, Options{AgentFactory: scriptedFactory(ag)})
	sid := createSession(t, ts.URL)
	conn := dialWS(t, ts.URL, sid)

	sendFrame(t, conn, events.TypeChatSend, events.ChatSend{Text: "go"})
	f, _ := readUntil(t, conn, events.TypeError)

	var ep events.ErrorPayload
	require.NoError(t, f.Decode(&ep))
	assert.Contains(t, ep.Message, "boom")
	assert.Equal(t, "par", ep.PartialText)

	// Partial output is committed so a retry does not lose it.
	sess, _ := srv.Sessions().Get(sid)
	hist := sess.History()
	assert.Equal(t, "par", hist[len(hist)-1].Content)
	msgs := sess.ContextMessages()
	assert.Equal(t, "par", msgs[len(msgs)-1].Content)
}

func TestWSChatEmptyTextIgnored(t *testing.T) {
	ag := &scriptedAgent{}
	_, ts := newTestServer(t, Options{AgentFactory: scriptedFactory(ag)})
	sid := createSession(t, ts.URL)
	conn := dialWS(t, ts.URL, sid)

	sendFrame(t, conn, events.TypeChatSend, events.ChatSend{Text: "   "})
	sendFrame(t, conn, events.TypePing, nil)

	// No chat.user or assistant frames: the ping answer comes straight back.
	f := readFrame(t, conn)
	assert.Equal(t, events.TypePong, f.Type)
}

func TestWSChatServiceConfigRejected(t *testing.T) {
	ag := &scriptedAgent{}
	_, ts := newTestServer(t, Options{AgentFactory: scriptedFactory(ag)})
	sid := createSession(t, ts.URL)
	conn := dialWS(t, ts.URL, sid)

	sendFrame(t, conn, events.TypeChatSend, events.ChatSend{
		Text: "hi",
		ServiceConfig: map[string]any{
			"custom_models": map[string]any{
				"llm": map[string]any{"model": "m"}, // missing base_url and api_key
			},
		},
	})
	f := readFrame(t, conn)
	require.Equal(t, events.TypeError, f.Type)
	var ep events.ErrorPayload
	require.NoError(t, f.Decode(&ep))
	assert.Contains(t, ep.Message, "incomplete")
}

func TestWSPipelineUnknownTemplate(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	sid := createSession(t, ts.URL)
	conn := dialWS(t, ts.URL, sid)

	sendFrame(t, conn, events.TypePipelineStart, events.PipelineStart{TemplateID: "nope"})
	f := readFrame(t, conn)
	require.Equal(t, events.TypeError, f.Type)
	var ep events.ErrorPayload
	require.NoError(t, f.Decode(&ep))
	assert.Contains(t, ep.Message, "template not found")
}

func TestWSPipelineCancelWithoutRun(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	sid := createSession(t, ts.URL)
	conn := dialWS(t, ts.URL, sid)

	sendFrame(t, conn, events.TypePipelineCancel, nil)
	f := readFrame(t, conn)
	require.Equal(t, events.TypeError, f.Type)
	var ep events.ErrorPayload
	require.NoError(t, f.Decode(&ep))
	assert.Contains(t, ep.Message, "no pipeline running")
}

func TestWSPipelineRunWithoutBackend(t *testing.T) {
	_, ts := newTestServer(t, Options{})
	sid := createSession(t, ts.URL)
	conn := dialWS(t, ts.URL, sid)

	sendFrame(t, conn, events.TypePipelineStart, events.PipelineStart{TemplateID: "preset_travel_vlog"})

	// Without a node backend every node reports a structured error and a
	// mandatory stage eventually aborts the run.
	f, seen := readUntil(t, conn, events.TypePipelineError)

	var sawStarted, sawProgress bool
	for _, fr := range seen {
		switch fr.Type {
		case events.TypePipelineStarted:
			sawStarted = true
		case events.TypePipelineProgress:
			sawProgress = true
		}
	}
	assert.True(t, sawStarted)
	assert.True(t, sawProgress)

	var payload struct {
		Message    string `json:"message"`
		FailedNode string `json:"failed_node"`
	}
	require.NoError(t, f.Decode(&payload))
	assert.NotEmpty(t, payload.FailedNode)
	assert.Contains(t, payload.Message, "pipeline failed")
}
