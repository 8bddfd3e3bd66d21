package server

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/openreel/reelkit/artifact"
	"github.com/openreel/reelkit/events"
	"github.com/openreel/reelkit/logger"
	"github.com/openreel/reelkit/metrics"
	"github.com/openreel/reelkit/pipeline"
	"github.com/openreel/reelkit/ratelimit"
	"github.com/openreel/reelkit/session"
)

// wsSender serializes writes to one websocket connection. gorilla conns
// allow a single concurrent writer; the pipeline goroutine and the read
// loop both send frames.
type wsSender struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

// Send marshals and writes one frame. A false return means the socket is
// gone and the caller should wind down.
func (s *wsSender) Send(t events.Type, data any) bool {
	f, err := events.NewFrame(t, data)
	if err != nil {
		logger.Error("frame encode failed", "type", string(t), "error", err)
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(f) == nil
}

func (s *wsSender) sendError(msg string) bool {
	return s.Send(events.TypeError, events.ErrorPayload{Message: msg})
}

// handleWS is the chat socket. Admission, the connection cap and the
// session lookup all run before the upgrade so rejections stay plain HTTP.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ip := s.admission.ClientIP(r)
	if res := s.admission.AllowWSConnect(ip); !res.Allowed {
		metrics.RecordRateLimited("ws:connect")
		ratelimit.WriteTooManyRequests(w, res.RetryAfter)
		return
	}

	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}

	if !s.caps.TryAcquireWS() {
		writeDetail(w, http.StatusServiceUnavailable, "too many connections")
		return
	}
	defer s.caps.ReleaseWS()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	metrics.WSConnectionOpened()
	defer metrics.WSConnectionClosed()

	sender := &wsSender{conn: conn}
	sender.Send(events.TypeSessionSnapshot, sess.Snapshot())

	for {
		var frame events.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		s.dispatchFrame(sess, sender, ip, frame)
	}
}

func (s *Server) dispatchFrame(sess *session.Session, sender *wsSender, ip string, frame events.Frame) {
	switch frame.Type {
	case events.TypePing:
		sender.Send(events.TypePong, events.Pong{TS: float64(time.Now().UnixNano()) / 1e9})

	case events.TypeSessionSetLang:
		var p events.SetLang
		if err := frame.Decode(&p); err != nil {
			sender.sendError("invalid set_lang payload")
			return
		}
		lang := sess.SetLang(p.Lang)
		sender.Send(events.TypeSessionLang, events.Lang{Lang: lang})

	case events.TypeChatClear:
		sess.Clear()
		sender.Send(events.TypeChatCleared, events.OK{OK: true})

	case events.TypeChatSend:
		s.handleChatSend(sess, sender, ip, frame)

	case events.TypePipelineStart:
		s.handlePipelineStart(sess, sender, frame)

	case events.TypePipelineCancel:
		if sess.CancelPipeline() {
			sender.Send(events.TypePipelineCancelled, events.OK{OK: true})
		} else {
			sender.sendError("no pipeline running")
		}

	case events.TypePipelineConfirmResponse:
		var p events.PipelineConfirmResponse
		if err := frame.Decode(&p); err != nil {
			sender.sendError("invalid confirm payload")
			return
		}
		if sess.ResolveConfirm(p.Params) {
			sender.Send(events.TypePipelineConfirmAck, events.OK{OK: true})
		}
		// No prompt armed: the run moved on, stay silent.

	default:
		sender.sendError("unknown type: " + string(frame.Type))
	}
}

// handleChatSend runs one user turn. The turn executes synchronously in
// the read loop, so chat.clear and a second chat.send cannot race it; the
// REST cancel endpoint is the escape hatch.
func (s *Server) handleChatSend(sess *session.Session, sender *wsSender, ip string, frame events.Frame) {
	var msg events.ChatSend
	if err := frame.Decode(&msg); err != nil {
		sender.sendError("invalid chat.send payload")
		return
	}

	if sess.TurnActive() {
		sender.sendError("previous message is still streaming, cancel it first")
		return
	}

	if res := s.admission.AllowWSChatSend(ip); !res.Allowed {
		metrics.RecordRateLimited("ws:chat_send")
		sender.Send(events.TypeError, events.ErrorPayload{
			Message:    "too many messages, slow down",
			RetryAfter: ratelimit.RetryAfterSeconds(res.RetryAfter),
		})
		return
	}

	if !s.caps.TryAcquireChatTurn() {
		sender.sendError("server is busy, try again later")
		return
	}
	defer s.caps.ReleaseChatTurn()

	if !sess.TryBeginTurn() {
		sender.sendError("previous message is still streaming, cancel it first")
		return
	}
	defer sess.EndTurn()

	// A cancel left over from a previous turn must not kill this one.
	sess.Cancel().Clear()

	if len(msg.ServiceConfig) > 0 {
		if err := sess.ApplyServiceConfig(msg.ServiceConfig); err != nil {
			sender.sendError(err.Error())
			return
		}
	}
	sess.SetModelKeys(msg.LLMModel, msg.VLMModel)
	if msg.Lang != "" {
		sess.SetLang(msg.Lang)
	}

	ag, err := sess.EnsureAgent(s.factory)
	if err != nil {
		sender.sendError(err.Error())
		return
	}

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	metas := sess.TakePendingForMessage(msg.AttachmentIDs)
	refs := make([]session.MediaRef, len(metas))
	for i, m := range metas {
		refs[i] = sess.PublicMedia(m)
	}
	sess.BeginUserTurn(text, refs)

	llmKey, vlmKey := sess.ModelKeys()
	sender.Send(events.TypeChatUser, events.ChatUser{
		Text:         text,
		Attachments:  toAnySlice(refs),
		PendingMedia: toAnySlice(sess.PendingMedia()),
		LLMModelKey:  llmKey,
		VLMModelKey:  vlmKey,
	})

	s.runTurn(sess, ag, sender)
}

func toAnySlice(refs []session.MediaRef) []any {
	out := make([]any, len(refs))
	for i := range refs {
		out[i] = refs[i]
	}
	return out
}

// handlePipelineStart launches a template run in its own goroutine so the
// read loop stays free for cancel and confirm frames.
func (s *Server) handlePipelineStart(sess *session.Session, sender *wsSender, frame events.Frame) {
	var req events.PipelineStart
	if err := frame.Decode(&req); err != nil {
		sender.sendError("invalid pipeline.start payload")
		return
	}

	tpl, err := s.templates.Get(req.TemplateID)
	if err != nil {
		sender.sendError(err.Error())
		return
	}

	store, err := artifact.NewStore(s.cfg.Paths.OutputsDir, sess.ID)
	if err != nil {
		sender.sendError("cannot open artifact store")
		logger.Error("artifact store open failed", "session_id", sess.ID, "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	if err := sess.BeginPipeline(cancel); err != nil {
		cancel()
		sender.sendError("a pipeline is already running")
		return
	}

	exec := pipeline.NewExecutor(s.registry, store, s.toolChain(sess, store), sess.ID, sess.Lang())

	onProgress := func(nodeID, status string, progress float64, message string) {
		sender.Send(events.TypePipelineProgress, events.PipelineProgress{
			NodeID: nodeID, Status: status, Progress: progress, Message: message,
		})
	}
	onConfirm := func(cctx context.Context, nodeID string, params map[string]any, timeout time.Duration) (map[string]any, error) {
		ch := sess.ArmConfirm()
		defer sess.DisarmConfirm()
		sender.Send(events.TypePipelineConfirm, events.PipelineConfirm{
			NodeID: nodeID, Params: params, TimeoutSec: int(timeout.Seconds()),
		})
		select {
		case p := <-ch:
			return p, nil
		case <-cctx.Done():
			return nil, cctx.Err()
		}
	}

	go func() {
		defer cancel()
		res := exec.Run(ctx, tpl, onProgress, onConfirm)
		sess.EndPipeline()
		if res.Status == pipeline.StatusError {
			msg := "pipeline failed"
			if res.FailedNode != "" {
				msg = "pipeline failed at " + res.FailedNode
				if out, ok := res.Results[res.FailedNode]; ok && out.Error != "" {
					msg += ": " + out.Error
				}
			}
			sender.Send(events.TypePipelineError, map[string]any{
				"message":     msg,
				"failed_node": res.FailedNode,
				"results":     res.Results,
			})
			return
		}
		sender.Send(events.TypePipelineDone, res)
	}()

	sender.Send(events.TypePipelineStarted, events.PipelineStarted{
		TemplateID:   tpl.TemplateID,
		TemplateName: tpl.Name,
	})
}
