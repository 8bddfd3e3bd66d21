package server

import (
	"context"
	"strings"
	"time"

	"github.com/openreel/reelkit/agent"
	"github.com/openreel/reelkit/events"
	"github.com/openreel/reelkit/metrics"
	"github.com/openreel/reelkit/session"
)

// interruptDrainTimeout bounds how long an interrupted turn waits for the
// agent goroutine to flush its in-flight message batches.
const interruptDrainTimeout = 2 * time.Second

// runTurn streams one assistant turn to the socket. It owns the history
// and context commits for everything the turn produced; the caller holds
// the turn lock.
func (s *Server) runTurn(sess *session.Session, ag agent.Agent, sender *wsSender) {
	start := time.Now()
	status := "done"
	defer func() { metrics.RecordChatTurn(status, time.Since(start)) }()

	ctx, cancelTurn := context.WithCancel(context.Background())
	defer cancelTurn()

	stream, err := ag.Stream(ctx, sess.ContextMessages())
	if err != nil {
		status = "error"
		sender.sendError(err.Error())
		return
	}

	sender.Send(events.TypeAssistantStart, nil)

	var (
		seg       strings.Builder // text since the last history commit
		segTS     float64
		finalText string // last complete assistant text
		newMsgs   []agent.Message
	)

	// flush commits the open segment to history. Tool starts flush first so
	// the transcript keeps text and tool cards in stream order.
	flush := func(notify bool) {
		if seg.Len() == 0 {
			return
		}
		sess.AppendAssistantText(seg.String(), segTS)
		if notify {
			sender.Send(events.TypeAssistantFlush, nil)
		}
		seg.Reset()
		segTS = 0
	}

	// drain eats the rest of a dying stream so the agent goroutine can exit,
	// keeping any message batches that were already complete.
	drain := func() {
		deadline := time.After(interruptDrainTimeout)
		for {
			select {
			case ev, ok := <-stream:
				if !ok {
					return
				}
				if len(ev.Messages) > 0 {
					newMsgs = append(newMsgs, ev.Messages...)
				}
			case <-deadline:
				return
			}
		}
	}

	interrupt := func() {
		status = "cancelled"
		cancelTurn()

		var cancelledIDs []string
		for _, e := range sess.CancelRunningTools() {
			cancelledIDs = append(cancelledIDs, e.ToolCallID)
			sender.Send(events.TypeToolEnd, events.ToolEnd{
				ToolCallID: e.ToolCallID, Server: e.Server, Name: e.Name,
				IsError: true, Summary: e.Summary,
			})
		}

		partial := seg.String()
		flush(false)
		drain()

		// The model's view of the turn must match what the user saw: tool
		// results for cancelled calls are replaced and text the user never
		// received is dropped.
		if len(newMsgs) > 0 {
			sess.AppendContext(agent.SanitizeOnCancel(newMsgs, partial, cancelledIDs)...)
		} else if partial != "" {
			sess.AppendContext(agent.Assistant(partial))
		}

		sender.Send(events.TypeAssistantEnd, events.AssistantEnd{Text: partial, Interrupted: true})
		sess.Cancel().Clear()
	}

	abort := func() {
		status = "error"
		cancelTurn()
		drain()
	}

	for {
		var (
			ev agent.StreamEvent
			ok bool
		)
		// Stream events win over a pending cancel so nothing already
		// produced gets dropped.
		select {
		case ev, ok = <-stream:
		default:
			select {
			case ev, ok = <-stream:
			case <-sess.Cancel().Armed():
				interrupt()
				return
			}
		}

		if !ok {
			flush(false)
			sess.AppendContext(newMsgs...)
			sender.Send(events.TypeAssistantEnd, events.AssistantEnd{Text: finalText})
			return
		}

		switch {
		case ev.Err != nil:
			status = "error"
			partial := seg.String()
			flush(false)
			var commit []agent.Message
			commit = append(commit, newMsgs...)
			if partial != "" {
				commit = append(commit, agent.Assistant(partial))
			}
			sess.AppendContext(commit...)
			sender.Send(events.TypeError, events.ErrorPayload{
				Message:     ev.Err.Error(),
				PartialText: partial,
			})
			return

		case ev.Delta != "":
			if seg.Len() == 0 {
				segTS = float64(time.Now().UnixNano()) / 1e9
			}
			seg.WriteString(ev.Delta)
			if !sender.Send(events.TypeAssistantDelta, events.AssistantDelta{Delta: ev.Delta}) {
				abort()
				return
			}

		case ev.Tool != nil:
			if ev.Tool.Type == agent.ToolEventStart {
				flush(true)
			}
			entry := sess.ApplyToolEvent(ev.Tool)
			if entry == nil {
				continue
			}
			switch ev.Tool.Type {
			case agent.ToolEventStart:
				sender.Send(events.TypeToolStart, events.ToolStart{
					ToolCallID: entry.ToolCallID, Server: entry.Server,
					Name: entry.Name, Args: entry.Args,
				})
			case agent.ToolEventProgress:
				sender.Send(events.TypeToolProgress, events.ToolProgress{
					ToolCallID: entry.ToolCallID, Server: entry.Server, Name: entry.Name,
					Progress: entry.Progress, Message: entry.Message,
				})
			case agent.ToolEventEnd:
				sender.Send(events.TypeToolEnd, events.ToolEnd{
					ToolCallID: entry.ToolCallID, Server: entry.Server, Name: entry.Name,
					IsError: entry.State == session.ToolStateError, Summary: entry.Summary,
				})
			}

		case len(ev.Messages) > 0:
			newMsgs = append(newMsgs, ev.Messages...)
			for _, m := range ev.Messages {
				if m.Role == agent.RoleAssistant && !m.HasToolCalls() && m.Content != "" {
					finalText = m.Content
				}
			}
		}
	}
}
