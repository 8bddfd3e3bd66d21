package session

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/openreel/reelkit/agent"
)

// Tool entry states.
const (
	ToolStateRunning  = "running"
	ToolStateComplete = "complete"
	ToolStateError    = "error"
)

// HistoryEntry is one replayable UI event. User and assistant entries carry
// text; tool entries are updated in place as the tool progresses.
type HistoryEntry struct {
	ID      string `json:"id"`
	Role    string `json:"role"` // user | assistant | tool
	Content string `json:"content,omitempty"`

	Attachments []MediaRef `json:"attachments,omitempty"`

	ToolCallID string         `json:"tool_call_id,omitempty"`
	Server     string         `json:"server,omitempty"`
	Name       string         `json:"name,omitempty"`
	Args       map[string]any `json:"args,omitempty"`
	State      string         `json:"state,omitempty"`
	Progress   float64        `json:"progress,omitempty"`
	Message    string         `json:"message,omitempty"`
	Summary    any            `json:"summary,omitempty"`

	TS float64 `json:"ts"`
}

func newHistoryID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

func nowTS() float64 {
	return float64(time.Now().UnixNano()) / float64(time.Second)
}

// AppendUserMessage records an accepted user turn with its attachments.
func (s *Session) AppendUserMessage(text string, attachments []MediaRef) *HistoryEntry {
	entry := &HistoryEntry{
		ID:          newHistoryID(),
		Role:        "user",
		Content:     text,
		Attachments: attachments,
		TS:          nowTS(),
	}
	s.mu.Lock()
	s.history = append(s.history, entry)
	s.mu.Unlock()
	return entry
}

// AppendAssistantText records one committed assistant segment. A zero ts
// means "now".
func (s *Session) AppendAssistantText(text string, ts float64) *HistoryEntry {
	if ts == 0 {
		ts = nowTS()
	}
	entry := &HistoryEntry{
		ID:      newHistoryID(),
		Role:    "assistant",
		Content: text,
		TS:      ts,
	}
	s.mu.Lock()
	s.history = append(s.history, entry)
	s.mu.Unlock()
	return entry
}

// ApplyToolEvent folds a tool lifecycle event into the history, creating
// the tool entry on first sight and updating it in place afterwards.
// Progress values are normalized to [0,1]: a positive total divides, a
// value above 1 is read as a percentage.
func (s *Session) ApplyToolEvent(ev *agent.ToolEvent) *HistoryEntry {
	if ev == nil || ev.ToolCallID == "" {
		return nil
	}
	switch ev.Type {
	case agent.ToolEventStart, agent.ToolEventProgress, agent.ToolEventEnd:
	default:
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry := s.ensureToolEntryLocked(ev)
	switch ev.Type {
	case agent.ToolEventStart:
		entry.Server = ev.Server
		entry.Name = ev.Name
		entry.Args = ev.Args
		entry.State = ToolStateRunning
		entry.Progress = 0
		entry.Message = "Starting..."
		entry.Summary = nil

	case agent.ToolEventProgress:
		p := ev.Progress
		if ev.Total > 0 {
			p = ev.Progress / ev.Total
		} else if p > 1 {
			p /= 100
		}
		if p < 0 {
			p = 0
		}
		if p > 1 {
			p = 1
		}
		entry.State = ToolStateRunning
		entry.Progress = p
		entry.Message = ev.Message

	case agent.ToolEventEnd:
		entry.State = ToolStateComplete
		if ev.IsError {
			entry.State = ToolStateError
		}
		entry.Progress = 1
		entry.Summary = ev.Summary
		if ev.Message != "" {
			entry.Message = ev.Message
		}
	}
	return entry
}

func (s *Session) ensureToolEntryLocked(ev *agent.ToolEvent) *HistoryEntry {
	if idx, ok := s.toolIndex[ev.ToolCallID]; ok {
		return s.history[idx]
	}
	entry := &HistoryEntry{
		ID:         "tool_" + ev.ToolCallID,
		Role:       "tool",
		ToolCallID: ev.ToolCallID,
		Server:     ev.Server,
		Name:       ev.Name,
		Args:       ev.Args,
		State:      ToolStateRunning,
		TS:         nowTS(),
	}
	s.history = append(s.history, entry)
	s.toolIndex[ev.ToolCallID] = len(s.history) - 1
	return entry
}

// CancelRunningTools marks every running tool entry as cancelled and
// returns the affected entries so the caller can emit tool.end frames.
func (s *Session) CancelRunningTools() []*HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*HistoryEntry
	for _, entry := range s.history {
		if entry.Role == "tool" && entry.State == ToolStateRunning {
			entry.State = ToolStateError
			entry.Progress = 1
			entry.Message = "Cancelled by user"
			entry.Summary = map[string]any{"cancelled": true}
			out = append(out, entry)
		}
	}
	return out
}

// History returns a copy of the history entries.
func (s *Session) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	for i, e := range s.history {
		out[i] = *e
	}
	return out
}
