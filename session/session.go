// Package session holds per-conversation state: media library, pending
// tray, resumable uploads, UI history and the model-facing context. One
// chat turn runs at a time per session; media operations use a separate
// lock so uploads never wait on a streaming turn.
package session

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/openreel/reelkit/agent"
	"github.com/openreel/reelkit/config"
	"github.com/openreel/reelkit/media"
)

// attachStatsIdx is the reserved context slot for the upload-status
// system message, right after the instruction prompt.
const attachStatsIdx = 1

// Session is one conversation with its media library and context.
type Session struct {
	ID        string
	CreatedAt time.Time

	cfg     *config.Config
	Media   *media.Store
	Uploads *media.UploadManager

	// chatMu serializes turns. TryLock failing means a turn is active.
	chatMu sync.Mutex
	// mediaMu guards the media maps, reservations and the name sequence.
	mediaMu            sync.Mutex
	loadMedia          map[string]media.Meta
	pendingIDs         []string
	directReservations int
	seqNext            int
	seqInited          bool

	// mu guards history, the context messages and the mutable settings.
	mu             sync.Mutex
	lang           string
	history        []*HistoryEntry
	toolIndex      map[string]int
	msgs           []agent.Message
	sentMediaTotal int

	llmModelKey string
	vlmModelKey string
	customLLM   *ModelOverride
	customVLM   *ModelOverride
	ttsConfig   map[string]any
	searchMode  string // default | custom
	searchKey   string

	agent    agent.Agent
	buildKey string

	cancel *CancelSignal

	pipeMu          sync.Mutex
	pipelineRunning bool
	pipelineCancel  func()
	confirmCh       chan map[string]any
}

// New builds a session over an existing media store and upload manager.
func New(id string, cfg *config.Config, store *media.Store, uploads *media.UploadManager) *Session {
	s := &Session{
		ID:          id,
		CreatedAt:   time.Now(),
		cfg:         cfg,
		Media:       store,
		Uploads:     uploads,
		loadMedia:   map[string]media.Meta{},
		toolIndex:   map[string]int{},
		lang:        "en",
		llmModelKey: defaultModelKey(cfg),
		vlmModelKey: defaultModelKey(cfg),
		searchMode:  "default",
		cancel:      NewCancelSignal(),
	}
	s.msgs = freshContext(s.lang)
	return s
}

func freshContext(lang string) []agent.Message {
	return []agent.Message{
		agent.System(systemPrompt(lang)),
		agent.System("[User media upload status] {}"),
	}
}

func defaultModelKey(cfg *config.Config) string {
	keys := make([]string, 0, len(cfg.Models))
	for k := range cfg.Models {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		return keys[0]
	}
	return CustomModelKey
}

// TryBeginTurn claims the turn lock without blocking.
func (s *Session) TryBeginTurn() bool { return s.chatMu.TryLock() }

// EndTurn releases the turn lock.
func (s *Session) EndTurn() { s.chatMu.Unlock() }

// TurnActive reports whether a turn currently holds the lock.
func (s *Session) TurnActive() bool {
	if s.chatMu.TryLock() {
		s.chatMu.Unlock()
		return false
	}
	return true
}

// Cancel returns the turn-interrupt signal.
func (s *Session) Cancel() *CancelSignal { return s.cancel }

// Lang returns the session language.
func (s *Session) Lang() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lang
}

// SetLang switches the session language; unknown values fall back to "en".
func (s *Session) SetLang(lang string) string {
	if lang != "zh" && lang != "en" {
		lang = "en"
	}
	s.mu.Lock()
	s.lang = lang
	s.mu.Unlock()
	return lang
}

// ModelKeys returns the active LLM and VLM selection.
func (s *Session) ModelKeys() (llm, vlm string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.llmModelKey, s.vlmModelKey
}

// SetModelKeys overrides the model selection; empty strings keep the
// current value.
func (s *Session) SetModelKeys(llm, vlm string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if llm != "" {
		s.llmModelKey = llm
	}
	if vlm != "" {
		s.vlmModelKey = vlm
	}
}

// Clear resets history and context but keeps the media library and the
// store-name sequence, so cleared sessions never overwrite old files.
// It waits for an active turn to finish.
func (s *Session) Clear() {
	s.chatMu.Lock()
	defer s.chatMu.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentMediaTotal = 0
	s.history = nil
	s.toolIndex = map[string]int{}
	s.msgs = freshContext(s.lang)
}

// --- context messages ---

// ContextMessages returns a copy of the model-facing context.
func (s *Session) ContextMessages() []agent.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]agent.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

// AppendContext appends messages to the model-facing context.
func (s *Session) AppendContext(msgs ...agent.Message) {
	if len(msgs) == 0 {
		return
	}
	s.mu.Lock()
	s.msgs = append(s.msgs, msgs...)
	s.mu.Unlock()
}

// BeginUserTurn records the attachment stats, appends the user message to
// both history and context, and returns the history entry.
func (s *Session) BeginUserTurn(text string, attachments []MediaRef) *HistoryEntry {
	s.mediaMu.Lock()
	libraryCount := len(s.loadMedia)
	s.mediaMu.Unlock()

	s.mu.Lock()
	s.sentMediaTotal += len(attachments)
	stats := fmt.Sprintf(
		`{"attached_this_message": %d, "attached_total": %d, "library_total": %d}`,
		len(attachments), s.sentMediaTotal, libraryCount,
	)
	for len(s.msgs) <= attachStatsIdx {
		s.msgs = append(s.msgs, agent.System(""))
	}
	s.msgs[attachStatsIdx] = agent.System("[User media upload status] " + stats)

	entry := &HistoryEntry{
		ID:          newHistoryID(),
		Role:        "user",
		Content:     text,
		Attachments: attachments,
		TS:          nowTS(),
	}
	s.history = append(s.history, entry)
	s.msgs = append(s.msgs, agent.User(text))
	s.mu.Unlock()
	return entry
}

// --- media ---

// MediaRef is the client-facing shape of one media item.
type MediaRef struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Kind     string `json:"kind"`
	ThumbURL string `json:"thumb_url"`
	FileURL  string `json:"file_url"`
}

// PublicMedia maps a stored meta to its client-facing shape.
func (s *Session) PublicMedia(m media.Meta) MediaRef {
	base := "/api/sessions/" + s.ID + "/media/" + m.ID
	return MediaRef{
		ID:       m.ID,
		Name:     m.Name,
		Kind:     m.Kind,
		ThumbURL: base + "/thumb",
		FileURL:  base + "/file",
	}
}

// PendingMedia returns the pending tray in order.
func (s *Session) PendingMedia() []MediaRef {
	s.mediaMu.Lock()
	defer s.mediaMu.Unlock()
	return s.pendingLocked()
}

func (s *Session) pendingLocked() []MediaRef {
	out := make([]MediaRef, 0, len(s.pendingIDs))
	for _, id := range s.pendingIDs {
		if m, ok := s.loadMedia[id]; ok {
			out = append(out, s.PublicMedia(m))
		}
	}
	return out
}

// MediaByID looks a media item up in the library.
func (s *Session) MediaByID(id string) (media.Meta, bool) {
	s.mediaMu.Lock()
	defer s.mediaMu.Unlock()
	m, ok := s.loadMedia[id]
	return m, ok
}

// ErrMediaCap is returned when a session media cap would be exceeded.
type ErrMediaCap struct {
	Kind  string // total | pending
	Have  int
	Limit int
}

func (e *ErrMediaCap) Error() string {
	if e.Kind == "pending" {
		return fmt.Sprintf("pending media limit reached: %d/%d", e.Have, e.Limit)
	}
	return fmt.Sprintf("session media limit reached: %d/%d", e.Have, e.Limit)
}

// ReserveUploads reaps stale resumable uploads, checks the caps against
// everything in flight, takes n direct-upload reservations and assigns
// store filenames for the given display names, in order.
func (s *Session) ReserveUploads(displayNames []string) ([]string, error) {
	s.Uploads.ReapExpired()

	s.mediaMu.Lock()
	defer s.mediaMu.Unlock()

	n := len(displayNames)
	if err := s.checkCapsLocked(n); err != nil {
		return nil, err
	}
	s.directReservations += n
	return s.reserveStoreFilenamesLocked(displayNames), nil
}

// ReleaseReservations returns direct-upload reservations taken by
// ReserveUploads once the uploads have settled.
func (s *Session) ReleaseReservations(n int) {
	s.mediaMu.Lock()
	defer s.mediaMu.Unlock()
	s.directReservations -= n
	if s.directReservations < 0 {
		s.directReservations = 0
	}
}

// ReserveResumable checks caps for one more item, takes a reservation and
// assigns a store filename for a resumable upload. The caller releases the
// reservation once the upload manager has registered the upload (or init
// failed); from then on it counts against the caps as in-flight.
func (s *Session) ReserveResumable(displayName string) (string, error) {
	s.Uploads.ReapExpired()

	s.mediaMu.Lock()
	defer s.mediaMu.Unlock()
	if err := s.checkCapsLocked(1); err != nil {
		return "", err
	}
	s.directReservations++
	return s.reserveStoreFilenamesLocked([]string{displayName})[0], nil
}

func (s *Session) checkCapsLocked(add int) error {
	inflight := s.Uploads.InFlight()
	total := len(s.loadMedia) + inflight + s.directReservations
	pending := len(s.pendingIDs) + inflight + s.directReservations

	if max := s.cfg.Limits.MaxMediaPerSession; max > 0 && total+add > max {
		return &ErrMediaCap{Kind: "total", Have: total, Limit: max}
	}
	if max := s.cfg.Limits.MaxPendingPerSession; max > 0 && pending+add > max {
		return &ErrMediaCap{Kind: "pending", Have: pending, Limit: max}
	}
	return nil
}

// reserveStoreFilenamesLocked assigns media_NNNN names in request order.
// The sequence never reuses numbers, including across Clear.
func (s *Session) reserveStoreFilenamesLocked(displayNames []string) []string {
	s.initSeqLocked()

	out := make([]string, 0, len(displayNames))
	seq := s.seqNext
	for _, disp := range displayNames {
		disp = media.SanitizeFilename(disp)
		ext := filepath.Ext(disp)

		var store string
		for {
			store = media.StoreFilename(seq, ext)
			if _, err := os.Stat(filepath.Join(s.Media.Dir(), store)); os.IsNotExist(err) {
				break
			}
			seq++
		}
		out = append(out, store)
		seq++
	}
	s.seqNext = seq
	return out
}

// initSeqLocked seeds the sequence from disk, the library and in-flight
// uploads, so restarts and clears never collide with existing files.
func (s *Session) initSeqLocked() {
	if s.seqInited {
		return
	}
	maxSeq := 0
	if names, err := os.ReadDir(s.Media.Dir()); err == nil {
		for _, de := range names {
			if n, ok := media.ParseStoreSeq(de.Name()); ok && n > maxSeq {
				maxSeq = n
			}
		}
	}
	for _, m := range s.loadMedia {
		if n, ok := media.ParseStoreSeq(filepath.Base(m.Path)); ok && n > maxSeq {
			maxSeq = n
		}
	}
	for _, u := range s.Uploads.Snapshot() {
		if n, ok := media.ParseStoreSeq(u.StoreFilename); ok && n > maxSeq {
			maxSeq = n
		}
	}
	s.seqNext = maxSeq + 1
	s.seqInited = true
}

// CommitMedia adds saved items to the library and the pending tray,
// keeping the tray sorted by store filename (upload order).
func (s *Session) CommitMedia(metas ...media.Meta) {
	s.mediaMu.Lock()
	defer s.mediaMu.Unlock()
	for _, m := range metas {
		s.loadMedia[m.ID] = m
		s.pendingIDs = append(s.pendingIDs, m.ID)
	}
	sort.SliceStable(s.pendingIDs, func(i, j int) bool {
		a, b := s.loadMedia[s.pendingIDs[i]], s.loadMedia[s.pendingIDs[j]]
		return filepath.Base(a.Path) < filepath.Base(b.Path)
	})
}

// ErrNotPending is returned when deleting media that already left the
// pending tray; committed media is never physically deleted.
var ErrNotPending = fmt.Errorf("media is not pending")

// DeletePendingMedia removes a pending item and its files.
func (s *Session) DeletePendingMedia(mediaID string) error {
	s.mediaMu.Lock()
	found := false
	for i, id := range s.pendingIDs {
		if id == mediaID {
			s.pendingIDs = append(s.pendingIDs[:i], s.pendingIDs[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		s.mediaMu.Unlock()
		return ErrNotPending
	}
	m, ok := s.loadMedia[mediaID]
	delete(s.loadMedia, mediaID)
	s.mediaMu.Unlock()

	if ok {
		s.Media.DeleteFiles(m)
	}
	return nil
}

// TakePendingForMessage drains the pending tray (or the named subset) and
// returns the drained items in tray order.
func (s *Session) TakePendingForMessage(attachmentIDs []string) []media.Meta {
	s.mediaMu.Lock()
	defer s.mediaMu.Unlock()

	var pick []string
	if len(attachmentIDs) > 0 {
		want := map[string]bool{}
		for _, id := range attachmentIDs {
			want[id] = true
		}
		for _, id := range s.pendingIDs {
			if want[id] {
				pick = append(pick, id)
			}
		}
	} else {
		pick = append(pick, s.pendingIDs...)
	}

	picked := map[string]bool{}
	for _, id := range pick {
		picked[id] = true
	}
	rest := s.pendingIDs[:0]
	for _, id := range s.pendingIDs {
		if !picked[id] {
			rest = append(rest, id)
		}
	}
	s.pendingIDs = rest

	out := make([]media.Meta, 0, len(pick))
	for _, id := range pick {
		if m, ok := s.loadMedia[id]; ok {
			out = append(out, m)
		}
	}
	return out
}

// MediaCount returns the library size.
func (s *Session) MediaCount() int {
	s.mediaMu.Lock()
	defer s.mediaMu.Unlock()
	return len(s.loadMedia)
}

// --- pipeline state ---

// ErrPipelineRunning is returned when a pipeline start races a running one.
var ErrPipelineRunning = fmt.Errorf("pipeline already running")

// BeginPipeline marks the pipeline as running and stores its cancel func.
func (s *Session) BeginPipeline(cancel func()) error {
	s.pipeMu.Lock()
	defer s.pipeMu.Unlock()
	if s.pipelineRunning {
		return ErrPipelineRunning
	}
	s.pipelineRunning = true
	s.pipelineCancel = cancel
	return nil
}

// EndPipeline clears the running marker.
func (s *Session) EndPipeline() {
	s.pipeMu.Lock()
	s.pipelineRunning = false
	s.pipelineCancel = nil
	s.confirmCh = nil
	s.pipeMu.Unlock()
}

// CancelPipeline cancels a running pipeline. It reports whether one was
// running.
func (s *Session) CancelPipeline() bool {
	s.pipeMu.Lock()
	cancel := s.pipelineCancel
	running := s.pipelineRunning
	s.pipeMu.Unlock()
	if running && cancel != nil {
		cancel()
	}
	return running
}

// PipelineRunning reports whether a pipeline run is active.
func (s *Session) PipelineRunning() bool {
	s.pipeMu.Lock()
	defer s.pipeMu.Unlock()
	return s.pipelineRunning
}

// ArmConfirm registers a waiter for the next confirm response and returns
// its channel.
func (s *Session) ArmConfirm() chan map[string]any {
	ch := make(chan map[string]any, 1)
	s.pipeMu.Lock()
	s.confirmCh = ch
	s.pipeMu.Unlock()
	return ch
}

// DisarmConfirm clears the confirm waiter.
func (s *Session) DisarmConfirm() {
	s.pipeMu.Lock()
	s.confirmCh = nil
	s.pipeMu.Unlock()
}

// ResolveConfirm delivers a confirm response. It reports whether a waiter
// was armed.
func (s *Session) ResolveConfirm(params map[string]any) bool {
	s.pipeMu.Lock()
	ch := s.confirmCh
	s.confirmCh = nil
	s.pipeMu.Unlock()
	if ch == nil {
		return false
	}
	ch <- params
	return true
}

// --- snapshot ---

// SnapshotLimits mirrors the configured per-session caps for the client.
type SnapshotLimits struct {
	MaxUploadFilesPerRequest int   `json:"max_upload_files_per_request"`
	MaxMediaPerSession       int   `json:"max_media_per_session"`
	MaxPendingPerSession     int   `json:"max_pending_media_per_session"`
	UploadChunkBytes         int64 `json:"upload_chunk_bytes"`
}

// SnapshotStats summarizes the media state.
type SnapshotStats struct {
	MediaCount      int `json:"media_count"`
	PendingCount    int `json:"pending_count"`
	InflightUploads int `json:"inflight_uploads"`
}

// Snapshot is the full client-facing session state, sent on connect and
// returned by the REST session endpoints.
type Snapshot struct {
	SessionID    string         `json:"session_id"`
	DevMode      bool           `json:"developer_mode"`
	PendingMedia []MediaRef     `json:"pending_media"`
	History      []HistoryEntry `json:"history"`
	Limits       SnapshotLimits `json:"limits"`
	Stats        SnapshotStats  `json:"stats"`
	LLMModelKey  string         `json:"llm_model_key"`
	LLMModels    []string       `json:"llm_models"`
	VLMModelKey  string         `json:"vlm_model_key"`
	VLMModels    []string       `json:"vlm_models"`
	Lang         string         `json:"lang"`
}

// Snapshot builds the client-facing state.
func (s *Session) Snapshot() Snapshot {
	models := make([]string, 0, len(s.cfg.Models))
	for k := range s.cfg.Models {
		models = append(models, k)
	}
	sort.Strings(models)

	s.mediaMu.Lock()
	pending := s.pendingLocked()
	stats := SnapshotStats{
		MediaCount:      len(s.loadMedia),
		PendingCount:    len(s.pendingIDs),
		InflightUploads: s.Uploads.InFlight(),
	}
	s.mediaMu.Unlock()

	llm, vlm := s.ModelKeys()
	return Snapshot{
		SessionID:    s.ID,
		DevMode:      s.cfg.Server.DevMode,
		PendingMedia: pending,
		History:      s.History(),
		Limits: SnapshotLimits{
			MaxUploadFilesPerRequest: s.cfg.Limits.MaxUploadFilesPerRequest,
			MaxMediaPerSession:       s.cfg.Limits.MaxMediaPerSession,
			MaxPendingPerSession:     s.cfg.Limits.MaxPendingPerSession,
			UploadChunkBytes:         s.cfg.Limits.UploadChunkBytes,
		},
		Stats:       stats,
		LLMModelKey: llm,
		LLMModels:   models,
		VLMModelKey: vlm,
		VLMModels:   models,
		Lang:        s.Lang(),
	}
}
