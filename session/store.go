package session

import (
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openreel/reelkit/config"
	"github.com/openreel/reelkit/logger"
	"github.com/openreel/reelkit/media"
)

// Store keeps the live sessions. Each session gets its own media
// directory under the configured media root.
type Store struct {
	cfg    *config.Config
	frames *media.FrameExtractor

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewStore builds the session store and the shared frame extractor.
func NewStore(cfg *config.Config) *Store {
	return &Store{
		cfg: cfg,
		frames: media.NewFrameExtractor(
			cfg.Limits.FFmpegPath,
			time.Duration(cfg.Limits.ThumbTimeoutSec)*time.Second,
		),
		sessions: map[string]*Session{},
	}
}

// Create allocates a new session with its media store and upload manager.
func (st *Store) Create() (*Session, error) {
	sid := strings.ReplaceAll(uuid.NewString(), "-", "")
	mediaDir := filepath.Join(st.cfg.Paths.MediaDir, sid)

	mstore, err := media.NewStore(mediaDir, st.frames)
	if err != nil {
		return nil, err
	}
	uploadsDir, err := media.UploadsDir(mediaDir)
	if err != nil {
		return nil, err
	}
	uploads, err := media.NewUploadManager(
		uploadsDir,
		st.cfg.Limits.UploadChunkBytes,
		time.Duration(st.cfg.Limits.UploadTTLSec)*time.Second,
	)
	if err != nil {
		return nil, err
	}

	sess := New(sid, st.cfg, mstore, uploads)
	st.mu.Lock()
	st.sessions[sid] = sess
	st.mu.Unlock()

	logger.Info("session created", "session_id", sid)
	return sess, nil
}

// Get looks a session up by id.
func (st *Store) Get(sid string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	s, ok := st.sessions[sid]
	return s, ok
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}
