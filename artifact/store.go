// Package artifact persists per-step pipeline results. Each session gets a
// directory holding a meta.json index plus one JSON envelope per artifact;
// inline base64 blobs inside a payload are extracted to files next to it.
package artifact

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openreel/reelkit/logger"
)

// ErrNotFound is returned when no artifact matches the requested id.
var ErrNotFound = errors.New("artifact not found")

// Meta describes one persisted artifact.
type Meta struct {
	SessionID  string  `json:"session_id"`
	ArtifactID string  `json:"artifact_id"`
	NodeID     string  `json:"node_id"`
	Path       string  `json:"path"`
	Summary    string  `json:"summary"`
	CreatedAt  float64 `json:"created_at"` // unix seconds
}

// Envelope is the on-disk artifact document.
type Envelope struct {
	Payload    map[string]any `json:"payload"`
	SessionID  string         `json:"session_id"`
	ArtifactID string         `json:"artifact_id"`
	NodeID     string         `json:"node_id"`
	CreatedAt  float64        `json:"create_time"`
}

// Store manages artifacts for one session under <root>/<sessionID>/.
// meta.json writes are rewrite-in-place and serialized by the store mutex.
type Store struct {
	root      string
	sessionID string
	blobsDir  string
	metaPath  string

	mu sync.Mutex
}

// NewStore opens (or initializes) the artifact directory for a session.
func NewStore(root, sessionID string) (*Store, error) {
	s := &Store{
		root:      root,
		sessionID: sessionID,
		blobsDir:  filepath.Join(root, sessionID),
		metaPath:  filepath.Join(root, sessionID, "meta.json"),
	}
	if err := os.MkdirAll(s.blobsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create artifact dir: %w", err)
	}
	if fi, err := os.Stat(s.metaPath); err != nil || fi.Size() == 0 {
		if err := s.saveMetaList(nil); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// SessionID returns the session this store belongs to.
func (s *Store) SessionID() string { return s.sessionID }

// Root returns the artifacts root directory (shared across sessions).
func (s *Store) Root() string { return s.root }

// GenerateArtifactID mints "<nodeID>_<8 hex>", unique per mint.
func (s *Store) GenerateArtifactID(nodeID string) string {
	return fmt.Sprintf("%s_%s", nodeID, uuid.New().String()[:8])
}

// SaveResult persists one tool result envelope. Inline base64 blobs in the
// payload are written under blobDir (defaults to the node's artifact
// directory) and each item's path is rewritten to the on-disk location.
func (s *Store) SaveResult(nodeID, artifactID, summary string, payload map[string]any, blobDir string) (Meta, error) {
	createdAt := float64(time.Now().UnixNano()) / float64(time.Second)

	storeDir := filepath.Join(s.blobsDir, nodeID)
	if err := os.MkdirAll(storeDir, 0o755); err != nil {
		return Meta{}, fmt.Errorf("create node dir: %w", err)
	}
	if blobDir == "" {
		blobDir = storeDir
	}

	extractBlobs(payload, blobDir, artifactID)

	envelope := Envelope{
		Payload:    payload,
		SessionID:  s.sessionID,
		ArtifactID: artifactID,
		NodeID:     nodeID,
		CreatedAt:  createdAt,
	}
	filePath := filepath.Join(storeDir, artifactID+".json")
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return Meta{}, fmt.Errorf("marshal artifact %s: %w", artifactID, err)
	}
	if err := os.WriteFile(filePath, data, 0o644); err != nil {
		return Meta{}, fmt.Errorf("write artifact %s: %w", artifactID, err)
	}
	logger.Info("artifact saved", "session_id", s.sessionID, "node_id", nodeID, "path", filePath)

	meta := Meta{
		SessionID:  s.sessionID,
		ArtifactID: artifactID,
		NodeID:     nodeID,
		Path:       filePath,
		Summary:    summary,
		CreatedAt:  createdAt,
	}
	if err := s.appendMeta(meta); err != nil {
		return Meta{}, err
	}
	return meta, nil
}

// LoadResult returns the meta and envelope for an artifact id.
func (s *Store) LoadResult(artifactID string) (Meta, Envelope, error) {
	metas, err := s.loadMetaList()
	if err != nil {
		return Meta{}, Envelope{}, err
	}
	for _, m := range metas {
		if m.ArtifactID != artifactID {
			continue
		}
		data, err := os.ReadFile(m.Path)
		if err != nil {
			return Meta{}, Envelope{}, fmt.Errorf("read artifact %s: %w", artifactID, err)
		}
		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			return Meta{}, Envelope{}, fmt.Errorf("parse artifact %s: %w", artifactID, err)
		}
		return m, env, nil
	}
	return Meta{}, Envelope{}, fmt.Errorf("%w: %s", ErrNotFound, artifactID)
}

// LatestMeta returns the most recently created meta for nodeID, or
// ErrNotFound when the node has produced nothing in this session.
func (s *Store) LatestMeta(nodeID string) (Meta, error) {
	metas, err := s.loadMetaList()
	if err != nil {
		return Meta{}, err
	}
	var (
		best  Meta
		found bool
	)
	for _, m := range metas {
		if m.NodeID != nodeID || m.SessionID != s.sessionID {
			continue
		}
		if !found || m.CreatedAt > best.CreatedAt {
			best = m
			found = true
		}
	}
	if !found {
		return Meta{}, fmt.Errorf("%w: node %s", ErrNotFound, nodeID)
	}
	return best, nil
}

func (s *Store) appendMeta(meta Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	metas, err := s.loadMetaListLocked()
	if err != nil {
		return err
	}
	metas = append(metas, meta)
	return s.saveMetaListLocked(metas)
}

func (s *Store) loadMetaList() ([]Meta, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadMetaListLocked()
}

func (s *Store) loadMetaListLocked() ([]Meta, error) {
	data, err := os.ReadFile(s.metaPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read meta index: %w", err)
	}
	var metas []Meta
	if err := json.Unmarshal(data, &metas); err != nil {
		return nil, fmt.Errorf("parse meta index: %w", err)
	}
	return metas, nil
}

func (s *Store) saveMetaList(metas []Meta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveMetaListLocked(metas)
}

func (s *Store) saveMetaListLocked(metas []Meta) error {
	if metas == nil {
		metas = []Meta{}
	}
	data, err := json.MarshalIndent(metas, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta index: %w", err)
	}
	if err := os.WriteFile(s.metaPath, data, 0o644); err != nil {
		return fmt.Errorf("write meta index: %w", err)
	}
	return nil
}

// extractBlobs walks a payload looking for media lists: slices whose items
// are objects carrying a base64 field. Each blob is written under dir and
// the item's path is rewritten to the on-disk location; the base64 field is
// removed.
func extractBlobs(payload map[string]any, dir, artifactID string) {
	for _, value := range payload {
		switch v := value.(type) {
		case []any:
			if !isMediaList(v) {
				continue
			}
			for _, raw := range v {
				item := raw.(map[string]any)
				saveMediaItem(item, dir, artifactID)
			}
		case map[string]any:
			extractBlobs(v, dir, artifactID)
		}
	}
}

// isMediaList reports whether every element is an object.
func isMediaList(items []any) bool {
	if len(items) == 0 {
		return false
	}
	for _, it := range items {
		if _, ok := it.(map[string]any); !ok {
			return false
		}
	}
	return true
}

func saveMediaItem(item map[string]any, dir, artifactID string) {
	encoded, ok := item["base64"].(string)
	if !ok || encoded == "" {
		return
	}
	delete(item, "base64")

	rel, _ := item["path"].(string)
	dst := filepath.Join(dir, filepath.Base(rel))
	logger.Info("saving artifact blob", "artifact_id", artifactID, "path", dst)

	if err := DecodeToFile(encoded, dst); err != nil {
		logger.Error("artifact blob write failed", "artifact_id", artifactID, "path", dst, "error", err)
		return
	}
	item["path"] = dst
}
