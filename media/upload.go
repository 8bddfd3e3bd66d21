package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openreel/reelkit/logger"
)

// Resumable upload errors. The HTTP layer maps ErrUploadNotFound to 404 and
// the rest to 400.
var (
	ErrUploadNotFound    = errors.New("upload_id not found or expired")
	ErrUploadClosed      = errors.New("upload already closed")
	ErrBadChunkIndex     = errors.New("invalid chunk index")
	ErrChunkSizeMismatch = errors.New("chunk size mismatch")
	ErrChunksMissing     = errors.New("chunks missing")
)

// Upload tracks one in-flight resumable upload. Chunks are written at fixed
// offsets into a preallocated temp file, so they may arrive in any order and
// a chunk may be retried safely.
type Upload struct {
	ID            string
	Filename      string // original name, for display
	StoreFilename string // on-disk name, e.g. media_0001.mp4
	Size          int64
	ChunkSize     int64
	TotalChunks   int
	TmpPath       string
	Kind          string
	CreatedAt     time.Time

	mu       sync.Mutex
	lastSeen time.Time
	received map[int]struct{}
	closed   bool
}

// ReceivedChunks returns how many distinct chunks have landed.
func (u *Upload) ReceivedChunks() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.received)
}

// UploadManager owns the resumable-upload state for one session: the staging
// directory, the in-flight table, and TTL expiry.
type UploadManager struct {
	dir       string
	chunkSize int64
	ttl       time.Duration

	mu      sync.Mutex
	uploads map[string]*Upload

	now func() time.Time
}

// NewUploadManager creates the staging directory and returns a manager.
// Zero chunkSize and ttl get the defaults (8 MiB, 1 hour).
func NewUploadManager(dir string, chunkSize int64, ttl time.Duration) (*UploadManager, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create uploads dir: %w", err)
	}
	if chunkSize <= 0 {
		chunkSize = 8 * 1024 * 1024
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &UploadManager{
		dir:       abs,
		chunkSize: chunkSize,
		ttl:       ttl,
		uploads:   map[string]*Upload{},
		now:       time.Now,
	}, nil
}

// Init registers a new upload of size bytes and creates its empty temp file.
func (m *UploadManager) Init(filename, storeFilename string, size int64) (*Upload, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid size %d", size)
	}
	filename = SanitizeFilename(filename)

	uploadID := strings.ReplaceAll(uuid.New().String(), "-", "")
	totalChunks := int((size + m.chunkSize - 1) / m.chunkSize)

	tmpPath := filepath.Join(m.dir, uploadID+".part")
	f, err := os.Create(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("cannot create temp file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("cannot create temp file: %w", err)
	}

	now := m.now()
	u := &Upload{
		ID:            uploadID,
		Filename:      filename,
		StoreFilename: storeFilename,
		Size:          size,
		ChunkSize:     m.chunkSize,
		TotalChunks:   totalChunks,
		TmpPath:       tmpPath,
		Kind:          DetectKind(filename),
		CreatedAt:     now,
		lastSeen:      now,
		received:      map[int]struct{}{},
	}

	m.mu.Lock()
	m.uploads[uploadID] = u
	m.mu.Unlock()

	logger.Info("resumable upload started",
		"upload_id", uploadID, "filename", filename, "size", size, "chunks", totalChunks)
	return u, nil
}

// Get returns the in-flight upload, or ErrUploadNotFound.
func (m *UploadManager) Get(uploadID string) (*Upload, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.uploads[uploadID]
	if !ok {
		return nil, ErrUploadNotFound
	}
	return u, nil
}

// WriteChunk writes chunk index from r at its fixed offset. The body must be
// exactly min(chunkSize, size-index*chunkSize) bytes. Returns the received
// and total chunk counts.
func (m *UploadManager) WriteChunk(uploadID string, index int, r io.Reader) (received, total int, err error) {
	u, err := m.Get(uploadID)
	if err != nil {
		return 0, 0, err
	}

	if index < 0 || index >= u.TotalChunks {
		return 0, 0, ErrBadChunkIndex
	}
	expected := u.Size - int64(index)*u.ChunkSize
	if expected <= 0 {
		return 0, 0, ErrBadChunkIndex
	}
	if expected > u.ChunkSize {
		expected = u.ChunkSize
	}

	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return 0, 0, ErrUploadClosed
	}

	f, err := os.OpenFile(u.TmpPath, os.O_WRONLY, 0o644)
	if err != nil {
		return 0, 0, fmt.Errorf("open temp file: %w", err)
	}
	if _, err := f.Seek(int64(index)*u.ChunkSize, io.SeekStart); err != nil {
		f.Close()
		return 0, 0, fmt.Errorf("seek temp file: %w", err)
	}
	// Read one byte past the expected length so an oversized body is caught.
	written, err := io.Copy(f, io.LimitReader(r, expected+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, 0, fmt.Errorf("write chunk: %w", err)
	}
	if written != expected {
		return 0, 0, fmt.Errorf("%w: %d != %d", ErrChunkSizeMismatch, written, expected)
	}

	u.received[index] = struct{}{}
	u.lastSeen = m.now()
	return len(u.received), u.TotalChunks, nil
}

// Complete marks the upload closed and removes it from the in-flight table.
// All chunks must have arrived; the caller promotes TmpPath into the store.
func (m *UploadManager) Complete(uploadID string) (*Upload, error) {
	u, err := m.Get(uploadID)
	if err != nil {
		return nil, err
	}

	u.mu.Lock()
	u.closed = true
	missing := u.TotalChunks - len(u.received)
	u.mu.Unlock()
	if missing > 0 {
		return nil, fmt.Errorf("%w: %d", ErrChunksMissing, missing)
	}

	m.mu.Lock()
	delete(m.uploads, uploadID)
	m.mu.Unlock()
	return u, nil
}

// Cancel drops the upload and deletes its temp file. Unknown ids are a no-op.
func (m *UploadManager) Cancel(uploadID string) {
	m.mu.Lock()
	u, ok := m.uploads[uploadID]
	delete(m.uploads, uploadID)
	m.mu.Unlock()
	if !ok {
		return
	}

	u.mu.Lock()
	u.closed = true
	u.mu.Unlock()
	os.Remove(u.TmpPath)
}

// ReapExpired drops uploads idle past the TTL, deleting their temp files.
// Returns how many were reaped.
func (m *UploadManager) ReapExpired() int {
	now := m.now()

	m.mu.Lock()
	var dead []*Upload
	for id, u := range m.uploads {
		u.mu.Lock()
		idle := now.Sub(u.lastSeen)
		u.mu.Unlock()
		if idle > m.ttl {
			dead = append(dead, u)
			delete(m.uploads, id)
		}
	}
	m.mu.Unlock()

	for _, u := range dead {
		u.mu.Lock()
		u.closed = true
		u.mu.Unlock()
		os.Remove(u.TmpPath)
		logger.Info("resumable upload expired", "upload_id", u.ID, "filename", u.Filename)
	}
	return len(dead)
}

// InFlight returns the number of live uploads.
func (m *UploadManager) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.uploads)
}

// Snapshot returns the live uploads, for seq reservation and status views.
func (m *UploadManager) Snapshot() []*Upload {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Upload, 0, len(m.uploads))
	for _, u := range m.uploads {
		out = append(out, u)
	}
	return out
}
