package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/openreel/reelkit/logger"
	"github.com/openreel/reelkit/metrics"
)

// Store errors surfaced to the HTTP layer.
var (
	// ErrExists means the target store filename is already on disk.
	ErrExists = errors.New("media filename exists")
	// ErrSourceMissing means a resumable upload's temp file disappeared.
	ErrSourceMissing = errors.New("upload temp file missing")
)

// Store owns the filesystem layer for one session's media directory: saving
// uploads, generating thumbnails, and deleting files. Deletion never reaches
// outside the media directory.
type Store struct {
	mediaDir  string
	thumbsDir string
	frames    *FrameExtractor
}

// NewStore creates the media directory (and its thumbnail subdirectory) if
// needed. frames may be nil; video thumbnails are then skipped.
func NewStore(mediaDir string, frames *FrameExtractor) (*Store, error) {
	abs, err := filepath.Abs(mediaDir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	thumbs, err := ThumbsDir(abs)
	if err != nil {
		return nil, err
	}
	return &Store{mediaDir: abs, thumbsDir: thumbs, frames: frames}, nil
}

// Dir returns the absolute media directory.
func (s *Store) Dir() string { return s.mediaDir }

// SaveUpload streams r into the store under storeFilename and builds a
// thumbnail. Returns ErrExists when the target name is taken.
func (s *Store) SaveUpload(ctx context.Context, storeFilename, displayName string, r io.Reader) (Meta, error) {
	mediaID := NewID()
	displayName = SanitizeFilename(displayName)
	storeFilename = SanitizeFilename(storeFilename)
	kind := DetectKind(displayName)

	savePath := filepath.Join(s.mediaDir, storeFilename)
	out, err := os.OpenFile(savePath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return Meta{}, fmt.Errorf("%w: %s", ErrExists, storeFilename)
		}
		return Meta{}, fmt.Errorf("create media file: %w", err)
	}
	n, err := io.Copy(out, r)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(savePath)
		return Meta{}, fmt.Errorf("write media file: %w", err)
	}
	metrics.RecordUpload(kind, "ok", n)

	return s.finish(ctx, mediaID, displayName, kind, savePath)
}

// SaveFromPath promotes a completed resumable upload's temp file into the
// store via rename. Returns ErrSourceMissing when the temp file is gone and
// ErrExists when the target name is taken.
func (s *Store) SaveFromPath(ctx context.Context, srcPath, storeFilename, displayName string) (Meta, error) {
	mediaID := NewID()
	displayName = SanitizeFilename(displayName)
	storeFilename = SanitizeFilename(storeFilename)
	kind := DetectKind(displayName)

	srcPath, err := filepath.Abs(srcPath)
	if err != nil {
		return Meta{}, err
	}
	if _, err := os.Stat(srcPath); err != nil {
		return Meta{}, ErrSourceMissing
	}

	savePath := filepath.Join(s.mediaDir, storeFilename)
	if _, err := os.Stat(savePath); err == nil {
		return Meta{}, fmt.Errorf("%w: %s", ErrExists, storeFilename)
	}
	if err := os.Rename(srcPath, savePath); err != nil {
		return Meta{}, fmt.Errorf("promote upload: %w", err)
	}

	return s.finish(ctx, mediaID, displayName, kind, savePath)
}

// finish builds the thumbnail and assembles the Meta. Image thumbnail
// failures fall back to the original file; video failures leave ThumbPath
// empty and the thumb endpoint serves a placeholder.
func (s *Store) finish(ctx context.Context, mediaID, displayName, kind, savePath string) (Meta, error) {
	thumbPath := ""
	switch kind {
	case KindImage:
		thumbPath = filepath.Join(s.thumbsDir, mediaID+".jpg")
		if err := ImageThumb(savePath, thumbPath); err != nil {
			logger.Warn("image thumbnail failed", "path", savePath, "error", err)
			metrics.RecordThumbnail(kind, "error")
			thumbPath = savePath
		} else {
			metrics.RecordThumbnail(kind, "ok")
		}
	case KindVideo:
		if s.frames != nil {
			thumbPath = filepath.Join(s.thumbsDir, mediaID+".jpg")
			if err := s.frames.ExtractThumb(ctx, savePath, thumbPath); err != nil {
				metrics.RecordThumbnail(kind, "error")
				thumbPath = ""
			} else {
				metrics.RecordThumbnail(kind, "ok")
			}
		}
	}

	return Meta{
		ID:        mediaID,
		Name:      filepath.Base(displayName),
		Kind:      kind,
		Path:      savePath,
		ThumbPath: thumbPath,
		TS:        float64(time.Now().UnixNano()) / float64(time.Second),
	}, nil
}

// DeleteFiles removes the media file and its thumbnail. Paths outside the
// media directory and directories are skipped; removal errors are ignored.
func (s *Store) DeleteFiles(m Meta) {
	seen := map[string]bool{}
	for _, p := range []string{m.Path, m.ThumbPath} {
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		ap, err := filepath.Abs(p)
		if err != nil || !IsUnderDir(ap, s.mediaDir) {
			continue
		}
		if fi, err := os.Stat(ap); err != nil || fi.IsDir() {
			continue
		}
		if err := os.Remove(ap); err != nil {
			logger.Debug("media delete skipped", "path", ap, "error", err)
		}
	}
}
