// Package media manages per-session media files: streamed uploads, resumable
// chunked uploads, thumbnail generation, and the sequential on-disk naming
// scheme that preserves upload order.
package media

import (
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Media kinds as classified from the original filename extension.
const (
	KindImage   = "image"
	KindVideo   = "video"
	KindUnknown = "unknown"
)

const (
	storePrefix   = "media_"
	storeSeqWidth = 4
)

var imageExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true, ".webp": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".mov": true, ".avi": true, ".mkv": true, ".webm": true,
}

var storeSeqRe = regexp.MustCompile(`^media_(\d+)`)

// Meta describes one stored media file.
type Meta struct {
	ID        string  `json:"id"`
	Name      string  `json:"name"`
	Kind      string  `json:"kind"`
	Path      string  `json:"path"`
	ThumbPath string  `json:"thumb_path,omitempty"`
	TS        float64 `json:"ts"`
}

// NewID mints a short random media id (10 hex chars).
func NewID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:10]
}

// SanitizeFilename strips any directory components and NUL bytes from a
// client-supplied filename. An empty result becomes "unnamed".
func SanitizeFilename(name string) string {
	name = strings.ReplaceAll(name, "\x00", "")
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "unnamed"
	}
	return name
}

// DetectKind classifies a filename by extension.
func DetectKind(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	switch {
	case imageExts[ext]:
		return KindImage
	case videoExts[ext]:
		return KindVideo
	default:
		return KindUnknown
	}
}

// StoreFilename builds the sequential on-disk name, e.g. media_0001.mp4.
func StoreFilename(seq int, ext string) string {
	return fmt.Sprintf("%s%0*d%s", storePrefix, storeSeqWidth, seq, ext)
}

// ParseStoreSeq extracts the sequence number from a store filename.
func ParseStoreSeq(name string) (int, bool) {
	m := storeSeqRe.FindStringSubmatch(filepath.Base(name))
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}

// GuessMediaType returns the MIME type for a path, defaulting to
// application/octet-stream.
func GuessMediaType(path string) string {
	if mt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); mt != "" {
		return mt
	}
	return "application/octet-stream"
}

// IsUnderDir reports whether path resolves, symlinks included, to a
// location inside root. A link inside root pointing elsewhere fails the
// check. Used before serving or deleting files.
func IsUnderDir(path, root string) bool {
	ap, err := resolvePath(path)
	if err != nil {
		return false
	}
	ar, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	if resolved, err := filepath.EvalSymlinks(ar); err == nil {
		ar = resolved
	} else if !os.IsNotExist(err) {
		return false
	}
	rel, err := filepath.Rel(ar, ap)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// resolvePath makes path absolute and resolves symlinks. Missing trailing
// components resolve through the deepest existing ancestor, so paths to
// not-yet-created files still get a usable answer.
func resolvePath(path string) (string, error) {
	ap, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	suffix := ""
	for cur := ap; ; {
		resolved, err := filepath.EvalSymlinks(cur)
		if err == nil {
			return filepath.Join(resolved, suffix), nil
		}
		if !os.IsNotExist(err) {
			return "", err
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return ap, nil
		}
		suffix = filepath.Join(filepath.Base(cur), suffix)
		cur = parent
	}
}

// ThumbsDir returns (and creates) the hidden thumbnail directory.
func ThumbsDir(mediaDir string) (string, error) {
	d := filepath.Join(mediaDir, ".thumbs")
	if err := os.MkdirAll(d, 0o755); err != nil {
		return "", fmt.Errorf("create thumbs dir: %w", err)
	}
	return d, nil
}

// UploadsDir returns (and creates) the hidden resumable-upload staging
// directory.
func UploadsDir(mediaDir string) (string, error) {
	d := filepath.Join(mediaDir, ".uploads")
	if err := os.MkdirAll(d, 0o755); err != nil {
		return "", fmt.Errorf("create uploads dir: %w", err)
	}
	return d, nil
}

// PlaceholderSVG is served for videos whose thumbnail extraction failed.
var PlaceholderSVG = []byte(`<svg xmlns="http://www.w3.org/2000/svg" width="320" height="320" viewBox="0 0 320 320">
  <defs>
    <linearGradient id="g" x1="0" x2="1" y1="0" y2="1">
      <stop stop-color="#f2f2f2" offset="0"/>
      <stop stop-color="#e6e6e6" offset="1"/>
    </linearGradient>
  </defs>
  <rect x="0" y="0" width="320" height="320" fill="url(#g)"/>
  <rect x="22" y="22" width="276" height="276" rx="22" fill="rgba(0,0,0,0.06)"/>
  <polygon points="140,120 140,200 210,160" fill="rgba(0,0,0,0.55)"/>
</svg>`)
