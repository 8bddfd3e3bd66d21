package server

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/openreel/reelkit/media"
	"github.com/openreel/reelkit/ratelimit"
	"github.com/openreel/reelkit/session"
)

// maxUploadMemory caps the in-memory part of multipart parsing; file
// parts beyond it spill to disk.
const maxUploadMemory = 32 << 20

// handleUploadMedia accepts a multipart batch of files[] and commits them
// straight to the pending tray.
func (s *Server) handleUploadMedia(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		writeDetail(w, http.StatusBadRequest, "no files")
		return
	}
	if max := s.cfg.Limits.MaxUploadFilesPerRequest; max > 0 && len(files) > max {
		writeDetail(w, http.StatusBadRequest, "too many files in one request (max "+strconv.Itoa(max)+")")
		return
	}

	// Admission is charged per file, not per request.
	ip := s.admission.ClientIP(r)
	if res := s.admission.AllowUploadCount(ip, len(files)); !res.Allowed {
		ratelimit.WriteTooManyRequests(w, res.RetryAfter)
		return
	}

	if !s.caps.TryAcquireUpload() {
		writeDetail(w, http.StatusTooManyRequests, "upload concurrency too high, try again later")
		return
	}
	defer s.caps.ReleaseUpload()

	displayNames := make([]string, len(files))
	for i, fh := range files {
		displayNames[i] = media.SanitizeFilename(fh.Filename)
	}

	storeNames, err := sess.ReserveUploads(displayNames)
	if err != nil {
		s.writeMediaError(w, err)
		return
	}
	defer sess.ReleaseReservations(len(files))

	metas := make([]media.Meta, 0, len(files))
	for i, fh := range files {
		f, err := fh.Open()
		if err != nil {
			s.writeInternal(w, err)
			return
		}
		m, err := sess.Media.SaveUpload(r.Context(), storeNames[i], displayNames[i], f)
		f.Close()
		if err != nil {
			s.writeMediaError(w, err)
			return
		}
		metas = append(metas, m)
	}
	sess.CommitMedia(metas...)

	public := make([]session.MediaRef, len(metas))
	for i, m := range metas {
		public[i] = sess.PublicMedia(m)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"media":         public,
		"pending_media": sess.PendingMedia(),
	})
}

// handleUploadInit opens a resumable upload slot.
func (s *Server) handleUploadInit(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}

	var body struct {
		Filename string `json:"filename"`
		Name     string `json:"name"`
		Size     int64  `json:"size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid json body")
		return
	}
	filename := body.Filename
	if filename == "" {
		filename = body.Name
	}
	filename = media.SanitizeFilename(filename)
	if body.Size <= 0 {
		writeDetail(w, http.StatusBadRequest, "invalid size")
		return
	}

	// init reserves one media slot.
	ip := s.admission.ClientIP(r)
	if res := s.admission.AllowUploadCount(ip, 1); !res.Allowed {
		ratelimit.WriteTooManyRequests(w, res.RetryAfter)
		return
	}

	storeName, err := sess.ReserveResumable(filename)
	if err != nil {
		s.writeMediaError(w, err)
		return
	}
	defer sess.ReleaseReservations(1)

	u, err := sess.Uploads.Init(filename, storeName, body.Size)
	if err != nil {
		s.writeInternal(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"upload_id":    u.ID,
		"chunk_size":   u.ChunkSize,
		"total_chunks": u.TotalChunks,
		"filename":     u.Filename,
	})
}

// handleUploadChunk writes one chunk at its index.
func (s *Server) handleUploadChunk(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}

	if !s.caps.TryAcquireUpload() {
		writeDetail(w, http.StatusTooManyRequests, "upload concurrency too high, try again later")
		return
	}
	defer s.caps.ReleaseUpload()

	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	index, err := strconv.Atoi(r.FormValue("index"))
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "invalid chunk index")
		return
	}
	chunk, _, err := r.FormFile("chunk")
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "missing chunk file")
		return
	}
	defer chunk.Close()

	sess.Uploads.ReapExpired()
	received, total, err := sess.Uploads.WriteChunk(chi.URLParam(r, "uid"), index, chunk)
	if err != nil {
		s.writeMediaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":              true,
		"received_chunks": received,
		"total_chunks":    total,
	})
}

// handleUploadComplete assembles a finished resumable upload into the
// media library.
func (s *Server) handleUploadComplete(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}

	if !s.caps.TryAcquireUpload() {
		writeDetail(w, http.StatusTooManyRequests, "upload concurrency too high, try again later")
		return
	}
	defer s.caps.ReleaseUpload()

	sess.Uploads.ReapExpired()
	u, err := sess.Uploads.Complete(chi.URLParam(r, "uid"))
	if err != nil {
		s.writeMediaError(w, err)
		return
	}

	m, err := sess.Media.SaveFromPath(r.Context(), u.TmpPath, u.StoreFilename, u.Filename)
	if err != nil {
		s.writeMediaError(w, err)
		return
	}
	sess.CommitMedia(m)

	writeJSON(w, http.StatusOK, map[string]any{
		"media":         sess.PublicMedia(m),
		"pending_media": sess.PendingMedia(),
	})
}

// handleUploadCancel aborts a resumable upload. Unknown ids still ack.
func (s *Server) handleUploadCancel(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	sess.Uploads.Cancel(chi.URLParam(r, "uid"))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePendingMedia(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending_media": sess.PendingMedia()})
}

func (s *Server) handleDeletePendingMedia(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	if err := sess.DeletePendingMedia(chi.URLParam(r, "mid")); err != nil {
		s.writeMediaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":            true,
		"pending_media": sess.PendingMedia(),
	})
}

// handleMediaThumb serves the thumbnail: the generated JPEG when present,
// an SVG placeholder for videos without one, the original for images.
func (s *Server) handleMediaThumb(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	m, ok := sess.MediaByID(chi.URLParam(r, "mid"))
	if !ok {
		writeDetail(w, http.StatusNotFound, "media not found")
		return
	}

	if m.ThumbPath != "" {
		if _, err := os.Stat(m.ThumbPath); err == nil {
			w.Header().Set("Content-Type", "image/jpeg")
			http.ServeFile(w, r, m.ThumbPath)
			return
		}
	}
	if m.Kind == media.KindVideo {
		w.Header().Set("Content-Type", "image/svg+xml")
		w.Write([]byte(media.PlaceholderSVG))
		return
	}
	if m.Path != "" {
		if _, err := os.Stat(m.Path); err == nil {
			w.Header().Set("Content-Type", media.GuessMediaType(m.Path))
			http.ServeFile(w, r, m.Path)
			return
		}
	}
	writeDetail(w, http.StatusNotFound, "thumb not available")
}

// handleMediaFile serves the original file; only paths inside the
// session media dir are allowed.
func (s *Server) handleMediaFile(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}
	m, ok := sess.MediaByID(chi.URLParam(r, "mid"))
	if !ok {
		writeDetail(w, http.StatusNotFound, "media not found")
		return
	}
	if m.Path == "" {
		writeDetail(w, http.StatusNotFound, "file not found")
		return
	}
	if _, err := os.Stat(m.Path); err != nil {
		writeDetail(w, http.StatusNotFound, "file not found")
		return
	}
	if !media.IsUnderDir(m.Path, sess.Media.Dir()) {
		writeDetail(w, http.StatusForbidden, "forbidden")
		return
	}
	w.Header().Set("Content-Type", media.GuessMediaType(m.Path))
	w.Header().Set("Content-Disposition", `inline; filename="`+m.Name+`"`)
	http.ServeFile(w, r, m.Path)
}

// handlePreview turns a server-local result path into an accessible URL.
// Only files under the session media dir, the outputs dir, the BGM dir
// and the server cache are reachable; anything else is forbidden.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessionFromRequest(w, r)
	if !ok {
		return
	}

	p := strings.TrimSpace(r.URL.Query().Get("path"))
	if p == "" {
		writeDetail(w, http.StatusBadRequest, "empty path")
		return
	}
	if strings.ContainsRune(p, 0) {
		writeDetail(w, http.StatusBadRequest, "bad path")
		return
	}
	p = strings.TrimPrefix(p, "file://")

	if !filepath.IsAbs(p) {
		p = filepath.Join(s.cfg.Paths.DataDir, p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "bad path")
		return
	}

	allowed := []string{
		sess.Media.Dir(),
		s.cfg.Paths.OutputsDir,
		s.cfg.Paths.BGMDir,
		s.cfg.Paths.CacheDir,
	}
	permitted := false
	for _, root := range allowed {
		if media.IsUnderDir(abs, root) {
			permitted = true
			break
		}
	}
	if !permitted {
		writeDetail(w, http.StatusForbidden, "forbidden")
		return
	}

	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		writeDetail(w, http.StatusNotFound, "file not found")
		return
	}

	// Cache artifacts are content-addressed, so they can be cached hard.
	if media.IsUnderDir(abs, s.cfg.Paths.CacheDir) {
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	}
	w.Header().Set("Content-Type", media.GuessMediaType(abs))
	http.ServeFile(w, r, abs)
}
