package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openreel/reelkit/logger"
	"github.com/openreel/reelkit/media"
	"github.com/openreel/reelkit/pipeline"
	"github.com/openreel/reelkit/session"
)

// detailBody mirrors the uniform error shape: {"detail": "..."}.
type detailBody struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("response encode failed", "error", err)
	}
}

func writeDetail(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, detailBody{Detail: msg})
}

// writeInternal hides error details unless dev mode is on.
func (s *Server) writeInternal(w http.ResponseWriter, err error) {
	logger.Error("internal error", "error", err)
	msg := "internal server error"
	if s.cfg.Server.DevMode {
		msg = err.Error()
	}
	writeDetail(w, http.StatusInternalServerError, msg)
}

// writeMediaError maps media-layer failures onto the REST error kinds.
func (s *Server) writeMediaError(w http.ResponseWriter, err error) {
	var capErr *session.ErrMediaCap
	switch {
	case errors.As(err, &capErr):
		writeDetail(w, http.StatusBadRequest, capErr.Error())
	case errors.Is(err, media.ErrUploadNotFound):
		writeDetail(w, http.StatusNotFound, "upload_id not found or expired")
	case errors.Is(err, media.ErrUploadClosed),
		errors.Is(err, media.ErrBadChunkIndex),
		errors.Is(err, media.ErrChunkSizeMismatch),
		errors.Is(err, media.ErrChunksMissing),
		errors.Is(err, media.ErrSourceMissing):
		writeDetail(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, media.ErrExists):
		writeDetail(w, http.StatusConflict, err.Error())
	case errors.Is(err, session.ErrNotPending):
		writeDetail(w, http.StatusBadRequest, "media is not pending (refuse physical delete)")
	case errors.Is(err, pipeline.ErrTemplateNotFound):
		writeDetail(w, http.StatusNotFound, "template not found")
	case errors.Is(err, pipeline.ErrPresetImmutable):
		writeDetail(w, http.StatusForbidden, err.Error())
	default:
		s.writeInternal(w, err)
	}
}
