package server

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/openreel/reelkit/pipeline"
)

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"templates": s.templates.List()})
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	tpl, err := s.templates.Get(chi.URLParam(r, "tid"))
	if err != nil {
		s.writeMediaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tpl)
}

// handleSaveTemplate creates or updates a user template. Posted bodies can
// never claim preset status.
func (s *Server) handleSaveTemplate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeDetail(w, http.StatusBadRequest, "cannot read body")
		return
	}
	tpl, err := pipeline.ParseTemplate(body)
	if err != nil {
		writeDetail(w, http.StatusBadRequest, err.Error())
		return
	}
	tpl.IsPreset = false

	saved, err := s.templates.Save(tpl)
	if err != nil {
		s.writeMediaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.templates.Delete(chi.URLParam(r, "tid")); err != nil {
		s.writeMediaError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}
