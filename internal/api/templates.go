package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"chatwarmer/internal/catalog"
)

func (s *Server) handleListTemplates(w http.ResponseWriter, _ *http.Request) {
	s.ok(w, http.StatusOK, s.deps.Catalog.List())
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name       string   `json:"name"`
		Category   string   `json:"category"`
		Variations []string `json:"variations"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	t, err := s.deps.Catalog.Create(r.Context(), req.Name, req.Category, req.Variations)
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.ok(w, http.StatusCreated, t)
}

func (s *Server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Catalog.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.ok(w, http.StatusOK, t)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	var upd catalog.TemplateUpdate
	if !s.decode(w, r, &upd) {
		return
	}
	t, err := s.deps.Catalog.Update(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.ok(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	if err := s.deps.Catalog.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.failErr(w, err)
		return
	}
	s.ok(w, http.StatusOK, nil)
}

func (s *Server) handleTemplateStats(w http.ResponseWriter, _ *http.Request) {
	s.ok(w, http.StatusOK, s.deps.Catalog.Stats())
}
