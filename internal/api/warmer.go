package api

import (
	"io"
	"net/http"
	"strconv"
)

func (s *Server) handleWarmerStart(w http.ResponseWriter, _ *http.Request) {
	info, err := s.deps.Warmer.StartWarming()
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.ok(w, http.StatusOK, info)
}

func (s *Server) handleWarmerStop(w http.ResponseWriter, _ *http.Request) {
	info, err := s.deps.Warmer.StopWarming()
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.ok(w, http.StatusOK, info)
}

func (s *Server) handleWarmerStatus(w http.ResponseWriter, _ *http.Request) {
	s.ok(w, http.StatusOK, s.deps.Warmer.Status())
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	s.ok(w, http.StatusOK, s.deps.Config.Get())
}

// handlePutConfig merges a partial document over the current config. The
// manager validates and persists; subscribers pick up the change.
func (s *Server) handlePutConfig(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, err := s.deps.Config.Update(r.Context(), body)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	s.ok(w, http.StatusOK, cfg)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		s.ok(w, http.StatusOK, []struct{}{})
		return
	}
	limit := 100
	if q := r.URL.Query().Get("limit"); q != "" {
		n, err := strconv.Atoi(q)
		if err != nil || n < 1 {
			s.fail(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, 1000)
	}
	entries, err := s.deps.History.ListHistory(r.Context(), limit)
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.ok(w, http.StatusOK, entries)
}

func (s *Server) handleQuota(w http.ResponseWriter, _ *http.Request) {
	if s.deps.Quota == nil {
		s.fail(w, http.StatusNotFound, "quota integration disabled")
		return
	}
	s.ok(w, http.StatusOK, s.deps.Quota.Last())
}
