package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"chatwarmer/internal/directory"
	"chatwarmer/internal/transport"
)

// accountView joins the registry record with the live connection state.
type accountView struct {
	directory.Account
	State transport.State `json:"state"`
}

func (s *Server) accountView(a directory.Account) accountView {
	st := transport.StateDisconnected
	if s.deps.Transport != nil {
		st = s.deps.Transport.State(a.ID)
	}
	return accountView{Account: a, State: st}
}

func (s *Server) handleListAccounts(w http.ResponseWriter, _ *http.Request) {
	list := s.deps.Directory.List()
	views := make([]accountView, 0, len(list))
	for _, a := range list {
		views = append(views, s.accountView(a))
	}
	s.ok(w, http.StatusOK, views)
}

func (s *Server) handleCreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string `json:"name"`
		Address string `json:"address"`
		Notes   string `json:"notes"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	a, err := s.deps.Directory.Create(r.Context(), req.Name, req.Address, req.Notes)
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.ok(w, http.StatusCreated, s.accountView(a))
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Directory.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.ok(w, http.StatusOK, s.accountView(a))
}

func (s *Server) handleUpdateAccount(w http.ResponseWriter, r *http.Request) {
	var upd directory.AccountUpdate
	if !s.decode(w, r, &upd) {
		return
	}
	a, err := s.deps.Directory.Update(r.Context(), chi.URLParam(r, "id"), upd)
	if err != nil {
		s.failErr(w, err)
		return
	}
	s.ok(w, http.StatusOK, s.accountView(a))
}

func (s *Server) handleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if s.deps.Transport != nil {
		_ = s.deps.Transport.Disconnect(id)
	}
	if err := s.deps.Directory.Delete(r.Context(), id); err != nil {
		s.failErr(w, err)
		return
	}
	s.ok(w, http.StatusOK, nil)
}

func (s *Server) handleConnectAccount(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Directory.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.failErr(w, err)
		return
	}
	if s.deps.Transport == nil {
		s.fail(w, http.StatusServiceUnavailable, "transport unavailable")
		return
	}
	if err := s.deps.Transport.Connect(r.Context(), a.ID, a.Address); err != nil {
		s.failErr(w, err)
		return
	}
	s.ok(w, http.StatusOK, s.accountView(a))
}

func (s *Server) handleDisconnectAccount(w http.ResponseWriter, r *http.Request) {
	a, err := s.deps.Directory.Get(chi.URLParam(r, "id"))
	if err != nil {
		s.failErr(w, err)
		return
	}
	if s.deps.Transport == nil {
		s.fail(w, http.StatusServiceUnavailable, "transport unavailable")
		return
	}
	if err := s.deps.Transport.Disconnect(a.ID); err != nil {
		s.failErr(w, err)
		return
	}
	s.ok(w, http.StatusOK, s.accountView(a))
}

func (s *Server) handleExportAccounts(w http.ResponseWriter, _ *http.Request) {
	data, err := s.deps.Directory.Export()
	if err != nil {
		s.failErr(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="accounts.json"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (s *Server) handleImportAccounts(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		s.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	n, err := s.deps.Directory.Import(r.Context(), data)
	if err != nil {
		s.fail(w, http.StatusBadRequest, err.Error())
		return
	}
	s.ok(w, http.StatusOK, map[string]int{"imported": n})
}
