package server

import (
	"net/http"

	"restocore/models"
	"restocore/sessions"
)

// OpenSession seats a party at a table.
func (s *Server) OpenSession(w http.ResponseWriter, r *http.Request) {
	cl, err := claims(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in sessions.OpenInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.Sessions.Open(cl.TenantID, in, cl.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// ListSessions returns sessions; ?open=true restricts to open ones.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	cl, err := claims(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	openOnly := r.URL.Query().Get("open") == "true"
	out, err := s.Sessions.List(cl.TenantID, openOnly)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetSession returns one table session.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	cl, err := claims(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := urlUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.Sessions.Get(cl.TenantID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

type sessionStatusRequest struct {
	Version int                  `json:"version"`
	Status  models.SessionStatus `json:"status"`
}

// SetSessionStatus moves a session through its lifecycle.
func (s *Server) SetSessionStatus(w http.ResponseWriter, r *http.Request) {
	cl, err := claims(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := urlUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req sessionStatusRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.Sessions.SetStatus(cl.TenantID, id, req.Version, req.Status, cl.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// CloseSession ends a session.
func (s *Server) CloseSession(w http.ResponseWriter, r *http.Request) {
	cl, err := claims(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	id, err := urlUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req versionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	session, err := s.Sessions.Close(cl.TenantID, id, req.Version, cl.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}
