package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"restocore/auth"
	"restocore/draft"
	"restocore/models"
)

func urlUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid %s", models.ErrValidation, name)
	}
	return id, nil
}

func decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body", models.ErrValidation)
	}
	return nil
}

func claims(r *http.Request) (*auth.Claims, error) {
	return auth.FromContext(r.Context())
}

// CreateDraft opens a new draft cart for a table session.
func (s *Server) CreateDraft(w http.ResponseWriter, r *http.Request) {
	cl, err := claims(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in draft.CreateInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.Drafts.Create(cl.TenantID, cl.Subject, in)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

// ListDrafts returns drafts filtered by session and status.
func (s *Server) ListDrafts(w http.ResponseWriter, r *http.Request) {
	cl, err := claims(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var sessionID *uuid.UUID
	if raw := r.URL.Query().Get("session_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: invalid session_id", models.ErrValidation))
			return
		}
		sessionID = &id
	}
	status := models.DraftStatus(r.URL.Query().Get("status"))
	drafts, err := s.Drafts.List(cl.TenantID, sessionID, status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, drafts)
}

// GetDraft returns one draft with its line items.
func (s *Server) GetDraft(w http.ResponseWriter, r *http.Request) {
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
	d, err := s.Drafts.Get(cl.TenantID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type draftPatchRequest struct {
	Version int `json:"version"`
	draft.Patch
}

// UpdateDraft applies a partial update under optimistic concurrency.
func (s *Server) UpdateDraft(w http.ResponseWriter, r *http.Request) {
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
	var req draftPatchRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.Drafts.Update(cl.TenantID, id, req.Version, cl.Subject, req.Patch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type draftItemRequest struct {
	Version int `json:"version"`
	draft.ItemInput
}

// AddDraftItem appends a line item to an editable draft.
func (s *Server) AddDraftItem(w http.ResponseWriter, r *http.Request) {
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
	var req draftItemRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.Drafts.AddItem(cl.TenantID, id, req.Version, cl.Subject, req.ItemInput)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type draftItemPatchRequest struct {
	Version int `json:"version"`
	draft.ItemPatch
}

// UpdateDraftItem patches one line item of an editable draft.
func (s *Server) UpdateDraftItem(w http.ResponseWriter, r *http.Request) {
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
	itemID, err := urlUUID(r, "itemID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req draftItemPatchRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.Drafts.UpdateItem(cl.TenantID, id, itemID, req.Version, req.ItemPatch)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// RemoveDraftItem deletes one line item (and its children) from a draft.
func (s *Server) RemoveDraftItem(w http.ResponseWriter, r *http.Request) {
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
	itemID, err := urlUUID(r, "itemID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	version, err := queryVersion(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.Drafts.RemoveItem(cl.TenantID, id, itemID, version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type versionRequest struct {
	Version int `json:"version"`
}

// SubmitDraft moves a draft from editing to the pending review queue.
func (s *Server) SubmitDraft(w http.ResponseWriter, r *http.Request) {
	s.draftTransition(w, r, func(cl *auth.Claims, id uuid.UUID, version int) (interface{}, error) {
		return s.Drafts.Submit(cl.TenantID, id, version, cl.Subject)
	})
}

// AcquireDraft takes the review lease on a pending draft.
func (s *Server) AcquireDraft(w http.ResponseWriter, r *http.Request) {
	s.draftTransition(w, r, func(cl *auth.Claims, id uuid.UUID, version int) (interface{}, error) {
		return s.Drafts.Acquire(cl.TenantID, id, version, cl.Subject)
	})
}

// ReleaseDraft returns the lease without deciding the draft.
func (s *Server) ReleaseDraft(w http.ResponseWriter, r *http.Request) {
	s.draftTransition(w, r, func(cl *auth.Claims, id uuid.UUID, version int) (interface{}, error) {
		return s.Drafts.Release(cl.TenantID, id, version, cl.Subject)
	})
}

// ConfirmDraft converts a reviewed draft into an order.
func (s *Server) ConfirmDraft(w http.ResponseWriter, r *http.Request) {
	s.draftTransition(w, r, func(cl *auth.Claims, id uuid.UUID, version int) (interface{}, error) {
		return s.Drafts.Confirm(cl.TenantID, id, version, cl.Subject)
	})
}

type rejectRequest struct {
	Version int    `json:"version"`
	Reason  string `json:"reason"`
}

// RejectDraft declines a pending draft with a reason.
func (s *Server) RejectDraft(w http.ResponseWriter, r *http.Request) {
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
	var req rejectRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.Drafts.Reject(cl.TenantID, id, req.Version, cl.Subject, req.Reason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type reassignDraftRequest struct {
	Version        int       `json:"version"`
	TableSessionID uuid.UUID `json:"table_session_id"`
}

// ReassignDraft moves a pending draft to another table session.
func (s *Server) ReassignDraft(w http.ResponseWriter, r *http.Request) {
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
	var req reassignDraftRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	d, err := s.Drafts.Reassign(cl.TenantID, id, req.Version, cl.Subject, req.TableSessionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) draftTransition(w http.ResponseWriter, r *http.Request, op func(*auth.Claims, uuid.UUID, int) (interface{}, error)) {
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
	out, err := op(cl, id, req.Version)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func queryVersion(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("version")
	if raw == "" {
		return 0, fmt.Errorf("%w: version query parameter is required", models.ErrValidation)
	}
	var v int
	if _, err := fmt.Sscanf(raw, "%d", &v); err != nil {
		return 0, fmt.Errorf("%w: invalid version", models.ErrValidation)
	}
	return v, nil
}
