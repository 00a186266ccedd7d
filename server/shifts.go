package server

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"restocore/models"
	"restocore/shifts"
)

type openShiftRequest struct {
	ServerID       *uuid.UUID      `json:"server_id,omitempty"`
	OpeningBalance decimal.Decimal `json:"opening_balance"`
}

// OpenShift starts a cash accountability window. Without an explicit
// server_id the shift belongs to the caller.
func (s *Server) OpenShift(w http.ResponseWriter, r *http.Request) {
	cl, err := claims(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req openShiftRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	serverID := cl.Subject
	if req.ServerID != nil {
		serverID = *req.ServerID
	}
	shift, err := s.Shifts.Open(cl.TenantID, serverID, req.OpeningBalance, cl.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, shift)
}

// ListShifts returns shifts filtered by server and status.
func (s *Server) ListShifts(w http.ResponseWriter, r *http.Request) {
	cl, err := claims(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var serverID *uuid.UUID
	if raw := r.URL.Query().Get("server_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		serverID = &id
	}
	status := models.ShiftStatus(r.URL.Query().Get("status"))
	out, err := s.Shifts.List(cl.TenantID, serverID, status)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetShift returns one shift.
func (s *Server) GetShift(w http.ResponseWriter, r *http.Request) {
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
	shift, err := s.Shifts.Get(cl.TenantID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

// ShiftEvents returns the drawer ledger in sequence order.
func (s *Server) ShiftEvents(w http.ResponseWriter, r *http.Request) {
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
	out, err := s.Shifts.Events(cl.TenantID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type closeShiftRequest struct {
	Version int `json:"version"`
	shifts.CloseInput
}

// CloseShift ends the shift and computes the expected-versus-counted
// variance.
func (s *Server) CloseShift(w http.ResponseWriter, r *http.Request) {
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
	var req closeShiftRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	shift, err := s.Shifts.Close(cl.TenantID, id, req.Version, req.CloseInput, cl.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

// RecordShiftCounts updates closing counts on a closing or closed shift.
func (s *Server) RecordShiftCounts(w http.ResponseWriter, r *http.Request) {
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
	var req closeShiftRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	shift, err := s.Shifts.RecordCounts(cl.TenantID, id, req.Version, req.CloseInput)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

// ReconcileShift finalizes a closed, counted shift.
func (s *Server) ReconcileShift(w http.ResponseWriter, r *http.Request) {
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
	shift, err := s.Shifts.Reconcile(cl.TenantID, id, req.Version, cl.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

type drawerRequest struct {
	Version int `json:"version"`
	shifts.DrawerInput
}

// CashDrop removes cash from the drawer into the safe.
func (s *Server) CashDrop(w http.ResponseWriter, r *http.Request) {
	s.drawerOp(w, r, func(tenantID, id uuid.UUID, version int, in shifts.DrawerInput, actor uuid.UUID) (interface{}, error) {
		return s.Shifts.CashDrop(tenantID, id, version, in, actor)
	})
}

// TipPayout pays accrued tips out of the drawer.
func (s *Server) TipPayout(w http.ResponseWriter, r *http.Request) {
	s.drawerOp(w, r, func(tenantID, id uuid.UUID, version int, in shifts.DrawerInput, actor uuid.UUID) (interface{}, error) {
		return s.Shifts.TipPayout(tenantID, id, version, in, actor)
	})
}

// DrawerAdjustment records a signed manual correction.
func (s *Server) DrawerAdjustment(w http.ResponseWriter, r *http.Request) {
	s.drawerOp(w, r, func(tenantID, id uuid.UUID, version int, in shifts.DrawerInput, actor uuid.UUID) (interface{}, error) {
		return s.Shifts.Adjustment(tenantID, id, version, in, actor)
	})
}

type notesRequest struct {
	Version int    `json:"version"`
	Notes   string `json:"notes"`
}

// UpdateShiftNotes replaces the shift notes.
func (s *Server) UpdateShiftNotes(w http.ResponseWriter, r *http.Request) {
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
	var req notesRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	shift, err := s.Shifts.UpdateNotes(cl.TenantID, id, req.Version, req.Notes)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, shift)
}

func (s *Server) drawerOp(w http.ResponseWriter, r *http.Request, op func(tenantID, id uuid.UUID, version int, in shifts.DrawerInput, actor uuid.UUID) (interface{}, error)) {
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
	var req drawerRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := op(cl.TenantID, id, req.Version, req.DrawerInput, cl.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}
