package server

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"restocore/models"
	"restocore/orders"
)

// CreateOrder opens a manual order outside the draft flow.
func (s *Server) CreateOrder(w http.ResponseWriter, r *http.Request) {
	cl, err := claims(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in orders.CreateInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	order, err := s.Orders.Create(cl.TenantID, in, cl.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// ListOrders returns orders filtered by session and status.
func (s *Server) ListOrders(w http.ResponseWriter, r *http.Request) {
	cl, err := claims(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var f orders.Filter
	if raw := r.URL.Query().Get("session_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: invalid session_id", models.ErrValidation))
			return
		}
		f.TableSessionID = &id
	}
	f.Status = models.OrderStatus(r.URL.Query().Get("status"))
	out, err := s.Orders.List(cl.TenantID, f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetOrder returns one order with its line items.
func (s *Server) GetOrder(w http.ResponseWriter, r *http.Request) {
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
	order, err := s.Orders.Get(cl.TenantID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// CompleteOrder closes a settled order.
func (s *Server) CompleteOrder(w http.ResponseWriter, r *http.Request) {
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
	order, err := s.Orders.Complete(cl.TenantID, id, req.Version, cl.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

type cancelOrderRequest struct {
	Version int    `json:"version"`
	Reason  string `json:"reason"`
}

// CancelOrder aborts an unsettled order.
func (s *Server) CancelOrder(w http.ResponseWriter, r *http.Request) {
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
	var req cancelOrderRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	order, err := s.Orders.Cancel(cl.TenantID, id, req.Version, req.Reason, cl.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// AdjustOrder applies a discount, comp, or surcharge to an order.
func (s *Server) AdjustOrder(w http.ResponseWriter, r *http.Request) {
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
	var in orders.AdjustInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	order, err := s.Orders.Adjust(cl.TenantID, id, in, cl.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

// ListAdjustments returns the adjustment history of an order.
func (s *Server) ListAdjustments(w http.ResponseWriter, r *http.Request) {
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
	out, err := s.Orders.Adjustments(cl.TenantID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
