package server

import (
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"restocore/models"
	"restocore/payments"
)

// CreateIntent opens a payment intent for an order.
func (s *Server) CreateIntent(w http.ResponseWriter, r *http.Request) {
	cl, err := claims(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in payments.IntentInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	intent, err := s.Payments.CreateIntent(cl.TenantID, in, cl.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, intent)
}

// CreateQRIntent opens a QR intent, minting the code with the provider.
func (s *Server) CreateQRIntent(w http.ResponseWriter, r *http.Request) {
	cl, err := claims(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var in payments.IntentInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	intent, err := s.Payments.CreateQRIntent(r.Context(), cl.TenantID, in, cl.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, intent)
}

// GetIntent returns one payment intent.
func (s *Server) GetIntent(w http.ResponseWriter, r *http.Request) {
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
	intent, err := s.Payments.GetIntent(cl.TenantID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

// QRStatus reports a QR intent's state for polling clients. An expired
// pending code returns 410.
func (s *Server) QRStatus(w http.ResponseWriter, r *http.Request) {
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
	intent, err := s.Payments.QRStatus(cl.TenantID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, intent)
}

// ProcessIntent executes the intent's method.
func (s *Server) ProcessIntent(w http.ResponseWriter, r *http.Request) {
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
	payment, err := s.Payments.Process(cl.TenantID, id, req.Version, cl.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, payment)
}

type resolveRequest struct {
	Version       int    `json:"version"`
	Success       bool   `json:"success"`
	ProviderRef   string `json:"provider_ref,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

// ResolvePayment finishes an asynchronous card or terminal capture.
func (s *Server) ResolvePayment(w http.ResponseWriter, r *http.Request) {
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
	var req resolveRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	payment, err := s.Payments.ResolvePayment(cl.TenantID, id, req.Version, req.Success, req.ProviderRef, req.FailureReason)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}

type splitRequest struct {
	Parts []payments.SplitPart `json:"parts"`
}

// SplitPayment settles an order with multiple tenders.
func (s *Server) SplitPayment(w http.ResponseWriter, r *http.Request) {
	cl, err := claims(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	orderID, err := urlUUID(r, "id")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req splitRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := s.Payments.Split(cl.TenantID, orderID, req.Parts, cl.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// RefundPayment reverses a completed payment.
func (s *Server) RefundPayment(w http.ResponseWriter, r *http.Request) {
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
	var in payments.RefundInput
	if err := decode(r, &in); err != nil {
		s.writeError(w, r, err)
		return
	}
	refund, err := s.Payments.Refund(cl.TenantID, id, in, cl.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, refund)
}

// ListPayments returns payments filtered by order, status, and method.
func (s *Server) ListPayments(w http.ResponseWriter, r *http.Request) {
	cl, err := claims(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var f payments.PaymentFilter
	if raw := r.URL.Query().Get("order_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: invalid order_id", models.ErrValidation))
			return
		}
		f.OrderID = &id
	}
	f.Status = models.PaymentStatus(r.URL.Query().Get("status"))
	f.Method = models.PaymentMethod(r.URL.Query().Get("method"))
	out, err := s.Payments.ListPayments(cl.TenantID, f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetPayment returns one payment.
func (s *Server) GetPayment(w http.ResponseWriter, r *http.Request) {
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
	payment, err := s.Payments.GetPayment(cl.TenantID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payment)
}
