// Package server wires the HTTP API: routing, authentication, idempotency,
// error mapping, and the live-update websocket endpoints.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"restocore/auth"
	"restocore/draft"
	"restocore/hub"
	"restocore/models"
	"restocore/orders"
	"restocore/payments"
	"restocore/sessions"
	"restocore/shifts"
	"restocore/store"
	"restocore/tickets"
)

// Config captures the dependencies required to construct the server.
type Config struct {
	DB       *gorm.DB
	Verifier *auth.Verifier
	Drafts   *draft.Coordinator
	Tickets  *tickets.Dispatcher
	Orders   *orders.Service
	Payments *payments.Engine
	Webhooks *payments.Processor
	Shifts   *shifts.Ledger
	Sessions *sessions.Service
	Hub      *hub.Hub
	Log      *slog.Logger

	WebhookRPS   float64
	WebhookBurst int
}

// Server encapsulates dependencies for the HTTP API.
type Server struct {
	DB       *gorm.DB
	Verifier *auth.Verifier
	Drafts   *draft.Coordinator
	Tickets  *tickets.Dispatcher
	Orders   *orders.Service
	Payments *payments.Engine
	Webhooks *payments.Processor
	Shifts   *shifts.Ledger
	Sessions *sessions.Service
	Hub      *hub.Hub
	Log      *slog.Logger
	Now      func() time.Time

	webhookLimiter *rate.Limiter
	router         http.Handler
}

// New constructs a configured HTTP router with authentication and
// idempotency support.
func New(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.WebhookRPS <= 0 {
		cfg.WebhookRPS = 10
	}
	if cfg.WebhookBurst <= 0 {
		cfg.WebhookBurst = 20
	}
	srv := &Server{
		DB:             cfg.DB,
		Verifier:       cfg.Verifier,
		Drafts:         cfg.Drafts,
		Tickets:        cfg.Tickets,
		Orders:         cfg.Orders,
		Payments:       cfg.Payments,
		Webhooks:       cfg.Webhooks,
		Shifts:         cfg.Shifts,
		Sessions:       cfg.Sessions,
		Hub:            cfg.Hub,
		Log:            cfg.Log,
		Now:            func() time.Time { return time.Now().UTC() },
		webhookLimiter: rate.NewLimiter(rate.Limit(cfg.WebhookRPS), cfg.WebhookBurst),
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(countRequests)

	r.Get("/healthz", s.Healthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Provider webhooks are unauthenticated but rate limited.
	r.Group(func(pub chi.Router) {
		pub.Use(func(next http.Handler) http.Handler { return withRateLimit(s.webhookLimiter, next) })
		pub.Post("/webhooks/mercadopago", s.HandleWebhook)
	})

	r.Route("/api/v1", func(api chi.Router) {
		api.Use(func(next http.Handler) http.Handler { return withIdempotency(s.DB, next) })
		api.Use(s.Verifier.Authenticate)

		api.Route("/sessions", func(rt chi.Router) {
			rt.With(auth.RequirePermission(auth.PermSessionManage)).Post("/", s.OpenSession)
			rt.Get("/", s.ListSessions)
			rt.Get("/{id}", s.GetSession)
			rt.With(auth.RequirePermission(auth.PermSessionManage)).Patch("/{id}/status", s.SetSessionStatus)
			rt.With(auth.RequirePermission(auth.PermSessionManage)).Post("/{id}/close", s.CloseSession)
		})

		api.Route("/drafts", func(rt chi.Router) {
			rt.With(auth.RequirePermission(auth.PermDraftCreate)).Post("/", s.CreateDraft)
			rt.With(auth.RequirePermission(auth.PermDraftView)).Get("/", s.ListDrafts)
			rt.With(auth.RequirePermission(auth.PermDraftView)).Get("/{id}", s.GetDraft)
			rt.With(auth.RequirePermission(auth.PermDraftEdit)).Patch("/{id}", s.UpdateDraft)
			rt.With(auth.RequirePermission(auth.PermDraftEdit)).Post("/{id}/items", s.AddDraftItem)
			rt.With(auth.RequirePermission(auth.PermDraftEdit)).Patch("/{id}/items/{itemID}", s.UpdateDraftItem)
			rt.With(auth.RequirePermission(auth.PermDraftEdit)).Delete("/{id}/items/{itemID}", s.RemoveDraftItem)
			rt.With(auth.RequirePermission(auth.PermDraftEdit)).Post("/{id}/submit", s.SubmitDraft)
			rt.With(auth.RequirePermission(auth.PermDraftAcquire)).Post("/{id}/acquire", s.AcquireDraft)
			rt.With(auth.RequirePermission(auth.PermDraftAcquire)).Patch("/{id}/release", s.ReleaseDraft)
			rt.With(auth.RequirePermission(auth.PermDraftConfirm)).Post("/{id}/confirm", s.ConfirmDraft)
			rt.With(auth.RequirePermission(auth.PermDraftReject)).Post("/{id}/reject", s.RejectDraft)
			rt.With(auth.RequirePermission(auth.PermDraftAcquire)).Post("/{id}/reassign", s.ReassignDraft)
			rt.With(auth.RequirePermission(auth.PermTicketGenerate)).Post("/{id}/tickets", s.GenerateTickets)
		})

		api.Route("/tickets", func(rt chi.Router) {
			rt.With(auth.RequirePermission(auth.PermTicketView)).Get("/", s.TicketQueue)
			rt.With(auth.RequirePermission(auth.PermTicketView)).Get("/{id}", s.GetTicket)
			rt.With(auth.RequirePermission(auth.PermTicketBump)).Post("/{id}/bump", s.BumpTicket)
			rt.With(auth.RequirePermission(auth.PermTicketBump)).Post("/{id}/status", s.SetTicketStatus)
			rt.With(auth.RequirePermission(auth.PermTicketHold)).Post("/{id}/hold", s.HoldTicket)
			rt.With(auth.RequirePermission(auth.PermTicketFire)).Post("/{id}/fire", s.FireTicket)
			rt.With(auth.RequirePermission(auth.PermTicketVoid)).Post("/{id}/void", s.VoidTicket)
			rt.With(auth.RequirePermission(auth.PermTicketReassign)).Post("/{id}/reassign", s.ReassignTicket)
			rt.With(auth.RequirePermission(auth.PermTicketReprint)).Post("/{id}/reprint", s.ReprintTicket)
			rt.With(auth.RequirePermission(auth.PermTicketBump)).Post("/{id}/rush", s.SetTicketRush)
			rt.With(auth.RequirePermission(auth.PermTicketVoid)).Post("/items/{itemID}/void", s.VoidTicketItem)
		})

		api.Route("/orders", func(rt chi.Router) {
			rt.With(auth.RequirePermission(auth.PermOrderCreate)).Post("/", s.CreateOrder)
			rt.With(auth.RequirePermission(auth.PermOrderView)).Get("/", s.ListOrders)
			rt.With(auth.RequirePermission(auth.PermOrderView)).Get("/{id}", s.GetOrder)
			rt.With(auth.RequirePermission(auth.PermOrderComplete)).Post("/{id}/complete", s.CompleteOrder)
			rt.With(auth.RequirePermission(auth.PermOrderCancel)).Post("/{id}/cancel", s.CancelOrder)
			rt.With(auth.RequirePermission(auth.PermOrderDiscount)).Post("/{id}/adjustments", s.AdjustOrder)
			rt.With(auth.RequirePermission(auth.PermOrderView)).Get("/{id}/adjustments", s.ListAdjustments)
			rt.With(auth.RequirePermission(auth.PermPaymentProcess)).Post("/{id}/split", s.SplitPayment)
		})

		api.Route("/payments", func(rt chi.Router) {
			rt.With(auth.RequirePermission(auth.PermPaymentProcess)).Post("/intents", s.CreateIntent)
			rt.With(auth.RequirePermission(auth.PermPaymentProcess)).Post("/intents/qr", s.CreateQRIntent)
			rt.With(auth.RequirePermission(auth.PermPaymentView)).Get("/intents/{id}", s.GetIntent)
			rt.With(auth.RequirePermission(auth.PermPaymentView)).Get("/intents/{id}/status", s.QRStatus)
			rt.With(auth.RequirePermission(auth.PermPaymentProcess)).Post("/intents/{id}/process", s.ProcessIntent)
			rt.With(auth.RequirePermission(auth.PermPaymentProcess)).Post("/{id}/resolve", s.ResolvePayment)
			rt.With(auth.RequirePermission(auth.PermPaymentRefund)).Post("/{id}/refund", s.RefundPayment)
			rt.With(auth.RequirePermission(auth.PermPaymentView)).Get("/", s.ListPayments)
			rt.With(auth.RequirePermission(auth.PermPaymentView)).Get("/{id}", s.GetPayment)
		})

		api.Route("/shifts", func(rt chi.Router) {
			rt.With(auth.RequirePermission(auth.PermShiftOpen)).Post("/", s.OpenShift)
			rt.With(auth.RequirePermission(auth.PermShiftView)).Get("/", s.ListShifts)
			rt.With(auth.RequirePermission(auth.PermShiftView)).Get("/{id}", s.GetShift)
			rt.With(auth.RequirePermission(auth.PermShiftView)).Get("/{id}/events", s.ShiftEvents)
			rt.With(auth.RequirePermission(auth.PermShiftClose)).Post("/{id}/close", s.CloseShift)
			rt.With(auth.RequirePermission(auth.PermShiftClose)).Post("/{id}/counts", s.RecordShiftCounts)
			rt.With(auth.RequirePermission(auth.PermShiftReconcile)).Post("/{id}/reconcile", s.ReconcileShift)
			rt.With(auth.RequirePermission(auth.PermCashDrop)).Post("/{id}/cash-drop", s.CashDrop)
			rt.With(auth.RequirePermission(auth.PermTipPayout)).Post("/{id}/tip-payout", s.TipPayout)
			rt.With(auth.RequirePermission(auth.PermCashAdjust)).Post("/{id}/adjustment", s.DrawerAdjustment)
			rt.With(auth.RequirePermission(auth.PermShiftClose)).Patch("/{id}/notes", s.UpdateShiftNotes)
		})

		api.Route("/ws", func(rt chi.Router) {
			rt.Get("/table/{id}", s.TableStream)
			rt.Get("/user/{id}", s.UserStream)
			rt.Get("/station/{id}", s.StationStream)
		})
	})

	return r
}

// Healthz reports liveness and database reachability.
func (s *Server) Healthz(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := s.DB.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors onto HTTP status codes.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, store.ErrVersionConflict),
		errors.Is(err, draft.ErrLockConflict),
		errors.Is(err, sessions.ErrTableOccupied),
		errors.Is(err, shifts.ErrActiveShiftExists),
		errors.Is(err, payments.ErrAlreadyRefunded):
		status = http.StatusConflict
	case errors.Is(err, payments.ErrQRExpired):
		status = http.StatusGone
	case errors.Is(err, payments.ErrProviderUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, shifts.ErrApprovalRequired):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrInvalidTransition),
		errors.Is(err, draft.ErrLockNotHeld),
		errors.Is(err, draft.ErrLockInvalidState),
		errors.Is(err, draft.ErrNotEditable),
		errors.Is(err, tickets.ErrDraftNotConfirmed),
		errors.Is(err, tickets.ErrNotHeld),
		errors.Is(err, tickets.ErrHeldTerminal),
		errors.Is(err, orders.ErrTicketsOpen),
		errors.Is(err, orders.ErrNotPaid),
		errors.Is(err, payments.ErrSplitMismatch),
		errors.Is(err, payments.ErrUnsupportedMethod),
		errors.Is(err, shifts.ErrNoActiveShift),
		errors.Is(err, shifts.ErrCountsMissing),
		errors.Is(err, models.ErrValidation):
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.Log.Error("request failed",
			"path", r.URL.Path, "method", r.Method, "error", err)
		writeJSON(w, status, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
