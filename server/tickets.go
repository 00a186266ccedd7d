package server

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"restocore/models"
	"restocore/tickets"
)

// GenerateTickets fans a confirmed draft out to kitchen stations. Replays
// return the existing tickets.
func (s *Server) GenerateTickets(w http.ResponseWriter, r *http.Request) {
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
	out, err := s.Tickets.Generate(cl.TenantID, id, cl.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, out)
}

// TicketQueue lists the active tickets for a station display.
func (s *Server) TicketQueue(w http.ResponseWriter, r *http.Request) {
	cl, err := claims(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	var f tickets.QueueFilter
	if raw := q.Get("station_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: invalid station_id", models.ErrValidation))
			return
		}
		f.StationID = &id
	}
	if raw := q.Get("table_session_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: invalid table_session_id", models.ErrValidation))
			return
		}
		f.TableSessionID = &id
	}
	if raw := q.Get("course"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: invalid course", models.ErrValidation))
			return
		}
		f.CourseNumber = &n
	}
	f.Status = models.TicketStatus(q.Get("status"))

	out, err := s.Tickets.Queue(cl.TenantID, f)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// GetTicket returns one ticket with its line items.
func (s *Server) GetTicket(w http.ResponseWriter, r *http.Request) {
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
	t, err := s.Tickets.Get(cl.TenantID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

// BumpTicket marks a ticket done from the station display.
func (s *Server) BumpTicket(w http.ResponseWriter, r *http.Request) {
	s.ticketTransition(w, r, func(tenantID, id uuid.UUID, version int, actor uuid.UUID, _ ticketActionRequest) (interface{}, error) {
		return s.Tickets.Bump(tenantID, id, version, actor)
	})
}

// SetTicketStatus advances a ticket through its preparation states.
func (s *Server) SetTicketStatus(w http.ResponseWriter, r *http.Request) {
	s.ticketTransition(w, r, func(tenantID, id uuid.UUID, version int, actor uuid.UUID, req ticketActionRequest) (interface{}, error) {
		return s.Tickets.SetStatus(tenantID, id, version, models.TicketStatus(req.Status), actor)
	})
}

// HoldTicket pauses a pending ticket with a reason.
func (s *Server) HoldTicket(w http.ResponseWriter, r *http.Request) {
	s.ticketTransition(w, r, func(tenantID, id uuid.UUID, version int, actor uuid.UUID, req ticketActionRequest) (interface{}, error) {
		return s.Tickets.Hold(tenantID, id, version, req.Reason, actor)
	})
}

// FireTicket releases a new or held ticket to the kitchen.
func (s *Server) FireTicket(w http.ResponseWriter, r *http.Request) {
	s.ticketTransition(w, r, func(tenantID, id uuid.UUID, version int, actor uuid.UUID, _ ticketActionRequest) (interface{}, error) {
		return s.Tickets.Fire(tenantID, id, version, actor)
	})
}

// VoidTicket cancels a ticket and its live items.
func (s *Server) VoidTicket(w http.ResponseWriter, r *http.Request) {
	s.ticketTransition(w, r, func(tenantID, id uuid.UUID, version int, actor uuid.UUID, req ticketActionRequest) (interface{}, error) {
		return s.Tickets.Void(tenantID, id, version, req.Reason, actor)
	})
}

// ReassignTicket moves a ticket to a different station.
func (s *Server) ReassignTicket(w http.ResponseWriter, r *http.Request) {
	s.ticketTransition(w, r, func(tenantID, id uuid.UUID, version int, actor uuid.UUID, req ticketActionRequest) (interface{}, error) {
		if req.StationID == nil {
			return nil, fmt.Errorf("%w: station_id is required", models.ErrValidation)
		}
		return s.Tickets.Reassign(tenantID, id, version, *req.StationID, actor)
	})
}

// ReprintTicket bumps the print counter for a reprint request.
func (s *Server) ReprintTicket(w http.ResponseWriter, r *http.Request) {
	s.ticketTransition(w, r, func(tenantID, id uuid.UUID, version int, actor uuid.UUID, _ ticketActionRequest) (interface{}, error) {
		return s.Tickets.Reprint(tenantID, id, version, actor)
	})
}

// SetTicketRush toggles the rush flag, reordering the queue.
func (s *Server) SetTicketRush(w http.ResponseWriter, r *http.Request) {
	s.ticketTransition(w, r, func(tenantID, id uuid.UUID, version int, actor uuid.UUID, req ticketActionRequest) (interface{}, error) {
		return s.Tickets.SetRush(tenantID, id, version, req.Rush, actor)
	})
}

// VoidTicketItem cancels a single line of a ticket.
func (s *Server) VoidTicketItem(w http.ResponseWriter, r *http.Request) {
	cl, err := claims(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	itemID, err := urlUUID(r, "itemID")
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	item, err := s.Tickets.VoidLineItem(cl.TenantID, itemID, cl.Subject)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

type ticketActionRequest struct {
	Version   int        `json:"version"`
	Reason    string     `json:"reason,omitempty"`
	Status    string     `json:"status,omitempty"`
	Rush      bool       `json:"rush,omitempty"`
	StationID *uuid.UUID `json:"station_id,omitempty"`
}

func (s *Server) ticketTransition(w http.ResponseWriter, r *http.Request, op func(tenantID, id uuid.UUID, version int, actor uuid.UUID, req ticketActionRequest) (interface{}, error)) {
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
	var req ticketActionRequest
	if err := decode(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	out, err := op(cl.TenantID, id, req.Version, cl.Subject, req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
