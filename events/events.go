// Package events implements the in-process publish/subscribe bus for domain
// events. Publishers emit only after their transaction has committed.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Type names one domain event.
type Type string

// All domain event types.
const (
	DraftCreated    Type = "draft_created"
	DraftSubmitted  Type = "draft_submitted"
	DraftAcquired   Type = "draft_acquired"
	DraftConfirmed  Type = "draft_confirmed"
	DraftRejected   Type = "draft_rejected"
	DraftExpired    Type = "draft_expired"
	DraftReassigned Type = "draft_reassigned"

	TicketCreated Type = "ticket_created"
	TicketUpdated Type = "ticket_updated"
	TicketBumped  Type = "ticket_bumped"
	TicketHeld    Type = "ticket_held"
	TicketFired   Type = "ticket_fired"
	TicketVoided  Type = "ticket_voided"

	OrderCreated   Type = "order_created"
	OrderUpdated   Type = "order_updated"
	OrderCompleted Type = "order_completed"
	OrderCancelled Type = "order_cancelled"

	PaymentCreated   Type = "payment_created"
	PaymentCompleted Type = "payment_completed"
	PaymentFailed    Type = "payment_failed"
	RefundCreated    Type = "refund_created"

	ShiftOpened     Type = "shift_opened"
	ShiftClosed     Type = "shift_closed"
	ShiftReconciled Type = "shift_reconciled"
)

// SubjectKind selects the live channel family an event is routed to.
type SubjectKind string

const (
	SubjectTable   SubjectKind = "table"
	SubjectUser    SubjectKind = "user"
	SubjectStation SubjectKind = "station"
)

// Subject identifies the channel an event belongs to.
type Subject struct {
	Kind SubjectKind
	ID   uuid.UUID
}

// Event is one committed domain fact.
type Event struct {
	Type    Type
	Subject Subject
	Payload map[string]interface{}
	At      time.Time
}

// Handler consumes published events.
type Handler func(Event)

// Bus is a mutex-guarded in-process publish/subscribe registry.
type Bus struct {
	mu       sync.RWMutex
	handlers []subscription
}

type subscription struct {
	types   map[Type]struct{}
	handler Handler
}

// NewBus constructs an empty bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler. With no types, the handler receives every
// event.
func (b *Bus) Subscribe(handler Handler, types ...Type) {
	if handler == nil {
		return
	}
	sub := subscription{handler: handler}
	if len(types) > 0 {
		sub.types = make(map[Type]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	b.mu.Lock()
	b.handlers = append(b.handlers, sub)
	b.mu.Unlock()
}

// Publish delivers the event synchronously to every matching subscriber.
// Delivery order follows subscription order.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	b.mu.RLock()
	subs := make([]subscription, len(b.handlers))
	copy(subs, b.handlers)
	b.mu.RUnlock()

	for _, sub := range subs {
		if sub.types != nil {
			if _, ok := sub.types[ev.Type]; !ok {
				continue
			}
		}
		sub.handler(ev)
	}
}

// PublishAll publishes a batch in order. Used after a transaction commits.
func (b *Bus) PublishAll(evs []Event) {
	for _, ev := range evs {
		b.Publish(ev)
	}
}
