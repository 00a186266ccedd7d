// Package tickets implements the kitchen ticket dispatcher: fan-out of a
// confirmed draft into per-(station, course) tickets, the auto-fire rule,
// the expo hold/fire workflow, and the KDS station queue.
package tickets

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"restocore/events"
	"restocore/models"
	"restocore/observability/metrics"
	"restocore/store"
)

// QueueWindow bounds how far back the station queue reaches.
const QueueWindow = 24 * time.Hour

var (
	// ErrDraftNotConfirmed is returned when generation cites an unconfirmed draft.
	ErrDraftNotConfirmed = errors.New("draft is not confirmed")
	// ErrNotHeld is returned when firing a ticket that is not held and not new.
	ErrNotHeld = errors.New("ticket is not held")
	// ErrHeldTerminal is returned when holding a ticket outside pending status.
	ErrHeldTerminal = errors.New("only pending tickets can be held")
)

// Dispatcher is the unique producer and mutator of kitchen tickets.
type Dispatcher struct {
	DB  *gorm.DB
	Bus *events.Bus
	Log *slog.Logger
	Now func() time.Time
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(db *gorm.DB, bus *events.Bus, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		DB:  db,
		Bus: bus,
		Log: log,
		Now: func() time.Time { return time.Now().UTC() },
	}
}

type routeKey struct {
	station uuid.UUID
	course  uuid.UUID
}

// Generate fans a confirmed draft out into one ticket per (station, course)
// group. Idempotent: a draft that already has tickets returns the existing
// set unchanged.
func (d *Dispatcher) Generate(tenantID, draftID uuid.UUID, actor uuid.UUID) ([]models.Ticket, error) {
	now := d.Now()
	var (
		created []models.Ticket
		replay  bool
	)
	err := d.DB.Transaction(func(tx *gorm.DB) error {
		var existing []models.Ticket
		if err := tx.Scopes(store.TenantScope(tenantID)).Preload("LineItems").
			Where("draft_order_id = ?", draftID).Find(&existing).Error; err != nil {
			return err
		}
		if len(existing) > 0 {
			created = existing
			replay = true
			return nil
		}

		var draft models.DraftOrder
		if err := tx.Scopes(store.TenantScope(tenantID)).First(&draft, "id = ?", draftID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrNotFound
			}
			return err
		}
		if draft.Status != models.DraftStatusConfirmed || draft.OrderID == nil {
			return ErrDraftNotConfirmed
		}

		var order models.Order
		if err := tx.Scopes(store.TenantScope(tenantID)).Preload("LineItems").
			First(&order, "id = ?", *draft.OrderID).Error; err != nil {
			return err
		}

		groups := make(map[routeKey][]models.OrderLineItem)
		courses := make(map[uuid.UUID]models.KitchenCourse)
		var keys []routeKey
		for _, li := range order.LineItems {
			var item models.MenuItem
			if err := tx.Scopes(store.TenantScope(tenantID)).First(&item, "id = ?", li.MenuItemID).Error; err != nil {
				d.Log.Warn("ticket fan-out: menu item missing, skipping line",
					"order_line_item", li.ID, "menu_item", li.MenuItemID)
				continue
			}
			if item.StationID == nil || item.CourseID == nil {
				d.Log.Warn("ticket fan-out: item has no kitchen routing, skipping",
					"menu_item", item.ID, "name", item.Name)
				continue
			}
			if _, ok := courses[*item.CourseID]; !ok {
				var course models.KitchenCourse
				if err := tx.Scopes(store.TenantScope(tenantID)).First(&course, "id = ?", *item.CourseID).Error; err != nil {
					d.Log.Warn("ticket fan-out: course missing, skipping", "course", *item.CourseID)
					continue
				}
				courses[*item.CourseID] = course
			}
			k := routeKey{station: *item.StationID, course: *item.CourseID}
			if _, ok := groups[k]; !ok {
				keys = append(keys, k)
			}
			groups[k] = append(groups[k], li)
		}

		for _, k := range keys {
			course := courses[k.course]
			ticket := models.Ticket{
				ID:             uuid.New(),
				TenantID:       tenantID,
				DraftOrderID:   draftID,
				OrderID:        order.ID,
				TableSessionID: order.TableSessionID,
				StationID:      k.station,
				CourseID:       k.course,
				CourseNumber:   course.CourseNumber,
				Version:        1,
				CreatedAt:      now,
				UpdatedAt:      now,
			}
			itemStatus := models.TicketItemPending
			if course.AutoFireOnConfirm {
				ticket.Status = models.TicketStatusPending
				fired := now
				ticket.FiredAt = &fired
				itemStatus = models.TicketItemFired
			} else {
				ticket.Status = models.TicketStatusNew
			}
			if err := tx.Create(&ticket).Error; err != nil {
				return err
			}
			for _, li := range groups[k] {
				tli := models.TicketLineItem{
					ID:                  uuid.New(),
					TenantID:            tenantID,
					TicketID:            ticket.ID,
					OrderLineItemID:     li.ID,
					Name:                li.Name,
					Quantity:            li.Quantity,
					PriceAtOrder:        li.PriceAtOrder,
					Modifiers:           li.Modifiers,
					SpecialInstructions: li.SpecialInstructions,
					CourseNumber:        course.CourseNumber,
					Status:              itemStatus,
					CreatedAt:           now,
					UpdatedAt:           now,
				}
				if err := tx.Create(&tli).Error; err != nil {
					return err
				}
				ticket.LineItems = append(ticket.LineItems, tli)
			}
			created = append(created, ticket)
			if err := store.AppendAudit(tx, tenantID, ticket.ID, "ticket", "ticket.created", actor, ""); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if replay {
		return created, nil
	}

	for _, t := range created {
		metrics.TicketsCreated.Inc()
		d.publish(events.Event{
			Type:    events.TicketCreated,
			Subject: events.Subject{Kind: events.SubjectStation, ID: t.StationID},
			Payload: ticketPayload(&t),
			At:      now,
		})
	}
	return created, nil
}

// Get loads one ticket with its line items.
func (d *Dispatcher) Get(tenantID, id uuid.UUID) (*models.Ticket, error) {
	var t models.Ticket
	err := d.DB.Scopes(store.TenantScope(tenantID)).Preload("LineItems").First(&t, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

// QueueFilter narrows the station queue listing.
type QueueFilter struct {
	StationID      *uuid.UUID
	Status         models.TicketStatus
	CourseNumber   *int
	TableSessionID *uuid.UUID
}

// Queue returns tickets in KDS display order: rush first, then course, then
// age. Only tickets created within the queue window are returned.
func (d *Dispatcher) Queue(tenantID uuid.UUID, f QueueFilter) ([]models.Ticket, error) {
	cutoff := d.Now().Add(-QueueWindow)
	q := d.DB.Scopes(store.TenantScope(tenantID)).Preload("LineItems").
		Where("created_at > ?", cutoff).
		Order("is_rush DESC, course_number ASC, created_at ASC")
	if f.StationID != nil {
		q = q.Where("station_id = ?", *f.StationID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.CourseNumber != nil {
		q = q.Where("course_number = ?", *f.CourseNumber)
	}
	if f.TableSessionID != nil {
		q = q.Where("table_session_id = ?", *f.TableSessionID)
	}
	var out []models.Ticket
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Bump marks a ticket completed and completes its live line items.
func (d *Dispatcher) Bump(tenantID, id uuid.UUID, expectedVersion int, actor uuid.UUID) (*models.Ticket, error) {
	now := d.Now()
	var stationID uuid.UUID
	err := d.DB.Transaction(func(tx *gorm.DB) error {
		t, err := d.lockTicket(tx, tenantID, id)
		if err != nil {
			return err
		}
		if err := models.ValidateTicketTransition(t.Status, models.TicketStatusCompleted); err != nil {
			return err
		}
		stationID = t.StationID
		if err := tx.Model(&models.TicketLineItem{}).
			Where("ticket_id = ? AND status NOT IN ?", id, []models.TicketItemStatus{models.TicketItemVoided, models.TicketItemCompleted}).
			Updates(map[string]interface{}{"status": models.TicketItemCompleted, "updated_at": now}).Error; err != nil {
			return err
		}
		if err := store.UpdateCAS(tx, &models.Ticket{}, tenantID, id, expectedVersion, map[string]interface{}{
			"status":       models.TicketStatusCompleted,
			"completed_at": now,
			"is_held":      false,
			"updated_at":   now,
		}); err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, id, "ticket", "ticket.bumped", actor, "")
	})
	if err != nil {
		return nil, err
	}

	t, err := d.Get(tenantID, id)
	if err != nil {
		return nil, err
	}
	d.publish(events.Event{
		Type:    events.TicketBumped,
		Subject: events.Subject{Kind: events.SubjectStation, ID: stationID},
		Payload: ticketPayload(t),
		At:      now,
	})
	return t, nil
}

// SetStatus advances a ticket along the preparation workflow, stamping the
// matching timestamp.
func (d *Dispatcher) SetStatus(tenantID, id uuid.UUID, expectedVersion int, next models.TicketStatus, actor uuid.UUID) (*models.Ticket, error) {
	now := d.Now()
	var stationID uuid.UUID
	err := d.DB.Transaction(func(tx *gorm.DB) error {
		t, err := d.lockTicket(tx, tenantID, id)
		if err != nil {
			return err
		}
		if err := models.ValidateTicketTransition(t.Status, next); err != nil {
			return err
		}
		stationID = t.StationID
		updates := map[string]interface{}{"status": next, "updated_at": now}
		switch next {
		case models.TicketStatusPending:
			if t.FiredAt == nil {
				updates["fired_at"] = now
			}
		case models.TicketStatusPreparing:
			updates["prep_started_at"] = now
		case models.TicketStatusReady:
			updates["ready_at"] = now
		case models.TicketStatusCompleted:
			updates["completed_at"] = now
		}
		if err := store.UpdateCAS(tx, &models.Ticket{}, tenantID, id, expectedVersion, updates); err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, id, "ticket", fmt.Sprintf("ticket.%s", next), actor, "")
	})
	if err != nil {
		return nil, err
	}

	t, err := d.Get(tenantID, id)
	if err != nil {
		return nil, err
	}
	d.publish(events.Event{
		Type:    events.TicketUpdated,
		Subject: events.Subject{Kind: events.SubjectStation, ID: stationID},
		Payload: ticketPayload(t),
		At:      now,
	})
	return t, nil
}

// Hold suppresses a pending ticket without changing its status.
func (d *Dispatcher) Hold(tenantID, id uuid.UUID, expectedVersion int, reason string, actor uuid.UUID) (*models.Ticket, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: hold reason is required", models.ErrValidation)
	}
	now := d.Now()
	var stationID uuid.UUID
	err := d.DB.Transaction(func(tx *gorm.DB) error {
		t, err := d.lockTicket(tx, tenantID, id)
		if err != nil {
			return err
		}
		if t.Status != models.TicketStatusPending {
			return ErrHeldTerminal
		}
		stationID = t.StationID
		if err := store.UpdateCAS(tx, &models.Ticket{}, tenantID, id, expectedVersion, map[string]interface{}{
			"is_held":     true,
			"held_reason": reason,
			"held_at":     now,
			"updated_at":  now,
		}); err != nil {
			return err
		}
		if err := tx.Model(&models.TicketLineItem{}).
			Where("ticket_id = ? AND status = ?", id, models.TicketItemFired).
			Updates(map[string]interface{}{"status": models.TicketItemHeld, "updated_at": now}).Error; err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, id, "ticket", "ticket.held", actor, reason)
	})
	if err != nil {
		return nil, err
	}

	t, err := d.Get(tenantID, id)
	if err != nil {
		return nil, err
	}
	d.publish(events.Event{
		Type:    events.TicketHeld,
		Subject: events.Subject{Kind: events.SubjectStation, ID: stationID},
		Payload: ticketPayload(t),
		At:      now,
	})
	return t, nil
}

// Fire makes a ticket visible to the kitchen: a new ticket transitions to
// pending, a held ticket has its hold cleared. Either way fired_at is
// stamped and the line items flip to fired.
func (d *Dispatcher) Fire(tenantID, id uuid.UUID, expectedVersion int, actor uuid.UUID) (*models.Ticket, error) {
	now := d.Now()
	var stationID uuid.UUID
	err := d.DB.Transaction(func(tx *gorm.DB) error {
		t, err := d.lockTicket(tx, tenantID, id)
		if err != nil {
			return err
		}
		updates := map[string]interface{}{
			"is_held":     false,
			"held_reason": "",
			"held_at":     nil,
			"fired_at":    now,
			"updated_at":  now,
		}
		switch {
		case t.Status == models.TicketStatusNew:
			updates["status"] = models.TicketStatusPending
		case t.Status == models.TicketStatusPending && t.IsHeld:
		default:
			return ErrNotHeld
		}
		stationID = t.StationID
		if err := store.UpdateCAS(tx, &models.Ticket{}, tenantID, id, expectedVersion, updates); err != nil {
			return err
		}
		if err := tx.Model(&models.TicketLineItem{}).
			Where("ticket_id = ? AND status IN ?", id, []models.TicketItemStatus{models.TicketItemPending, models.TicketItemHeld}).
			Updates(map[string]interface{}{"status": models.TicketItemFired, "updated_at": now}).Error; err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, id, "ticket", "ticket.fired", actor, "")
	})
	if err != nil {
		return nil, err
	}

	t, err := d.Get(tenantID, id)
	if err != nil {
		return nil, err
	}
	d.publish(events.Event{
		Type:    events.TicketFired,
		Subject: events.Subject{Kind: events.SubjectStation, ID: stationID},
		Payload: ticketPayload(t),
		At:      now,
	})
	return t, nil
}

// Void terminates a ticket from any non-terminal state, cascading to its
// non-terminal line items.
func (d *Dispatcher) Void(tenantID, id uuid.UUID, expectedVersion int, reason string, actor uuid.UUID) (*models.Ticket, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: void reason is required", models.ErrValidation)
	}
	now := d.Now()
	var stationID uuid.UUID
	err := d.DB.Transaction(func(tx *gorm.DB) error {
		t, err := d.lockTicket(tx, tenantID, id)
		if err != nil {
			return err
		}
		if err := models.ValidateTicketTransition(t.Status, models.TicketStatusVoided); err != nil {
			return err
		}
		stationID = t.StationID
		if err := tx.Model(&models.TicketLineItem{}).
			Where("ticket_id = ? AND status NOT IN ?", id, []models.TicketItemStatus{models.TicketItemVoided, models.TicketItemCompleted}).
			Updates(map[string]interface{}{"status": models.TicketItemVoided, "voided_at": now, "updated_at": now}).Error; err != nil {
			return err
		}
		if err := store.UpdateCAS(tx, &models.Ticket{}, tenantID, id, expectedVersion, map[string]interface{}{
			"status":        models.TicketStatusVoided,
			"voided_at":     now,
			"voided_reason": reason,
			"is_held":       false,
			"updated_at":    now,
		}); err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, id, "ticket", "ticket.voided", actor, reason)
	})
	if err != nil {
		return nil, err
	}

	t, err := d.Get(tenantID, id)
	if err != nil {
		return nil, err
	}
	d.publish(events.Event{
		Type:    events.TicketVoided,
		Subject: events.Subject{Kind: events.SubjectStation, ID: stationID},
		Payload: ticketPayload(t),
		At:      now,
	})
	return t, nil
}

// VoidLineItem voids one line on a ticket without voiding the ticket.
func (d *Dispatcher) VoidLineItem(tenantID, itemID uuid.UUID, actor uuid.UUID) (*models.TicketLineItem, error) {
	now := d.Now()
	var line models.TicketLineItem
	err := d.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Scopes(store.TenantScope(tenantID)).
			First(&line, "id = ?", itemID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrNotFound
			}
			return err
		}
		if line.Status == models.TicketItemVoided || line.Status == models.TicketItemCompleted {
			return fmt.Errorf("%w: ticket item %s -> voided", models.ErrInvalidTransition, line.Status)
		}
		line.Status = models.TicketItemVoided
		line.VoidedAt = &now
		line.UpdatedAt = now
		if err := tx.Save(&line).Error; err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, line.TicketID, "ticket", "ticket.item_voided", actor, line.Name)
	})
	if err != nil {
		return nil, err
	}

	t, err := d.Get(tenantID, line.TicketID)
	if err == nil {
		d.publish(events.Event{
			Type:    events.TicketUpdated,
			Subject: events.Subject{Kind: events.SubjectStation, ID: t.StationID},
			Payload: ticketPayload(t),
			At:      now,
		})
	}
	return &line, nil
}

// Reassign moves a ticket to a different station, keeping its state. Both
// station feeds are notified so they converge on the correct set.
func (d *Dispatcher) Reassign(tenantID, id uuid.UUID, expectedVersion int, newStationID uuid.UUID, actor uuid.UUID) (*models.Ticket, error) {
	now := d.Now()
	var oldStation uuid.UUID
	err := d.DB.Transaction(func(tx *gorm.DB) error {
		t, err := d.lockTicket(tx, tenantID, id)
		if err != nil {
			return err
		}
		if models.TicketTerminal(t.Status) {
			return fmt.Errorf("%w: ticket %s -> reassign", models.ErrInvalidTransition, t.Status)
		}
		var station models.MenuStation
		if err := tx.Scopes(store.TenantScope(tenantID)).First(&station, "id = ?", newStationID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("station: %w", store.ErrNotFound)
			}
			return err
		}
		oldStation = t.StationID
		if err := store.UpdateCAS(tx, &models.Ticket{}, tenantID, id, expectedVersion, map[string]interface{}{
			"station_id": newStationID,
			"updated_at": now,
		}); err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, id, "ticket", "ticket.reassigned", actor, newStationID.String())
	})
	if err != nil {
		return nil, err
	}

	t, err := d.Get(tenantID, id)
	if err != nil {
		return nil, err
	}
	removal := ticketPayload(t)
	removal["reason"] = "reassigned"
	d.publish(
		events.Event{
			Type:    events.TicketVoided,
			Subject: events.Subject{Kind: events.SubjectStation, ID: oldStation},
			Payload: removal,
			At:      now,
		},
		events.Event{
			Type:    events.TicketCreated,
			Subject: events.Subject{Kind: events.SubjectStation, ID: newStationID},
			Payload: ticketPayload(t),
			At:      now,
		},
	)
	return t, nil
}

// Reprint bumps the print counter; any staff role may reprint.
func (d *Dispatcher) Reprint(tenantID, id uuid.UUID, expectedVersion int, actor uuid.UUID) (*models.Ticket, error) {
	now := d.Now()
	err := d.DB.Transaction(func(tx *gorm.DB) error {
		t, err := d.lockTicket(tx, tenantID, id)
		if err != nil {
			return err
		}
		if err := store.UpdateCAS(tx, &models.Ticket{}, tenantID, id, expectedVersion, map[string]interface{}{
			"print_count":     t.PrintCount + 1,
			"last_printed_at": now,
			"updated_at":      now,
		}); err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, id, "ticket", "ticket.reprinted", actor, "")
	})
	if err != nil {
		return nil, err
	}
	return d.Get(tenantID, id)
}

// SetRush toggles the rush flag, reordering the ticket in the station queue.
func (d *Dispatcher) SetRush(tenantID, id uuid.UUID, expectedVersion int, rush bool, actor uuid.UUID) (*models.Ticket, error) {
	now := d.Now()
	var stationID uuid.UUID
	err := d.DB.Transaction(func(tx *gorm.DB) error {
		t, err := d.lockTicket(tx, tenantID, id)
		if err != nil {
			return err
		}
		if models.TicketTerminal(t.Status) {
			return fmt.Errorf("%w: ticket %s -> rush", models.ErrInvalidTransition, t.Status)
		}
		stationID = t.StationID
		if err := store.UpdateCAS(tx, &models.Ticket{}, tenantID, id, expectedVersion, map[string]interface{}{
			"is_rush":    rush,
			"updated_at": now,
		}); err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, id, "ticket", "ticket.rush", actor, fmt.Sprintf("rush=%t", rush))
	})
	if err != nil {
		return nil, err
	}

	t, err := d.Get(tenantID, id)
	if err != nil {
		return nil, err
	}
	d.publish(events.Event{
		Type:    events.TicketUpdated,
		Subject: events.Subject{Kind: events.SubjectStation, ID: stationID},
		Payload: ticketPayload(t),
		At:      now,
	})
	return t, nil
}

func (d *Dispatcher) lockTicket(tx *gorm.DB, tenantID, id uuid.UUID) (*models.Ticket, error) {
	var t models.Ticket
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Scopes(store.TenantScope(tenantID)).
		First(&t, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func (d *Dispatcher) publish(evs ...events.Event) {
	if d.Bus == nil {
		return
	}
	d.Bus.PublishAll(evs)
}

func ticketPayload(t *models.Ticket) map[string]interface{} {
	return map[string]interface{}{
		"ticket_id":        t.ID,
		"order_id":         t.OrderID,
		"table_session_id": t.TableSessionID,
		"station_id":       t.StationID,
		"course_number":    t.CourseNumber,
		"status":           t.Status,
		"is_rush":          t.IsRush,
		"is_held":          t.IsHeld,
		"version":          t.Version,
	}
}
