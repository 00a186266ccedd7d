// Package orders manages confirmed orders: creation outside the draft flow,
// completion, cancellation, and post-confirmation adjustments.
package orders

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"restocore/events"
	"restocore/models"
	"restocore/store"
)

var (
	// ErrTicketsOpen is returned when completing an order that still has
	// live kitchen tickets.
	ErrTicketsOpen = errors.New("order has unfinished tickets")
	// ErrNotPaid is returned when completing an order that is not settled.
	ErrNotPaid = errors.New("order is not paid")
)

// Service owns order mutations.
type Service struct {
	DB  *gorm.DB
	Bus *events.Bus
	Log *slog.Logger
	Now func() time.Time
}

// NewService constructs a Service with defaults.
func NewService(db *gorm.DB, bus *events.Bus, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		DB:  db,
		Bus: bus,
		Log: log,
		Now: func() time.Time { return time.Now().UTC() },
	}
}

// ItemInput describes one line of a manually created order.
type ItemInput struct {
	MenuItemID          uuid.UUID           `json:"menu_item_id"`
	Quantity            int                 `json:"quantity"`
	Modifiers           models.ModifierList `json:"modifiers,omitempty"`
	SpecialInstructions string              `json:"special_instructions,omitempty"`
}

// CreateInput describes a manual order, bypassing the draft flow. Used for
// walk-in counter sales.
type CreateInput struct {
	TableSessionID uuid.UUID       `json:"table_session_id"`
	Items          []ItemInput     `json:"items"`
	TaxAmount      decimal.Decimal `json:"tax_amount"`
	ServiceCharge  decimal.Decimal `json:"service_charge"`
	DiscountAmount decimal.Decimal `json:"discount_amount"`
	TipAmount      decimal.Decimal `json:"tip_amount"`
}

// Create opens a pending order with the given items.
func (s *Service) Create(tenantID uuid.UUID, in CreateInput, actor uuid.UUID) (*models.Order, error) {
	if len(in.Items) == 0 {
		return nil, fmt.Errorf("%w: order requires at least one item", models.ErrValidation)
	}
	now := s.Now()
	order := models.Order{
		ID:             uuid.New(),
		TenantID:       tenantID,
		TableSessionID: in.TableSessionID,
		Status:         models.OrderStatusPending,
		TaxAmount:      in.TaxAmount.Round(2),
		ServiceCharge:  in.ServiceCharge.Round(2),
		DiscountAmount: in.DiscountAmount.Round(2),
		TipAmount:      in.TipAmount.Round(2),
		CreatedBy:      actor,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var session models.TableSession
		if err := tx.Scopes(store.TenantScope(tenantID)).
			First(&session, "id = ?", in.TableSessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrNotFound
			}
			return err
		}

		subtotal := decimal.Zero
		items := make([]models.OrderLineItem, 0, len(in.Items))
		for i, it := range in.Items {
			if it.Quantity < 1 {
				return fmt.Errorf("%w: item quantity must be at least 1", models.ErrValidation)
			}
			var menu models.MenuItem
			if err := tx.Scopes(store.TenantScope(tenantID)).
				First(&menu, "id = ?", it.MenuItemID).Error; err != nil {
				if errors.Is(err, gorm.ErrRecordNotFound) {
					return fmt.Errorf("menu item %s: %w", it.MenuItemID, store.ErrNotFound)
				}
				return err
			}
			unit := menu.Price
			for _, m := range it.Modifiers {
				unit = unit.Add(m.PriceAdjustment)
			}
			total := unit.Mul(decimal.NewFromInt(int64(it.Quantity))).Round(2)
			subtotal = subtotal.Add(total)
			items = append(items, models.OrderLineItem{
				ID:                  uuid.New(),
				TenantID:            tenantID,
				OrderID:             order.ID,
				MenuItemID:          menu.ID,
				Name:                menu.Name,
				Quantity:            it.Quantity,
				PriceAtOrder:        menu.Price,
				LineTotal:           total,
				Modifiers:           it.Modifiers,
				SpecialInstructions: it.SpecialInstructions,
				Status:              models.OrderItemPending,
				SortOrder:           i,
				CreatedAt:           now,
				UpdatedAt:           now,
			})
		}
		order.Subtotal = subtotal.Round(2)
		order.TotalAmount = subtotal.Add(order.TaxAmount).Add(order.ServiceCharge).
			Add(order.TipAmount).Sub(order.DiscountAmount).Round(2)

		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		if err := tx.Create(&items).Error; err != nil {
			return err
		}
		order.LineItems = items
		return store.AppendAudit(tx, tenantID, order.ID, "order", "order.created", actor, "")
	})
	if err != nil {
		return nil, err
	}

	s.publish(events.Event{
		Type:    events.OrderCreated,
		Subject: events.Subject{Kind: events.SubjectTable, ID: order.TableSessionID},
		Payload: orderPayload(&order),
		At:      now,
	})
	return &order, nil
}

// Get loads one order with its line items.
func (s *Service) Get(tenantID, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := s.DB.Scopes(store.TenantScope(tenantID)).
		Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("sort_order ASC") }).
		First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

// Filter narrows order listings.
type Filter struct {
	TableSessionID *uuid.UUID
	Status         models.OrderStatus
	Since          *time.Time
	Limit          int
}

// List returns orders newest first.
func (s *Service) List(tenantID uuid.UUID, f Filter) ([]models.Order, error) {
	q := s.DB.Scopes(store.TenantScope(tenantID)).Order("created_at DESC")
	if f.TableSessionID != nil {
		q = q.Where("table_session_id = ?", *f.TableSessionID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Since != nil {
		q = q.Where("created_at >= ?", *f.Since)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []models.Order
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Complete closes a paid order whose tickets have all finished.
func (s *Service) Complete(tenantID, id uuid.UUID, expectedVersion int, actor uuid.UUID) (*models.Order, error) {
	now := s.Now()
	var sessionID uuid.UUID
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		order, err := s.lockOrder(tx, tenantID, id)
		if err != nil {
			return err
		}
		sessionID = order.TableSessionID
		if err := models.ValidateOrderTransition(order.Status, models.OrderStatusCompleted); err != nil {
			return err
		}
		if order.Status != models.OrderStatusPaid {
			return ErrNotPaid
		}
		var open int64
		if err := tx.Model(&models.Ticket{}).
			Where("tenant_id = ? AND order_id = ? AND status NOT IN ?",
				tenantID, id, []models.TicketStatus{models.TicketStatusCompleted, models.TicketStatusVoided}).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return ErrTicketsOpen
		}
		if err := store.UpdateCAS(tx, &models.Order{}, tenantID, id, expectedVersion, map[string]interface{}{
			"status":       models.OrderStatusCompleted,
			"completed_at": now,
			"updated_at":   now,
		}); err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, id, "order", "order.completed", actor, "")
	})
	if err != nil {
		return nil, err
	}

	order, err := s.Get(tenantID, id)
	if err != nil {
		return nil, err
	}
	s.publish(events.Event{
		Type:    events.OrderCompleted,
		Subject: events.Subject{Kind: events.SubjectTable, ID: sessionID},
		Payload: orderPayload(order),
		At:      now,
	})
	return order, nil
}

// Cancel aborts an order that has not been settled.
func (s *Service) Cancel(tenantID, id uuid.UUID, expectedVersion int, reason string, actor uuid.UUID) (*models.Order, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: cancellation reason is required", models.ErrValidation)
	}
	now := s.Now()
	var sessionID uuid.UUID
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		order, err := s.lockOrder(tx, tenantID, id)
		if err != nil {
			return err
		}
		sessionID = order.TableSessionID
		if err := models.ValidateOrderTransition(order.Status, models.OrderStatusCancelled); err != nil {
			return err
		}
		if err := store.UpdateCAS(tx, &models.Order{}, tenantID, id, expectedVersion, map[string]interface{}{
			"status":       models.OrderStatusCancelled,
			"cancelled_at": now,
			"updated_at":   now,
		}); err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, id, "order", "order.cancelled", actor, reason)
	})
	if err != nil {
		return nil, err
	}

	order, err := s.Get(tenantID, id)
	if err != nil {
		return nil, err
	}
	s.publish(events.Event{
		Type:    events.OrderCancelled,
		Subject: events.Subject{Kind: events.SubjectTable, ID: sessionID},
		Payload: orderPayload(order),
		At:      now,
	})
	return order, nil
}

// AdjustInput carries one adjustment against an order or a single line.
type AdjustInput struct {
	OrderLineItemID *uuid.UUID            `json:"order_line_item_id,omitempty"`
	AdjustmentType  models.AdjustmentType `json:"adjustment_type"`
	Amount          decimal.Decimal       `json:"amount"`
	Reason          string                `json:"reason"`
}

// Adjust records an adjustment and recomputes the order totals. Service and
// tax adjustments add to the total; everything else discounts it.
func (s *Service) Adjust(tenantID, orderID uuid.UUID, in AdjustInput, actor uuid.UUID) (*models.Order, error) {
	if in.Reason == "" {
		return nil, fmt.Errorf("%w: adjustment reason is required", models.ErrValidation)
	}
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: adjustment amount must be positive", models.ErrValidation)
	}
	switch in.AdjustmentType {
	case models.AdjustComp, models.AdjustDiscountPercent, models.AdjustDiscountAmount,
		models.AdjustPromoCode, models.AdjustCustomerReward, models.AdjustVoid,
		models.AdjustPriceOverride, models.AdjustServiceAdjustment,
		models.AdjustTaxAdjustment, models.AdjustOther:
	default:
		return nil, fmt.Errorf("%w: unknown adjustment type %q", models.ErrValidation, in.AdjustmentType)
	}
	now := s.Now()
	var sessionID uuid.UUID
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		order, err := s.lockOrder(tx, tenantID, orderID)
		if err != nil {
			return err
		}
		sessionID = order.TableSessionID
		switch order.Status {
		case models.OrderStatusPending, models.OrderStatusInProgress:
		default:
			return fmt.Errorf("%w: cannot adjust %s order", models.ErrInvalidTransition, order.Status)
		}

		adj := models.OrderAdjustment{
			ID:              uuid.New(),
			TenantID:        tenantID,
			OrderID:         orderID,
			OrderLineItemID: in.OrderLineItemID,
			AdjustmentType:  in.AdjustmentType,
			Amount:          in.Amount.Round(2),
			Reason:          in.Reason,
			AppliedBy:       actor,
			CreatedAt:       now,
		}
		if err := tx.Create(&adj).Error; err != nil {
			return err
		}

		discount := order.DiscountAmount
		total := order.TotalAmount
		switch in.AdjustmentType {
		case models.AdjustServiceAdjustment, models.AdjustTaxAdjustment:
			total = total.Add(adj.Amount)
		default:
			discount = discount.Add(adj.Amount)
			total = total.Sub(adj.Amount)
		}
		if total.IsNegative() {
			total = decimal.Zero
		}
		if err := store.UpdateCAS(tx, &models.Order{}, tenantID, orderID, order.Version, map[string]interface{}{
			"discount_amount": discount,
			"total_amount":    total,
			"updated_at":      now,
		}); err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, adj.ID, "order_adjustment", "order.adjusted", actor, in.Reason)
	})
	if err != nil {
		return nil, err
	}

	order, err := s.Get(tenantID, orderID)
	if err != nil {
		return nil, err
	}
	s.publish(events.Event{
		Type:    events.OrderUpdated,
		Subject: events.Subject{Kind: events.SubjectTable, ID: sessionID},
		Payload: orderPayload(order),
		At:      now,
	})
	return order, nil
}

// Adjustments lists the adjustments applied to an order, oldest first.
func (s *Service) Adjustments(tenantID, orderID uuid.UUID) ([]models.OrderAdjustment, error) {
	var out []models.OrderAdjustment
	err := s.DB.Scopes(store.TenantScope(tenantID)).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) lockOrder(tx *gorm.DB, tenantID, id uuid.UUID) (*models.Order, error) {
	var order models.Order
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Scopes(store.TenantScope(tenantID)).
		First(&order, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &order, nil
}

func (s *Service) publish(ev events.Event) {
	if s.Bus == nil {
		return
	}
	s.Bus.Publish(ev)
}

func orderPayload(o *models.Order) map[string]interface{} {
	return map[string]interface{}{
		"order_id":         o.ID,
		"table_session_id": o.TableSessionID,
		"status":           o.Status,
		"total_amount":     o.TotalAmount,
		"version":          o.Version,
	}
}
