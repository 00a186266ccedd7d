// Package draft implements the collaborative draft order coordinator: a
// shared cart edited by guests and waiters under a time-bounded exclusive
// lock with optimistic version control.
package draft

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

// Lease and lifetime defaults.
const (
	DefaultLockTTL  = 30 * time.Minute
	DefaultDraftTTL = 2 * time.Hour
)

var (
	// ErrLockConflict is returned when another user holds an active lease.
	ErrLockConflict = errors.New("draft locked by another user")
	// ErrLockNotHeld is returned when an operation requires the caller's lock.
	ErrLockNotHeld = errors.New("draft lock not held")
	// ErrLockInvalidState is returned when the draft cannot be locked.
	ErrLockInvalidState = errors.New("draft is not in a lockable state")
	// ErrNotEditable is returned for line item edits outside draft status.
	ErrNotEditable = errors.New("draft is not editable")
)

// Coordinator owns all draft order mutations.
type Coordinator struct {
	DB       *gorm.DB
	Bus      *events.Bus
	Log      *slog.Logger
	Now      func() time.Time
	LockTTL  time.Duration
	DraftTTL time.Duration
}

// NewCoordinator constructs a Coordinator with default lease settings.
func NewCoordinator(db *gorm.DB, bus *events.Bus, log *slog.Logger) *Coordinator {
	if log == nil {
		log = slog.Default()
	}
	return &Coordinator{
		DB:       db,
		Bus:      bus,
		Log:      log,
		Now:      func() time.Time { return time.Now().UTC() },
		LockTTL:  DefaultLockTTL,
		DraftTTL: DefaultDraftTTL,
	}
}

// ItemInput describes one line item to add to a draft.
type ItemInput struct {
	MenuItemID          uuid.UUID           `json:"menu_item_id"`
	Quantity            int                 `json:"quantity"`
	Modifiers           models.ModifierList `json:"modifiers,omitempty"`
	SpecialInstructions string              `json:"special_instructions,omitempty"`
	ParentLineItemID    *uuid.UUID          `json:"parent_line_item_id,omitempty"`
}

// CreateInput describes a new draft.
type CreateInput struct {
	TableSessionID  uuid.UUID   `json:"table_session_id"`
	SpecialRequests string      `json:"special_requests,omitempty"`
	Items           []ItemInput `json:"items,omitempty"`
}

// Patch carries optional draft-level edits.
type Patch struct {
	SpecialRequests *string          `json:"special_requests,omitempty"`
	TipAmount       *decimal.Decimal `json:"tip_amount,omitempty"`
	DiscountAmount  *decimal.Decimal `json:"discount_amount,omitempty"`
	ServiceCharge   *decimal.Decimal `json:"service_charge,omitempty"`
	TaxAmount       *decimal.Decimal `json:"tax_amount,omitempty"`
}

// Create opens a new draft in status draft with an expiry of now+TTL.
func (c *Coordinator) Create(tenantID, actor uuid.UUID, in CreateInput) (*models.DraftOrder, error) {
	now := c.Now()
	d := models.DraftOrder{
		ID:              uuid.New(),
		TenantID:        tenantID,
		TableSessionID:  in.TableSessionID,
		CreatedBy:       actor,
		Status:          models.DraftStatusDraft,
		Version:         1,
		ExpiresAt:       now.Add(c.DraftTTL),
		SpecialRequests: in.SpecialRequests,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	err := c.DB.Transaction(func(tx *gorm.DB) error {
		var session models.TableSession
		if err := tx.Scopes(store.TenantScope(tenantID)).First(&session, "id = ?", in.TableSessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("table session: %w", store.ErrNotFound)
			}
			return err
		}
		if err := tx.Create(&d).Error; err != nil {
			return err
		}
		for i, item := range in.Items {
			line, err := c.buildLineItem(tx, &d, item, i, now)
			if err != nil {
				return err
			}
			if err := tx.Create(line).Error; err != nil {
				return err
			}
			d.LineItems = append(d.LineItems, *line)
		}
		c.recomputeMoney(&d)
		if err := tx.Model(&models.DraftOrder{}).Where("id = ?", d.ID).Updates(map[string]interface{}{
			"subtotal":     d.Subtotal,
			"total_amount": d.TotalAmount,
		}).Error; err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, d.ID, "draft", "draft.created", actor, "")
	})
	if err != nil {
		return nil, err
	}

	c.publish(events.Event{
		Type:    events.DraftCreated,
		Subject: events.Subject{Kind: events.SubjectTable, ID: d.TableSessionID},
		Payload: map[string]interface{}{
			"draft_id":         d.ID,
			"table_session_id": d.TableSessionID,
			"status":           d.Status,
			"version":          d.Version,
		},
		At: now,
	})
	return c.Get(tenantID, d.ID)
}

// Get loads a draft with its line items.
func (c *Coordinator) Get(tenantID, id uuid.UUID) (*models.DraftOrder, error) {
	var d models.DraftOrder
	err := c.DB.Scopes(store.TenantScope(tenantID)).
		Preload("LineItems").
		First(&d, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

// List returns drafts filtered by session and status.
func (c *Coordinator) List(tenantID uuid.UUID, sessionID *uuid.UUID, status models.DraftStatus) ([]models.DraftOrder, error) {
	q := c.DB.Scopes(store.TenantScope(tenantID)).Preload("LineItems").Order("created_at DESC")
	if sessionID != nil {
		q = q.Where("table_session_id = ?", *sessionID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []models.DraftOrder
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// AddItem appends a line item; legal only while status = draft.
func (c *Coordinator) AddItem(tenantID, id uuid.UUID, expectedVersion int, actor uuid.UUID, in ItemInput) (*models.DraftOrder, error) {
	now := c.Now()
	err := c.DB.Transaction(func(tx *gorm.DB) error {
		d, err := c.lockDraft(tx, tenantID, id)
		if err != nil {
			return err
		}
		if d.Status != models.DraftStatusDraft {
			return ErrNotEditable
		}
		line, err := c.buildLineItem(tx, d, in, len(d.LineItems), now)
		if err != nil {
			return err
		}
		if err := tx.Create(line).Error; err != nil {
			return err
		}
		d.LineItems = append(d.LineItems, *line)
		c.recomputeMoney(d)
		return store.UpdateCAS(tx, &models.DraftOrder{}, tenantID, id, expectedVersion, map[string]interface{}{
			"subtotal":     d.Subtotal,
			"total_amount": d.TotalAmount,
			"updated_at":   now,
		})
	})
	if err != nil {
		return nil, err
	}
	return c.Get(tenantID, id)
}

// ItemPatch carries optional line item edits.
type ItemPatch struct {
	Quantity            *int                 `json:"quantity,omitempty"`
	Modifiers           *models.ModifierList `json:"modifiers,omitempty"`
	SpecialInstructions *string              `json:"special_instructions,omitempty"`
}

// UpdateItem edits one line item; legal only while status = draft.
func (c *Coordinator) UpdateItem(tenantID, id, itemID uuid.UUID, expectedVersion int, patch ItemPatch) (*models.DraftOrder, error) {
	now := c.Now()
	err := c.DB.Transaction(func(tx *gorm.DB) error {
		d, err := c.lockDraft(tx, tenantID, id)
		if err != nil {
			return err
		}
		if d.Status != models.DraftStatusDraft {
			return ErrNotEditable
		}
		var line models.DraftLineItem
		if err := tx.Scopes(store.TenantScope(tenantID)).First(&line, "id = ? AND draft_order_id = ?", itemID, id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("line item: %w", store.ErrNotFound)
			}
			return err
		}
		if patch.Quantity != nil {
			if *patch.Quantity <= 0 {
				return fmt.Errorf("%w: quantity must be positive", models.ErrValidation)
			}
			line.Quantity = *patch.Quantity
		}
		if patch.Modifiers != nil {
			line.Modifiers = *patch.Modifiers
		}
		if patch.SpecialInstructions != nil {
			line.SpecialInstructions = *patch.SpecialInstructions
		}
		line.LineTotal = lineTotal(line.PriceAtOrder, line.Modifiers, line.Quantity)
		line.UpdatedAt = now
		if err := tx.Save(&line).Error; err != nil {
			return err
		}
		for i := range d.LineItems {
			if d.LineItems[i].ID == line.ID {
				d.LineItems[i] = line
			}
		}
		c.recomputeMoney(d)
		return store.UpdateCAS(tx, &models.DraftOrder{}, tenantID, id, expectedVersion, map[string]interface{}{
			"subtotal":     d.Subtotal,
			"total_amount": d.TotalAmount,
			"updated_at":   now,
		})
	})
	if err != nil {
		return nil, err
	}
	return c.Get(tenantID, id)
}

// RemoveItem deletes one line item and its children; draft status only.
func (c *Coordinator) RemoveItem(tenantID, id, itemID uuid.UUID, expectedVersion int) (*models.DraftOrder, error) {
	now := c.Now()
	err := c.DB.Transaction(func(tx *gorm.DB) error {
		d, err := c.lockDraft(tx, tenantID, id)
		if err != nil {
			return err
		}
		if d.Status != models.DraftStatusDraft {
			return ErrNotEditable
		}
		res := tx.Scopes(store.TenantScope(tenantID)).
			Where("draft_order_id = ? AND (id = ? OR parent_line_item_id = ?)", id, itemID, itemID).
			Delete(&models.DraftLineItem{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("line item: %w", store.ErrNotFound)
		}
		kept := d.LineItems[:0]
		for _, li := range d.LineItems {
			if li.ID == itemID || (li.ParentLineItemID != nil && *li.ParentLineItemID == itemID) {
				continue
			}
			kept = append(kept, li)
		}
		d.LineItems = kept
		c.recomputeMoney(d)
		return store.UpdateCAS(tx, &models.DraftOrder{}, tenantID, id, expectedVersion, map[string]interface{}{
			"subtotal":     d.Subtotal,
			"total_amount": d.TotalAmount,
			"updated_at":   now,
		})
	})
	if err != nil {
		return nil, err
	}
	return c.Get(tenantID, id)
}

// Update applies draft-level edits. While pending, only the lock holder may
// touch money fields.
func (c *Coordinator) Update(tenantID, id uuid.UUID, expectedVersion int, actor uuid.UUID, patch Patch) (*models.DraftOrder, error) {
	now := c.Now()
	err := c.DB.Transaction(func(tx *gorm.DB) error {
		d, err := c.lockDraft(tx, tenantID, id)
		if err != nil {
			return err
		}
		switch d.Status {
		case models.DraftStatusDraft:
		case models.DraftStatusPending:
			if !c.holdsLease(d, actor, now) {
				return ErrLockNotHeld
			}
		default:
			return ErrNotEditable
		}

		updates := map[string]interface{}{"updated_at": now}
		if patch.SpecialRequests != nil {
			updates["special_requests"] = *patch.SpecialRequests
		}
		if patch.TipAmount != nil {
			d.TipAmount = *patch.TipAmount
			updates["tip_amount"] = *patch.TipAmount
		}
		if patch.DiscountAmount != nil {
			d.DiscountAmount = *patch.DiscountAmount
			updates["discount_amount"] = *patch.DiscountAmount
		}
		if patch.ServiceCharge != nil {
			d.ServiceCharge = *patch.ServiceCharge
			updates["service_charge"] = *patch.ServiceCharge
		}
		if patch.TaxAmount != nil {
			d.TaxAmount = *patch.TaxAmount
			updates["tax_amount"] = *patch.TaxAmount
		}
		c.recomputeMoney(d)
		updates["total_amount"] = d.TotalAmount
		return store.UpdateCAS(tx, &models.DraftOrder{}, tenantID, id, expectedVersion, updates)
	})
	if err != nil {
		return nil, err
	}
	return c.Get(tenantID, id)
}

// Submit moves a draft from draft to pending.
func (c *Coordinator) Submit(tenantID, id uuid.UUID, expectedVersion int, actor uuid.UUID) (*models.DraftOrder, error) {
	now := c.Now()
	var sessionID uuid.UUID
	err := c.DB.Transaction(func(tx *gorm.DB) error {
		d, err := c.lockDraft(tx, tenantID, id)
		if err != nil {
			return err
		}
		if err := models.ValidateDraftTransition(d.Status, models.DraftStatusPending); err != nil {
			return err
		}
		sessionID = d.TableSessionID
		if err := store.UpdateCAS(tx, &models.DraftOrder{}, tenantID, id, expectedVersion, map[string]interface{}{
			"status":       models.DraftStatusPending,
			"submitted_at": now,
			"updated_at":   now,
		}); err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, id, "draft", "draft.submitted", actor, "")
	})
	if err != nil {
		return nil, err
	}

	c.publish(events.Event{
		Type:    events.DraftSubmitted,
		Subject: events.Subject{Kind: events.SubjectTable, ID: sessionID},
		Payload: map[string]interface{}{"draft_id": id, "status": models.DraftStatusPending},
		At:      now,
	})
	return c.Get(tenantID, id)
}

// Acquire takes or refreshes the editing lease on a pending draft.
func (c *Coordinator) Acquire(tenantID, id uuid.UUID, expectedVersion int, waiter uuid.UUID) (*models.DraftOrder, error) {
	now := c.Now()
	var sessionID uuid.UUID
	err := c.DB.Transaction(func(tx *gorm.DB) error {
		d, err := c.lockDraft(tx, tenantID, id)
		if err != nil {
			return err
		}
		if d.Status != models.DraftStatusPending {
			return ErrLockInvalidState
		}
		if c.leaseActive(d, now) && *d.LockedBy != waiter {
			return ErrLockConflict
		}
		sessionID = d.TableSessionID
		if err := store.UpdateCAS(tx, &models.DraftOrder{}, tenantID, id, expectedVersion, map[string]interface{}{
			"locked_by":  waiter,
			"locked_at":  now,
			"updated_at": now,
		}); err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, id, "draft", "draft.acquired", waiter, "")
	})
	if err != nil {
		return nil, err
	}

	c.publish(events.Event{
		Type:    events.DraftAcquired,
		Subject: events.Subject{Kind: events.SubjectTable, ID: sessionID},
		Payload: map[string]interface{}{"draft_id": id, "locked_by": waiter},
		At:      now,
	})
	return c.Get(tenantID, id)
}

// Release gives up the caller's lease without changing draft status.
func (c *Coordinator) Release(tenantID, id uuid.UUID, expectedVersion int, waiter uuid.UUID) (*models.DraftOrder, error) {
	now := c.Now()
	err := c.DB.Transaction(func(tx *gorm.DB) error {
		d, err := c.lockDraft(tx, tenantID, id)
		if err != nil {
			return err
		}
		if !c.holdsLease(d, waiter, now) {
			return ErrLockNotHeld
		}
		return store.UpdateCAS(tx, &models.DraftOrder{}, tenantID, id, expectedVersion, map[string]interface{}{
			"locked_by":  nil,
			"locked_at":  nil,
			"updated_at": now,
		})
	})
	if err != nil {
		return nil, err
	}
	return c.Get(tenantID, id)
}

// Confirm converts a pending draft into an order, clears the lease, and
// leaves the draft terminal. Re-confirming a confirmed draft returns the
// existing order.
func (c *Coordinator) Confirm(tenantID, id uuid.UUID, expectedVersion int, waiter uuid.UUID) (*models.Order, error) {
	now := c.Now()
	var (
		order     models.Order
		sessionID uuid.UUID
		replay    bool
	)
	err := c.DB.Transaction(func(tx *gorm.DB) error {
		d, err := c.lockDraft(tx, tenantID, id)
		if err != nil {
			return err
		}
		if d.Status == models.DraftStatusConfirmed && d.OrderID != nil {
			replay = true
			return tx.Scopes(store.TenantScope(tenantID)).Preload("LineItems").First(&order, "id = ?", *d.OrderID).Error
		}
		if err := models.ValidateDraftTransition(d.Status, models.DraftStatusConfirmed); err != nil {
			return err
		}
		if !c.holdsLease(d, waiter, now) {
			return ErrLockNotHeld
		}
		sessionID = d.TableSessionID

		order = models.Order{
			ID:             uuid.New(),
			TenantID:       tenantID,
			TableSessionID: d.TableSessionID,
			DraftOrderID:   &d.ID,
			Status:         models.OrderStatusPending,
			Subtotal:       d.Subtotal,
			TaxAmount:      d.TaxAmount,
			DiscountAmount: d.DiscountAmount,
			ServiceCharge:  d.ServiceCharge,
			TipAmount:      d.TipAmount,
			TotalAmount:    d.TotalAmount,
			CreatedBy:      waiter,
			Version:        1,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.Create(&order).Error; err != nil {
			return err
		}
		for _, li := range d.LineItems {
			ol := models.OrderLineItem{
				ID:                  uuid.New(),
				TenantID:            tenantID,
				OrderID:             order.ID,
				MenuItemID:          li.MenuItemID,
				Name:                li.Name,
				Quantity:            li.Quantity,
				PriceAtOrder:        li.PriceAtOrder,
				LineTotal:           li.LineTotal,
				Modifiers:           li.Modifiers,
				SpecialInstructions: li.SpecialInstructions,
				Status:              models.OrderItemPending,
				SortOrder:           li.SortOrder,
				ParentLineItemID:    li.ParentLineItemID,
				CreatedAt:           now,
				UpdatedAt:           now,
			}
			if err := tx.Create(&ol).Error; err != nil {
				return err
			}
			order.LineItems = append(order.LineItems, ol)
		}

		if err := store.UpdateCAS(tx, &models.DraftOrder{}, tenantID, id, expectedVersion, map[string]interface{}{
			"status":       models.DraftStatusConfirmed,
			"order_id":     order.ID,
			"confirmed_by": waiter,
			"confirmed_at": now,
			"locked_by":    nil,
			"locked_at":    nil,
			"updated_at":   now,
		}); err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, id, "draft", "draft.confirmed", waiter, "")
	})
	if err != nil {
		return nil, err
	}
	if replay {
		return &order, nil
	}

	items := make([]map[string]interface{}, 0, len(order.LineItems))
	for _, li := range order.LineItems {
		items = append(items, map[string]interface{}{
			"name": li.Name, "quantity": li.Quantity, "line_total": li.LineTotal,
		})
	}
	c.publish(
		events.Event{
			Type:    events.DraftConfirmed,
			Subject: events.Subject{Kind: events.SubjectTable, ID: sessionID},
			Payload: map[string]interface{}{
				"draft_id": id,
				"order_id": order.ID,
				"items":    items,
				"total":    order.TotalAmount,
			},
			At: now,
		},
		events.Event{
			Type:    events.OrderCreated,
			Subject: events.Subject{Kind: events.SubjectTable, ID: sessionID},
			Payload: map[string]interface{}{"order_id": order.ID, "status": order.Status, "total": order.TotalAmount},
			At:      now,
		},
	)
	return &order, nil
}

// Reject moves a pending draft to rejected; requires the caller's lease.
func (c *Coordinator) Reject(tenantID, id uuid.UUID, expectedVersion int, waiter uuid.UUID, reason string) (*models.DraftOrder, error) {
	if reason == "" {
		return nil, fmt.Errorf("%w: rejection reason is required", models.ErrValidation)
	}
	now := c.Now()
	var sessionID uuid.UUID
	err := c.DB.Transaction(func(tx *gorm.DB) error {
		d, err := c.lockDraft(tx, tenantID, id)
		if err != nil {
			return err
		}
		if err := models.ValidateDraftTransition(d.Status, models.DraftStatusRejected); err != nil {
			return err
		}
		if !c.holdsLease(d, waiter, now) {
			return ErrLockNotHeld
		}
		sessionID = d.TableSessionID
		if err := store.UpdateCAS(tx, &models.DraftOrder{}, tenantID, id, expectedVersion, map[string]interface{}{
			"status":           models.DraftStatusRejected,
			"rejection_reason": reason,
			"locked_by":        nil,
			"locked_at":        nil,
			"updated_at":       now,
		}); err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, id, "draft", "draft.rejected", waiter, "")
	})
	if err != nil {
		return nil, err
	}

	c.publish(events.Event{
		Type:    events.DraftRejected,
		Subject: events.Subject{Kind: events.SubjectTable, ID: sessionID},
		Payload: map[string]interface{}{"draft_id": id, "reason": reason},
		At:      now,
	})
	return c.Get(tenantID, id)
}

// Reassign moves a pending draft to a different table session in place.
func (c *Coordinator) Reassign(tenantID, id uuid.UUID, expectedVersion int, actor, newSessionID uuid.UUID) (*models.DraftOrder, error) {
	now := c.Now()
	var oldSession uuid.UUID
	err := c.DB.Transaction(func(tx *gorm.DB) error {
		d, err := c.lockDraft(tx, tenantID, id)
		if err != nil {
			return err
		}
		if d.Status != models.DraftStatusPending {
			return fmt.Errorf("%w: draft %s -> reassign", models.ErrInvalidTransition, d.Status)
		}
		var session models.TableSession
		if err := tx.Scopes(store.TenantScope(tenantID)).First(&session, "id = ?", newSessionID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("table session: %w", store.ErrNotFound)
			}
			return err
		}
		oldSession = d.TableSessionID
		if err := store.UpdateCAS(tx, &models.DraftOrder{}, tenantID, id, expectedVersion, map[string]interface{}{
			"table_session_id": newSessionID,
			"updated_at":       now,
		}); err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, id, "draft", "draft.reassigned", actor, "")
	})
	if err != nil {
		return nil, err
	}

	payload := map[string]interface{}{
		"draft_id":    id,
		"old_session": oldSession,
		"new_session": newSessionID,
	}
	c.publish(
		events.Event{
			Type:    events.DraftReassigned,
			Subject: events.Subject{Kind: events.SubjectTable, ID: oldSession},
			Payload: payload,
			At:      now,
		},
		events.Event{
			Type:    events.DraftReassigned,
			Subject: events.Subject{Kind: events.SubjectTable, ID: newSessionID},
			Payload: payload,
			At:      now,
		},
	)
	return c.Get(tenantID, id)
}

func (c *Coordinator) lockDraft(tx *gorm.DB, tenantID, id uuid.UUID) (*models.DraftOrder, error) {
	var d models.DraftOrder
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Scopes(store.TenantScope(tenantID)).
		Preload("LineItems").
		First(&d, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (c *Coordinator) leaseActive(d *models.DraftOrder, now time.Time) bool {
	return d.LockedBy != nil && d.LockedAt != nil && now.Sub(*d.LockedAt) < c.LockTTL
}

func (c *Coordinator) holdsLease(d *models.DraftOrder, user uuid.UUID, now time.Time) bool {
	return c.leaseActive(d, now) && *d.LockedBy == user
}

func (c *Coordinator) buildLineItem(tx *gorm.DB, d *models.DraftOrder, in ItemInput, sortOrder int, now time.Time) (*models.DraftLineItem, error) {
	if in.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive", models.ErrValidation)
	}
	var item models.MenuItem
	if err := tx.Scopes(store.TenantScope(d.TenantID)).First(&item, "id = ?", in.MenuItemID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("menu item: %w", store.ErrNotFound)
		}
		return nil, err
	}
	line := &models.DraftLineItem{
		ID:                  uuid.New(),
		TenantID:            d.TenantID,
		DraftOrderID:        d.ID,
		MenuItemID:          item.ID,
		Name:                item.Name,
		Quantity:            in.Quantity,
		PriceAtOrder:        item.Price,
		Modifiers:           in.Modifiers,
		SpecialInstructions: in.SpecialInstructions,
		SortOrder:           sortOrder,
		ParentLineItemID:    in.ParentLineItemID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	line.LineTotal = lineTotal(line.PriceAtOrder, line.Modifiers, line.Quantity)
	return line, nil
}

func lineTotal(price decimal.Decimal, mods models.ModifierList, quantity int) decimal.Decimal {
	unit := price
	for _, m := range mods {
		unit = unit.Add(m.PriceAdjustment)
	}
	return unit.Mul(decimal.NewFromInt(int64(quantity))).Round(2)
}

func (c *Coordinator) recomputeMoney(d *models.DraftOrder) {
	subtotal := decimal.Zero
	for _, li := range d.LineItems {
		subtotal = subtotal.Add(li.LineTotal)
	}
	d.Subtotal = subtotal.Round(2)
	d.TotalAmount = d.Subtotal.
		Add(d.TaxAmount).
		Add(d.ServiceCharge).
		Add(d.TipAmount).
		Sub(d.DiscountAmount).
		Round(2)
}

func (c *Coordinator) publish(evs ...events.Event) {
	if c.Bus == nil {
		return
	}
	c.Bus.PublishAll(evs)
}

