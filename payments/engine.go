// Package payments implements the two-phase payment lifecycle: intents,
// per-method processors, split allocation, refunds, and idempotent webhook
// ingestion for the external QR provider.
package payments

import (
	"context"
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
	"restocore/observability/metrics"
	"restocore/shifts"
	"restocore/store"
)

// SplitTolerance is the permitted rounding slack on split allocations.
var SplitTolerance = decimal.NewFromFloat(0.01)

var (
	// ErrSplitMismatch is returned when split parts do not sum to the order total.
	ErrSplitMismatch = errors.New("split amounts do not sum to order total")
	// ErrAlreadyRefunded is returned for a second refund of the same payment.
	ErrAlreadyRefunded = errors.New("payment already refunded")
	// ErrQRExpired is returned when a QR intent is past its expiry.
	ErrQRExpired = errors.New("qr code expired")
	// ErrUnsupportedMethod is returned for a method the processor cannot handle.
	ErrUnsupportedMethod = errors.New("unsupported payment method")
)

// Engine owns all payment mutations.
type Engine struct {
	DB       *gorm.DB
	Bus      *events.Bus
	Ledger   *shifts.Ledger
	Provider QRProvider
	Log      *slog.Logger
	Now      func() time.Time
	// QRExpirationMinutes is passed to the provider when minting QR orders.
	QRExpirationMinutes int
	Currency            string
}

// NewEngine constructs an Engine with defaults.
func NewEngine(db *gorm.DB, bus *events.Bus, ledger *shifts.Ledger, provider QRProvider, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		DB:                  db,
		Bus:                 bus,
		Ledger:              ledger,
		Provider:            provider,
		Log:                 log,
		Now:                 func() time.Time { return time.Now().UTC() },
		QRExpirationMinutes: 30,
		Currency:            "ARS",
	}
}

// IntentInput describes a new payment intent.
type IntentInput struct {
	OrderID   uuid.UUID            `json:"order_id"`
	Method    models.PaymentMethod `json:"method"`
	Amount    decimal.Decimal      `json:"amount"`
	TipAmount decimal.Decimal      `json:"tip_amount"`
}

// CreateIntent opens a pending intent against an order.
func (e *Engine) CreateIntent(tenantID uuid.UUID, in IntentInput, actor uuid.UUID) (*models.PaymentIntent, error) {
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	switch in.Method {
	case models.MethodCash, models.MethodCard, models.MethodTerminal, models.MethodQR:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMethod, in.Method)
	}
	now := e.Now()
	intent := models.PaymentIntent{
		ID:        uuid.New(),
		TenantID:  tenantID,
		OrderID:   in.OrderID,
		Method:    in.Method,
		Status:    models.IntentStatusPending,
		Amount:    in.Amount.Round(2),
		TipAmount: in.TipAmount.Round(2),
		Currency:  e.Currency,
		CreatedBy: actor,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := e.DB.Transaction(func(tx *gorm.DB) error {
		if _, err := e.lockOrder(tx, tenantID, in.OrderID); err != nil {
			return err
		}
		if err := tx.Create(&intent).Error; err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, intent.ID, "payment_intent", "intent.created", actor, string(in.Method))
	})
	if err != nil {
		return nil, err
	}
	return &intent, nil
}

// CreateQRIntent opens a qr intent and mints the QR payload with the
// external provider. The intent's idempotency key is the external reference
// the provider echoes back on its webhook.
func (e *Engine) CreateQRIntent(ctx context.Context, tenantID uuid.UUID, in IntentInput, actor uuid.UUID) (*models.PaymentIntent, error) {
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", models.ErrValidation)
	}
	now := e.Now()

	var order models.Order
	if err := e.DB.Scopes(store.TenantScope(tenantID)).Preload("LineItems").
		First(&order, "id = ?", in.OrderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	var session models.TableSession
	if err := e.DB.Scopes(store.TenantScope(tenantID)).
		First(&session, "id = ?", order.TableSessionID).Error; err != nil {
		return nil, err
	}

	externalRef := fmt.Sprintf("order_%s_%s", order.ID, uuid.NewString()[:8])
	items := make([]OrderItem, 0, len(order.LineItems))
	for _, li := range order.LineItems {
		items = append(items, OrderItem{
			ID:        li.MenuItemID.String(),
			Name:      li.Name,
			UnitPrice: li.PriceAtOrder,
			Quantity:  li.Quantity,
		})
	}
	req := CreateOrderRequest{
		TableID:           session.TableID,
		OrderID:           order.ID,
		TotalAmount:       in.Amount.Round(2),
		Items:             items,
		ExternalReference: externalRef,
		ExpirationMinutes: e.QRExpirationMinutes,
	}
	if in.TipAmount.IsPositive() {
		tip := in.TipAmount.Round(2)
		req.TipAmount = &tip
	}

	callCtx, cancel := context.WithTimeout(ctx, providerTimeout)
	defer cancel()
	resp, err := e.Provider.CreateOrder(callCtx, req)
	if err != nil {
		return nil, err
	}

	intent := models.PaymentIntent{
		ID:             uuid.New(),
		TenantID:       tenantID,
		OrderID:        order.ID,
		Method:         models.MethodQR,
		Status:         models.IntentStatusPending,
		Amount:         in.Amount.Round(2),
		TipAmount:      in.TipAmount.Round(2),
		Currency:       e.Currency,
		IdempotencyKey: &externalRef,
		QRCode:         resp.QRData,
		QRExpiresAt:    &resp.ExpiresAt,
		CreatedBy:      actor,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err = e.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&intent).Error; err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, intent.ID, "payment_intent", "intent.qr_created", actor, externalRef)
	})
	if err != nil {
		return nil, err
	}

	e.publish(events.Event{
		Type:    events.PaymentCreated,
		Subject: events.Subject{Kind: events.SubjectTable, ID: order.TableSessionID},
		Payload: map[string]interface{}{
			"intent_id": intent.ID,
			"order_id":  order.ID,
			"method":    intent.Method,
			"amount":    intent.Amount,
			"qr_code":   intent.QRCode,
		},
		At: now,
	})
	return &intent, nil
}

// GetIntent loads one intent.
func (e *Engine) GetIntent(tenantID, id uuid.UUID) (*models.PaymentIntent, error) {
	return store.Get[models.PaymentIntent](e.DB, tenantID, id)
}

// QRStatus reports an intent's current state for polling clients.
func (e *Engine) QRStatus(tenantID, intentID uuid.UUID) (*models.PaymentIntent, error) {
	intent, err := e.GetIntent(tenantID, intentID)
	if err != nil {
		return nil, err
	}
	if intent.Status == models.IntentStatusPending &&
		intent.QRExpiresAt != nil && e.Now().After(*intent.QRExpiresAt) {
		return intent, ErrQRExpired
	}
	return intent, nil
}

// Process executes an intent according to its method. Cash completes
// synchronously and writes the drawer event; card and terminal start an
// asynchronous capture resolved by ResolvePayment.
func (e *Engine) Process(tenantID, intentID uuid.UUID, expectedVersion int, actor uuid.UUID) (*models.Payment, error) {
	now := e.Now()
	var (
		payment   models.Payment
		sessionID uuid.UUID
		completed bool
	)
	err := e.DB.Transaction(func(tx *gorm.DB) error {
		intent, err := e.lockIntent(tx, tenantID, intentID)
		if err != nil {
			return err
		}
		order, err := e.lockOrder(tx, tenantID, intent.OrderID)
		if err != nil {
			return err
		}
		sessionID = order.TableSessionID

		switch intent.Method {
		case models.MethodCash:
			if err := models.ValidateIntentTransition(intent.Status, models.IntentStatusCompleted); err != nil {
				return err
			}
			payment = e.newPayment(intent, models.PaymentStatusCompleted, actor, now)
			payment.CompletedAt = &now
			if err := tx.Create(&payment).Error; err != nil {
				return err
			}
			if err := e.Ledger.RecordCashPayment(tx, tenantID, actor, &payment); err != nil {
				return err
			}
			if err := store.UpdateCAS(tx, &models.PaymentIntent{}, tenantID, intentID, expectedVersion, map[string]interface{}{
				"status":     models.IntentStatusCompleted,
				"updated_at": now,
			}); err != nil {
				return err
			}
			if err := e.recomputeOrderPayment(tx, tenantID, order.ID); err != nil {
				return err
			}
			completed = true
		case models.MethodCard, models.MethodTerminal:
			if err := models.ValidateIntentTransition(intent.Status, models.IntentStatusInProgress); err != nil {
				return err
			}
			payment = e.newPayment(intent, models.PaymentStatusProcessing, actor, now)
			if err := tx.Create(&payment).Error; err != nil {
				return err
			}
			if err := store.UpdateCAS(tx, &models.PaymentIntent{}, tenantID, intentID, expectedVersion, map[string]interface{}{
				"status":     models.IntentStatusInProgress,
				"updated_at": now,
			}); err != nil {
				return err
			}
		case models.MethodQR:
			return fmt.Errorf("%w: qr intents resolve via webhook", ErrUnsupportedMethod)
		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedMethod, intent.Method)
		}
		return store.AppendAudit(tx, tenantID, payment.ID, "payment", "payment.processed", actor, string(intent.Method))
	})
	if err != nil {
		return nil, err
	}

	if completed {
		metrics.PaymentsCompleted.WithLabelValues(string(payment.Method)).Inc()
		e.publish(events.Event{
			Type:    events.PaymentCompleted,
			Subject: events.Subject{Kind: events.SubjectTable, ID: sessionID},
			Payload: paymentPayload(&payment),
			At:      now,
		})
	} else {
		e.publish(events.Event{
			Type:    events.PaymentCreated,
			Subject: events.Subject{Kind: events.SubjectTable, ID: sessionID},
			Payload: paymentPayload(&payment),
			At:      now,
		})
	}
	return &payment, nil
}

// ResolvePayment finishes an asynchronous card or terminal capture.
func (e *Engine) ResolvePayment(tenantID, paymentID uuid.UUID, expectedVersion int, success bool, providerRef, failureReason string) (*models.Payment, error) {
	now := e.Now()
	var (
		payment   *models.Payment
		sessionID uuid.UUID
	)
	err := e.DB.Transaction(func(tx *gorm.DB) error {
		p, err := e.lockPayment(tx, tenantID, paymentID)
		if err != nil {
			return err
		}
		order, err := e.lockOrder(tx, tenantID, p.OrderID)
		if err != nil {
			return err
		}
		sessionID = order.TableSessionID

		next := models.PaymentStatusCompleted
		intentNext := models.IntentStatusCompleted
		if !success {
			next = models.PaymentStatusFailed
			intentNext = models.IntentStatusFailed
		}
		if err := models.ValidatePaymentTransition(p.Status, next); err != nil {
			return err
		}
		updates := map[string]interface{}{
			"status":       next,
			"provider_ref": providerRef,
			"updated_at":   now,
		}
		if success {
			updates["completed_at"] = now
		} else {
			updates["failure_reason"] = failureReason
		}
		if err := store.UpdateCAS(tx, &models.Payment{}, tenantID, paymentID, expectedVersion, updates); err != nil {
			return err
		}

		var intent models.PaymentIntent
		if err := tx.Scopes(store.TenantScope(tenantID)).First(&intent, "id = ?", p.IntentID).Error; err != nil {
			return err
		}
		if err := models.ValidateIntentTransition(intent.Status, intentNext); err == nil {
			if err := store.UpdateCAS(tx, &models.PaymentIntent{}, tenantID, intent.ID, intent.Version, map[string]interface{}{
				"status":     intentNext,
				"updated_at": now,
			}); err != nil {
				return err
			}
		}

		if success {
			p.Status = next
			p.CompletedAt = &now
			if p.Method == models.MethodCard || p.Method == models.MethodTerminal {
				if err := e.Ledger.RecordCardPayment(tx, tenantID, p.ProcessedBy, p); err != nil {
					return err
				}
			}
			if err := e.recomputeOrderPayment(tx, tenantID, p.OrderID); err != nil {
				return err
			}
		}
		payment = p
		return store.AppendAudit(tx, tenantID, p.ID, "payment", "payment.resolved", p.ProcessedBy, string(next))
	})
	if err != nil {
		return nil, err
	}

	eventType := events.PaymentCompleted
	if !success {
		eventType = events.PaymentFailed
	} else {
		metrics.PaymentsCompleted.WithLabelValues(string(payment.Method)).Inc()
	}
	fresh, err := e.GetPayment(tenantID, paymentID)
	if err != nil {
		return nil, err
	}
	e.publish(events.Event{
		Type:    eventType,
		Subject: events.Subject{Kind: events.SubjectTable, ID: sessionID},
		Payload: paymentPayload(fresh),
		At:      now,
	})
	return fresh, nil
}

// SplitPart is one child allocation of a split payment.
type SplitPart struct {
	Method    models.PaymentMethod `json:"method"`
	Amount    decimal.Decimal      `json:"amount"`
	TipAmount decimal.Decimal      `json:"tip_amount"`
}

// Split settles an order with multiple tenders. The child amounts must sum
// to the order total within the tolerance. Each child is processed by its
// own method and receives an allocation record.
func (e *Engine) Split(tenantID, orderID uuid.UUID, parts []SplitPart, actor uuid.UUID) ([]models.Payment, error) {
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: split requires at least two parts", models.ErrValidation)
	}
	for _, p := range parts {
		switch p.Method {
		case models.MethodCash, models.MethodCard, models.MethodTerminal:
		default:
			return nil, fmt.Errorf("%w in split: %s", ErrUnsupportedMethod, p.Method)
		}
		if !p.Amount.IsPositive() {
			return nil, fmt.Errorf("%w: split amounts must be positive", models.ErrValidation)
		}
	}

	var order models.Order
	if err := e.DB.Scopes(store.TenantScope(tenantID)).First(&order, "id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	sum := decimal.Zero
	for _, p := range parts {
		sum = sum.Add(p.Amount)
	}
	if sum.Sub(order.TotalAmount).Abs().GreaterThan(SplitTolerance) {
		return nil, fmt.Errorf("%w: %s != %s", ErrSplitMismatch, sum.StringFixed(2), order.TotalAmount.StringFixed(2))
	}

	out := make([]models.Payment, 0, len(parts))
	for _, part := range parts {
		intent, err := e.CreateIntent(tenantID, IntentInput{
			OrderID:   orderID,
			Method:    part.Method,
			Amount:    part.Amount,
			TipAmount: part.TipAmount,
		}, actor)
		if err != nil {
			return nil, err
		}
		payment, err := e.Process(tenantID, intent.ID, intent.Version, actor)
		if err != nil {
			return nil, err
		}
		now := e.Now()
		alloc := models.OrderPayment{
			ID:              uuid.New(),
			TenantID:        tenantID,
			OrderID:         orderID,
			PaymentID:       payment.ID,
			AllocatedAmount: part.Amount.Round(2),
			CreatedAt:       now,
		}
		if err := e.DB.Create(&alloc).Error; err != nil {
			return nil, err
		}
		out = append(out, *payment)
	}
	return out, nil
}

// RefundInput carries the refund request.
type RefundInput struct {
	Amount     decimal.Decimal `json:"amount"`
	ReasonCode string          `json:"reason_code"`
	Reason     string          `json:"reason,omitempty"`
}

// Refund reverses a completed payment. One completed refund per payment; a
// cash refund appends a negative cash_shortage drawer event.
func (e *Engine) Refund(tenantID, paymentID uuid.UUID, in RefundInput, actor uuid.UUID) (*models.Refund, error) {
	if !in.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: refund amount must be positive", models.ErrValidation)
	}
	if in.ReasonCode == "" {
		return nil, fmt.Errorf("%w: reason_code is required", models.ErrValidation)
	}
	now := e.Now()
	var (
		refund    models.Refund
		sessionID uuid.UUID
	)
	err := e.DB.Transaction(func(tx *gorm.DB) error {
		p, err := e.lockPayment(tx, tenantID, paymentID)
		if err != nil {
			return err
		}
		if p.Status != models.PaymentStatusCompleted {
			return fmt.Errorf("%w: payment %s -> refunded", models.ErrInvalidTransition, p.Status)
		}
		var prior int64
		if err := tx.Model(&models.Refund{}).
			Where("tenant_id = ? AND payment_id = ? AND status = ?", tenantID, paymentID, models.RefundStatusCompleted).
			Count(&prior).Error; err != nil {
			return err
		}
		if prior > 0 {
			return ErrAlreadyRefunded
		}
		if in.Amount.GreaterThan(p.Amount) {
			return fmt.Errorf("%w: refund amount exceeds payment amount", models.ErrValidation)
		}
		order, err := e.lockOrder(tx, tenantID, p.OrderID)
		if err != nil {
			return err
		}
		sessionID = order.TableSessionID

		refund = models.Refund{
			ID:          uuid.New(),
			TenantID:    tenantID,
			PaymentID:   p.ID,
			OrderID:     p.OrderID,
			Status:      models.RefundStatusRequested,
			Amount:      in.Amount.Round(2),
			ReasonCode:  in.ReasonCode,
			Reason:      in.Reason,
			RequestedBy: actor,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := tx.Create(&refund).Error; err != nil {
			return err
		}
		if err := store.UpdateCAS(tx, &models.Payment{}, tenantID, p.ID, p.Version, map[string]interface{}{
			"status":      models.PaymentStatusRefunded,
			"refunded_at": now,
			"updated_at":  now,
		}); err != nil {
			return err
		}
		if p.Method == models.MethodCash {
			if err := e.Ledger.RecordCashRefund(tx, tenantID, actor, &refund, actor); err != nil {
				return err
			}
		}
		refund.Status = models.RefundStatusCompleted
		refund.CompletedAt = &now
		if err := tx.Model(&models.Refund{}).Where("id = ?", refund.ID).Updates(map[string]interface{}{
			"status":       models.RefundStatusCompleted,
			"completed_at": now,
			"updated_at":   now,
		}).Error; err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, refund.ID, "refund", "refund.created", actor, in.ReasonCode)
	})
	if err != nil {
		return nil, err
	}

	e.publish(events.Event{
		Type:    events.RefundCreated,
		Subject: events.Subject{Kind: events.SubjectTable, ID: sessionID},
		Payload: map[string]interface{}{
			"refund_id":  refund.ID,
			"payment_id": refund.PaymentID,
			"order_id":   refund.OrderID,
			"amount":     refund.Amount,
			"reason":     refund.ReasonCode,
		},
		At: now,
	})
	return &refund, nil
}

// GetPayment loads one payment.
func (e *Engine) GetPayment(tenantID, id uuid.UUID) (*models.Payment, error) {
	return store.Get[models.Payment](e.DB, tenantID, id)
}

// PaymentFilter narrows payment listings.
type PaymentFilter struct {
	OrderID *uuid.UUID
	Status  models.PaymentStatus
	Method  models.PaymentMethod
	Since   *time.Time
	Until   *time.Time
	Limit   int
}

// ListPayments returns payments newest first.
func (e *Engine) ListPayments(tenantID uuid.UUID, f PaymentFilter) ([]models.Payment, error) {
	q := e.DB.Scopes(store.TenantScope(tenantID)).Order("created_at DESC")
	if f.OrderID != nil {
		q = q.Where("order_id = ?", *f.OrderID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Method != "" {
		q = q.Where("method = ?", f.Method)
	}
	if f.Since != nil {
		q = q.Where("created_at >= ?", *f.Since)
	}
	if f.Until != nil {
		q = q.Where("created_at < ?", *f.Until)
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	var out []models.Payment
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Engine) newPayment(intent *models.PaymentIntent, status models.PaymentStatus, actor uuid.UUID, now time.Time) models.Payment {
	return models.Payment{
		ID:          uuid.New(),
		TenantID:    intent.TenantID,
		OrderID:     intent.OrderID,
		IntentID:    intent.ID,
		Method:      intent.Method,
		Status:      status,
		Amount:      intent.Amount,
		TipAmount:   intent.TipAmount,
		Currency:    intent.Currency,
		ProcessedBy: actor,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// recomputeOrderPayment recalculates the order's paid status from the sum
// of its completed payments.
func (e *Engine) recomputeOrderPayment(tx *gorm.DB, tenantID, orderID uuid.UUID) error {
	var order models.Order
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Scopes(store.TenantScope(tenantID)).
		First(&order, "id = ?", orderID).Error; err != nil {
		return err
	}
	var paid decimal.Decimal
	if err := tx.Model(&models.Payment{}).
		Where("tenant_id = ? AND order_id = ? AND status = ?", tenantID, orderID, models.PaymentStatusCompleted).
		Select("COALESCE(SUM(amount),0)").
		Scan(&paid).Error; err != nil {
		return err
	}

	next := models.OrderStatusInProgress
	if paid.GreaterThanOrEqual(order.TotalAmount) {
		next = models.OrderStatusPaid
	}
	if order.Status == next || models.ValidateOrderTransition(order.Status, next) != nil {
		return nil
	}
	return store.UpdateCAS(tx, &models.Order{}, tenantID, orderID, order.Version, map[string]interface{}{
		"status":     next,
		"updated_at": e.Now(),
	})
}

func (e *Engine) lockIntent(tx *gorm.DB, tenantID, id uuid.UUID) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Scopes(store.TenantScope(tenantID)).
		First(&intent, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &intent, nil
}

func (e *Engine) lockPayment(tx *gorm.DB, tenantID, id uuid.UUID) (*models.Payment, error) {
	var p models.Payment
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Scopes(store.TenantScope(tenantID)).
		First(&p, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (e *Engine) lockOrder(tx *gorm.DB, tenantID, id uuid.UUID) (*models.Order, error) {
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

// orderSessionID resolves the table session an order belongs to, used for
// routing payment frames.
func (e *Engine) orderSessionID(tenantID, orderID uuid.UUID) (uuid.UUID, error) {
	var order models.Order
	if err := e.DB.Scopes(store.TenantScope(tenantID)).First(&order, "id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return uuid.Nil, store.ErrNotFound
		}
		return uuid.Nil, err
	}
	return order.TableSessionID, nil
}

func (e *Engine) publishCompleted(p *models.Payment, sessionID uuid.UUID, at time.Time) {
	e.publish(events.Event{
		Type:    events.PaymentCompleted,
		Subject: events.Subject{Kind: events.SubjectTable, ID: sessionID},
		Payload: paymentPayload(p),
		At:      at,
	})
}

func (e *Engine) publish(evs ...events.Event) {
	if e.Bus == nil {
		return
	}
	e.Bus.PublishAll(evs)
}

func paymentPayload(p *models.Payment) map[string]interface{} {
	return map[string]interface{}{
		"payment_id": p.ID,
		"order_id":   p.OrderID,
		"intent_id":  p.IntentID,
		"method":     p.Method,
		"status":     p.Status,
		"amount":     p.Amount,
	}
}
