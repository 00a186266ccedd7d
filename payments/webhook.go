package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"restocore/models"
	"restocore/observability/metrics"
	"restocore/store"
)

const webhookProvider = "mercadopago"

// Notification is the inbound provider webhook body.
type Notification struct {
	ActionType string `json:"action_type"`
	Data       struct {
		ID                string  `json:"id"`
		ExternalReference string  `json:"external_reference"`
		Status            string  `json:"status"`
		TotalAmount       float64 `json:"total_amount"`
	} `json:"data"`
}

// Processor ingests provider webhooks. Each (provider, external_reference)
// pair is recorded once; replays are acknowledged without side effects.
type Processor struct {
	Engine *Engine
	Log    *slog.Logger
}

// NewProcessor constructs a webhook Processor.
func NewProcessor(engine *Engine, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{Engine: engine, Log: log}
}

// HandleNotification processes one webhook. It returns nil for anything the
// provider should not retry, including duplicates and references we do not
// recognize.
func (p *Processor) HandleNotification(ctx context.Context, n Notification, raw []byte) error {
	switch n.ActionType {
	case "payment.created", "payment.updated", "order.paid", "order.closed",
		"order.cancelled", "order.expired", "test":
	default:
		p.Log.Warn("webhook: unknown action ignored", "action", n.ActionType)
		return nil
	}
	if n.Data.ExternalReference == "" {
		p.Log.Warn("webhook: missing external_reference", "action", n.ActionType)
		return nil
	}

	now := p.Engine.Now()
	entry := models.WebhookLog{
		ID:                uuid.New(),
		Provider:          webhookProvider,
		ExternalReference: n.Data.ExternalReference,
		ActionType:        n.ActionType,
		Status:            n.Data.Status,
		RawPayload:        string(raw),
		CreatedAt:         now,
	}
	if err := p.Engine.DB.Create(&entry).Error; err != nil {
		if !store.IsDuplicateKey(err) {
			return err
		}
		var prior models.WebhookLog
		if lookErr := p.Engine.DB.First(&prior, "provider = ? AND external_reference = ?",
			webhookProvider, n.Data.ExternalReference).Error; lookErr != nil {
			return lookErr
		}
		if prior.Processed {
			metrics.WebhookDuplicates.Inc()
			p.Log.Info("webhook: duplicate ignored", "reference", n.Data.ExternalReference)
			return nil
		}
		// An earlier delivery was recorded but never finished; run it again.
		entry = prior
	}

	settled, err := p.dispatch(ctx, n, now)
	if err != nil {
		return err
	}
	if !settled {
		return nil
	}
	return p.Engine.DB.Model(&models.WebhookLog{}).
		Where("id = ?", entry.ID).
		Update("processed", true).Error
}

// dispatch applies one notification. The bool reports whether a terminal
// outcome was reached; a false return leaves the log entry unprocessed so a
// provider retry runs the notification again.
func (p *Processor) dispatch(ctx context.Context, n Notification, now time.Time) (bool, error) {
	// The webhook carries no tenant; the external reference is unique
	// across tenants by construction.
	var intent models.PaymentIntent
	err := p.Engine.DB.First(&intent, "idempotency_key = ?", n.Data.ExternalReference).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			p.Log.Warn("webhook: no intent for reference", "reference", n.Data.ExternalReference)
			return true, nil
		}
		return false, err
	}

	switch n.Data.Status {
	case "paid", "closed":
		return true, p.completeQR(&intent, now)
	case "cancelled":
		return true, p.failQR(&intent, models.IntentStatusCancelled, "cancelled by provider", now)
	case "expired":
		return true, p.failQR(&intent, models.IntentStatusFailed, "qr order expired", now)
	default:
		// Non-final or unknown status: ask the provider for the truth.
		callCtx, cancel := context.WithTimeout(ctx, providerTimeout)
		defer cancel()
		resolved, err := p.Engine.Provider.OrderStatus(callCtx, n.Data.ExternalReference)
		if err != nil {
			p.Log.Error("webhook: status lookup failed",
				"reference", n.Data.ExternalReference, "error", err)
			return false, err
		}
		switch resolved {
		case "paid", "closed":
			return true, p.completeQR(&intent, now)
		case "cancelled":
			return true, p.failQR(&intent, models.IntentStatusCancelled, "cancelled by provider", now)
		case "expired":
			return true, p.failQR(&intent, models.IntentStatusFailed, "qr order expired", now)
		default:
			p.Log.Info("webhook: non-final status, waiting",
				"reference", n.Data.ExternalReference, "status", resolved)
			return false, nil
		}
	}
}

// completeQR creates the completed payment for a paid QR intent and settles
// the order. Safe to call once per intent; a completed intent is a no-op.
func (p *Processor) completeQR(intent *models.PaymentIntent, now time.Time) error {
	e := p.Engine
	var payment models.Payment
	err := e.DB.Transaction(func(tx *gorm.DB) error {
		fresh, err := e.lockIntent(tx, intent.TenantID, intent.ID)
		if err != nil {
			return err
		}
		if fresh.Status == models.IntentStatusCompleted {
			return nil
		}
		if err := models.ValidateIntentTransition(fresh.Status, models.IntentStatusCompleted); err != nil {
			return err
		}
		payment = e.newPayment(fresh, models.PaymentStatusCompleted, fresh.CreatedBy, now)
		payment.CompletedAt = &now
		payment.ProviderRef = *fresh.IdempotencyKey
		if err := tx.Create(&payment).Error; err != nil {
			return err
		}
		if err := store.UpdateCAS(tx, &models.PaymentIntent{}, fresh.TenantID, fresh.ID, fresh.Version, map[string]interface{}{
			"status":     models.IntentStatusCompleted,
			"updated_at": now,
		}); err != nil {
			return err
		}
		if err := e.recomputeOrderPayment(tx, fresh.TenantID, fresh.OrderID); err != nil {
			return err
		}
		return store.AppendAudit(tx, fresh.TenantID, payment.ID, "payment", "payment.qr_completed", fresh.CreatedBy, *fresh.IdempotencyKey)
	})
	if err != nil {
		return err
	}
	if payment.ID == uuid.Nil {
		return nil
	}

	metrics.PaymentsCompleted.WithLabelValues(string(models.MethodQR)).Inc()
	sessionID, err := e.orderSessionID(intent.TenantID, intent.OrderID)
	if err != nil {
		p.Log.Error("webhook: session lookup", "order", intent.OrderID, "error", err)
		return nil
	}
	e.publishCompleted(&payment, sessionID, now)
	return nil
}

// failQR moves a QR intent to a terminal failure state.
func (p *Processor) failQR(intent *models.PaymentIntent, next models.IntentStatus, reason string, now time.Time) error {
	e := p.Engine
	var changed bool
	err := e.DB.Transaction(func(tx *gorm.DB) error {
		fresh, err := e.lockIntent(tx, intent.TenantID, intent.ID)
		if err != nil {
			return err
		}
		if fresh.Status == next {
			return nil
		}
		if err := models.ValidateIntentTransition(fresh.Status, next); err != nil {
			return err
		}
		if err := store.UpdateCAS(tx, &models.PaymentIntent{}, fresh.TenantID, fresh.ID, fresh.Version, map[string]interface{}{
			"status":     next,
			"updated_at": now,
		}); err != nil {
			return err
		}
		// Any payment still open against the intent fails with it.
		if err := tx.Model(&models.Payment{}).
			Where("tenant_id = ? AND intent_id = ? AND status IN ?", fresh.TenantID, fresh.ID,
				[]models.PaymentStatus{models.PaymentStatusPending, models.PaymentStatusProcessing}).
			Updates(map[string]interface{}{
				"status":         models.PaymentStatusFailed,
				"failure_reason": reason,
				"updated_at":     now,
			}).Error; err != nil {
			return err
		}
		changed = true
		return store.AppendAudit(tx, fresh.TenantID, fresh.ID, "payment_intent", "intent.failed", fresh.CreatedBy, reason)
	})
	if err != nil {
		return err
	}
	if changed {
		p.Log.Info("webhook: intent closed", "intent", intent.ID, "status", next, "reason", reason)
	}
	return nil
}

// DecodeNotification parses the raw webhook body.
func DecodeNotification(raw []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(raw, &n); err != nil {
		return n, fmt.Errorf("decode notification: %w", err)
	}
	return n, nil
}
