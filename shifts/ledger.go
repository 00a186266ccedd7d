// Package shifts implements the server shift state machine and the
// append-only cash drawer ledger. The ledger is the authoritative record;
// the per-shift rollups are a materialised cache maintained in the same
// transaction as every ledger append.
package shifts

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
	// ErrActiveShiftExists is returned when a server already has an active shift.
	ErrActiveShiftExists = errors.New("server already has an active shift")
	// ErrNoActiveShift is returned when a cash movement finds no active shift.
	ErrNoActiveShift = errors.New("no active shift for server")
	// ErrApprovalRequired is returned for controlled events without an approver.
	ErrApprovalRequired = errors.New("cash event requires approval")
	// ErrCountsMissing is returned when reconciling before counts are recorded.
	ErrCountsMissing = errors.New("closing cash count not recorded")
)

// Types whose ledger entries must carry approved_by.
var approvalRequired = map[models.DrawerEventType]struct{}{
	models.DrawerCashDrop:       {},
	models.DrawerCashAdjustment: {},
	models.DrawerCashShortage:   {},
}

// Ledger owns all shift and cash drawer mutations.
type Ledger struct {
	DB  *gorm.DB
	Bus *events.Bus
	Log *slog.Logger
	Now func() time.Time
}

// NewLedger constructs a Ledger.
func NewLedger(db *gorm.DB, bus *events.Bus, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{
		DB:  db,
		Bus: bus,
		Log: log,
		Now: func() time.Time { return time.Now().UTC() },
	}
}

// Open starts a shift for a server, recording the opening balance as the
// first ledger event. At most one active shift per server.
func (l *Ledger) Open(tenantID, serverID uuid.UUID, openingBalance decimal.Decimal, actor uuid.UUID) (*models.Shift, error) {
	if openingBalance.IsNegative() {
		return nil, fmt.Errorf("%w: opening balance must not be negative", models.ErrValidation)
	}
	now := l.Now()
	shift := models.Shift{
		ID:             uuid.New(),
		TenantID:       tenantID,
		ServerID:       serverID,
		Status:         models.ShiftStatusActive,
		OpeningBalance: openingBalance,
		DrawerBalance:  openingBalance,
		CashSales:      decimal.Zero,
		CardSales:      decimal.Zero,
		TipSales:       decimal.Zero,
		OpenedAt:       now,
		Version:        1,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := l.DB.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Shift{}).
			Where("tenant_id = ? AND server_id = ? AND status IN ?", tenantID, serverID,
				[]models.ShiftStatus{models.ShiftStatusOpening, models.ShiftStatusActive}).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return ErrActiveShiftExists
		}
		if err := tx.Create(&shift).Error; err != nil {
			return err
		}
		event := models.CashDrawerEvent{
			ID:           uuid.New(),
			TenantID:     tenantID,
			ShiftID:      shift.ID,
			EventType:    models.DrawerOpeningBalance,
			Amount:       openingBalance,
			BalanceAfter: openingBalance,
			PerformedBy:  actor,
			CreatedAt:    now,
		}
		if err := tx.Create(&event).Error; err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, shift.ID, "shift", "shift.opened", actor, "")
	})
	if err != nil {
		return nil, err
	}

	l.publish(events.Event{
		Type:    events.ShiftOpened,
		Subject: events.Subject{Kind: events.SubjectUser, ID: serverID},
		Payload: map[string]interface{}{"shift_id": shift.ID, "opening_balance": openingBalance},
		At:      now,
	})
	return &shift, nil
}

// Get loads one shift.
func (l *Ledger) Get(tenantID, id uuid.UUID) (*models.Shift, error) {
	return store.Get[models.Shift](l.DB, tenantID, id)
}

// List returns shifts filtered by server and status.
func (l *Ledger) List(tenantID uuid.UUID, serverID *uuid.UUID, status models.ShiftStatus) ([]models.Shift, error) {
	q := l.DB.Scopes(store.TenantScope(tenantID)).Order("opened_at DESC")
	if serverID != nil {
		q = q.Where("server_id = ?", *serverID)
	}
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var out []models.Shift
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Events returns the drawer ledger for a shift in append order.
func (l *Ledger) Events(tenantID, shiftID uuid.UUID) ([]models.CashDrawerEvent, error) {
	var out []models.CashDrawerEvent
	err := l.DB.Scopes(store.TenantScope(tenantID)).
		Where("shift_id = ?", shiftID).
		Order("seq ASC").
		Find(&out).Error
	if err != nil {
		return nil, err
	}
	return out, nil
}

// UpdateNotes patches free-text notes on an open shift.
func (l *Ledger) UpdateNotes(tenantID, id uuid.UUID, expectedVersion int, notes string) (*models.Shift, error) {
	now := l.Now()
	err := l.DB.Transaction(func(tx *gorm.DB) error {
		if _, err := l.lockShift(tx, tenantID, id); err != nil {
			return err
		}
		return store.UpdateCAS(tx, &models.Shift{}, tenantID, id, expectedVersion, map[string]interface{}{
			"notes":      notes,
			"updated_at": now,
		})
	})
	if err != nil {
		return nil, err
	}
	return l.Get(tenantID, id)
}

// CloseInput carries the end-of-shift counts.
type CloseInput struct {
	ClosingCashCount decimal.Decimal `json:"closing_cash_count"`
	CardCount        decimal.Decimal `json:"card_count"`
	Notes            string          `json:"notes,omitempty"`
}

// Close walks an active shift through closing to closed, recording the cash
// counts and computing expected cash and variance.
func (l *Ledger) Close(tenantID, id uuid.UUID, expectedVersion int, in CloseInput, actor uuid.UUID) (*models.Shift, error) {
	now := l.Now()
	var serverID uuid.UUID
	err := l.DB.Transaction(func(tx *gorm.DB) error {
		shift, err := l.lockShift(tx, tenantID, id)
		if err != nil {
			return err
		}
		if err := models.ValidateShiftTransition(shift.Status, models.ShiftStatusClosing); err != nil {
			return err
		}
		serverID = shift.ServerID

		expected := shift.OpeningBalance.Add(shift.CashSales)
		variance := in.ClosingCashCount.Sub(expected)
		isOver := variance.IsPositive()

		updates := map[string]interface{}{
			"status":             models.ShiftStatusClosed,
			"closing_cash_count": in.ClosingCashCount,
			"card_count":         in.CardCount,
			"expected_cash":      expected,
			"cash_variance":      variance,
			"is_over":            isOver,
			"closed_at":          now,
			"closed_by":          actor,
			"updated_at":         now,
		}
		if in.Notes != "" {
			updates["notes"] = in.Notes
		}
		if err := store.UpdateCAS(tx, &models.Shift{}, tenantID, id, expectedVersion, updates); err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, id, "shift", "shift.closed", actor,
			fmt.Sprintf("variance=%s", variance.StringFixed(2)))
	})
	if err != nil {
		return nil, err
	}

	shift, err := l.Get(tenantID, id)
	if err != nil {
		return nil, err
	}
	l.publish(events.Event{
		Type:    events.ShiftClosed,
		Subject: events.Subject{Kind: events.SubjectUser, ID: serverID},
		Payload: map[string]interface{}{
			"shift_id":      shift.ID,
			"expected_cash": shift.ExpectedCash,
			"cash_variance": shift.CashVariance,
		},
		At: now,
	})
	return shift, nil
}

// RecordCounts re-records cash counts on a closing or closed shift.
func (l *Ledger) RecordCounts(tenantID, id uuid.UUID, expectedVersion int, in CloseInput) (*models.Shift, error) {
	now := l.Now()
	err := l.DB.Transaction(func(tx *gorm.DB) error {
		shift, err := l.lockShift(tx, tenantID, id)
		if err != nil {
			return err
		}
		if shift.Status != models.ShiftStatusClosing && shift.Status != models.ShiftStatusClosed {
			return fmt.Errorf("%w: counts only in closing or closed", models.ErrInvalidTransition)
		}
		expected := shift.OpeningBalance.Add(shift.CashSales)
		variance := in.ClosingCashCount.Sub(expected)
		return store.UpdateCAS(tx, &models.Shift{}, tenantID, id, expectedVersion, map[string]interface{}{
			"closing_cash_count": in.ClosingCashCount,
			"card_count":         in.CardCount,
			"expected_cash":      expected,
			"cash_variance":      variance,
			"is_over":            variance.IsPositive(),
			"updated_at":         now,
		})
	})
	if err != nil {
		return nil, err
	}
	return l.Get(tenantID, id)
}

// Reconcile stamps a closed shift whose counts are recorded.
func (l *Ledger) Reconcile(tenantID, id uuid.UUID, expectedVersion int, actor uuid.UUID) (*models.Shift, error) {
	now := l.Now()
	var serverID uuid.UUID
	err := l.DB.Transaction(func(tx *gorm.DB) error {
		shift, err := l.lockShift(tx, tenantID, id)
		if err != nil {
			return err
		}
		if err := models.ValidateShiftTransition(shift.Status, models.ShiftStatusReconciled); err != nil {
			return err
		}
		if shift.ClosingCashCount == nil {
			return ErrCountsMissing
		}
		serverID = shift.ServerID
		if err := store.UpdateCAS(tx, &models.Shift{}, tenantID, id, expectedVersion, map[string]interface{}{
			"status":        models.ShiftStatusReconciled,
			"reconciled_at": now,
			"reconciled_by": actor,
			"updated_at":    now,
		}); err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, id, "shift", "shift.reconciled", actor, "")
	})
	if err != nil {
		return nil, err
	}

	shift, err := l.Get(tenantID, id)
	if err != nil {
		return nil, err
	}
	l.publish(events.Event{
		Type:    events.ShiftReconciled,
		Subject: events.Subject{Kind: events.SubjectUser, ID: serverID},
		Payload: map[string]interface{}{"shift_id": shift.ID, "is_over": shift.IsOver},
		At:      now,
	})
	return shift, nil
}

// DrawerInput describes a manual ledger append.
type DrawerInput struct {
	Amount     decimal.Decimal
	Note       string
	ApprovedBy *uuid.UUID
}

// CashDrop records cash removed from the drawer to the safe. Stored with a
// negative sign; requires an approver.
func (l *Ledger) CashDrop(tenantID, shiftID uuid.UUID, expectedVersion int, in DrawerInput, actor uuid.UUID) (*models.CashDrawerEvent, error) {
	return l.manualEvent(tenantID, shiftID, expectedVersion, models.DrawerCashDrop, in.Amount.Abs().Neg(), in, actor)
}

// TipPayout records tips paid out of the drawer. Stored with a negative sign.
func (l *Ledger) TipPayout(tenantID, shiftID uuid.UUID, expectedVersion int, in DrawerInput, actor uuid.UUID) (*models.CashDrawerEvent, error) {
	return l.manualEvent(tenantID, shiftID, expectedVersion, models.DrawerTipPayout, in.Amount.Abs().Neg(), in, actor)
}

// Adjustment records a signed correction; requires an approver.
func (l *Ledger) Adjustment(tenantID, shiftID uuid.UUID, expectedVersion int, in DrawerInput, actor uuid.UUID) (*models.CashDrawerEvent, error) {
	return l.manualEvent(tenantID, shiftID, expectedVersion, models.DrawerCashAdjustment, in.Amount, in, actor)
}

func (l *Ledger) manualEvent(tenantID, shiftID uuid.UUID, expectedVersion int, eventType models.DrawerEventType, amount decimal.Decimal, in DrawerInput, actor uuid.UUID) (*models.CashDrawerEvent, error) {
	if _, need := approvalRequired[eventType]; need && in.ApprovedBy == nil {
		return nil, ErrApprovalRequired
	}
	now := l.Now()
	var event *models.CashDrawerEvent
	err := l.DB.Transaction(func(tx *gorm.DB) error {
		shift, err := l.lockShift(tx, tenantID, shiftID)
		if err != nil {
			return err
		}
		if shift.Status != models.ShiftStatusActive && shift.Status != models.ShiftStatusClosing {
			return fmt.Errorf("%w: drawer events only while active or closing", models.ErrInvalidTransition)
		}
		event, err = l.append(tx, shift, eventType, amount, appendOpts{
			note:        in.Note,
			performedBy: actor,
			approvedBy:  in.ApprovedBy,
		})
		if err != nil {
			return err
		}
		return store.UpdateCAS(tx, &models.Shift{}, tenantID, shiftID, expectedVersion, map[string]interface{}{
			"drawer_balance": shift.DrawerBalance,
			"updated_at":     now,
		})
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

type appendOpts struct {
	note        string
	performedBy uuid.UUID
	approvedBy  *uuid.UUID
	paymentID   *uuid.UUID
	orderID     *uuid.UUID
}

// append writes one ledger event and advances the in-memory shift balance.
// The caller persists the shift in the same transaction.
func (l *Ledger) append(tx *gorm.DB, shift *models.Shift, eventType models.DrawerEventType, amount decimal.Decimal, opts appendOpts) (*models.CashDrawerEvent, error) {
	if _, need := approvalRequired[eventType]; need && opts.approvedBy == nil {
		return nil, ErrApprovalRequired
	}
	shift.DrawerBalance = shift.DrawerBalance.Add(amount)
	event := models.CashDrawerEvent{
		ID:           uuid.New(),
		TenantID:     shift.TenantID,
		ShiftID:      shift.ID,
		EventType:    eventType,
		Amount:       amount,
		BalanceAfter: shift.DrawerBalance,
		PaymentID:    opts.paymentID,
		OrderID:      opts.orderID,
		Note:         opts.note,
		PerformedBy:  opts.performedBy,
		ApprovedBy:   opts.approvedBy,
		CreatedAt:    l.Now(),
	}
	if err := tx.Create(&event).Error; err != nil {
		return nil, err
	}
	return &event, nil
}

// ActiveShift loads the server's active shift under a row lock, for use
// inside a caller-owned transaction.
func (l *Ledger) ActiveShift(tx *gorm.DB, tenantID, serverID uuid.UUID) (*models.Shift, error) {
	var shift models.Shift
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Scopes(store.TenantScope(tenantID)).
		Where("server_id = ? AND status = ?", serverID, models.ShiftStatusActive).
		First(&shift).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNoActiveShift
		}
		return nil, err
	}
	return &shift, nil
}

// RecordCashPayment appends a payment_in event for a completed cash payment
// and rolls the amounts into the shift. Runs inside the payment transaction.
func (l *Ledger) RecordCashPayment(tx *gorm.DB, tenantID, serverID uuid.UUID, payment *models.Payment) error {
	shift, err := l.ActiveShift(tx, tenantID, serverID)
	if err != nil {
		return err
	}
	if _, err := l.append(tx, shift, models.DrawerPaymentIn, payment.Amount, appendOpts{
		performedBy: serverID,
		paymentID:   &payment.ID,
		orderID:     &payment.OrderID,
	}); err != nil {
		return err
	}
	return store.UpdateCAS(tx, &models.Shift{}, tenantID, shift.ID, shift.Version, map[string]interface{}{
		"drawer_balance": shift.DrawerBalance,
		"cash_sales":     shift.CashSales.Add(payment.Amount),
		"tip_sales":      shift.TipSales.Add(payment.TipAmount),
		"updated_at":     l.Now(),
	})
}

// RecordCardPayment rolls a completed card or terminal payment into the
// shift summary. No drawer event: card tenders never touch the drawer.
func (l *Ledger) RecordCardPayment(tx *gorm.DB, tenantID, serverID uuid.UUID, payment *models.Payment) error {
	shift, err := l.ActiveShift(tx, tenantID, serverID)
	if err != nil {
		if errors.Is(err, ErrNoActiveShift) {
			return nil
		}
		return err
	}
	return store.UpdateCAS(tx, &models.Shift{}, tenantID, shift.ID, shift.Version, map[string]interface{}{
		"card_sales": shift.CardSales.Add(payment.Amount),
		"tip_sales":  shift.TipSales.Add(payment.TipAmount),
		"updated_at": l.Now(),
	})
}

// RecordCashRefund appends a negative cash_shortage event for a refunded
// cash payment. Runs inside the refund transaction.
func (l *Ledger) RecordCashRefund(tx *gorm.DB, tenantID, serverID uuid.UUID, refund *models.Refund, approvedBy uuid.UUID) error {
	shift, err := l.ActiveShift(tx, tenantID, serverID)
	if err != nil {
		return err
	}
	if _, err := l.append(tx, shift, models.DrawerCashShortage, refund.Amount.Abs().Neg(), appendOpts{
		note:        refund.ReasonCode,
		performedBy: serverID,
		approvedBy:  &approvedBy,
		paymentID:   &refund.PaymentID,
		orderID:     &refund.OrderID,
	}); err != nil {
		return err
	}
	return store.UpdateCAS(tx, &models.Shift{}, tenantID, shift.ID, shift.Version, map[string]interface{}{
		"drawer_balance": shift.DrawerBalance,
		"cash_sales":     shift.CashSales.Sub(refund.Amount.Abs()),
		"updated_at":     l.Now(),
	})
}

func (l *Ledger) lockShift(tx *gorm.DB, tenantID, id uuid.UUID) (*models.Shift, error) {
	var shift models.Shift
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Scopes(store.TenantScope(tenantID)).
		First(&shift, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &shift, nil
}

func (l *Ledger) publish(evs ...events.Event) {
	if l.Bus == nil {
		return
	}
	l.Bus.PublishAll(evs)
}
