package payments

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"restocore/models"
	"restocore/shifts"
	"restocore/store"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

type fixture struct {
	db       *gorm.DB
	engine   *Engine
	ledger   *shifts.Ledger
	tenantID uuid.UUID
	session  uuid.UUID
	orderID  uuid.UUID
	server   uuid.UUID
}

// newFixture seeds a pending order worth 50.00 on an active session.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupTestDB(t)
	ledger := shifts.NewLedger(db, nil, nil)
	f := &fixture{
		db:       db,
		ledger:   ledger,
		engine:   NewEngine(db, nil, ledger, NewMercadoPagoClient("", ""), nil),
		tenantID: uuid.New(),
		server:   uuid.New(),
	}
	now := time.Now().UTC()

	table := models.Table{ID: uuid.New(), TenantID: f.tenantID, Number: 3, Capacity: 4}
	if err := db.Create(&table).Error; err != nil {
		t.Fatalf("seed table: %v", err)
	}
	session := models.TableSession{
		ID: uuid.New(), TenantID: f.tenantID, TableID: table.ID,
		Status: models.SessionStatusActive, GuestCount: 2, Version: 1,
	}
	if err := db.Create(&session).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
	f.session = session.ID

	order := models.Order{
		ID: uuid.New(), TenantID: f.tenantID, TableSessionID: session.ID,
		Status: models.OrderStatusPending, Subtotal: dec("50.00"),
		TotalAmount: dec("50.00"), Version: 1, CreatedAt: now, UpdatedAt: now,
	}
	if err := db.Create(&order).Error; err != nil {
		t.Fatalf("seed order: %v", err)
	}
	line := models.OrderLineItem{
		ID: uuid.New(), TenantID: f.tenantID, OrderID: order.ID,
		MenuItemID: uuid.New(), Name: "Tasting menu", Quantity: 1,
		PriceAtOrder: dec("50.00"), LineTotal: dec("50.00"),
		Status: models.OrderItemPending,
	}
	if err := db.Create(&line).Error; err != nil {
		t.Fatalf("seed line: %v", err)
	}
	f.orderID = order.ID
	return f
}

func (f *fixture) openShift(t *testing.T) *models.Shift {
	t.Helper()
	shift, err := f.ledger.Open(f.tenantID, f.server, dec("100.00"), f.server)
	if err != nil {
		t.Fatalf("open shift: %v", err)
	}
	return shift
}

func (f *fixture) orderStatus(t *testing.T) models.OrderStatus {
	t.Helper()
	var order models.Order
	if err := f.db.First(&order, "id = ?", f.orderID).Error; err != nil {
		t.Fatalf("reload order: %v", err)
	}
	return order.Status
}

func TestCreateIntentValidation(t *testing.T) {
	f := newFixture(t)
	actor := uuid.New()

	if _, err := f.engine.CreateIntent(f.tenantID, IntentInput{
		OrderID: f.orderID, Method: models.MethodCash, Amount: dec("0"),
	}, actor); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("zero amount should fail, got %v", err)
	}
	if _, err := f.engine.CreateIntent(f.tenantID, IntentInput{
		OrderID: f.orderID, Method: models.PaymentMethod("barter"), Amount: dec("10.00"),
	}, actor); !errors.Is(err, ErrUnsupportedMethod) {
		t.Fatalf("unknown method should fail, got %v", err)
	}
	if _, err := f.engine.CreateIntent(f.tenantID, IntentInput{
		OrderID: uuid.New(), Method: models.MethodCash, Amount: dec("10.00"),
	}, actor); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown order should be ErrNotFound, got %v", err)
	}
}

func TestCashProcess(t *testing.T) {
	f := newFixture(t)
	f.openShift(t)

	intent, err := f.engine.CreateIntent(f.tenantID, IntentInput{
		OrderID: f.orderID, Method: models.MethodCash, Amount: dec("50.00"), TipAmount: dec("5.00"),
	}, f.server)
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}

	payment, err := f.engine.Process(f.tenantID, intent.ID, intent.Version, f.server)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if payment.Status != models.PaymentStatusCompleted || payment.CompletedAt == nil {
		t.Fatalf("unexpected payment: %+v", payment)
	}

	got, err := f.engine.GetIntent(f.tenantID, intent.ID)
	if err != nil {
		t.Fatalf("reload intent: %v", err)
	}
	if got.Status != models.IntentStatusCompleted {
		t.Fatalf("intent status = %s", got.Status)
	}
	if f.orderStatus(t) != models.OrderStatusPaid {
		t.Fatalf("order should be paid, got %s", f.orderStatus(t))
	}

	// The tender landed in the drawer.
	shiftRows, err := f.ledger.List(f.tenantID, &f.server, models.ShiftStatusActive)
	if err != nil || len(shiftRows) != 1 {
		t.Fatalf("list shifts: %v (%d)", err, len(shiftRows))
	}
	if !shiftRows[0].CashSales.Equal(dec("50.00")) || !shiftRows[0].TipSales.Equal(dec("5.00")) {
		t.Fatalf("shift rollup: cash=%s tips=%s", shiftRows[0].CashSales, shiftRows[0].TipSales)
	}
}

func TestCashNeedsActiveShift(t *testing.T) {
	f := newFixture(t)
	intent, err := f.engine.CreateIntent(f.tenantID, IntentInput{
		OrderID: f.orderID, Method: models.MethodCash, Amount: dec("50.00"),
	}, f.server)
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	if _, err := f.engine.Process(f.tenantID, intent.ID, intent.Version, f.server); !errors.Is(err, shifts.ErrNoActiveShift) {
		t.Fatalf("expected ErrNoActiveShift, got %v", err)
	}
	// Nothing was committed.
	if f.orderStatus(t) != models.OrderStatusPending {
		t.Fatal("failed process must not settle the order")
	}
}

func TestCardProcessAndResolve(t *testing.T) {
	f := newFixture(t)
	f.openShift(t)

	intent, err := f.engine.CreateIntent(f.tenantID, IntentInput{
		OrderID: f.orderID, Method: models.MethodCard, Amount: dec("50.00"), TipAmount: dec("7.00"),
	}, f.server)
	require.NoError(t, err)

	payment, err := f.engine.Process(f.tenantID, intent.ID, intent.Version, f.server)
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusProcessing, payment.Status)
	require.Equal(t, models.OrderStatusPending, f.orderStatus(t), "processing must not settle the order")

	resolved, err := f.engine.ResolvePayment(f.tenantID, payment.ID, payment.Version, true, "auth-991", "")
	require.NoError(t, err)
	require.Equal(t, models.PaymentStatusCompleted, resolved.Status)
	require.Equal(t, "auth-991", resolved.ProviderRef)
	require.NotNil(t, resolved.CompletedAt)
	require.Equal(t, models.OrderStatusPaid, f.orderStatus(t))

	shiftRows, err := f.ledger.List(f.tenantID, &f.server, models.ShiftStatusActive)
	require.NoError(t, err)
	require.Len(t, shiftRows, 1)
	require.True(t, shiftRows[0].CardSales.Equal(dec("50.00")), "card_sales = %s", shiftRows[0].CardSales)
	require.True(t, shiftRows[0].TipSales.Equal(dec("7.00")), "tip_sales = %s", shiftRows[0].TipSales)
}

func TestCardResolveFailure(t *testing.T) {
	f := newFixture(t)
	intent, err := f.engine.CreateIntent(f.tenantID, IntentInput{
		OrderID: f.orderID, Method: models.MethodTerminal, Amount: dec("50.00"),
	}, f.server)
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	payment, err := f.engine.Process(f.tenantID, intent.ID, intent.Version, f.server)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	failed, err := f.engine.ResolvePayment(f.tenantID, payment.ID, payment.Version, false, "", "card declined")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if failed.Status != models.PaymentStatusFailed || failed.FailureReason != "card declined" {
		t.Fatalf("unexpected payment: %+v", failed)
	}
	got, err := f.engine.GetIntent(f.tenantID, intent.ID)
	if err != nil {
		t.Fatalf("reload intent: %v", err)
	}
	if got.Status != models.IntentStatusFailed {
		t.Fatalf("intent status = %s", got.Status)
	}
	if f.orderStatus(t) != models.OrderStatusPending {
		t.Fatal("declined payment must not settle the order")
	}
}

func TestSplit(t *testing.T) {
	f := newFixture(t)
	f.openShift(t)
	actor := f.server

	if _, err := f.engine.Split(f.tenantID, f.orderID, []SplitPart{
		{Method: models.MethodCash, Amount: dec("50.00")},
	}, actor); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("single-part split should fail, got %v", err)
	}
	if _, err := f.engine.Split(f.tenantID, f.orderID, []SplitPart{
		{Method: models.MethodCash, Amount: dec("25.00")},
		{Method: models.MethodQR, Amount: dec("25.00")},
	}, actor); !errors.Is(err, ErrUnsupportedMethod) {
		t.Fatalf("qr parts should be rejected, got %v", err)
	}
	if _, err := f.engine.Split(f.tenantID, f.orderID, []SplitPart{
		{Method: models.MethodCash, Amount: dec("20.00")},
		{Method: models.MethodCard, Amount: dec("20.00")},
	}, actor); !errors.Is(err, ErrSplitMismatch) {
		t.Fatalf("short split should fail, got %v", err)
	}

	out, err := f.engine.Split(f.tenantID, f.orderID, []SplitPart{
		{Method: models.MethodCash, Amount: dec("30.00")},
		{Method: models.MethodCard, Amount: dec("20.00")},
	}, actor)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 child payments, got %d", len(out))
	}
	if out[0].Status != models.PaymentStatusCompleted {
		t.Fatalf("cash child should be completed, got %s", out[0].Status)
	}
	if out[1].Status != models.PaymentStatusProcessing {
		t.Fatalf("card child should await capture, got %s", out[1].Status)
	}

	var allocs int64
	if err := f.db.Model(&models.OrderPayment{}).Where("order_id = ?", f.orderID).Count(&allocs).Error; err != nil {
		t.Fatalf("count allocations: %v", err)
	}
	if allocs != 2 {
		t.Fatalf("expected 2 allocations, got %d", allocs)
	}

	// Capture the card child and the order settles.
	if _, err := f.engine.ResolvePayment(f.tenantID, out[1].ID, out[1].Version, true, "auth-7", ""); err != nil {
		t.Fatalf("resolve card child: %v", err)
	}
	if f.orderStatus(t) != models.OrderStatusPaid {
		t.Fatalf("order should be paid after both children, got %s", f.orderStatus(t))
	}
}

func TestRefund(t *testing.T) {
	f := newFixture(t)
	f.openShift(t)

	intent, err := f.engine.CreateIntent(f.tenantID, IntentInput{
		OrderID: f.orderID, Method: models.MethodCash, Amount: dec("50.00"),
	}, f.server)
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	payment, err := f.engine.Process(f.tenantID, intent.ID, intent.Version, f.server)
	if err != nil {
		t.Fatalf("process: %v", err)
	}

	if _, err := f.engine.Refund(f.tenantID, payment.ID, RefundInput{Amount: dec("10.00")}, f.server); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("missing reason_code should fail, got %v", err)
	}
	if _, err := f.engine.Refund(f.tenantID, payment.ID, RefundInput{Amount: dec("80.00"), ReasonCode: "overcharge"}, f.server); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("refund above payment amount should fail, got %v", err)
	}

	refund, err := f.engine.Refund(f.tenantID, payment.ID, RefundInput{
		Amount: dec("15.00"), ReasonCode: "wrong_item", Reason: "kitchen sent the wrong dish",
	}, f.server)
	if err != nil {
		t.Fatalf("refund: %v", err)
	}
	if refund.Status != models.RefundStatusCompleted || refund.CompletedAt == nil {
		t.Fatalf("unexpected refund: %+v", refund)
	}

	got, err := f.engine.GetPayment(f.tenantID, payment.ID)
	if err != nil {
		t.Fatalf("reload payment: %v", err)
	}
	if got.Status != models.PaymentStatusRefunded || got.RefundedAt == nil {
		t.Fatalf("unexpected payment: %+v", got)
	}

	// One completed refund per payment.
	if _, err := f.engine.Refund(f.tenantID, payment.ID, RefundInput{Amount: dec("5.00"), ReasonCode: "again"}, f.server); err == nil {
		t.Fatal("second refund should fail")
	}

	// Cash came back out of the drawer.
	shiftRows, err := f.ledger.List(f.tenantID, &f.server, models.ShiftStatusActive)
	if err != nil || len(shiftRows) != 1 {
		t.Fatalf("list shifts: %v", err)
	}
	if !shiftRows[0].CashSales.Equal(dec("35.00")) {
		t.Fatalf("cash_sales after refund = %s", shiftRows[0].CashSales)
	}
}

func TestRefundRequiresCompletedPayment(t *testing.T) {
	f := newFixture(t)
	intent, err := f.engine.CreateIntent(f.tenantID, IntentInput{
		OrderID: f.orderID, Method: models.MethodCard, Amount: dec("50.00"),
	}, f.server)
	if err != nil {
		t.Fatalf("create intent: %v", err)
	}
	payment, err := f.engine.Process(f.tenantID, intent.ID, intent.Version, f.server)
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if _, err := f.engine.Refund(f.tenantID, payment.ID, RefundInput{Amount: dec("10.00"), ReasonCode: "r"}, f.server); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("refunding a processing payment should fail, got %v", err)
	}
}

func TestQRIntentAndExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	intent, err := f.engine.CreateQRIntent(ctx, f.tenantID, IntentInput{
		OrderID: f.orderID, Method: models.MethodQR, Amount: dec("50.00"),
	}, f.server)
	if err != nil {
		t.Fatalf("create qr intent: %v", err)
	}
	if intent.Method != models.MethodQR || intent.QRCode == "" {
		t.Fatalf("unexpected intent: %+v", intent)
	}
	if intent.IdempotencyKey == nil || *intent.IdempotencyKey == "" {
		t.Fatal("qr intent needs an external reference")
	}
	if intent.QRExpiresAt == nil {
		t.Fatal("qr intent needs an expiry")
	}

	got, err := f.engine.QRStatus(f.tenantID, intent.ID)
	if err != nil {
		t.Fatalf("qr status: %v", err)
	}
	if got.Status != models.IntentStatusPending {
		t.Fatalf("status = %s", got.Status)
	}

	// Clock past the QR window: the poll reports expiry.
	f.engine.Now = func() time.Time { return intent.QRExpiresAt.Add(time.Minute) }
	if _, err := f.engine.QRStatus(f.tenantID, intent.ID); !errors.Is(err, ErrQRExpired) {
		t.Fatalf("expected ErrQRExpired, got %v", err)
	}

	// QR intents never process synchronously.
	if _, err := f.engine.Process(f.tenantID, intent.ID, intent.Version, f.server); !errors.Is(err, ErrUnsupportedMethod) {
		t.Fatalf("processing a qr intent should fail, got %v", err)
	}
}

func TestSplitPartialFailure(t *testing.T) {
	f := newFixture(t)

	// No shift is open, so the cash part cannot settle. Parts are taken in
	// order: the card part commits before the cash part fails.
	_, err := f.engine.Split(f.tenantID, f.orderID, []SplitPart{
		{Method: models.MethodCard, Amount: dec("30.00")},
		{Method: models.MethodCash, Amount: dec("20.00")},
	}, f.server)
	if !errors.Is(err, shifts.ErrNoActiveShift) {
		t.Fatalf("expected ErrNoActiveShift, got %v", err)
	}

	var settled []models.Payment
	if err := f.db.Where("order_id = ?", f.orderID).Find(&settled).Error; err != nil {
		t.Fatalf("load payments: %v", err)
	}
	if len(settled) != 1 || settled[0].Method != models.MethodCard || settled[0].Status != models.PaymentStatusProcessing {
		t.Fatalf("only the card part should survive: %+v", settled)
	}
	var allocs int64
	if err := f.db.Model(&models.OrderPayment{}).Where("order_id = ?", f.orderID).Count(&allocs).Error; err != nil {
		t.Fatalf("count allocations: %v", err)
	}
	if allocs != 1 {
		t.Fatalf("expected 1 allocation, got %d", allocs)
	}
	if f.orderStatus(t) == models.OrderStatusPaid {
		t.Fatal("a partially settled order must not be paid")
	}
}
