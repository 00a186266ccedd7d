package draft

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"restocore/events"
	"restocore/models"
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

type fixture struct {
	db        *gorm.DB
	c         *Coordinator
	bus       *events.Bus
	tenantID  uuid.UUID
	sessionID uuid.UUID
	burger    uuid.UUID
	fries     uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := setupTestDB(t)
	bus := events.NewBus()
	f := &fixture{
		db:       db,
		bus:      bus,
		c:        NewCoordinator(db, bus, nil),
		tenantID: uuid.New(),
	}

	table := models.Table{ID: uuid.New(), TenantID: f.tenantID, Number: 1}
	if err := db.Create(&table).Error; err != nil {
		t.Fatalf("seed table: %v", err)
	}
	session := models.TableSession{
		ID: uuid.New(), TenantID: f.tenantID, TableID: table.ID,
		Status: models.SessionStatusSeated, GuestCount: 2, Version: 1,
	}
	if err := db.Create(&session).Error; err != nil {
		t.Fatalf("seed session: %v", err)
	}
	f.sessionID = session.ID

	burger := models.MenuItem{
		ID: uuid.New(), TenantID: f.tenantID, Name: "Burger",
		Price: decimal.NewFromFloat(10.50), Active: true,
	}
	fries := models.MenuItem{
		ID: uuid.New(), TenantID: f.tenantID, Name: "Fries",
		Price: decimal.NewFromFloat(4.25), Active: true,
	}
	if err := db.Create(&burger).Error; err != nil {
		t.Fatalf("seed burger: %v", err)
	}
	if err := db.Create(&fries).Error; err != nil {
		t.Fatalf("seed fries: %v", err)
	}
	f.burger = burger.ID
	f.fries = fries.ID
	return f
}

func TestCreateComputesMoney(t *testing.T) {
	f := newFixture(t)
	guest := uuid.New()

	d, err := f.c.Create(f.tenantID, guest, CreateInput{
		TableSessionID: f.sessionID,
		Items: []ItemInput{
			{MenuItemID: f.burger, Quantity: 2},
			{MenuItemID: f.fries, Quantity: 1, Modifiers: models.ModifierList{
				{Type: "addon", Value: "cheese", PriceAdjustment: decimal.NewFromFloat(0.75)},
			}},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if d.Status != models.DraftStatusDraft || d.Version != 1 {
		t.Fatalf("unexpected draft: status=%s version=%d", d.Status, d.Version)
	}
	if len(d.LineItems) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(d.LineItems))
	}
	// 2*10.50 + 1*(4.25+0.75) = 26.00
	if !d.Subtotal.Equal(decimal.NewFromFloat(26.00)) {
		t.Fatalf("subtotal = %s, want 26.00", d.Subtotal)
	}
	if !d.TotalAmount.Equal(d.Subtotal) {
		t.Fatalf("total = %s, want %s", d.TotalAmount, d.Subtotal)
	}
	if d.ExpiresAt.Sub(d.CreatedAt) != f.c.DraftTTL {
		t.Fatalf("expiry should be create time + draft TTL")
	}
}

func TestCreateUnknownSession(t *testing.T) {
	f := newFixture(t)
	if _, err := f.c.Create(f.tenantID, uuid.New(), CreateInput{TableSessionID: uuid.New()}); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestItemEditing(t *testing.T) {
	f := newFixture(t)
	guest := uuid.New()

	d, err := f.c.Create(f.tenantID, guest, CreateInput{TableSessionID: f.sessionID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	d, err = f.c.AddItem(f.tenantID, d.ID, d.Version, guest, ItemInput{MenuItemID: f.burger, Quantity: 1})
	if err != nil {
		t.Fatalf("add item: %v", err)
	}
	if !d.Subtotal.Equal(decimal.NewFromFloat(10.50)) {
		t.Fatalf("subtotal after add = %s", d.Subtotal)
	}

	line := d.LineItems[0]
	qty := 3
	d, err = f.c.UpdateItem(f.tenantID, d.ID, line.ID, d.Version, ItemPatch{Quantity: &qty})
	if err != nil {
		t.Fatalf("update item: %v", err)
	}
	if !d.Subtotal.Equal(decimal.NewFromFloat(31.50)) {
		t.Fatalf("subtotal after quantity bump = %s", d.Subtotal)
	}

	d, err = f.c.RemoveItem(f.tenantID, d.ID, line.ID, d.Version)
	if err != nil {
		t.Fatalf("remove item: %v", err)
	}
	if len(d.LineItems) != 0 || !d.Subtotal.IsZero() {
		t.Fatalf("draft should be empty, got %d lines subtotal %s", len(d.LineItems), d.Subtotal)
	}

	// Bad quantity.
	if _, err := f.c.AddItem(f.tenantID, d.ID, d.Version, guest, ItemInput{MenuItemID: f.burger, Quantity: 0}); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("zero quantity should be rejected, got %v", err)
	}
}

func TestItemEditingLockedAfterSubmit(t *testing.T) {
	f := newFixture(t)
	guest := uuid.New()

	d, err := f.c.Create(f.tenantID, guest, CreateInput{
		TableSessionID: f.sessionID,
		Items:          []ItemInput{{MenuItemID: f.burger, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	d, err = f.c.Submit(f.tenantID, d.ID, d.Version, guest)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if d.Status != models.DraftStatusPending || d.SubmittedAt == nil {
		t.Fatalf("unexpected draft after submit: %+v", d)
	}

	if _, err := f.c.AddItem(f.tenantID, d.ID, d.Version, guest, ItemInput{MenuItemID: f.fries, Quantity: 1}); !errors.Is(err, ErrNotEditable) {
		t.Fatalf("pending drafts are not editable, got %v", err)
	}
	if _, err := f.c.RemoveItem(f.tenantID, d.ID, d.LineItems[0].ID, d.Version); !errors.Is(err, ErrNotEditable) {
		t.Fatalf("pending drafts are not editable, got %v", err)
	}
}

func TestAcquireConflictAndTakeover(t *testing.T) {
	f := newFixture(t)
	guest := uuid.New()
	waiterA := uuid.New()
	waiterB := uuid.New()

	base := time.Date(2026, 5, 1, 19, 0, 0, 0, time.UTC)
	now := base
	f.c.Now = func() time.Time { return now }

	d, err := f.c.Create(f.tenantID, guest, CreateInput{
		TableSessionID: f.sessionID,
		Items:          []ItemInput{{MenuItemID: f.burger, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Lock only works on pending drafts.
	if _, err := f.c.Acquire(f.tenantID, d.ID, d.Version, waiterA); !errors.Is(err, ErrLockInvalidState) {
		t.Fatalf("acquire on draft status should fail, got %v", err)
	}

	d, err = f.c.Submit(f.tenantID, d.ID, d.Version, guest)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	d, err = f.c.Acquire(f.tenantID, d.ID, d.Version, waiterA)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if d.LockedBy == nil || *d.LockedBy != waiterA {
		t.Fatalf("lease should be held by waiterA: %+v", d.LockedBy)
	}

	// Second waiter is refused while the lease is live.
	if _, err := f.c.Acquire(f.tenantID, d.ID, d.Version, waiterB); !errors.Is(err, ErrLockConflict) {
		t.Fatalf("expected ErrLockConflict, got %v", err)
	}

	// Holder refresh is fine.
	d, err = f.c.Acquire(f.tenantID, d.ID, d.Version, waiterA)
	if err != nil {
		t.Fatalf("refresh lease: %v", err)
	}

	// After the TTL the lease is dead and waiterB can take over.
	now = base.Add(f.c.LockTTL + time.Minute)
	d, err = f.c.Acquire(f.tenantID, d.ID, d.Version, waiterB)
	if err != nil {
		t.Fatalf("takeover after expiry: %v", err)
	}
	if *d.LockedBy != waiterB {
		t.Fatalf("lease should now be waiterB's")
	}
}

func TestReleaseRequiresLease(t *testing.T) {
	f := newFixture(t)
	guest := uuid.New()
	waiter := uuid.New()

	d, _ := f.c.Create(f.tenantID, guest, CreateInput{
		TableSessionID: f.sessionID,
		Items:          []ItemInput{{MenuItemID: f.burger, Quantity: 1}},
	})
	d, _ = f.c.Submit(f.tenantID, d.ID, d.Version, guest)

	if _, err := f.c.Release(f.tenantID, d.ID, d.Version, waiter); !errors.Is(err, ErrLockNotHeld) {
		t.Fatalf("release without lease should fail, got %v", err)
	}

	d, err := f.c.Acquire(f.tenantID, d.ID, d.Version, waiter)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	d, err = f.c.Release(f.tenantID, d.ID, d.Version, waiter)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if d.LockedBy != nil || d.LockedAt != nil {
		t.Fatalf("lease should be cleared: %+v", d)
	}
}

func TestConfirmCreatesOrder(t *testing.T) {
	f := newFixture(t)
	guest := uuid.New()
	waiter := uuid.New()

	var published []events.Type
	f.bus.Subscribe(func(ev events.Event) { published = append(published, ev.Type) })

	d, err := f.c.Create(f.tenantID, guest, CreateInput{
		TableSessionID: f.sessionID,
		Items: []ItemInput{
			{MenuItemID: f.burger, Quantity: 2},
			{MenuItemID: f.fries, Quantity: 1},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	tip := decimal.NewFromFloat(3.00)
	d, err = f.c.Update(f.tenantID, d.ID, d.Version, guest, Patch{TipAmount: &tip})
	if err != nil {
		t.Fatalf("patch tip: %v", err)
	}
	d, err = f.c.Submit(f.tenantID, d.ID, d.Version, guest)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// Confirm without the lease fails.
	if _, err := f.c.Confirm(f.tenantID, d.ID, d.Version, waiter); !errors.Is(err, ErrLockNotHeld) {
		t.Fatalf("confirm without lease should fail, got %v", err)
	}

	d, err = f.c.Acquire(f.tenantID, d.ID, d.Version, waiter)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	order, err := f.c.Confirm(f.tenantID, d.ID, d.Version, waiter)
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if order.Status != models.OrderStatusPending {
		t.Fatalf("order status = %s", order.Status)
	}
	if len(order.LineItems) != 2 {
		t.Fatalf("order should carry the draft lines, got %d", len(order.LineItems))
	}
	// 2*10.50 + 4.25 + 3.00 tip = 28.25
	if !order.TotalAmount.Equal(decimal.NewFromFloat(28.25)) {
		t.Fatalf("order total = %s, want 28.25", order.TotalAmount)
	}

	fresh, err := f.c.Get(f.tenantID, d.ID)
	if err != nil {
		t.Fatalf("reload draft: %v", err)
	}
	if fresh.Status != models.DraftStatusConfirmed {
		t.Fatalf("draft status = %s", fresh.Status)
	}
	if fresh.LockedBy != nil {
		t.Fatal("lease should be cleared on confirm")
	}
	if fresh.OrderID == nil || *fresh.OrderID != order.ID {
		t.Fatalf("draft should point at the order")
	}

	// Replay returns the same order, no second create.
	again, err := f.c.Confirm(f.tenantID, d.ID, fresh.Version, waiter)
	if err != nil {
		t.Fatalf("re-confirm: %v", err)
	}
	if again.ID != order.ID {
		t.Fatalf("re-confirm minted a new order: %s != %s", again.ID, order.ID)
	}
	var count int64
	if err := f.db.Model(&models.Order{}).Where("draft_order_id = ?", d.ID).Count(&count).Error; err != nil {
		t.Fatalf("count orders: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one order, got %d", count)
	}

	found := map[events.Type]bool{}
	for _, typ := range published {
		found[typ] = true
	}
	for _, want := range []events.Type{events.DraftCreated, events.DraftSubmitted, events.DraftAcquired, events.DraftConfirmed, events.OrderCreated} {
		if !found[want] {
			t.Errorf("expected %s on the bus", want)
		}
	}
}

func TestRejectRequiresReasonAndLease(t *testing.T) {
	f := newFixture(t)
	guest := uuid.New()
	waiter := uuid.New()

	d, _ := f.c.Create(f.tenantID, guest, CreateInput{
		TableSessionID: f.sessionID,
		Items:          []ItemInput{{MenuItemID: f.burger, Quantity: 1}},
	})
	d, _ = f.c.Submit(f.tenantID, d.ID, d.Version, guest)

	if _, err := f.c.Reject(f.tenantID, d.ID, d.Version, waiter, ""); !errors.Is(err, models.ErrValidation) {
		t.Fatalf("empty reason should be rejected, got %v", err)
	}
	if _, err := f.c.Reject(f.tenantID, d.ID, d.Version, waiter, "kitchen closed"); !errors.Is(err, ErrLockNotHeld) {
		t.Fatalf("reject without lease should fail, got %v", err)
	}

	d, err := f.c.Acquire(f.tenantID, d.ID, d.Version, waiter)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	d, err = f.c.Reject(f.tenantID, d.ID, d.Version, waiter, "kitchen closed")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if d.Status != models.DraftStatusRejected || d.RejectionReason != "kitchen closed" {
		t.Fatalf("unexpected draft: %+v", d)
	}
	if d.LockedBy != nil {
		t.Fatal("lease should be cleared on reject")
	}
}

func TestReassign(t *testing.T) {
	f := newFixture(t)
	guest := uuid.New()

	other := models.TableSession{
		ID: uuid.New(), TenantID: f.tenantID, TableID: uuid.New(),
		Status: models.SessionStatusSeated, GuestCount: 1, Version: 1,
	}
	if err := f.db.Create(&other).Error; err != nil {
		t.Fatalf("seed second session: %v", err)
	}

	d, _ := f.c.Create(f.tenantID, guest, CreateInput{
		TableSessionID: f.sessionID,
		Items:          []ItemInput{{MenuItemID: f.burger, Quantity: 1}},
	})

	// Only pending drafts move.
	if _, err := f.c.Reassign(f.tenantID, d.ID, d.Version, guest, other.ID); !errors.Is(err, models.ErrInvalidTransition) {
		t.Fatalf("reassign of draft status should fail, got %v", err)
	}

	d, _ = f.c.Submit(f.tenantID, d.ID, d.Version, guest)
	d, err := f.c.Reassign(f.tenantID, d.ID, d.Version, guest, other.ID)
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if d.TableSessionID != other.ID {
		t.Fatalf("draft should point at the new session")
	}

	if _, err := f.c.Reassign(f.tenantID, d.ID, d.Version, guest, uuid.New()); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown target session should be ErrNotFound, got %v", err)
	}
}

func TestVersionConflict(t *testing.T) {
	f := newFixture(t)
	guest := uuid.New()

	d, _ := f.c.Create(f.tenantID, guest, CreateInput{
		TableSessionID: f.sessionID,
		Items:          []ItemInput{{MenuItemID: f.burger, Quantity: 1}},
	})
	if _, err := f.c.Submit(f.tenantID, d.ID, d.Version+5, guest); !errors.Is(err, store.ErrVersionConflict) {
		t.Fatalf("stale version should conflict, got %v", err)
	}
}

func TestSweeper(t *testing.T) {
	f := newFixture(t)
	guest := uuid.New()
	waiter := uuid.New()

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	now := base
	f.c.Now = func() time.Time { return now }

	expiring, _ := f.c.Create(f.tenantID, guest, CreateInput{
		TableSessionID: f.sessionID,
		Items:          []ItemInput{{MenuItemID: f.burger, Quantity: 1}},
	})
	expiring, _ = f.c.Submit(f.tenantID, expiring.ID, expiring.Version, guest)

	fresh, _ := f.c.Create(f.tenantID, guest, CreateInput{
		TableSessionID: f.sessionID,
		Items:          []ItemInput{{MenuItemID: f.fries, Quantity: 1}},
	})
	fresh, _ = f.c.Submit(f.tenantID, fresh.ID, fresh.Version, guest)
	fresh, _ = f.c.Acquire(f.tenantID, fresh.ID, fresh.Version, waiter)

	sweeper := NewSweeper(f.c)

	ctx := context.Background()

	// Nothing to do yet.
	expired, released := sweeper.Sweep(ctx)
	if expired != 0 || released != 0 {
		t.Fatalf("early sweep should be a no-op, got %d/%d", expired, released)
	}

	// Stretch the fresh draft's expiry so only its stale lock is affected.
	farFuture := base.Add(100 * time.Hour)
	if err := f.db.Model(&models.DraftOrder{}).Where("id = ?", fresh.ID).
		Update("expires_at", farFuture).Error; err != nil {
		t.Fatalf("stretch expiry: %v", err)
	}

	now = base.Add(f.c.DraftTTL + time.Hour)
	expired, released = sweeper.Sweep(ctx)
	if expired != 1 {
		t.Fatalf("expected 1 expired draft, got %d", expired)
	}
	if released != 1 {
		t.Fatalf("expected 1 released lock, got %d", released)
	}

	gone, err := f.c.Get(f.tenantID, expiring.ID)
	if err != nil {
		t.Fatalf("reload expired: %v", err)
	}
	if gone.Status != models.DraftStatusExpired {
		t.Fatalf("draft should be expired, got %s", gone.Status)
	}

	unlocked, err := f.c.Get(f.tenantID, fresh.ID)
	if err != nil {
		t.Fatalf("reload unlocked: %v", err)
	}
	if unlocked.Status != models.DraftStatusPending {
		t.Fatalf("draft with future expiry should stay pending, got %s", unlocked.Status)
	}
	if unlocked.LockedBy != nil {
		t.Fatal("stale lock should be released")
	}
}
