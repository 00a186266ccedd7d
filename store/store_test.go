package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"restocore/models"
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

func TestGetScopesByTenant(t *testing.T) {
	db := setupTestDB(t)
	tenantA := uuid.New()
	tenantB := uuid.New()

	table := models.Table{ID: uuid.New(), TenantID: tenantA, Number: 7}
	if err := db.Create(&table).Error; err != nil {
		t.Fatalf("create table: %v", err)
	}

	got, err := Get[models.Table](db, tenantA, table.ID)
	if err != nil {
		t.Fatalf("get own tenant: %v", err)
	}
	if got.Number != 7 {
		t.Fatalf("expected table 7, got %d", got.Number)
	}

	if _, err := Get[models.Table](db, tenantB, table.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant read should be ErrNotFound, got %v", err)
	}
	if _, err := Get[models.Table](db, tenantA, uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing row should be ErrNotFound, got %v", err)
	}
}

func TestUpdateCAS(t *testing.T) {
	db := setupTestDB(t)
	tenantID := uuid.New()
	session := models.TableSession{
		ID:       uuid.New(),
		TenantID: tenantID,
		TableID:  uuid.New(),
		Status:   models.SessionStatusSeated,
		Version:  1,
	}
	if err := db.Create(&session).Error; err != nil {
		t.Fatalf("create session: %v", err)
	}

	err := UpdateCAS(db, &models.TableSession{}, tenantID, session.ID, 1, map[string]interface{}{
		"status": models.SessionStatusActive,
	})
	if err != nil {
		t.Fatalf("cas with correct version: %v", err)
	}

	var fresh models.TableSession
	if err := db.First(&fresh, "id = ?", session.ID).Error; err != nil {
		t.Fatalf("reload: %v", err)
	}
	if fresh.Version != 2 {
		t.Fatalf("expected version 2 after cas, got %d", fresh.Version)
	}
	if fresh.Status != models.SessionStatusActive {
		t.Fatalf("expected status active, got %s", fresh.Status)
	}

	// Stale version loses.
	err = UpdateCAS(db, &models.TableSession{}, tenantID, session.ID, 1, map[string]interface{}{
		"status": models.SessionStatusPaying,
	})
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("stale cas should be ErrVersionConflict, got %v", err)
	}

	// Missing row is distinguished from a stale one.
	err = UpdateCAS(db, &models.TableSession{}, tenantID, uuid.New(), 1, map[string]interface{}{
		"status": models.SessionStatusPaying,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("cas on missing row should be ErrNotFound, got %v", err)
	}

	// Wrong tenant is also not found.
	err = UpdateCAS(db, &models.TableSession{}, uuid.New(), session.ID, 2, map[string]interface{}{
		"status": models.SessionStatusPaying,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("cross-tenant cas should be ErrNotFound, got %v", err)
	}
}

func TestAppendAudit(t *testing.T) {
	db := setupTestDB(t)
	tenantID := uuid.New()
	subjectID := uuid.New()
	actor := uuid.New()

	if err := AppendAudit(db, tenantID, subjectID, "order", "order.created", actor, "walk-in"); err != nil {
		t.Fatalf("append audit: %v", err)
	}

	var events []models.DomainEvent
	if err := db.Where("tenant_id = ? AND subject_id = ?", tenantID, subjectID).Find(&events).Error; err != nil {
		t.Fatalf("load events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 audit event, got %d", len(events))
	}
	if events[0].Action != "order.created" || events[0].ActorID != actor || events[0].Details != "walk-in" {
		t.Fatalf("audit row mismatch: %+v", events[0])
	}
}

func TestIsDuplicateKey(t *testing.T) {
	db := setupTestDB(t)
	entry := models.WebhookLog{ID: uuid.New(), Provider: "mercadopago", ExternalReference: "order_x_1"}
	if err := db.Create(&entry).Error; err != nil {
		t.Fatalf("first insert: %v", err)
	}
	dup := models.WebhookLog{ID: uuid.New(), Provider: "mercadopago", ExternalReference: "order_x_1"}
	err := db.Create(&dup).Error
	if err == nil {
		t.Fatal("duplicate insert should fail")
	}
	if !IsDuplicateKey(err) {
		t.Fatalf("expected duplicate key detection for %v", err)
	}
	if IsDuplicateKey(nil) {
		t.Fatal("nil is not a duplicate key error")
	}
}
