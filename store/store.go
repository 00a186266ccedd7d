// Package store provides tenant scoping and optimistic-concurrency helpers
// shared by every domain service.
package store

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"restocore/models"
)

var (
	// ErrNotFound is returned when a row does not exist within the tenant scope.
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict is returned when a CAS update observes a stale version.
	ErrVersionConflict = errors.New("version conflict")
)

// TenantScope restricts a query to rows owned by the given tenant.
func TenantScope(tenantID uuid.UUID) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		return db.Where("tenant_id = ?", tenantID)
	}
}

// ForTenant returns a session whose reads are filtered to the tenant.
// Creates must still stamp TenantID on the row itself.
func ForTenant(db *gorm.DB, tenantID uuid.UUID) *gorm.DB {
	return db.Scopes(TenantScope(tenantID))
}

// Get loads one row by primary key within the tenant scope.
func Get[T any](tx *gorm.DB, tenantID, id uuid.UUID) (*T, error) {
	var row T
	err := tx.Scopes(TenantScope(tenantID)).First(&row, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

// UpdateCAS applies updates to the row identified by id iff its version still
// equals expected, bumping version to expected+1 in the same statement.
func UpdateCAS(tx *gorm.DB, model interface{}, tenantID, id uuid.UUID, expected int, updates map[string]interface{}) error {
	merged := make(map[string]interface{}, len(updates)+1)
	for k, v := range updates {
		merged[k] = v
	}
	merged["version"] = expected + 1

	res := tx.Model(model).
		Where("tenant_id = ? AND id = ? AND version = ?", tenantID, id, expected).
		Updates(merged)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := tx.Model(model).Where("tenant_id = ? AND id = ?", tenantID, id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	return nil
}

// AppendAudit writes one append-only audit trail row inside the caller's
// transaction.
func AppendAudit(tx *gorm.DB, tenantID, subjectID uuid.UUID, subjectType, action string, actor uuid.UUID, details string) error {
	event := models.DomainEvent{
		ID:          uuid.New(),
		TenantID:    tenantID,
		SubjectID:   subjectID,
		SubjectType: subjectType,
		Action:      action,
		ActorID:     actor,
		Details:     details,
		CreatedAt:   time.Now().UTC(),
	}
	return tx.Create(&event).Error
}

// IsDuplicateKey reports whether err is a unique-constraint violation. The
// check covers both the gorm translated error and the raw driver messages
// emitted by postgres and sqlite.
func IsDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}
