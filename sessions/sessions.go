// Package sessions manages table sessions, the seated-party anchor that
// drafts, orders, and payment frames hang off.
package sessions

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"restocore/models"
	"restocore/store"
)

// ErrTableOccupied is returned when opening a session on a table that
// already has one in progress.
var ErrTableOccupied = errors.New("table already has an open session")

// Service owns table session mutations.
type Service struct {
	DB  *gorm.DB
	Log *slog.Logger
	Now func() time.Time
}

// NewService constructs a Service with defaults.
func NewService(db *gorm.DB, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		DB:  db,
		Log: log,
		Now: func() time.Time { return time.Now().UTC() },
	}
}

// OpenInput describes a new seated party.
type OpenInput struct {
	TableID    uuid.UUID  `json:"table_id"`
	GuestCount int        `json:"guest_count"`
	ServerID   *uuid.UUID `json:"server_id,omitempty"`
}

// Open seats a party at a table. One open session per table.
func (s *Service) Open(tenantID uuid.UUID, in OpenInput, actor uuid.UUID) (*models.TableSession, error) {
	if in.GuestCount < 1 {
		return nil, fmt.Errorf("%w: guest_count must be at least 1", models.ErrValidation)
	}
	now := s.Now()
	session := models.TableSession{
		ID:         uuid.New(),
		TenantID:   tenantID,
		TableID:    in.TableID,
		Status:     models.SessionStatusSeated,
		GuestCount: in.GuestCount,
		ServerID:   in.ServerID,
		Version:    1,
		OpenedAt:   now,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var table models.Table
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Scopes(store.TenantScope(tenantID)).
			First(&table, "id = ?", in.TableID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrNotFound
			}
			return err
		}
		var open int64
		if err := tx.Model(&models.TableSession{}).
			Where("tenant_id = ? AND table_id = ? AND status <> ?",
				tenantID, in.TableID, models.SessionStatusClosed).
			Count(&open).Error; err != nil {
			return err
		}
		if open > 0 {
			return ErrTableOccupied
		}
		if err := tx.Create(&session).Error; err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, session.ID, "table_session", "session.opened", actor, "")
	})
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// Get loads one session.
func (s *Service) Get(tenantID, id uuid.UUID) (*models.TableSession, error) {
	return store.Get[models.TableSession](s.DB, tenantID, id)
}

// List returns sessions, optionally filtered to open ones.
func (s *Service) List(tenantID uuid.UUID, openOnly bool) ([]models.TableSession, error) {
	q := s.DB.Scopes(store.TenantScope(tenantID)).Order("opened_at DESC")
	if openOnly {
		q = q.Where("status <> ?", models.SessionStatusClosed)
	}
	var out []models.TableSession
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// SetStatus moves a session through its lifecycle.
func (s *Service) SetStatus(tenantID, id uuid.UUID, expectedVersion int, next models.SessionStatus, actor uuid.UUID) (*models.TableSession, error) {
	now := s.Now()
	err := s.DB.Transaction(func(tx *gorm.DB) error {
		var session models.TableSession
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Scopes(store.TenantScope(tenantID)).
			First(&session, "id = ?", id).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return store.ErrNotFound
			}
			return err
		}
		if err := models.ValidateSessionTransition(session.Status, next); err != nil {
			return err
		}
		updates := map[string]interface{}{
			"status":     next,
			"updated_at": now,
		}
		if next == models.SessionStatusClosed {
			updates["closed_at"] = now
		}
		if err := store.UpdateCAS(tx, &models.TableSession{}, tenantID, id, expectedVersion, updates); err != nil {
			return err
		}
		return store.AppendAudit(tx, tenantID, id, "table_session", "session.status", actor, string(next))
	})
	if err != nil {
		return nil, err
	}
	return s.Get(tenantID, id)
}

// Close ends a session.
func (s *Service) Close(tenantID, id uuid.UUID, expectedVersion int, actor uuid.UUID) (*models.TableSession, error) {
	return s.SetStatus(tenantID, id, expectedVersion, models.SessionStatusClosed, actor)
}
