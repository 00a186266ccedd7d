package draft

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"restocore/events"
	"restocore/models"
	"restocore/observability/metrics"
	"restocore/store"
)

// DefaultSweepInterval is how often the sweeper wakes up.
const DefaultSweepInterval = time.Minute

// Sweeper expires pending drafts past their TTL and releases stale locks.
type Sweeper struct {
	Coordinator *Coordinator
	Interval    time.Duration
}

// NewSweeper constructs a Sweeper over the coordinator's database.
func NewSweeper(c *Coordinator) *Sweeper {
	return &Sweeper{Coordinator: c, Interval: DefaultSweepInterval}
}

// Run loops until the context is cancelled, sweeping once per interval.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, released := s.Sweep(ctx)
			if expired > 0 || released > 0 {
				s.Coordinator.Log.Info("draft sweep",
					"expired", expired, "locks_released", released)
			}
		}
	}
}

// Sweep performs one pass: first expire pending drafts past expires_at, then
// release locks older than the lease. Each draft is updated under its own
// CAS; races with concurrent acquisitions lose cleanly.
func (s *Sweeper) Sweep(ctx context.Context) (expired, released int) {
	c := s.Coordinator
	now := c.Now()

	var stale []models.DraftOrder
	err := c.DB.WithContext(ctx).
		Where("status = ? AND expires_at < ?", models.DraftStatusPending, now).
		Find(&stale).Error
	if err != nil {
		c.Log.Error("draft sweep: load expired", "error", err)
		return
	}
	for i := range stale {
		d := stale[i]
		err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return store.UpdateCAS(tx, &models.DraftOrder{}, d.TenantID, d.ID, d.Version, map[string]interface{}{
				"status":     models.DraftStatusExpired,
				"locked_by":  nil,
				"locked_at":  nil,
				"updated_at": now,
			})
		})
		if err != nil {
			if !errors.Is(err, store.ErrVersionConflict) && !errors.Is(err, store.ErrNotFound) {
				c.Log.Error("draft sweep: expire", "draft", d.ID, "error", err)
			}
			continue
		}
		expired++
		metrics.DraftsExpired.Inc()
		c.publish(events.Event{
			Type:    events.DraftExpired,
			Subject: events.Subject{Kind: events.SubjectTable, ID: d.TableSessionID},
			Payload: map[string]interface{}{"draft_id": d.ID, "status": models.DraftStatusExpired},
			At:      now,
		})
	}

	leaseCutoff := now.Add(-c.LockTTL)
	var locked []models.DraftOrder
	err = c.DB.WithContext(ctx).
		Where("locked_by IS NOT NULL AND locked_at < ? AND status = ?", leaseCutoff, models.DraftStatusPending).
		Find(&locked).Error
	if err != nil {
		c.Log.Error("draft sweep: load stale locks", "error", err)
		return
	}
	for i := range locked {
		d := locked[i]
		err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return store.UpdateCAS(tx, &models.DraftOrder{}, d.TenantID, d.ID, d.Version, map[string]interface{}{
				"locked_by":  nil,
				"locked_at":  nil,
				"updated_at": now,
			})
		})
		if err != nil {
			if !errors.Is(err, store.ErrVersionConflict) && !errors.Is(err, store.ErrNotFound) {
				c.Log.Error("draft sweep: release lock", "draft", d.ID, "error", err)
			}
			continue
		}
		released++
		metrics.LocksReleased.Inc()
	}
	return expired, released
}
