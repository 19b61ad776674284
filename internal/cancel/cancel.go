// Package cancel implements cooperative cancellation flags keyed by map id.
package cancel

import (
	"context"
	"fmt"
	"time"

	"github.com/jjestrada2/farmane/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultTTL bounds how long an unconsumed cancellation stays pending.
const DefaultTTL = 5 * time.Minute

// Flags stores pending cancellations in the application store.
type Flags struct {
	db  *gorm.DB
	ttl time.Duration
	now func() time.Time
}

// New returns a Flags store.
func New(db *gorm.DB, ttl time.Duration) *Flags {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Flags{db: db, ttl: ttl, now: time.Now}
}

// Request marks mapID as cancelled. Requesting twice refreshes the expiry.
func (f *Flags) Request(ctx context.Context, mapID string) error {
	flag := models.CancelFlag{MapID: mapID, ExpiresAt: f.now().Add(f.ttl)}
	if err := f.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "map_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"expires_at"}),
	}).Create(&flag).Error; err != nil {
		return fmt.Errorf("cancel: request %s: %w", mapID, err)
	}
	return nil
}

// PollAndConsume reports whether a live cancellation is pending for mapID
// and clears it in the same statement, so a single request is observed by
// exactly one poller.
func (f *Flags) PollAndConsume(ctx context.Context, mapID string) (bool, error) {
	result := f.db.WithContext(ctx).
		Where("map_id = ? AND expires_at >= ?", mapID, f.now()).
		Delete(&models.CancelFlag{})
	if result.Error != nil {
		return false, fmt.Errorf("cancel: poll %s: %w", mapID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// Sweep purges expired flags.
func (f *Flags) Sweep(ctx context.Context) (int64, error) {
	result := f.db.WithContext(ctx).Where("expires_at < ?", f.now()).Delete(&models.CancelFlag{})
	if result.Error != nil {
		return 0, fmt.Errorf("cancel: sweep: %w", result.Error)
	}
	return result.RowsAffected, nil
}
