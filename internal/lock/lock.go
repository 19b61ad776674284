// Package lock provides the per-conversation mutual-exclusion lease.
//
// A lease is a row keyed by conversation id with an expiry. Acquire is an
// atomic check-and-set; a holder that dies simply lets its lease lapse.
// Leases are not renewed while held, so a run that outlives the TTL can be
// overlapped by a later request.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/jjestrada2/farmane/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultTTL is how long a lease is held before it may be reclaimed.
const DefaultTTL = 30 * time.Second

// Locker hands out conversation leases backed by the application store.
type Locker struct {
	db     *gorm.DB
	ttl    time.Duration
	holder string
	now    func() time.Time
}

// New returns a Locker. holder identifies this process in lease rows.
func New(db *gorm.DB, ttl time.Duration, holder string) *Locker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Locker{db: db, ttl: ttl, holder: holder, now: time.Now}
}

// Acquire takes the lease for conversationID. It returns false without
// error when another holder's lease is still live.
func (l *Locker) Acquire(ctx context.Context, conversationID uint) (bool, error) {
	var acquired bool
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		now := l.now()

		if err := tx.Where("conversation_id = ? AND expires_at < ?", conversationID, now).
			Delete(&models.ConversationLock{}).Error; err != nil {
			return fmt.Errorf("expire stale lease: %w", err)
		}

		lease := models.ConversationLock{
			ConversationID: conversationID,
			Holder:         l.holder,
			ExpiresAt:      now.Add(l.ttl),
		}
		result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&lease)
		if result.Error != nil {
			return fmt.Errorf("insert lease: %w", result.Error)
		}
		acquired = result.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("lock: acquire %d: %w", conversationID, err)
	}
	return acquired, nil
}

// Release drops the lease unconditionally. Releasing a lease that is not
// held is not an error.
func (l *Locker) Release(ctx context.Context, conversationID uint) error {
	if err := l.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Delete(&models.ConversationLock{}).Error; err != nil {
		return fmt.Errorf("lock: release %d: %w", conversationID, err)
	}
	return nil
}

// Held reports whether a live lease exists for conversationID.
func (l *Locker) Held(ctx context.Context, conversationID uint) (bool, error) {
	var count int64
	if err := l.db.WithContext(ctx).Model(&models.ConversationLock{}).
		Where("conversation_id = ? AND expires_at >= ?", conversationID, l.now()).
		Count(&count).Error; err != nil {
		return false, fmt.Errorf("lock: held %d: %w", conversationID, err)
	}
	return count > 0, nil
}

// Sweep deletes every expired lease and returns how many were removed.
func (l *Locker) Sweep(ctx context.Context) (int64, error) {
	result := l.db.WithContext(ctx).Where("expires_at < ?", l.now()).Delete(&models.ConversationLock{})
	if result.Error != nil {
		return 0, fmt.Errorf("lock: sweep: %w", result.Error)
	}
	return result.RowsAffected, nil
}
