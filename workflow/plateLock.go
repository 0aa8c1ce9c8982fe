package workflow

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// WithPlateLock serializes work per plate across instances using MySQL
// advisory locks, so cascade steps cannot interleave for the same vehicle.
// Cross-plate work stays fully parallel.
// NOTE: GET_LOCK is connection-scoped. Acquire, fn and release all run on one
// pinned connection; taking the lock through the pool handle would acquire on
// one pooled connection and release on another, leaking the lock.
func WithPlateLock(ctx context.Context, db *gorm.DB, plate string, fn func(conn *gorm.DB) error) error {
	return db.WithContext(ctx).Connection(func(conn *gorm.DB) error {
		if err := acquirePlateLock(conn, plate); err != nil {
			return err
		}
		defer releasePlateLock(conn, plate)
		return fn(conn)
	})
}

func acquirePlateLock(conn *gorm.DB, plate string) error {
	lockName := fmt.Sprintf("plate:%s", plate)
	var ok int
	if err := conn.Raw("SELECT GET_LOCK(?, 30)", lockName).Scan(&ok).Error; err != nil {
		return err
	}
	if ok != 1 {
		return fmt.Errorf("could not acquire plate lock for plate=%s", plate)
	}
	return nil
}

func releasePlateLock(conn *gorm.DB, plate string) {
	lockName := fmt.Sprintf("plate:%s", plate)
	var _ok int
	_ = conn.Raw("SELECT RELEASE_LOCK(?)", lockName).Scan(&_ok).Error
}
