package utils

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/cvomotor/vehicles_backend/config"
	"github.com/bsm/redislock"
)

// NormalizePlate canonicalizes a license plate into the cross-ledger join key.
// Every write path must pass plates through here; the scraper is not trusted
// to be consistent about case or whitespace.
func NormalizePlate(plate string) string {
	return strings.ToUpper(strings.TrimSpace(plate))
}

// ObtainPlateLock is the best-effort redis lock taken at the API edge before a
// per-plate operation. The MySQL advisory lock inside the workflow is the real
// serialization guarantee; this only shortens in-request blocking. Callers may
// receive (nil, nil) and should proceed without the lock.
func ObtainPlateLock(ctx context.Context, plate string) (*redislock.Lock, error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil, nil
	}
	lock, err := locker.Obtain(ctx, fmt.Sprintf("plate:%s", NormalizePlate(plate)), 30*time.Second, nil)
	if err == redislock.ErrNotObtained {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}

// ObtainSweepLock holds the run token that keeps two drift-audit (or bulk
// ingest) sweeps from processing the same data concurrently.
func ObtainSweepLock(ctx context.Context, name string, ttl time.Duration) (*redislock.Lock, error) {
	locker := config.GetRedisLock()
	if locker == nil {
		// Redis not ready: single-instance deployments still work, the
		// caller just loses cross-instance exclusion.
		return nil, nil
	}
	lock, err := locker.Obtain(ctx, fmt.Sprintf("sweep:%s", name), ttl, nil)
	if err == redislock.ErrNotObtained {
		return nil, errors.New("sweep already in progress")
	}
	if err != nil {
		return nil, err
	}
	return lock, nil
}

func ReleaseLock(ctx context.Context, lock *redislock.Lock) {
	if lock == nil {
		return
	}
	if err := lock.Release(ctx); err != nil {
		config.LogError(config.GetLogger(), "helper.go", "ReleaseLock", "Releasing redis lock", nil, err)
	}
}
