package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/bsm/redislock"
	"github.com/ecofhq/portal_backend/config"
)

// acquireDeliveryLock takes a short redis lock for one subscription so two
// dispatcher replicas never POST to the same endpoint at once. The DB claim
// already prevents double delivery of a batch; the redis lock only keeps
// replicas from racing on the same subscriber inside the claim grace window.
// Without redis (local dev) delivery proceeds unlocked.
func acquireDeliveryLock(ctx context.Context, orgId string, ttl time.Duration) (*redislock.Lock, bool, error) {
	locker := config.GetRedisLock()
	if locker == nil {
		return nil, true, nil
	}
	lock, err := locker.Obtain(ctx, "webhook:delivery:"+orgId, ttl, nil)
	if err != nil {
		if errors.Is(err, redislock.ErrNotObtained) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return lock, true, nil
}

func releaseDeliveryLock(ctx context.Context, lock *redislock.Lock) {
	if lock == nil {
		return
	}
	_ = lock.Release(ctx)
}
