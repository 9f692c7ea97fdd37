package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// ErrLockHeld is returned when another reconciliation owns the transaction lock.
var ErrLockHeld = errors.New("reconciliation lock held")

// releaseScript deletes the lock only when it is still owned by the caller.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0`)

// ReconcileLock serializes gateway retrievals for one transaction across instances.
type ReconcileLock struct {
	redis *RedisClient
	ttl   time.Duration
}

// NewReconcileLock creates a lock manager. The ttl bounds how long a crashed holder
// can block others.
func NewReconcileLock(redis *RedisClient, ttl time.Duration) *ReconcileLock {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &ReconcileLock{redis: redis, ttl: ttl}
}

// keyByTransactionID returns the Redis key guarding a transaction.
func (l *ReconcileLock) keyByTransactionID(transactionID string) string {
	return fmt.Sprintf("payment:reconcile:%s", transactionID)
}

// Acquire takes the lock for transactionID. The returned release func is safe to
// call once the work is done; it never deletes a lock taken over by someone else.
func (l *ReconcileLock) Acquire(ctx context.Context, transactionID string) (func(), error) {
	token := uuid.NewString()
	key := l.keyByTransactionID(transactionID)

	ok, err := l.redis.SetNX(ctx, key, token, l.ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire reconcile lock: %w", err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	return func() {
		// The request context may already be done; release on a short fresh one.
		relCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := l.redis.Run(relCtx, releaseScript, []string{key}, token); err != nil {
			log.Warn().Err(err).Str("transaction_id", transactionID).Msg("Failed to release reconcile lock")
		}
	}, nil
}
