package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/pavitra93/go-tenant-isolation/shared/utils"
)

// Ledger records token ids that must stop validating before natural expiry.
// Implementations must make Revoke visible to every later IsRevoked call.
type Ledger interface {
	Revoke(ctx context.Context, tokenID string, ttl time.Duration) error
	IsRevoked(ctx context.Context, tokenID string) (bool, error)
}

const blacklistPrefix = "blacklist_"

// BlacklistKey is the Redis key for a revoked token id
func BlacklistKey(tokenID string) string {
	return blacklistPrefix + tokenID
}

// RedisLedger stores revocations as self-expiring Redis keys shared by every
// service instance. Transient errors are retried by the client (MaxRetries)
// and repeated failures trip the breaker.
type RedisLedger struct {
	client  *redis.Client
	breaker *utils.CircuitBreaker
}

// NewRedisLedger creates a ledger on client
func NewRedisLedger(client *redis.Client) *RedisLedger {
	return &RedisLedger{
		client: client,
		breaker: utils.NewCircuitBreaker("revocation-ledger", 5, 30*time.Second,
			utils.WithIgnoredErrors(func(err error) bool { return errors.Is(err, redis.Nil) })),
	}
}

// Revoke writes SETEX blacklist_<id> with whole-second TTL
func (l *RedisLedger) Revoke(ctx context.Context, tokenID string, ttl time.Duration) error {
	return l.breaker.Call(func() error {
		return l.client.SetEX(ctx, BlacklistKey(tokenID), "true", ceilSeconds(ttl)).Err()
	})
}

// IsRevoked reports whether blacklist_<id> is present
func (l *RedisLedger) IsRevoked(ctx context.Context, tokenID string) (bool, error) {
	revoked := false
	err := l.breaker.Call(func() error {
		err := l.client.Get(ctx, BlacklistKey(tokenID)).Err()
		if err == nil {
			revoked = true
		}
		return err
	})
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return revoked, err
}

func ceilSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	secs := (d + time.Second - 1) / time.Second
	return secs * time.Second
}

// MemoryLedger is an in-process Ledger for tests and single-instance setups
type MemoryLedger struct {
	mu      sync.RWMutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewMemoryLedger creates an empty ledger using now as its clock
func NewMemoryLedger(now func() time.Time) *MemoryLedger {
	if now == nil {
		now = time.Now
	}
	return &MemoryLedger{entries: make(map[string]time.Time), now: now}
}

func (l *MemoryLedger) Revoke(_ context.Context, tokenID string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[tokenID] = l.now().Add(ceilSeconds(ttl))
	return nil
}

func (l *MemoryLedger) IsRevoked(_ context.Context, tokenID string) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	until, ok := l.entries[tokenID]
	if !ok {
		return false, nil
	}
	return l.now().Before(until), nil
}

// Len returns the number of entries, expired or not
func (l *MemoryLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}
