package cloudsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/bsm/redislock"
	"github.com/rs/zerolog"
)

// Guard admits at most one sync per key at a time. TryAcquire never waits:
// when the key is busy it returns ok=false and the caller gives up.
type Guard interface {
	TryAcquire(ctx context.Context, key string) (release func(), ok bool)
}

// LocalGuard is an in-process Guard.
type LocalGuard struct {
	mu   sync.Mutex
	busy map[string]bool
}

// NewLocalGuard creates an empty in-process guard.
func NewLocalGuard() *LocalGuard {
	return &LocalGuard{busy: make(map[string]bool)}
}

// TryAcquire implements Guard.
func (g *LocalGuard) TryAcquire(_ context.Context, key string) (func(), bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy[key] {
		return nil, false
	}
	g.busy[key] = true

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			delete(g.busy, key)
			g.mu.Unlock()
		})
	}, true
}

// DefaultLockTTL bounds how long a crashed holder can block other processes.
const DefaultLockTTL = 2 * time.Minute

// RedisGuard is a Guard shared by every process using the same Redis, so two
// hosts of one user cannot upload the same remote file concurrently.
type RedisGuard struct {
	locker *redislock.Client
	ttl    time.Duration
	prefix string
	log    zerolog.Logger
}

// NewRedisGuard creates a guard over client. A zero ttl uses DefaultLockTTL.
func NewRedisGuard(client redislock.RedisClient, ttl time.Duration, log zerolog.Logger) *RedisGuard {
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &RedisGuard{
		locker: redislock.New(client),
		ttl:    ttl,
		prefix: "finsync:lock:",
		log:    log,
	}
}

// TryAcquire implements Guard. Redis errors count as not acquired.
func (g *RedisGuard) TryAcquire(ctx context.Context, key string) (func(), bool) {
	lock, err := g.locker.Obtain(ctx, g.prefix+key, g.ttl, nil)
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, false
	}
	if err != nil {
		g.log.Warn().Err(err).Str("key", key).Msg("Error obtaining sync lock")
		return nil, false
	}

	return func() {
		// The caller's context may already be done; release on a fresh one.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := lock.Release(ctx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			g.log.Warn().Err(err).Str("key", key).Msg("Error releasing sync lock")
		}
	}, true
}

var (
	_ Guard = (*LocalGuard)(nil)
	_ Guard = (*RedisGuard)(nil)
)
