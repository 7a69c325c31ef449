package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/planforge/planforge-backend/internal/logger"
	"github.com/planforge/planforge-backend/internal/utils"
)

// GenerationLock serializes concurrent duplicate "generate plan" calls for
// the same session. Transactional atomicity alone leaves a window where two
// generations both miss the existing-plan check; the lock closes it in the
// common case and the unique index on plan.session_id backstops the rest.
type GenerationLock interface {
	// TryAcquire returns a release func and whether the lock was taken.
	// Not taken means another generation for the session is in flight.
	TryAcquire(ctx context.Context, key string) (release func(), acquired bool, err error)
}

type redisGenerationLock struct {
	log *logger.Logger
	rdb *goredis.Client
	ttl time.Duration
}

func NewRedisGenerationLock(log *logger.Logger) (GenerationLock, error) {
	addr := strings.TrimSpace(utils.GetEnv("REDIS_ADDR", "", log))
	if addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	return &redisGenerationLock{
		log: log.With("service", "RedisGenerationLock"),
		rdb: rdb,
		ttl: time.Duration(utils.GetEnvAsInt("GENERATION_LOCK_TTL_SECONDS", 120, log)) * time.Second,
	}, nil
}

func (l *redisGenerationLock) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	fullKey := "planforge:genlock:" + key
	ok, err := l.rdb.SetNX(ctx, fullKey, "1", l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// Release is best-effort; the TTL cleans up after crashes.
		if err := l.rdb.Del(context.Background(), fullKey).Err(); err != nil {
			l.log.Warn("Failed to release generation lock", "key", fullKey, "error", err)
		}
	}
	return release, true, nil
}

// NoopGenerationLock is used when redis is not configured; every acquire
// succeeds and duplicate generations fall through to the unique index.
type NoopGenerationLock struct{}

func (NoopGenerationLock) TryAcquire(ctx context.Context, key string) (func(), bool, error) {
	return func() {}, true, nil
}
