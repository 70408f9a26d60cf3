package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/cartouche-dev/cartouche/pkg/session"
)

const redisLockPrefix = "cartouche:session-lock:"

// Token-checked delete so a lock that expired and was re-acquired elsewhere
// is never released by the old holder.
var redisUnlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLocker extends single-writer-per-session across processes. Locks
// carry a TTL so a crashed holder cannot wedge its session forever; the
// resume protocol makes a fresh acquisition safe once the TTL lapses.
type RedisLocker struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Locker = &RedisLocker{}

func NewRedisLocker(client *redis.Client, ttl time.Duration) (*RedisLocker, error) {
	if client == nil {
		return nil, errors.New("redis locker: client is nil")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisLocker{client: client, ttl: ttl}, nil
}

func (l *RedisLocker) Acquire(ctx context.Context, sessionID string) (func(), error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.New("redis locker: session id is empty")
	}

	key := redisLockPrefix + sessionID
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, errors.Wrap(err, "redis locker: setnx")
	}
	if !ok {
		return nil, errors.Wrapf(session.ErrSessionBusy, "redis locker: %s", sessionID)
	}

	release := func() {
		// Release must not inherit a cancelled loop context.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := redisUnlockScript.Run(ctx, l.client, []string{key}, token).Err(); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("redis lock release failed")
		}
	}
	return release, nil
}
