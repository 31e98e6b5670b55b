package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// putSessionScript stores the session and, for authenticated sessions, adds
// it to the user's index. The index expiry only ever grows so it outlives
// every session it lists.
const putSessionScript = `
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
if #KEYS > 1 then
  redis.call("SADD", KEYS[2], ARGV[3])
  local ttl = redis.call("PTTL", KEYS[2])
  if ttl < tonumber(ARGV[4]) then
    redis.call("PEXPIRE", KEYS[2], ARGV[4])
  end
end
return 1
`

var putSessionLua = redis.NewScript(putSessionScript)

// RedisStore keeps sessions in Redis so every server process sees the same
// state. Each authenticated session id is also added to a per-user set,
// which DeleteUser walks.
type RedisStore struct {
	client      redis.UniversalClient
	prefix      string
	idleTimeout time.Duration
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore returns a Redis-backed Store. Keys are "<prefix>sess:<id>"
// and "<prefix>user:<userID>".
func NewRedisStore(client redis.UniversalClient, prefix string, idleTimeout time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, idleTimeout: idleTimeout}
}

func (s *RedisStore) key(id string) string {
	return s.prefix + "sess:" + id
}

func (s *RedisStore) userKey(userID string) string {
	return s.prefix + "user:" + userID
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

// ttl is the Redis lifetime for sess: the shorter of the absolute expiry and
// the idle window.
func (s *RedisStore) ttl(sess Session, now time.Time) time.Duration {
	ttl := sess.ExpiresAt.Sub(now)
	if s.idleTimeout > 0 {
		if idle := sess.LastAccessedAt.Add(s.idleTimeout).Sub(now); idle < ttl {
			ttl = idle
		}
	}
	return ttl
}

func (s *RedisStore) Get(ctx context.Context, id string) (Session, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Session{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return Session{}, unavailable(err)
	}
	var sess Session
	if err := json.Unmarshal(data, &sess); err != nil {
		_ = s.Delete(ctx, id)
		return Session{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if !sess.live(time.Now(), s.idleTimeout) {
		_ = s.Delete(ctx, id)
		return Session{}, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	return sess, nil
}

func (s *RedisStore) Put(ctx context.Context, id string, sess Session) error {
	ttl := s.ttl(sess, time.Now())
	if ttl <= 0 {
		return s.Delete(ctx, id)
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	keys := []string{s.key(id)}
	if uid := sess.UserID(); uid != "" {
		keys = append(keys, s.userKey(uid))
	}
	err = putSessionLua.Run(ctx, s.client, keys,
		data, ttl.Milliseconds(), id, time.Until(sess.ExpiresAt).Milliseconds()).Err()
	if err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (s *RedisStore) DeleteUser(ctx context.Context, userID string) error {
	userKey := s.userKey(userID)
	ids, err := s.client.SMembers(ctx, userKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return unavailable(err)
	}
	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}
	keys = append(keys, userKey)
	if err := s.client.Del(ctx, keys...).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
