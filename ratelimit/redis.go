package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a Limiter backed by Redis fixed-window counters, shared by every
// process pointing at the same Redis.
type Redis struct {
	client redis.UniversalClient
	opts   Options
}

var _ Limiter = (*Redis)(nil)

// NewRedis returns a Redis-backed Limiter. Keys are stored as
// "ratelimit:<name>:<key>".
func NewRedis(client redis.UniversalClient, opts Options) *Redis {
	return &Redis{client: client, opts: opts}
}

func (l *Redis) redisKey(key string) string {
	return "ratelimit:" + l.opts.key(key)
}

func unavailable(err error) error {
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (l *Redis) Consume(ctx context.Context, key string) (State, error) {
	k := l.redisKey(key)

	var (
		incr *redis.IntCmd
		pttl *redis.DurationCmd
	)
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pttl = pipe.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		return State{}, unavailable(err)
	}
	consumed := int(incr.Val())
	ttl := pttl.Val()

	// A fresh key (or one that lost its expiry) starts a new window.
	if consumed == 1 || ttl < 0 {
		ttl = l.opts.Duration
		if err := l.client.PExpire(ctx, k, ttl).Err(); err != nil {
			return State{}, unavailable(err)
		}
	}

	if consumed > l.opts.Points {
		if l.opts.BlockDuration > 0 && consumed == l.opts.Points+1 {
			ttl = l.opts.BlockDuration
			if err := l.client.PExpire(ctx, k, ttl).Err(); err != nil {
				return State{}, unavailable(err)
			}
		}
		st := l.opts.state(consumed, ttl)
		return st, &RejectedError{State: st, RetryAfter: st.ResetAfter}
	}
	return l.opts.state(consumed, ttl), nil
}

func (l *Redis) Get(ctx context.Context, key string) (*State, error) {
	k := l.redisKey(key)

	var (
		get  *redis.StringCmd
		pttl *redis.DurationCmd
	)
	_, err := l.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.Get(ctx, k)
		pttl = pipe.PTTL(ctx, k)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, unavailable(err)
	}
	val, err := get.Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable(err)
	}
	consumed, err := strconv.Atoi(val)
	if err != nil {
		return nil, fmt.Errorf("parsing counter %s: %w", k, err)
	}
	st := l.opts.state(consumed, pttl.Val())
	return &st, nil
}

func (l *Redis) Delete(ctx context.Context, key string) error {
	if err := l.client.Del(ctx, l.redisKey(key)).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}

func (l *Redis) Block(ctx context.Context, key string, d time.Duration) error {
	k := l.redisKey(key)
	if d <= 0 {
		ttl, err := l.client.PTTL(ctx, k).Result()
		if err != nil {
			return unavailable(err)
		}
		d = ttl
		if d <= 0 {
			d = l.opts.Duration
		}
	}
	if err := l.client.Set(ctx, k, l.opts.Points+1, d).Err(); err != nil {
		return unavailable(err)
	}
	return nil
}
