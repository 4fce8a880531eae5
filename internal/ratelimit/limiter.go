// Package ratelimit provides Redis-backed rate limiting using an
// INCR + EXPIRE fixed window (the expiry is set on the first hit of each
// window), adapted from the teacher's
// per-session message throttle to a per-source-IP accept throttle
// consulted from the Reactor's accept path (SPEC_FULL.md Domain Stack:
// "redis/go-redis/v9 → accept-rate limiting"). A nil *redis.Client
// disables throttling entirely rather than failing the accept path.
package ratelimit

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reactorweb/server/internal/logging"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum
// number of requests allowed in the window, and the window duration.
type Rule struct {
	Key    string
	Limit  int
	Window time.Duration
}

// RuleAccept allows 20 accepted connections per minute per source IP.
var RuleAccept = Rule{Key: "rl:accept:", Limit: 20, Window: time.Minute}

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
	log    *logging.Logger
}

// New creates a Limiter backed by client. A nil client yields a Limiter
// whose Allow always returns true, so the Reactor can wire ratelimit
// unconditionally and let Config.RedisAddr == "" disable it.
func New(client *redis.Client, log *logging.Logger) *Limiter {
	return &Limiter{client: client, log: log}
}

// Allow checks whether identifier is within the rate limit defined by
// rule, incrementing the counter in Redis and setting the window expiry
// on first access. On Redis errors it fails open, since a Redis outage
// must not block accepted connections from being served.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) bool {
	if l == nil || l.client == nil {
		return true
	}

	key := rule.Key + identifier
	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warnf("ratelimit: redis INCR key=%s: %v (failing open)", key, err)
		return true
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.log.Warnf("ratelimit: redis EXPIRE key=%s: %v (failing open)", key, err)
			l.client.Del(ctx, key)
			return true
		}
	}

	return int(count) <= rule.Limit
}

// AllowAccept is the accept-path convenience wrapper: it checks RuleAccept
// keyed by the peer's IP address.
func (l *Limiter) AllowAccept(ctx context.Context, ip string) bool {
	return l.Allow(ctx, ip, RuleAccept)
}
