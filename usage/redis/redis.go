// Package redis provides a Redis-backed UsageStore for imagegate.
//
// The interval/daily-cap check-and-increment runs as a single Lua script,
// so it is atomic across concurrent requests and safe for multi-instance
// deployments.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/ineyio/imagegate"
)

// Store is a Redis-backed UsageStore.
type Store struct {
	client      goredis.Cmdable
	keyPrefix   string
	minInterval time.Duration
	caps        map[imagegate.Tier]int
}

var _ imagegate.UsageStore = (*Store)(nil)

// Option configures Store.
type Option func(*Store)

// WithKeyPrefix sets the Redis key prefix (default "imagegate:").
func WithKeyPrefix(prefix string) Option {
	return func(s *Store) { s.keyPrefix = prefix }
}

// New creates a new Redis-backed UsageStore enforcing the given minimum
// interval and per-tier daily caps. The client must be a connected
// *goredis.Client or *goredis.ClusterClient.
func New(client goredis.Cmdable, minInterval time.Duration, caps map[imagegate.Tier]int, opts ...Option) *Store {
	s := &Store{
		client:      client,
		keyPrefix:   "imagegate:",
		minInterval: minInterval,
		caps:        caps,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) usageKey(clientKey string) string {
	return s.keyPrefix + "usage:" + clientKey
}

func (s *Store) tierKey(clientKey string) string {
	return s.keyPrefix + "tier:" + clientKey
}

// allowScript atomically checks and counts one request.
// KEYS[1] = usage hash key
// ARGV[1] = now (unix milliseconds)
// ARGV[2] = day key (UTC calendar date)
// ARGV[3] = min interval (milliseconds)
// ARGV[4] = daily cap
//
// Returns:
//
//	{1}                    allowed (counted)
//	{0, "interval", wait}  too frequent; wait = remaining milliseconds
//	{0, "cap"}             daily cap reached
var allowScript = goredis.NewScript(`
local key = KEYS[1]
local now_ms = tonumber(ARGV[1])
local day_key = ARGV[2]
local min_interval = tonumber(ARGV[3])
local cap = tonumber(ARGV[4])

-- Lazy daily reset
local day = redis.call("HGET", key, "day_key")
if day ~= day_key then
    redis.call("HSET", key, "day_key", day_key, "used", 0, "last_ms", 0)
end

local last = tonumber(redis.call("HGET", key, "last_ms") or "0")
if last > 0 and now_ms - last < min_interval then
    return {0, "interval", min_interval - (now_ms - last)}
end

local used = tonumber(redis.call("HGET", key, "used") or "0")
if used >= cap then
    return {0, "cap"}
end

redis.call("HSET", key, "last_ms", now_ms)
redis.call("HINCRBY", key, "used", 1)
redis.call("EXPIRE", key, 172800)
return {1}
`)

// Allow runs the atomic check-and-increment for clientKey.
func (s *Store) Allow(ctx context.Context, clientKey string, tier imagegate.Tier, now time.Time) error {
	limit := s.caps[tier]

	vals, err := allowScript.Run(ctx, s.client,
		[]string{s.usageKey(clientKey)},
		now.UnixMilli(), now.UTC().Format("2006-01-02"), s.minInterval.Milliseconds(), limit,
	).Slice()
	if err != nil {
		return fmt.Errorf("imagegate/redis: allow: %w", err)
	}
	if len(vals) == 0 {
		return fmt.Errorf("imagegate/redis: allow: empty script result")
	}

	allowed, _ := vals[0].(int64)
	if allowed == 1 {
		return nil
	}

	reason, _ := vals[1].(string)
	switch reason {
	case "interval":
		waitMs, _ := vals[2].(int64)
		return &imagegate.ThrottleError{
			Err:  imagegate.ErrTooFrequent,
			Wait: time.Duration(waitMs) * time.Millisecond,
		}
	case "cap":
		return &imagegate.ThrottleError{Err: imagegate.ErrDailyLimit, Cap: limit}
	default:
		return fmt.Errorf("imagegate/redis: allow: unexpected rejection %q", reason)
	}
}

// Tier looks up the stored tier for a client.
func (s *Store) Tier(ctx context.Context, clientKey string) (imagegate.Tier, bool, error) {
	val, err := s.client.Get(ctx, s.tierKey(clientKey)).Result()
	if err == goredis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("imagegate/redis: tier: %w", err)
	}
	return imagegate.ParseTier(val), true, nil
}

// SetTier stores the tier for a client (e.g. after a checkout webhook
// marks it paid).
func (s *Store) SetTier(ctx context.Context, clientKey string, tier imagegate.Tier) error {
	if err := s.client.Set(ctx, s.tierKey(clientKey), string(tier), 0).Err(); err != nil {
		return fmt.Errorf("imagegate/redis: set tier: %w", err)
	}
	return nil
}
